package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/happy-coder/happy/internal/config"
	"github.com/happy-coder/happy/internal/daemon"
	"github.com/happy-coder/happy/internal/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "happy-daemon",
		Short: "Happy Coder background daemon — one per user per machine",
	}

	root.AddCommand(startCmd(), stopCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// startCmd runs the daemon in the foreground; a supervisor (launchd,
// systemd, or a plain nohup) is expected to keep it running, the same
// division of responsibility as the teacher's `wt daemon` leaving actual
// process supervision to --install/the OS.
func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveStateDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			if st, err := daemon.ReadState(cfg.DaemonStateFile()); err == nil {
				if transport.Ping(cmd.Context(), st.Addr, st.Token) {
					return fmt.Errorf("a daemon is already running (pid %d)", st.PID)
				}
			}
			return daemon.Run(cfg)
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveStateDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			st, err := daemon.ReadState(cfg.DaemonStateFile())
			if err != nil {
				return fmt.Errorf("no daemon appears to be running: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			client := transport.NewClient(st.Addr, st.Token)
			if err := client.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			fmt.Println("daemon shutting down")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running and what it's doing",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveStateDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			st, err := daemon.ReadState(cfg.DaemonStateFile())
			if err != nil {
				fmt.Println("daemon not running")
				return nil
			}
			client := transport.NewClient(st.Addr, st.Token)
			status, err := client.Status(cmd.Context())
			if err != nil {
				fmt.Println("daemon state file present but unreachable:", err)
				return nil
			}
			fmt.Printf("pid %d, version %s, started %s, %d active session(s)\n",
				status.PID, status.Version, status.StartedAt, status.ActiveSessions)
			return nil
		},
	}
}

func resolveStateDir() (string, error) {
	return config.StateDir()
}
