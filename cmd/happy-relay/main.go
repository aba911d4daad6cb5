package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/relay"
	"github.com/happy-coder/happy/internal/relayauth"
	"github.com/happy-coder/happy/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "happy-relay",
		Short: "Happy Coder relay server — the account-scoped Sync Server and Relay Core",
		RunE:  run,
	}

	root.Flags().String("addr", ":8080", "listen address")
	root.Flags().String("db", "happy-relay.db", "sqlite database path")
	root.Flags().String("jwt-secret-file", "jwt-secret.hex", "path to the hex-encoded connection JWT signing secret; generated on first run")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	dbPath, _ := cmd.Flags().GetString("db")
	secretPath, _ := cmd.Flags().GetString("jwt-secret-file")

	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	secret, err := loadOrCreateJWTSecret(secretPath)
	if err != nil {
		return fmt.Errorf("load jwt secret: %w", err)
	}

	srv := relay.NewServer(s, secret)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go srv.RunOfflineSweep(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("happy-relay listening", "addr", addr, "db", dbPath)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return httpSrv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// loadOrCreateJWTSecret persists the connection-JWT HMAC secret across
// restarts as a hex-encoded file, grounded on the teacher's
// internal/auth/store.go token-file pattern — generated once via
// relayauth.GenerateSecret and reused from then on, since a rotated
// secret would invalidate every already-issued connectionId JWT.
func loadOrCreateJWTSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret, decErr := hex.DecodeString(string(trimNewline(data)))
		if decErr != nil {
			return nil, fmt.Errorf("parse jwt secret file: %w", decErr)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read jwt secret file: %w", err)
	}

	secret, err := relayauth.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create jwt secret dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, fmt.Errorf("write jwt secret file: %w", err)
	}
	return secret, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
