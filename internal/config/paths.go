package config

import (
	"os"
	"path/filepath"
)

// StateDir resolves the CLI's state directory: HAPPY_HOME_DIR if set,
// otherwise ~/.happy, per spec.md §6.
func StateDir() (string, error) {
	if dir := os.Getenv("HAPPY_HOME_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".happy"), nil
}

func (c *Config) LogsDir() string         { return filepath.Join(c.Dir, "logs") }
func (c *Config) DaemonStateFile() string { return filepath.Join(c.Dir, "daemon.json") }
func (c *Config) CredentialsFile() string { return filepath.Join(c.Dir, "credentials") }
func (c *Config) SessionsDir() string     { return filepath.Join(c.Dir, "sessions") }

// EnsureDirs creates the state directory tree.
func EnsureDirs(c *Config) error {
	for _, d := range []string{c.Dir, c.LogsDir(), c.SessionsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
