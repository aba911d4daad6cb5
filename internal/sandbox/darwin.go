//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
)

type darwinSandbox struct {
	cfg Config
}

// newPlatform would shell out to sandbox-exec with a generated seatbelt
// profile; not yet implemented, so darwin also runs the fallback sandbox.
func newPlatform(cfg Config) (Sandbox, error) {
	return nil, fmt.Errorf("darwin seatbelt sandbox not yet implemented")
}

func (s *darwinSandbox) Exec(ctx context.Context, name string, args []string) (*exec.Cmd, error) {
	return nil, fmt.Errorf("darwin seatbelt sandbox not yet implemented")
}

func (s *darwinSandbox) Destroy() error {
	return nil
}
