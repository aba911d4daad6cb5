//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
)

type linuxSandbox struct {
	cfg Config
}

// newPlatform tries to create a namespace+seccomp sandbox.
// TODO: detect namespace/seccomp capabilities and implement; for now every
// session runs through the fallback process-level sandbox on Linux.
func newPlatform(cfg Config) (Sandbox, error) {
	return nil, fmt.Errorf("linux namespace sandbox not yet implemented")
}

func (s *linuxSandbox) Exec(ctx context.Context, name string, args []string) (*exec.Cmd, error) {
	return nil, fmt.Errorf("linux namespace sandbox not yet implemented")
}

func (s *linuxSandbox) Destroy() error {
	return nil
}
