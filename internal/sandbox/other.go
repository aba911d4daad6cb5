//go:build !linux && !darwin

package sandbox

import "fmt"

func newPlatform(cfg Config) (Sandbox, error) {
	return nil, fmt.Errorf("no platform sandbox for this OS")
}
