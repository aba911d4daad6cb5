package sandbox

import "github.com/happy-coder/happy/internal/model"

// Level defines the isolation level for a sandbox.
type Level int

const (
	Strict     Level = iota // no network, minimal fs, short TTL — bypass-all is never mapped here
	Standard                // no network, mounted dirs only
	Network                 // network allowed, mounted dirs only
	Privileged              // full access
)

func (l Level) String() string {
	switch l {
	case Strict:
		return "strict"
	case Standard:
		return "standard"
	case Network:
		return "network"
	case Privileged:
		return "privileged"
	default:
		return "unknown"
	}
}

// LevelForPermissionMode picks the isolation level a session's permission
// mode implies. plan runs Strict (no network, minimal fs); default and any
// unrecognised mode run Standard (no network, mounted dirs only);
// accept-edits runs Network (network allowed for package installs, mounted
// dirs only); bypass-all runs Privileged since the user has explicitly
// opted out of per-tool consent.
func LevelForPermissionMode(mode model.PermissionMode) Level {
	switch mode {
	case model.PermissionBypassAll:
		return Privileged
	case model.PermissionAcceptEdits:
		return Network
	case model.PermissionPlan:
		return Strict
	default:
		return Standard
	}
}
