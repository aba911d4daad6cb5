package sandbox

import (
	"testing"

	"github.com/happy-coder/happy/internal/model"
)

func TestLevelForPermissionMode(t *testing.T) {
	cases := []struct {
		mode model.PermissionMode
		want Level
	}{
		{model.PermissionBypassAll, Privileged},
		{model.PermissionAcceptEdits, Network},
		{model.PermissionPlan, Strict},
		{model.PermissionDefault, Standard},
	}
	for _, tc := range cases {
		if got := LevelForPermissionMode(tc.mode); got != tc.want {
			t.Errorf("LevelForPermissionMode(%v) = %v, want %v", tc.mode, got, tc.want)
		}
	}
}

func TestLevelStringNames(t *testing.T) {
	cases := []struct {
		l    Level
		want string
	}{
		{Strict, "strict"},
		{Standard, "standard"},
		{Network, "network"},
		{Privileged, "privileged"},
		{Level(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.l.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.l, got, tc.want)
		}
	}
}
