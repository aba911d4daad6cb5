package session

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/happy-coder/happy/internal/model"
)

// ControlSwitch tracks a session's local/remote control bit and watches
// the controlling terminal for the keypress that flips remote→local.
// Grounded on the teacher's cmd/wt/egg.go raw-mode stdin handling, narrowed
// to "any byte read" instead of full keystroke interpretation since the
// mode flip itself doesn't care which key was pressed.
type ControlSwitch struct {
	mode   atomic.Value // model.ControlMode
	onFlip func(model.ControlMode)
}

func NewControlSwitch(initial model.ControlMode, onFlip func(model.ControlMode)) *ControlSwitch {
	cs := &ControlSwitch{onFlip: onFlip}
	cs.mode.Store(initial)
	return cs
}

func (cs *ControlSwitch) Mode() model.ControlMode { return cs.mode.Load().(model.ControlMode) }

// SetRemote flips the session back to remote-controlled — an explicit
// remote command does this per spec.md's control-mode section.
func (cs *ControlSwitch) SetRemote() { cs.set(model.ControlRemote) }

func (cs *ControlSwitch) set(mode model.ControlMode) {
	if cs.Mode() == mode {
		return
	}
	cs.mode.Store(mode)
	if cs.onFlip != nil {
		cs.onFlip(mode)
	}
}

// WatchTerminal blocks reading single bytes from the controlling terminal
// in raw mode; the first byte read while the session is remote flips it
// to local. Returns when ctx is cancelled or the terminal isn't a tty.
func (cs *ControlSwitch) WatchTerminal(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	if !isatty.IsTerminal(uintptr(fd)) {
		return nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 && cs.Mode() == model.ControlRemote {
				cs.set(model.ControlLocal)
			}
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return nil
	}
}
