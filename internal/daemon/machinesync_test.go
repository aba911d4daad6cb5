package daemon

import (
	"encoding/json"
	"testing"

	"github.com/happy-coder/happy/internal/model"
)

func TestOnMachineUpdateIgnoresNonMachineRefs(t *testing.T) {
	d := &Daemon{}
	// Must not panic decoding a session body as a Machine.
	d.onMachineUpdate(model.EntityRef{Kind: model.KindSession, ID: "sess-1"}, 1, []byte("not json"))
}

func TestOnMachineUpdateDecodesMachineBody(t *testing.T) {
	d := &Daemon{}
	body, err := json.Marshal(model.Machine{
		ID:            "machine-1",
		DaemonState:   model.DaemonOnline,
		ActiveSession: []string{"sess-1", "sess-2"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// No assertion beyond "doesn't panic and parses cleanly" — the
	// handler only logs today.
	d.onMachineUpdate(model.EntityRef{Kind: model.KindMachine, ID: "machine-1"}, 3, body)
}
