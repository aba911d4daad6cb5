package agent

import (
	"testing"

	"github.com/happy-coder/happy/internal/model"
)

func TestForReturnsAdapterPerFlavor(t *testing.T) {
	for _, flavor := range []model.Flavor{model.FlavorClaude, model.FlavorCodex, model.FlavorGemini} {
		a, err := For(flavor, 0, "gemini-2.5-pro")
		if err != nil {
			t.Fatalf("For(%v): %v", flavor, err)
		}
		if a == nil {
			t.Fatalf("For(%v) returned a nil adapter", flavor)
		}
	}
}

func TestForUnknownFlavorErrors(t *testing.T) {
	if _, err := For(model.Flavor("not-a-flavor"), 0, ""); err == nil {
		t.Fatal("expected an error for an unknown flavor")
	}
}
