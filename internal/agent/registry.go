package agent

import (
	"fmt"

	"github.com/happy-coder/happy/internal/model"
)

// For builds the adapter for a session's flavor, applying the
// context-window default each adapter already carries unless the config
// layer overrides it with a nonzero value.
func For(flavor model.Flavor, contextWindow int, geminiModel string) (Agent, error) {
	switch flavor {
	case model.FlavorClaude:
		return NewClaude(contextWindow), nil
	case model.FlavorCodex:
		return NewCodex(contextWindow), nil
	case model.FlavorGemini:
		return NewGemini(geminiModel, contextWindow), nil
	default:
		return nil, fmt.Errorf("unknown assistant flavor %q", flavor)
	}
}
