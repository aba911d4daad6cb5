package session

import (
	"strings"

	"github.com/happy-coder/happy/internal/model"
)

// Fingerprint is the key the message pump coalesces adjacent queued
// messages against. Two messages with identical fingerprints can be
// delivered to the assistant as one batch; a change forces a boundary.
type Fingerprint struct {
	PermissionMode  model.PermissionMode
	Model           string
	AllowedTools    string // joined, order-sensitive — a real tool-set change is a real boundary
	DisallowedTools string
	SystemPrompt    string
}

func FingerprintFromMetadata(md model.SessionMetadata) Fingerprint {
	return Fingerprint{
		PermissionMode:  md.PermissionMode,
		Model:           md.Model,
		AllowedTools:    strings.Join(md.AllowedTools, ","),
		DisallowedTools: strings.Join(md.DisallowedTools, ","),
		SystemPrompt:    md.SystemPrompt,
	}
}
