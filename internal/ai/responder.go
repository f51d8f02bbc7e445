// Package ai exposes text, image and speech generation as a black-box
// capability. The sync engine only depends on the Responder interface;
// the Gemini client is one implementation of it.
package ai

import (
	"context"

	"teletab/internal/models"
)

// Reply is the result of one generation call. Any field may be empty.
type Reply struct {
	Text      string
	ImageURL  string
	Grounding []string
}

// Responder produces replies for bot threads. Implementations may fail for
// network or quota reasons; callers surface those as inline thread errors.
type Responder interface {
	// Generate produces a reply for the given bot variant, user prompt and
	// conversation history.
	Generate(ctx context.Context, kind models.ThreadKind, prompt string, history []models.Message) (*Reply, error)

	// SynthesizeSpeech renders text to raw 24kHz 16-bit PCM audio.
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}
