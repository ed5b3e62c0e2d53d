// Package decision is the protocol boundary to the external decision and
// extraction services. The adapter guarantees a DecisionResult even on
// failure; downstream components never handle a missing decision.
package decision

import (
	"context"

	"github.com/tidelane/convocore/internal/fsm"
	"github.com/tidelane/convocore/internal/profile"
	"github.com/tidelane/convocore/internal/store"
)

// Request is the decision-service contract input.
type Request struct {
	Message        string            `json:"message"`
	CurrentState   fsm.State         `json:"current_state"`
	History        []store.Turn      `json:"history"`
	ProfileSummary map[string]string `json:"profile_summary,omitempty"`
	ValidNext      []fsm.State       `json:"valid_next"`
	DynamicContext map[string]string `json:"dynamic_context,omitempty"`
	// TrackReady reports whether the contact card already meets the active
	// track's minimum qualification for proposing a meeting.
	TrackReady bool `json:"track_ready"`
}

// Result is the decision-service contract output. Confidence is clamped to
// [0, 1] on construction.
type Result struct {
	NextState     fsm.State `json:"next_state"`
	ResponseText  string    `json:"response_text"`
	MessageType   string    `json:"message_type"`
	Confidence    float64   `json:"confidence"`
	RequiresHuman bool      `json:"requires_human"`
	Rationale     string    `json:"rationale,omitempty"`
}

// NewResult builds a Result with clamped confidence.
func NewResult(next fsm.State, text, msgType string, confidence float64, requiresHuman bool) *Result {
	return &Result{
		NextState:     next,
		ResponseText:  text,
		MessageType:   msgType,
		Confidence:    profile.ClampConfidence(confidence),
		RequiresHuman: requiresHuman,
	}
}

// Clone returns a copy so guards can rewrite without aliasing.
func (r *Result) Clone() *Result {
	cp := *r
	return &cp
}

// FallbackText is the fixed, safe reply used whenever the decision service
// cannot produce a usable result. Internal error detail never reaches the
// end user.
const FallbackText = "Sorry, I can't continue this conversation right now. A member of our team will get back to you shortly."

// Fallback returns the mandatory safe decision: handoff state, generic
// apology, confidence zero.
func Fallback() *Result {
	return &Result{
		NextState:     fsm.StateHandoff,
		ResponseText:  FallbackText,
		MessageType:   "text",
		Confidence:    0,
		RequiresHuman: true,
		Rationale:     "fallback",
	}
}

// Decider is the external decision-making service protocol.
type Decider interface {
	Decide(ctx context.Context, req Request) (*Result, error)
}

// Extractor is the external profile-extraction service protocol. A nil
// patch with nil error means "nothing extracted".
type Extractor interface {
	Extract(ctx context.Context, message string, priorSummary map[string]string) (*profile.ExtractionPatch, error)
}

// Reviewer is the optional secondary-review protocol consulted by the
// confidence gate. A nil result with nil error requests handoff.
type Reviewer interface {
	Review(ctx context.Context, result *Result, req Request) (*Result, error)
}
