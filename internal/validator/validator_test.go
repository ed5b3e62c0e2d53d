package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelane/convocore/internal/decision"
	"github.com/tidelane/convocore/internal/fsm"
)

func reqWith(valid ...fsm.State) decision.Request {
	return decision.Request{CurrentState: fsm.StateCollecting, ValidNext: valid}
}

func okDecision() *decision.Result {
	return decision.NewResult(fsm.StateCollecting, "Got it. What tools do you use today?", "text", 0.9, false)
}

func TestFirstFailingGateWins(t *testing.T) {
	// requires_human AND PII in the same decision: the requires_human
	// reason must win because it is checked first.
	v := New(Config{})
	dec := decision.NewResult(fsm.StateCollecting, "Your card 4111 1111 1111 1111?", "text", 0.95, true)

	out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting))

	assert.False(t, res.Approved)
	assert.Equal(t, ReasonRequiresHuman, res.Reason)
	assert.Equal(t, fsm.StateHandoff, out.NextState)
	assert.Equal(t, decision.FallbackText, out.ResponseText)
}

func TestInvalidTransitionForcesHandoff(t *testing.T) {
	// Scenario: agent proposes a state outside the caller-supplied valid
	// set; confidence is irrelevant.
	v := New(Config{})
	dec := decision.NewResult(fsm.StateHandoff, "Transferring you now.", "text", 0.99, false)

	out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateTriage))

	assert.Equal(t, ReasonInvalidTransition, res.Reason)
	assert.Equal(t, fsm.StateHandoff, out.NextState)
	assert.Equal(t, decision.FallbackText, out.ResponseText)
}

func TestReplySizeCap(t *testing.T) {
	v := New(Config{MaxReplyLen: 500})
	long := strings.Repeat("a", 501)
	dec := decision.NewResult(fsm.StateScheduling, long, "text", 0.9, false)

	_, res := v.Validate(context.Background(), dec, reqWith(fsm.StateScheduling))

	assert.Equal(t, ReasonResponseSize, res.Reason)
}

func TestReplyAtCapApproved(t *testing.T) {
	v := New(Config{MaxReplyLen: 500})
	dec := decision.NewResult(fsm.StateScheduling, strings.Repeat("a", 500), "text", 0.9, false)

	_, res := v.Validate(context.Background(), dec, reqWith(fsm.StateScheduling))

	assert.True(t, res.Approved)
}

func TestProhibitedPromiseRejected(t *testing.T) {
	v := New(Config{})
	dec := decision.NewResult(fsm.StateScheduling, "We can offer 20% off if you sign today.", "text", 0.9, false)

	_, res := v.Validate(context.Background(), dec, reqWith(fsm.StateScheduling))

	assert.Equal(t, ReasonProhibitedPromise, res.Reason)
}

func TestNormalizationForcesCollectingOnQuestion(t *testing.T) {
	v := New(Config{})
	dec := decision.NewResult(fsm.StateScheduling, "Sounds good. How big is your team?", "text", 0.9, false)

	out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting, fsm.StateScheduling))

	require.True(t, res.Approved)
	assert.Equal(t, fsm.StateCollecting, out.NextState)
	assert.NotEmpty(t, res.Corrections)
}

func TestNormalizationProgressesWhenTrackReady(t *testing.T) {
	v := New(Config{})
	dec := decision.NewResult(fsm.StateCollecting, "Great, I have everything I need.", "text", 0.9, false)
	req := reqWith(fsm.StateCollecting, fsm.StateScheduling)
	req.TrackReady = true

	out, res := v.Validate(context.Background(), dec, req)

	require.True(t, res.Approved)
	assert.Equal(t, fsm.StateScheduling, out.NextState)
}

func TestNormalizationHoldsCollectingUntilTrackReady(t *testing.T) {
	// No open question but the qualification minimum is not met: the
	// conversation must stay in COLLECTING rather than jump ahead.
	v := New(Config{})
	dec := decision.NewResult(fsm.StateCollecting, "Great, noted.", "text", 0.9, false)

	out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting, fsm.StateScheduling))

	require.True(t, res.Approved)
	assert.Equal(t, fsm.StateCollecting, out.NextState)
	assert.Empty(t, res.Corrections)
}

func TestLowConfidenceWithoutReviewer(t *testing.T) {
	v := New(Config{ConfidenceThreshold: 0.7})
	dec := decision.NewResult(fsm.StateCollecting, "What volume do you handle?", "text", 0.4, false)

	out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting))

	assert.False(t, res.Approved)
	assert.Equal(t, ReasonLowConfidence, res.Reason)
	assert.True(t, out.RequiresHuman)
	// Low confidence without a reviewer keeps the agent's reply text.
	assert.Equal(t, "What volume do you handle?", out.ResponseText)
}

type stubReviewer struct {
	result *decision.Result
	err    error
}

func (s *stubReviewer) Review(_ context.Context, _ *decision.Result, _ decision.Request) (*decision.Result, error) {
	return s.result, s.err
}

func TestReviewerApproves(t *testing.T) {
	approved := decision.NewResult(fsm.StateCollecting, "What volume do you handle?", "text", 0.9, false)
	v := New(Config{Reviewer: &stubReviewer{result: approved}})
	dec := decision.NewResult(fsm.StateCollecting, "What volume do you handle?", "text", 0.4, false)

	out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting))

	assert.True(t, res.Approved)
	assert.True(t, res.ReviewerUsed)
	assert.Equal(t, fsm.StateCollecting, out.NextState)
}

func TestReviewerHandoffAndErrorBothFallBack(t *testing.T) {
	tests := []struct {
		name     string
		reviewer decision.Reviewer
		reason   string
	}{
		{"reviewer requests handoff", &stubReviewer{result: nil}, ReasonReviewerHandoff},
		{"reviewer fails", &stubReviewer{err: errors.New("review rpc: connection reset")}, ReasonReviewerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(Config{Reviewer: tt.reviewer})
			dec := decision.NewResult(fsm.StateCollecting, "What volume do you handle?", "text", 0.4, false)

			out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting))

			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, fsm.StateHandoff, out.NextState)
			assert.Equal(t, decision.FallbackText, out.ResponseText)
		})
	}
}

func TestAtThresholdApprovedAsIs(t *testing.T) {
	v := New(Config{ConfidenceThreshold: 0.7})
	dec := decision.NewResult(fsm.StateCollecting, "What volume do you handle?", "text", 0.7, false)

	out, res := v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting))

	assert.True(t, res.Approved)
	assert.False(t, out.RequiresHuman)
}

func TestInputDecisionNeverMutated(t *testing.T) {
	v := New(Config{})
	dec := decision.NewResult(fsm.StateScheduling, "How big is your team?", "text", 0.9, false)

	v.Validate(context.Background(), dec, reqWith(fsm.StateCollecting, fsm.StateScheduling))

	assert.Equal(t, fsm.StateScheduling, dec.NextState)
}

func TestContainsPII(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Your card ending 4111 1111 1111 1111 was declined", true},
		{"CPF 123.456.789-09 on file", true},
		{"SSN 123-45-6789", true},
		{"What volume do you handle per month?", false},
		{"Call us at +1 555 0100", false},
	}
	for _, tt := range tests {
		if got := ContainsPII(tt.text); got != tt.want {
			t.Errorf("ContainsPII(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestContainsProhibitedPromise(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"We guarantee the best price in the market", true},
		{"This comes free of charge", true},
		{"We will deliver the integration by Friday", true},
		{"Happy to walk you through pricing on a call", false},
	}
	for _, tt := range tests {
		if got := ContainsProhibitedPromise(tt.text); got != tt.want {
			t.Errorf("ContainsProhibitedPromise(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
