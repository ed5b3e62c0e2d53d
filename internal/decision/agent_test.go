package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelane/convocore/internal/fsm"
	"github.com/tidelane/convocore/internal/profile"
)

type stubDecider struct {
	result *Result
	err    error
	delay  time.Duration
}

func (s *stubDecider) Decide(ctx context.Context, _ Request) (*Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestAgent_PassesThroughGoodResult(t *testing.T) {
	want := NewResult(fsm.StateCollecting, "How big is your team?", "text", 0.8, false)
	a := NewAgent(AgentConfig{Decider: &stubDecider{result: want}})

	got := a.Decide(context.Background(), Request{})

	assert.Equal(t, want.NextState, got.NextState)
	assert.Equal(t, want.ResponseText, got.ResponseText)
	assert.NotSame(t, want, got, "adapter must not alias the decider's result")
}

func TestAgent_FallbackOnError(t *testing.T) {
	a := NewAgent(AgentConfig{Decider: &stubDecider{err: errors.New("rpc: connection refused")}})

	got := a.Decide(context.Background(), Request{})

	assert.Equal(t, fsm.StateHandoff, got.NextState)
	assert.Equal(t, FallbackText, got.ResponseText)
	assert.Zero(t, got.Confidence)
	assert.True(t, got.RequiresHuman)
}

func TestAgent_FallbackOnTimeout(t *testing.T) {
	a := NewAgent(AgentConfig{
		Decider: &stubDecider{
			result: NewResult(fsm.StateCollecting, "too late", "text", 0.9, false),
			delay:  200 * time.Millisecond,
		},
		Timeout: 20 * time.Millisecond,
	})

	got := a.Decide(context.Background(), Request{})

	assert.Equal(t, fsm.StateHandoff, got.NextState)
	assert.Equal(t, FallbackText, got.ResponseText)
}

func TestAgent_FallbackOnMalformedResult(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
	}{
		{"nil result", nil},
		{"missing state", &Result{ResponseText: "hello"}},
		{"missing text", &Result{NextState: fsm.StateCollecting}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAgent(AgentConfig{Decider: &stubDecider{result: tt.result}})
			got := a.Decide(context.Background(), Request{})
			assert.Equal(t, FallbackText, got.ResponseText)
		})
	}
}

func TestAgent_ClampsConfidence(t *testing.T) {
	a := NewAgent(AgentConfig{Decider: &stubDecider{
		result: &Result{NextState: fsm.StateCollecting, ResponseText: "hi?", Confidence: 3.2},
	}})
	got := a.Decide(context.Background(), Request{})
	assert.Equal(t, 1.0, got.Confidence)
}

func TestNewResult_ClampsConfidence(t *testing.T) {
	assert.Equal(t, 0.0, NewResult(fsm.StateTriage, "x", "text", -2, false).Confidence)
	assert.Equal(t, 1.0, NewResult(fsm.StateTriage, "x", "text", 9, false).Confidence)
}

type stubExtractor struct {
	patch *profile.ExtractionPatch
	err   error
	delay time.Duration
}

func (s *stubExtractor) Extract(ctx context.Context, _ string, _ map[string]string) (*profile.ExtractionPatch, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.patch, s.err
}

func fastAgent() *Agent {
	return NewAgent(AgentConfig{Decider: &stubDecider{
		result: NewResult(fsm.StateCollecting, "How big is your team?", "text", 0.9, false),
	}})
}

func TestFanOut_JoinsBothResults(t *testing.T) {
	patch := &profile.ExtractionPatch{Volume: "100/mo", Confidence: 0.8}
	fan := FanOut(context.Background(), fastAgent(), &stubExtractor{patch: patch}, Request{}, time.Second, nil)

	require.NotNil(t, fan.Decision)
	require.NotNil(t, fan.Patch)
	assert.Equal(t, "100/mo", fan.Patch.Volume)
}

func TestFanOut_SlowExtractionTreatedAsAbsent(t *testing.T) {
	// Scenario: extraction exceeds the fan-out timeout → decision proceeds
	// alone; profile untouched this turn.
	slow := &stubExtractor{
		patch: &profile.ExtractionPatch{Volume: "100/mo"},
		delay: 500 * time.Millisecond,
	}
	fan := FanOut(context.Background(), fastAgent(), slow, Request{}, 30*time.Millisecond, nil)

	require.NotNil(t, fan.Decision)
	assert.Equal(t, fsm.StateCollecting, fan.Decision.NextState)
	assert.Nil(t, fan.Patch)
}

func TestFanOut_ExtractionErrorTreatedAsAbsent(t *testing.T) {
	failing := &stubExtractor{err: errors.New("extract rpc: unavailable")}
	fan := FanOut(context.Background(), fastAgent(), failing, Request{}, time.Second, nil)

	require.NotNil(t, fan.Decision)
	assert.Nil(t, fan.Patch)
}

func TestFanOut_NilExtractor(t *testing.T) {
	fan := FanOut(context.Background(), fastAgent(), nil, Request{}, time.Second, nil)
	require.NotNil(t, fan.Decision)
	assert.Nil(t, fan.Patch)
}

func TestFanOut_ClampsPatchConfidence(t *testing.T) {
	fan := FanOut(context.Background(), fastAgent(),
		&stubExtractor{patch: &profile.ExtractionPatch{Volume: "x", Confidence: 2}},
		Request{}, time.Second, nil)
	require.NotNil(t, fan.Patch)
	assert.Equal(t, 1.0, fan.Patch.Confidence)
}
