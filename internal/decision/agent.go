package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidelane/convocore/internal/profile"
)

// DefaultTimeout bounds one decision or extraction call.
const DefaultTimeout = 12 * time.Second

// Agent wraps a Decider with a bounded timeout and the fallback guarantee:
// timeout, transport error, or malformed output all yield the fixed safe
// fallback rather than an error.
type Agent struct {
	decider Decider
	timeout time.Duration
	log     *slog.Logger
}

// AgentConfig configures an Agent adapter.
type AgentConfig struct {
	Decider Decider
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewAgent(cfg AgentConfig) *Agent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{decider: cfg.Decider, timeout: cfg.Timeout, log: cfg.Logger}
}

// Decide always returns a result. Failures are recovered into Fallback()
// and logged with a machine-readable reason.
func (a *Agent) Decide(ctx context.Context, req Request) *Result {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.decider.Decide(callCtx, req)
	switch {
	case err != nil:
		a.log.Warn("decision.fallback", "reason", "agent_error", "error", err)
		return Fallback()
	case res == nil:
		a.log.Warn("decision.fallback", "reason", "agent_empty_result")
		return Fallback()
	case res.NextState == "" || res.ResponseText == "":
		a.log.Warn("decision.fallback", "reason", "agent_malformed_result",
			"next_state", string(res.NextState))
		return Fallback()
	}

	out := res.Clone()
	out.Confidence = profile.ClampConfidence(out.Confidence)
	if out.MessageType == "" {
		out.MessageType = "text"
	}
	return out
}
