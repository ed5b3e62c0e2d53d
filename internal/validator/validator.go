// Package validator approves or overrides agent decisions through three
// ordered gates: normalization, deterministic safety, and confidence.
package validator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tidelane/convocore/internal/decision"
	"github.com/tidelane/convocore/internal/fsm"
)

// Reason codes emitted in ValidationResult.
const (
	ReasonApproved          = "approved"
	ReasonRequiresHuman     = "requires_human"
	ReasonInvalidTransition = "invalid_transition"
	ReasonResponseSize      = "invalid_response_size"
	ReasonPIIDetected       = "pii_detected"
	ReasonProhibitedPromise = "prohibited_promise"
	ReasonLowConfidence     = "low_confidence"
	ReasonReviewerHandoff   = "reviewer_handoff"
	ReasonReviewerError     = "reviewer_error"
)

// DefaultMaxReplyLen is the hard cap on reply length.
const DefaultMaxReplyLen = 500

// DefaultConfidenceThreshold is the approval floor. It measures business
// intent, not correctness.
const DefaultConfidenceThreshold = 0.7

// Result is the gate outcome accompanying the (possibly rewritten) decision.
type Result struct {
	Approved     bool     `json:"approved"`
	Reason       string   `json:"reason"`
	Corrections  []string `json:"corrections,omitempty"`
	ReviewerUsed bool     `json:"reviewer_used"`
}

// Validator runs the three gates in order.
type Validator struct {
	maxReplyLen int
	threshold   float64
	reviewer    decision.Reviewer // nil = no secondary review
	log         *slog.Logger
}

// Config configures a Validator; zero values get defaults.
type Config struct {
	MaxReplyLen         int
	ConfidenceThreshold float64
	Reviewer            decision.Reviewer
	Logger              *slog.Logger
}

func New(cfg Config) *Validator {
	if cfg.MaxReplyLen <= 0 {
		cfg.MaxReplyLen = DefaultMaxReplyLen
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Validator{
		maxReplyLen: cfg.MaxReplyLen,
		threshold:   cfg.ConfidenceThreshold,
		reviewer:    cfg.Reviewer,
		log:         cfg.Logger,
	}
}

// Validate runs the gates and always returns a usable decision. The input
// decision is never mutated.
func (v *Validator) Validate(ctx context.Context, dec *decision.Result, req decision.Request) (*decision.Result, Result) {
	out := dec.Clone()
	var corrections []string

	// Gate 0 — normalization. The reply text is the source of truth for
	// whether we are still collecting: a new question means COLLECTING,
	// regardless of what state the agent proposed. Progressing the other
	// way additionally requires the track's qualification minimum.
	if posesQuestion(out.ResponseText) {
		if out.NextState != fsm.StateCollecting && !fsm.IsTerminal(out.NextState) {
			out.NextState = fsm.StateCollecting
			corrections = append(corrections, "next_state→COLLECTING (reply poses question)")
		}
	} else if out.NextState == fsm.StateCollecting && req.TrackReady {
		out.NextState = fsm.StateScheduling
		corrections = append(corrections, "next_state→SCHEDULING (no open question, track ready)")
	}

	// Gate 1 — deterministic safety. First failing check short-circuits.
	if reason := v.safetyReason(out, req); reason != "" {
		v.log.Info("validator.rejected", "reason", reason)
		return decision.Fallback(), Result{Approved: false, Reason: reason, Corrections: corrections}
	}

	// Gate 2 — confidence threshold.
	if out.Confidence < v.threshold {
		if v.reviewer == nil {
			out.RequiresHuman = true
			return out, Result{Approved: false, Reason: ReasonLowConfidence, Corrections: corrections}
		}
		reviewed, err := v.reviewer.Review(ctx, out.Clone(), req)
		if err != nil {
			v.log.Warn("validator.reviewer_failed", "error", err)
			return decision.Fallback(), Result{Approved: false, Reason: ReasonReviewerError, Corrections: corrections, ReviewerUsed: true}
		}
		if reviewed == nil || reviewed.RequiresHuman {
			return decision.Fallback(), Result{Approved: false, Reason: ReasonReviewerHandoff, Corrections: corrections, ReviewerUsed: true}
		}
		return reviewed, Result{Approved: true, Reason: ReasonApproved, Corrections: corrections, ReviewerUsed: true}
	}

	return out, Result{Approved: true, Reason: ReasonApproved, Corrections: corrections}
}

// safetyReason returns the first failing Gate 1 reason, or empty when all
// checks pass. Check order is part of the contract.
func (v *Validator) safetyReason(dec *decision.Result, req decision.Request) string {
	if dec.RequiresHuman {
		return ReasonRequiresHuman
	}
	if !containsState(req.ValidNext, dec.NextState) {
		return ReasonInvalidTransition
	}
	if len([]rune(dec.ResponseText)) > v.maxReplyLen {
		return ReasonResponseSize
	}
	if ContainsPII(dec.ResponseText) {
		return ReasonPIIDetected
	}
	if ContainsProhibitedPromise(dec.ResponseText) {
		return ReasonProhibitedPromise
	}
	return ""
}

func containsState(set []fsm.State, s fsm.State) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// posesQuestion reports whether the reply asks the user something.
func posesQuestion(text string) bool {
	return strings.Contains(text, "?")
}
