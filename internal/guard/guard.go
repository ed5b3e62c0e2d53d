// Package guard applies ordered post-validation rules that may rewrite the
// final decision: business hours, repetition/irrelevance, continuation.
// First match wins; the chain is skipped entirely when no ContactCard is
// known yet.
package guard

import (
	"strings"

	"github.com/tidelane/convocore/internal/decision"
	"github.com/tidelane/convocore/internal/profile"
)

// Guard identifiers reported in GuardResult.FiredBy.
const (
	GuardBusinessHours = "business_hours"
	GuardRepetition    = "repetition"
	GuardContinuation  = "continuation"
)

// Context is the read-only state a guard evaluates against.
type Context struct {
	Card          *profile.ContactCard
	Track         *profile.Track
	LastUserText  string // inbound user message the decision replies to
	FieldCaptured bool   // extraction touched a field this turn
}

// Rule is one guard: a pure function returning a rewritten decision or nil
// for "not applied".
type Rule interface {
	ID() string
	Apply(dec *decision.Result, gctx Context) *decision.Result
}

// Result carries the possibly-rewritten decision and the id of the guard
// that fired ("" when untouched).
type Result struct {
	Decision *decision.Result
	FiredBy  string
}

// Chain folds the rules left to right, stopping at the first rewrite.
type Chain struct {
	rules []Rule
}

// NewChain builds the default ordered chain.
func NewChain(hours BusinessHours) *Chain {
	return &Chain{rules: []Rule{
		&businessHoursGuard{hours: hours},
		&repetitionGuard{},
		&continuationGuard{},
	}}
}

// Run applies the chain. Without a ContactCard the decision passes through
// untouched.
func (c *Chain) Run(dec *decision.Result, gctx Context) Result {
	if gctx.Card.IsEmpty() {
		return Result{Decision: dec}
	}
	for _, rule := range c.rules {
		if rewritten := rule.Apply(dec, gctx); rewritten != nil {
			return Result{Decision: rewritten, FiredBy: rule.ID()}
		}
	}
	return Result{Decision: dec}
}

// posesQuestion mirrors the validator's definition so the two components
// agree on what counts as an open question.
func posesQuestion(text string) bool {
	return strings.Contains(text, "?")
}
