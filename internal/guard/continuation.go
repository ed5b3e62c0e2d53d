package guard

import (
	"strings"

	"github.com/tidelane/convocore/internal/decision"
)

// continuationGuard keeps the conversation moving: when the reply poses no
// question and the message it answers was a plain confirmation (or a field
// was just captured), it appends the next question or the scheduling
// call-to-action so the thread does not stall.
type continuationGuard struct{}

func (g *continuationGuard) ID() string { return GuardContinuation }

var confirmations = map[string]bool{
	"ok": true, "okay": true, "yes": true, "yep": true, "sure": true,
	"sounds good": true, "got it": true, "great": true, "perfect": true,
	"thanks": true, "thank you": true, "alright": true, "sim": true,
}

func isPlainConfirmation(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!")
	return confirmations[t]
}

func (g *continuationGuard) Apply(dec *decision.Result, gctx Context) *decision.Result {
	if posesQuestion(dec.ResponseText) {
		return nil
	}
	if !isPlainConfirmation(gctx.LastUserText) && !gctx.FieldCaptured {
		return nil
	}
	if gctx.Track == nil {
		return nil
	}

	out := dec.Clone()
	if next := gctx.Track.NextQuestion(gctx.Card); next != nil && !gctx.Track.Ready(gctx.Card) {
		out.ResponseText = strings.TrimSpace(dec.ResponseText) + " " + next.Prompt
	} else {
		out.ResponseText = strings.TrimSpace(dec.ResponseText) + " " + gctx.Track.SchedulingCTA
	}
	return out
}
