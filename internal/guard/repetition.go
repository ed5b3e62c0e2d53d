package guard

import (
	"strings"

	"github.com/tidelane/convocore/internal/decision"
	"github.com/tidelane/convocore/internal/profile"
)

// repetitionGuard detects a reply that re-asks an already-answered field
// (repetition) or asks about a field outside the active track
// (irrelevance). It replaces the reply with an acknowledgement plus either
// the next unanswered question in track order, or the scheduling
// call-to-action when the track's minimum qualification is already met.
type repetitionGuard struct{}

func (g *repetitionGuard) ID() string { return GuardRepetition }

func (g *repetitionGuard) Apply(dec *decision.Result, gctx Context) *decision.Result {
	if gctx.Track == nil || !posesQuestion(dec.ResponseText) {
		return nil
	}

	field := askedField(dec.ResponseText)
	if field == "" {
		return nil
	}

	// Repetition: the field is already answered on the card. Irrelevance:
	// a qualification signal outside the active track. Identity and
	// scheduling questions are always relevant.
	repeated := gctx.Track.AsksKnownField(gctx.Card, field)
	irrelevant := isSignalField(field) && !gctx.Track.HasField(field)
	if !repeated && !irrelevant {
		return nil
	}

	out := dec.Clone()
	out.MessageType = "text"
	if gctx.Track.Ready(gctx.Card) {
		out.ResponseText = "Thanks, that's everything I need. " + gctx.Track.SchedulingCTA
		return out
	}
	next := gctx.Track.NextQuestion(gctx.Card)
	if next == nil {
		out.ResponseText = "Thanks, that's everything I need. " + gctx.Track.SchedulingCTA
		return out
	}
	out.ResponseText = "Thanks for sharing that. " + next.Prompt
	return out
}

// fieldCues maps qualification fields to the phrases a reply would use
// when asking about them. Deterministic on purpose: the guard never calls
// back into the language model.
var fieldCues = map[string][]string{
	profile.FieldName:        {"your name", "who am i speaking"},
	profile.FieldCompany:     {"your company", "which company", "company name"},
	profile.FieldEmail:       {"your email", "e-mail address"},
	profile.FieldPhone:       {"your phone", "phone number", "best number"},
	profile.FieldVolume:      {"volume", "how many requests", "per month", "monthly"},
	profile.FieldTeamSize:    {"team size", "how big is your team", "how many people"},
	profile.FieldTooling:     {"what tools", "which tools", "tooling", "currently use"},
	profile.FieldNeed:        {"what outcome", "main goal", "looking to solve", "hoping for"},
	profile.FieldMeetingTime: {"what time", "which slot", "when works"},
}

func isSignalField(field string) bool {
	switch field {
	case profile.FieldVolume, profile.FieldTeamSize, profile.FieldTooling, profile.FieldNeed:
		return true
	}
	return false
}

// askedField returns the qualification field a questioning reply targets,
// or empty when no cue matches.
func askedField(text string) string {
	lower := strings.ToLower(text)
	for field, cues := range fieldCues {
		for _, cue := range cues {
			if strings.Contains(lower, cue) {
				return field
			}
		}
	}
	return ""
}
