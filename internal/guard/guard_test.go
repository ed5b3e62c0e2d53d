package guard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelane/convocore/internal/decision"
	"github.com/tidelane/convocore/internal/fsm"
	"github.com/tidelane/convocore/internal/profile"
)

func automationTrack() *profile.Track {
	return &profile.Track{
		ID: "automation",
		Questions: []profile.Question{
			{Field: profile.FieldVolume, Prompt: "How many requests do you handle per month?"},
			{Field: profile.FieldTeamSize, Prompt: "How big is your team?"},
			{Field: profile.FieldTooling, Prompt: "What tools do you use today?"},
			{Field: profile.FieldNeed, Prompt: "What outcome are you hoping for?"},
		},
		SignalWeights: map[string]float64{
			profile.FieldVolume:   1,
			profile.FieldTeamSize: 1,
			profile.FieldTooling:  1,
			profile.FieldNeed:     1,
		},
		MinScore:      3,
		SchedulingCTA: "Want to grab 30 minutes with our team this week?",
	}
}

func textDecision(text string) *decision.Result {
	return decision.NewResult(fsm.StateCollecting, text, "text", 0.9, false)
}

func TestChainSkippedWithoutCard(t *testing.T) {
	c := NewChain(DefaultBusinessHours)
	dec := textDecision("How big is your team?")

	res := c.Run(dec, Context{Card: nil, Track: automationTrack()})

	assert.Empty(t, res.FiredBy)
	assert.Same(t, dec, res.Decision)
}

func TestBusinessHoursGuardHasHighestPriority(t *testing.T) {
	// Out-of-hours flag set AND the reply re-asks a known field: the
	// business-hours rewrite must win.
	c := NewChain(BusinessHours{OpenHour: 9, CloseHour: 18, Days: "Monday to Friday"})
	card := &profile.ContactCard{
		Track:             "automation",
		Volume:            "100/mo",
		MeetingOutOfHours: true,
	}
	dec := textDecision("What volume do you handle per month?")

	res := c.Run(dec, Context{Card: card, Track: automationTrack()})

	assert.Equal(t, GuardBusinessHours, res.FiredBy)
	assert.Contains(t, res.Decision.ResponseText, "outside our business hours")
	assert.Contains(t, res.Decision.ResponseText, "09:00")
}

func TestRepetitionGuard_ReAskedFieldReplaced(t *testing.T) {
	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{Track: "automation", Volume: "100/mo"}
	dec := textDecision("Roughly how many requests do you handle per month?")

	res := c.Run(dec, Context{Card: card, Track: automationTrack()})

	require.Equal(t, GuardRepetition, res.FiredBy)
	// Next unanswered field in track order is team size.
	assert.Contains(t, res.Decision.ResponseText, "How big is your team?")
}

func TestRepetitionGuard_QualifiedCardGetsCTA(t *testing.T) {
	// Scenario: three of four signals known, no explicit meeting time →
	// propose scheduling instead of re-asking a known field.
	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{
		Track:    "automation",
		Volume:   "100/mo",
		TeamSize: "12",
		Tooling:  "spreadsheets",
	}
	dec := textDecision("What volume do you handle per month?")

	res := c.Run(dec, Context{Card: card, Track: automationTrack()})

	require.Equal(t, GuardRepetition, res.FiredBy)
	assert.Contains(t, res.Decision.ResponseText, "30 minutes")
	assert.False(t, strings.Contains(res.Decision.ResponseText, "volume"))
}

func TestRepetitionGuard_IrrelevantSignalReplaced(t *testing.T) {
	track := automationTrack()
	// Narrow the track so tooling questions fall outside it.
	track.Questions = track.Questions[:2]
	delete(track.SignalWeights, profile.FieldTooling)
	delete(track.SignalWeights, profile.FieldNeed)
	track.MinScore = 2

	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{Track: "automation", Volume: "100/mo"}
	dec := textDecision("What tools do you use today?")

	res := c.Run(dec, Context{Card: card, Track: track})

	require.Equal(t, GuardRepetition, res.FiredBy)
	assert.Contains(t, res.Decision.ResponseText, "How big is your team?")
}

func TestRepetitionGuard_FreshQuestionPassesThrough(t *testing.T) {
	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{Track: "automation", Volume: "100/mo"}
	dec := textDecision("How big is your team?")

	res := c.Run(dec, Context{Card: card, Track: automationTrack()})

	assert.Empty(t, res.FiredBy)
}

func TestContinuationGuard_AppendsNextQuestionAfterConfirmation(t *testing.T) {
	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{Track: "automation", Volume: "100/mo"}
	dec := textDecision("Great, noted.")

	res := c.Run(dec, Context{Card: card, Track: automationTrack(), LastUserText: "ok"})

	require.Equal(t, GuardContinuation, res.FiredBy)
	assert.Contains(t, res.Decision.ResponseText, "Great, noted.")
	assert.Contains(t, res.Decision.ResponseText, "How big is your team?")
}

func TestContinuationGuard_AppendsCTAWhenQualified(t *testing.T) {
	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{
		Track:    "automation",
		Volume:   "100/mo",
		TeamSize: "12",
		Tooling:  "spreadsheets",
	}
	dec := textDecision("Noted, thanks.")

	res := c.Run(dec, Context{Card: card, Track: automationTrack(), FieldCaptured: true})

	require.Equal(t, GuardContinuation, res.FiredBy)
	assert.Contains(t, res.Decision.ResponseText, "30 minutes")
}

func TestContinuationGuard_NotAppliedMidConversation(t *testing.T) {
	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{Track: "automation", Volume: "100/mo"}
	dec := textDecision("We integrate with most CRMs out of the box.")

	res := c.Run(dec, Context{
		Card:         card,
		Track:        automationTrack(),
		LastUserText: "does it integrate with our CRM?",
	})

	assert.Empty(t, res.FiredBy)
}

func TestGuardsNeverMutateInput(t *testing.T) {
	c := NewChain(DefaultBusinessHours)
	card := &profile.ContactCard{Track: "automation", MeetingOutOfHours: true}
	dec := textDecision("See you then.")

	res := c.Run(dec, Context{Card: card, Track: automationTrack()})

	require.Equal(t, GuardBusinessHours, res.FiredBy)
	assert.Equal(t, "See you then.", dec.ResponseText)
	assert.NotSame(t, dec, res.Decision)
}
