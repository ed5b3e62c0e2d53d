package guard

import (
	"fmt"

	"github.com/tidelane/convocore/internal/decision"
)

// BusinessHours describes the window in which meetings can be booked.
type BusinessHours struct {
	OpenHour  int    // inclusive, 0–23
	CloseHour int    // exclusive, 0–23
	Days      string // human-readable, e.g. "Monday to Friday"
}

// DefaultBusinessHours is used when the tenant configures nothing.
var DefaultBusinessHours = BusinessHours{OpenHour: 9, CloseHour: 18, Days: "Monday to Friday"}

// businessHoursGuard replaces the reply with a fixed in-hours request when
// extraction flagged the proposed meeting time as out of hours. Highest
// priority; bypasses the remaining guards.
type businessHoursGuard struct {
	hours BusinessHours
}

func (g *businessHoursGuard) ID() string { return GuardBusinessHours }

func (g *businessHoursGuard) Apply(dec *decision.Result, gctx Context) *decision.Result {
	if !gctx.Card.MeetingOutOfHours {
		return nil
	}
	out := dec.Clone()
	out.ResponseText = fmt.Sprintf(
		"That time is outside our business hours. We meet %s between %02d:00 and %02d:00 — which slot works for you?",
		g.hours.Days, g.hours.OpenHour, g.hours.CloseHour,
	)
	out.MessageType = "text"
	return out
}
