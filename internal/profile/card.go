// Package profile holds the structured lead profile (ContactCard) and the
// rules for merging extraction patches into it.
package profile

import "time"

// ContactCard is the structured lead profile. The authoritative copy lives
// in the profile store; sessions hold a read cache.
type ContactCard struct {
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`

	Track string `json:"track,omitempty"`

	// Qualification signals.
	Volume   string `json:"volume,omitempty"`    // e.g. monthly volume
	TeamSize string `json:"team_size,omitempty"` // size of the buying team
	Tooling  string `json:"tooling,omitempty"`   // current tooling in use
	Need     string `json:"need,omitempty"`      // explicit stated need

	PreferredMeetingTime string `json:"preferred_meeting_time,omitempty"`
	MeetingOutOfHours    bool   `json:"meeting_out_of_hours,omitempty"`

	QualificationScore float64   `json:"qualification_score,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// Field names used in extraction patches and track question catalogs.
const (
	FieldName        = "name"
	FieldCompany     = "company"
	FieldEmail       = "email"
	FieldPhone       = "phone"
	FieldTrack       = "track"
	FieldVolume      = "volume"
	FieldTeamSize    = "team_size"
	FieldTooling     = "tooling"
	FieldNeed        = "need"
	FieldMeetingTime = "preferred_meeting_time"
)

// FieldValue returns the card's value for a known field name, empty for
// unknown names.
func (c *ContactCard) FieldValue(field string) string {
	switch field {
	case FieldName:
		return c.Name
	case FieldCompany:
		return c.Company
	case FieldEmail:
		return c.Email
	case FieldPhone:
		return c.Phone
	case FieldTrack:
		return c.Track
	case FieldVolume:
		return c.Volume
	case FieldTeamSize:
		return c.TeamSize
	case FieldTooling:
		return c.Tooling
	case FieldNeed:
		return c.Need
	case FieldMeetingTime:
		return c.PreferredMeetingTime
	}
	return ""
}

// Summary returns a compact card description for decision/extraction
// prompts. Never includes raw conversation text.
func (c *ContactCard) Summary() map[string]string {
	if c == nil {
		return nil
	}
	out := map[string]string{}
	for _, f := range []string{
		FieldName, FieldCompany, FieldTrack, FieldVolume,
		FieldTeamSize, FieldTooling, FieldNeed, FieldMeetingTime,
	} {
		if v := c.FieldValue(f); v != "" {
			out[f] = v
		}
	}
	return out
}

// IsEmpty reports whether the card carries no lead data yet. The profile
// store's get-or-create returns an empty card for first-time senders;
// guards treat that as "no card".
func (c *ContactCard) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.Name == "" && c.Company == "" && c.Email == "" && c.Phone == "" &&
		c.Track == "" && c.Volume == "" && c.TeamSize == "" && c.Tooling == "" &&
		c.Need == "" && c.PreferredMeetingTime == "" && !c.MeetingOutOfHours
}

// Clone returns a deep copy of the card.
func (c *ContactCard) Clone() *ContactCard {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ExtractionPatch is a partial ContactCard update produced by the
// extraction service. Touched carries field names only — never raw text —
// so the audit trail stays free of conversation content.
type ExtractionPatch struct {
	Name                 string  `json:"name,omitempty"`
	Company              string  `json:"company,omitempty"`
	Email                string  `json:"email,omitempty"`
	Phone                string  `json:"phone,omitempty"`
	Track                string  `json:"track,omitempty"`
	Volume               string  `json:"volume,omitempty"`
	TeamSize             string  `json:"team_size,omitempty"`
	Tooling              string  `json:"tooling,omitempty"`
	Need                 string  `json:"need,omitempty"`
	PreferredMeetingTime string  `json:"preferred_meeting_time,omitempty"`
	MeetingOutOfHours    bool    `json:"meeting_out_of_hours,omitempty"`
	Confidence           float64 `json:"confidence"`
	Touched              []string `json:"touched,omitempty"`
}

// Merge applies patch onto card and returns the touched field names.
// Card fields are monotonic-additive: a non-empty patch value overrides,
// an empty value never erases prior truth. One policy exception: a meeting
// time flagged out-of-hours clears the stored preference and sets the
// out-of-hours flag so the business-hours guard fires.
func Merge(card *ContactCard, patch *ExtractionPatch, now time.Time) []string {
	if card == nil || patch == nil {
		return nil
	}
	var touched []string
	set := func(field string, dst *string, v string) {
		if v != "" && v != *dst {
			*dst = v
			touched = append(touched, field)
		}
	}
	set(FieldName, &card.Name, patch.Name)
	set(FieldCompany, &card.Company, patch.Company)
	set(FieldEmail, &card.Email, patch.Email)
	set(FieldPhone, &card.Phone, patch.Phone)
	set(FieldTrack, &card.Track, patch.Track)
	set(FieldVolume, &card.Volume, patch.Volume)
	set(FieldTeamSize, &card.TeamSize, patch.TeamSize)
	set(FieldTooling, &card.Tooling, patch.Tooling)
	set(FieldNeed, &card.Need, patch.Need)

	if patch.MeetingOutOfHours {
		card.PreferredMeetingTime = ""
		card.MeetingOutOfHours = true
		touched = append(touched, FieldMeetingTime)
	} else if patch.PreferredMeetingTime != "" {
		card.PreferredMeetingTime = patch.PreferredMeetingTime
		card.MeetingOutOfHours = false
		touched = append(touched, FieldMeetingTime)
	}

	if len(touched) > 0 {
		card.UpdatedAt = now
	}
	return touched
}

// ClampConfidence bounds a confidence value to [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
