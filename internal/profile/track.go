package profile

// Question is one entry in a track's fixed question order.
type Question struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

// Track describes one business interest category: the fixed order of
// qualification questions, per-signal weights, and the minimum weighted
// score required before proposing a meeting.
type Track struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Questions     []Question         `json:"questions"`
	SignalWeights map[string]float64 `json:"signal_weights"`
	MinScore      float64            `json:"min_score"`
	SchedulingCTA string             `json:"scheduling_cta"`
}

// Score computes the track-weighted count of known qualification signals
// on the card. Only signal fields with a configured weight contribute.
func (t *Track) Score(card *ContactCard) float64 {
	if t == nil || card == nil {
		return 0
	}
	var score float64
	for field, weight := range t.SignalWeights {
		if card.FieldValue(field) != "" {
			score += weight
		}
	}
	return score
}

// Ready reports whether the card meets the track's minimum qualification
// for proposing a meeting. A card with an explicit preferred meeting time
// is always ready regardless of score.
func (t *Track) Ready(card *ContactCard) bool {
	if t == nil || card == nil {
		return false
	}
	if card.PreferredMeetingTime != "" {
		return true
	}
	return t.Score(card) >= t.MinScore
}

// NextQuestion returns the first question in track order whose field is
// still empty on the card, or nil when every question is answered.
func (t *Track) NextQuestion(card *ContactCard) *Question {
	if t == nil {
		return nil
	}
	for i := range t.Questions {
		q := &t.Questions[i]
		if card == nil || card.FieldValue(q.Field) == "" {
			return q
		}
	}
	return nil
}

// AsksKnownField reports whether field is already answered on the card.
func (t *Track) AsksKnownField(card *ContactCard, field string) bool {
	return card != nil && card.FieldValue(field) != ""
}

// HasField reports whether field belongs to this track's question order.
func (t *Track) HasField(field string) bool {
	if t == nil {
		return false
	}
	for _, q := range t.Questions {
		if q.Field == field {
			return true
		}
	}
	return false
}
