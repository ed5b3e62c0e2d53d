// Package content loads track catalogs and message templates from a
// content directory, with a TTL cache and optional hot reload.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"

	"github.com/tidelane/convocore/internal/profile"
)

// Catalog is the per-tenant conversational content: interest tracks and
// dynamic context snippets referenced by sessions.
type Catalog struct {
	Tracks         map[string]*profile.Track `json:"tracks"`
	DefaultTrack   string                    `json:"default_track"`
	DynamicContext map[string]string         `json:"dynamic_context,omitempty"`
}

// Track returns the track for id, falling back to the catalog default.
func (c *Catalog) Track(id string) *profile.Track {
	if c == nil {
		return nil
	}
	if t, ok := c.Tracks[id]; ok {
		return t
	}
	return c.Tracks[c.DefaultTrack]
}

// LoadDir reads every *.json5 file in dir and merges the catalogs. Later
// files win on track id collisions.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read content dir: %w", err)
	}
	out := &Catalog{Tracks: map[string]*profile.Track{}}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json5") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var c Catalog
		if err := json5.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		for id, t := range c.Tracks {
			if t.ID == "" {
				t.ID = id
			}
			out.Tracks[id] = t
		}
		if c.DefaultTrack != "" {
			out.DefaultTrack = c.DefaultTrack
		}
		for k, v := range c.DynamicContext {
			if out.DynamicContext == nil {
				out.DynamicContext = map[string]string{}
			}
			out.DynamicContext[k] = v
		}
	}
	if len(out.Tracks) == 0 {
		return nil, fmt.Errorf("content dir %s holds no tracks", dir)
	}
	if out.DefaultTrack == "" {
		for id := range out.Tracks {
			out.DefaultTrack = id
			break
		}
	}
	return out, nil
}

// BuiltinCatalog is the compiled-in default used when no content directory
// is configured.
func BuiltinCatalog() *Catalog {
	automation := &profile.Track{
		ID:   "automation",
		Name: "Workflow automation",
		Questions: []profile.Question{
			{Field: profile.FieldVolume, Prompt: "How many requests does your team handle per month?"},
			{Field: profile.FieldTeamSize, Prompt: "How big is the team working on this?"},
			{Field: profile.FieldTooling, Prompt: "What tools do you use for this today?"},
			{Field: profile.FieldNeed, Prompt: "What outcome are you hoping for?"},
		},
		SignalWeights: map[string]float64{
			profile.FieldVolume:   1,
			profile.FieldTeamSize: 1,
			profile.FieldTooling:  1,
			profile.FieldNeed:     1.5,
		},
		MinScore:      3,
		SchedulingCTA: "Want to grab 30 minutes with our team this week?",
	}
	analytics := &profile.Track{
		ID:   "analytics",
		Name: "Analytics and reporting",
		Questions: []profile.Question{
			{Field: profile.FieldNeed, Prompt: "What are you trying to measure or report on?"},
			{Field: profile.FieldTooling, Prompt: "Which tools hold that data today?"},
			{Field: profile.FieldVolume, Prompt: "Roughly how much data are we talking about per month?"},
			{Field: profile.FieldTeamSize, Prompt: "How many people would use the reports?"},
		},
		SignalWeights: map[string]float64{
			profile.FieldNeed:     1.5,
			profile.FieldTooling:  1,
			profile.FieldVolume:   1,
			profile.FieldTeamSize: 0.5,
		},
		MinScore:      2.5,
		SchedulingCTA: "Shall we set up a short demo with an analytics specialist?",
	}
	return &Catalog{
		Tracks:       map[string]*profile.Track{"automation": automation, "analytics": analytics},
		DefaultTrack: "automation",
	}
}
