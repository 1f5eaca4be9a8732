package playback

import (
	"sort"
	"strings"
)

// Track is a catalog entry guests can search for and add to the queue.
type Track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	ArtworkURL  string `json:"artwork_url,omitempty"`
	DurationSec int    `json:"duration_sec"`
}

// Catalog is the demo track library. Search is case-insensitive substring
// match over title and artist.
type Catalog struct {
	tracks []Track
}

func NewCatalog() *Catalog {
	return &Catalog{tracks: demoTracks}
}

func (c *Catalog) Get(id string) (Track, bool) {
	for _, t := range c.tracks {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}

// Search returns up to limit matches, title matches ranked before
// artist-only matches.
func (c *Catalog) Search(query string, limit int) []Track {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	type scored struct {
		t    Track
		rank int
	}
	var hits []scored
	for _, t := range c.tracks {
		title := strings.ToLower(t.Title)
		artist := strings.ToLower(t.Artist)
		switch {
		case strings.HasPrefix(title, q):
			hits = append(hits, scored{t, 0})
		case strings.Contains(title, q):
			hits = append(hits, scored{t, 1})
		case strings.Contains(artist, q):
			hits = append(hits, scored{t, 2})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	out := make([]Track, 0, limit)
	for _, h := range hits {
		out = append(out, h.t)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Seed returns the opening tracks a fresh party starts with.
func (c *Catalog) Seed(n int) []Track {
	if n > len(c.tracks) {
		n = len(c.tracks)
	}
	out := make([]Track, n)
	copy(out, c.tracks[:n])
	return out
}

var demoTracks = []Track{
	{ID: "trk-001", Title: "Midnight Drive", Artist: "Neon Harbor", DurationSec: 214},
	{ID: "trk-002", Title: "Paper Planes Over Lisbon", Artist: "The Tram Lines", DurationSec: 187},
	{ID: "trk-003", Title: "Glasshouse", Artist: "Ava Marlowe", DurationSec: 242},
	{ID: "trk-004", Title: "Static Bloom", Artist: "Neon Harbor", DurationSec: 198},
	{ID: "trk-005", Title: "Copper Sky", Artist: "June & The Wires", DurationSec: 205},
	{ID: "trk-006", Title: "Runaway Frequency", Artist: "Delta Vox", DurationSec: 233},
	{ID: "trk-007", Title: "Low Tide", Artist: "Ava Marlowe", DurationSec: 176},
	{ID: "trk-008", Title: "Arcade Hearts", Artist: "Pixel Parade", DurationSec: 221},
	{ID: "trk-009", Title: "Night Bus North", Artist: "The Tram Lines", DurationSec: 194},
	{ID: "trk-010", Title: "Violet Hour", Artist: "June & The Wires", DurationSec: 250},
	{ID: "trk-011", Title: "Satellite Summer", Artist: "Delta Vox", DurationSec: 209},
	{ID: "trk-012", Title: "Warm Circuits", Artist: "Pixel Parade", DurationSec: 183},
}
