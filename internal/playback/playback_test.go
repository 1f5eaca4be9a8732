package playback

import "testing"

func TestCatalogSearchRanksTitleMatchesFirst(t *testing.T) {
	c := NewCatalog()

	got := c.Search("neon", 10)
	if len(got) != 2 {
		t.Fatalf("Search(neon) = %d hits, want 2", len(got))
	}
	for _, tr := range got {
		if tr.Artist != "Neon Harbor" {
			t.Fatalf("unexpected hit %+v", tr)
		}
	}

	got = c.Search("night", 10)
	if len(got) == 0 || got[0].Title != "Night Bus North" {
		t.Fatalf("Search(night) first hit = %+v, want title-prefix match", got)
	}
}

func TestCatalogSearchLimitAndEmptyQuery(t *testing.T) {
	c := NewCatalog()
	if got := c.Search("   ", 5); got != nil {
		t.Fatalf("blank query returned %v", got)
	}
	if got := c.Search("a", 3); len(got) > 3 {
		t.Fatalf("limit ignored: %d hits", len(got))
	}
}

func TestDemoEngineTickAndTrackEnd(t *testing.T) {
	e := &DemoEngine{stop: make(chan struct{})}
	defer e.Close()

	var ticks []TickState
	var ended string
	e.OnTick(func(s TickState) { ticks = append(ticks, s) })
	e.OnTrackEnd(func(id string) { ended = id })

	e.Load("trk-001", 2)
	e.tick()
	e.tick()

	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}
	if ticks[0].PositionSec != 1 || ticks[1].PositionSec != 2 {
		t.Fatalf("positions = %d,%d", ticks[0].PositionSec, ticks[1].PositionSec)
	}
	if ended != "trk-001" {
		t.Fatalf("ended = %q, want trk-001", ended)
	}
	if st := e.State(); st.TrackID != "" {
		t.Fatalf("state after end = %+v, want empty", st)
	}
}

func TestDemoEnginePauseHoldsPosition(t *testing.T) {
	e := &DemoEngine{stop: make(chan struct{})}
	defer e.Close()

	e.Load("trk-002", 100)
	e.tick()
	e.Pause()
	e.tick()
	e.tick()

	if st := e.State(); st.PositionSec != 1 || st.IsPlaying {
		t.Fatalf("state = %+v, want paused at 1s", st)
	}

	e.Play()
	e.tick()
	if st := e.State(); st.PositionSec != 2 {
		t.Fatalf("position after resume = %d, want 2", st.PositionSec)
	}
}
