package rank

import (
	"testing"
	"time"

	"stocklive/internal/model"
)

func snapshotByType(t *testing.T, snaps []model.RankingSnapshot, rt model.RankingType) model.RankingSnapshot {
	t.Helper()
	for _, s := range snaps {
		if s.Type == rt {
			return s
		}
	}
	t.Fatalf("snapshot %s missing", rt)
	return model.RankingSnapshot{}
}

func TestBuildRankingsSortOrder(t *testing.T) {
	records := []model.PriceRecord{
		{Code: "A", ChangeRate: 3.0, Volume: 10, TradeValue: 500},
		{Code: "B", ChangeRate: -1.0, Volume: 30, TradeValue: 100},
		{Code: "C", ChangeRate: 0.0, Volume: 20, TradeValue: 900},
	}
	now := time.Now()
	snaps := BuildRankings(records, 50, now)
	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(snaps))
	}

	gainer := snapshotByType(t, snaps, model.RankingGainer)
	if gainer.Entries[0].Code != "A" || gainer.Entries[1].Code != "C" || gainer.Entries[2].Code != "B" {
		t.Errorf("gainer order wrong: %+v", gainer.Entries)
	}

	loser := snapshotByType(t, snaps, model.RankingLoser)
	if loser.Entries[0].Code != "B" || loser.Entries[1].Code != "C" || loser.Entries[2].Code != "A" {
		t.Errorf("loser order wrong: %+v", loser.Entries)
	}

	volume := snapshotByType(t, snaps, model.RankingVolume)
	if volume.Entries[0].Code != "B" {
		t.Errorf("volume order wrong: %+v", volume.Entries)
	}

	value := snapshotByType(t, snaps, model.RankingValue)
	if value.Entries[0].Code != "C" {
		t.Errorf("value order wrong: %+v", value.Entries)
	}

	for _, s := range snaps {
		if !s.ComputedAt.Equal(now) {
			t.Errorf("snapshot %s has wrong timestamp", s.Type)
		}
	}
}

func TestBuildRankingsTruncatesToTopN(t *testing.T) {
	records := make([]model.PriceRecord, 10)
	for i := range records {
		records[i] = model.PriceRecord{Code: string(rune('A' + i)), ChangeRate: float64(i)}
	}
	snaps := BuildRankings(records, 3, time.Now())
	for _, s := range snaps {
		if len(s.Entries) != 3 {
			t.Errorf("snapshot %s has %d entries, want 3", s.Type, len(s.Entries))
		}
	}
}

func TestBuildThemeRankingsPartialData(t *testing.T) {
	themes := []model.ThemeGroup{
		{Name: "Semis", Codes: []string{"A", "B", "C"}},
		{Name: "Empty", Codes: []string{"X", "Y"}},
	}
	// Only two of the three Semis members resolved a price.
	records := []model.PriceRecord{
		{Code: "A", ChangeRate: 4.0},
		{Code: "B", ChangeRate: 2.0},
	}

	snap := BuildThemeRankings(themes, records, time.Now())
	if len(snap.Themes) != 2 {
		t.Fatalf("expected 2 themes, got %d", len(snap.Themes))
	}

	// Average over resolved members only, sorted descending; the empty theme
	// carries zero rather than being dropped.
	if snap.Themes[0].Name != "Semis" || snap.Themes[0].AvgChangeRate != 3.0 {
		t.Errorf("unexpected first theme: %+v", snap.Themes[0])
	}
	if len(snap.Themes[0].Stocks) != 2 {
		t.Errorf("unresolved member leaked into stocks: %+v", snap.Themes[0].Stocks)
	}
	if snap.Themes[1].Name != "Empty" || snap.Themes[1].AvgChangeRate != 0 {
		t.Errorf("empty theme not zeroed: %+v", snap.Themes[1])
	}
}
