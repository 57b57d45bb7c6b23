package rank

import (
	"sort"
	"time"

	"stocklive/internal/model"
)

// BuildRankings computes the four ranking views over one fetch pass. Each
// snapshot is sorted by its metric and truncated to topN entries.
func BuildRankings(records []model.PriceRecord, topN int, now time.Time) []model.RankingSnapshot {
	snapshots := make([]model.RankingSnapshot, 0, len(model.RankingTypes))
	for _, rt := range model.RankingTypes {
		entries := make([]model.PriceRecord, len(records))
		copy(entries, records)

		switch rt {
		case model.RankingGainer:
			sort.SliceStable(entries, func(i, j int) bool { return entries[i].ChangeRate > entries[j].ChangeRate })
		case model.RankingLoser:
			sort.SliceStable(entries, func(i, j int) bool { return entries[i].ChangeRate < entries[j].ChangeRate })
		case model.RankingVolume:
			sort.SliceStable(entries, func(i, j int) bool { return entries[i].Volume > entries[j].Volume })
		case model.RankingValue:
			sort.SliceStable(entries, func(i, j int) bool { return entries[i].TradeValue > entries[j].TradeValue })
		}

		if topN > 0 && len(entries) > topN {
			entries = entries[:topN]
		}
		snapshots = append(snapshots, model.RankingSnapshot{
			Type:       rt,
			Entries:    entries,
			ComputedAt: now,
		})
	}
	return snapshots
}

// BuildThemeRankings averages the change rate of each theme over the members
// that resolved a price in this pass. Members without a record are excluded
// from the denominator; a theme with no resolved members gets an average of
// zero. Themes are returned sorted by average change rate descending.
func BuildThemeRankings(themes []model.ThemeGroup, records []model.PriceRecord, now time.Time) model.ThemeRankingSnapshot {
	prices := make(map[string]model.PriceRecord, len(records))
	for _, rec := range records {
		prices[rec.Code] = rec
	}

	rankings := make([]model.ThemeRanking, 0, len(themes))
	for _, theme := range themes {
		tr := model.ThemeRanking{Name: theme.Name}
		sum := 0.0
		for _, code := range theme.Codes {
			rec, ok := prices[code]
			if !ok {
				continue
			}
			tr.Stocks = append(tr.Stocks, rec)
			sum += rec.ChangeRate
		}
		if len(tr.Stocks) > 0 {
			tr.AvgChangeRate = sum / float64(len(tr.Stocks))
		}
		rankings = append(rankings, tr)
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].AvgChangeRate > rankings[j].AvgChangeRate
	})

	return model.ThemeRankingSnapshot{Themes: rankings, ComputedAt: now}
}
