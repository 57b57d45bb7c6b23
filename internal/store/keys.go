package store

import (
	"time"

	"stocklive/internal/model"
)

// Logical key namespaces in the shared cache. Every consumer goes through
// these helpers so the namespace layout lives in one place.
const (
	KeyToken         = "kis:token"
	KeyAllStocks     = "snapshot:all_stocks"
	KeyThemeRankings = "snapshot:theme_rankings"
	KeyIndicators    = "snapshot:market_indicators"
	KeyInvestorTrend = "snapshot:investor_trend"

	pricePrefix   = "price:"
	rankingPrefix = "snapshot:ranking:"
)

// TTL constants per data class. These are passed to Set when storing to bound
// staleness; investor trend data carries no expiry because the refresh job
// overwrites it wholesale on each accepted run.
const (
	TTLToken         = 0 // derived from the upstream-declared lifetime instead
	TTLPrice         = 60 * time.Second
	TTLRankings      = 600 * time.Second
	TTLThemeRankings = 300 * time.Second
	TTLIndicators    = 600 * time.Second
	TTLInvestorTrend = 0
)

// PriceKey returns the per-code price cache key.
func PriceKey(code string) string {
	return pricePrefix + code
}

// RankingKey returns the snapshot key for one ranking view.
func RankingKey(t model.RankingType) string {
	return rankingPrefix + string(t)
}
