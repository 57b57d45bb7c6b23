package model

import "time"

// PriceRecord is the normalized quote for a single security. Each successful
// fetch produces a fresh record that supersedes the previous one; no history
// is kept.
type PriceRecord struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Price      int64   `json:"price"`
	ChangeRate float64 `json:"changeRate"`
	Volume     int64   `json:"volume"`
	TradeValue int64   `json:"tradeValue"`
}

// AccessToken is the bearer credential for the KIS open API. ExpiresAt already
// has the safety margin subtracted from the upstream-declared lifetime.
type AccessToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the token can still be used at the given instant.
func (t *AccessToken) Valid(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// RankingType enumerates the four market ranking views.
type RankingType string

const (
	RankingGainer RankingType = "gainer"
	RankingLoser  RankingType = "loser"
	RankingVolume RankingType = "volume"
	RankingValue  RankingType = "value"
)

// RankingTypes lists every ranking view in serving order.
var RankingTypes = []RankingType{RankingGainer, RankingLoser, RankingVolume, RankingValue}

// Valid reports whether t names a known ranking view.
func (t RankingType) Valid() bool {
	switch t {
	case RankingGainer, RankingLoser, RankingVolume, RankingValue:
		return true
	default:
		return false
	}
}

// RankingSnapshot is a fully computed ranking view. Snapshots are replaced
// wholesale on every refresh, never patched.
type RankingSnapshot struct {
	Type       RankingType   `json:"type"`
	Entries    []PriceRecord `json:"entries"`
	ComputedAt time.Time     `json:"computedAt"`
}

// Stock is one entry of the static security universe.
type Stock struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ThemeGroup is a named set of member securities, loaded from static
// configuration and read-only at runtime.
type ThemeGroup struct {
	Name  string   `json:"name"`
	Codes []string `json:"codes"`
}

// ThemeRanking is the per-theme aggregate over the members that resolved a
// price in the current pass. Themes with no resolved members carry an average
// of zero rather than being dropped.
type ThemeRanking struct {
	Name          string        `json:"name"`
	AvgChangeRate float64       `json:"avgChangeRate"`
	Stocks        []PriceRecord `json:"stocks"`
}

// ThemeRankingSnapshot holds every theme aggregate of one pass, sorted by
// average change rate descending.
type ThemeRankingSnapshot struct {
	Themes     []ThemeRanking `json:"themes"`
	ComputedAt time.Time      `json:"computedAt"`
}

// IndexQuote is a single market indicator (index, ETF proxy or FX rate).
type IndexQuote struct {
	Price      float64 `json:"price"`
	Change     float64 `json:"change"`
	ChangeRate float64 `json:"changeRate"`
}

// IndicatorSnapshot maps display names to their latest indicator quote.
type IndicatorSnapshot struct {
	Indicators map[string]IndexQuote `json:"indicators"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// InvestorGroup identifies an investor class in the trend data.
type InvestorGroup string

const (
	InvestorForeign     InvestorGroup = "foreign"
	InvestorInstitution InvestorGroup = "institution"
	InvestorIndividual  InvestorGroup = "individual"
)

// InvestorTrendEntry is one row of the investor flow table. Values are kept as
// the upstream presents them; the upstream formats change rate and trade value
// as display strings.
type InvestorTrendEntry struct {
	Rank       string `json:"rank"`
	Name       string `json:"name"`
	Code       string `json:"code"`
	ChangeRate string `json:"changeRate"`
	TradeValue string `json:"tradeValue"`
}

// InvestorTrendSection is the list for one investor group plus the upstream
// "as of" label.
type InvestorTrendSection struct {
	List []InvestorTrendEntry `json:"list"`
	Time string               `json:"time"`
}

// InvestorTrendSnapshot holds the buy and sell side flows per investor group.
// The snapshot is overwritten wholesale on each accepted run.
type InvestorTrendSnapshot struct {
	Buy       map[InvestorGroup]InvestorTrendSection `json:"buy"`
	Sell      map[InvestorGroup]InvestorTrendSection `json:"sell"`
	UpdatedAt time.Time                              `json:"updatedAt"`
}

// Completeness returns the size of the largest section. The refresh job uses
// it to tell a genuinely small result from a failed collection: an implausibly
// short list means the upstream page broke, not that the market went quiet.
func (s *InvestorTrendSnapshot) Completeness() int {
	if s == nil {
		return 0
	}
	max := 0
	for _, side := range []map[InvestorGroup]InvestorTrendSection{s.Buy, s.Sell} {
		for _, sec := range side {
			if len(sec.List) > max {
				max = len(sec.List)
			}
		}
	}
	return max
}
