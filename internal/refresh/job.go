package refresh

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stocklive/config"
	"stocklive/internal/kis"
	"stocklive/internal/model"
	"stocklive/internal/naver"
	"stocklive/internal/rank"
	"stocklive/internal/store"
	"stocklive/internal/trend"
	"stocklive/internal/universe"
	"stocklive/logger"
)

// Lane names used in logs, metrics and notifications.
const (
	LaneRankings   = "rankings"
	LaneThemes     = "themes"
	LaneIndicators = "indicators"
	LaneTrend      = "investor_trend"
)

// TokenProvider issues bearer tokens for the quote upstream.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// PriceLoader fetches prices for a list of codes, dropping failures.
type PriceLoader interface {
	FetchMany(ctx context.Context, token string, codes []string) []model.PriceRecord
}

// Notifier is told whenever a lane commits a fresh snapshot. The websocket
// hub implements it; a nil notifier is allowed.
type Notifier interface {
	NotifySnapshot(lane string)
}

// Job orchestrates the refresh lanes. Lanes share the token provider but run
// on independent policies; each lane is guarded against overlapping runs and
// contains its failures so one degraded upstream never blocks the others.
type Job struct {
	cfg      config.RefreshConfig
	tokens   TokenProvider
	loader   PriceLoader
	store    *store.Store
	universe *universe.Universe
	naver    *naver.Client
	kis      *kis.Client
	trendSrc trend.Source
	notifier Notifier
	log      *logger.Log

	loc      *time.Location
	openMin  int
	closeMin int
	now      func() time.Time

	running map[string]*atomic.Bool
}

// Options carries the job's collaborators. KIS and TrendSource may be nil
// when the corresponding feature is not configured; the lanes that need them
// are skipped.
type Options struct {
	Tokens   TokenProvider
	Loader   PriceLoader
	Store    *store.Store
	Universe *universe.Universe
	Naver    *naver.Client
	KIS      *kis.Client
	Trend    trend.Source
	Notifier Notifier
	Log      *logger.Log
}

// NewJob builds the orchestrator. The configured timezone and market window
// must already have passed config validation.
func NewJob(cfg config.RefreshConfig, opts Options) (*Job, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	j := &Job{
		cfg:      cfg,
		tokens:   opts.Tokens,
		loader:   opts.Loader,
		store:    opts.Store,
		universe: opts.Universe,
		naver:    opts.Naver,
		kis:      opts.KIS,
		trendSrc: opts.Trend,
		notifier: opts.Notifier,
		log:      opts.Log,
		loc:      loc,
		now:      time.Now,
		running: map[string]*atomic.Bool{
			LaneRankings:   {},
			LaneThemes:     {},
			LaneIndicators: {},
			LaneTrend:      {},
		},
	}
	j.openMin = clockMinutes(cfg.MarketOpen)
	j.closeMin = clockMinutes(cfg.MarketClose)
	return j, nil
}

func clockMinutes(v string) int {
	parts := strings.SplitN(v, ":", 2)
	h, _ := strconv.Atoi(parts[0])
	m := 0
	if len(parts) == 2 {
		m, _ = strconv.Atoi(parts[1])
	}
	return h*60 + m
}

// InMarketWindow reports whether the local market is open at the given
// instant: a weekday inside the configured wall-clock window.
func (j *Job) InMarketWindow(at time.Time) bool {
	t := at.In(j.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	cur := t.Hour()*60 + t.Minute()
	return cur >= j.openMin && cur < j.closeMin
}

// tryAcquire marks a lane as running. A false return means a previous run of
// the same lane has not finished and this trigger must be dropped.
func (j *Job) tryAcquire(lane string) bool {
	return j.running[lane].CompareAndSwap(false, true)
}

func (j *Job) release(lane string) {
	j.running[lane].Store(false)
}

func (j *Job) notify(lane string) {
	if j.notifier != nil {
		j.notifier.NotifySnapshot(lane)
	}
}

// RefreshRankings runs the price/ranking lane: fetch the full universe,
// compute the four ranking views plus the all-stocks snapshot and commit them
// atomically per key. Outside the market window the lane is skipped without
// error unless forced.
func (j *Job) RefreshRankings(ctx context.Context, force bool) error {
	if !j.tryAcquire(LaneRankings) {
		j.log.WithComponent("refresh").Warn("rankings lane already running, trigger dropped")
		return nil
	}
	defer j.release(LaneRankings)

	log := j.laneLog(LaneRankings)
	if !force && !j.InMarketWindow(j.now()) {
		log.Debug("market closed, rankings lane skipped")
		logger.RecordLaneRun(LaneRankings, false)
		return nil
	}

	token, err := j.tokens.GetToken(ctx)
	if err != nil {
		logger.RecordLaneRun(LaneRankings, false)
		var authErr *kis.AuthError
		if errors.As(err, &authErr) {
			log.WithError(err).Error("credential issuance failed, rankings run aborted")
			return err
		}
		log.WithError(err).Error("token unavailable, rankings run aborted")
		return err
	}

	records := j.loader.FetchMany(ctx, token, j.universe.Codes())
	log.WithFields(logger.Fields{"universe": j.universe.Size(), "resolved": len(records)}).Info("universe fetch complete")

	now := j.now()
	j.store.Set(ctx, store.KeyAllStocks, records, store.TTLRankings)
	for _, snap := range rank.BuildRankings(records, j.cfg.TopN, now) {
		j.store.Set(ctx, store.RankingKey(snap.Type), snap, store.TTLRankings)
	}

	logger.RecordLaneRun(LaneRankings, true)
	j.notify(LaneRankings)
	return nil
}

// RefreshThemes runs the theme lane over the union of all theme member codes.
func (j *Job) RefreshThemes(ctx context.Context) error {
	if !j.tryAcquire(LaneThemes) {
		j.log.WithComponent("refresh").Warn("theme lane already running, trigger dropped")
		return nil
	}
	defer j.release(LaneThemes)

	log := j.laneLog(LaneThemes)
	themes := j.universe.Themes()
	if len(themes) == 0 {
		log.Debug("no themes configured, lane skipped")
		logger.RecordLaneRun(LaneThemes, false)
		return nil
	}

	token, err := j.tokens.GetToken(ctx)
	if err != nil {
		logger.RecordLaneRun(LaneThemes, false)
		log.WithError(err).Error("token unavailable, theme run aborted")
		return err
	}

	records := j.loader.FetchMany(ctx, token, j.universe.ThemeCodes())
	snap := rank.BuildThemeRankings(themes, records, j.now())
	j.store.Set(ctx, store.KeyThemeRankings, snap, store.TTLThemeRankings)

	log.WithFields(logger.Fields{"themes": len(snap.Themes), "resolved": len(records)}).Info("theme rankings committed")
	logger.RecordLaneRun(LaneThemes, true)
	j.notify(LaneThemes)
	return nil
}

// indicator lists the sources for one market indicator: the Naver polling
// code (index or ETF proxy item) and the KIS fallback.
type indicator struct {
	name      string
	naverIdx  string // SERVICE_INDEX code
	naverItem string // SERVICE_ITEM code (ETF proxy)
	kisIdx    string // domestic index code
	kisOvs    string // overseas index symbol
	kisFX     bool
}

var indicators = []indicator{
	{name: "KOSPI", naverIdx: "KOSPI", kisIdx: "0001"},
	{name: "KOSDAQ", naverIdx: "KOSDAQ", kisIdx: "1001"},
	{name: "NASDAQ", naverItem: "133690", kisOvs: "IXIC"},
	{name: "S&P500", naverItem: "360750", kisOvs: "GSPC"},
	{name: "USD/KRW", naverItem: "261240", kisFX: true},
}

// RefreshIndicators runs the market indicator lane. Naver polling is the
// primary source with the KIS endpoints as fallback; the snapshot is only
// committed when the KOSPI level is positive, because a zero KOSPI means the
// sources failed and the previous snapshot should survive.
func (j *Job) RefreshIndicators(ctx context.Context) error {
	if !j.tryAcquire(LaneIndicators) {
		j.log.WithComponent("refresh").Warn("indicator lane already running, trigger dropped")
		return nil
	}
	defer j.release(LaneIndicators)

	log := j.laneLog(LaneIndicators)

	var kisToken string
	if j.kis != nil {
		if tok, err := j.tokens.GetToken(ctx); err == nil {
			kisToken = tok
		}
	}

	out := make(map[string]model.IndexQuote, len(indicators))
	for _, ind := range indicators {
		if q := j.fetchIndicator(ctx, ind, kisToken); q != nil {
			out[ind.name] = *q
		} else {
			out[ind.name] = model.IndexQuote{}
		}
	}

	if out["KOSPI"].Price <= 0 {
		log.Warn("indicator sources unavailable, previous snapshot kept")
		logger.RecordLaneRun(LaneIndicators, false)
		return nil
	}

	snap := model.IndicatorSnapshot{Indicators: out, UpdatedAt: j.now()}
	j.store.Set(ctx, store.KeyIndicators, snap, store.TTLIndicators)

	log.WithFields(logger.Fields{"indicators": len(out)}).Info("indicator snapshot committed")
	logger.RecordLaneRun(LaneIndicators, true)
	j.notify(LaneIndicators)
	return nil
}

func (j *Job) fetchIndicator(ctx context.Context, ind indicator, kisToken string) *model.IndexQuote {
	if j.naver != nil {
		if ind.naverIdx != "" {
			if q := j.naver.FetchIndex(ctx, ind.naverIdx); q != nil {
				return q
			}
		}
		if ind.naverItem != "" {
			if q := j.naver.FetchItem(ctx, ind.naverItem); q != nil {
				return q
			}
		}
	}
	if j.kis == nil || kisToken == "" {
		return nil
	}
	switch {
	case ind.kisIdx != "":
		return j.kis.FetchDomesticIndex(ctx, kisToken, ind.kisIdx)
	case ind.kisOvs != "":
		return j.kis.FetchOverseasIndex(ctx, kisToken, ind.kisOvs)
	case ind.kisFX:
		return j.kis.FetchExchangeRate(ctx, kisToken)
	}
	return nil
}

// RefreshInvestorTrend runs the investor flow lane. A collection error or a
// result below the completeness threshold leaves the previously stored
// snapshot untouched: an implausibly small list is a transient collection
// failure, not a true empty state.
func (j *Job) RefreshInvestorTrend(ctx context.Context) error {
	if j.trendSrc == nil {
		return nil
	}
	if !j.tryAcquire(LaneTrend) {
		j.log.WithComponent("refresh").Warn("investor trend lane already running, trigger dropped")
		return nil
	}
	defer j.release(LaneTrend)

	log := j.laneLog(LaneTrend)

	snap, err := j.trendSrc.Collect(ctx)
	if err != nil {
		log.WithError(err).Warn("trend collection failed, previous snapshot kept")
		logger.RecordLaneRun(LaneTrend, false)
		return err
	}

	if got := snap.Completeness(); got < j.cfg.TrendMinEntries {
		log.WithFields(logger.Fields{
			"entries":   got,
			"threshold": j.cfg.TrendMinEntries,
		}).Warn("trend result below completeness threshold, previous snapshot kept")
		logger.RecordLaneRun(LaneTrend, false)
		return nil
	}

	j.store.Set(ctx, store.KeyInvestorTrend, snap, store.TTLInvestorTrend)

	log.WithFields(logger.Fields{"entries": snap.Completeness()}).Info("investor trend snapshot committed")
	logger.RecordLaneRun(LaneTrend, true)
	j.notify(LaneTrend)
	return nil
}

// RunAll triggers every lane once, sequentially. It backs the manual refresh
// endpoint; the per-lane guards make it safe to call while scheduled runs are
// in flight.
func (j *Job) RunAll(ctx context.Context, force bool) {
	if j.tokens != nil {
		_ = j.RefreshRankings(ctx, force)
		_ = j.RefreshThemes(ctx)
	}
	_ = j.RefreshIndicators(ctx)
	_ = j.RefreshInvestorTrend(ctx)
}

// Start launches one ticker goroutine per lane. Each lane fires immediately
// and then on its configured interval until the context is cancelled.
func (j *Job) Start(ctx context.Context) {
	if j.tokens != nil {
		go j.runLane(ctx, LaneRankings, j.cfg.RankingsInterval, func() { _ = j.RefreshRankings(ctx, false) })
		go j.runLane(ctx, LaneThemes, j.cfg.ThemeInterval, func() { _ = j.RefreshThemes(ctx) })
	}
	go j.runLane(ctx, LaneIndicators, j.cfg.IndicatorsInterval, func() { _ = j.RefreshIndicators(ctx) })
	if j.trendSrc != nil {
		go j.runLane(ctx, LaneTrend, j.cfg.TrendInterval, func() { _ = j.RefreshInvestorTrend(ctx) })
	}
}

func (j *Job) runLane(ctx context.Context, lane string, interval time.Duration, run func()) {
	if interval <= 0 {
		j.log.WithComponent("refresh").WithFields(logger.Fields{"lane": lane}).Warn("lane has no interval, scheduled runs disabled")
		return
	}
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func (j *Job) laneLog(lane string) *logger.Entry {
	return j.log.WithComponent("refresh").WithFields(logger.Fields{
		"lane": lane,
		"run":  uuid.NewString(),
	})
}
