package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stocklive/config"
	"stocklive/internal/model"
	"stocklive/internal/rank"
	"stocklive/internal/store"
	"stocklive/internal/universe"
	"stocklive/logger"
)

const maxPriceCodes = 100

// Refresher triggers a full refresh pass; the manual refresh endpoint uses it.
type Refresher interface {
	RunAll(ctx context.Context, force bool)
}

// Server hosts the read API over the cached snapshots plus the websocket
// push channel. It never talks to the upstreams itself; everything it serves
// comes out of the store.
type Server struct {
	cfg        config.ServerConfig
	log        *logger.Log
	store      *store.Store
	universe   *universe.Universe
	refresher  Refresher
	hub        *Hub
	sampler    *resourceSampler
	topN       int
	httpServer *http.Server
}

// NewServer constructs the API server when the feature is enabled. When
// disabled the returned server is nil and safe to Run.
func NewServer(cfg config.ServerConfig, refreshCfg config.RefreshConfig, st *store.Store, uni *universe.Universe, refresher Refresher, hub *Hub, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	return &Server{
		cfg:       cfg,
		log:       log,
		store:     st,
		universe:  uni,
		refresher: refresher,
		hub:       hub,
		sampler:   newResourceSampler(cfg.ResourceHistory, 5*time.Second, "/", log),
		topN:      refreshCfg.TopN,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router := s.buildRouter()

	if s.hub != nil {
		go s.hub.Run(ctx)
	}
	s.sampler.start(ctx)
	defer s.sampler.stop()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("server").WithFields(logger.Fields{"address": s.cfg.Address}).Info("api server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.getHealth)

	api := router.Group("/api")
	api.GET("/ranking/:type", s.getRanking)
	api.GET("/themes/top-performing", s.getThemeRankings)
	api.GET("/themes/:name/stocks", s.getThemeStocks)
	api.GET("/stocks/prices", s.getPrices)
	api.GET("/market/indicators", s.getIndicators)
	api.GET("/investor-trend", s.getInvestorTrend)
	api.POST("/refresh", s.postRefresh)
	api.GET("/debug/resources", s.getResources)

	if s.hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			s.hub.handleConnection(c.Writer, c.Request)
		})
	}

	return router
}

func (s *Server) getHealth(c *gin.Context) {
	status := "ok"
	cache := "ok"
	if err := s.store.Ping(c.Request.Context()); err != nil {
		cache = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"cache":    cache,
		"universe": s.universe.Size(),
	})
}

// getRanking serves one of the four ranking views. On a snapshot miss it
// rebuilds the view from the all-stocks snapshot rather than returning empty,
// so a ranking expiring a moment before its lane recomputes is invisible to
// callers.
func (s *Server) getRanking(c *gin.Context) {
	rt := model.RankingType(c.Param("type"))
	if !rt.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown ranking type"})
		return
	}

	ctx := c.Request.Context()
	var snap model.RankingSnapshot
	if s.store.Get(ctx, store.RankingKey(rt), &snap) {
		c.JSON(http.StatusOK, snap)
		return
	}

	var records []model.PriceRecord
	if !s.store.Get(ctx, store.KeyAllStocks, &records) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rankings not available yet"})
		return
	}
	for _, rebuilt := range rank.BuildRankings(records, s.topN, time.Now()) {
		if rebuilt.Type == rt {
			c.JSON(http.StatusOK, rebuilt)
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rankings not available yet"})
}

func (s *Server) getThemeRankings(c *gin.Context) {
	var snap model.ThemeRankingSnapshot
	if !s.store.Get(c.Request.Context(), store.KeyThemeRankings, &snap) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "theme rankings not available yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getThemeStocks(c *gin.Context) {
	name := c.Param("name")

	var snap model.ThemeRankingSnapshot
	if !s.store.Get(c.Request.Context(), store.KeyThemeRankings, &snap) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "theme rankings not available yet"})
		return
	}
	for _, theme := range snap.Themes {
		if theme.Name == name {
			c.JSON(http.StatusOK, theme)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown theme"})
}

func (s *Server) getPrices(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("codes"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "codes query parameter is required"})
		return
	}
	codes := strings.Split(raw, ",")
	if len(codes) > maxPriceCodes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many codes"})
		return
	}

	ctx := c.Request.Context()
	out := make([]model.PriceRecord, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		var rec model.PriceRecord
		if s.store.Get(ctx, store.PriceKey(code), &rec) {
			out = append(out, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{"prices": out})
}

func (s *Server) getIndicators(c *gin.Context) {
	var snap model.IndicatorSnapshot
	if !s.store.Get(c.Request.Context(), store.KeyIndicators, &snap) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "indicators not available yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getInvestorTrend(c *gin.Context) {
	var snap model.InvestorTrendSnapshot
	if !s.store.Get(c.Request.Context(), store.KeyInvestorTrend, &snap) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "investor trend not available yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// postRefresh kicks off a refresh pass in the background. The per-lane guards
// inside the refresher drop the trigger for any lane already running.
func (s *Server) postRefresh(c *gin.Context) {
	if s.refresher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "refresh is not wired"})
		return
	}
	force := c.Query("force") == "true"
	go s.refresher.RunAll(context.Background(), force)
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh started", "force": force})
}

func (s *Server) getResources(c *gin.Context) {
	snapshots := s.sampler.snapshot()
	payload := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		payload = append(payload, gin.H{
			"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
			"cpu_percent":    snap.CPUPercent,
			"memory_used":    snap.MemoryUsed,
			"memory_total":   snap.MemoryTotal,
			"memory_percent": snap.MemoryPct,
			"disk_used":      snap.DiskUsed,
			"disk_total":     snap.DiskTotal,
			"disk_percent":   snap.DiskPct,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": payload})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:4000"
	}
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "4000")
	}
	return addr
}
