package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stocklive/config"
	"stocklive/internal/batch"
	"stocklive/internal/kis"
	"stocklive/internal/naver"
	"stocklive/internal/refresh"
	"stocklive/internal/server"
	"stocklive/internal/store"
	"stocklive/internal/trend"
	"stocklive/internal/universe"
	"stocklive/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Stocklive.Name,
		"version":     cfg.Stocklive.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting stocklive")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	st := store.New(cfg.Cache, log)
	defer st.Close()
	if cfg.Cache.Addr != "" {
		if err := st.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unreachable at startup, serving from local cache")
		}
	}

	uni, err := universe.Load(cfg.Universe)
	if err != nil {
		log.WithError(err).Error("failed to load security universe")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{
		"stocks": uni.Size(),
		"themes": len(uni.Themes()),
	}).Info("security universe loaded")

	var (
		kisClient *kis.Client
		loader    *batch.Loader
		tokens    refresh.TokenProvider
		prices    refresh.PriceLoader
	)
	if cfg.KIS.HasKISCredentials() {
		kisClient = kis.NewClient(cfg.KIS, st, uni.Name, log)
		loader = batch.NewLoader(kisClient.FetchPrice, cfg.Refresh.ChunkSize, cfg.Refresh.ChunkDelay, log)
		tokens = kisClient
		prices = loader
	} else {
		log.Warn("KIS credentials missing, quote lanes disabled")
	}

	naverClient := naver.NewClient(cfg.Naver, log)

	var trendSource trend.Source
	if cfg.Trend.Enabled {
		trendSource = trend.NewHTTPSource(cfg.Trend, log)
	}

	hub := server.NewHub(log)

	job, err := refresh.NewJob(cfg.Refresh, refresh.Options{
		Tokens:   tokens,
		Loader:   prices,
		Store:    st,
		Universe: uni,
		Naver:    naverClient,
		KIS:      kisClient,
		Trend:    trendSource,
		Notifier: hub,
		Log:      log,
	})
	if err != nil {
		log.WithError(err).Error("failed to build refresh job")
		os.Exit(1)
	}
	job.Start(ctx)

	apiServer := server.NewServer(cfg.Server, cfg.Refresh, st, uni, job, hub, log)

	var wg sync.WaitGroup
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Error("api server exited with error")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()
	wg.Wait()

	log.Info("shutdown complete")
}
