package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/citycast/weatherdesk/internal/cache"
	"github.com/citycast/weatherdesk/internal/client"
	"github.com/citycast/weatherdesk/internal/config"
	httphandler "github.com/citycast/weatherdesk/internal/http"
	"github.com/citycast/weatherdesk/internal/models"
	"github.com/citycast/weatherdesk/internal/observability"
	"github.com/citycast/weatherdesk/internal/session"
	"github.com/citycast/weatherdesk/internal/suggest"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(client.Config{
		APIKey:         cfg.WeatherAPIKey,
		WeatherURL:     cfg.WeatherAPIURL,
		ForecastURL:    cfg.ForecastAPIURL,
		GeocodingURL:   cfg.GeocodingAPIURL,
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	var store cache.Store
	var memcacheCloser *cache.MemcachedStore
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached store", zap.Error(err))
		}
		memcacheCloser = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryStore()
		logger.Info("cache backend: in_memory")
	}
	weatherCache := cache.New(store, cfg.CacheMaxStaleAge)

	controller := session.NewController(weatherClient, weatherCache, logger, session.Config{
		DefaultCity:     cfg.DefaultCity,
		DefaultUnits:    models.UnitSystem(cfg.DefaultUnits),
		MaxForecastDays: cfg.ForecastDays,
		FetchTimeout:    cfg.FetchTimeout,
		ScrollThrottle:  cfg.ScrollThrottle,
	})

	resolver := suggest.NewResolver(weatherClient, logger, suggest.Options{
		Limit:         cfg.SuggestionLimit,
		MinQueryRunes: cfg.SuggestionMinRunes,
		DebounceDelay: cfg.SuggestionDebounce,
		FetchTimeout:  cfg.WeatherAPITimeout,
	})

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.FetchTimeout)
	controller.Start(startCtx)
	startCancel()

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	var cachePing func() error
	if memcacheCloser != nil {
		cachePing = memcacheCloser.Ping
	}
	handler := httphandler.NewHandler(controller, resolver, logger, cachePing)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(httphandler.RateLimitMiddleware(limiter))
	apiRouter.HandleFunc("/state", handler.GetState).Methods("GET")
	apiRouter.HandleFunc("/city", handler.PostCity).Methods("POST")
	apiRouter.HandleFunc("/units", handler.PostUnits).Methods("POST")
	apiRouter.HandleFunc("/refresh", handler.PostRefresh).Methods("POST")
	apiRouter.HandleFunc("/connectivity", handler.PostConnectivity).Methods("POST")
	apiRouter.HandleFunc("/scroll", handler.PostScroll).Methods("POST")
	apiRouter.HandleFunc("/search/query", handler.PostSearchQuery).Methods("POST")
	apiRouter.HandleFunc("/search", handler.GetSearch).Methods("GET")
	apiRouter.HandleFunc("/search/select", handler.PostSearchSelect).Methods("POST")
	apiRouter.HandleFunc("/search/submit", handler.PostSearchSubmit).Methods("POST")
	apiRouter.HandleFunc("/search/dismiss", handler.PostSearchDismiss).Methods("POST")
	apiRouter.Handle("/suggestions",
		httphandler.TimeoutMiddleware(cfg.WeatherAPITimeout)(http.HandlerFunc(handler.GetSuggestions))).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	resolver.Close()
	controller.Close()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
