package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vibration-monitor/internal/cache"
	"vibration-monitor/internal/config"
	"vibration-monitor/internal/handlers"
	"vibration-monitor/internal/metrics"
	"vibration-monitor/internal/model"
	"vibration-monitor/internal/notify"
	"vibration-monitor/internal/pipeline"
	"vibration-monitor/internal/session"
	"vibration-monitor/internal/storage"
	"vibration-monitor/internal/stream"
)

func serveCmd(configFile *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ServerAddr = addr
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides SERVER_ADDR")
	return cmd
}

func serve(cfg config.Config) error {
	logger := newLogger(cfg)
	log := logrus.NewEntry(logger)
	logStartup(log)

	scorer := model.NewScorer(loadModel(context.Background(), cfg, log), cfg.Classifier.Weights)

	// Инициализируем Redis кэш
	var redisCache *cache.RedisCache
	if cfg.RedisAddr != "" {
		redisCache = connectRedis(cfg, log)
	}

	var sinks []pipeline.Sink
	recorder, err := storage.NewFileRecorder(cfg.RecordingDir, cfg.Classifier.AlertThreshold)
	if err != nil {
		return err
	}
	sinks = append(sinks, recorder, notify.NewLogNotifier(log))

	var pgStore *storage.PostgresStore
	if cfg.DatabaseDSN != "" {
		db, err := storage.NewPostgresDB(cfg.DatabaseDSN)
		if err != nil {
			log.WithError(err).Warn("PostgreSQL unavailable, reports are kept in files only")
		} else {
			defer db.Close()
			pgStore = storage.NewPostgresStore(db)
			sinks = append(sinks, pgStore)
			log.Info("Connected to PostgreSQL")
		}
	}
	if redisCache != nil {
		sinks = append(sinks, redisCache)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.WebhookURL, 5*time.Second))
	}
	hub := stream.NewHub(log)
	sinks = append(sinks, hub)

	dispatcher := pipeline.NewDispatcher(cfg.EventBuffer, log, sinks...)
	dispatcher.Start(cfg.WorkerCount)
	log.WithField("workers", cfg.WorkerCount).Info("Event dispatcher started")

	store := session.NewStore(cfg.Classifier)
	store.SetRecorded(recordedCheck(recorder, pgStore, log))

	pipe, err := pipeline.New(cfg.Classifier, scorer, store, dispatcher, log)
	if err != nil {
		return err
	}

	handler := handlers.NewHandler(pipe, redisCache, pgStore, hub, log)

	// Настраиваем маршруты
	router := mux.NewRouter()
	router.Use(handlers.Recovery(log), handlers.Logging(log), handlers.Metrics)
	handler.Router(router)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reapLoop(ctx, pipe, cfg.ReapInterval)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ServerAddr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		log.WithError(err).Error("Server error")
		cancel()
		dispatcher.Stop()
		return err
	}
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
	}
	cancel()

	// завершаем оставшиеся сессии, чтобы отчеты попали в хранилища
	for _, sess := range pipe.Sessions.Active() {
		if _, err := pipe.Finalize(sess.ID); err != nil {
			log.WithField("session", sess.ID).WithError(err).Warn("finalize on shutdown failed")
		}
	}
	dispatcher.Stop()

	if redisCache != nil {
		redisCache.Close()
	}
	log.Info("Server stopped")
	return nil
}

// connectRedis подключается к Redis с повторами; nil, если не удалось
func connectRedis(cfg config.Config, log *logrus.Entry) *cache.RedisCache {
	var err error
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var c *cache.RedisCache
		c, err = cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err == nil {
			log.WithField("addr", cfg.RedisAddr).Info("Connected to Redis")
			return c
		}
		log.WithError(err).Warnf("Redis connection attempt %d failed", i+1)
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	log.WithError(err).Warn("Failed to connect to Redis, running without cache")
	return nil
}

// recordedCheck ищет сессию среди записанных ранее: в каталоге записей
// и в PostgreSQL
func recordedCheck(recorder *storage.FileRecorder, pg *storage.PostgresStore, log *logrus.Entry) func(string) bool {
	return func(id string) bool {
		if recorder.Recorded(id) {
			return true
		}
		if pg == nil {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		found, err := pg.Recorded(ctx, id)
		if err != nil {
			log.WithField("session", id).WithError(err).Warn("recorded session check failed")
		}
		return found
	}
}

// reapLoop завершает сессии, у которых истекла длительность, даже если
// данные больше не приходят, и обновляет системные метрики
func reapLoop(ctx context.Context, pipe *pipeline.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pipe.FinalizeDue()
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
