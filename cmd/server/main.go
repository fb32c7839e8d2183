// Package main запускает сервис мониторинга вибрации цепи/трансмиссии.
// Сервис реализует:
// - HTTP API для приема пакетов отсчетов акселерометра
// - Скользящие окна, спектральные признаки и оценку износа моделью
// - Сглаживание оценки и предупреждение о превышении порога
// - Кэширование в Redis, запись отчетов в файлы и PostgreSQL
// - Экспорт метрик в Prometheus
package main

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/metrics"
	"vibration-monitor/internal/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "vibration-monitor",
		Short: "Chain and drivetrain wear monitoring from accelerometer data",
		Long: `Receives triaxial accelerometer batches, classifies drivetrain wear per window
and produces a smoothed damage score, alerts and a per-session report.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file, overlaid on environment variables")
	cmd.AddCommand(serveCmd(&configFile), replayCmd(&configFile))
	return cmd
}

// loadConfig загружает конфигурацию из окружения и, если задан, из файла
func loadConfig(configFile string) (config.Config, error) {
	if configFile != "" {
		os.Setenv("CONFIG_FILE", configFile)
	}
	return config.Load()
}

// newLogger настраивает logrus по уровню и формату из конфигурации
func newLogger(cfg config.Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.LogFormat, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// loadModel загружает артефакт. Ошибка не фатальна: без модели окна
// получают статус UNAVAILABLE.
func loadModel(ctx context.Context, cfg config.Config, log *logrus.Entry) model.Model {
	var fetcher *model.S3Fetcher
	if strings.HasPrefix(cfg.ModelURI, "s3://") {
		f, err := model.NewS3Fetcher(cfg.AWSRegion)
		if err != nil {
			log.WithError(err).Warn("S3 client init failed")
		} else {
			fetcher = f
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	artifact, err := model.Load(ctx, cfg.ModelURI, cfg.Classifier.FeatureLen(), fetcher)
	if err != nil {
		log.WithError(err).WithField("uri", cfg.ModelURI).Warn("model not loaded, running without classifier")
		metrics.ModelLoaded.Set(0)
		return nil
	}
	metrics.ModelLoaded.Set(1)
	log.WithFields(logrus.Fields{
		"uri":      cfg.ModelURI,
		"features": artifact.InputLen(),
	}).Info("model loaded")
	return artifact
}

func logStartup(log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"go":      runtime.Version(),
		"num_cpu": runtime.NumCPU(),
	}).Info("Starting vibration-monitor")
}
