// Package config загружает конфигурацию сервиса из переменных окружения
// и необязательного YAML-файла
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"vibration-monitor/internal/models"
)

// Policy стратегия определения степени износа
type Policy string

const (
	// PolicyProbability степень по порогам взвешенной вероятности повреждения
	PolicyProbability Policy = "probability"
	// PolicyDistance степень по расстоянию в пространстве главных компонент
	PolicyDistance Policy = "distance"
)

// SeverityWeights веса классов при расчете оценки повреждения
type SeverityWeights struct {
	Normal float64 `yaml:"normal" validate:"gte=0,lte=1"`
	Light  float64 `yaml:"light" validate:"gte=0,lte=1"`
	Severe float64 `yaml:"severe" validate:"gte=0,lte=1"`
}

// For возвращает вес степени; UNKNOWN не вносит вклада
func (w SeverityWeights) For(s models.Severity) float64 {
	switch s {
	case models.SeverityNormal:
		return w.Normal
	case models.SeverityLight:
		return w.Light
	case models.SeveritySevere:
		return w.Severe
	}
	return 0
}

// ClassifierConfig объединяет все пороги и размеры конвейера диагностики
type ClassifierConfig struct {
	WindowSize       int     `yaml:"window_size" validate:"required,gt=0"`
	Stride           int     `yaml:"stride" validate:"required,gt=0,ltefield=WindowSize"`
	StartBin         int     `yaml:"start_bin" validate:"gte=0"`
	MaxBufferSamples int     `yaml:"max_buffer_samples" validate:"required,gtefield=WindowSize"`
	SampleRate       float64 `yaml:"sample_rate" validate:"gt=0"`
	ClipG            float64 `yaml:"clip_g" validate:"gt=0"`
	HighPass         bool    `yaml:"high_pass"`
	HighPassCutoff   float64 `yaml:"high_pass_cutoff" validate:"gt=0"`

	Policy         Policy  `yaml:"policy" validate:"oneof=probability distance"`
	StationaryRMS  float64 `yaml:"stationary_rms" validate:"gte=0"`
	LightDistance  float64 `yaml:"light_distance" validate:"gt=0"`
	SevereDistance float64 `yaml:"severe_distance" validate:"gtfield=LightDistance"`
	LightDamage    float64 `yaml:"light_damage" validate:"gte=0,lte=1"`
	SevereDamage   float64 `yaml:"severe_damage" validate:"gtefield=LightDamage,lte=1"`

	Weights        SeverityWeights `yaml:"weights"`
	EMAAlpha       float64         `yaml:"ema_alpha" validate:"gt=0,lte=1"`
	AlertThreshold float64         `yaml:"alert_threshold" validate:"gt=0,lte=1"`

	SignalWindow  int     `yaml:"signal_window" validate:"gt=1"`
	FlatStdDev    float64 `yaml:"flat_std_dev" validate:"gte=0"`
	RecentHistory int     `yaml:"recent_history" validate:"gte=0"`
}

// DefaultClassifierConfig возвращает значения по умолчанию
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		WindowSize:       256,
		Stride:           128,
		StartBin:         2,
		MaxBufferSamples: 256 * 16,
		SampleRate:       1600,
		ClipG:            5.0,
		HighPass:         false,
		HighPassCutoff:   1.0,

		Policy:         PolicyDistance,
		StationaryRMS:  0.15,
		LightDistance:  0.12,
		SevereDistance: 0.25,
		LightDamage:    0.30,
		SevereDamage:   0.65,

		Weights:        SeverityWeights{Normal: 0, Light: 0.5, Severe: 1.0},
		EMAAlpha:       0.15,
		AlertThreshold: 0.75,

		SignalWindow:  256,
		FlatStdDev:    0.05,
		RecentHistory: 10,
	}
}

// FeatureLen возвращает длину вектора признаков: 3 + 3*(W/2 - START_BIN)
func (c ClassifierConfig) FeatureLen() int {
	return 3 + 3*(c.WindowSize/2-c.StartBin)
}

var validate = validator.New()

// Validate проверяет пороги и размеры окна
func (c ClassifierConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if c.StartBin >= c.WindowSize/2 {
		return fmt.Errorf("%w: start_bin %d leaves no spectrum for window %d",
			models.ErrInvalidConfig, c.StartBin, c.WindowSize)
	}
	if c.HighPass && c.HighPassCutoff >= c.SampleRate/2 {
		return fmt.Errorf("%w: high_pass_cutoff %.2f must be below Nyquist %.2f",
			models.ErrInvalidConfig, c.HighPassCutoff, c.SampleRate/2)
	}
	return nil
}

// Config содержит конфигурацию сервиса
type Config struct {
	ServerAddr    string        `yaml:"server_addr"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	DatabaseDSN   string        `yaml:"database_dsn"`
	ModelURI      string        `yaml:"model_uri"`
	AWSRegion     string        `yaml:"aws_region"`
	RecordingDir  string        `yaml:"recording_dir"`
	WebhookURL    string        `yaml:"webhook_url"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	WorkerCount   int           `yaml:"worker_count"`
	EventBuffer   int           `yaml:"event_buffer"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`

	Classifier ClassifierConfig `yaml:"classifier"`
}

// Load загружает конфигурацию из переменных окружения. Если задан
// CONFIG_FILE, значения из файла накладываются поверх.
func Load() (Config, error) {
	cfg := Config{
		ServerAddr:    getEnv("SERVER_ADDR", ":8080"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		DatabaseDSN:   getEnv("DATABASE_DSN", ""),
		ModelURI:      getEnv("MODEL_URI", "model.yaml"),
		AWSRegion:     getEnv("AWS_REGION", "eu-west-1"),
		RecordingDir:  getEnv("RECORDING_DIR", "recordings_field"),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		WorkerCount:   getEnvInt("WORKER_COUNT", runtime.NumCPU()),
		EventBuffer:   getEnvInt("EVENT_BUFFER", 10000),
		ReapInterval:  getEnvDuration("REAP_INTERVAL", 5*time.Second),
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		Classifier:    DefaultClassifierConfig(),
	}

	if p := os.Getenv("POLICY"); p != "" {
		cfg.Classifier.Policy = Policy(p)
	}
	cfg.Classifier.HighPass = getEnvBool("HIGH_PASS", cfg.Classifier.HighPass)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile накладывает значения из YAML-файла на текущую конфигурацию
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", models.ErrInvalidConfig, path, err)
	}
	return nil
}

// Validate проверяет конфигурацию сервиса
func (c Config) Validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker_count must be positive", models.ErrInvalidConfig)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("%w: event_buffer must be positive", models.ErrInvalidConfig)
	}
	return c.Classifier.Validate()
}

// getEnv получает переменную окружения со значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
