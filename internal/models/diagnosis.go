package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity степень износа цепи/трансмиссии
type Severity string

const (
	SeverityNormal  Severity = "NORMAL"
	SeverityLight   Severity = "LIGHT"
	SeveritySevere  Severity = "SEVERE"
	SeverityUnknown Severity = "UNKNOWN"
)

// Rank возвращает порядок тяжести; UNKNOWN меньше всех
func (s Severity) Rank() int {
	switch s {
	case SeverityNormal:
		return 0
	case SeverityLight:
		return 1
	case SeveritySevere:
		return 2
	default:
		return -1
	}
}

// Valid сообщает, входит ли значение в закрытое перечисление степеней
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// ParseSeverity разбирает метку степени, включая исходные метки
// обучающих наборов (normal, rusak_ringan, rusak_berat)
func ParseSeverity(label string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "normal", "sehat", "healthy":
		return SeverityNormal, nil
	case "light", "ringan", "rusak_ringan", "early_wear":
		return SeverityLight, nil
	case "severe", "berat", "rusak_berat", "severe_wear":
		return SeveritySevere, nil
	}
	return SeverityUnknown, fmt.Errorf("unknown severity label %q", label)
}

// Статусы обработки пакета
const (
	StatusSuccess     = "SUCCESS"
	StatusWaiting     = "WAITING"
	StatusUnavailable = "UNAVAILABLE"
	StatusStopped     = "STOPPED"
	StatusFinalized   = "FINALIZED"
)

// FeatureSummary диагностические признаки окна для живого статуса
type FeatureSummary struct {
	RMSX               float64 `json:"rms_x"`
	RMSY               float64 `json:"rms_y"`
	RMSZ               float64 `json:"rms_z"`
	Reduced1           float64 `json:"reduced_1"`
	Reduced2           float64 `json:"reduced_2"`
	DistanceFromNormal float64 `json:"distance_from_normal"`
}

// LiveStatus результат обработки одного окна
type LiveStatus struct {
	SessionID     string         `json:"session_id"`
	Status        string         `json:"status"`
	Window        int64          `json:"window"`
	Timestamp     int64          `json:"timestamp"`
	Severity      Severity       `json:"severity"`
	Confidence    float64        `json:"confidence"`
	PointEstimate string         `json:"point_estimate,omitempty"`
	DamageScore   float64        `json:"damage_score"`
	EMAScore      float64        `json:"ema_score"`
	Stationary    bool           `json:"stationary,omitempty"`
	Features      FeatureSummary `json:"features"`
	Explanation   string         `json:"explanation,omitempty"`
	Tips          string         `json:"tips,omitempty"`
}

// HistoryEntry точка истории сглаженной оценки повреждения
type HistoryEntry struct {
	Timestamp      int64    `json:"timestamp"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	ScorePercent   float64  `json:"score_percent"`
	Label          Severity `json:"label"`
}

// Alert предупреждение о превышении порога сглаженной оценки
type Alert struct {
	SessionID      string    `json:"session_id"`
	EMAScore       float64   `json:"ema_score"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	RaisedAt       time.Time `json:"raised_at"`
}

// Summary итоговый отчет завершенной сессии
type Summary struct {
	SessionID     string           `json:"session_id"`
	Label         string           `json:"label,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	DurationLimit time.Duration    `json:"duration_limit"`
	Stopped       bool             `json:"stopped"`
	Windows       int              `json:"windows"`
	MeanDamage    float64          `json:"mean_damage_percent"`
	PeakDamage    float64          `json:"peak_damage_percent"`
	Majority      Severity         `json:"majority"`
	MajorityShare float64          `json:"majority_share_percent"`
	Counts        map[Severity]int `json:"counts"`
	WarningSent   bool             `json:"warning_sent"`
	Advice        string           `json:"advice"`
	History       []HistoryEntry   `json:"history"`
}

// ActualDuration возвращает фактическую длительность сессии
func (s Summary) ActualDuration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// SignalCheck результат проверки "живости" датчика
type SignalCheck struct {
	SessionID string  `json:"session_id"`
	Samples   int     `json:"samples"`
	StdDev    float64 `json:"std_dev"`
	Active    bool    `json:"active"`
	Message   string  `json:"message"`
}
