// Package severity переводит результат оценки окна в дискретную степень
// износа с уверенностью
package severity

import (
	"math"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/model"
	"vibration-monitor/internal/models"
)

// Verdict итоговая степень окна
type Verdict struct {
	Severity   models.Severity `json:"severity"`
	Confidence float64         `json:"confidence"`
	Stationary bool            `json:"stationary,omitempty"`
}

// Policy определяет степень износа по признакам и оценке окна.
// Реализации не хранят состояние между вызовами.
type Policy interface {
	Classify(f models.FeatureVector, r model.ScoreResult) Verdict
}

// Rule правило выбора степени для нестационарного окна
type Rule interface {
	Decide(r model.ScoreResult) Verdict
}

// Classifier применяет проверку стационарности и затем правило
type Classifier struct {
	StationaryRMS float64
	Rule          Rule
}

// New создает классификатор с правилом, выбранным в конфигурации
func New(cfg config.ClassifierConfig) *Classifier {
	var rule Rule
	switch cfg.Policy {
	case config.PolicyProbability:
		rule = ProbabilityRule{LightDamage: cfg.LightDamage, SevereDamage: cfg.SevereDamage}
	default:
		rule = DistanceRule{Light: cfg.LightDistance, Severe: cfg.SevereDistance}
	}
	return &Classifier{StationaryRMS: cfg.StationaryRMS, Rule: rule}
}

// Classify реализует Policy. Без модели степень всегда UNKNOWN.
func (c *Classifier) Classify(f models.FeatureVector, r model.ScoreResult) Verdict {
	if r.Status != model.StatusOK {
		return Verdict{Severity: models.SeverityUnknown}
	}
	if c.StationaryRMS > 0 && f.TotalRMS < c.StationaryRMS {
		return Verdict{
			Severity:   models.SeverityNormal,
			Confidence: math.Max(0.85, 1-f.TotalRMS/c.StationaryRMS*0.15),
			Stationary: true,
		}
	}
	return c.Rule.Decide(r)
}

// ProbabilityRule пороги по взвешенной оценке повреждения
type ProbabilityRule struct {
	LightDamage  float64
	SevereDamage float64
}

// Decide выбирает степень по Damage; уверенность равна суммарной
// вероятности классов выбранной степени
func (p ProbabilityRule) Decide(r model.ScoreResult) Verdict {
	sev := models.SeveritySevere
	switch {
	case r.Damage < p.LightDamage:
		sev = models.SeverityNormal
	case r.Damage <= p.SevereDamage:
		sev = models.SeverityLight
	}
	return Verdict{Severity: sev, Confidence: clamp01(r.Mass(sev))}
}

// DistanceRule пороги по расстоянию от центра нормального класса в
// пространстве главных компонент. Детектор выбросов подтверждает или
// отклоняет переход между степенями.
type DistanceRule struct {
	Light  float64
	Severe float64
}

// Decide реализует Rule
func (d DistanceRule) Decide(r model.ScoreResult) Verdict {
	dist := r.Distance
	anomalous := r.Decision < 0

	switch {
	case dist <= d.Light:
		if anomalous {
			return Verdict{Severity: models.SeverityLight, Confidence: 0.6}
		}
		return Verdict{Severity: models.SeverityNormal, Confidence: d.normalConfidence(r)}
	case dist <= d.Severe:
		if anomalous {
			return Verdict{Severity: models.SeverityLight, Confidence: d.lightConfidence(dist)}
		}
		return Verdict{Severity: models.SeverityNormal, Confidence: d.normalConfidence(r)}
	default:
		if anomalous {
			return Verdict{Severity: models.SeveritySevere, Confidence: d.severeConfidence(dist)}
		}
		return Verdict{Severity: models.SeverityLight, Confidence: d.lightConfidence(dist)}
	}
}

func (d DistanceRule) severeConfidence(dist float64) float64 {
	return math.Min(0.95, 0.6+0.5*math.Min(1, dist/(2*d.Severe)))
}

func (d DistanceRule) lightConfidence(dist float64) float64 {
	band := (dist - d.Light) / (d.Severe - d.Light)
	return math.Min(0.85, 0.5+0.4*math.Min(1, math.Max(0, band)))
}

func (d DistanceRule) normalConfidence(r model.ScoreResult) float64 {
	byDistance := math.Max(0.7, 1-math.Min(1, r.Distance/d.Severe))
	byDecision := math.Max(0.7, 1-math.Abs(r.Decision))
	return math.Min(0.99, math.Max(byDistance, byDecision))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
