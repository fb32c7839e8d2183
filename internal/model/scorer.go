package model

import (
	"fmt"
	"math"
	"sync/atomic"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/models"
)

// Model операции обученного артефакта. Порядок применения фиксирован:
// Standardize → Reduce → Predict/Decision.
type Model interface {
	Standardize(v []float64) ([]float64, error)
	Reduce(v []float64) ([]float64, error)
	Predict(z []float64) (Prediction, error)
	Decision(z []float64) (float64, error)
}

// Status признак результата оценки
type Status string

const (
	StatusOK          Status = "OK"
	StatusUnavailable Status = "UNAVAILABLE"
)

// ScoreResult результат оценки окна. При StatusUnavailable все числовые
// поля нулевые, а метка UNKNOWN.
type ScoreResult struct {
	Status        Status             `json:"status"`
	Label         string             `json:"label"`
	Severity      models.Severity    `json:"severity"`
	Probabilities []ClassProbability `json:"probabilities,omitempty"`
	Damage        float64            `json:"damage"`
	Reduced       []float64          `json:"reduced,omitempty"`
	Distance      float64            `json:"distance"`
	Decision      float64            `json:"decision"`
}

// Err возвращает ErrModelUnavailable для сторожевого результата
func (r ScoreResult) Err() error {
	if r.Status == StatusUnavailable {
		return models.ErrModelUnavailable
	}
	return nil
}

// Mass возвращает суммарную вероятность классов степени s
func (r ScoreResult) Mass(s models.Severity) float64 {
	sum := 0.0
	for _, p := range r.Probabilities {
		if p.Severity == s {
			sum += p.Probability
		}
	}
	return sum
}

// Unavailable сторожевой результат при отсутствии модели
func Unavailable() ScoreResult {
	return ScoreResult{
		Status:   StatusUnavailable,
		Label:    string(models.SeverityUnknown),
		Severity: models.SeverityUnknown,
	}
}

// Scorer применяет артефакт к векторам признаков. Артефакт общий для
// всех сессий и может быть заменен атомарно.
type Scorer struct {
	model   atomic.Pointer[modelHolder]
	weights config.SeverityWeights
}

type modelHolder struct {
	m Model
}

// NewScorer создает оценщик; m может быть nil, тогда Score возвращает
// сторожевой результат
func NewScorer(m Model, weights config.SeverityWeights) *Scorer {
	s := &Scorer{weights: weights}
	s.SetModel(m)
	return s
}

// SetModel заменяет артефакт
func (s *Scorer) SetModel(m Model) {
	if m == nil {
		s.model.Store(nil)
		return
	}
	s.model.Store(&modelHolder{m: m})
}

// Loaded сообщает, загружен ли артефакт
func (s *Scorer) Loaded() bool {
	return s.model.Load() != nil
}

// Score оценивает вектор признаков. Отсутствие модели не является ошибкой:
// возвращается результат со StatusUnavailable. Ошибка означает численный
// сбой на этом окне.
func (s *Scorer) Score(f models.FeatureVector) (ScoreResult, error) {
	h := s.model.Load()
	if h == nil {
		return Unavailable(), nil
	}

	scaled, err := h.m.Standardize(f.Values())
	if err != nil {
		return ScoreResult{}, fmt.Errorf("%w: standardize: %v", models.ErrTransientComputation, err)
	}
	reduced, err := h.m.Reduce(scaled)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("%w: reduce: %v", models.ErrTransientComputation, err)
	}
	pred, err := h.m.Predict(reduced)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("%w: predict: %v", models.ErrTransientComputation, err)
	}
	decision, err := h.m.Decision(reduced)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("%w: decision: %v", models.ErrTransientComputation, err)
	}

	dist := 0.0
	for _, v := range reduced {
		dist += v * v
	}
	dist = math.Sqrt(dist)
	if math.IsNaN(dist) || math.IsInf(dist, 0) || math.IsNaN(decision) {
		return ScoreResult{}, fmt.Errorf("%w: non-finite reduced coordinates", models.ErrTransientComputation)
	}

	return ScoreResult{
		Status:        StatusOK,
		Label:         pred.Label,
		Severity:      pred.Severity,
		Probabilities: pred.Probabilities,
		Damage:        s.DamageScore(pred.Probabilities),
		Reduced:       reduced,
		Distance:      dist,
		Decision:      decision,
	}, nil
}

// DamageScore взвешенная сумма вероятностей классов, в [0, 1]
func (s *Scorer) DamageScore(probs []ClassProbability) float64 {
	score := 0.0
	for _, p := range probs {
		score += p.Probability * s.weights.For(p.Severity)
	}
	return math.Max(0, math.Min(1, score))
}
