// Package model загружает обученный артефакт (scaler → PCA → классификатор)
// и применяет его к векторам признаков
package model

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"vibration-monitor/internal/models"
)

// Scaler стандартизация признаков: (v - mean) / scale
type Scaler struct {
	Mean  []float64 `yaml:"mean" json:"mean"`
	Scale []float64 `yaml:"scale" json:"scale"`
}

// Standardize применяет стандартизацию. Нулевой масштаб только центрирует.
func (s Scaler) Standardize(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(v))
	}
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] - s.Mean[i]
		if s.Scale[i] != 0 {
			out[i] /= s.Scale[i]
		}
	}
	return out, nil
}

// Reducer линейное понижение размерности (PCA): components · (v - mean)
type Reducer struct {
	Mean       []float64   `yaml:"mean" json:"mean"`
	Components [][]float64 `yaml:"components" json:"components"`
}

// Reduce проецирует вектор на главные компоненты
func (r Reducer) Reduce(v []float64) ([]float64, error) {
	if len(r.Mean) > 0 && len(v) != len(r.Mean) {
		return nil, fmt.Errorf("reducer expects %d inputs, got %d", len(r.Mean), len(v))
	}
	out := make([]float64, len(r.Components))
	for c, comp := range r.Components {
		if len(comp) != len(v) {
			return nil, fmt.Errorf("component %d has %d weights, input has %d", c, len(comp), len(v))
		}
		sum := 0.0
		for i, w := range comp {
			x := v[i]
			if len(r.Mean) > 0 {
				x -= r.Mean[i]
			}
			sum += w * x
		}
		out[c] = sum
	}
	return out, nil
}

// Class класс классификатора и соответствующая ему степень износа
type Class struct {
	Name     string          `yaml:"name" json:"name"`
	Severity models.Severity `yaml:"severity" json:"severity"`
}

// Classifier мультиномиальная логистическая регрессия в пространстве
// главных компонент
type Classifier struct {
	Classes   []Class     `yaml:"classes" json:"classes"`
	Coef      [][]float64 `yaml:"coef" json:"coef"`
	Intercept []float64   `yaml:"intercept" json:"intercept"`
}

// ClassProbability вероятность одного класса
type ClassProbability struct {
	Class       string          `json:"class"`
	Severity    models.Severity `json:"severity"`
	Probability float64         `json:"probability"`
}

// Prediction точечная оценка и распределение по классам
type Prediction struct {
	Label         string             `json:"label"`
	Severity      models.Severity    `json:"severity"`
	Probabilities []ClassProbability `json:"probabilities"`
}

// Predict возвращает распределение softmax(coef·z + intercept)
func (c Classifier) Predict(z []float64) (Prediction, error) {
	logits := make([]float64, len(c.Classes))
	maxLogit := math.Inf(-1)
	for k := range c.Classes {
		if len(c.Coef[k]) != len(z) {
			return Prediction{}, fmt.Errorf("class %q expects %d components, got %d",
				c.Classes[k].Name, len(c.Coef[k]), len(z))
		}
		l := c.Intercept[k]
		for i, w := range c.Coef[k] {
			l += w * z[i]
		}
		logits[k] = l
		if l > maxLogit {
			maxLogit = l
		}
	}

	sum := 0.0
	for k := range logits {
		logits[k] = math.Exp(logits[k] - maxLogit)
		sum += logits[k]
	}

	pred := Prediction{Probabilities: make([]ClassProbability, len(c.Classes))}
	best := -1.0
	for k, cls := range c.Classes {
		p := logits[k] / sum
		if math.IsNaN(p) {
			return Prediction{}, fmt.Errorf("%w: probability is NaN", models.ErrTransientComputation)
		}
		pred.Probabilities[k] = ClassProbability{Class: cls.Name, Severity: cls.Severity, Probability: p}
		if p > best {
			best = p
			pred.Label = cls.Name
			pred.Severity = cls.Severity
		}
	}
	return pred, nil
}

// Detector детектор выбросов в пространстве главных компонент.
// decision = offset - ‖(z - center)/scale‖; отрицательное значение
// означает аномалию.
type Detector struct {
	Center []float64 `yaml:"center" json:"center"`
	Scale  []float64 `yaml:"scale" json:"scale"`
	Offset float64   `yaml:"offset" json:"offset"`
}

// Decision возвращает оценку решающей функции детектора
func (d Detector) Decision(z []float64) (float64, error) {
	if len(d.Center) != len(z) {
		return 0, fmt.Errorf("detector expects %d components, got %d", len(d.Center), len(z))
	}
	sum := 0.0
	for i := range z {
		v := z[i] - d.Center[i]
		if len(d.Scale) == len(z) && d.Scale[i] != 0 {
			v /= d.Scale[i]
		}
		sum += v * v
	}
	return d.Offset - math.Sqrt(sum), nil
}

// Artifact обученный набор: стандартизация, понижение размерности,
// классификатор и необязательный детектор выбросов. Только для чтения.
type Artifact struct {
	Name       string     `yaml:"name" json:"name"`
	Scaler     Scaler     `yaml:"scaler" json:"scaler"`
	Reducer    Reducer    `yaml:"reducer" json:"reducer"`
	Classifier Classifier `yaml:"classifier" json:"classifier"`
	Detector   *Detector  `yaml:"detector,omitempty" json:"detector,omitempty"`
}

// Standardize реализует Model
func (a *Artifact) Standardize(v []float64) ([]float64, error) {
	return a.Scaler.Standardize(v)
}

// Reduce реализует Model
func (a *Artifact) Reduce(v []float64) ([]float64, error) {
	return a.Reducer.Reduce(v)
}

// Predict реализует Model
func (a *Artifact) Predict(z []float64) (Prediction, error) {
	return a.Classifier.Predict(z)
}

// Decision реализует Model. Без детектора решение выводится из
// вероятности нормального класса: P(NORMAL) - 0.5.
func (a *Artifact) Decision(z []float64) (float64, error) {
	if a.Detector != nil {
		return a.Detector.Decision(z)
	}
	pred, err := a.Classifier.Predict(z)
	if err != nil {
		return 0, err
	}
	normal := 0.0
	for _, p := range pred.Probabilities {
		if p.Severity == models.SeverityNormal {
			normal += p.Probability
		}
	}
	return normal - 0.5, nil
}

// InputLen возвращает ожидаемую длину вектора признаков
func (a *Artifact) InputLen() int {
	return len(a.Scaler.Mean)
}

// Validate проверяет согласованность размерностей артефакта
func (a *Artifact) Validate(featureLen int) error {
	n := len(a.Scaler.Mean)
	if n == 0 {
		return fmt.Errorf("%w: scaler is empty", models.ErrInvalidConfig)
	}
	if featureLen > 0 && n != featureLen {
		return fmt.Errorf("%w: artifact fitted on %d features, extractor produces %d",
			models.ErrInvalidConfig, n, featureLen)
	}
	if len(a.Scaler.Scale) != n {
		return fmt.Errorf("%w: scaler mean/scale lengths differ", models.ErrInvalidConfig)
	}
	if len(a.Reducer.Components) == 0 {
		return fmt.Errorf("%w: reducer has no components", models.ErrInvalidConfig)
	}
	if len(a.Reducer.Mean) != 0 && len(a.Reducer.Mean) != n {
		return fmt.Errorf("%w: reducer mean has %d values, want %d", models.ErrInvalidConfig, len(a.Reducer.Mean), n)
	}
	for i, comp := range a.Reducer.Components {
		if len(comp) != n {
			return fmt.Errorf("%w: component %d has %d weights, want %d", models.ErrInvalidConfig, i, len(comp), n)
		}
	}

	k := len(a.Reducer.Components)
	cls := a.Classifier
	if len(cls.Classes) < 2 {
		return fmt.Errorf("%w: classifier needs at least two classes", models.ErrInvalidConfig)
	}
	if len(cls.Coef) != len(cls.Classes) || len(cls.Intercept) != len(cls.Classes) {
		return fmt.Errorf("%w: classifier coef/intercept do not match classes", models.ErrInvalidConfig)
	}
	for i, row := range cls.Coef {
		if len(row) != k {
			return fmt.Errorf("%w: coef row %d has %d weights, want %d", models.ErrInvalidConfig, i, len(row), k)
		}
	}
	for i := range cls.Classes {
		c := &a.Classifier.Classes[i]
		if !c.Severity.Valid() {
			sev, err := models.ParseSeverity(c.Name)
			if err != nil {
				return fmt.Errorf("%w: class %q has no severity", models.ErrInvalidConfig, c.Name)
			}
			c.Severity = sev
		}
	}

	if a.Detector != nil && len(a.Detector.Center) != k {
		return fmt.Errorf("%w: detector center has %d values, want %d", models.ErrInvalidConfig, len(a.Detector.Center), k)
	}
	return nil
}

// Parse разбирает артефакт в формате YAML (JSON также допустим)
func Parse(data []byte, featureLen int) (*Artifact, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: parse artifact: %v", models.ErrInvalidConfig, err)
	}
	if err := a.Validate(featureLen); err != nil {
		return nil, err
	}
	return &a, nil
}

// Load загружает артефакт из файла или из S3 (s3://bucket/key)
func Load(ctx context.Context, uri string, featureLen int, fetcher *S3Fetcher) (*Artifact, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(uri, "s3://") {
		if fetcher == nil {
			return nil, fmt.Errorf("%w: no S3 client for %s", models.ErrModelUnavailable, uri)
		}
		data, err = fetcher.Fetch(ctx, uri)
	} else {
		data, err = os.ReadFile(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	return Parse(data, featureLen)
}
