// Package models содержит структуры данных для отсчетов акселерометра,
// окон, признаков и результатов диагностики
package models

import (
	"fmt"
	"math"
)

// Sample представляет один отсчет трехосевого акселерометра (в g)
type Sample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"` // миллисекунды Unix
}

// Batch представляет пакет отсчетов, присланный датчиком
type Batch struct {
	SessionID string    `json:"session_id,omitempty"`
	X         []float64 `json:"x" validate:"required,min=1,max=2048"`
	Y         []float64 `json:"y" validate:"required,min=1,max=2048"`
	Z         []float64 `json:"z" validate:"required,min=1,max=2048"`
	Timestamp int64     `json:"timestamp" validate:"gte=0"`
}

// CheckAxes проверяет согласованность осей: длины должны совпадать,
// значения должны быть конечными
func (b Batch) CheckAxes() error {
	if len(b.X) != len(b.Y) || len(b.X) != len(b.Z) {
		return fmt.Errorf("%w: axis lengths differ (x=%d, y=%d, z=%d)",
			ErrMalformedInput, len(b.X), len(b.Y), len(b.Z))
	}
	for i := range b.X {
		if !finite(b.X[i]) || !finite(b.Y[i]) || !finite(b.Z[i]) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrMalformedInput, i)
		}
	}
	return nil
}

// Samples разворачивает пакет в отсчеты. Timestamp пакета относится к
// последнему отсчету, метки остальных восстанавливаются назад по частоте
// дискретизации sampleRate (Гц).
func (b Batch) Samples(sampleRate float64) []Sample {
	n := len(b.X)
	samples := make([]Sample, n)
	stepMs := 0.0
	if sampleRate > 0 {
		stepMs = 1000 / sampleRate
	}
	for i := 0; i < n; i++ {
		offset := float64(n-1-i) * stepMs
		samples[i] = Sample{
			X:         b.X[i],
			Y:         b.Y[i],
			Z:         b.Z[i],
			Timestamp: b.Timestamp - int64(math.Round(offset)),
		}
	}
	return samples
}

// Window представляет окно из W последовательных отсчетов
type Window struct {
	// Start абсолютное смещение первого отсчета в потоке сессии
	Start   int64
	Samples []Sample
}

// Axes возвращает значения осей окна
func (w Window) Axes() (x, y, z []float64) {
	x = make([]float64, len(w.Samples))
	y = make([]float64, len(w.Samples))
	z = make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		x[i], y[i], z[i] = s.X, s.Y, s.Z
	}
	return x, y, z
}

// LastTimestamp возвращает метку времени последнего отсчета окна
func (w Window) LastTimestamp() int64 {
	if len(w.Samples) == 0 {
		return 0
	}
	return w.Samples[len(w.Samples)-1].Timestamp
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
