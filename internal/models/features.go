package models

import "fmt"

// FeatureVector содержит признаки одного окна: наклон (среднее по осям),
// амплитудные спектры осей и RMS сигнала, поданного на спектр
type FeatureVector struct {
	Tilt     [3]float64   `json:"tilt"`
	Spectrum [3][]float64 `json:"spectrum"`
	RMS      [3]float64   `json:"rms"`
	TotalRMS float64      `json:"total_rms"`
}

// NewFeatureVector создает вектор признаков и проверяет, что спектры
// всех осей имеют одинаковую длину
func NewFeatureVector(tilt [3]float64, spectrum [3][]float64, rms [3]float64, totalRMS float64) (FeatureVector, error) {
	n := len(spectrum[0])
	if len(spectrum[1]) != n || len(spectrum[2]) != n {
		return FeatureVector{}, fmt.Errorf("spectrum lengths differ: %d/%d/%d",
			len(spectrum[0]), len(spectrum[1]), len(spectrum[2]))
	}
	return FeatureVector{
		Tilt:     tilt,
		Spectrum: spectrum,
		RMS:      rms,
		TotalRMS: totalRMS,
	}, nil
}

// Len возвращает длину входного вектора модели
func (f FeatureVector) Len() int {
	return 3 + 3*len(f.Spectrum[0])
}

// Values возвращает входной вектор модели в фиксированном порядке:
// наклон X, Y, Z, затем спектры X, Y, Z
func (f FeatureVector) Values() []float64 {
	out := make([]float64, 0, f.Len())
	out = append(out, f.Tilt[:]...)
	for axis := 0; axis < 3; axis++ {
		out = append(out, f.Spectrum[axis]...)
	}
	return out
}
