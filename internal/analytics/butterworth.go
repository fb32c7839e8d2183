package analytics

import (
	"fmt"
	"math"

	"vibration-monitor/internal/models"
)

// biquad секция второго порядка, коэффициенты нормированы на a0
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// HighPass фильтр Баттерворта верхних частот, каскад биквадратных секций
type HighPass struct {
	sections []biquad
}

// NewHighPass создает фильтр порядка order (четный) с частотой среза
// cutoff при частоте дискретизации sampleRate
func NewHighPass(order int, cutoff, sampleRate float64) (*HighPass, error) {
	if order <= 0 || order%2 != 0 {
		return nil, fmt.Errorf("%w: filter order %d must be positive and even", models.ErrInvalidConfig, order)
	}
	if cutoff <= 0 || cutoff >= sampleRate/2 {
		return nil, fmt.Errorf("%w: cutoff %.3f Hz outside (0, %.3f)", models.ErrInvalidConfig, cutoff, sampleRate/2)
	}

	w0 := 2 * math.Pi * cutoff / sampleRate
	cosW0, sinW0 := math.Cos(w0), math.Sin(w0)

	sections := make([]biquad, 0, order/2)
	for k := 0; k < order/2; k++ {
		// добротность k-й пары полюсов Баттерворта
		q := 1 / (2 * math.Cos(float64(2*k+1)*math.Pi/float64(2*order)))
		alpha := sinW0 / (2 * q)
		a0 := 1 + alpha
		sections = append(sections, biquad{
			b0: (1 + cosW0) / 2 / a0,
			b1: -(1 + cosW0) / a0,
			b2: (1 + cosW0) / 2 / a0,
			a1: -2 * cosW0 / a0,
			a2: (1 - alpha) / a0,
		})
	}
	return &HighPass{sections: sections}, nil
}

// Apply фильтрует сигнал и возвращает новый срез. Состояние фильтра
// не сохраняется между вызовами.
func (h *HighPass) Apply(x []float64) ([]float64, error) {
	out := make([]float64, len(x))
	copy(out, x)
	for _, s := range h.sections {
		// транспонированная прямая форма II
		var z1, z2 float64
		for i, in := range out {
			y := s.b0*in + z1
			z1 = s.b1*in - s.a1*y + z2
			z2 = s.b2*in - s.a2*y
			out[i] = y
		}
	}
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: high-pass output diverged at sample %d", models.ErrTransientComputation, i)
		}
	}
	return out, nil
}
