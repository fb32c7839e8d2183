package analytics

// EMA состояние сглаженной оценки повреждения одной сессии
type EMA struct {
	Value       float64
	Updates     int
	WarningSent bool
}

// Smoother экспоненциальное сглаживание мгновенной оценки повреждения.
// Предупреждение выдается один раз за сессию при превышении threshold.
type Smoother struct {
	alpha     float64
	threshold float64
}

// NewSmoother создает сглаживатель с коэффициентом alpha
func NewSmoother(alpha, threshold float64) Smoother {
	return Smoother{alpha: alpha, threshold: threshold}
}

// Update обновляет состояние: ema = alpha*damage + (1-alpha)*ema.
// Возвращает новое значение и признак первого превышения порога.
func (s Smoother) Update(state *EMA, damage float64) (float64, bool) {
	damage = clamp01(damage)
	state.Value = clamp01(s.alpha*damage + (1-s.alpha)*state.Value)
	state.Updates++

	if state.Value > s.threshold && !state.WarningSent {
		state.WarningSent = true
		return state.Value, true
	}
	return state.Value, false
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
