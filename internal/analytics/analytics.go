// Package analytics реализует потоковую обработку сигнала вибрации:
// буфер окон, извлечение признаков, фильтрацию и экспоненциальное
// сглаживание оценки повреждения
package analytics

import "math"

// SlidingWindow реализует скользящее окно последних значений сигнала
// с накопленными суммами для O(1) среднего и стандартного отклонения
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
	sum    float64
	sumSq  float64
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	if size < 1 {
		size = 1
	}
	return &SlidingWindow{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет новое значение в окно, вытесняя самое старое
func (sw *SlidingWindow) Add(value float64) {
	if sw.count >= sw.size {
		old := sw.values[sw.index]
		sw.sum -= old
		sw.sumSq -= old * old
	} else {
		sw.count++
	}

	sw.values[sw.index] = value
	sw.sum += value
	sw.sumSq += value * value

	sw.index = (sw.index + 1) % sw.size
}

// AddSamples добавляет все компоненты отсчетов: проверка сигнала
// оценивает разброс по всем осям сразу
func (sw *SlidingWindow) AddSamples(xs, ys, zs []float64) {
	for i := range xs {
		sw.Add(xs[i])
		sw.Add(ys[i])
		sw.Add(zs[i])
	}
}

// Mean возвращает среднее значение окна
func (sw *SlidingWindow) Mean() float64 {
	if sw.count == 0 {
		return 0
	}
	return sw.sum / float64(sw.count)
}

// StdDev возвращает стандартное отклонение генеральной совокупности
// (делитель n), как при оценке "плоского" сигнала
func (sw *SlidingWindow) StdDev() float64 {
	if sw.count < 2 {
		return 0
	}
	n := float64(sw.count)
	mean := sw.sum / n
	variance := sw.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

// Full сообщает, заполнено ли окно целиком
func (sw *SlidingWindow) Full() bool {
	return sw.count == sw.size
}

// Reset очищает окно
func (sw *SlidingWindow) Reset() {
	for i := range sw.values {
		sw.values[i] = 0
	}
	sw.index, sw.count = 0, 0
	sw.sum, sw.sumSq = 0, 0
}
