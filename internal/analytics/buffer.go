package analytics

import (
	"fmt"

	"vibration-monitor/internal/models"
)

// Buffer накапливает отсчеты сессии и выдает перекрывающиеся окна
// размера size с шагом stride
type Buffer struct {
	size    int
	stride  int
	max     int
	samples []models.Sample
	offset  int64 // абсолютный индекс samples[0] в потоке сессии
	dropped int64
}

// NewBuffer создает буфер окон. max ограничивает число хранимых отсчетов.
func NewBuffer(size, stride, max int) (*Buffer, error) {
	if size <= 0 || stride <= 0 || stride > size {
		return nil, fmt.Errorf("%w: window %d, stride %d", models.ErrInvalidConfig, size, stride)
	}
	if max < size {
		return nil, fmt.Errorf("%w: buffer cap %d below window %d", models.ErrInvalidConfig, max, size)
	}
	return &Buffer{
		size:    size,
		stride:  stride,
		max:     max,
		samples: make([]models.Sample, 0, size*2),
	}, nil
}

// Append добавляет отсчеты в порядке поступления. При переполнении
// отбрасываются самые старые отсчеты; возвращает их число.
func (b *Buffer) Append(samples []models.Sample) int {
	b.samples = append(b.samples, samples...)
	if len(b.samples) <= b.max {
		return 0
	}

	drop := len(b.samples) - b.max
	b.discard(drop)
	b.dropped += int64(drop)
	return drop
}

// Drain извлекает все полные окна. После каждого окна начало буфера
// сдвигается ровно на stride; хвост короче окна остается в буфере.
func (b *Buffer) Drain() []models.Window {
	if len(b.samples) < b.size {
		return nil
	}

	windows := make([]models.Window, 0, (len(b.samples)-b.size)/b.stride+1)
	consumed := 0
	for len(b.samples)-consumed >= b.size {
		w := make([]models.Sample, b.size)
		copy(w, b.samples[consumed:consumed+b.size])
		windows = append(windows, models.Window{
			Start:   b.offset + int64(consumed),
			Samples: w,
		})
		consumed += b.stride
	}
	b.discard(consumed)
	return windows
}

// discard удаляет n отсчетов из начала буфера, не удерживая старый массив
func (b *Buffer) discard(n int) {
	rest := copy(b.samples, b.samples[n:])
	b.samples = b.samples[:rest]
	b.offset += int64(n)
}

// Len возвращает число отсчетов в буфере
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Dropped возвращает общее число отброшенных при переполнении отсчетов
func (b *Buffer) Dropped() int64 {
	return b.dropped
}
