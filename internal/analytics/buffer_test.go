package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibration-monitor/internal/models"
)

func seq(from, n int) []models.Sample {
	out := make([]models.Sample, n)
	for i := range out {
		out[i] = models.Sample{X: float64(from + i), Timestamp: int64(from + i)}
	}
	return out
}

func TestNewBuffer_InvalidConfig(t *testing.T) {
	cases := []struct{ size, stride, max int }{
		{0, 1, 10},
		{10, 0, 10},
		{10, 11, 20},
		{10, -1, 20},
		{10, 5, 9},
	}
	for _, c := range cases {
		_, err := NewBuffer(c.size, c.stride, c.max)
		assert.ErrorIs(t, err, models.ErrInvalidConfig, "size=%d stride=%d max=%d", c.size, c.stride, c.max)
	}
}

func TestBuffer_DrainWaitsForFullWindow(t *testing.T) {
	b, err := NewBuffer(256, 128, 4096)
	require.NoError(t, err)

	b.Append(seq(0, 255))
	assert.Empty(t, b.Drain())
	assert.Equal(t, 255, b.Len())

	b.Append(seq(255, 1))
	windows := b.Drain()
	require.Len(t, windows, 1)
	assert.Equal(t, int64(0), windows[0].Start)
	assert.Len(t, windows[0].Samples, 256)
	assert.Equal(t, 128, b.Len(), "tail after one window keeps W-S samples")
}

func TestBuffer_StrideIsExact(t *testing.T) {
	b, err := NewBuffer(256, 128, 4096)
	require.NoError(t, err)

	var starts []int64
	// arbitrary chunk sizes, as a device would send them
	chunks := []int{1, 37, 300, 2, 128, 511, 64, 90}
	next := 0
	for _, n := range chunks {
		b.Append(seq(next, n))
		next += n
		for _, w := range b.Drain() {
			starts = append(starts, w.Start)
			// window content starts at its absolute offset
			assert.Equal(t, float64(w.Start), w.Samples[0].X)
			assert.Equal(t, float64(w.Start+255), w.Samples[255].X)
		}
	}

	require.NotEmpty(t, starts)
	seen := map[int64]bool{}
	for i, s := range starts {
		assert.False(t, seen[s], "start %d returned twice", s)
		seen[s] = true
		if i > 0 {
			assert.Equal(t, int64(128), s-starts[i-1])
		}
	}
	// every window that fits into the stream was produced
	assert.Equal(t, (next-256)/128+1, len(starts))
}

func TestBuffer_NoOverlapStrideEqualsWindow(t *testing.T) {
	b, err := NewBuffer(4, 4, 64)
	require.NoError(t, err)

	b.Append(seq(0, 10))
	windows := b.Drain()
	require.Len(t, windows, 2)
	assert.Equal(t, int64(0), windows[0].Start)
	assert.Equal(t, int64(4), windows[1].Start)
	assert.Equal(t, 2, b.Len())
}

func TestBuffer_Overflow(t *testing.T) {
	b, err := NewBuffer(4, 2, 8)
	require.NoError(t, err)

	dropped := b.Append(seq(0, 11))
	assert.Equal(t, 3, dropped)
	assert.Equal(t, int64(3), b.Dropped())
	assert.Equal(t, 8, b.Len())

	windows := b.Drain()
	require.NotEmpty(t, windows)
	assert.Equal(t, int64(3), windows[0].Start)
	assert.Equal(t, 3.0, windows[0].Samples[0].X)
}

func BenchmarkBufferAppendDrain(b *testing.B) {
	buf, _ := NewBuffer(256, 128, 4096)
	chunk := seq(0, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Append(chunk)
		buf.Drain()
	}
}
