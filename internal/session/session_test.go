package session

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibration-monitor/internal/models"
)

func TestState_RecentBounded(t *testing.T) {
	s, _ := newTestStore(t)
	sess, err := s.Start("recent", time.Minute, "")
	require.NoError(t, err)

	require.NoError(t, sess.Update(func(st *State) error {
		for i := 0; i < 25; i++ {
			st.SetLast(models.LiveStatus{Window: int64(i)})
		}
		return nil
	}))

	recent := sess.RecentStatuses()
	require.Len(t, recent, 10)
	assert.Equal(t, int64(15), recent[0].Window)
	assert.Equal(t, int64(24), recent[9].Window)

	last, ok := sess.Status()
	require.True(t, ok)
	assert.Equal(t, int64(24), last.Window)
}

func TestSession_StatusBeforeFirstWindow(t *testing.T) {
	s, _ := newTestStore(t)
	sess, err := s.Start("fresh", time.Minute, "")
	require.NoError(t, err)

	_, ok := sess.Status()
	assert.False(t, ok)
	assert.Empty(t, sess.History())
}

func TestSession_SignalCheck(t *testing.T) {
	s, _ := newTestStore(t)
	sess, err := s.Start("signal", time.Minute, "")
	require.NoError(t, err)

	check := sess.SignalCheck(0.05)
	assert.False(t, check.Active)
	assert.Equal(t, messageNoSignal, check.Message)

	flat := make([]float64, 50)
	for i := range flat {
		flat[i] = 0.98
	}
	_ = sess.Update(func(st *State) error {
		st.Signal.AddSamples(flat, flat, flat)
		return nil
	})
	check = sess.SignalCheck(0.05)
	assert.False(t, check.Active)
	assert.Equal(t, 50, check.Samples)
	assert.Equal(t, messageFlat, check.Message)

	wave := make([]float64, 100)
	for i := range wave {
		wave[i] = math.Sin(float64(i) / 3)
	}
	_ = sess.Update(func(st *State) error {
		st.Signal.AddSamples(wave, wave, wave)
		return nil
	})
	check = sess.SignalCheck(0.05)
	assert.True(t, check.Active)
	assert.Greater(t, check.StdDev, 0.05)
	assert.Equal(t, "signal", check.SessionID)
}

func TestSession_Info(t *testing.T) {
	s, clock := newTestStore(t)
	sess, err := s.Start("info", 2*time.Minute, "normal")
	require.NoError(t, err)
	_ = sess.Update(func(st *State) error {
		st.Received = 512
		st.Buffer.Append(make([]models.Sample, 4200))
		st.EMA.Value = 0.25
		st.Record(models.LiveStatus{EMAScore: 0.25}, models.SeverityLight, time.Second)
		return nil
	})
	clock.Advance(30 * time.Second)

	info := sess.Info(s.Now())
	assert.Equal(t, "info", info.ID)
	assert.Equal(t, 120.0, info.DurationS)
	assert.Equal(t, 30.0, info.ElapsedS)
	assert.Equal(t, 1, info.Windows)
	assert.Equal(t, int64(512), info.Received)
	assert.Equal(t, int64(4200-4096), info.Dropped, "buffer keeps max_buffer_samples")
	assert.InDelta(t, 25.0, info.EMAPercent, 1e-12)
}
