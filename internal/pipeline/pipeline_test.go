package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/model"
	"vibration-monitor/internal/models"
	"vibration-monitor/internal/session"
)

// stubModel возвращает заданную степень с вероятностью 1
type stubModel struct {
	severity  models.Severity
	reduced   []float64
	decision  float64
	failing   bool
	onPredict func()
}

func (m *stubModel) Standardize(v []float64) ([]float64, error) { return v, nil }

func (m *stubModel) Reduce([]float64) ([]float64, error) {
	if m.failing {
		return nil, errors.New("singular projection")
	}
	return m.reduced, nil
}

func (m *stubModel) Predict([]float64) (model.Prediction, error) {
	if m.onPredict != nil {
		m.onPredict()
	}
	pred := model.Prediction{Label: string(m.severity), Severity: m.severity}
	for _, sev := range []models.Severity{models.SeverityNormal, models.SeverityLight, models.SeveritySevere} {
		p := 0.0
		if sev == m.severity {
			p = 1
		}
		pred.Probabilities = append(pred.Probabilities, model.ClassProbability{
			Class: string(sev), Severity: sev, Probability: p,
		})
	}
	return pred, nil
}

func (m *stubModel) Decision([]float64) (float64, error) { return m.decision, nil }

func severeModel() *stubModel {
	return &stubModel{severity: models.SeveritySevere, reduced: []float64{3, 4}, decision: -1}
}

func normalModel() *stubModel {
	return &stubModel{severity: models.SeverityNormal, reduced: []float64{0.01, 0}, decision: 0.8}
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Consume(_ context.Context, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) kinds() []models.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventKind
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestContext(t *testing.T, m model.Model) (*Context, *testClock, *recordingSink) {
	t.Helper()
	cfg := config.DefaultClassifierConfig()
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := session.NewStore(cfg)
	store.SetClock(clock.Now)
	sink := &recordingSink{}
	c, err := New(cfg, model.NewScorer(m, cfg.Weights), store, SyncEmitter{Sinks: []Sink{sink}}, quietLogger())
	require.NoError(t, err)
	return c, clock, sink
}

// vibration синусоида амплитуды amp по всем осям
func vibration(n int, amp float64) []models.Sample {
	out := make([]models.Sample, n)
	for i := range out {
		v := amp * math.Sin(2*math.Pi*float64(i)*40/1600)
		out[i] = models.Sample{X: v, Y: v / 2, Z: -v, Timestamp: int64(i)}
	}
	return out
}

func TestIngest_ModelUnavailable(t *testing.T) {
	c, _, _ := newTestContext(t, nil)
	_, err := c.Start("s1", time.Minute, "")
	require.NoError(t, err)

	res, err := c.Ingest("s1", vibration(256, 1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnavailable, res.Status)
	require.NotNil(t, res.Last)
	assert.Equal(t, models.SeverityUnknown, res.Last.Severity)
	assert.Equal(t, 0.0, res.Last.Confidence)

	sess, err := c.Sessions.Get("s1")
	require.NoError(t, err)
	assert.Empty(t, sess.History(), "unavailable windows stay out of the history")
}

func TestIngest_StationaryIsNormal(t *testing.T) {
	c, _, _ := newTestContext(t, severeModel())
	_, err := c.Start("idle", time.Minute, "")
	require.NoError(t, err)

	res, err := c.Ingest("idle", make([]models.Sample, 256))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)
	require.NotNil(t, res.Last)
	assert.Equal(t, models.SeverityNormal, res.Last.Severity)
	assert.GreaterOrEqual(t, res.Last.Confidence, 0.85)
	assert.True(t, res.Last.Stationary)
	assert.Equal(t, 0.0, res.Last.EMAScore)
	assert.Equal(t, string(models.SeverityNormal), res.Last.PointEstimate)
}

func TestIngest_WaitingUntilFullWindow(t *testing.T) {
	c, _, _ := newTestContext(t, severeModel())
	_, err := c.Start("w", time.Minute, "")
	require.NoError(t, err)

	res, err := c.Ingest("w", vibration(255, 1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, res.Status)
	assert.Nil(t, res.Last)

	res, err = c.Ingest("w", vibration(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Windows)
}

func TestIngest_SevereRaisesSingleAlert(t *testing.T) {
	c, _, sink := newTestContext(t, severeModel())
	_, err := c.Start("sev", time.Minute, "")
	require.NoError(t, err)

	// 256 + 9*128 отсчетов дают ровно 10 окон
	res, err := c.Ingest("sev", vibration(1408, 0.5))
	require.NoError(t, err)
	require.Equal(t, 10, res.Windows)
	assert.Equal(t, models.StatusSuccess, res.Status)
	require.NotNil(t, res.Alert)
	assert.InDelta(t, 1-math.Pow(0.85, 9), res.Alert.EMAScore, 1e-9)

	for i, st := range res.Statuses {
		assert.Equal(t, models.SeveritySevere, st.Severity, "window %d", i)
		assert.InDelta(t, 1-math.Pow(0.85, float64(i+1)), st.EMAScore, 1e-9)
		assert.NotEmpty(t, st.Explanation)
	}

	// повторное превышение не выдает нового предупреждения
	res, err = c.Ingest("sev", vibration(512, 0.5))
	require.NoError(t, err)
	assert.Nil(t, res.Alert)

	alerts := 0
	for _, k := range sink.kinds() {
		if k == models.EventAlert {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts)
}

func TestIngest_DurationElapsedFinalizes(t *testing.T) {
	c, clock, sink := newTestContext(t, normalModel())
	_, err := c.Start("timed", time.Minute, "normal")
	require.NoError(t, err)

	_, err = c.Ingest("timed", vibration(512, 0.5))
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	res, err := c.Ingest("timed", vibration(256, 0.5))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinalized, res.Status)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 3, res.Summary.Windows)
	assert.Equal(t, models.SeverityNormal, res.Summary.Majority)
	assert.Equal(t, 100.0, res.Summary.MajorityShare)
	assert.Equal(t, "normal", res.Summary.Label)

	_, err = c.Ingest("timed", vibration(256, 0.5))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	kinds := sink.kinds()
	assert.Equal(t, models.EventSummary, kinds[len(kinds)-1])

	sum, err := c.Summary("timed")
	require.NoError(t, err)
	assert.Equal(t, res.Summary.FinishedAt, sum.FinishedAt)
}

func TestIngest_StopObservedAtWindowBoundary(t *testing.T) {
	m := severeModel()
	c, _, _ := newTestContext(t, m)
	_, err := c.Start("stop", time.Hour, "")
	require.NoError(t, err)

	m.onPredict = func() { _ = c.Stop("stop") }
	res, err := c.Ingest("stop", vibration(512, 0.5))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Windows, "only the window in flight completes")
	assert.Equal(t, models.StatusStopped, res.Status)

	m.onPredict = nil
	res, err = c.Ingest("stop", vibration(10, 0.5))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinalized, res.Status)
	assert.True(t, res.Summary.Stopped)
	assert.Equal(t, 1, res.Summary.Windows)
}

func TestIngest_TransientErrorSkipsWindow(t *testing.T) {
	m := severeModel()
	m.failing = true
	c, _, _ := newTestContext(t, m)
	_, err := c.Start("bad", time.Minute, "")
	require.NoError(t, err)

	res, err := c.Ingest("bad", vibration(512, 0.5))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 0, res.Windows)
	assert.Equal(t, models.StatusWaiting, res.Status)

	m.failing = false
	res, err = c.Ingest("bad", vibration(128, 0.5))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Windows, "stream continues after a skipped window")
}

func TestIngest_Errors(t *testing.T) {
	c, _, _ := newTestContext(t, nil)
	_, err := c.Ingest("ghost", vibration(10, 1))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = c.Start("s", time.Minute, "")
	require.NoError(t, err)
	_, err = c.Ingest("s", nil)
	assert.ErrorIs(t, err, models.ErrMalformedInput)

	_, err = c.Summary("s")
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestIngest_SessionsAreIsolated(t *testing.T) {
	c, _, _ := newTestContext(t, severeModel())
	_, err := c.Start("a", time.Minute, "")
	require.NoError(t, err)
	_, err = c.Start("b", time.Minute, "")
	require.NoError(t, err)

	data := vibration(1024, 0.5)
	_, err = c.Ingest("a", data)
	require.NoError(t, err)

	// b получает те же данные другими порциями
	var last Result
	for i := 0; i < len(data); i += 100 {
		end := i + 100
		if end > len(data) {
			end = len(data)
		}
		last, err = c.Ingest("b", data[i:end])
		require.NoError(t, err)
	}

	a, _ := c.Sessions.Get("a")
	b, _ := c.Sessions.Get("b")
	ha, hb := a.History(), b.History()
	require.Len(t, hb, len(ha))
	for i := range ha {
		assert.InDelta(t, ha[i].ScorePercent, hb[i].ScorePercent, 1e-12)
		assert.Equal(t, ha[i].Label, hb[i].Label)
	}
	require.NotNil(t, last.Last)
}

func TestIngestAll_FanOut(t *testing.T) {
	c, _, _ := newTestContext(t, normalModel())
	for _, id := range []string{"x", "y"} {
		_, err := c.Start(id, time.Minute, "")
		require.NoError(t, err)
	}

	results := c.IngestAll(vibration(256, 0.5))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, 1, r.Windows)
	}
	assert.Empty(t, c.IngestAll(nil))
}

func TestIngest_ConcurrentBatchesSameSession(t *testing.T) {
	c, _, _ := newTestContext(t, severeModel())
	_, err := c.Start("hot", time.Hour, "")
	require.NoError(t, err)

	const (
		workers = 8
		batches = 5
		chunk   = 64
	)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				res, err := c.Ingest("hot", vibration(chunk, 0.5))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				total += res.Windows
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	n := workers * batches * chunk
	assert.Equal(t, (n-256)/128+1, total)
}

func TestFinalizeDue(t *testing.T) {
	c, clock, _ := newTestContext(t, normalModel())
	_, err := c.Start("short", time.Second, "")
	require.NoError(t, err)
	_, err = c.Start("long", time.Hour, "")
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	sums := c.FinalizeDue()
	require.Len(t, sums, 1)
	assert.Equal(t, "short", sums[0].SessionID)
	assert.Equal(t, 1, c.Sessions.Count())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	cfg.Stride = cfg.WindowSize + 1
	_, err := New(cfg, model.NewScorer(nil, cfg.Weights), session.NewStore(cfg), nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
