// Package pipeline связывает буфер окон, извлечение признаков, оценку
// модели, определение степени и сглаживание в обработку пакета отсчетов
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"vibration-monitor/internal/analytics"
	"vibration-monitor/internal/config"
	"vibration-monitor/internal/metrics"
	"vibration-monitor/internal/model"
	"vibration-monitor/internal/models"
	"vibration-monitor/internal/session"
	"vibration-monitor/internal/severity"
)

// Result итог обработки одного пакета
type Result struct {
	SessionID string              `json:"session_id"`
	Status    string              `json:"status"`
	Windows   int                 `json:"windows"`
	Skipped   int                 `json:"skipped,omitempty"`
	Dropped   int                 `json:"dropped,omitempty"`
	Last      *models.LiveStatus  `json:"last,omitempty"`
	Statuses  []models.LiveStatus `json:"-"`
	Alert     *models.Alert       `json:"alert,omitempty"`
	Summary   *models.Summary     `json:"summary,omitempty"`
}

// Context общий контекст конвейера: модель, реестр сессий и конфигурация.
// Передается явно, глобального состояния нет.
type Context struct {
	Config   config.ClassifierConfig
	Scorer   *model.Scorer
	Sessions *session.Store

	extractor *analytics.Extractor
	policy    severity.Policy
	smoother  analytics.Smoother
	emitter   Emitter
	log       *logrus.Entry
}

// New создает контекст конвейера. emitter может быть nil.
func New(cfg config.ClassifierConfig, scorer *model.Scorer, store *session.Store, emitter Emitter, log *logrus.Entry) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	extractor, err := analytics.NewExtractor(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if emitter == nil {
		emitter = SyncEmitter{}
	}
	return &Context{
		Config:    cfg,
		Scorer:    scorer,
		Sessions:  store,
		extractor: extractor,
		policy:    severity.New(cfg),
		smoother:  analytics.NewSmoother(cfg.EMAAlpha, cfg.AlertThreshold),
		emitter:   emitter,
		log:       log.WithField("component", "pipeline"),
	}, nil
}

// Start запускает сессию
func (c *Context) Start(id string, duration time.Duration, label string) (*session.Session, error) {
	sess, err := c.Sessions.Start(id, duration, label)
	if err != nil {
		return nil, err
	}
	metrics.SessionsActive.Set(float64(c.Sessions.Count()))
	c.log.WithFields(logrus.Fields{
		"session":  sess.ID,
		"duration": duration.String(),
		"label":    label,
	}).Info("session started")
	return sess, nil
}

// Stop останавливает сессию. Обработка прерывается на ближайшей границе окна.
func (c *Context) Stop(id string) error {
	if err := c.Sessions.Stop(id); err != nil {
		return err
	}
	c.log.WithField("session", id).Info("session stop requested")
	return nil
}

// Ingest обрабатывает пакет отсчетов сессии. Если сессия уже должна быть
// завершена, пакет не обрабатывается, а возвращается итоговый отчет.
func (c *Context) Ingest(id string, samples []models.Sample) (Result, error) {
	if len(samples) == 0 {
		return Result{}, fmt.Errorf("%w: empty batch", models.ErrMalformedInput)
	}
	sess, err := c.Sessions.Get(id)
	if err != nil {
		return Result{}, err
	}

	now := c.Sessions.Now()
	if sess.Due(now) {
		sum, err := c.Finalize(id)
		if err != nil {
			return Result{}, err
		}
		return Result{SessionID: id, Status: models.StatusFinalized, Summary: &sum}, nil
	}

	res := Result{SessionID: id, Status: models.StatusWaiting}
	err = sess.Update(func(st *session.State) error {
		if st.Finalized() {
			return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
		}
		st.Received += int64(len(samples))
		res.Dropped = st.Buffer.Append(samples)
		x, y, z := models.Window{Samples: samples}.Axes()
		st.Signal.AddSamples(x, y, z)

		for _, w := range st.Buffer.Drain() {
			if sess.Stopped() {
				res.Status = models.StatusStopped
				break
			}
			status, alert, err := c.processWindow(sess, st, w, now)
			if err != nil {
				if errors.Is(err, models.ErrTransientComputation) {
					metrics.TransientErrors.Inc()
					c.log.WithFields(logrus.Fields{"session": id, "window": w.Start}).
						WithError(err).Warn("window skipped")
					st.Skipped++
					res.Skipped++
					continue
				}
				return err
			}
			res.Windows++
			res.Statuses = append(res.Statuses, status)
			res.Status = status.Status
			if alert != nil {
				res.Alert = alert
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if len(res.Statuses) > 0 {
		last := res.Statuses[len(res.Statuses)-1]
		res.Last = &last
	}
	if res.Status == models.StatusWaiting && sess.Stopped() {
		res.Status = models.StatusStopped
	}

	metrics.SamplesReceived.Add(float64(len(samples)))
	if res.Dropped > 0 {
		metrics.SamplesDropped.Add(float64(res.Dropped))
		c.log.WithFields(logrus.Fields{"session": id, "dropped": res.Dropped}).Warn("session buffer overflow")
	}
	c.emit(id, samples, res)
	return res, nil
}

// IngestAll раздает пакет всем активным сессиям
func (c *Context) IngestAll(samples []models.Sample) []Result {
	var results []Result
	for _, sess := range c.Sessions.Active() {
		res, err := c.Ingest(sess.ID, samples)
		if err != nil {
			// сессия могла завершиться параллельно
			if !errors.Is(err, models.ErrSessionNotFound) {
				c.log.WithField("session", sess.ID).WithError(err).Warn("fan-out ingest failed")
			}
			continue
		}
		results = append(results, res)
	}
	return results
}

// processWindow обрабатывает одно окно под блокировкой сессии
func (c *Context) processWindow(sess *session.Session, st *session.State, w models.Window, now time.Time) (models.LiveStatus, *models.Alert, error) {
	timer := time.Now()
	defer func() { metrics.AnalysisLatency.Observe(time.Since(timer).Seconds()) }()

	fv, err := c.extractor.Extract(w)
	if err != nil {
		return models.LiveStatus{}, nil, err
	}
	score, err := c.Scorer.Score(fv)
	if err != nil {
		return models.LiveStatus{}, nil, err
	}
	verdict := c.policy.Classify(fv, score)

	status := models.LiveStatus{
		SessionID:  sess.ID,
		Window:     w.Start / int64(c.Config.Stride),
		Timestamp:  w.LastTimestamp(),
		Severity:   verdict.Severity,
		Confidence: verdict.Confidence,
		Stationary: verdict.Stationary,
		Features:   featureSummary(fv, score),
	}

	if score.Status != model.StatusOK {
		// без модели сглаженная оценка и история не меняются
		status.Status = models.StatusUnavailable
		status.EMAScore = st.EMA.Value
		st.SetLast(status)
		metrics.WindowsProcessed.WithLabelValues(string(models.SeverityUnknown)).Inc()
		return status, nil, nil
	}

	damage, point := score.Damage, score.Severity
	if verdict.Stationary {
		damage, point = 0, models.SeverityNormal
	}
	ema, raised := c.smoother.Update(&st.EMA, damage)

	status.Status = models.StatusSuccess
	status.PointEstimate = string(point)
	status.DamageScore = damage
	status.EMAScore = ema
	status.Explanation = severity.Explanation(verdict.Severity)
	status.Tips = severity.Tips(verdict.Severity)

	elapsed := sess.Elapsed(now)
	st.Record(status, point, elapsed)
	metrics.ObserveWindow(sess.ID, string(verdict.Severity), ema, raised)

	c.log.WithFields(logrus.Fields{
		"session":  sess.ID,
		"window":   status.Window,
		"severity": verdict.Severity,
		"ema":      ema,
	}).Debug("window classified")

	if !raised {
		return status, nil, nil
	}
	return status, &models.Alert{
		SessionID:      sess.ID,
		EMAScore:       ema,
		ElapsedSeconds: elapsed.Seconds(),
		RaisedAt:       now,
	}, nil
}

func featureSummary(fv models.FeatureVector, score model.ScoreResult) models.FeatureSummary {
	fs := models.FeatureSummary{
		RMSX:               fv.RMS[0],
		RMSY:               fv.RMS[1],
		RMSZ:               fv.RMS[2],
		DistanceFromNormal: score.Distance,
	}
	if len(score.Reduced) > 0 {
		fs.Reduced1 = score.Reduced[0]
	}
	if len(score.Reduced) > 1 {
		fs.Reduced2 = score.Reduced[1]
	}
	return fs
}

// emit отправляет события пакета после снятия блокировки сессии
func (c *Context) emit(id string, samples []models.Sample, res Result) {
	c.emitter.Emit(models.Event{Kind: models.EventSamples, SessionID: id, Samples: samples})
	for i := range res.Statuses {
		status := res.Statuses[i]
		c.emitter.Emit(models.Event{Kind: models.EventWindow, SessionID: id, Status: &status})
	}
	if res.Alert != nil {
		c.log.WithFields(logrus.Fields{
			"session": id,
			"ema":     res.Alert.EMAScore,
		}).Warn("damage score above alert threshold")
		c.emitter.Emit(models.Event{Kind: models.EventAlert, SessionID: id, Alert: res.Alert})
	}
}

// Finalize завершает сессию и возвращает итоговый отчет
func (c *Context) Finalize(id string) (models.Summary, error) {
	sum, err := c.Sessions.Finalize(id)
	if err != nil {
		return models.Summary{}, err
	}
	metrics.SessionsActive.Set(float64(c.Sessions.Count()))
	metrics.ForgetSession(id, string(sum.Majority))

	c.log.WithFields(logrus.Fields{
		"session":  id,
		"windows":  sum.Windows,
		"majority": sum.Majority,
		"mean":     sum.MeanDamage,
		"peak":     sum.PeakDamage,
	}).Info("session finalized")
	c.emitter.Emit(models.Event{Kind: models.EventSummary, SessionID: id, Summary: &sum})
	return sum, nil
}

// FinalizeDue завершает все сессии, которым пора завершиться
func (c *Context) FinalizeDue() []models.Summary {
	var out []models.Summary
	for _, id := range c.Sessions.Due() {
		sum, err := c.Finalize(id)
		if err != nil {
			continue
		}
		out = append(out, sum)
	}
	return out
}

// Summary возвращает отчет сессии: для завершенной сохраненный, для
// активной, которой пора завершиться, завершает ее
func (c *Context) Summary(id string) (models.Summary, error) {
	if sum, ok := c.Sessions.Summary(id); ok {
		return sum, nil
	}
	due, err := c.Sessions.IsDue(id)
	if err != nil {
		return models.Summary{}, err
	}
	if !due {
		return models.Summary{}, fmt.Errorf("%w: session %s is still running", models.ErrInsufficientData, id)
	}
	return c.Finalize(id)
}
