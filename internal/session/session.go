// Package session хранит состояние сессий измерения: буфер отсчетов,
// сглаженную оценку, историю и итоговый отчет
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"vibration-monitor/internal/analytics"
	"vibration-monitor/internal/config"
	"vibration-monitor/internal/models"
)

// State изменяемое состояние сессии. Доступно только через Session.Update
// и Session.View, то есть под блокировкой сессии.
type State struct {
	Buffer  *analytics.Buffer
	Signal  *analytics.SlidingWindow
	EMA     analytics.EMA
	History []models.HistoryEntry
	// Counts точечные оценки по окнам
	Counts   map[models.Severity]int
	Recent   []models.LiveStatus
	Last     *models.LiveStatus
	Received int64
	Skipped  int

	recentLimit int
	finalized   bool
}

// Record добавляет результат окна в историю
func (st *State) Record(status models.LiveStatus, pointEstimate models.Severity, elapsed time.Duration) {
	st.History = append(st.History, models.HistoryEntry{
		Timestamp:      status.Timestamp,
		ElapsedSeconds: elapsed.Seconds(),
		ScorePercent:   status.EMAScore * 100,
		Label:          pointEstimate,
	})
	st.Counts[pointEstimate]++
	st.SetLast(status)
}

// SetLast обновляет последний статус и ограниченную ленту недавних статусов
func (st *State) SetLast(status models.LiveStatus) {
	st.Last = &status
	if st.recentLimit <= 0 {
		return
	}
	st.Recent = append(st.Recent, status)
	if over := len(st.Recent) - st.recentLimit; over > 0 {
		st.Recent = append(st.Recent[:0], st.Recent[over:]...)
	}
}

// Finalized сообщает, что сессия уже завершена и принимать данные не должна
func (st *State) Finalized() bool {
	return st.finalized
}

// Session одна сессия измерения
type Session struct {
	ID        string
	Label     string
	StartedAt time.Time
	Duration  time.Duration

	stopped atomic.Bool
	mu      sync.Mutex
	state   State
}

func newSession(id, label string, startedAt time.Time, duration time.Duration, cfg config.ClassifierConfig) (*Session, error) {
	buf, err := analytics.NewBuffer(cfg.WindowSize, cfg.Stride, cfg.MaxBufferSamples)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		Label:     label,
		StartedAt: startedAt,
		Duration:  duration,
		state: State{
			Buffer:      buf,
			Signal:      analytics.NewSlidingWindow(cfg.SignalWindow),
			Counts:      make(map[models.Severity]int),
			recentLimit: cfg.RecentHistory,
		},
	}, nil
}

// Update выполняет fn под блокировкой сессии
func (s *Session) Update(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

// View выполняет fn под блокировкой сессии только для чтения
func (s *Session) View(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Stop помечает сессию остановленной; конвейер замечает флаг на границе окна
func (s *Session) Stop() {
	s.stopped.Store(true)
}

// Stopped сообщает, была ли сессия остановлена
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// Elapsed время с начала сессии
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// Due сообщает, пора ли завершать сессию
func (s *Session) Due(now time.Time) bool {
	return s.Stopped() || s.Elapsed(now) >= s.Duration
}

// Status возвращает копию последнего статуса
func (s *Session) Status() (models.LiveStatus, bool) {
	var (
		status models.LiveStatus
		ok     bool
	)
	s.View(func(st *State) {
		if st.Last != nil {
			status, ok = *st.Last, true
		}
	})
	return status, ok
}

// RecentStatuses возвращает копию ленты недавних статусов
func (s *Session) RecentStatuses() []models.LiveStatus {
	var out []models.LiveStatus
	s.View(func(st *State) {
		out = append(out, st.Recent...)
	})
	return out
}

// History возвращает копию истории сглаженной оценки
func (s *Session) History() []models.HistoryEntry {
	var out []models.HistoryEntry
	s.View(func(st *State) {
		out = append(out, st.History...)
	})
	return out
}

// Info краткое описание активной сессии
type Info struct {
	ID         string    `json:"session_id"`
	Label      string    `json:"label,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationS  float64   `json:"duration_seconds"`
	ElapsedS   float64   `json:"elapsed_seconds"`
	Stopped    bool      `json:"stopped"`
	Windows    int       `json:"windows"`
	Received   int64     `json:"samples_received"`
	Dropped    int64     `json:"samples_dropped"`
	EMAPercent float64   `json:"ema_percent"`
}

// Info возвращает снимок сессии
func (s *Session) Info(now time.Time) Info {
	info := Info{
		ID:        s.ID,
		Label:     s.Label,
		StartedAt: s.StartedAt,
		DurationS: s.Duration.Seconds(),
		ElapsedS:  s.Elapsed(now).Seconds(),
		Stopped:   s.Stopped(),
	}
	s.View(func(st *State) {
		info.Windows = len(st.History)
		info.Received = st.Received
		info.Dropped = st.Buffer.Dropped()
		info.EMAPercent = st.EMA.Value * 100
	})
	return info
}
