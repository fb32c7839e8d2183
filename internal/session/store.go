package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/models"
)

// maxSummaries число итоговых отчетов, хранимых после завершения сессий
const maxSummaries = 256

// Store реестр активных сессий. Блокировка реестра защищает только карту;
// состояние каждой сессии защищено собственной блокировкой.
// Идентификатор завершенной сессии повторно не выдается.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	finishing map[string]struct{}
	recorded  func(id string) bool

	doneMu    sync.RWMutex
	summaries map[string]models.Summary
	doneOrder []string

	cfg config.ClassifierConfig
	now func() time.Time
}

// NewStore создает пустой реестр
func NewStore(cfg config.ClassifierConfig) *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		finishing: make(map[string]struct{}),
		summaries: make(map[string]models.Summary),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock подменяет источник времени
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetRecorded задает проверку сессий, записанных в хранилища до запуска
// процесса. Такие идентификаторы Start отклоняет.
func (s *Store) SetRecorded(fn func(id string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = fn
}

// Now текущее время по часам реестра
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Start запускает сессию. Пустой id заменяется сгенерированным UUID.
func (s *Store) Start(id string, duration time.Duration, label string) (*Session, error) {
	if duration < 0 {
		return nil, fmt.Errorf("%w: negative duration %s", models.ErrMalformedInput, duration)
	}
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.RLock()
	recorded := s.recorded
	s.mu.RUnlock()
	if recorded != nil && recorded(id) {
		return nil, fmt.Errorf("%w: %s already recorded", models.ErrSessionExists, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionExists, id)
	}
	if _, ok := s.finishing[id]; ok {
		return nil, fmt.Errorf("%w: %s is finishing", models.ErrSessionExists, id)
	}
	if _, ok := s.Summary(id); ok {
		return nil, fmt.Errorf("%w: %s already finished", models.ErrSessionExists, id)
	}
	sess, err := newSession(id, label, s.now(), duration, s.cfg)
	if err != nil {
		return nil, err
	}
	s.sessions[id] = sess
	return sess, nil
}

// Get возвращает активную сессию
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return sess, nil
}

// Stop помечает сессию остановленной. Повторная остановка не ошибка.
func (s *Store) Stop(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Stop()
	return nil
}

// IsDue сообщает, пора ли завершать сессию
func (s *Store) IsDue(id string) (bool, error) {
	sess, err := s.Get(id)
	if err != nil {
		return false, err
	}
	return sess.Due(s.Now()), nil
}

// Active возвращает активные сессии в порядке запуска
func (s *Store) Active() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Due возвращает идентификаторы сессий, которые пора завершить
func (s *Store) Due() []string {
	now := s.Now()
	var ids []string
	for _, sess := range s.Active() {
		if sess.Due(now) {
			ids = append(ids, sess.ID)
		}
	}
	return ids
}

// Count число активных сессий
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Finalize удаляет сессию из реестра и собирает итоговый отчет.
// Пакеты, уже захватившие сессию, увидят признак завершения и не
// изменят ее состояние.
func (s *Store) Finalize(id string) (models.Summary, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		s.finishing[id] = struct{}{}
	}
	finishedAt := s.now()
	s.mu.Unlock()

	if !ok {
		return models.Summary{}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}

	var summary models.Summary
	_ = sess.Update(func(st *State) error {
		st.finalized = true
		summary = sess.buildSummary(st, finishedAt)
		return nil
	})
	s.remember(summary)

	s.mu.Lock()
	delete(s.finishing, id)
	s.mu.Unlock()
	return summary, nil
}

// Summary возвращает отчет завершенной сессии
func (s *Store) Summary(id string) (models.Summary, bool) {
	s.doneMu.RLock()
	defer s.doneMu.RUnlock()
	sum, ok := s.summaries[id]
	return sum, ok
}

func (s *Store) remember(sum models.Summary) {
	s.doneMu.Lock()
	defer s.doneMu.Unlock()

	if _, ok := s.summaries[sum.SessionID]; !ok {
		s.doneOrder = append(s.doneOrder, sum.SessionID)
	}
	s.summaries[sum.SessionID] = sum
	for len(s.doneOrder) > maxSummaries {
		delete(s.summaries, s.doneOrder[0])
		s.doneOrder = s.doneOrder[1:]
	}
}
