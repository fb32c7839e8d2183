package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vibration-monitor/internal/metrics"
	"vibration-monitor/internal/models"
)

// Sink потребитель событий конвейера (диск, кэш, уведомления, websocket)
type Sink interface {
	Name() string
	Consume(ctx context.Context, e models.Event) error
}

// Emitter принимает события, сформированные вне блокировки сессии
type Emitter interface {
	Emit(e models.Event)
}

// criticalWait сколько Submit ждет места в очереди для предупреждения
// или итога сессии
const criticalWait = 5 * time.Second

// Dispatcher раздает события потребителям пулом воркеров. События одной
// сессии попадают в одну очередь и обрабатываются по порядку.
// Отсчеты и окна при переполнении отбрасываются, предупреждения и итоги
// ждут места в очереди до criticalWait.
type Dispatcher struct {
	sinks  []Sink
	queues []chan models.Event
	size   int
	wait   time.Duration
	log    *logrus.Entry

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher создает диспетчер с очередью bufferSize на воркер
func NewDispatcher(bufferSize int, log *logrus.Entry, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		sinks: sinks,
		size:  bufferSize,
		wait:  criticalWait,
		log:   log.WithField("component", "dispatcher"),
	}
}

// Start запускает воркеры
func (d *Dispatcher) Start(numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	d.queues = make([]chan models.Event, numWorkers)
	for i := range d.queues {
		d.queues[i] = make(chan models.Event, d.size)
		d.wg.Add(1)
		go d.worker(d.queues[i])
	}
}

// worker обрабатывает очередь до ее закрытия
func (d *Dispatcher) worker(queue <-chan models.Event) {
	defer d.wg.Done()
	ctx := context.Background()
	for e := range queue {
		d.deliver(ctx, e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e models.Event) {
	for _, s := range d.sinks {
		if err := s.Consume(ctx, e); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			d.log.WithFields(logrus.Fields{
				"sink":    s.Name(),
				"session": e.SessionID,
				"kind":    e.Kind,
			}).WithError(err).Warn("event sink failed")
		}
	}
}

// Emit ставит событие в очередь сессии
func (d *Dispatcher) Emit(e models.Event) {
	d.Submit(e)
}

// Submit ставит событие в очередь; false, если событие отброшено
func (d *Dispatcher) Submit(e models.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped || len(d.queues) == 0 {
		metrics.EventsDropped.Inc()
		return false
	}

	queue := d.queues[d.shard(e.SessionID)]
	select {
	case queue <- e:
		return true
	default:
	}

	fields := logrus.Fields{"session": e.SessionID, "kind": e.Kind}
	if !critical(e.Kind) {
		metrics.EventsDropped.Inc()
		d.log.WithFields(fields).Debug("event queue full, dropping")
		return false
	}

	timer := time.NewTimer(d.wait)
	defer timer.Stop()
	select {
	case queue <- e:
		return true
	case <-timer.C:
		metrics.EventsDropped.Inc()
		d.log.WithFields(fields).Error("event queue stuck, dropping")
		return false
	}
}

// critical события, которые повторно не формируются: предупреждение
// отправляется один раз за сессию, итог один раз при завершении
func critical(kind models.EventKind) bool {
	return kind == models.EventAlert || kind == models.EventSummary
}

func (d *Dispatcher) shard(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Stop закрывает очереди и ждет доставки оставшихся событий
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// SyncEmitter доставляет события сразу в вызывающей горутине.
// Используется командой replay и тестами.
type SyncEmitter struct {
	Sinks []Sink
}

// Emit реализует Emitter
func (s SyncEmitter) Emit(e models.Event) {
	for _, sink := range s.Sinks {
		_ = sink.Consume(context.Background(), e)
	}
}
