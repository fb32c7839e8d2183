// Package handlers содержит HTTP обработчики API сессий измерения
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"vibration-monitor/internal/cache"
	"vibration-monitor/internal/models"
	"vibration-monitor/internal/pipeline"
	"vibration-monitor/internal/report"
	"vibration-monitor/internal/session"
	"vibration-monitor/internal/storage"
	"vibration-monitor/internal/stream"
)

// maxBodyBytes ограничение тела запроса с отсчетами
const maxBodyBytes = 4 << 20

// Handler содержит зависимости для HTTP обработчиков. cache, store и hub
// необязательны.
type Handler struct {
	pipe      *pipeline.Context
	cache     *cache.RedisCache
	store     *storage.PostgresStore
	hub       *stream.Hub
	validate  *validator.Validate
	log       *logrus.Entry
	startTime time.Time
}

// NewHandler создает новый handler
func NewHandler(pipe *pipeline.Context, c *cache.RedisCache, store *storage.PostgresStore, hub *stream.Hub, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		pipe:      pipe,
		cache:     c,
		store:     store,
		hub:       hub,
		validate:  validator.New(),
		log:       log.WithField("component", "http"),
		startTime: time.Now(),
	}
}

// StartRequest тело запроса на запуск сессии
type StartRequest struct {
	SessionID       string  `json:"session_id,omitempty" validate:"omitempty,max=128"`
	DurationMinutes float64 `json:"duration_minutes" validate:"gte=0,lte=525600"`
	Label           string  `json:"label,omitempty" validate:"omitempty,max=256"`
}

// IngestResponse ответ на пакет без session_id
type IngestResponse struct {
	Status   string            `json:"status"`
	Sessions int               `json:"sessions"`
	Results  []pipeline.Result `json:"results"`
}

// StatusResponse живой статус сессии
type StatusResponse struct {
	models.LiveStatus
	Recent []models.LiveStatus `json:"recent,omitempty"`
}

// SummaryResponse итог сессии вместе с текстовым отчетом
type SummaryResponse struct {
	Summary models.Summary `json:"summary"`
	Report  string         `json:"report"`
}

// HealthStatus состояние сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
	Model     string    `json:"model"`
	Sessions  int       `json:"active_sessions"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse статистика сервиса
type StatsResponse struct {
	ActiveSessions   int    `json:"active_sessions"`
	WindowsTotal     int64  `json:"windows_total"`
	AlertsTotal      int64  `json:"alerts_total"`
	SessionsFinished int64  `json:"sessions_finished"`
	ModelLoaded      bool   `json:"model_loaded"`
	Goroutines       int    `json:"goroutines"`
	Uptime           string `json:"uptime"`
}

// Router регистрирует маршруты API. Middleware и /prometheus добавляет
// вызывающий код.
func (h *Handler) Router(r *mux.Router) *mux.Router {
	if r == nil {
		r = mux.NewRouter()
	}
	r.HandleFunc("/raw_data", h.RawDataHandler).Methods("POST")
	r.HandleFunc("/sessions", h.StartSessionHandler).Methods("POST")
	r.HandleFunc("/sessions", h.ListSessionsHandler).Methods("GET")
	r.HandleFunc("/sessions/{id}/stop", h.StopSessionHandler).Methods("POST")
	r.HandleFunc("/sessions/{id}/status", h.StatusHandler).Methods("GET")
	r.HandleFunc("/sessions/{id}/signal", h.SignalHandler).Methods("GET")
	r.HandleFunc("/sessions/{id}/summary", h.SummaryHandler).Methods("GET")
	r.HandleFunc("/sessions/{id}/chart.svg", h.ChartHandler).Methods("GET")
	r.HandleFunc("/sessions/{id}/stream", h.StreamHandler).Methods("GET")
	r.HandleFunc("/health", h.HealthHandler).Methods("GET")
	r.HandleFunc("/stats", h.StatsHandler).Methods("GET")
	r.HandleFunc("/reports/latest", h.LatestReportsHandler).Methods("GET")
	return r
}

// RawDataHandler принимает пакет отсчетов от датчика
func (h *Handler) RawDataHandler(w http.ResponseWriter, r *http.Request) {
	var batch models.Batch
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(batch); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := batch.CheckAxes(); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if batch.Timestamp == 0 {
		batch.Timestamp = time.Now().UnixMilli()
	}
	samples := batch.Samples(h.pipe.Config.SampleRate)

	if batch.SessionID == "" {
		results := h.pipe.IngestAll(samples)
		status := "IDLE"
		if len(results) > 0 {
			status = "ACCEPTED"
		}
		respondJSON(w, IngestResponse{Status: status, Sessions: len(results), Results: results}, http.StatusOK)
		return
	}

	res, err := h.pipe.Ingest(batch.SessionID, samples)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

// StartSessionHandler запускает сессию измерения
func (h *Handler) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	duration := time.Duration(req.DurationMinutes * float64(time.Minute))
	sess, err := h.pipe.Start(req.SessionID, duration, req.Label)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}
	respondJSON(w, sess.Info(h.pipe.Sessions.Now()), http.StatusCreated)
}

// ListSessionsHandler возвращает активные сессии
func (h *Handler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	now := h.pipe.Sessions.Now()
	active := h.pipe.Sessions.Active()
	infos := make([]session.Info, 0, len(active))
	for _, sess := range active {
		infos = append(infos, sess.Info(now))
	}
	respondJSON(w, infos, http.StatusOK)
}

// StopSessionHandler останавливает сессию
func (h *Handler) StopSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.pipe.Stop(id); err != nil {
		h.respondCoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"session_id": id, "status": models.StatusStopped}, http.StatusOK)
}

// StatusHandler возвращает последний статус сессии
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.pipe.Sessions.Get(id)
	if err == nil {
		status, ok := sess.Status()
		if !ok {
			status = waitingStatus(id)
		}
		respondJSON(w, StatusResponse{LiveStatus: status, Recent: sess.RecentStatuses()}, http.StatusOK)
		return
	}

	if _, done := h.pipe.Sessions.Summary(id); done {
		respondJSON(w, StatusResponse{LiveStatus: models.LiveStatus{
			SessionID: id,
			Status:    models.StatusFinalized,
			Severity:  models.SeverityUnknown,
		}}, http.StatusOK)
		return
	}
	if h.cache != nil {
		if status, cerr := h.cache.GetStatus(r.Context(), id); cerr == nil {
			respondJSON(w, StatusResponse{LiveStatus: status}, http.StatusOK)
			return
		}
	}
	if h.store != nil {
		if recent := h.storedWindows(r.Context(), id); len(recent) > 0 {
			respondJSON(w, StatusResponse{LiveStatus: recent[len(recent)-1], Recent: recent}, http.StatusOK)
			return
		}
	}
	h.respondCoreError(w, err)
}

// storedWindows последние окна сессии из PostgreSQL, старые первыми
func (h *Handler) storedWindows(ctx context.Context, id string) []models.LiveStatus {
	limit := h.pipe.Config.RecentHistory
	if limit <= 0 {
		limit = 1
	}
	recent, err := h.store.RecentWindows(ctx, id, limit)
	if err != nil {
		h.log.WithField("session", id).WithError(err).Warn("load stored windows failed")
		return nil
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// SignalHandler проверяет, что датчик передает живой сигнал
func (h *Handler) SignalHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.pipe.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondCoreError(w, err)
		return
	}
	respondJSON(w, sess.SignalCheck(h.pipe.Config.FlatStdDev), http.StatusOK)
}

// SummaryHandler возвращает итог сессии, завершая ее, если пора
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sum, err := h.lookupSummary(r.Context(), id)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}
	respondJSON(w, SummaryResponse{Summary: sum, Report: report.Text(sum)}, http.StatusOK)
}

// ChartHandler отдает график сглаженной оценки в SVG
func (h *Handler) ChartHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var history []models.HistoryEntry
	if sess, err := h.pipe.Sessions.Get(id); err == nil {
		history = sess.History()
	} else {
		sum, err := h.lookupSummary(r.Context(), id)
		if err != nil {
			h.respondCoreError(w, err)
			return
		}
		history = sum.History
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	w.Write(report.Chart("Damage score: "+id, history, h.pipe.Config.AlertThreshold))
}

// StreamHandler подписывает клиента на живой статус по websocket
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, "Streaming is disabled", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	sess, err := h.pipe.Sessions.Get(id)
	if err != nil {
		h.respondCoreError(w, err)
		return
	}
	var initial *models.LiveStatus
	if status, ok := sess.Status(); ok {
		initial = &status
	}
	h.hub.ServeSession(w, r, id, initial)
}

// HealthHandler проверяет здоровье сервиса
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disabled"
	if h.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		redisStatus = "connected"
		if err := h.cache.Ping(ctx); err != nil {
			redisStatus = "disconnected"
		}
	}

	modelStatus := "loaded"
	if !h.pipe.Scorer.Loaded() {
		modelStatus = "unavailable"
	}

	status := "healthy"
	if redisStatus == "disconnected" {
		status = "degraded"
	}

	respondJSON(w, HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Redis:     redisStatus,
		Model:     modelStatus,
		Sessions:  h.pipe.Sessions.Count(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}, http.StatusOK)
}

// StatsHandler возвращает статистику
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := StatsResponse{
		ActiveSessions: h.pipe.Sessions.Count(),
		ModelLoaded:    h.pipe.Scorer.Loaded(),
		Goroutines:     runtime.NumGoroutine(),
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.cache != nil {
		ctx := r.Context()
		stats.WindowsTotal, _ = h.cache.GetCounter(ctx, cache.WindowsCounterKey)
		stats.AlertsTotal, _ = h.cache.GetCounter(ctx, cache.AlertsCounterKey)
		stats.SessionsFinished, _ = h.cache.GetCounter(ctx, cache.SessionsCounterKey)
	}
	respondJSON(w, stats, http.StatusOK)
}

// LatestReportsHandler возвращает последние отчеты по окнам
func (h *Handler) LatestReportsHandler(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		respondError(w, "Redis cache is disabled", http.StatusServiceUnavailable)
		return
	}

	count := int64(10)
	if c := r.URL.Query().Get("count"); c != "" {
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil || n <= 0 || n > cache.LatestReportsLimit {
			respondError(w, "Invalid count parameter", http.StatusBadRequest)
			return
		}
		count = n
	}

	reports, err := h.cache.GetLatestReports(r.Context(), count)
	if err != nil {
		respondError(w, "Failed to get reports", http.StatusInternalServerError)
		return
	}
	respondJSON(w, reports, http.StatusOK)
}

// lookupSummary ищет итог в памяти, затем в Redis и Postgres
func (h *Handler) lookupSummary(ctx context.Context, id string) (models.Summary, error) {
	sum, err := h.pipe.Summary(id)
	if err == nil || !errors.Is(err, models.ErrSessionNotFound) {
		return sum, err
	}
	if h.cache != nil {
		if cached, cerr := h.cache.GetSummary(ctx, id); cerr == nil {
			return cached, nil
		}
	}
	if h.store != nil {
		stored, serr := h.store.GetSummary(ctx, id)
		if serr == nil {
			return stored, nil
		}
		if !errors.Is(serr, models.ErrSessionNotFound) {
			h.log.WithField("session", id).WithError(serr).Warn("summary lookup failed")
		}
	}
	return models.Summary{}, err
}

// respondCoreError переводит ошибки конвейера в HTTP статусы
func (h *Handler) respondCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrSessionExists), errors.Is(err, models.ErrInsufficientData):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrMalformedInput):
		respondError(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.WithError(err).Error("request failed")
		respondError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func waitingStatus(id string) models.LiveStatus {
	return models.LiveStatus{
		SessionID: id,
		Status:    models.StatusWaiting,
		Window:    -1,
		Severity:  models.SeverityUnknown,
	}
}

// respondJSON отправляет JSON ответ
func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку
func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
