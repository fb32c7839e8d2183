package models

// EventKind тип события конвейера, обрабатываемого вне блокировки сессии
type EventKind string

const (
	EventSamples EventKind = "samples"
	EventWindow  EventKind = "window"
	EventAlert   EventKind = "alert"
	EventSummary EventKind = "summary"
)

// Event событие для внешних потребителей: запись на диск, кэш,
// уведомления, websocket
type Event struct {
	Kind      EventKind   `json:"kind"`
	SessionID string      `json:"session_id"`
	Samples   []Sample    `json:"samples,omitempty"`
	Status    *LiveStatus `json:"status,omitempty"`
	Alert     *Alert      `json:"alert,omitempty"`
	Summary   *Summary    `json:"summary,omitempty"`
}
