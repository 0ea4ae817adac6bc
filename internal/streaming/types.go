package streaming

import "time"

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeSession   EventType = "session"
	EventTypeProgress  EventType = "progress"
	EventTypeRow       EventType = "row"
	EventTypeReview    EventType = "review"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionEvent reports an import session state change
type SessionEvent struct {
	ID          string     `json:"id"`
	FileName    string     `json:"fileName,omitempty"`
	State       string     `json:"state"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ProgressEvent reports commit progress across rows
type ProgressEvent struct {
	SessionID  string  `json:"sessionId"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Status     string  `json:"status"`
}

// RowEvent reports a classified transaction row during preview or commit
type RowEvent struct {
	SessionID      string  `json:"sessionId"`
	Row            int     `json:"row"`
	Date           string  `json:"date"`
	Name           string  `json:"name"`
	Amount         string  `json:"amount"`
	Classification string  `json:"classification"`
	Category       string  `json:"category,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
}

// ReviewEvent reports a payee ambiguity that needs human resolution
type ReviewEvent struct {
	SessionID string `json:"sessionId"`
	Row       int    `json:"row"`
	QBName    string `json:"qbName"`
	Decision  string `json:"decision"`
}

// CompleteEvent carries the final batch summary
type CompleteEvent struct {
	SessionID        string `json:"sessionId"`
	BatchID          string `json:"batchId"`
	Imported         int    `json:"imported"`
	Duplicates       int    `json:"duplicates"`
	InFileDuplicates int    `json:"inFileDuplicates"`
	Errors           int    `json:"errors"`
	Reimported       int    `json:"reimported"`
	Status           string `json:"status"`
}

// ErrorEvent reports a failure during preview or commit
type ErrorEvent struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Row       int    `json:"row,omitempty"`
}

// NewSessionEvent wraps a SessionEvent in an SSEEvent envelope
func NewSessionEvent(data SessionEvent) SSEEvent {
	return SSEEvent{Type: EventTypeSession, Timestamp: time.Now(), Data: data}
}

// NewProgressEvent wraps a ProgressEvent in an SSEEvent envelope
func NewProgressEvent(data ProgressEvent) SSEEvent {
	return SSEEvent{Type: EventTypeProgress, Timestamp: time.Now(), Data: data}
}

// NewRowEvent wraps a RowEvent in an SSEEvent envelope
func NewRowEvent(data RowEvent) SSEEvent {
	return SSEEvent{Type: EventTypeRow, Timestamp: time.Now(), Data: data}
}

// NewReviewEvent wraps a ReviewEvent in an SSEEvent envelope
func NewReviewEvent(data ReviewEvent) SSEEvent {
	return SSEEvent{Type: EventTypeReview, Timestamp: time.Now(), Data: data}
}

// NewCompleteEvent wraps a CompleteEvent in an SSEEvent envelope.
// A nil data pointer produces an empty terminal event.
func NewCompleteEvent(data *CompleteEvent) SSEEvent {
	e := SSEEvent{Type: EventTypeComplete, Timestamp: time.Now()}
	if data != nil {
		e.Data = *data
	}
	return e
}

// NewErrorEvent wraps an ErrorEvent in an SSEEvent envelope
func NewErrorEvent(data ErrorEvent) SSEEvent {
	return SSEEvent{Type: EventTypeError, Timestamp: time.Now(), Data: data}
}

// NewHeartbeatEvent produces a keepalive event
func NewHeartbeatEvent() SSEEvent {
	return SSEEvent{Type: EventTypeHeartbeat, Timestamp: time.Now()}
}

// ProgressData extracts the ProgressEvent payload, if present
func (e SSEEvent) ProgressData() (ProgressEvent, bool) {
	data, ok := e.Data.(ProgressEvent)
	return data, ok
}

// CompleteData extracts the CompleteEvent payload, if present
func (e SSEEvent) CompleteData() (CompleteEvent, bool) {
	data, ok := e.Data.(CompleteEvent)
	return data, ok
}

// ErrorData extracts the ErrorEvent payload, if present
func (e SSEEvent) ErrorData() (ErrorEvent, bool) {
	data, ok := e.Data.(ErrorEvent)
	return data, ok
}
