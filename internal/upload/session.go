package upload

import "fmt"

// Status is the lifecycle position of an upload session.
type Status int

const (
	StatusInitiated Status = iota
	StatusInProgress
	StatusFinalizing
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusInProgress:
		return "in_progress"
	case StatusFinalizing:
		return "finalizing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Session is a snapshot of one publish call's upload session. ID is the
// platform-issued locator, empty until initiation succeeds.
type Session struct {
	ID           string
	Total        int64
	Acknowledged int64
	Status       Status
	Reason       string // set when Status is StatusFailed
}

// ProgressEvent is an immutable progress snapshot.
type ProgressEvent struct {
	Sent    int64   `json:"bytes_sent"`
	Total   int64   `json:"bytes_total"`
	Percent float64 `json:"percent"`
}

func newProgressEvent(sent, total int64) ProgressEvent {
	if total <= 0 {
		return ProgressEvent{}
	}

	pct := float64(sent) * 100 / float64(total)
	if sent >= total {
		pct = 100
	}

	return ProgressEvent{Sent: sent, Total: total, Percent: pct}
}

// ProgressFunc receives progress events in order on the publishing
// goroutine. It must not block for long.
type ProgressFunc func(ProgressEvent)
