package webhooks

import (
	"sync"
	"time"
)

// ReceiptStatus is how the endpoint disposed of an inbound request
type ReceiptStatus string

const (
	ReceiptAccepted  ReceiptStatus = "accepted"
	ReceiptDuplicate ReceiptStatus = "duplicate"
	ReceiptChallenge ReceiptStatus = "challenge"
	ReceiptRejected  ReceiptStatus = "rejected"
	ReceiptFailed    ReceiptStatus = "failed"
)

// Receipt records one inbound request to the event endpoint
type Receipt struct {
	EventID    string        `json:"event_id,omitempty"`
	EventType  string        `json:"event_type,omitempty"`
	Status     ReceiptStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
	Duration   time.Duration `json:"duration"`
}

// ReceiptLog keeps the most recent receipts in a fixed-size ring
type ReceiptLog struct {
	mu       sync.RWMutex
	receipts []Receipt
	next     int
	full     bool
}

// NewReceiptLog creates a log holding up to size receipts
func NewReceiptLog(size int) *ReceiptLog {
	if size <= 0 {
		size = 1000
	}
	return &ReceiptLog{receipts: make([]Receipt, size)}
}

// Add records a receipt, overwriting the oldest one when full
func (l *ReceiptLog) Add(r Receipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts[l.next] = r
	l.next = (l.next + 1) % len(l.receipts)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit receipts, newest first
func (l *ReceiptLog) Recent(limit int) []Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := l.next
	if l.full {
		count = len(l.receipts)
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]Receipt, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.receipts)) % len(l.receipts)
		out = append(out, l.receipts[idx])
	}
	return out
}

// Stats summarizes the receipts currently held
func (l *ReceiptLog) Stats() ReceiptStats {
	all := l.Recent(0)
	stats := ReceiptStats{Total: len(all), ByStatus: make(map[ReceiptStatus]int)}

	var total time.Duration
	for _, r := range all {
		stats.ByStatus[r.Status]++
		total += r.Duration
	}
	if len(all) > 0 {
		stats.AverageDuration = total / time.Duration(len(all))
	}
	return stats
}

// ReceiptStats represents receipt statistics
type ReceiptStats struct {
	Total           int                   `json:"total"`
	ByStatus        map[ReceiptStatus]int `json:"by_status"`
	AverageDuration time.Duration         `json:"average_duration"`
}
