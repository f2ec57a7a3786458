package attempt

import (
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// RetryQueue holds autosave payloads that failed to send, oldest first.
// It lives in memory only: after a restart the local draft is the source of
// truth for answers and the next periodic autosave carries them.
type RetryQueue struct {
	items []model.AutosavePayload
}

// Push appends p at the tail.
func (q *RetryQueue) Push(p model.AutosavePayload) {
	q.items = append(q.items, p)
}

// PushFront puts p back at the head.
func (q *RetryQueue) PushFront(p model.AutosavePayload) {
	q.items = append([]model.AutosavePayload{p}, q.items...)
}

// Pop removes and returns the oldest payload.
func (q *RetryQueue) Pop() (model.AutosavePayload, bool) {
	if len(q.items) == 0 {
		return model.AutosavePayload{}, false
	}
	p := q.items[0]
	q.items[0] = model.AutosavePayload{}
	q.items = q.items[1:]
	return p, true
}

// DropSavedBefore removes payloads saved before t and reports how many went.
// Every payload carries the full answer set, so once a later one reached the
// server the older ones have nothing left to deliver.
func (q *RetryQueue) DropSavedBefore(t time.Time) int {
	kept := q.items[:0]
	for _, p := range q.items {
		if !p.SavedAt.Before(t) {
			kept = append(kept, p)
		}
	}
	dropped := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return dropped
}

func (q *RetryQueue) Len() int { return len(q.items) }
