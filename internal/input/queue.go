package input

import "sync"

// Queue collects events on the viewer side until the next frame is consumed.
type Queue struct {
	mu    sync.Mutex
	keys  []KeyRecord
	mouse []MouseRecord
}

func (q *Queue) PostKey(kind Kind, key Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, KeyRecord{Kind: kind, Key: key})
}

func (q *Queue) PostMouse(r MouseRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mouse = append(q.mouse, r)
}

// Take removes up to max records using at most budget shared memory words,
// keys first. Records that do not fit stay queued for the next frame, so
// per-device order is kept. A negative max or budget means no limit.
func (q *Queue) Take(max, budget int) (keys []KeyRecord, mouse []MouseRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max < 0 {
		max = len(q.keys) + len(q.mouse)
	}
	if budget < 0 {
		budget = KeyRecordWords*len(q.keys) + MouseRecordWords*len(q.mouse)
	}
	nk := 0
	for nk < len(q.keys) && nk < max && budget >= KeyRecordWords {
		nk++
		budget -= KeyRecordWords
	}
	nm := 0
	for nm < len(q.mouse) && nk+nm < max && budget >= MouseRecordWords {
		nm++
		budget -= MouseRecordWords
	}
	keys = append([]KeyRecord(nil), q.keys[:nk]...)
	mouse = append([]MouseRecord(nil), q.mouse[:nm]...)
	q.keys = append(q.keys[:0], q.keys[nk:]...)
	q.mouse = append(q.mouse[:0], q.mouse[nm:]...)
	return keys, mouse
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys) + len(q.mouse)
}
