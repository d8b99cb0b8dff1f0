// Package report provides per-goroutine last-error slots for the
// handle-based API boundary. Each public entry point clears the calling
// goroutine's slot, records a human-readable message on failure, and
// the companion retrieval call takes the message exactly once.
//
// A Reporter is an explicit object so tests can construct their own;
// the root package owns the process-wide instance.
package report

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Reporter holds one message slot per goroutine. All methods are safe
// for concurrent use; calls on one goroutine never observe or disturb
// another goroutine's slot.
//
// Slots persist only between a failed call and the next call on the
// same goroutine: entry points clear on entry, so the map stays
// bounded by the number of goroutines with an unretrieved error.
type Reporter struct {
	slots sync.Map // goroutine id -> string
}

// New creates an empty Reporter.
func New() *Reporter {
	return &Reporter{}
}

// Record stores err's message in the calling goroutine's slot,
// replacing any previous message. A nil err is ignored.
func (r *Reporter) Record(err error) {
	if err == nil {
		return
	}
	r.slots.Store(goid(), err.Error())
}

// Take returns the calling goroutine's message and clears the slot.
// It returns "" when no error has been recorded since the last Take
// or Clear.
func (r *Reporter) Take() string {
	v, ok := r.slots.LoadAndDelete(goid())
	if !ok {
		return ""
	}
	return v.(string)
}

// Clear empties the calling goroutine's slot.
func (r *Reporter) Clear() {
	r.slots.Delete(goid())
}

var stackPrefix = []byte("goroutine ")

// goid extracts the runtime's goroutine id from the stack header.
// There is no public accessor; the header format "goroutine N [state]:"
// has been stable across every Go release this module supports.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], stackPrefix)
	i := bytes.IndexByte(s, ' ')
	if i <= 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(s[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
