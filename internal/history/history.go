// Package history keeps the ordered, append-only log of each student's
// submissions and rebuilds per-cell timelines from it.
package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/sheetaudit/internal/grid"
)

// UnknownStudent keys the history of submissions that carry no usable id.
const UnknownStudent = "unknown"

// ErrInvalidStudent is returned for ids that cannot key a history.
var ErrInvalidStudent = errors.New("invalid student id")

// Entry is one analyzed submission.
type Entry struct {
	Timestamp      time.Time     `json:"timestamp"`
	Filename       string        `json:"filename"`
	DeclaredHash   string        `json:"declared_hash"`
	RecomputedHash string        `json:"recomputed_hash"`
	Authenticity   string        `json:"authenticity"`
	Values         grid.Snapshot `json:"values"`
}

// Store is a keyed, append-only store of history entries. Load returns
// entries in append order.
type Store interface {
	Append(ctx context.Context, studentID string, e Entry) error
	Load(ctx context.Context, studentID string) ([]Entry, error)
	// Purge removes a student's whole history. It is an administrative
	// action and reports whether anything was removed.
	Purge(ctx context.Context, studentID string) (bool, error)
	Students(ctx context.Context) ([]Summary, error)
}

// Summary describes one stored history.
type Summary struct {
	StudentID string    `json:"student_id"`
	Count     int       `json:"count"`
	Last      time.Time `json:"last"`
}

// Key normalizes the id under which a submission is filed: the declared id,
// else the id expected from the filename, else UnknownStudent.
func Key(ids ...string) string {
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return UnknownStudent
}

// Point is one value a cell held, starting at Timestamp.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
}

// Timeline maps an A1 address to the successive values of the cell.
type Timeline map[string][]Point

// BuildTimeline folds entries in order, recording a point for an address
// only when its value differs from the last point recorded for it. The first
// observation of an address is always recorded.
func BuildTimeline(entries []Entry) Timeline {
	t := make(Timeline)
	for _, e := range entries {
		for addr, v := range e.Values {
			pts := t[addr]
			if n := len(pts); n > 0 && pts[n-1].Value == v {
				continue
			}
			t[addr] = append(pts, Point{Timestamp: e.Timestamp, Value: v})
		}
	}
	return t
}

// Addresses returns the timeline's addresses ordered row-major.
func (t Timeline) Addresses() []string {
	out := make([]string, 0, len(t))
	for a := range t {
		out = append(out, a)
	}
	grid.SortAddressStrings(out)
	return out
}

// Changed returns the addresses whose value changed at least once, ordered
// row-major.
func (t Timeline) Changed() []string {
	var out []string
	for a, pts := range t {
		if len(pts) > 1 {
			out = append(out, a)
		}
	}
	grid.SortAddressStrings(out)
	return out
}

// AttemptIndex is the 1-based index of a submission that follows prior.
func AttemptIndex(prior []Entry) int {
	return len(prior) + 1
}

// SincePrevious returns the delay between now and the last prior entry; ok
// is false on a first submission.
func SincePrevious(prior []Entry, now time.Time) (d time.Duration, ok bool) {
	if len(prior) == 0 {
		return 0, false
	}
	return now.Sub(prior[len(prior)-1].Timestamp), true
}

// Previous returns the snapshot of the last prior entry, or nil.
func Previous(prior []Entry) grid.Snapshot {
	if len(prior) == 0 {
		return nil
	}
	v := prior[len(prior)-1].Values
	if v == nil {
		return grid.Snapshot{}
	}
	return v
}

// KeyedMutex serializes work per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool { return s[i].StudentID < s[j].StudentID })
}
