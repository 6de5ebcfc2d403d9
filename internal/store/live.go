package store

import (
	"context"
	"sync"
	"time"
)

// subscription is one live query's interest in a set of tables. wake holds
// at most one pending notification, so bursts of writes coalesce into a
// single re-evaluation.
type subscription struct {
	tables map[string]struct{}
	wake   chan struct{}
}

func (sub *subscription) signal() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// hub fans committed writes out to the live queries that depend on the
// written tables.
type hub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

func (h *hub) subscribe(tables []string) *subscription {
	sub := &subscription{
		tables: make(map[string]struct{}, len(tables)),
		wake:   make(chan struct{}, 1),
	}
	for _, t := range tables {
		sub.tables[t] = struct{}{}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// notify wakes every subscription that depends on any of tables.
func (h *hub) notify(tables ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		for _, t := range tables {
			if _, ok := sub.tables[t]; ok {
				sub.signal()
				break
			}
		}
	}
}

// notifyAll wakes every subscription. Used after the store file is reopened,
// since it may have been replaced wholesale.
func (h *hub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.signal()
	}
}

// Snapshot is one evaluation of a live query. Seq increases by one with
// every snapshot a subscription emits.
type Snapshot[T any] struct {
	Seq   uint64
	Value T
	Err   error
	At    time.Time
}

// Query is a read projection together with the tables it depends on.
type Query[T any] struct {
	Tables []string
	Run    func(ctx context.Context, s *Store) (T, error)
}

// Watch evaluates q now and again after every committed write to one of
// q.Tables, sending each result on the returned channel. Evaluations of one
// watch run one at a time, so its snapshots never go backwards. A slow
// receiver sees the latest state rather than every intermediate one. The
// channel is closed when ctx is done.
func Watch[T any](ctx context.Context, s *Store, q Query[T]) <-chan Snapshot[T] {
	out := make(chan Snapshot[T], 1)
	sub := s.live.subscribe(q.Tables)

	go func() {
		defer close(out)
		defer s.live.unsubscribe(sub)

		var seq uint64
		for {
			seq++
			v, err := q.Run(ctx, s)
			liveEvaluationsTotal.Inc()
			if ctx.Err() != nil {
				return
			}

			select {
			case out <- Snapshot[T]{Seq: seq, Value: v, Err: err, At: s.now()}:
			case <-ctx.Done():
				return
			}

			select {
			case <-sub.wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// AllRecordsQuery watches ListRecords.
func AllRecordsQuery() Query[[]WorkRecord] {
	return Query[[]WorkRecord]{
		Tables: []string{tableRecords},
		Run: func(ctx context.Context, s *Store) ([]WorkRecord, error) {
			return s.ListRecords(ctx)
		},
	}
}

// RecordsBetweenQuery watches RecordsBetween over the closed range r.
func RecordsBetweenQuery(r Range) Query[[]WorkRecord] {
	return Query[[]WorkRecord]{
		Tables: []string{tableRecords},
		Run: func(ctx context.Context, s *Store) ([]WorkRecord, error) {
			return s.RecordsBetween(ctx, r.Start, r.End)
		},
	}
}

// RecordDaysQuery watches RecordDaysInMonth over the half-open [start, end).
func RecordDaysQuery(start, end time.Time) Query[[]time.Time] {
	return Query[[]time.Time]{
		Tables: []string{tableRecords},
		Run: func(ctx context.Context, s *Store) ([]time.Time, error) {
			return s.RecordDaysInMonth(ctx, start, end)
		},
	}
}

// StyleStatsQuery watches StyleStats; a nil range covers every record.
func StyleStatsQuery(r *Range) Query[[]StyleStat] {
	return Query[[]StyleStat]{
		Tables: []string{tableRecords},
		Run: func(ctx context.Context, s *Store) ([]StyleStat, error) {
			return s.StyleStats(ctx, r)
		},
	}
}

// TotalAmountQuery watches TotalAmountBetween over the closed range r.
func TotalAmountQuery(r Range) Query[float64] {
	return Query[float64]{
		Tables: []string{tableRecords},
		Run: func(ctx context.Context, s *Store) (float64, error) {
			return s.TotalAmountBetween(ctx, r.Start, r.End)
		},
	}
}

// ColorGroupsQuery watches ListColorGroups.
func ColorGroupsQuery() Query[[]ColorGroup] {
	return Query[[]ColorGroup]{
		Tables: []string{tableGroups},
		Run: func(ctx context.Context, s *Store) ([]ColorGroup, error) {
			return s.ListColorGroups(ctx)
		},
	}
}

// ColorPresetsQuery watches ListColorPresets.
func ColorPresetsQuery() Query[[]ColorPreset] {
	return Query[[]ColorPreset]{
		Tables: []string{tablePresets},
		Run: func(ctx context.Context, s *Store) ([]ColorPreset, error) {
			return s.ListColorPresets(ctx)
		},
	}
}

// ProcessesQuery watches the active processes.
func ProcessesQuery() Query[[]Process] {
	return Query[[]Process]{
		Tables: []string{tableProcesses},
		Run: func(ctx context.Context, s *Store) ([]Process, error) {
			return s.ListProcesses(ctx)
		},
	}
}

// StylesQuery watches ListStyles.
func StylesQuery() Query[[]Style] {
	return Query[[]Style]{
		Tables: []string{tableStyles},
		Run: func(ctx context.Context, s *Store) ([]Style, error) {
			return s.ListStyles(ctx)
		},
	}
}
