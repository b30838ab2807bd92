package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// DefaultMemoryQueryLogLimit bounds the in-memory query log.
const DefaultMemoryQueryLogLimit = 10000

// memoryQueryLogRepository keeps the most recent query log entries in process memory.
type memoryQueryLogRepository struct {
	mu      sync.RWMutex
	entries []*models.QueryLog
	limit   int
	clock   func() time.Time
}

// NewMemoryQueryLogRepository creates an in-memory query log that keeps at most limit
// entries, discarding the oldest. A non-positive limit uses DefaultMemoryQueryLogLimit.
func NewMemoryQueryLogRepository(limit int) QueryLogRepository {
	if limit <= 0 {
		limit = DefaultMemoryQueryLogLimit
	}
	return &memoryQueryLogRepository{limit: limit, clock: time.Now}
}

func (r *memoryQueryLogRepository) Create(_ context.Context, entry *models.QueryLog) error {
	c := *entry
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &c)
	if over := len(r.entries) - r.limit; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
	return nil
}

func (r *memoryQueryLogRepository) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*models.QueryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.QueryLog
	for _, e := range r.entries {
		if e.RequestID == requestID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memoryQueryLogRepository) SummarizeSince(_ context.Context, since time.Time) ([]StageOutcomeCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct{ stage, outcome, kind string }
	counts := map[key]int{}
	for _, e := range r.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		counts[key{e.Stage, e.Outcome, e.ErrorKind}]++
	}

	out := make([]StageOutcomeCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, StageOutcomeCount{Stage: k.stage, Outcome: k.outcome, ErrorKind: k.kind, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Outcome != b.Outcome {
			return a.Outcome < b.Outcome
		}
		return a.ErrorKind < b.ErrorKind
	})
	return out, nil
}
