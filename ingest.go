package vecgraph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
)

// EntityRef identifies a relation endpoint. Resolution uses ID when set,
// the normalized name and type key when HasType is set, and otherwise the
// name alone, which must match exactly one entity.
type EntityRef struct {
	ID      uint64
	Name    string
	Type    model.EntityType
	HasType bool
}

// RefID refers to an entity by id.
func RefID(id uint64) EntityRef { return EntityRef{ID: id} }

// RefName refers to the only entity with the given normalized name.
func RefName(name string) EntityRef { return EntityRef{Name: name} }

// RefKey refers to an entity by normalized name and type.
func RefKey(name string, t model.EntityType) EntityRef {
	return EntityRef{Name: name, Type: t, HasType: true}
}

func (r EntityRef) String() string {
	switch {
	case r.ID != 0:
		return "#" + strconv.FormatUint(r.ID, 10)
	case r.HasType:
		return model.EntityKey(r.Name, r.Type)
	default:
		return r.Name
	}
}

// RelationRecord is a relation whose endpoints are resolved at ingestion.
type RelationRecord struct {
	Source        EntityRef
	Target        EntityRef
	Label         string
	Description   string
	Weight        float64
	SourceChunkID string
	Timestamp     time.Time
}

// Batch is a unit of ingestion. Chunks are written first, then entities,
// then relations, so relations can reference entities of the same batch.
type Batch struct {
	Chunks    []model.ChunkInput
	Entities  []model.EntityInput
	Relations []RelationRecord
}

// Len returns the number of records in b.
func (b Batch) Len() int { return len(b.Chunks) + len(b.Entities) + len(b.Relations) }

// Outcome is the result of ingesting one record.
type Outcome uint8

const (
	// OutcomeCreated means a new record was inserted.
	OutcomeCreated Outcome = iota
	// OutcomeMerged means the record was merged into an existing one.
	OutcomeMerged
	// OutcomeFailed means the record was not written; see RecordResult.Err.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeMerged:
		return "merged"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func outcome(created bool, err error) Outcome {
	switch {
	case err != nil:
		return OutcomeFailed
	case created:
		return OutcomeCreated
	default:
		return OutcomeMerged
	}
}

// RecordResult reports the outcome of one record. Index is the position of
// the record within its slice of the batch.
type RecordResult struct {
	Index   int     `json:"index"`
	Key     string  `json:"key"`
	ID      uint64  `json:"id,omitempty"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// BatchResult lists the per-record outcomes of a batch.
type BatchResult struct {
	ID        string
	Chunks    []RecordResult
	Entities  []RecordResult
	Relations []RecordResult
	Elapsed   time.Duration
}

// Failed returns the number of failed records.
func (r *BatchResult) Failed() int {
	n := 0
	for _, set := range [][]RecordResult{r.Chunks, r.Entities, r.Relations} {
		for _, rr := range set {
			if rr.Outcome == OutcomeFailed {
				n++
			}
		}
	}
	return n
}

// Err joins the errors of all failed records.
func (r *BatchResult) Err() error {
	var errList []error
	for _, set := range [][]RecordResult{r.Chunks, r.Entities, r.Relations} {
		for _, rr := range set {
			if rr.Err != nil {
				errList = append(errList, fmt.Errorf("%s: %w", rr.Key, rr.Err))
			}
		}
	}
	return errors.Join(errList...)
}

// Ingest writes a batch on the ingestion worker pool. Failures are reported
// per record and never abort the batch. The returned error is non-nil only
// when the workspace is closed or ctx is done before any work starts.
func (w *Workspace) Ingest(ctx context.Context, b Batch) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := w.rlock(); err != nil {
		return nil, err
	}
	w.mu.RUnlock()

	start := time.Now()
	res := &BatchResult{
		ID:        uuid.NewString(),
		Chunks:    make([]RecordResult, len(b.Chunks)),
		Entities:  make([]RecordResult, len(b.Entities)),
		Relations: make([]RecordResult, len(b.Relations)),
	}
	logger := w.logger.WithBatch(res.ID)
	logger.DebugContext(ctx, "batch started",
		"chunks", len(b.Chunks),
		"entities", len(b.Entities),
		"relations", len(b.Relations),
	)

	w.fanOut(len(b.Chunks), func(i int) {
		in := b.Chunks[i]
		rctx, cancel := context.WithTimeout(ctx, w.db.opts.upsertTimeout)
		defer cancel()

		c, created, err := w.UpsertChunk(rctx, in)
		rr := RecordResult{Index: i, Key: in.ID, Outcome: outcome(created, err), Err: err}
		if c != nil {
			rr.Key = c.ID
			rr.ID = c.Row
		}
		res.Chunks[i] = rr
	})

	w.fanOut(len(b.Entities), func(i int) {
		in := b.Entities[i]
		rctx, cancel := context.WithTimeout(ctx, w.db.opts.upsertTimeout)
		defer cancel()

		e, created, err := w.UpsertEntity(rctx, in)
		rr := RecordResult{Index: i, Key: in.Key(), Outcome: outcome(created, err), Err: err}
		if e != nil {
			rr.ID = e.ID
		}
		res.Entities[i] = rr
	})

	w.ingestRelations(ctx, b.Relations, res.Relations)

	res.Elapsed = time.Since(start)
	failed := res.Failed()
	w.db.metrics.RecordBatch(b.Len(), failed, res.Elapsed)
	logger.LogBatch(ctx, b.Len(), failed, res.Elapsed)
	return res, nil
}

// fanOut runs fn for 0..n-1 on at most ingestWorkers goroutines and waits.
func (w *Workspace) fanOut(n int, fn func(i int)) {
	if n == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(w.db.opts.ingestWorkers)
	for i := range n {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// ingestRelations resolves and writes relations in rounds. Records whose
// endpoints are not found stay queued for the next round; after the retry
// budget they fail with an OrphanRelationError.
func (w *Workspace) ingestRelations(ctx context.Context, recs []RelationRecord, out []RecordResult) {
	queue := make([]int, len(recs))
	for i := range queue {
		queue[i] = i
	}
	lastErr := make([]error, len(recs))
	backoff := w.db.opts.relationBackoff
	retries := w.db.opts.relationRetries

	for attempt := 1; len(queue) > 0; attempt++ {
		retry := make([]bool, len(recs))
		w.fanOut(len(queue), func(j int) {
			i := queue[j]
			rec := recs[i]
			rctx, cancel := context.WithTimeout(ctx, w.db.opts.upsertTimeout)
			defer cancel()

			r, created, err := w.upsertRelationRecord(rctx, rec)
			if errors.Is(err, errs.ErrNotFound) && ctx.Err() == nil {
				lastErr[i] = err
				retry[i] = true
				return
			}
			rr := RecordResult{Index: i, Key: relationKey(rec), Outcome: outcome(created, err), Err: err}
			if r != nil {
				rr.ID = r.ID
			}
			out[i] = rr
		})

		next := queue[:0]
		for _, i := range queue {
			if retry[i] {
				next = append(next, i)
			}
		}
		queue = next
		if len(queue) == 0 {
			return
		}

		if attempt > retries || !sleep(ctx, backoff) {
			for _, i := range queue {
				rec := recs[i]
				err := errs.Orphan(rec.Source.String(), rec.Target.String(), rec.Label, attempt, lastErr[i])
				out[i] = RecordResult{Index: i, Key: relationKey(rec), Outcome: OutcomeFailed, Err: err}
				w.logger.WarnContext(ctx, "orphan relation", "relation", relationKey(rec), "attempts", attempt, "error", lastErr[i])
			}
			return
		}
		backoff *= 2
	}
}

func (w *Workspace) upsertRelationRecord(ctx context.Context, rec RelationRecord) (*model.Relation, bool, error) {
	src, err := w.resolve(rec.Source)
	if err != nil {
		return nil, false, fmt.Errorf("source %s: %w", rec.Source, err)
	}
	tgt, err := w.resolve(rec.Target)
	if err != nil {
		return nil, false, fmt.Errorf("target %s: %w", rec.Target, err)
	}
	return w.UpsertRelation(ctx, model.RelationInput{
		SourceID:      src,
		TargetID:      tgt,
		Label:         rec.Label,
		Description:   rec.Description,
		Weight:        rec.Weight,
		SourceChunkID: rec.SourceChunkID,
		Timestamp:     rec.Timestamp,
	})
}

// resolve maps ref to an entity id. A name shared by several entity types
// is ambiguous and fails with a ValidationError.
func (w *Workspace) resolve(ref EntityRef) (uint64, error) {
	if err := w.rlock(); err != nil {
		return 0, err
	}
	defer w.mu.RUnlock()

	switch {
	case ref.ID != 0:
		e, err := w.graph.Entity(ref.ID)
		if err != nil {
			return 0, err
		}
		return e.ID, nil
	case model.NormalizeName(ref.Name) == "":
		return 0, errs.Invalid("entity", "reference needs an id or a name")
	case ref.HasType:
		e, err := w.graph.EntityByKey(ref.Name, ref.Type)
		if err != nil {
			return 0, err
		}
		return e.ID, nil
	}

	matches := w.graph.EntitiesByName(ref.Name)
	switch len(matches) {
	case 0:
		return 0, fmt.Errorf("entity %q: %w", ref.Name, errs.ErrNotFound)
	case 1:
		return matches[0].ID, nil
	default:
		return 0, errs.Invalid("entity", "name %q matches %d entities of different types", ref.Name, len(matches))
	}
}

func relationKey(rec RelationRecord) string {
	return fmt.Sprintf("%s-[%s]->%s", rec.Source, model.NormalizeLabel(rec.Label), rec.Target)
}

// sleep waits for d or until ctx is done and reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
