package graph

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/hupe1980/vecgraph/codec"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
)

var (
	// ErrEntityNotFound is returned when an entity id is unknown.
	ErrEntityNotFound = fmt.Errorf("entity %w", errs.ErrNotFound)

	// ErrChunkNotFound is returned when a chunk id or row is unknown.
	ErrChunkNotFound = fmt.Errorf("chunk %w", errs.ErrNotFound)

	// ErrRelationNotFound is returned when a relation key is unknown.
	ErrRelationNotFound = fmt.Errorf("relation %w", errs.ErrNotFound)
)

var (
	prefixEntity   = []byte("e/")
	prefixRelation = []byte("r/")
	prefixChunk    = []byte("c/")

	seqEntity   = []byte("seq/entity")
	seqRelation = []byte("seq/relation")
	seqChunk    = []byte("seq/chunk")
)

// sequenceBandwidth is the number of ids leased from Badger at once.
const sequenceBandwidth = 128

func entityKey(id uint64) []byte   { return idKey(prefixEntity, id) }
func relationKey(id uint64) []byte { return idKey(prefixRelation, id) }
func chunkKey(id string) []byte    { return append(append([]byte{}, prefixChunk...), id...) }

func idKey(prefix []byte, id uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], id)
	return k
}

// Store is a Badger-backed knowledge graph for one workspace.
type Store struct {
	opts   Options
	codec  codec.Codec
	logger *slog.Logger
	db     *badger.DB

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence

	mu        sync.RWMutex
	closed    bool
	entities  map[uint64]*model.Entity
	byKey     map[string]uint64
	byName    map[string][]uint64
	tokens    map[string][]uint64
	relations map[uint64]*model.Relation
	relByKey  map[model.RelationKey]uint64
	out       map[uint64][]uint64
	in        map[uint64][]uint64
	chunks    map[string]*model.Chunk
	chunkRows map[uint64]string
}

// Open opens or creates a graph store.
func Open(optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, errs.Invalid("dimension", "must be positive, got %d", opts.Dimension)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.MaxVisited <= 0 {
		opts.MaxVisited = DefaultMaxVisited
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bopts := badger.DefaultOptions(opts.Dir).
		WithLogger(&badgerLogger{logger: logger.With("component", "badger")}).
		WithSyncWrites(opts.SyncWrites)
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true).WithMemTableSize(16 << 20)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	s := &Store{
		opts:   opts,
		codec:  opts.Codec,
		logger: logger,
		db:     db,
	}
	s.resetMaps()

	if err := s.acquireSequences(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(); err != nil {
		s.releaseSequences()
		_ = db.Close()
		return nil, err
	}

	logger.Debug("graph store opened",
		"dir", opts.Dir,
		"entities", len(s.entities),
		"relations", len(s.relations),
		"chunks", len(s.chunks),
	)
	return s, nil
}

// Dimension returns the embedding dimension of the store.
func (s *Store) Dimension() int { return s.opts.Dimension }

// Close releases the id sequences and closes Badger.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.releaseSequences()
	return s.db.Close()
}

func (s *Store) resetMaps() {
	s.entities = make(map[uint64]*model.Entity)
	s.byKey = make(map[string]uint64)
	s.byName = make(map[string][]uint64)
	s.tokens = make(map[string][]uint64)
	s.relations = make(map[uint64]*model.Relation)
	s.relByKey = make(map[model.RelationKey]uint64)
	s.out = make(map[uint64][]uint64)
	s.in = make(map[uint64][]uint64)
	s.chunks = make(map[string]*model.Chunk)
	s.chunkRows = make(map[uint64]string)
}

func (s *Store) acquireSequences() error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	s.seqs = make(map[string]*badger.Sequence, 3)
	for _, k := range [][]byte{seqEntity, seqRelation, seqChunk} {
		seq, err := s.db.GetSequence(k, sequenceBandwidth)
		if err != nil {
			for _, acquired := range s.seqs {
				_ = acquired.Release()
			}
			s.seqs = nil
			return fmt.Errorf("acquire sequence %s: %w", k, err)
		}
		s.seqs[string(k)] = seq
	}
	return nil
}

func (s *Store) releaseSequences() {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	for name, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.logger.Warn("release sequence", "sequence", name, "error", err)
		}
	}
	s.seqs = nil
}

// nextID returns the next id of the sequence. Ids start at 1.
func (s *Store) nextID(key []byte) (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	seq, ok := s.seqs[string(key)]
	if !ok {
		return 0, errs.ErrClosed
	}
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// load fills the in-memory maps from Badger.
func (s *Store) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		if err := scan(txn, prefixEntity, func(val []byte) error {
			var e model.Entity
			if err := s.codec.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decode entity: %w", err)
			}
			s.indexEntity(&e)
			return nil
		}); err != nil {
			return err
		}
		if err := scan(txn, prefixChunk, func(val []byte) error {
			var c model.Chunk
			if err := s.codec.Unmarshal(val, &c); err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			s.chunks[c.ID] = &c
			s.chunkRows[c.Row] = c.ID
			return nil
		}); err != nil {
			return err
		}
		// Relation ids are big-endian keys, so adjacency lists come out sorted.
		return scan(txn, prefixRelation, func(val []byte) error {
			var r model.Relation
			if err := s.codec.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode relation: %w", err)
			}
			s.indexRelation(&r)
			return nil
		})
	})
}

func scan(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// indexEntity registers a new entity in every in-memory index.
func (s *Store) indexEntity(e *model.Entity) {
	s.entities[e.ID] = e
	s.byKey[e.Key] = e.ID

	name := model.NormalizeName(e.Name)
	s.byName[name] = append(s.byName[name], e.ID)
	for _, tok := range uniqueTokens(name) {
		s.tokens[tok] = append(s.tokens[tok], e.ID)
	}
}

func (s *Store) indexRelation(r *model.Relation) {
	s.relations[r.ID] = r
	s.relByKey[r.Key()] = r.ID
	s.out[r.SourceID] = append(s.out[r.SourceID], r.ID)
	s.in[r.TargetID] = append(s.in[r.TargetID], r.ID)
}

func uniqueTokens(normalized string) []string {
	toks := model.Tokens(normalized)
	seen := make(map[string]struct{}, len(toks))
	out := toks[:0]
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// put encodes v and writes it under key.
func (s *Store) put(key []byte, v any) error {
	val, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// checkOpen returns ErrClosed after Close. Callers hold s.mu.
func (s *Store) checkOpen() error {
	if s.closed {
		return errs.ErrClosed
	}
	return nil
}

// badgerLogger routes Badger's printf-style logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Infof is demoted to debug; Badger reports every compaction at info level.
func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var _ badger.Logger = (*badgerLogger)(nil)
