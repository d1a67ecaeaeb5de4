package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/postgres"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/samber/lo"
)

// Store keeps counters, submissions and items in process.
//
// It mirrors the postgres store closely enough to be used for a single
// instance deployment: writes are journaled per transaction and undone on
// rollback, and counter and submission locks are per key and held until the
// owning transaction ends. Every write to counters or items of a key holds
// that key's lock; writes outside a transaction run in one of their own.
// It is not safe to share between processes.
type Store struct {
	mu          sync.RWMutex
	counters    map[sequence.Key]*sequence.Counter
	submissions map[string]*submission.Submission
	items       map[string][]*submission.Item
	numbers     map[sequence.Key]map[int64]string

	locks       *keyLocks
	lockTimeout time.Duration
	logger      *logger.Logger
}

var _ postgres.IClient = (*Store)(nil)

// NewStore creates an empty store. lockTimeout bounds how long a transaction
// waits for a key lock; zero waits until the context is done.
func NewStore(logger *logger.Logger, lockTimeout time.Duration) *Store {
	return &Store{
		counters:    make(map[sequence.Key]*sequence.Counter),
		submissions: make(map[string]*submission.Submission),
		items:       make(map[string][]*submission.Item),
		numbers:     make(map[sequence.Key]map[int64]string),
		locks:       newKeyLocks(),
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

type txKey struct{}

type tx struct {
	id      string
	undo    []func()
	held    map[any]func()
	heldSeq []any
}

func getTx(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok
}

// WithTx runs fn in a transaction. A nested call behaves like a savepoint:
// its writes are undone if it fails, the outer transaction carries on.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t, ok := getTx(ctx); ok {
		mark := len(t.undo)
		if err := fn(ctx); err != nil {
			s.rollbackTo(t, mark)
			return err
		}
		return nil
	}

	t := &tx{id: types.GenerateUUID(), held: make(map[any]func())}
	ctx = context.WithValue(ctx, txKey{}, t)
	ctx = context.WithValue(ctx, types.CtxDBTransaction, t.id)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic in transaction", "tx_id", t.id, "panic", r)
			s.rollbackTo(t, 0)
			s.release(t)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		s.logger.Errorw("transaction failed", "tx_id", t.id, "error", err)
		s.rollbackTo(t, 0)
		s.release(t)
		return err
	}

	s.logger.Debugw("committed transaction", "tx_id", t.id, "writes", len(t.undo))
	s.release(t)
	return nil
}

func (s *Store) rollbackTo(t *tx, mark int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(t.undo) - 1; i >= mark; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:mark]
}

func (s *Store) release(t *tx) {
	for i := len(t.heldSeq) - 1; i >= 0; i-- {
		t.held[t.heldSeq[i]]()
	}
	t.held = nil
	t.heldSeq = nil
}

// record appends an undo step; callers hold s.mu
func record(ctx context.Context, undo func()) {
	if t, ok := getTx(ctx); ok {
		t.undo = append(t.undo, undo)
	}
}

// lock takes the exclusive lock on key for the rest of the transaction.
// Taking a lock the transaction already holds is a no-op.
func (s *Store) lock(ctx context.Context, key any) error {
	t, ok := getTx(ctx)
	if !ok {
		return ierr.NewError("lock requested outside a transaction").
			Mark(ierr.ErrSystem)
	}
	if _, held := t.held[key]; held {
		return nil
	}

	waitCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}

	unlock, err := s.locks.acquire(waitCtx, key)
	if err != nil && ctx.Err() == context.Canceled {
		return ierr.WithError(err).
			WithHint("The request was canceled").
			Mark(ierr.ErrCanceled)
	}
	if err != nil {
		return ierr.WithError(err).
			WithHint("Could not save, please retry").
			WithReportableDetails(map[string]any{"tx_id": t.id}).
			Mark(ierr.ErrAllocationFailed)
	}
	t.held[key] = unlock
	t.heldSeq = append(t.heldSeq, key)
	return nil
}

// lockKeys takes the counter lock of every key, in a fixed order. Item writes
// hold it so no other transaction reads a floor they may still undo.
func (s *Store) lockKeys(ctx context.Context, keys []sequence.Key) error {
	keys = lo.Uniq(keys)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PartitionKey != keys[j].PartitionKey {
			return keys[i].PartitionKey < keys[j].PartitionKey
		}
		return keys[i].Period < keys[j].Period
	})
	for _, key := range keys {
		if err := s.lock(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func itemKeys(items []*submission.Item) []sequence.Key {
	return lo.Map(items, func(item *submission.Item, _ int) sequence.Key {
		return sequence.Key{PartitionKey: item.PartitionKey, Period: item.Period}
	})
}

// keyLocks is a set of mutexes created on first use, one per key.
// A buffered channel is used instead of sync.Mutex so waits can be cancelled.
type keyLocks struct {
	mu    sync.Mutex
	locks map[any]chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[any]chan struct{})}
}

func (l *keyLocks) acquire(ctx context.Context, key any) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Counters returns the counter store view
func (s *Store) Counters() sequence.CounterRepository {
	return &counterStore{s}
}

// Submissions returns the submission store view
func (s *Store) Submissions() submission.Repository {
	return &submissionStore{s}
}

// Items returns the item store view, which is also the floor reader
func (s *Store) Items() submission.ItemRepository {
	return &itemStore{s}
}
