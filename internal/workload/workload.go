// Package workload generates concurrent transactions against a coordinator
// and checks afterwards that none of their updates were lost.
package workload

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bottledcode/atlas-locks/atlas/kv"
	"github.com/bottledcode/atlas-locks/atlas/options"
	"github.com/bottledcode/atlas-locks/atlas/txn"
	"github.com/bottledcode/atlas-locks/pkg/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	metaStore  = "_meta"
	versionKey = "version"
)

// Result summarizes a workload run.
type Result struct {
	RunID      string
	Committed  int64
	TimedOut   int64
	Increments int64
	ByMode     map[txn.Mode]int64
	Duration   time.Duration
}

// Throughput returns committed transactions per second.
func (r *Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Committed) / r.Duration.Seconds()
}

func databaseName(i int) string {
	return fmt.Sprintf("db-%d", i)
}

func storeName(i int) string {
	return fmt.Sprintf("store-%d", i)
}

func keyName(i int) []byte {
	return fmt.Appendf(nil, "key-%06d", i)
}

func encodeCounter(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeCounter(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("counter has %d bytes, expected 8", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Seed writes a zero counter for every key the workload touches and
// deletes anything else left in the workload's databases by earlier runs.
func Seed(store kv.Store, cfg config.WorkloadConfig) error {
	existing, err := existingKeys(store, cfg)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	for d := range cfg.Databases {
		db := kv.NewKeyBuilder().Database(databaseName(d))
		for s := range cfg.Stores {
			st := db.Clone().Store(storeName(s))
			for k := range cfg.KeysPerStore {
				key := st.Clone().Key(keyName(k)).Build()
				delete(existing, string(key))
				if err := batch.Set(key, encodeCounter(0)); err != nil {
					return err
				}
			}
		}
		key := db.Clone().Store(metaStore).Key([]byte(versionKey)).Build()
		delete(existing, string(key))
		if err := batch.Set(key, encodeCounter(0)); err != nil {
			return err
		}
	}
	for key := range existing {
		if err := batch.Delete([]byte(key)); err != nil {
			return err
		}
	}
	return batch.Flush()
}

// existingKeys lists the keys already stored in the workload's databases.
func existingKeys(store kv.Store, cfg config.WorkloadConfig) (map[string]struct{}, error) {
	tx, err := store.Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Discard()

	keys := make(map[string]struct{})
	for d := range cfg.Databases {
		iter := tx.NewIterator(kv.IteratorOptions{Prefix: kv.NewKeyBuilder().Database(databaseName(d)).Prefix()})
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys[string(iter.Item().Key())] = struct{}{}
		}
		if err := iter.Close(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Runner drives cfg.Transactions transactions through a coordinator from
// cfg.Workers goroutines.
type Runner struct {
	coordinator *txn.Coordinator
	cfg         config.WorkloadConfig
	seed        uint64
	runID       string
	logger      *zap.Logger

	remaining  atomic.Int64
	committed  atomic.Int64
	timedOut   atomic.Int64
	increments atomic.Int64

	mu     sync.Mutex
	byMode map[txn.Mode]int64
}

func NewRunner(coordinator *txn.Coordinator, cfg config.WorkloadConfig, seed uint64) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.Must(uuid.NewRandom()).String()
	return &Runner{
		coordinator: coordinator,
		cfg:         cfg,
		seed:        seed,
		runID:       runID,
		logger:      logger.With(zap.String("run_id", runID)),
		byMode:      make(map[txn.Mode]int64),
	}, nil
}

// Run executes the workload. Transactions that cannot get their locks within
// cfg.Timeout are counted as timed out; any other failure stops the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.remaining.Store(int64(r.cfg.Transactions))
	start := time.Now()
	r.logger.Info("Workload starting",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("transactions", r.cfg.Transactions),
		zap.Uint64("seed", r.seed))

	group, ctx := errgroup.WithContext(ctx)
	for w := range r.cfg.Workers {
		rng := rand.New(rand.NewPCG(r.seed, uint64(w)))
		group.Go(func() error {
			for r.remaining.Add(-1) >= 0 {
				if err := r.runOne(ctx, rng); err != nil {
					return fmt.Errorf("worker %d: %w", w, err)
				}
			}
			return nil
		})
	}
	err := group.Wait()

	r.mu.Lock()
	byMode := make(map[txn.Mode]int64, len(r.byMode))
	for mode, n := range r.byMode {
		byMode[mode] = n
	}
	r.mu.Unlock()

	result := &Result{
		RunID:      r.runID,
		Committed:  r.committed.Load(),
		TimedOut:   r.timedOut.Load(),
		Increments: r.increments.Load(),
		ByMode:     byMode,
		Duration:   time.Since(start),
	}
	r.logger.Info("Workload finished",
		zap.Int64("committed", result.Committed),
		zap.Int64("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration),
		zap.Float64("tps", result.Throughput()))
	return result, err
}

// scope picks the databases, stores and keys of the next transaction.
func (r *Runner) scope(rng *rand.Rand) (txn.Scope, []byte) {
	scope := txn.Scope{Database: databaseName(rng.IntN(r.cfg.Databases))}

	p := rng.Float64()
	switch {
	case p < r.cfg.VersionChangeRatio:
		scope.Mode = txn.VersionChange
		return scope, nil
	case p < r.cfg.VersionChangeRatio+r.cfg.ReadRatio:
		scope.Mode = txn.ReadOnly
	default:
		scope.Mode = txn.ReadWrite
	}

	first := rng.IntN(r.cfg.Stores)
	scope.Stores = []string{storeName(first)}
	if r.cfg.Stores > 1 && rng.IntN(2) == 0 {
		second := (first + 1 + rng.IntN(r.cfg.Stores-1)) % r.cfg.Stores
		scope.Stores = append(scope.Stores, storeName(second))
	}

	var key []byte
	if rng.Float64() < r.cfg.KeyRangeRatio {
		key = keyName(rng.IntN(r.cfg.KeysPerStore))
		end := append(append([]byte(nil), key...), 0)
		scope.KeyRanges = []txn.KeyRange{{Store: scope.Stores[0], Begin: key, End: end}}
	}
	return scope, key
}

func (r *Runner) runOne(ctx context.Context, rng *rand.Rand) error {
	scope, key := r.scope(rng)

	beginCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	tx, err := r.coordinator.Begin(beginCtx, scope)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		r.timedOut.Add(1)
		return nil
	}
	if err != nil {
		return err
	}

	increments, err := r.apply(ctx, tx, rng, key)
	if err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.committed.Add(1)
	r.increments.Add(increments)
	r.mu.Lock()
	r.byMode[scope.Mode]++
	r.mu.Unlock()
	return nil
}

// apply performs the transaction body and returns the number of counter
// increments it made.
func (r *Runner) apply(ctx context.Context, tx *txn.Transaction, rng *rand.Rand, key []byte) (int64, error) {
	scope := tx.Scope()
	switch scope.Mode {
	case txn.VersionChange:
		return 0, increment(ctx, tx, metaStore, []byte(versionKey))

	case txn.ReadOnly:
		for _, store := range scope.Stores {
			items, err := tx.Scan(ctx, store)
			if err != nil {
				return 0, err
			}
			for _, item := range items {
				if _, err := decodeCounter(item.Value); err != nil {
					return 0, fmt.Errorf("corrupt counter %q in %s: %w", item.Key, store, err)
				}
			}
		}
		return 0, nil

	default:
		if key != nil {
			return 1, increment(ctx, tx, scope.Stores[0], key)
		}
		var n int64
		for _, store := range scope.Stores {
			if err := increment(ctx, tx, store, keyName(rng.IntN(r.cfg.KeysPerStore))); err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	}
}

func increment(ctx context.Context, tx *txn.Transaction, store string, key []byte) error {
	value, err := tx.Get(ctx, store, key)
	if err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
		return err
	}
	var counter uint64
	if value != nil {
		if counter, err = decodeCounter(value); err != nil {
			return err
		}
	}
	return tx.Put(ctx, store, key, encodeCounter(counter+1))
}

// Verify sums every counter the workload writes and checks the total
// against the increments that committed.
func Verify(ctx context.Context, coordinator *txn.Coordinator, cfg config.WorkloadConfig, result *Result) error {
	stores := make([]string, cfg.Stores)
	for s := range cfg.Stores {
		stores[s] = storeName(s)
	}

	var total int64
	for d := range cfg.Databases {
		tx, err := coordinator.Begin(ctx, txn.Scope{Database: databaseName(d), Stores: stores, Mode: txn.ReadOnly})
		if err != nil {
			return err
		}
		for _, store := range stores {
			items, err := tx.Scan(ctx, store)
			if err != nil {
				tx.Abort()
				return err
			}
			for _, item := range items {
				counter, err := decodeCounter(item.Value)
				if err != nil {
					tx.Abort()
					return err
				}
				total += int64(counter)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	if total != result.Increments {
		return fmt.Errorf("lost updates: counters sum to %d, %d increments committed", total, result.Increments)
	}
	return nil
}
