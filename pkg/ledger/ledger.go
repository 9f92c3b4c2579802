// Package ledger is the only writer of shelter occupancy.
//
// Every mutation runs inside a store transaction while holding an in-process
// lock for each shelter involved, and writes occupancy with a compare-and-set
// so writers in other processes are detected and retried. Occupancy stays in
// [0, capacity] at every observable point.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/pkg/metrics"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/store"
	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultMaxRetries bounds compare-and-set retries per shelter write
const DefaultMaxRetries = 3

// TxFunc runs inside the ledger's transaction after occupancy has been
// written. Returning an error rolls the occupancy change back.
type TxFunc func(tx store.Store) error

// Ledger serializes occupancy writes per shelter
type Ledger struct {
	store      store.Store
	locks      *xsync.Map[string, *shelterLock]
	maxRetries int
	logger     logging.Logger
	metrics    metrics.Collector
}

// Option configures a Ledger
type Option func(*Ledger)

// WithMaxRetries sets how many times a stale compare-and-set is retried
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(l *Ledger) { l.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = metrics.OrNop(m) }
}

// New creates a Ledger over s
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      s,
		locks:      xsync.NewMap[string, *shelterLock](),
		maxRetries: DefaultMaxRetries,
		logger:     logging.NewNop(),
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Increment adds count people to a shelter and returns the new occupancy.
// It fails with models.ErrCapacityExceeded rather than clamping.
func (l *Ledger) Increment(ctx context.Context, shelterID string, count int) (int, error) {
	return l.IncrementWith(ctx, shelterID, count, nil)
}

// IncrementWith is Increment with fn run in the same transaction
func (l *Ledger) IncrementWith(ctx context.Context, shelterID string, count int, fn TxFunc) (int, error) {
	if err := positive(count); err != nil {
		return 0, err
	}

	var occupancy int
	err := l.run(ctx, []string{shelterID}, func(tx store.Store) error {
		var err error
		occupancy, err = l.increment(ctx, tx, shelterID, count)
		if err != nil {
			return err
		}
		return call(fn, tx)
	})
	if err != nil {
		return 0, err
	}
	return occupancy, nil
}

// Decrement removes count people from a shelter, flooring at zero, and
// returns the new occupancy
func (l *Ledger) Decrement(ctx context.Context, shelterID string, count int) (int, error) {
	return l.DecrementWith(ctx, shelterID, count, nil)
}

// DecrementWith is Decrement with fn run in the same transaction
func (l *Ledger) DecrementWith(ctx context.Context, shelterID string, count int, fn TxFunc) (int, error) {
	if err := positive(count); err != nil {
		return 0, err
	}

	var occupancy int
	err := l.run(ctx, []string{shelterID}, func(tx store.Store) error {
		var err error
		occupancy, err = l.write(ctx, tx, "decrement", shelterID, func(sh *models.Shelter) (int, error) {
			return max(0, sh.Occupancy-count), nil
		})
		if err != nil {
			return err
		}
		return call(fn, tx)
	})
	if err != nil {
		return 0, err
	}
	return occupancy, nil
}

// Set overwrites a shelter's occupancy. Values outside [0, capacity] are
// rejected.
func (l *Ledger) Set(ctx context.Context, shelterID string, value int) (int, error) {
	if value < 0 {
		return 0, models.NewError(models.ErrInvalidArgument, "shelter", shelterID, fmt.Sprintf("occupancy %d is negative", value))
	}

	var occupancy int
	err := l.run(ctx, []string{shelterID}, func(tx store.Store) error {
		var err error
		occupancy, err = l.write(ctx, tx, "set", shelterID, func(sh *models.Shelter) (int, error) {
			if value > sh.Capacity {
				return 0, models.NewError(models.ErrCapacityExceeded, "shelter", sh.ID,
					fmt.Sprintf("occupancy %d exceeds capacity %d", value, sh.Capacity))
			}
			return value, nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return occupancy, nil
}

// Transfer moves count people from one shelter to another. Both writes
// commit together or not at all, so the total across the two shelters is
// unchanged.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, count int) error {
	return l.TransferWith(ctx, fromID, toID, count, nil)
}

// TransferWith is Transfer with fn run in the same transaction
func (l *Ledger) TransferWith(ctx context.Context, fromID, toID string, count int, fn TxFunc) error {
	if err := positive(count); err != nil {
		return err
	}
	if fromID == toID {
		return models.NewError(models.ErrInvalidArgument, "shelter", fromID, "transfer source and target are the same")
	}

	return l.run(ctx, []string{fromID, toID}, func(tx store.Store) error {
		// A transfer never floors: the source must hold the people it gives up
		_, err := l.write(ctx, tx, "transfer", fromID, func(sh *models.Shelter) (int, error) {
			if sh.Occupancy < count {
				return 0, models.NewError(models.ErrInsufficientOccupancy, "shelter", sh.ID,
					fmt.Sprintf("occupancy %d is below %d", sh.Occupancy, count))
			}
			return sh.Occupancy - count, nil
		})
		if err != nil {
			return err
		}
		if _, err := l.increment(ctx, tx, toID, count); err != nil {
			return err
		}
		return call(fn, tx)
	})
}

func (l *Ledger) increment(ctx context.Context, tx store.Store, shelterID string, count int) (int, error) {
	return l.write(ctx, tx, "increment", shelterID, func(sh *models.Shelter) (int, error) {
		if sh.Occupancy+count > sh.Capacity {
			return 0, models.NewError(models.ErrCapacityExceeded, "shelter", sh.ID,
				fmt.Sprintf("%d available, %d requested", sh.AvailableCapacity(), count))
		}
		return sh.Occupancy + count, nil
	})
}

// write reads the shelter, computes the next occupancy and compare-and-sets
// it, retrying when another process wrote in between
func (l *Ledger) write(ctx context.Context, tx store.Store, op, shelterID string, next func(*models.Shelter) (int, error)) (int, error) {
	for attempt := 0; ; attempt++ {
		sh, err := tx.GetShelter(ctx, shelterID)
		if err != nil {
			return 0, err
		}
		value, err := next(sh)
		if err != nil {
			return 0, err
		}
		if value < 0 || value > sh.Capacity {
			return 0, models.NewError(models.ErrCapacityExceeded, "shelter", sh.ID,
				fmt.Sprintf("occupancy %d outside [0, %d]", value, sh.Capacity))
		}

		err = tx.UpdateOccupancy(ctx, shelterID, sh.Occupancy, value)
		if err == nil {
			l.logger.Debug("occupancy updated", "op", op, "shelter_id", shelterID, "from", sh.Occupancy, "to", value)
			return value, nil
		}
		if !errors.Is(err, models.ErrStaleWrite) || attempt >= l.maxRetries {
			return 0, err
		}
		l.metrics.RecordLedgerRetry(op)
		l.logger.Warn("occupancy changed underneath, retrying", "op", op, "shelter_id", shelterID, "attempt", attempt+1)
	}
}

// run takes the locks for ids in a fixed order and runs fn in a transaction
func (l *Ledger) run(ctx context.Context, ids []string, fn func(tx store.Store) error) error {
	unlock := l.lock(ids)
	defer unlock()
	return l.store.InTx(ctx, fn)
}

// shelterLock is evicted from the lock table once no caller holds or waits
// for it. refs is only touched inside Compute.
type shelterLock struct {
	mu   sync.Mutex
	refs int
}

func (l *Ledger) lock(ids []string) func() {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*shelterLock, 0, len(sorted))
	for _, id := range sorted {
		sl, _ := l.locks.Compute(id, func(old *shelterLock, loaded bool) (*shelterLock, xsync.ComputeOp) {
			if !loaded {
				old = &shelterLock{}
			}
			old.refs++
			return old, xsync.UpdateOp
		})
		sl.mu.Lock()
		held = append(held, sl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.locks.Compute(sorted[i], func(old *shelterLock, loaded bool) (*shelterLock, xsync.ComputeOp) {
				if !loaded {
					return old, xsync.CancelOp
				}
				old.refs--
				if old.refs == 0 {
					return old, xsync.DeleteOp
				}
				return old, xsync.UpdateOp
			})
		}
	}
}

func positive(count int) error {
	if count <= 0 {
		return models.NewError(models.ErrInvalidArgument, "", "", fmt.Sprintf("count must be positive, got %d", count))
	}
	return nil
}

func call(fn TxFunc, tx store.Store) error {
	if fn == nil {
		return nil
	}
	return fn(tx)
}
