package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("calls: not found")
	ErrConflict         = errors.New("calls: status precondition failed")
	ErrStoreUnavailable = errors.New("calls: store unavailable")
	ErrInvalidArgument  = errors.New("calls: invalid argument")
)

// Store is the record store contract consumed by triage.
//
// Implementations must:
// - apply Patch.ExpectStatus atomically with the write
// - deliver every successful Insert/Patch of a record to that record's subscribers
// - end a record's open subscriptions once Delete succeeds; watchers then read ErrNotFound
// - report transport failures wrapped with ErrStoreUnavailable
type Store interface {
	Get(ctx context.Context, id string) (Call, error)

	// FindLatestMissed returns the newest missed record whose normalized phone
	// equals phoneKey, ignoring excludeID.
	FindLatestMissed(ctx context.Context, phoneKey, excludeID string) (Call, bool, error)

	ListCalls(ctx context.Context, from, to time.Time) ([]Call, error)

	Insert(ctx context.Context, c Call) (Call, error)
	Patch(ctx context.Context, id string, p Patch) (Call, error)
	Delete(ctx context.Context, id string) error

	// Subscribe streams updates for one record until ctx is done or the
	// subscription is closed. The Updates channel is closed when the stream
	// ends for any reason; callers resubscribe if they still care.
	Subscribe(ctx context.Context, id string) (Subscription, error)
}

type Subscription interface {
	Updates() <-chan Call
	Close() error
}

func validateNew(c Call) error {
	if !c.Status.Valid() {
		return ErrInvalidArgument
	}
	if c.AttemptCount < 0 {
		return ErrInvalidArgument
	}
	return nil
}
