package sequence

import (
	"fmt"
	"strings"
	"time"

	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/types"
)

// MaxPartitionKeyLength matches the width of the partition_key columns
const MaxPartitionKeyLength = 64

// Key identifies one independent series of running numbers
type Key struct {
	PartitionKey string       `db:"partition_key" json:"partition_key"`
	Period       types.Period `db:"period" json:"period"`
}

// NewKey builds the key for a partition and the period of effectiveDate
func NewKey(partitionKey string, effectiveDate time.Time) Key {
	return Key{PartitionKey: partitionKey, Period: types.PeriodFromDate(effectiveDate)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.PartitionKey, k.Period)
}

// Validate checks the key against the accepted period range
func (k Key) Validate(minPeriod, maxPeriod types.Period) error {
	if k.PartitionKey == "" || strings.TrimSpace(k.PartitionKey) != k.PartitionKey {
		return ierr.NewError("partition key must be non-empty and trimmed").
			WithHint("A branch is required").
			WithReportableDetails(map[string]any{"partition_key": k.PartitionKey}).
			Mark(ierr.ErrValidation)
	}
	if len(k.PartitionKey) > MaxPartitionKeyLength {
		return ierr.NewErrorf("partition key longer than %d characters", MaxPartitionKeyLength).
			WithHint("The branch identifier is too long").
			Mark(ierr.ErrValidation)
	}
	if !k.Period.InRange(minPeriod, maxPeriod) {
		return ierr.NewErrorf("period %d outside [%d, %d]", k.Period, minPeriod, maxPeriod).
			WithHintf("The year must be between %d and %d", minPeriod, maxPeriod).
			WithReportableDetails(map[string]any{"period": int(k.Period)}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Counter is the highest value ever handed out for a key.
// It is a cache of what was issued, not the source of truth for what exists.
type Counter struct {
	Key
	CurrentValue int64     `db:"current_value" json:"current_value"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Block is a contiguous range [Start, End] reserved in one allocation.
// The empty block has End < Start.
type Block struct {
	Key   Key   `json:"key"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// EmptyBlock is returned for zero-sized requests
func EmptyBlock(key Key) Block {
	return Block{Key: key, Start: 0, End: -1}
}

func (b Block) IsEmpty() bool {
	return b.End < b.Start
}

// Count returns how many numbers the block holds
func (b Block) Count() int64 {
	if b.IsEmpty() {
		return 0
	}
	return b.End - b.Start + 1
}

// Numbers expands the block in ascending order
func (b Block) Numbers() []int64 {
	out := make([]int64, 0, b.Count())
	for n := b.Start; n <= b.End; n++ {
		out = append(out, n)
	}
	return out
}

// Drift describes a key whose persisted items run ahead of its counter
type Drift struct {
	Key           Key   `json:"key"`
	CounterValue  int64 `json:"counter_value"`
	ObservedFloor int64 `json:"observed_floor"`
	CounterExists bool  `json:"counter_exists"`
}

// Gap is how far the counter lags behind persisted data
func (d Drift) Gap() int64 {
	return d.ObservedFloor - d.CounterValue
}
