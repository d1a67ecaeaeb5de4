package types

import (
	"strconv"
	"time"
)

// Period is the secondary scope of a sequence series. Running numbers restart
// per calendar year, so a period is a year number.
type Period int

const (
	DefaultMinPeriod Period = 2000
	DefaultMaxPeriod Period = 3000
)

// PeriodFromDate derives the period from a submission's effective date.
// The year is taken in UTC so back-dated submissions land in the year they
// belong to regardless of the server's zone.
func PeriodFromDate(t time.Time) Period {
	return Period(t.UTC().Year())
}

// InRange reports whether p lies within [min, max].
func (p Period) InRange(min, max Period) bool {
	return p >= min && p <= max
}

func (p Period) String() string {
	return strconv.Itoa(int(p))
}
