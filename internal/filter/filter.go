// Package filter implements the traffic-shaping chain applied to every
// forwarded segment: Delay, Drop, and Throttle. Semantics are ported from
// original_source/src/filter.c: filters run in chain order, a disabled filter
// is skipped, the first Drop to fire short-circuits the remainder of the
// chain, and Delay/Throttle compose by blocking sequentially.
package filter

import (
	"fmt"
	"math/rand"
)

// Kind identifies a filter's shaping behavior. Modify is reserved for
// future content-rewriting filters and never constructed by this package.
type Kind int

const (
	KindDelay Kind = iota
	KindDrop
	KindThrottle
	KindModify
)

func (k Kind) String() string {
	switch k {
	case KindDelay:
		return "delay"
	case KindDrop:
		return "drop"
	case KindThrottle:
		return "throttle"
	case KindModify:
		return "modify"
	default:
		return "unknown"
	}
}

// MaxChainLength bounds a FilterChain, mirroring original_source's MAX_FILTERS.
const MaxChainLength = 10

// Filter is one shaping stage. Exactly one of DelayMS, DropProbability, or
// ThrottleBytesPerSec is meaningful, selected by Kind.
type Filter struct {
	Kind    Kind
	Enabled bool

	DelayMS             int
	DropProbability     float64
	ThrottleBytesPerSec int64
}

// Error is raised by configuration-time validation. The chain remains
// valid; only the offending filter is rejected by the caller.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("filter: invalid %s filter: %s", e.Kind, e.Reason)
}

// NewDelay validates and constructs a Delay filter.
func NewDelay(ms int) (Filter, error) {
	if ms < 0 {
		return Filter{}, &Error{Kind: KindDelay, Reason: "delay must be non-negative"}
	}
	return Filter{Kind: KindDelay, Enabled: true, DelayMS: ms}, nil
}

// NewDrop validates and constructs a Drop filter. Probability must lie in
// [0, 1].
func NewDrop(probability float64) (Filter, error) {
	if probability < 0.0 || probability > 1.0 {
		return Filter{}, &Error{Kind: KindDrop, Reason: "probability must be in [0.0, 1.0]"}
	}
	return Filter{Kind: KindDrop, Enabled: true, DropProbability: probability}, nil
}

// NewThrottle validates and constructs a Throttle filter. Rate must be
// strictly positive.
func NewThrottle(bytesPerSec int64) (Filter, error) {
	if bytesPerSec <= 0 {
		return Filter{}, &Error{Kind: KindThrottle, Reason: "rate must be positive"}
	}
	return Filter{Kind: KindThrottle, Enabled: true, ThrottleBytesPerSec: bytesPerSec}, nil
}

// Chain is an ordered, value-copyable sequence of at most MaxChainLength
// filters. It is copied by value into each handler so that no two handlers
// share mutable chain state; Chain itself holds no RNG state, since Apply
// draws from a random source supplied by its caller.
type Chain struct {
	filters []Filter
}

// Add appends f to the chain, rejecting it if the chain is already at
// MaxChainLength. Returns the resulting chain length.
func (c *Chain) Add(f Filter) (int, error) {
	if len(c.filters) >= MaxChainLength {
		return len(c.filters), fmt.Errorf("filter: chain already holds %d filters (max %d)", len(c.filters), MaxChainLength)
	}
	c.filters = append(c.filters, f)
	return len(c.filters), nil
}

// Len reports the number of filters currently in the chain.
func (c Chain) Len() int {
	return len(c.filters)
}

// Filters returns a copy of the chain's filters, in order.
func (c Chain) Filters() []Filter {
	out := make([]Filter, len(c.filters))
	copy(out, c.filters)
	return out
}

// Clone returns an independent copy of c suitable for handing to a new
// handler; mutating the clone's filters never affects c's.
func (c Chain) Clone() Chain {
	return Chain{filters: c.Filters()}
}

// Result reports what Apply decided for one segment.
type Result struct {
	// Dropped is true if the segment must not be forwarded at all.
	Dropped bool
}

// Apply runs the chain, in order, against a segment of the given length. It
// blocks the calling goroutine for the cumulative Delay/Throttle duration of
// every enabled stage it passes through, and returns Dropped=true the instant
// an enabled Drop filter's draw falls inside its configured probability —
// subsequent filters are not evaluated, matching original_source/src/filter.c.
//
// rng supplies one uniform draw for each enabled Drop filter reached (two
// Drop filters in one chain compose as independent trials, each consuming
// its own draw, since each is only reached if the prior one passed).
func (c Chain) Apply(length int, rng *rand.Rand, sleep func(nanos int64)) Result {
	for _, f := range c.filters {
		if !f.Enabled {
			continue
		}
		switch f.Kind {
		case KindDelay:
			sleep(int64(f.DelayMS) * int64(1_000_000))
		case KindDrop:
			draw := rng.Float64()
			if draw < f.DropProbability {
				return Result{Dropped: true}
			}
		case KindThrottle:
			if f.ThrottleBytesPerSec > 0 {
				nanos := int64(length) * 1_000_000_000 / f.ThrottleBytesPerSec
				sleep(nanos)
			}
		case KindModify:
			// reserved, unimplemented.
		}
	}
	return Result{}
}
