// Package retention decides which snapshots to keep with grandfather-father-son buckets.
package retention

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
)

// Bucket is a retention tier.
type Bucket string

const (
	Hourly  Bucket = "hourly"
	Daily   Bucket = "daily"
	Weekly  Bucket = "weekly"
	Monthly Bucket = "monthly"
	Yearly  Bucket = "yearly"
)

// Buckets are all buckets in evaluation priority.
var Buckets = []Bucket{Hourly, Daily, Weekly, Monthly, Yearly}

// Count is the number of slots a bucket keeps. Forever keeps every slot.
type Count int

// Forever never runs out of slots.
const Forever Count = -1

const foreverKeyword = "forever"

func (c Count) IsForever() bool {
	return c == Forever
}

func (c Count) String() string {
	if c.IsForever() {
		return foreverKeyword
	}
	return strconv.Itoa(int(c))
}

// MarshalYAML writes Forever as keyword and every other count as integer.
func (c Count) MarshalYAML() (interface{}, error) {
	if c.IsForever() {
		return foreverKeyword, nil
	}
	return int(c), nil
}

// Policy is a retention policy. It is not modified once loaded.
type Policy struct {
	Hourly  Count
	Daily   Count
	Weekly  Count
	Monthly Count
	Yearly  Count
	// ExcludePatterns are passed to the next backup, they are not applied when pruning.
	ExcludePatterns []string
}

// DefaultPolicy keeps 24 hourly, 7 daily, 4 weekly, 12 monthly and 3 yearly snapshots.
func DefaultPolicy() Policy {
	return Policy{
		Hourly:  24,
		Daily:   7,
		Weekly:  4,
		Monthly: 12,
		Yearly:  3,
	}
}

// Count returns the configured count of the given bucket.
func (p Policy) Count(b Bucket) Count {
	switch b {
	case Hourly:
		return p.Hourly
	case Daily:
		return p.Daily
	case Weekly:
		return p.Weekly
	case Monthly:
		return p.Monthly
	case Yearly:
		return p.Yearly
	}
	return 0
}

func (p *Policy) set(b Bucket, c Count) {
	switch b {
	case Hourly:
		p.Hourly = c
	case Daily:
		p.Daily = c
	case Weekly:
		p.Weekly = c
	case Monthly:
		p.Monthly = c
	case Yearly:
		p.Yearly = c
	}
}

// KeepsNothing is true if no bucket keeps any snapshot.
func (p Policy) KeepsNothing() bool {
	for _, b := range Buckets {
		if p.Count(b) != 0 {
			return false
		}
	}
	return true
}

// Validate checks the counts and the exclude patterns.
func (p Policy) Validate() error {
	for _, b := range Buckets {
		if c := p.Count(b); c < Forever {
			return &PolicyValidationError{Key: string(b), Reason: fmt.Sprintf("negative count %d", c)}
		}
	}
	for _, pattern := range p.ExcludePatterns {
		if pattern == "" {
			return &PolicyValidationError{Key: keyExcludePatterns, Reason: "empty pattern"}
		}
		if _, err := filepath.Match(pattern, ""); err != nil {
			return &PolicyValidationError{Key: keyExcludePatterns, Reason: fmt.Sprintf("invalid pattern %q", pattern), Err: err}
		}
	}
	return nil
}

// ErrInvalidPolicy matches every PolicyValidationError.
var ErrInvalidPolicy = errors.New("invalid retention policy")

// PolicyValidationError describes a malformed retention policy.
type PolicyValidationError struct {
	Key    string
	Reason string
	Err    error
}

func (e *PolicyValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrInvalidPolicy, e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("%s: key %q: %s", ErrInvalidPolicy, e.Key, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PolicyValidationError) Unwrap() error {
	return e.Err
}

func (e *PolicyValidationError) Is(target error) bool {
	return target == ErrInvalidPolicy
}
