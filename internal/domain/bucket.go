package domain

import (
	"fmt"
	"time"
)

// Day is the bucket width. Portal timestamps are naive UTC, so a day is
// always 24 hours.
const Day = 24 * time.Hour

// BucketRange bounds the lag buckets, in whole days before creation.
type BucketRange struct {
	Min int
	Max int
}

// DefaultBucketRange covers one to five days before the request.
var DefaultBucketRange = BucketRange{Min: 1, Max: 5}

// Validate requires 1 <= Min <= Max. Bucket 0 would overlap the request day.
func (r BucketRange) Validate() error {
	if r.Min < 1 || r.Max < r.Min {
		return fmt.Errorf("invalid bucket range [%d, %d]: need 1 <= min <= max", r.Min, r.Max)
	}
	return nil
}

// Contains reports whether k is a bucket index within the range.
func (r BucketRange) Contains(k int) bool {
	return k >= r.Min && k <= r.Max
}

// Bucket is a half-open one-day interval [Start, End) ending Index-1 days
// before the request's creation time.
type Bucket struct {
	Index int
	Start time.Time
	End   time.Time
}

// BucketMatch is a match annotated with the lag bucket it fell into.
type BucketMatch struct {
	Match
	Bucket Bucket
}

// FloorToDay truncates t to UTC midnight.
func FloorToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayGap is the number of calendar days between the occurred day and the
// creation day. Positive when the crime's day precedes the request's day.
func DayGap(creation, occurred time.Time) int {
	diff := FloorToDay(creation).Sub(FloorToDay(occurred)).Round(time.Hour)
	return int(diff / Day)
}

// BucketBounds returns [creation - k days, creation - (k-1) days).
func BucketBounds(creation time.Time, k int) (time.Time, time.Time) {
	start := creation.Add(-time.Duration(k) * Day)
	end := creation.Add(-time.Duration(k-1) * Day)
	return start, end
}

// AssignBucket picks k from the calendar day gap, then keeps the crime only
// if it lies inside bucket k's exact half-open interval. A crime whose day
// gap is k but whose time of day falls before the bucket start is excluded,
// not moved to bucket k+1.
func AssignBucket(occurred, creation time.Time, r BucketRange) (Bucket, bool) {
	k := DayGap(creation, occurred)
	if !r.Contains(k) {
		return Bucket{}, false
	}
	start, end := BucketBounds(creation, k)
	if occurred.Before(start) || !occurred.Before(end) {
		return Bucket{}, false
	}
	return Bucket{Index: k, Start: start, End: end}, true
}

// CoarseBucketFilter keeps matches whose calendar day gap lies in r. It is a
// cheap superset of the exact bucket assignment.
func CoarseBucketFilter(matches []Match, r BucketRange) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if r.Contains(DayGap(m.Buffer.Request.CreationTime, m.Crime.OccurredAt)) {
			out = append(out, m)
		}
	}
	return out
}

// ExactBuckets annotates each match with its bucket, dropping matches that
// fall outside the exact interval.
func ExactBuckets(matches []Match, r BucketRange) []BucketMatch {
	out := make([]BucketMatch, 0, len(matches))
	for _, m := range matches {
		if b, ok := AssignBucket(m.Crime.OccurredAt, m.Buffer.Request.CreationTime, r); ok {
			out = append(out, BucketMatch{Match: m, Bucket: b})
		}
	}
	return out
}

// AssignBuckets runs the coarse filter followed by exact assignment.
func AssignBuckets(matches []Match, r BucketRange) []BucketMatch {
	return ExactBuckets(CoarseBucketFilter(matches, r), r)
}
