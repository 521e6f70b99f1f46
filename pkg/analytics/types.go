package analytics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is returned by administrative operations while the breaker
// reports the store as down.
var ErrUnavailable = errors.New("violation store unavailable")

const (
	eventsKeyPrefix = "violations:events:"
	usersKeyPrefix  = "violations:users:"

	hourMillis = int64(time.Hour / time.Millisecond)
)

// Event is one recorded denial.
type Event struct {
	UserID    string
	Kind      string
	Tier      string
	Timestamp time.Time
	Nonce     string
}

// Violator is one row of the top-violators ranking.
type Violator struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
	Tier   string `json:"tier"`
}

// PruneResult summarizes one retention sweep.
type PruneResult struct {
	EventsRemoved  int64 `json:"events_removed"`
	EventsArchived int64 `json:"events_archived"`
	BucketsRemoved int64 `json:"buckets_removed"`
	KeysScanned    int64 `json:"keys_scanned"`
}

// Observer receives analytics outcomes, typically for metrics.
type Observer interface {
	ViolationLogged(kind string)
	AnalyticsError(operation string)
}

type nopObserver struct{}

func (nopObserver) ViolationLogged(string) {}
func (nopObserver) AnalyticsError(string)  {}

// member encodes an event as a sorted set member: userId:tier:timestampMs:nonce.
func (e Event) member() string {
	return fmt.Sprintf("%s:%s:%d:%s", e.UserID, e.Tier, e.Timestamp.UnixMilli(), e.Nonce)
}

// parseMember decodes a sorted set member. Fields are taken from the right so
// user IDs may contain colons.
func parseMember(kind, member string) (Event, error) {
	parts := strings.Split(member, ":")
	if len(parts) < 4 {
		return Event{}, fmt.Errorf("malformed violation member %q", member)
	}

	n := len(parts)
	ms, err := strconv.ParseInt(parts[n-2], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("malformed violation timestamp in %q: %w", member, err)
	}

	return Event{
		UserID:    strings.Join(parts[:n-3], ":"),
		Kind:      kind,
		Tier:      parts[n-3],
		Timestamp: time.UnixMilli(ms),
		Nonce:     parts[n-1],
	}, nil
}

// hourBucket returns the number of whole hours since the epoch.
func hourBucket(t time.Time) int64 {
	return t.UnixMilli() / hourMillis
}

// bucketField is the per-user hash field for a kind and hour.
func bucketField(kind string, bucket int64) string {
	return kind + ":" + strconv.FormatInt(bucket, 10)
}

// parseBucketField splits a hash field into kind and hour bucket.
func parseBucketField(field string) (string, int64, bool) {
	i := strings.LastIndex(field, ":")
	if i < 0 {
		return "", 0, false
	}
	bucket, err := strconv.ParseInt(field[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return field[:i], bucket, true
}
