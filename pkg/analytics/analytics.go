package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
)

// DefaultRetention is how long raw events are kept.
const DefaultRetention = 30 * 24 * time.Hour

const scanCount = 100

// Option configures a ViolationAnalytics.
type Option func(*ViolationAnalytics)

// WithKeyPrefix prepends prefix to every analytics key.
func WithKeyPrefix(prefix string) Option {
	return func(a *ViolationAnalytics) { a.prefix = prefix }
}

// WithRetention sets the event retention horizon.
func WithRetention(d time.Duration) Option {
	return func(a *ViolationAnalytics) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithArchive makes Prune copy expired events into archive before removal.
func WithArchive(archive *Archive) Option {
	return func(a *ViolationAnalytics) { a.archive = archive }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(a *ViolationAnalytics) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *ViolationAnalytics) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *ViolationAnalytics) {
		if now != nil {
			a.now = now
		}
	}
}

// ViolationAnalytics records denied requests and answers aggregate queries.
//
// Everything here is best effort. Writes are skipped while the breaker is
// open, and store failures are logged and swallowed instead of reaching the
// enforcement path.
type ViolationAnalytics struct {
	client    redis.UniversalClient
	breaker   *breaker.Breaker
	prefix    string
	retention time.Duration
	archive   *Archive
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a recorder over client.
func New(client redis.UniversalClient, b *breaker.Breaker, opts ...Option) *ViolationAnalytics {
	a := &ViolationAnalytics{
		client:    client,
		breaker:   b,
		retention: DefaultRetention,
		observer:  nopObserver{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "analytics")
	return a
}

// Retention returns the configured event retention horizon.
func (a *ViolationAnalytics) Retention() time.Duration {
	return a.retention
}

func (a *ViolationAnalytics) eventsKey(kind string) string {
	return a.prefix + eventsKeyPrefix + kind
}

func (a *ViolationAnalytics) usersKey(userID string) string {
	return a.prefix + usersKeyPrefix + userID
}

// LogViolation records one denial. It never returns an error.
func (a *ViolationAnalytics) LogViolation(ctx context.Context, userID, kind, tier string) {
	if a.breaker.IsOpen() {
		a.logger.DebugContext(ctx, "skipping violation log, breaker open", "user_id", userID, "limit_kind", kind)
		return
	}

	now := a.now()
	ev := Event{
		UserID:    userID,
		Kind:      kind,
		Tier:      tier,
		Timestamp: now,
		Nonce:     uuid.NewString(),
	}
	eventsKey := a.eventsKey(kind)
	usersKey := a.usersKey(userID)
	cutoff := now.Add(-a.retention).UnixMilli()

	pipe := a.client.TxPipeline()
	pipe.ZAdd(ctx, eventsKey, redis.Z{Score: float64(now.UnixMilli()), Member: ev.member()})
	pipe.HIncrBy(ctx, usersKey, bucketField(kind, hourBucket(now)), 1)
	pipe.ZRemRangeByScore(ctx, eventsKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, eventsKey, a.retention)
	pipe.Expire(ctx, usersKey, a.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		a.observer.AnalyticsError("log")
		a.logger.WarnContext(ctx, "failed to log violation",
			"user_id", userID,
			"limit_kind", kind,
			"error", err,
		)
		return
	}
	a.observer.ViolationLogged(kind)
}

// UserViolationCount sums the user's violations over the trailing hours.
// It returns 0 when the breaker is open or the store fails.
func (a *ViolationAnalytics) UserViolationCount(ctx context.Context, userID string, hours int) int64 {
	if a.breaker.IsOpen() {
		return 0
	}

	fields, err := a.client.HGetAll(ctx, a.usersKey(userID)).Result()
	if err != nil {
		a.observer.AnalyticsError("user_count")
		a.logger.WarnContext(ctx, "failed to read user violations", "user_id", userID, "error", err)
		return 0
	}

	since := hourBucket(a.now().Add(-time.Duration(hours) * time.Hour))
	var total int64
	for field, raw := range fields {
		_, bucket, ok := parseBucketField(field)
		if !ok || bucket < since {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

// TopViolators ranks users by violations over the trailing hours, across all
// limit kinds. Ties are broken by user ID. Each user reports the tier seen in
// their earliest event in the window. It returns an empty slice when the
// breaker is open or the store fails.
func (a *ViolationAnalytics) TopViolators(ctx context.Context, hours, limit int) []Violator {
	if a.breaker.IsOpen() {
		return []Violator{}
	}

	violators, err := a.topViolators(ctx, hours, limit)
	if err != nil {
		a.observer.AnalyticsError("top_violators")
		a.logger.WarnContext(ctx, "failed to compute top violators", "error", err)
		return []Violator{}
	}
	return violators
}

func (a *ViolationAnalytics) topViolators(ctx context.Context, hours, limit int) ([]Violator, error) {
	since := a.now().Add(-time.Duration(hours) * time.Hour).UnixMilli()

	type tally struct {
		count   int64
		tier    string
		firstAt int64
	}
	tallies := make(map[string]*tally)

	err := a.scan(ctx, a.prefix+eventsKeyPrefix+"*", func(key string) error {
		kind := key[len(a.prefix+eventsKeyPrefix):]
		members, err := a.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: strconv.FormatInt(since, 10),
			Max: "+inf",
		}).Result()
		if err != nil {
			return fmt.Errorf("range %s: %w", key, err)
		}

		for _, m := range members {
			ev, err := parseMember(kind, m)
			if err != nil {
				a.logger.DebugContext(ctx, "skipping malformed violation", "key", key, "error", err)
				continue
			}
			ms := ev.Timestamp.UnixMilli()
			t, ok := tallies[ev.UserID]
			if !ok {
				tallies[ev.UserID] = &tally{count: 1, tier: ev.Tier, firstAt: ms}
				continue
			}
			t.count++
			if ms < t.firstAt {
				t.firstAt = ms
				t.tier = ev.Tier
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Violator, 0, len(tallies))
	for userID, t := range tallies {
		out = append(out, Violator{UserID: userID, Count: t.count, Tier: t.tier})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].UserID < out[j].UserID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune removes events older than the retention horizon from every kind,
// archiving them first when an archive is configured, and drops per-user
// hour buckets that fell out of the horizon.
func (a *ViolationAnalytics) Prune(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	if a.breaker.IsOpen() {
		return result, ErrUnavailable
	}

	now := a.now()
	cutoff := now.Add(-a.retention)
	exclusiveMax := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)

	err := a.scan(ctx, a.prefix+eventsKeyPrefix+"*", func(key string) error {
		result.KeysScanned++
		if a.archive != nil {
			archived, err := a.archiveRange(ctx, key, exclusiveMax)
			if err != nil {
				return err
			}
			result.EventsArchived += archived
		}

		removed, err := a.client.ZRemRangeByScore(ctx, key, "-inf", exclusiveMax).Result()
		if err != nil {
			return fmt.Errorf("prune %s: %w", key, err)
		}
		result.EventsRemoved += removed
		return nil
	})
	if err != nil {
		a.observer.AnalyticsError("prune")
		return result, err
	}

	oldest := hourBucket(cutoff)
	err = a.scan(ctx, a.prefix+usersKeyPrefix+"*", func(key string) error {
		result.KeysScanned++
		fields, err := a.client.HKeys(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}

		var stale []string
		for _, f := range fields {
			if _, bucket, ok := parseBucketField(f); ok && bucket < oldest {
				stale = append(stale, f)
			}
		}
		if len(stale) == 0 {
			return nil
		}

		removed, err := a.client.HDel(ctx, key, stale...).Result()
		if err != nil {
			return fmt.Errorf("prune %s: %w", key, err)
		}
		result.BucketsRemoved += removed
		return nil
	})
	if err != nil {
		a.observer.AnalyticsError("prune")
		return result, err
	}

	a.logger.InfoContext(ctx, "pruned violation analytics",
		"events_removed", result.EventsRemoved,
		"events_archived", result.EventsArchived,
		"buckets_removed", result.BucketsRemoved,
		"keys_scanned", result.KeysScanned,
	)
	return result, nil
}

func (a *ViolationAnalytics) archiveRange(ctx context.Context, key, exclusiveMax string) (int64, error) {
	kind := key[len(a.prefix+eventsKeyPrefix):]
	members, err := a.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: exclusiveMax}).Result()
	if err != nil {
		return 0, fmt.Errorf("range %s: %w", key, err)
	}

	events := make([]Event, 0, len(members))
	for _, m := range members {
		ev, err := parseMember(kind, m)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return 0, nil
	}

	n, err := a.archive.Store(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("archive %s: %w", key, err)
	}
	return n, nil
}

// scan walks every key matching pattern with SCAN and calls fn once per key.
// SCAN may return a key more than once, so keys are deduplicated.
func (a *ViolationAnalytics) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := a.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if err := fn(k); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping reports whether the analytics store is reachable.
func (a *ViolationAnalytics) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}
