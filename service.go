package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RemoteClient is the slice of the activity API the service needs.
type RemoteClient interface {
	ListActivitiesInRange(ctx context.Context, start, end time.Time) ([]*Activity, error)
	ActivityZones(ctx context.Context, id int64) ([]ZoneBucket, error)
}

// Query describes one activity request from the presentation layer.
type Query struct {
	Start     time.Time
	End       time.Time
	Sport     Sport
	WithZones bool
}

// Service resolves activity queries against the local cache, fetching
// from the remote API only for windows the cache does not cover or that
// have gone stale.
type Service struct {
	store Store

	// Freshness thresholds. Windows touching the recent past go stale
	// quickly because new activities land there; older windows are
	// effectively immutable.
	recentWindow time.Duration
	recentTTL    time.Duration
	historyTTL   time.Duration

	now func() time.Time

	muPlain sync.Mutex
	muZones sync.Mutex
}

// NewService creates a Service over the given store.
func NewService(store Store, cfg *Config) *Service {
	s := &Service{
		store:        store,
		recentWindow: 7 * 24 * time.Hour,
		recentTTL:    15 * time.Minute,
		historyTTL:   7 * 24 * time.Hour,
		now:          time.Now,
	}
	if cfg != nil {
		if cfg.RecentCacheTTL > 0 {
			s.recentTTL = cfg.RecentCacheTTL
		}
		if cfg.HistoryCacheTTL > 0 {
			s.historyTTL = cfg.HistoryCacheTTL
		}
	}
	return s
}

// Activities returns the activities in [q.Start, q.End] for the
// requested sport, serving from cache when possible and growing the
// cached range when not. With q.WithZones set, activities flagged as
// having heart-rate data are backfilled with zone detail.
func (s *Service) Activities(ctx context.Context, client RemoteClient, q Query) ([]*Activity, error) {
	purpose, mu := CacheActivities, &s.muPlain
	if q.WithZones {
		purpose, mu = CacheActivitiesZone, &s.muZones
	}

	// Serialize read-modify-persist per cache purpose so overlapping
	// queries cannot clobber each other's merges.
	mu.Lock()
	defer mu.Unlock()

	reqStart := DateOnly(q.Start)
	reqEnd := DateOnly(q.End)

	rec := loadCache(ctx, s.store, purpose)
	if s.valid(rec, reqStart, reqEnd) {
		cacheHitCounter.WithLabelValues(purpose).Inc()
	} else {
		cacheMissCounter.WithLabelValues(purpose).Inc()
		fetched, err := s.refresh(ctx, client, rec, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		rec = fetched
		saveCache(ctx, s.store, purpose, rec)
	}

	result := filterActivities(rec.Activities, reqStart, reqEnd, q.Sport)

	if q.WithZones {
		if s.backfillZones(ctx, client, result) {
			saveCache(ctx, s.store, purpose, rec)
		}
	}
	return result, nil
}

// valid reports whether the cached record can serve [reqStart, reqEnd]
// without a network call: the record must cover the range and be
// younger than the threshold for the window's recency.
func (s *Service) valid(rec *cacheRecord, reqStart, reqEnd string) bool {
	if rec == nil {
		return false
	}
	if rec.StartDate > reqStart || rec.EndDate < reqEnd {
		return false
	}
	ttl := s.historyTTL
	if reqEnd >= DateOnly(s.now().Add(-s.recentWindow)) {
		ttl = s.recentTTL
	}
	return s.now().Sub(rec.LastFetched) < ttl
}

// refresh fetches the union of the cached range and the requested
// range, merges the result over the cached activities, and returns the
// new record. The cached range never shrinks.
func (s *Service) refresh(ctx context.Context, client RemoteClient, rec *cacheRecord, start, end time.Time) (*cacheRecord, error) {
	fetchStart, fetchEnd := Midnight(start), Midnight(end)
	if rec != nil {
		if cs, err := ParseDate(rec.StartDate); err == nil && cs.Before(fetchStart) {
			fetchStart = cs
		}
		if ce, err := ParseDate(rec.EndDate); err == nil && ce.After(fetchEnd) {
			fetchEnd = ce
		}
	}
	remoteCallCounter.WithLabelValues("activities").Inc()
	log.Info().Str("start", DateOnly(fetchStart)).Str("end", DateOnly(fetchEnd)).Msg("fetching activities")
	incoming, err := client.ListActivitiesInRange(ctx, fetchStart, fetchEnd)
	if err != nil {
		return nil, err
	}
	var cached []*Activity
	if rec != nil {
		cached = rec.Activities
	}
	return &cacheRecord{
		Activities:  mergeActivities(cached, incoming),
		LastFetched: s.now(),
		StartDate:   DateOnly(fetchStart),
		EndDate:     DateOnly(fetchEnd),
	}, nil
}

// mergeActivities overlays incoming activities on the cached set,
// keyed by id. An incoming activity wins except that zone detail
// already attached to the cached copy is carried over when the
// incoming copy has none; a plain listing can never supply zones, so
// dropping them would throw away paid-for enrichment.
func mergeActivities(cached, incoming []*Activity) []*Activity {
	byID := make(map[int64]*Activity, len(cached)+len(incoming))
	for _, a := range cached {
		byID[a.ID] = a
	}
	for _, a := range incoming {
		if prev, ok := byID[a.ID]; ok && prev.HasZones() && !a.HasZones() {
			a.Zones = prev.Zones
		}
		byID[a.ID] = a
	}
	merged := make([]*Activity, 0, len(byID))
	for _, a := range byID {
		merged = append(merged, a)
	}
	// newest first, matching the remote service's listing order
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].StartDate.Equal(merged[j].StartDate) {
			return merged[i].ID > merged[j].ID
		}
		return merged[i].StartDate.After(merged[j].StartDate)
	})
	return merged
}

// filterActivities narrows the cache-covering set down to the exact
// requested window and sport.
func filterActivities(acts []*Activity, reqStart, reqEnd string, sport Sport) []*Activity {
	out := make([]*Activity, 0, len(acts))
	for _, a := range acts {
		d := DateOnly(a.StartDateLocal)
		if d < reqStart || d > reqEnd {
			continue
		}
		if !sport.Matches(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// backfillZones fetches zone detail concurrently for every activity
// that advertises heart-rate data but has none attached. Individual
// failures are logged and skipped; the batch always completes. Returns
// whether any activity was enriched.
func (s *Service) backfillZones(ctx context.Context, client RemoteClient, acts []*Activity) bool {
	var pending []*Activity
	for _, a := range acts {
		if a.HasHeartrate && !a.HasZones() {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return false
	}

	var mu sync.Mutex
	enriched := false
	grp, ctx := errgroup.WithContext(ctx)
	for _, act := range pending {
		act := act
		grp.Go(func() error {
			remoteCallCounter.WithLabelValues("zones").Inc()
			zones, err := client.ActivityZones(ctx, act.ID)
			if err != nil {
				zoneFailureCounter.Inc()
				log.Warn().Err(err).Int64("id", act.ID).Msg("zone fetch failed, skipping")
				return nil
			}
			if len(zones) == 0 {
				return nil
			}
			mu.Lock()
			act.Zones = zones
			enriched = true
			mu.Unlock()
			return nil
		})
	}
	_ = grp.Wait()
	return enriched
}
