package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchRange struct {
	start, end string
}

// fakeRemote records every remote call the service makes.
type fakeRemote struct {
	mu         sync.Mutex
	activities []*Activity
	zones      map[int64][]ZoneBucket
	zoneErr    map[int64]error
	listErr    error

	listCalls []fetchRange
	zoneCalls []int64
}

func (f *fakeRemote) ListActivitiesInRange(_ context.Context, start, end time.Time) ([]*Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, fetchRange{DateOnly(start), DateOnly(end)})
	if f.listErr != nil {
		return nil, f.listErr
	}
	// hand out copies so the service's merge cannot alias our fixtures
	out := make([]*Activity, len(f.activities))
	for i, a := range f.activities {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeRemote) ActivityZones(_ context.Context, id int64) ([]ZoneBucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneCalls = append(f.zoneCalls, id)
	if err := f.zoneErr[id]; err != nil {
		return nil, err
	}
	return f.zones[id], nil
}

func newTestService(store Store, now time.Time) *Service {
	s := NewService(store, nil)
	s.now = func() time.Time { return now }
	return s
}

func hrRun(id int64, day time.Time) *Activity {
	return &Activity{
		ID:             id,
		SportType:      "Run",
		Distance:       5000,
		HasHeartrate:   true,
		StartDate:      day,
		StartDateLocal: day.Add(6 * time.Hour),
	}
}

func TestActivitiesWarmCacheIsIdempotent(t *testing.T) {
	now := date(2024, time.January, 31)
	remote := &fakeRemote{activities: []*Activity{hrRun(1, date(2024, time.January, 10))}}
	svc := newTestService(NewMemoryStore(), now)
	q := Query{Start: date(2024, time.January, 1), End: date(2024, time.January, 31)}

	first, err := svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, remote.listCalls, 1)

	second, err := svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Len(t, remote.listCalls, 1, "warm cache must not refetch")
}

func TestActivitiesFetchRangeIsUnionOfCachedAndRequested(t *testing.T) {
	now := date(2024, time.June, 1)
	remote := &fakeRemote{}
	svc := newTestService(NewMemoryStore(), now)

	_, err := svc.Activities(context.Background(), remote, Query{
		Start: date(2024, time.January, 1), End: date(2024, time.January, 31),
	})
	require.NoError(t, err)
	require.Equal(t, []fetchRange{{"2024-01-01", "2024-01-31"}}, remote.listCalls)

	// force staleness so the overlapping request refetches
	svc.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	_, err = svc.Activities(context.Background(), remote, Query{
		Start: date(2024, time.January, 15), End: date(2024, time.February, 15),
	})
	require.NoError(t, err)
	require.Len(t, remote.listCalls, 2)
	assert.Equal(t, fetchRange{"2024-01-01", "2024-02-15"}, remote.listCalls[1],
		"cached range must only grow")
}

func TestActivitiesOldWindowUsesLongTTL(t *testing.T) {
	now := date(2024, time.June, 1)
	remote := &fakeRemote{}
	store := NewMemoryStore()

	svc := newTestService(store, now)
	q := Query{Start: date(2024, time.January, 1), End: date(2024, time.January, 31)}
	_, err := svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	require.Len(t, remote.listCalls, 1)

	// ten minutes later the 15-minute recent threshold would be near,
	// but an all-old window gets the 7-day threshold
	svc.now = func() time.Time { return now.Add(10 * time.Minute) }
	_, err = svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	assert.Len(t, remote.listCalls, 1)
}

func TestActivitiesRecentWindowUsesShortTTL(t *testing.T) {
	now := date(2024, time.June, 1)
	remote := &fakeRemote{}
	svc := newTestService(NewMemoryStore(), now)
	q := Query{Start: now.AddDate(0, 0, -6), End: now}

	_, err := svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	require.Len(t, remote.listCalls, 1)

	svc.now = func() time.Time { return now.Add(16 * time.Minute) }
	_, err = svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	assert.Len(t, remote.listCalls, 2, "recent window stale after 15 minutes")
}

func TestActivitiesFiltersWindowAndSport(t *testing.T) {
	now := date(2024, time.June, 1)
	ride := hrRun(2, date(2024, time.January, 12))
	ride.SportType = "VirtualRide"
	remote := &fakeRemote{activities: []*Activity{
		hrRun(1, date(2024, time.January, 10)),
		ride,
		hrRun(3, date(2024, time.January, 25)),
	}}
	svc := newTestService(NewMemoryStore(), now)

	acts, err := svc.Activities(context.Background(), remote, Query{
		Start: date(2024, time.January, 1),
		End:   date(2024, time.January, 15),
		Sport: SportRun,
	})
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, int64(1), acts[0].ID)

	rides, err := svc.Activities(context.Background(), remote, Query{
		Start: date(2024, time.January, 1),
		End:   date(2024, time.January, 31),
		Sport: SportRide,
	})
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, int64(2), rides[0].ID)
}

func TestActivitiesZoneBackfillAndPersist(t *testing.T) {
	now := date(2024, time.June, 1)
	buckets := []ZoneBucket{{0, 120, 60}, {120, 140, 120}, {140, 160, 300}, {160, 180, 90}, {180, -1, 30}}
	remote := &fakeRemote{
		activities: []*Activity{hrRun(1, date(2024, time.January, 10)), hrRun(2, date(2024, time.January, 11))},
		zones:      map[int64][]ZoneBucket{1: buckets, 2: buckets},
	}
	store := NewMemoryStore()
	svc := newTestService(store, now)
	q := Query{
		Start:     date(2024, time.January, 1),
		End:       date(2024, time.January, 31),
		WithZones: true,
	}

	acts, err := svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	for _, a := range acts {
		assert.Len(t, a.Zones, 5)
	}
	assert.ElementsMatch(t, []int64{1, 2}, remote.zoneCalls)

	// a second query serves enriched data from cache: no listing, no zones
	again, err := svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Len(t, remote.listCalls, 1)
	assert.Len(t, remote.zoneCalls, 2)
}

func TestActivitiesZoneFailureIsNonFatal(t *testing.T) {
	now := date(2024, time.June, 1)
	buckets := []ZoneBucket{{0, 150, 600}}
	remote := &fakeRemote{
		activities: []*Activity{hrRun(1, date(2024, time.January, 10)), hrRun(2, date(2024, time.January, 11))},
		zones:      map[int64][]ZoneBucket{2: buckets},
		zoneErr:    map[int64]error{1: &APIError{Endpoint: "/activities/1/zones", StatusCode: 500, Message: "boom"}},
	}
	svc := newTestService(NewMemoryStore(), now)

	acts, err := svc.Activities(context.Background(), remote, Query{
		Start:     date(2024, time.January, 1),
		End:       date(2024, time.January, 31),
		WithZones: true,
	})
	require.NoError(t, err)
	require.Len(t, acts, 2)
	var withZones, without int
	for _, a := range acts {
		if a.HasZones() {
			withZones++
		} else {
			without++
		}
	}
	assert.Equal(t, 1, withZones)
	assert.Equal(t, 1, without)
}

func TestMergePreservesZoneDetailAcrossPlainRefetch(t *testing.T) {
	now := date(2024, time.June, 1)
	buckets := []ZoneBucket{{0, 150, 600}}
	remote := &fakeRemote{
		activities: []*Activity{hrRun(1, date(2024, time.January, 10))},
		zones:      map[int64][]ZoneBucket{1: buckets},
	}
	svc := newTestService(NewMemoryStore(), now)
	q := Query{
		Start:     date(2024, time.January, 1),
		End:       date(2024, time.January, 31),
		WithZones: true,
	}

	acts, err := svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Len(t, acts[0].Zones, 1)

	// let the zone-enriched cache go stale; the refetch returns the same
	// activity without zones and the merge must keep the old detail
	svc.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	acts, err = svc.Activities(context.Background(), remote, q)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Len(t, acts[0].Zones, 1, "merge dropped zone detail")
	assert.Len(t, remote.zoneCalls, 1, "preserved zones must not be refetched")
}

func TestMergeIncomingZonesWin(t *testing.T) {
	old := []*Activity{{ID: 1, Zones: []ZoneBucket{{0, 100, 10}}}}
	incoming := []*Activity{{ID: 1, Zones: []ZoneBucket{{0, 100, 10}, {100, 200, 20}}}}
	merged := mergeActivities(old, incoming)
	require.Len(t, merged, 1)
	assert.Len(t, merged[0].Zones, 2)
}

func TestActivitiesCorruptCacheDegradesToMiss(t *testing.T) {
	now := date(2024, time.June, 1)
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), CacheActivities, []byte("{not json")))

	remote := &fakeRemote{activities: []*Activity{hrRun(1, date(2024, time.January, 10))}}
	svc := newTestService(store, now)
	acts, err := svc.Activities(context.Background(), remote, Query{
		Start: date(2024, time.January, 1), End: date(2024, time.January, 31),
	})
	require.NoError(t, err)
	assert.Len(t, acts, 1)
	assert.Len(t, remote.listCalls, 1)
}

func TestActivitiesRemoteErrorAborts(t *testing.T) {
	now := date(2024, time.June, 1)
	remote := &fakeRemote{listErr: ErrSessionExpired}
	svc := newTestService(NewMemoryStore(), now)
	_, err := svc.Activities(context.Background(), remote, Query{
		Start: date(2024, time.January, 1), End: date(2024, time.January, 31),
	})
	assert.True(t, errors.Is(err, ErrSessionExpired))
}

func TestActivitiesStableOrderNewestFirst(t *testing.T) {
	now := date(2024, time.June, 1)
	remote := &fakeRemote{activities: []*Activity{
		hrRun(1, date(2024, time.January, 10)),
		hrRun(2, date(2024, time.January, 20)),
		hrRun(3, date(2024, time.January, 15)),
	}}
	svc := newTestService(NewMemoryStore(), now)
	acts, err := svc.Activities(context.Background(), remote, Query{
		Start: date(2024, time.January, 1), End: date(2024, time.January, 31),
	})
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, []int64{2, 3, 1}, []int64{acts[0].ID, acts[1].ID, acts[2].ID})
}
