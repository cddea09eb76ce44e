package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client,
		WithKeyPrefix("test:"),
		WithClock(func() time.Time { return testNow }),
	)
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	st := sampleState(t, "r-1", testNow).Update(testNow, func(s *TravelAgentState) {
		s.BookingInfo.Destination = "Lisbon"
		s.AgentResponses[ResponseKeyLastFlights] = `[{"id":1}]`
	})
	require.NoError(t, store.Save(ctx, st))

	assert.True(t, mr.Exists("test:session:r-1"))
	members, err := mr.ZMembers("test:sessions:updated")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, members)

	rec, err := store.Load(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", rec.BookingInfo.Destination)
	assert.Equal(t, `[{"id":1}]`, rec.LastFlightsJSON)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, "booking_agent", rec.Messages[1].AgentName)
	assert.True(t, rec.UpdatedAt.Equal(testNow))
}

func TestRedisStoreLoadMissing(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStoreDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Save(ctx, sampleState(t, "r-del", testNow)))

	found, err := store.Delete(ctx, "r-del")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, mr.Exists("test:session:r-del"))

	found, err = store.Delete(ctx, "r-del")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreListAndCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	ages := []time.Duration{48 * time.Hour, time.Minute, 2 * time.Minute, 3 * time.Minute}
	for i, age := range ages {
		require.NoError(t, store.Save(ctx, sampleState(t, fmt.Sprintf("r-%d", i), testNow.Add(-age))))
	}

	list, err := store.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "r-1", list[0].SessionID)
	assert.Equal(t, "r-0", list[3].SessionID)
	assert.Equal(t, 2, list[0].MessageCount)

	removed, err := store.Cleanup(ctx, 24*time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err = store.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r-1", list[0].SessionID)
	assert.Equal(t, "r-2", list[1].SessionID)
}

func TestRedisStorePersistsComplaintRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	st := sampleState(t, "r-cmp", testNow).Update(testNow, func(s *TravelAgentState) {
		s.AgentResponses[ResponseKeyLastComplaint] = "CMP-9F8E7D6C"
	})
	require.NoError(t, store.Save(ctx, st))

	rec, err := store.Load(ctx, "r-cmp")
	require.NoError(t, err)
	assert.Equal(t, "CMP-9F8E7D6C", rec.LastComplaintRef)

	next, err := Resume("status?", rec, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "CMP-9F8E7D6C", next.AgentResponse(ResponseKeyLastComplaint))
	assert.Equal(t, "[]", next.AgentResponse(ResponseKeyLastFlights))
}

func TestRedisStorePing(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

type recordingObserver struct {
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveStoreOp(op string, _ time.Duration, err error) {
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

func TestInstrumentedStoreObservesPing(t *testing.T) {
	t.Parallel()
	inner, mr := newTestRedisStore(t)
	obs := &recordingObserver{}
	store := NewInstrumentedStore(inner, obs)

	require.NoError(t, store.Ping(context.Background()))
	mr.Close()
	require.Error(t, store.Ping(context.Background()))

	assert.Equal(t, []string{"ping", "ping"}, obs.ops)
	assert.NoError(t, obs.errs[0])
	assert.Error(t, obs.errs[1])
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, _, err := OpenStore(context.Background(), StoreConfig{Driver: "mongo"}, nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, _, err = OpenStore(context.Background(), StoreConfig{Driver: DriverRedis}, nil)
	assert.Error(t, err)
}
