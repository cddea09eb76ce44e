package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "travel:"

// RedisStore keeps one JSON document per session plus a sorted set of
// session ids scored by their last update (unix millis).
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, opts ...StoreOption) *RedisStore {
	o := buildStoreOptions(opts)
	return &RedisStore{client: client, prefix: o.keyPrefix, now: o.now}
}

type redisSession struct {
	SessionID       string                `json:"session_id"`
	Messages        []ConversationMessage `json:"messages"`
	BookingInfo     TravelBooking         `json:"booking_info"`
	IsComplete      bool                  `json:"is_complete"`
	CurrentAgent    string                `json:"current_agent,omitempty"`
	QueryType       string                `json:"query_type,omitempty"`
	LastFlightsJSON string                `json:"last_flights_json"`
	LastComplaint   string                `json:"last_complaint_ref,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "sessions:updated"
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", sessionID, err)
	}
	return decodeRedisSession(raw)
}

func (s *RedisStore) Save(ctx context.Context, st *TravelAgentState) error {
	rec, err := snapshotFromState(st, s.now())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(redisSession{
		SessionID:       rec.SessionID,
		Messages:        rec.Messages,
		BookingInfo:     rec.BookingInfo,
		IsComplete:      rec.IsComplete,
		CurrentAgent:    rec.CurrentAgent,
		QueryType:       rec.QueryType,
		LastFlightsJSON: rec.LastFlightsJSON,
		LastComplaint:   rec.LastComplaintRef,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.SessionID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(rec.SessionID), payload, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(rec.UpdatedAt.UnixMilli()),
			Member: rec.SessionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, ErrInvalidSession
	}

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.sessionKey(sessionID))
		pipe.ZRem(ctx, s.indexKey(), sessionID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete session %s: %w", sessionID, err)
	}
	return del.Val() > 0, nil
}

func (s *RedisStore) ListSummaries(ctx context.Context) ([]SessionSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []SessionSummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget sessions: %w", err)
	}

	out := make([]SessionSummary, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a document; cleanup will reconcile it
			continue
		}
		rec, err := decodeRedisSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, SessionSummary{
			SessionID:     rec.SessionID,
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
			IsComplete:    rec.IsComplete,
			CurrentAgent:  rec.CurrentAgent,
			Destination:   rec.BookingInfo.Destination,
			BookingStage:  rec.BookingInfo.BookingStage,
			BookingStatus: rec.BookingInfo.BookingStatus,
			MessageCount:  len(rec.Messages),
		})
	}
	return out, nil
}

func (s *RedisStore) Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	removed := 0

	if maxAge > 0 {
		cutoff := s.now().Add(-maxAge).UnixMilli()
		stale, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatInt(cutoff, 10),
		}).Result()
		if err != nil {
			return 0, fmt.Errorf("redis age cleanup: %w", err)
		}
		n, err := s.deleteMany(ctx, stale)
		if err != nil {
			return 0, err
		}
		removed += n
	}

	if maxCount > 0 {
		total, err := s.client.ZCard(ctx, s.indexKey()).Result()
		if err != nil {
			return removed, fmt.Errorf("redis count cleanup: %w", err)
		}
		if excess := total - int64(maxCount); excess > 0 {
			oldest, err := s.client.ZRange(ctx, s.indexKey(), 0, excess-1).Result()
			if err != nil {
				return removed, fmt.Errorf("redis count cleanup: %w", err)
			}
			n, err := s.deleteMany(ctx, oldest)
			if err != nil {
				return removed, err
			}
			removed += n
		}
	}

	return removed, nil
}

func (s *RedisStore) deleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
		members[i] = id
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis delete sessions: %w", err)
	}
	return len(ids), nil
}

func decodeRedisSession(raw []byte) (*SessionRecord, error) {
	var doc redisSession
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	booking := doc.BookingInfo
	booking.Normalize()

	flights := strings.TrimSpace(doc.LastFlightsJSON)
	if flights == "" {
		flights = emptyFlightsJSON
	}
	msgs := doc.Messages
	if msgs == nil {
		msgs = []ConversationMessage{}
	}

	return &SessionRecord{
		SessionID:        doc.SessionID,
		Messages:         msgs,
		BookingInfo:      booking,
		IsComplete:       doc.IsComplete,
		CurrentAgent:     doc.CurrentAgent,
		QueryType:        doc.QueryType,
		LastFlightsJSON:  flights,
		LastComplaintRef: doc.LastComplaint,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}, nil
}
