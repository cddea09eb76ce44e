package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrStateNotFound  = errors.New("session state not found")
	ErrInvalidSession = errors.New("session id is empty")
	ErrUnknownDriver  = errors.New("unknown store driver")
)

const (
	DefaultMaxAge      = 24 * time.Hour
	DefaultMaxSessions = 500
)

// Store is the persistence contract used by the orchestrator.
//
// Save replaces the whole message list of a session, so callers must
// serialize writes per session id (see package lease).
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionRecord, error)
	Save(ctx context.Context, st *TravelAgentState) error
	Delete(ctx context.Context, sessionID string) (bool, error)
	ListSummaries(ctx context.Context) ([]SessionSummary, error)
	Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (int, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// SessionRecord is the durable projection of a TravelAgentState.
type SessionRecord struct {
	SessionID       string
	Messages        []ConversationMessage
	BookingInfo     TravelBooking
	IsComplete      bool
	CurrentAgent    string
	QueryType       string
	LastFlightsJSON string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// LastComplaintRef is empty until a complaint has been logged.
	LastComplaintRef string
}

type SessionSummary struct {
	SessionID     string        `json:"session_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	IsComplete    bool          `json:"is_complete"`
	CurrentAgent  string        `json:"current_agent,omitempty"`
	Destination   string        `json:"destination,omitempty"`
	BookingStage  BookingStage  `json:"booking_stage"`
	BookingStatus BookingStatus `json:"booking_status"`
	MessageCount  int           `json:"message_count"`
}

// StoreConfig selects and tunes the session backend.
type StoreConfig struct {
	Driver          string        `envconfig:"DRIVER" split_words:"true" default:"sqlite"`
	DSN             string        `envconfig:"DSN" split_words:"true" default:"file:data/sessions.db"`
	MaxAge          time.Duration `envconfig:"MAX_AGE" split_words:"true" default:"24h"`
	MaxSessions     int           `envconfig:"MAX_SESSIONS" split_words:"true" default:"500"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" split_words:"true" default:"1h"`
	KeyPrefix       string        `envconfig:"KEY_PREFIX" split_words:"true" default:"travel:"`
	PingTimeout     time.Duration `envconfig:"PING_TIMEOUT" split_words:"true" default:"5s"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

func (c StoreConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("store dsn is required for driver=%s", c.Driver)
		}
	case DriverRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if c.MaxAge < 0 {
		return errors.New("store max age must be >= 0")
	}
	if c.PingTimeout < 0 {
		return errors.New("store ping timeout must be >= 0")
	}
	return nil
}

// snapshotFromState flattens a state into a record before it is written.
func snapshotFromState(st *TravelAgentState, now time.Time) (*SessionRecord, error) {
	if st == nil {
		return nil, ErrNilState
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}

	updatedAt := st.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now.UTC()
	}
	createdAt := st.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	flights := strings.TrimSpace(st.AgentResponse(ResponseKeyLastFlights))
	if flights == "" {
		flights = emptyFlightsJSON
	}

	complaint := strings.TrimSpace(st.AgentResponse(ResponseKeyLastComplaint))

	booking := st.BookingInfo.Clone()
	booking.Normalize()

	return &SessionRecord{
		SessionID:        st.SessionID,
		Messages:         st.Messages,
		BookingInfo:      booking,
		IsComplete:       st.IsComplete,
		CurrentAgent:     st.CurrentAgent,
		QueryType:        st.QueryType,
		LastFlightsJSON:  flights,
		LastComplaintRef: complaint,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

/* ------------------------------ Instrumented ----------------------------- */

// StoreObserver receives the outcome of every store operation.
type StoreObserver interface {
	ObserveStoreOp(op string, elapsed time.Duration, err error)
}

// InstrumentedStore reports the latency and result of each call.
type InstrumentedStore struct {
	next     Store
	observer StoreObserver
}

var _ Store = (*InstrumentedStore)(nil)

func NewInstrumentedStore(next Store, observer StoreObserver) Store {
	if observer == nil {
		return next
	}
	return &InstrumentedStore{next: next, observer: observer}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrStateNotFound) {
		err = nil
	}
	s.observer.ObserveStoreOp(op, time.Since(start), err)
}

func (s *InstrumentedStore) Load(ctx context.Context, sessionID string) (rec *SessionRecord, err error) {
	defer func(start time.Time) { s.observe("load", start, err) }(time.Now())
	return s.next.Load(ctx, sessionID)
}

func (s *InstrumentedStore) Save(ctx context.Context, st *TravelAgentState) (err error) {
	defer func(start time.Time) { s.observe("save", start, err) }(time.Now())
	return s.next.Save(ctx, st)
}

func (s *InstrumentedStore) Delete(ctx context.Context, sessionID string) (found bool, err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.next.Delete(ctx, sessionID)
}

func (s *InstrumentedStore) ListSummaries(ctx context.Context) (out []SessionSummary, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	return s.next.ListSummaries(ctx)
}

func (s *InstrumentedStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.next.Ping(ctx)
}

func (s *InstrumentedStore) Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (n int, err error) {
	defer func(start time.Time) { s.observe("cleanup", start, err) }(time.Now())
	return s.next.Cleanup(ctx, maxAge, maxCount)
}

/* -------------------------------- Factory -------------------------------- */

// OpenStore builds the backend selected by cfg. The redis client is only
// required for DriverRedis. The returned close func releases the backend.
func OpenStore(ctx context.Context, cfg StoreConfig, rdb redis.UniversalClient, opts ...StoreOption) (Store, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	opts = append([]StoreOption{WithKeyPrefix(cfg.KeyPrefix)}, opts...)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite:
		s, err := OpenSQLite(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverRedis:
		if rdb == nil {
			return nil, nil, errors.New("redis store requires a redis client")
		}
		return NewRedisStore(rdb, opts...), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
