package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	leasex "github.com/tanpawarit/Chative-Travel-Concierge/agent/lease"
	nodex "github.com/tanpawarit/Chative-Travel-Concierge/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

const (
	defaultMaxHops      = 1
	defaultLeaseTimeout = 30 * time.Second
	tracerName          = "github.com/tanpawarit/Chative-Travel-Concierge/agent/agents/orchestrator"
)

type Config struct {
	// MaxHops bounds how many specialists may run in one turn.
	MaxHops      int           `envconfig:"MAX_HOPS" split_words:"true" default:"1"`
	LeaseTimeout time.Duration `envconfig:"LEASE_TIMEOUT" split_words:"true" default:"30s"`
}

// TurnObserver receives one event per handled turn.
type TurnObserver interface {
	ObserveTurn(route string, elapsed time.Duration, err error)
}

type Turn struct {
	SessionID string
	Route     nodex.Route
	State     *statex.TravelAgentState
	Reply     string
}

type Orchestrator struct {
	store  statex.Store
	models contractx.Registry
	locker leasex.Locker

	failures contractx.FailureObserver
	turns    TurnObserver
	tracer   trace.Tracer

	maxHops      int
	leaseTimeout time.Duration

	now   func() time.Time
	newID func() string
}

type Option func(*Orchestrator)

func WithLocker(l leasex.Locker) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

func WithFailureObserver(obs contractx.FailureObserver) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.failures = obs
		}
	}
}

func WithTurnObserver(obs TurnObserver) Option {
	return func(o *Orchestrator) {
		o.turns = obs
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithSessionIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func New(
	store statex.Store,
	models contractx.Registry,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if models == nil {
		return nil, errors.New("specialist registry is required")
	}

	maxHops := cfg.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	leaseTimeout := cfg.LeaseTimeout
	if leaseTimeout <= 0 {
		leaseTimeout = defaultLeaseTimeout
	}

	o := &Orchestrator{
		store:        store,
		models:       models,
		locker:       leasex.NewKeyedMutex(),
		failures:     contractx.NoopFailureObserver{},
		tracer:       otel.Tracer(tracerName),
		maxHops:      maxHops,
		leaseTimeout: leaseTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// ProcessQuery runs one turn without touching the store. previous is the
// stored session for follow-ups and nil for a new conversation; an empty
// sessionID gets a generated one.
func (o *Orchestrator) ProcessQuery(
	ctx context.Context,
	query string,
	sessionID string,
	previous *statex.SessionRecord,
) (*statex.TravelAgentState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		if previous != nil {
			sessionID = previous.SessionID
		} else {
			sessionID = o.newID()
		}
	}

	gs, err := o.run(ctx, nodex.GraphInput{SessionID: sessionID, Text: query, Previous: previous})
	if err != nil {
		return nil, err
	}
	return gs.State, nil
}

// HandleMessage serializes turns per session, loads the stored session,
// runs the turn and persists the result. Persistence errors are returned.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, text string) (turn Turn, err error) {
	start := o.now()
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = o.newID()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.handle_message",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	logger := log.Logger.With().Str("session_id", sessionID).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Msg("turn failed")
		} else {
			span.SetAttributes(attribute.String("route", string(turn.Route)))
		}
		span.End()
		if o.turns != nil {
			o.turns.ObserveTurn(string(turn.Route), o.now().Sub(start), err)
		}
	}()

	release, err := o.acquire(ctx, sessionID)
	if err != nil {
		return Turn{SessionID: sessionID}, err
	}
	defer release()

	previous, err := o.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, statex.ErrStateNotFound):
		previous = nil
	case err != nil:
		return Turn{SessionID: sessionID}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	gs, err := o.run(ctx, nodex.GraphInput{SessionID: sessionID, Text: text, Previous: previous})
	if err != nil {
		return Turn{SessionID: sessionID}, err
	}

	if _, err := nodex.ValidateAndSaveState(ctx, gs, o.store); err != nil {
		return Turn{SessionID: sessionID, Route: gs.Route}, err
	}

	logger.Info().
		Str("route", string(gs.Route)).
		Int("messages", len(gs.State.Messages)).
		Msg("turn completed")

	return Turn{
		SessionID: sessionID,
		Route:     gs.Route,
		State:     gs.State,
		Reply:     gs.Reply,
	}, nil
}

func (o *Orchestrator) acquire(ctx context.Context, sessionID string) (func(), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, o.leaseTimeout)
	defer cancel()

	release, err := o.locker.Acquire(acquireCtx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire lease for session %s: %w", sessionID, err)
	}
	return release, nil
}
