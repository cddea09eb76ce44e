package contract

import (
	"context"

	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
)

// Specialist handles one turn for its domain. Handle never returns an
// error: failures become an apology message. Exactly one agent message is
// appended to the returned state.
type Specialist interface {
	Handle(ctx context.Context, st *statex.TravelAgentState) *statex.TravelAgentState
}

type Registry interface {
	Booking() Specialist
	Complaint() Specialist
	Information() Specialist
}

// Retriever returns the documents most relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}

// NoopRetriever is used when no knowledge base is configured.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(context.Context, string, int) ([]Document, error) {
	return nil, nil
}

// FailureObserver is notified when a specialist falls back to an apology.
type FailureObserver interface {
	ObserveFailure(agent AgentType, err error)
}

type NoopFailureObserver struct{}

func (NoopFailureObserver) ObserveFailure(AgentType, error) {}
