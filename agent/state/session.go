package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// TravelAgentState is the working memory of one conversation turn.
// Values handed out by the helpers below are never mutated in place:
// AddMessage and Update always return a fresh copy.
type TravelAgentState struct {
	SessionID    string                `json:"session_id"`
	CurrentQuery string                `json:"current_query"`
	Messages     []ConversationMessage `json:"messages"` // append-only
	BookingInfo  TravelBooking         `json:"booking_info"`

	CurrentAgent string `json:"current_agent,omitempty"`
	QueryType    string `json:"query_type,omitempty"`
	IsComplete   bool   `json:"is_complete"`

	// AgentResponses carries side-channel data between turns,
	// e.g. the last flight options shown to the user.
	AgentResponses map[string]string `json:"agent_responses,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleSystem:
		return true
	default:
		return false
	}
}

type ConversationMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	AgentName string    `json:"agent_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type BookingStage string

const (
	StageCollectingInfo BookingStage = "collecting_info"
	StageShowingOptions BookingStage = "showing_options"
	StageConfirmed      BookingStage = "confirmed"
	StageCancelled      BookingStage = "cancelled"
)

// InProgress reports whether the booking flow still owns the conversation.
func (s BookingStage) InProgress() bool {
	return s == StageCollectingInfo || s == StageShowingOptions
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

const (
	DefaultCabinClass = "Economy"
	DefaultTravelers  = 1

	// ResponseKeyLastFlights is the AgentResponses key holding the JSON
	// encoded flight options most recently shown to the user.
	ResponseKeyLastFlights = "last_flights_json"
	emptyFlightsJSON       = "[]"

	// ResponseKeyLastComplaint holds the reference of the most recent
	// complaint logged in the session.
	ResponseKeyLastComplaint = "last_complaint_ref"
)

// TravelBooking tracks conversational progress (stage) and the
// transactional outcome (status) as independent axes.
type TravelBooking struct {
	BookingID     string `json:"booking_id,omitempty"`
	Origin        string `json:"origin,omitempty"`
	Destination   string `json:"destination,omitempty"`
	DepartureDate string `json:"departure_date,omitempty"`
	ReturnDate    string `json:"return_date,omitempty"`
	Travelers     int    `json:"travelers"`
	CabinClass    string `json:"cabin_class"`

	BookingStage  BookingStage  `json:"booking_stage"`
	BookingStatus BookingStatus `json:"booking_status"`

	SelectedFlightID *int     `json:"selected_flight_id,omitempty"`
	FlightNumber     string   `json:"flight_number,omitempty"`
	Airline          string   `json:"airline,omitempty"`
	Price            *float64 `json:"price,omitempty"`
	Currency         string   `json:"currency,omitempty"`
}

// NewBooking returns an empty booking at the start of the booking flow.
func NewBooking() TravelBooking {
	return TravelBooking{
		Travelers:     DefaultTravelers,
		CabinClass:    DefaultCabinClass,
		BookingStage:  StageCollectingInfo,
		BookingStatus: StatusPending,
	}
}

func (b TravelBooking) Clone() TravelBooking {
	out := b
	if b.SelectedFlightID != nil {
		id := *b.SelectedFlightID
		out.SelectedFlightID = &id
	}
	if b.Price != nil {
		price := *b.Price
		out.Price = &price
	}
	return out
}

// Normalize fills defaults for fields that must never be empty.
func (b *TravelBooking) Normalize() {
	if b.Travelers < 1 {
		b.Travelers = DefaultTravelers
	}
	if strings.TrimSpace(b.CabinClass) == "" {
		b.CabinClass = DefaultCabinClass
	}
	if b.BookingStage == "" {
		b.BookingStage = StageCollectingInfo
	}
	if b.BookingStatus == "" {
		b.BookingStatus = StatusPending
	}
}

/* -------------------------- State construction -------------------------- */

var (
	ErrNilState       = errors.New("travel agent state is nil")
	ErrInvalidMessage = errors.New("invalid conversation message")
	ErrInvalidBooking = errors.New("invalid booking")
)

// NewInitialState creates the state for the first query of a session.
func NewInitialState(query, sessionID string, now time.Time) (*TravelAgentState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	now = now.UTC()
	st := &TravelAgentState{
		SessionID:      sessionID,
		CurrentQuery:   query,
		Messages:       []ConversationMessage{},
		BookingInfo:    NewBooking(),
		AgentResponses: map[string]string{ResponseKeyLastFlights: emptyFlightsJSON},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return st, nil
}

// Resume rebuilds the state of a follow-up turn from a stored session.
// History and booking progress are carried over; the completion flag is
// reset because a new turn has started.
func Resume(query string, rec *SessionRecord, now time.Time) (*TravelAgentState, error) {
	if rec == nil {
		return nil, ErrStateNotFound
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return nil, ErrInvalidSession
	}

	booking := rec.BookingInfo.Clone()
	booking.Normalize()

	flights := strings.TrimSpace(rec.LastFlightsJSON)
	if flights == "" {
		flights = emptyFlightsJSON
	}

	createdAt := rec.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now.UTC()
	}

	responses := map[string]string{ResponseKeyLastFlights: flights}
	if ref := strings.TrimSpace(rec.LastComplaintRef); ref != "" {
		responses[ResponseKeyLastComplaint] = ref
	}

	st := &TravelAgentState{
		SessionID:      rec.SessionID,
		CurrentQuery:   query,
		Messages:       slices.Clone(rec.Messages),
		BookingInfo:    booking,
		CurrentAgent:   rec.CurrentAgent,
		QueryType:      rec.QueryType,
		IsComplete:     false,
		AgentResponses: responses,
		CreatedAt:      createdAt,
		UpdatedAt:      now.UTC(),
	}
	if st.Messages == nil {
		st.Messages = []ConversationMessage{}
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("resume session %s: %w", rec.SessionID, err)
	}
	return st, nil
}

/* ---------------------------- Copy-on-write ----------------------------- */

// Clone returns a deep copy of the state.
func (s *TravelAgentState) Clone() *TravelAgentState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = slices.Clone(s.Messages)
	out.BookingInfo = s.BookingInfo.Clone()
	out.AgentResponses = maps.Clone(s.AgentResponses)
	return &out
}

// AddMessage returns a copy of the state with one message appended.
func (s *TravelAgentState) AddMessage(role Role, content, agentName string, now time.Time) *TravelAgentState {
	out := s.Clone()
	if out == nil {
		return nil
	}
	now = now.UTC()
	out.Messages = append(out.Messages, ConversationMessage{
		Role:      role,
		Content:   content,
		AgentName: agentName,
		Timestamp: now,
	})
	out.UpdatedAt = now
	return out
}

// Update applies fn to a copy of the state and returns the copy.
func (s *TravelAgentState) Update(now time.Time, fn func(*TravelAgentState)) *TravelAgentState {
	out := s.Clone()
	if out == nil {
		return nil
	}
	if out.AgentResponses == nil {
		out.AgentResponses = map[string]string{}
	}
	if fn != nil {
		fn(out)
	}
	out.UpdatedAt = now.UTC()
	return out
}

/* ------------------------------- Queries -------------------------------- */

// LastMessage returns the most recent message, if any.
func (s *TravelAgentState) LastMessage() (ConversationMessage, bool) {
	if s == nil || len(s.Messages) == 0 {
		return ConversationMessage{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// RecentMessages returns at most the last n messages.
func (s *TravelAgentState) RecentMessages(n int) []ConversationMessage {
	if s == nil || n <= 0 {
		return nil
	}
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

func (s *TravelAgentState) AgentResponse(key string) string {
	if s == nil || s.AgentResponses == nil {
		return ""
	}
	return s.AgentResponses[key]
}

func (s *TravelAgentState) Validate() error {
	if s == nil {
		return ErrNilState
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	for i, m := range s.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidMessage, i, m.Role)
		}
	}
	b := s.BookingInfo
	if b.Travelers < 1 {
		return fmt.Errorf("%w: travelers must be >= 1, got %d", ErrInvalidBooking, b.Travelers)
	}
	if b.BookingStage == "" || b.BookingStatus == "" {
		return fmt.Errorf("%w: booking stage and status are required", ErrInvalidBooking)
	}
	return nil
}
