package contract

type AgentType string

const (
	AgentTypeBooking     AgentType = "booking"
	AgentTypeComplaint   AgentType = "complaint"
	AgentTypeInformation AgentType = "information"
)

// AgentName is the value stored in ConversationMessage.AgentName and
// TravelAgentState.CurrentAgent.
func (a AgentType) AgentName() string {
	return string(a) + "_agent"
}

type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
