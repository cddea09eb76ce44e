package specialist

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	llmx "github.com/tanpawarit/Chative-Travel-Concierge/agent/llm"
	promptx "github.com/tanpawarit/Chative-Travel-Concierge/agent/prompt"
)

type registryImpl struct {
	booking     contractx.Specialist
	complaint   contractx.Specialist
	information contractx.Specialist
}

func (r *registryImpl) Booking() contractx.Specialist {
	return r.booking
}

func (r *registryImpl) Complaint() contractx.Specialist {
	return r.complaint
}

func (r *registryImpl) Information() contractx.Specialist {
	return r.information
}

// NewRegistry builds one chat model per agent from cfg and wires the
// specialists. retriever may be nil.
func NewRegistry(
	ctx context.Context,
	cfg llmx.Config,
	agentCfg llmx.AgentConfig,
	retriever contractx.Retriever,
	opts ...Option,
) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := agentCfg.Validate(); err != nil {
		return nil, err
	}

	models := make(map[contractx.AgentType]einomodel.BaseChatModel, 3)
	for _, agentType := range []contractx.AgentType{
		contractx.AgentTypeBooking,
		contractx.AgentTypeComplaint,
		contractx.AgentTypeInformation,
	} {
		modelCfg := cfg.OpenRouterFor(agentType)
		m, err := modelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, agentType, err)
		}
		models[agentType] = m
	}

	defaults := []Option{
		WithCallTimeout(agentCfg.CallTimeout),
		WithRetrievalTopK(agentCfg.RetrievalTopK),
		WithRetriever(retriever),
	}
	return newRegistry(ctx, models, promptx.LoadPromptSet(), append(defaults, opts...)...)
}

func newRegistry(
	ctx context.Context,
	models map[contractx.AgentType]einomodel.BaseChatModel,
	prompts promptx.PromptSet,
	opts ...Option,
) (*registryImpl, error) {
	if err := prompts.Validate(); err != nil {
		return nil, err
	}
	for _, t := range []contractx.AgentType{contractx.AgentTypeBooking, contractx.AgentTypeComplaint, contractx.AgentTypeInformation} {
		if models[t] == nil {
			return nil, fmt.Errorf("%w: no chat model for %s", contractx.ErrValidation, t)
		}
	}

	booking, err := NewBookingAgent(ctx, models[contractx.AgentTypeBooking], prompts.BookingExtract, opts...)
	if err != nil {
		return nil, err
	}
	complaint, err := NewComplaintAgent(ctx, models[contractx.AgentTypeComplaint],
		prompts.ComplaintAnalyze, prompts.ComplaintRespond, opts...)
	if err != nil {
		return nil, err
	}
	information, err := NewInformationAgent(ctx, models[contractx.AgentTypeInformation],
		prompts.InformationAnalyze, prompts.InformationRespond, opts...)
	if err != nil {
		return nil, err
	}

	return &registryImpl{
		booking:     booking,
		complaint:   complaint,
		information: information,
	}, nil
}
