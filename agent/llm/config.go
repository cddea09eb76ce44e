package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Travel-Concierge/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	BookingModel           string  `envconfig:"BOOKING_MODEL" split_words:"true"`
	ComplaintModel         string  `envconfig:"COMPLAINT_MODEL" split_words:"true"`
	InformationModel       string  `envconfig:"INFORMATION_MODEL" split_words:"true"`
	BookingTemperature     float32 `envconfig:"BOOKING_TEMPERATURE" split_words:"true" default:"0.2"`
	ComplaintTemperature   float32 `envconfig:"COMPLAINT_TEMPERATURE" split_words:"true" default:"-1"`
	InformationTemperature float32 `envconfig:"INFORMATION_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: llm timeout must be >= 0", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor returns the model settings of one agent, falling back to
// the defaults where no per-agent override is set.
func (c Config) OpenRouterFor(agentType contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(model string, temperature float32) {
		if v := strings.TrimSpace(model); v != "" {
			modelName = v
		}
		if temperature >= 0 {
			temp = temperature
		}
	}

	switch agentType {
	case contractx.AgentTypeBooking:
		override(c.BookingModel, c.BookingTemperature)
	case contractx.AgentTypeComplaint:
		override(c.ComplaintModel, c.ComplaintTemperature)
	case contractx.AgentTypeInformation:
		override(c.InformationModel, c.InformationTemperature)
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// AgentConfig tunes the specialists independent of the model provider.
type AgentConfig struct {
	CallTimeout   time.Duration `envconfig:"CALL_TIMEOUT" split_words:"true" default:"45s"`
	RetrievalTopK int           `envconfig:"RETRIEVAL_TOP_K" split_words:"true" default:"4"`

	// LeaseBackend is "local" or "redis".
	LeaseBackend string `envconfig:"LEASE_BACKEND" split_words:"true" default:"local"`
	// LeaseTTL bounds how long a crashed process keeps a session locked.
	// Held redis leases are refreshed, so it may be shorter than a turn.
	LeaseTTL time.Duration `envconfig:"LEASE_TTL" split_words:"true" default:"60s"`
}

func (c AgentConfig) Validate() error {
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%w: agent call timeout must be > 0", contractx.ErrValidation)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("%w: retrieval top-k must be > 0", contractx.ErrValidation)
	}
	if c.LeaseTTL < time.Second {
		return fmt.Errorf("%w: lease ttl must be >= 1s", contractx.ErrValidation)
	}
	switch strings.ToLower(strings.TrimSpace(c.LeaseBackend)) {
	case "local", "redis":
	default:
		return fmt.Errorf("%w: unknown lease backend %q", contractx.ErrValidation, c.LeaseBackend)
	}
	return nil
}
