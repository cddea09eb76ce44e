package llm

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
)

func validAgentConfig() AgentConfig {
	return AgentConfig{
		CallTimeout:   45 * time.Second,
		RetrievalTopK: 4,
		LeaseBackend:  "redis",
		LeaseTTL:      60 * time.Second,
	}
}

func TestAgentConfigValidate(t *testing.T) {
	t.Parallel()

	if err := validAgentConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cases := map[string]func(*AgentConfig){
		"zero call timeout": func(c *AgentConfig) { c.CallTimeout = 0 },
		"zero top-k":        func(c *AgentConfig) { c.RetrievalTopK = 0 },
		"unknown backend":   func(c *AgentConfig) { c.LeaseBackend = "etcd" },
		"missing lease ttl": func(c *AgentConfig) { c.LeaseTTL = 0 },
		"sub-second ttl":    func(c *AgentConfig) { c.LeaseTTL = 500 * time.Millisecond },
	}
	for name, mutate := range cases {
		cfg := validAgentConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("%s: Validate() error = %v, want ErrValidation", name, err)
		}
	}
}
