package prompt

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
)

func TestLoadPromptSetIsComplete(t *testing.T) {
	t.Parallel()

	if err := LoadPromptSet().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateMissingPrompt(t *testing.T) {
	t.Parallel()

	p := LoadPromptSet()
	p.ComplaintRespond = ""
	if err := p.Validate(); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("Validate() error = %v, want ErrPromptMissing", err)
	}
}

func TestValidateRejectsBraces(t *testing.T) {
	t.Parallel()

	p := LoadPromptSet()
	p.BookingExtract = `return {"intent": "book"}`
	if err := p.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}
