package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
)

var (
	//go:embed template/booking_extract.txt
	bookingExtractRaw string

	//go:embed template/complaint_analyze.txt
	complaintAnalyzeRaw string

	//go:embed template/complaint_respond.txt
	complaintRespondRaw string

	//go:embed template/information_analyze.txt
	informationAnalyzeRaw string

	//go:embed template/information_respond.txt
	informationRespondRaw string
)

// PromptSet holds the system prompts of every specialist call.
// Prompts are rendered with FString, so they must not contain braces.
type PromptSet struct {
	BookingExtract     string
	ComplaintAnalyze   string
	ComplaintRespond   string
	InformationAnalyze string
	InformationRespond string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		BookingExtract:     strings.TrimSpace(bookingExtractRaw),
		ComplaintAnalyze:   strings.TrimSpace(complaintAnalyzeRaw),
		ComplaintRespond:   strings.TrimSpace(complaintRespondRaw),
		InformationAnalyze: strings.TrimSpace(informationAnalyzeRaw),
		InformationRespond: strings.TrimSpace(informationRespondRaw),
	}
}

func (p PromptSet) Validate() error {
	prompts := map[string]string{
		"booking_extract":     p.BookingExtract,
		"complaint_analyze":   p.ComplaintAnalyze,
		"complaint_respond":   p.ComplaintRespond,
		"information_analyze": p.InformationAnalyze,
		"information_respond": p.InformationRespond,
	}
	for name, text := range prompts {
		if text == "" {
			return fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
		}
		if strings.ContainsAny(text, "{}") {
			return fmt.Errorf("%w: %s contains template braces", contractx.ErrValidation, name)
		}
	}
	return nil
}
