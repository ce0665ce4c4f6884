package agent

import (
	"net/http"
	"strings"

	"github.com/BaSui01/ragchat/types"
)

// escalationPhrase must appear in any output that mentions escalation.
// The transferToSupport tool produces it; text that talks about a support
// transfer without it is a fabricated escalation.
const escalationPhrase = "call support with reason"

// OutputValidator rejects fabricated escalations: model text that claims a
// support transfer without having gone through the transferToSupport tool.
type OutputValidator struct{}

// NewOutputValidator creates the validator.
func NewOutputValidator() *OutputValidator {
	return &OutputValidator{}
}

// Validate returns an error when text mentions transferring to support
// without the tool's escalation phrase.
func (v *OutputValidator) Validate(text string) error {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "transfer") || !strings.Contains(lower, "support") {
		return nil
	}
	if strings.Contains(lower, escalationPhrase) {
		return nil
	}
	return types.NewError(types.ErrValidationRejected,
		"output claims a support transfer without calling transferToSupport").
		WithHTTPStatus(http.StatusUnprocessableEntity)
}

// RetryNudge is appended to the conversation when the validator rejects an
// output, steering the regeneration toward the tool.
const RetryNudge = "Do not claim to transfer the user to support in plain text. If escalation is needed, call the transferToSupport tool; otherwise answer from the retrieved documents."
