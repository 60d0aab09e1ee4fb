package signal

import (
	"errors"
	"strings"

	"trigger-engine/internal/errs"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CheckPayload rejects structurally broken signals before any state change.
// Every failure is an *errs.ValidationError.
func CheckPayload(s Signal) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &errs.ValidationError{Reason: "invalid signal", Err: err}
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required", "required_if":
				msgs = append(msgs, field+" is required")
			default:
				msgs = append(msgs, field+" is invalid")
			}
		}
		return &errs.ValidationError{Reason: strings.Join(msgs, "; ")}
	}
	if s.ExecutionMode == "trigger" && s.TriggerPrice == nil {
		return &errs.ValidationError{Reason: "triggerprice is required for trigger mode"}
	}
	return nil
}
