package validation

import (
	"encoding/json"
	"errors"
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

type Validator struct {
	v *validatorv10.Validate
}

func New() *Validator {
	return &Validator{v: validatorv10.New()}
}

// CheckTradePayload decodes the raw submission into the trade contract and
// validates it. The raw bytes are what gets queued and delivered; the decode
// here is only a gate.
func (val *Validator) CheckTradePayload(raw json.RawMessage) (*TradePayload, map[string]string, error) {
	var payload TradePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if err := val.v.Struct(&payload); err != nil {
		return nil, fieldErrors(err), err
	}
	return &payload, nil, nil
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validatorv10.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Field()] = fmt.Sprintf("failed %q validation", fe.Tag())
		}
	} else {
		out["payload"] = err.Error()
	}
	return out
}
