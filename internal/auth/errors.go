package auth

import (
	"fmt"

	"github.com/samber/oops"
)

// Error codes attached to oops errors across the authentication flow.
// Handlers translate them into HTTP statuses.
const (
	CodeValidation         = "VALIDATION"
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeDeliveryFailed     = "DELIVERY_FAILED"
	CodeSigningFailed      = "SIGNING_FAILED"
	CodeInternal           = "INTERNAL"
)

// Code returns the oops code carried by err, or "" when there is none.
// oops reports the deepest code in a wrap chain.
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	return fmt.Sprint(code)
}
