package transport

import (
	"errors"
	"fmt"
)

// ErrUnauthorized marks a 401 response: the bearer credential is invalid or
// expired. Callers decide what to do with it; only the auth synchronizer's
// profile validation treats it as grounds for clearing the session.
var ErrUnauthorized = errors.New("transport: unauthorized")

// ErrDeviceConflict marks a 409 response carrying the backend's
// device-conflict code: another device has taken the single-active-device
// session slot.
var ErrDeviceConflict = errors.New("transport: device conflict")

// deviceConflictCode is the error code the backend sets on a 409 when the
// single-device policy forces this client out.
const deviceConflictCode = "DEVICE_CONFLICT"

// APIError is any non-2xx response that is not one of the distinguished
// conditions above.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transport: api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("transport: api error %d: %s", e.Status, e.Message)
}

// ValidationError carries field-level validation failures from a 422
// response. The fields propagate verbatim to the form layer.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transport: validation failed on %d field(s)", len(e.Fields))
}
