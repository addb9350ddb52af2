package api

import "fmt"

// Error is returned when a portal command reply reports failure, either
// at the relay level (ret != "ok") or in the device reply body
// (code != 0).
type Error struct {
	// Ret is the portal-level result string.
	Ret string

	// Code is the device reply body code.
	Code int

	// Message is the upstream error message, if any.
	Message string
}

func (e *Error) Error() string {
	if e.Ret != "" && e.Ret != "ok" {
		return fmt.Sprintf("api: portal error ret=%q (%s)", e.Ret, e.Message)
	}
	return fmt.Sprintf("api: device error code=%d (%s)", e.Code, e.Message)
}
