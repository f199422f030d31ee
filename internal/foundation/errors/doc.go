// Package errors provides the classified error primitives used across satellited.
//
// Operations on timers, alarms and menus return ClassifiedError values whose
// category tells the caller what went wrong:
//   - invalid_argument: a required parameter is missing or malformed
//   - not_found: unknown timer id or device
//   - invalid_time: a time phrase could not be decoded
//   - external_write: the state store or timer storage rejected a write
//   - not_enabled: the feature is disabled for the device (warning severity)
//
// The CLI and HTTP adapters map categories to exit codes and status codes.
//
// Example usage:
//
//	err := errors.NotFoundError("timer not found").
//		WithContext("timer_id", id).
//		Build()
package errors
