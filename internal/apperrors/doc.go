// Package apperrors defines the error taxonomy shared by the omniui client.
//
// Errors are tagged with one of the sentinel markers so callers can decide how
// to surface them: validation failures are shown inline and never logged as
// system errors, transport failures are logged and toasted, render failures
// are confined to the error boundary.
package apperrors
