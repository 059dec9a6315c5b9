package core

import "fmt"

// ValidationError reports malformed or incomplete input: a missing tenant key,
// shared secret, or callback parameter. It maps to a 4xx response and is never
// retried automatically.
type ValidationError struct {
	Param string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("required parameter %s is missing", e.Param)
}

// OAuthError reports that the external identity provider rejected the flow.
// Status carries the upstream HTTP status when the failure came from an
// exchange or profile request; it is zero for local rejections such as
// invalid_state.
type OAuthError struct {
	Reason string
	Status int
}

func (e *OAuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Reason, e.Status)
	}
	return e.Reason
}

// StoreError reports that the credential store is unavailable or a write
// failed. It propagates to the boundary unmodified so the caller decides on
// retry semantics; installation webhooks must not be acknowledged on it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing startup setting such as the redirect
// URI or client id. The affected route should never be reachable with one of
// these outstanding.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Setting)
}
