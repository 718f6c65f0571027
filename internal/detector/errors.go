package detector

import "fmt"

// ConfigurationError reports an invalid session option. Detected before
// any frame is pulled.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// SourceExhaustedError is returned when the source failed to deliver a
// decodable frame too many times in a row. The session finalizes first,
// so a pending candidate still gets the configured flush treatment
// before the error surfaces.
type SourceExhaustedError struct {
	Failures int
	Last     error
}

func (e *SourceExhaustedError) Error() string {
	return fmt.Sprintf("source exhausted after %d consecutive failures: %v", e.Failures, e.Last)
}

func (e *SourceExhaustedError) Unwrap() error {
	return e.Last
}
