package schema

import (
	"fmt"
	"strings"
)

// UnknownSchemaError reports a header that matched no registered
// generation. Nearest and Missing are diagnostics only.
type UnknownSchemaError struct {
	Category string
	Header   []string
	Nearest  string
	Missing  []string
}

func (e *UnknownSchemaError) Error() string {
	if e.Nearest == "" {
		return fmt.Sprintf("schema: no generation registered for %s", e.Category)
	}
	return fmt.Sprintf("schema: unrecognized %s layout (nearest %s, missing %s)",
		e.Category, e.Nearest, strings.Join(e.Missing, ", "))
}

// RegistrationError reports a generation the registry refused.
type RegistrationError struct {
	Generation string
	Reason     string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("schema: cannot register %q: %s", e.Generation, e.Reason)
}
