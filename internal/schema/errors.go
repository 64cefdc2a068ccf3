package schema

import (
	"fmt"
	"strings"
)

// SchemaError reports a malformed tool definition at registration time.
type SchemaError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Tool == "":
		return fmt.Sprintf("schema error: %s", e.Reason)
	case e.Param == "":
		return fmt.Sprintf("schema error [%s]: %s", e.Tool, e.Reason)
	default:
		return fmt.Sprintf("schema error [%s.%s]: %s", e.Tool, e.Param, e.Reason)
	}
}

// ValidationError reports tool arguments that do not satisfy the schema.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}
