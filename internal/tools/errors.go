package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not
// registered. Job steps record it as a step error; the agent loop feeds
// it back to the model as an in-band error.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
