package agent

import "fmt"

// ToolExecutionError reports a single failed tool invocation, always
// attributed to the tool name.
type ToolExecutionError struct {
	Tool   string
	Detail string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Detail)
}
