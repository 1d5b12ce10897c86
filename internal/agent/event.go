package agent

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the closed set of event variants an agent run can
// emit. Consumers render the stream as a live progress log; ordering is part
// of the contract and done is always last.
type EventType string

const (
	EventStatus   EventType = "status"
	EventThinking EventType = "thinking"
	EventTool     EventType = "tool"
	EventSolution EventType = "solution"
	EventError    EventType = "error"
	EventDiff     EventType = "diff"
	EventResult   EventType = "result"
	EventDone     EventType = "done"
)

// Step names the agent state machine's stages.
type Step string

const (
	StepCloning      Step = "cloning"
	StepAnalyzing    Step = "analyzing"
	StepProposing    Step = "proposing"
	StepImplementing Step = "implementing"
	StepPushing      Step = "pushing"
	StepDone         Step = "done"
	StepError        Step = "error"
)

// Event is the tagged union streamed to callers. Only the fields relevant to
// the variant's Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// status
	Step    Step   `json:"step,omitempty"`
	Message string `json:"message,omitempty"`

	// thinking
	Content string `json:"content,omitempty"`

	// tool
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`

	// solution; the payload crosses the wire under the "data" key
	SessionID string    `json:"session_id,omitempty"`
	Solution  *Solution `json:"-"`

	// diff (standalone diff events also use "data"); result events carry
	// their diff under "diff"
	Diff string `json:"diff,omitempty"`

	// result
	Branch    string `json:"branch,omitempty"`
	BranchURL string `json:"branch_url,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
}

// MarshalJSON rejects unknown variants so a new event kind cannot silently
// cross the serialization boundary half-populated, and routes the per-variant
// payload under the "data" key for solution and diff events.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStatus, EventThinking, EventTool, EventSolution, EventError, EventDiff, EventResult, EventDone:
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	type alias Event
	w := struct {
		alias
		Data any `json:"data,omitempty"`
	}{alias: alias(e)}
	switch e.Type {
	case EventSolution:
		if e.Solution != nil {
			w.Data = e.Solution
		}
	case EventDiff:
		w.Data = e.Diff
		w.Diff = ""
	}
	return json.Marshal(w)
}

// UnmarshalJSON mirrors MarshalJSON's "data" routing.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	w := struct {
		*alias
		Data json.RawMessage `json:"data"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch e.Type {
	case EventSolution:
		if len(w.Data) > 0 && string(w.Data) != "null" {
			var s Solution
			if err := json.Unmarshal(w.Data, &s); err != nil {
				return err
			}
			e.Solution = &s
		}
	case EventDiff:
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &e.Diff); err != nil {
				return err
			}
		}
	}
	return nil
}

// StatusEvent reports a state-machine transition.
func StatusEvent(step Step, message string) Event {
	return Event{Type: EventStatus, Step: step, Message: message}
}

// ThinkingEvent carries the model's free-form reasoning text.
func ThinkingEvent(content string) Event {
	return Event{Type: EventThinking, Content: content}
}

// ToolStartEvent announces a tool invocation before execution.
func ToolStartEvent(name string, input json.RawMessage) Event {
	return Event{Type: EventTool, ToolName: name, ToolInput: input}
}

// ToolResultEvent pairs a tool invocation with its (stream-capped) result.
func ToolResultEvent(name string, input json.RawMessage, result string) Event {
	return Event{Type: EventTool, ToolName: name, ToolInput: input, ToolResult: result}
}

// SolutionEvent carries the final analysis artifact.
func SolutionEvent(sessionID string, s *Solution) Event {
	return Event{Type: EventSolution, SessionID: sessionID, Solution: s}
}

// ErrorEvent reports a run-terminating failure.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// DiffEvent carries the git diff of changes made during implementation.
func DiffEvent(diff string) Event {
	return Event{Type: EventDiff, Diff: diff}
}

// ResultEvent is the implementation run's terminal artifact.
func ResultEvent(branch, branchURL, prURL, diff string) Event {
	return Event{Type: EventResult, Branch: branch, BranchURL: branchURL, PRURL: prURL, Diff: diff}
}

// DoneEvent terminates every stream.
func DoneEvent() Event {
	return Event{Type: EventDone}
}
