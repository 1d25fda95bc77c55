package domain

// State is the unit of work threaded through the pipeline nodes.
//
// Invariant: between nodes at most one of PendingToolCall and FinalResponse
// is set. Messages never shrinks during a run; trimming to the retention
// limit happens only inside the history store on save.
type State struct {
	SessionID string
	Messages  []Message
	// PendingToolCall is set by the generate node when the provider requests
	// a directive and cleared by call_tool once resolved.
	PendingToolCall *ToolCall
	// FinalResponse is set once the pipeline reaches a terminal node.
	FinalResponse string
	// Err is the structured failure that short-circuited the run, if any.
	Err      *Error
	Metadata map[string]string
}

// NewState builds the initial state for one pipeline run: the user turn
// plus empty metadata.
func NewState(sessionID, userMessage string) *State {
	return &State{
		SessionID: sessionID,
		Messages:  []Message{{Role: RoleUser, Content: userMessage}},
		Metadata:  make(map[string]string),
	}
}

// Append adds a message to the state.
func (s *State) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// LastAssistant returns the content of the most recent assistant message,
// or "" if none exists.
func (s *State) LastAssistant() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// SetMeta records a metadata value, allocating the map if needed.
func (s *State) SetMeta(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}
