package chat

// StripToolMessages removes every tool-result message and every assistant
// message carrying tool calls, leaving only plain exchanges.
func StripToolMessages(messages []Message) []Message {
	kept := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.IsToolRelated() {
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

// PruneOrphanedToolMessages removes tool round-trip fragments that a
// truncated window separated from their counterpart: tool results whose
// call id has no matching assistant tool call in the batch, and assistant
// tool calls with no matching result. An assistant message left with zero
// calls after pruning is dropped entirely. The operation is idempotent.
func PruneOrphanedToolMessages(messages []Message) []Message {
	callIDs := make(map[string]struct{})
	resultIDs := make(map[string]struct{})
	for _, msg := range messages {
		switch {
		case msg.Role == RoleAssistant:
			for _, call := range msg.ToolCalls {
				callIDs[call.ID] = struct{}{}
			}
		case msg.Role == RoleTool:
			resultIDs[msg.ToolCallID] = struct{}{}
		}
	}

	kept := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == RoleTool:
			if _, ok := callIDs[msg.ToolCallID]; ok {
				kept = append(kept, msg)
			}
		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			calls := make([]ToolCall, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				if _, ok := resultIDs[call.ID]; ok {
					calls = append(calls, call)
				}
			}
			if len(calls) == 0 {
				continue
			}
			msg.ToolCalls = calls
			kept = append(kept, msg)
		default:
			kept = append(kept, msg)
		}
	}
	return kept
}
