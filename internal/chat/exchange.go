package chat

import "fmt"

// Exchange is one request/response cycle between the user (or a tool
// continuation) and the model. Items are append-only; fields within an
// item mutate only per the streaming state transitions.
type Exchange struct {
	Items     []Item
	Completed bool
}

func (e *Exchange) Append(item Item) {
	e.Items = append(e.Items, item)
}

// LastItem returns the most recent item of the given kind, optionally
// filtered by status ("" matches any).
func (e *Exchange) LastItem(kind ItemKind, status ItemStatus) Item {
	for i := len(e.Items) - 1; i >= 0; i-- {
		item := e.Items[i]
		if item.ItemKind() != kind {
			continue
		}
		if status != "" && itemStatus(item) != status {
			continue
		}
		return item
	}
	return nil
}

// LastAssistantText returns the most recent assistant text with the given
// status, skipping user messages which share the "message" kind.
func (e *Exchange) LastAssistantText(status ItemStatus) *AssistantText {
	for i := len(e.Items) - 1; i >= 0; i-- {
		if m, ok := e.Items[i].(*AssistantText); ok && m.Status == status {
			return m
		}
	}
	return nil
}

// LastReasoning returns the most recent reasoning item with the given status.
func (e *Exchange) LastReasoning(status ItemStatus) *AssistantReasoning {
	for i := len(e.Items) - 1; i >= 0; i-- {
		if r, ok := e.Items[i].(*AssistantReasoning); ok && r.Status == status {
			return r
		}
	}
	return nil
}

// FunctionCallByIndex returns the function call addressed by the wire
// index. Multiple matches indicate a decoder bug and are an error.
func (e *Exchange) FunctionCallByIndex(index int) (*FunctionCall, error) {
	var found *FunctionCall
	for _, item := range e.Items {
		fc, ok := item.(*FunctionCall)
		if !ok || fc.Index == nil || *fc.Index != index {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("multiple function calls with index %d", index)
		}
		found = fc
	}
	return found, nil
}

// ItemByIndex returns the item addressed by the wire index, of any kind.
func (e *Exchange) ItemByIndex(index int) Item {
	for _, item := range e.Items {
		switch it := item.(type) {
		case *AssistantText:
			if it.Index != nil && *it.Index == index {
				return it
			}
		case *AssistantReasoning:
			if it.Index != nil && *it.Index == index {
				return it
			}
		case *FunctionCall:
			if it.Index != nil && *it.Index == index {
				return it
			}
		}
	}
	return nil
}

// FunctionCalls returns every function call in the exchange, in order.
func (e *Exchange) FunctionCalls() []*FunctionCall {
	var out []*FunctionCall
	for _, item := range e.Items {
		if fc, ok := item.(*FunctionCall); ok {
			out = append(out, fc)
		}
	}
	return out
}

func itemStatus(item Item) ItemStatus {
	switch it := item.(type) {
	case *AssistantText:
		return it.Status
	case *AssistantReasoning:
		return it.Status
	case *FunctionCall:
		return it.Status
	case *UserMessage:
		return StatusCompleted
	}
	return ""
}
