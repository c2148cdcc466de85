package chat

import "time"

// Monitor event payloads. These are the language-neutral JSON records the
// router broadcasts; keep the field names stable.

func EventItemAppended(item Item) map[string]any {
	return map[string]any{
		"type": "item.appended",
		"item": item.Serialize(),
	}
}

func EventItemDelta(key, delta string) map[string]any {
	return map[string]any{
		"type":  "item.delta",
		"key":   key,
		"delta": delta,
	}
}

func EventItemArgumentsDelta(key, arguments string) map[string]any {
	return map[string]any{
		"type":      "item.arguments.delta",
		"key":       key,
		"arguments": arguments,
	}
}

func EventItemUpdated(item Item) map[string]any {
	return map[string]any{
		"type": "item.updated",
		"item": item.Serialize(),
	}
}

func EventTasksUpdated(count int) map[string]any {
	return map[string]any{
		"type":  "tasks.updated",
		"count": count,
	}
}

func EventChatTokens(tokenCount, tokenMax int) map[string]any {
	return map[string]any{
		"type":        "chat.tokens",
		"token_count": tokenCount,
		"token_max":   tokenMax,
	}
}

// EventFullUpdate snapshots every item of the conversation.
func EventFullUpdate(c *Conversation) map[string]any {
	items := []map[string]any{}
	for _, ex := range c.Exchanges() {
		for _, item := range ex.Items {
			items = append(items, item.Serialize())
		}
	}
	return map[string]any{
		"type":            "update.full",
		"conversation_id": c.ID,
		"created_at":      c.CreatedAt.Format(time.RFC3339Nano),
		"items":           items,
	}
}
