// Package conversation turns stored chat history into the message list sent to a provider.
package conversation

import (
	"privchat/internal/providers"
	"privchat/internal/storage"
)

const DefaultWindow = 20

// Build keeps the last window messages of history (oldest first) and labels
// each one "user" when it was sent by senderID, "assistant" otherwise.
// content is appended as a final user turn unless the sequence already ends
// with one, which happens when the new message was persisted beforehand.
//
// Any other human in the chat is labelled assistant; this only holds for
// two-party conversations.
func Build(history []storage.Message, senderID, content string, window int) []providers.Message {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	out := make([]providers.Message, 0, len(history)+1)
	for _, m := range history {
		role := providers.RoleAssistant
		if m.SenderID != nil && *m.SenderID == senderID {
			role = providers.RoleUser
		}
		out = append(out, providers.Message{Role: role, Content: m.Content})
	}

	if len(out) == 0 || out[len(out)-1].Role != providers.RoleUser {
		out = append(out, providers.Message{Role: providers.RoleUser, Content: content})
	}
	return out
}
