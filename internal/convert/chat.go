package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kotae-ai/kotae/internal/models"
)

type chatMessage struct {
	Author  string `json:"author"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

// chatText flattens a JSON chat transcript to "author: text" lines. Either a
// bare message array or an object with a messages field is accepted, and
// author/role and text/content are treated as synonyms.
func chatText(content []byte) (string, error) {
	var messages []chatMessage
	if err := json.Unmarshal(content, &messages); err != nil {
		var wrapped struct {
			Messages []chatMessage `json:"messages"`
		}
		if err := json.Unmarshal(content, &wrapped); err != nil {
			return "", fmt.Errorf("%w: chat transcript is not valid JSON: %v", models.ErrValidation, err)
		}
		messages = wrapped.Messages
	}

	var b strings.Builder
	for _, m := range messages {
		author := m.Author
		if author == "" {
			author = m.Role
		}
		text := m.Text
		if text == "" {
			text = m.Content
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if author != "" {
			b.WriteString(author)
			b.WriteString(": ")
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}
