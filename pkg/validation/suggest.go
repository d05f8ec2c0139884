package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/models"
)

const suggestSystemPrompt = `You split compound or vague software requirements into atomic ones.
Respond with strict JSON only:
{"suggestions": [{"text": "<atomic requirement>", "rationale": "<why it was split out>"}]}`

type suggestResponse struct {
	Suggestions []models.Suggestion `json:"suggestions"`
}

// Suggester proposes atomic rewrites for a compound requirement text.
type Suggester struct {
	chat llm.ChatClient
}

// NewSuggester creates a suggester over the chat client.
func NewSuggester(chat llm.ChatClient) *Suggester {
	return &Suggester{chat: chat}
}

// Suggest returns atomic-split candidates for one requirement text. A
// model reply without usable JSON yields zero suggestions, not an error.
func (s *Suggester) Suggest(ctx context.Context, text string) ([]models.Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty requirement text")
	}

	completion, err := s.chat.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: suggestSystemPrompt},
		{Role: llm.RoleUser, Content: "Requirement:\n" + text},
	}, llm.CompleteOptions{Temperature: 0.2})
	if err != nil {
		return nil, fmt.Errorf("suggestion call failed: %w", err)
	}

	var parsed suggestResponse
	if err := json.Unmarshal([]byte(stripFences(completion.Content)), &parsed); err != nil {
		return nil, nil
	}

	out := make([]models.Suggestion, 0, len(parsed.Suggestions))
	for _, sg := range parsed.Suggestions {
		if strings.TrimSpace(sg.Text) == "" {
			continue
		}
		out = append(out, models.Suggestion{Text: sg.Text, Rationale: sg.Rationale})
	}
	return out, nil
}
