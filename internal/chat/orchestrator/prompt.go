package orchestrator

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/converso/server/internal/chat/model"
)

//go:embed template/system_prompt.txt
var systemPromptTemplate string

const (
	// NoDocumentsNotice keeps the context section present and deterministic
	// when RAG is off or retrieval came back empty, instead of silently
	// omitting the section.
	NoDocumentsNotice = "No external documents are available."

	// NoProfileNotice substitutes for an account without a summary yet.
	NoProfileNotice = "No profile established."

	toolPolicyEnabled  = "You may call the declared tools when you need external data to answer. Prefer a tool call over guessing."
	toolPolicyDisabled = "Tool calling is disabled for this request. Answer from the conversation alone."
)

// PromptInput carries the per-turn pieces of the system prompt.
type PromptInput struct {
	ToolsEnabled bool
	Passages     []model.RetrievedPassage
	Profile      string
}

// RenderSystemPrompt assembles the fixed instructions, tool-usage policy,
// retrieved-context block and profile block into one system prompt.
func RenderSystemPrompt(ctx context.Context, in PromptInput) (string, error) {
	contextBlock := NoDocumentsNotice
	if len(in.Passages) > 0 {
		texts := make([]string, 0, len(in.Passages))
		for _, p := range in.Passages {
			texts = append(texts, p.Text)
		}
		contextBlock = strings.Join(texts, "\n---\n")
	}

	profileBlock := in.Profile
	if strings.TrimSpace(profileBlock) == "" {
		profileBlock = NoProfileNotice
	}

	toolPolicy := toolPolicyDisabled
	if in.ToolsEnabled {
		toolPolicy = toolPolicyEnabled
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(systemPromptTemplate),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"ToolPolicy": toolPolicy,
		"Context":    contextBlock,
		"Profile":    profileBlock,
	})
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}
