package rag

import (
	"fmt"
	"strings"

	"tmai-server/models"
)

// Assembler renders generation prompts from a prompt configuration,
// retrieved context and conversation history. It is deterministic and holds
// no per-request state; the platform default config is injected at
// construction, never read from a package global.
type Assembler struct {
	platformDefault models.PromptConfig
	historyTurns    int
}

// NewAssembler creates an Assembler. historyTurns caps how many trailing
// conversation turns are rendered into the prompt.
func NewAssembler(platformDefault models.PromptConfig, historyTurns int) *Assembler {
	if historyTurns <= 0 {
		historyTurns = 6
	}
	return &Assembler{platformDefault: platformDefault, historyTurns: historyTurns}
}

// EffectiveConfig picks the prompt configuration for one request. Precedence
// is resolved once for the whole config, not field by field, so the rendered
// prompt always comes from a single internally consistent source: the
// tenant's structured config if set, else the tenant's legacy single system
// prompt, else the platform default.
func (a *Assembler) EffectiveConfig(svc *models.Service) models.PromptConfig {
	if svc != nil && svc.PromptConfig != nil && !configEmpty(*svc.PromptConfig) {
		return *svc.PromptConfig
	}
	if svc != nil && strings.TrimSpace(svc.SystemPrompt) != "" {
		return models.PromptConfig{Instructions: models.FlexString{svc.SystemPrompt}}
	}
	return a.platformDefault
}

// Assemble renders the system and user prompts for one generation call.
// Retrieved chunks are appended to the config's context field as labeled
// "Source N" blocks, best match first. The user prompt carries the last
// historyTurns turns as "role: content" lines with the current message last.
func (a *Assembler) Assemble(cfg models.PromptConfig, chunks []models.RetrievedChunk, history []models.ChatMessage, userMessage string) (system, user string) {
	return a.renderSystem(cfg, chunks), a.renderUser(history, userMessage)
}

func (a *Assembler) renderSystem(cfg models.PromptConfig, chunks []models.RetrievedChunk) string {
	var b strings.Builder

	writeSection(&b, "Role", cfg.Role.Render())
	writeSection(&b, "Goal", cfg.Goal.Render())
	writeSection(&b, "Instructions", cfg.Instructions.Render())

	context := cfg.Context.Render()
	if len(chunks) > 0 {
		var sources strings.Builder
		for i, chunk := range chunks {
			if i > 0 {
				sources.WriteString("\n\n")
			}
			fmt.Fprintf(&sources, "Source %d:\n%s", i+1, chunk.Content)
		}
		if strings.TrimSpace(context) != "" {
			context += "\n\n" + sources.String()
		} else {
			context = sources.String()
		}
	}
	writeSection(&b, "Context", context)

	writeSection(&b, "Constraints", cfg.Constraints.Render())
	writeSection(&b, "Style", cfg.Style.Render())
	writeSection(&b, "Output format", cfg.OutputFormat.Render())
	writeSection(&b, "Examples", cfg.Examples.Render())

	return strings.TrimRight(b.String(), "\n")
}

func (a *Assembler) renderUser(history []models.ChatMessage, userMessage string) string {
	if len(history) > a.historyTurns {
		history = history[len(history)-a.historyTurns:]
	}

	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	b.WriteString(userMessage)
	return b.String()
}

func writeSection(b *strings.Builder, label, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(b, "%s:\n%s\n\n", label, body)
}

func configEmpty(cfg models.PromptConfig) bool {
	for _, f := range []models.FlexString{
		cfg.Role, cfg.Instructions, cfg.Context, cfg.Constraints,
		cfg.Style, cfg.OutputFormat, cfg.Examples, cfg.Goal,
	} {
		if !f.Empty() {
			return false
		}
	}
	return true
}
