// Package composer assembles the model-bound prompt: the live truth
// snapshot, an optional budget-bounded context section, and the user query.
package composer

import (
	"fmt"
	"strings"

	"github.com/crossbarhq/crossbar/internal/retrieval"
	"github.com/crossbarhq/crossbar/internal/truth"
)

const defaultMaxContextTokens = 4000

// Composer builds prompts with a fixed token budget for injected context.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer. If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose renders the system prompt and user message for a backend call.
// The truth snapshot preamble always leads so the model cannot contradict
// live state. Passages arrive ordered by descending relevance; the budget
// drops whatever does not fit. An empty passage list yields the no-context
// prompt variant.
func (c *Composer) Compose(snapshot truth.Snapshot, passages []retrieval.Passage, query string) (system string, user string) {
	var sb strings.Builder
	sb.WriteString(snapshot.Preamble())

	selected := c.selectPassages(passages, EstimateTokens(sb.String()))
	if len(selected) > 0 {
		sb.WriteString("\n[Retrieved Context]\n")
		for _, p := range selected {
			sb.WriteString(formatPassage(p))
		}
	} else {
		sb.WriteString("\nNo relevant context was found. Answer from general knowledge and say so when unsure.\n")
	}

	return sb.String(), query
}

// selectPassages keeps passages in order until the token budget runs out.
// Passages that individually exceed the remaining budget are skipped, not
// truncated mid-passage.
func (c *Composer) selectPassages(passages []retrieval.Passage, usedTokens int) []retrieval.Passage {
	remaining := c.MaxContextTokens - usedTokens
	var selected []retrieval.Passage
	for _, p := range passages {
		tokens := EstimateTokens(formatPassage(p))
		if tokens > remaining {
			continue
		}
		selected = append(selected, p)
		remaining -= tokens
	}
	return selected
}

func formatPassage(p retrieval.Passage) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s)\n%s\n\n", p.Score, p.SourcePath, p.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
