package ollama

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the pool's Ollama instance is running and the
// required models are available, pulling missing ones with progress output
// written to w. Returns a non-nil error if the instance is unreachable.
func EnsureReady(ctx context.Context, c *Client, models []string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama at %s is not running. Start it with: ollama serve", c.BaseURL())
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if c.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := c.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return nil
}
