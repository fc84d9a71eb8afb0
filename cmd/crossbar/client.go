package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crossbarhq/crossbar/internal/api"
	"github.com/crossbarhq/crossbar/internal/config"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   cfg.Auth.Token,
		// Generation can take a while; streaming requests override this.
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is crossbar running? (%w)", err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run a query through the gateway",
	Long: `Run a query through the gateway.

Examples:
  crossbar run "what branch am I on"
  crossbar run --deep "design a sharded rate limiter"
  crossbar run --stream "explain how the scheduler works"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		deep, _ := cmd.Flags().GetBool("deep")
		noCache, _ := cmd.Flags().GetBool("no-cache")
		stream, _ := cmd.Flags().GetBool("stream")
		showMeta, _ := cmd.Flags().GetBool("meta")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if stream {
			return client.streamQuery(cmd.Context(), query, deep, noCache, showMeta)
		}

		resp, err := client.post(cmd.Context(), "/run", map[string]any{
			"command":    query,
			"force_deep": deep,
			"skip_cache": noCache,
		})
		if err != nil {
			return err
		}

		var result struct {
			Result string          `json:"result"`
			Meta   api.RoutingMeta `json:"routing_meta"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Result)
		if showMeta {
			printMeta(result.Meta)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("deep", false, "route to the big pool regardless of classification")
	runCmd.Flags().Bool("no-cache", false, "bypass the semantic cache")
	runCmd.Flags().Bool("stream", false, "stream the response as it is generated")
	runCmd.Flags().Bool("meta", false, "print the routing decision trail")
}

// streamQuery consumes the SSE endpoint and prints fragments as they arrive.
func (c *apiClient) streamQuery(ctx context.Context, query string, deep, noCache, showMeta bool) error {
	q := url.Values{}
	q.Set("q", query)
	if deep {
		q.Set("force_deep", "true")
	}
	if noCache {
		q.Set("skip_cache", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stream?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Auth-Token", c.token)

	streamClient := &http.Client{} // no timeout; generation is open ended
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is crossbar running? (%w)", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var event string
	var dataLines []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			data := strings.Join(dataLines, "\n")
			dataLines = nil
			switch event {
			case "data":
				fmt.Print(data)
			case "routing_meta":
				if showMeta {
					var meta api.RoutingMeta
					if json.Unmarshal([]byte(data), &meta) == nil {
						fmt.Println()
						printMeta(meta)
					}
				}
			case "error":
				fmt.Println()
				return fmt.Errorf("stream error: %s", data)
			case "complete":
				fmt.Println()
				return nil
			}
		}
	}
	fmt.Println()
	return scanner.Err()
}

func printMeta(meta api.RoutingMeta) {
	fmt.Fprintln(os.Stderr)
	printStatus("Request", "%s", meta.RequestID)
	printStatus("Classified", "%s (%s, confidence %.1f)", meta.QueryType, meta.Mode, meta.Confidence)
	printStatus("Reason", "%s", meta.Reason)
	if meta.CacheHit {
		printStatus("Cache", "hit (similarity %.3f)", meta.CacheSimilarity)
	} else {
		printStatus("Pool", "%s (%s)", meta.Pool, meta.Model)
		printStatus("Passages", "%d", meta.Passages)
	}
	printStatus("Duration", "%dms", meta.DurationMs)
}
