// Command mnemoctl is a thin CLI over the mnemo HTTP API.
//
// Exit codes: 0 on success, 2 on invalid argument, 1 on any other failure.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mnemoctl:", err)
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Kind == "invalid_argument" {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// apiError is the server's error envelope surfaced as a Go error.
type apiError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error apiError `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Kind != "" {
			return &envelope.Error
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, data)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// printJSON pretty-prints any API response to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	var serverURL string

	root := &cobra.Command{
		Use:           "mnemoctl",
		Short:         "Inspect and write to a running mnemo server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server",
		envOr("MNEMO_SERVER", "http://localhost:8080"), "mnemo server base URL")

	c := &client{http: &http.Client{Timeout: 30 * time.Second}}
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		c.base = serverURL
	}

	root.AddCommand(
		newStatsCmd(c),
		newRecallCmd(c),
		newDecideCmd(c),
		newThreadCmd(c),
		newFlagCmd(c),
		newRememberCmd(c),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newStatsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Record counts per collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := c.call(http.MethodGet, "/v1/stats", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newRecallCmd(c *client) *cobra.Command {
	var project string
	var budget int

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Attention-weighted recall across all collections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"query": args[0]}
			if project != "" {
				body["project"] = project
			}
			if budget > 0 {
				body["budget"] = budget
			}
			var out map[string]any
			if err := c.call(http.MethodPost, "/v1/recall", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict recall to one project")
	cmd.Flags().IntVar(&budget, "budget", 0, "token budget (default: server setting)")
	return cmd
}

func newDecideCmd(c *client) *cobra.Command {
	var project, localID, rationale string
	var tier float64

	cmd := &cobra.Command{
		Use:   "decide <text>",
		Short: "Register a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"project":  project,
				"local_id": localID,
				"text":     args[0],
			}
			if rationale != "" {
				body["rationale"] = rationale
			}
			if tier > 0 {
				body["tier"] = tier
			}
			var out map[string]any
			if err := c.call(http.MethodPost, "/v1/decisions", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&localID, "local-id", "", "project-scoped decision id, e.g. D042")
	cmd.Flags().StringVar(&rationale, "rationale", "", "why it was decided")
	cmd.Flags().Float64Var(&tier, "tier", 0, "epistemic tier 0.0-1.0")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("local-id")
	return cmd
}

func newThreadCmd(c *client) *cobra.Command {
	var project, localID, title, priority, resolution, blockedBy string

	cmd := &cobra.Command{
		Use:   "thread <op>",
		Short: "Open, resolve, or block a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"op":       args[0],
				"project":  project,
				"local_id": localID,
			}
			if title != "" {
				body["title"] = title
			}
			if priority != "" {
				body["priority"] = priority
			}
			if resolution != "" {
				body["resolution"] = resolution
			}
			if blockedBy != "" {
				body["blocked_by"] = []string{blockedBy}
			}
			var out map[string]any
			if err := c.call(http.MethodPost, "/v1/threads", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&localID, "local-id", "", "project-scoped thread id, e.g. T017")
	cmd.Flags().StringVar(&title, "title", "", "thread title (open)")
	cmd.Flags().StringVar(&priority, "priority", "", "high, medium, or low (open)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution text (resolve)")
	cmd.Flags().StringVar(&blockedBy, "blocked-by", "", "blocker description (block)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("local-id")
	return cmd
}

func newFlagCmd(c *client) *cobra.Command {
	var project, category string

	cmd := &cobra.Command{
		Use:   "flag <description>",
		Short: "Record a pending expedition flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			err := c.call(http.MethodPost, "/v1/flags", map[string]any{
				"project":     project,
				"category":    category,
				"description": args[0],
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&category, "category", "general",
		"inversion, isomorphism, fsd, manifestation, trap, or general")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newRememberCmd(c *client) *cobra.Command {
	var ttl int

	cmd := &cobra.Command{
		Use:   "remember <key> <value>",
		Short: "Put a value on the session scratchpad",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"key": args[0], "value": args[1]}
			if ttl > 0 {
				body["ttl"] = ttl
			}
			var out map[string]any
			if err := c.call(http.MethodPost, "/v1/remember", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 0, "time to live in seconds (default: server setting)")
	return cmd
}
