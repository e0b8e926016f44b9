// Package main implements the veritas CLI for querying a running veritasd server
// and checking method documents offline.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	serverURL string
	methodID  string
	timeout   time.Duration
	jsonOut   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "veritas",
		Short: "CLI for the veritas research pipeline",
		Long: `veritas is a command-line interface for the veritasd server.
It asks questions, follows streaming runs and validates method documents.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8420", "veritasd server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "request timeout")

	root.AddCommand(newAskCmd(opts))
	root.AddCommand(newStreamCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	root.AddCommand(newMethodCmd())
	return root
}

// queryRequest matches internal/http QueryRequest.
type queryRequest struct {
	Query    string         `json:"query"`
	MethodID string         `json:"method_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// phaseResult is the subset of a phase result the CLI renders.
type phaseResult struct {
	PhaseID          string   `json:"phase_id"`
	Status           string   `json:"status"`
	Confidence       float64  `json:"confidence"`
	ExecutionTime    float64  `json:"execution_time"`
	RetryCount       int      `json:"retry_count"`
	ValidationErrors []string `json:"validation_errors"`
}

// queryResult is the subset of a run result the CLI renders.
type queryResult struct {
	RunID         string        `json:"run_id"`
	MethodID      string        `json:"method_id"`
	Status        string        `json:"status"`
	Answer        string        `json:"answer"`
	Confidence    float64       `json:"confidence"`
	AnswerSource  string        `json:"answer_source"`
	AbortedAt     string        `json:"aborted_at,omitempty"`
	SkippedPhases []string      `json:"skipped_phases,omitempty"`
	RAGDegraded   bool          `json:"rag_degraded,omitempty"`
	Phases        []phaseResult `json:"phases"`
}

// healthResponse matches internal/http HealthResponse.
type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	DefaultMethod string `json:"default_method"`
	Events        bool   `json:"events"`
	Error         string `json:"error,omitempty"`
}

func newAskCmd(opts *options) *cobra.Command {
	var metadata []string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run a question through the pipeline and print the answer",
		Long: `Run a question through the pipeline and wait for the final answer.

Examples:
  # Ask with the server's default method
  veritas ask "Why is the sky blue?"

  # Pick a method and attach metadata
  veritas ask --method scientific --meta audience=student "Why is the sky blue?"

  # Print the raw JSON result
  veritas ask --json "Why is the sky blue?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildQuery(args, opts.methodID, metadata)
			if err != nil {
				return err
			}
			return runAsk(cmd.OutOrStdout(), opts, req)
		},
	}
	addQueryFlags(cmd, opts, &metadata)
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the raw JSON result")
	return cmd
}

func addQueryFlags(cmd *cobra.Command, opts *options, metadata *[]string) {
	cmd.Flags().StringVarP(&opts.methodID, "method", "m", "", "method id (defaults to the server's default method)")
	cmd.Flags().StringArrayVar(metadata, "meta", nil, "metadata entry key=value (repeatable)")
}

// buildQuery joins args into the question and parses key=value metadata.
func buildQuery(args []string, methodID string, metadata []string) (*queryRequest, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return nil, fmt.Errorf("question must not be empty")
	}
	req := &queryRequest{Query: q, MethodID: methodID}
	for _, kv := range metadata {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", kv)
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]any)
		}
		req.Metadata[strings.TrimSpace(k)] = v
	}
	return req, nil
}

func runAsk(w io.Writer, opts *options, req *queryRequest) error {
	resp, err := post(opts, "/api/v1/query", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 504 still carries the cancelled run
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusGatewayTimeout {
		return statusError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if opts.jsonOut {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			return fmt.Errorf("failed to format response: %w", err)
		}
		buf.WriteByte('\n')
		_, err := w.Write(buf.Bytes())
		return err
	}

	var res queryResult
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprint(w, renderResult(&res))
	return nil
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check veritasd server health",
		Long: `Check the health status of the veritasd HTTP server.

Examples:
  # Check health
  veritas health

  # Check health on a different server
  veritas health --server http://localhost:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.OutOrStdout(), opts)
		},
	}
}

func runHealth(w io.Writer, opts *options) error {
	url := strings.TrimRight(opts.serverURL, "/") + "/health"
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("server returned status %d: failed to decode response: %w", resp.StatusCode, err)
	}
	fmt.Fprint(w, renderHealth(opts.serverURL, &health))
	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		return fmt.Errorf("server is %s", health.Status)
	}
	return nil
}

// post sends body as JSON to path on the configured server.
func post(opts *options, path string, body any) (*http.Response, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(opts.serverURL, "/") + path
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: opts.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	return resp, nil
}

// statusError reads the echo error body of a failed response.
func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, e.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
