package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
	"github.com/spf13/cobra"
)

func newStreamCmd(opts *options) *cobra.Command {
	var metadata []string
	var raw bool
	cmd := &cobra.Command{
		Use:   "stream <question>",
		Short: "Run a question and follow its events as they happen",
		Long: `Run a question through the pipeline and print progress, phase results
and the final answer while the run is in flight.

Examples:
  # Follow a run
  veritas stream "Why is the sky blue?"

  # Print the raw NDJSON events
  veritas stream --raw "Why is the sky blue?" | jq .`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildQuery(args, opts.methodID, metadata)
			if err != nil {
				return err
			}
			return runStream(cmd.OutOrStdout(), opts, req, raw)
		},
	}
	addQueryFlags(cmd, opts, &metadata)
	cmd.Flags().BoolVar(&raw, "raw", false, "print events as NDJSON lines")
	return cmd
}

// runStream renders each event of a streaming run. It fails when the run ends
// with an error event, is cancelled, or ends without a final result.
func runStream(w io.Writer, opts *options, req *queryRequest, raw bool) error {
	resp, err := post(opts, "/api/v1/query/stream", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var (
		dec      = stream.NewDecoder(resp.Body)
		enc      = stream.NewEncoder(w)
		gotFinal bool
		runErr   error
	)
	for {
		ev, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		switch ev.Kind {
		case stream.KindFinalResult:
			gotFinal = true
		case stream.KindError:
			runErr = fmt.Errorf("run failed: %v", ev.Data["error"])
		}
		if stream.IsCancelled(ev) {
			runErr = fmt.Errorf("run %v cancelled before a final result", ev.Data["run_id"])
		}
		if raw {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		if line := renderEvent(ev); line != "" {
			fmt.Fprint(w, line)
		}
	}

	if runErr != nil {
		return runErr
	}
	if !gotFinal {
		return fmt.Errorf("stream %s ended without a final result", resp.Header.Get("X-Run-ID"))
	}
	return nil
}
