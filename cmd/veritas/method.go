package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newMethodCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "method",
		Short: "Inspect and validate method documents",
	}
	cmd.AddCommand(newMethodValidateCmd())
	return cmd
}

func newMethodValidateCmd() *cobra.Command {
	var promptsDir string
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate method documents without a server",
		Long: `Parse and validate method documents (YAML, JSON or TOML) and print the
phases a run would execute.

Examples:
  # Validate one method
  veritas method validate configs/methods/scientific.yaml

  # Also check that every prompt template resolves
  veritas method validate --prompts configs/prompts configs/methods/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				if err := validateMethod(cmd.OutOrStdout(), path, promptsDir); err != nil {
					fmt.Fprint(cmd.OutOrStdout(), renderInvalid(path, err))
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d method documents invalid", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&promptsDir, "prompts", "", "prompt template directory to resolve prompt_template references against")
	return cmd
}

// validateMethod parses the document at path, plans it like the server would
// and, when promptsDir is set, resolves every prompt template.
func validateMethod(w io.Writer, path, promptsDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg, err := method.ParseMethod(data, filepath.Ext(path))
	if err != nil {
		return err
	}
	o, err := orchestrator.New(cfg, orchestrator.Deps{})
	if err != nil {
		return err
	}

	if promptsDir != "" {
		store := method.NewStore(filepath.Dir(path), promptsDir, nil)
		var errs []error
		for _, p := range cfg.Phases {
			if p.PromptTemplate == "" {
				continue
			}
			if _, err := store.LoadPrompt(p.PromptTemplate); err != nil {
				errs = append(errs, fmt.Errorf("phase %s: %w", p.PhaseID, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
	}

	fmt.Fprint(w, renderMethod(path, cfg, o.PlannedPhases()))
	return nil
}
