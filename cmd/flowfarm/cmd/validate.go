package cmd

import (
	"fmt"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/application/orchestrator"
	"github.com/aescanero/flowfarm/internal/workflowfile"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow-file>...",
	Short: "Check workflow files without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	validator := orchestrator.NewValidator()
	out := cmd.OutOrStdout()

	failed := 0
	for _, path := range args {
		if err := validateFile(validator, path); err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", path)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d workflow files are invalid", failed, len(args))
	}
	return nil
}

func validateFile(validator *orchestrator.Validator, path string) error {
	wf, err := workflowfile.Load(path)
	if err != nil {
		return err
	}
	if err := validator.Validate(wf); err != nil {
		return err
	}
	_, err = engine.Compile(wf)
	return err
}
