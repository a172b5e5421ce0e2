package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/swingtrader/internal/guidelines"
)

var guidelinesCmd = &cobra.Command{
	Use:   "guidelines",
	Short: "Inspect trading guidelines files",
}

var guidelinesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a guidelines file without loading it",
	Long: `Parse and validate a guidelines document. Errors, warnings and missing
sections are listed; the command fails when the document is not valid.

Example:
  swingtrader guidelines validate configs/guidelines.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGuidelinesValidate,
}

var errInvalidGuidelines = errors.New("guidelines are not valid")

func init() {
	rootCmd.AddCommand(guidelinesCmd)
	guidelinesCmd.AddCommand(guidelinesValidateCmd)
}

func runGuidelinesValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Guidelines.Path
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read guidelines: %w", err)
	}
	rs, err := guidelines.Parse(data)
	if err != nil {
		return err
	}
	res := guidelines.Validate(rs)
	printValidation(cmd.OutOrStdout(), path, rs, res)
	if !res.Valid {
		return errInvalidGuidelines
	}
	return nil
}

func printValidation(w io.Writer, path string, rs *guidelines.RuleSet, res guidelines.ValidationResult) {
	if res.Valid {
		fmt.Fprintf(w, "✓ Guidelines valid: %s (version %s)\n", path, rs.Version)
		fmt.Fprintf(w, "  Universe: %d symbols, %d entry signals, %d profit targets\n",
			len(rs.StockSelection.Universe), len(rs.ActiveEntrySignals()), len(rs.ExitRules.ProfitTargets))
	} else {
		fmt.Fprintf(w, "✗ Guidelines invalid: %s\n", path)
	}
	for _, s := range res.MissingSections {
		fmt.Fprintf(w, "  missing: %s\n", s)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error:   %s\n", e)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}
