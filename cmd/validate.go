package cmd

import (
	"fmt"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/spf13/cobra"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a metadata document against the schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := metadata.ValidateFile(args[0]); err != nil {
			return fmt.Errorf("invalid metadata document: %w", err)
		}
		doc, err := metadata.ReadDocument(args[0])
		if err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("%s: %s", args[0], doc))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
