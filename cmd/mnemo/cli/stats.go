package cli

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/mnemo/internal/runtime"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print system statistics as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}
		return runner.Run(cmd.Context(), func(ctx context.Context, rt *runtime.Runtime) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rt.Statistics())
		})
	},
}

func init() {
	RootCmd.AddCommand(statsCmd)
}
