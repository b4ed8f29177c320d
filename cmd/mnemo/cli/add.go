package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	addType     string
	addCategory string
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Add a memory",
	Long: `Add a memory. Without --category the content is classified by keyword.
Adding content that already exists is a no-op.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := memory.ParseType(addType)
		if err != nil {
			return err
		}
		category := memory.Other
		if addCategory != "" {
			if category, err = memory.ParseCategory(addCategory); err != nil {
				return err
			}
		}
		content := strings.Join(args, " ")

		runner, err := newRunner()
		if err != nil {
			return err
		}
		return runner.Run(cmd.Context(), func(ctx context.Context, rt *runtime.Runtime) error {
			if err := rt.AddMemory(ctx, content, typ, category); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s memory: %s\n", typ, content)
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&addType, "type", "t", "short", "Memory type (short, mid, long)")
	addCmd.Flags().StringVar(&addCategory, "category", "", "Category (work, family, friendship, happiness, other)")
}
