package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	searchMax int
	listLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search memories",
	Long:  `Search memories. Several queries are merged, newest first.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}
		return runner.Run(cmd.Context(), func(ctx context.Context, rt *runtime.Runtime) error {
			var items []memory.Item
			if len(args) == 1 {
				items = rt.SearchMemories(ctx, args[0], searchMax)
			} else {
				items = rt.SearchMemoriesBatch(ctx, args, searchMax)
			}
			printItems(cmd.OutOrStdout(), items, "No memories found for "+strings.Join(args, ", "))
			return nil
		})
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}
		return runner.Run(cmd.Context(), func(ctx context.Context, rt *runtime.Runtime) error {
			printItems(cmd.OutOrStdout(), rt.RecentMemories(listLimit), "No memories yet")
			return nil
		})
	},
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "List the highest weighted memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}
		return runner.Run(cmd.Context(), func(ctx context.Context, rt *runtime.Runtime) error {
			printItems(cmd.OutOrStdout(), rt.TopMemories(listLimit), "No memories yet")
			return nil
		})
	},
}

func printItems(w io.Writer, items []memory.Item, empty string) {
	if len(items) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	for _, item := range items {
		fmt.Fprintf(w, "%s  [%s/%s]  %s\n",
			item.Time().Format("2006-01-02 15:04:05"), item.Type, item.Category, item.Content)
	}
}

func init() {
	RootCmd.AddCommand(searchCmd, recentCmd, topCmd)
	searchCmd.Flags().IntVarP(&searchMax, "max", "n", 5, "Maximum results per query")
	recentCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Number of memories to list")
	topCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Number of memories to list")
}
