package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/runtime"
	"github.com/felixgeelhaar/mnemo/internal/store"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	importType     string
	importParallel int
)

var importCmd = &cobra.Command{
	Use:   "import [pattern...]",
	Short: "Import memories from line-record files",
	Long: `Import memories from content|category|timestamp files matched by glob
patterns (** is supported). The type is taken from the file name
(short.mem, mid.mem, long.mem) unless --type is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var paths []string
		for _, pattern := range args {
			matches, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				return goerr.Wrap(err, "invalid pattern", goerr.V("pattern", pattern))
			}
			paths = append(paths, matches...)
		}
		if len(paths) == 0 {
			return fmt.Errorf("no files match %s", strings.Join(args, ", "))
		}

		runner, err := newRunner()
		if err != nil {
			return err
		}
		return runner.Run(cmd.Context(), func(ctx context.Context, rt *runtime.Runtime) error {
			inputs, err := readFiles(ctx, runner, paths)
			if err != nil {
				return err
			}
			if err := rt.AddMemoriesBatch(ctx, inputs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d memories from %d file(s)\n", len(inputs), len(paths))
			return nil
		})
	},
}

// readFiles parses paths concurrently and returns their records in path
// order.
func readFiles(ctx context.Context, runner *Runner, paths []string) ([]runtime.Input, error) {
	log := runner.Observer.Component("import")
	parsed := make([][]memory.Item, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	if importParallel > 0 {
		g.SetLimit(importParallel)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			typ, err := importTypeFor(path)
			if err != nil {
				return err
			}
			items, err := store.ReadFile(path, typ, log)
			if err != nil {
				return err
			}
			parsed[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var inputs []runtime.Input
	for _, items := range parsed {
		for _, item := range items {
			inputs = append(inputs, runtime.Input{Content: item.Content, Type: item.Type, Category: item.Category})
		}
	}
	return inputs, nil
}

func importTypeFor(path string) (memory.Type, error) {
	if importType != "" {
		return memory.ParseType(importType)
	}
	base := filepath.Base(path)
	for typ, name := range store.FileNames {
		if base == name {
			return typ, nil
		}
	}
	return memory.ParseType(strings.TrimSuffix(base, filepath.Ext(base)))
}

func init() {
	RootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVarP(&importType, "type", "t", "", "Memory type for every file (default: from file name)")
	importCmd.Flags().IntVarP(&importParallel, "parallel", "p", 4, "Files parsed concurrently")
}
