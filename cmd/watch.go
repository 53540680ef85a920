package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcscope/arcscope/internal/project"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/arcscope/arcscope/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep expanded folders in step with the disk until interrupted",
	Long: `Watch the directories behind every expanded folder of the project.
When one changes, the folder is re-read and the project saved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		return withProject(cmd, func(e *env, p *project.Project) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, e, p, debounce)
		})
	},
}

func runWatch(ctx context.Context, cmd *cobra.Command, e *env, p *project.Project, debounce time.Duration) error {
	w, err := watch.New(e.obs.Log(), debounce)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	tr := p.Tree()
	out := cmd.OutOrStdout()
	printf(out, "watching %d folders\n", w.Track(tr))

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	for {
		dir, err := w.Next(ctx)
		if err != nil {
			if errors.Is(err, watch.ErrClosed) {
				err = <-errc
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if !tr.Refresh(dir) {
			w.Remove(dir)
			continue
		}
		if f, ok := tr.Find(tree.PathAddress(dir)).(*tree.Folder); ok && f.Invalid() {
			errorf(out, "%s is gone\n", dir)
		} else {
			printf(out, "refreshed %s\n", dir)
		}
		if err := p.Save(); err != nil {
			return err
		}
		w.Untrack(tr)
		w.Track(tr)
	}
}

func init() {
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a change is handled")
	rootCmd.AddCommand(watchCmd)
}
