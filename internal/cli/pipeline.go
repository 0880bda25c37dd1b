package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newPipelineCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pipeline",
		Aliases: []string{"pipelines"},
		Short:   "Manage pipelines",
	}
	cmd.AddCommand(newPipelineListCmd(app))
	cmd.AddCommand(newPipelineCreateCmd(app))
	cmd.AddCommand(newPipelineStartCmd(app))
	cmd.AddCommand(newPipelineCancelCmd(app))
	cmd.AddCommand(newPipelineStagesCmd(app))
	cmd.AddCommand(newPipelineWatchCmd(app))
	return cmd
}

// parsePipelineID validates the id argument before it goes on the wire;
// the server rejects anything that is not a UUID.
func parsePipelineID(arg string) (string, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("invalid pipeline id %q: %w", arg, err)
	}
	return id.String(), nil
}

func newPipelineListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			if err := app.Dispatcher.Refresh(cmd.Context()); err != nil {
				return err
			}

			pipelines := app.Store.Pipelines()
			if len(pipelines) == 0 {
				fmt.Println("No pipelines.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PIPELINE\tSTATUS\tCREATED")
			for _, p := range pipelines {
				created := ""
				if !p.CreatedAt.IsZero() {
					created = p.CreatedAt.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.PipelineID, renderStatus(p.Status), created)
			}
			return w.Flush()
		},
	}
}

func newPipelineCreateCmd(app *App) *cobra.Command {
	var stages int
	var parallel bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			resp, err := app.Dispatcher.CreatePipeline(cmd.Context(), stages, parallel)
			if err != nil {
				return fmt.Errorf("create failed: %w", err)
			}
			fmt.Printf("Created pipeline %s\n", resp.PipelineID)
			return nil
		},
	}

	cmd.Flags().IntVar(&stages, "stages", 1, "number of stages")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "run stages in parallel")
	return cmd
}

func newPipelineStartCmd(app *App) *cobra.Command {
	var parallel bool
	var inputJSON string

	cmd := &cobra.Command{
		Use:   "start <pipeline-id>",
		Short: "Start a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			id, err := parsePipelineID(args[0])
			if err != nil {
				return err
			}
			var input any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("invalid --input JSON: %w", err)
				}
			}
			if err := app.Dispatcher.StartPipeline(cmd.Context(), id, input, parallel); err != nil {
				return fmt.Errorf("start failed: %w", err)
			}
			fmt.Printf("Pipeline %s started\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&parallel, "parallel", false, "run stages in parallel")
	cmd.Flags().StringVar(&inputJSON, "input", "", "execution input as JSON")
	return cmd
}

func newPipelineCancelCmd(app *App) *cobra.Command {
	var parallel bool

	cmd := &cobra.Command{
		Use:   "cancel <pipeline-id>",
		Short: "Cancel a running pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			id, err := parsePipelineID(args[0])
			if err != nil {
				return err
			}
			if err := app.Dispatcher.CancelPipeline(cmd.Context(), id, parallel); err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}
			fmt.Printf("Pipeline %s cancelled\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&parallel, "parallel", false, "pipeline runs stages in parallel")
	return cmd
}

func newPipelineStagesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stages <pipeline-id>",
		Short: "Show the stages of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			id, err := parsePipelineID(args[0])
			if err != nil {
				return err
			}
			stages, err := app.API.GetStages(cmd.Context(), id)
			if err != nil {
				return err
			}
			printStages(os.Stdout, stages)
			return nil
		},
	}
}

func newPipelineWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <pipeline-id>",
		Short: "Follow live stage status for a pipeline until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(app); err != nil {
				return err
			}
			id, err := parsePipelineID(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Dispatcher.Refresh(ctx); err != nil {
				return err
			}
			if err := app.Dispatcher.OpenStages(ctx, id); err != nil {
				return err
			}
			defer app.Dispatcher.CloseStages(cmd.Context())

			fmt.Printf("Watching pipeline %s (ctrl-c to stop)\n", id)
			printWatchSnapshot(app, id)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-app.Dispatcher.Updates():
					printWatchSnapshot(app, id)
				}
			}
		},
	}
}
