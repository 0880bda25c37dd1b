package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"pipewatch/pkg/models"
)

var (
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleNeutral   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderStatus colours a server-reported status label. Unknown labels pass
// through unstyled; the client never invents or rewrites status values.
func renderStatus(status string) string {
	switch status {
	case models.PipelineRunning: // == StageRunning
		return styleRunning.Render(status)
	case models.PipelineCompleted:
		return styleCompleted.Render(status)
	case models.StageFailed:
		return styleFailed.Render(status)
	case models.PipelineCancelled:
		return styleCancelled.Render(status)
	case models.PipelineCreated, models.StagePending:
		return styleNeutral.Render(status)
	default:
		return status
	}
}

func printStages(w io.Writer, stages []models.Stage) {
	if len(stages) == 0 {
		fmt.Fprintln(w, "No stages.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tERROR")
	for _, st := range stages {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", st.StageID, renderStatus(st.Status), st.ErrorMsg)
	}
	tw.Flush()
}

func printWatchSnapshot(app *App, pipelineID string) {
	if p, ok := app.Store.Pipeline(pipelineID); ok {
		fmt.Printf("\nPipeline %s: %s\n", p.PipelineID, renderStatus(p.Status))
	} else {
		fmt.Printf("\nPipeline %s\n", pipelineID)
	}
	printStages(os.Stdout, app.Store.ActiveStages())
}
