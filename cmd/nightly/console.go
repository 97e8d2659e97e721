package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	charm "github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/simon020286/nightly/models"
)

// consoleListener reports run progress on the logger
type consoleListener struct {
	log     *charm.Logger
	verbose bool
}

func newConsoleListener(log *charm.Logger, verbose bool) *consoleListener {
	return &consoleListener{log: log, verbose: verbose}
}

func (cl *consoleListener) OnEvent(event models.Event) {
	d := event.Data
	switch event.Type {
	case models.EventRunStarted:
		cl.log.Info("🚀 run started", "workflow", d["workflow"], "ref", d["ref"], "run_id", d["run_id"])

	case models.EventRunCompleted:
		cl.log.Info(symbol(d["conclusion"])+" run completed", "conclusion", d["conclusion"], "duration", rounded(d["duration"]))

	case models.EventRunError, models.EventStageError:
		cl.log.Error("❌ "+string(event.Type), "stage", d["stage_id"], "error", d["error"])

	case models.EventCellStarted:
		cl.log.Info("▶ cell started", "cell", d["cell"])

	case models.EventCellCompleted:
		cl.log.Info(symbol(d["conclusion"])+" cell completed", "cell", d["cell"], "conclusion", d["conclusion"], "duration", rounded(d["duration"]))

	case models.EventStepStarted:
		if cl.verbose {
			cl.log.Debug("step started", "cell", d["cell"], "step", d["step"])
		}

	case models.EventStepCompleted:
		if d["outcome"] == string(models.OutcomeSuccess) && !cl.verbose {
			return
		}
		cl.log.Info(symbol(d["conclusion"])+" step", "cell", d["cell"], "step", d["step"], "outcome", d["outcome"], "error", d["error"])

	case models.EventStepSkipped:
		if cl.verbose {
			cl.log.Info("⏭ step skipped", "cell", d["cell"], "step", d["step"])
		}
	}
}

func symbol(conclusion any) string {
	switch conclusion {
	case string(models.OutcomeSuccess):
		return "✅"
	case string(models.OutcomeFailure):
		return "❌"
	case string(models.OutcomeCancelled):
		return "⚠️"
	default:
		return "⏭"
	}
}

func rounded(v any) any {
	if d, ok := v.(time.Duration); ok {
		return d.Round(time.Millisecond)
	}
	return v
}

// printSummary writes one line per cell followed by the run conclusion
func printSummary(w io.Writer, result *models.RunResult) {
	fmt.Fprintf(w, "\n=== %s #%d (%s) ===\n", result.Workflow, result.Number, result.Ref)
	for _, job := range result.Jobs {
		if len(job.Cells) == 0 {
			fmt.Fprintf(w, "%-10s %s\n", job.Result, job.Name)
			continue
		}
		for _, cell := range job.Cells {
			failed := lo.FilterMap(cell.Steps, func(s models.StepResult, _ int) (string, bool) {
				return s.Name, s.Outcome == models.OutcomeFailure
			})
			line := fmt.Sprintf("%-10s %s", cell.Conclusion, cell.Name)
			if len(failed) > 0 {
				line += "  failed: " + strings.Join(failed, ", ")
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "conclusion: %s in %s\n", result.Conclusion, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
}
