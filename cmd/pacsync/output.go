package main

import (
	"fmt"
	"io"
	"os"

	"github.com/farcloser/primordium/format"

	"github.com/pacsync/pacsync/internal/planner"
	"github.com/pacsync/pacsync/internal/summary"
)

// printSummary renders the finished run-summary record through the
// requested formatter (spec §6: console/json/markdown), one format.Data
// object carrying the backend, the aggregate counts, the duration, and one
// line per failed action when any failed. The per-file event stream is
// printed separately by printEventsNDJSON.
func printSummary(run *summary.Run, formatName string) error {
	formatter, err := format.GetFormatter(formatName)
	if err != nil {
		return fmt.Errorf("resolving formatter %q: %w", formatName, err)
	}

	meta := map[string]any{
		"backend": run.Backend,
		"counts": map[string]any{
			"converted": run.Converted,
			"renamed":   run.Renamed,
			"retagged":  run.Retagged,
			"skipped":   run.Skipped,
			"pruned":    run.Pruned,
			"failed":    run.Failed,
		},
		"duration_ms": run.Finished.Sub(run.Started).Milliseconds(),
	}

	if run.Failed > 0 {
		meta["failures"] = failureLines(run)
	}

	data := &format.Data{Object: "pacsync sync", Meta: meta}

	return formatter.PrintAll([]*format.Data{data}, os.Stdout)
}

func failureLines(run *summary.Run) []string {
	var lines []string

	for _, e := range run.Events {
		if e.Status != summary.StatusFailed {
			continue
		}

		lines = append(lines, fmt.Sprintf("%s %s: %v", e.Kind, e.DstRel, e.Err))
	}

	return lines
}

// printEventsNDJSON emits one line per event (spec §12's supplemented NDJSON
// event stream), reusing the same format.Data/formatter plumbing the
// aggregate summary uses rather than hand-rolling a JSON encoder: each event
// is printed through its own PrintAll call, one object per line.
func printEventsNDJSON(w io.Writer, run *summary.Run) error {
	formatter, err := format.GetFormatter("json")
	if err != nil {
		return fmt.Errorf("resolving json formatter: %w", err)
	}

	for _, e := range run.Events {
		meta := map[string]any{
			"kind":       e.Kind.String(),
			"reason":     string(e.Reason),
			"src_rel":    e.SrcRel,
			"dst_rel":    e.DstRel,
			"status":     string(e.Status),
			"elapsed_ms": e.Elapsed.Milliseconds(),
		}

		if e.Err != nil {
			meta["error"] = e.Err.Error()
		}

		data := &format.Data{Object: e.DstRel, Meta: meta}

		if err := formatter.PrintAll([]*format.Data{data}, w); err != nil {
			return fmt.Errorf("writing event for %s: %w", e.DstRel, err)
		}
	}

	return nil
}

// printPlan renders a plan's action list through the requested formatter,
// one format.Data entry per action (used by the plan subcommand).
func printPlan(actions []planner.Action, formatName string) error {
	formatter, err := format.GetFormatter(formatName)
	if err != nil {
		return fmt.Errorf("resolving formatter %q: %w", formatName, err)
	}

	datas := make([]*format.Data, 0, len(actions))

	for _, a := range actions {
		meta := map[string]any{
			"kind":   a.Kind.String(),
			"reason": string(a.Reason),
		}

		if a.FromRel != "" {
			meta["from"] = a.FromRel
		}

		obj := a.DstRel
		if a.Source.RelPath != "" {
			meta["source"] = a.Source.RelPath
		}

		datas = append(datas, &format.Data{Object: obj, Meta: meta})
	}

	return formatter.PrintAll(datas, os.Stdout)
}
