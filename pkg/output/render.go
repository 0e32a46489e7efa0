package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/stores"
	"github.com/openfroyo/reconcile/pkg/workspace"
)

// Format selects how results are printed.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates s. An empty string selects FormatText.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatText, nil
	case FormatText, FormatYAML, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, yaml or json)", s)
	}
}

// itemEntry is one item's value in JSON output. A list keeps graph order.
type itemEntry struct {
	ItemID engine.ItemID `json:"item_id"`
	Value  any           `json:"value"`
}

// RenderStates prints states in graph order. Items without a state are
// shown as not discovered in text output and omitted otherwise.
func RenderStates[Ts engine.StatesTs](w io.Writer, format Format, graph *engine.ItemGraph, states engine.States[Ts]) error {
	switch format {
	case FormatYAML:
		data, err := workspace.MarshalStates(graph, states)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatJSON:
		return writeJSON(w, orderedEntries(graph, states.ItemMap))
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "ITEM\t%s STATE\n", states.Kind())
		for _, id := range graph.Items() {
			if v, ok := states.Get(id); ok {
				fmt.Fprintf(tw, "%s\t%v\n", id, v)
			} else {
				fmt.Fprintf(tw, "%s\t<not discovered>\n", id)
			}
		}
		return tw.Flush()
	}
}

// RenderDiffs prints state diffs in graph order.
func RenderDiffs(w io.Writer, format Format, graph *engine.ItemGraph, diffs engine.StateDiffs) error {
	switch format {
	case FormatYAML:
		root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, e := range orderedEntries(graph, diffs.ItemMap) {
			var value yaml.Node
			if err := value.Encode(e.Value); err != nil {
				return engine.NewPermanentError("failed to encode diff", err).
					WithCode(engine.ErrCodeSerialization).WithItem(e.ItemID)
			}
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(e.ItemID)}, &value)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(root); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		return writeJSON(w, orderedEntries(graph, diffs.ItemMap))
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ITEM\tDIFF")
		for _, e := range orderedEntries(graph, diffs.ItemMap) {
			fmt.Fprintf(tw, "%s\t%v\n", e.ItemID, e.Value)
		}
		return tw.Flush()
	}
}

func orderedEntries(graph *engine.ItemGraph, m engine.ItemMap[any]) []itemEntry {
	out := make([]itemEntry, 0, m.Len())
	for _, id := range graph.Items() {
		if v, ok := m.Get(id); ok {
			out = append(out, itemEntry{ItemID: id, Value: v})
		}
	}
	return out
}

// RenderHistory prints execution records, newest first as listed.
func RenderHistory(w io.Writer, format Format, records []stores.ExecutionRecord) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(historyYAML(records)); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		if records == nil {
			records = []stores.ExecutionRecord{}
		}
		return writeJSON(w, records)
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEXECUTION\tCOMMAND\tPROFILE/FLOW\tSTATE\tPROCESSED\tFAILED\tSTARTED\tDURATION")
		for i := range records {
			r := &records[i]
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s/%s\t%s\t%d\t%d\t%s\t%s\n",
				shortID(r.ID), r.ExecutionID, r.Command, r.Profile, r.Flow, r.State,
				r.Processed, r.Failed, r.StartedAt.Local().Format(time.DateTime),
				r.Duration().Round(time.Millisecond))
		}
		return tw.Flush()
	}
}

// historyYAML uses snake_case keys matching the JSON output.
func historyYAML(records []stores.ExecutionRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for i := range records {
		r := &records[i]
		m := map[string]any{
			"id":           r.ID,
			"execution_id": r.ExecutionID,
			"profile":      r.Profile,
			"flow":         r.Flow,
			"command":      r.Command,
			"state":        r.State,
			"processed":    r.Processed,
			"failed":       r.Failed,
			"started_at":   r.StartedAt.UTC().Format(time.RFC3339Nano),
			"completed_at": r.CompletedAt.UTC().Format(time.RFC3339Nano),
		}
		if r.Error != nil {
			m["error"] = *r.Error
		}
		out = append(out, m)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderSummary prints a one-line summary of an outcome followed by one
// line per item error.
func RenderSummary(w io.Writer, command string, o *engine.ExecutionOutcome) error {
	processed, failed := Counts(o)
	if _, err := fmt.Fprintf(w, "%s: %s (%d processed, %d failed) in %s\n",
		command, o.State, processed, failed, o.Duration().Round(time.Millisecond)); err != nil {
		return err
	}
	var werr error
	if o.Errors != nil {
		o.Errors.Each(func(id engine.ItemID, err error) {
			if werr == nil {
				_, werr = fmt.Fprintf(w, "  %s: %v\n", id, err)
			}
		})
	}
	return werr
}

// Counts returns the number of items processed by the last block and the
// number of failed items across all blocks.
func Counts(o *engine.ExecutionOutcome) (processed, failed int) {
	if last := o.LastBlockOutcome(); last != nil {
		processed = len(last.Stream.ItemIDsProcessed)
	}
	if o.Errors != nil {
		failed = o.Errors.Len()
	}
	return processed, failed
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
