package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/items"
	"github.com/openfroyo/reconcile/pkg/stores"
)

func testGraph(t *testing.T) *engine.ItemGraph {
	t.Helper()
	b := engine.NewItemGraphBuilder()
	for _, id := range []engine.ItemID{"alpha", "beta"} {
		item, err := items.NewCounterItemFromSpec(items.Spec{ID: id, Kind: items.KindCounter}, items.Env{})
		require.NoError(t, err)
		b.AddItem(item)
	}
	graph, err := b.AddEdge("alpha", "beta").Build()
	require.NoError(t, err)
	return graph
}

func testOutcome() *engine.ExecutionOutcome {
	errs := engine.NewItemErrors()
	errs.Insert("alpha", engine.NewTransientError("disk busy", nil).WithCode(engine.ErrCodeItemFailed))

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &engine.ExecutionOutcome{
		ExecutionID:        7,
		State:              engine.ExecutionItemError,
		BlocksProcessed:    []string{"apply"},
		BlocksNotProcessed: []string{},
		BlockOutcomes: []*engine.CmdBlockOutcome{{
			Block: "apply",
			Stream: engine.StreamOutcome[map[engine.ItemID]engine.ItemStatus]{
				Value:            map[engine.ItemID]engine.ItemStatus{"alpha": engine.ItemStatusFailed, "beta": engine.ItemStatusSkipped},
				State:            engine.StreamFinished,
				ItemIDsProcessed: []engine.ItemID{"alpha"},
				ItemIDsSkipped:   []engine.ItemID{"beta"},
			},
			Errors:   errs,
			Duration: 20 * time.Millisecond,
		}},
		Errors:      errs,
		StartedAt:   start,
		CompletedAt: start.Add(25 * time.Millisecond),
	}
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestLogPresenter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	p := NewLogPresenter(zerolog.New(&buf).Level(zerolog.DebugLevel))

	limit := engine.LimitBytes(10)
	updates := []engine.ProgressUpdate{
		{Block: "apply", ItemID: "alpha", Status: engine.ItemStatusRunning, Limit: &limit, Msg: engine.MsgSetText("writing")},
		{Block: "apply", ItemID: "alpha", Delta: engine.Inc(4)},
		{Block: "apply", ItemID: "alpha", Status: engine.ItemStatusFailed, Msg: engine.MsgClearText()},
	}
	for _, u := range updates {
		require.NoError(t, p.WriteProgress(ctx, u))
	}

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 3)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "writing", lines[0]["progress_msg"])
	assert.Equal(t, "debug", lines[1]["level"])
	assert.Equal(t, float64(4), lines[1]["position"])
	assert.Equal(t, "running", lines[1]["status"])
	assert.Equal(t, "warn", lines[2]["level"])
	assert.Equal(t, "failed", lines[2]["status"])
	assert.NotContains(t, lines[2], "progress_msg")

	buf.Reset()
	require.NoError(t, p.WriteOutcome(ctx, testOutcome()))
	lines = decodeLines(t, buf.Bytes())
	require.Len(t, lines, 3)
	assert.Equal(t, "Block finished", lines[0]["message"])
	assert.Equal(t, "Item failed", lines[1]["message"])
	assert.Equal(t, "transient", lines[1]["class"])
	assert.Equal(t, "Execution finished", lines[2]["message"])
	assert.Equal(t, "item_error", lines[2]["state"])
}

func TestJSONPresenter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	p := NewJSONPresenter(&buf)

	require.NoError(t, p.WriteProgress(ctx, engine.ProgressUpdate{
		ExecutionID: 7, Block: "discover", ItemID: "alpha", Status: engine.ItemStatusSucceeded,
	}))
	require.NoError(t, p.WriteOutcome(ctx, testOutcome()))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 2)

	assert.Equal(t, "progress", lines[0]["type"])
	assert.Equal(t, "alpha", lines[0]["item_id"])
	assert.Equal(t, "succeeded", lines[0]["status"])

	out := lines[1]
	assert.Equal(t, "outcome", out["type"])
	assert.Equal(t, "item_error", out["state"])
	assert.Equal(t, float64(25), out["duration_ms"])
	errs := out["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	assert.Equal(t, "alpha", first["item_id"])
	assert.Equal(t, "transient", first["class"])
	assert.Equal(t, engine.ErrCodeItemFailed, first["code"])
}

func TestMemPresenterAndTee(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemPresenter(), NewMemPresenter()
	tee := Tee(a, b)

	require.NoError(t, tee.WriteProgress(ctx, engine.ProgressUpdate{Block: "x", ItemID: "alpha"}))
	require.NoError(t, tee.WriteProgress(ctx, engine.ProgressUpdate{Block: "y", ItemID: "alpha"}))
	require.NoError(t, tee.WriteOutcome(ctx, testOutcome()))

	for _, p := range []*MemPresenter{a, b} {
		assert.Len(t, p.Updates(), 2)
		assert.Len(t, p.UpdatesFor("x", "alpha"), 1)
		assert.Len(t, p.Outcomes(), 1)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestRenderStates(t *testing.T) {
	graph := testGraph(t)
	states := engine.NewStates[engine.Current]()
	states.Insert("alpha", int64(3))

	var buf bytes.Buffer
	require.NoError(t, RenderStates(&buf, FormatText, graph, states))
	assert.Equal(t, "ITEM   current STATE\nalpha  3\nbeta   <not discovered>\n", buf.String())

	buf.Reset()
	require.NoError(t, RenderStates(&buf, FormatYAML, graph, states))
	assert.Equal(t, "alpha: 3\n", buf.String())

	buf.Reset()
	require.NoError(t, RenderStates(&buf, FormatJSON, graph, states))
	var entries []itemEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, engine.ItemID("alpha"), entries[0].ItemID)
}

func TestRenderDiffs(t *testing.T) {
	graph := testGraph(t)
	diffs := engine.NewStateDiffs()
	diffs.Insert("beta", "changed")
	diffs.Insert("alpha", "unchanged")

	var buf bytes.Buffer
	require.NoError(t, RenderDiffs(&buf, FormatText, graph, diffs))
	assert.Equal(t, "ITEM   DIFF\nalpha  unchanged\nbeta   changed\n", buf.String())

	buf.Reset()
	require.NoError(t, RenderDiffs(&buf, FormatYAML, graph, diffs))
	assert.Equal(t, "alpha: unchanged\nbeta: changed\n", buf.String())
}

func TestRenderHistory(t *testing.T) {
	msg := "boom"
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []stores.ExecutionRecord{{
		ID: "0123456789abcdef", ExecutionID: 42, Profile: "dev", Flow: "deploy",
		Command: "ensure", State: "item_error", Processed: 2, Failed: 1,
		StartedAt: start, CompletedAt: start.Add(1500 * time.Millisecond), Error: &msg,
	}}

	var buf bytes.Buffer
	require.NoError(t, RenderHistory(&buf, FormatText, records))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "ID"))
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "dev/deploy")
	assert.Contains(t, out, "1.5s")

	buf.Reset()
	require.NoError(t, RenderHistory(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, RenderHistory(&buf, FormatYAML, records))
	assert.Contains(t, buf.String(), "error: boom")
	assert.Contains(t, buf.String(), "execution_id: 42")
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderSummary(&buf, "ensure", testOutcome()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ensure: item_error (1 processed, 1 failed) in 25ms", lines[0])
	assert.Contains(t, lines[1], "alpha:")
	assert.Contains(t, lines[1], "disk busy")

	processed, failed := Counts(testOutcome())
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)
}
