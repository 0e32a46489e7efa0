package config

import (
	"fmt"
	"maps"
	"slices"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/items"
)

// FlowIDs returns the configured flows in sorted order.
func (f *File) FlowIDs() []engine.FlowID {
	out := make([]engine.FlowID, 0, len(f.Flows))
	for _, name := range slices.Sorted(maps.Keys(f.Flows)) {
		out = append(out, engine.FlowID(name))
	}
	return out
}

// BuildGraph instantiates the items of a flow through reg and connects
// each item to the items it depends on. Items keep their declared order
// within a concurrency group.
func (f *File) BuildGraph(flow engine.FlowID, reg *items.Registry, env items.Env) (*engine.ItemGraph, error) {
	fc, ok := f.Flows[string(flow)]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("flow %q is not configured", flow), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if env.BaseDir == "" {
		env.BaseDir = f.WorkspaceDir()
	}

	b := engine.NewItemGraphBuilder()
	for _, ic := range fc.Items {
		item, err := reg.New(items.Spec{
			ID:     engine.ItemID(ic.ID),
			Kind:   ic.Kind,
			Params: ic.Params,
		}, env)
		if err != nil {
			return nil, err
		}
		b.AddItem(item)
	}
	for _, ic := range fc.Items {
		for _, dep := range ic.DependsOn {
			b.AddEdge(engine.ItemID(dep), engine.ItemID(ic.ID))
		}
	}

	return b.Build()
}
