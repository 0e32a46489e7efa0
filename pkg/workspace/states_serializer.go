package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/stores"
)

// MarshalStates encodes states as a YAML mapping in graph order. States of
// items not in graph are dropped.
func MarshalStates[Ts engine.StatesTs](graph *engine.ItemGraph, states engine.States[Ts]) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, id := range graph.Items() {
		v, ok := states.Get(id)
		if !ok {
			continue
		}
		var value yaml.Node
		if err := value.Encode(v); err != nil {
			return nil, engine.NewPermanentError("failed to encode state", err).
				WithCode(engine.ErrCodeSerialization).WithItem(id)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(id)},
			&value,
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, engine.NewPermanentError("failed to encode states", err).
			WithCode(engine.ErrCodeSerialization)
	}
	if err := enc.Close(); err != nil {
		return nil, engine.NewPermanentError("failed to encode states", err).
			WithCode(engine.ErrCodeSerialization)
	}
	return buf.Bytes(), nil
}

// UnmarshalStates decodes a YAML states mapping. Each state is decoded by
// its item, so the result holds the item's own state type. Entries for IDs
// not in graph are ignored.
func UnmarshalStates[Ts engine.StatesTs](graph *engine.ItemGraph, data []byte) (engine.States[Ts], error) {
	states, _, err := unmarshalStates[Ts](graph, data)
	return states, err
}

func unmarshalStates[Ts engine.StatesTs](graph *engine.ItemGraph, data []byte) (engine.States[Ts], []engine.ItemID, error) {
	states := engine.NewStates[Ts]()

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return states, nil, engine.NewPermanentError(fmt.Sprintf("failed to parse %s states", states.Kind()), err).
			WithCode(engine.ErrCodeSerialization)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return states, nil, nil
		}
		root = root.Content[0]
	}
	switch {
	case root.Kind == 0:
		return states, nil, nil
	case root.Kind == yaml.ScalarNode && root.Tag == "!!null":
		return states, nil, nil
	case root.Kind != yaml.MappingNode:
		return states, nil, engine.NewPermanentError(
			fmt.Sprintf("%s states must be a mapping of item ID to state (line %d)", states.Kind(), root.Line), nil,
		).WithCode(engine.ErrCodeSerialization)
	}

	var ignored []engine.ItemID
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		id := engine.ItemID(key.Value)

		item, ok := graph.Item(id)
		if !ok {
			ignored = append(ignored, id)
			continue
		}
		state, err := item.DecodeState(value.Decode)
		if err != nil {
			return states, ignored, err
		}
		states.Insert(id, state)
	}

	return states, ignored, nil
}

// StatesSerializer reads and writes state files through a Storage.
type StatesSerializer struct {
	storage stores.Storage
	logger  zerolog.Logger
}

// NewStatesSerializer returns a serializer over storage.
func NewStatesSerializer(storage stores.Storage, logger zerolog.Logger) *StatesSerializer {
	return &StatesSerializer{storage: storage, logger: logger}
}

// Storage returns the underlying storage.
func (s *StatesSerializer) Storage() stores.Storage { return s.storage }

// SerializeStates writes states to key.
func SerializeStates[Ts engine.StatesTs](ctx context.Context, s *StatesSerializer, key string, graph *engine.ItemGraph, states engine.States[Ts]) error {
	data, err := MarshalStates(graph, states)
	if err != nil {
		return err
	}
	if err := s.storage.Write(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s states: %w", states.Kind(), err)
	}

	s.logger.Debug().
		Str("key", key).
		Str("kind", states.Kind()).
		Int("items", states.Len()).
		Msg("States written")
	return nil
}

// DeserializeStatesOpt reads states from key. ok is false when key does not
// exist.
func DeserializeStatesOpt[Ts engine.StatesTs](ctx context.Context, s *StatesSerializer, key string, graph *engine.ItemGraph) (states engine.States[Ts], ok bool, err error) {
	data, err := s.storage.Read(ctx, key)
	if errors.Is(err, stores.ErrNotFound) {
		return engine.NewStates[Ts](), false, nil
	}
	if err != nil {
		return engine.NewStates[Ts](), false, fmt.Errorf("failed to read states: %w", err)
	}

	states, ignored, err := unmarshalStates[Ts](graph, data)
	if err != nil {
		return states, true, err
	}
	if len(ignored) > 0 {
		s.logger.Debug().
			Str("key", key).
			Interface("item_ids", ignored).
			Msg("Ignoring states of items not in the graph")
	}
	return states, true, nil
}

// DeserializeStates is like DeserializeStatesOpt but a missing key is a
// STATES_NOT_DISCOVERED error.
func DeserializeStates[Ts engine.StatesTs](ctx context.Context, s *StatesSerializer, key string, graph *engine.ItemGraph) (engine.States[Ts], error) {
	states, ok, err := DeserializeStatesOpt[Ts](ctx, s, key, graph)
	if err != nil {
		return states, err
	}
	if !ok {
		return states, engine.NewPermanentError(
			fmt.Sprintf("%s states have not been discovered; run discover first", states.Kind()),
			fmt.Errorf("%w: %s", stores.ErrNotFound, key),
		).WithCode(engine.ErrCodeStatesNotDiscovered)
	}
	return states, nil
}
