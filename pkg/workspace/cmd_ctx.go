package workspace

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/stores"
)

// FlowDirKey is the resource entry holding the running flow's FlowDir.
var FlowDirKey = engine.NewResourceKey[FlowDir]("flow_dir")

// CmdCtx is everything a command needs to run blocks against one flow.
type CmdCtx struct {
	Workspace  *Workspace
	FlowDir    FlowDir
	Graph      *engine.ItemGraph
	Resources  *engine.Resources
	Storage    stores.Storage
	Serializer *StatesSerializer
	Logger     zerolog.Logger
}

// CmdCtxBuilder assembles a CmdCtx. The profile must be set before the
// flow. The first misuse is remembered and returned by Build; later calls
// are ignored.
type CmdCtxBuilder struct {
	ws        *Workspace
	profile   engine.Profile
	flow      engine.FlowID
	graph     *engine.ItemGraph
	storage   stores.Storage
	resources *engine.Resources
	logger    zerolog.Logger
	err       error
}

// NewCmdCtxBuilder starts a builder for ws.
func NewCmdCtxBuilder(ws *Workspace) *CmdCtxBuilder {
	return &CmdCtxBuilder{ws: ws, logger: zerolog.Nop()}
}

func (b *CmdCtxBuilder) fail(err error) *CmdCtxBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// WithProfile sets the profile. It must be called before WithFlow.
func (b *CmdCtxBuilder) WithProfile(profile string) *CmdCtxBuilder {
	if b.err != nil {
		return b
	}
	if b.flow != "" {
		return b.fail(engine.NewPermanentError("profile must be set before the flow", nil).
			WithCode(engine.ErrCodeValidation))
	}
	p, err := engine.NewProfile(profile)
	if err != nil {
		return b.fail(err)
	}
	b.profile = p
	return b
}

// WithFlow sets the flow and its item graph.
func (b *CmdCtxBuilder) WithFlow(flow string, graph *engine.ItemGraph) *CmdCtxBuilder {
	if b.err != nil {
		return b
	}
	if b.profile == "" {
		return b.fail(engine.NewPermanentError("flow set before profile", nil).
			WithCode(engine.ErrCodeValidation))
	}
	id, err := engine.NewFlowID(flow)
	if err != nil {
		return b.fail(err)
	}
	if graph == nil {
		return b.fail(engine.NewPermanentError(fmt.Sprintf("flow %s has no item graph", id), nil).
			WithCode(engine.ErrCodeValidation))
	}
	b.flow = id
	b.graph = graph
	return b
}

// WithStorage sets where states are persisted. Defaults to file storage in
// the workspace state directory.
func (b *CmdCtxBuilder) WithStorage(storage stores.Storage) *CmdCtxBuilder {
	b.storage = storage
	return b
}

// WithResources seeds the resource map. Defaults to an empty map.
func (b *CmdCtxBuilder) WithResources(resources *engine.Resources) *CmdCtxBuilder {
	b.resources = resources
	return b
}

// WithLogger sets the logger.
func (b *CmdCtxBuilder) WithLogger(logger zerolog.Logger) *CmdCtxBuilder {
	b.logger = logger
	return b
}

// Build validates the builder and runs every item's Setup in dependency
// order.
func (b *CmdCtxBuilder) Build(ctx context.Context) (*CmdCtx, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.ws == nil {
		return nil, engine.NewPermanentError("workspace is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if b.profile == "" {
		return nil, engine.NewPermanentError("profile is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if b.flow == "" {
		return nil, engine.NewPermanentError("flow is required", nil).WithCode(engine.ErrCodeValidation)
	}

	storage := b.storage
	if storage == nil {
		storage = stores.NewFileStorage(b.ws.Fs(), b.ws.StateDir())
	}
	resources := b.resources
	if resources == nil {
		resources = engine.NewResources()
	}

	fd := FlowDir{Profile: b.profile, Flow: b.flow}
	engine.Insert(resources, FlowDirKey, fd)

	logger := b.logger.With().
		Str("profile", string(b.profile)).
		Str("flow", string(b.flow)).
		Logger()

	for item := range b.graph.IterInDependencyOrder() {
		if err := item.Setup(ctx, resources); err != nil {
			return nil, engine.NewPermanentError("item setup failed", err).
				WithItem(item.ID()).WithOperation("setup")
		}
	}
	logger.Debug().Int("items", b.graph.Len()).Msg("Command context built")

	return &CmdCtx{
		Workspace:  b.ws,
		FlowDir:    fd,
		Graph:      b.graph,
		Resources:  resources,
		Storage:    storage,
		Serializer: NewStatesSerializer(storage, logger),
		Logger:     logger,
	}, nil
}
