// Package output renders command progress, outcomes and states.
//
// Presenters implement engine.Presenter. LogPresenter writes through
// zerolog, JSONPresenter emits one JSON document per line for scripts,
// and MemPresenter records everything for tests. Tee fans out to several
// presenters.
//
// RenderStates, RenderDiffs and RenderHistory print the results of a
// command as YAML, JSON or an aligned table.
package output
