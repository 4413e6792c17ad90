// Package finitestate provides a finite state machine that tracks one
// chart-processing request through the pipeline.
//
// Pipeline lifecycle:
//  1. Created - Request accepted, builder constructed
//  2. HooksInit - Lifecycle hooks initialized
//  3. ModulesBuilt - Shared library modules resolved and executed
//  4. SharedParsed - Shared tab parsed
//  5. ParamsResolved - Params tab executed, precedence fold applied
//  6. SourcesResolved - Sources tab executed, descriptors parsed
//  7. DataFetched - External sources fetched
//  8. LibraryConfigBuilt - Chart library config tab executed
//  9. ConfigBuilt - Config tab executed (skipped for UI-only requests)
//  10. JSExecuted - Prepare tab executed (skipped for UI-only requests)
//  11. UIBuilt - Controls tab executed
//  12. Assembled - Response assembled from tab results
//  13. Done - Response returned (terminal)
//
// Error is the single terminal failure state; every stage can reach it.
package finitestate

import (
	"context"
	"log/slog"

	"github.com/robbyt/go-fsm"
)

// State constants for the chart-processing pipeline.
const (
	StateCreated            = "created"
	StateHooksInit          = "hooks_init"
	StateModulesBuilt       = "modules_built"
	StateSharedParsed       = "shared_parsed"
	StateParamsResolved     = "params_resolved"
	StateSourcesResolved    = "sources_resolved"
	StateDataFetched        = "data_fetched"
	StateLibraryConfigBuilt = "library_config_built"
	StateConfigBuilt        = "config_built"
	StateJSExecuted         = "js_executed"
	StateUIBuilt            = "ui_built"
	StateAssembled          = "assembled"
	StateDone               = "done"
	StateError              = "error"
)

// PipelineTransitions defines the valid stage progressions. UI-only
// requests skip the Config and Prepare stages, so DataFetched and
// LibraryConfigBuilt may step directly to UIBuilt.
var PipelineTransitions = map[string][]string{
	StateCreated:            {StateHooksInit, StateError},
	StateHooksInit:          {StateModulesBuilt, StateError},
	StateModulesBuilt:       {StateSharedParsed, StateError},
	StateSharedParsed:       {StateParamsResolved, StateError},
	StateParamsResolved:     {StateSourcesResolved, StateError},
	StateSourcesResolved:    {StateDataFetched, StateError},
	StateDataFetched:        {StateLibraryConfigBuilt, StateError},
	StateLibraryConfigBuilt: {StateConfigBuilt, StateUIBuilt, StateError},
	StateConfigBuilt:        {StateJSExecuted, StateError},
	StateJSExecuted:         {StateUIBuilt, StateError},
	StateUIBuilt:            {StateAssembled, StateError},
	StateAssembled:          {StateDone, StateError},
	StateDone:               {},
	StateError:              {},
}

// Machine defines the interface for the finite state machine that tracks
// the pipeline lifecycle. This abstraction simplifies testing.
type Machine interface {
	// Transition attempts to transition the state machine to the specified state.
	Transition(state string) error

	// TransitionBool attempts to transition the state machine to the specified state.
	TransitionBool(state string) bool

	// GetState returns the current state of the state machine.
	GetState() string

	// GetStateChan returns a channel that emits the state machine's state whenever
	// it changes. The channel is closed when the provided context is canceled.
	GetStateChan(ctx context.Context) <-chan string
}

// New creates a new pipeline state machine in the Created state.
func New(handler slog.Handler) (Machine, error) {
	return fsm.New(handler, StateCreated, PipelineTransitions)
}
