// Package orchestrator runs a query through every phase of a method.
//
// # Overview
//
// An Orchestrator owns one prepared method config. Each run gets a fresh
// pipeline.RunContext, collects retrieval passages once, then walks the planned
// phases in declaration order, dispatching each to the adapter for its executor
// kind and merging the output into the run context before the next phase.
//
// # Architecture
//
//	Enrich → Retrieve → phase 1 → phase 2 → ... → final answer
//
// Phases are planned up front by gates. A closed gate removes the phase from
// the run entirely, so it is neither executed nor recorded nor reported.
//
// # Key Components
//
// ## Adapters
//
// One pipeline.Adapter per executor kind:
//   - standard: phase.Executor (prompt, LLM with retry, parse and validate)
//   - supervisor: supervisor.Adapter (select_agents, synthesize_results)
//   - agent_coordinator: agents.Adapter (bounded fan-out or stand-ins)
//
// An adapter error or panic is recorded as a failed phase. A failed phase
// listed in critical_phases aborts the run with the results gathered so far.
//
// ## Phase Gates
//
//   - SupervisorGate: skips supervisor and agent phases unless supervisor mode is on
//   - ExcludeGate: skips an explicit set of phase ids
//
// ## Final answer
//
// A supervisor synthesis answer wins, then the conclusion phase's main answer,
// then FallbackAnswer. Confidence follows the same order, then the mean of the
// phase confidences, then the configured default.
//
// # Usage Example
//
//	orch, err := orchestrator.Load(store, "scientific", orchestrator.Deps{
//	    Generator: llmClient,
//	    Retriever: retriever,
//	})
//	res, err := orch.Run(ctx, orchestrator.Request{Query: "Why is the sky blue?"})
//
//	s := orch.Stream(ctx, orchestrator.Request{Query: "Why is the sky blue?"})
//	for {
//	    ev, err := s.Next(ctx)
//	    if errors.Is(err, stream.ErrClosed) {
//	        break
//	    }
//	    ...
//	}
//
// # Cancellation
//
// The run context is checked before every phase. A cancelled run finishes the
// phase in flight, emits nothing further and reports RunCancelled.
package orchestrator
