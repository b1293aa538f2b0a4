// Package orchestrator runs a task: it streams model responses, presents
// the parsed blocks in order, executes tool invocations and feeds their
// results back until the model signals completion or the task is aborted.
//
// A task loop iteration looks like this:
//   - compute the context view, compacting history when over budget
//   - open one provider stream and re-parse the accumulated text per chunk
//   - present blocks through a cursor, executing tools strictly in order
//   - append the assistant message, wait for presentation to finish
//   - append tool results as the next user message and repeat
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//		Providers:  factory,
//		Dispatcher: dispatcher,
//		Tools:      registry,
//	}, orchestrator.WithObservers(printer))
//	err = orch.StartTask(ctx, "Add a --verbose flag to the CLI")
package orchestrator
