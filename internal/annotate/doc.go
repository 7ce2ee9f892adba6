// Package annotate runs one annotation request end to end. It is structured
// into small files by concern:
//
//   - orchestrator.go: Orchestrator type, Options, constructor, getters.
//   - annotate.go: the per-request flow (configure, admit, execute, instrument).
//   - view.go: signed views and advisory warnings for analyzer code.
//   - errors.go: error types, Status and Classify.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - profiling.go: running time and hardware facts.
//
// Analysis logic is supplied through the Analyzer interface. Parameter
// refinement lives in internal/params and accelerator admission in
// internal/vram; this package only sequences them.
package annotate
