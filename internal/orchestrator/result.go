package orchestrator

import "fmt"

// FailureKind classifies a stage failure for the run record
type FailureKind string

const (
	FailInput     FailureKind = "input"
	FailAuth      FailureKind = "auth"
	FailNotFound  FailureKind = "not_found"
	FailTransient FailureKind = "transient"
	FailLLM       FailureKind = "llm"
	FailCancelled FailureKind = "cancelled"
	FailFatal     FailureKind = "fatal"
)

// Result is the discriminated outcome of one pipeline stage. A nil Failure
// means success.
type Result struct {
	Stage    string
	Failure  *Failure
	Metadata map[string]string
}

// Failure captures why a stage could not complete
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func success(stage string) Result {
	return Result{Stage: stage}
}

func failure(stage string, kind FailureKind, err error) Result {
	return Result{Stage: stage, Failure: &Failure{Kind: kind, Message: err.Error()}}
}

// OK reports whether the stage completed
func (r Result) OK() bool { return r.Failure == nil }
