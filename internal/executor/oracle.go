package executor

import "github.com/pablasso/ralph/internal/plan"

// Oracle decides whether the in-flight task finished, given the ledger
// before and after a change.
type Oracle interface {
	HasCompleted(prev, next plan.Snapshot, inFlight string) bool
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(prev, next plan.Snapshot, inFlight string) bool

func (f OracleFunc) HasCompleted(prev, next plan.Snapshot, inFlight string) bool {
	return f(prev, next, inFlight)
}

// NextTaskOracle declares completion when the ledger has no next task or
// its next task is no longer the in-flight one. An unrelated edit that
// changes the earliest pending task's text is indistinguishable from a
// real completion.
type NextTaskOracle struct{}

func (NextTaskOracle) HasCompleted(_, next plan.Snapshot, inFlight string) bool {
	task, ok := next.Next()
	if !ok {
		return true
	}
	return task.Description != inFlight
}
