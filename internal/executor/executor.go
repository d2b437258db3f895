// Package executor is the boundary to whatever actually performs a stage's
// work (an agent process, a remote service). The orchestrator only depends
// on the interface; a scripted in-memory implementation backs tests and the
// demo command.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgecrew/wrangler/internal/unit"
)

// Result is the output of one stage execution, threaded into the next
// stage's context by the orchestrator.
type Result struct {
	// Output is the stage's textual result.
	Output string

	// ModifiedFiles lists files the stage reported touching, fed to the
	// drift watcher.
	ModifiedFiles []string
}

// Executor performs one stage of work for a unit.
type Executor interface {
	// Execute runs the stage. stageCtx carries the prior stages' outputs
	// keyed by stage name. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, u *unit.UnitOfWork, agentType, instructions string, stageCtx map[string]string) (*Result, error)
}

// ScriptedExecutor is an in-memory Executor whose behavior per (unit,
// agent type) is declared up front. Unscripted executions succeed with a
// generic result.
type ScriptedExecutor struct {
	mu      sync.Mutex
	results map[string]*Result
	errs    map[string]error
	calls   []Call
}

// Call records one Execute invocation for assertions.
type Call struct {
	UnitID    string
	AgentType string
}

// NewScriptedExecutor creates an empty scripted executor.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{
		results: make(map[string]*Result),
		errs:    make(map[string]error),
	}
}

func key(unitID, agentType string) string {
	return unitID + "/" + agentType
}

// Script sets the result returned for the given unit and agent type.
func (e *ScriptedExecutor) Script(unitID, agentType string, res *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[key(unitID, agentType)] = res
}

// ScriptError makes the given unit and agent type fail with err.
func (e *ScriptedExecutor) ScriptError(unitID, agentType string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[key(unitID, agentType)] = err
}

// Calls returns the executions performed so far, in order.
func (e *ScriptedExecutor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Execute returns the scripted outcome, or a generic success.
func (e *ScriptedExecutor) Execute(ctx context.Context, u *unit.UnitOfWork, agentType, instructions string, stageCtx map[string]string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls = append(e.calls, Call{UnitID: u.ID, AgentType: agentType})
	res, hasRes := e.results[key(u.ID, agentType)]
	err, hasErr := e.errs[key(u.ID, agentType)]
	e.mu.Unlock()

	if hasErr {
		return nil, err
	}
	if hasRes {
		return res, nil
	}
	return &Result{Output: fmt.Sprintf("%s completed for %s", agentType, u.ID)}, nil
}
