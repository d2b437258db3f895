package pipeline

// Stage is one fixed step of the delivery pipeline. Stages run strictly in
// the order declared in Stages; only stages that mutate code take a branch
// reservation.
type Stage struct {
	// Name identifies the stage in statuses, logs, and stage context.
	Name string

	// AgentType is the role that executes the stage, and the reservation
	// key for mutating stages.
	AgentType string

	// MutatesCode marks stages that must hold a branch reservation.
	MutatesCode bool

	// Instructions is the standing brief passed to the executor.
	Instructions string
}

// Stages is the fixed ordered pipeline. Architecture, review, and
// documentation read the codebase without changing it; implementation,
// testing, and deployment hold reservations while they run.
var Stages = []Stage{
	{
		Name:         "architecture",
		AgentType:    "architect",
		MutatesCode:  false,
		Instructions: "Produce a technical design for the unit: affected components, interfaces, and risks.",
	},
	{
		Name:         "implementation",
		AgentType:    "senior-developer",
		MutatesCode:  true,
		Instructions: "Implement the unit following the architecture output.",
	},
	{
		Name:         "testing",
		AgentType:    "test-engineer",
		MutatesCode:  true,
		Instructions: "Write and run tests covering the implemented changes.",
	},
	{
		Name:         "review",
		AgentType:    "code-reviewer",
		MutatesCode:  false,
		Instructions: "Review the implementation and tests; list required changes.",
	},
	{
		Name:         "deployment",
		AgentType:    "devops",
		MutatesCode:  true,
		Instructions: "Prepare deployment configuration and release steps.",
	},
	{
		Name:         "documentation",
		AgentType:    "doc-writer",
		MutatesCode:  false,
		Instructions: "Document the shipped change for users and operators.",
	},
}

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

const (
	// StagePending means the stage has not started.
	StagePending StageStatus = "pending"

	// StageRunning means the stage is executing.
	StageRunning StageStatus = "running"

	// StageCompleted means the stage finished successfully.
	StageCompleted StageStatus = "completed"

	// StageFailed means the stage failed; no later stage runs.
	StageFailed StageStatus = "failed"
)

// String returns the string representation of the stage status.
func (s StageStatus) String() string {
	return string(s)
}
