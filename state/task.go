// Package state owns the CoordinationEngine's core data: Task, AgentState,
// VoteLedger, OrchestrationAttempt, and the EventBus. The engine has
// exclusive ownership of AgentState/VoteLedger/the current
// OrchestrationAttempt; this package is that ownership made concrete.
package state

// Task is the immutable unit of work handed to the coordination engine.
// Created once per coordination call; destroyed when coordination
// terminates.
type Task struct {
	ID                 string
	Prompt             string
	ConversationContext string
	ContextPaths       []ContextPath
	Config             Config
}

// ContextPath is a user-supplied directory outside agent workspaces that
// agents may read, and that the winner may write during Presenting if
// configured Write.
type ContextPath struct {
	Path              string
	Writable          bool
	ProtectedSubpaths []string
}

// VotingSensitivity is the bar MessageTemplates injects into an agent's
// prompt before it votes.
type VotingSensitivity string

const (
	SensitivityLenient  VotingSensitivity = "lenient"
	SensitivityBalanced VotingSensitivity = "balanced"
	SensitivityStrict   VotingSensitivity = "strict"
)

// NoveltyRequirement mirrors novelty.Level but is named separately here so
// Config does not require importing the novelty package for its zero value
// semantics; coordination.Engine converts between them.
type NoveltyRequirement string

const (
	NoveltyLenient  NoveltyRequirement = "lenient"
	NoveltyBalanced NoveltyRequirement = "balanced"
	NoveltyStrict   NoveltyRequirement = "strict"
)

// Config is the recognized configuration surface.
type Config struct {
	EnablePlanningMode        bool
	PlanningModeInstruction   string
	MaxOrchestrationRestarts  int
	VotingSensitivity         VotingSensitivity
	MaxNewAnswersPerAgent     int // 0 means unlimited
	AnswerNoveltyRequirement  NoveltyRequirement
	OrchestratorTimeoutSeconds int
	OrchestratorMaxTokens      int
	AgentTimeoutSeconds        int
	AgentMaxTokens             int
	EnableTimeoutFallback      bool
	SkipCoordinationRounds     bool
	DebugFinalAnswer           string
}

// DefaultConfig returns the recognized defaults.
func DefaultConfig() Config {
	return Config{
		EnablePlanningMode:         false,
		MaxOrchestrationRestarts:   0,
		VotingSensitivity:          SensitivityLenient,
		MaxNewAnswersPerAgent:      0,
		AnswerNoveltyRequirement:   NoveltyLenient,
		OrchestratorTimeoutSeconds: 1800,
		OrchestratorMaxTokens:      200_000,
		AgentTimeoutSeconds:        300,
		AgentMaxTokens:             50_000,
		EnableTimeoutFallback:      true,
		SkipCoordinationRounds:     false,
	}
}

// AgentSpec declares one configured agent.
type AgentSpec struct {
	ID            string
	BackendRef    string
	SystemMessage string
}

// AttemptOutcome classifies how an OrchestrationAttempt ended.
type AttemptOutcome string

const (
	OutcomeDone    AttemptOutcome = "done"
	OutcomeRestart AttemptOutcome = "restart"
	OutcomeFailed  AttemptOutcome = "failed"
)

// OrchestrationAttempt records one Setup→Running→Deciding→Presenting cycle.
type OrchestrationAttempt struct {
	AttemptNumber int
	Outcome       AttemptOutcome
	Winner        string
	FinalAnswer   string
}
