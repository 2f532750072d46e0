package constants

// Component types registered with the rendezvous service
const (
	ComponentLearner = "learner"
	ComponentActor   = "actor"
)

// Message topics exchanged between learner and actors
const (
	TopicPolicy     = "policy"     // learner -> actors: policy params + exploration
	TopicExperience = "experience" // actors -> learner: rollout batches
	TopicEval       = "eval"       // both directions: evaluation round
	TopicExit       = "exit"       // learner -> actors: teardown notice
)
