// Package model defines the contract between the training/synthesis loops
// and a numerical backend: tensors, recurrent state, predictions, losses and
// optimizers. The loops never look inside a model.
package model

// Checkpointer persists model parameters.
type Checkpointer interface {
	// Save writes the parameters for epoch into dir. best marks the
	// best-so-far checkpoint under the monitored validation metric.
	Save(dir, name string, epoch int, best bool) error
}

// Module is the mode/gradient surface shared by every model flavor.
type Module interface {
	Checkpointer
	// Train switches to training mode.
	Train()
	// Eval switches to inference mode.
	Eval()
	// Backward accumulates parameter gradients for the most recent forward
	// pass. grad has the shape of the prediction that was scored.
	Backward(grad Prediction) error
}

// DurationModel predicts one normalized duration per linguistic unit.
type DurationModel interface {
	Module
	// Forward runs labels [T × B × L] with per-column speaker ids. A nil
	// state means a fresh state.
	Forward(labels *Tensor, state State, speakers []int) (Prediction, State, error)
	InitHiddenState(batchSize int) State
}

// AcousticModel predicts one acoustic frame per query step and carries
// separate hidden and output states.
type AcousticModel interface {
	Module
	Forward(labels *Tensor, hidden, output State, speakers []int) (Prediction, State, State, error)
	InitHiddenState(batchSize int) State
	InitOutputState(batchSize int) State
}

// AttentionModel is the stateless acoustic variant. posStart offsets the
// positional encoding of the first step; feedback, when non-nil, holds the
// previous target frame for every step.
type AttentionModel interface {
	Module
	Forward(labels, feedback *Tensor, speakers []int, posStart int) (*Tensor, error)
}

// Optimizer applies accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
}

// Scheduler adapts optimization from a validation metric once per epoch.
type Scheduler interface {
	Step(metric float64)
}
