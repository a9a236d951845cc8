package trainer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ieee0824/tts-go/artifact"
	"github.com/ieee0824/tts-go/dataset"
	"github.com/ieee0824/tts-go/model"
)

// Trainer runs one training epoch and returns every logged value by name.
type Trainer interface {
	TrainEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string][]float64, error)
}

// Evaluator runs one evaluation epoch and returns flat scores.
type Evaluator interface {
	EvalEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string]float64, error)
}

// Mirror copies files written during an epoch to remote storage.
type Mirror interface {
	Sync(ctx context.Context, dir string, since time.Time) error
}

// Config is the outer loop configuration.
type Config struct {
	Epochs         int
	CheckpointDir  string
	CheckpointName string
	// Monitor names the validation score used for early stopping and best
	// checkpoint selection; lower is better. Empty disables both.
	Monitor  string
	Patience int
}

// Engine runs epochs until Epochs is reached or the monitored score stops
// improving for Patience consecutive epochs.
type Engine struct {
	Model model.Checkpointer
	Train Trainer
	// Eval is optional. When set, Run requires a validation source.
	Eval      Evaluator
	Scheduler model.Scheduler
	Mirror    Mirror
	Log       logrus.FieldLogger
}

// Result summarizes a finished run.
type Result struct {
	Epochs    int // epochs completed
	BestEpoch int // -1 when nothing was monitored
	Best      float64
	Stopped   bool // early stop
	History   *artifact.History
}

func (e *Engine) validate(validSrc dataset.Source, cfg Config) error {
	if e.Model == nil || e.Train == nil {
		return fmt.Errorf("%w: engine needs a model and a training runner", ErrConfig)
	}
	if cfg.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrConfig, cfg.Epochs)
	}
	if cfg.CheckpointDir == "" || cfg.CheckpointName == "" {
		return fmt.Errorf("%w: checkpoint directory and name are required", ErrConfig)
	}
	if e.Eval != nil && validSrc == nil {
		return fmt.Errorf("%w: evaluation requested without a validation source", ErrConfig)
	}
	if cfg.Monitor != "" {
		if e.Eval == nil {
			return fmt.Errorf("%w: monitored metric %q without evaluation", ErrConfig, cfg.Monitor)
		}
		if cfg.Patience <= 0 {
			return fmt.Errorf("%w: monitored metric %q requires a positive patience", ErrConfig, cfg.Monitor)
		}
	}
	for _, r := range []any{e.Train, e.Eval} {
		if v, ok := r.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run trains until the epoch budget is spent or early stopping triggers.
// Every epoch writes a checkpoint and the metric histories; failures to
// persist are logged and do not stop training.
func (e *Engine) Run(ctx context.Context, trainSrc, validSrc dataset.Source, cfg Config) (*Result, error) {
	if err := e.validate(validSrc, cfg); err != nil {
		return nil, err
	}
	log := e.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	store := artifact.Local{Dir: cfg.CheckpointDir}
	res := &Result{BestEpoch: -1, Best: math.Inf(1), History: artifact.NewHistory()}
	patience := cfg.Patience

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		started := time.Now()
		tr, err := e.Train.TrainEpoch(ctx, epoch, trainSrc)
		if err != nil {
			return res, fmt.Errorf("epoch %d: train: %w", epoch, err)
		}
		res.History.AddTrain(tr)

		best := false
		stop := false
		if e.Eval != nil {
			va, err := e.Eval.EvalEpoch(ctx, epoch, validSrc)
			if err != nil {
				return res, fmt.Errorf("epoch %d: eval: %w", epoch, err)
			}
			res.History.AddValid(va)
			if cfg.Monitor != "" {
				v, ok := va[cfg.Monitor]
				if !ok {
					return res, fmt.Errorf("%w: monitored metric %q not reported by evaluation", ErrConfig, cfg.Monitor)
				}
				if e.Scheduler != nil {
					e.Scheduler.Step(v)
				}
				if v < res.Best {
					res.Best, res.BestEpoch, best = v, epoch, true
					patience = cfg.Patience
					log.WithFields(logrus.Fields{"epoch": epoch, cfg.Monitor: v}).Info("new best")
				} else {
					patience--
					log.WithFields(logrus.Fields{"epoch": epoch, cfg.Monitor: v, "best": res.Best, "patience": patience}).Info("no improvement")
					stop = patience <= 0
				}
			}
		}

		if _, err := store.Write(res.History); err != nil {
			log.WithError(err).Warn("persist metric history")
		}
		if err := e.Model.Save(cfg.CheckpointDir, cfg.CheckpointName, epoch, best); err != nil {
			log.WithError(err).WithField("epoch", epoch).Warn("save checkpoint")
		}
		if e.Mirror != nil {
			if err := e.Mirror.Sync(ctx, cfg.CheckpointDir, started); err != nil {
				log.WithError(err).Warn("mirror artifacts")
			}
		}
		res.Epochs = epoch + 1
		if stop {
			res.Stopped = true
			log.WithFields(logrus.Fields{"epoch": epoch, "best_epoch": res.BestEpoch}).Info("early stopping")
			break
		}
	}
	return res, nil
}
