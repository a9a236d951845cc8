// Command train fits the duration, acoustic or attention model.
//
//	train duration  --config config/dev/config.yaml
//	train acoustic
//	train attention
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/tts-go/artifact"
	"github.com/ieee0824/tts-go/config"
	"github.com/ieee0824/tts-go/dataset"
	"github.com/ieee0824/tts-go/internal/blas"
	"github.com/ieee0824/tts-go/model"
	"github.com/ieee0824/tts-go/monitor"
	"github.com/ieee0824/tts-go/nn"
	"github.com/ieee0824/tts-go/speaker"
	"github.com/ieee0824/tts-go/trainer"
	"github.com/ieee0824/tts-go/vocoder"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "train",
		Short:         "Train the speech synthesis models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default config/$CONFIG_ENV/config.yaml)")

	for _, kind := range []string{"duration", "acoustic", "attention"} {
		kind := kind
		root.AddCommand(&cobra.Command{
			Use:   kind,
			Short: fmt.Sprintf("Train the %s model", kind),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), cfgPath, kind)
			},
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

// job is everything a run needs, loaded from the config.
type job struct {
	cfg          *config.Root
	log          *logrus.Logger
	stats        speaker.Table
	train, valid dataset.Memory
	inDim        int
	outDim       int
}

func load(cfgPath string) (*job, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	j := &job{cfg: cfg, log: log}
	if j.stats, err = speaker.Load(cfg.Paths.Stats); err != nil {
		return nil, err
	}
	if j.train, err = dataset.LoadGob(cfg.Paths.TrainData); err != nil {
		return nil, fmt.Errorf("training data: %w", err)
	}
	if len(j.train) == 0 {
		return nil, fmt.Errorf("training data %s has no batches", cfg.Paths.TrainData)
	}
	if cfg.Paths.ValidData != "" {
		if j.valid, err = dataset.LoadGob(cfg.Paths.ValidData); err != nil {
			return nil, fmt.Errorf("validation data: %w", err)
		}
	}
	first := j.train[0]
	if len(first.Labels) == 0 || len(first.Labels[0]) == 0 || len(first.Targets[0]) == 0 {
		return nil, fmt.Errorf("training data %s starts with an empty batch", cfg.Paths.TrainData)
	}
	j.inDim, j.outDim = len(first.Labels[0][0]), len(first.Targets[0][0])
	log.WithFields(logrus.Fields{"train_batches": len(j.train), "valid_batches": len(j.valid), "input": j.inDim, "output": j.outDim, "blas": blas.Backend()}).Info("data loaded")
	return j, nil
}

func (j *job) options() (tr, ev trainer.Options, err error) {
	if tr, err = trainer.ParseOptions(j.cfg.Training.Options); err != nil {
		return tr, ev, fmt.Errorf("training.options: %w", err)
	}
	if ev, err = trainer.ParseOptions(j.cfg.Training.EvalOptions); err != nil {
		return tr, ev, fmt.Errorf("training.eval_options: %w", err)
	}
	if tr.Stats == nil {
		tr.Stats = j.stats
	}
	if ev.Stats == nil {
		ev.Stats = j.stats
	}
	return tr, ev, nil
}

func (j *job) sink() (monitor.Sink, error) {
	sinks := monitor.Multi{monitor.LogSink{Log: j.log}}
	if j.cfg.Paths.Events != "" {
		d, err := monitor.NewDir(j.cfg.Paths.Events, j.log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return sinks, nil
}

func run(ctx context.Context, cfgPath, kind string) error {
	j, err := load(cfgPath)
	if err != nil {
		return err
	}
	c := j.cfg
	netCfg := nn.Config{
		InputDim:     j.inDim,
		HiddenDim:    c.Model.HiddenDim,
		HiddenLayers: c.Model.HiddenLayers,
		OutputDim:    j.outDim,
		Positional:   c.Model.Positional,
		Speakers:     c.Model.Speakers,
		Seed:         c.Model.Seed,
	}
	tr, ev, err := j.options()
	if err != nil {
		return err
	}
	crit, err := model.NewCriterion(c.Training.Loss)
	if err != nil {
		return err
	}
	sink, err := j.sink()
	if err != nil {
		return err
	}
	adamCfg := nn.DefaultAdamConfig()
	adamCfg.LearningRate = c.Training.LearningRate

	var (
		net    *nn.Net
		adam   *nn.Adam
		runner interface {
			trainer.Trainer
			trainer.Evaluator
		}
	)
	setup := func(n *nn.Net) trainer.Setup {
		net, adam = n, nn.NewAdam(n, adamCfg)
		return trainer.Setup{
			Optimizer: adam,
			Criterion: crit,
			Train:     tr,
			Eval:      ev,
			Log:       j.log,
			Sink:      sink,
			Vocoder:   vocoder.Optional(c.Vocoder.Binary, j.log),
		}
	}
	switch kind {
	case "duration":
		m, err := nn.NewDurationNet(netCfg)
		if err != nil {
			return err
		}
		runner = &trainer.DurationRunner{Model: m, Setup: setup(m.Net)}
	case "acoustic":
		m, err := nn.NewAcousticNet(netCfg)
		if err != nil {
			return err
		}
		runner = &trainer.AcousticRunner{Model: m, Setup: setup(m.Net)}
	case "attention":
		m, err := nn.NewAttentionNet(netCfg, c.Model.Decoder)
		if err != nil {
			return err
		}
		runner = &trainer.AttentionRunner{Model: m, Setup: setup(m.Net)}
	default:
		return fmt.Errorf("unknown model kind %q", kind)
	}

	eng := &trainer.Engine{Model: net, Train: runner, Log: j.log}
	var valid dataset.Source
	if len(j.valid) > 0 {
		eng.Eval = runner
		valid = j.valid
	}
	if c.Training.Monitor != "" {
		eng.Scheduler = &nn.Plateau{Opt: adam, Factor: c.Training.LRFactor, Patience: c.Training.LRPatience}
	}
	if c.S3.Bucket != "" {
		m, err := artifact.NewS3Mirror(ctx, c.S3.Region, c.S3.Bucket, c.S3.Prefix, j.log)
		if err != nil {
			return err
		}
		eng.Mirror = m
	}

	res, err := eng.Run(ctx, j.train, valid, trainer.Config{
		Epochs:         c.Training.Epochs,
		CheckpointDir:  c.Paths.Checkpoints,
		CheckpointName: c.Training.CheckpointName,
		Monitor:        c.Training.Monitor,
		Patience:       c.Training.Patience,
	})
	if err != nil {
		return err
	}
	j.log.WithFields(logrus.Fields{"epochs": res.Epochs, "best_epoch": res.BestEpoch, "best": res.Best, "early_stop": res.Stopped}).Info("training finished")
	return nil
}
