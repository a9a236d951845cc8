// Package config loads the run configuration: config/<CONFIG_ENV>/config.yaml
// by default, or an explicit file, with TTS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/up-zero/gotool/convertutil"

	"github.com/ieee0824/tts-go/expand"
	"github.com/ieee0824/tts-go/synth"
)

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type Paths struct {
	Stats       string `mapstructure:"stats"`
	Codebook    string `mapstructure:"codebook"`
	TrainData   string `mapstructure:"train_data"`
	ValidData   string `mapstructure:"valid_data"`
	Checkpoints string `mapstructure:"checkpoints"`
	Events      string `mapstructure:"events"`
}

// Model sizes the reference network.
type Model struct {
	HiddenDim    int      `mapstructure:"hidden_dim"`
	HiddenLayers int      `mapstructure:"hidden_layers"`
	Speakers     []string `mapstructure:"speakers"`
	Positional   int      `mapstructure:"positional"`
	Decoder      bool     `mapstructure:"decoder"`
	Seed         int64    `mapstructure:"seed"`
}

type Training struct {
	Epochs         int     `mapstructure:"epochs"`
	Patience       int     `mapstructure:"patience"`
	Monitor        string  `mapstructure:"monitor"`
	CheckpointName string  `mapstructure:"checkpoint_name"`
	Loss           string  `mapstructure:"loss"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	LRFactor       float64 `mapstructure:"lr_factor"`
	LRPatience     int     `mapstructure:"lr_patience"`
	// Options and EvalOptions are parsed by trainer.ParseOptions.
	Options     map[string]any `mapstructure:"options"`
	EvalOptions map[string]any `mapstructure:"eval_options"`
}

// Synthesis mirrors the tunable fields of synth.Options.
type Synthesis struct {
	Stride     float64 `mapstructure:"stride"`
	Policy     string  `mapstructure:"policy"`
	PostFilter float64 `mapstructure:"post_filter"`
	ForceDur   bool    `mapstructure:"force_dur"`
	OutDir     string  `mapstructure:"out_dir"`
}

type Vocoder struct {
	Binary string `mapstructure:"binary"`
}

// S3 enables mirroring of checkpoints when Bucket is set.
type S3 struct {
	Region string `mapstructure:"region"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type Root struct {
	Log       Log       `mapstructure:"log"`
	Paths     Paths     `mapstructure:"paths"`
	Model     Model     `mapstructure:"model"`
	Training  Training  `mapstructure:"training"`
	Synthesis Synthesis `mapstructure:"synthesis"`
	Vocoder   Vocoder   `mapstructure:"vocoder"`
	S3        S3        `mapstructure:"s3"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("paths.checkpoints", "ckpt")
	v.SetDefault("model.hidden_dim", 256)
	v.SetDefault("model.hidden_layers", 2)
	v.SetDefault("model.seed", 1)
	v.SetDefault("training.epochs", 50)
	v.SetDefault("training.checkpoint_name", "model")
	v.SetDefault("training.loss", "mse")
	v.SetDefault("training.learning_rate", 0.001)
	v.SetDefault("training.lr_factor", 0.5)
	v.SetDefault("training.lr_patience", 3)
	v.SetDefault("synthesis.stride", expand.DefaultStride)
	v.SetDefault("synthesis.post_filter", 1.0)
	v.SetDefault("synthesis.out_dir", "synth")
	v.SetDefault("vocoder.binary", "ahodecoder16_64")
	v.SetDefault("s3.region", "us-west-2")
}

// Load reads path, or config/<CONFIG_ENV>/config.yaml when path is empty
// (CONFIG_ENV defaults to "dev"). A missing default file yields the
// defaults; a missing explicit file is an error.
func Load(path string) (*Root, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join("config", env))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	var r Root
	if err := v.Unmarshal(&r); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &r, nil
}

// Logger builds the process logger from the log section.
func (r *Root) Logger() (*logrus.Logger, error) {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(r.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log.SetLevel(lvl)
	if r.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}

// SynthOptions returns the synthesis options of the config for speaker
// and output name.
func (r *Root) SynthOptions(speaker int, name string) (synth.Options, error) {
	var o synth.Options
	if err := convertutil.CopyProperties(r.Synthesis, &o); err != nil {
		return synth.Options{}, fmt.Errorf("config: synthesis: %w", err)
	}
	o.Speaker, o.Name = speaker, name
	return o, nil
}
