// Command synth renders label files into waveforms.
//
//	synth --lab utt.lab --spk 0 --acoustic best-aco.gob --duration best-dur.gob
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	tts "github.com/ieee0824/tts-go"
	"github.com/ieee0824/tts-go/config"
	"github.com/ieee0824/tts-go/vocoder"
)

func main() {
	var (
		cfgPath      string
		labs         []string
		spk          int
		acousticPath string
		durPath      string
		attention    bool
	)
	cmd := &cobra.Command{
		Use:          "synth",
		Short:        "Synthesize label files with trained models",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(labs) == 0 || acousticPath == "" {
				return fmt.Errorf("--lab and --acoustic are required")
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log, err := cfg.Logger()
			if err != nil {
				return err
			}
			opts, err := cfg.SynthOptions(spk, "")
			if err != nil {
				return err
			}
			s, err := tts.NewSynthesizer(acousticPath, cfg.Paths.Stats, cfg.Paths.Codebook,
				tts.WithDurationModel(durPath),
				tts.WithOptions(opts),
				tts.WithLogger(log),
				tts.WithVocoder(vocoder.Ahocoder{Binary: cfg.Vocoder.Binary, Log: log}),
				withAttention(attention),
			)
			if err != nil {
				return err
			}
			for _, lab := range labs {
				name := strings.TrimSuffix(filepath.Base(lab), filepath.Ext(lab))
				wav, err := s.SynthesizeFile(cmd.Context(), lab, spk, name)
				if err != nil {
					return fmt.Errorf("%s: %w", lab, err)
				}
				fmt.Println(wav)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfgPath, "config", "", "config file (default config/$CONFIG_ENV/config.yaml)")
	f.StringSliceVar(&labs, "lab", nil, "label files to synthesize")
	f.IntVar(&spk, "spk", 0, "speaker id")
	f.StringVar(&acousticPath, "acoustic", "", "acoustic model checkpoint")
	f.StringVar(&durPath, "duration", "", "duration model checkpoint (omit with synthesis.force_dur)")
	f.BoolVar(&attention, "attention", false, "the acoustic checkpoint is an attention model")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "synth: %v\n", err)
		os.Exit(1)
	}
}

func withAttention(on bool) tts.Option {
	if on {
		return tts.WithAttention()
	}
	return func(*tts.Synthesizer) {}
}
