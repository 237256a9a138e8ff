package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lexiqai/listen-stream/internal/audio"
	"github.com/lexiqai/listen-stream/internal/config"
	"github.com/lexiqai/listen-stream/internal/listen"
	"github.com/lexiqai/listen-stream/internal/observability"
	"github.com/lexiqai/listen-stream/internal/options"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// streamFlags holds command line overrides. Streaming options are only
// sent when their flag was set explicitly.
type streamFlags struct {
	encoding       string
	sampleRate     uint32
	channels       uint16
	interimResults bool
	vadEvents      bool
	noDelay        bool
	endpointing    string
	utteranceEndMs uint16
	keepAlive      bool

	model     string
	language  string
	punctuate bool

	sampleFormat string
	inputRate    int
}

// app carries the loaded configuration to the subcommands
type app struct {
	cfg   *config.Config
	flags streamFlags
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "listen",
		Short:         "Stream audio to a live transcription endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = loaded
			observability.InitLogger(a.cfg.LogLevel, a.cfg.LogPretty)
			return nil
		},
	}

	a.flags.register(root.PersistentFlags())

	root.AddCommand(
		a.fileCmd(),
		a.liveCmd(),
		versionCmd(),
	)
	return root
}

func (f *streamFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.encoding, "encoding", "", "audio encoding (linear16, mulaw, flac, opus, ...)")
	fs.Uint32Var(&f.sampleRate, "sample-rate", 0, "sample rate in Hz")
	fs.Uint16Var(&f.channels, "channels", 0, "number of interleaved channels")
	fs.BoolVar(&f.interimResults, "interim-results", false, "request interim results")
	fs.BoolVar(&f.vadEvents, "vad-events", false, "request SpeechStarted events")
	fs.BoolVar(&f.noDelay, "no-delay", false, "disable the server-side formatting delay")
	fs.StringVar(&f.endpointing, "endpointing", "", "endpointing: true, false or silence in ms")
	fs.Uint16Var(&f.utteranceEndMs, "utterance-end-ms", 0, "gap in ms that ends an utterance")
	fs.BoolVar(&f.keepAlive, "keep-alive", false, "send periodic keep-alive messages")
	fs.StringVar(&f.model, "model", "", "model name (defaults to DEEPGRAM_MODEL)")
	fs.StringVar(&f.language, "language", "", "language code (defaults to DEEPGRAM_LANGUAGE)")
	fs.BoolVar(&f.punctuate, "punctuate", false, "add punctuation")
}

func (a *app) fileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <path>",
		Short: "Stream an audio file paced like a live capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			params, err := buildParameters(cmd, a.cfg, &a.flags)
			if err != nil {
				return err
			}

			source, err := listen.OpenFile(args[0], a.cfg.FrameSize, a.cfg.FrameDelay)
			if err != nil {
				return err
			}
			defer source.Close()

			return runSession(ctx, a.cfg, params, source, cmd.OutOrStdout())
		},
	}
}

func (a *app) liveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Stream raw audio read from stdin",
		Long: "Reads raw interleaved samples from stdin (for example from arecord or ffmpeg),\n" +
			"converts them to the requested encoding and streams them until stdin closes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			format, err := audio.ParseSampleFormat(a.flags.sampleFormat)
			if err != nil {
				return err
			}
			if a.cfg.FrameSize%format.BytesPerSample() != 0 {
				return fmt.Errorf("FRAME_SIZE %d is not a multiple of the %s sample width", a.cfg.FrameSize, format)
			}

			params, err := buildParameters(cmd, a.cfg, &a.flags)
			if err != nil {
				return err
			}

			conv := frameConverter{
				format:    format,
				mulaw:     encodingOf(cmd, a.cfg, &a.flags) == listen.EncodingMulaw,
				inputRate: a.flags.inputRate,
				rate:      int(sampleRateOf(cmd, a.cfg, &a.flags)),
			}

			relayCtx, stopRelay := context.WithCancel(ctx)
			defer stopRelay()

			source := listen.NewLiveSource()
			go relayStdin(relayCtx, cmd.InOrStdin(), a.cfg.FrameSize, conv, source)

			return runSession(ctx, a.cfg, params, source, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&a.flags.sampleFormat, "sample-format", string(audio.FormatS16LE), "raw input sample format: s16le, f32le or u16le")
	cmd.Flags().IntVar(&a.flags.inputRate, "input-rate", 0, "capture rate in Hz when it differs from --sample-rate")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func encodingOf(cmd *cobra.Command, cfg *config.Config, flags *streamFlags) listen.Encoding {
	if cmd.Flags().Changed("encoding") {
		return listen.Encoding(flags.encoding)
	}
	return listen.Encoding(cfg.StreamEncoding)
}

func sampleRateOf(cmd *cobra.Command, cfg *config.Config, flags *streamFlags) uint32 {
	if cmd.Flags().Changed("sample-rate") {
		return flags.sampleRate
	}
	return cfg.StreamSampleRate
}

// buildParameters merges configuration with explicitly set flags
func buildParameters(cmd *cobra.Command, cfg *config.Config, flags *streamFlags) (*listen.Parameters, error) {
	changed := cmd.Flags().Changed

	model := cfg.DeepgramModel
	if changed("model") {
		model = flags.model
	}
	language := cfg.DeepgramLanguage
	if changed("language") {
		language = flags.language
	}

	builder := options.New()
	if model != "" {
		builder.Model(options.Model(model))
	}
	if language != "" {
		builder.Language(language)
	}
	if changed("punctuate") {
		builder.Punctuate(flags.punctuate)
	}

	var opts []listen.StreamOption
	if enc := encodingOf(cmd, cfg, flags); enc != "" {
		opts = append(opts, listen.WithEncoding(enc))
	}
	if rate := sampleRateOf(cmd, cfg, flags); rate != 0 {
		opts = append(opts, listen.WithSampleRate(rate))
	}
	switch {
	case changed("channels"):
		opts = append(opts, listen.WithChannels(flags.channels))
	case cfg.StreamChannels != 0:
		opts = append(opts, listen.WithChannels(cfg.StreamChannels))
	}
	if changed("endpointing") {
		e, err := listen.ParseEndpointing(flags.endpointing)
		if err != nil {
			return nil, err
		}
		opts = append(opts, listen.WithEndpointing(e))
	}
	if changed("utterance-end-ms") {
		opts = append(opts, listen.WithUtteranceEndMs(flags.utteranceEndMs))
	}
	if changed("interim-results") {
		opts = append(opts, listen.WithInterimResults(flags.interimResults))
	}
	if changed("no-delay") {
		opts = append(opts, listen.WithNoDelay(flags.noDelay))
	}
	if changed("vad-events") {
		opts = append(opts, listen.WithVADEvents(flags.vadEvents))
	}
	if (changed("keep-alive") && flags.keepAlive) || (!changed("keep-alive") && cfg.StreamKeepAlive) {
		opts = append(opts, listen.WithKeepAlive())
	}

	return listen.NewParameters(cfg.DeepgramBaseURL, cfg.DeepgramAPIKey, builder.Build(), opts...)
}
