package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ruturajsinh-rathod/TuneReader/internal/cache"
	"github.com/ruturajsinh-rathod/TuneReader/internal/config"
	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
	"github.com/ruturajsinh-rathod/TuneReader/internal/playback"
	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
)

var (
	version = "0.1.0"
)

// Exit codes, one per failing stage
const (
	exitOK = iota
	exitFailure
	exitConfiguration
	exitRecognition
	exitNormalization
	exitRendering
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "tunereader",
	Short: "Turn sheet music into audio",
	Long: `TuneReader reads a scanned or engraved score and renders it to audio.

Pipeline: PDF/image → MusicXML (Audiveris or MuseScore) → cleaned MusicXML → MIDI → audio`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var convertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Convert a PDF or image of a score to audio",
	Long: `Convert a sheet-music PDF or image into an audio file.

Scanned PDFs and images go through optical music recognition first; engraved
(vector) PDFs are imported by the notation editor first. When the first
recognition strategy fails on a PDF the other one is tried.

Examples:
  tunereader convert sonata.pdf --soundfont ~/sf/piano.sf2
  tunereader convert page.png -f ogg --tempo 90 --transpose -2
  tunereader convert etude.pdf --hand right --monophonic top
  tunereader convert etude.pdf --play`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP conversion API",
	Long: `Start an HTTP API that accepts score uploads and converts them in the
background.

Endpoints:
  POST /convert                    multipart "file", optional format, tempo, transpose, loudnorm, hand, monophonic
  GET  /status/{id}                job status
  GET  /download/{id}[/midi|/notation]
  GET  /jobs
  GET  /health`,
	RunE: runServe,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the external tools and soundfont are available",
	RunE:  runDoctor,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached conversions",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached conversions",
	RunE:  runCacheList,
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "remove <key>...",
	Short: "Remove cached conversions by key",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCacheRemove,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached conversions",
	RunE:  runCacheClear,
}

var (
	// global flags
	configPath string
	logLevel   string

	// convert flags
	outputDir    string
	soundfont    string
	audioFormat  string
	tempoBPM     float64
	transpose    int
	hand         string
	monophonic   string
	loudnorm     bool
	keepWav      bool
	noCache      bool
	play         bool
	verbose      bool
	audiveris    string
	musescore    string
	fluidsynth   string
	ffmpeg       string
	pdftoppm     string
	playerCmd    string
	noRasterize  bool
	omrTimeout   string
	synthTimeout string

	// serve flags
	addr    string
	jobsDir string
	maxJobs int

	// loaded in setup
	cfg *config.Config
)

func init() {
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheRemoveCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.tunereader/config.yaml then ./.tunereader/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Tool and soundfont flags are shared by convert, serve and doctor
	for _, c := range []*cobra.Command{convertCmd, serveCmd, doctorCmd} {
		c.Flags().StringVar(&soundfont, "soundfont", "", "SoundFont (.sf2) used for synthesis")
		c.Flags().StringVar(&audiveris, "audiveris", "", "Audiveris executable")
		c.Flags().StringVar(&musescore, "musescore", "", "MuseScore executable")
		c.Flags().StringVar(&fluidsynth, "fluidsynth", "", "FluidSynth executable")
		c.Flags().StringVar(&ffmpeg, "ffmpeg", "", "ffmpeg executable")
		c.Flags().StringVar(&pdftoppm, "pdftoppm", "", "pdftoppm executable used to rasterize PDFs before OMR")
	}

	convertCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: output)")
	convertCmd.Flags().StringVarP(&audioFormat, "format", "f", "", "Audio format (mp3, ogg, flac, wav, m4a)")
	convertCmd.Flags().Float64Var(&tempoBPM, "tempo", 0, "Override the score tempo (BPM)")
	convertCmd.Flags().IntVar(&transpose, "transpose", 0, "Transpose by semitones")
	convertCmd.Flags().StringVar(&hand, "hand", "", "Sound one hand only: left (up to middle C) or right (above it)")
	convertCmd.Flags().StringVar(&monophonic, "monophonic", "", "Keep one note per onset: top, bottom, first or last")
	convertCmd.Flags().BoolVar(&loudnorm, "loudnorm", false, "Apply loudness normalization when encoding")
	convertCmd.Flags().BoolVar(&keepWav, "keep-wav", false, "Keep the intermediate WAV file")
	convertCmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the conversion cache")
	convertCmd.Flags().BoolVar(&play, "play", false, "Play the audio when done")
	convertCmd.Flags().StringVar(&playerCmd, "player", "", "Player command (default: afplay, xdg-open or start)")
	convertCmd.Flags().BoolVar(&noRasterize, "no-rasterize", false, "Pass PDFs straight to Audiveris instead of rasterizing pages")
	convertCmd.Flags().StringVar(&omrTimeout, "omr-timeout", "", "Audiveris timeout (e.g. 10m)")
	convertCmd.Flags().StringVar(&synthTimeout, "synth-timeout", "", "FluidSynth timeout (e.g. 5m)")
	convertCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :8080)")
	serveCmd.Flags().StringVar(&jobsDir, "jobs-dir", "", "Directory for job uploads and outputs (default: temp dir)")
	serveCmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "Conversions running at once")
}

// setup loads the config and initializes logging before any command runs
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &apperrors.ConfigError{Which: "config", Path: configPath, Reason: err.Error()}
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.Init(level, f)
	} else {
		log.Init(level, nil)
	}
	return nil
}

// pipelineConfig merges command-line flags over the loaded config
func pipelineConfig(cmd *cobra.Command) (pipeline.Config, error) {
	p, err := cfg.Pipeline()
	if err != nil {
		return p, &apperrors.ConfigError{Which: "config", Reason: err.Error()}
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}

	set("soundfont", func() { p.Soundfont = soundfont })
	set("audiveris", func() { p.AudiverisPath = audiveris })
	set("musescore", func() { p.MuseScorePath = musescore })
	set("fluidsynth", func() { p.FluidSynthPath = fluidsynth })
	set("ffmpeg", func() { p.FFmpegPath = ffmpeg })
	set("pdftoppm", func() { p.PdftoppmPath = pdftoppm })
	set("no-rasterize", func() {
		if noRasterize {
			p.PdftoppmPath = ""
		}
	})
	set("output", func() { p.OutputDir = outputDir })
	set("format", func() { p.AudioFormat = audioFormat })
	set("tempo", func() { p.TempoBPM = tempoBPM })
	set("transpose", func() { p.Transpose = transpose })
	set("loudnorm", func() { p.Loudnorm = loudnorm })
	set("keep-wav", func() { p.KeepWaveform = keepWav })
	set("no-cache", func() { p.UseCache = !noCache })

	for name, dst := range map[string]*string{"omr-timeout": &omrTimeout, "synth-timeout": &synthTimeout} {
		if f := flags.Lookup(name); f == nil || !f.Changed {
			continue
		}
		d, err := parseTimeout(*dst)
		if err != nil {
			return p, &apperrors.ConfigError{Which: name, Reason: err.Error()}
		}
		if name == "omr-timeout" {
			p.OMRTimeout = d
		} else {
			p.SynthTimeout = d
		}
	}

	if f := flags.Lookup("hand"); f != nil && f.Changed {
		h, err := score.ParseHand(hand)
		if err != nil {
			return p, &apperrors.ConfigError{Which: "hand", Reason: err.Error()}
		}
		p.Hand = h
	}
	if f := flags.Lookup("monophonic"); f != nil && f.Changed {
		v, err := score.ParseVoicing(monophonic)
		if err != nil {
			return p, &apperrors.ConfigError{Which: "monophonic", Reason: err.Error()}
		}
		p.Monophonic = v
	}
	return p, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	p, err := pipelineConfig(cmd)
	if err != nil {
		return err
	}
	p.InputPath = args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := pipeline.NewOrchestrator(nil, os.Stdout, verbose)
	if p.UseCache {
		c, err := cache.New(p.CacheDir)
		if err != nil {
			log.Warn("cache.unavailable", "error", err)
		} else {
			orch.WithCache(c)
		}
	}

	fmt.Println("TuneReader - sheet music to audio")
	fmt.Println()

	res, err := orch.ExecutePath(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\nInterrupted")
		}
		return err
	}

	fmt.Println()
	fmt.Printf("Done! Audio rendered successfully.\n")
	if res.Title != "" {
		fmt.Printf("Title:    %s\n", res.Title)
	}
	fmt.Printf("Audio:    %s\n", res.AudioPath)
	fmt.Printf("MIDI:     %s\n", res.MIDIPath)
	fmt.Printf("Run dir:  %s\n", res.RunDir)
	fmt.Printf("Length:   %.1fs\n", res.Duration)
	if res.Cached {
		fmt.Println("(from cache)")
	}
	fmt.Printf("Completed in %.1f seconds\n", res.Elapsed.Seconds())

	if play {
		player := cfg.Tools.Player
		if playerCmd != "" {
			player = playerCmd
		}
		if err := playback.New(nil, player).Play(ctx, res.AudioPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: playback failed: %v\n", err)
		}
	}
	return nil
}

// exitCode maps a failure to the process exit status
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *apperrors.ConfigError
	if errors.As(err, &ce) {
		return exitConfiguration
	}
	switch pipeline.FailedStage(err) {
	case apperrors.StageConfiguration:
		return exitConfiguration
	case apperrors.StageRecognition:
		return exitRecognition
	case apperrors.StageNormalization:
		return exitNormalization
	case apperrors.StageRendering:
		return exitRendering
	}
	return exitFailure
}
