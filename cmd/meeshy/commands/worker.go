package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/isopen-io/meeshy-sub000/pkg/cli"
	"github.com/isopen-io/meeshy-sub000/pkg/docstore"
	"github.com/isopen-io/meeshy-sub000/pkg/kv"
	"github.com/isopen-io/meeshy-sub000/pkg/pipeline/synth"
	"github.com/isopen-io/meeshy-sub000/pkg/profile"
	"github.com/isopen-io/meeshy-sub000/pkg/storage"
	"github.com/isopen-io/meeshy-sub000/pkg/transcribe"
	"github.com/isopen-io/meeshy-sub000/pkg/translate"
	"github.com/isopen-io/meeshy-sub000/pkg/worker"
)

var (
	workerAddr       string
	workerCount      int
	workerDataDir    string
	workerMediaDir   string
	workerSampleRate int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the worker daemon",
	Long: `Run the worker daemon.

The daemon serves two websocket endpoints:
  /push       dispatchers push task envelopes here
  /subscribe  result events fan out to every subscriber

Backends (translation, transcription, voice engine, artifact storage)
come from the active context. A missing backend does not prevent
startup; tasks that need it fail with a transient pipeline_unavailable
error so the dispatcher can retry elsewhere.

S3 credentials are read from the standard AWS environment variables.

Example:
  meeshy -c local worker --addr :8790 --workers 8`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerAddr, "addr", ":8790", "listen address")
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "worker pool size (default 4)")
	workerCmd.Flags().StringVar(&workerDataDir, "data-dir", "", "badger database directory (default <config dir>/data)")
	workerCmd.Flags().StringVar(&workerMediaDir, "media-dir", "", "local media directory override")
	workerCmd.Flags().IntVar(&workerSampleRate, "sample-rate", 0, "synthesis output sample rate (default 24000)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, err := getContext()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dataDir := workerDataDir
	if dataDir == "" {
		dataDir = filepath.Join(getConfig().Dir(), "data")
	}
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: dataDir, Logger: logger})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	artifacts, err := buildArtifacts(ctx, logger)
	if err != nil {
		return err
	}

	pcfg := worker.PipelineConfig{
		Profiles:   profile.NewStore(store),
		Docs:       docstore.NewStore(store),
		Artifacts:  artifacts,
		SampleRate: workerSampleRate,
		Logger:     logger,
	}

	if tc := ctx.Translate; tc != nil {
		switch tc.Provider {
		case "openai":
			pcfg.Translator = translate.NewOpenAI(translate.OpenAIConfig{
				APIKey:  tc.APIKey,
				BaseURL: tc.BaseURL,
				Model:   tc.Model,
			})
		case "gemini":
			g, err := translate.NewGemini(cmd.Context(), translate.GeminiConfig{
				APIKey: tc.APIKey,
				Model:  tc.Model,
			})
			if err != nil {
				return err
			}
			pcfg.Translator = g
		default:
			return fmt.Errorf("unknown translate provider %q", tc.Provider)
		}
	} else {
		logger.Warn("no translate backend configured, translation tasks will fail as transient")
	}

	if wc := transcribeCredentials(ctx); wc != nil {
		pcfg.Transcriber = transcribe.NewWhisper(transcribe.WhisperConfig{
			APIKey:  wc.APIKey,
			BaseURL: wc.BaseURL,
			Model:   wc.Model,
		})
	} else {
		logger.Warn("no transcription backend configured, relying on mobile transcripts")
	}

	if vc := ctx.Voice; vc != nil {
		engine, err := synth.NewHTTPEngine(synth.HTTPEngineConfig{
			BaseURL: vc.BaseURL,
			APIKey:  vc.APIKey,
		})
		if err != nil {
			return err
		}
		pcfg.Engine = engine
	} else {
		logger.Warn("no voice engine configured, synthesis tasks will fail as transient")
	}

	srv := worker.NewServer(worker.Config{
		Addr:    workerAddr,
		Workers: workerCount,
		Logger:  logger,
	})
	worker.NewPipeline(pcfg).Register(srv)

	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	if err := srv.Close(); err != nil {
		return err
	}
	stats := srv.Stats()
	for t, n := range stats.Processed {
		logger.Info("processed", "type", t, "count", n)
	}
	for t, n := range stats.Failed {
		logger.Info("failed", "type", t, "count", n)
	}
	return nil
}

// transcribeCredentials resolves the speech-to-text credentials, falling
// back to the openai translate key when no dedicated section is set.
func transcribeCredentials(ctx *cli.Context) *cli.TranscribeCredentials {
	if ctx.Transcribe != nil && ctx.Transcribe.APIKey != "" {
		return ctx.Transcribe
	}
	if ctx.Translate != nil && ctx.Translate.Provider == "openai" && ctx.Translate.APIKey != "" {
		return &cli.TranscribeCredentials{
			APIKey:  ctx.Translate.APIKey,
			BaseURL: ctx.Translate.BaseURL,
		}
	}
	return nil
}

// buildArtifacts selects the artifact store from the context: an explicit
// --media-dir, the context's local dir, an S3 bucket, or a directory under
// the config dir as the fallback.
func buildArtifacts(ctx *cli.Context, logger *slog.Logger) (*storage.Artifacts, error) {
	var (
		sc      = ctx.Storage
		baseURL string
	)
	if sc != nil {
		baseURL = sc.BaseURL
	}

	dir := workerMediaDir
	if dir == "" && sc != nil {
		dir = sc.Dir
	}
	if dir != "" {
		local, err := storage.NewLocal(dir)
		if err != nil {
			return nil, fmt.Errorf("open media dir: %w", err)
		}
		return storage.NewArtifacts(local, baseURL), nil
	}

	if sc != nil && sc.Bucket != "" {
		client := s3.New(s3.Options{
			Region: sc.Region,
			Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
					SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
					SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				}, nil
			}),
		})
		return storage.NewArtifacts(storage.NewS3(client, sc.Bucket, ""), baseURL), nil
	}

	dir = filepath.Join(os.TempDir(), "meeshy-media")
	logger.Warn("no artifact storage configured, using temp dir", "dir", dir)
	local, err := storage.NewLocal(dir)
	if err != nil {
		return nil, fmt.Errorf("open media dir: %w", err)
	}
	return storage.NewArtifacts(local, baseURL), nil
}
