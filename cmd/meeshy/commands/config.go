package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/isopen-io/meeshy-sub000/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

Contexts allow you to manage multiple environments (a local worker, a
staging deployment, production), similar to kubectl's context management.

Configuration is stored in ~/.meeshy/meeshy/config.yaml`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name.

A context bundles everything one environment needs:
  - Worker endpoints (push/subscribe websocket URLs)
  - Translation backend credentials (openai or gemini)
  - Voice engine credentials (clone TTS service)
  - Transcription credentials (optional, reuses the openai key)
  - Artifact storage (local directory or S3 bucket)

Example:
  # Local development: everything on one machine
  meeshy config add-context local \
    --push-url ws://localhost:8790/push \
    --subscribe-url ws://localhost:8790/subscribe \
    --translate-provider openai --translate-api-key $OPENAI_API_KEY \
    --voice-url http://localhost:8004 \
    --storage-dir ~/.meeshy/media

  # Production: S3 artifacts, gemini translation
  meeshy config add-context prod \
    --push-url wss://worker.example.com/push \
    --translate-provider gemini --translate-api-key $GEMINI_API_KEY \
    --voice-url https://tts.example.com --voice-api-key $TTS_KEY \
    --bucket meeshy-media --region eu-west-1 \
    --media-base-url https://media.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		pushURL, _ := cmd.Flags().GetString("push-url")
		subscribeURL, _ := cmd.Flags().GetString("subscribe-url")
		provider, _ := cmd.Flags().GetString("translate-provider")
		translateKey, _ := cmd.Flags().GetString("translate-api-key")
		translateModel, _ := cmd.Flags().GetString("translate-model")
		translateURL, _ := cmd.Flags().GetString("translate-base-url")
		voiceURL, _ := cmd.Flags().GetString("voice-url")
		voiceKey, _ := cmd.Flags().GetString("voice-api-key")
		whisperKey, _ := cmd.Flags().GetString("whisper-api-key")
		whisperURL, _ := cmd.Flags().GetString("whisper-base-url")
		storageDir, _ := cmd.Flags().GetString("storage-dir")
		bucket, _ := cmd.Flags().GetString("bucket")
		region, _ := cmd.Flags().GetString("region")
		mediaBaseURL, _ := cmd.Flags().GetString("media-base-url")
		defaultVoice, _ := cmd.Flags().GetString("default-voice")

		ctx := &cli.Context{DefaultVoice: defaultVoice}

		if pushURL != "" {
			ctx.Worker = &cli.WorkerEndpoint{
				PushURL:      pushURL,
				SubscribeURL: subscribeURL,
			}
		}
		if provider != "" || translateKey != "" {
			if provider == "" {
				return fmt.Errorf("--translate-provider is required when --translate-api-key is set")
			}
			if provider != "openai" && provider != "gemini" {
				return fmt.Errorf("unknown translate provider %q (want openai or gemini)", provider)
			}
			ctx.Translate = &cli.TranslateCredentials{
				Provider: provider,
				APIKey:   translateKey,
				Model:    translateModel,
				BaseURL:  translateURL,
			}
		}
		if voiceURL != "" {
			ctx.Voice = &cli.VoiceCredentials{
				BaseURL: voiceURL,
				APIKey:  voiceKey,
			}
		}
		if whisperKey != "" || whisperURL != "" {
			ctx.Transcribe = &cli.TranscribeCredentials{
				APIKey:  whisperKey,
				BaseURL: whisperURL,
			}
		}
		if storageDir != "" || bucket != "" {
			ctx.Storage = &cli.StorageConfig{
				Dir:     storageDir,
				Bucket:  bucket,
				Region:  region,
				BaseURL: mediaBaseURL,
			}
		}

		cfg := getConfig()
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg := getConfig()
		if err := cfg.DeleteContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q deleted", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg := getConfig()
		if err := cfg.UseContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Switched to context %q", name)
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context",
	Short: "Display the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}

		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		if len(cfg.Contexts) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tWORKER\tTRANSLATE\tVOICE\tSTORAGE")

		for name, ctx := range cfg.Contexts {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			worker := "✗"
			if ctx.Worker != nil && ctx.Worker.PushURL != "" {
				worker = "✓"
			}
			trans := "✗"
			if ctx.Translate != nil && ctx.Translate.Provider != "" {
				trans = ctx.Translate.Provider
			}
			voice := "✗"
			if ctx.Voice != nil && ctx.Voice.BaseURL != "" {
				voice = "✓"
			}
			storage := "✗"
			switch {
			case ctx.Storage == nil:
			case ctx.Storage.Dir != "":
				storage = "local"
			case ctx.Storage.Bucket != "":
				storage = "s3"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", current, name, worker, trans, voice, storage)
		}

		w.Flush()
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("Current context: %s\n", cfg.CurrentContext)
		fmt.Printf("Contexts: %d\n", len(cfg.Contexts))

		if len(cfg.Contexts) > 0 {
			fmt.Println("\nContext details:")
			for name, ctx := range cfg.Contexts {
				fmt.Printf("\n  %s:\n", name)

				if ctx.Worker != nil {
					fmt.Println("    Worker:")
					fmt.Printf("      Push URL: %s\n", ctx.Worker.PushURL)
					if ctx.Worker.SubscribeURL != "" {
						fmt.Printf("      Subscribe URL: %s\n", ctx.Worker.SubscribeURL)
					}
				}
				if ctx.Translate != nil {
					fmt.Println("    Translate:")
					fmt.Printf("      Provider: %s\n", ctx.Translate.Provider)
					fmt.Printf("      API Key: %s\n", cli.MaskAPIKey(ctx.Translate.APIKey))
					if ctx.Translate.Model != "" {
						fmt.Printf("      Model: %s\n", ctx.Translate.Model)
					}
				}
				if ctx.Voice != nil {
					fmt.Println("    Voice:")
					fmt.Printf("      Base URL: %s\n", ctx.Voice.BaseURL)
					if ctx.Voice.APIKey != "" {
						fmt.Printf("      API Key: %s\n", cli.MaskAPIKey(ctx.Voice.APIKey))
					}
				}
				if ctx.Transcribe != nil {
					fmt.Println("    Transcribe:")
					fmt.Printf("      API Key: %s\n", cli.MaskAPIKey(ctx.Transcribe.APIKey))
					if ctx.Transcribe.BaseURL != "" {
						fmt.Printf("      Base URL: %s\n", ctx.Transcribe.BaseURL)
					}
				}
				if ctx.Storage != nil {
					fmt.Println("    Storage:")
					if ctx.Storage.Dir != "" {
						fmt.Printf("      Dir: %s\n", ctx.Storage.Dir)
					}
					if ctx.Storage.Bucket != "" {
						fmt.Printf("      Bucket: %s (%s)\n", ctx.Storage.Bucket, ctx.Storage.Region)
					}
					if ctx.Storage.BaseURL != "" {
						fmt.Printf("      Media Base URL: %s\n", ctx.Storage.BaseURL)
					}
				}
				if ctx.DefaultVoice != "" {
					fmt.Printf("    Default Voice: %s\n", ctx.DefaultVoice)
				}
			}
		}

		return nil
	},
}

func init() {
	configAddContextCmd.Flags().String("push-url", "", "Worker push websocket URL")
	configAddContextCmd.Flags().String("subscribe-url", "", "Worker subscribe websocket URL")
	configAddContextCmd.Flags().String("translate-provider", "", "Translation provider (openai or gemini)")
	configAddContextCmd.Flags().String("translate-api-key", "", "Translation API key")
	configAddContextCmd.Flags().String("translate-model", "", "Translation model override")
	configAddContextCmd.Flags().String("translate-base-url", "", "Translation endpoint override")
	configAddContextCmd.Flags().String("voice-url", "", "Voice engine base URL")
	configAddContextCmd.Flags().String("voice-api-key", "", "Voice engine API key")
	configAddContextCmd.Flags().String("whisper-api-key", "", "Transcription API key (defaults to the openai translate key)")
	configAddContextCmd.Flags().String("whisper-base-url", "", "Transcription endpoint override")
	configAddContextCmd.Flags().String("storage-dir", "", "Local artifact directory")
	configAddContextCmd.Flags().String("bucket", "", "S3 bucket for artifacts")
	configAddContextCmd.Flags().String("region", "", "S3 region")
	configAddContextCmd.Flags().String("media-base-url", "", "Public base URL for artifact links")
	configAddContextCmd.Flags().String("default-voice", "", "Default voice model for direct synthesis")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
