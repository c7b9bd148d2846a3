package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/isopen-io/meeshy-sub000/pkg/cli"
	"github.com/isopen-io/meeshy-sub000/pkg/dispatch"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

var (
	taskTimeout  time.Duration
	taskAudio    string
	taskSaveDir  string
	taskSavePath string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Push tasks to a worker and wait for results",
	Long: `Push a task to the worker's /push endpoint and wait on /subscribe
for the matching result events.

Request bodies are loaded from a YAML or JSON file with -f ("-" reads
stdin). Audio is attached as a binary frame with --audio; the worker
also accepts audioBase64, audioUrl and audioPath fields inside the
request body.`,
}

func init() {
	taskCmd.PersistentFlags().DurationVar(&taskTimeout, "timeout", 5*time.Minute, "how long to wait for results")

	taskAudioProcessCmd.Flags().StringVar(&taskAudio, "audio", "", "audio file to attach")
	taskAudioProcessCmd.Flags().StringVar(&taskSaveDir, "save-dir", "", "directory to write returned audio tracks to")
	taskTranscriptionCmd.Flags().StringVar(&taskAudio, "audio", "", "audio file to attach")
	taskVoiceAPICmd.Flags().StringVar(&taskSavePath, "save", "", "file to write synthesized audio to (default <taskId>.wav)")
	taskVoiceProfileCmd.Flags().StringVar(&taskAudio, "audio", "", "audio file to attach")
	taskVoiceProfileCmd.Flags().String("compare-audio", "", "second sample for the compare op")
	taskVoiceProfileCmd.Flags().String("user-id", "", "user the profile belongs to")
	taskVoiceProfileCmd.Flags().Float64("threshold", 0, "similarity threshold override")

	taskCmd.AddCommand(taskPingCmd)
	taskCmd.AddCommand(taskTranslationCmd)
	taskCmd.AddCommand(taskAudioProcessCmd)
	taskCmd.AddCommand(taskTranscriptionCmd)
	taskCmd.AddCommand(taskVoiceAPICmd)
	taskCmd.AddCommand(taskVoiceProfileCmd)
}

var taskPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe worker liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := getContext()
		if err != nil {
			return err
		}
		d, err := newDispatcher(cmd.Context(), ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		start := time.Now()
		if !d.HealthCheck(cmd.Context()) {
			return fmt.Errorf("worker did not answer the ping")
		}
		fmt.Printf("pong from worker: rtt=%s\n", cli.FormatDuration(int(time.Since(start).Milliseconds())))
		return nil
	},
}

var taskTranslationCmd = &cobra.Command{
	Use:   "translation",
	Short: "Translate a text message",
	Long: `Translate text into one or more target languages.

The worker publishes one translation_completed event per target
language; the command collects all of them before printing.

Request file:
  messageId: msg-1
  text: "Bonjour tout le monde"
  sourceLanguage: fr
  targetLanguages: [en, es]`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req wire.TranslationRequest
		if err := loadTaskRequest(&req); err != nil {
			return err
		}

		ctx, err := getContext()
		if err != nil {
			return err
		}
		d, err := newDispatcher(cmd.Context(), ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.SubmitTranslation(req)
		if err != nil {
			return err
		}
		printVerbose("task %s submitted", task.TaskID)

		var results []wire.TranslationResult
		err = awaitResult(cmd.Context(), task, taskTimeout, func(ev dispatch.Event) (bool, error) {
			res, ok := ev.Payload.(*wire.TranslationResult)
			if !ok {
				return false, nil
			}
			results = append(results, *res)
			return len(results) == len(req.TargetLanguages), nil
		})
		if err != nil {
			return err
		}
		return outputResult(results, getOutputFile(), isJSONOutput())
	},
}

var taskAudioProcessCmd = &cobra.Command{
	Use:   "audio",
	Short: "Run the full audio pipeline on an attachment",
	Long: `Transcribe, diarize, translate and re-voice one audio attachment.

Returned audio tracks are written to --save-dir when set; the JSON/YAML
result always includes their storage paths and URLs.

Request file:
  messageId: msg-1
  attachmentId: att-1
  senderId: user-7
  targetLanguages: [en]
  generateVoiceClone: true`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req wire.AudioProcessRequest
		if err := loadTaskRequest(&req); err != nil {
			return err
		}

		ctx, err := getContext()
		if err != nil {
			return err
		}
		d, err := newDispatcher(cmd.Context(), ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		var task *dispatch.PendingTask
		if taskAudio != "" {
			task, err = d.SubmitAudioProcessFile(req, taskAudio, "audio/wav")
		} else {
			task, err = d.SubmitAudioProcess(req, nil, "")
		}
		if err != nil {
			return err
		}
		printVerbose("task %s submitted", task.TaskID)

		var result wire.AudioProcessResult
		err = awaitResult(cmd.Context(), task, taskTimeout, func(ev dispatch.Event) (bool, error) {
			res, ok := ev.Payload.(*wire.AudioProcessResult)
			if !ok {
				return false, nil
			}
			result = *res
			if taskSaveDir != "" && ev.Envelope != nil {
				if err := saveAudioTracks(ev.Envelope, taskSaveDir, req.AttachmentID); err != nil {
					return false, err
				}
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		return outputResult(result, getOutputFile(), isJSONOutput())
	},
}

var taskTranscriptionCmd = &cobra.Command{
	Use:   "transcription",
	Short: "Transcribe and diarize an attachment",
	RunE: func(cmd *cobra.Command, args []string) error {
		var req wire.TranscriptionOnlyRequest
		if err := loadTaskRequest(&req); err != nil {
			return err
		}

		ctx, err := getContext()
		if err != nil {
			return err
		}
		d, err := newDispatcher(cmd.Context(), ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		audio, err := readOptionalAudio(taskAudio)
		if err != nil {
			return err
		}
		task, err := d.SubmitTranscription(req, audio, "audio/wav")
		if err != nil {
			return err
		}
		printVerbose("task %s submitted", task.TaskID)

		var result wire.TranscriptionResult
		err = awaitResult(cmd.Context(), task, taskTimeout, func(ev dispatch.Event) (bool, error) {
			res, ok := ev.Payload.(*wire.TranscriptionResult)
			if !ok {
				return false, nil
			}
			result = *res
			return true, nil
		})
		if err != nil {
			return err
		}
		return outputResult(result, getOutputFile(), isJSONOutput())
	},
}

var taskVoiceAPICmd = &cobra.Command{
	Use:   "voice-api",
	Short: "Synthesize text with a stored voice model",
	Long: `Direct synthesis with a registered voice model.

Progress events are printed as they arrive; the synthesized WAV is
written to --save (default <taskId>.wav).

Request file:
  text: "Hello there"
  language: en
  voiceModelId: voice_user-7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req wire.VoiceAPIRequest
		if err := loadTaskRequest(&req); err != nil {
			return err
		}

		ctx, err := getContext()
		if err != nil {
			return err
		}
		if req.VoiceModelID == "" {
			req.VoiceModelID = ctx.DefaultVoice
		}
		d, err := newDispatcher(cmd.Context(), ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.SubmitVoiceAPI(req)
		if err != nil {
			return err
		}
		printVerbose("task %s submitted", task.TaskID)

		savePath := taskSavePath
		if savePath == "" {
			savePath = task.TaskID + ".wav"
		}

		var result wire.VoiceAPIResult
		err = awaitResult(cmd.Context(), task, taskTimeout, func(ev dispatch.Event) (bool, error) {
			switch res := ev.Payload.(type) {
			case *wire.VoiceProgress:
				printVerbose("progress: %s %.0f%%", res.Stage, res.Percent)
				return false, nil
			case *wire.VoiceAPIResult:
				result = *res
				if ev.Envelope != nil {
					if frame := ev.Envelope.Frame(wire.SlotAudio); len(frame) > 0 {
						if err := cli.OutputBytes(frame, savePath); err != nil {
							return false, err
						}
						fmt.Fprintf(os.Stderr, "audio written to %s (%s)\n", savePath, cli.FormatBytesInt(len(frame)))
					}
				}
				return true, nil
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		return outputResult(result, getOutputFile(), isJSONOutput())
	},
}

var taskVoiceProfileCmd = &cobra.Command{
	Use:   "voice-profile <analyze|verify|compare>",
	Short: "Analyze, verify or compare voice fingerprints",
	Long: `Voice profile operations.

  analyze  extract a fingerprint from --audio; with --user-id the
           profile is stored
  verify   check --audio against the stored profile of --user-id
  compare  check --audio against --compare-audio directly`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{wire.VoiceProfileOpAnalyze, wire.VoiceProfileOpVerify, wire.VoiceProfileOpCompare},
	RunE: func(cmd *cobra.Command, args []string) error {
		op := args[0]
		userID, _ := cmd.Flags().GetString("user-id")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		compareAudio, _ := cmd.Flags().GetString("compare-audio")

		if taskAudio == "" {
			return fmt.Errorf("--audio is required")
		}
		if op == wire.VoiceProfileOpVerify && userID == "" {
			return fmt.Errorf("--user-id is required for verify")
		}
		if op == wire.VoiceProfileOpCompare && compareAudio == "" {
			return fmt.Errorf("--compare-audio is required for compare")
		}

		audio, err := os.ReadFile(taskAudio)
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		var reference []byte
		if compareAudio != "" {
			reference, err = os.ReadFile(compareAudio)
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}
		}

		ctx, err := getContext()
		if err != nil {
			return err
		}
		d, err := newDispatcher(cmd.Context(), ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.SubmitVoiceProfile(wire.VoiceProfileRequest{
			Op:        op,
			UserID:    userID,
			Threshold: threshold,
		}, audio, reference)
		if err != nil {
			return err
		}
		printVerbose("task %s submitted", task.TaskID)

		var result any
		err = awaitResult(cmd.Context(), task, taskTimeout, func(ev dispatch.Event) (bool, error) {
			switch ev.Type {
			case wire.ResultVoiceProfileAnalyze, wire.ResultVoiceProfileVerify, wire.ResultVoiceProfileCompare:
				result = ev.Payload
				return true, nil
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		return outputResult(result, getOutputFile(), isJSONOutput())
	},
}

// loadTaskRequest fills v from the -f file, or stdin when the path is "-".
func loadTaskRequest(v any) error {
	path := getInputFile()
	if path == "" {
		return fmt.Errorf("request file required, use -f <file> or -f -")
	}
	if path == "-" {
		return cli.LoadRequestFromStdin(v)
	}
	return cli.LoadRequest(path, v)
}

func readOptionalAudio(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}

// saveAudioTracks writes every audio_<lang> frame of a result envelope to
// dir as <attachmentID>_<lang>.wav.
func saveAudioTracks(env *wire.Envelope, dir, attachmentID string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for slot := range env.Index {
		lang, ok := strings.CutPrefix(slot, "audio_")
		if !ok {
			continue
		}
		frame := env.Frame(slot)
		if len(frame) == 0 {
			continue
		}
		path := filepath.Join(dir, attachmentID+"_"+lang+".wav")
		if err := os.WriteFile(path, frame, 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "audio track written to %s (%s)\n", path, cli.FormatBytesInt(len(frame)))
	}
	return nil
}
