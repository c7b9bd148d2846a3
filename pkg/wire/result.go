package wire

// ResultType is the closed set of event types a worker publishes. Routing
// switches over this type exhaustively; anything that does not parse maps
// to ResultUnknown and is dropped by the router.
type ResultType uint8

const (
	ResultUnknown ResultType = iota
	ResultTranslationCompleted
	ResultTranslationError
	ResultAudioProcessCompleted
	ResultAudioProcessError
	ResultTranscriptionCompleted
	ResultTranscriptionError
	ResultVoiceAPISuccess
	ResultVoiceAPIError
	ResultVoiceJobProgress
	ResultVoiceProfileAnalyze
	ResultVoiceProfileVerify
	ResultVoiceProfileCompare
	ResultVoiceProfileError
	ResultPong
)

var resultNames = map[ResultType]string{
	ResultTranslationCompleted:   "translation_completed",
	ResultTranslationError:       "translation_error",
	ResultAudioProcessCompleted:  "audio_process_completed",
	ResultAudioProcessError:      "audio_process_error",
	ResultTranscriptionCompleted: "transcription_completed",
	ResultTranscriptionError:     "transcription_error",
	ResultVoiceAPISuccess:        "voice_api_success",
	ResultVoiceAPIError:          "voice_api_error",
	ResultVoiceJobProgress:       "voice_job_progress",
	ResultVoiceProfileAnalyze:    "voice_profile_analyze_result",
	ResultVoiceProfileVerify:     "voice_profile_verify_result",
	ResultVoiceProfileCompare:    "voice_profile_compare_result",
	ResultVoiceProfileError:      "voice_profile_error",
	ResultPong:                   "pong",
}

var resultValues = func() map[string]ResultType {
	m := make(map[string]ResultType, len(resultNames))
	for t, s := range resultNames {
		m[s] = t
	}
	return m
}()

// ParseResultType maps a wire tag to its ResultType. Unrecognized tags map
// to ResultUnknown.
func ParseResultType(s string) ResultType { return resultValues[s] }

func (t ResultType) String() string {
	if s, ok := resultNames[t]; ok {
		return s
	}
	return "unknown"
}

// IsError reports whether t is an error event.
func (t ResultType) IsError() bool {
	switch t {
	case ResultTranslationError, ResultAudioProcessError, ResultTranscriptionError,
		ResultVoiceAPIError, ResultVoiceProfileError:
		return true
	}
	return false
}

// IsTerminal reports whether t resolves an outstanding task. Progress
// reports and pongs do not.
func (t ResultType) IsTerminal() bool {
	switch t {
	case ResultUnknown, ResultVoiceJobProgress, ResultPong:
		return false
	}
	return true
}

// Segment is a time-stamped transcript piece. SpeakerID is empty until
// diarization attributes the segment to a speaker.
type Segment struct {
	Text       string  `json:"text"`
	StartMs    int     `json:"startMs"`
	EndMs      int     `json:"endMs"`
	SpeakerID  string  `json:"speakerId,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// DurationMs returns the segment length in milliseconds.
func (s Segment) DurationMs() int { return s.EndMs - s.StartMs }

// Transcription is the per-attachment transcript document.
type Transcription struct {
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
}

// TranslatedAudio describes one synthesized translation of an attachment.
// A result is addressed by (attachmentId, targetLanguage) and is upserted
// idempotently: re-running a language replaces the prior entry.
type TranslatedAudio struct {
	TargetLanguage string  `json:"targetLanguage"`
	TranslatedText string  `json:"translatedText,omitempty"`
	AudioURL       string  `json:"audioUrl,omitempty"`
	AudioPath      string  `json:"audioPath,omitempty"`
	DurationMs     int     `json:"durationMs"`
	VoiceCloned    bool    `json:"voiceCloned"`
	VoiceQuality   float64 `json:"voiceQuality,omitempty"`
	AudioMimeType  string  `json:"audioMimeType,omitempty"`
	CreatedAt      int64   `json:"createdAt,omitempty"`
	DeletedAt      int64   `json:"deletedAt,omitempty"`
}

// ResultError is the common shape of every *_error event.
type ResultError struct {
	TaskID    string `json:"taskId"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode,omitempty"`
	Transient bool   `json:"transient,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Worker error codes carried in ResultError.ErrorCode.
const (
	ErrCodePipelineUnavailable = "pipeline_unavailable"
	ErrCodeProcessingFailed    = "processing_failed"
)

// AudioProcessResult is the payload of audio_process_completed.
type AudioProcessResult struct {
	TaskID            string            `json:"taskId"`
	MessageID         string            `json:"messageId,omitempty"`
	AttachmentID      string            `json:"attachmentId,omitempty"`
	Transcription     *Transcription    `json:"transcription,omitempty"`
	TranslatedAudios  []TranslatedAudio `json:"translatedAudios,omitempty"`
	VoiceModelUserID  string            `json:"voiceModelUserId,omitempty"`
	VoiceModelQuality float64           `json:"voiceModelQuality,omitempty"`
	NewVoiceProfile   *ProfileSummary   `json:"newVoiceProfile,omitempty"`
	ProcessingTimeMs  int               `json:"processingTimeMs,omitempty"`
	Timestamp         int64             `json:"timestamp,omitempty"`
}

// TranslationResult is the payload of translation_completed. One event is
// published per target language; TargetLanguage doubles as the dedup subkey.
type TranslationResult struct {
	TaskID         string `json:"taskId"`
	MessageID      string `json:"messageId,omitempty"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage"`
	TranslatedText string `json:"translatedText"`
	Skipped        bool   `json:"skipped,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// TranscriptionResult is the payload of transcription_completed.
type TranscriptionResult struct {
	TaskID        string         `json:"taskId"`
	MessageID     string         `json:"messageId,omitempty"`
	AttachmentID  string         `json:"attachmentId,omitempty"`
	Transcription *Transcription `json:"transcription,omitempty"`
	Diarization   any            `json:"diarization,omitempty"`
	Timestamp     int64          `json:"timestamp,omitempty"`
}

// VoiceProgress is the payload of voice_job_progress.
type VoiceProgress struct {
	TaskID  string  `json:"taskId"`
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
}

// VoiceAPIResult is the payload of voice_api_success. Synthesized audio
// travels in the SlotAudio binary frame.
type VoiceAPIResult struct {
	TaskID     string `json:"taskId"`
	DurationMs int    `json:"durationMs,omitempty"`
	Format     string `json:"format,omitempty"`
	AudioURL   string `json:"audioUrl,omitempty"`
}

// VoiceProfileAnalyzeResult is the payload of voice_profile_analyze_result.
type VoiceProfileAnalyzeResult struct {
	TaskID      string          `json:"taskId"`
	UserID      string          `json:"userId,omitempty"`
	Profile     *ProfileSummary `json:"profile,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
}

// VoiceProfileVerifyResult is the payload of voice_profile_verify_result.
type VoiceProfileVerifyResult struct {
	TaskID     string  `json:"taskId"`
	UserID     string  `json:"userId,omitempty"`
	Match      bool    `json:"match"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold,omitempty"`
}

// VoiceProfileCompareResult is the payload of voice_profile_compare_result.
type VoiceProfileCompareResult struct {
	TaskID     string  `json:"taskId"`
	Match      bool    `json:"match"`
	Similarity float64 `json:"similarity"`
}

// Pong is the payload of the liveness pong.
type Pong struct {
	TaskID string `json:"taskId"`
	SentAt int64  `json:"sentAt,omitempty"`
}

// ProfileSummary is the public shape of a stored voice profile.
type ProfileSummary struct {
	UserID          string  `json:"userId"`
	ProfileID       string  `json:"profileId"`
	QualityScore    float64 `json:"qualityScore"`
	AudioCount      int     `json:"audioCount"`
	TotalDurationMs int     `json:"totalDurationMs"`
	Version         int     `json:"version"`
	Fingerprint     string  `json:"fingerprint,omitempty"`
}
