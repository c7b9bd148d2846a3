package wire

// Request payloads, one per task type. The dispatcher validates these
// against generated JSON schemas before anything touches the transport.

// TranslationRequest asks for text-only translation into one or more
// target languages.
type TranslationRequest struct {
	MessageID       string   `json:"messageId"`
	ConversationID  string   `json:"conversationId,omitempty"`
	Text            string   `json:"text"`
	SourceLanguage  string   `json:"sourceLanguage,omitempty"`
	TargetLanguages []string `json:"targetLanguages"`
}

// CloningParams tunes the voice-clone synthesizer. GuidanceWeight keeps
// the historical cfgWeight wire name.
type CloningParams struct {
	Exaggeration      float64 `json:"exaggeration,omitempty"`
	GuidanceWeight    float64 `json:"cfgWeight,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	RepetitionPenalty float64 `json:"repetitionPenalty,omitempty"`
	MinP              float64 `json:"minP,omitempty"`
	TopP              float64 `json:"topP,omitempty"`
	AutoOptimize      bool    `json:"autoOptimize,omitempty"`
}

// ExistingProfile references a stored voice profile the worker may reuse
// for sender identification and voice assignment.
type ExistingProfile struct {
	ProfileID    string  `json:"profileId"`
	UserID       string  `json:"userId"`
	QualityScore float64 `json:"qualityScore,omitempty"`
}

// AudioProcessRequest is the full audio pipeline job: transcription,
// diarization, per-language translation and voice-cloned synthesis.
//
// Audio may arrive through the SlotAudio binary frame, AudioBase64,
// AudioURL or AudioPath; the worker tries them in that order.
type AudioProcessRequest struct {
	MessageID            string           `json:"messageId"`
	AttachmentID         string           `json:"attachmentId"`
	ConversationID       string           `json:"conversationId,omitempty"`
	SenderID             string           `json:"senderId,omitempty"`
	AudioURL             string           `json:"audioUrl,omitempty"`
	AudioPath            string           `json:"audioPath,omitempty"`
	AudioBase64          string           `json:"audioBase64,omitempty"`
	AudioDurationMs      int              `json:"audioDurationMs,omitempty"`
	MobileTranscription  *Transcription   `json:"mobileTranscription,omitempty"`
	TargetLanguages      []string         `json:"targetLanguages"`
	GenerateVoiceClone   bool             `json:"generateVoiceClone,omitempty"`
	ModelType            string           `json:"modelType,omitempty"`
	CloningParams        *CloningParams   `json:"cloningParams,omitempty"`
	ExistingVoiceProfile *ExistingProfile `json:"existingVoiceProfile,omitempty"`
	OriginalSenderID     string           `json:"originalSenderId,omitempty"`
	UseOriginalVoice     bool             `json:"useOriginalVoice,omitempty"`
	PreserveSilences     *bool            `json:"preserveSilences,omitempty"`
}

// TranscriptionOnlyRequest runs transcription and diarization without
// translation or synthesis.
type TranscriptionOnlyRequest struct {
	MessageID            string           `json:"messageId"`
	AttachmentID         string           `json:"attachmentId"`
	SenderID             string           `json:"senderId,omitempty"`
	AudioURL             string           `json:"audioUrl,omitempty"`
	AudioPath            string           `json:"audioPath,omitempty"`
	AudioBase64          string           `json:"audioBase64,omitempty"`
	MobileTranscription  *Transcription   `json:"mobileTranscription,omitempty"`
	ExistingVoiceProfile *ExistingProfile `json:"existingVoiceProfile,omitempty"`
}

// Voice profile operations.
const (
	VoiceProfileOpAnalyze = "analyze"
	VoiceProfileOpVerify  = "verify"
	VoiceProfileOpCompare = "compare"
)

// VoiceProfileRequest analyzes, verifies or compares voice fingerprints.
// Audio arrives in the SlotAudio frame; for compare, the second sample is
// in SlotVoiceProfile.
type VoiceProfileRequest struct {
	Op        string  `json:"op"`
	UserID    string  `json:"userId,omitempty"`
	ProfileID string  `json:"profileId,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// VoiceAPIRequest is a direct synthesis call.
type VoiceAPIRequest struct {
	Text          string         `json:"text"`
	Language      string         `json:"language,omitempty"`
	VoiceModelID  string         `json:"voiceModelId,omitempty"`
	Format        string         `json:"format,omitempty"`
	CloningParams *CloningParams `json:"cloningParams,omitempty"`
}

// PingRequest is the liveness probe payload.
type PingRequest struct {
	SentAt int64 `json:"sentAt,omitempty"`
}
