// Package wire defines the task envelope, the result event union, and the
// multipart binary codec shared by the dispatcher and the worker.
//
// A transport message is one JSON header frame optionally followed by raw
// binary frames. The header carries a frame-index map (slot name → frame
// index, size, mime type) so the receiving side reassembles logical fields
// without positional assumptions. Frame indices are 1-based: index 1 is the
// first frame after the header.
package wire

import (
	"encoding/json"
	"fmt"
)

// TaskType identifies a job kind carried by an envelope.
type TaskType string

const (
	TaskPing              TaskType = "ping"
	TaskTranslation       TaskType = "translation"
	TaskAudioProcess      TaskType = "audio_process"
	TaskTranscriptionOnly TaskType = "transcription_only"
	TaskVoiceAPI          TaskType = "voice_api"
	TaskVoiceProfile      TaskType = "voice_profile"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskPing, TaskTranslation, TaskAudioProcess,
		TaskTranscriptionOnly, TaskVoiceAPI, TaskVoiceProfile:
		return true
	}
	return false
}

// Well-known binary frame slots.
const (
	SlotAudio        = "audio"
	SlotEmbedding    = "embedding"
	SlotVoiceProfile = "voiceProfile"
)

// SlotAudioLang returns the slot name for a synthesized audio track in the
// given target language, e.g. "audio_fr".
func SlotAudioLang(lang string) string { return "audio_" + lang }

// FrameRef locates one logical field inside the physical frame list.
type FrameRef struct {
	Index    int    `json:"index"`
	Size     int    `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
}

// FrameIndex maps slot names to physical frames.
type FrameIndex map[string]FrameRef

// Envelope is a single task or result message.
//
// Header is the raw JSON of frame 0 minus nothing: it still contains the
// type, taskId and binaryFrames keys alongside the job-specific fields.
// Frames holds the binary frames in physical order (Frames[0] has wire
// index 1).
type Envelope struct {
	Type   TaskType
	TaskID string
	Header json.RawMessage
	Index  FrameIndex
	Frames [][]byte
}

// envelopeHead is the subset of header fields the transport itself reads.
type envelopeHead struct {
	Type         TaskType   `json:"type"`
	TaskID       string     `json:"taskId"`
	BinaryFrames FrameIndex `json:"binaryFrames,omitempty"`
}

// NewEnvelope builds an envelope from a job payload struct. The payload is
// marshaled to JSON and the type, taskId and binaryFrames keys are merged
// into the resulting object. An empty taskID adopts the payload's own
// taskId field rather than blanking it.
func NewEnvelope(typ TaskType, taskID string, payload any, frames ...[]byte) (*Envelope, error) {
	body := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("wire: payload must be a JSON object: %w", err)
		}
	}
	if taskID == "" {
		if id, ok := body["taskId"].(string); ok {
			taskID = id
		}
	}
	env := &Envelope{Type: typ, TaskID: taskID, Frames: frames}
	body["type"] = string(typ)
	body["taskId"] = taskID
	if len(frames) > 0 {
		delete(body, "binaryFrames")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal header: %w", err)
	}
	env.Header = raw
	return env, nil
}

// AttachFrame appends a binary frame and records it in the index under the
// given slot.
func (e *Envelope) AttachFrame(slot string, data []byte, mimeType string) {
	e.Frames = append(e.Frames, data)
	if e.Index == nil {
		e.Index = FrameIndex{}
	}
	e.Index[slot] = FrameRef{Index: len(e.Frames), Size: len(data), MimeType: mimeType}
}

// Frame returns the binary frame registered under slot, or nil if the slot
// is absent or its index is out of range.
func (e *Envelope) Frame(slot string) []byte {
	ref, ok := e.Index[slot]
	if !ok || ref.Index < 1 || ref.Index > len(e.Frames) {
		return nil
	}
	return e.Frames[ref.Index-1]
}

// DecodePayload unmarshals the header JSON into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Header, v); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// finalizeHeader rewrites the header so the embedded type, taskId and
// binaryFrames keys match the envelope state. Called by the codec before
// writing frame 0.
func (e *Envelope) finalizeHeader() ([]byte, error) {
	body := map[string]any{}
	if len(e.Header) > 0 {
		if err := json.Unmarshal(e.Header, &body); err != nil {
			return nil, fmt.Errorf("wire: header is not a JSON object: %w", err)
		}
	}
	body["type"] = string(e.Type)
	body["taskId"] = e.TaskID
	if len(e.Index) > 0 {
		body["binaryFrames"] = e.Index
	} else {
		delete(body, "binaryFrames")
	}
	return json.Marshal(body)
}

// parseHeader extracts the transport-level fields from frame 0.
func (e *Envelope) parseHeader(raw []byte) error {
	var head envelopeHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("wire: parse header: %w", err)
	}
	e.Header = raw
	e.Type = head.Type
	e.TaskID = head.TaskID
	e.Index = head.BinaryFrames
	return nil
}
