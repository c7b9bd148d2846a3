package wire

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Request schemas are generated from the request structs once and reused.
// Fields without omitempty are required; envelope-level keys (type, taskId,
// binaryFrames) ride alongside the job fields and are allowed through.

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    map[TaskType]*jsonschema.Resolved
)

func buildSchemas() {
	schemas = make(map[TaskType]*jsonschema.Resolved)
	add := func(typ TaskType, s *jsonschema.Schema, err error) {
		if schemaErr != nil {
			return
		}
		if err != nil {
			schemaErr = fmt.Errorf("wire: build %s schema: %w", typ, err)
			return
		}
		// The header carries transport keys on top of the job payload.
		s.AdditionalProperties = nil
		resolved, err := s.Resolve(nil)
		if err != nil {
			schemaErr = fmt.Errorf("wire: resolve %s schema: %w", typ, err)
			return
		}
		schemas[typ] = resolved
	}

	s, err := jsonschema.For[TranslationRequest](nil)
	add(TaskTranslation, s, err)
	s, err = jsonschema.For[AudioProcessRequest](nil)
	add(TaskAudioProcess, s, err)
	s, err = jsonschema.For[TranscriptionOnlyRequest](nil)
	add(TaskTranscriptionOnly, s, err)
	s, err = jsonschema.For[VoiceProfileRequest](nil)
	add(TaskVoiceProfile, s, err)
	s, err = jsonschema.For[VoiceAPIRequest](nil)
	add(TaskVoiceAPI, s, err)
	s, err = jsonschema.For[PingRequest](nil)
	add(TaskPing, s, err)
}

// ValidateEnvelope checks the envelope header against the schema for its
// task type. It also verifies that every frame-index entry points inside
// the physical frame list.
func ValidateEnvelope(env *Envelope) error {
	if !env.Type.Valid() {
		return fmt.Errorf("wire: unknown task type %q", env.Type)
	}
	if env.TaskID == "" {
		return fmt.Errorf("wire: missing task id")
	}
	for slot, ref := range env.Index {
		if ref.Index < 1 || ref.Index > len(env.Frames) {
			return fmt.Errorf("wire: frame slot %q references frame %d of %d", slot, ref.Index, len(env.Frames))
		}
	}

	schemaOnce.Do(buildSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	resolved, ok := schemas[env.Type]
	if !ok {
		return nil
	}
	var instance any
	if err := json.Unmarshal(env.Header, &instance); err != nil {
		return fmt.Errorf("wire: header is not valid JSON: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("wire: %s payload: %w", env.Type, err)
	}
	return nil
}
