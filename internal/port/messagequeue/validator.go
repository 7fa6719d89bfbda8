package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectMemoryExtract:
		var job ExtractionJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if job.UserID == "" || job.ConversationID == "" {
			return fmt.Errorf("extraction job on %s missing user_id or conversation_id", subject)
		}
	case SubjectConversationTitle:
		var job TitleJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if job.ConversationID == "" {
			return fmt.Errorf("title job on %s missing conversation_id", subject)
		}
	}
	return nil
}
