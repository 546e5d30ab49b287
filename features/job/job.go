package job

import (
	"encoding/json"
	"time"
)

// Job is a dead-lettered apply task: an index mutation that exhausted its
// retries and waits for a manual re-publish.
type Job struct {
	ID           string          `json:"id"`
	DocumentPath string          `json:"document_path"`
	Topic        string          `json:"topic"`
	Payload      json.RawMessage `json:"payload"`
	Error        string          `json:"error"`
	Retries      int             `json:"retries"`
	CreatedAt    time.Time       `json:"created_at"`
}
