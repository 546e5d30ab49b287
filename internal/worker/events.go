package worker

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// ApplyTask is the payload published per document by a reindex pass and
// consumed by the ApplyConsumer.
type ApplyTask struct {
	Op            string `json:"op"`
	Path          string `json:"path"`
	Technology    string `json:"technology"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
