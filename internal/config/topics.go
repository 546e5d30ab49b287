package config

const (
	// TopicIndexApply carries one per-document apply task (upsert or delete)
	// produced by a reindex pass.
	TopicIndexApply = "index.apply"
)
