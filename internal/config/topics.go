package config

const (
	// TopicIngestTask is the NSQ topic for async ingestion tasks.
	TopicIngestTask = "ingest.task"

	// ChannelIngest is the consumer channel for the ingest worker.
	ChannelIngest = "backend"
)
