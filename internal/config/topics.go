package config

const (
	// TopicFeature is the NSQ topic carrying feature lifecycle jobs.
	TopicFeature = "feature"

	// ChannelFeatureWorker is the NSQ channel the job worker consumes from.
	ChannelFeatureWorker = "feature-worker"
)

const (
	TransportMemory = "memory"
	TransportNSQ    = "nsq"
	TransportRedis  = "redis"
)
