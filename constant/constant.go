package constant

import "strings"

type JobStatus string

const (
	JobStatusPending      JobStatus = "PENDING"
	JobStatusDownloading  JobStatus = "DOWNLOADING"
	JobStatusTranscribing JobStatus = "TRANSCRIBING"
	JobStatusAnalyzing    JobStatus = "ANALYZING"
	JobStatusClipping     JobStatus = "CLIPPING"
	JobStatusGenerating   JobStatus = "GENERATING"
	JobStatusCompleted    JobStatus = "COMPLETED"
	JobStatusFailed       JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

type JobKind string

const (
	JobKindExtract  JobKind = "EXTRACT"
	JobKindGenerate JobKind = "GENERATE"
)

// ParseJobKind accepts kinds case-insensitively. An empty value selects EXTRACT
// and the legacy CLIP name is kept as an alias of EXTRACT.
func ParseJobKind(raw string) (JobKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(JobKindExtract), "CLIP":
		return JobKindExtract, true
	case string(JobKindGenerate):
		return JobKindGenerate, true
	default:
		return "", false
	}
}

func (k JobKind) String() string {
	return string(k)
}

// DefaultIntent is used when a submission carries no instruction.
func (k JobKind) DefaultIntent() string {
	if k == JobKindGenerate {
		return "Generate a similar style video"
	}
	return "Find the most interesting and engaging moments"
}

type QueueDriver string

const (
	QueueDriverRabbitMQ QueueDriver = "rabbitmq"
	QueueDriverRedis    QueueDriver = "redis"
	QueueDriverMemory   QueueDriver = "memory"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
