package domain

// Job represents a job from the database for worker processing
type Job struct {
	JobID          string
	JobType        string
	StationID      string
	ArtifactName   string
	Payload        string // JSON encoded descriptor
	Status         string
	WorkerID       string
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
}

// CanRetry reports whether a failed attempt may be released back to the queue.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
