package models

// JobStatus is a pipeline job state. The job's top-level status always equals
// the name of the last appended stage.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusEnriching JobStatus = "enriching"
	JobStatusEnriched  JobStatus = "enriched"
	JobStatusMapping   JobStatus = "mapping"
	JobStatusMapped    JobStatus = "mapped"
	JobStatusPushing   JobStatus = "pushing"
	JobStatusPushed    JobStatus = "pushed"
	JobStatusError     JobStatus = "error"
	JobStatusSkipped   JobStatus = "skipped"
)

var JobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusEnriching,
	JobStatusEnriched,
	JobStatusMapping,
	JobStatusMapped,
	JobStatusPushing,
	JobStatusPushed,
	JobStatusError,
	JobStatusSkipped,
}

func ValidJobStatus(s JobStatus) bool {
	for _, v := range JobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// JobStage is one entry in a job's append-only stage trail.
type JobStage struct {
	Stage     JobStatus      `json:"stage" bson:"stage"`
	Timestamp string         `json:"timestamp" bson:"timestamp"`
	Data      map[string]any `json:"data,omitempty" bson:"data,omitempty"`
	Error     string         `json:"error,omitempty" bson:"error,omitempty"`
}

// PipelineJob tracks one product-sync attempt through the pipeline.
//
// The Error field is sticky: once set it survives later successful stages so
// the last failure reason stays inspectable after a retry.
type PipelineJob struct {
	JobID             string     `json:"job_id" bson:"job_id"`
	SourceWebhookFile string     `json:"source_webhook_file" bson:"source_webhook_file"`
	Topic             string     `json:"topic" bson:"topic"`
	ProductID         int64      `json:"product_id" bson:"product_id"`
	EventID           string     `json:"event_id" bson:"event_id"`
	CreatedAt         string     `json:"created_at" bson:"created_at"`
	Status            JobStatus  `json:"status" bson:"status"`
	Error             string     `json:"error,omitempty" bson:"error,omitempty"`
	Stages            []JobStage `json:"stages" bson:"stages"`
}

// Terminal reports whether the job has reached a final state.
func (j *PipelineJob) Terminal() bool {
	switch j.Status {
	case JobStatusPushed, JobStatusError, JobStatusSkipped:
		return true
	}
	return false
}
