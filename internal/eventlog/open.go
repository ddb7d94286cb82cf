package eventlog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Backends selectable through configuration.
const (
	BackendFile  = "file"
	BackendMongo = "mongo"
)

// OpenStores builds the webhook and job stores for the configured backend.
// The returned closer is a no-op for the file backend.
func OpenStores(ctx context.Context, backend, logDir, pipelineLogDir, mongoURI, mongoDatabase string, logger *zap.Logger) (WebhookStore, JobStore, func(context.Context) error, error) {
	switch backend {
	case BackendFile, "":
		webhooks, err := NewFileWebhookLog(logDir)
		if err != nil {
			return nil, nil, nil, err
		}
		jobs, err := NewFileJobLog(pipelineLogDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return webhooks, jobs, func(context.Context) error { return nil }, nil

	case BackendMongo:
		logs, err := NewMongoLogs(ctx, mongoURI, mongoDatabase, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return logs.Webhooks(), logs.Jobs(), logs.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("eventlog: unknown backend %q", backend)
	}
}
