package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"bluefly-sync/internal/models"
)

const (
	lockWait       = 5 * time.Second
	lockRetryDelay = 100 * time.Millisecond

	stampLayout = "20060102T150405Z"
	dayLayout   = "2006-01-02"
)

func isoNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

// fileStore holds the machinery shared by both file-backed logs: a
// date-partitioned directory tree of one JSON file per record, per-record
// .lock files with a bounded wait, and fsync before the lock is released.
type fileStore struct {
	dir string
}

func (s *fileStore) dayDir() (string, error) {
	day := filepath.Join(s.dir, time.Now().UTC().Format(dayLayout))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return "", err
	}
	return day, nil
}

// withLock runs fn while holding the record's advisory lock. Lock acquisition
// is bounded; timing out surfaces as ErrLockTimeout for the caller to retry.
func (s *fileStore) withLock(ctx context.Context, path string, fn func() error) error {
	lockPath := path + ".lock"
	lock := flock.New(lockPath)

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	ok, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !ok {
		return fmt.Errorf("%w: %s", ErrLockTimeout, path)
	}
	defer func() {
		lock.Unlock()
		os.Remove(lockPath)
	}()

	return fn()
}

// writeDurable writes the record and flushes it to stable storage before
// returning, so a crash after the write never leaves a half-written record
// visible to the next reader.
func writeDurable(path string, record any) error {
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func readRecord(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

// scan walks the record tree (optionally one day partition) oldest-first and
// calls visit for every parseable record. Corrupt or partial files are
// skipped so one bad record never poisons a whole sweep.
func (s *fileStore) scan(date string, visit func(path string, raw []byte)) error {
	pattern := filepath.Join(s.dir, "*", "*.json")
	if date != "" {
		pattern = filepath.Join(s.dir, date, "*.json")
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		visit(p, raw)
	}
	return nil
}

// FileWebhookLog is the file-backed webhook event log.
type FileWebhookLog struct {
	fileStore
}

func NewFileWebhookLog(dir string) (*FileWebhookLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileWebhookLog{fileStore{dir: dir}}, nil
}

// eventFilename encodes creation time, topic and a truncated event id so
// names are unique and sort chronologically.
func eventFilename(event *models.WebhookEvent) string {
	topic := strings.ReplaceAll(event.Topic, "/", "_")
	if topic == "" {
		topic = "unknown"
	}
	shortID := event.EventID
	if len(shortID) > 12 {
		shortID = shortID[:12]
	}
	if shortID == "" {
		shortID = "no-id"
	}
	shortID = strings.ReplaceAll(shortID, "/", "-")
	return fmt.Sprintf("%s_%s_%s.json", time.Now().UTC().Format(stampLayout), topic, shortID)
}

func (l *FileWebhookLog) Append(ctx context.Context, event *models.WebhookEvent) (string, error) {
	event.ReceivedAt = isoNow()
	if event.Timestamp == "" {
		event.Timestamp = event.ReceivedAt
	}
	if event.Status == "" {
		event.Status = models.EventStatusUnread
	}

	day, err := l.dayDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(day, eventFilename(event))

	err = l.withLock(ctx, path, func() error {
		return writeDurable(path, event)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (l *FileWebhookLog) Get(ctx context.Context, handle string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := readRecord(handle, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (l *FileWebhookLog) UpdateStatus(ctx context.Context, handle string, status models.EventStatus) (*models.WebhookEvent, error) {
	if !models.ValidEventStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var event models.WebhookEvent
	err := l.withLock(ctx, handle, func() error {
		if err := readRecord(handle, &event); err != nil {
			return err
		}
		event.Status = status
		event.StatusUpdatedAt = isoNow()
		return writeDurable(handle, &event)
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (l *FileWebhookLog) QueryByStatus(ctx context.Context, status models.EventStatus, date string) ([]StoredEvent, error) {
	if !models.ValidEventStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var results []StoredEvent
	err := l.scan(date, func(path string, raw []byte) {
		var event models.WebhookEvent
		if json.Unmarshal(raw, &event) != nil {
			return
		}
		if event.Status == status {
			results = append(results, StoredEvent{Handle: path, Event: &event})
		}
	})
	return results, err
}

// FileJobLog is the file-backed pipeline job log.
type FileJobLog struct {
	fileStore
}

func NewFileJobLog(dir string) (*FileJobLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileJobLog{fileStore{dir: dir}}, nil
}

func (l *FileJobLog) CreateJob(ctx context.Context, sourceFile, topic string, productID int64, eventID string) (string, error) {
	now := time.Now().UTC()
	jobID := fmt.Sprintf("%s_product_%d", now.Format(stampLayout), productID)

	job := &models.PipelineJob{
		JobID:             jobID,
		SourceWebhookFile: sourceFile,
		Topic:             topic,
		ProductID:         productID,
		EventID:           eventID,
		CreatedAt:         isoNow(),
		Status:            models.JobStatusQueued,
		Stages: []models.JobStage{{
			Stage:     models.JobStatusQueued,
			Timestamp: isoNow(),
		}},
	}

	day, err := l.dayDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(day, jobID+".json")

	err = l.withLock(ctx, path, func() error {
		return writeDurable(path, job)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (l *FileJobLog) Get(ctx context.Context, handle string) (*models.PipelineJob, error) {
	var job models.PipelineJob
	if err := readRecord(handle, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (l *FileJobLog) AppendStage(ctx context.Context, handle string, stage models.JobStatus, data map[string]any, errMsg string) (*models.PipelineJob, error) {
	if !models.ValidJobStatus(stage) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, stage)
	}

	var job models.PipelineJob
	err := l.withLock(ctx, handle, func() error {
		if err := readRecord(handle, &job); err != nil {
			return err
		}
		job.Status = stage
		job.Stages = append(job.Stages, models.JobStage{
			Stage:     stage,
			Timestamp: isoNow(),
			Data:      data,
			Error:     errMsg,
		})
		if errMsg != "" {
			job.Error = errMsg
		}
		return writeDurable(handle, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (l *FileJobLog) QueryByStatus(ctx context.Context, status models.JobStatus, date string) ([]StoredJob, error) {
	if !models.ValidJobStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var results []StoredJob
	err := l.scan(date, func(path string, raw []byte) {
		var job models.PipelineJob
		if json.Unmarshal(raw, &job) != nil {
			return
		}
		if job.Status == status {
			results = append(results, StoredJob{Handle: path, Job: &job})
		}
	})
	return results, err
}
