package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/logging"
	"github.com/Sternrassler/socrata-ingest/pkg/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for uploads.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_uploads_total",
		Help: "Total artifact uploads by status",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_upload_bytes_total",
		Help: "Total bytes uploaded to the object store",
	})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_upload_duration_seconds",
		Help:    "Artifact upload duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// csvContentType is sent with every uploaded artifact.
const csvContentType = "text/csv; charset=utf-8"

// Directory is a handle to a directory inside a bucket.
type Directory struct {
	Bucket string

	// Path is the key prefix, e.g. "Crime2019_to_Present".
	Path string
}

// Key returns the object key of name inside d.
func (d Directory) Key(name string) string {
	return joinKey(d.Path, name)
}

// String returns "bucket/path".
func (d Directory) String() string {
	return joinKey(d.Bucket, d.Path)
}

// Uploader puts CSV artifacts into an object store.
type Uploader struct {
	store  ObjectStore
	logger zerolog.Logger
}

// NewUploader creates an uploader on store.
func NewUploader(store ObjectStore) *Uploader {
	return &Uploader{
		store:  store,
		logger: logging.NewLogger("storage"),
	}
}

// EnsureDirectory makes sure the bucket behind dir exists, creating it if
// needed. Directories inside a bucket need no creation.
func (u *Uploader) EnsureDirectory(ctx context.Context, dir Directory) error {
	if err := u.store.EnsureBucket(ctx, dir.Bucket); err != nil {
		u.logger.Error().Err(err).Str("bucket", dir.Bucket).Msg("Failed to prepare bucket")
		return fmt.Errorf("ensure directory %s: %w", dir, err)
	}
	return nil
}

// Upload serializes t as CSV and writes it to dir as remoteName, adding
// the .csv suffix when missing. An existing object is overwritten. The
// returned string is the object key. Failures are not retried.
func (u *Uploader) Upload(ctx context.Context, dir Directory, t *table.Table, remoteName string) (string, error) {
	if strings.TrimSpace(remoteName) == "" {
		return "", wrapError(CodeWriteFailed, false, fmt.Errorf("remote name is required"))
	}
	if !strings.HasSuffix(remoteName, csvExt) {
		remoteName += csvExt
	}
	key := dir.Key(remoteName)

	data, err := t.MarshalCSV()
	if err != nil {
		uploadsTotal.WithLabelValues("failure").Inc()
		return "", wrapError(CodeWriteFailed, false, fmt.Errorf("encode csv: %w", err))
	}

	start := time.Now()
	err = u.store.PutObject(ctx, dir.Bucket, key, data, csvContentType)
	uploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		uploadsTotal.WithLabelValues("failure").Inc()
		u.logger.Error().
			Err(err).
			Str("bucket", dir.Bucket).
			Str("key", key).
			Msg("Upload failed")
		return "", fmt.Errorf("upload %s/%s: %w", dir.Bucket, key, err)
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(len(data)))

	u.logger.Info().
		Str("bucket", dir.Bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Artifact uploaded")

	return key, nil
}
