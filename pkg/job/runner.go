package job

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/logging"
	"github.com/Sternrassler/socrata-ingest/pkg/pagination"
	"github.com/Sternrassler/socrata-ingest/pkg/storage"
	"github.com/Sternrassler/socrata-ingest/pkg/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for job runs.
var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_jobs_total",
		Help: "Total job runs by job and status",
	}, []string{"job", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_job_duration_seconds",
		Help:    "Job run duration in seconds",
		Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
	}, []string{"job"})

	jobRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingest_job_rows",
		Help: "Rows ingested by the last successful run",
	}, []string{"job"})
)

// headRows is how many rows are logged at debug level after a fetch.
const headRows = 5

// Fetcher retrieves a whole dataset.
type Fetcher interface {
	Fetch(ctx context.Context, req pagination.DatasetRequest) (*table.Table, error)
}

// Persister stores a table locally and returns the re-read copy.
type Persister interface {
	Save(t *table.Table, dir, label string) (*table.Table, error)
}

// Uploader pushes a table to the object store.
type Uploader interface {
	EnsureDirectory(ctx context.Context, dir storage.Directory) error
	Upload(ctx context.Context, dir storage.Directory, t *table.Table, remoteName string) (string, error)
}

// Result summarizes a successful run.
type Result struct {
	Job       string
	Label     string
	LocalPath string

	// ObjectKey is empty when the upload was skipped.
	ObjectKey string

	Rows     int
	Columns  int
	Duration time.Duration

	// Partial is set when the fetch failed or hit its page bound and the
	// job allowed continuing with the rows gathered so far.
	Partial bool
}

// Runner executes jobs.
type Runner struct {
	fetcher   Fetcher
	persister Persister
	uploader  Uploader
	logger    zerolog.Logger
}

// NewRunner creates a runner. A nil uploader skips the upload step.
func NewRunner(fetcher Fetcher, persister Persister, uploader Uploader) *Runner {
	return &Runner{
		fetcher:   fetcher,
		persister: persister,
		uploader:  uploader,
		logger:    logging.NewLogger("job"),
	}
}

// Run fetches, labels, saves and uploads one job. The uploaded table is
// the one read back from the local CSV.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	start := time.Now()
	logger := r.logger.With().
		Str("job", job.Name).
		Str("endpoint", job.Request.Endpoint).
		Logger()

	result, err := r.run(ctx, job, logger)
	result.Duration = time.Since(start)
	jobDuration.WithLabelValues(job.Name).Observe(result.Duration.Seconds())

	if err != nil {
		jobsTotal.WithLabelValues(job.Name, "failure").Inc()
		logger.Error().Err(err).Dur("duration", result.Duration).Msg("Job failed")
		return result, err
	}

	jobsTotal.WithLabelValues(job.Name, "success").Inc()
	jobRows.WithLabelValues(job.Name).Set(float64(result.Rows))

	logger.Info().
		Str("label", result.Label).
		Str("local_path", result.LocalPath).
		Str("object_key", result.ObjectKey).
		Int("rows", result.Rows).
		Int("columns", result.Columns).
		Bool("partial", result.Partial).
		Dur("duration", result.Duration).
		Msg("Job complete")

	return result, nil
}

func (r *Runner) run(ctx context.Context, job Job, logger zerolog.Logger) (Result, error) {
	result := Result{Job: job.Name}

	logger.Info().Msg("Fetching dataset")
	tbl, err := r.fetcher.Fetch(ctx, job.Request)
	if err != nil {
		if !job.Request.AllowPartial || tbl == nil {
			return result, fmt.Errorf("fetch %s: %w", job.Request.Endpoint, err)
		}
		result.Partial = true
		logger.Warn().
			Err(err).
			Int("rows", tbl.NumRows()).
			Msg("Continuing with partial dataset")
	}

	logger.Info().
		Int("rows", tbl.NumRows()).
		Int("columns", tbl.NumColumns()).
		Strs("column_names", tbl.Columns).
		Msg("Data insights")
	logHead(logger, tbl)

	name, err := job.Label.Generate(tbl)
	if err != nil {
		return result, fmt.Errorf("label: %w", err)
	}
	result.Label = name
	logger.Info().Str("label", name).Msg("Generated file label")

	saved, err := r.persister.Save(tbl, job.SavePath, name)
	if err != nil {
		return result, fmt.Errorf("save: %w", err)
	}
	result.LocalPath = storage.FilePath(job.SavePath, name)
	result.Rows = saved.NumRows()
	result.Columns = saved.NumColumns()

	if r.uploader == nil {
		logger.Info().Msg("Upload skipped")
		return result, nil
	}

	if err := r.uploader.EnsureDirectory(ctx, job.Directory); err != nil {
		return result, fmt.Errorf("prepare upload: %w", err)
	}
	key, err := r.uploader.Upload(ctx, job.Directory, saved, name)
	if err != nil {
		return result, fmt.Errorf("upload: %w", err)
	}
	result.ObjectKey = key

	return result, nil
}

func logHead(logger zerolog.Logger, tbl *table.Table) {
	for i, row := range tbl.Head(headRows).Rows {
		logger.Debug().Int("row", i).Strs("values", row).Msg("Head")
	}
}
