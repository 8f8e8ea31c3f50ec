package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/client"
	"github.com/Sternrassler/socrata-ingest/pkg/clock"
	"github.com/Sternrassler/socrata-ingest/pkg/config"
	"github.com/Sternrassler/socrata-ingest/pkg/job"
	"github.com/Sternrassler/socrata-ingest/pkg/logging"
	"github.com/Sternrassler/socrata-ingest/pkg/metrics"
	"github.com/Sternrassler/socrata-ingest/pkg/pagination"
	"github.com/Sternrassler/socrata-ingest/pkg/ratelimit"
	"github.com/Sternrassler/socrata-ingest/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	logLevel    string
	pretty      bool
	metricsAddr string
}

// jobOptions are the per-run settings not carried by job.Job.
type jobOptions struct {
	skipUpload  bool
	localStore  string
	maxAttempts int
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "socrata-ingest",
		Short:         "Ingest Socrata open-data datasets into object storage",
		Long:          "socrata-ingest pages through a Socrata dataset, saves it as a labeled CSV file and uploads it to an S3-compatible object store.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "Config file (TOML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "Human-readable console logs")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics on this address while running")

	root.AddCommand(
		newJobCmd(opts, job.Crimes(), "Ingest arrests from the Crimes - 2001 to Present dataset"),
		newJobCmd(opts, job.SocioeconomicAreas(), "Ingest the Socioeconomically Disadvantaged Areas dataset"),
		newRunCmd(opts),
	)

	return root
}

// bindJobFlags registers flags that override j in place.
func bindJobFlags(cmd *cobra.Command, j *job.Job, jo *jobOptions) {
	f := cmd.Flags()
	f.StringVar(&j.Request.BaseURL, "base-url", j.Request.BaseURL, "Socrata resource base URL")
	f.StringVar(&j.Request.Endpoint, "endpoint", j.Request.Endpoint, "Dataset resource, e.g. ijzp-q8t2.json")
	f.StringSliceVar(&j.Request.Columns, "columns", j.Request.Columns, "Columns to select (empty selects all)")
	f.StringVar(&j.Request.RowFilter, "where", j.Request.RowFilter, "SoQL $where predicate")
	f.StringVar(&j.Request.Order, "order", j.Request.Order, "SoQL $order clause")
	f.IntVar(&j.Request.PageSize, "page-size", j.Request.PageSize, "Rows per page ($limit)")
	f.IntVar(&j.Request.MaxPages, "max-pages", j.Request.MaxPages, "Fail after this many pages unless --allow-partial (0 = all)")
	f.BoolVar(&j.Request.AllowPartial, "allow-partial", j.Request.AllowPartial, "Save and upload the rows fetched before a failure or the page bound")
	f.DurationVar(&j.Request.Timeout, "timeout", j.Request.Timeout, "Timeout per page request")
	f.DurationVar(&j.Request.Delay, "delay", j.Request.Delay, "Delay between page requests")
	f.StringVar(&j.SavePath, "save-path", j.SavePath, "Local directory for the CSV file")
	f.StringVar(&j.Directory.Bucket, "bucket", j.Directory.Bucket, "Destination bucket")
	f.StringVar(&j.Directory.Path, "dir", j.Directory.Path, "Destination directory inside the bucket")
	f.BoolVar(&jo.skipUpload, "skip-upload", false, "Save locally without uploading")
	f.StringVar(&jo.localStore, "local-store", "", "Upload into this directory (one subdirectory per bucket) instead of the object store")
	cmd.MarkFlagsMutuallyExclusive("skip-upload", "local-store")
	f.IntVar(&jo.maxAttempts, "max-attempts", client.DefaultRetryPolicy().MaxAttempts, "Attempts per page on transient failures")
}

func newJobCmd(opts *globalOptions, defaults job.Job, short string) *cobra.Command {
	j := defaults
	jo := &jobOptions{}

	cmd := &cobra.Command{
		Use:   defaults.Name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, j, *jo)
		},
	}
	bindJobFlags(cmd, &j, jo)
	return cmd
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	j := job.Job{
		Name: "run",
		Request: pagination.DatasetRequest{
			BaseURL:  job.DefaultBaseURL,
			PageSize: job.DefaultPageSize,
			Timeout:  job.DefaultTimeout,
			Delay:    job.DefaultDelay,
		},
		Label:     job.LabelSpec{Kind: job.LabelGeo, Prefix: "Dataset"},
		SavePath:  "RawData",
		Directory: storage.Directory{Bucket: job.DefaultBucket},
	}
	jo := &jobOptions{}
	var labelKind string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest any dataset given on the command line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if j.Request.Endpoint == "" {
				return errors.New("--endpoint is required")
			}
			switch job.LabelKind(labelKind) {
			case job.LabelDates, job.LabelGeo:
				j.Label.Kind = job.LabelKind(labelKind)
			default:
				return fmt.Errorf("--label must be %q or %q", job.LabelDates, job.LabelGeo)
			}
			if j.Label.Kind == job.LabelDates && j.Label.Column == "" {
				return errors.New("--label-column is required with --label dates")
			}
			return execute(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, j, *jo)
		},
	}
	bindJobFlags(cmd, &j, jo)
	cmd.Flags().StringVar(&j.Name, "name", j.Name, "Job name used in logs and metrics")
	cmd.Flags().StringVar(&labelKind, "label", string(job.LabelGeo), "Label kind: dates or geo")
	cmd.Flags().StringVar(&j.Label.Column, "label-column", "", "Date column for --label dates")
	cmd.Flags().StringVar(&j.Label.Prefix, "label-prefix", j.Label.Prefix, "Label prefix")
	return cmd
}

// execute loads configuration, wires the pipeline and runs j once.
func execute(ctx context.Context, stdout, stderr io.Writer, opts *globalOptions, j job.Job, jo jobOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.ListenAddr = opts.metricsAddr
	}
	logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty || opts.pretty,
		Output: stderr,
	})

	if err := cfg.Validate(!jo.skipUpload && jo.localStore == ""); err != nil {
		return err
	}
	j.Request.Credentials = cfg.Credentials()

	clk := clock.Real{}

	var store ratelimit.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store = ratelimit.NewRedisStore(rdb, rateLimitScope(j.Request.BaseURL))
		log.Info().Str("redis", cfg.Redis.Addr).Msg("Sharing rate limit cooldowns through Redis")
	}
	tracker := ratelimit.NewTracker(store, clk, logging.NewLogger("ratelimit"))

	clientCfg := client.DefaultConfig(cfg.Socrata.UserAgent)
	clientCfg.Retry.MaxAttempts = jo.maxAttempts
	clientCfg.Tracker = tracker
	clientCfg.Clock = clk
	socrata, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	var uploader job.Uploader
	switch {
	case jo.skipUpload:
	case jo.localStore != "":
		uploader = storage.NewUploader(storage.NewLocalStore(jo.localStore))
	default:
		objectStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Region:    cfg.Storage.Region,
		})
		if err != nil {
			return fmt.Errorf("create object store: %w", err)
		}
		uploader = storage.NewUploader(objectStore)
	}

	if cfg.Metrics.ListenAddr != "" {
		srv := serveMetrics(cfg.Metrics.ListenAddr)
		defer srv.Close()
	}

	runner := job.NewRunner(
		pagination.NewFetcher(socrata, pagination.Config{Clock: clk}),
		storage.NewPersister(),
		uploader,
	)

	result, runErr := runner.Run(ctx, j)

	if err := metrics.Push(cfg.Metrics.PushgatewayURL, j.Name); err != nil {
		log.Warn().Err(err).Msg("Failed to push metrics")
	}

	if runErr != nil {
		logFailure(j.Name, runErr)
		return fmt.Errorf("%s: %w", j.Name, runErr)
	}

	fmt.Fprintf(stdout, "%s: %d rows x %d columns -> %s", result.Job, result.Rows, result.Columns, result.LocalPath)
	if result.ObjectKey != "" {
		fmt.Fprintf(stdout, " -> %s/%s", j.Directory.Bucket, result.ObjectKey)
	}
	if result.Partial {
		fmt.Fprint(stdout, " [partial]")
	}
	fmt.Fprintf(stdout, " (%s)\n", result.Duration.Round(time.Millisecond))
	return nil
}

func logFailure(name string, err error) {
	event := log.Error().Err(err).Str("job", name)
	var fetchErr *client.FetchError
	if errors.As(err, &fetchErr) {
		event = event.Str("endpoint", fetchErr.Endpoint).
			Int("offset", fetchErr.Offset).
			Int("attempts", fetchErr.Attempts)
	}
	event.Msg("Ingestion failed")
}

// rateLimitScope keys shared cooldowns by API host.
func rateLimitScope(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return baseURL
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
