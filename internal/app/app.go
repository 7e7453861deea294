// Package app wires the reducer's collaborators from a loaded Config. The
// three entry points share it so a run behaves the same whether it arrives
// over SQS, HTTP or the command line.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"reducer/internal/archive"
	"reducer/internal/config"
	"reducer/internal/core"
	"reducer/internal/db"
	"reducer/internal/external"
	"reducer/internal/metrics"
	"reducer/internal/queue"
	"reducer/internal/reduce"
	"reducer/internal/scheduler"
	"reducer/internal/types"
)

// ServiceName tags every log line and the outbound User-Agent.
const ServiceName = "reducer"

// Options adjust a Runtime per entry point.
type Options struct {
	// DryRun assembles rows without pushing them.
	DryRun bool
	// NoRequeue suppresses the next-day requeue even when REQUEUE is set.
	NoRequeue bool
}

// Clients are the external connections a Runtime is built on.
type Clients struct {
	DB         db.TxDB
	S3         archive.S3Client
	SQS        queue.SQSSender
	CloudWatch metrics.CloudWatchClient
	HTTP       *http.Client
	Clock      clockwork.Clock

	// closer releases the connections; nil for injected clients.
	closer func()
}

// Runtime is a fully wired reducer. It satisfies core.Runner.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Catchup *scheduler.Catchup
	Probes  []core.HealthProbe

	Requeuer *queue.Requeuer
	Notifier *external.SlackNotifier
	Metrics  *metrics.CloudWatchRunMetrics

	closer func()
}

// NewLogger builds the process logger: JSON lines on w at cfg's level,
// tagged with the service, environment and build version.
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	return slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("env", cfg.Environment),
		slog.String("version", cfg.Build.Version),
	)
}

// Connect opens the database pool and the AWS clients described by cfg.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Clients, error) {
	pool, err := NewPool(ctx, cfg.Database)
	if err != nil {
		return Clients{}, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return Clients{}, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	endpoint := cfg.AWS.EndpointURL

	clients := Clients{
		DB: pool,
		S3: archive.NewSDKClient(archive.NewS3FromConfig(awsCfg, endpoint)),
		SQS: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		CloudWatch: cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		closer: pool.Close,
	}
	logger.InfoContext(ctx, "clients connected",
		"db_host", cfg.Database.URL.Host(),
		"region", cfg.AWS.Region,
		"endpoint", endpoint,
	)
	return clients, nil
}

// NewPool creates a pgx pool tuned by dbCfg and verifies connectivity within
// the acquire timeout.
func NewPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigMissingField, "DATABASE_URL is not a valid connection string", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create database pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, types.NewAppError(types.ErrCodeInternalDB, "database unreachable", err)
	}
	return pool, nil
}

// New wires a Runtime over clients. Slack, CloudWatch and the requeue queue
// are attached only when cfg enables them.
func New(cfg *config.Config, logger *slog.Logger, clients Clients, opts Options) *Runtime {
	rt := &Runtime{Config: cfg, Logger: logger, closer: clients.closer}

	horizons := archive.NewHorizonReader(clients.S3, logger)
	assembler := reduce.NewAssembler(reduce.AssemblerConfig{
		Opener: datasetOpener{opener: archive.NewOpener(clients.S3, logger)},
		Clock:  clients.Clock,
		Logger: logger,
	})

	catchupCfg := scheduler.CatchupConfig{
		Geometries: db.NewGeometryRepository(clients.DB),
		Reduced:    db.NewReducedRepository(clients.DB),
		Horizons:   horizons,
		Assembler:  assembler,
		Locks:      db.NewRunLockRepository(clients.DB),
		Runs:       db.NewRunHistoryRepository(clients.DB),
		Feeds:      cfg.Feeds,
		Requeue:    cfg.Requeue && !opts.NoRequeue,
		DryRun:     opts.DryRun,
		Clock:      clients.Clock,
		Logger:     logger,
	}

	if cfg.Notify.WebhookURL.IsSet() {
		base := external.NewBaseClient(clients.HTTP, "slack", external.DefaultRetryPolicy(),
			cfg.Build.UserAgent(ServiceName))
		rt.Notifier = external.NewSlackNotifier(base, cfg.Notify.WebhookURL, cfg.Notify.Name, logger)
		catchupCfg.Notifier = rt.Notifier
	}
	if cfg.Observability.EnableMetrics && clients.CloudWatch != nil {
		rt.Metrics = metrics.NewCloudWatchRunMetrics(clients.CloudWatch, cfg.Observability.MetricNamespace, logger)
		catchupCfg.Metrics = rt.Metrics
	}
	if catchupCfg.Requeue && clients.SQS != nil {
		rt.Requeuer = queue.NewRequeuer(clients.SQS, cfg.AWS, clients.Clock, logger)
		catchupCfg.Requeuer = rt.Requeuer
	}

	rt.Catchup = scheduler.NewCatchup(catchupCfg)
	rt.Probes = probes(clients.DB, horizons, cfg.Feeds)
	return rt
}

// Run implements core.Runner.
func (r *Runtime) Run(ctx context.Context, in types.RunInput) (*types.RunResult, error) {
	return r.Catchup.Run(ctx, in)
}

// Close releases the database pool.
func (r *Runtime) Close() error {
	if r.closer != nil {
		r.closer()
	}
	return nil
}

// datasetOpener narrows archive.Opener to the reader the assembler consumes.
type datasetOpener struct {
	opener *archive.Opener
}

func (o datasetOpener) Open(ctx context.Context, spec types.FeedSpec) (reduce.ArrayReader, error) {
	ds, err := o.opener.Open(ctx, spec)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// horizonProbeTimeout leaves room inside the health check deadline.
const horizonProbeTimeout = 1500 * time.Millisecond

func probes(conn db.TxDB, horizons *archive.HorizonReader, feeds []types.FeedSpec) []core.HealthProbe {
	var out []core.HealthProbe
	if p, ok := conn.(interface{ Ping(context.Context) error }); ok {
		out = append(out, core.ProbeFunc{ProbeName: "database", Fn: p.Ping})
	}
	for _, spec := range feeds {
		out = append(out, core.ProbeFunc{
			ProbeName: "archive:" + string(spec.Name),
			Fn: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, horizonProbeTimeout)
				defer cancel()
				_, err := horizons.Horizon(ctx, spec)
				return err
			},
		})
	}
	return out
}
