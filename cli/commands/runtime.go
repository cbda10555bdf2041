package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
	"github.com/AshkanYarmoradi/go-stoat/adapters/postgres"
	"github.com/AshkanYarmoradi/go-stoat/adapters/sqlite"
	rediscache "github.com/AshkanYarmoradi/go-stoat/cache/redis"
	"github.com/AshkanYarmoradi/go-stoat/cli/config"
	"github.com/AshkanYarmoradi/go-stoat/fanout/kafka"
	"github.com/AshkanYarmoradi/go-stoat/fanout/sns"
	"github.com/AshkanYarmoradi/go-stoat/logging"
	"github.com/AshkanYarmoradi/go-stoat/middleware/tracing"
	"github.com/AshkanYarmoradi/go-stoat/serializer/msgpack"
)

// pingTimeout bounds connection checks so bad DSNs fail fast.
const pingTimeout = 5 * time.Second

// Runtime is an event store assembled from a Config, plus everything that
// has to be released when the command finishes.
type Runtime struct {
	Config *config.Config
	Store  *stoat.EventStore
	Logger *log.Logger

	redis      goredis.UniversalClient
	publishers []string
	closers    []func() error
}

// loadConfig reads --config when given, otherwise the nearest stoat.yaml,
// otherwise the environment alone.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	path, _ := cmd.Flags().GetString("config")
	switch {
	case path != "":
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		_, found, err := config.FindConfig(cwd)
		switch {
		case err == nil:
			cfg = found
		case errors.Is(err, os.ErrNotExist):
			if cfg, err = config.FromEnv(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Open builds the runtime. Logs and spans go to logOut.
func Open(ctx context.Context, cfg *config.Config, logOut io.Writer) (*Runtime, error) {
	logger := log.New()
	logger.SetOutput(logOut)
	if err := logging.Configure(logger, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	storeLogger := logging.NewLogrus(logger).With("component", "stoat")

	rt := &Runtime{Config: cfg, Logger: logger}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.NewStdoutTracerProvider(logOut)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { return tp.Shutdown(context.Background()) })
		tracer := tracing.NewTracer(tracing.WithTracerProvider(tp), tracing.WithServiceName(cfg.Tracing.ServiceName))
		backend = tracing.WrapBackend(backend, tracer)
	}

	opts := []stoat.Option{
		stoat.WithLogger(storeLogger),
		stoat.WithRecentBufferSize(cfg.Store.RecentBufferSize),
		stoat.WithDispatchErrorHandler(func(e stoat.Event, err error) {
			logger.WithFields(log.Fields{"eventId": e.ID, "eventType": e.Type, "error": err}).Warn("Event fan-out failed")
		}),
	}
	if cfg.Store.StateCodec == config.CodecMsgpack {
		opts = append(opts, stoat.WithStateCodec(msgpack.StateCodec{}))
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		rt.redis = client
		rt.closers = append(rt.closers, client.Close)
		opts = append(opts, stoat.WithSnapshotCache(rediscache.New(client,
			rediscache.WithTTL(cfg.Redis.TTL),
			rediscache.WithKeyPrefix(cfg.Redis.KeyPrefix),
			rediscache.WithLogger(storeLogger),
		)))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.New(kafka.WithBrokers(cfg.Kafka.Brokers...), kafka.WithTopic(cfg.Kafka.Topic))
		rt.closers = append(rt.closers, pub.Close)
		rt.publishers = append(rt.publishers, "kafka")
		opts = append(opts, stoat.WithPublisher(pub))
	}

	if cfg.SNS.TopicARN != "" {
		pub, err := newSNSPublisher(ctx, cfg.SNS)
		if err != nil {
			_ = rt.Close()
			_ = backend.Close()
			return nil, err
		}
		rt.publishers = append(rt.publishers, "sns")
		opts = append(opts, stoat.WithPublisher(pub))
	}

	rt.Store = stoat.New(backend, opts...)
	return rt, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (adapters.Backend, error) {
	dsn := cfg.ResolvedDSN()

	switch cfg.Backend.Driver {
	case config.DriverMemory:
		return memory.NewBackend(), nil

	case config.DriverSQLite:
		backend, err := sqlite.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		return backend, nil

	case config.DriverPostgres:
		backend, err := postgres.NewBackend(dsn, postgres.WithSchema(cfg.Backend.Schema))
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres backend: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := backend.Ping(pingCtx); err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported backend driver: %s", cfg.Backend.Driver)
	}
}

func newSNSPublisher(ctx context.Context, cfg config.SNSConfig) (*sns.Publisher, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var snsOpts []func(*awssns.Options)
	if cfg.Endpoint != "" {
		snsOpts = append(snsOpts, func(o *awssns.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	opts := []sns.Option{sns.WithTopicARN(cfg.TopicARN)}
	if cfg.FIFO {
		opts = append(opts, sns.WithFIFO())
	}
	return sns.New(awssns.NewFromConfig(awsCfg, snsOpts...), opts...), nil
}

// Close closes the store, then everything opened alongside it in reverse order.
func (r *Runtime) Close() error {
	var errs []error
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// withRuntime loads the config, opens a Runtime for the duration of fn and closes it.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := Open(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, rt)
}
