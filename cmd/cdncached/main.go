// Command cdncached serves immutable assets out of an in-memory cache
// backed by an S3-compatible origin bucket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hivecast/cdncache/internal/cache"
	"github.com/hivecast/cdncache/internal/server"
	"github.com/hivecast/cdncache/pkg/metrics"
)

func main() {
	var (
		addr              = flag.String("addr", ":8080", "listen address")
		bucket            = flag.String("bucket", "", "origin bucket name (required)")
		region            = flag.String("region", "us-east-1", "origin bucket region")
		endpoint          = flag.String("endpoint", "", "custom S3 endpoint URL (optional)")
		pathStyle         = flag.Bool("path-style", false, "use path-style S3 addressing")
		capacityBytes     = flag.Int64("capacity-bytes", 1<<30, "cache capacity in bytes")
		originTimeout     = flag.Duration("origin-timeout", 10*time.Second, "timeout for a single origin request")
		originConcurrency = flag.Int64("origin-concurrency", 100, "max concurrent origin requests")
		logLevel          = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *bucket == "" {
		fmt.Fprintln(os.Stderr, "-bucket is required")
		os.Exit(2)
	}

	if err := run(logger, config{
		addr:              *addr,
		bucket:            *bucket,
		region:            *region,
		endpoint:          *endpoint,
		pathStyle:         *pathStyle,
		capacityBytes:     *capacityBytes,
		originTimeout:     *originTimeout,
		originConcurrency: *originConcurrency,
	}); err != nil {
		logger.Error("cdncached failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	addr              string
	bucket            string
	region            string
	endpoint          string
	pathStyle         bool
	capacityBytes     int64
	originTimeout     time.Duration
	originConcurrency int64
}

func run(logger *slog.Logger, cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configuring origin client: %w", err)
	}

	store, err := cache.NewStore(cfg.capacityBytes)
	if err != nil {
		return err
	}

	m := metrics.New()
	origin := cache.NewOriginFetcher(client, cfg.bucket, cfg.originTimeout, cfg.originConcurrency, m, logger)
	engine := cache.New(store, origin, m, logger)

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           server.New(engine, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cdncached listening",
			"addr", cfg.addr,
			"bucket", cfg.bucket,
			"capacity_bytes", cfg.capacityBytes)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func newS3Client(ctx context.Context, cfg config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.region),
	}

	// Static credentials from the environment take precedence over the
	// default chain, matching how the origin bucket is provisioned in
	// self-hosted deployments.
	accessKey := os.Getenv("CDN_ACCESS_KEY_ID")
	secretKey := os.Getenv("CDN_SECRET_ACCESS_KEY")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.endpoint)
		}
		o.UsePathStyle = cfg.pathStyle
	}), nil
}
