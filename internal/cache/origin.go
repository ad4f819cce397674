package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/semaphore"

	"github.com/hivecast/cdncache/pkg/metrics"
)

// ObjectGetter is the slice of the S3 client the fetcher needs.
// Implementations must be safe for concurrent use.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OriginFetcher retrieves assets from the origin bucket. Calls hold one of a
// bounded number of permits so a cold cache cannot overrun the origin, and
// each call runs under a fixed wall-clock timeout. The fetcher never
// retries: classification of a failed attempt is the caller's signal.
type OriginFetcher struct {
	client  ObjectGetter
	bucket  string
	timeout time.Duration
	permits *semaphore.Weighted
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewOriginFetcher wires a fetcher against bucket. maxConcurrent bounds
// simultaneous origin calls across all keys; timeout bounds each call
// including the body read.
func NewOriginFetcher(
	client ObjectGetter,
	bucket string,
	timeout time.Duration,
	maxConcurrent int64,
	m *metrics.Metrics,
	logger *slog.Logger,
) *OriginFetcher {
	return &OriginFetcher{
		client:  client,
		bucket:  bucket,
		timeout: timeout,
		permits: semaphore.NewWeighted(maxConcurrent),
		metrics: m,
		logger:  logger,
	}
}

// Fetch performs at most one origin call for key and classifies the outcome
// into a CachedResponse. Failures never escape as errors: a timeout or
// transport fault becomes an internal-error result with MaxAge 0, which the
// engine hands to waiting followers but never stores.
func (f *OriginFetcher) Fetch(ctx context.Context, key CacheKey) *CachedResponse {
	if err := f.permits.Acquire(ctx, 1); err != nil {
		f.metrics.RecordOriginOutcome(metrics.OriginInternalError)
		return InternalErrorResponse()
	}
	defer f.permits.Release(1)

	done := f.metrics.OriginAttempt()
	defer done()

	res, err := f.get(ctx, key)
	switch {
	case err == nil:
		f.metrics.RecordOriginOutcome(metrics.OriginSuccess)
		return res
	case isNoSuchKey(err):
		f.metrics.RecordOriginOutcome(metrics.OriginNotFound)
		return NotFoundResponse()
	case errors.Is(err, context.DeadlineExceeded):
		f.logger.Error("timeout requesting origin object", "key", key.String())
		f.metrics.RecordOriginOutcome(metrics.OriginTimeout)
		return TimeoutResponse()
	default:
		f.logger.Error("failed to request origin object", "key", key.String(), "error", err)
		f.metrics.RecordOriginOutcome(metrics.OriginInternalError)
		return InternalErrorResponse()
	}
}

func (f *OriginFetcher) get(ctx context.Context, key CacheKey) (*CachedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.logger.Debug("requesting origin object", "key", key.String())

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("origin get %q: %w", key.String(), err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading origin body for %q: %w", key.String(), err)
	}

	captured := time.Now()
	maxAge := originMaxAge(out.CacheControl, out.ExpiresString, captured)

	return &CachedResponse{
		Response: Response{
			Kind:        ResponseBytes,
			ContentType: aws.ToString(out.ContentType),
			Body:        body,
		},
		CapturedAt: captured,
		MaxAge:     maxAge,
	}, nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}

// originMaxAge derives an entry TTL from origin response metadata:
// Cache-Control max-age wins, then a parseable Expires date still in the
// future, then a one-week default.
func originMaxAge(cacheControl, expires *string, now time.Time) time.Duration {
	if cacheControl != nil {
		for _, directive := range strings.Split(strings.ToLower(*cacheControl), ",") {
			v, ok := strings.CutPrefix(strings.TrimSpace(directive), "max-age=")
			if !ok {
				continue
			}
			secs, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
			if err != nil {
				continue
			}
			return time.Duration(secs) * time.Second
		}
	}

	if expires != nil {
		if t, err := http.ParseTime(*expires); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
		}
	}

	return defaultMaxAge
}
