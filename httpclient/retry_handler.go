package httpclient

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

type retryStartKey struct{}

// retryHandler resends requests answered with a retryable status, whether
// the executor returned the response or failed it with *BadResponseError.
// Transport errors are never resent. The resend count travels in the
// Retry-Attempt header and the time of the first send in the request context.
type retryHandler struct {
	next     Handler
	defaults *RetryOption
	cfg      *internalConfig
	logger   zerolog.Logger
}

func newRetryHandler(next Handler, cfg *internalConfig) *retryHandler {
	return &retryHandler{
		next:     next,
		defaults: cfg.Retry,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("handler", "retry").Logger(),
	}
}

func (h *retryHandler) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindRetry, h.defaults).bounded()

	ctx := req.Context()
	start, ok := ctx.Value(retryStartKey{}).(time.Time)
	if !ok {
		start = time.Now()
		ctx = context.WithValue(ctx, retryStartKey{}, start)
		req = req.WithContext(ctx)
	}

	resp, err := h.next.Handle(req, opts)
	failed := responseOf(resp, err)
	if failed == nil || !isRetryableStatus(failed.StatusCode) {
		return resp, err
	}

	attempt := retryAttemptOf(req)
	attrs := append(h.cfg.baseAttributes(), attribute.Int("http.response.status_code", failed.StatusCode))

	if attempt >= opt.MaxRetries || !rewindable(req) {
		if attempt > 0 {
			h.cfg.Metrics.recordRetryExhausted(ctx, attrs)
			h.cfg.Metrics.recordRetryDuration(ctx, attrs, time.Since(start))
		}
		return resp, err
	}

	delay, derr := retryDelay(attempt, opt.Delay, failed, time.Now())
	if derr != nil {
		drainBody(failed)
		return nil, derr
	}
	if opt.RetriesTimeLimit > 0 && time.Since(start)+delay > opt.RetriesTimeLimit {
		return resp, err
	}
	if opt.ShouldRetry != nil && !opt.ShouldRetry(delay, attempt, failed) {
		return resp, err
	}

	next, cerr := cloneForResend(req)
	if cerr != nil {
		return resp, err
	}
	next.Header.Set(retryAttemptHeader, strconv.Itoa(attempt+1))
	drainBody(failed)

	h.logger.Debug().
		Int("status", failed.StatusCode).
		Int("retry.attempt", attempt+1).
		Dur("retry.delay", delay).
		Msg("resending request")
	trace.SpanFromContext(ctx).AddEvent("http.retry", trace.WithAttributes(
		attribute.Int("http.request.resend_count", attempt+1),
		attribute.Int("http.response.status_code", failed.StatusCode),
		attribute.Int64("retry.delay_ms", delay.Milliseconds()),
	))
	h.cfg.Metrics.recordRetryAttempt(ctx, attrs, attempt+1)

	if serr := h.cfg.sleep(ctx, delay); serr != nil {
		return nil, serr
	}
	return h.Handle(next, opts)
}
