package ocr

import (
	"context"
	"errors"
	"time"

	"fraudwatch/internal/logger"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/retry"
)

type Result struct {
	Text string
	Err  error
}

// Adapter bounds every extraction with a timeout and the retry policy.
type Adapter struct {
	extractor Extractor
	langs     []string
	timeout   time.Duration
	policy    retry.Policy
	logger    logger.Logger
}

func NewAdapter(extractor Extractor, langs []string, timeout time.Duration, policy retry.Policy, log logger.Logger) *Adapter {
	return &Adapter{
		extractor: extractor,
		langs:     langs,
		timeout:   timeout,
		policy:    policy,
		logger:    log,
	}
}

// Extract never panics and always returns within the configured timeout.
func (a *Adapter) Extract(ctx context.Context, image []byte) Result {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	attempt := 0
	text, err := retry.Do(ctx, a.policy, func() (string, error) {
		attempt++
		if attempt > 1 {
			metrics.IncRetry("ocr")
		}
		return a.extractor.Extract(ctx, image, a.langs)
	})

	switch {
	case err == nil && text == "":
		metrics.OCRRequestsTotal.WithLabelValues("empty").Inc()
	case err == nil:
		metrics.OCRRequestsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		metrics.OCRRequestsTotal.WithLabelValues("timeout").Inc()
		a.logger.WarnwCtx(ctx, "OCR timed out", "timeout", a.timeout, "attempts", attempt)
	default:
		metrics.OCRRequestsTotal.WithLabelValues("error").Inc()
		a.logger.WarnwCtx(ctx, "OCR failed", "error", err, "attempts", attempt)
	}

	return Result{Text: text, Err: err}
}
