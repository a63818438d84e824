// Package pipeline runs one inbound event through access control, rate
// limiting, deduplication, text extraction, fraud matching, alerting and
// persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fraudwatch/internal/access"
	"fraudwatch/internal/content"
	"fraudwatch/internal/fraud"
	"fraudwatch/internal/logger"
	"fraudwatch/internal/ocr"
	"fraudwatch/internal/ratelimit"
	"fraudwatch/internal/security"
	pkgerrors "fraudwatch/pkg/errors"
	"fraudwatch/pkg/logging"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/tracing"
)

type TextExtractor interface {
	Extract(ctx context.Context, image []byte) ocr.Result
}

type Alerter interface {
	Dispatch(ctx context.Context, ev models.InboundEvent, verdict models.FraudVerdict, content string) (models.Alert, bool)
}

type Persister interface {
	Persist(ctx context.Context, rec models.MessageRecord) (bool, error)
}

type Deps struct {
	Access      *access.Filter
	Limiter     *ratelimit.Limiter
	Normalizer  *content.Normalizer
	Index       content.Index
	OCR         TextExtractor
	ImageLimits ocr.Limits
	Matcher     *fraud.Matcher
	Alerts      Alerter
	Store       Persister
	Security    *security.Recorder
	Logger      logger.Logger
	Now         func() time.Time
}

type Pipeline struct {
	d Deps
}

func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Access == nil, d.Limiter == nil, d.Normalizer == nil, d.Index == nil:
		return nil, fmt.Errorf("pipeline: access, limiter, normalizer and index are required")
	case d.OCR == nil, d.Matcher == nil, d.Alerts == nil, d.Store == nil, d.Security == nil:
		return nil, fmt.Errorf("pipeline: ocr, matcher, alerts, store and security are required")
	}
	if d.Logger == nil {
		d.Logger = logger.NopLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Pipeline{d: d}, nil
}

// Process never returns an error: every path ends in an Outcome. After a
// successful dedup reservation the fingerprint is either committed (after
// persistence) or released.
func (p *Pipeline) Process(ctx context.Context, ev models.InboundEvent) (out models.Outcome) {
	start := p.d.Now()
	ctx = logging.WithEventID(logging.WithChatID(ctx, ev.ChatID), ev.ID)
	ctx, span := tracing.StartStage(ctx, "process")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := pkgerrors.RecoverPanic(r)
			p.d.Logger.ErrorwCtx(ctx, "Panic recovered in pipeline", "error", err)
			p.d.Security.Emit(context.WithoutCancel(ctx), models.SecurityProcessingError, ev.ChatID, ev.UserLabel(), "internal error while processing event")
			out = models.Failed(models.ReasonPanic)
		}
		metrics.IncOutcome(string(out.Status), out.Reason)
		metrics.ObserveStage("total", time.Since(start))
		span.SetAttributes(
			attribute.String("outcome.status", string(out.Status)),
			attribute.String("outcome.reason", out.Reason),
		)
		if out.Status == models.StatusFailed {
			span.SetStatus(codes.Error, out.Reason)
		}
	}()

	return p.process(ctx, ev)
}

func (p *Pipeline) process(ctx context.Context, ev models.InboundEvent) models.Outcome {
	if decision := p.d.Access.Check(ev.ChatID); !decision.Allowed {
		p.d.Security.Emit(ctx, models.SecurityUnauthorizedAccess, ev.ChatID, ev.UserLabel(), string(decision.Reason))
		return models.Rejected(models.ReasonUnauthorized)
	}

	if err := models.ValidateInboundEvent(ev); err != nil {
		p.d.Logger.WarnwCtx(ctx, "Rejecting invalid event", "error", err)
		return models.Rejected(models.ReasonInvalid)
	}

	if allowed, count := p.d.Limiter.Allow(p.d.Limiter.Key(ev), p.d.Now()); !allowed {
		p.d.Security.Emit(ctx, models.SecurityRateLimitExceeded, ev.ChatID, ev.UserLabel(),
			fmt.Sprintf("%d events in current window", count))
		return models.Rejected(models.ReasonRateLimited)
	}

	var (
		fingerprint string
		normalized  models.NormalizedContent
		imageErr    error
	)
	stageStart := time.Now()
	switch ev.Kind {
	case models.KindImage:
		if size := ev.PayloadSize(); p.d.ImageLimits.MaxBytes > 0 && size > p.d.ImageLimits.MaxBytes {
			return p.oversized(ctx, ev, fmt.Sprintf("image of %d bytes exceeds %d", size, p.d.ImageLimits.MaxBytes))
		}
		if _, err := ocr.Validate(ev.Image, p.d.ImageLimits); err != nil {
			if pkgerrors.IsOversized(err) {
				return p.oversized(ctx, ev, err.Error())
			}
			// Unreadable images are still recorded, without text.
			imageErr = err
		}
		fingerprint = p.d.Normalizer.Hasher().Image(ev.ChatID, ev.Image)
	default:
		c, err := p.d.Normalizer.Normalize(ev.ChatID, ev.Text, models.SourceText)
		if out, rejected := p.contentRejection(ctx, ev, err); rejected {
			return out
		}
		normalized = c
		fingerprint = c.Fingerprint
	}
	metrics.ObserveStage("normalize", time.Since(stageStart))

	token, reserved, err := p.d.Index.Reserve(ctx, fingerprint)
	if err != nil {
		metrics.DedupDecisionsTotal.WithLabelValues("error").Inc()
		p.d.Logger.ErrorwCtx(ctx, "Dedup reservation failed", "error", err, "fingerprint", fingerprint)
		p.d.Security.Emit(ctx, models.SecurityProcessingError, ev.ChatID, ev.UserLabel(), "dedup index unavailable")
		return models.Outcome{Status: models.StatusFailed, Reason: models.ReasonStorageError, Fingerprint: fingerprint}
	}
	if !reserved {
		metrics.DedupDecisionsTotal.WithLabelValues("duplicate").Inc()
		return models.Outcome{Status: models.StatusDuplicate, Fingerprint: fingerprint}
	}
	metrics.DedupDecisionsTotal.WithLabelValues("reserved").Inc()

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := p.d.Index.Release(context.WithoutCancel(ctx), fingerprint, token); err != nil {
			p.d.Logger.ErrorwCtx(ctx, "Failed to release dedup reservation", "error", err, "fingerprint", fingerprint)
		}
	}()

	out := models.Outcome{Status: models.StatusProcessed, Fingerprint: fingerprint}

	if ev.Kind == models.KindImage {
		c, degraded, rejection := p.extract(ctx, ev, fingerprint, imageErr)
		if rejection != nil {
			return *rejection
		}
		normalized = c
		out.Degraded = degraded
		out.Extracted = c.Canonical
	}

	if ctx.Err() != nil {
		return canceled(fingerprint)
	}

	verdict := models.FraudVerdict{MatchedRules: []string{}}
	if normalized.MatchText != "" {
		matchCtx, matchSpan := tracing.StartStage(ctx, "match")
		stageStart = time.Now()
		verdict = p.d.Matcher.Match(matchCtx, fraud.InputFromContent(normalized, ev))
		metrics.ObserveStage("match", time.Since(stageStart))
		matchSpan.SetAttributes(attribute.Int("fraud.score", verdict.Score), attribute.Bool("fraud.flagged", verdict.Flagged))
		matchSpan.End()
	}
	out.Verdict = &verdict

	if verdict.Flagged {
		stageStart = time.Now()
		p.d.Alerts.Dispatch(ctx, ev, verdict, normalized.Canonical)
		metrics.ObserveStage("alert", time.Since(stageStart))
	}

	rec := models.MessageRecord{
		Fingerprint: fingerprint,
		ChatID:      ev.ChatID,
		UserID:      ev.UserID,
		Timestamp:   ev.Timestamp,
		Content:     normalized.Canonical,
		Kind:        ev.Kind,
		Verdict:     verdict,
		CreatedAt:   p.d.Now().UTC(),
	}

	persistCtx, persistSpan := tracing.StartStage(ctx, "persist")
	stageStart = time.Now()
	_, err = p.d.Store.Persist(persistCtx, rec)
	metrics.ObserveStage("persist", time.Since(stageStart))
	persistSpan.End()
	if err != nil {
		if ctx.Err() != nil {
			return canceled(fingerprint)
		}
		p.d.Security.Emit(ctx, models.SecurityProcessingError, ev.ChatID, ev.UserLabel(),
			fmt.Sprintf("failed to persist message: %v", err))
		return models.Outcome{Status: models.StatusFailed, Reason: models.ReasonStorageError, Fingerprint: fingerprint, Verdict: &verdict}
	}

	// The record is durable now; a failed commit leaves the reservation to
	// expire instead of releasing it.
	committed = true
	if err := p.d.Index.Commit(context.WithoutCancel(ctx), fingerprint); err != nil {
		p.d.Logger.WarnwCtx(ctx, "Failed to commit dedup entry", "error", err, "fingerprint", fingerprint)
	}

	return out
}

// extract runs OCR and normalizes the text. OCR failures degrade the event
// to empty text; oversized OCR text rejects it.
func (p *Pipeline) extract(ctx context.Context, ev models.InboundEvent, fingerprint string, imageErr error) (models.NormalizedContent, bool, *models.Outcome) {
	empty := models.NormalizedContent{Fingerprint: fingerprint, Source: models.SourceOCR}

	if imageErr != nil {
		p.d.Security.Emit(ctx, models.SecurityProcessingError, ev.ChatID, ev.UserLabel(),
			fmt.Sprintf("image not processed: %v", imageErr))
		return empty, true, nil
	}

	ocrCtx, span := tracing.StartStage(ctx, "ocr")
	stageStart := time.Now()
	res := p.d.OCR.Extract(ocrCtx, ev.Image)
	metrics.ObserveStage("ocr", time.Since(stageStart))
	span.End()

	if res.Err != nil {
		if ctx.Err() != nil {
			out := canceled(fingerprint)
			return empty, false, &out
		}
		detail := fmt.Sprintf("text extraction failed: %v", res.Err)
		if errors.Is(res.Err, context.DeadlineExceeded) {
			detail = "text extraction timed out"
		}
		p.d.Security.Emit(ctx, models.SecurityProcessingError, ev.ChatID, ev.UserLabel(), detail)
		return empty, true, nil
	}

	c, err := p.d.Normalizer.Normalize(ev.ChatID, res.Text, models.SourceOCR)
	if errors.Is(err, pkgerrors.ErrEmptyContent) {
		return empty, false, nil
	}
	if out, rejected := p.contentRejection(ctx, ev, err); rejected {
		out.Fingerprint = fingerprint
		return empty, false, &out
	}
	// Images dedup on their bytes, not on the extracted text.
	c.Fingerprint = fingerprint
	return c, false, nil
}

func (p *Pipeline) contentRejection(ctx context.Context, ev models.InboundEvent, err error) (models.Outcome, bool) {
	switch {
	case err == nil:
		return models.Outcome{}, false
	case pkgerrors.IsOversized(err):
		return p.oversized(ctx, ev, err.Error()), true
	case errors.Is(err, pkgerrors.ErrEmptyContent):
		return models.Rejected(models.ReasonEmptyContent), true
	default:
		p.d.Logger.ErrorwCtx(ctx, "Normalization failed", "error", err)
		return models.Rejected(models.ReasonInvalid), true
	}
}

func (p *Pipeline) oversized(ctx context.Context, ev models.InboundEvent, detail string) models.Outcome {
	p.d.Security.Emit(ctx, models.SecurityOversizedPayload, ev.ChatID, ev.UserLabel(), detail)
	return models.Rejected(models.ReasonOversized)
}

func canceled(fingerprint string) models.Outcome {
	return models.Outcome{Status: models.StatusFailed, Reason: models.ReasonCanceled, Fingerprint: fingerprint}
}
