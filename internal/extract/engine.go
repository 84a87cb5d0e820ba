// Package extract runs the tiered extraction pipeline for one claimed
// document: native structured parsing first, the paid vision service second,
// link crawling as the last resort. Cheaper tiers always run first, and the
// vision tier never fires without quota to spend.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturio/internal/clock"
	"github.com/smallbiznis/facturio/internal/extract/linkcrawl"
	"github.com/smallbiznis/facturio/internal/extract/structured"
	"github.com/smallbiznis/facturio/internal/extract/vision"
	invdomain "github.com/smallbiznis/facturio/internal/invoice/domain"
	leddomain "github.com/smallbiznis/facturio/internal/ledger/domain"
	"github.com/smallbiznis/facturio/internal/mapping"
	"github.com/smallbiznis/facturio/internal/observability/metrics"
	"github.com/smallbiznis/facturio/internal/quota"
)

// ErrQuotaExhausted means the tenant has no vision allowance left and the
// document needs a paid tier. The ledger records skipped_quota, which does
// not count against the retry budget.
var ErrQuotaExhausted = errors.New("vision_quota_exhausted")

// ErrNoUsableContent means no tier could get a document out of the payload.
var ErrNoUsableContent = errors.New("no_usable_content")

// errInfra marks an infrastructure failure unrelated to the document itself,
// which should be retried rather than recorded as a document failure.
var errInfra = errors.New("infrastructure_unavailable")

// Finalizer is the slice of the processing ledger the engine needs.
type Finalizer interface {
	Finalize(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string, outcome leddomain.Outcome, lastError string) error
}

// Sink persists the canonical result.
type Sink interface {
	Upsert(ctx context.Context, invoice *invdomain.CanonicalInvoice) error
}

// VisionClient is the paid extraction service.
type VisionClient interface {
	Extract(ctx context.Context, docs []vision.Document) (map[string]string, error)
}

// Crawler follows body links for attachment-less messages.
type Crawler interface {
	Crawl(ctx context.Context, body string) ([]linkcrawl.Fetched, error)
}

// Config bounds a single extraction run.
type Config struct {
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Engine drives one document through the tiers and reports the verdict to
// the ledger.
type Engine struct {
	cfg      Config
	ledger   Finalizer
	invoices Sink
	vision   VisionClient
	crawler  Crawler
	quota    quota.Service
	metrics  *metrics.PipelineMetrics
	clock    clock.Clock
	log      *zap.Logger
}

func NewEngine(
	cfg Config,
	ledger Finalizer,
	invoices Sink,
	visionClient VisionClient,
	crawler Crawler,
	quotaSvc quota.Service,
	clk clock.Clock,
	log *zap.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		ledger:   ledger,
		invoices: invoices,
		vision:   visionClient,
		crawler:  crawler,
		quota:    quotaSvc,
		metrics:  metrics.Pipeline(),
		clock:    clk,
		log:      log.Named("extract"),
	}
}

// Task is one claimed work item with its payload already fetched.
type Task struct {
	TenantID snowflake.ID
	SourceID string
	Claimant string
	Payload  *Payload
}

// Process runs the tiers for a task and finalizes its ledger record. The
// returned error reflects the extraction verdict; the ledger write itself
// failing is returned wrapped so the caller can surface it separately.
func (e *Engine) Process(ctx context.Context, task Task) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	started := e.clock.Now()
	result, err := e.extract(ctx, task)
	tier := metrics.TierNative
	if result.Tier != "" {
		tier = result.Tier
	}
	e.metrics.ObserveExtractionDuration(tier, e.clock.Now().Sub(started))

	if err == nil {
		invoice := result.Invoice
		invoice.TenantID = task.TenantID
		invoice.SourceID = task.SourceID
		invoice.ExtractionMethod = methodFor(result.Tier)
		if upsertErr := e.invoices.Upsert(ctx, invoice); upsertErr != nil {
			e.log.Error("canonical upsert failed",
				zap.String("source_id", task.SourceID), zap.Error(upsertErr))
			return e.finalize(ctx, task, tier, leddomain.OutcomeRetryRequested, upsertErr.Error())
		}
		e.log.Info("document extracted",
			zap.String("source_id", task.SourceID),
			zap.String("tier", result.Tier),
			zap.String("dedup_key", invoice.DedupKey))
		return e.finalize(ctx, task, tier, leddomain.OutcomeCompleted, "")
	}

	outcome := classify(err)
	if outcome == leddomain.OutcomeSkippedQuota {
		e.metrics.IncQuotaSkip(task.TenantID.String())
	}
	e.log.Warn("extraction did not complete",
		zap.String("source_id", task.SourceID),
		zap.String("tier", tier),
		zap.String("outcome", string(outcome)),
		zap.Error(err))
	return e.finalize(ctx, task, tier, outcome, err.Error())
}

func (e *Engine) finalize(ctx context.Context, task Task, tier string, outcome leddomain.Outcome, lastError string) error {
	e.metrics.IncExtractionOutcome(tier, string(outcome))
	// Finalization must land even when the extraction context expired.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	if err := e.ledger.Finalize(ctx, task.TenantID, task.SourceID, task.Claimant, outcome, lastError); err != nil {
		return fmt.Errorf("finalize %s as %s: %w", task.SourceID, outcome, err)
	}
	if outcome == leddomain.OutcomeCompleted {
		return nil
	}
	return fmt.Errorf("extraction %s: %s", outcome, lastError)
}

// Result is what a tier produced.
type Result struct {
	Tier    string
	Invoice *invdomain.CanonicalInvoice
}

func (e *Engine) extract(ctx context.Context, task Task) (Result, error) {
	if task.Payload == nil || task.Payload.empty() {
		return Result{}, ErrEmptyPayload
	}

	// Tier A: a native structured document costs nothing to parse.
	if result, handled, err := e.tryStructured(task.Payload.Attachments, metrics.TierNative); handled {
		return result, err
	}

	// Tier B: vision, only for payloads that actually carry an image or
	// PDF, and only with quota to spend.
	visionDocs := visionEligible(task.Payload.Attachments)
	if len(visionDocs) > 0 {
		result, err := e.tryVision(ctx, task.TenantID, visionDocs, metrics.TierVision)
		return result, err
	}

	// Tier C: nothing usable attached; follow links in the body and
	// re-enter the cheaper tiers on whatever they yield.
	return e.tryLinkCrawl(ctx, task)
}

func (e *Engine) tryStructured(attachments []Attachment, tier string) (Result, bool, error) {
	for _, att := range attachments {
		if !structured.Detect(att.Data) {
			continue
		}
		envelope, err := structured.Parse(att.Data)
		if err != nil {
			// Looked structured but is not usable. This is a property
			// of the document, not of the attempt.
			return Result{Tier: tier}, true, err
		}
		invoice, err := mapping.Map(mapping.OriginStructured, envelope.Flatten())
		if err != nil {
			return Result{Tier: tier}, true, err
		}
		invoice.DedupKey = envelope.ControlCode()
		if invoice.DedupKey == "" {
			return Result{Tier: tier}, true, invdomain.ErrMissingDedupKey
		}
		invoice.LineItems = linesFrom(envelope)
		return Result{Tier: tier, Invoice: invoice}, true, nil
	}
	return Result{}, false, nil
}

func (e *Engine) tryVision(ctx context.Context, tenantID snowflake.ID, docs []vision.Document, tier string) (Result, error) {
	remaining, err := e.quota.Remaining(ctx, tenantID)
	if err != nil {
		return Result{Tier: tier}, fmt.Errorf("%w: quota check: %v", errInfra, err)
	}
	if remaining <= 0 {
		return Result{Tier: tier}, ErrQuotaExhausted
	}

	fields, err := e.vision.Extract(ctx, docs)
	if err != nil {
		return Result{Tier: tier}, err
	}
	if consumeErr := e.quota.Consume(ctx, tenantID, 1); consumeErr != nil {
		// The call already happened; log and keep the result.
		e.log.Warn("quota consume failed after vision call", zap.Error(consumeErr))
	}

	invoice, err := mapping.Map(mapping.OriginVision, fields)
	if err != nil {
		return Result{Tier: tier}, err
	}
	invoice.DedupKey = mapping.DedupKey(fields["issuer_tax_id"], fields["serial"], fields["document_number"])
	if invoice.DedupKey == "" {
		return Result{Tier: tier}, invdomain.ErrMissingDedupKey
	}
	return Result{Tier: tier, Invoice: invoice}, nil
}

func (e *Engine) tryLinkCrawl(ctx context.Context, task Task) (Result, error) {
	fetched, err := e.crawler.Crawl(ctx, task.Payload.BodyText)
	if err != nil {
		if errors.Is(err, linkcrawl.ErrNoLinks) || errors.Is(err, linkcrawl.ErrNothingUsable) {
			return Result{Tier: metrics.TierLinkCrawl}, ErrNoUsableContent
		}
		return Result{Tier: metrics.TierLinkCrawl}, err
	}

	attachments := make([]Attachment, 0, len(fetched))
	for _, doc := range fetched {
		attachments = append(attachments, Attachment{Filename: doc.Filename, Data: doc.Data})
	}

	if result, handled, err := e.tryStructured(attachments, metrics.TierLinkCrawl); handled {
		return result, err
	}
	if docs := visionEligible(attachments); len(docs) > 0 {
		return e.tryVision(ctx, task.TenantID, docs, metrics.TierLinkCrawl)
	}
	return Result{Tier: metrics.TierLinkCrawl}, ErrNoUsableContent
}

// visionEligible selects attachments whose bytes sniff as a PDF or image.
// Declared content types and file extensions are not consulted.
func visionEligible(attachments []Attachment) []vision.Document {
	var docs []vision.Document
	for _, att := range attachments {
		switch linkcrawl.Sniff(att.Data) {
		case linkcrawl.KindPDF, linkcrawl.KindImage:
			docs = append(docs, vision.Document{
				Filename:    att.Filename,
				ContentType: att.DeclaredType,
				Data:        att.Data,
			})
		}
	}
	return docs
}

func linesFrom(envelope *structured.Envelope) []invdomain.LineItem {
	var items []invdomain.LineItem
	for _, line := range envelope.Invoice.Lines {
		item := invdomain.LineItem{
			Description: line.Description,
			TaxRateCode: mapping.TaxRateCodeFromIndicator(line.TaxCode),
		}
		if q, err := mapping.ParseQuantity(line.Quantity); err == nil {
			item.Quantity = q
		}
		if p, err := mapping.ParseAmount(line.UnitPrice); err == nil {
			item.UnitPrice = p
		}
		if t, err := mapping.ParseAmount(line.LineTotal); err == nil {
			item.LineTotal = t
		}
		items = append(items, item)
	}
	return items
}

func methodFor(tier string) invdomain.ExtractionMethod {
	switch tier {
	case metrics.TierVision:
		return invdomain.MethodAIVision
	case metrics.TierLinkCrawl:
		return invdomain.MethodLinkCrawl
	default:
		return invdomain.MethodNativeStructured
	}
}

// classify maps an extraction error to its ledger outcome. Transient
// conditions request a retry; everything else is permanent for the payload.
func classify(err error) leddomain.Outcome {
	switch {
	case errors.Is(err, ErrQuotaExhausted):
		return leddomain.OutcomeSkippedQuota
	case errors.Is(err, vision.ErrTransient),
		errors.Is(err, errInfra),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return leddomain.OutcomeRetryRequested
	default:
		return leddomain.OutcomeFailed
	}
}
