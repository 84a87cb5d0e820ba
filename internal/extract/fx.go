package extract

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturio/internal/clock"
	"github.com/smallbiznis/facturio/internal/config"
	"github.com/smallbiznis/facturio/internal/extract/linkcrawl"
	"github.com/smallbiznis/facturio/internal/extract/vision"
	invoicerepo "github.com/smallbiznis/facturio/internal/invoice/repository"
	ledgerrepo "github.com/smallbiznis/facturio/internal/ledger/repository"
	"github.com/smallbiznis/facturio/internal/quota"
)

// Module wires the tiered extraction engine and its tier clients.
var Module = fx.Module("extract",
	fx.Provide(
		NewVisionClient,
		NewLinkCrawler,
		ProvideEngine,
	),
)

func NewVisionClient(cfg config.Config) VisionClient {
	return vision.NewClient(vision.Config{
		BaseURL: cfg.VisionEndpoint,
		APIKey:  cfg.VisionAPIKey,
		Timeout: cfg.VisionTimeout,
	})
}

func NewLinkCrawler(log *zap.Logger) Crawler {
	return linkcrawl.NewCrawler(linkcrawl.Config{}, log)
}

func ProvideEngine(
	cfg config.Config,
	ledger *ledgerrepo.Ledger,
	invoices *invoicerepo.Repository,
	visionClient VisionClient,
	crawler Crawler,
	quotaSvc quota.Service,
	clk clock.Clock,
	log *zap.Logger,
) *Engine {
	return NewEngine(Config{Timeout: cfg.ExtractionTimeout}, ledger, invoices, visionClient, crawler, quotaSvc, clk, log)
}
