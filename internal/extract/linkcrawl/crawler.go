// Package linkcrawl is the last extraction tier: when a message carries no
// usable attachment, follow download links found in the body text and sniff
// whatever comes back. Fetched bytes re-enter the regular tiers, so a linked
// XML document still avoids the paid vision call.
package linkcrawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNoLinks means the body text contained nothing crawlable.
	ErrNoLinks = errors.New("no_crawlable_links")
	// ErrNothingUsable means links were followed but none yielded a
	// recognized document type.
	ErrNothingUsable = errors.New("no_usable_linked_document")
)

// DocKind is what the byte-signature sniffer decided a download is.
// Extensions and Content-Type headers are advisory at best and are ignored.
type DocKind string

const (
	KindXML     DocKind = "xml"
	KindPDF     DocKind = "pdf"
	KindImage   DocKind = "image"
	KindUnknown DocKind = "unknown"
	KindBinary  DocKind = "binary_executable"
)

// Fetched is one successfully downloaded, sniffed document.
type Fetched struct {
	URL      string
	Kind     DocKind
	Filename string
	Data     []byte
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// ExtractLinks pulls candidate URLs out of free-form body text, in order of
// appearance, deduplicated.
func ExtractLinks(body string) []string {
	seen := make(map[string]bool)
	var links []string
	for _, raw := range urlPattern.FindAllString(body, -1) {
		link := strings.TrimRight(raw, ".,;")
		parsed, err := url.Parse(link)
		if err != nil || parsed.Host == "" {
			continue
		}
		if seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}
	return links
}

// Sniff classifies a payload by leading byte signature.
func Sniff(data []byte) DocKind {
	switch {
	case len(data) >= 4 && string(data[:4]) == "%PDF":
		return KindPDF
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return KindImage
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return KindImage
	case len(data) >= 2 && string(data[:2]) == "MZ":
		return KindBinary
	case len(data) >= 4 && string(data[:4]) == "\x7fELF":
		return KindBinary
	case looksLikeXML(data):
		return KindXML
	default:
		return KindUnknown
	}
}

func looksLikeXML(data []byte) bool {
	trimmed := strings.TrimLeft(string(data), " \t\r\n\uFEFF")
	return strings.HasPrefix(trimmed, "<")
}

// Config bounds a crawl so a hostile or broken page cannot stall a worker.
type Config struct {
	MaxLinks     int
	MaxBodyBytes int64
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxLinks <= 0 {
		c.MaxLinks = 5
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 16 << 20
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

type Crawler struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewCrawler(cfg Config, log *zap.Logger) *Crawler {
	cfg = cfg.withDefaults()
	return &Crawler{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.FetchTimeout},
		log:  log.Named("linkcrawl"),
	}
}

// Crawl follows links from the body text and returns every download that
// sniffed as a document type the pipeline can process. Fetch failures on
// individual links are logged and skipped; only an empty result is an error.
func (c *Crawler) Crawl(ctx context.Context, body string) ([]Fetched, error) {
	links := ExtractLinks(body)
	if len(links) == 0 {
		return nil, ErrNoLinks
	}
	if len(links) > c.cfg.MaxLinks {
		links = links[:c.cfg.MaxLinks]
	}

	var docs []Fetched
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := c.fetch(ctx, link)
		if err != nil {
			c.log.Warn("link fetch failed", zap.String("url", link), zap.Error(err))
			continue
		}
		switch doc.Kind {
		case KindBinary:
			c.log.Warn("linked download is an executable, discarding", zap.String("url", link))
		case KindUnknown:
			c.log.Debug("linked download has no recognized signature", zap.String("url", link))
		default:
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil, ErrNothingUsable
	}
	return docs, nil
}

func (c *Crawler) fetch(ctx context.Context, link string) (Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return Fetched{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Fetched{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Fetched{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return Fetched{}, err
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return Fetched{}, fmt.Errorf("body exceeds %d bytes", c.cfg.MaxBodyBytes)
	}

	return Fetched{
		URL:      link,
		Kind:     Sniff(data),
		Filename: filenameFrom(link),
		Data:     data,
	}, nil
}

func filenameFrom(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	return parts[len(parts)-1]
}
