package linkcrawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractLinksDeduplicatesAndTrims(t *testing.T) {
	body := `Su factura: https://billing.example.com/dl/42.pdf.
Otra vez https://billing.example.com/dl/42.pdf y el portal http://portal.example.com/login`

	links := ExtractLinks(body)
	assert.Equal(t, []string{
		"https://billing.example.com/dl/42.pdf",
		"http://portal.example.com/login",
	}, links)
}

func TestExtractLinksIgnoresNonLinks(t *testing.T) {
	assert.Empty(t, ExtractLinks("gracias por su compra, sin adjuntos"))
}

func TestSniffTrustsBytesNotNames(t *testing.T) {
	assert.Equal(t, KindPDF, Sniff([]byte("%PDF-1.4 ...")))
	assert.Equal(t, KindXML, Sniff([]byte("\n<CFE version=\"1.0\">")))
	assert.Equal(t, KindImage, Sniff([]byte("\x89PNG\r\n\x1a\nrest")))
	assert.Equal(t, KindImage, Sniff([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	assert.Equal(t, KindBinary, Sniff([]byte("MZ\x90\x00")))
	assert.Equal(t, KindBinary, Sniff([]byte("\x7fELF\x02")))
	assert.Equal(t, KindUnknown, Sniff([]byte("plain text receipt")))
}

func TestCrawlFetchesAndClassifies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/factura.xml":
			// Deliberately wrong Content-Type: only bytes matter.
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte(`<CFE version="1.0"><eFact/></CFE>`))
		case "/malware.pdf":
			_, _ = w.Write([]byte("MZ\x90\x00executable"))
		case "/gone":
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	body := strings.Join([]string{
		"Descargue aqui: " + server.URL + "/factura.xml",
		"y " + server.URL + "/malware.pdf",
		"tambien " + server.URL + "/gone",
	}, "\n")

	crawler := NewCrawler(Config{}, zaptest.NewLogger(t))
	docs, err := crawler.Crawl(context.Background(), body)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, KindXML, docs[0].Kind)
	assert.Equal(t, "factura.xml", docs[0].Filename)
}

func TestCrawlWithNoLinks(t *testing.T) {
	crawler := NewCrawler(Config{}, zaptest.NewLogger(t))
	_, err := crawler.Crawl(context.Background(), "nada que seguir")
	assert.ErrorIs(t, err, ErrNoLinks)
}

func TestCrawlWithNothingUsable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text, not a document"))
	}))
	defer server.Close()

	crawler := NewCrawler(Config{}, zaptest.NewLogger(t))
	_, err := crawler.Crawl(context.Background(), server.URL+"/page")
	assert.ErrorIs(t, err, ErrNothingUsable)
}

func TestCrawlEnforcesBodySizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7 " + strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	crawler := NewCrawler(Config{MaxBodyBytes: 1024}, zaptest.NewLogger(t))
	_, err := crawler.Crawl(context.Background(), server.URL+"/big.pdf")
	assert.ErrorIs(t, err, ErrNothingUsable)
}

func TestCrawlHonorsLinkLimit(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	body := strings.Join([]string{
		server.URL + "/a.pdf",
		server.URL + "/b.pdf",
		server.URL + "/c.pdf",
	}, " ")

	crawler := NewCrawler(Config{MaxLinks: 2}, zaptest.NewLogger(t))
	docs, err := crawler.Crawl(context.Background(), body)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, hits)
}
