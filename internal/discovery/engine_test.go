package discovery

import (
	"context"
	"testing"
	"time"

	accountdomain "github.com/smallbiznis/facturio/internal/account/domain"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/matcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type metadataSession struct {
	metas     []matcher.MessageMetadata
	lastMode  mailbox.ScanMode
	rawCalled bool
}

func (s *metadataSession) FetchMetadata(_ context.Context, mode mailbox.ScanMode, _ *mailbox.Window) ([]matcher.MessageMetadata, error) {
	s.lastMode = mode
	return s.metas, nil
}
func (s *metadataSession) FetchRaw(context.Context, uint32) ([]byte, error) {
	s.rawCalled = true
	return nil, nil
}
func (s *metadataSession) Check(context.Context) error { return nil }
func (s *metadataSession) Close() error                { return nil }

func testMetas() []matcher.MessageMetadata {
	return []matcher.MessageMetadata{
		{UID: 10, Subject: "Factura Electrónica — Marzo", SenderAddress: "billing@acme.example", ReceivedAt: time.Now()},
		{UID: 11, Subject: "Newsletter semanal"},
		{UID: 12, Subject: "FACTURACIÓN mensual"},
	}
}

func testRules() matcher.Rules {
	return matcher.Rules{
		Terms:    []string{"factura electronica"},
		Synonyms: map[string]string{"facturación": "factura electronica"},
	}
}

func TestDiscoverYieldsOnlyMatches(t *testing.T) {
	session := &metadataSession{metas: testMetas()}
	engine := NewEngine(zap.NewNop())
	account := accountdomain.MailboxAccount{ID: 7, TenantID: 3}

	var got []SourceCandidate
	err := engine.Discover(context.Background(), session, account, testRules(), mailbox.ScanUnseen, nil, func(c SourceCandidate) bool {
		got = append(got, c)
		return true
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "imap:7:10", got[0].SourceID)
	assert.Equal(t, matcher.MatchSourceSubject, got[0].MatchSource)
	assert.Equal(t, "imap:7:12", got[1].SourceID)
	assert.Equal(t, "facturación", got[1].MatchTerm)
	assert.False(t, session.rawCalled, "discovery must never fetch full content")
}

func TestDiscoverStopsWhenYieldReturnsFalse(t *testing.T) {
	session := &metadataSession{metas: testMetas()}
	engine := NewEngine(zap.NewNop())

	count := 0
	err := engine.Discover(context.Background(), session, accountdomain.MailboxAccount{ID: 7}, testRules(), mailbox.ScanUnseen, nil, func(SourceCandidate) bool {
		count++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDiscoverPassesModeThrough(t *testing.T) {
	session := &metadataSession{}
	engine := NewEngine(zap.NewNop())
	window := &mailbox.Window{Since: time.Now().Add(-24 * time.Hour), Before: time.Now()}

	err := engine.Discover(context.Background(), session, accountdomain.MailboxAccount{}, testRules(), mailbox.ScanFullRange, window, func(SourceCandidate) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, mailbox.ScanFullRange, session.lastMode)
}
