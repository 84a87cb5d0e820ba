package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	accountdomain "github.com/smallbiznis/facturio/internal/account/domain"
	"github.com/smallbiznis/facturio/internal/matcher"
)

// imapSession implements Session over go-imap v2.
type imapSession struct {
	client *imapclient.Client
	folder string
}

// DialIMAP is the production DialFunc: TLS connect, login, select folder.
func DialIMAP(ctx context.Context, account accountdomain.MailboxAccount) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientIO, err)
	}

	var (
		client *imapclient.Client
		err    error
	)
	if account.UseTLS {
		client, err = imapclient.DialTLS(account.Address(), nil)
	} else {
		client, err = imapclient.DialStartTLS(account.Address(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransientIO, account.Address(), err)
	}

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrAuthentication, account.Username, err)
	}

	folder := account.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: select %s: %v", ErrTransientIO, folder, err)
	}

	return &imapSession{client: client, folder: folder}, nil
}

func (s *imapSession) FetchMetadata(ctx context.Context, mode ScanMode, window *Window) ([]matcher.MessageMetadata, error) {
	criteria := &imap.SearchCriteria{}
	switch mode {
	case ScanFullRange:
		if window != nil {
			criteria.Since = window.Since
			criteria.Before = window.Before
		}
	default:
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrTransientIO, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		UID:           true,
		Envelope:      true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	})
	messages, err := fetchCmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch metadata: %v", ErrTransientIO, err)
	}

	out := make([]matcher.MessageMetadata, 0, len(messages))
	for _, msg := range messages {
		if msg.Envelope == nil {
			continue
		}
		meta := matcher.MessageMetadata{
			UID:       uint32(msg.UID),
			MessageID: msg.Envelope.MessageID,
			Subject:   msg.Envelope.Subject,
		}
		if !msg.Envelope.Date.IsZero() {
			meta.ReceivedAt = msg.Envelope.Date
		}
		if len(msg.Envelope.From) > 0 {
			meta.SenderAddress = msg.Envelope.From[0].Addr()
			meta.SenderName = msg.Envelope.From[0].Name
		}
		if msg.BodyStructure != nil {
			meta.AttachmentNames = attachmentNames(msg.BodyStructure)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *imapSession) FetchRaw(ctx context.Context, uid uint32) ([]byte, error) {
	var uidSet imap.UIDSet
	uidSet.AddNum(imap.UID(uid))

	section := &imap.FetchItemBodySection{}
	messages, err := s.client.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch body uid=%d: %v", ErrTransientIO, uid, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: uid %d not found in %s", ErrTransientIO, uid, s.folder)
	}
	raw := messages[0].FindBodySection(section)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body for uid %d", ErrTransientIO, uid)
	}
	return raw, nil
}

func (s *imapSession) Check(ctx context.Context) error {
	if err := s.client.Noop().Wait(); err != nil {
		return fmt.Errorf("%w: noop: %v", ErrTransientIO, err)
	}
	return nil
}

func (s *imapSession) Close() error {
	return s.client.Close()
}

// attachmentNames walks the body structure and collects part filenames,
// without downloading any part content.
func attachmentNames(bs imap.BodyStructure) []string {
	var names []string
	bs.Walk(func(path []int, part imap.BodyStructure) bool {
		single, ok := part.(*imap.BodyStructureSinglePart)
		if !ok {
			return true
		}
		if name := strings.TrimSpace(single.Filename()); name != "" {
			names = append(names, name)
		}
		return true
	})
	return names
}
