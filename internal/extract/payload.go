package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrEmptyPayload means the source yielded no attachments and no body text,
// so no extraction tier has anything to work with.
var ErrEmptyPayload = errors.New("empty_payload")

// Attachment is one MIME part pulled out of a message, or a manually
// uploaded file. DeclaredType is whatever the sender claimed; tier selection
// sniffs the bytes instead of trusting it.
type Attachment struct {
	Filename     string
	DeclaredType string
	Data         []byte
}

// Payload is the normalized input to the tiered extraction engine,
// regardless of whether it came from a mailbox or a manual upload.
type Payload struct {
	Attachments []Attachment
	BodyText    string
}

func (p *Payload) empty() bool {
	return len(p.Attachments) == 0 && strings.TrimSpace(p.BodyText) == ""
}

// ParseMessage decomposes a raw RFC 5322 message into attachments and the
// plain-text body.
func ParseMessage(raw []byte) (*Payload, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer reader.Close()

	payload := &Payload{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read message part: %w", err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("read body part: %w", err)
			}
			// Prefer text/plain, but keep an HTML body if that is all
			// there is: link crawling still finds URLs inside markup.
			if contentType == "text/plain" || payload.BodyText == "" {
				if text := string(body); strings.TrimSpace(text) != "" {
					payload.BodyText = text
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			contentType, _, _ := header.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment %q: %w", filename, err)
			}
			payload.Attachments = append(payload.Attachments, Attachment{
				Filename:     filename,
				DeclaredType: contentType,
				Data:         data,
			})
		}
	}

	if payload.empty() {
		return nil, ErrEmptyPayload
	}
	return payload, nil
}

// UploadPayload wraps a manually uploaded file as a single-attachment
// payload.
func UploadPayload(filename, declaredType string, data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return &Payload{
		Attachments: []Attachment{{Filename: filename, DeclaredType: declaredType, Data: data}},
	}, nil
}
