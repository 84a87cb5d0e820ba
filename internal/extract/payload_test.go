package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMessage(t *testing.T, body string) []byte {
	t.Helper()
	return []byte(strings.ReplaceAll(body, "\n", "\r\n"))
}

func TestParseMessageSplitsBodyAndAttachments(t *testing.T) {
	raw := rawMessage(t, `From: facturacion@proveedor.com
To: ap@cliente.com
Subject: Factura Marzo
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="frontier"

--frontier
Content-Type: text/plain; charset=utf-8

Adjuntamos la factura del mes.
--frontier
Content-Type: application/xml
Content-Disposition: attachment; filename="factura.xml"

<CFE version="1.0"><eFact/></CFE>
--frontier--
`)

	payload, err := ParseMessage(raw)
	require.NoError(t, err)

	assert.Contains(t, payload.BodyText, "Adjuntamos la factura")
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "factura.xml", payload.Attachments[0].Filename)
	assert.Equal(t, "application/xml", payload.Attachments[0].DeclaredType)
	assert.Contains(t, string(payload.Attachments[0].Data), "<CFE")
}

func TestParseMessagePrefersPlainTextOverHTML(t *testing.T) {
	raw := rawMessage(t, `From: a@b.c
To: d@e.f
Subject: x
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="alt"

--alt
Content-Type: text/html

<p>version html</p>
--alt
Content-Type: text/plain

version texto
--alt--
`)

	payload, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Contains(t, payload.BodyText, "version texto")
}

func TestParseMessageKeepsHTMLWhenNothingElse(t *testing.T) {
	raw := rawMessage(t, `From: a@b.c
To: d@e.f
Subject: x
MIME-Version: 1.0
Content-Type: text/html

<a href="https://billing.example.com/dl/9.pdf">descargar</a>
`)

	payload, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Contains(t, payload.BodyText, "https://billing.example.com/dl/9.pdf")
}

func TestParseMessageEmpty(t *testing.T) {
	raw := rawMessage(t, `From: a@b.c
To: d@e.f
Subject: x
Content-Type: text/plain

`)
	_, err := ParseMessage(raw)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestUploadPayload(t *testing.T) {
	payload, err := UploadPayload("factura.pdf", "application/pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "factura.pdf", payload.Attachments[0].Filename)

	_, err = UploadPayload("vacio.pdf", "application/pdf", nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}
