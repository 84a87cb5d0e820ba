// Package structured parses the CFE electronic-invoice XML envelope, the
// versioned fiscal document format carried as a mail attachment. Parsing is
// free of any external service cost, so it is always the first tier tried.
package structured

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotStructured means the payload is not a CFE document at all;
	// the caller should fall through to the next extraction tier.
	ErrNotStructured = errors.New("payload_not_structured")
	// ErrUnsupportedVersion means a CFE envelope with a schema version
	// this parser does not understand. Permanent for this payload.
	ErrUnsupportedVersion = errors.New("unsupported_cfe_version")
	// ErrMalformed means the envelope looked like CFE but did not parse.
	ErrMalformed = errors.New("malformed_cfe")
)

var supportedVersions = map[string]bool{
	"1.0": true,
	"1.1": true,
}

// Envelope is the top-level CFE wrapper.
type Envelope struct {
	XMLName xml.Name `xml:"CFE"`
	Version string   `xml:"version,attr"`
	Invoice *Invoice `xml:"eFact"`
}

// Invoice is the electronic invoice variant of the envelope.
type Invoice struct {
	Header Header `xml:"Encabezado"`
	Lines  []Line `xml:"Detalle>Item"`
}

type Header struct {
	IDDoc    IDDoc    `xml:"IdDoc"`
	Issuer   Issuer   `xml:"Emisor"`
	Receiver Receiver `xml:"Receptor"`
	Totals   Totals   `xml:"Totales"`
}

type IDDoc struct {
	Type     int    `xml:"TipoCFE"`
	Serial   string `xml:"Serie"`
	Number   string `xml:"Nro"`
	IssuedOn string `xml:"FchEmis"`
}

type Issuer struct {
	RUC  string `xml:"RUCEmisor"`
	Name string `xml:"RznSoc"`
}

type Receiver struct {
	Doc  string `xml:"DocRecep"`
	Name string `xml:"RznSocRecep"`
}

// Totals mirrors the schema's amount block. IVATasaMin and IVATasaBasica are
// tax RATES (e.g. "10", "22"); the amounts carry the Mnt prefix. Confusing
// the two is the classic mapping mistake this naming guards against.
type Totals struct {
	Currency     string `xml:"TpoMoneda"`
	Exempt       string `xml:"MntNoGrv"`
	NetMinRate   string `xml:"MntNetoIvaTasaMin"`
	NetBasicRate string `xml:"MntNetoIVATasaBasica"`
	RateMin      string `xml:"IVATasaMin"`
	RateBasic    string `xml:"IVATasaBasica"`
	TaxMinRate   string `xml:"MntIVATasaMin"`
	TaxBasicRate string `xml:"MntIVATasaBasica"`
	Discount     string `xml:"MntDescuentoGlobal"`
	Advance      string `xml:"MntAnticipo"`
	GrandTotal   string `xml:"MntTotal"`
}

type Line struct {
	TaxCode     string `xml:"IndFact"`
	Description string `xml:"NomItem"`
	Quantity    string `xml:"Cant"`
	UnitPrice   string `xml:"PrecioUnitario"`
	LineTotal   string `xml:"MontoItem"`
}

// Detect cheaply reports whether data looks like a CFE envelope, without a
// full parse.
func Detect(data []byte) bool {
	trimmed := bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}
	head := trimmed
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<CFE"))
}

// Parse decodes and validates a CFE envelope.
func Parse(data []byte) (*Envelope, error) {
	if !Detect(data) {
		return nil, ErrNotStructured
	}

	var envelope Envelope
	if err := xml.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !supportedVersions[strings.TrimSpace(envelope.Version)] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, envelope.Version)
	}
	if envelope.Invoice == nil {
		return nil, fmt.Errorf("%w: missing eFact body", ErrMalformed)
	}
	return &envelope, nil
}

// ControlCode is the document's own unique identity: issuer tax id, serial
// and number. It is the primary dedup key for canonical invoices.
func (e *Envelope) ControlCode() string {
	id := e.Invoice.Header.IDDoc
	issuer := strings.TrimSpace(e.Invoice.Header.Issuer.RUC)
	if issuer == "" || strings.TrimSpace(id.Number) == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", issuer, strings.TrimSpace(id.Serial), strings.TrimSpace(id.Number))
}

// Flatten projects the envelope onto schema-path keys for the field mapping
// matrix.
func (e *Envelope) Flatten() map[string]string {
	header := e.Invoice.Header
	return map[string]string{
		"Encabezado.IdDoc.Serie":                  header.IDDoc.Serial,
		"Encabezado.IdDoc.Nro":                    header.IDDoc.Number,
		"Encabezado.IdDoc.FchEmis":                header.IDDoc.IssuedOn,
		"Encabezado.Emisor.RUCEmisor":             header.Issuer.RUC,
		"Encabezado.Receptor.DocRecep":            header.Receiver.Doc,
		"Encabezado.Totales.TpoMoneda":            header.Totals.Currency,
		"Encabezado.Totales.MntNoGrv":             header.Totals.Exempt,
		"Encabezado.Totales.MntNetoIvaTasaMin":    header.Totals.NetMinRate,
		"Encabezado.Totales.MntNetoIVATasaBasica": header.Totals.NetBasicRate,
		"Encabezado.Totales.MntIVATasaMin":        header.Totals.TaxMinRate,
		"Encabezado.Totales.MntIVATasaBasica":     header.Totals.TaxBasicRate,
		"Encabezado.Totales.MntDescuentoGlobal":   header.Totals.Discount,
		"Encabezado.Totales.MntAnticipo":          header.Totals.Advance,
		"Encabezado.Totales.MntTotal":             header.Totals.GrandTotal,
	}
}
