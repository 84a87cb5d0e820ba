// Package mapping translates extracted field values into the canonical
// invoice model through a single declarative matrix. Every canonical field
// has one row naming where it comes from in each extraction tier, how its
// raw string is converted, and whether the document is unusable without it.
// Adding a field means adding a row, not another ad-hoc conditional.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/facturio/internal/invoice/domain"
)

// Origin names which extraction tier produced the value map, and therefore
// which key column of the matrix applies.
type Origin string

const (
	OriginStructured Origin = "structured"
	OriginVision     Origin = "vision"
)

// MappingError reports required canonical fields the source did not provide,
// or a value that failed conversion. It is permanent for the payload: the
// same document will fail the same way on every retry.
type MappingError struct {
	Missing []string
	Field   string
	Cause   error
}

func (e *MappingError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("mapping: required fields missing: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("mapping: field %s: %v", e.Field, e.Cause)
}

func (e *MappingError) Unwrap() error { return e.Cause }

type row struct {
	field          string
	structuredPath string
	visionKey      string
	required       bool
	assign         func(inv *domain.CanonicalInvoice, raw string) error
}

// The matrix. Tax RATES (percentages) have no row on purpose: only amounts
// reach the canonical totals, and the vision keys are the amount-suffixed
// ones so a rate percentage can never be mistaken for money.
var matrix = []row{
	{
		field: "issuer_tax_id", structuredPath: "Encabezado.Emisor.RUCEmisor", visionKey: "issuer_tax_id", required: true,
		assign: func(inv *domain.CanonicalInvoice, raw string) error { inv.IssuerID = raw; return nil },
	},
	{
		field: "receiver_tax_id", structuredPath: "Encabezado.Receptor.DocRecep", visionKey: "receiver_tax_id",
		assign: func(inv *domain.CanonicalInvoice, raw string) error { inv.ReceiverID = raw; return nil },
	},
	{
		field: "document_number", structuredPath: "Encabezado.IdDoc.Nro", visionKey: "document_number", required: true,
		assign: func(inv *domain.CanonicalInvoice, raw string) error { inv.DocumentNumber = raw; return nil },
	},
	{
		field: "issue_date", structuredPath: "Encabezado.IdDoc.FchEmis", visionKey: "issue_date",
		assign: func(inv *domain.CanonicalInvoice, raw string) error {
			date, err := ParseDate(raw)
			if err != nil {
				return err
			}
			inv.IssueDate = date
			return nil
		},
	},
	{
		field: "currency", structuredPath: "Encabezado.Totales.TpoMoneda", visionKey: "currency",
		assign: func(inv *domain.CanonicalInvoice, raw string) error { inv.Currency = raw; return nil },
	},
	{
		field: "exempt_amount", structuredPath: "Encabezado.Totales.MntNoGrv", visionKey: "exempt_amount",
		assign: amount(func(t *domain.Totals) *int64 { return &t.ExemptAmount }),
	},
	{
		field: "net_amount_min_rate", structuredPath: "Encabezado.Totales.MntNetoIvaTasaMin", visionKey: "net_amount_min_rate",
		assign: amount(func(t *domain.Totals) *int64 { return &t.NetAmountMinRate }),
	},
	{
		field: "net_amount_basic_rate", structuredPath: "Encabezado.Totales.MntNetoIVATasaBasica", visionKey: "net_amount_basic_rate",
		assign: amount(func(t *domain.Totals) *int64 { return &t.NetAmountBasicRate }),
	},
	{
		field: "tax_amount_min_rate", structuredPath: "Encabezado.Totales.MntIVATasaMin", visionKey: "tax_amount_min_rate",
		assign: amount(func(t *domain.Totals) *int64 { return &t.TaxAmountMinRate }),
	},
	{
		field: "tax_amount_basic_rate", structuredPath: "Encabezado.Totales.MntIVATasaBasica", visionKey: "tax_amount_basic_rate",
		assign: amount(func(t *domain.Totals) *int64 { return &t.TaxAmountBasicRate }),
	},
	{
		field: "discount_amount", structuredPath: "Encabezado.Totales.MntDescuentoGlobal", visionKey: "discount_amount",
		assign: amount(func(t *domain.Totals) *int64 { return &t.DiscountAmount }),
	},
	{
		field: "advance_amount", structuredPath: "Encabezado.Totales.MntAnticipo", visionKey: "advance_amount",
		assign: amount(func(t *domain.Totals) *int64 { return &t.AdvanceAmount }),
	},
	{
		field: "grand_total", structuredPath: "Encabezado.Totales.MntTotal", visionKey: "grand_total", required: true,
		assign: amount(func(t *domain.Totals) *int64 { return &t.GrandTotal }),
	},
}

func amount(target func(*domain.Totals) *int64) func(*domain.CanonicalInvoice, string) error {
	return func(inv *domain.CanonicalInvoice, raw string) error {
		cents, err := ParseAmount(raw)
		if err != nil {
			return err
		}
		*target(&inv.Totals) = cents
		return nil
	}
}

func (r row) key(origin Origin) string {
	if origin == OriginVision {
		return r.visionKey
	}
	return r.structuredPath
}

// Map applies the matrix to a flat value map from the given origin. Fields
// the source omits keep their zero value; missing required fields or a
// value that will not convert return a *MappingError.
func Map(origin Origin, values map[string]string) (*domain.CanonicalInvoice, error) {
	inv := &domain.CanonicalInvoice{}
	var missing []string
	for _, r := range matrix {
		raw := strings.TrimSpace(values[r.key(origin)])
		if raw == "" {
			if r.required {
				missing = append(missing, r.field)
			}
			continue
		}
		if err := r.assign(inv, raw); err != nil {
			return nil, &MappingError{Field: r.field, Cause: err}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MappingError{Missing: missing}
	}
	return inv, nil
}

// DedupKey composes the canonical document identity from issuer tax id,
// serial and number. Empty when the identity is incomplete.
func DedupKey(issuerTaxID, serial, number string) string {
	issuerTaxID = strings.TrimSpace(issuerTaxID)
	number = strings.TrimSpace(number)
	if issuerTaxID == "" || number == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", issuerTaxID, strings.TrimSpace(serial), number)
}

// TaxRateCodeFromIndicator maps a line-level tax indicator to the canonical
// rate code. Unknown indicators map to empty rather than guessing.
func TaxRateCodeFromIndicator(indicator string) string {
	switch strings.TrimSpace(indicator) {
	case "1":
		return "exempt"
	case "2":
		return "min"
	case "3":
		return "basic"
	default:
		return ""
	}
}

// ParseQuantity parses a line quantity, which unlike money may be
// fractional.
func ParseQuantity(raw string) (float64, error) {
	q, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("quantity %q: %w", raw, err)
	}
	return q, nil
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05"}

// ParseDate accepts the date shapes seen across document formats and vision
// output.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// ParseAmount converts a decimal money string to minor units (cents).
// Thousands separators are tolerated; more than two decimal places are not.
func ParseAmount(raw string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, errors.New("empty amount")
	}
	neg := false
	if strings.HasPrefix(cleaned, "-") {
		neg = true
		cleaned = cleaned[1:]
	}
	whole, frac := cleaned, "00"
	if i := strings.IndexByte(cleaned, '.'); i >= 0 {
		whole, frac = cleaned[:i], cleaned[i+1:]
		switch len(frac) {
		case 0:
			frac = "00"
		case 1:
			frac += "0"
		case 2:
		default:
			return 0, fmt.Errorf("amount %q has more than two decimal places", raw)
		}
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", raw, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", raw, err)
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}
