package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStructuredValues(t *testing.T) {
	inv, err := Map(OriginStructured, map[string]string{
		"Encabezado.Emisor.RUCEmisor":             "211234560012",
		"Encabezado.Receptor.DocRecep":            "219876540015",
		"Encabezado.IdDoc.Nro":                    "101",
		"Encabezado.IdDoc.FchEmis":                "2026-03-14",
		"Encabezado.Totales.TpoMoneda":            "UYU",
		"Encabezado.Totales.MntNetoIVATasaBasica": "1000.00",
		"Encabezado.Totales.MntIVATasaBasica":     "220.00",
		"Encabezado.Totales.MntTotal":             "1540.00",
	})
	require.NoError(t, err)

	assert.Equal(t, "211234560012", inv.IssuerID)
	assert.Equal(t, "219876540015", inv.ReceiverID)
	assert.Equal(t, "101", inv.DocumentNumber)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), inv.IssueDate)
	assert.Equal(t, int64(100000), inv.Totals.NetAmountBasicRate)
	assert.Equal(t, int64(22000), inv.Totals.TaxAmountBasicRate)
	assert.Equal(t, int64(154000), inv.Totals.GrandTotal)
	assert.Zero(t, inv.Totals.ExemptAmount, "absent optional fields stay neutral")
	assert.Zero(t, inv.Totals.DiscountAmount)
}

func TestMapVisionValues(t *testing.T) {
	inv, err := Map(OriginVision, map[string]string{
		"issuer_tax_id":   "211234560012",
		"document_number": "101",
		"grand_total":     "1,540.00",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(154000), inv.Totals.GrandTotal)
}

func TestRatePercentageNeverReadAsAmount(t *testing.T) {
	// A source offering only rate percentages has no usable amount keys:
	// the matrix must leave the amount fields untouched.
	inv, err := Map(OriginVision, map[string]string{
		"issuer_tax_id":   "211234560012",
		"document_number": "101",
		"grand_total":     "1540.00",
		"tax_basic_rate":  "22",
		"tax_min_rate":    "10",
	})
	require.NoError(t, err)
	assert.Zero(t, inv.Totals.TaxAmountBasicRate)
	assert.Zero(t, inv.Totals.TaxAmountMinRate)
}

func TestMapMissingRequiredFields(t *testing.T) {
	_, err := Map(OriginVision, map[string]string{"currency": "UYU"})
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, []string{"document_number", "grand_total", "issuer_tax_id"}, mapErr.Missing)
}

func TestMapRejectsUnparseableAmount(t *testing.T) {
	_, err := Map(OriginVision, map[string]string{
		"issuer_tax_id":   "211234560012",
		"document_number": "101",
		"grand_total":     "mil quinientos",
	})
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "grand_total", mapErr.Field)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"1540.00": 154000,
		"1,540.5": 154050,
		"0.07":    7,
		"100":     10000,
		"-12.34":  -1234,
		".50":     50,
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "12.345", "abc"} {
		_, err := ParseAmount(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseDateLayouts(t *testing.T) {
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2026-03-14", "14/03/2026"} {
		got, err := ParseDate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseDate("marzo 14")
	assert.Error(t, err)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "211234560012:A:101", DedupKey("211234560012", "A", "101"))
	assert.Equal(t, "211234560012::101", DedupKey("211234560012", "", "101"))
	assert.Empty(t, DedupKey("", "A", "101"))
	assert.Empty(t, DedupKey("211234560012", "A", " "))
}

func TestTaxRateCodeFromIndicator(t *testing.T) {
	assert.Equal(t, "exempt", TaxRateCodeFromIndicator("1"))
	assert.Equal(t, "min", TaxRateCodeFromIndicator("2"))
	assert.Equal(t, "basic", TaxRateCodeFromIndicator("3"))
	assert.Empty(t, TaxRateCodeFromIndicator("9"))
}
