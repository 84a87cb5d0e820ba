package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseRules() Rules {
	return Rules{
		Terms: []string{"factura electronica"},
		Synonyms: map[string]string{
			"facturación": "factura electronica",
		},
	}
}

func TestNormalizeStripsAccentsAndPunctuation(t *testing.T) {
	assert.Equal(t, "factura electronica marzo", Normalize("Factura Electrónica — Marzo"))
	assert.Equal(t, "facturacion mensual", Normalize("FACTURACIÓN   mensual!!"))
	assert.Equal(t, "facturacion proveedor com", Normalize("facturacion@proveedor.com"))
	assert.Equal(t, "", Normalize("  —…  "))
}

func TestSubjectMatchWithAccents(t *testing.T) {
	match, ok := Matches(MessageMetadata{Subject: "Factura Electrónica — Marzo"}, baseRules())
	assert.True(t, ok)
	assert.Equal(t, MatchSourceSubject, match.Source)
	assert.Equal(t, "factura electronica", match.Term)
}

func TestSubjectMatchViaTenantSynonym(t *testing.T) {
	match, ok := Matches(MessageMetadata{Subject: "FACTURACIÓN mensual"}, baseRules())
	assert.True(t, ok)
	assert.Equal(t, MatchSourceSubject, match.Source)
	assert.Equal(t, "facturación", match.Term)
}

func TestSenderFallback(t *testing.T) {
	rules := baseRules()
	rules.SenderFallback = true

	meta := MessageMetadata{
		Subject:       "Resumen semanal",
		SenderAddress: "facturacion@proveedor.com",
	}
	match, ok := Matches(meta, rules)
	assert.True(t, ok)
	assert.Equal(t, MatchSourceSender, match.Source)

	// Without the fallback the same message is not a candidate.
	_, ok = Matches(meta, baseRules())
	assert.False(t, ok)
}

func TestAttachmentFallback(t *testing.T) {
	rules := baseRules()
	rules.AttachmentFallback = true

	meta := MessageMetadata{
		Subject:         "Documentos adjuntos",
		AttachmentNames: []string{"resumen.xlsx", "factura-electronica-0042.pdf"},
	}
	match, ok := Matches(meta, rules)
	assert.True(t, ok)
	assert.Equal(t, MatchSourceAttachment, match.Source)
	assert.Equal(t, "factura electronica", match.Term)
}

func TestNoPartialTokenMatch(t *testing.T) {
	// "facturas" must not satisfy the whole-term "factura".
	rules := Rules{Terms: []string{"factura"}}
	_, ok := Matches(MessageMetadata{Subject: "facturas varias"}, rules)
	assert.False(t, ok)
}

func TestSubjectWinsOverSender(t *testing.T) {
	rules := baseRules()
	rules.SenderFallback = true
	match, ok := Matches(MessageMetadata{
		Subject:       "factura electrónica abril",
		SenderAddress: "facturacion@proveedor.com",
	}, rules)
	assert.True(t, ok)
	assert.Equal(t, MatchSourceSubject, match.Source)
}

func TestNoRulesNoMatch(t *testing.T) {
	_, ok := Matches(MessageMetadata{Subject: "factura electronica"}, Rules{})
	assert.False(t, ok)
}
