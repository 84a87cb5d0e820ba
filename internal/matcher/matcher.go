// Package matcher decides whether a mailbox message looks like an invoice
// carrier, using normalized whole-term matching over subject, sender and
// attachment names.
package matcher

import "time"

// MatchSource identifies which metadata tier produced a match.
type MatchSource string

const (
	MatchSourceSubject    MatchSource = "subject"
	MatchSourceSender     MatchSource = "sender"
	MatchSourceAttachment MatchSource = "attachment"
)

// Rules is the per-tenant matching configuration. Terms are the base match
// terms; Synonyms maps tenant-specific vocabulary onto a base term, and each
// synonym is evaluated exactly like a base term.
type Rules struct {
	Terms              []string
	Synonyms           map[string]string
	SenderFallback     bool
	AttachmentFallback bool
}

// allTerms yields base terms first, then synonyms, so audit output names
// the most specific term that fired.
func (r Rules) allTerms() []string {
	terms := make([]string, 0, len(r.Terms)+len(r.Synonyms))
	terms = append(terms, r.Terms...)
	for synonym := range r.Synonyms {
		terms = append(terms, synonym)
	}
	return terms
}

// MessageMetadata is the protocol-level view of a remote message. It never
// carries body or attachment content, only structural metadata.
type MessageMetadata struct {
	UID             uint32
	MessageID       string
	Subject         string
	SenderAddress   string
	SenderName      string
	ReceivedAt      time.Time
	AttachmentNames []string
}

// Match records which tier and term identified a candidate.
type Match struct {
	Source MatchSource
	Term   string
}

// Matches evaluates the tiered matching policy: subject first, then sender
// when enabled, then attachment filenames when enabled. The first tier that
// fires wins.
func Matches(meta MessageMetadata, rules Rules) (Match, bool) {
	terms := rules.allTerms()
	if len(terms) == 0 {
		return Match{}, false
	}

	subjectTokens := Tokens(meta.Subject)
	for _, term := range terms {
		if containsTokenSequence(subjectTokens, Tokens(term)) {
			return Match{Source: MatchSourceSubject, Term: term}, true
		}
	}

	if rules.SenderFallback {
		senderTokens := Tokens(meta.SenderAddress + " " + meta.SenderName)
		for _, term := range terms {
			if containsTokenSequence(senderTokens, Tokens(term)) {
				return Match{Source: MatchSourceSender, Term: term}, true
			}
		}
	}

	if rules.AttachmentFallback {
		for _, name := range meta.AttachmentNames {
			nameTokens := Tokens(name)
			for _, term := range terms {
				if containsTokenSequence(nameTokens, Tokens(term)) {
					return Match{Source: MatchSourceAttachment, Term: term}, true
				}
			}
		}
	}

	return Match{}, false
}
