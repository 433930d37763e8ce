package intake

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
)

// Placeholder replaces every attribute value and leaf text under the
// authenticator subtree so that re-signing a document does not change its
// identity hash.
const Placeholder = "PLACEHOLDER"

const authenticatorTag = "legalauthenticator"

// Canonicalize parses the document as an XML tree and blanks the legal
// authenticator subtree. A document without that subtree is returned
// unchanged apart from re-serialization.
func Canonicalize(cda string, logger zerolog.Logger) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(cda); err != nil {
		// Not parseable as XML: hash the text as-is rather than failing,
		// the validator is the authority on well-formedness.
		logger.Warn().Err(err).Msg("canonicalize: document is not well-formed XML")
		return cda
	}

	authenticator := findByTag(doc.Root(), authenticatorTag)
	if authenticator == nil {
		logger.Warn().Msg("canonicalize: legalAuthenticator not found, hash covers signature content")
	} else {
		blankSubtree(authenticator)
	}

	out, err := doc.WriteToString()
	if err != nil {
		logger.Warn().Err(err).Msg("canonicalize: serialization failed")
		return cda
	}
	return out
}

func findByTag(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	if strings.ToLower(el.Tag) == tag {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findByTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func blankSubtree(el *etree.Element) {
	for i := range el.Attr {
		el.Attr[i].Value = Placeholder
	}
	children := el.ChildElements()
	if len(children) == 0 {
		if strings.TrimSpace(el.Text()) != "" {
			el.SetText(Placeholder)
		}
		return
	}
	for _, child := range children {
		blankSubtree(child)
	}
}
