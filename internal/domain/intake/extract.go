// Package intake pulls the clinical document out of its PDF container and
// reduces it to the canonical hashed form used as the dedup key.
package intake

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// Mode selects the extraction strategy.
type Mode string

const (
	// ModeAuto tries the envelope first, then the named attachment.
	ModeAuto Mode = "AUTO"
	// ModeEnvelope unwraps a document injected as a PDF resource stream.
	ModeEnvelope Mode = "RESOURCE"
	// ModeAttachment decodes a named embedded file.
	ModeAttachment Mode = "ATTACHMENT"
)

// Extractor locates and decodes the clinical payload. It is a pure function
// over the container bytes and safe for concurrent use.
type Extractor struct {
	attachmentName string
}

// NewExtractor builds an Extractor that resolves ModeAttachment against the
// given embedded-file name.
func NewExtractor(attachmentName string) *Extractor {
	return &Extractor{attachmentName: attachmentName}
}

func extractionError(detail string) *outcome.Problem {
	return outcome.NewProblem(outcome.KindExtraction,
		outcome.TypeMiningError, "Errore in fase di estrazione del CDA.",
		outcome.InstanceExtraction, detail)
}

// Extract returns the decoded clinical document text.
func (e *Extractor) Extract(container []byte, mode Mode) (string, error) {
	if len(container) == 0 {
		return "", outcome.NewProblem(outcome.KindExtraction,
			outcome.TypeEmptyFile, "File vuoto.", outcome.InstanceEmptyFile, "")
	}
	if !IsPDF(container) {
		return "", outcome.NewProblem(outcome.KindExtraction,
			outcome.TypeDocumentType, "Il documento non è pdf.", outcome.InstanceNonPDFFile, "")
	}

	var raw []byte
	switch mode {
	case ModeEnvelope:
		raw = envelopedDocument(container)
	case ModeAttachment:
		raw = embeddedFile(container, e.attachmentName)
	default:
		raw = envelopedDocument(container)
		if len(raw) == 0 {
			raw = embeddedFile(container, e.attachmentName)
		}
	}
	if len(raw) == 0 {
		return "", extractionError("no clinical document found in container")
	}

	text, err := decodeCharset(raw)
	if err != nil {
		return "", extractionError(err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return "", extractionError("extracted content is empty")
	}
	return text, nil
}

var encodingDeclRe = regexp.MustCompile(`encoding\s*=\s*["']([A-Za-z0-9._-]+)["']`)

// decodeCharset decodes raw using the declared XML encoding when present,
// defaulting to UTF-8. Undecodable input is fatal.
func decodeCharset(raw []byte) (string, error) {
	head := raw
	if len(head) > 256 {
		head = head[:256]
	}

	if m := encodingDeclRe.FindSubmatch(head); m != nil {
		label := string(m[1])
		if !strings.EqualFold(label, "utf-8") {
			enc, err := htmlindex.Get(label)
			if err != nil {
				return "", errInvalidEncoding(label)
			}
			decoded, err := enc.NewDecoder().Bytes(raw)
			if err != nil {
				return "", errInvalidEncoding(label)
			}
			raw = decoded
		}
	}
	if !utf8.Valid(raw) {
		return "", errInvalidEncoding("utf-8")
	}
	return string(raw), nil
}

type charsetError string

func errInvalidEncoding(label string) error { return charsetError(label) }

func (c charsetError) Error() string {
	return "content is not valid under declared charset " + string(c)
}
