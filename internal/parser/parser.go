// Package parser converts wire-format payment messages into the canonical
// domain.PaymentMessage and back.
package parser

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Parse decodes raw in the given encoding.
//
// Only the amount is mandatory. Missing optional nodes (accounts, parties,
// regulatory reporting) yield empty strings so every field the feature
// extractor reads is always populated.
func Parse(raw []byte, enc domain.Encoding) (*domain.PaymentMessage, error) {
	switch enc {
	case domain.EncodingJSON:
		return parseJSON(raw)
	case domain.EncodingXML:
		return parseXML(raw)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedEncoding, enc)
	}
}

// ParseEncoding maps a user supplied encoding name to a domain.Encoding.
func ParseEncoding(name string) (domain.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json", "structured":
		return domain.EncodingJSON, nil
	case "xml", "iso20022":
		return domain.EncodingXML, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedEncoding, name)
	}
}

// EncodingFromContentType picks the encoding for an HTTP body. Anything that
// mentions xml is XML; everything else is treated as JSON.
func EncodingFromContentType(contentType string) domain.Encoding {
	if strings.Contains(strings.ToLower(contentType), "xml") {
		return domain.EncodingXML
	}
	return domain.EncodingJSON
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedMessage, fmt.Sprintf(format, args...))
}
