// Synth generates a synthetic payment message corpus for exercising the
// preparation pipeline and the scoring service.
//
// Usage:
//
//	go run ./cmd/synth -n 100 -fraud-rate 0.3 -out transactions.json
//	go run ./cmd/synth -n 100 -format xml-dir -out corpus/
//
// Fraudulent messages carry a sanctioned debtor, a high-risk IBAN prefix, an
// amount between 5000 and 1000000 and regulatory code AML. XML messages have
// no label field, so xml-dir output is meant for serving tests rather than
// training.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/parser"
)

func main() {
	n := flag.Int("n", 100, "Number of messages to generate")
	fraudRate := flag.Float64("fraud-rate", 0.3, "Probability that a message is fraudulent")
	seed := flag.Int64("seed", 0, "Random seed (0 = time based)")
	out := flag.String("out", "transactions.json", "Output file (json) or directory (xml-dir)")
	format := flag.String("format", "json", "Output format: json or xml-dir")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if *n <= 0 || *fraudRate < 0 || *fraudRate > 1 {
		fmt.Fprintln(os.Stderr, "n must be positive and fraud-rate within [0, 1]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	msgs := newGenerator(*seed).corpus(*n, *fraudRate)

	var err error
	switch *format {
	case "json":
		err = writeJSON(*out, msgs)
	case "xml-dir":
		err = writeXMLDir(*out, msgs)
	default:
		err = fmt.Errorf("unknown format %q", *format)
	}
	if err != nil {
		slog.Error("generation failed", "error", err)
		os.Exit(1)
	}

	frauds := 0
	for _, m := range msgs {
		frauds += m.Fraud
	}
	slog.Info("corpus generated",
		"messages", len(msgs),
		"fraud", frauds,
		"format", *format,
		"out", *out,
		"seed", *seed,
	)
}

// writeJSON writes msgs as one indented JSON array.
func writeJSON(path string, msgs []*domain.PaymentMessage) error {
	docs := make([]json.RawMessage, len(msgs))
	for i, msg := range msgs {
		raw, err := parser.EncodeJSON(msg)
		if err != nil {
			return err
		}
		docs[i] = raw
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeXMLDir writes one pain.001 document per message into dir.
func writeXMLDir(dir string, msgs []*domain.PaymentMessage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, msg := range msgs {
		raw, err := parser.EncodeXML(msg)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, fmt.Sprintf("transaction_%05d.xml", i))
		if err := os.WriteFile(name, raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}
