// Package pipeline wires parser, extractor, normalizer, model and decision
// into the batch preparation run and the serving scorer.
package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/parser"
)

// Record is one raw corpus entry.
type Record struct {
	Source   string
	Raw      []byte
	Encoding domain.Encoding
}

// Dataset is the output of a preparation run.
type Dataset struct {
	Params *domain.NormalizationParams
	Rows   []domain.FeatureVector // scaled
	Labels []int
}

// ReadJSONCorpus reads a JSON array of structured messages. Each element is
// kept raw so the parser sees exactly what a serving request would carry.
func ReadJSONCorpus(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: corpus is not a JSON array: %v", domain.ErrMalformedMessage, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("%w: corpus is not a JSON array", domain.ErrMalformedMessage)
	}

	var records []Record
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("record %d: %w: %v", len(records), domain.ErrMalformedMessage, err)
		}
		records = append(records, Record{
			Source:   fmt.Sprintf("record %d", len(records)),
			Raw:      raw,
			Encoding: domain.EncodingJSON,
		})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: unterminated corpus array: %v", domain.ErrMalformedMessage, err)
	}
	return records, nil
}

// ReadCorpus reads path as an XML directory when it is a directory and as a
// JSON corpus file otherwise.
func ReadCorpus(path string) ([]Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	if info.IsDir() {
		return ReadXMLDir(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()
	return ReadJSONCorpus(f)
}

// ReadXMLDir reads every *.xml file in dir, in name order.
func ReadXMLDir(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]Record, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		records = append(records, Record{Source: name, Raw: raw, Encoding: domain.EncodingXML})
	}
	return records, nil
}

// Prepare parses and extracts every record, fits the normalizer over the
// whole corpus and returns the scaled dataset. The run aborts on the first
// record that fails.
func Prepare(ctx context.Context, records []Record, extractor *features.Extractor, policy domain.ZeroStdPolicy) (*Dataset, error) {
	rows := make([]domain.FeatureVector, 0, len(records))
	labels := make([]int, 0, len(records))

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := parser.Parse(rec.Raw, rec.Encoding)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sourceName(rec, i), err)
		}
		vec, label, err := extractor.Extract(msg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sourceName(rec, i), err)
		}

		rows = append(rows, vec)
		labels = append(labels, label)
	}

	params, scaled, err := normalize.Fit(domain.FeatureNames(), rows, policy)
	if err != nil {
		return nil, err
	}

	return &Dataset{Params: params, Rows: scaled, Labels: labels}, nil
}

func sourceName(rec Record, i int) string {
	if rec.Source != "" {
		return rec.Source
	}
	return fmt.Sprintf("record %d", i)
}

// WriteCSV writes the dataset with a header of feature names followed by
// the label column.
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)

	header := append(domain.FeatureNames(), domain.LabelColumn)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i, row := range ds.Rows {
		if len(row) != len(header)-1 {
			return fmt.Errorf("%w: row %d has %d features", domain.ErrShapeMismatch, i, len(row))
		}
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		record[len(record)-1] = strconv.Itoa(ds.Labels[i])
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
