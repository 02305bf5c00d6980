package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

func TestGenerator(t *testing.T) {
	g := newGenerator(42)

	t.Run("FraudMessage", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			msg := g.message(true)
			if msg.Fraud != 1 {
				t.Fatalf("expected label 1, got %d", msg.Fraud)
			}
			if msg.Debtor.ID != "BlacklistedID1" && msg.Debtor.ID != "BlacklistedID2" {
				t.Errorf("unexpected debtor id %s", msg.Debtor.ID)
			}
			prefix := msg.DebtorAccountID[:2]
			if prefix != "NG" && prefix != "IR" && prefix != "SY" {
				t.Errorf("unexpected debtor IBAN prefix %s", prefix)
			}
			amount := decimal.RequireFromString(msg.InstructedAmount)
			if amount.LessThan(decimal.NewFromInt(5000)) || amount.GreaterThan(decimal.NewFromInt(1000000)) {
				t.Errorf("fraud amount %s out of range", msg.InstructedAmount)
			}
			if msg.RegulatoryCode != "AML" {
				t.Errorf("expected AML, got %s", msg.RegulatoryCode)
			}
		}
	})

	t.Run("RegularMessage", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			msg := g.message(false)
			if msg.Fraud != 0 {
				t.Fatalf("expected label 0, got %d", msg.Fraud)
			}
			if len(msg.Debtor.ID) != 9 {
				t.Errorf("expected 9 digit debtor id, got %s", msg.Debtor.ID)
			}
			if len(msg.DebtorAccountID) != 20 {
				t.Errorf("expected 20 character IBAN, got %s", msg.DebtorAccountID)
			}
			amount := decimal.RequireFromString(msg.InstructedAmount)
			if amount.LessThan(decimal.NewFromInt(10)) || amount.GreaterThan(decimal.NewFromInt(5000)) {
				t.Errorf("regular amount %s out of range", msg.InstructedAmount)
			}
			if !strings.Contains(msg.InstructedAmount, ".") || len(strings.SplitN(msg.InstructedAmount, ".", 2)[1]) != 2 {
				t.Errorf("expected two decimals, got %s", msg.InstructedAmount)
			}
			if msg.RegulatoryCode != "NML" {
				t.Errorf("expected NML, got %s", msg.RegulatoryCode)
			}
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := newGenerator(7).corpus(20, 0.3)
		b := newGenerator(7).corpus(20, 0.3)
		for i := range a {
			if a[i].InstructedAmount != b[i].InstructedAmount || a[i].Fraud != b[i].Fraud {
				t.Fatalf("message %d differs between runs with the same seed", i)
			}
		}
	})

	t.Run("FraudRateBounds", func(t *testing.T) {
		for _, m := range newGenerator(1).corpus(30, 0) {
			if m.Fraud != 0 {
				t.Fatal("expected no fraud at rate 0")
			}
		}
		for _, m := range newGenerator(1).corpus(30, 1) {
			if m.Fraud != 1 {
				t.Fatal("expected only fraud at rate 1")
			}
		}
	})
}

func TestGeneratedCorpusPrepares(t *testing.T) {
	extractor, err := features.NewExtractor(domain.DefaultFeatureConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	msgs := newGenerator(3).corpus(40, 0.5)

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "transactions.json")
		if err := writeJSON(path, msgs); err != nil {
			t.Fatalf("writeJSON failed: %v", err)
		}

		records, err := pipeline.ReadCorpus(path)
		if err != nil {
			t.Fatalf("ReadCorpus failed: %v", err)
		}
		ds, err := pipeline.Prepare(context.Background(), records, extractor, domain.ZeroStdUnit)
		if err != nil {
			t.Fatalf("Prepare failed: %v", err)
		}
		for i, label := range ds.Labels {
			if label != msgs[i].Fraud {
				t.Errorf("record %d: expected label %d, got %d", i, msgs[i].Fraud, label)
			}
		}
	})

	t.Run("XMLDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "corpus")
		if err := writeXMLDir(dir, msgs); err != nil {
			t.Fatalf("writeXMLDir failed: %v", err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		if len(entries) != len(msgs) {
			t.Fatalf("expected %d files, got %d", len(msgs), len(entries))
		}

		records, err := pipeline.ReadCorpus(dir)
		if err != nil {
			t.Fatalf("ReadCorpus failed: %v", err)
		}
		if _, err := pipeline.Prepare(context.Background(), records, extractor, domain.ZeroStdUnit); err != nil {
			t.Fatalf("Prepare failed: %v", err)
		}
	})
}
