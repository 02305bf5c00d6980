package main

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	sanctionedIDs      = []string{"BlacklistedID1", "BlacklistedID2"}
	highRiskPrefixes   = []string{"NG", "IR", "SY"}
	regularPrefixes    = []string{"DE", "FR", "US", "GB", "NL"}
	currencies         = []string{"USD", "EUR", "GBP"}
	fraudAmountCents   = [2]int64{5000_00, 1000000_00}
	regularAmountCents = [2]int64{10_00, 5000_00}
)

// generator produces synthetic payment messages. Not safe for concurrent use.
type generator struct {
	rng *rand.Rand
	now func() time.Time
}

func newGenerator(seed int64) *generator {
	return &generator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// corpus generates n messages, each fraudulent with probability fraudRate.
func (g *generator) corpus(n int, fraudRate float64) []*domain.PaymentMessage {
	msgs := make([]*domain.PaymentMessage, n)
	for i := range msgs {
		msgs[i] = g.message(g.rng.Float64() < fraudRate)
	}
	return msgs
}

func (g *generator) message(fraud bool) *domain.PaymentMessage {
	msg := &domain.PaymentMessage{
		MessageID:         uuid.New().String(),
		CreationDateTime:  g.now().UTC().Format("2006-01-02T15:04:05.000000Z"),
		NumberOfTxs:       "1",
		PaymentMethod:     "TRF",
		Creditor:          domain.Party{Name: "Alice Smith", ID: g.nineDigits()},
		CreditorAccountID: g.iban(g.pick(regularPrefixes)),
		Currency:          g.pick(currencies),
	}

	if fraud {
		msg.Debtor = domain.Party{Name: "Fraudster Inc", ID: g.pick(sanctionedIDs)}
		msg.DebtorAccountID = g.iban(g.pick(highRiskPrefixes))
		msg.InstructedAmount = g.amount(fraudAmountCents)
		msg.RegulatoryCode = "AML"
		msg.Fraud = 1
	} else {
		msg.Debtor = domain.Party{Name: "John Doe", ID: g.nineDigits()}
		msg.DebtorAccountID = g.iban(g.pick(regularPrefixes))
		msg.InstructedAmount = g.amount(regularAmountCents)
		msg.RegulatoryCode = "NML"
	}
	return msg
}

func (g *generator) pick(values []string) string {
	return values[g.rng.Intn(len(values))]
}

// nineDigits returns a number in [100000000, 999999999].
func (g *generator) nineDigits() string {
	return decimal.NewFromInt(100000000 + g.rng.Int63n(900000000)).String()
}

// iban returns prefix followed by 18 random digits.
func (g *generator) iban(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 18)
	b.WriteString(prefix)
	for i := 0; i < 18; i++ {
		b.WriteByte(byte('0' + g.rng.Intn(10)))
	}
	return b.String()
}

// amount draws a two-decimal amount uniformly from the inclusive cent range.
func (g *generator) amount(cents [2]int64) string {
	n := cents[0] + g.rng.Int63n(cents[1]-cents[0]+1)
	return decimal.New(n, -2).StringFixed(2)
}
