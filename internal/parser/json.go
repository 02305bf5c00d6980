package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// jsonDocument mirrors the structured encoding. Pointers distinguish absent
// nodes from empty ones.
type jsonDocument struct {
	GrpHdr *jsonGroupHeader `json:"GrpHdr,omitempty"`
	PmtInf *jsonPaymentInfo `json:"PmtInf,omitempty"`
	Fraud  *label           `json:"fraud,omitempty"`
}

type jsonGroupHeader struct {
	MsgId   text `json:"MsgId"`
	CreDtTm text `json:"CreDtTm"`
	NbOfTxs text `json:"NbOfTxs"`
}

type jsonPaymentInfo struct {
	PmtMtd      text                `json:"PmtMtd"`
	Dbtr        *jsonParty          `json:"Dbtr,omitempty"`
	DbtrAcct    *jsonAccount        `json:"DbtrAcct,omitempty"`
	CdtTrfTxInf *jsonCreditTransfer `json:"CdtTrfTxInf,omitempty"`
}

type jsonParty struct {
	Nm text `json:"Nm"`
	Id text `json:"Id"`
}

type jsonAccount struct {
	Id *jsonAccountID `json:"Id,omitempty"`
}

type jsonAccountID struct {
	IBAN text `json:"IBAN"`
}

type jsonCreditTransfer struct {
	Amt        *jsonAmount     `json:"Amt,omitempty"`
	Cdtr       *jsonParty      `json:"Cdtr,omitempty"`
	CdtrAcct   *jsonAccount    `json:"CdtrAcct,omitempty"`
	RgltryRptg *jsonRegulatory `json:"RgltryRptg,omitempty"`
}

type jsonAmount struct {
	InstdAmt *text `json:"InstdAmt,omitempty"`
	Ccy      text  `json:"Ccy"`
}

type jsonRegulatory struct {
	Cd text `json:"Cd"`
}

// text accepts a JSON string, a JSON number (kept verbatim) or null.
// Surrounding whitespace is dropped, as it is for XML leaves.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*t = text(n.String())
	}
	return nil
}

// label accepts 0, 1, true, false or null.
type label int

func (l *label) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "0", "false", "null":
		*l = 0
	case "1", "true":
		*l = 1
	default:
		return fmt.Errorf("fraud label must be 0 or 1, got %s", data)
	}
	return nil
}

func parseJSON(raw []byte) (*domain.PaymentMessage, error) {
	var doc jsonDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, malformed("invalid JSON document: %v", err)
	}

	if doc.PmtInf == nil {
		return nil, malformed("PmtInf is missing")
	}
	tx := doc.PmtInf.CdtTrfTxInf
	if tx == nil {
		return nil, malformed("PmtInf.CdtTrfTxInf is missing")
	}
	if tx.Amt == nil || tx.Amt.InstdAmt == nil {
		return nil, malformed("PmtInf.CdtTrfTxInf.Amt.InstdAmt is missing")
	}

	msg := &domain.PaymentMessage{
		PaymentMethod:     string(doc.PmtInf.PmtMtd),
		Debtor:            doc.PmtInf.Dbtr.toParty(),
		DebtorAccountID:   doc.PmtInf.DbtrAcct.iban(),
		Creditor:          tx.Cdtr.toParty(),
		CreditorAccountID: tx.CdtrAcct.iban(),
		InstructedAmount:  string(*tx.Amt.InstdAmt),
		Currency:          string(tx.Amt.Ccy),
	}
	if doc.GrpHdr != nil {
		msg.MessageID = string(doc.GrpHdr.MsgId)
		msg.CreationDateTime = string(doc.GrpHdr.CreDtTm)
		msg.NumberOfTxs = string(doc.GrpHdr.NbOfTxs)
	}
	if tx.RgltryRptg != nil {
		msg.RegulatoryCode = string(tx.RgltryRptg.Cd)
	}
	if doc.Fraud != nil {
		msg.Fraud = int(*doc.Fraud)
	}

	return msg, nil
}

func (p *jsonParty) toParty() domain.Party {
	if p == nil {
		return domain.Party{}
	}
	return domain.Party{Name: string(p.Nm), ID: string(p.Id)}
}

func (a *jsonAccount) iban() string {
	if a == nil || a.Id == nil {
		return ""
	}
	return string(a.Id.IBAN)
}

// EncodeJSON renders msg in the structured encoding, label included.
func EncodeJSON(msg *domain.PaymentMessage) ([]byte, error) {
	return json.Marshal(toJSONDocument(msg))
}

func toJSONDocument(msg *domain.PaymentMessage) *jsonDocument {
	amount := text(msg.InstructedAmount)
	fraud := label(msg.Fraud)

	return &jsonDocument{
		GrpHdr: &jsonGroupHeader{
			MsgId:   text(msg.MessageID),
			CreDtTm: text(msg.CreationDateTime),
			NbOfTxs: text(msg.NumberOfTxs),
		},
		PmtInf: &jsonPaymentInfo{
			PmtMtd:   text(msg.PaymentMethod),
			Dbtr:     &jsonParty{Nm: text(msg.Debtor.Name), Id: text(msg.Debtor.ID)},
			DbtrAcct: &jsonAccount{Id: &jsonAccountID{IBAN: text(msg.DebtorAccountID)}},
			CdtTrfTxInf: &jsonCreditTransfer{
				Amt:        &jsonAmount{InstdAmt: &amount, Ccy: text(msg.Currency)},
				Cdtr:       &jsonParty{Nm: text(msg.Creditor.Name), Id: text(msg.Creditor.ID)},
				CdtrAcct:   &jsonAccount{Id: &jsonAccountID{IBAN: text(msg.CreditorAccountID)}},
				RgltryRptg: &jsonRegulatory{Cd: text(msg.RegulatoryCode)},
			},
		},
		Fraud: &fraud,
	}
}
