package domain

import "time"

// Encoding identifies a wire format for payment messages.
type Encoding string

const (
	// EncodingJSON is the structured key/value encoding mirroring the
	// canonical field names (PmtInf.CdtTrfTxInf.Amt.InstdAmt, ...).
	EncodingJSON Encoding = "json"

	// EncodingXML is the ISO 20022 payment initiation (pain.001) dialect.
	EncodingXML Encoding = "xml"
)

// PaymentMessage is the canonical form of one payment instruction.
// Both wire encodings decode into this structure; downstream components
// never look at the raw wire document again.
type PaymentMessage struct {
	// Group header
	MessageID        string `json:"messageId"`
	CreationDateTime string `json:"creationDateTime"`
	NumberOfTxs      string `json:"numberOfTxs"`

	// Payment information
	PaymentMethod string `json:"paymentMethod"`

	Debtor          Party  `json:"debtor"`
	DebtorAccountID string `json:"debtorAccountId"` // IBAN

	Creditor          Party  `json:"creditor"`
	CreditorAccountID string `json:"creditorAccountId"` // IBAN

	// InstructedAmount is kept as the wire text; the feature extractor owns
	// numeric conversion so both pipelines fail identically on bad input.
	InstructedAmount string `json:"instructedAmount"`
	Currency         string `json:"currency"`

	RegulatoryCode string `json:"regulatoryCode"`

	// Fraud is the ground-truth label (0 or 1). Zero when absent.
	Fraud int `json:"fraud"`
}

// Party is a debtor or creditor.
type Party struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// StoredMessage is a parsed message persisted alongside its raw bytes.
type StoredMessage struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	Encoding   Encoding       `json:"encoding"`
	Message    PaymentMessage `json:"message"`
	Raw        []byte         `json:"-"`
	ReceivedAt time.Time      `json:"receivedAt"`
}
