package parser

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// pain001Namespace is written by EncodeXML. Decoding matches local names
// only, so any namespace (or none) is accepted.
const pain001Namespace = "urn:iso:std:iso:20022:tech:xsd:pain.001.001.03"

// xmlNode is a generic element tree used for path lookups.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

// find returns the first descendant (document order) named name.
func (n *xmlNode) find(name string) *xmlNode {
	if n == nil {
		return nil
	}
	for i := range n.Children {
		child := &n.Children[i]
		if child.XMLName.Local == name {
			return child
		}
		if found := child.find(name); found != nil {
			return found
		}
	}
	return nil
}

// child returns the first direct child named name.
func (n *xmlNode) child(name string) *xmlNode {
	if n == nil {
		return nil
	}
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			return &n.Children[i]
		}
	}
	return nil
}

func (n *xmlNode) text() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

func (n *xmlNode) childText(name string) string {
	return n.child(name).text()
}

func (n *xmlNode) attr(name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// identifier reads a party Id, which is either plain text or a structured
// block such as Id/OrgId/Othr/Id.
func (n *xmlNode) identifier() string {
	id := n.child("Id")
	if id == nil {
		return ""
	}
	if len(id.Children) == 0 {
		return id.text()
	}
	return id.find("Id").text()
}

func parseXML(raw []byte) (*domain.PaymentMessage, error) {
	var root xmlNode
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&root); err != nil {
		return nil, malformed("invalid XML document: %v", err)
	}

	pmtInf := root.find("PmtInf")
	if pmtInf == nil {
		return nil, malformed("PmtInf node is missing")
	}
	tx := pmtInf.find("CdtTrfTxInf")
	if tx == nil {
		return nil, malformed("CdtTrfTxInf node is missing")
	}
	amt := tx.find("Amt")
	if amt == nil {
		return nil, malformed("Amt node is missing")
	}

	// ISO 20022 nests the value in Amt/InstdAmt; a bare Amt carries it as
	// its own text.
	amountNode := amt
	if instd := amt.child("InstdAmt"); instd != nil {
		amountNode = instd
	}
	currency := amountNode.attr("Ccy")
	if currency == "" {
		currency = amt.attr("Ccy")
	}

	grpHdr := root.find("GrpHdr")
	debtor := pmtInf.find("Dbtr")
	creditor := tx.find("Cdtr")

	msg := &domain.PaymentMessage{
		MessageID:         grpHdr.childText("MsgId"),
		CreationDateTime:  grpHdr.childText("CreDtTm"),
		NumberOfTxs:       grpHdr.childText("NbOfTxs"),
		PaymentMethod:     pmtInf.childText("PmtMtd"),
		Debtor:            domain.Party{Name: debtor.childText("Nm"), ID: debtor.identifier()},
		DebtorAccountID:   pmtInf.find("DbtrAcct").find("IBAN").text(),
		Creditor:          domain.Party{Name: creditor.childText("Nm"), ID: creditor.identifier()},
		CreditorAccountID: tx.find("CdtrAcct").find("IBAN").text(),
		InstructedAmount:  amountNode.text(),
		Currency:          currency,
		RegulatoryCode:    regulatoryCode(tx.find("RgltryRptg")),
	}

	return msg, nil
}

func regulatoryCode(rptg *xmlNode) string {
	if rptg == nil {
		return ""
	}
	if cd := rptg.child("Cd"); cd != nil {
		return cd.text()
	}
	return rptg.find("Cd").text()
}

type xmlDocument struct {
	XMLName    xml.Name      `xml:"urn:iso:std:iso:20022:tech:xsd:pain.001.001.03 Document"`
	Initiation xmlInitiation `xml:"CstmrCdtTrfInitn"`
}

type xmlInitiation struct {
	GrpHdr xmlGroupHeader `xml:"GrpHdr"`
	PmtInf xmlPaymentInfo `xml:"PmtInf"`
}

type xmlGroupHeader struct {
	MsgId   string `xml:"MsgId"`
	CreDtTm string `xml:"CreDtTm"`
	NbOfTxs string `xml:"NbOfTxs"`
}

type xmlPaymentInfo struct {
	PmtMtd      string            `xml:"PmtMtd"`
	Dbtr        xmlParty          `xml:"Dbtr"`
	DbtrAcct    xmlAccount        `xml:"DbtrAcct"`
	CdtTrfTxInf xmlCreditTransfer `xml:"CdtTrfTxInf"`
}

type xmlParty struct {
	Nm string `xml:"Nm"`
	Id string `xml:"Id"`
}

type xmlAccount struct {
	IBAN string `xml:"Id>IBAN"`
}

type xmlCreditTransfer struct {
	Amt        xmlAmount      `xml:"Amt"`
	Cdtr       xmlParty       `xml:"Cdtr"`
	CdtrAcct   xmlAccount     `xml:"CdtrAcct"`
	RgltryRptg *xmlRegulatory `xml:"RgltryRptg,omitempty"`
}

// xmlAmount carries the instructed amount as the text of Amt, currency as
// its Ccy attribute.
type xmlAmount struct {
	Ccy   string `xml:"Ccy,attr"`
	Value string `xml:",chardata"`
}

type xmlRegulatory struct {
	Cd string `xml:"Cd"`
}

// EncodeXML renders msg as a pain.001 style document, amount in Amt and
// the regulatory code in RgltryRptg/Cd. The fraud label has no place in the
// wire format and is dropped.
func EncodeXML(msg *domain.PaymentMessage) ([]byte, error) {
	doc := xmlDocument{
		Initiation: xmlInitiation{
			GrpHdr: xmlGroupHeader{
				MsgId:   msg.MessageID,
				CreDtTm: msg.CreationDateTime,
				NbOfTxs: msg.NumberOfTxs,
			},
			PmtInf: xmlPaymentInfo{
				PmtMtd:   msg.PaymentMethod,
				Dbtr:     xmlParty{Nm: msg.Debtor.Name, Id: msg.Debtor.ID},
				DbtrAcct: xmlAccount{IBAN: msg.DebtorAccountID},
				CdtTrfTxInf: xmlCreditTransfer{
					Amt: xmlAmount{
						Ccy:   msg.Currency,
						Value: msg.InstructedAmount,
					},
					Cdtr:     xmlParty{Nm: msg.Creditor.Name, Id: msg.Creditor.ID},
					CdtrAcct: xmlAccount{IBAN: msg.CreditorAccountID},
				},
			},
		},
	}
	if msg.RegulatoryCode != "" {
		doc.Initiation.PmtInf.CdtTrfTxInf.RgltryRptg = &xmlRegulatory{Cd: msg.RegulatoryCode}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
