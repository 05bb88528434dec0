// Package receipts generates HMAC-signed PDF receipts for completed
// payments. The signature scheme is anonymous: the receipt can be
// verified without exposing the customer's identity. Registered as an
// event-listener hook.
package receipts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/plm/payment-orchestrator/domain"
)

// getSignatureSecretKey returns the HMAC signing key from environment.
// SECURITY: this MUST be set in production via RECEIPT_SIGNATURE_KEY.
func getSignatureSecretKey() []byte {
	key := os.Getenv("RECEIPT_SIGNATURE_KEY")
	if key == "" {
		log.Println("receipts: RECEIPT_SIGNATURE_KEY not set, using insecure default (dev only)")
		return []byte("payment-orchestrator-dev-receipt-key-NOT-FOR-PRODUCTION")
	}
	return []byte(key)
}

// getCustomerSalt returns the customer-ID hashing salt from environment.
func getCustomerSalt() string {
	salt := os.Getenv("CUSTOMER_ID_SALT")
	if salt == "" {
		log.Println("receipts: CUSTOMER_ID_SALT not set, using insecure default (dev only)")
		return "payment-orchestrator-dev-salt-NOT-FOR-PRODUCTION"
	}
	return salt
}

// Generator renders PDF receipts for terminal Payments.
type Generator struct {
	companyName string
}

// NewGenerator constructs a Generator branded with companyName.
func NewGenerator(companyName string) *Generator {
	return &Generator{companyName: companyName}
}

// GeneratePDF renders a receipt for p, which must be in a terminal
// state (SUCCESS or FAILURE); non-terminal Payments have no settled
// amount or signature to render.
func (g *Generator) GeneratePDF(p domain.Payment) ([]byte, error) {
	if !p.State.IsTerminal() {
		return nil, fmt.Errorf("receipts: payment %s is not terminal (state=%s)", p.ID, p.State)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(16, 185, 129)
	pdf.CellFormat(190, 15, g.companyName, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(190, 8, "Payment Receipt", "", 1, "C", false, 0, "")

	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 14)
	switch p.State {
	case domain.StateSuccess:
		pdf.SetTextColor(16, 185, 129)
		pdf.CellFormat(190, 10, "PAYMENT SUCCESSFUL", "", 1, "C", false, 0, "")
	case domain.StateFailure:
		pdf.SetTextColor(239, 68, 68)
		pdf.CellFormat(190, 10, "PAYMENT FAILED", "", 1, "C", false, 0, "")
	}

	pdf.Ln(10)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(248, 250, 252)

	startY := pdf.GetY()
	pdf.Rect(10, startY, 190, 45, "F")

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(15, startY+5)
	pdf.Cell(40, 8, "Payment ID:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, p.ID)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(15, startY+13)
	pdf.Cell(40, 8, "Date:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, p.UpdatedAt.Format("January 2, 2006 at 3:04 PM"))

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(15, startY+21)
	pdf.Cell(40, 8, "Payment Method:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, methodDescription(p.PaymentMethod))

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(15, startY+29)
	pdf.Cell(40, 8, "Gateway:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, p.GatewayType)

	pdf.SetXY(15, startY+37)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(40, 8, "Gateway Transaction:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, p.GatewayTransactionID)

	pdf.Ln(55)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(190, 10, "Payment Summary", "", 1, "L", false, 0, "")

	pdf.SetFillColor(229, 231, 235)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(120, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(70, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "B", 11)
	if p.State == domain.StateSuccess {
		pdf.SetFillColor(16, 185, 129)
	} else {
		pdf.SetFillColor(239, 68, 68)
	}
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(120, 10, "Charged Amount", "1", 0, "L", true, 0, "")
	pdf.CellFormat(70, 10, p.Amount.String(), "1", 1, "R", true, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(10)

	if p.State == domain.StateFailure {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(190, 8, "Failure Reason", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(190, 6, p.FailureReason, "", "L", false)
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(190, 6, "This is an automated receipt.", "", 1, "C", false, 0, "")
	pdf.CellFormat(190, 6, fmt.Sprintf("Generated on %s", time.Now().Format("January 2, 2006 at 3:04 PM")), "", 1, "C", false, 0, "")

	pdf.Ln(8)

	signature := generateDigitalSignature(p)
	verificationCode := generateVerificationCode(p)

	pdf.SetFillColor(30, 41, 59)
	sigY := pdf.GetY()
	pdf.Rect(10, sigY, 190, 34, "F")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(16, 185, 129)
	pdf.SetXY(15, sigY+5)
	pdf.Cell(180, 6, "DIGITAL SIGNATURE - Anonymous Ownership Verification")

	pdf.SetFont("Courier", "", 7)
	pdf.SetTextColor(200, 200, 200)
	pdf.SetXY(15, sigY+13)
	pdf.Cell(180, 5, fmt.Sprintf("Signature: %s", signature))

	pdf.SetXY(15, sigY+20)
	pdf.Cell(180, 5, fmt.Sprintf("Verification Code: %s", verificationCode))

	pdf.SetFont("Helvetica", "I", 7)
	pdf.SetTextColor(150, 150, 150)
	pdf.SetXY(15, sigY+27)
	pdf.MultiCell(180, 4, "This signature proves ownership without revealing customer identity.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func methodDescription(m domain.PaymentMethod) string {
	switch m.Type {
	case domain.MethodCard:
		if m.Card != nil {
			return fmt.Sprintf("Card ending in %s", m.Card.Last4)
		}
	case domain.MethodUPI:
		return "UPI"
	case domain.MethodNetBanking:
		return "Net Banking"
	case domain.MethodWallet:
		return "Wallet"
	case domain.MethodPayLater:
		return "Pay Later"
	}
	return string(m.Type)
}

// generateDigitalSignature creates an HMAC-SHA256 signature binding
// the payment's identity and settled amount without exposing the
// customer ID.
func generateDigitalSignature(p domain.Payment) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		p.ID,
		hashCustomerID(p.Customer.ID),
		p.Amount.String(),
		p.UpdatedAt.Format(time.RFC3339),
	)
	h := hmac.New(sha256.New, getSignatureSecretKey())
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// generateVerificationCode creates a short code for quick verification.
func generateVerificationCode(p domain.Payment) string {
	data := fmt.Sprintf("%s|%s", p.ID, p.UpdatedAt.Format("20060102150405"))
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("PAY-%s", hex.EncodeToString(h[:])[:16])
}

// hashCustomerID creates an anonymous hash of the customer ID.
func hashCustomerID(customerID string) string {
	h := sha256.Sum256([]byte(customerID + getCustomerSalt()))
	return hex.EncodeToString(h[:])[:12]
}
