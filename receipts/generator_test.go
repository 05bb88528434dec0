package receipts

import (
	"testing"
	"time"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/money"
)

func terminalPayment(state domain.State) domain.Payment {
	amount, _ := money.New(42.50, money.USD)
	return domain.Payment{
		ID:            "pay_1",
		State:         state,
		Amount:        amount,
		PaymentMethod: domain.PaymentMethod{Type: domain.MethodCard, Card: &domain.CardDetail{Last4: "4242"}},
		Customer:      domain.Customer{ID: "cust_1"},
		GatewayType:   "stripe",
		FailureReason: "card declined",
		UpdatedAt:     time.Now(),
	}
}

func TestGeneratePDFSucceedsForTerminalPayment(t *testing.T) {
	g := NewGenerator("Test Co")
	out, err := g.GeneratePDF(terminalPayment(domain.StateSuccess))
	if err != nil {
		t.Fatalf("generate pdf: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty PDF bytes")
	}
}

func TestGeneratePDFRendersFailureReason(t *testing.T) {
	g := NewGenerator("Test Co")
	out, err := g.GeneratePDF(terminalPayment(domain.StateFailure))
	if err != nil {
		t.Fatalf("generate pdf: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty PDF bytes")
	}
}

func TestGeneratePDFRejectsNonTerminalPayment(t *testing.T) {
	g := NewGenerator("Test Co")
	if _, err := g.GeneratePDF(terminalPayment(domain.StateProcessing)); err == nil {
		t.Fatal("expected error for non-terminal payment")
	}
}

func TestDigitalSignatureIsDeterministicForSameInputs(t *testing.T) {
	p := terminalPayment(domain.StateSuccess)
	if generateDigitalSignature(p) != generateDigitalSignature(p) {
		t.Fatal("expected signature to be deterministic for identical payment data")
	}
}
