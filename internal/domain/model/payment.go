package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // checkout started, awaiting gateway notification
	PaymentStatusCompleted PaymentStatus = "completed" // gateway reported COMPLETE with a valid signature
	PaymentStatusFailed    PaymentStatus = "failed"    // gateway reported FAILED or CANCELLED
	PaymentStatusCancelled PaymentStatus = "cancelled" // abandoned by the user before paying
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// Payment is one attempted or completed charge.
// ID is the internal m_payment_id: the correlation key between the outbound
// checkout form and the inbound notification.
type Payment struct {
	ID                 string
	PfPaymentID        *string // gateway-assigned reference, known after the first notification
	AccountID          string
	PlanID             string
	AmountCents        int64
	Currency           string
	Status             PaymentStatus
	VerificationStatus VerificationStatus
	IsSubscription     bool
	SubscriptionToken  *string

	// Recurring cycles are separate rows pointing at the payment that started the subscription.
	ParentPaymentID *string
	CycleKey        *string
	BillingCycle    int

	RequiresManualVerification bool
	Audit                      []AuditEntry // persisted as payfast_data

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (p *Payment) IsZero() bool { return p == nil || p.ID == "" }

// Amount returns the amount in currency units.
func (p *Payment) Amount() float64 { return float64(p.AmountCents) / 100 }

// GatewayRef returns the gateway payment id and subscription token the payment can be
// checked with. Only signed data counts: the row itself, then the newest audit entry
// of a notification whose signature verified. Mismatched entries are never used.
func (p *Payment) GatewayRef() (pfID, token string) {
	if p.PfPaymentID != nil && *p.PfPaymentID != "" {
		if p.SubscriptionToken != nil {
			token = *p.SubscriptionToken
		}
		return *p.PfPaymentID, token
	}
	for i := len(p.Audit) - 1; i >= 0; i-- {
		e := p.Audit[i]
		if e.PfPaymentID != "" && e.Kind.signed() && !e.SignatureMismatch {
			return e.PfPaymentID, e.Token
		}
	}
	return "", ""
}

type AuditKind string

const (
	AuditNotification      AuditKind = "notification"       // accepted and applied
	AuditSignatureMismatch AuditKind = "signature_mismatch" // recorded, never honoured
	AuditUnknownStatus     AuditKind = "unknown_status"
	AuditIgnored           AuditKind = "ignored" // valid but no transition applies
	AuditCycle             AuditKind = "cycle"   // recurring charge row
	AuditGatewayVerify     AuditKind = "gateway_verify"
)

// signed reports whether entries of this kind are written only for notifications
// that passed signature verification.
func (k AuditKind) signed() bool {
	switch k {
	case AuditNotification, AuditUnknownStatus, AuditIgnored, AuditCycle:
		return true
	}
	return false
}

// AuditEntry is one typed record in a payment's gateway audit trail.
// Raw keeps the literal notification body for anything the typed fields miss.
type AuditEntry struct {
	Kind              AuditKind `json:"kind"`
	At                time.Time `json:"at"`
	Status            string    `json:"status,omitempty"`
	PfPaymentID       string    `json:"pf_payment_id,omitempty"`
	AmountGross       string    `json:"amount_gross,omitempty"`
	Token             string    `json:"token,omitempty"`
	Cycle             int       `json:"cycle,omitempty"`
	SignatureMismatch bool      `json:"signature_mismatch,omitempty"`
	Note              string    `json:"note,omitempty"`
	Raw               string    `json:"raw,omitempty"`
}
