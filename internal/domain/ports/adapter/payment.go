package adapter

import "context"

// Field is one name/value pair of a signed gateway form. Order matters: it is
// the order the gateway expects and the order the signature was computed in.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SubscriptionRequest is the domain-level "start subscription" input.
type SubscriptionRequest struct {
	PaymentID       string // internal m_payment_id
	Amount          float64
	ItemName        string
	ItemDescription string
	ReturnURL       string
	CancelURL       string
	NotifyURL       string
	NameFirst       string
	NameLast        string
	Email           string
	CustomStr1      string
	CustomStr2      string
	CustomStr3      string
	BillingDate     string // YYYY-MM-DD, optional
	Frequency       int    // 3 = monthly
	Cycles          int    // 0 = indefinite
	Currency        string
}

// CheckoutForm is the signed, ordered field set plus where to post it.
type CheckoutForm struct {
	PostURL string  `json:"post_url"`
	Fields  []Field `json:"fields"`
}

// Get returns the value of the named field.
func (f *CheckoutForm) Get(name string) (string, bool) {
	for _, fl := range f.Fields {
		if fl.Name == name {
			return fl.Value, true
		}
	}
	return "", false
}

// Notification is a parsed asynchronous payment notification.
// Fields keep the wire order and exclude the signature.
type Notification struct {
	Fields    []Field
	Signature string
	Raw       string
}

// Get returns the value of the named field or "".
func (n *Notification) Get(name string) string {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// PaymentGateway is the hex port for the hosted payment provider.
type PaymentGateway interface {
	Name() string

	// BuildSubscriptionRequest signs an ordered checkout form. It never performs I/O.
	BuildSubscriptionRequest(in SubscriptionRequest) (*CheckoutForm, error)
	// RenderAutoSubmitForm renders an HTML page that posts form exactly as signed.
	RenderAutoSubmitForm(form *CheckoutForm) (string, error)
	// ParseNotification decodes a raw notification body, keeping wire order.
	ParseNotification(raw []byte) (*Notification, error)
	// VerifySignature checks a parsed notification against the configured passphrase.
	VerifySignature(n *Notification) bool

	// VerifyPayment asks the gateway whether a gateway payment id is valid.
	VerifyPayment(ctx context.Context, pfPaymentID string) (bool, error)
	// CancelSubscription cancels recurring billing for a subscription token.
	CancelSubscription(ctx context.Context, token string) (bool, error)
}
