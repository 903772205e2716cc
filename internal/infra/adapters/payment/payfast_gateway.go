package payment

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"propulse/internal/domain"
	"propulse/internal/domain/ports/adapter"
	"propulse/internal/infra/logging"
	"propulse/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ adapter.PaymentGateway = (*PayFastGateway)(nil)

const (
	liveHost    = "https://www.payfast.co.za"
	sandboxHost = "https://sandbox.payfast.co.za"
	apiHost     = "https://api.payfast.co.za"

	processPath  = "/eng/process"
	validatePath = "/eng/query/validate"

	apiVersion            = "v1"
	defaultGatewayTimeout = 10 * time.Second
)

// PayFastConfig carries the merchant credentials and endpoint selection.
// The URL fields are optional overrides; empty means "derive from Sandbox".
type PayFastConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Sandbox     bool

	ProcessURL  string
	ValidateURL string
	APIBaseURL  string

	Timeout time.Duration

	// Dev logs subscription tokens in full.
	Dev bool
}

// PayFastGateway implements adapter.PaymentGateway for PayFast's hosted
// checkout, the ITN validate endpoint and the subscriptions API.
type PayFastGateway struct {
	cfg    PayFastConfig
	signer *Signer
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewPayFastGateway(cfg PayFastConfig, logger *zerolog.Logger) (*PayFastGateway, error) {
	if strings.TrimSpace(cfg.MerchantID) == "" || strings.TrimSpace(cfg.MerchantKey) == "" {
		return nil, errors.New("payfast merchant id/key empty")
	}
	host := liveHost
	if cfg.Sandbox {
		host = sandboxHost
	}
	if cfg.ProcessURL == "" {
		cfg.ProcessURL = host + processPath
	}
	if cfg.ValidateURL == "" {
		cfg.ValidateURL = host + validatePath
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	for _, u := range []string{cfg.ProcessURL, cfg.ValidateURL, cfg.APIBaseURL} {
		if _, err := url.ParseRequestURI(u); err != nil {
			return nil, fmt.Errorf("invalid payfast url %q: %w", u, err)
		}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &PayFastGateway{
		cfg:    cfg,
		signer: NewMD5Signer(),
		client: &http.Client{Timeout: cfg.Timeout},
		log:    l.With().Str("component", "payfast").Logger(),
		now:    time.Now,
	}, nil
}

func (g *PayFastGateway) Name() string { return "payfast" }

// FormatAmount renders a finite, non-negative amount with exactly two decimals.
func FormatAmount(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return "", domain.ErrInvalidAmount
	}
	return strconv.FormatFloat(v, 'f', 2, 64), nil
}

func (g *PayFastGateway) BuildSubscriptionRequest(in adapter.SubscriptionRequest) (*adapter.CheckoutForm, error) {
	amount, err := FormatAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.PaymentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	frequency := in.Frequency
	if frequency == 0 {
		frequency = 3
	}

	// Protocol order. Do not sort.
	ordered := []adapter.Field{
		{Name: "merchant_id", Value: g.cfg.MerchantID},
		{Name: "merchant_key", Value: g.cfg.MerchantKey},
		{Name: "return_url", Value: in.ReturnURL},
		{Name: "cancel_url", Value: in.CancelURL},
		{Name: "notify_url", Value: in.NotifyURL},
		{Name: "name_first", Value: in.NameFirst},
		{Name: "name_last", Value: in.NameLast},
		{Name: "email_address", Value: in.Email},
		{Name: "m_payment_id", Value: in.PaymentID},
		{Name: "amount", Value: amount},
		{Name: "item_name", Value: in.ItemName},
		{Name: "item_description", Value: in.ItemDescription},
		{Name: "custom_str1", Value: in.CustomStr1},
		{Name: "custom_str2", Value: in.CustomStr2},
		{Name: "custom_str3", Value: in.CustomStr3},
		{Name: "subscription_type", Value: "1"},
		{Name: "billing_date", Value: in.BillingDate},
		{Name: "frequency", Value: strconv.Itoa(frequency)},
		{Name: "cycles", Value: strconv.Itoa(in.Cycles)},
		{Name: "currency", Value: in.Currency},
	}

	fields := make([]adapter.Field, 0, len(ordered)+1)
	for _, f := range ordered {
		v := strings.TrimSpace(f.Value)
		if v == "" {
			continue
		}
		fields = append(fields, adapter.Field{Name: f.Name, Value: v})
	}
	fields = append(fields, adapter.Field{Name: "signature", Value: g.signer.Sign(fields, g.cfg.Passphrase)})

	return &adapter.CheckoutForm{PostURL: g.cfg.ProcessURL, Fields: fields}, nil
}

var autoSubmitTmpl = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to payment…</title></head>
<body onload="document.forms[0].submit()">
<form action="{{.PostURL}}" method="post">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{- end}}
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

func (g *PayFastGateway) RenderAutoSubmitForm(form *adapter.CheckoutForm) (string, error) {
	if form == nil || form.PostURL == "" {
		return "", domain.ErrInvalidArgument
	}
	var b strings.Builder
	if err := autoSubmitTmpl.Execute(&b, form); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (g *PayFastGateway) ParseNotification(raw []byte) (*adapter.Notification, error) {
	return ParseNotification(raw)
}

// VerifySignature recomputes the digest over the notification's fields in wire order.
func (g *PayFastGateway) VerifySignature(n *adapter.Notification) bool {
	if n == nil {
		return false
	}
	return g.signer.Verify(n.Signature, n.Fields, g.cfg.Passphrase)
}

// VerifyPayment asks the validate endpoint about pfPaymentID. Transport failures
// are retried once and then reported as domain.ErrGatewayUnavailable.
func (g *PayFastGateway) VerifyPayment(ctx context.Context, pfPaymentID string) (bool, error) {
	pfPaymentID = strings.TrimSpace(pfPaymentID)
	if pfPaymentID == "" {
		return false, domain.ErrInvalidArgument
	}
	fields := []adapter.Field{
		{Name: "merchant_id", Value: g.cfg.MerchantID},
		{Name: "merchant_key", Value: g.cfg.MerchantKey},
		{Name: "pf_payment_id", Value: pfPaymentID},
	}
	sig := g.signer.SignSorted(fields, g.cfg.Passphrase)
	form := url.Values{}
	for _, f := range SortedFields(fields) {
		form.Set(f.Name, f.Value)
	}
	form.Set("signature", sig)
	body := form.Encode()

	var (
		text string
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		text, err = g.postValidate(ctx, body)
		if err == nil || ctx.Err() != nil {
			break
		}
		g.log.Warn().Err(err).Int("attempt", attempt+1).Str("pf_payment_id", pfPaymentID).Msg("validate call failed")
	}
	if err != nil {
		metrics.IncGatewayCall("validate", "unavailable")
		return false, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	ok := interpretValidateBody(text)
	if ok {
		metrics.IncGatewayCall("validate", "ok")
	} else {
		metrics.IncGatewayCall("validate", "rejected")
	}
	return ok, nil
}

func (g *PayFastGateway) postValidate(ctx context.Context, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.ValidateURL, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("validate http %d", resp.StatusCode)
	}
	return string(b), nil
}

// interpretValidateBody accepts VALID or COMPLETE, but never INVALID, which
// would otherwise match the VALID substring.
func interpretValidateBody(body string) bool {
	s := strings.ToUpper(strings.TrimSpace(body))
	if strings.Contains(s, "INVALID") {
		return false
	}
	return strings.Contains(s, "VALID") || strings.Contains(s, "COMPLETE")
}

// CancelSubscription cancels recurring billing via the subscriptions API.
func (g *PayFastGateway) CancelSubscription(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, domain.ErrInvalidArgument
	}
	headers := []adapter.Field{
		{Name: "merchant-id", Value: g.cfg.MerchantID},
		{Name: "version", Value: apiVersion},
		{Name: "timestamp", Value: g.now().UTC().Format("2006-01-02T15:04:05-07:00")},
	}
	sig := g.signer.SignSorted(headers, g.cfg.Passphrase)

	endpoint := strings.TrimRight(g.cfg.APIBaseURL, "/") + "/subscriptions/" + url.PathEscape(token) + "/cancel"
	if g.cfg.Sandbox {
		endpoint += "?testing=true"
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, http.NoBody)
	if err != nil {
		return false, err
	}
	for _, h := range headers {
		req.Header.Set(h.Name, h.Value)
	}
	req.Header.Set("signature", sig)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.IncGatewayCall("cancel", "unavailable")
		return false, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusOK:
		metrics.IncGatewayCall("cancel", "ok")
		return true, nil
	case resp.StatusCode >= 500:
		metrics.IncGatewayCall("cancel", "unavailable")
		return false, fmt.Errorf("%w: cancel http %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	default:
		metrics.IncGatewayCall("cancel", "rejected")
		g.log.Warn().Int("status", resp.StatusCode).Str("token", logging.Redact(token, g.cfg.Dev)).Msg("subscription cancel rejected")
		return false, nil
	}
}
