package payment

import (
	"net/url"
	"strings"

	"propulse/internal/domain"
	"propulse/internal/domain/ports/adapter"
)

// ParseNotification decodes a form-encoded notification body, keeping the
// fields in the order they arrived. url.ParseQuery would lose that order,
// and the signature is computed over it.
func ParseNotification(raw []byte) (*adapter.Notification, error) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return nil, domain.ErrMalformedNotification
	}

	n := &adapter.Notification{Raw: body}
	var hasSignature, hasStatus bool
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			return nil, domain.ErrMalformedNotification
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, domain.ErrMalformedNotification
		}
		switch name {
		case "":
			continue
		case "signature":
			n.Signature = value
			hasSignature = true
			continue
		case "payment_status":
			hasStatus = true
		}
		n.Fields = append(n.Fields, adapter.Field{Name: name, Value: value})
	}
	if !hasSignature || !hasStatus {
		return nil, domain.ErrMalformedNotification
	}
	return n, nil
}
