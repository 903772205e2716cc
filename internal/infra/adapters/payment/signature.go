package payment

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"sort"
	"strings"

	"propulse/internal/domain/ports/adapter"
)

const upperHex = "0123456789ABCDEF"

// unreserved matches the set encodeURIComponent leaves untouched.
func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// EncodeValue percent-encodes v with upper-case hex and turns every encoded
// space (%20) into '+', which is what the gateway recomputes over.
func EncodeValue(v string) string {
	var b strings.Builder
	b.Grow(len(v) + len(v)/2)
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case unreserved(c):
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&0x0f])
		}
	}
	return b.String()
}

// BuildSignatureBase joins name=EncodeValue(trim(value)) pairs with '&' in the
// order given. Values that are empty after trimming are skipped; "0" is not empty.
// A non-blank passphrase is appended as the last pair.
func BuildSignatureBase(fields []adapter.Field, passphrase string) string {
	var b strings.Builder
	for _, f := range fields {
		v := strings.TrimSpace(f.Value)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(EncodeValue(v))
	}
	if p := strings.TrimSpace(passphrase); p != "" {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString("passphrase=")
		b.WriteString(EncodeValue(p))
	}
	return b.String()
}

// SortedFields returns a copy of fields ordered by name. The validate and
// subscription APIs sign alphabetically, unlike the checkout/notification flow.
func SortedFields(fields []adapter.Field) []adapter.Field {
	out := make([]adapter.Field, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Signer produces and checks keyed digests over a signature base.
// The hash is pluggable so the legacy MD5 can be replaced without touching callers.
type Signer struct {
	newHash func() hash.Hash
}

func NewSigner(newHash func() hash.Hash) *Signer {
	return &Signer{newHash: newHash}
}

// NewMD5Signer matches the gateway's wire format.
func NewMD5Signer() *Signer { return NewSigner(md5.New) }

// Sign returns the lower-case hex digest of BuildSignatureBase(fields, passphrase).
func (s *Signer) Sign(fields []adapter.Field, passphrase string) string {
	h := s.newHash()
	h.Write([]byte(BuildSignatureBase(fields, passphrase)))
	return hex.EncodeToString(h.Sum(nil))
}

// SignSorted folds the passphrase into the field set and signs it in name order.
func (s *Signer) SignSorted(fields []adapter.Field, passphrase string) string {
	all := make([]adapter.Field, 0, len(fields)+1)
	all = append(all, fields...)
	if p := strings.TrimSpace(passphrase); p != "" {
		all = append(all, adapter.Field{Name: "passphrase", Value: p})
	}
	return s.Sign(SortedFields(all), "")
}

// Verify compares the received digest to the recomputed one in constant time.
func (s *Signer) Verify(received string, fields []adapter.Field, passphrase string) bool {
	got := strings.ToLower(strings.TrimSpace(received))
	if got == "" {
		return false
	}
	want := s.Sign(fields, passphrase)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
