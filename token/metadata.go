package token

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/ltpa"
)

// Metadata entry keys, in the order they are written.
const (
	FieldExpire         = "expire"
	FieldUser           = "u"
	FieldHost           = "host"
	FieldNamingProvider = "java.naming.provider.url"
	FieldPort           = "port"
	FieldServerName     = "process.serverName"
	FieldAuthMechOID    = "security.authMechOID"
	FieldType           = "type"
)

var (
	// ErrMissingSeparator is returned when the plaintext lacks the two '%' separators.
	ErrMissingSeparator = fmt.Errorf("%w: missing envelope separator", ltpa.ErrFormat)
	// ErrMissingUser is returned when the metadata block has no "u:" entry.
	ErrMissingUser = fmt.Errorf("%w: missing user entry", ltpa.ErrFormat)
)

// Metadata is the identity record carried by a token. User and the other
// free-text fields hold their escaped form; an empty string means the field
// is absent.
type Metadata struct {
	Version              ltpa.Version
	User                 string
	Expire               int64 // epoch milliseconds
	Host                 string
	Port                 int
	NamingProvider       string
	ServerName           string
	AuthenticationMethod string
	Type                 string
	Signature            []byte
}

// NewMetadata returns a record for user expiring at expire.
func NewMetadata(v ltpa.Version, user string, expire time.Time) *Metadata {
	return &Metadata{
		Version: v,
		User:    user,
		Expire:  expire.UnixMilli(),
	}
}

// LtpaUser builds the principal string the partner system expects:
// user\:<realm>/<dn>, with realm and dn escaped.
func LtpaUser(realm, dn string) string {
	return "user" + EscapeField(":") + EscapeField(realm) + "/" + EscapeField(dn)
}

// UnescapedUser returns User with delimiter escapes removed.
func (m *Metadata) UnescapedUser() string {
	if m == nil {
		return ""
	}
	return UnescapeField(m.User)
}

// ExpiresAt returns the expiration as a time.Time.
func (m *Metadata) ExpiresAt() time.Time {
	return time.UnixMilli(m.Expire).UTC()
}

// IsExpired reports whether the record is past its expiration plus skew at now.
func (m *Metadata) IsExpired(now time.Time, skew time.Duration) bool {
	if m == nil {
		return true
	}
	return now.After(m.ExpiresAt().Add(skew))
}

// Fields returns the serialized metadata block, the part that gets signed.
func (m *Metadata) Fields() string {
	return string(m.appendFields(nil))
}

func (m *Metadata) appendFields(buf []byte) []byte {
	if m.Version == ltpa.Version2 {
		buf = appendEntry(buf, FieldExpire, "")
		buf = strconv.AppendInt(buf, m.Expire, 10)
		buf = append(buf, userDataDelim)
	}
	buf = appendEntry(buf, FieldUser, m.User)
	if m.Host != "" {
		buf = append(buf, userDataDelim)
		buf = appendEntry(buf, FieldHost, m.Host)
	}
	if m.NamingProvider != "" {
		buf = append(buf, userDataDelim)
		buf = appendEntry(buf, FieldNamingProvider, m.NamingProvider)
	}
	if m.Port > 0 {
		buf = append(buf, userDataDelim)
		buf = appendEntry(buf, FieldPort, "")
		buf = strconv.AppendInt(buf, int64(m.Port), 10)
	}
	if m.ServerName != "" {
		buf = append(buf, userDataDelim)
		buf = appendEntry(buf, FieldServerName, m.ServerName)
	}
	if m.AuthenticationMethod != "" {
		buf = append(buf, userDataDelim)
		buf = appendEntry(buf, FieldAuthMechOID, m.AuthenticationMethod)
	}
	if m.Type != "" {
		buf = append(buf, userDataDelim)
		buf = appendEntry(buf, FieldType, m.Type)
	}
	return buf
}

func appendEntry(buf []byte, key, value string) []byte {
	buf = append(buf, key...)
	buf = append(buf, userAttribDelim)
	return append(buf, value...)
}

// appendTrailer completes a serialized metadata block into the envelope
// fields%expire%signature.
func (m *Metadata) appendTrailer(buf, sig []byte) []byte {
	buf = append(buf, tokenDelim)
	buf = strconv.AppendInt(buf, m.Expire, 10)
	buf = append(buf, tokenDelim)
	n := len(buf)
	buf = append(buf, make([]byte, encodeBase64Len(sig))...)
	encodeBase64(buf[n:], sig)
	return buf
}

// ParseEnvelope parses a decrypted token plaintext into a record of version v.
// An expire entry inside the metadata block takes precedence over the
// envelope's expiration slot. Unknown entries are ignored.
func ParseEnvelope(plain string, v ltpa.Version) (*Metadata, error) {
	parts := splitField(plain, tokenDelim, 3)
	if len(parts) < 3 {
		return nil, ErrMissingSeparator
	}
	expire, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expiration %q", ltpa.ErrFormat, parts[1])
	}
	m := &Metadata{Version: v, Expire: expire}

	hasUser := false
	for _, entry := range splitField(parts[0], userDataDelim, -1) {
		key, value, ok := strings.Cut(entry, string(userAttribDelim))
		if !ok {
			continue
		}
		switch key {
		case FieldExpire:
			if m.Expire, err = strconv.ParseInt(value, 10, 64); err != nil {
				return nil, fmt.Errorf("%w: expire entry %q", ltpa.ErrFormat, value)
			}
		case FieldUser:
			m.User = value
			hasUser = true
		case FieldHost:
			m.Host = value
		case FieldNamingProvider:
			m.NamingProvider = value
		case FieldPort:
			if m.Port, err = strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("%w: port entry %q", ltpa.ErrFormat, value)
			}
		case FieldServerName:
			m.ServerName = value
		case FieldAuthMechOID:
			m.AuthenticationMethod = value
		case FieldType:
			m.Type = value
		}
	}
	if !hasUser {
		return nil, ErrMissingUser
	}

	sig, err := decodeBase64(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ltpa.ErrFormat, err)
	}
	m.Signature = sig
	return m, nil
}

// Equal compares every field except Signature.
func (m *Metadata) Equal(o *Metadata) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.Version == o.Version &&
		m.User == o.User &&
		m.Expire == o.Expire &&
		m.Host == o.Host &&
		m.Port == o.Port &&
		m.NamingProvider == o.NamingProvider &&
		m.ServerName == o.ServerName &&
		m.AuthenticationMethod == o.AuthenticationMethod &&
		m.Type == o.Type
}

// Clone returns a deep copy of m.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Signature = bytes.Clone(m.Signature)
	return &c
}

func (m *Metadata) validate() error {
	if m == nil {
		return fmt.Errorf("%w: metadata is nil", ltpa.ErrFormat)
	}
	if !m.Version.Valid() {
		return fmt.Errorf("%w: unsupported token version %d", ltpa.ErrFormat, m.Version)
	}
	fields := [...]struct{ key, value string }{
		{FieldUser, m.User},
		{FieldHost, m.Host},
		{FieldNamingProvider, m.NamingProvider},
		{FieldServerName, m.ServerName},
		{FieldAuthMechOID, m.AuthenticationMethod},
		{FieldType, m.Type},
	}
	for _, f := range fields {
		if hasBareDelimiter(f.value) {
			return fmt.Errorf("%w: %s entry has an unescaped delimiter", ltpa.ErrFormat, f.key)
		}
		// A trailing backslash would escape the separator written after it.
		if strings.HasSuffix(f.value, string(escapeChar)) {
			return fmt.Errorf("%w: %s entry ends in a backslash", ltpa.ErrFormat, f.key)
		}
	}
	return nil
}

// hasBareDelimiter reports an unescaped '%' or '$', either of which would
// split the entry on parse. A bare ':' is harmless inside a value.
func hasBareDelimiter(s string) bool {
	for i := 0; i < len(s); i++ {
		if (s[i] == tokenDelim || s[i] == userDataDelim) && (i == 0 || s[i-1] != escapeChar) {
			return true
		}
	}
	return false
}
