package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/ltpa"
)

// Defaults shared by the generator, the verifier and the config package.
const (
	DefaultTTL       = 7200 * time.Second
	DefaultClockSkew = time.Minute
)

// Generator issues tokens for one KeyMaterial with a fixed lifetime.
type Generator struct {
	codec *Codec
	ttl   time.Duration
	nowFn func() time.Time
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorNow injects a deterministic clock source (useful for tests).
func WithGeneratorNow(fn func() time.Time) GeneratorOption {
	return func(g *Generator) {
		if fn != nil {
			g.nowFn = fn
		}
	}
}

func defaultNow() time.Time { return time.Now().UTC() }

// NewGenerator builds a generator; a non-positive ttl selects DefaultTTL.
func NewGenerator(km *KeyMaterial, ttl time.Duration, opts ...GeneratorOption) (*Generator, error) {
	codec, err := NewCodec(km)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Generator{codec: codec, ttl: ttl}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.nowFn == nil {
		g.nowFn = defaultNow
	}
	return g, nil
}

// TTL returns the lifetime given to new tokens.
func (g *Generator) TTL() time.Duration { return g.ttl }

// NewMetadata returns a record for user expiring one TTL from now.
func (g *Generator) NewMetadata(v ltpa.Version, user string) *Metadata {
	return NewMetadata(v, user, g.nowFn().Add(g.ttl))
}

// Generate issues a token of version v for user.
func (g *Generator) Generate(v ltpa.Version, user string) (string, error) {
	if g == nil {
		return "", errors.New("token generator is nil")
	}
	return g.codec.Encode(g.NewMetadata(v, user))
}

// GenerateMetadata encodes m after stamping a fresh expiration on a copy.
func (g *Generator) GenerateMetadata(m *Metadata) (string, error) {
	if m == nil {
		return "", fmt.Errorf("%w: metadata is nil", ltpa.ErrFormat)
	}
	c := m.Clone()
	c.Expire = g.nowFn().Add(g.ttl).UnixMilli()
	c.Signature = nil
	return g.codec.Encode(c)
}

// Verifier decodes tokens, checks their signature and rejects expired ones.
type Verifier struct {
	codec *Codec
	skew  time.Duration
	nowFn func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierNow injects a deterministic clock source (useful for tests).
func WithVerifierNow(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.nowFn = fn
		}
	}
}

// WithClockSkew sets how long past its expiration a token is still accepted.
func WithClockSkew(skew time.Duration) VerifierOption {
	return func(v *Verifier) {
		if skew >= 0 {
			v.skew = skew
		}
	}
}

// NewVerifier builds a verifier with DefaultClockSkew unless overridden.
func NewVerifier(km *KeyMaterial, opts ...VerifierOption) (*Verifier, error) {
	codec, err := NewCodec(km)
	if err != nil {
		return nil, err
	}
	v := &Verifier{codec: codec, skew: DefaultClockSkew}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.nowFn == nil {
		v.nowFn = defaultNow
	}
	return v, nil
}

// Verify decodes a token of version ver and returns its metadata once the
// signature checks out. An expired token yields ltpa.ErrExpired.
func (v *Verifier) Verify(encoded string, ver ltpa.Version) (*Metadata, error) {
	if v == nil {
		return nil, errors.New("token verifier is nil")
	}
	m, err := v.codec.Decode(encoded, ver)
	if err != nil {
		return nil, err
	}
	if err := v.codec.Verify(m); err != nil {
		return nil, err
	}
	if m.IsExpired(v.nowFn(), v.skew) {
		return nil, fmt.Errorf("%w: at %s", ltpa.ErrExpired, m.ExpiresAt().Format(time.RFC3339))
	}
	return m, nil
}
