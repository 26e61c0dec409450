package token

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/oarkflow/ltpa"
)

// KeyMaterial is the decrypted key set used by every encode and decode call.
// It is immutable once built and safe for concurrent use.
type KeyMaterial struct {
	sharedKey []byte
	rsaKey    *RSAKey
	private   *rsa.PrivateKey // nil when the key has no primes
	realm     string
}

// Bundle is the encrypted form of the keys as the partner system exports them.
type Bundle struct {
	SharedKey  string // base64, the shared secret
	PrivateKey string // base64, the RSA private key blob
	Realm      string
}

type loadOptions struct {
	realm  string
	layout KeyLayout
}

// LoadOption customizes LoadKeyMaterial.
type LoadOption func(*loadOptions)

// WithRealm records the realm the keys belong to.
func WithRealm(realm string) LoadOption {
	return func(o *loadOptions) {
		o.realm = strings.TrimSpace(realm)
	}
}

// WithKeyLayout selects the private key blob layout (default LayoutSequence).
func WithKeyLayout(layout KeyLayout) LoadOption {
	return func(o *loadOptions) {
		o.layout = layout
	}
}

// LoadKeyMaterial decrypts the shared secret and the private key blob with
// a key derived from password, then completes the RSA tuple.
func LoadKeyMaterial(password, sharedKeyB64, privateKeyB64 string, opts ...LoadOption) (*KeyMaterial, error) {
	o := loadOptions{layout: LayoutSequence}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	switch {
	case password == "":
		return nil, fmt.Errorf("%w: key password is empty", ltpa.ErrConfiguration)
	case strings.TrimSpace(sharedKeyB64) == "":
		return nil, fmt.Errorf("%w: shared key is empty", ltpa.ErrConfiguration)
	case strings.TrimSpace(privateKeyB64) == "":
		return nil, fmt.Errorf("%w: private key is empty", ltpa.ErrConfiguration)
	}

	kek := deriveKeyEncryptionKey(password)
	defer wipe(kek)

	shared, err := decryptKeyBlob(sharedKeyB64, kek)
	if err != nil {
		return nil, fmt.Errorf("shared key: %w", err)
	}
	defer wipe(shared)
	rawKey, err := decryptKeyBlob(privateKeyB64, kek)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	defer wipe(rawKey)

	key, err := parseRawKey(rawKey, o.layout)
	if err != nil {
		return nil, err
	}
	return NewKeyMaterial(shared, key, o.realm)
}

// LoadBundle is LoadKeyMaterial for a Bundle; the bundle realm is used
// unless opts set one.
func LoadBundle(password string, b Bundle, opts ...LoadOption) (*KeyMaterial, error) {
	opts = append([]LoadOption{WithRealm(b.Realm)}, opts...)
	return LoadKeyMaterial(password, b.SharedKey, b.PrivateKey, opts...)
}

// NewKeyMaterial builds key material from already decrypted values. key is
// completed in place.
func NewKeyMaterial(sharedKey []byte, key *RSAKey, realm string) (*KeyMaterial, error) {
	if len(sharedKey) < desedeKeySize {
		return nil, fmt.Errorf("%w: shared key is %d bytes, need %d", ltpa.ErrConfiguration, len(sharedKey), desedeKeySize)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: RSA key is missing", ltpa.ErrConfiguration)
	}
	if err := key.Complete(); err != nil {
		return nil, err
	}
	km := &KeyMaterial{
		sharedKey: bytes.Clone(sharedKey),
		rsaKey:    key.Clone(),
		realm:     realm,
	}
	if key.P != nil && key.Q != nil {
		priv, err := newRSAPrivateKey(key)
		if err != nil {
			return nil, err
		}
		km.private = priv
	}
	return km, nil
}

func newRSAPrivateKey(k *RSAKey) (*rsa.PrivateKey, error) {
	if k.E == nil || !k.E.IsInt64() || k.E.Int64() > int64(^uint32(0)>>1) {
		return nil, fmt.Errorf("%w: public exponent does not fit an int", ltpa.ErrConfiguration)
	}
	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: cloneInt(k.N), E: int(k.E.Int64())},
		D:         cloneInt(k.D),
		Primes:    []*big.Int{cloneInt(k.P), cloneInt(k.Q)},
	}
	priv.Precompute()
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: RSA key: %v", ltpa.ErrConfiguration, err)
	}
	return priv, nil
}

// Realm returns the realm the keys were loaded for.
func (km *KeyMaterial) Realm() string { return km.realm }

// RSAKey returns a copy of the completed RSA tuple.
func (km *KeyMaterial) RSAKey() *RSAKey { return km.rsaKey.Clone() }

// PublicKey returns the standard public key, or nil for a key without primes.
func (km *KeyMaterial) PublicKey() *rsa.PublicKey {
	if km.private == nil {
		return nil
	}
	pub := km.private.PublicKey
	return &pub
}

// ExportBundle re-encrypts the keys under password in LayoutSequence.
func (km *KeyMaterial) ExportBundle(password string) (Bundle, error) {
	if password == "" {
		return Bundle{}, fmt.Errorf("%w: key password is empty", ltpa.ErrConfiguration)
	}
	kek := deriveKeyEncryptionKey(password)
	defer wipe(kek)

	raw, err := marshalSequenceKey(km.rsaKey)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: private key: %v", ltpa.ErrConfiguration, err)
	}
	defer wipe(raw)
	shared, err := Encrypt(kek, km.sharedKey, AlgDESede)
	if err != nil {
		return Bundle{}, err
	}
	private, err := Encrypt(kek, raw, AlgDESede)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{
		SharedKey:  encodeBase64String(shared),
		PrivateKey: encodeBase64String(private),
		Realm:      km.realm,
	}, nil
}

// deriveKeyEncryptionKey hashes password with SHA-1 and zero-pads the 20-byte
// digest to the 24 bytes triple-DES needs.
func deriveKeyEncryptionKey(password string) []byte {
	sum := sha1.Sum([]byte(password))
	kek := make([]byte, desedeKeySize)
	copy(kek, sum[:])
	return kek
}

func decryptKeyBlob(b64 string, kek []byte) ([]byte, error) {
	blob, err := decodeBase64(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64: %v", ltpa.ErrConfiguration, err)
	}
	plain, err := Decrypt(kek, blob, AlgDESede)
	if err != nil {
		if errors.Is(err, ErrBadPadding) {
			return nil, fmt.Errorf("%w: wrong key password: %w", ltpa.ErrConfiguration, err)
		}
		return nil, fmt.Errorf("%w: %w", ltpa.ErrConfiguration, err)
	}
	return plain, nil
}
