package token

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"

	"github.com/oarkflow/ltpa"
)

// ErrInvalidSignature is returned when a token signature does not match its fields.
var ErrInvalidSignature = fmt.Errorf("%w: invalid token signature", ltpa.ErrCrypto)

// SigningMethod signs and verifies the SHA-1 digest of a metadata block.
type SigningMethod interface {
	Version() ltpa.Version
	Sign(digest []byte, km *KeyMaterial) ([]byte, error)
	Verify(digest, sig []byte, km *KeyMaterial) error
}

// SigningMethodFor returns the signing suite of version v.
func SigningMethodFor(v ltpa.Version) (SigningMethod, error) {
	switch v {
	case ltpa.Version1:
		return SigningMethodISO9796, nil
	case ltpa.Version2:
		return SigningMethodSHA1RSA, nil
	default:
		return nil, fmt.Errorf("%w: unsupported token version %d", ltpa.ErrFormat, v)
	}
}

// SigningMethodISO9796 is the version 1 suite: the digest is ISO-9796 padded
// and raised to the private exponent directly.
var SigningMethodISO9796 = &signingMethodISO9796{}

type signingMethodISO9796 struct{}

func (m *signingMethodISO9796) Version() ltpa.Version { return ltpa.Version1 }

func (m *signingMethodISO9796) Sign(digest []byte, km *KeyMaterial) ([]byte, error) {
	return km.rsaKey.signISO9796(digest)
}

// Verify re-signs; the scheme is deterministic.
func (m *signingMethodISO9796) Verify(digest, sig []byte, km *KeyMaterial) error {
	expected, err := km.rsaKey.signISO9796(digest)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, sig) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// SigningMethodSHA1RSA is the version 2 suite: PKCS#1 v1.5 SHA1withRSA over
// the digest bytes, so the fields end up hashed twice.
var SigningMethodSHA1RSA = &signingMethodSHA1RSA{}

type signingMethodSHA1RSA struct{}

func (m *signingMethodSHA1RSA) Version() ltpa.Version { return ltpa.Version2 }

func (m *signingMethodSHA1RSA) Sign(digest []byte, km *KeyMaterial) ([]byte, error) {
	if km.private == nil {
		return nil, fmt.Errorf("%w: version 2 signing needs the RSA primes", ltpa.ErrCrypto)
	}
	hashed := sha1.Sum(digest)
	sig, err := rsa.SignPKCS1v15(rand.Reader, km.private, crypto.SHA1, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ltpa.ErrCrypto, err)
	}
	return sig, nil
}

func (m *signingMethodSHA1RSA) Verify(digest, sig []byte, km *KeyMaterial) error {
	if km.private == nil {
		return fmt.Errorf("%w: version 2 verification needs the RSA public key", ltpa.ErrCrypto)
	}
	hashed := sha1.Sum(digest)
	if err := rsa.VerifyPKCS1v15(&km.private.PublicKey, crypto.SHA1, hashed[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
