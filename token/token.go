// Package token encodes and decodes LTPA single-sign-on tokens.
//
// A token is the base64 ciphertext of the plaintext envelope
//
//	[expire:<ms>$]u:<user>[$host:..][$port:..]...%<expire ms>%<base64 signature>
//
// Version 1 tokens are triple-DES encrypted and signed with ISO-9796 RSA;
// version 2 tokens are AES encrypted and signed with SHA1withRSA. The version
// is not recorded in the ciphertext, so Decode must be told which one to expect.
package token

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oarkflow/ltpa"
)

// Maximum accepted length of an encoded token.
const maxTokenSize = 8192

// Codec binds encode and decode to one KeyMaterial. It holds no mutable
// state and may be shared between goroutines.
type Codec struct {
	km *KeyMaterial
}

// NewCodec returns a codec using km.
func NewCodec(km *KeyMaterial) (*Codec, error) {
	if km == nil {
		return nil, fmt.Errorf("%w: key material is nil", ltpa.ErrConfiguration)
	}
	return &Codec{km: km}, nil
}

// KeyMaterial returns the keys the codec was built with.
func (c *Codec) KeyMaterial() *KeyMaterial { return c.km }

// Encode signs and encrypts m using its Version.
func (c *Codec) Encode(m *Metadata) (string, error) {
	return Encode(m, c.km)
}

// Decode decrypts and parses a token of version v. It does not check the
// signature; call Verify for that.
func (c *Codec) Decode(encoded string, v ltpa.Version) (*Metadata, error) {
	return Decode(encoded, v, c.km)
}

// Verify checks m.Signature against m's fields.
func (c *Codec) Verify(m *Metadata) error {
	return Verify(m, c.km)
}

// Encode serializes m, signs the SHA-1 digest of its fields with the suite of
// m.Version, wraps fields, expiration and signature into the envelope, then
// encrypts and base64-encodes it. No partial token is returned on failure.
func Encode(m *Metadata, km *KeyMaterial) (string, error) {
	if km == nil {
		return "", fmt.Errorf("%w: key material is nil", ltpa.ErrConfiguration)
	}
	if err := m.validate(); err != nil {
		return "", err
	}
	method, err := SigningMethodFor(m.Version)
	if err != nil {
		return "", err
	}
	alg, err := AlgorithmFor(m.Version)
	if err != nil {
		return "", err
	}

	pb := acquirePlainBuffer()
	defer pb.Release()

	pb.buf = m.appendFields(pb.buf)
	digest := sha1.Sum(pb.buf)
	sig, err := method.Sign(digest[:], km)
	if err != nil {
		return "", err
	}
	pb.buf = m.appendTrailer(pb.buf, sig)

	ciphertext, err := crypt(pb.Bytes(), km.sharedKey, alg, modeEncrypt)
	if err != nil {
		return "", err
	}
	return encodeBase64String(ciphertext), nil
}

// Decode is the inverse of Encode, minus signature verification.
func Decode(encoded string, v ltpa.Version, km *KeyMaterial) (*Metadata, error) {
	if km == nil {
		return nil, fmt.Errorf("%w: key material is nil", ltpa.ErrConfiguration)
	}
	alg, err := AlgorithmFor(v)
	if err != nil {
		return nil, err
	}
	if len(encoded) > maxTokenSize {
		return nil, fmt.Errorf("%w: token is %d bytes, limit %d", ltpa.ErrFormat, len(encoded), maxTokenSize)
	}
	ciphertext, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: token is not base64: %v", ltpa.ErrFormat, err)
	}
	plain, err := crypt(ciphertext, km.sharedKey, alg, modeDecrypt)
	if err != nil {
		return nil, err
	}
	defer wipe(plain)
	// Decrypting with the wrong key can still end in valid padding; what
	// comes out is then binary noise rather than text.
	if !utf8.Valid(plain) {
		return nil, fmt.Errorf("%w: decrypted token is not text", ltpa.ErrCrypto)
	}
	return ParseEnvelope(string(plain), v)
}

// Verify recomputes the digest of m's fields and checks m.Signature with the
// suite of m.Version.
func Verify(m *Metadata, km *KeyMaterial) error {
	if km == nil {
		return fmt.Errorf("%w: key material is nil", ltpa.ErrConfiguration)
	}
	if err := m.validate(); err != nil {
		return err
	}
	if len(m.Signature) == 0 {
		return ErrInvalidSignature
	}
	method, err := SigningMethodFor(m.Version)
	if err != nil {
		return err
	}
	fields := m.appendFields(nil)
	digest := sha1.Sum(fields)
	return method.Verify(digest[:], m.Signature, km)
}

func encodeBase64Len(src []byte) int {
	return base64.StdEncoding.EncodedLen(len(src))
}

func encodeBase64(dst, src []byte) {
	base64.StdEncoding.Encode(dst, src)
}

func encodeBase64String(src []byte) string {
	return base64.StdEncoding.EncodeToString(src)
}

// decodeBase64 accepts standard base64 with or without padding and ignores
// line breaks and surrounding space.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "\r\n") {
		s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	}
	if s == "" {
		return nil, fmt.Errorf("empty input")
	}
	if strings.HasSuffix(s, "=") || len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
