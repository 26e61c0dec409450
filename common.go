// Package ltpa holds the types shared by every LTPA component: the token
// version selector and the classified error kinds.
package ltpa

import (
	"errors"
	"fmt"
)

// Error classes. Every codec error wraps exactly one of ErrConfiguration,
// ErrCrypto or ErrFormat, so callers can branch with errors.Is.
var (
	// ErrConfiguration reports unusable key material or settings. It is fatal at startup.
	ErrConfiguration = errors.New("ltpa: invalid configuration")

	// ErrCrypto reports a cipher, padding or RSA failure for a single call.
	ErrCrypto = errors.New("ltpa: cryptographic failure")

	// ErrFormat reports a token whose plaintext does not follow the field format.
	ErrFormat = errors.New("ltpa: malformed token")

	// ErrSelfTest is returned when the startup round trip does not reproduce its input.
	ErrSelfTest = fmt.Errorf("%w: self-test round trip mismatch", ErrConfiguration)

	// ErrExpired is returned by token verification when a well-formed,
	// correctly signed token is past its expiration.
	ErrExpired = errors.New("ltpa: token expired")
)

// Version denotes an LTPA token generation. The ciphertext does not carry it;
// the caller knows it from the cookie that delivered the token.
type Version int32

const (
	VersionUnknown Version = 0
	Version1       Version = 1
	Version2       Version = 2
)

// Cookie names used by the partner identity system for each version.
const (
	CookieNameV1 = "LtpaToken"
	CookieNameV2 = "LtpaToken2"
)

// CookieName returns the cookie that carries tokens of version v.
func (v Version) CookieName() string {
	switch v {
	case Version1:
		return CookieNameV1
	case Version2:
		return CookieNameV2
	default:
		return "Unknown"
	}
}

func (v Version) String() string {
	return v.CookieName()
}

// Valid reports whether v is one of the two supported generations.
func (v Version) Valid() bool {
	return v == Version1 || v == Version2
}

// VersionByCookieName maps a cookie name back to its token version.
func VersionByCookieName(name string) Version {
	switch name {
	case CookieNameV1:
		return Version1
	case CookieNameV2:
		return Version2
	default:
		return VersionUnknown
	}
}
