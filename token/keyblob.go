package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/oarkflow/ltpa"
	"golang.org/x/crypto/cryptobyte"
)

// KeyLayout selects how the decrypted private key blob is laid out.
type KeyLayout int

const (
	// LayoutSequence is up to eight uint32-length-prefixed big-endian
	// integers in the order n, e, d, p, q, dp, dq, qInv. A zero length marks
	// an absent value.
	LayoutSequence KeyLayout = iota
	// LayoutWebSphere is the compact vendor layout: uint32 length of d, d,
	// then e (3 bytes), p (65 bytes) and q (65 bytes).
	LayoutWebSphere
)

const (
	rawKeyElements = 8

	websphereExponentLen = 3
	webspherePrimeLen    = 65
)

func (l KeyLayout) String() string {
	switch l {
	case LayoutSequence:
		return "sequence"
	case LayoutWebSphere:
		return "websphere"
	default:
		return "unknown"
	}
}

// ParseKeyLayout maps a configuration name to a layout. The empty string
// selects LayoutSequence.
func ParseKeyLayout(name string) (KeyLayout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sequence":
		return LayoutSequence, nil
	case "websphere":
		return LayoutWebSphere, nil
	default:
		return 0, fmt.Errorf("%w: unknown key layout %q", ltpa.ErrConfiguration, name)
	}
}

// parseRawKey reads the RSA tuple out of a decrypted private key blob. The
// result is not completed.
func parseRawKey(data []byte, layout KeyLayout) (*RSAKey, error) {
	switch layout {
	case LayoutSequence:
		return parseSequenceKey(data)
	case LayoutWebSphere:
		return parseWebSphereKey(data)
	default:
		return nil, fmt.Errorf("%w: unknown key layout %d", ltpa.ErrConfiguration, layout)
	}
}

func parseSequenceKey(data []byte) (*RSAKey, error) {
	var elems [rawKeyElements]*big.Int
	s := cryptobyte.String(data)
	for i := 0; !s.Empty(); i++ {
		if i == rawKeyElements {
			return nil, fmt.Errorf("%w: private key has more than %d elements", ltpa.ErrConfiguration, rawKeyElements)
		}
		var n uint32
		var b []byte
		if !s.ReadUint32(&n) || !s.ReadBytes(&b, int(n)) {
			return nil, fmt.Errorf("%w: private key element %d is truncated", ltpa.ErrConfiguration, i)
		}
		if n > 0 {
			elems[i] = new(big.Int).SetBytes(b)
		}
	}
	return &RSAKey{
		N:    elems[0],
		E:    elems[1],
		D:    elems[2],
		P:    elems[3],
		Q:    elems[4],
		DP:   elems[5],
		DQ:   elems[6],
		QInv: elems[7],
	}, nil
}

func parseWebSphereKey(data []byte) (*RSAKey, error) {
	s := cryptobyte.String(data)
	var dLen uint32
	var d, e, p, q []byte
	if !s.ReadUint32(&dLen) ||
		!s.ReadBytes(&d, int(dLen)) ||
		!s.ReadBytes(&e, websphereExponentLen) ||
		!s.ReadBytes(&p, webspherePrimeLen) ||
		!s.ReadBytes(&q, webspherePrimeLen) {
		return nil, fmt.Errorf("%w: private key blob is truncated", ltpa.ErrConfiguration)
	}
	return &RSAKey{
		D: new(big.Int).SetBytes(d),
		E: new(big.Int).SetBytes(e),
		P: new(big.Int).SetBytes(p),
		Q: new(big.Int).SetBytes(q),
	}, nil
}

// marshalSequenceKey is the inverse of parseSequenceKey.
func marshalSequenceKey(k *RSAKey) ([]byte, error) {
	var b cryptobyte.Builder
	for _, x := range []*big.Int{k.N, k.E, k.D, k.P, k.Q, k.DP, k.DQ, k.QInv} {
		var raw []byte
		if x != nil {
			raw = x.Bytes()
		}
		b.AddUint32(uint32(len(raw)))
		b.AddBytes(raw)
	}
	return b.Bytes()
}
