package token

import (
	"fmt"
	"math/big"

	"github.com/oarkflow/ltpa"
)

// ErrMessageTooLong is returned when a digest does not fit the ISO-9796
// padding for the key's modulus.
var ErrMessageTooLong = fmt.Errorf("%w: message too long for RSA modulus", ltpa.ErrCrypto)

// RSAKey is the private key tuple carried in the key bundle. A nil field is
// absent; Complete derives what it can from the rest.
type RSAKey struct {
	N    *big.Int // modulus
	E    *big.Int // public exponent
	D    *big.Int // private exponent
	P    *big.Int // larger prime once completed
	Q    *big.Int
	DP   *big.Int // d mod (p-1)
	DQ   *big.Int // d mod (q-1)
	QInv *big.Int // q^-1 mod p
}

var bigOne = big.NewInt(1)

// Complete canonicalizes the primes so that p > q and fills the missing
// values in a fixed order: qInv, n, d, dp, dq. A key without both primes is
// accepted only if it has n and d, and is then used without CRT.
func (k *RSAKey) Complete() error {
	if k.P == nil || k.Q == nil {
		if k.N == nil || k.D == nil {
			return fmt.Errorf("%w: RSA key has neither both primes nor modulus and private exponent", ltpa.ErrConfiguration)
		}
		return nil
	}
	if k.P.Sign() <= 0 || k.Q.Sign() <= 0 {
		return fmt.Errorf("%w: RSA primes must be positive", ltpa.ErrConfiguration)
	}

	if k.P.Cmp(k.Q) < 0 {
		k.P, k.Q = k.Q, k.P
		k.DP, k.DQ = k.DQ, k.DP
		k.QInv = nil
	}
	if k.QInv == nil {
		k.QInv = new(big.Int).ModInverse(k.Q, k.P)
		if k.QInv == nil {
			return fmt.Errorf("%w: q has no inverse mod p", ltpa.ErrConfiguration)
		}
	}
	if k.N == nil {
		k.N = new(big.Int).Mul(k.P, k.Q)
	}
	pm1 := new(big.Int).Sub(k.P, bigOne)
	qm1 := new(big.Int).Sub(k.Q, bigOne)
	if k.D == nil {
		if k.E == nil {
			return fmt.Errorf("%w: RSA key has neither private nor public exponent", ltpa.ErrConfiguration)
		}
		k.D = new(big.Int).ModInverse(k.E, new(big.Int).Mul(pm1, qm1))
		if k.D == nil {
			return fmt.Errorf("%w: public exponent has no inverse mod phi(n)", ltpa.ErrConfiguration)
		}
	}
	if k.DP == nil {
		k.DP = new(big.Int).Mod(k.D, pm1)
	}
	if k.DQ == nil {
		k.DQ = new(big.Int).Mod(k.D, qm1)
	}
	// Version 2 signatures are verified with (n, e).
	if k.E == nil {
		k.E = new(big.Int).ModInverse(k.D, new(big.Int).Mul(pm1, qm1))
		if k.E == nil {
			return fmt.Errorf("%w: private exponent has no inverse mod phi(n)", ltpa.ErrConfiguration)
		}
	}
	return nil
}

// HasCRT reports whether the CRT parameters are all present.
func (k *RSAKey) HasCRT() bool {
	return k.P != nil && k.Q != nil && k.DP != nil && k.DQ != nil && k.QInv != nil
}

// ModulusBits is the bit length the legacy engine pads to: the sum of the
// prime lengths for a CRT key, the modulus length otherwise.
func (k *RSAKey) ModulusBits() int {
	if k.HasCRT() {
		return k.P.BitLen() + k.Q.BitLen()
	}
	if k.N == nil {
		return 0
	}
	return k.N.BitLen()
}

func (k *RSAKey) modulus() *big.Int {
	if k.N != nil {
		return k.N
	}
	return new(big.Int).Mul(k.P, k.Q)
}

// Clone returns a deep copy of k.
func (k *RSAKey) Clone() *RSAKey {
	if k == nil {
		return nil
	}
	return &RSAKey{
		N:    cloneInt(k.N),
		E:    cloneInt(k.E),
		D:    cloneInt(k.D),
		P:    cloneInt(k.P),
		Q:    cloneInt(k.Q),
		DP:   cloneInt(k.DP),
		DQ:   cloneInt(k.DQ),
		QInv: cloneInt(k.QInv),
	}
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// iso9796Shadow packs the 16-entry nibble substitution table of ISO/IEC 9796-1,
// entry i in bits 4i..4i+3.
const iso9796Shadow uint64 = 0x1ca76bd0f249853e

func shadow(nibble byte) byte {
	return byte(iso9796Shadow>>(uint(nibble&0x0f)*4)) & 0x0f
}

// padISO9796 applies ISO/IEC 9796-1 redundancy to data for a modulus of
// modBits bits. It returns nil when data is too long.
func padISO9796(data []byte, modBits int) []byte {
	k := modBits - 1
	t := len(data)
	if t == 0 || t*16 > k+3 {
		return nil
	}
	padded := make([]byte, (k+7)/8)
	n := len(padded)

	// Message bytes go in the odd positions, counted from the end, repeating
	// the message when it is shorter than half the block.
	for i := 0; i < n/2; i++ {
		padded[n-1-2*i] = data[t-1-i%t]
	}
	if n&1 != 0 {
		padded[0] = data[t-1-(n/2)%t]
	}
	// Each even position holds the shadow of its right neighbour.
	for i := 0; i < n/2; i++ {
		j := n - 1 - 2*i
		padded[j-1] = shadow(padded[j]>>4)<<4 | shadow(padded[j])
	}
	// Mark where the message starts.
	padded[n-2*t] ^= 1

	r := k % 8
	padded[0] &= byte(1<<r - 1)
	padded[0] |= 1 << ((r + 7) % 8)
	padded[n-1] = padded[n-1]<<4 | 0x06
	return padded
}

// signISO9796 produces a version 1 signature of data: ISO-9796 padding, RSA
// private exponentiation (with CRT when available), and the smaller of s and
// n-s, serialized to the modulus byte length.
func (k *RSAKey) signISO9796(data []byte) ([]byte, error) {
	crt := k.HasCRT()
	if !crt && (k.N == nil || k.D == nil) {
		return nil, fmt.Errorf("%w: RSA key is incomplete", ltpa.ErrCrypto)
	}
	modBits := k.ModulusBits()
	padded := padISO9796(data, modBits)
	if padded == nil {
		return nil, ErrMessageTooLong
	}
	m := new(big.Int).SetBytes(padded)

	var s *big.Int
	if crt {
		s1 := new(big.Int).Mod(m, k.P)
		s1.Exp(s1, k.DP, k.P)
		s2 := new(big.Int).Mod(m, k.Q)
		s2.Exp(s2, k.DQ, k.Q)
		s = s1.Add(s1, k.P)
		s.Sub(s, s2)
		s.Mul(s, k.QInv)
		s.Mod(s, k.P)
		s.Mul(s, k.Q)
		s.Add(s, s2)
	} else {
		s = new(big.Int).Exp(m, k.D, k.N)
	}

	n := k.modulus()
	if new(big.Int).Lsh(s, 1).Cmp(n) > 0 {
		s.Sub(n, s)
	}

	size := (modBits + 7) / 8
	if s.Sign() < 0 || s.BitLen() > size*8 {
		return nil, fmt.Errorf("%w: signature does not fit %d bytes", ltpa.ErrCrypto, size)
	}
	return s.FillBytes(make([]byte, size)), nil
}
