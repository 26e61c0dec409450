package token

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/oarkflow/ltpa"
)

var (
	fixtureOnce sync.Once
	fixtureKey  *rsa.PrivateKey
	fixtureErr  error
)

// testPrivateKey returns one 1024-bit key shared by every test in the package.
func testPrivateKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()
	fixtureOnce.Do(func() {
		fixtureKey, fixtureErr = rsa.GenerateKey(rand.Reader, 1024)
	})
	if fixtureErr != nil {
		tb.Fatalf("generate RSA key: %v", fixtureErr)
	}
	return fixtureKey
}

// completedTestKey is the fixture key completed from p, q and e alone.
func completedTestKey(tb testing.TB) *RSAKey {
	tb.Helper()
	priv := testPrivateKey(tb)
	k := &RSAKey{
		E: big.NewInt(int64(priv.E)),
		P: cloneInt(priv.Primes[0]),
		Q: cloneInt(priv.Primes[1]),
	}
	if err := k.Complete(); err != nil {
		tb.Fatalf("Complete failed: %v", err)
	}
	return k
}

func testKeyMaterial(tb testing.TB) *KeyMaterial {
	tb.Helper()
	km, err := NewKeyMaterial(testSharedKey(), completedTestKey(tb), "defaultRealm")
	if err != nil {
		tb.Fatalf("NewKeyMaterial failed: %v", err)
	}
	return km
}

func rsaKeysEqual(a, b *RSAKey) bool {
	eq := func(x, y *big.Int) bool {
		if x == nil || y == nil {
			return x == y
		}
		return x.Cmp(y) == 0
	}
	return eq(a.N, b.N) && eq(a.E, b.E) && eq(a.D, b.D) && eq(a.P, b.P) && eq(a.Q, b.Q) &&
		eq(a.DP, b.DP) && eq(a.DQ, b.DQ) && eq(a.QInv, b.QInv)
}

func TestPadISO9796Vectors(t *testing.T) {
	cases := []struct {
		data    []byte
		modBits int
		want    []byte
	}{
		{[]byte{0x12}, 17, []byte{0x80, 0x26}},
		{[]byte{0x12}, 21, []byte{0x0a, 0x34, 0x26}},
		{[]byte{0xab, 0xcd}, 36, []byte{0x05, 0xb7, 0xab, 0x7a, 0xd6}},
	}
	for _, tc := range cases {
		if got := padISO9796(tc.data, tc.modBits); !bytes.Equal(got, tc.want) {
			t.Fatalf("padISO9796(%x, %d) = %x, want %x", tc.data, tc.modBits, got, tc.want)
		}
	}
}

func TestPadISO9796TooLong(t *testing.T) {
	if got := padISO9796(make([]byte, 20), 256); got != nil {
		t.Fatalf("20 bytes into 256 bits padded to %x", got)
	}
	if got := padISO9796(nil, 1024); got != nil {
		t.Fatalf("empty input padded to %x", got)
	}
	k := &RSAKey{N: big.NewInt(0).Lsh(big.NewInt(1), 255), D: big.NewInt(3)}
	if _, err := k.signISO9796(make([]byte, 20)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("signISO9796() = %v, want ErrMessageTooLong", err)
	}
}

func TestCompleteIsDeterministic(t *testing.T) {
	full := completedTestKey(t)
	partials := map[string]func(k *RSAKey){
		"no qInv":        func(k *RSAKey) { k.QInv = nil },
		"no n":           func(k *RSAKey) { k.N = nil },
		"no d":           func(k *RSAKey) { k.D = nil },
		"no crt":         func(k *RSAKey) { k.DP, k.DQ, k.QInv = nil, nil, nil },
		"no e":           func(k *RSAKey) { k.E = nil },
		"primes and d":   func(k *RSAKey) { k.N, k.E, k.DP, k.DQ, k.QInv = nil, nil, nil, nil, nil },
		"primes swapped": func(k *RSAKey) { k.P, k.Q, k.DP, k.DQ, k.QInv = k.Q, k.P, k.DQ, k.DP, nil },
	}
	for name, strip := range partials {
		k := full.Clone()
		strip(k)
		if err := k.Complete(); err != nil {
			t.Fatalf("%s: Complete failed: %v", name, err)
		}
		if !rsaKeysEqual(k, full) {
			t.Fatalf("%s: completed key differs from the full tuple", name)
		}
	}
	if full.P.Cmp(full.Q) <= 0 {
		t.Fatal("completed key should have p > q")
	}
}

func TestCompleteRejectsUnusableKey(t *testing.T) {
	for name, k := range map[string]*RSAKey{
		"empty":       {},
		"only n":      {N: big.NewInt(77)},
		"one prime":   {P: big.NewInt(11), E: big.NewInt(3)},
		"no exponent": {P: big.NewInt(11), Q: big.NewInt(7)},
	} {
		if err := k.Complete(); !errors.Is(err, ltpa.ErrConfiguration) {
			t.Fatalf("%s: Complete() = %v, want configuration error", name, err)
		}
	}
}

func TestSignISO9796CanonicalAndRecoverable(t *testing.T) {
	k := completedTestKey(t)
	n := k.N
	for i := 0; i < 8; i++ {
		digest := sha1.Sum([]byte{byte(i), 'l', 't', 'p', 'a'})
		sig, err := k.signISO9796(digest[:])
		if err != nil {
			t.Fatalf("signISO9796 failed: %v", err)
		}
		if len(sig) != (k.ModulusBits()+7)/8 {
			t.Fatalf("signature is %d bytes", len(sig))
		}
		s := new(big.Int).SetBytes(sig)
		if new(big.Int).Lsh(s, 1).Cmp(n) > 0 {
			t.Fatalf("signature is the large representative")
		}
		m := new(big.Int).SetBytes(padISO9796(digest[:], k.ModulusBits()))
		got := new(big.Int).Exp(s, k.E, n)
		if got.Cmp(m) != 0 && got.Cmp(new(big.Int).Sub(n, m)) != 0 {
			t.Fatalf("s^e mod n recovers neither m nor n-m")
		}
	}
}

func TestSignISO9796CRTMatchesPlain(t *testing.T) {
	crt := completedTestKey(t)
	plain := &RSAKey{N: cloneInt(crt.N), D: cloneInt(crt.D)}
	if err := plain.Complete(); err != nil {
		t.Fatalf("Complete without primes failed: %v", err)
	}
	digest := sha1.Sum([]byte("u:testuser"))
	a, err := crt.signISO9796(digest[:])
	if err != nil {
		t.Fatal(err)
	}
	b, err := plain.signISO9796(digest[:])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("CRT and plain exponentiation disagree")
	}
	again, _ := crt.signISO9796(digest[:])
	if !bytes.Equal(a, again) {
		t.Fatal("ISO-9796 signing is not deterministic")
	}
}
