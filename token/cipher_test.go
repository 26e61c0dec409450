package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"errors"
	"testing"

	"github.com/oarkflow/ltpa"
)

func testSharedKey() []byte {
	key := make([]byte, desedeKeySize)
	for i := range key {
		key[i] = byte(i*7 + 1)
	}
	return key
}

func TestCipherRoundTrip(t *testing.T) {
	key := testSharedKey()
	for _, alg := range []Algorithm{AlgDESede, AlgAES} {
		for _, n := range []int{0, 1, 7, 8, 15, 16, 17, 300} {
			plain := bytes.Repeat([]byte{'x'}, n)
			ct, err := Encrypt(key, plain, alg)
			if err != nil {
				t.Fatalf("%s: Encrypt(%d bytes) failed: %v", alg, n, err)
			}
			got, err := Decrypt(key, ct, alg)
			if err != nil {
				t.Fatalf("%s: Decrypt(%d bytes) failed: %v", alg, n, err)
			}
			if !bytes.Equal(got, plain) {
				t.Fatalf("%s: round trip of %d bytes mismatch", alg, n)
			}
		}
	}
}

func TestDESedeIsECB(t *testing.T) {
	key := testSharedKey()
	ct, err := Encrypt(key, bytes.Repeat([]byte("ABCDEFGH"), 2), AlgDESede)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(ct) != 24 {
		t.Fatalf("ciphertext is %d bytes, want 24", len(ct))
	}
	if !bytes.Equal(ct[:8], ct[8:16]) {
		t.Fatal("equal plaintext blocks should encrypt to equal ciphertext blocks")
	}
}

func TestAESUsesKeyAsIV(t *testing.T) {
	key := testSharedKey()
	plain := []byte("u:alice%1%AQID")
	got, err := Encrypt(key, plain, AlgAES)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	block, err := aes.NewCipher(key[:16])
	if err != nil {
		t.Fatal(err)
	}
	want := pkcs5Pad(plain, aes.BlockSize)
	cipher.NewCBCEncrypter(block, key[:16]).CryptBlocks(want, want)
	if !bytes.Equal(got, want) {
		t.Fatalf("AES ciphertext %x, want %x", got, want)
	}
}

func TestDecryptBadPadding(t *testing.T) {
	key := testSharedKey()
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	ct := make([]byte, 8)
	block.Encrypt(ct, make([]byte, 8))
	_, err = Decrypt(key, ct, AlgDESede)
	if !errors.Is(err, ErrBadPadding) || !errors.Is(err, ltpa.ErrCrypto) {
		t.Fatalf("Decrypt() = %v, want bad padding", err)
	}
}

func TestDecryptRejectsPartialBlock(t *testing.T) {
	key := testSharedKey()
	for _, ct := range [][]byte{nil, make([]byte, 5), make([]byte, 17)} {
		if _, err := Decrypt(key, ct, AlgAES); !errors.Is(err, ltpa.ErrCrypto) {
			t.Fatalf("Decrypt(%d bytes) = %v, want crypto error", len(ct), err)
		}
	}
}

func TestCipherShortKey(t *testing.T) {
	if _, err := Encrypt(make([]byte, 16), []byte("x"), AlgDESede); !errors.Is(err, ltpa.ErrCrypto) {
		t.Fatalf("short triple-DES key accepted: %v", err)
	}
}

func TestAlgorithmFor(t *testing.T) {
	if alg, _ := AlgorithmFor(ltpa.Version1); alg != AlgDESede {
		t.Fatalf("V1 algorithm = %s", alg)
	}
	if alg, _ := AlgorithmFor(ltpa.Version2); alg != AlgAES {
		t.Fatalf("V2 algorithm = %s", alg)
	}
	if _, err := AlgorithmFor(ltpa.Version(7)); !errors.Is(err, ltpa.ErrFormat) {
		t.Fatalf("unknown version: %v", err)
	}
}
