package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"

	"github.com/oarkflow/ltpa"
)

// Algorithm is a symmetric suite used to encrypt the whole token.
type Algorithm int

const (
	// AlgDESede is triple-DES, ECB mode, PKCS#5 padding. Used by version 1
	// tokens and for the key bundle itself.
	AlgDESede Algorithm = iota + 1
	// AlgAES is AES-128, CBC mode, PKCS#5 padding. Used by version 2 tokens.
	AlgAES
)

// Key sizes taken from the front of the shared secret.
const (
	desedeKeySize = 24
	aesKeySize    = 16
)

// ErrBadPadding is returned when decrypted data does not end in valid
// PKCS#5 padding, which in practice means the wrong key.
var ErrBadPadding = fmt.Errorf("%w: bad padding", ltpa.ErrCrypto)

type cipherMode int

const (
	modeEncrypt cipherMode = iota + 1
	modeDecrypt
)

// AlgorithmFor selects the token cipher for version v.
func AlgorithmFor(v ltpa.Version) (Algorithm, error) {
	switch v {
	case ltpa.Version1:
		return AlgDESede, nil
	case ltpa.Version2:
		return AlgAES, nil
	default:
		return 0, fmt.Errorf("%w: unsupported token version %d", ltpa.ErrFormat, v)
	}
}

func (a Algorithm) String() string {
	switch a {
	case AlgDESede:
		return "DESede/ECB/PKCS5Padding"
	case AlgAES:
		return "AES/CBC/PKCS5Padding"
	default:
		return "unknown"
	}
}

// Encrypt encrypts plaintext with key under alg.
func Encrypt(key, plaintext []byte, alg Algorithm) ([]byte, error) {
	return crypt(plaintext, key, alg, modeEncrypt)
}

// Decrypt reverses Encrypt.
func Decrypt(key, ciphertext []byte, alg Algorithm) ([]byte, error) {
	return crypt(ciphertext, key, alg, modeDecrypt)
}

// crypt drives both directions of both suites.
//
// The AES suite uses the first 16 key bytes as the IV as well as the key.
// That IV reuse is weak, but it is what the partner token format does, and a
// fresh IV would make every token unreadable on the other side.
func crypt(data, key []byte, alg Algorithm, mode cipherMode) ([]byte, error) {
	var (
		block cipher.Block
		err   error
	)
	switch alg {
	case AlgDESede:
		if len(key) < desedeKeySize {
			return nil, fmt.Errorf("%w: triple-DES key is %d bytes, need %d", ltpa.ErrCrypto, len(key), desedeKeySize)
		}
		block, err = des.NewTripleDESCipher(key[:desedeKeySize])
	case AlgAES:
		if len(key) < aesKeySize {
			return nil, fmt.Errorf("%w: AES key is %d bytes, need %d", ltpa.ErrCrypto, len(key), aesKeySize)
		}
		block, err = aes.NewCipher(key[:aesKeySize])
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", ltpa.ErrCrypto, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ltpa.ErrCrypto, alg, err)
	}

	bs := block.BlockSize()
	if mode == modeEncrypt {
		out := pkcs5Pad(data, bs)
		if alg == AlgAES {
			cipher.NewCBCEncrypter(block, key[:aesKeySize]).CryptBlocks(out, out)
		} else {
			ecbCrypt(block, out, out, true)
		}
		return out, nil
	}

	if len(data) == 0 || len(data)%bs != 0 {
		return nil, fmt.Errorf("%w: %s: ciphertext is %d bytes, not a multiple of %d", ltpa.ErrCrypto, alg, len(data), bs)
	}
	out := make([]byte, len(data))
	if alg == AlgAES {
		cipher.NewCBCDecrypter(block, key[:aesKeySize]).CryptBlocks(out, data)
	} else {
		ecbCrypt(block, out, data, false)
	}
	plain, err := pkcs5Unpad(out, bs)
	if err != nil {
		wipe(out)
		return nil, err
	}
	return plain, nil
}

// ecbCrypt runs block over src one block at a time. The standard library
// leaves ECB out on purpose; the legacy suite needs it.
func ecbCrypt(block cipher.Block, dst, src []byte, encrypt bool) {
	bs := block.BlockSize()
	for len(src) > 0 {
		if encrypt {
			block.Encrypt(dst[:bs], src[:bs])
		} else {
			block.Decrypt(dst[:bs], src[:bs])
		}
		src = src[bs:]
		dst = dst[bs:]
	}
}

// pkcs5Pad returns a copy of data padded to a multiple of bs.
func pkcs5Pad(data []byte, bs int) []byte {
	n := bs - len(data)%bs
	out := make([]byte, len(data)+n)
	copy(out, data)
	copy(out[len(data):], bytes.Repeat([]byte{byte(n)}, n))
	return out
}

func pkcs5Unpad(data []byte, bs int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > bs || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
