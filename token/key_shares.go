package token

import (
	"fmt"

	"github.com/oarkflow/ltpa"
	"github.com/oarkflow/shamir"
)

const maxKeyShares = 255

// SplitKeyPassword splits the key bundle password into parts Shamir shares,
// any threshold of which recover it. Shares are returned base64-encoded so
// they can be stored in configuration.
func SplitKeyPassword(password string, parts, threshold int) ([]string, error) {
	switch {
	case password == "":
		return nil, fmt.Errorf("%w: key password is empty", ltpa.ErrConfiguration)
	case threshold < 2:
		return nil, fmt.Errorf("%w: share threshold must be at least 2, got %d", ltpa.ErrConfiguration, threshold)
	case parts < threshold:
		return nil, fmt.Errorf("%w: %d shares cannot meet threshold %d", ltpa.ErrConfiguration, parts, threshold)
	case parts > maxKeyShares:
		return nil, fmt.Errorf("%w: at most %d shares, got %d", ltpa.ErrConfiguration, maxKeyShares, parts)
	}
	shares, err := shamir.Split([]byte(password), threshold, parts)
	if err != nil {
		return nil, fmt.Errorf("%w: split key password: %v", ltpa.ErrConfiguration, err)
	}
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = encodeBase64String(s)
	}
	return out, nil
}

// CombineKeyPassword recovers the key bundle password from base64 shares.
func CombineKeyPassword(shares []string) (string, error) {
	if len(shares) < 2 {
		return "", fmt.Errorf("%w: need at least 2 key password shares, got %d", ltpa.ErrConfiguration, len(shares))
	}
	raw := make([][]byte, 0, len(shares))
	for i, s := range shares {
		b, err := decodeBase64(s)
		if err != nil {
			return "", fmt.Errorf("%w: key password share %d: %v", ltpa.ErrConfiguration, i, err)
		}
		raw = append(raw, b)
	}
	secret, err := shamir.Combine(raw)
	if err != nil {
		return "", fmt.Errorf("%w: combine key password shares: %v", ltpa.ErrConfiguration, err)
	}
	defer wipe(secret)
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: key password shares recover an empty password", ltpa.ErrConfiguration)
	}
	return string(secret), nil
}
