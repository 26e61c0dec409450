package token

import (
	"errors"
	"testing"

	"github.com/oarkflow/ltpa"
)

func TestKeyPasswordShares(t *testing.T) {
	shares, err := SplitKeyPassword(testKeyPassword, 3, 3)
	if err != nil {
		t.Fatalf("SplitKeyPassword failed: %v", err)
	}
	if len(shares) != 3 {
		t.Fatalf("got %d shares, want 3", len(shares))
	}
	got, err := CombineKeyPassword(shares)
	if err != nil {
		t.Fatalf("CombineKeyPassword failed: %v", err)
	}
	if got != testKeyPassword {
		t.Fatalf("recovered %q, want %q", got, testKeyPassword)
	}
}

func TestKeyPasswordSharesThresholdSubset(t *testing.T) {
	shares, err := SplitKeyPassword(testKeyPassword, 5, 3)
	if err != nil {
		t.Fatalf("SplitKeyPassword failed: %v", err)
	}
	if len(shares) != 5 {
		t.Fatalf("got %d shares, want 5", len(shares))
	}
	for _, subset := range [][]string{shares[1:4], shares[2:], {shares[0], shares[2], shares[4]}} {
		got, err := CombineKeyPassword(subset)
		if err != nil {
			t.Fatalf("CombineKeyPassword failed: %v", err)
		}
		if got != testKeyPassword {
			t.Fatalf("recovered %q, want %q", got, testKeyPassword)
		}
	}
}

func TestSplitKeyPasswordRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name             string
		password         string
		parts, threshold int
	}{
		{"empty password", "", 3, 2},
		{"threshold one", "pw", 3, 1},
		{"too few parts", "pw", 2, 3},
		{"too many parts", "pw", 300, 2},
	}
	for _, tc := range cases {
		if _, err := SplitKeyPassword(tc.password, tc.parts, tc.threshold); !errors.Is(err, ltpa.ErrConfiguration) {
			t.Fatalf("%s: got %v, want configuration error", tc.name, err)
		}
	}
}

func TestCombineKeyPasswordRejectsBadShares(t *testing.T) {
	if _, err := CombineKeyPassword([]string{"AQID"}); !errors.Is(err, ltpa.ErrConfiguration) {
		t.Fatalf("single share accepted: %v", err)
	}
	if _, err := CombineKeyPassword([]string{"AQID", "!!"}); !errors.Is(err, ltpa.ErrConfiguration) {
		t.Fatalf("non-base64 share accepted: %v", err)
	}
}
