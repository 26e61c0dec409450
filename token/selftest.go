package token

import (
	"fmt"
	"time"

	"github.com/oarkflow/ltpa"
)

// Principal used by the startup round trip.
const selfTestUser = "ltpa-selftest-user"

// SelfTest encodes a version 2 token for a dummy user, decodes it again and
// checks that the metadata survives and the signature verifies. It is meant
// to run once after key material is loaded; any failure wraps
// ltpa.ErrConfiguration.
func SelfTest(km *KeyMaterial) error {
	return SelfTestVersion(km, ltpa.Version2)
}

// SelfTestVersion runs the round trip for version v.
func SelfTestVersion(km *KeyMaterial, v ltpa.Version) error {
	codec, err := NewCodec(km)
	if err != nil {
		return err
	}
	in := NewMetadata(v, selfTestUser, time.Now().Add(DefaultTTL))
	encoded, err := codec.Encode(in)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ltpa.ErrSelfTest, v, err)
	}
	out, err := codec.Decode(encoded, v)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %w", ltpa.ErrSelfTest, v, err)
	}
	if !in.Equal(out) {
		return fmt.Errorf("%w: %s metadata changed", ltpa.ErrSelfTest, v)
	}
	if err := codec.Verify(out); err != nil {
		return fmt.Errorf("%w: verify %s: %w", ltpa.ErrSelfTest, v, err)
	}
	return nil
}
