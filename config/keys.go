package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/magiconair/properties"
	"github.com/oarkflow/ltpa"
	"github.com/oarkflow/ltpa/token"
)

// Property names of the exported keys bundle.
const (
	PropKeyPassword = "com.ibm.websphere.ltpa.KeyPassword"
	PropPrivateKey  = "com.ibm.websphere.ltpa.PrivateKey"
	PropPublicKey   = "com.ibm.websphere.ltpa.PublicKey"
	PropSharedKey   = "com.ibm.websphere.ltpa.3DESKey"
	PropRealm       = "com.ibm.websphere.ltpa.Realm"
)

// KeysFile is the content of a keys bundle.
type KeysFile struct {
	// Password is the bundle's own key password, often left out of
	// production bundles in favour of configuration.
	Password string
	Bundle   token.Bundle
}

// LoadKeysFile reads a Java properties keys bundle from path.
func LoadKeysFile(path string) (*KeysFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: keys file: %w", ltpa.ErrConfiguration, err)
	}
	kf, err := ParseKeys(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return kf, nil
}

// ParseKeys parses the properties text of a keys bundle. Java writes these
// files in ISO-8859-1 and escapes '=' and ':' inside the base64 values.
func ParseKeys(data []byte) (*KeysFile, error) {
	p, err := properties.Load(data, properties.ISO_8859_1)
	if err != nil {
		return nil, fmt.Errorf("%w: keys file: %v", ltpa.ErrConfiguration, err)
	}
	kf := &KeysFile{
		Password: p.GetString(PropKeyPassword, ""),
		Bundle: token.Bundle{
			SharedKey:  strings.TrimSpace(p.GetString(PropSharedKey, "")),
			PrivateKey: strings.TrimSpace(p.GetString(PropPrivateKey, "")),
			Realm:      strings.TrimSpace(p.GetString(PropRealm, "")),
		},
	}
	switch {
	case kf.Bundle.SharedKey == "":
		return nil, fmt.Errorf("%w: keys file has no %s", ltpa.ErrConfiguration, PropSharedKey)
	case kf.Bundle.PrivateKey == "":
		return nil, fmt.Errorf("%w: keys file has no %s", ltpa.ErrConfiguration, PropPrivateKey)
	}
	return kf, nil
}

// WriteKeysFile stores kf at path. The password is written only when set.
func WriteKeysFile(path string, kf *KeysFile) error {
	p := properties.NewProperties()
	p.DisableExpansion = true
	set := func(key, value string) error {
		if value == "" {
			return nil
		}
		_, _, err := p.Set(key, value)
		return err
	}
	for _, kv := range [][2]string{
		{PropRealm, kf.Bundle.Realm},
		{PropSharedKey, kf.Bundle.SharedKey},
		{PropPrivateKey, kf.Bundle.PrivateKey},
		{PropKeyPassword, kf.Password},
	} {
		if err := set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("%w: %s: %v", ltpa.ErrConfiguration, kv[0], err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := p.Write(f, properties.ISO_8859_1); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
