package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/oarkflow/ltpa"
	"github.com/oarkflow/ltpa/config"
	"github.com/oarkflow/ltpa/token"
)

const version = "1.0.0"

type Options struct {
	ConfigPath      string
	KeysPath        string
	Layout          string
	PasswordFile    string
	Prompt          bool
	User            string
	DN              string
	Realm           string
	TokenInput      string
	TokenVersion    int
	TTL             time.Duration
	Encode          bool
	Decode          bool
	Verify          bool
	SelfTest        bool
	CopyToClipboard bool
	Verbose         bool
	ShowVersion     bool
}

func main() {
	opts := parseFlags()

	if opts.ShowVersion {
		fmt.Printf("ltpa-token v%s\n", version)
		os.Exit(0)
	}

	if err := validateOptions(opts); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	km, ttl, err := loadKeyMaterial(opts)
	if err != nil {
		log.Fatalf("Loading keys failed: %v", err)
	}

	switch {
	case opts.SelfTest:
		if err := runSelfTest(km, opts.Verbose); err != nil {
			log.Fatalf("Self-test failed: %v", err)
		}
	case opts.Encode:
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		if _, err := encodeToken(km, ttl, opts); err != nil {
			log.Fatalf("Token encoding failed: %v", err)
		}
	default:
		if _, err := decodeToken(km, opts); err != nil {
			log.Fatalf("Token decoding failed: %v", err)
		}
	}
}

func parseFlags() *Options {
	opts := &Options{}

	pflag.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML service configuration")
	pflag.StringVarP(&opts.KeysPath, "keys", "k", "", "Keys bundle (Java properties), used without --config")
	pflag.StringVar(&opts.Layout, "layout", "", "Private key layout: sequence or websphere")
	pflag.StringVar(&opts.PasswordFile, "password-file", "", "Read the key password from this file")
	pflag.BoolVarP(&opts.Prompt, "prompt", "P", false, "Prompt for the key password on the terminal")
	pflag.BoolVarP(&opts.Encode, "encode", "e", false, "Issue a token")
	pflag.BoolVarP(&opts.Decode, "decode", "d", false, "Decode a token (default action)")
	pflag.BoolVar(&opts.Verify, "verify", false, "Also check the signature and expiration when decoding")
	pflag.BoolVar(&opts.SelfTest, "selftest", false, "Run the encode/decode round trip for both versions")
	pflag.StringVarP(&opts.User, "user", "u", "", "Escaped LTPA user to encode, e.g. user\\:realm/uid=bob")
	pflag.StringVar(&opts.DN, "dn", "", "User DN to encode; the user is built from realm and DN")
	pflag.StringVarP(&opts.Realm, "realm", "r", "", "Realm for --dn (default: realm of the keys)")
	pflag.StringVarP(&opts.TokenInput, "token", "t", "", "Token to decode")
	pflag.IntVarP(&opts.TokenVersion, "ltpa", "l", 2, "Token version, 1 (LtpaToken) or 2 (LtpaToken2)")
	pflag.DurationVarP(&opts.TTL, "ttl", "T", 0, "Token lifetime (default: configured expiration)")
	pflag.BoolVar(&opts.CopyToClipboard, "copy", true, "Copy an issued token to the clipboard")
	noCopy := pflag.Bool("no-copy", false, "Disable clipboard copy")
	pflag.BoolVarP(&opts.Verbose, "verbose", "v", true, "Enable verbose output")
	pflag.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ltpa-token v%s - Issue, decode and check LTPA tokens\n\n", version)
		fmt.Fprintf(os.Stderr, "USAGE:\n")
		fmt.Fprintf(os.Stderr, "  ltpa-token -c <config.yaml> --encode --dn <dn> [-l 1|2] [--ttl 2h]\n")
		fmt.Fprintf(os.Stderr, "  ltpa-token -k <ltpa.keys> -P --decode --token <token> [--verify]\n")
		fmt.Fprintf(os.Stderr, "  ltpa-token -c <config.yaml> --selftest\n\n")
		fmt.Fprintf(os.Stderr, "EXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  ltpa-token -c ltpa.yaml -e --dn uid=bob,ou=people,o=example\n")
		fmt.Fprintf(os.Stderr, "  ltpa-token -c ltpa.yaml -l 1 -t \"$LTPA_TOKEN\" --verify\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *noCopy {
		opts.CopyToClipboard = false
	}
	return opts
}

func validateOptions(opts *Options) error {
	actions := 0
	for _, set := range []bool{opts.Encode, opts.Decode || opts.Verify, opts.SelfTest} {
		if set {
			actions++
		}
	}
	if actions > 1 {
		return fmt.Errorf("--encode, --decode and --selftest are mutually exclusive")
	}
	if opts.ConfigPath == "" && opts.KeysPath == "" {
		return fmt.Errorf("either --config or --keys is required")
	}
	if !ltpa.Version(opts.TokenVersion).Valid() {
		return fmt.Errorf("token version must be 1 or 2, got %d", opts.TokenVersion)
	}
	switch {
	case opts.Encode:
		if (opts.User == "") == (opts.DN == "") {
			return fmt.Errorf("--encode needs exactly one of --user or --dn")
		}
		if opts.TTL < 0 {
			return fmt.Errorf("ttl must be positive, got %s", opts.TTL)
		}
	case !opts.SelfTest:
		if strings.TrimSpace(opts.TokenInput) == "" {
			return fmt.Errorf("token string is required when decoding (--token)")
		}
	}
	return nil
}

// loadKeyMaterial reads the keys either through a YAML config or straight
// from a keys bundle. It also returns the token lifetime to use.
func loadKeyMaterial(opts *Options) (*token.KeyMaterial, time.Duration, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadFile(opts.ConfigPath)
		if err != nil {
			return nil, 0, err
		}
		cfg = loaded
	} else {
		cfg.KeysFile = opts.KeysPath
	}
	if opts.Layout != "" {
		cfg.KeyLayout = opts.Layout
	}

	password, err := readKeyPassword(opts)
	if err != nil {
		return nil, 0, err
	}
	if password != "" {
		cfg.KeyPassword = password
	}
	km, err := cfg.KeyMaterial()
	if err != nil {
		return nil, 0, err
	}
	return km, cfg.TTL(), nil
}

// readKeyPassword returns the password from --password-file or the terminal,
// or "" to fall back to the configuration.
func readKeyPassword(opts *Options) (string, error) {
	if opts.PasswordFile != "" {
		data, err := os.ReadFile(opts.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", opts.PasswordFile, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	if !opts.Prompt {
		return "", nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Key password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func runSelfTest(km *token.KeyMaterial, verbose bool) error {
	for _, v := range []ltpa.Version{ltpa.Version1, ltpa.Version2} {
		if err := token.SelfTestVersion(km, v); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("✓ %s round trip ok\n", v)
		}
	}
	return nil
}

func encodeToken(km *token.KeyMaterial, ttl time.Duration, opts *Options) (string, error) {
	g, err := token.NewGenerator(km, ttl)
	if err != nil {
		return "", err
	}
	user := opts.User
	if opts.DN != "" {
		realm := opts.Realm
		if realm == "" {
			realm = km.Realm()
		}
		user = token.LtpaUser(realm, opts.DN)
	}
	v := ltpa.Version(opts.TokenVersion)
	m := g.NewMetadata(v, user)
	encoded, err := token.Encode(m, km)
	if err != nil {
		return "", err
	}
	if opts.Verbose {
		fmt.Printf("User: %s\n", m.User)
		fmt.Printf("Expires At: %s\n", m.ExpiresAt().Format(time.RFC3339))
	}
	fmt.Printf("%s (%d chars): %s\n", v.CookieName(), len(encoded), encoded)
	if opts.CopyToClipboard {
		copyToClipboard(encoded, opts.Verbose)
	}
	return encoded, nil
}

func decodeToken(km *token.KeyMaterial, opts *Options) (*token.Metadata, error) {
	v := ltpa.Version(opts.TokenVersion)
	var (
		m   *token.Metadata
		err error
	)
	if opts.Verify {
		verifier, verr := token.NewVerifier(km)
		if verr != nil {
			return nil, verr
		}
		m, err = verifier.Verify(opts.TokenInput, v)
	} else {
		m, err = token.Decode(opts.TokenInput, v, km)
	}
	if err != nil {
		return nil, err
	}
	fmt.Printf("Version: %s\n", m.Version)
	fmt.Printf("User: %s\n", m.UnescapedUser())
	fmt.Printf("Expires At: %s\n", m.ExpiresAt().Format(time.RFC3339))
	printField("Host", m.Host)
	if m.Port > 0 {
		fmt.Printf("Port: %d\n", m.Port)
	}
	printField("Naming Provider", token.UnescapeField(m.NamingProvider))
	printField("Server Name", m.ServerName)
	printField("Auth Mechanism", token.UnescapeField(m.AuthenticationMethod))
	printField("Type", m.Type)
	switch {
	case opts.Verify:
		fmt.Println("Status: signature valid, not expired")
	case m.IsExpired(time.Now(), 0):
		fmt.Println("Status: expired (signature not checked)")
	default:
		fmt.Println("Status: active (signature not checked)")
	}
	return m, nil
}

func printField(name, value string) {
	if value != "" {
		fmt.Printf("%s: %s\n", name, value)
	}
}

func copyToClipboard(value string, verbose bool) {
	if value == "" {
		return
	}
	if err := clipboard.WriteAll(value); err != nil {
		if verbose {
			fmt.Printf("Warning: Unable to copy token to clipboard: %v\n", err)
		}
		return
	}
	if verbose {
		fmt.Println("✓ Token copied to clipboard")
	}
}
