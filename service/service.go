// Package service reads and writes LTPA cookies for an HTTP application: it
// extracts the user id from an inbound token and issues or clears the
// cookies after login and logout. It never touches sessions; callers wire
// it into their own authentication flow.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oarkflow/ltpa"
	"github.com/oarkflow/ltpa/config"
	"github.com/oarkflow/ltpa/token"
)

// ErrNoToken is returned when the request carries no LTPA cookie.
var ErrNoToken = errors.New("service: no LTPA cookie in request")

// Options configures a Service. Zero values select the defaults of the
// config package.
type Options struct {
	Realm            string // defaults to the realm of the key material
	UIDPrefix        string
	CookieDomain     string
	Interoperability bool // also issue and accept version 1 cookies
	ReadOnly         bool // never issue cookies
	TTL              time.Duration
	ClockSkew        time.Duration
	LogThrottle      float64
	Logger           *slog.Logger
	Metrics          *Metrics
	Now              func() time.Time
}

// Service issues and reads LTPA cookies.
type Service struct {
	generator    *token.Generator
	verifier     *token.Verifier
	realm        string
	uidPrefix    string
	cookieDomain string
	interop      bool
	readOnly     bool
	log          *slog.Logger
	metrics      *Metrics
	throttle     *keyLimiter
	now          func() time.Time
}

// New builds a service around km.
func New(km *token.KeyMaterial, opts Options) (*Service, error) {
	if km == nil {
		return nil, fmt.Errorf("%w: key material is nil", ltpa.ErrConfiguration)
	}
	s := &Service{
		realm:        opts.Realm,
		uidPrefix:    opts.UIDPrefix,
		cookieDomain: opts.CookieDomain,
		interop:      opts.Interoperability,
		readOnly:     opts.ReadOnly,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		throttle:     newKeyLimiter(opts.LogThrottle, 1),
		now:          opts.Now,
	}
	if s.realm == "" {
		s.realm = km.Realm()
	}
	if s.uidPrefix == "" {
		s.uidPrefix = config.DefaultUIDPrefix
	}
	if s.log == nil {
		s.log = slog.New(WrapHandler(slog.NewTextHandler(os.Stderr, nil)))
	}
	if s.now == nil {
		s.now = time.Now
	}
	skew := opts.ClockSkew
	if skew <= 0 {
		skew = token.DefaultClockSkew
	}

	var err error
	if s.generator, err = token.NewGenerator(km, opts.TTL, token.WithGeneratorNow(s.now)); err != nil {
		return nil, err
	}
	if s.verifier, err = token.NewVerifier(km, token.WithClockSkew(skew), token.WithVerifierNow(s.now)); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromConfig loads the keys named by cfg, runs the self-test and builds
// the service. Any error here means the keys are unusable.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, metrics *Metrics) (*Service, error) {
	if logger == nil {
		logger = slog.New(WrapHandler(slog.NewTextHandler(os.Stderr, nil)))
	}
	km, err := cfg.KeyMaterial()
	if err != nil {
		return nil, err
	}
	if err := token.SelfTest(km); err != nil {
		return nil, err
	}
	logger.Info("ltpa keys loaded",
		"keys_file", cfg.KeysPath(),
		"realm", km.Realm(),
		"interoperability", cfg.Interoperability,
		"expiration", cfg.TTL())
	return New(km, Options{
		Realm:            cfg.Realm,
		UIDPrefix:        cfg.UIDPrefix,
		CookieDomain:     cfg.CookieDomain,
		Interoperability: cfg.Interoperability,
		ReadOnly:         !cfg.CreateToken,
		TTL:              cfg.TTL(),
		ClockSkew:        cfg.ClockSkewDuration(),
		LogThrottle:      cfg.LogThrottle,
		Logger:           logger,
		Metrics:          metrics,
	})
}

// versions lists the token versions handled, preferred first.
func (s *Service) versions() []ltpa.Version {
	if s.interop {
		return []ltpa.Version{ltpa.Version2, ltpa.Version1}
	}
	return []ltpa.Version{ltpa.Version2}
}

// UserMetadata verifies the LTPA cookie of r. LtpaToken2 wins over LtpaToken
// when both are present.
func (s *Service) UserMetadata(r *http.Request) (*token.Metadata, error) {
	var (
		cookie  *http.Cookie
		version ltpa.Version
	)
	for _, v := range s.versions() {
		if c, err := r.Cookie(v.CookieName()); err == nil {
			cookie, version = c, v
			break
		}
	}
	if cookie == nil {
		s.metrics.decode(ltpa.VersionUnknown.String(), resultMissing)
		s.log.Debug("ltpa cookie not found", "remote", r.RemoteAddr)
		return nil, ErrNoToken
	}

	m, err := s.verifier.Verify(cookie.Value, version)
	if err != nil {
		s.metrics.decode(version.String(), resultFor(err))
		if s.throttle.Allow(remoteHost(r), s.now()) {
			s.log.Warn("ltpa token rejected", "version", version.String(), "remote", r.RemoteAddr, "error", err)
		}
		return nil, err
	}
	s.metrics.decode(version.String(), resultOK)
	return m, nil
}

// UserUID returns the user id carried by the LTPA cookie of r.
func (s *Service) UserUID(r *http.Request) (string, bool) {
	m, err := s.UserMetadata(r)
	if err != nil {
		return "", false
	}
	user := m.UnescapedUser()
	uid, ok := UIDFromUser(user, s.uidPrefix)
	if !ok {
		s.log.Warn("ltpa user has no uid", "user", user, "uid_prefix", s.uidPrefix)
	}
	return uid, ok
}

// IssueCookies sets an LtpaToken2 cookie for userDN, plus an LtpaToken
// cookie when interoperability is on. userDN must start with the uid prefix.
// A failure for one version does not stop the other.
func (s *Service) IssueCookies(w http.ResponseWriter, r *http.Request, userDN string) error {
	if s.readOnly {
		s.metrics.issue(ltpa.VersionUnknown.String(), resultSkipped)
		return nil
	}
	if !strings.HasPrefix(userDN, s.uidPrefix) {
		s.metrics.issue(ltpa.VersionUnknown.String(), resultSkipped)
		s.log.Debug("ltpa cookie not issued", "user_dn", userDN, "uid_prefix", s.uidPrefix)
		return fmt.Errorf("service: user DN %q does not start with %q", userDN, s.uidPrefix)
	}
	user := token.LtpaUser(s.realm, userDN)

	var errs []error
	for _, v := range s.versions() {
		value, err := s.generator.Generate(v, user)
		if err != nil {
			s.metrics.issue(v.String(), resultFailed)
			s.log.Warn("ltpa token encode failed", "user", user, "version", v.String(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", v, err))
			continue
		}
		http.SetCookie(w, s.cookie(r, v.CookieName(), value, 0))
		s.metrics.issue(v.String(), resultOK)
	}
	return errors.Join(errs...)
}

// ClearCookies expires the LTPA cookies on the client.
func (s *Service) ClearCookies(w http.ResponseWriter, r *http.Request) {
	for _, v := range s.versions() {
		http.SetCookie(w, s.cookie(r, v.CookieName(), "", -1))
	}
	s.metrics.clear()
}

// cookie builds an LTPA cookie. maxAge 0 gives a browser-session cookie,
// a negative maxAge deletes it.
func (s *Service) cookie(r *http.Request, name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   maxAge,
		Secure:   r.TLS != nil,
		HttpOnly: true,
	}
}

// UIDFromUser extracts the value of the first prefix=value component of an
// unescaped LTPA user such as "user:realm/uid=bob,ou=people". The component
// must start the string or follow '/' or ','.
func UIDFromUser(user, prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	key := prefix + "="
	for from := 0; from < len(user); {
		i := strings.Index(user[from:], key)
		if i < 0 {
			return "", false
		}
		i += from
		if i == 0 || user[i-1] == '/' || user[i-1] == ',' {
			value := user[i+len(key):]
			if j := strings.IndexByte(value, ','); j >= 0 {
				value = value[:j]
			}
			value = strings.TrimSpace(value)
			return value, value != ""
		}
		from = i + 1
	}
	return "", false
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, ltpa.ErrExpired):
		return resultExpired
	case errors.Is(err, ltpa.ErrFormat):
		return resultFormat
	case errors.Is(err, ltpa.ErrCrypto):
		return resultCrypto
	default:
		return resultFailed
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
