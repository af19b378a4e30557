package federated

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skyguard-io/skyguard/pkg/observability"
)

// ErrProviderUnreachable wraps network and decode failures talking to the
// identity provider.
var ErrProviderUnreachable = errors.New("identity provider unreachable")

// ErrUnknownKey means the key set holds no key for the token's key id.
var ErrUnknownKey = errors.New("unknown signing key id")

const (
	// DefaultAuthority is the provider's base URL
	DefaultAuthority = "https://login.microsoftonline.com"
	// DefaultAutoRefreshInterval bounds how stale the key set may get
	DefaultAutoRefreshInterval = 12 * time.Hour
	// DefaultMinRefreshInterval throttles forced refreshes under failure
	DefaultMinRefreshInterval = 5 * time.Minute
	// DefaultFetchTimeout bounds each discovery or JWKS round trip,
	// independently of the surrounding request's deadline
	DefaultFetchTimeout = 5 * time.Second
)

// KeySetConfig configures the signing key set for one tenant.
type KeySetConfig struct {
	// TenantID is the provider tenant identifier
	TenantID string
	// ClientID is this application's registration id
	ClientID string
	// Authority overrides the provider base URL (tests, sovereign clouds)
	Authority string
	// HTTPClient is the injected client for discovery and JWKS fetches.
	// Never a process-wide default; the zero value gets a private client
	// with FetchTimeout applied.
	HTTPClient *http.Client
	// ExtraAudiences are accepted in addition to ClientID and its
	// api:// form
	ExtraAudiences []string

	AutoRefreshInterval time.Duration
	MinRefreshInterval  time.Duration
	FetchTimeout        time.Duration

	// Metrics, when set, counts refreshes and tracks the cached key count
	Metrics *observability.Metrics
}

func (c KeySetConfig) withDefaults() KeySetConfig {
	if c.Authority == "" {
		c.Authority = DefaultAuthority
	}
	if c.AutoRefreshInterval <= 0 {
		c.AutoRefreshInterval = DefaultAutoRefreshInterval
	}
	if c.MinRefreshInterval <= 0 {
		c.MinRefreshInterval = DefaultMinRefreshInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.FetchTimeout}
	}
	return c
}

// discoveryDocument is the subset of the OIDC discovery response we consume.
type discoveryDocument struct {
	Issuer        string `json:"issuer"`
	JWKSURI       string `json:"jwks_uri"`
	TokenEndpoint string `json:"token_endpoint"`
}

// jwksDocument is the JWKS response shape.
type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet is the process-wide cache of the provider's signing keys plus the
// accepted issuer and audience sets. Reads take a shared lock; refreshes
// collapse into one in-flight fetch via singleflight, and other callers keep
// using the cached keys rather than waiting on the network.
type KeySet struct {
	cfg KeySetConfig
	log *observability.Logger

	group singleflight.Group

	mu            sync.RWMutex
	keys          map[string]*rsa.PublicKey
	issuers       []string
	lastRefresh   time.Time
	lastAttempt   time.Time
	tokenEndpoint string

	now func() time.Time
}

// NewKeySet creates a lazily populated key set. No network I/O happens until
// the first validation needs a key.
func NewKeySet(cfg KeySetConfig, log *observability.Logger) *KeySet {
	cfg = cfg.withDefaults()
	return &KeySet{
		cfg:     cfg,
		log:     log.WithField("component", "federated_keyset"),
		keys:    make(map[string]*rsa.PublicKey),
		issuers: tenantIssuers(cfg.Authority, cfg.TenantID),
		now:     time.Now,
	}
}

// tenantIssuers returns the historically used issuer string formats for one
// tenant. The provider has changed format over time; tokens carrying any of
// these refer to the same tenant and must validate.
func tenantIssuers(authority, tenantID string) []string {
	return []string{
		fmt.Sprintf("%s/%s/v2.0", authority, tenantID),
		fmt.Sprintf("%s/%s/", authority, tenantID),
		fmt.Sprintf("https://sts.windows.net/%s/", tenantID),
	}
}

// Issuers returns the accepted issuer strings, including the one advertised
// by the discovery document once fetched.
func (ks *KeySet) Issuers() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return append([]string(nil), ks.issuers...)
}

// Audiences returns the accepted audience strings: the client id, its
// API-URI form, and any configured extras.
func (ks *KeySet) Audiences() []string {
	auds := []string{ks.cfg.ClientID, "api://" + ks.cfg.ClientID}
	return append(auds, ks.cfg.ExtraAudiences...)
}

// TokenEndpoint returns the provider token endpoint from the last discovery
// fetch, or "" before the first one.
func (ks *KeySet) TokenEndpoint() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.tokenEndpoint
}

// Key returns the signing key for kid. If the cache is past its automatic
// refresh interval a refresh runs first; if the kid is still unknown a forced
// refresh runs, throttled to once per MinRefreshInterval so repeated invalid
// tokens cannot turn into a fetch storm against the provider.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	stale := ks.now().Sub(ks.lastRefresh) >= ks.cfg.AutoRefreshInterval
	ks.mu.RUnlock()

	if ok && !stale {
		return key, nil
	}

	err := ks.refresh(ctx, !ok)

	// Re-check regardless of the refresh outcome: a throttled caller may
	// still find the key another flight just fetched.
	ks.mu.RLock()
	fresh, found := ks.keys[kid]
	ks.mu.RUnlock()
	if found {
		return fresh, nil
	}
	// A still-cached key within the staleness bound keeps validation
	// available even when the refresh failed.
	if ok {
		return key, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
}

// refresh runs at most one discovery+JWKS fetch at a time; concurrent callers
// share the in-flight result. Forced refreshes (unknown kid) are throttled by
// MinRefreshInterval, measured from the last attempt so failures count too.
func (ks *KeySet) refresh(ctx context.Context, forced bool) error {
	_, err, _ := ks.group.Do("refresh", func() (interface{}, error) {
		ks.mu.RLock()
		sinceAttempt := ks.now().Sub(ks.lastAttempt)
		sinceRefresh := ks.now().Sub(ks.lastRefresh)
		ks.mu.RUnlock()

		if forced && sinceAttempt < ks.cfg.MinRefreshInterval {
			return nil, fmt.Errorf("refresh throttled, last attempt %s ago", sinceAttempt.Round(time.Second))
		}
		if !forced && sinceRefresh < ks.cfg.AutoRefreshInterval {
			// Another caller already refreshed while we waited.
			return nil, nil
		}

		ks.mu.Lock()
		ks.lastAttempt = ks.now()
		ks.mu.Unlock()

		return nil, ks.fetch(ctx)
	})
	return err
}

// fetch pulls the discovery document and the JWKS it points at, then swaps
// the cached state. The lock is never held across the network calls.
func (ks *KeySet) fetch(ctx context.Context) (err error) {
	defer func() {
		if ks.cfg.Metrics != nil {
			ks.cfg.Metrics.ObserveKeySetRefresh(err == nil, ks.keyCount())
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, ks.cfg.FetchTimeout)
	defer cancel()

	discoveryURL := fmt.Sprintf("%s/%s/v2.0/.well-known/openid-configuration",
		ks.cfg.Authority, ks.cfg.TenantID)

	var doc discoveryDocument
	if err := ks.getJSON(ctx, discoveryURL, &doc); err != nil {
		return fmt.Errorf("%w: discovery: %s", ErrProviderUnreachable, err)
	}
	if doc.JWKSURI == "" {
		return fmt.Errorf("%w: discovery document has no jwks_uri", ErrProviderUnreachable)
	}

	var jwks jwksDocument
	if err := ks.getJSON(ctx, doc.JWKSURI, &jwks); err != nil {
		return fmt.Errorf("%w: jwks: %s", ErrProviderUnreachable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, jk := range jwks.Keys {
		if jk.Kty != "RSA" || (jk.Use != "" && jk.Use != "sig") {
			continue
		}
		pub, err := jk.publicKey()
		if err != nil {
			ks.log.WithError(err).WithField("kid", jk.Kid).Warn("skipping unparsable JWKS key")
			continue
		}
		keys[jk.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: JWKS contained no usable signing keys", ErrProviderUnreachable)
	}

	issuers := tenantIssuers(ks.cfg.Authority, ks.cfg.TenantID)
	if doc.Issuer != "" && !contains(issuers, doc.Issuer) {
		issuers = append(issuers, doc.Issuer)
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.issuers = issuers
	ks.tokenEndpoint = doc.TokenEndpoint
	ks.lastRefresh = ks.now()
	ks.mu.Unlock()

	ks.log.WithField("keys", len(keys)).Debug("signing key set refreshed")
	return nil
}

func (ks *KeySet) keyCount() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

func (ks *KeySet) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := ks.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// publicKey converts the JWK modulus/exponent pair into an rsa.PublicKey.
func (k jwksKey) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("non-positive exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
