package streamr

import (
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/yaml.v3"
)

// AuthConfig selects how the Client authenticates to the broker. Exactly
// one of PrivateKey, APIKey, or SessionToken should be set; NewClient
// picks the TokenProvider implementation accordingly.
type AuthConfig struct {
	// PrivateKey, hex-encoded, authenticates via challenge/response and is
	// also used to sign published messages.
	PrivateKey string `yaml:"privateKey"`

	// APIKey authenticates via API-key exchange. Mutually exclusive with
	// PrivateKey for the purposes of session-token acquisition, though a
	// PrivateKey is still required separately to sign publishes.
	APIKey string `yaml:"apiKey"`

	// SessionToken, if set, is used directly instead of fetching one,
	// through a static TokenProvider that always returns it.
	SessionToken string `yaml:"sessionToken"`

	// AuthURL is the base URL of the broker's authentication endpoint,
	// used by the default challenge/response and API-key TokenProvider
	// implementations. Ignored when SessionToken is set or
	// WithTokenProvider supplies a TokenProvider directly.
	AuthURL string `yaml:"authUrl"`
}

// Config is the configuration for a Client.
//
// All duration fields accept standard Go duration strings like "30s", "5m".
type Config struct {
	// URL is the broker endpoint the default Connection dials:
	// "wss://..." or "ws://..." for the websocket transport, or
	// "nats://..." for the NATS transport. Ignored when WithConnection
	// supplies a Connection directly.
	URL string `yaml:"url"`

	// Transport selects the default Connection implementation: "websocket"
	// (default) or "nats". Ignored when WithConnection supplies a
	// Connection directly.
	Transport string `yaml:"transport"`

	// RequestTimeout is validated (it must be >= 0) and handed to the
	// resend coordinator, but no correlated request applies it: subscribe,
	// unsubscribe, and resend requests all wait for their matching response
	// without a timeout. Zero is the default.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// VerifierCacheSize bounds the MessageVerifier's memoization cache.
	VerifierCacheSize int `yaml:"verifierCacheSize"`

	// VerifySignatures selects the verification policy: "never", "auto",
	// or "always".
	VerifySignatures string `yaml:"verifySignatures"`

	// RetryResendAfter governs the one silent retry of an empty ResendLast
	// response before the subscription proceeds to live delivery. Zero is
	// replaced by the default (5s) in SetDefaults; a negative value
	// disables the retry.
	RetryResendAfter time.Duration `yaml:"retryResendAfter"`

	// AutoConnect has Subscribe/Publish transparently call Connect if the
	// Client isn't already connected.
	AutoConnect bool `yaml:"autoConnect"`

	// AutoDisconnect has Close tear down the Connection automatically
	// rather than requiring an explicit Disconnect first, and has
	// Unsubscribe disconnect once no Subscription remains anywhere on
	// the Client.
	AutoDisconnect bool `yaml:"autoDisconnect"`

	// Auth configures broker authentication.
	Auth AuthConfig `yaml:"auth"`

	// Logger receives structured log output. Defaults to a no-op logger.
	Logger Logger `yaml:"-"`

	// Metrics receives domain metrics. Defaults to a no-op collector.
	Metrics MetricsCollector `yaml:"-"`

	// Clock is the source of time for request timeouts and backoff.
	// Defaults to the real clock; tests inject a mock clock to advance
	// virtual time deterministically.
	Clock clock.Clock `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transport:         "websocket",
		RequestTimeout:    0,
		VerifierCacheSize: 10000,
		VerifySignatures:  "auto",
		RetryResendAfter:  5 * time.Second,
		AutoConnect:       true,
		AutoDisconnect:    true,
	}
}

// SetDefaults fills in missing configuration values with production
// defaults. Fields already set by the caller are left untouched.
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Transport == "" {
		cfg.Transport = defaults.Transport
	}
	if cfg.VerifierCacheSize == 0 {
		cfg.VerifierCacheSize = defaults.VerifierCacheSize
	}
	if cfg.VerifySignatures == "" {
		cfg.VerifySignatures = defaults.VerifySignatures
	}
	if cfg.RetryResendAfter == 0 {
		cfg.RetryResendAfter = defaults.RetryResendAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = defaultMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
}

// Validate checks configuration constraints and returns an error
// describing the first violation found, nil if valid.
func (cfg *Config) Validate() error {
	if cfg.VerifierCacheSize < 0 {
		return fmt.Errorf("%w: VerifierCacheSize must be >= 0, got %d", ErrInvalidConfig, cfg.VerifierCacheSize)
	}

	switch cfg.VerifySignatures {
	case "", "never", "auto", "always":
	default:
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, ErrInvalidVerifyPolicy, cfg.VerifySignatures)
	}

	switch cfg.Transport {
	case "", "websocket", "nats":
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("%w: RequestTimeout must be >= 0, got %v", ErrInvalidConfig, cfg.RequestTimeout)
	}

	if cfg.Auth.PrivateKey == "" && cfg.Auth.APIKey == "" && cfg.Auth.SessionToken == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNoAuthProvided)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for
// non-recommended but not strictly invalid values.
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.RequestTimeout == 0 {
		logger.Warn("RequestTimeout is unset; correlated requests will wait indefinitely for a response")
	}
	if cfg.VerifySignatures == "never" {
		logger.Warn("VerifySignatures is \"never\"; delivered messages will not be authenticated")
	}
}

// LoadConfig reads and parses a YAML configuration file, then applies
// defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("streamr: read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("streamr: parse config file: %w", err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// TestConfig returns a configuration suited to fast test execution: a
// deterministic mock clock and a short resend retry window, with an
// arbitrary private key so Validate passes without real credentials.
func TestConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:0"
	cfg.RetryResendAfter = 10 * time.Millisecond
	cfg.RequestTimeout = time.Second
	cfg.Clock = clock.NewMock()
	cfg.Auth.PrivateKey = "0x0000000000000000000000000000000000000000000000000000000000000001"

	return cfg
}
