package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"octo/internal/domain"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	SQLitePath  string
	DBMigrate   bool
	LogLevel    string
	LogFormat   string

	AdminAPIKey string

	FederationEnabled      bool
	StrictMode             bool
	RequireSignedEnvelopes bool
	RequireSignedResponses bool
	EnforceTargetMatch     bool
	EnforceKeyBinding      bool
	DefaultEventTTL        time.Duration

	NodeName          string
	NodeType          string
	NodeBaseURL       string
	NodeProvidesEvent []string
	NodeProvidesState []string
	CommonsRID        string

	SigningPrivateKeyBase64  string
	SigningPrivateKeySeedHex string

	PollInterval          time.Duration
	PollPageSize          int
	PeerTimeout           time.Duration
	WebhookMaxAttempts    int
	WebhookInitialBackoff time.Duration
	CompactInterval       time.Duration

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IntakePolicyPath    string
	IntakeNotifyChannel string
	ResolverURL         string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                 addr,
		PostgresDSN:              os.Getenv("POSTGRES_DSN"),
		SQLitePath:               os.Getenv("SQLITE_PATH"),
		DBMigrate:                envBoolDefault("DB_MIGRATE", true),
		LogLevel:                 envDefault("LOG_LEVEL", "info"),
		LogFormat:                envDefault("LOG_FORMAT", "json"),
		AdminAPIKey:              os.Getenv("ADMIN_API_KEY"),
		FederationEnabled:        envBoolDefault("FEDERATION_ENABLED", true),
		StrictMode:               envBoolDefault("STRICT_MODE", false),
		RequireSignedEnvelopes:   envBoolDefault("REQUIRE_SIGNED_ENVELOPES", false),
		RequireSignedResponses:   envBoolDefault("REQUIRE_SIGNED_RESPONSES", false),
		EnforceTargetMatch:       envBoolDefault("ENFORCE_TARGET_MATCH", false),
		EnforceKeyBinding:        envBoolDefault("ENFORCE_KEY_BINDING", false),
		DefaultEventTTL:          envDurationDefault("DEFAULT_EVENT_TTL", domain.DefaultEventTTL),
		NodeName:                 os.Getenv("NODE_NAME"),
		NodeType:                 envDefault("NODE_TYPE", string(domain.NodeTypeFull)),
		NodeBaseURL:              strings.TrimRight(os.Getenv("NODE_BASE_URL"), "/"),
		NodeProvidesEvent:        envListDefault("NODE_PROVIDES_EVENT", nil),
		NodeProvidesState:        envListDefault("NODE_PROVIDES_STATE", nil),
		CommonsRID:               os.Getenv("COMMONS_RID"),
		SigningPrivateKeyBase64:  os.Getenv("SIGNING_PRIVATE_KEY_BASE64"),
		SigningPrivateKeySeedHex: os.Getenv("SIGNING_PRIVATE_KEY_SEED_HEX"),
		PollInterval:             envDurationDefault("POLL_INTERVAL", 30*time.Second),
		PollPageSize:             envIntDefault("POLL_PAGE_SIZE", 50),
		PeerTimeout:              envDurationDefault("PEER_TIMEOUT", 10*time.Second),
		WebhookMaxAttempts:       envIntDefault("WEBHOOK_MAX_ATTEMPTS", 4),
		WebhookInitialBackoff:    envDurationDefault("WEBHOOK_INITIAL_BACKOFF", 500*time.Millisecond),
		CompactInterval:          envDurationDefault("COMPACT_INTERVAL", time.Hour),
		RateLimitRequests:        envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:   envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:      envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:         envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  envIntDefault("REDIS_DB", 0),
		IntakePolicyPath:         os.Getenv("INTAKE_POLICY_PATH"),
		IntakeNotifyChannel:      envDefault("INTAKE_NOTIFY_CHANNEL", "octo:intake"),
		ResolverURL:              os.Getenv("RESOLVER_URL"),
	}
}

// TrustPolicy returns the immutable trust flags. Strict mode turns on every check.
func (c Config) TrustPolicy() domain.TrustPolicy {
	if c.StrictMode {
		return domain.StrictTrustPolicy()
	}
	return domain.TrustPolicy{
		RequireSignedEnvelopes: c.RequireSignedEnvelopes,
		RequireSignedResponses: c.RequireSignedResponses,
		EnforceTargetMatch:     c.EnforceTargetMatch,
		EnforceKeyBinding:      c.EnforceKeyBinding,
	}
}

// SigningKey decodes the configured node key. A nil key with a nil error means none is configured.
func (c Config) SigningKey() (ed25519.PrivateKey, error) {
	if c.SigningPrivateKeyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.SigningPrivateKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: SIGNING_PRIVATE_KEY_BASE64: %v", domain.ErrConfig, err)
		}
		switch len(decoded) {
		case ed25519.PrivateKeySize:
			return ed25519.PrivateKey(decoded), nil
		case ed25519.SeedSize:
			return ed25519.NewKeyFromSeed(decoded), nil
		default:
			return nil, fmt.Errorf("%w: SIGNING_PRIVATE_KEY_BASE64 has invalid length %d", domain.ErrConfig, len(decoded))
		}
	}
	if c.SigningPrivateKeySeedHex != "" {
		decoded, err := hex.DecodeString(c.SigningPrivateKeySeedHex)
		if err != nil {
			return nil, fmt.Errorf("%w: SIGNING_PRIVATE_KEY_SEED_HEX: %v", domain.ErrConfig, err)
		}
		if len(decoded) != ed25519.SeedSize {
			return nil, fmt.Errorf("%w: SIGNING_PRIVATE_KEY_SEED_HEX has invalid length %d", domain.ErrConfig, len(decoded))
		}
		return ed25519.NewKeyFromSeed(decoded), nil
	}
	return nil, nil
}

// Identity derives this node's own profile. The RID is bound to the signing key when one is configured.
func (c Config) Identity() (domain.Node, ed25519.PrivateKey, error) {
	key, err := c.SigningKey()
	if err != nil {
		return domain.Node{}, nil, err
	}
	var pub []byte
	if key != nil {
		pub = key.Public().(ed25519.PublicKey)
	}
	node := domain.Node{
		RID:           domain.NodeRID(c.NodeName, pub),
		Name:          c.NodeName,
		Type:          domain.NodeType(strings.ToUpper(c.NodeType)),
		BaseURL:       c.NodeBaseURL,
		PublicKey:     pub,
		ProvidesEvent: c.NodeProvidesEvent,
		ProvidesState: c.NodeProvidesState,
		Status:        domain.NodeStatusActive,
	}
	return node, key, nil
}

// Validate reports configuration that must stop the node from serving federation traffic.
func (c Config) Validate() error {
	if !c.FederationEnabled {
		return nil
	}
	if strings.TrimSpace(c.NodeName) == "" {
		return fmt.Errorf("%w: NODE_NAME is required when federation is enabled", domain.ErrConfig)
	}
	switch domain.NodeType(strings.ToUpper(c.NodeType)) {
	case domain.NodeTypeFull, domain.NodeTypePartial:
	default:
		return fmt.Errorf("%w: NODE_TYPE must be FULL or PARTIAL", domain.ErrConfig)
	}
	if domain.NodeType(strings.ToUpper(c.NodeType)) == domain.NodeTypeFull && c.NodeBaseURL == "" {
		return fmt.Errorf("%w: NODE_BASE_URL is required for FULL nodes", domain.ErrConfig)
	}
	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	policy := c.TrustPolicy()
	if key == nil && (policy.RequireSignedResponses || policy.EnforceKeyBinding) {
		return fmt.Errorf("%w: signing key is required by trust policy", domain.ErrConfig)
	}
	if c.DefaultEventTTL <= 0 {
		return fmt.Errorf("%w: DEFAULT_EVENT_TTL must be positive", domain.ErrConfig)
	}
	return nil
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

// envDurationDefault accepts Go durations ("90s") or a bare number of seconds.
func envDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return def
		}
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
