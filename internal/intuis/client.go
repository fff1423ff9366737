// Package intuis implements a client for the Intuis Connect (Muller Intuitiv)
// cloud API. All calls go through a resilient request layer that combines a
// request throttler, a rate limit circuit breaker and a tiered retry policy,
// and that transparently refreshes the OAuth access token.
package intuis

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// API clusters. Login tries them in order and sticks with the first one that
// accepts the credentials.
var baseURLs = []string{
	"https://app.muller-intuitiv.net",
	"https://app-prod.intuis-sas.com",
}

const (
	authPath        = "/oauth2/token"
	homesDataPath   = "/api/homesdata"
	homeStatusPath  = "/syncapi/v1/homestatus"
	configPath      = "/syncapi/v1/getconfigs"
	setStatePath    = "/syncapi/v1/setstate"
	roomMeasurePath = "/api/getroommeasure"
)

// Setpoint modes understood by the API.
const (
	ModeOff        = "off"
	ModeHome       = "home"
	ModeAuto       = "auto"
	ModeManual     = "manual"
	ModeAway       = "away"
	ModeBoost      = "boost"
	ModeFrostGuard = "hg"
)

// Rate limiting defaults.
const (
	DefaultRateLimitDelay    = 30 * time.Second
	DefaultCircuitThreshold  = 3
	DefaultMinRequestDelay   = 500 * time.Millisecond
	defaultBaseCooldown      = 30 * time.Second
	defaultMaxCooldown       = 2 * time.Minute
	defaultRateLimitMaxDelay = time.Minute
	defaultRateLimitAttempts = 5
	defaultServerAttempts    = 3
	defaultServerDelay       = 1500 * time.Millisecond
)

// tokenExpiryMargin is how long before actual expiry the access token is
// refreshed proactively.
const tokenExpiryMargin = time.Minute

type Client struct {
	HTTPClient *http.Client

	logger   *slog.Logger
	clusters []string
	baseURL  string
	breaker  *circuitBreaker
	throttle *throttler

	username          string
	password          string
	rateLimitDelay    time.Duration
	rateLimitAttempts int
	serverDelay       time.Duration

	lock         sync.Mutex
	homeID       string
	homeTimezone string
	accessToken  string
	refreshToken string
	expiry       time.Time
}

type Option func(*Client)

// WithHomeID pre-selects the home to operate on. Without it, the first home
// returned by the API is used.
func WithHomeID(homeID string) Option {
	return func(c *Client) { c.homeID = homeID }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.HTTPClient = httpClient }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimitDelay sets the initial backoff delay after a 429 response.
func WithRateLimitDelay(delay time.Duration) Option {
	return func(c *Client) { c.rateLimitDelay = delay }
}

// WithCircuitThreshold sets the number of consecutive 429 responses before the
// circuit breaker opens.
func WithCircuitThreshold(threshold int) Option {
	return func(c *Client) { c.breaker.threshold = threshold }
}

// WithMinRequestDelay sets the minimum delay between outgoing requests.
func WithMinRequestDelay(delay time.Duration) Option {
	return func(c *Client) { c.throttle.minDelay = delay }
}

func New(username, password string, opts ...Option) *Client {
	c := Client{
		HTTPClient:        &http.Client{Timeout: 20 * time.Second},
		logger:            slog.Default(),
		clusters:          baseURLs,
		baseURL:           baseURLs[0],
		username:          username,
		password:          password,
		homeTimezone:      "GMT",
		rateLimitDelay:    DefaultRateLimitDelay,
		rateLimitAttempts: defaultRateLimitAttempts,
		serverDelay:       defaultServerDelay,
		throttle:          &throttler{minDelay: DefaultMinRequestDelay},
	}
	c.breaker = &circuitBreaker{
		threshold:    DefaultCircuitThreshold,
		baseCooldown: defaultBaseCooldown,
		maxCooldown:  defaultMaxCooldown,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.breaker.logger = c.logger
	return &c
}

// OnRateLimit registers a hook invoked whenever the circuit breaker opens.
// The hook receives the cooldown duration. Failures inside the hook are
// swallowed and logged, never propagated to the request path.
func (c *Client) OnRateLimit(hook func(cooldown time.Duration)) {
	c.breaker.onOpen = hook
}

// HomeID returns the id of the home the client operates on. Empty until Login
// (or GetHomeData) has completed.
func (c *Client) HomeID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.homeID
}

// Timezone returns the home's timezone as reported by the API.
func (c *Client) Timezone() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.homeTimezone
}
