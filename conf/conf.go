package conf

import (
	"fmt"
	"sync"
	"time"
)

type config struct {
	// Target network and deployed program.
	chainID         uint64
	chainName       string
	contractAddress string

	// Endpoints for the ledger node API, the wallet provider bridge and
	// the content upload gateway.
	ledgerAPI   string
	providerAPI string
	gatewayAPI  string

	// Timeout for outgoing requests.
	requestTimeout time.Duration

	// Transaction inclusion wait parameters.
	confirmTimeout      time.Duration
	confirmPollInterval time.Duration

	// Bounded retry for read-only calls. Writes are never retried.
	readRetries      int
	readRetryBackoff time.Duration

	// Directory for the on-disk content cache. Empty disables it.
	cacheDir string

	// Shared secret for http api authorization.
	secret string
}

var (
	l sync.RWMutex

	defaultConf = defaultConfig()
	c           = defaultConf
)

func defaultConfig() config {
	return config{
		chainID:   11155111,
		chainName: "sepolia",

		ledgerAPI:   "http://127.0.0.1:9980",
		providerAPI: "http://127.0.0.1:9981",
		gatewayAPI:  "http://127.0.0.1:9982",

		requestTimeout: 5 * time.Second,

		confirmTimeout:      90 * time.Second,
		confirmPollInterval: 2 * time.Second,

		readRetries:      3,
		readRetryBackoff: 500 * time.Millisecond,
	}
}

type Option func(*config)

func WithChainID(id uint64) Option {
	return func(c *config) {
		c.chainID = id
	}
}

func WithChainName(name string) Option {
	return func(c *config) {
		c.chainName = name
	}
}

func WithContractAddress(addr string) Option {
	return func(c *config) {
		c.contractAddress = addr
	}
}

func WithLedgerAPI(endpoint string) Option {
	return func(c *config) {
		c.ledgerAPI = endpoint
	}
}

func WithProviderAPI(endpoint string) Option {
	return func(c *config) {
		c.providerAPI = endpoint
	}
}

func WithGatewayAPI(endpoint string) Option {
	return func(c *config) {
		c.gatewayAPI = endpoint
	}
}

func WithRequestTimeout(t time.Duration) Option {
	return func(c *config) {
		c.requestTimeout = t
	}
}

func WithConfirmTimeout(t time.Duration) Option {
	return func(c *config) {
		c.confirmTimeout = t
	}
}

func WithConfirmPollInterval(t time.Duration) Option {
	return func(c *config) {
		c.confirmPollInterval = t
	}
}

func WithReadRetries(n int) Option {
	return func(c *config) {
		c.readRetries = n
	}
}

func WithReadRetryBackoff(t time.Duration) Option {
	return func(c *config) {
		c.readRetryBackoff = t
	}
}

func WithCacheDir(dir string) Option {
	return func(c *config) {
		c.cacheDir = dir
	}
}

func WithSecret(s string) Option {
	return func(c *config) {
		c.secret = s
	}
}

func GetChainID() uint64 {
	l.RLock()
	t := c.chainID
	l.RUnlock()

	return t
}

func GetChainName() string {
	l.RLock()
	t := c.chainName
	l.RUnlock()

	return t
}

func GetContractAddress() string {
	l.RLock()
	t := c.contractAddress
	l.RUnlock()

	return t
}

func GetLedgerAPI() string {
	l.RLock()
	t := c.ledgerAPI
	l.RUnlock()

	return t
}

func GetProviderAPI() string {
	l.RLock()
	t := c.providerAPI
	l.RUnlock()

	return t
}

func GetGatewayAPI() string {
	l.RLock()
	t := c.gatewayAPI
	l.RUnlock()

	return t
}

func GetRequestTimeout() time.Duration {
	l.RLock()
	t := c.requestTimeout
	l.RUnlock()

	return t
}

func GetConfirmTimeout() time.Duration {
	l.RLock()
	t := c.confirmTimeout
	l.RUnlock()

	return t
}

func GetConfirmPollInterval() time.Duration {
	l.RLock()
	t := c.confirmPollInterval
	l.RUnlock()

	return t
}

func GetReadRetries() int {
	l.RLock()
	t := c.readRetries
	l.RUnlock()

	return t
}

func GetReadRetryBackoff() time.Duration {
	l.RLock()
	t := c.readRetryBackoff
	l.RUnlock()

	return t
}

func GetCacheDir() string {
	l.RLock()
	t := c.cacheDir
	l.RUnlock()

	return t
}

func GetSecret() string {
	l.RLock()
	t := c.secret
	l.RUnlock()

	return t
}

func Update(options ...Option) {
	l.Lock()

	for _, option := range options {
		option(&c)
	}

	l.Unlock()
}

func Stringify() string {
	l.RLock()
	s := fmt.Sprintf("%+v", c)
	l.RUnlock()

	return s
}

func Reset() {
	l.Lock()
	c = defaultConf
	l.Unlock()
}
