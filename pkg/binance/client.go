package binance

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/pkg/failure"
)

// MaxPageLimit is the largest page the klines endpoint serves.
const MaxPageLimit = 1000

type Options struct {
	APIKey    string
	APISecret string
	// BaseURL overrides the production REST endpoint (testnet, tests).
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Debug             bool
}

// Client is an authenticated Binance spot REST session.
type Client struct {
	api *gobinance.Client
	log logrus.FieldLogger
}

// NewClient builds the session and pings the exchange before handing it back.
func NewClient(ctx context.Context, opts Options, log logrus.FieldLogger) (*Client, error) {
	const op = "binance.new_client"
	if log == nil {
		log = logrus.StandardLogger()
	}
	if strings.TrimSpace(opts.APIKey) == "" || strings.TrimSpace(opts.APISecret) == "" {
		return nil, failure.New(failure.ClientConstructionFailed, op, "api key and secret are required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	api := gobinance.NewClient(opts.APIKey, opts.APISecret)
	if opts.BaseURL != "" {
		api.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	api.Debug = opts.Debug
	api.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: NewRateLimitedClient(http.DefaultTransport, opts.RequestsPerSecond, log),
	}

	c := &Client{api: api, log: log}
	if err := c.Ping(ctx); err != nil {
		return nil, &failure.Error{Kind: failure.ClientConstructionFailed, Op: op, Err: err}
	}

	log.WithField("base_url", api.BaseURL).Debug("🔌 Binance session ready")
	return c, nil
}

// DebugEnabled reports whether request dumps are on.
func (c *Client) DebugEnabled() bool {
	return c.api.Debug
}

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return classify("binance.ping", err)
	}
	return nil
}

// classify tags Binance API errors as rejections and everything else by transport.
func classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return failure.Wrap(failure.APIRejected, op, err)
	}
	return failure.Classify(op, err)
}
