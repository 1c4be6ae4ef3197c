package maskedlm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// ClientOptions controls how the inference server client is initialised.
type ClientOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client talks JSON to the masked-language model server. Transport, base URL
// handling and auth headers come from the OpenAI SDK's generic request methods.
type Client struct {
	api     requester
	logger  *logrus.Logger
	baseURL string
}

type requester interface {
	Get(ctx context.Context, path string, params any, res any, opts ...option.RequestOption) error
	Post(ctx context.Context, path string, params any, res any, opts ...option.RequestOption) error
}

// NewClient constructs a Client for the configured inference server.
func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		return nil, eris.New("model endpoint is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	requestOptions := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}

	// Set even when empty so OPENAI_API_KEY from the environment is never forwarded.
	requestOptions = append(requestOptions, option.WithAPIKey(strings.TrimSpace(opts.APIKey)))

	apiClient := openai.NewClient(requestOptions...)

	return &Client{
		api:     &apiClient,
		logger:  opts.Logger,
		baseURL: baseURL,
	}, nil
}

// BaseURL returns the configured base URL for outbound requests.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) logError(fields logrus.Fields, err error, message string) {
	if c.logger == nil || err == nil {
		return
	}

	entry := c.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
