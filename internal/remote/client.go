package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	postsPath        = "/api/posts"
	requestIDHeader  = "X-Request-ID"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "feedsync-client"
	defaultMaxBytes  = 32 << 20
)

var (
	errMissingBaseURL = errors.New("remote: base url is required")

	// ErrResponseTooLarge reports a response body above the configured size cap.
	ErrResponseTooLarge = errors.New("remote: response body too large")
)

// Config configures the HTTP posts client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	UserAgent  string

	// MaxResponseBytes caps the response body size; zero selects 32 MiB.
	MaxResponseBytes int64
}

// Client talks to the feed API over HTTP. Transport failures are returned as
// errors; any response that arrives is returned as a posts.Response.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	logger    *zap.Logger
	userAgent string
	maxBytes  int64
}

var _ posts.RemoteService = (*Client)(nil)

// NewClient validates cfg and returns a Client rooted at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &Client{
		baseURL:   baseURL,
		token:     strings.TrimSpace(cfg.Token),
		http:      httpClient,
		logger:    logger,
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}, nil
}

// GetAll lists every post visible to the token subject.
func (c *Client) GetAll(ctx context.Context) (posts.Response[[]posts.Post], error) {
	return exchange[[]posts.Post](ctx, c, http.MethodGet, postsPath, nil)
}

// Save creates or updates a post and returns the stored version.
func (c *Client) Save(ctx context.Context, post posts.Post) (posts.Response[posts.Post], error) {
	return exchange[posts.Post](ctx, c, http.MethodPost, postsPath, post)
}

// RemoveByID deletes a post.
func (c *Client) RemoveByID(ctx context.Context, id int64) (posts.Response[struct{}], error) {
	return exchange[struct{}](ctx, c, http.MethodDelete, postPath(id), nil)
}

// LikeByID records a like by the token subject.
func (c *Client) LikeByID(ctx context.Context, id int64) (posts.Response[posts.Post], error) {
	return exchange[posts.Post](ctx, c, http.MethodPost, likesPath(id), nil)
}

// DislikeByID withdraws the token subject's like.
func (c *Client) DislikeByID(ctx context.Context, id int64) (posts.Response[posts.Post], error) {
	return exchange[posts.Post](ctx, c, http.MethodDelete, likesPath(id), nil)
}

func exchange[T any](ctx context.Context, c *Client, method, path string, payload any) (posts.Response[T], error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return posts.Response[T]{}, fmt.Errorf("remote: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return posts.Response[T]{}, fmt.Errorf("remote: build request: %w", err)
	}
	requestID, err := uuid.NewV7()
	if err != nil {
		return posts.Response[T]{}, err
	}
	request.Header.Set(requestIDHeader, requestID.String())
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return posts.Response[T]{}, err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, c.maxBytes+1))
	if err != nil {
		return posts.Response[T]{}, err
	}
	if int64(len(raw)) > c.maxBytes {
		c.logger.Warn("remote response body too large",
			zap.String("path", path),
			zap.String("request_id", requestID.String()),
			zap.Int64("limit_bytes", c.maxBytes))
		return posts.Response[T]{}, fmt.Errorf("%w: %s %s exceeds %d bytes", ErrResponseTooLarge, method, path, c.maxBytes)
	}

	result := posts.Response[T]{
		Successful:    response.StatusCode >= 200 && response.StatusCode < 300,
		StatusCode:    response.StatusCode,
		StatusMessage: statusMessage(response),
	}
	c.logger.Debug("remote call completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", response.StatusCode),
		zap.String("request_id", requestID.String()))

	if !result.Successful || len(bytes.TrimSpace(raw)) == 0 {
		return result, nil
	}
	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.logger.Warn("remote response body malformed",
			zap.String("path", path),
			zap.String("request_id", requestID.String()),
			zap.Error(err))
		return result, nil
	}
	result.Body = &decoded
	return result, nil
}

func statusMessage(response *http.Response) string {
	message := strings.TrimSpace(strings.TrimPrefix(response.Status, strconv.Itoa(response.StatusCode)))
	if message == "" {
		message = http.StatusText(response.StatusCode)
	}
	return message
}

func postPath(id int64) string {
	return postsPath + "/" + strconv.FormatInt(id, 10)
}

func likesPath(id int64) string {
	return postPath(id) + "/likes"
}
