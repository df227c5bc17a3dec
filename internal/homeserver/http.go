package homeserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const httpRequestTimeout = 10 * time.Second

// HTTPClientConfig describes the dependencies of the HTTP transport.
type HTTPClientConfig struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPClient talks to homeservers over their events-stream and public
// storage surfaces.
type HTTPClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient constructs the transport. A default client with a 10 second
// timeout is used when none is provided.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{client: client, logger: logger}
}

// ListEvents queries the homeserver's events-stream for a single user,
// filtered to the pixel path prefix.
func (c *HTTPClient) ListEvents(ctx context.Context, homeserver, userPK, cursor string, limit int) ([]EventRecord, error) {
	endpoint := url.URL{
		Scheme: "https",
		Host:   homeserver,
		Path:   "/events-stream",
	}
	query := endpoint.Query()
	query.Set("path", PixelPathPrefix)
	query.Set("limit", strconv.Itoa(limit))
	if cursor == "" {
		query.Set("user", userPK)
	} else {
		query.Set("user", userPK+":"+cursor)
	}
	endpoint.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("events-stream request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events-stream status %d from %s", response.StatusCode, homeserver)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("events-stream body: %w", err)
	}

	records := parseEventStream(string(body))
	c.logger.Debug("events-stream polled",
		zap.String("homeserver", homeserver),
		zap.String("user_pk", userPK),
		zap.Int("records", len(records)))
	return records, nil
}

// FetchObject retrieves an object body. The pubky URI maps onto the
// homeserver's public storage as https://<homeserver>/<user_pk>/<path>.
func (c *HTTPClient) FetchObject(ctx context.Context, homeserver, uri string) ([]byte, error) {
	rest, found := strings.CutPrefix(uri, "pubky://")
	if !found {
		return nil, fmt.Errorf("unsupported object uri %q", uri)
	}

	endpoint := url.URL{
		Scheme: "https",
		Host:   homeserver,
		Path:   "/" + rest,
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("object request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone {
		return nil, ErrObjectNotFound
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object status %d for %s", response.StatusCode, uri)
	}

	return io.ReadAll(response.Body)
}

// parseEventStream decodes the SSE-shaped events-stream response:
//
//	event: PUT
//	data: pubky://user_pk/pub/pubky-canva/pixels/id
//	data: cursor: 42
//	data: content_hash: ...
//	(blank line)
func parseEventStream(text string) []EventRecord {
	var records []EventRecord
	var current EventRecord

	flush := func() {
		if current.Type != "" && current.URI != "" {
			records = append(records, current)
		}
		current = EventRecord{}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if eventType, found := strings.CutPrefix(line, "event: "); found {
			current.Type = strings.TrimSpace(eventType)
			continue
		}
		if data, found := strings.CutPrefix(line, "data: "); found {
			data = strings.TrimSpace(data)
			switch {
			case strings.HasPrefix(data, "cursor: "):
				current.Cursor = strings.TrimPrefix(data, "cursor: ")
			case strings.HasPrefix(data, "content_hash:"):
				// Not consumed by the indexer.
			case data != "":
				current.URI = data
			}
			continue
		}
		if line == "" {
			flush()
		}
	}
	flush()

	return records
}
