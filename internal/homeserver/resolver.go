package homeserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPResolverConfig describes the dependencies of the relay-backed resolver.
type HTTPResolverConfig struct {
	// Endpoint is the base URL of the key-resolution relay.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPResolver resolves a user public key to its homeserver identifier
// through a resolution relay: GET <endpoint>/<pk> answers with the
// homeserver address in the body.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPResolver constructs the resolver.
func NewHTTPResolver(cfg HTTPResolverConfig) (*HTTPResolver, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("resolver endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("resolver endpoint: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPResolver{endpoint: endpoint, client: client, logger: logger}, nil
}

// ResolveHomeserver looks up the homeserver address published for pk.
func (r *HTTPResolver) ResolveHomeserver(ctx context.Context, pk string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/"+pk, nil)
	if err != nil {
		return "", err
	}
	response, err := r.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("resolver request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolver status %d for %s", response.StatusCode, pk)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("resolver body: %w", err)
	}

	address := extractHomeserverID(strings.TrimSpace(string(body)))
	if address == "" {
		return "", fmt.Errorf("resolver returned no homeserver for %s", pk)
	}
	r.logger.Debug("homeserver resolved", zap.String("user_pk", pk), zap.String("homeserver", address))
	return address, nil
}

// extractHomeserverID reduces a homeserver URL or bare identifier to the host
// part used as the stored homeserver id.
func extractHomeserverID(urlOrID string) string {
	for _, scheme := range []string{"https://", "http://"} {
		if rest, found := strings.CutPrefix(urlOrID, scheme); found {
			host, _, _ := strings.Cut(rest, "/")
			return host
		}
	}
	return urlOrID
}
