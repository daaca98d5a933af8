package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cafepos/backend/internal/domain"
)

// HTTPSource reads the catalog from the café backend.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = NewHTTPClient(10 * time.Second)
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *HTTPSource) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := s.get(ctx, "/api/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *HTTPSource) ListAddOns(ctx context.Context) ([]domain.AddOn, error) {
	var addOns []domain.AddOn
	if err := s.get(ctx, "/api/addons", &addOns); err != nil {
		return nil, err
	}
	return addOns, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
