package sale

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/store"
	"cafepos/backend/internal/xid"
)

// SaleRepository is the persistence a LocalGateway writes to.
type SaleRepository interface {
	CreateSale(ctx context.Context, record domain.SaleRecord) (*domain.SaleRecord, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.SaleRecord, error)
}

// LocalGateway records sales in the service's own repository. A sale whose
// idempotency key was already recorded returns the original receipt.
type LocalGateway struct {
	repo SaleRepository
	now  func() time.Time
}

func NewLocalGateway(repo SaleRepository) *LocalGateway {
	return &LocalGateway{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (g *LocalGateway) CreateSale(ctx context.Context, sale domain.Sale) (domain.SaleReceipt, error) {
	if sale.IdempotencyKey != "" {
		existing, err := g.repo.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
		switch {
		case err == nil:
			return domain.SaleReceipt{Success: true, SaleID: existing.ID}, nil
		case !errors.Is(err, store.ErrNotFound):
			return domain.SaleReceipt{}, err
		}
	}

	record, err := g.repo.CreateSale(ctx, domain.SaleRecord{
		ID:        xid.New("sale"),
		Sale:      sale,
		CreatedAt: g.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrInvalidSale) || errors.Is(err, store.ErrNotFound) {
			return domain.SaleReceipt{Success: false, Error: err.Error()}, nil
		}
		return domain.SaleReceipt{}, err
	}
	return domain.SaleReceipt{Success: true, SaleID: record.ID}, nil
}

// HTTPGateway posts sales to the café backend.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPGateway{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (g *HTTPGateway) CreateSale(ctx context.Context, sale domain.Sale) (domain.SaleReceipt, error) {
	payload, err := json.Marshal(sale)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/sales", bytes.NewReader(payload))
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sale.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", sale.IdempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.SaleReceipt{}, fmt.Errorf("POST /api/sales: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.SaleReceipt{}, fmt.Errorf("POST /api/sales: read response: %w", err)
	}

	var receipt domain.SaleReceipt
	decodeErr := json.Unmarshal(body, &receipt)

	switch {
	case resp.StatusCode >= 500:
		return domain.SaleReceipt{}, fmt.Errorf("POST /api/sales: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		if decodeErr == nil && receipt.Error != "" {
			return domain.SaleReceipt{Success: false, Error: receipt.Error}, nil
		}
		return domain.SaleReceipt{Success: false, Error: fmt.Sprintf("sale rejected with status %d", resp.StatusCode)}, nil
	}
	if decodeErr != nil {
		return domain.SaleReceipt{}, fmt.Errorf("POST /api/sales: decode: %w", decodeErr)
	}
	if receipt.Success && receipt.SaleID == "" {
		return domain.SaleReceipt{}, fmt.Errorf("POST /api/sales: success without sale id")
	}
	return receipt, nil
}
