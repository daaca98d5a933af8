package store

import (
	"context"
	"errors"

	"cafepos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrInvalidUser       = errors.New("invalid user")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListAddOns(ctx context.Context) ([]domain.AddOn, error)
	CreateSale(ctx context.Context, record domain.SaleRecord) (*domain.SaleRecord, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.SaleRecord, error)
	LoadDrawer(ctx context.Context, registerID string, businessDay string) (*domain.DrawerSnapshot, error)
	SaveDrawer(ctx context.Context, snapshot domain.DrawerSnapshot) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, registerID string, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
