package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/store"
	"cafepos/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates the tables the register service owns. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, stock, active
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.ID == "" || p.Name == "" || p.Price < 0 || p.Stock < 0 {
		return store.ErrInvalidSale
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, price = EXCLUDED.price,
			stock = EXCLUDED.stock, active = EXCLUDED.active, updated_at = now()
	`, p.ID, p.Name, p.Category, p.Price, p.Stock, p.Active)
	return err
}

func (s *Store) ListAddOns(ctx context.Context) ([]domain.AddOn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, additional_price
		FROM add_ons
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	addOns := make([]domain.AddOn, 0, 32)
	for rows.Next() {
		var a domain.AddOn
		if err := rows.Scan(&a.ID, &a.Name, &a.Category, &a.AdditionalPrice); err != nil {
			return nil, err
		}
		addOns = append(addOns, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return addOns, nil
}

func (s *Store) UpsertAddOn(ctx context.Context, a domain.AddOn) error {
	if a.ID == "" || a.Name == "" || a.AdditionalPrice < 0 {
		return store.ErrInvalidSale
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO add_ons (id, name, category, additional_price)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, additional_price = EXCLUDED.additional_price
	`, a.ID, a.Name, a.Category, a.AdditionalPrice)
	return err
}

// CreateSale records the sale and decrements stock in one serializable
// transaction. A replayed idempotency key returns the stored record.
func (s *Store) CreateSale(ctx context.Context, record domain.SaleRecord) (*domain.SaleRecord, error) {
	if len(record.Sale.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", store.ErrInvalidSale)
	}
	if record.Sale.IdempotencyKey != "" {
		existing, err := s.FindSaleByIdempotency(ctx, record.Sale.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	wanted := make(map[string]int, len(record.Sale.Lines))
	for _, line := range record.Sale.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s has quantity %d", store.ErrInvalidSale, line.ProductID, line.Quantity)
		}
		wanted[line.ProductID] += line.Quantity
	}
	productIDs := make([]string, 0, len(wanted))
	for id := range wanted {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, stock, active
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	type stockRow struct {
		name   string
		stock  int
		active bool
	}
	stock := make(map[string]stockRow, len(productIDs))
	for rows.Next() {
		var id string
		var r stockRow
		if err := rows.Scan(&id, &r.name, &r.stock, &r.active); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stock[id] = r
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, id := range productIDs {
		r, ok := stock[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		if !r.active || r.stock < wanted[id] {
			return nil, fmt.Errorf("%w: %s has %d, sale needs %d", store.ErrInsufficientStock, r.name, r.stock, wanted[id])
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1
		`, id, wanted[id]); err != nil {
			return nil, err
		}
	}

	if record.ID == "" {
		record.ID = xid.New("sale")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	lines, err := json.Marshal(record.Sale.Lines)
	if err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, idempotency_key, operator_id, customer_id, payment_method, total, observations, lines, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, record.ID, nullIfEmpty(record.Sale.IdempotencyKey), record.Sale.OperatorID, record.Sale.CustomerID,
		string(record.Sale.PaymentMethod), record.Sale.Total, record.Sale.Observations, lines, record.CreatedAt); err != nil {
		if isUniqueViolation(err) && record.Sale.IdempotencyKey != "" {
			_ = pgTx.Rollback()
			return s.FindSaleByIdempotency(ctx, record.Sale.IdempotencyKey)
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.SaleRecord, error) {
	var record domain.SaleRecord
	var customerID sql.NullString
	var idem sql.NullString
	var method string
	var lines []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, operator_id, customer_id, payment_method, total, observations, lines, created_at
		FROM sales
		WHERE idempotency_key = $1
	`, key).Scan(&record.ID, &idem, &record.Sale.OperatorID, &customerID, &method, &record.Sale.Total,
		&record.Sale.Observations, &lines, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.Sale.IdempotencyKey = idem.String
	record.Sale.PaymentMethod = domain.PaymentMethod(method)
	if customerID.Valid {
		id := customerID.String
		record.Sale.CustomerID = &id
	}
	if err := json.Unmarshal(lines, &record.Sale.Lines); err != nil {
		return nil, fmt.Errorf("decode sale %s lines: %w", record.ID, err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return &record, nil
}

func (s *Store) LoadDrawer(ctx context.Context, registerID string, businessDay string) (*domain.DrawerSnapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM drawer_sessions WHERE register_id = $1 AND business_day = $2
	`, registerID, businessDay).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap domain.DrawerSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode drawer %s/%s: %w", registerID, businessDay, err)
	}
	return &snap, nil
}

func (s *Store) SaveDrawer(ctx context.Context, snapshot domain.DrawerSnapshot) error {
	if snapshot.RegisterID == "" || snapshot.BusinessDay == "" {
		return fmt.Errorf("drawer snapshot needs register and business day")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	updatedAt := snapshot.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drawer_sessions (register_id, business_day, state, snapshot, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (register_id, business_day) DO UPDATE
		SET state = EXCLUDED.state, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`, snapshot.RegisterID, snapshot.BusinessDay, string(snapshot.State), payload, updatedAt)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, register_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.RegisterID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, registerID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, register_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE $1 = '' OR register_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, registerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.RegisterID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, true, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidUser
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
