package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/store"
	"cafepos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	addOns          map[string]domain.AddOn
	salesByID       map[string]domain.SaleRecord
	salesByIdem     map[string]string
	drawers         map[string]domain.DrawerSnapshot
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the dev/demo operator accounts. Credentials come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; the dev defaults are only
// used when those are unset, with a warning.
func seedUsers(logger *zap.Logger) (map[string]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var seedProducts = []domain.Product{
	{ID: "prod-espresso", Name: "Espresso", Category: "coffee", Price: 1800, Stock: 80, Active: true},
	{ID: "prod-latte", Name: "Caffè Latte", Category: "coffee", Price: 2500, Stock: 60, Active: true},
	{ID: "prod-cappuccino", Name: "Cappuccino", Category: "coffee", Price: 2400, Stock: 60, Active: true},
	{ID: "prod-flat-white", Name: "Flat White", Category: "coffee", Price: 2600, Stock: 40, Active: true},
	{ID: "prod-green-tea", Name: "Green Tea", Category: "tea", Price: 1600, Stock: 30, Active: true},
	{ID: "prod-iced-lemonade", Name: "Iced Lemonade", Category: "cold drinks", Price: 2000, Stock: 25, Active: true},
	{ID: "prod-croissant", Name: "Butter Croissant", Category: "bakery", Price: 1800, Stock: 12, Active: true},
	{ID: "prod-banana-bread", Name: "Banana Bread", Category: "bakery", Price: 2200, Stock: 8, Active: true},
	{ID: "prod-cheesecake", Name: "Cheesecake Slice", Category: "desserts", Price: 3200, Stock: 6, Active: true},
	{ID: "prod-pumpkin-latte", Name: "Pumpkin Spice Latte", Category: "coffee", Price: 3000, Stock: 0, Active: false},
}

var seedAddOns = []domain.AddOn{
	{ID: "addon-extra-shot", Name: "Extra shot", Category: "coffee", AdditionalPrice: 500},
	{ID: "addon-oat-milk", Name: "Oat milk", Category: "coffee", AdditionalPrice: 700},
	{ID: "addon-almond-milk", Name: "Almond milk", Category: "coffee", AdditionalPrice: 700},
	{ID: "addon-vanilla", Name: "Vanilla syrup", Category: "coffee", AdditionalPrice: 400},
	{ID: "addon-caramel", Name: "Caramel syrup", Category: "coffee", AdditionalPrice: 400},
	{ID: "addon-honey", Name: "Honey", Category: "tea", AdditionalPrice: 300},
	{ID: "addon-lemon", Name: "Lemon slice", Category: "tea", AdditionalPrice: 200},
	{ID: "addon-butter", Name: "Butter", Category: "bakery", AdditionalPrice: 200},
	{ID: "addon-whipped-cream", Name: "Whipped cream", Category: "desserts", AdditionalPrice: 350},
}

// New returns an empty store.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		addOns:          make(map[string]domain.AddOn),
		salesByID:       make(map[string]domain.SaleRecord),
		salesByIdem:     make(map[string]string),
		drawers:         make(map[string]domain.DrawerSnapshot),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo café menu and operator accounts.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	users, err := seedUsers(logger.Named("memory-store"))
	if err != nil {
		return nil, err
	}

	s := New()
	for _, p := range seedProducts {
		s.products[p.ID] = p
	}
	for _, a := range seedAddOns {
		s.addOns[a.ID] = a
	}
	s.usersByUsername = users
	return s, nil
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) PutAddOn(addOn domain.AddOn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addOns[addOn.ID] = addOn
}

func (s *Store) SetStock(_ context.Context, productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: stock cannot be negative", store.ErrInvalidSale)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock = qty
	s.products[productID] = p
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) ListAddOns(_ context.Context) ([]domain.AddOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addOns := make([]domain.AddOn, 0, len(s.addOns))
	for _, a := range s.addOns {
		addOns = append(addOns, a)
	}
	slices.SortFunc(addOns, func(a, b domain.AddOn) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return addOns, nil
}

// CreateSale records a sale and decrements stock in one step. Replaying an
// idempotency key returns the first record untouched.
func (s *Store) CreateSale(_ context.Context, record domain.SaleRecord) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key := record.Sale.IdempotencyKey; key != "" {
		if id, ok := s.salesByIdem[key]; ok {
			existing := cloneSaleRecord(s.salesByID[id])
			return &existing, nil
		}
	}
	if len(record.Sale.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", store.ErrInvalidSale)
	}

	wanted := make(map[string]int, len(record.Sale.Lines))
	for _, line := range record.Sale.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s has quantity %d", store.ErrInvalidSale, line.ProductID, line.Quantity)
		}
		wanted[line.ProductID] += line.Quantity
	}
	for productID, qty := range wanted {
		p, ok := s.products[productID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		if !p.Active || p.Stock < qty {
			return nil, fmt.Errorf("%w: %s has %d, sale needs %d", store.ErrInsufficientStock, p.Name, p.Stock, qty)
		}
	}
	for productID, qty := range wanted {
		p := s.products[productID]
		p.Stock -= qty
		s.products[productID] = p
	}

	if record.ID == "" {
		record.ID = xid.New("sale")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record = cloneSaleRecord(record)
	s.salesByID[record.ID] = record
	if key := record.Sale.IdempotencyKey; key != "" {
		s.salesByIdem[key] = record.ID
	}

	out := cloneSaleRecord(record)
	return &out, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	record := cloneSaleRecord(s.salesByID[id])
	return &record, nil
}

func (s *Store) LoadDrawer(_ context.Context, registerID string, businessDay string) (*domain.DrawerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.drawers[drawerKey(registerID, businessDay)]
	if !ok {
		return nil, store.ErrNotFound
	}
	snap.Ledger = slices.Clone(snap.Ledger)
	return &snap, nil
}

func (s *Store) SaveDrawer(_ context.Context, snapshot domain.DrawerSnapshot) error {
	if snapshot.RegisterID == "" || snapshot.BusinessDay == "" {
		return fmt.Errorf("drawer snapshot needs register and business day")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot.Ledger = slices.Clone(snapshot.Ledger)
	s.drawers[drawerKey(snapshot.RegisterID, snapshot.BusinessDay)] = snapshot
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, registerID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if registerID != "" && entry.RegisterID != registerID {
			continue
		}
		result = append(result, entry)
	}

	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidUser
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func drawerKey(registerID string, businessDay string) string {
	return registerID + "/" + businessDay
}

func cloneSaleRecord(src domain.SaleRecord) domain.SaleRecord {
	dst := src
	dst.Sale.Lines = make([]domain.SaleLine, len(src.Sale.Lines))
	for i, line := range src.Sale.Lines {
		line.AddOns = slices.Clone(line.AddOns)
		dst.Sale.Lines[i] = line
	}
	if src.Sale.CustomerID != nil {
		id := *src.Sale.CustomerID
		dst.Sale.CustomerID = &id
	}
	return dst
}
