package domain

import "time"

type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price"`
	Stock    int    `json:"stock"`
	Active   bool   `json:"active"`
}

type AddOn struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Category        string `json:"category" yaml:"category"`
	AdditionalPrice int64  `json:"additionalPrice" yaml:"additional_price"`
}

type SizeVariant string

const (
	SizeSmall  SizeVariant = "S"
	SizeMedium SizeVariant = "M"
	SizeLarge  SizeVariant = "L"
	SizeSingle SizeVariant = "single"
)

func (v SizeVariant) Valid() bool {
	switch v {
	case SizeSmall, SizeMedium, SizeLarge, SizeSingle:
		return true
	default:
		return false
	}
}

// Scaled reports whether the variant belongs to the S/M/L family.
func (v SizeVariant) Scaled() bool {
	return v == SizeSmall || v == SizeMedium || v == SizeLarge
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	default:
		return false
	}
}

// CreditsDrawer reports whether a sale paid this way is recorded on the cash drawer.
func (m PaymentMethod) CreditsDrawer() bool {
	return m == PaymentCash || m == PaymentCard
}

// SaleAddOn is one add-on of a sold line. AdditionalPrice is per unit.
type SaleAddOn struct {
	AddOnID         string `json:"addOnId"`
	AdditionalPrice int64  `json:"additionalPrice"`
	Quantity        int    `json:"quantity"`
}

type SaleLine struct {
	ProductID string      `json:"productId"`
	Quantity  int         `json:"quantity"`
	Subtotal  int64       `json:"subtotal"`
	AddOns    []SaleAddOn `json:"addOns"`
}

// Sale is the payload sent to the sale-creation API. It is a snapshot of a
// cart, never a live reference to it.
type Sale struct {
	OperatorID     string        `json:"operatorId"`
	CustomerID     *string       `json:"customerId"`
	PaymentMethod  PaymentMethod `json:"paymentMethod"`
	Total          int64         `json:"total"`
	Observations   string        `json:"observations"`
	Lines          []SaleLine    `json:"lines"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
}

type SaleReceipt struct {
	Success bool   `json:"success"`
	SaleID  string `json:"saleId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SaleRecord struct {
	ID        string    `json:"id"`
	Sale      Sale      `json:"sale"`
	CreatedAt time.Time `json:"created_at"`
}

type DrawerState string

const (
	DrawerClosed DrawerState = "closed"
	DrawerOpen   DrawerState = "open"
)

type MovementKind string

const (
	MovementOpening          MovementKind = "opening"
	MovementSale             MovementKind = "sale"
	MovementManualAdjustment MovementKind = "manualAdjustment"
	MovementClosing          MovementKind = "closing"
)

type Movement struct {
	Kind        MovementKind  `json:"kind"`
	Description string        `json:"description"`
	Amount      int64         `json:"amount"`
	Tender      PaymentMethod `json:"tender,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

type DrawerCloseReport struct {
	OpeningFloat       int64      `json:"openingFloat"`
	CashSales          int64      `json:"cashSales"`
	CardSales          int64      `json:"cardSales"`
	TotalSales         int64      `json:"totalSales"`
	ExpectedCash       int64      `json:"expectedCash"`
	CurrentCashBalance int64      `json:"currentCashBalance"`
	Variance           int64      `json:"variance"`
	OpenedAt           *time.Time `json:"openedAt,omitempty"`
	ClosedAt           time.Time  `json:"closedAt"`
	Ledger             []Movement `json:"ledger"`
}

// DrawerSnapshot is the persisted shape of a register's drawer session,
// keyed by register and business day.
type DrawerSnapshot struct {
	RegisterID          string             `json:"registerId"`
	BusinessDay         string             `json:"businessDay"`
	State               DrawerState        `json:"state"`
	OpenedAt            *time.Time         `json:"openedAt,omitempty"`
	ClosedAt            *time.Time         `json:"closedAt,omitempty"`
	OpeningFloat        int64              `json:"openingFloat"`
	CurrentCashBalance  int64              `json:"currentCashBalance"`
	CumulativeCashSales int64              `json:"cumulativeCashSales"`
	CumulativeCardSales int64              `json:"cumulativeCardSales"`
	CumulativeSales     int64              `json:"cumulativeSales"`
	Ledger              []Movement         `json:"ledger"`
	LastClose           *DrawerCloseReport `json:"lastClose,omitempty"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated operator behind a request.
type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for operator credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	RegisterID    string    `json:"register_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CartLineView struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	ProductID    string      `json:"productId,omitempty"`
	AddOnID      string      `json:"addOnId,omitempty"`
	ParentLineID string      `json:"parentLineId,omitempty"`
	Name         string      `json:"name"`
	Category     string      `json:"category,omitempty"`
	Variant      SizeVariant `json:"variant,omitempty"`
	Quantity     int         `json:"quantity"`
	BasePrice    int64       `json:"basePrice"`
	UnitPrice    int64       `json:"unitPrice"`
	Subtotal     int64       `json:"subtotal"`
}

type StockShortfall struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	InCart    int    `json:"inCart"`
	Available int    `json:"available"`
}

type CartResponse struct {
	RegisterID    string           `json:"registerId"`
	Lines         []CartLineView   `json:"lines"`
	Total         int64            `json:"total"`
	ItemCount     int              `json:"itemCount"`
	CustomerID    *string          `json:"customerId"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	Submission    string           `json:"submission"`
	Warnings      []string         `json:"warnings,omitempty"`
	Shortfalls    []StockShortfall `json:"shortfalls,omitempty"`
}

type CartAddRequest struct {
	ProductID string      `json:"productId"`
	Variant   SizeVariant `json:"variant,omitempty"`
}

type CartLineUpdateRequest struct {
	Quantity *int         `json:"quantity,omitempty"`
	Variant  *SizeVariant `json:"variant,omitempty"`
}

type CartAddOnRequest struct {
	AddOnID string `json:"addOnId"`
}

type CartDetailsRequest struct {
	CustomerID    *string        `json:"customerId,omitempty"`
	PaymentMethod *PaymentMethod `json:"paymentMethod,omitempty"`
}

type CheckoutRequest struct {
	CustomerID    *string       `json:"customerId,omitempty"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	Observations  string        `json:"observations"`
}

type CheckoutResponse struct {
	SaleID         string           `json:"saleId"`
	Status         string           `json:"status"`
	Total          int64            `json:"total"`
	PaymentMethod  PaymentMethod    `json:"paymentMethod"`
	LineCount      int              `json:"lineCount"`
	DrawerCredited bool             `json:"drawerCredited"`
	Warnings       []string         `json:"warnings,omitempty"`
	Shortfalls     []StockShortfall `json:"shortfalls,omitempty"`
}

type AddOnListResponse struct {
	AddOns   []AddOn `json:"addOns"`
	Degraded bool    `json:"degraded"`
}

type DrawerOpenRequest struct {
	OpeningFloat int64 `json:"openingFloat"`
}

type DrawerAdjustmentRequest struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

type DrawerResponse struct {
	Drawer DrawerSnapshot `json:"drawer"`
}

type DrawerCloseResponse struct {
	Report DrawerCloseReport `json:"report"`
	Drawer DrawerSnapshot    `json:"drawer"`
}

const (
	LineKindProduct = "product"
	LineKindAddOn   = "addOn"
)
