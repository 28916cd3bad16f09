package domain

import "time"

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	InOrders  bool      `json:"in_orders"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type CategoryUpdateRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=1,max=64"`
	Enabled *bool   `json:"enabled,omitempty"`
}

type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	PurchasePrice  int64     `json:"purchase_price"`
	SalesPrice     int64     `json:"sales_price"`
	RemainingStock int       `json:"remaining_stock"`
	TotalStock     int       `json:"total_stock"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name          string `json:"name" validate:"required,max=128"`
	Category      string `json:"category" validate:"required,max=64"`
	PurchasePrice int64  `json:"purchase_price" validate:"gte=0"`
	SalesPrice    int64  `json:"sales_price" validate:"gte=0"`
	Stock         int    `json:"stock" validate:"gte=0"`
}

// ProductUpdateRequest edits catalog fields. A non-nil Stock resets both
// remaining and total stock to that value.
type ProductUpdateRequest struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	Category      *string `json:"category,omitempty" validate:"omitempty,min=1,max=64"`
	PurchasePrice *int64  `json:"purchase_price,omitempty" validate:"omitempty,gte=0"`
	SalesPrice    *int64  `json:"sales_price,omitempty" validate:"omitempty,gte=0"`
	Stock         *int    `json:"stock,omitempty" validate:"omitempty,gte=0"`
}

type InventoryRecord struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	Adjustment  int       `json:"adjustment"`
	AfterStock  int       `json:"after_stock"`
	OrderID     string    `json:"order_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type InventoryQuery struct {
	ProductID string
	Type      string
	Limit     int
}

type AdjustmentRequest struct {
	Mode   string `json:"mode" validate:"required,oneof=add subtract"`
	Amount int    `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,max=128"`
}

type OrderLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

type ChangeLog struct {
	Type      string    `json:"type"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

type Order struct {
	ID            string      `json:"id"`
	Items         []OrderLine `json:"items"`
	TotalAmount   int64       `json:"total_amount"`
	Discount      int64       `json:"discount"`
	FinalAmount   int64       `json:"final_amount"`
	PaymentMethod string      `json:"payment_method"`
	Status        string      `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
	IsExpense     bool        `json:"is_expense,omitempty"`
	PurchaseTotal int64       `json:"purchase_total,omitempty"`
	Memo          string      `json:"memo,omitempty"`
	ChangeLogs    []ChangeLog `json:"change_logs,omitempty"`
}

type OrderQuery struct {
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
	Limit            int
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

type PaymentMethodRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

type Expense struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

type DraftItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}

type DraftQuantityRequest struct {
	Delta int `json:"delta" validate:"required,ne=0"`
}

type DraftDiscountRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

type DraftExpenseRequest struct {
	Description string `json:"description" validate:"required,max=256"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
}

type SubmitRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type DraftLine struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	UnitPrice     int64  `json:"unit_price"`
	PurchasePrice int64  `json:"purchase_price"`
	Quantity      int    `json:"quantity"`
}

type DraftView struct {
	Lines        []DraftLine `json:"lines"`
	Expenses     []Expense   `json:"expenses"`
	Discount     int64       `json:"discount"`
	Subtotal     int64       `json:"subtotal"`
	Total        int64       `json:"total"`
	ExpenseTotal int64       `json:"expense_total"`
	Notice       string      `json:"notice,omitempty"`
}

type SubmitResponse struct {
	Orders  []Order           `json:"orders"`
	Records []InventoryRecord `json:"records,omitempty"`
	Notice  string            `json:"notice"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Email       string `json:"email"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the signed-in identity passed explicitly into service calls.
type Actor struct {
	Email     string
	Role      string
	SessionID string
}

type UserCreateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=master manager casher"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

type User struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Email     string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleMaster  = "master"
	RoleManager = "manager"
	RoleCasher  = "casher"
)

const (
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

const (
	ChangeLogCancel        = "cancel"
	ChangeLogPaymentMethod = "payment_method_change"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
	PaymentCredit   = "credit"
	PaymentExpense  = "expense"
)

const (
	InventoryIn    = "in"
	InventoryOut   = "out"
	InventoryReset = "reset"
)

const (
	ReasonOrder          = "order"
	ReasonOrderCancelled = "order cancelled"
	ReasonReset          = "reset"
	ReasonDailyReset     = "daily reset"
	ReasonMisentry       = "mis-entry"
	ReasonDisposal       = "disposal"
	ReasonRestock        = "restock"
)

const (
	AdjustAdd      = "add"
	AdjustSubtract = "subtract"
)
