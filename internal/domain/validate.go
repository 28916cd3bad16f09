package domain

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid marks every validation failure raised before a mutation is attempted.
var ErrInvalid = errors.New("invalid request")

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalid.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate runs struct tag validation and converts failures into a *ValidationError.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt", "gte", "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "email":
		return "must be a valid email"
	case "ne":
		return "must not be " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

func invalid(field string, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func NewCategory(id string, req CategoryCreateRequest, at time.Time) (Category, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := Validate(req); err != nil {
		return Category{}, err
	}
	return Category{ID: id, Name: req.Name, Enabled: true, CreatedAt: at}, nil
}

func NewProduct(id string, req ProductCreateRequest, at time.Time) (Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if err := Validate(req); err != nil {
		return Product{}, err
	}
	return Product{
		ID:             id,
		Name:           req.Name,
		Category:       req.Category,
		PurchasePrice:  req.PurchasePrice,
		SalesPrice:     req.SalesPrice,
		RemainingStock: req.Stock,
		TotalStock:     req.Stock,
		CreatedAt:      at,
	}, nil
}

// NewAdjustment validates a manual stock change and returns the record to
// append. AfterStock is filled in by the store once the delta is applied.
func NewAdjustment(id string, product Product, req AdjustmentRequest, at time.Time) (InventoryRecord, error) {
	req.Mode = strings.ToLower(strings.TrimSpace(req.Mode))
	req.Reason = strings.TrimSpace(req.Reason)
	if err := Validate(req); err != nil {
		return InventoryRecord{}, err
	}
	record := InventoryRecord{
		ID:          id,
		ProductID:   product.ID,
		ProductName: product.Name,
		Type:        InventoryIn,
		Reason:      req.Reason,
		Adjustment:  req.Amount,
		Timestamp:   at,
	}
	if req.Mode == AdjustSubtract {
		record.Type = InventoryOut
		record.Adjustment = -req.Amount
	}
	return record, nil
}

func IsSalePaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentCredit:
		return true
	default:
		return false
	}
}

var paymentAliases = map[string]string{
	"현금":   PaymentCash,
	"카드":   PaymentCard,
	"계좌이체": PaymentTransfer,
	"외상":   PaymentCredit,
	"지출":   PaymentExpense,
}

// NormalizePaymentMethod lower-cases the method and maps the Korean labels
// used by the register UI onto the canonical codes.
func NormalizePaymentMethod(method string) string {
	method = strings.TrimSpace(method)
	if mapped, ok := paymentAliases[method]; ok {
		return mapped
	}
	return strings.ToLower(method)
}

func ValidatePaymentMethod(method string) error {
	if !IsSalePaymentMethod(method) {
		return invalid("payment_method", "must be one of cash card transfer credit")
	}
	return nil
}

func IsRole(role string) bool {
	return role == RoleMaster || role == RoleManager || role == RoleCasher
}
