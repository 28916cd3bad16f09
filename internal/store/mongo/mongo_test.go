package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func TestOrderDocumentUsesClientFieldNames(t *testing.T) {
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:            "ord-1",
		Items:         []domain.OrderLine{{ProductID: "menu-latte", Name: "카페라떼", Price: 4000, Quantity: 2}},
		TotalAmount:   8000,
		FinalAmount:   8000,
		PaymentMethod: domain.PaymentCard,
		Status:        domain.OrderStatusCompleted,
		Timestamp:     at,
		PurchaseTotal: 2800,
		ChangeLogs:    []domain.ChangeLog{{Type: domain.ChangeLogCancel, Reason: "x", UpdatedAt: at, UpdatedBy: "m"}},
	}

	raw, err := bson.Marshal(fromOrder(order))
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "ord-1", m["_id"])
	assert.Contains(t, m, "finalAmount")
	assert.Contains(t, m, "paymentMethod")
	assert.Contains(t, m, "changeLogs")
	assert.NotContains(t, m, "isExpense")

	var back orderDoc
	require.NoError(t, bson.Unmarshal(raw, &back))
	assert.Equal(t, order, back.toDomain())
}

func TestClampedIncrementPipeline(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"p": clampedIncrement(-3)})
	require.NoError(t, err)
	assert.Contains(t, bson.Raw(raw).String(), `"$max"`)
	assert.Contains(t, bson.Raw(raw).String(), `"$remainingStock"`)
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("POSLEDGER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set POSLEDGER_TEST_MONGO_URI (replica set) to run mongo integration test")
	}
	ctx := context.Background()
	s, err := New(ctx, uri, fmt.Sprintf("posledger_it_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestCancelAndAdjustAgainstMongo(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.CreateProduct(ctx, domain.Product{ID: "menu-a", Name: "A", Category: "c", SalesPrice: 1000, RemainingStock: 7, TotalStock: 7})
	require.NoError(t, err)

	rec, err := s.AdjustStock(ctx, domain.InventoryRecord{ProductID: "menu-a", Type: domain.InventoryOut, Reason: domain.ReasonDisposal, Adjustment: -10, Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AfterStock)
	assert.Equal(t, -10, rec.Adjustment)

	_, _, err = s.ResetStock(ctx, "menu-a", 5, domain.InventoryRecord{Reason: domain.ReasonReset, Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, _, err = s.CreateOrder(ctx, domain.Order{
		ID: "ord-1", Items: []domain.OrderLine{{ProductID: "menu-a", Name: "A", Price: 1000, Quantity: 2}},
		TotalAmount: 2000, FinalAmount: 2000, PaymentMethod: domain.PaymentCash, Timestamp: now,
	}, []domain.InventoryRecord{{ProductID: "menu-a", Type: domain.InventoryOut, Reason: domain.ReasonOrder, Adjustment: -2, Timestamp: now}})
	require.NoError(t, err)

	entry := domain.ChangeLog{Type: domain.ChangeLogCancel, UpdatedAt: now, UpdatedBy: "it"}
	_, credits, err := s.CancelOrder(ctx, "ord-1", entry)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, 5, credits[0].AfterStock)

	_, _, err = s.CancelOrder(ctx, "ord-1", entry)
	assert.True(t, errors.Is(err, store.ErrConflict))
}
