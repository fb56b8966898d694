package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/domain/catalog"
	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/infrastructure/store/mocks"
)

func newTestLedger() (*Ledger, *mocks.MockStore) {
	s := mocks.NewMockStore()
	return NewLedger(s, s.Memory()), s
}

func sampleCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	require.NoError(t, c.AddLine(catalog.Product{
		ID: "p1", Name: "Café", Price: decimal.NewFromInt(10), Cost: decimal.NewFromInt(6), Stock: 10,
	}, 3))
	require.NoError(t, c.AddLine(catalog.Product{
		ID: "p2", Name: "Té", Price: decimal.RequireFromString("2.50"), Cost: decimal.NewFromInt(1), Stock: 10,
	}, 2))
	c.SetDiscount(decimal.NewFromInt(5))
	return c
}

// ============================================
// Customer Info Tests
// ============================================

func TestCustomerInfo_Normalize(t *testing.T) {
	info := CustomerInfo{Name: "   ", Phone: " 555 "}.Normalize()

	assert.Equal(t, DefaultCustomerName, info.Name)
	assert.Equal(t, "555", info.Phone)
	assert.Equal(t, PaymentCash, info.PaymentMethod)
}

func TestCustomerInfo_Validate(t *testing.T) {
	tests := []struct {
		name     string
		info     CustomerInfo
		saleType cart.SaleType
		wantErr  error
	}{
		{name: "local without address", info: CustomerInfo{Name: "Ana"}, saleType: cart.SaleLocal},
		{name: "delivery with address", info: CustomerInfo{Name: "Ana", Address: "Calle 1"}, saleType: cart.SaleDelivery},
		{name: "delivery without address", info: CustomerInfo{Name: "Ana", Address: "  "}, saleType: cart.SaleDelivery, wantErr: ErrAddressRequired},
		{name: "unknown payment method", info: CustomerInfo{PaymentMethod: "cheque"}, saleType: cart.SaleLocal, wantErr: ErrInvalidPaymentMethod},
		{name: "card payment", info: CustomerInfo{PaymentMethod: PaymentCard}, saleType: cart.SaleLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.info.Validate(tt.saleType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrInvalidCustomer)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// ============================================
// NewFromCart Tests
// ============================================

func TestNewFromCart(t *testing.T) {
	c := sampleCart(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	o := NewFromCart(c, CustomerInfo{Name: "Ana", Address: "Calle 1"}.Normalize(), "user-1", now)

	assert.Empty(t, o.ID)
	assert.Len(t, o.Items, 2)
	assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(35)))
	assert.True(t, o.Discount.Equal(decimal.NewFromInt(5)))
	assert.True(t, o.Delivery.IsZero())
	assert.True(t, o.FinalTotal.Equal(decimal.NewFromInt(30)))
	assert.True(t, o.TotalCost.Equal(decimal.NewFromInt(20)))
	assert.True(t, o.Profit().Equal(decimal.NewFromInt(10)))
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, cart.SaleLocal, o.SaleType)
	assert.Empty(t, o.CustomerAddress, "address is only kept for delivery sales")
	assert.Equal(t, "user-1", o.CreatedBy)
	assert.Equal(t, now, o.CreatedAt)
}

func TestNewFromCart_IsolatedFromLaterCartChanges(t *testing.T) {
	c := sampleCart(t)
	o := NewFromCart(c, CustomerInfo{}.Normalize(), "anonymous", time.Now())

	require.NoError(t, c.ChangeQuantity("p1", 5, 10))
	c.Clear()

	require.Len(t, o.Items, 2)
	assert.Equal(t, 3, o.Items[0].Quantity)
}

// ============================================
// Ledger Tests
// ============================================

func TestLedger_AppendAndGet(t *testing.T) {
	ledger, s := newTestLedger()
	ctx := context.Background()

	o := NewFromCart(sampleCart(t), CustomerInfo{}.Normalize(), "user-1", time.Now())
	id, err := ledger.Append(ctx, o)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, s.AppendCalls, 1)
	assert.Equal(t, Collection, s.AppendCalls[0].Collection)

	got, err := ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, DefaultCustomerName, got.CustomerName)
	assert.True(t, got.FinalTotal.Equal(o.FinalTotal))
	assert.Len(t, got.Items, 2)
}

func TestLedger_Append_StoreError(t *testing.T) {
	ledger, s := newTestLedger()
	s.AppendErr = store.ErrUnavailable

	_, err := ledger.Append(context.Background(), Order{})

	assert.ErrorIs(t, err, store.ErrUnavailable)
	orders, err := ledger.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestLedger_Get_NotFound(t *testing.T) {
	ledger, _ := newTestLedger()

	_, err := ledger.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = ledger.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestLedger_Get_StoreError(t *testing.T) {
	ledger, s := newTestLedger()
	s.ReadErr = store.ErrUnavailable

	_, err := ledger.Get(context.Background(), "any")
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestLedger_ListAll_NewestFirst(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		id, err := ledger.Append(ctx, Order{CustomerName: name, Status: StatusCompleted})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	orders, err := ledger.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "third", orders[0].CustomerName)
	assert.Equal(t, ids[2], orders[0].ID)
	assert.Equal(t, "first", orders[2].CustomerName)
}

func TestLedger_Watch(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := ledger.Watch(ctx)
	require.NoError(t, err)
	assert.Empty(t, <-ch)

	_, err = ledger.Append(ctx, Order{CustomerName: "Ana"})
	require.NoError(t, err)

	select {
	case orders := <-ch:
		require.Len(t, orders, 1)
		assert.Equal(t, "Ana", orders[0].CustomerName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ledger update")
	}

	cancel()
	for range ch {
	}
}

func TestLedger_Watch_Unsupported(t *testing.T) {
	ledger := NewLedger(mocks.NewMockStore(), nil)

	_, err := ledger.Watch(context.Background())
	assert.ErrorIs(t, err, store.ErrWatchUnsupported)
}
