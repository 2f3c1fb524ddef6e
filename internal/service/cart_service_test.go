package service

import (
	"context"
	"errors"
	"testing"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service/servicetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCartFixture() (*CartService, *servicetest.Store, *servicetest.Redis) {
	st := servicetest.NewStore()
	r := servicetest.NewRedis()
	return NewCartService(st, r), st, r
}

func TestCartAdd_MergesBySummation(t *testing.T) {
	svc, st, _ := newCartFixture()
	ctx := context.Background()
	st.PutProduct(1, "Collar", 100, 10)

	require.NoError(t, svc.Add(ctx, "buyer-1", 1, 2))
	require.NoError(t, svc.Add(ctx, "buyer-1", 1, 3))

	assert.Equal(t, map[int64]int{1: 5}, st.Cart("buyer-1"))
}

func TestCartAdd_Validation(t *testing.T) {
	svc, st, r := newCartFixture()
	ctx := context.Background()
	st.PutProduct(1, "Collar", 100, 10)
	st.PutProduct(2, "Sold out", 100, 0)
	st.PutProduct(3, "Mirrored stock", 100, 0)
	require.NoError(t, r.InitInventory(ctx, models.StockLevel{ProductID: 3, Available: 4, Version: 9}))

	tests := []struct {
		name      string
		productID int64
		qty       int
		wantErr   error
	}{
		{name: "zero quantity", productID: 1, qty: 0, wantErr: ErrInvalidQuantity},
		{name: "negative quantity", productID: 1, qty: -2, wantErr: ErrInvalidQuantity},
		{name: "unknown product", productID: 42, qty: 1, wantErr: ErrProductNotFound},
		{name: "database says sold out", productID: 2, qty: 1, wantErr: ErrOutOfStock},
		{name: "mirror says in stock, database sold out", productID: 3, qty: 1, wantErr: ErrOutOfStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Add(ctx, "buyer-1", tt.productID, tt.qty)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, st.Cart("buyer-1"))
}

func TestCartAdd_RestockedAfterMirroredZero(t *testing.T) {
	svc, st, r := newCartFixture()
	ctx := context.Background()
	st.PutProduct(1, "Collar", 100, 0)
	require.NoError(t, r.InitInventory(ctx, models.StockLevel{ProductID: 1, Available: 0, Version: 0}))

	assert.ErrorIs(t, svc.Add(ctx, "buyer-1", 1, 1), ErrOutOfStock)

	st.Restock(1, 5)
	require.NoError(t, svc.Add(ctx, "buyer-1", 1, 1))
	assert.Equal(t, map[int64]int{1: 1}, st.Cart("buyer-1"))

	level, ok := r.Level(1)
	require.True(t, ok)
	assert.Equal(t, models.StockLevel{ProductID: 1, Available: 5, Version: 1}, level)
}

func TestCartAdd_MirrorErrorFallsBackToDatabase(t *testing.T) {
	svc, st, r := newCartFixture()
	st.PutProduct(1, "Collar", 100, 10)
	r.ReadErr = errors.New("redis down")

	require.NoError(t, svc.Add(context.Background(), "buyer-1", 1, 1))
	assert.Equal(t, map[int64]int{1: 1}, st.Cart("buyer-1"))
}

func TestCartSetQuantity(t *testing.T) {
	svc, st, _ := newCartFixture()
	ctx := context.Background()
	st.PutProduct(1, "Collar", 100, 10)
	require.NoError(t, svc.Add(ctx, "buyer-1", 1, 2))

	require.NoError(t, svc.SetQuantity(ctx, "buyer-1", 1, 7))
	assert.Equal(t, map[int64]int{1: 7}, st.Cart("buyer-1"))

	assert.ErrorIs(t, svc.SetQuantity(ctx, "buyer-1", 1, 0), ErrInvalidQuantity)
	assert.Equal(t, map[int64]int{1: 7}, st.Cart("buyer-1"))

	// absent entry is a no-op, not an insert
	require.NoError(t, svc.SetQuantity(ctx, "buyer-1", 2, 3))
	assert.Equal(t, map[int64]int{1: 7}, st.Cart("buyer-1"))
}

func TestCartRemove(t *testing.T) {
	svc, st, _ := newCartFixture()
	ctx := context.Background()
	st.PutProduct(1, "Collar", 100, 10)
	require.NoError(t, svc.Add(ctx, "buyer-1", 1, 2))

	require.NoError(t, svc.Remove(ctx, "buyer-1", 1))
	require.NoError(t, svc.Remove(ctx, "buyer-1", 1))
	require.NoError(t, svc.Remove(ctx, "nobody", 1))
	assert.Empty(t, st.Cart("buyer-1"))
}

func TestCartGet_FiltersDeletedProducts(t *testing.T) {
	svc, st, _ := newCartFixture()
	ctx := context.Background()
	st.PutProduct(1, "Collar", 100, 10)
	st.PutProduct(2, "Leash", 50, 10)
	require.NoError(t, svc.Add(ctx, "buyer-1", 1, 2))
	require.NoError(t, svc.Add(ctx, "buyer-1", 2, 1))
	st.DeleteProduct(2)

	cart, err := svc.Get(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(1), cart.Items[0].ProductID)
	assert.Equal(t, int64(200), cart.Total)

	// the read does not mutate storage
	assert.Equal(t, map[int64]int{1: 2, 2: 1}, st.Cart("buyer-1"))
}

func TestCartGet_MissingCartIsEmpty(t *testing.T) {
	svc, _, _ := newCartFixture()

	cart, err := svc.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Total)
}
