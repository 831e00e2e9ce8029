package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/cart-service/internal/config"
	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/lookup/lookuptest"
	"github.com/fjod/go_cart/cart-service/internal/pricing"
	"github.com/fjod/go_cart/cart-service/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *CartService
	store   *store.RedisStore
	catalog *lookuptest.MemoryCatalog
	mr      *miniredis.Miniredis
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func cartConfig() config.CartConfig {
	return config.CartConfig{
		MaxItems:           3,
		MaxQuantityPerItem: 10,
		ExpirationDays:     30,
		MinOrderAmount:     decimal.NewFromInt(10),
	}
}

func pricingConfig() config.PricingConfig {
	return config.PricingConfig{
		Currency:              "VND",
		DecimalPlaces:         2,
		TaxRate:               decimal.RequireFromString("0.1"),
		ShippingCost:          decimal.NewFromInt(10),
		FreeShippingThreshold: decimal.NewFromInt(100),
	}
}

func setup(t *testing.T, mutate ...func(*config.CartConfig)) *fixture {
	t.Helper()
	cfg := cartConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return setupWith(t, cfg, nil)
}

func setupWith(t *testing.T, cfg config.CartConfig, promo pricing.Promotion) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.NewRedisStore(client, cfg.Lifetime())
	catalog := lookuptest.NewMemoryCatalog()
	catalog.SetProduct(domain.ProductSnapshot{ID: "sku-1", Name: "Desk Lamp", Price: decimal.RequireFromString("12.50")}, 20)
	catalog.SetProduct(domain.ProductSnapshot{ID: "sku-2", Name: "Notebook", Price: decimal.RequireFromString("3.99")}, 20)
	catalog.SetProduct(domain.ProductSnapshot{ID: "sku-3", Name: "Pen", Price: decimal.RequireFromString("1.25")}, 20)
	catalog.SetProduct(domain.ProductSnapshot{ID: "sku-4", Name: "Chair", Price: decimal.NewFromInt(80)}, 20)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	calc := pricing.NewCalculator(pricingConfig(), promo)
	svc := NewCartService(st, catalog, catalog, calc, cfg, WithClock(clock.Now), WithFanOut(4))

	return &fixture{svc: svc, store: st, catalog: catalog, mr: mr, clock: clock}
}

func TestAddToCart_ThenGet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	view, err := f.svc.AddToCart(ctx, "u1", "sku-1", 2)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)

	got, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	item := got.Items[0]
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, item.TotalPrice.Equal(decimal.NewFromInt(25)))
	assert.True(t, item.IsAvailable)
	assert.Equal(t, 20, item.AvailableQuantity)
	assert.Equal(t, "Desk Lamp", item.Product.Name)
	assert.Equal(t, 2, got.TotalItems)

	// 25 subtotal + 10 shipping + 2.5 tax
	assert.True(t, got.Pricing.Total.Equal(decimal.RequireFromString("37.5")))
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), got.ExpiresAt)
}

func TestGetCart_Absent(t *testing.T) {
	f := setup(t)

	view, err := f.svc.GetCart(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestAddToCart_RejectsOutOfRangeQuantity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 15)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuantityLimitExceeded)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, "Maximum quantity per item is 10", err.Error())

	_, err = f.svc.AddToCart(ctx, "u1", "sku-1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.store.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound, "store must be unchanged")
	_, inventoryCalls := f.catalog.Calls()
	assert.Zero(t, inventoryCalls)
}

func TestAddToCart_SumsExistingQuantity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 3)
	require.NoError(t, err)
	view, err := f.svc.AddToCart(ctx, "u1", "sku-1", 4)
	require.NoError(t, err)

	require.Len(t, view.Items, 1)
	assert.Equal(t, 7, view.Items[0].Quantity)
}

func TestAddToCart_ExistingExceedsCap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 8)
	require.NoError(t, err)

	_, err = f.svc.AddToCart(ctx, "u1", "sku-1", 3)
	require.ErrorIs(t, err, domain.ErrQuantityLimitExceeded)
	assert.Equal(t, "You already have 8 in cart. Maximum quantity per item is 10", err.Error())

	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.Items[0].Quantity)
}

func TestAddToCart_ExistingExceedsInventory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.catalog.SetStock("sku-1", 6)

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 4)
	require.NoError(t, err)

	_, err = f.svc.AddToCart(ctx, "u1", "sku-1", 3)
	var avail *domain.AvailabilityError
	require.ErrorAs(t, err, &avail)
	assert.Equal(t, "You already have 4 in cart. Only 2 more can be added (6 total available).", err.Error())
	assert.Equal(t, 6, avail.AvailableQuantity)
}

func TestAddToCart_InsufficientStock(t *testing.T) {
	f := setup(t)
	f.catalog.SetStock("sku-2", 2)

	_, err := f.svc.AddToCart(context.Background(), "u1", "sku-2", 5)
	var avail *domain.AvailabilityError
	require.ErrorAs(t, err, &avail)
	assert.Equal(t, "Only 2 items available. Would you like to add 2 instead?", err.Error())
	assert.Equal(t, 2, avail.SuggestedQuantity())
	require.NotNil(t, avail.Product)
	assert.Equal(t, "Notebook", avail.Product.Name)
	assert.Equal(t, domain.KindAvailability, domain.KindOf(err))
}

func TestAddToCart_OutOfStockSuggestsWishlist(t *testing.T) {
	f := setup(t)
	f.catalog.SetStock("sku-2", 0)

	_, err := f.svc.AddToCart(context.Background(), "u1", "sku-2", 1)
	var avail *domain.AvailabilityError
	require.ErrorAs(t, err, &avail)
	assert.Equal(t, "Notebook is currently out of stock. Add to wishlist to be notified when available.", err.Error())
	assert.True(t, avail.CanAddToWishlist())
}

func TestAddToCart_UnknownProduct(t *testing.T) {
	f := setup(t)

	_, err := f.svc.AddToCart(context.Background(), "u1", "sku-404", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, "Product not found", err.Error())
}

func TestAddToCart_ItemLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, id := range []string{"sku-1", "sku-2", "sku-3"} {
		_, err := f.svc.AddToCart(ctx, "u1", id, 1)
		require.NoError(t, err)
	}

	_, err := f.svc.AddToCart(ctx, "u1", "sku-4", 1)
	require.ErrorIs(t, err, domain.ErrItemLimitExceeded)
	assert.Equal(t, "Maximum 3 items allowed in cart", err.Error())

	// adding more of an existing product is still allowed
	_, err = f.svc.AddToCart(ctx, "u1", "sku-1", 1)
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rec.Items, 3)
}

func TestAddToCart_DependencyFailureAborts(t *testing.T) {
	f := setup(t)
	f.catalog.FailInventory("", lookuptest.ErrInjected)

	_, err := f.svc.AddToCart(context.Background(), "u1", "sku-1", 1)
	require.Error(t, err)
	assert.Equal(t, domain.KindDependency, domain.KindOf(err))
	assert.NotContains(t, err.Error(), "injected")

	_, err = f.store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestUpdateCartItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 2)
	require.NoError(t, err)

	view, err := f.svc.UpdateCartItem(ctx, "u1", "sku-1", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, view.Items[0].Quantity)

	// absolute, not a delta
	f.catalog.SetStock("sku-1", 5)
	_, err = f.svc.UpdateCartItem(ctx, "u1", "sku-1", 6)
	require.ErrorIs(t, err, domain.ErrOutOfStock)
	view, err = f.svc.UpdateCartItem(ctx, "u1", "sku-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, view.Items[0].Quantity)
}

func TestUpdateCartItem_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.UpdateCartItem(ctx, "u1", "sku-1", 2)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	assert.Equal(t, "Cart not found", err.Error())

	_, err = f.svc.AddToCart(ctx, "u1", "sku-1", 2)
	require.NoError(t, err)

	_, err = f.svc.UpdateCartItem(ctx, "u1", "sku-2", 2)
	assert.ErrorIs(t, err, domain.ErrItemNotInCart)

	_, err = f.svc.UpdateCartItem(ctx, "u1", "sku-1", 11)
	assert.ErrorIs(t, err, domain.ErrQuantityLimitExceeded)

	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Items[0].Quantity)
}

func TestUpdateCartItem_ZeroRemoves(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 2)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, "u1", "sku-2", 1)
	require.NoError(t, err)

	view, err := f.svc.UpdateCartItem(ctx, "u1", "sku-1", 0)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "sku-2", view.Items[0].ProductID)
}

func TestRemoveFromCart_LastItemReturnsSentinel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 1)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, "u1", "sku-2", 1)
	require.NoError(t, err)

	view, err := f.svc.RemoveFromCart(ctx, "u1", "sku-1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Len(t, view.Items, 1)

	view, err = f.svc.RemoveFromCart(ctx, "u1", "sku-2")
	require.NoError(t, err)
	assert.Nil(t, view)

	_, err = f.store.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	assert.False(t, f.mr.Exists(store.CartKey("u1")))
}

func TestRemoveFromCart_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.RemoveFromCart(ctx, "u1", "sku-1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = f.svc.AddToCart(ctx, "u1", "sku-1", 1)
	require.NoError(t, err)
	_, err = f.svc.RemoveFromCart(ctx, "u1", "sku-9")
	assert.ErrorIs(t, err, domain.ErrItemNotInCart)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestClearCart_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.ClearCart(ctx, "u1"))
	require.NoError(t, f.svc.ClearCart(ctx, "u1"))

	view, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestGetCartItemCount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	n, err := f.svc.GetCartItemCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.AddToCart(ctx, "u1", "sku-1", 2)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, "u1", "sku-2", 5)
	require.NoError(t, err)

	// served from the store alone
	f.catalog.FailProducts(lookuptest.ErrInjected)
	n, err = f.svc.GetCartItemCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestGetCart_ExpiredCartIsDeleted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 1)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)

	view, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.False(t, f.mr.Exists(store.CartKey("u1")))
}

func TestExpiresAtFixedAtCreation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.AddToCart(ctx, "u1", "sku-1", 1)
	require.NoError(t, err)

	f.clock.Advance(10 * 24 * time.Hour)
	second, err := f.svc.AddToCart(ctx, "u1", "sku-2", 1)
	require.NoError(t, err)

	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestConcurrentAddsDoNotLoseUpdates(t *testing.T) {
	f := setup(t, func(c *config.CartConfig) { c.MaxItems = 10 })
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, "u1", "sku-1", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"sku-2", "sku-3"} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.AddToCart(ctx, "u1", id, 1)
		}()
	}
	wg.Wait()

	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	ok := 1
	for _, e := range errs {
		if e == nil {
			ok++
		} else {
			assert.ErrorIs(t, e, domain.ErrConflict)
		}
	}
	// every acknowledged add is present
	assert.Len(t, rec.Items, ok)
}
