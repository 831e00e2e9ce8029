package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCartRecord_FixesExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewCartRecord("u1", now, 30*24*time.Hour)

	assert.Equal(t, now.Add(30*24*time.Hour), rec.ExpiresAt)
	assert.False(t, rec.IsExpired(now))
	assert.True(t, rec.IsExpired(now.Add(31*24*time.Hour)))
	assert.Empty(t, rec.Items)
	assert.Zero(t, rec.Version)
}

func TestCartRecord_ItemHelpers(t *testing.T) {
	rec := &CartRecord{Items: []CartLineItem{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 3},
	}}

	assert.Equal(t, 1, rec.FindItem("b"))
	assert.Equal(t, -1, rec.FindItem("c"))
	assert.Equal(t, 5, rec.TotalQuantity())
	assert.Equal(t, []string{"a", "b"}, rec.ProductIDs())

	require.True(t, rec.RemoveItem("a"))
	assert.False(t, rec.RemoveItem("a"))
	assert.Len(t, rec.Items, 1)
	assert.Equal(t, "b", rec.Items[0].ProductID)
}

func TestInventoryResult_Satisfies(t *testing.T) {
	r := InventoryResult{Available: true, AvailableQuantity: 3}
	assert.True(t, r.Satisfies(3))
	assert.False(t, r.Satisfies(4))

	r.Error = "timeout"
	assert.False(t, r.Satisfies(1))
}
