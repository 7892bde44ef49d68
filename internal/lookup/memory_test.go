package lookup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/storeward/tenant-edge/internal/core"
)

func TestMemoryCache_Expiry(t *testing.T) {
	m := newMemoryCache()
	info := &core.TenantInfo{TenantID: uuid.New(), Slug: "acme", Status: core.TenantActive}

	m.Set("acme.example.com", info, 10*time.Millisecond)

	got, negative, ok := m.Get("acme.example.com")
	assert.True(t, ok)
	assert.False(t, negative)
	assert.Equal(t, info, got)

	time.Sleep(20 * time.Millisecond)

	_, _, ok = m.Get("acme.example.com")
	assert.False(t, ok)
}

func TestMemoryCache_Negative(t *testing.T) {
	m := newMemoryCache()
	m.SetNegative("bogus.example.com", time.Minute)

	got, negative, ok := m.Get("bogus.example.com")
	assert.True(t, ok)
	assert.True(t, negative)
	assert.Nil(t, got)
}

func TestMemoryCache_RemoveAbsent(t *testing.T) {
	m := newMemoryCache()
	m.Remove("missing")
	m.Remove("missing")
}
