package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
	"github.com/wmsync/backend/tests/testutil"
)

// Two tenants mirror the same provider identifiers; every read must stay
// inside its own tenant.
func TestTenantIsolation_MirrorTables(t *testing.T) {
	engine, tdb := newEngine(t)
	ctx := context.Background()

	tenantA := testutil.NewTestUUID("tenant-a")
	tenantB := testutil.NewTestUUID("tenant-b")
	brandA := testutil.NewTestUUID("brand-a")
	brandB := testutil.NewTestUUID("brand-b")

	for _, tc := range []struct {
		tenantID, brandID uuid.UUID
		total             string
	}{
		{tenantA, brandA, "100"},
		{tenantB, brandB, "200"},
	} {
		_, err := engine.UpsertOrder(ctx, tc.tenantID, tc.brandID, trackstar.Order{
			ID:    "ord-shared",
			Total: decPtr(tc.total),
		})
		require.NoError(t, err)

		_, err = engine.UpsertProduct(ctx, tc.tenantID, tc.brandID, trackstar.Product{
			ID: "prod-shared", SKU: "SKU-SHARED", Name: "Shared SKU",
		})
		require.NoError(t, err)

		_, err = engine.UpsertInventoryItem(ctx, tc.tenantID, tc.brandID,
			inventoryPayload("SKU-SHARED", "wh-shared", "5"))
		require.NoError(t, err)
	}

	// Each tenant sees exactly its own copy.
	orderA, err := tdb.Orders.FindByExternalID(ctx, tenantA, brandA, "ord-shared")
	require.NoError(t, err)
	orderB, err := tdb.Orders.FindByExternalID(ctx, tenantB, brandB, "ord-shared")
	require.NoError(t, err)
	assert.NotEqual(t, orderA.ID, orderB.ID)
	assert.Equal(t, "100", orderA.Total.String())
	assert.Equal(t, "200", orderB.Total.String())

	countA, err := tdb.Orders.CountForTenant(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countA)

	// A tenant cannot read another tenant's rows through any finder.
	_, err = tdb.Orders.FindByExternalID(ctx, tenantA, brandB, "ord-shared")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = tdb.Products.FindByExternalID(ctx, tenantB, brandA, "prod-shared")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// Warehouses are tenant scoped too, so the shared external ID produced
	// two rows.
	whA, err := tdb.Warehouses.FindByExternalID(ctx, tenantA, "wh-shared")
	require.NoError(t, err)
	whB, err := tdb.Warehouses.FindByExternalID(ctx, tenantB, "wh-shared")
	require.NoError(t, err)
	assert.NotEqual(t, whA.ID, whB.ID)
}

func TestTenantIsolation_BackorderLookupsStayScoped(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	tenantA := testutil.NewTestUUID("tenant-a")
	tenantB := testutil.NewTestUUID("tenant-b")
	brand := uuid.Nil

	// Tenant A has plenty of stock; tenant B has none recorded.
	_, err := engine.UpsertInventoryItem(ctx, tenantA, brand, inventoryPayload("SKU-X", "wh-1", "50"))
	require.NoError(t, err)

	orderB, err := engine.UpsertOrder(ctx, tenantB, brand, trackstar.Order{
		ID: "ord-b",
		LineItems: []trackstar.OrderLineItem{
			{ID: "li-1", SKU: "SKU-X", Quantity: decPtr("3")},
		},
	})
	require.NoError(t, err)

	// Tenant A's snapshot must not satisfy tenant B's order; with no
	// snapshot of its own, detection fails open for tenant B.
	assert.False(t, orderB.IsBackordered)

	orderA, err := engine.UpsertOrder(ctx, tenantA, brand, trackstar.Order{
		ID: "ord-a",
		LineItems: []trackstar.OrderLineItem{
			{ID: "li-1", SKU: "SKU-X", Quantity: decPtr("60")},
		},
	})
	require.NoError(t, err)
	assert.True(t, orderA.IsBackordered)
}
