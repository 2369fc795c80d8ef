package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/catalog"
	"github.com/wmsync/backend/internal/domain/inventory"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/shipping"
	"github.com/wmsync/backend/internal/domain/trade"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeOrderRepo struct {
	saved []*trade.Order
}

func (f *fakeOrderRepo) Upsert(_ context.Context, order *trade.Order) error {
	f.saved = append(f.saved, order)
	return nil
}

func (f *fakeOrderRepo) FindByExternalID(context.Context, uuid.UUID, uuid.UUID, string) (*trade.Order, error) {
	return nil, shared.ErrNotFound
}

func (f *fakeOrderRepo) CountForTenant(context.Context, uuid.UUID) (int64, error) {
	return int64(len(f.saved)), nil
}

type fakeProductRepo struct {
	saved []*catalog.Product
}

func (f *fakeProductRepo) Upsert(_ context.Context, product *catalog.Product) error {
	f.saved = append(f.saved, product)
	return nil
}

func (f *fakeProductRepo) FindByExternalID(context.Context, uuid.UUID, uuid.UUID, string) (*catalog.Product, error) {
	return nil, shared.ErrNotFound
}

func (f *fakeProductRepo) CountForTenant(context.Context, uuid.UUID) (int64, error) {
	return int64(len(f.saved)), nil
}

type fakeInventoryRepo struct {
	saved     []*inventory.InventoryItem
	snapshots map[string]*inventory.InventoryItem
}

func (f *fakeInventoryRepo) Upsert(_ context.Context, item *inventory.InventoryItem) error {
	f.saved = append(f.saved, item)
	return nil
}

func (f *fakeInventoryRepo) FindBySKU(context.Context, uuid.UUID, uuid.UUID, string) ([]inventory.InventoryItem, error) {
	return nil, nil
}

func (f *fakeInventoryRepo) FindLatestBySKU(_ context.Context, _, _ uuid.UUID, sku string) (*inventory.InventoryItem, error) {
	if snapshot, ok := f.snapshots[sku]; ok {
		return snapshot, nil
	}
	return nil, shared.ErrNotFound
}

func (f *fakeInventoryRepo) CountForTenant(context.Context, uuid.UUID) (int64, error) {
	return int64(len(f.saved)), nil
}

type fakeWarehouseRepo struct {
	created map[string]*inventory.Warehouse
}

func (f *fakeWarehouseRepo) FindOrCreate(_ context.Context, tenantID uuid.UUID, externalID, name string) (*inventory.Warehouse, error) {
	if f.created == nil {
		f.created = make(map[string]*inventory.Warehouse)
	}
	if wh, ok := f.created[externalID]; ok {
		return wh, nil
	}
	wh, err := inventory.NewWarehouse(tenantID, externalID, name)
	if err != nil {
		return nil, err
	}
	f.created[externalID] = wh
	return wh, nil
}

func (f *fakeWarehouseRepo) FindByExternalID(context.Context, uuid.UUID, string) (*inventory.Warehouse, error) {
	return nil, shared.ErrNotFound
}

func (f *fakeWarehouseRepo) Save(_ context.Context, wh *inventory.Warehouse) error {
	if f.created == nil {
		f.created = make(map[string]*inventory.Warehouse)
	}
	f.created[wh.ExternalID] = wh
	return nil
}

type fakeShipmentRepo struct {
	saved []*shipping.Shipment
}

func (f *fakeShipmentRepo) Upsert(_ context.Context, shipment *shipping.Shipment) error {
	f.saved = append(f.saved, shipment)
	return nil
}

func (f *fakeShipmentRepo) FindByExternalID(context.Context, uuid.UUID, uuid.UUID, string) (*shipping.Shipment, error) {
	return nil, shared.ErrNotFound
}

func (f *fakeShipmentRepo) FindByOrderExternalID(context.Context, uuid.UUID, uuid.UUID, string) ([]shipping.Shipment, error) {
	return nil, nil
}

func (f *fakeShipmentRepo) CountForTenant(context.Context, uuid.UUID) (int64, error) {
	return int64(len(f.saved)), nil
}

type fixture struct {
	svc        *Service
	orders     *fakeOrderRepo
	products   *fakeProductRepo
	inventory  *fakeInventoryRepo
	warehouses *fakeWarehouseRepo
	shipments  *fakeShipmentRepo
}

func newFixture() *fixture {
	f := &fixture{
		orders:     &fakeOrderRepo{},
		products:   &fakeProductRepo{},
		inventory:  &fakeInventoryRepo{snapshots: map[string]*inventory.InventoryItem{}},
		warehouses: &fakeWarehouseRepo{},
		shipments:  &fakeShipmentRepo{},
	}
	f.svc = NewService(f.orders, f.products, f.inventory, f.warehouses, f.shipments, zap.NewNop())
	return f
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func snapshotWithAvailable(t *testing.T, tenantID, brandID uuid.UUID, sku, available string) *inventory.InventoryItem {
	t.Helper()
	item, err := inventory.NewInventoryItem(tenantID, brandID, uuid.New(), sku)
	require.NoError(t, err)
	item.Fulfillable = decimal.RequireFromString(available)
	return item
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func TestUpsertOrder_MapsStatusAndSubtotal(t *testing.T) {
	f := newFixture()
	tenantID, brandID := uuid.New(), uuid.New()

	order, err := f.svc.UpsertOrder(context.Background(), tenantID, brandID, trackstar.Order{
		ID:          "ord-1",
		OrderNumber: "SO-1001",
		Status:      "open",
		RawStatus:   "allocated",
		Total:       dec("100.00"),
		Tax:         dec("8.00"),
		Shipping:    dec("12.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, trade.OrderStatusProcessing, order.Status, "raw status takes precedence")
	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("80.00")))
	assert.False(t, order.IsFulfilled)
	assert.Len(t, f.orders.saved, 1)
}

func TestUpsertOrder_MissingAmountsFallBackToZero(t *testing.T) {
	f := newFixture()

	order, err := f.svc.UpsertOrder(context.Background(), uuid.New(), uuid.New(), trackstar.Order{
		ID:     "ord-2",
		Status: "shipped",
	})
	require.NoError(t, err)

	assert.True(t, order.Total.IsZero())
	assert.True(t, order.Subtotal.IsZero())
	assert.Equal(t, trade.OrderStatusShipped, order.Status)
	assert.True(t, order.IsFulfilled)
}

func TestUpsertOrder_FlagsInsufficientInventory(t *testing.T) {
	f := newFixture()
	tenantID, brandID := uuid.New(), uuid.New()
	f.inventory.snapshots["SKU-A"] = snapshotWithAvailable(t, tenantID, brandID, "SKU-A", "2")

	order, err := f.svc.UpsertOrder(context.Background(), tenantID, brandID, trackstar.Order{
		ID:     "ord-3",
		Status: "open",
		LineItems: []trackstar.OrderLineItem{
			{ID: "li-1", SKU: "SKU-A", Quantity: dec("5")},
		},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.True(t, item.IsBackordered)
	assert.True(t, item.BackorderQuantity.Equal(decimal.RequireFromString("3")))
	assert.Equal(t, trade.BackorderReasonInsufficient, item.BackorderReason)
	assert.True(t, order.IsBackordered)
	assert.True(t, order.BackorderQuantity.Equal(decimal.RequireFromString("3")))
}

func TestUpsertOrder_FlagsOutOfStock(t *testing.T) {
	f := newFixture()
	tenantID, brandID := uuid.New(), uuid.New()
	f.inventory.snapshots["SKU-B"] = snapshotWithAvailable(t, tenantID, brandID, "SKU-B", "0")

	order, err := f.svc.UpsertOrder(context.Background(), tenantID, brandID, trackstar.Order{
		ID:     "ord-4",
		Status: "open",
		LineItems: []trackstar.OrderLineItem{
			{ID: "li-1", SKU: "SKU-B", Quantity: dec("4")},
		},
	})
	require.NoError(t, err)

	item := order.Items[0]
	assert.True(t, item.IsBackordered)
	assert.Equal(t, trade.BackorderReasonOutOfStock, item.BackorderReason)
	assert.True(t, item.BackorderQuantity.Equal(decimal.RequireFromString("4")))
}

func TestUpsertOrder_NoSnapshotFailsOpen(t *testing.T) {
	f := newFixture()

	order, err := f.svc.UpsertOrder(context.Background(), uuid.New(), uuid.New(), trackstar.Order{
		ID:     "ord-5",
		Status: "open",
		LineItems: []trackstar.OrderLineItem{
			{ID: "li-1", SKU: "SKU-UNSEEN", Quantity: dec("9")},
		},
	})
	require.NoError(t, err)

	assert.False(t, order.Items[0].IsBackordered)
	assert.False(t, order.IsBackordered)
	assert.True(t, order.BackorderQuantity.IsZero())
}

func TestUpsertOrder_SufficientInventoryNotFlagged(t *testing.T) {
	f := newFixture()
	tenantID, brandID := uuid.New(), uuid.New()
	f.inventory.snapshots["SKU-C"] = snapshotWithAvailable(t, tenantID, brandID, "SKU-C", "10")

	order, err := f.svc.UpsertOrder(context.Background(), tenantID, brandID, trackstar.Order{
		ID:     "ord-6",
		Status: "open",
		LineItems: []trackstar.OrderLineItem{
			{ID: "li-1", SKU: "SKU-C", Quantity: dec("10")},
		},
	})
	require.NoError(t, err)
	assert.False(t, order.IsBackordered)
}

func TestUpsertOrders_SkipsBadPayloads(t *testing.T) {
	f := newFixture()

	applied, err := f.svc.UpsertOrders(context.Background(), uuid.New(), uuid.New(), []trackstar.Order{
		{ID: "ord-7", Status: "open"},
		{ID: "", Status: "open"}, // no external ID, skipped
		{ID: "ord-8", Status: "open"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Len(t, f.orders.saved, 2)
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func TestUpsertProduct_Fallbacks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tenantID, brandID := uuid.New(), uuid.New()

	named, err := f.svc.UpsertProduct(ctx, tenantID, brandID, trackstar.Product{
		ID: "prod-1", SKU: "SKU-1", Name: "Widget", Title: "Widget Title",
	})
	require.NoError(t, err)
	assert.Equal(t, "Widget", named.Name)

	titled, err := f.svc.UpsertProduct(ctx, tenantID, brandID, trackstar.Product{
		ID: "prod-2", Title: "Title Only",
	})
	require.NoError(t, err)
	assert.Equal(t, "Title Only", titled.Name)
	assert.Equal(t, "prod-2", titled.SKU, "SKU falls back to external ID")

	bare, err := f.svc.UpsertProduct(ctx, tenantID, brandID, trackstar.Product{ID: "prod-3"})
	require.NoError(t, err)
	assert.Equal(t, catalog.UnknownProductName, bare.Name)
}

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

func TestUpsertInventoryItem_CreatesWarehouseLazily(t *testing.T) {
	f := newFixture()
	tenantID, brandID := uuid.New(), uuid.New()

	item, err := f.svc.UpsertInventoryItem(context.Background(), tenantID, brandID, trackstar.InventoryItem{
		ID:          "inv-1",
		SKU:         "SKU-X",
		Onhand:      dec("12"),
		Fulfillable: dec("9"),
		Warehouse:   &trackstar.Warehouse{ID: "wh-east", Name: "East DC"},
	})
	require.NoError(t, err)

	require.Contains(t, f.warehouses.created, "wh-east")
	assert.Equal(t, f.warehouses.created["wh-east"].ID, item.WarehouseID)
	assert.True(t, item.OnHand.Equal(decimal.RequireFromString("12")))
	assert.True(t, item.Available().Equal(decimal.RequireFromString("9")))
}

func TestUpsertInventoryItem_RequiresSKU(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpsertInventoryItem(context.Background(), uuid.New(), uuid.New(), trackstar.InventoryItem{
		ID:        "inv-2",
		Warehouse: &trackstar.Warehouse{ID: "wh-1"},
	})
	assert.ErrorIs(t, err, ErrMissingSKU)
	assert.Empty(t, f.inventory.saved)
}

func TestUpsertInventory_SkipsMissingSKU(t *testing.T) {
	f := newFixture()

	applied, err := f.svc.UpsertInventory(context.Background(), uuid.New(), uuid.New(), []trackstar.InventoryItem{
		{ID: "inv-3", SKU: "SKU-OK", Warehouse: &trackstar.Warehouse{ID: "wh-1"}},
		{ID: "inv-4", Warehouse: &trackstar.Warehouse{ID: "wh-1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Len(t, f.inventory.saved, 1)
}

// ---------------------------------------------------------------------------
// Shipments
// ---------------------------------------------------------------------------

func TestUpsertShipment_JoinsTracking(t *testing.T) {
	f := newFixture()
	shippedAt := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

	shipment, err := f.svc.UpsertShipment(context.Background(), uuid.New(), uuid.New(), trackstar.Shipment{
		ID:      "ship-1",
		OrderID: "ord-1",
		Status:  "in_transit",
		Packages: []trackstar.Package{
			{TrackingNumber: "1Z111", Carrier: "UPS"},
			{TrackingNumber: "1Z222", Carrier: "UPS"},
			{TrackingNumber: "", Carrier: "FedEx"},
		},
		ShippedAt: &shippedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, "1Z111, 1Z222", shipment.TrackingNumbers)
	assert.Equal(t, "UPS, FedEx", shipment.Carriers)
	assert.Equal(t, "ord-1", shipment.OrderExternalID)
	require.NotNil(t, shipment.ShippedAt)
	assert.True(t, shipment.ShippedAt.Equal(shippedAt))
}
