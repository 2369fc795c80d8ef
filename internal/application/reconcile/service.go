// Package reconcile converts aggregator-shaped payloads into canonical
// records with deterministic, idempotent upserts.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/catalog"
	"github.com/wmsync/backend/internal/domain/inventory"
	"github.com/wmsync/backend/internal/domain/shipping"
	"github.com/wmsync/backend/internal/domain/trade"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

// Engine is the reconciliation seam the orchestrator and webhook pipeline
// write through
type Engine interface {
	UpsertOrder(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.Order) (*trade.Order, error)
	UpsertOrders(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.Order) (int, error)
	UpsertProduct(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.Product) (*catalog.Product, error)
	UpsertProducts(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.Product) (int, error)
	UpsertInventoryItem(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.InventoryItem) (*inventory.InventoryItem, error)
	UpsertInventory(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.InventoryItem) (int, error)
	UpsertShipment(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.Shipment) (*shipping.Shipment, error)
	UpsertShipments(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.Shipment) (int, error)
}

// ErrMissingSKU marks inventory payloads that cannot be keyed
var ErrMissingSKU = errors.New("reconcile: inventory payload has no SKU")

// ErrMissingWarehouse marks inventory payloads with no location metadata
var ErrMissingWarehouse = errors.New("reconcile: inventory payload has no warehouse reference")

// Service implements Engine on the canonical repositories
type Service struct {
	orders     trade.Repository
	products   catalog.Repository
	inventory  inventory.Repository
	warehouses inventory.WarehouseRepository
	shipments  shipping.Repository
	logger     *zap.Logger
}

// NewService creates a reconciliation service
func NewService(
	orders trade.Repository,
	products catalog.Repository,
	inventoryRepo inventory.Repository,
	warehouses inventory.WarehouseRepository,
	shipments shipping.Repository,
	logger *zap.Logger,
) *Service {
	return &Service{
		orders:     orders,
		products:   products,
		inventory:  inventoryRepo,
		warehouses: warehouses,
		shipments:  shipments,
		logger:     logger.Named("reconcile"),
	}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// UpsertOrder maps one aggregator order to its canonical record. Status
// mapping, subtotal, fulfillment flags, and backorder detection are all
// computed here so the stored record is a pure function of the payload and
// the inventory snapshot visible right now.
func (s *Service) UpsertOrder(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.Order) (*trade.Order, error) {
	order, err := trade.NewOrder(tenantID, brandID, payload.ID)
	if err != nil {
		return nil, err
	}

	order.OrderNumber = payload.OrderNumber
	order.Status = trade.MapOrderStatus(payload.Status, payload.RawStatus)
	order.RawStatus = payload.RawStatus

	order.Total = decimalOrZero(payload.Total)
	order.Tax = decimalOrZero(payload.Tax)
	order.Shipping = decimalOrZero(payload.Shipping)
	order.ComputeSubtotal()

	order.HasShipments = len(payload.Shipments) > 0
	order.IsFulfilled = order.Status == trade.OrderStatusShipped || order.Status == trade.OrderStatusDelivered
	order.UpdatedRemoteAt = payload.UpdatedAt

	for _, li := range payload.LineItems {
		order.Items = append(order.Items, trade.OrderItem{
			ExternalID: li.ID,
			SKU:        li.SKU,
			Name:       li.ProductName,
			Quantity:   decimalOrZero(li.Quantity),
			UnitPrice:  decimalOrZero(li.UnitPrice),
		})
	}

	if raw, err := json.Marshal(payload); err == nil {
		order.Raw = raw
	}

	s.detectBackorders(ctx, tenantID, brandID, order)

	if err := s.orders.Upsert(ctx, order); err != nil {
		return nil, fmt.Errorf("reconcile: upsert order %s: %w", payload.ID, err)
	}
	return order, nil
}

// UpsertOrders applies a batch, logging and skipping individual failures so
// one bad order never aborts the rest
func (s *Service) UpsertOrders(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.Order) (int, error) {
	applied := 0
	for _, payload := range payloads {
		if _, err := s.UpsertOrder(ctx, tenantID, brandID, payload); err != nil {
			s.logger.Warn("Skipping order payload",
				zap.String("tenant_id", tenantID.String()),
				zap.String("external_id", payload.ID),
				zap.Error(err),
			)
			continue
		}
		applied++
	}
	return applied, nil
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// UpsertProduct maps one aggregator product. SKU falls back to the external
// ID and the name falls through title to a placeholder rather than failing.
func (s *Service) UpsertProduct(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.Product) (*catalog.Product, error) {
	product, err := catalog.New(tenantID, brandID, payload.ID)
	if err != nil {
		return nil, err
	}

	product.SKU = payload.SKU
	if product.SKU == "" {
		product.SKU = payload.ID
	}
	switch {
	case payload.Name != "":
		product.Name = payload.Name
	case payload.Title != "":
		product.Name = payload.Title
	default:
		product.Name = catalog.UnknownProductName
	}
	product.UpdatedRemoteAt = payload.UpdatedAt

	if raw, err := json.Marshal(payload); err == nil {
		product.Raw = raw
	}

	if err := s.products.Upsert(ctx, product); err != nil {
		return nil, fmt.Errorf("reconcile: upsert product %s: %w", payload.ID, err)
	}
	return product, nil
}

// UpsertProducts applies a batch with per-item log-and-continue
func (s *Service) UpsertProducts(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.Product) (int, error) {
	applied := 0
	for _, payload := range payloads {
		if _, err := s.UpsertProduct(ctx, tenantID, brandID, payload); err != nil {
			s.logger.Warn("Skipping product payload",
				zap.String("tenant_id", tenantID.String()),
				zap.String("external_id", payload.ID),
				zap.Error(err),
			)
			continue
		}
		applied++
	}
	return applied, nil
}

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

// UpsertInventoryItem maps one aggregator stock snapshot. A payload without
// a SKU cannot be keyed and is rejected; the warehouse is resolved or
// lazily created from the location metadata.
func (s *Service) UpsertInventoryItem(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.InventoryItem) (*inventory.InventoryItem, error) {
	if payload.SKU == "" {
		return nil, ErrMissingSKU
	}

	warehouseExternalID := payload.WarehouseCustomerID
	warehouseName := ""
	if payload.Warehouse != nil {
		if warehouseExternalID == "" {
			warehouseExternalID = payload.Warehouse.ID
		}
		warehouseName = payload.Warehouse.Name
	}
	if warehouseExternalID == "" {
		return nil, ErrMissingWarehouse
	}

	warehouse, err := s.warehouses.FindOrCreate(ctx, tenantID, warehouseExternalID, warehouseName)
	if err != nil {
		return nil, fmt.Errorf("reconcile: resolve warehouse %s: %w", warehouseExternalID, err)
	}

	item, err := inventory.NewInventoryItem(tenantID, brandID, warehouse.ID, payload.SKU)
	if err != nil {
		return nil, err
	}
	item.ExternalID = payload.ID
	item.OnHand = decimalOrZero(payload.Onhand)
	item.Fulfillable = decimalOrZero(payload.Fulfillable)
	item.Committed = decimalOrZero(payload.Committed)
	item.Unfulfillable = decimalOrZero(payload.Unfulfillable)
	item.Unsellable = decimalOrZero(payload.Unsellable)
	item.AwaitingQty = decimalOrZero(payload.Awaiting)
	item.UpdatedRemoteAt = payload.UpdatedAt

	if err := s.inventory.Upsert(ctx, item); err != nil {
		return nil, fmt.Errorf("reconcile: upsert inventory %s: %w", payload.SKU, err)
	}
	return item, nil
}

// UpsertInventory applies a batch with per-item log-and-continue; items
// without a SKU are skipped and logged, never inserted
func (s *Service) UpsertInventory(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.InventoryItem) (int, error) {
	applied := 0
	for _, payload := range payloads {
		if _, err := s.UpsertInventoryItem(ctx, tenantID, brandID, payload); err != nil {
			s.logger.Warn("Skipping inventory payload",
				zap.String("tenant_id", tenantID.String()),
				zap.String("sku", payload.SKU),
				zap.String("external_id", payload.ID),
				zap.Error(err),
			)
			continue
		}
		applied++
	}
	return applied, nil
}

// ---------------------------------------------------------------------------
// Shipments
// ---------------------------------------------------------------------------

// UpsertShipment maps one aggregator shipment, collapsing multiple packages
// into joined tracking-number and carrier fields
func (s *Service) UpsertShipment(ctx context.Context, tenantID, brandID uuid.UUID, payload trackstar.Shipment) (*shipping.Shipment, error) {
	shipment, err := shipping.NewShipment(tenantID, brandID, payload.ID)
	if err != nil {
		return nil, err
	}

	shipment.OrderExternalID = payload.OrderID
	shipment.Status = payload.Status
	shipment.ShippedAt = payload.ShippedAt
	shipment.UpdatedRemoteAt = payload.UpdatedAt

	trackingNumbers := make([]string, 0, len(payload.Packages))
	carriers := make([]string, 0, len(payload.Packages))
	for _, pkg := range payload.Packages {
		trackingNumbers = append(trackingNumbers, pkg.TrackingNumber)
		carriers = append(carriers, pkg.Carrier)
	}
	shipment.TrackingNumbers = shipping.JoinTracking(trackingNumbers)
	shipment.Carriers = shipping.JoinTracking(carriers)

	if err := s.shipments.Upsert(ctx, shipment); err != nil {
		return nil, fmt.Errorf("reconcile: upsert shipment %s: %w", payload.ID, err)
	}
	return shipment, nil
}

// UpsertShipments applies a batch with per-item log-and-continue
func (s *Service) UpsertShipments(ctx context.Context, tenantID, brandID uuid.UUID, payloads []trackstar.Shipment) (int, error) {
	applied := 0
	for _, payload := range payloads {
		if _, err := s.UpsertShipment(ctx, tenantID, brandID, payload); err != nil {
			s.logger.Warn("Skipping shipment payload",
				zap.String("tenant_id", tenantID.String()),
				zap.String("external_id", payload.ID),
				zap.Error(err),
			)
			continue
		}
		applied++
	}
	return applied, nil
}

// decimalOrZero applies the missing-numeric-falls-back-to-zero rule at the
// mapping boundary
func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

var _ Engine = (*Service)(nil)
