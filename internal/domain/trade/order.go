package trade

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wmsync/backend/internal/domain/shared"
)

var (
	ErrInvalidTenantID   = errors.New("trade: invalid tenant ID")
	ErrInvalidExternalID = errors.New("trade: external order ID is required")
)

// ---------------------------------------------------------------------------
// Order Status
// ---------------------------------------------------------------------------

// OrderStatus is the closed internal status enum for canonical orders
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusReturned   OrderStatus = "RETURNED"
)

// IsValid returns true if the status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// statusTable maps aggregator status values to the internal enum. Values not
// present map to PENDING; an unrecognized status is never an error.
var statusTable = map[string]OrderStatus{
	"open":             OrderStatusPending,
	"pending":          OrderStatusPending,
	"on_hold":          OrderStatusPending,
	"backordered":      OrderStatusPending,
	"allocated":        OrderStatusProcessing,
	"picked":           OrderStatusProcessing,
	"packed":           OrderStatusProcessing,
	"processing":       OrderStatusProcessing,
	"partially_filled": OrderStatusProcessing,
	"fulfilled":        OrderStatusShipped,
	"shipped":          OrderStatusShipped,
	"in_transit":       OrderStatusShipped,
	"complete":         OrderStatusDelivered,
	"completed":        OrderStatusDelivered,
	"delivered":        OrderStatusDelivered,
	"cancelled":        OrderStatusCancelled,
	"canceled":         OrderStatusCancelled,
	"returned":         OrderStatusReturned,
	"refunded":         OrderStatusReturned,
}

// MapOrderStatus maps an aggregator (status, raw_status) pair to the
// internal enum. The raw status takes precedence when both are present.
func MapOrderStatus(status, rawStatus string) OrderStatus {
	if rawStatus != "" {
		if mapped, ok := statusTable[rawStatus]; ok {
			return mapped
		}
	}
	if mapped, ok := statusTable[status]; ok {
		return mapped
	}
	return OrderStatusPending
}

// ---------------------------------------------------------------------------
// Backorder
// ---------------------------------------------------------------------------

// BackorderReason explains why a line item was flagged as backordered
type BackorderReason string

const (
	// BackorderReasonOutOfStock indicates zero available inventory for the SKU
	BackorderReasonOutOfStock BackorderReason = "out_of_stock"
	// BackorderReasonInsufficient indicates available inventory below the ordered quantity
	BackorderReasonInsufficient BackorderReason = "insufficient_inventory"
)

// ---------------------------------------------------------------------------
// Order
// ---------------------------------------------------------------------------

// Order is the canonical mirror of an aggregator order, keyed by
// (tenant, brand, external ID). Backorder fields are computed at ingestion
// time from whatever inventory snapshot exists at that moment; they are a
// best-effort signal, not an invariant across time.
type Order struct {
	shared.TenantEntity
	BrandID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_orders_brand_external,priority:2"`
	ExternalID  string    `gorm:"size:128;not null;uniqueIndex:idx_orders_brand_external,priority:3"`
	OrderNumber string    `gorm:"size:128;index"`

	Status    OrderStatus `gorm:"size:16;not null;default:'PENDING';index"`
	RawStatus string      `gorm:"size:64"`

	Total    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Tax      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Shipping decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	// Subtotal is derived: total minus tax minus shipping
	Subtotal decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`

	HasShipments bool `gorm:"not null;default:false"`
	IsFulfilled  bool `gorm:"not null;default:false"`

	// IsBackordered is true when any line item is flagged backordered
	IsBackordered bool `gorm:"not null;default:false"`
	// BackorderQuantity is the total shortfall across all line items
	BackorderQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:ID;constraint:OnDelete:CASCADE"`

	// UpdatedRemoteAt is the aggregator-side update timestamp
	UpdatedRemoteAt *time.Time
	Raw             []byte `gorm:"type:jsonb"`
}

// TableName returns the table name for GORM
func (Order) TableName() string {
	return "orders"
}

// OrderItem is one line of a canonical order
type OrderItem struct {
	shared.BaseEntity
	OrderID    uuid.UUID `gorm:"type:uuid;not null;index"`
	ExternalID string    `gorm:"size:128"`
	SKU        string    `gorm:"size:128;index"`
	Name       string    `gorm:"size:512"`

	Quantity  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`

	IsBackordered     bool            `gorm:"not null;default:false"`
	BackorderQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	BackorderReason   BackorderReason `gorm:"size:32"`
}

// TableName returns the table name for GORM
func (OrderItem) TableName() string {
	return "order_items"
}

// NewOrder creates a canonical order record
func NewOrder(tenantID, brandID uuid.UUID, externalID string) (*Order, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if externalID == "" {
		return nil, ErrInvalidExternalID
	}
	return &Order{
		TenantEntity: shared.NewTenantEntity(tenantID),
		BrandID:      brandID,
		ExternalID:   externalID,
		Status:       OrderStatusPending,
	}, nil
}

// ComputeSubtotal derives the subtotal from total, tax and shipping
func (o *Order) ComputeSubtotal() {
	o.Subtotal = o.Total.Sub(o.Tax).Sub(o.Shipping)
}

// ApplyBackorderTotals rolls line-item backorder flags up to the order
func (o *Order) ApplyBackorderTotals() {
	total := decimal.Zero
	flagged := false
	for _, item := range o.Items {
		if item.IsBackordered {
			flagged = true
			total = total.Add(item.BackorderQuantity)
		}
	}
	o.IsBackordered = flagged
	o.BackorderQuantity = total
}

// Repository defines the persistence interface for orders
type Repository interface {
	// Upsert inserts or updates an order (with items) by its
	// (tenant, brand, external ID) key
	Upsert(ctx context.Context, order *Order) error

	// FindByExternalID finds an order by its upsert key, items included
	FindByExternalID(ctx context.Context, tenantID, brandID uuid.UUID, externalID string) (*Order, error)

	// CountForTenant counts orders for a tenant
	CountForTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
