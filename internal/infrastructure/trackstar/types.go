package trackstar

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Connection establishment
// ---------------------------------------------------------------------------

// LinkTokenResponse is returned by POST /link/token
type LinkTokenResponse struct {
	LinkToken string     `json:"link_token"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// ExchangeRequest is the body of POST /link/exchange
type ExchangeRequest struct {
	AuthCode   string `json:"auth_code"`
	CustomerID string `json:"customer_id"`
}

// ExchangeResponse is returned by POST /link/exchange
type ExchangeResponse struct {
	AccessToken      string   `json:"access_token"`
	ConnectionID     string   `json:"connection_id"`
	IntegrationName  string   `json:"integration_name"`
	AvailableActions []string `json:"available_actions"`
}

// ---------------------------------------------------------------------------
// Resource payloads
// ---------------------------------------------------------------------------

// Order is an aggregator order payload. Numeric and timestamp fields are
// pointers so the mapping layer can distinguish absent from zero.
type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	RawStatus   string `json:"raw_status"`

	Total    *decimal.Decimal `json:"total_price"`
	Tax      *decimal.Decimal `json:"total_tax"`
	Shipping *decimal.Decimal `json:"total_shipping"`

	LineItems []OrderLineItem `json:"line_items"`
	Shipments []Shipment      `json:"shipments"`

	UpdatedAt *time.Time `json:"updated_date"`
}

// OrderLineItem is one line of an aggregator order
type OrderLineItem struct {
	ID          string           `json:"id"`
	SKU         string           `json:"sku"`
	ProductName string           `json:"product_name"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
}

// Product is an aggregator product payload
type Product struct {
	ID        string     `json:"id"`
	SKU       string     `json:"sku"`
	Name      string     `json:"name"`
	Title     string     `json:"title"`
	UpdatedAt *time.Time `json:"updated_date"`
}

// InventoryItem is an aggregator per-location stock snapshot
type InventoryItem struct {
	ID  string `json:"id"`
	SKU string `json:"sku"`

	Onhand        *decimal.Decimal `json:"onhand"`
	Fulfillable   *decimal.Decimal `json:"fulfillable"`
	Committed     *decimal.Decimal `json:"committed"`
	Unfulfillable *decimal.Decimal `json:"unfulfillable"`
	Unsellable    *decimal.Decimal `json:"unsellable"`
	Awaiting      *decimal.Decimal `json:"awaiting"`

	WarehouseCustomerID string     `json:"warehouse_customer_id"`
	Warehouse           *Warehouse `json:"warehouse"`

	UpdatedAt *time.Time `json:"updated_date"`
}

// Warehouse is the location metadata embedded in inventory payloads
type Warehouse struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Address *WarehouseAddress `json:"address"`
}

// WarehouseAddress is the physical address block of a warehouse
type WarehouseAddress struct {
	Address1   string `json:"address1"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"zip_code"`
}

// Shipment is an aggregator shipment payload; one shipment may carry
// multiple packages
type Shipment struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	Status    string     `json:"status"`
	Packages  []Package  `json:"packages"`
	ShippedAt *time.Time `json:"shipped_date"`
	UpdatedAt *time.Time `json:"updated_date"`
}

// Package is one parcel within a shipment
type Package struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

// ---------------------------------------------------------------------------
// Outbound mutations
// ---------------------------------------------------------------------------

// OrderUpdate is the body of PUT /wms/orders/{id}. Only non-nil fields are
// sent.
type OrderUpdate struct {
	Status          *string `json:"status,omitempty"`
	ShippingMethod  *string `json:"shipping_method,omitempty"`
	RequiredShipDate *string `json:"required_ship_date,omitempty"`
}

// OrderNote is the body of POST /wms/orders/{id}/notes
type OrderNote struct {
	Note string `json:"note"`
}

// ---------------------------------------------------------------------------
// Pagination
// ---------------------------------------------------------------------------

// page is the generic list envelope returned by GET /wms/* endpoints
type page struct {
	Data       json.RawMessage `json:"data"`
	NextToken  string          `json:"next_token"`
	TotalCount int             `json:"total_count"`
}

// ListFilters narrows GET /wms/* queries
type ListFilters struct {
	// UpdatedAfter populates updated_date.gte
	UpdatedAfter *time.Time
	// UpdatedBefore populates updated_date.lte
	UpdatedBefore *time.Time
	// Limit is the page size; zero means aggregator default
	Limit int
}

// query renders the filters as URL query values
func (f ListFilters) query() url.Values {
	q := url.Values{}
	if f.UpdatedAfter != nil {
		q.Set("updated_date.gte", f.UpdatedAfter.UTC().Format(time.RFC3339))
	}
	if f.UpdatedBefore != nil {
		q.Set("updated_date.lte", f.UpdatedBefore.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}
