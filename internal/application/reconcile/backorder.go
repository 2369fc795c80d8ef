package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/domain/trade"
)

// detectBackorders flags line items whose ordered quantity exceeds the most
// recent inventory snapshot for their SKU. Detection fails open: a SKU with
// no snapshot, or a lookup error, is never flagged.
func (s *Service) detectBackorders(ctx context.Context, tenantID, brandID uuid.UUID, order *trade.Order) {
	for i := range order.Items {
		item := &order.Items[i]
		if item.SKU == "" || !item.Quantity.IsPositive() {
			continue
		}

		snapshot, err := s.inventory.FindLatestBySKU(ctx, tenantID, brandID, item.SKU)
		if err != nil {
			if !errors.Is(err, shared.ErrNotFound) {
				s.logger.Warn("Inventory lookup failed during backorder detection",
					zap.String("tenant_id", tenantID.String()),
					zap.String("sku", item.SKU),
					zap.Error(err),
				)
			}
			continue
		}

		available := snapshot.Available()
		if available.GreaterThanOrEqual(item.Quantity) {
			continue
		}

		item.IsBackordered = true
		item.BackorderQuantity = item.Quantity.Sub(available)
		if available.IsPositive() {
			item.BackorderReason = trade.BackorderReasonInsufficient
		} else {
			item.BackorderReason = trade.BackorderReasonOutOfStock
		}
	}
	order.ApplyBackorderTotals()
}
