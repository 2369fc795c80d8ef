// Package integration exercises the sync engine end to end: real
// repositories over a real database, real services, no mocks between them.
// SQLite in shared-cache memory mode stands in for PostgreSQL so the suite
// runs without external infrastructure.
package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wmsync/backend/internal/domain/catalog"
	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/inventory"
	"github.com/wmsync/backend/internal/domain/shipping"
	"github.com/wmsync/backend/internal/domain/trade"
	"github.com/wmsync/backend/internal/domain/webhook"
	"github.com/wmsync/backend/internal/infrastructure/persistence"
)

// TestDB bundles a migrated database with every repository the engine uses.
type TestDB struct {
	DB          *gorm.DB
	Connections *persistence.GormConnectionRepository
	Events      *persistence.GormWebhookEventRepository
	Products    *persistence.GormProductRepository
	Warehouses  *persistence.GormWarehouseRepository
	Inventory   *persistence.GormInventoryRepository
	Orders      *persistence.GormOrderRepository
	Shipments   *persistence.GormShipmentRepository
}

// NewTestDB opens an isolated in-memory database with the full schema and
// all repositories wired over it.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	// A uniquely named shared-cache database keeps GORM's pooled
	// connections on one schema while isolating tests from each other.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err, "open test database")

	require.NoError(t, db.AutoMigrate(
		&connection.Connection{},
		&webhook.Event{},
		&catalog.Product{},
		&inventory.Warehouse{},
		&inventory.InventoryItem{},
		&trade.Order{},
		&trade.OrderItem{},
		&shipping.Shipment{},
	), "migrate test schema")

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return &TestDB{
		DB:          db,
		Connections: persistence.NewGormConnectionRepository(db),
		Events:      persistence.NewGormWebhookEventRepository(db),
		Products:    persistence.NewGormProductRepository(db),
		Warehouses:  persistence.NewGormWarehouseRepository(db),
		Inventory:   persistence.NewGormInventoryRepository(db),
		Orders:      persistence.NewGormOrderRepository(db),
		Shipments:   persistence.NewGormShipmentRepository(db),
	}
}

// SeedConnection persists an active connection for the given tenant.
func (tdb *TestDB) SeedConnection(t *testing.T, tenantID, brandID uuid.UUID, externalID string) *connection.Connection {
	t.Helper()

	conn, err := connection.New(tenantID, brandID, "shiphero", externalID, "at_integration")
	require.NoError(t, err)
	conn.Activate()
	require.NoError(t, tdb.Connections.Save(context.Background(), conn))
	return conn
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
