// Package connect manages the connection lifecycle: the link-token flow,
// the auth-code exchange, and authenticated outbound order mutations.
package connect

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/domain/connection"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
)

var (
	ErrMissingAuthCode    = errors.New("connect: auth code is required")
	ErrConnectionNotFound = errors.New("connect: connection not found")
)

// Linker is the aggregator surface for connection establishment and
// outbound mutations
type Linker interface {
	CreateLinkToken(ctx context.Context) (*trackstar.LinkTokenResponse, error)
	ExchangeAuthCode(ctx context.Context, req trackstar.ExchangeRequest) (*trackstar.ExchangeResponse, error)
	UpdateOrder(ctx context.Context, accessToken, orderID string, update trackstar.OrderUpdate, idempotencyKey string) error
	CancelOrder(ctx context.Context, accessToken, orderID string, idempotencyKey string) error
	AddOrderNote(ctx context.Context, accessToken, orderID, note string, idempotencyKey string) error
}

// SyncScheduler kicks off the post-exchange sync work
type SyncScheduler interface {
	ScheduleInitialSync(conn *connection.Connection) error
	ScheduleDelayedBackfill(conn *connection.Connection) error
}

// Service implements the connection lifecycle
type Service struct {
	client      Linker
	connections connection.Repository
	scheduler   SyncScheduler
	logger      *zap.Logger
}

// NewService creates a connect service
func NewService(client Linker, connections connection.Repository, scheduler SyncScheduler, logger *zap.Logger) *Service {
	return &Service{
		client:      client,
		connections: connections,
		scheduler:   scheduler,
		logger:      logger.Named("connect"),
	}
}

// CreateLinkToken requests a short-lived token the frontend embeds in the
// aggregator's link widget
func (s *Service) CreateLinkToken(ctx context.Context) (*trackstar.LinkTokenResponse, error) {
	return s.client.CreateLinkToken(ctx)
}

// Exchange trades the auth code produced by the link widget for a
// per-connection access token, persists the connection as ACTIVE, and
// schedules the initial sync plus the delayed full backfill. Re-linking an
// existing tenant/provider pair rotates the credential in place.
func (s *Service) Exchange(ctx context.Context, tenantID, brandID uuid.UUID, authCode string) (*connection.Connection, error) {
	if authCode == "" {
		return nil, ErrMissingAuthCode
	}

	resp, err := s.client.ExchangeAuthCode(ctx, trackstar.ExchangeRequest{
		AuthCode:   authCode,
		CustomerID: tenantID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect: exchange auth code: %w", err)
	}

	conn, err := s.connections.FindByTenantAndProvider(ctx, tenantID, resp.IntegrationName)
	switch {
	case err == nil:
		conn.ExternalID = resp.ConnectionID
		conn.AccessToken = resp.AccessToken
		conn.AvailableActions = resp.AvailableActions
		conn.Activate()
		s.logger.Info("Re-linked existing connection",
			zap.String("tenant_id", tenantID.String()),
			zap.String("provider", resp.IntegrationName),
			zap.String("connection_id", conn.ID.String()),
		)
	case errors.Is(err, shared.ErrNotFound):
		conn, err = connection.New(tenantID, brandID, resp.IntegrationName, resp.ConnectionID, resp.AccessToken)
		if err != nil {
			return nil, err
		}
		conn.IntegrationName = resp.IntegrationName
		conn.AvailableActions = resp.AvailableActions
		conn.Activate()
	default:
		return nil, fmt.Errorf("connect: lookup connection: %w", err)
	}

	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, fmt.Errorf("connect: save connection: %w", err)
	}

	if err := s.scheduler.ScheduleInitialSync(conn); err != nil {
		s.logger.Warn("Failed to schedule initial sync",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
	}
	if err := s.scheduler.ScheduleDelayedBackfill(conn); err != nil {
		s.logger.Warn("Failed to schedule delayed backfill",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("Connection established",
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider", resp.IntegrationName),
		zap.String("external_id", resp.ConnectionID),
	)
	return conn, nil
}

// ---------------------------------------------------------------------------
// Outbound mutations
// ---------------------------------------------------------------------------

// UpdateOrder pushes an order update through the aggregator
func (s *Service) UpdateOrder(ctx context.Context, tenantID, connectionID uuid.UUID, orderID string, update trackstar.OrderUpdate) error {
	conn, err := s.activeConnection(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}
	return s.client.UpdateOrder(ctx, conn.AccessToken, orderID, update, uuid.NewString())
}

// CancelOrder cancels an order through the aggregator
func (s *Service) CancelOrder(ctx context.Context, tenantID, connectionID uuid.UUID, orderID string) error {
	conn, err := s.activeConnection(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}
	return s.client.CancelOrder(ctx, conn.AccessToken, orderID, uuid.NewString())
}

// AddOrderNote attaches an operator note to an order through the aggregator
func (s *Service) AddOrderNote(ctx context.Context, tenantID, connectionID uuid.UUID, orderID, note string) error {
	conn, err := s.activeConnection(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}
	return s.client.AddOrderNote(ctx, conn.AccessToken, orderID, note, uuid.NewString())
}

func (s *Service) activeConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (*connection.Connection, error) {
	conn, err := s.connections.FindByID(ctx, tenantID, connectionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("connect: load connection: %w", err)
	}
	if !conn.IsActive() {
		return nil, connection.ErrNotActive
	}
	return conn, nil
}
