// Package axl talks to the Cisco UCM administrative XML (AXL) SOAP API.
package axl

import (
	"context"

	"ucm-sync/internal/models"
)

type ListRequest struct {
	Target     models.SyncTarget
	EntityType models.EntityType
	// PageToken is empty for the first page and the previous page's
	// NextPageToken afterwards.
	PageToken string
	PageSize  int
}

type Page struct {
	Records []models.RawRecord
	// NextPageToken is empty on the last page.
	NextPageToken string
}

// Client is what the sync engine needs from a UCM node. Errors are either
// transient (IsTransient) or fatal.
type Client interface {
	// Ping checks that the target answers and accepts its credentials.
	Ping(ctx context.Context, target models.SyncTarget) error
	List(ctx context.Context, req ListRequest) (*Page, error)
	Get(ctx context.Context, target models.SyncTarget, entityType models.EntityType, id string) (models.RawRecord, error)
}
