package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/entity"
	"ucm-sync/internal/models"
)

var ErrPaginationLoop = errors.New("list returned a page token that was already visited")

// Pager walks every page of a list operation. Each page is fetched with the
// retry policy and handed to the visitor only once it was returned
// successfully.
type Pager struct {
	client   axl.Client
	pageSize int
	policy   RetryPolicy
	logger   zerolog.Logger
}

func NewPager(client axl.Client, pageSize int, policy RetryPolicy, logger zerolog.Logger) *Pager {
	return &Pager{
		client:   client,
		pageSize: pageSize,
		policy:   policy,
		logger:   logger,
	}
}

// PageStats counts what a walk did, including the pages of a walk that failed
// halfway.
type PageStats struct {
	Pages    int
	Records  int
	Attempts uint
}

func (p *Pager) Walk(
	ctx context.Context,
	target models.SyncTarget,
	d *entity.Descriptor,
	visit func(records []models.RawRecord) error,
) (PageStats, error) {
	var stats PageStats
	visited := make(map[string]bool)
	token := ""
	operation := d.ListOperation
	if !d.Paginated() {
		operation = "executeSQLQuery"
	}

	for {
		request := axl.ListRequest{
			Target:     target,
			EntityType: d.Type,
			PageToken:  token,
			PageSize:   p.pageSize,
		}
		page, attempts, err := Retry(ctx, p.policy, operation, p.logger, func() (*axl.Page, error) {
			return p.client.List(ctx, request)
		})
		stats.Attempts += attempts
		if err != nil {
			return stats, fmt.Errorf("page %d of %s: %w", stats.Pages+1, d.Type, err)
		}

		stats.Pages++
		stats.Records += len(page.Records)
		p.logger.Debug().
			Int("page", stats.Pages).
			Int("records", len(page.Records)).
			Str("next_page_token", page.NextPageToken).
			Msg("Fetched page")

		if err := visit(page.Records); err != nil {
			return stats, err
		}

		if page.NextPageToken == "" {
			return stats, nil
		}
		visited[token] = true
		if visited[page.NextPageToken] {
			return stats, fmt.Errorf("%w: %q", ErrPaginationLoop, page.NextPageToken)
		}
		token = page.NextPageToken
	}
}
