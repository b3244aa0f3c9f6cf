package testbuilder

import (
	"errors"
	"strconv"

	"github.com/stretchr/testify/mock"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/models"
)

var ErrTransientAXL = &axl.TransientError{Err: errors.New("503 service unavailable")}

type detailKey struct {
	entityType models.EntityType
	id         string
}

// AXLMockBuilder prepares a MockAXLClient that serves a fixed set of records
// per entity type. Types that were not configured list as empty.
type AXLMockBuilder struct {
	mockAXL *MockAXLClient

	pingErr           error
	pages             map[models.EntityType][][]models.RawRecord
	listErrors        map[models.EntityType]error
	transientFailures map[models.EntityType]int
	details           map[detailKey]models.RawRecord
	detailErrors      map[detailKey]error
	transientGets     map[detailKey]int
}

func NewAXLMockBuilder() *AXLMockBuilder {
	return &AXLMockBuilder{
		mockAXL:           new(MockAXLClient),
		pages:             make(map[models.EntityType][][]models.RawRecord),
		listErrors:        make(map[models.EntityType]error),
		transientFailures: make(map[models.EntityType]int),
		details:           make(map[detailKey]models.RawRecord),
		detailErrors:      make(map[detailKey]error),
		transientGets:     make(map[detailKey]int),
	}
}

func (b *AXLMockBuilder) WithPingError(err error) *AXLMockBuilder {
	b.pingErr = err
	return b
}

// WithRecords serves records as a single page.
func (b *AXLMockBuilder) WithRecords(entityType models.EntityType, records ...models.RawRecord) *AXLMockBuilder {
	b.pages[entityType] = [][]models.RawRecord{records}
	return b
}

// WithPages serves each slice as one page. Page tokens are "1", "2", ...
func (b *AXLMockBuilder) WithPages(entityType models.EntityType, pages ...[]models.RawRecord) *AXLMockBuilder {
	b.pages[entityType] = pages
	return b
}

// WithListError fails every list call of the type with err.
func (b *AXLMockBuilder) WithListError(entityType models.EntityType, err error) *AXLMockBuilder {
	b.listErrors[entityType] = err
	return b
}

// WithTransientListFailures fails the first n requests of the first page with
// a transient error before serving it.
func (b *AXLMockBuilder) WithTransientListFailures(entityType models.EntityType, n int) *AXLMockBuilder {
	b.transientFailures[entityType] = n
	return b
}

func (b *AXLMockBuilder) WithDetail(entityType models.EntityType, id string, record models.RawRecord) *AXLMockBuilder {
	b.details[detailKey{entityType, id}] = record
	return b
}

func (b *AXLMockBuilder) WithDetailError(entityType models.EntityType, id string, err error) *AXLMockBuilder {
	b.detailErrors[detailKey{entityType, id}] = err
	return b
}

func (b *AXLMockBuilder) WithTransientDetailFailures(entityType models.EntityType, id string, n int) *AXLMockBuilder {
	b.transientGets[detailKey{entityType, id}] = n
	return b
}

// Build registers the expectations. Specific expectations are registered
// before the catch-all ones so testify matches them first.
func (b *AXLMockBuilder) Build() *MockAXLClient {
	b.mockAXL.On(AXLPing, mock.Anything, mock.Anything).Return(b.pingErr).Maybe()

	for entityType, err := range b.listErrors {
		b.mockAXL.On(AXLList, mock.Anything, listRequestFor(entityType, nil)).Return(nil, err).Maybe()
	}

	for entityType, pages := range b.pages {
		if n := b.transientFailures[entityType]; n > 0 {
			first := ""
			b.mockAXL.On(AXLList, mock.Anything, listRequestFor(entityType, &first)).
				Return(nil, ErrTransientAXL).Times(n)
		}
		for i, records := range pages {
			token := pageToken(i)
			next := ""
			if i < len(pages)-1 {
				next = pageToken(i + 1)
			}
			b.mockAXL.On(AXLList, mock.Anything, listRequestFor(entityType, &token)).
				Return(&axl.Page{Records: records, NextPageToken: next}, nil).Maybe()
			b.registerDetails(entityType, records)
		}
	}

	for key, err := range b.detailErrors {
		b.mockAXL.On(AXLGet, mock.Anything, mock.Anything, key.entityType, key.id).Return(nil, err).Maybe()
	}

	b.mockAXL.On(AXLList, mock.Anything, mock.Anything).Return(&axl.Page{}, nil).Maybe()
	return b.mockAXL
}

// registerDetails answers Get for every listed record that carries a uuid,
// with the configured detail or the listed record itself.
func (b *AXLMockBuilder) registerDetails(entityType models.EntityType, records []models.RawRecord) {
	for _, record := range records {
		id, ok := record["uuid"].(string)
		if !ok {
			continue
		}
		key := detailKey{entityType, id}
		if _, failing := b.detailErrors[key]; failing {
			continue
		}
		detail, ok := b.details[key]
		if !ok {
			detail = record
		}
		if n := b.transientGets[key]; n > 0 {
			b.mockAXL.On(AXLGet, mock.Anything, mock.Anything, entityType, id).Return(nil, ErrTransientAXL).Times(n)
		}
		b.mockAXL.On(AXLGet, mock.Anything, mock.Anything, entityType, id).Return(detail, nil).Maybe()
	}
}

func pageToken(i int) string {
	if i == 0 {
		return ""
	}
	return strconv.Itoa(i)
}

// listRequestFor matches list requests of one entity type, and of one page
// token when token is not nil.
func listRequestFor(entityType models.EntityType, token *string) interface{} {
	return mock.MatchedBy(func(req axl.ListRequest) bool {
		if req.EntityType != entityType {
			return false
		}
		return token == nil || req.PageToken == *token
	})
}
