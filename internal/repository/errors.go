package repository

import (
	"errors"
)

var (
	ErrHistoryNotFound     = errors.New("sync history not found")
	ErrSyncHistoryOpen     = errors.New("an open sync history already exists for target")
	ErrDatabaseUnavailable = errors.New("database is unavailable")
	ErrDatabaseGeneric     = errors.New("database error occurred while processing request")
	ErrInvalidRecords      = errors.New("invalid entity records provided for upsert")
)
