package job

import "ucm-sync/internal/config"

//nolint:mnd
const (
	defaultPageSize  = 500
	defaultChunkSize = 1000
)

type Options struct {
	PageSize  int
	ChunkSize int
	Retry     RetryPolicy
}

func OptionsFromConfig(cfg config.Sync) Options {
	return Options{
		PageSize:  cfg.PageSize,
		ChunkSize: cfg.UpsertChunkSize,
		Retry:     RetryPolicyFromConfig(cfg.Retry),
	}
}

// WithDefaults fills unset sizes and guarantees at least one attempt.
func (o Options) WithDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry.MaxAttempts = 1
	}
	return o
}
