package audit

import "time"

// Event is one recorded redaction call. Events carry counters only, never
// payload text.
type Event struct {
	ID              int64     `db:"id" json:"id"`
	OccurredAt      time.Time `db:"occurred_at" json:"occurred_at"`
	Operation       string    `db:"operation" json:"operation"` // redact, redact_bulk, stream
	ClientIP        string    `db:"client_ip" json:"client_ip"`
	RequestID       string    `db:"request_id" json:"request_id"`
	LinesProcessed  int64     `db:"lines_processed" json:"lines_processed"`
	LinesModified   int64     `db:"lines_modified" json:"lines_modified"`
	PatternsMatched int64     `db:"patterns_matched" json:"patterns_matched"`
	BytesProcessed  int64     `db:"bytes_processed" json:"bytes_processed"`
	DurationMs      float64   `db:"duration_ms" json:"duration_ms"`
}

// Summary aggregates everything recorded so far.
type Summary struct {
	TotalEvents   int64 `db:"total_events" json:"total_events"`
	TotalLines    int64 `db:"total_lines" json:"total_lines"`
	TotalModified int64 `db:"total_modified" json:"total_modified"`
	TotalMatched  int64 `db:"total_matched" json:"total_matched"`
	TotalBytes    int64 `db:"total_bytes" json:"total_bytes"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"errors,omitempty"`
}

// Config contains audit database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	FlushInterval   time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
	BufferSize      int           `yaml:"buffer_size" mapstructure:"buffer_size"`
}
