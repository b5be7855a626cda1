package etl

import (
	"strings"
	"time"
)

// SanitizedRecord is one redacted line written to the output dataset.
type SanitizedRecord struct {
	Source     string `parquet:"source" json:"source"`
	LineNumber int64  `parquet:"line_number" json:"line_number"`
	Text       string `parquet:"text" json:"text"`
	Matches    int64  `parquet:"matches" json:"matches"`
	Modified   bool   `parquet:"modified" json:"modified"`
}

// ProcessingResult represents the outcome of sanitizing one input, or the
// aggregate when a whole directory is processed.
type ProcessingResult struct {
	Source        string        `json:"source"`
	TotalLines    int64         `json:"total_lines"`
	ModifiedLines int64         `json:"modified_lines"`
	MatchedTotal  int64         `json:"matched_total"`
	SkippedLines  int64         `json:"skipped_lines"`
	Duration      time.Duration `json:"duration"`
	RedactionTime time.Duration `json:"redaction_time"`
	WriteTime     time.Duration `json:"write_time"`
}

// Config contains sanitization pipeline configuration
type Config struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`           // lines per redaction batch
	WorkerCount    int `yaml:"worker_count" mapstructure:"worker_count"`       // concurrent files
	ProgressReport int `yaml:"progress_report" mapstructure:"progress_report"` // lines between progress logs
}

// FileFormat represents supported input formats
type FileFormat string

const (
	// FormatLines treats every raw line as one record (.log, .txt)
	FormatLines FileFormat = "lines"
	// FormatJSONL expects one {"text": ...} object per line (.jsonl, .json)
	FormatJSONL FileFormat = "jsonl"
)

// DetectFileFormat detects the input format from the file extension
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".jsonl"), strings.HasSuffix(filename, ".json"):
		return FormatJSONL
	default:
		return FormatLines
	}
}
