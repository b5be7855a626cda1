package etl

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/engine"
	"github.com/plumbrhq/plumbr/internal/logger"
)

func newTestPipeline(t *testing.T, cfg *Config) *Pipeline {
	t.Helper()

	eng, err := engine.New(engine.Config{Quiet: true}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	if cfg == nil {
		cfg = &Config{BatchSize: 4, WorkerCount: 2}
	}
	return NewPipeline(eng, cfg, zap.NewNop())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func readParquet(t *testing.T, path string) []SanitizedRecord {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open parquet output: %v", err)
	}
	defer f.Close()

	reader := parquet.NewReader(f)
	defer reader.Close()

	var rows []SanitizedRecord
	for {
		var row SanitizedRecord
		if err := reader.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("Parquet read failed: %v", err)
		}
		rows = append(rows, row)
	}
	return rows
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "app.log")
	lines := []string{
		"boot sequence complete",
		"user alice@example.com logged in",
		"GET /status 200",
		"card 4111-1111-1111-1111 declined",
		"shutdown",
	}
	writeFile(t, input, strings.Join(lines, "\n")+"\n")

	output := filepath.Join(dir, "app.parquet")
	p := newTestPipeline(t, nil)

	result, err := p.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", result.TotalLines)
	}
	if result.ModifiedLines != 2 {
		t.Errorf("ModifiedLines = %d, want 2", result.ModifiedLines)
	}
	if result.MatchedTotal < 2 {
		t.Errorf("MatchedTotal = %d, want at least 2", result.MatchedTotal)
	}

	rows := readParquet(t, output)
	if len(rows) != 5 {
		t.Fatalf("Parquet rows = %d, want 5", len(rows))
	}
	for i, row := range rows {
		if row.LineNumber != int64(i+1) {
			t.Errorf("Row %d line number = %d, want %d", i, row.LineNumber, i+1)
		}
		if row.Source != "app.log" {
			t.Errorf("Row %d source = %q, want app.log", i, row.Source)
		}
	}

	if strings.Contains(rows[1].Text, "alice@example.com") {
		t.Errorf("Email survived sanitization: %q", rows[1].Text)
	}
	if !strings.Contains(rows[1].Text, "[REDACTED:email]") {
		t.Errorf("Row 1 missing email marker: %q", rows[1].Text)
	}
	if !rows[1].Modified || rows[1].Matches == 0 {
		t.Errorf("Row 1 flags = modified:%v matches:%d", rows[1].Modified, rows[1].Matches)
	}
	if rows[0].Modified {
		t.Error("Clean row marked modified")
	}
}

func TestProcessFileJSONL(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "events.jsonl")
	content := `{"text":"call 555-123-4567 now"}
not valid json
{"text":"all quiet"}
`
	writeFile(t, input, content)

	p := newTestPipeline(t, nil)
	result, err := p.ProcessFile(context.Background(), input, filepath.Join(dir, "events.parquet"))
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.SkippedLines != 1 {
		t.Errorf("SkippedLines = %d, want 1", result.SkippedLines)
	}
	if result.TotalLines != 2 {
		t.Errorf("TotalLines = %d, want 2", result.TotalLines)
	}
	if result.ModifiedLines != 1 {
		t.Errorf("ModifiedLines = %d, want 1", result.ModifiedLines)
	}
}

func TestProcessFileCancelled(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "app.log")
	writeFile(t, input, "line one\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, nil)
	if _, err := p.ProcessFile(ctx, input, filepath.Join(dir, "out.parquet")); err == nil {
		t.Error("Cancelled context did not stop processing")
	}
}

func TestProcessDir(t *testing.T) {
	inDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")

	writeFile(t, filepath.Join(inDir, "a.log"), "token ghp_"+strings.Repeat("a", 36)+"\n")
	writeFile(t, filepath.Join(inDir, "b.txt"), "fine\nalso fine\n")
	writeFile(t, filepath.Join(inDir, "ignore.md"), "# notes\n")
	writeFile(t, filepath.Join(inDir, ".hidden.log"), "x\n")

	p := newTestPipeline(t, &Config{BatchSize: 8, WorkerCount: 2})
	result, err := p.ProcessDir(context.Background(), inDir, outDir)
	if err != nil {
		t.Fatalf("ProcessDir failed: %v", err)
	}

	if result.TotalLines != 3 {
		t.Errorf("TotalLines = %d, want 3", result.TotalLines)
	}
	if result.ModifiedLines != 1 {
		t.Errorf("ModifiedLines = %d, want 1", result.ModifiedLines)
	}

	for _, name := range []string{"a.parquet", "b.parquet"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("Missing output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "ignore.parquet")); err == nil {
		t.Error("Non-log file was processed")
	}

	t.Run("EmptyDir", func(t *testing.T) {
		if _, err := p.ProcessDir(context.Background(), t.TempDir(), outDir); err == nil {
			t.Error("Empty input directory did not fail")
		}
	})
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		path string
		want FileFormat
	}{
		{"app.log", FormatLines},
		{"notes.txt", FormatLines},
		{"events.jsonl", FormatJSONL},
		{"events.json", FormatJSONL},
		{"noext", FormatLines},
	}

	for _, tt := range tests {
		if got := DetectFileFormat(tt.path); got != tt.want {
			t.Errorf("DetectFileFormat(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
