package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plumbrhq/plumbr/internal/engine"
)

// maxLineBytes bounds a single input line; longer lines fail the scan.
const maxLineBytes = 1 << 20

// Pipeline turns raw log files into sanitized parquet datasets.
type Pipeline struct {
	engine *engine.Engine
	config *Config
	logger *zap.Logger
}

// inputLine is one record read from an input file, before redaction.
type inputLine struct {
	number int64
	text   string
}

// NewPipeline creates a sanitization pipeline on top of an engine.
func NewPipeline(eng *engine.Engine, config *Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		engine: eng,
		config: config,
		logger: logger,
	}
}

// ProcessFile sanitizes one input file into a parquet dataset at outputPath.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{Source: filepath.Base(inputPath)}

	format := DetectFileFormat(inputPath)

	p.logger.Info("Sanitizing file",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize))

	in, err := os.Open(inputPath)
	if err != nil {
		return result, fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return result, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	writer := parquet.NewWriter(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	switch format {
	case FormatJSONL:
		err = p.processJSONL(ctx, scanner, writer, result)
	default:
		err = p.processLines(ctx, scanner, writer, result)
	}
	if err != nil {
		return result, err
	}

	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("failed to finalize parquet output: %w", err)
	}

	result.Duration = time.Since(start)

	p.logger.Info("File sanitized",
		zap.String("input", inputPath),
		zap.Int64("lines", result.TotalLines),
		zap.Int64("modified", result.ModifiedLines),
		zap.Int64("matches", result.MatchedTotal),
		zap.Int64("skipped", result.SkippedLines),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// processLines feeds raw lines through the batch loop.
func (p *Pipeline) processLines(ctx context.Context, scanner *bufio.Scanner, writer *parquet.Writer, result *ProcessingResult) error {
	var lineNo int64

	return p.processBatches(ctx, func() ([]inputLine, error) {
		var batch []inputLine
		for len(batch) < p.config.BatchSize && scanner.Scan() {
			lineNo++
			batch = append(batch, inputLine{number: lineNo, text: scanner.Text()})
		}
		return batch, scanner.Err()
	}, writer, result)
}

// processJSONL feeds the text field of line-delimited JSON objects through
// the batch loop. Malformed lines are skipped, not fatal.
func (p *Pipeline) processJSONL(ctx context.Context, scanner *bufio.Scanner, writer *parquet.Writer, result *ProcessingResult) error {
	var lineNo int64

	return p.processBatches(ctx, func() ([]inputLine, error) {
		var batch []inputLine
		for len(batch) < p.config.BatchSize && scanner.Scan() {
			lineNo++

			var rec struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				p.logger.Warn("Skipping malformed JSONL line",
					zap.Int64("line", lineNo),
					zap.Error(err))
				result.SkippedLines++
				continue
			}

			batch = append(batch, inputLine{number: lineNo, text: rec.Text})
		}
		return batch, scanner.Err()
	}, writer, result)
}

// processBatches drains the reader batch by batch until end of input.
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]inputLine, error), writer *parquet.Writer, result *ProcessingResult) error {
	nextReport := int64(p.config.ProgressReport)

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break // End of input
		}

		if err := p.processBatch(batch, writer, result); err != nil {
			return err
		}

		if p.config.ProgressReport > 0 && result.TotalLines >= nextReport {
			p.reportProgress(result)
			nextReport = result.TotalLines + int64(p.config.ProgressReport)
		}
	}

	return nil
}

// processBatch redacts one batch and writes the sanitized rows.
func (p *Pipeline) processBatch(batch []inputLine, writer *parquet.Writer, result *ProcessingResult) error {
	redactStart := time.Now()

	rows := make([]SanitizedRecord, len(batch))
	for i, line := range batch {
		redacted, report, err := p.engine.RedactWithReport(line.text)
		if err != nil {
			return fmt.Errorf("redaction failed: %w", err)
		}

		rows[i] = SanitizedRecord{
			Source:     result.Source,
			LineNumber: line.number,
			Text:       redacted,
			Matches:    int64(report.PatternsMatched),
			Modified:   report.LinesModified > 0,
		}

		result.MatchedTotal += int64(report.PatternsMatched)
		if report.LinesModified > 0 {
			result.ModifiedLines++
		}
	}
	result.RedactionTime += time.Since(redactStart)

	writeStart := time.Now()
	for i := range rows {
		if err := writer.Write(&rows[i]); err != nil {
			return fmt.Errorf("parquet write failed: %w", err)
		}
	}
	result.WriteTime += time.Since(writeStart)

	result.TotalLines += int64(len(batch))
	return nil
}

// ProcessDir sanitizes every eligible file in inputDir into outputDir,
// fanning out across workers. The result aggregates all files.
func (p *Pipeline) ProcessDir(ctx context.Context, inputDir, outputDir string) (*ProcessingResult, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		switch {
		case strings.HasSuffix(entry.Name(), ".log"),
			strings.HasSuffix(entry.Name(), ".txt"),
			strings.HasSuffix(entry.Name(), ".jsonl"),
			strings.HasSuffix(entry.Name(), ".json"):
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no .log, .txt, .json or .jsonl files in %s", inputDir)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	workers := p.config.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	p.logger.Info("Sanitizing directory",
		zap.String("input", inputDir),
		zap.String("output", outputDir),
		zap.Int("files", len(files)),
		zap.Int("workers", workers))

	start := time.Now()
	total := &ProcessingResult{Source: inputDir}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, name := range files {
		g.Go(func() error {
			outName := strings.TrimSuffix(name, filepath.Ext(name)) + ".parquet"
			res, err := p.ProcessFile(ctx, filepath.Join(inputDir, name), filepath.Join(outputDir, outName))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			mu.Lock()
			total.TotalLines += res.TotalLines
			total.ModifiedLines += res.ModifiedLines
			total.MatchedTotal += res.MatchedTotal
			total.SkippedLines += res.SkippedLines
			total.RedactionTime += res.RedactionTime
			total.WriteTime += res.WriteTime
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total, err
	}

	total.Duration = time.Since(start)

	p.logger.Info("Directory sanitized",
		zap.Int("files", len(files)),
		zap.Int64("lines", total.TotalLines),
		zap.Int64("modified", total.ModifiedLines),
		zap.Int64("matches", total.MatchedTotal),
		zap.Duration("duration", total.Duration))

	return total, nil
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.logger.Info("Sanitization progress",
		zap.String("source", result.Source),
		zap.Int64("lines", result.TotalLines),
		zap.Int64("modified", result.ModifiedLines),
		zap.Int64("matches", result.MatchedTotal))
}
