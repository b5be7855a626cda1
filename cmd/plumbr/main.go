package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/plumbrhq/plumbr/internal/config"
	"github.com/plumbrhq/plumbr/internal/engine"
	"github.com/plumbrhq/plumbr/internal/logger"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

// batchLines is the number of input lines handed to the engine per call.
const batchLines = 4096

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		patternFile = flag.String("patterns", "", "Custom pattern file (name|category|regex|replacement)")
		patternDir  = flag.String("pattern-dir", "", "Directory of .txt pattern files")
		compliance  = flag.String("compliance", "", "Comma-separated compliance profiles (hipaa, pci, gdpr, soc2, all)")
		threads     = flag.Int("threads", 0, "Worker threads for large batches (0 = number of CPUs)")
		noDefaults  = flag.Bool("no-defaults", false, "Start with an empty pattern set")
		quiet       = flag.Bool("quiet", false, "Suppress pattern load warnings")
		showStats   = flag.Bool("stats", false, "Print processing statistics to stderr on exit")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("plumbr %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	engCfg := engine.Config{
		PatternFile: cfg.Engine.PatternFile,
		PatternDir:  cfg.Engine.PatternDir,
		Compliance:  cfg.Engine.Compliance,
		NumThreads:  cfg.Engine.NumThreads,
		Quiet:       cfg.Engine.Quiet,
		NoDefaults:  cfg.Engine.NoDefaults,
	}

	// Flags given on the command line override the configuration file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "patterns":
			engCfg.PatternFile = *patternFile
		case "pattern-dir":
			engCfg.PatternDir = *patternDir
		case "compliance":
			engCfg.Compliance = splitProfiles(*compliance)
		case "threads":
			engCfg.NumThreads = *threads
		case "no-defaults":
			engCfg.NoDefaults = *noDefaults
		case "quiet":
			engCfg.Quiet = *quiet
		}
	})

	// Console logs go to stderr so stdout carries only redacted output.
	log, err := logger.New(logger.Config{Level: "warn", Format: "console", Stderr: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	eng, err := engine.New(engCfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plumbr: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	if stdinIsTerminal() {
		fmt.Fprintln(os.Stderr, "plumbr: reading from terminal; pipe input or press Ctrl-D to finish")
	}

	bytesRead, err := run(eng, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plumbr: %v\n", err)
		os.Exit(1)
	}

	if *showStats {
		printStats(os.Stderr, eng, bytesRead)
	}
}

// run streams stdin through the engine in line batches. The trailing-newline
// state of the final line is preserved on output.
func run(eng *engine.Engine, in io.Reader, out io.Writer) (int64, error) {
	reader := bufio.NewReaderSize(in, 256*1024)
	writer := bufio.NewWriterSize(out, 256*1024)

	var bytesRead int64
	batch := make([]string, 0, batchLines)
	finalNewline := true

	flush := func(last bool) error {
		if len(batch) == 0 {
			return nil
		}
		redacted, err := eng.RedactLines(batch)
		if err != nil {
			return err
		}
		for i, line := range redacted {
			if _, err := writer.WriteString(line); err != nil {
				return err
			}
			if last && i == len(redacted)-1 && !finalNewline {
				continue
			}
			if err := writer.WriteByte('\n'); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			bytesRead += int64(len(line))
			if strings.HasSuffix(line, "\n") {
				batch = append(batch, line[:len(line)-1])
			} else {
				// Last line of the stream, no trailing newline.
				batch = append(batch, line)
				finalNewline = false
			}
			if len(batch) >= batchLines {
				if err := flush(false); err != nil {
					return bytesRead, err
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return bytesRead, fmt.Errorf("read stdin: %w", err)
		}
	}

	if err := flush(true); err != nil {
		return bytesRead, err
	}
	return bytesRead, writer.Flush()
}

func printStats(w io.Writer, eng *engine.Engine, bytesRead int64) {
	st, err := eng.Stats()
	if err != nil {
		return
	}
	patterns, _ := eng.PatternCount()

	mb := float64(bytesRead) / (1024 * 1024)
	pct := 0.0
	if st.LinesProcessed > 0 {
		pct = float64(st.LinesModified) / float64(st.LinesProcessed) * 100
	}
	var linesPerSec, mbPerSec float64
	if st.ElapsedSeconds > 0 {
		linesPerSec = float64(st.LinesProcessed) / st.ElapsedSeconds
		mbPerSec = mb / st.ElapsedSeconds
	}

	fmt.Fprintln(w, "=== Plumbr Statistics ===")
	fmt.Fprintf(w, "Patterns loaded:    %d\n", patterns)
	fmt.Fprintf(w, "Bytes read:         %d (%.2f MB)\n", bytesRead, mb)
	fmt.Fprintf(w, "Lines processed:    %d\n", st.LinesProcessed)
	fmt.Fprintf(w, "Lines modified:     %d (%.1f%%)\n", st.LinesModified, pct)
	fmt.Fprintf(w, "Patterns matched:   %d\n", st.PatternsMatched)
	fmt.Fprintf(w, "Elapsed time:       %.3f seconds\n", st.ElapsedSeconds)
	fmt.Fprintf(w, "Throughput:         %.0f lines/sec\n", linesPerSec)
	fmt.Fprintf(w, "Throughput:         %.2f MB/sec\n", mbPerSec)
	fmt.Fprintln(w, "=========================")
}

func splitProfiles(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "plumbr - sensitive data redaction filter\n\n")
	fmt.Fprintf(os.Stderr, "Reads text from stdin and writes redacted text to stdout.\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [options] < input > output\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  # Redact application logs with the default pattern set\n")
	fmt.Fprintf(os.Stderr, "  cat app.log | plumbr > app.clean.log\n\n")
	fmt.Fprintf(os.Stderr, "  # HIPAA profile plus custom patterns, with statistics\n")
	fmt.Fprintf(os.Stderr, "  plumbr -compliance hipaa -patterns extra.txt -stats < records.txt > clean.txt\n\n")
	fmt.Fprintf(os.Stderr, "  # Only custom patterns, eight workers\n")
	fmt.Fprintf(os.Stderr, "  plumbr -no-defaults -pattern-dir ./patterns -threads 8 < big.log > big.clean.log\n")
}
