package promptspec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	EncodingUTF8    = "utf-8"
	EncodingUTF16LE = "utf-16le"
	EncodingUTF16BE = "utf-16be"

	textDelimiter = " ¥"
	maxLineSize   = 1 << 20
)

var ratioPattern = regexp.MustCompile(`∆\{([^}]+)\}•(\d+)∆`)

// Parser reads spec files line by line
type Parser struct {
	encoding string
	logger   *slog.Logger
}

// NewParser creates a parser for the given file encoding ("" means utf-8)
func NewParser(encoding string, logger *slog.Logger) (*Parser, error) {
	switch encoding {
	case "":
		encoding = EncodingUTF8
	case EncodingUTF8, EncodingUTF16LE, EncodingUTF16BE:
	default:
		return nil, fmt.Errorf("unsupported spec encoding %q (want %s, %s or %s)", encoding, EncodingUTF8, EncodingUTF16LE, EncodingUTF16BE)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Parser{encoding: encoding, logger: logger}, nil
}

// Parse reads the whole spec file. Malformed lines are collected and logged,
// never returned as an error; only a missing file or an I/O failure is fatal.
func (p *Parser) Parse(ctx context.Context, path string) (*Result, error) {
	if err := ValidateSpecPath(path); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spec file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(p.decoder(file))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	result := &Result{}
	units := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.LinesRead++
		lineNo := result.LinesRead

		entry, err := ParseLine(scanner.Text(), lineNo)
		if err != nil {
			var malformed *MalformedLineError
			if !errors.As(err, &malformed) {
				return nil, err
			}
			result.Malformed = append(result.Malformed, malformed)
			p.logger.Warn("skipping malformed spec line",
				"line", lineNo,
				"reason", string(malformed.Reason),
				"detail", malformed.Reason.describe(),
				"text", truncate(malformed.Line, 120))
			continue
		}
		if entry == nil {
			continue
		}

		if n := entry.Units(); n > MaxBatchUnits-units {
			malformed := &MalformedLineError{LineNumber: lineNo, Line: strings.TrimSpace(scanner.Text()), Reason: ReasonBadCount,
				Err: fmt.Errorf("%w: file would expand past %d", ErrTooManyUnits, MaxBatchUnits)}
			result.Malformed = append(result.Malformed, malformed)
			p.logger.Warn("skipping spec line over the unit limit",
				"line", lineNo, "units", n, "alreadyQueued", units, "limit", MaxBatchUnits)
			continue
		}
		units += entry.Units()

		for _, r := range entry.Ratios {
			if r.Count == 0 {
				p.logger.Debug("ratio with zero count", "line", lineNo, "jobType", r.JobType)
			}
		}
		result.Entries = append(result.Entries, *entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("spec read error at line %d: %w", result.LinesRead+1, err)
	}

	return result, nil
}

// ParseLine parses a single spec line. It returns (nil, nil) for lines that
// are not bracketed, and a *MalformedLineError for bracketed lines that do not
// follow the grammar.
func ParseLine(raw string, lineNo int) (*RunEntry, error) {
	line := strings.TrimSpace(raw)
	if len(line) < 2 || !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
		return nil, nil
	}

	content := line[1 : len(line)-1]
	parts := strings.Split(content, textDelimiter)
	if len(parts) != 2 {
		return nil, &MalformedLineError{LineNumber: lineNo, Line: line, Reason: ReasonDelimiter}
	}

	workflowPart, textPart := parts[0], parts[1]

	matches := ratioPattern.FindAllStringSubmatch(workflowPart, -1)
	if len(matches) == 0 {
		return nil, &MalformedLineError{LineNumber: lineNo, Line: line, Reason: ReasonNoWorkflow}
	}

	ratios := make([]RatioSpec, 0, len(matches))
	units := 0
	for _, m := range matches {
		count, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, &MalformedLineError{LineNumber: lineNo, Line: line, Reason: ReasonBadCount, Err: err}
		}
		if count > MaxBatchUnits-units {
			return nil, &MalformedLineError{LineNumber: lineNo, Line: line, Reason: ReasonBadCount,
				Err: fmt.Errorf("%w: line expands past %d", ErrTooManyUnits, MaxBatchUnits)}
		}
		units += count
		ratios = append(ratios, RatioSpec{
			JobType: strings.TrimSpace(m[1]),
			Count:   count,
		})
	}

	text := strings.TrimSpace(textPart)
	text = strings.TrimSpace(strings.TrimRight(text, "¥"))
	if text == "" {
		return nil, &MalformedLineError{LineNumber: lineNo, Line: line, Reason: ReasonEmptyText}
	}

	return &RunEntry{
		Text:       text,
		Ratios:     ratios,
		LineNumber: lineNo,
	}, nil
}

// decoder wraps the file with the configured charset decoder.
// A leading BOM always wins over the configured encoding.
func (p *Parser) decoder(r io.Reader) io.Reader {
	var fallback transform.Transformer
	switch p.encoding {
	case EncodingUTF16LE:
		fallback = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case EncodingUTF16BE:
		fallback = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	default:
		fallback = unicode.UTF8.NewDecoder()
	}
	return transform.NewReader(r, unicode.BOMOverride(fallback))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
