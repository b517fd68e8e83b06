// Package ingest parses 15-minute dispensation files into raw window aggregates.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the YYYYMMDDHHMMSS layout used by header and data records.
const TimestampLayout = "20060102150405"

// Record type prefixes.
const (
	recordHeader = "01"
	recordData   = "02"
)

// Admin codes carried by data records.
const (
	AdminProvision             = 1
	AdminDispensed             = 2
	AdminDispensedBeforeRefill = 3
	AdminDispensedAfterRefill  = 4
	AdminBalance               = 5
	AdminAudit                 = 6
	AdminRecycled              = 8
	AdminRecycledBeforeRefill  = 9
	AdminRecycledAfterRefill   = 10
)

// IsDispensation reports whether an admin code describes cash dispensed.
// Only these records feed the scoring engine.
func IsDispensation(code int) bool {
	return code == AdminDispensed || code == AdminDispensedBeforeRefill || code == AdminDispensedAfterRefill
}

// Header is the leading 01 record of a window file.
type Header struct {
	SentAt        time.Time
	ExpectedCount int
}

// Record is one dispensation data record.
type Record struct {
	TerminalCode string
	AdminCode    int
	Amount       float64
	Timestamp    time.Time
	// Notes maps denomination to note count.
	Notes map[int]int
}

// File is the parsed content of one window file.
type File struct {
	Header    Header
	Records   []Record
	Discarded int // well-formed records with a non-dispensation admin code
	Malformed int // records that could not be parsed
}

// Parser reads window files. Malformed records are skipped and counted.
type Parser struct {
	location *time.Location
	logger   *slog.Logger
}

// NewParser creates a parser interpreting timestamps in loc (UTC when nil).
func NewParser(loc *time.Location, logger *slog.Logger) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{location: loc, logger: logger}
}

// Parse reads a complete window file.
// Only a missing or unreadable header is an error; bad data lines are skipped.
func (p *Parser) Parse(r io.Reader) (*File, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	out := &File{}
	lineNo := 0
	headerSeen := false

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		if !headerSeen {
			h, err := p.parseHeader(fields)
			if err != nil {
				return nil, fmt.Errorf("failed to parse header: %w", err)
			}
			out.Header = h
			headerSeen = true
			continue
		}

		rec, err := p.parseRecord(fields)
		if err != nil {
			out.Malformed++
			p.logger.Debug("skipping malformed record", "line", lineNo, "error", err)
			continue
		}
		if !IsDispensation(rec.AdminCode) {
			out.Discarded++
			continue
		}
		out.Records = append(out.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read window file: %w", err)
	}
	if !headerSeen {
		return nil, fmt.Errorf("failed to parse header: empty file")
	}

	if out.Malformed > 0 {
		p.logger.Warn("window file contained malformed records",
			"malformed", out.Malformed,
			"kept", len(out.Records),
		)
	}
	return out, nil
}

func (p *Parser) parseHeader(fields []string) (Header, error) {
	if len(fields) < 3 || fields[0] != recordHeader {
		return Header{}, fmt.Errorf("expected 01,<timestamp>,<count>")
	}
	sentAt, err := time.ParseInLocation(TimestampLayout, fields[1], p.location)
	if err != nil {
		return Header{}, fmt.Errorf("invalid header timestamp %q: %w", fields[1], err)
	}
	count, err := strconv.Atoi(fields[2])
	if err != nil {
		return Header{}, fmt.Errorf("invalid header count %q: %w", fields[2], err)
	}
	return Header{SentAt: sentAt, ExpectedCount: count}, nil
}

func (p *Parser) parseRecord(fields []string) (Record, error) {
	if len(fields) < 5 {
		return Record{}, fmt.Errorf("expected at least 5 fields, got %d", len(fields))
	}
	if fields[0] != recordData {
		return Record{}, fmt.Errorf("unexpected record type %q", fields[0])
	}
	if fields[1] == "" {
		return Record{}, fmt.Errorf("empty terminal code")
	}
	admin, err := strconv.Atoi(fields[2])
	if err != nil {
		return Record{}, fmt.Errorf("invalid admin code %q", fields[2])
	}
	amount, err := strconv.ParseFloat(fields[3], 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return Record{}, fmt.Errorf("invalid amount %q", fields[3])
	}
	ts, err := time.ParseInLocation(TimestampLayout, fields[4], p.location)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp %q", fields[4])
	}

	notes := make(map[int]int)
	for i := 5; i+1 < len(fields); i += 2 {
		qty, err := strconv.Atoi(fields[i])
		if err != nil {
			return Record{}, fmt.Errorf("invalid note count %q", fields[i])
		}
		denom, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return Record{}, fmt.Errorf("invalid denomination %q", fields[i+1])
		}
		notes[denom] += qty
	}

	return Record{
		TerminalCode: fields[1],
		AdminCode:    admin,
		Amount:       amount,
		Timestamp:    ts,
		Notes:        notes,
	}, nil
}
