// Package spot parses classified cluster lines into Spot records.
//
// Two wire shapes are handled. Live announcements:
//
//	DX de W3EX:      28075.6  N9AMI                          1912Z FN20
//
// and rows from a tabular "show/dx" listing:
//
//	24915.0  PU0FDN      16-Jul-2020 1912Z  FM19TM<>HI36SD      <W6YTG>
package spot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dxwatch/dxwatch/internal/types"
)

// ParseError reports a spot line a required field could not be extracted
// from. The offending raw line is carried for logging; the caller drops the
// line and keeps the session alive.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("spot parse failed (%s): %q", e.Reason, e.Line)
}

var timeToken = regexp.MustCompile(`^\d{4}Z$`)

// ParseLive parses a live "DX de" announcement. The spotter call sign sits
// between "DX de" and the colon; after the colon come frequency, DX call,
// free-text comment, a HHMMZ time token and an optional grid square. Cluster
// servers ring the terminal bell on live spots, so BEL bytes are stripped
// first.
func ParseLive(raw string, ts time.Time) (*types.Spot, error) {
	line := strings.ReplaceAll(raw, "\a", "")

	marker := strings.Index(line, "DX de")
	if marker < 0 {
		return nil, &ParseError{Line: raw, Reason: "missing DX de marker"}
	}
	rest := line[marker+len("DX de"):]

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return nil, &ParseError{Line: raw, Reason: "missing spotter delimiter"}
	}
	spotter := strings.TrimSpace(rest[:colon])
	fields := strings.Fields(rest[colon+1:])
	if len(fields) < 2 {
		return nil, &ParseError{Line: raw, Reason: "missing frequency or dx call"}
	}

	freq := fields[0]
	if _, err := strconv.ParseFloat(freq, 64); err != nil {
		return nil, &ParseError{Line: raw, Reason: "frequency not numeric"}
	}
	dx := fields[1]
	if dx == "" || freq == "" {
		return nil, &ParseError{Line: raw, Reason: "missing frequency or dx call"}
	}

	s := &types.Spot{
		ID:           uuid.New(),
		DXStation:    dx,
		FrequencyKHz: freq,
		Spotter:      spotter,
		ReceivedAt:   ts,
	}

	// Everything between the DX call and the time token is comment; one
	// trailing token after the time, if present, is the grid square.
	comment := make([]string, 0, len(fields))
	for i := 2; i < len(fields); i++ {
		if timeToken.MatchString(fields[i]) {
			s.DateTime = fields[i]
			if i+1 < len(fields) {
				s.Grid = fields[i+1]
			}
			break
		}
		comment = append(comment, fields[i])
	}
	s.Comment = strings.Join(comment, " ")
	return s, nil
}

// ParseTabular parses one row of a tabular spot listing. Columns are
// loosely delimited: frequency, DX call, date, time, a grid pair joined by
// "<>", and the spotter call in trailing angle brackets. The column
// boundaries follow the one known sample row; unrecognized trailing tokens
// are kept as comment rather than rejected.
func ParseTabular(raw string, ts time.Time) (*types.Spot, error) {
	fields := strings.Fields(strings.ReplaceAll(raw, "\a", ""))
	if len(fields) < 2 {
		return nil, &ParseError{Line: raw, Reason: "missing frequency or dx call"}
	}

	freq := fields[0]
	if _, err := strconv.ParseFloat(freq, 64); err != nil {
		return nil, &ParseError{Line: raw, Reason: "frequency not numeric"}
	}
	dx := fields[1]

	s := &types.Spot{
		ID:           uuid.New(),
		DXStation:    dx,
		FrequencyKHz: freq,
		ReceivedAt:   ts,
	}

	var dateTime []string
	var comment []string
	for _, tok := range fields[2:] {
		switch {
		case timeToken.MatchString(tok) && len(dateTime) == 1:
			dateTime = append(dateTime, tok)
		case len(dateTime) == 0:
			dateTime = append(dateTime, tok)
		case strings.Contains(tok, "<>"):
			s.Grid = tok
		case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
			s.Spotter = strings.Trim(tok, "<>")
		default:
			comment = append(comment, tok)
		}
	}
	s.DateTime = strings.Join(dateTime, " ")
	s.Comment = strings.Join(comment, " ")
	return s, nil
}
