// Package transcript parses exported chat logs into per-day message groups.
// It is the only package that understands export formats; everything past this
// boundary works with dated message batches.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Message is one parsed transcript line.
type Message struct {
	Sender string
	Text   string
	Time   string // "15:04", empty when the export omits times
	Raw    string
}

// Result groups parsed messages by their "YYYY-MM-DD" date.
type Result struct {
	MessagesByDate map[string][]Message
	TotalLines     int
}

// Dates returns the parsed dates in ascending order.
func (r Result) Dates() []string {
	dates := make([]string, 0, len(r.MessagesByDate))
	for d := range r.MessagesByDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Parser turns an export stream into dated message groups.
type Parser interface {
	Parse(r io.Reader) (Result, error)
}

// Date separator lines. Only dash-prefixed separators are recognized so dates
// quoted inside message text are not mistaken for day boundaries.
var dateSeparators = []*regexp.Regexp{
	// --------------- 2026년 1월 24일 토요일 ---------------
	regexp.MustCompile(`^-{5,}\s*(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`),
	// ----- 2026. 1. 24. -----
	regexp.MustCompile(`^-{5,}\s*(\d{4})\.\s*(\d{1,2})\.\s*(\d{1,2})\.?\s*-*`),
	// ----- 2026-01-24 -----
	regexp.MustCompile(`^-{5,}\s*(\d{4})-(\d{1,2})-(\d{1,2})\s*-*`),
}

// [sender] [오전 9:15] text  /  [sender] [14:30] text
var messageLine = regexp.MustCompile(`^\[(.*?)\]\s*\[(?:(오전|오후)\s*)?(\d{1,2}):(\d{2})\]\s*(.*)$`)

// Old PC exports carry the date on every line: 2026. 1. 24. 오후 2:00, nick : text
var embeddedDateLine = regexp.MustCompile(`^(\d{4})[년.]\s*(\d{1,2})[월.]\s*(\d{1,2})[일.]`)

// LineParser is the reference parser for plain-text exports.
type LineParser struct{}

// Parse reads the stream line by line, switching the current date on
// separator lines and attributing subsequent messages to it. Lines seen
// before any date separator are dropped; unmatched non-empty lines are kept
// with an empty sender so continuation text survives ingestion.
func (LineParser) Parse(r io.Reader) (Result, error) {
	byDate := make(map[string][]Message)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	currentDate := ""
	total := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		total++
		if line == "" {
			continue
		}

		if date, ok := parseDateSeparator(line); ok {
			currentDate = date
			continue
		}
		if date, ok := parseEmbeddedDate(line); ok {
			currentDate = date
		}
		if currentDate == "" {
			continue
		}
		byDate[currentDate] = append(byDate[currentDate], parseMessageLine(line))
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("scanning transcript: %w", err)
	}
	return Result{MessagesByDate: byDate, TotalLines: total}, nil
}

func parseDateSeparator(line string) (string, bool) {
	for _, re := range dateSeparators {
		if m := re.FindStringSubmatch(line); m != nil {
			return normalizeDate(m[1], m[2], m[3]), true
		}
	}
	return "", false
}

func parseEmbeddedDate(line string) (string, bool) {
	if m := embeddedDateLine.FindStringSubmatch(line); m != nil {
		return normalizeDate(m[1], m[2], m[3]), true
	}
	return "", false
}

func normalizeDate(y, m, d string) string {
	return y + "-" + pad2(m) + "-" + pad2(d)
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// ParseLine applies the message-line rules to a single line, for callers
// re-parsing artifact bodies outside a full export stream.
func ParseLine(line string) Message {
	return parseMessageLine(strings.TrimSpace(line))
}

func parseMessageLine(line string) Message {
	m := messageLine.FindStringSubmatch(line)
	if m == nil {
		return Message{Text: line, Raw: line}
	}
	sender, meridiem, hh, mm, text := m[1], m[2], m[3], m[4], m[5]
	hour, _ := strconv.Atoi(hh)
	// 12-hour clock: 오후 2:00 is 14:00, 오전 12:05 is 00:05.
	switch meridiem {
	case "오후":
		if hour != 12 {
			hour += 12
		}
	case "오전":
		if hour == 12 {
			hour = 0
		}
	}
	return Message{
		Sender: sender,
		Text:   text,
		Time:   fmt.Sprintf("%02d:%s", hour, mm),
		Raw:    line,
	}
}

// RoomNameFromFilename derives the room name from an export file name.
// KakaoTalk exports look like "<room>_KakaoTalk_20260124.txt".
func RoomNameFromFilename(name string) string {
	base := name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if i := strings.Index(base, "_KakaoTalk_"); i >= 0 {
		return base[:i]
	}
	return base
}
