package utils

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jinzhu/now"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var spanishMonths = map[string]int{
	"enero":      1,
	"febrero":    2,
	"marzo":      3,
	"abril":      4,
	"mayo":       5,
	"junio":      6,
	"julio":      7,
	"agosto":     8,
	"septiembre": 9,
	"setiembre":  9,
	"octubre":    10,
	"noviembre":  11,
	"diciembre":  12,
}

var (
	dayMonthNameYear   = regexp.MustCompile(`^(\d{1,2})\s*[/\-]\s*(\p{L}+)\s*[/\-]\s*(\d{4})$`)
	dayDeMonthDeYear   = regexp.MustCompile(`^(\d{1,2})\s+de\s+(\p{L}+)\s+de\s+(\d{4})$`)
	monthNameYear      = regexp.MustCompile(`^(\p{L}+)\s*[/\-]\s*(\d{4})$`)
	isoDate            = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	dayMonthNumberYear = regexp.MustCompile(`^(\d{1,2})\s*[/\-]\s*(\d{1,3})\s*[/\-]\s*(\d{4})$`)
)

// surrounding braces, straight and typographic quotes, whitespace
const dateTrimSet = " \t\r\n{}\"'“”‘’"

// ParseSpanishDate converts a localized date into YYYY-MM-DD.
//
//	11/febrero/2025, 11-febrero-2025 -> 2025-02-11
//	08 de diciembre de 2025          -> 2025-12-08
//	diciembre/2025                   -> 2025-12-01
//	02/02/2006                       -> 2006-02-02
//	2025-02-11                       -> 2025-02-11
func ParseSpanishDate(input string) (string, bool) {
	cleaned := strings.Trim(strings.ToLower(strings.TrimSpace(input)), dateTrimSet)
	if cleaned == "" {
		return "", false
	}

	if m := dayMonthNameYear.FindStringSubmatch(cleaned); m != nil {
		return dayMonthYear(input, m[1], m[2], m[3])
	}
	if m := dayDeMonthDeYear.FindStringSubmatch(cleaned); m != nil {
		return dayMonthYear(input, m[1], m[2], m[3])
	}
	if m := monthNameYear.FindStringSubmatch(cleaned); m != nil {
		return dayMonthYear(input, "1", m[1], m[2])
	}
	if m := isoDate.FindStringSubmatch(cleaned); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3], true
	}
	if m := dayMonthNumberYear.FindStringSubmatch(cleaned); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			log.Printf("[DATE] Invalid month number %q (input: %q)", m[2], input)
			return "", false
		}
		return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
	}

	log.Printf("[DATE] No pattern matched for input: %q", input)
	return "", false
}

func dayMonthYear(input, dayStr, monthName, year string) (string, bool) {
	month, ok := spanishMonths[stripDiacritics(monthName)]
	if !ok {
		log.Printf("[DATE] Unknown month name %q (input: %q)", monthName, input)
		return "", false
	}
	day, _ := strconv.Atoi(dayStr)
	return fmt.Sprintf("%s-%02d-%02d", year, month, day), true
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return strings.ToLower(out)
}

// Today is the start of the current local day as YYYY-MM-DD.
func Today() string {
	return now.BeginningOfDay().Format("2006-01-02")
}

// NormalizeDate never fails: empty input becomes today, parseable input
// becomes YYYY-MM-DD and anything else is returned unchanged.
func NormalizeDate(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return Today()
	}
	if iso, ok := ParseSpanishDate(raw); ok {
		return iso
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "01/02/2006"} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}
