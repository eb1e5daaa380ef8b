package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayouts are tried in order when parsing dates from text.
var DateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02.01.2006",
	"2006",
}

// ParseDate parses s with DateLayouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, lay := range DateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseBool accepts the usual loose spellings.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// ToFloat converts numeric cells (and numeric text) to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToInt converts a cell to int64. Floats are truncated toward zero.
func ToInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// FormatCell renders a cell as text. Null renders as "".
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

// Convert converts a non-null cell to kind. Integers convert to dates as
// January 1st of that year.
func Convert(v any, kind Kind) (any, bool) {
	switch kind {
	case String, Category:
		if v == nil {
			return nil, false
		}
		return FormatCell(v), true
	case Int:
		if t, ok := v.(time.Time); ok {
			return int64(t.Year()), true
		}
		return ToInt(v)
	case Float:
		return ToFloat(v)
	case Date:
		switch x := v.(type) {
		case time.Time:
			return x, true
		case int64:
			return time.Date(int(x), time.January, 1, 0, 0, 0, 0, time.UTC), true
		case string:
			return ParseDate(x)
		}
		return nil, false
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			return ParseBool(x)
		case int64:
			return x != 0, true
		}
		return nil, false
	}
	return nil, false
}

// YearOf extracts a calendar year from an Int or Date cell.
func YearOf(v any) (int, bool) {
	switch x := v.(type) {
	case int64:
		return int(x), true
	case int:
		return x, true
	case time.Time:
		return x.Year(), true
	default:
		return 0, false
	}
}
