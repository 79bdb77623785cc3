package backup

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/tablelock/store"
)

// DecimalScale is the number of fractional digits a Decimal carries.
const DecimalScale = 4

const decimalFactor = 10000

// Decimal is a fixed-point number stored as an integer scaled by 10^DecimalScale.
type Decimal int64

// ParseDecimal parses a decimal string such as "-12.5". Digits beyond
// DecimalScale must be zero.
func ParseDecimal(s string) (Decimal, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return 0, fmt.Errorf("invalid decimal %q", s)
	}
	r.Mul(r, big.NewRat(decimalFactor, 1))
	if !r.IsInt() {
		return 0, fmt.Errorf("decimal %q has more than %d fractional digits", s, DecimalScale)
	}
	n := r.Num()
	if !n.IsInt64() {
		return 0, fmt.Errorf("decimal %q out of range", s)
	}
	return Decimal(n.Int64()), nil
}

// String formats the decimal with exactly DecimalScale fractional digits.
func (d Decimal) String() string {
	sign := ""
	u := uint64(d)
	if d < 0 {
		sign = "-"
		u = uint64(-d)
	}
	return fmt.Sprintf("%s%d.%0*d", sign, u/decimalFactor, DecimalScale, u%decimalFactor)
}

// Days returns the number of days between the Unix epoch and t's calendar date.
func Days(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// DateOf returns midnight UTC of the day that is days after the Unix epoch.
func DateOf(days int64) time.Time {
	return time.Unix(days*86400, 0).UTC()
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// normalize converts a value scanned into *any to the Go type the codec uses
// for column type t: bool, int32, int64, Decimal, string, []byte or
// time.Time. Drivers disagree on what they return, so every plausible source
// type is accepted.
func normalize(t store.ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && t != store.ColumnBytes {
		v = string(b)
	}
	switch t {
	case store.ColumnBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case store.ColumnInt32:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%d overflows int32", n)
		}
		return int32(n), nil
	case store.ColumnInt64:
		return toInt64(v)
	case store.ColumnDecimal:
		switch x := v.(type) {
		case Decimal:
			return x, nil
		case int64:
			return Decimal(x * decimalFactor), nil
		case float64:
			return Decimal(math.Round(x * decimalFactor)), nil
		case string:
			return ParseDecimal(x)
		}
	case store.ColumnText:
		switch x := v.(type) {
		case string:
			return x, nil
		case int64, float64, bool:
			return fmt.Sprint(x), nil
		}
	case store.ColumnBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	case store.ColumnDate:
		switch x := v.(type) {
		case time.Time:
			return DateOf(Days(x)), nil
		case string:
			for _, layout := range dateLayouts {
				if d, err := time.Parse(layout, x); err == nil {
					return DateOf(Days(d)), nil
				}
			}
			return nil, fmt.Errorf("invalid date %q", x)
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	}
	return 0, fmt.Errorf("cannot use %T as integer", v)
}

// sqlArg converts a codec value to a statement argument. Decimals and dates
// travel as text so that every dialect parses them the same way.
func sqlArg(v any) any {
	switch x := v.(type) {
	case Decimal:
		return x.String()
	case time.Time:
		return x.Format("2006-01-02")
	}
	return v
}
