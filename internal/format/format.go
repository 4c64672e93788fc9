// Package format renders prices and percentages for user-facing messages.
package format

import (
    "math"
    "strings"

    "github.com/shopspring/decimal"
)

const na = "N/A"

// USD formats a dollar amount like "$65,000.5" → "$65,000.50". Precision
// follows magnitude: 2 decimals from $1000, 4 from $1, 6 below, with
// trailing zeros trimmed down to two.
func USD(v float64) string {
    if math.IsNaN(v) || math.IsInf(v, 0) {
        return na
    }
    d := decimal.NewFromFloat(v)
    abs := d.Abs()
    places := int32(6)
    switch {
    case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
        places = 2
    case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
        places = 4
    }

    s := abs.StringFixed(places)
    intPart, frac, _ := strings.Cut(s, ".")
    frac = strings.TrimRight(frac, "0")
    for len(frac) < 2 { frac += "0" }

    sign := ""
    if d.Round(places).IsNegative() { sign = "-" }
    return sign + "$" + group(intPart) + "." + frac
}

// Pct formats a percentage change with an explicit sign, e.g. "+2.50%".
func Pct(v float64) string {
    if math.IsNaN(v) || math.IsInf(v, 0) {
        return na
    }
    sign := ""
    switch {
    case v > 0:
        sign = "+"
    case v < 0:
        sign = "-"
    }
    return sign + decimal.NewFromFloat(v).Abs().StringFixed(2) + "%"
}

// PctPtr is Pct for optional values.
func PctPtr(v *float64) string {
    if v == nil { return na }
    return Pct(*v)
}

// ShortID returns the first eight characters of an id.
func ShortID(id string) string {
    if len(id) <= 8 { return id }
    return id[:8]
}

func group(digits string) string {
    if len(digits) <= 3 { return digits }
    var b strings.Builder
    lead := len(digits) % 3
    if lead > 0 {
        b.WriteString(digits[:lead])
    }
    for i := lead; i < len(digits); i += 3 {
        if b.Len() > 0 { b.WriteByte(',') }
        b.WriteString(digits[i : i+3])
    }
    return b.String()
}
