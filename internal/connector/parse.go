package connector

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nonNumeric  = regexp.MustCompile(`[^\d.]`)
	firstNumber = regexp.MustCompile(`(\d+[.,]?\d*)`)
	digitsOnly  = regexp.MustCompile(`\D`)
)

// ParsePrice parses a retailer price string into a value. It tolerates the
// formats seen in the wild: "1 234,56 ₽", "1234.56", "1 234 руб.".
func ParsePrice(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	// Decimal commas become dots before stripping; the "руб." suffix leaves
	// a trailing dot which Trim removes.
	cleaned := strings.ReplaceAll(s, ",", ".")
	cleaned = nonNumeric.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseRating parses a rating string like "4.7" or "4,7 из 5". Ratings
// outside [0, 5] are rejected.
func ParseRating(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	m := firstNumber.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	// One decimal place, matching how retailers display it.
	return float64(int(v*10+0.5)) / 10, true
}

// ParseCount parses a review count string like "1 234 отзыва" or "1234".
func ParseCount(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	cleaned := digitsOnly.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, false
	}
	return v, true
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
