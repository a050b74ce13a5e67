// Package reference derives the payment code a customer must put in the
// free-text memo of a bank transfer, and extracts it back out of inbound
// transaction memos. The code is an 8-character base36 token computed from the
// order's creation date and daily sequence, so it is unique for as long as
// order numbers are.
package reference

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Marker prefixes the code in transfer memos, e.g. "PAY09X2K4QJ".
const Marker = "PAY"

const codeLen = 8

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	memoPattern        = regexp.MustCompile(`PAY([0-9A-Z]{8})`)
	orderNumberPattern = regexp.MustCompile(`^ORD-(\d{8})-(\d{5})$`)
)

// dayBase spreads the date component far enough apart that two same-day
// sequences can never collide across days. Holds only while the daily
// sequence stays below dayBase; the order-number allocator enforces that cap.
const dayBase = 100000

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// FromOrderNumber derives the payment code for an order number of the form
// ORD-YYYYMMDD-NNNNN.
func FromOrderNumber(orderNumber string) (string, error) {
	m := orderNumberPattern.FindStringSubmatch(orderNumber)
	if m == nil {
		return "", fmt.Errorf("malformed order number %q", orderNumber)
	}

	day, err := time.Parse("20060102", m[1])
	if err != nil {
		return "", fmt.Errorf("malformed order number date %q: %w", m[1], err)
	}
	seq, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed order number sequence %q: %w", m[2], err)
	}

	days := int64(day.Sub(epoch).Hours() / 24)
	if days < 0 {
		return "", fmt.Errorf("order number date %q predates the epoch", m[1])
	}

	return encode(days*dayBase + seq), nil
}

// Memo formats the full memo token including the marker.
func Memo(code string) string {
	return Marker + code
}

// FromMemo extracts the payment code from a free-text transfer memo. Matching
// is case-insensitive and tolerant of surrounding text; the first token wins.
func FromMemo(memo string) (string, bool) {
	m := memoPattern.FindStringSubmatch(strings.ToUpper(memo))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func encode(n int64) string {
	buf := [codeLen]byte{}
	for i := codeLen - 1; i >= 0; i-- {
		buf[i] = digits[n%36]
		n /= 36
	}
	return string(buf[:])
}
