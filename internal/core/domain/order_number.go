package domain

import (
	"fmt"
	"regexp"
	"time"
)

// MaxOrderSequence is the largest per-month sequence an order number can hold.
const MaxOrderSequence = 999999

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{4}-(0[1-9]|1[0-2])-\d{6}$`)

// OrderNumber has the form ORD-YYYY-MM-NNNNNN.
type OrderNumber string

func NewOrderNumber(t time.Time, seq int64) (OrderNumber, error) {
	if seq < 1 || seq > MaxOrderSequence {
		return "", fmt.Errorf("order sequence %d out of range for %s", seq, SequencePeriod(t))
	}
	t = t.UTC()
	if t.Year() > 9999 {
		return "", fmt.Errorf("order year %d out of range", t.Year())
	}
	return OrderNumber(fmt.Sprintf("ORD-%04d-%02d-%06d", t.Year(), int(t.Month()), seq)), nil
}

func ParseOrderNumber(s string) (OrderNumber, error) {
	if !orderNumberPattern.MatchString(s) {
		return "", NewValidationError("order_number", fmt.Sprintf("%q is not a valid order number", s))
	}
	return OrderNumber(s), nil
}

func (n OrderNumber) String() string { return string(n) }

// SequencePeriod is the key a sequence counter is scoped to.
func SequencePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
