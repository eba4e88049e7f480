package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/coupon"
)

// Column order: code,type,value[,min_order,max_discount,usage_limit,per_user_limit,valid_days].
const (
	colCode = iota
	colType
	colValue
	colMinOrder
	colMaxDiscount
	colUsageLimit
	colPerUser
	colValidDays

	requiredCols = colValue + 1
)

const defaultValidDays = 30

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[colCode]), "code")
}

// parseRecord builds a coupon valid from now and checks it with the same
// rules the admin API applies.
func parseRecord(rec []string, now time.Time) (*coupon.Coupon, error) {
	if len(rec) < requiredCols {
		return nil, errors.Errorf("expected at least %d columns, got %d", requiredCols, len(rec))
	}
	field := func(i int) string {
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	typ, err := coupon.ParseDiscountType(field(colType))
	if err != nil {
		return nil, err
	}
	value, err := decimal.NewFromString(field(colValue))
	if err != nil {
		return nil, errors.Wrap(err, "value")
	}
	minOrder, err := optDecimal(field(colMinOrder))
	if err != nil {
		return nil, errors.Wrap(err, "min_order")
	}
	maxDiscount, err := optDecimal(field(colMaxDiscount))
	if err != nil {
		return nil, errors.Wrap(err, "max_discount")
	}
	usageLimit, err := optInt(field(colUsageLimit))
	if err != nil {
		return nil, errors.Wrap(err, "usage_limit")
	}
	perUser, err := optInt(field(colPerUser))
	if err != nil {
		return nil, errors.Wrap(err, "per_user_limit")
	}
	days := defaultValidDays
	if d, err := optInt(field(colValidDays)); err != nil {
		return nil, errors.Wrap(err, "valid_days")
	} else if d != nil {
		days = *d
	}
	if days <= 0 {
		return nil, errors.New("valid_days must be positive")
	}

	c := &coupon.Coupon{
		ID:                uuid.New().String(),
		Code:              coupon.NormalizeCode(field(colCode)),
		DiscountType:      typ,
		DiscountValue:     value,
		MinimumOrderValue: minOrder,
		MaximumDiscount:   maxDiscount,
		UsageLimit:        usageLimit,
		UsageLimitPerUser: perUser,
		ValidFrom:         now,
		ValidUntil:        now.AddDate(0, 0, days),
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := coupon.CheckDefinition(c); err != nil {
		return nil, err
	}
	return c, nil
}

func optDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func optInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// codeIndex answers whether a code already occurred earlier in the run
// without holding every code in memory. Each file gets its own bloom filter;
// the exact code is kept only when a filter says it may occur again, which
// bounds the map by the number of repeats plus false positives.
type codeIndex struct {
	filters []*bloom.BloomFilter
	// selfHits holds codes whose own file filter already matched while the
	// file was indexed: in-file repeats and false positives.
	selfHits []map[string]struct{}
	kept     map[string]struct{}
}

func newCodeIndex(files int, expected uint, fpr float64) *codeIndex {
	x := &codeIndex{
		filters:  make([]*bloom.BloomFilter, files),
		selfHits: make([]map[string]struct{}, files),
		kept:     make(map[string]struct{}),
	}
	for i := range files {
		x.filters[i] = bloom.NewWithEstimates(expected, fpr)
		x.selfHits[i] = make(map[string]struct{})
	}
	return x
}

// Observe indexes a code of file. Calls for different files may run
// concurrently; calls for one file may not.
func (x *codeIndex) Observe(file int, code string) {
	if x.filters[file].TestAndAddString(code) {
		x.selfHits[file][code] = struct{}{}
	}
}

// First reports whether this is the first occurrence of code. Once every
// file is observed, First must be called in file order from one goroutine.
func (x *codeIndex) First(file int, code string) bool {
	if x.seenBefore(file, code) {
		if _, ok := x.kept[code]; ok {
			return false
		}
	}
	if x.mayRecur(file, code) {
		x.kept[code] = struct{}{}
	}
	return true
}

func (x *codeIndex) seenBefore(file int, code string) bool {
	if _, ok := x.selfHits[file][code]; ok {
		return true
	}
	for _, f := range x.filters[:file] {
		if f.TestString(code) {
			return true
		}
	}
	return false
}

func (x *codeIndex) mayRecur(file int, code string) bool {
	if _, ok := x.selfHits[file][code]; ok {
		return true
	}
	for _, f := range x.filters[file+1:] {
		if f.TestString(code) {
			return true
		}
	}
	return false
}

// recordCode returns the normalised code column of rec, or "" if it has none.
func recordCode(rec []string) string {
	if len(rec) <= colCode {
		return ""
	}
	return coupon.NormalizeCode(rec[colCode])
}
