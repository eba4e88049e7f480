package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const (
	maxBodySize = 1 << 20
	dateLayout  = "2006-01-02"
)

// errMalformed marks request bodies and parameters that cannot be parsed.
var errMalformed = errors.New("malformed request")

func malformed(format string, args ...any) error {
	return errors.Wrapf(errMalformed, format, args...)
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeObject reads the request body as a JSON object and calls fn for
// every key. Unknown keys must be skipped by fn.
func decodeObject(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return malformed("read body: %v", err)
	}
	if len(body) == 0 {
		return malformed("request body is required")
	}
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		if errors.Is(err, errMalformed) {
			return err
		}
		return malformed("invalid JSON: %v", err)
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	default:
		return decimal.Zero, malformed("expected a number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, malformed("invalid number %q", raw)
	}
	return v, nil
}

func decodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func decodeOptInt(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeOptStr(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, malformed("invalid time %q", s)
	}
	return t, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed("query parameter %s must be an integer", name)
	}
	return v, nil
}

func queryDecimal(r *http.Request, name string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(r.URL.Query().Get(name))
	if err != nil {
		return decimal.Zero, malformed("query parameter %s must be a decimal", name)
	}
	return v, nil
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Str(v.StringFixed(2))
}

func optMoney(e *jx.Encoder, name string, v decimal.NullDecimal) {
	e.FieldStart(name)
	if !v.Valid {
		e.Null()
		return
	}
	e.Str(v.Decimal.StringFixed(2))
}

func str(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func optStr(e *jx.Encoder, name string, v *string) {
	e.FieldStart(name)
	if v == nil {
		e.Null()
		return
	}
	e.Str(*v)
}

func optInt(e *jx.Encoder, name string, v *int) {
	e.FieldStart(name)
	if v == nil {
		e.Null()
		return
	}
	e.Int(*v)
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func optTime(e *jx.Encoder, name string, t *time.Time, layout string) {
	e.FieldStart(name)
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(layout))
}
