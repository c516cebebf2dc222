package handler

import (
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/order"
)

// maxBodySize limits request bodies.
const maxBodySize = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		d, ok := f.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		return d.InexactFloat64()
	}, decimal.Decimal{})
	return v
}

// decodeError reports a body that is not the expected JSON.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode request: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// fieldError reports a well-formed value of the wrong type.
type fieldError struct {
	field string
	msg   string
}

func (e *fieldError) Error() string { return e.field + " " + e.msg }

// lineItemParams are the attributes of a line_item request object.
type lineItemParams struct {
	VariantID         *int64           `json:"variant_id" validate:"omitempty,gte=0"`
	Quantity          *int             `json:"quantity" validate:"omitempty,lte=2147483647"`
	Price             *decimal.Decimal `json:"price" validate:"omitempty,gte=0,lte=99999999.99"`
	EstimatedShipDate *time.Time       `json:"estimated_ship_date"`
}

// couponParams is the body of apply_coupon_code.
type couponParams struct {
	CouponCode string `json:"coupon_code" validate:"max=255"`
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		return nil, &decodeError{err: err}
	}
	return data, nil
}

// decodeLineItem reads {"line_item": {...}}. Numbers may be sent as JSON
// numbers or numeric strings.
func decodeLineItem(r *http.Request) (lineItemParams, error) {
	var p lineItemParams
	data, err := readBody(r)
	if err != nil {
		return p, err
	}

	found := false
	err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "line_item" {
			return d.Skip()
		}
		found = true
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "variant_id":
				v, err := decodeInt(d, key)
				if err != nil || v == nil {
					return err
				}
				p.VariantID = v
			case "quantity":
				v, err := decodeInt(d, key)
				if err != nil || v == nil {
					return err
				}
				q := int(*v)
				p.Quantity = &q
			case "price":
				v, err := decodeDecimal(d, key)
				if err != nil {
					return err
				}
				p.Price = v
			case "estimated_ship_date":
				v, err := decodeDate(d, key)
				if err != nil {
					return err
				}
				p.EstimatedShipDate = v
			default:
				return d.Skip()
			}
			return nil
		})
	})
	if err := checkDecode(err); err != nil {
		return p, err
	}
	if !found {
		var verr order.ValidationError
		verr.Add("line_item", "can't be blank")
		return p, verr.Err()
	}
	return p, validateStruct(p)
}

// decodeCoupon reads {"coupon_code": "..."}, falling back to the
// coupon_code query parameter.
func decodeCoupon(r *http.Request) (couponParams, error) {
	p := couponParams{CouponCode: r.URL.Query().Get("coupon_code")}
	data, err := readBody(r)
	if err != nil {
		return p, err
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
			if key != "coupon_code" {
				return d.Skip()
			}
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			if err != nil {
				return &fieldError{field: key, msg: "must be a string"}
			}
			p.CouponCode = s
			return nil
		})
		if err := checkDecode(err); err != nil {
			return p, err
		}
	}
	return p, validateStruct(p)
}

// checkDecode turns a decoding failure into a validation or decode error.
func checkDecode(err error) error {
	if err == nil {
		return nil
	}
	var ferr *fieldError
	if errors.As(err, &ferr) {
		var verr order.ValidationError
		verr.Add(ferr.field, ferr.msg)
		return verr.Err()
	}
	return &decodeError{err: err}
}

func decodeInt(d *jx.Decoder, field string) (*int64, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Number:
		v, err := d.Raw()
		if err != nil {
			return nil, err
		}
		raw = v.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		raw = strings.TrimSpace(s)
	default:
		if err := d.Skip(); err != nil {
			return nil, err
		}
		return nil, &fieldError{field: field, msg: "is not a number"}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &fieldError{field: field, msg: "must be an integer"}
	}
	return &v, nil
}

func decodeDecimal(d *jx.Decoder, field string) (*decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Number:
		v, err := d.Raw()
		if err != nil {
			return nil, err
		}
		raw = v.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		raw = strings.TrimSpace(s)
	default:
		if err := d.Skip(); err != nil {
			return nil, err
		}
		return nil, &fieldError{field: field, msg: "is not a number"}
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &fieldError{field: field, msg: "is not a number"}
	}
	return &v, nil
}

func decodeDate(d *jx.Decoder, field string) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, &fieldError{field: field, msg: "is not a date"}
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, &fieldError{field: field, msg: "is not a date"}
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fe validator.ValidationErrors
	if !errors.As(err, &fe) {
		return errors.Wrap(err, "validate")
	}
	var verr order.ValidationError
	for _, f := range fe {
		verr.Add(f.Field(), msgForTag(f))
	}
	return verr.Err()
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "can't be blank"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "max":
		return fmt.Sprintf("is too long (maximum is %s characters)", fe.Param())
	default:
		return "is invalid"
	}
}
