package handler

import (
	"net/http"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/domain/cart"
	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/variant"
)

const (
	msgNotFound      = "The resource you were looking for could not be found."
	msgUnauthorized  = "You are not authorized to perform that action."
	msgInvalid       = "Invalid resource. Please fix errors and try again."
	msgCouponMissing = "The coupon code you entered doesn't exist. Please try again."
	msgConflict      = "The order was changed by another request. Please try again."
	msgMalformed     = "The request body could not be parsed."
	msgInternal      = "Internal Server Error"
)

// mapError writes the response for an error returned by the cart service
// or by request decoding.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *order.ValidationError
	var derr *decodeError
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrLineItemNotFound),
		errors.Is(err, variant.ErrNotFound):
		writeError(w, r, http.StatusNotFound, msgNotFound)
	case errors.Is(err, order.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, msgUnauthorized)
	case errors.As(err, &verr):
		writeValidation(w, verr)
	case errors.Is(err, cart.ErrCouponNotFound):
		writeError(w, r, http.StatusUnprocessableEntity, msgCouponMissing)
	case errors.Is(err, order.ErrConflict):
		writeError(w, r, http.StatusConflict, msgConflict)
	case errors.As(err, &derr):
		zctx.From(r.Context()).Debug("Malformed request", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, msgMalformed)
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgInternal)
	}
}

func writeError(w http.ResponseWriter, _ *http.Request, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, e)
}

func writeValidation(w http.ResponseWriter, verr *order.ValidationError) {
	fields := make([]string, 0, len(verr.Fields))
	for f := range verr.Fields {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msgInvalid) })
		e.Field("errors", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, f := range fields {
					e.Field(f, func(e *jx.Encoder) {
						e.Arr(func(e *jx.Encoder) {
							for _, msg := range verr.Fields[f] {
								e.Str(msg)
							}
						})
					})
				}
			})
		})
	})
	writeJSON(w, http.StatusUnprocessableEntity, e)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
