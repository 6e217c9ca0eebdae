package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/influxdata/shardkit/kit/platform/errors"
)

// ErrorCodeHeader carries the error code of a failed request.
const ErrorCodeHeader = "X-Shardkit-Error-Code"

// ErrorHandler is the error handler in http package.
type ErrorHandler int

// HandleHTTPError encodes err with the appropriate status code and format,
// sets the X-Shardkit-Error-Code header on the response
// and sets the response status to the corresponding status code.
func (h ErrorHandler) HandleHTTPError(ctx context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		return
	}

	code := errors.ErrorCode(err)
	w.Header().Set(ErrorCodeHeader, code)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(errors.HTTPStatus(code))
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	e.Code = code
	if code != errors.EInternal {
		e.Message = err.Error()
	} else if pe, ok := err.(*errors.Error); ok {
		e.Message = pe.Error()
	} else {
		e.Message = "An internal error has occurred"
	}
	b, _ := json.Marshal(e)
	_, _ = w.Write(b)
}

// StatusCodeToErrorCode maps a http status code integer to an
// error code string.
func StatusCodeToErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusNotFound:
		return errors.ENotFound
	case http.StatusConflict:
		return errors.EConflict
	case http.StatusBadRequest:
		return errors.EInvalid
	case http.StatusNotImplemented:
		return errors.ENotImplemented
	case http.StatusServiceUnavailable:
		return errors.EUnavailable
	case http.StatusRequestEntityTooLarge:
		return errors.ETooLarge
	default:
		return errors.EInternal
	}
}
