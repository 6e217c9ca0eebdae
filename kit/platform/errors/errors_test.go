package errors_test

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorMsg(t *testing.T) {
	cases := []struct {
		name string
		err  error
		msg  string
	}{
		{
			name: "simple error",
			err:  &errors.Error{Code: errors.ENotFound},
			msg:  "<not found>",
		},
		{
			name: "with message",
			err:  &errors.Error{Code: errors.ENotFound, Msg: "record not found"},
			msg:  "record not found",
		},
		{
			name: "with a third party error",
			err:  &errors.Error{Code: errors.EInternal, Err: stderrors.New("disk full")},
			msg:  "disk full",
		},
		{
			name: "with a message and an internal error",
			err: &errors.Error{
				Code: errors.EConflict,
				Msg:  "shard 1",
				Err:  &errors.Error{Code: errors.EConflict, Msg: "duplicate"},
			},
			msg: "shard 1: duplicate",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.msg, c.err.Error())
		})
	}
}

func TestErrorCodeOpMessage(t *testing.T) {
	inner := &errors.Error{Code: errors.EInvalid, Op: "criteria/Validate", Msg: "bad operator"}
	outer := &errors.Error{Op: "session/List", Err: inner}
	wrapped := fmt.Errorf("shard 2: %w", outer)

	require.Equal(t, errors.EInvalid, errors.ErrorCode(wrapped))
	require.Equal(t, "session/List", errors.ErrorOp(wrapped))
	require.Equal(t, "bad operator", errors.ErrorMessage(wrapped))

	plain := stderrors.New("boom")
	require.Equal(t, errors.EInternal, errors.ErrorCode(plain))
	require.Equal(t, "", errors.ErrorOp(plain))
	require.Equal(t, "An internal error has occurred.", errors.ErrorMessage(plain))

	require.Equal(t, "", errors.ErrorCode(nil))
	require.True(t, stderrors.Is(outer, inner))
}

func TestNewError(t *testing.T) {
	err := errors.NewError(
		errors.WithErrorCode(errors.EUnavailable),
		errors.WithErrorMsg("shard offline"),
		errors.WithErrorOp("shard/Session"),
		errors.WithErrorErr(stderrors.New("dial tcp")),
	)
	require.Equal(t, &errors.Error{
		Code: errors.EUnavailable,
		Msg:  "shard offline",
		Op:   "shard/Session",
		Err:  err.Err,
	}, err)
}

func TestHTTPStatus(t *testing.T) {
	for code, status := range map[string]int{
		errors.ENotFound:       http.StatusNotFound,
		errors.EConflict:       http.StatusConflict,
		errors.EInvalid:        http.StatusBadRequest,
		errors.EEmptyValue:     http.StatusBadRequest,
		errors.ENotImplemented: http.StatusNotImplemented,
		errors.EUnavailable:    http.StatusServiceUnavailable,
		errors.ETooLarge:       http.StatusRequestEntityTooLarge,
		errors.EInternal:       http.StatusInternalServerError,
		"unknown":              http.StatusInternalServerError,
	} {
		require.Equal(t, status, errors.HTTPStatus(code), code)
	}
}

func TestJSON(t *testing.T) {
	err := &errors.Error{
		Code: errors.EConflict,
		Op:   "session/Save",
		Msg:  "cross-shard relationship detected",
		Err: &errors.Error{
			Code: errors.EInternal,
			Err:  stderrors.New("raw"),
		},
	}

	b, merr := json.Marshal(err)
	require.NoError(t, merr)
	require.JSONEq(t, `{
		"code": "conflict",
		"op": "session/Save",
		"message": "cross-shard relationship detected",
		"error": {"code": "internal error", "error": "raw"}
	}`, string(b))

	var got errors.Error
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, errors.EConflict, got.Code)
	require.Equal(t, "session/Save", got.Op)
	require.Equal(t, err.Error(), got.Error())
	require.Equal(t, errors.EInternal, errors.ErrorCode(got.Err))
}
