package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/kit/platform/errors"
)

// maxBodySize bounds the size of decoded request bodies.
const maxBodySize = 4 << 20

func decodeIDFromRequest(r *http.Request, name string) (shardkit.ID, error) {
	idStr := chi.URLParam(r, name)
	if idStr == "" {
		return 0, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "url missing " + name,
		}
	}

	id, err := shardkit.IDFromString(idStr)
	if err != nil {
		return 0, &errors.Error{
			Code: errors.EInvalid,
			Err:  err,
		}
	}
	if !id.Valid() {
		return 0, &errors.Error{Code: errors.EInvalid, Msg: "id must not be zero"}
	}
	return id, nil
}

// decodeRecord reads a record from the body of r.
func decodeRecord(r *http.Request, entityType string) (*shardkit.Record, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, &errors.Error{Code: errors.EInvalid, Err: err}
	}
	if len(b) > maxBodySize {
		return nil, &errors.Error{Code: errors.ETooLarge, Msg: "request body too large"}
	}
	rec, err := shardkit.UnmarshalRecord(b)
	if err != nil {
		return nil, &errors.Error{Code: errors.EInvalid, Msg: "invalid json structure", Err: err}
	}
	if rec.Type != "" && rec.Type != entityType {
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "entity type in body does not match url",
		}
	}
	rec.Type = entityType
	return rec, nil
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, code int, res interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	return json.NewEncoder(w).Encode(res)
}
