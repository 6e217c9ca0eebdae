package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ReadyHandler is a default readiness handler. The default behavior is always ready.
func ReadyHandler() http.Handler {
	up := time.Now()
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var status = struct {
			Status string    `json:"status"`
			Start  time.Time `json:"started"`
			Up     string    `json:"up"`
		}{
			Status: "ready",
			Start:  up,
			Up:     time.Since(up).String(),
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		err := enc.Encode(status)
		if err != nil {
			fmt.Fprintf(w, "Error encoding status data: %v\n", err)
		}
	}
	return http.HandlerFunc(fn)
}
