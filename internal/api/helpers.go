package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/worker"
)

// decodeJSON decodes the request body into dst, wrapping decode errors
// as a BadRequest propagation policy.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Wrap(errs.BadRequest, "Invalid request body", err)
	}
	return nil
}

func workerMetaTask() worker.Task { return worker.Meta() }

// parseFloats splits raw on commas and parses up to len(dst) values into
// dst, returning how many were successfully parsed.
func parseFloats(raw string, dst ...*float64) (int, error) {
	parts := strings.Split(raw, ",")
	n := 0
	for i, p := range parts {
		if i >= len(dst) {
			break
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return n, err
		}
		*dst[i] = v
		n++
	}
	return n, nil
}
