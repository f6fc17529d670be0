package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/middleware"
	"github.com/blobgate/blobgate/internal/storage"
)

// ErrorResponse is the body of every failed call
type ErrorResponse struct {
	Error *storage.ItemError `json:"error"`
}

// ResourceResponse wraps batch results and listings
type ResourceResponse struct {
	Resource interface{} `json:"resource"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := storage.StatusCode(err)
	entry := logrus.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	writeJSON(w, status, ErrorResponse{Error: storage.NewItemError(err)})
}

// limitError reports an upload cut short by the body limit as a bad request
func limitError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return storage.BadRequest("Request body exceeds the limit of %d bytes", maxErr.Limit)
	}
	return err
}

// requestError maps body read failures into the error taxonomy
func requestError(err error) error {
	if limited := limitError(err); limited != err {
		return limited
	}
	if storage.KindOf(err) != storage.KindBlobService {
		return err
	}
	return storage.BadRequest("Failed to read request body: %v", err)
}

// queryBool reads a boolean flag; a bare "?flag" counts as true
func queryBool(r *http.Request, name string) bool {
	values, ok := r.URL.Query()[name]
	if !ok {
		return false
	}
	if len(values) == 0 || values[0] == "" {
		return true
	}
	v, err := strconv.ParseBool(values[0])
	if err != nil {
		return false
	}
	return v
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func queryInt64(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// queryList splits a comma separated parameter, dropping blanks
func queryList(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
