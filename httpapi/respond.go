package httpapi

import (
	"encoding/json"
	"net/http"
	"reflect"

	"go.uber.org/zap"

	"github.com/andreyvit/pathdb"
)

type errorBody struct {
	Error string `json:"error"`
}

// respond writes the outcome of a store call. User mistakes are 400 and
// anything else is 500. A missing result is 404 with "not-found"; an empty
// one is 404 with the empty value itself.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		if pathdb.IsValidationError(err) {
			writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
			return
		}
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{err.Error()})
		return
	}
	if isNil(data) {
		writeNotFound(w)
		return
	}
	switch data := data.(type) {
	case []*pathdb.Document:
		if len(data) == 0 {
			writeJSON(w, http.StatusNotFound, []any{})
			return
		}
	case pathdb.History:
		if len(data) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]any{})
			return
		}
	}
	writeJSON(w, http.StatusOK, data)
}

func isNil(data any) bool {
	if data == nil {
		return true
	}
	v := reflect.ValueOf(data)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{"not-found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
