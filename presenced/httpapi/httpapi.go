// Package httpapi provides the standardized JSON response surface for the
// HTTP API.
package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Response represents a generic HTTP response.
type Response struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Write outputs a standardized format to an HTTP response body.
func Write(rw http.ResponseWriter, status int, response interface{}) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	err := enc.Encode(response)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, err = rw.Write(buf.Bytes())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
}

// Read decodes JSON from the HTTP request into the value provided.
func Read(rw http.ResponseWriter, r *http.Request, value interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(value)
	if err != nil {
		Write(rw, http.StatusBadRequest, Response{
			Message: fmt.Sprintf("read body: %s", err.Error()),
		})
		return false
	}
	return true
}

func Unauthorized(rw http.ResponseWriter) {
	Write(rw, http.StatusUnauthorized, Response{
		Message: "unauthorized",
	})
}

func NotFound(rw http.ResponseWriter, message string) {
	Write(rw, http.StatusNotFound, Response{
		Message: message,
	})
}

func InternalServerError(rw http.ResponseWriter, err error) {
	Write(rw, http.StatusInternalServerError, Response{
		Message: "internal server error",
		Detail:  err.Error(),
	})
}
