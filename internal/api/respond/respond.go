// Package respond writes the JSON response envelope used by every endpoint.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Envelope is the wire shape of every response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes a success envelope with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

// Created writes a 201 success envelope.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Message writes a 200 envelope carrying only a message.
func Message(w http.ResponseWriter, msg string) {
	write(w, http.StatusOK, Envelope{Success: true, Message: msg})
}

// Error maps an application error to its status code and writes the failure
// envelope. Internal detail is only exposed in development mode.
func Error(w http.ResponseWriter, logger *logging.Logger, err error, development bool) {
	if logger == nil {
		logger = logging.Default()
	}

	status := StatusOf(err)
	msg := apperr.Message(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		if !development {
			msg = "internal server error"
		} else {
			msg = err.Error()
		}
	}
	write(w, status, Envelope{Success: false, Error: msg})
}

// StatusOf maps an error kind to its HTTP status code.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
