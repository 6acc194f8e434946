package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/bart-task-go/internal/export"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// ErrorBuilder assembles an EngineError field by field
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError starts an error of the given type
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext attaches a key/value detail
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID tags the error with the chi request id
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause records err.Error() under "cause"
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build stamps the time and returns the error
func (eb *ErrorBuilder) Build() EngineError {
	ctx := eb.context
	if len(ctx) == 0 {
		ctx = nil
	}
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorHandler maps errors to JSON responses and logs them
type ErrorHandler struct {
	logger *log.Logger
}

// NewErrorHandler creates an ErrorHandler writing to logger
func NewErrorHandler(logger *log.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError maps err to a status and writes it. EngineError values keep
// their type; known sentinels get a matching one.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error, defaultStatus int) {
	requestID := middleware.GetReqID(r.Context())

	var engineErr EngineError
	if errors.As(err, &engineErr) {
		eh.logError(r, engineErr, defaultStatus)
		eh.writeErrorResponse(w, defaultStatus, engineErr)
		return
	}

	status := defaultStatus
	errType := ErrTypeInternal
	switch {
	case errors.Is(err, trials.ErrUnknownOrder):
		status, errType = http.StatusBadRequest, ErrTypeInvalidParams
	case errors.Is(err, export.ErrNoRecords):
		status, errType = http.StatusConflict, ErrTypeNoRecords
	}

	engineErr = NewError(errType, err.Error()).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError answers 400 for a bad body field or query parameter
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		Build()

	eh.logError(r, engineErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// HandleNoSession reports that no session has been started
func (eh *ErrorHandler) HandleNoSession(w http.ResponseWriter, r *http.Request) {
	engineErr := NewError(ErrTypeNoSession, "No session has been started").
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("hint", "POST /api/v1/session").
		Build()

	eh.logError(r, engineErr, http.StatusNotFound)
	eh.writeErrorResponse(w, http.StatusNotFound, engineErr)
}

// HandleUnauthorized rejects a request with a missing or wrong token
func (eh *ErrorHandler) HandleUnauthorized(w http.ResponseWriter, r *http.Request) {
	engineErr := NewError(ErrTypeUnauthorized, "Missing or invalid session token").
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("header", TokenHeader).
		Build()

	eh.logError(r, engineErr, http.StatusUnauthorized)
	eh.writeErrorResponse(w, http.StatusUnauthorized, engineErr)
}

// logError logs the error with a level derived from its category
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)

	logLevel := "ERROR"
	if status < 500 {
		logLevel = "WARN"
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s message=%q context=%v",
		logLevel, engineErr.Type, category, status, engineErr.RequestID, r.Method, r.URL.Path, engineErr.Message, engineErr.Context,
	)
}

// writeErrorResponse sets the error headers and encodes engineErr
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.Printf("error_encode_failed type=%s err=%v", engineErr.Type, err)
	}
}

// RecoveryHandler turns a handler panic into a 500 EngineError
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("panic", fmt.Sprintf("%v", rvr)).
					WithContext("path", r.URL.Path).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
