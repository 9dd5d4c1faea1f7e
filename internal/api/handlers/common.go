// Package handlers provides HTTP request handlers for the iotaudit API.
// This file contains the response, parsing and error mapping helpers shared
// by every handler.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/iotaudit/internal/api/middleware"
	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
)

const defaultMaxRequestSize = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
}

// ListResponse wraps list results with their count.
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// base carries what every handler needs.
type base struct {
	logger         *logging.Logger
	validate       *validator.Validate
	maxRequestSize int64
}

func newBase(logger *logging.Logger, handler string, maxRequestSize int64) base {
	if logger == nil {
		logger = logging.Default()
	}
	if maxRequestSize <= 0 {
		maxRequestSize = defaultMaxRequestSize
	}
	return base{
		logger:         logger.WithFields("handler", handler),
		validate:       newValidator(),
		maxRequestSize: maxRequestSize,
	}
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	resp := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		resp.Code = string(code)
	}
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		resp.Message = "request validation failed"
		resp.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Fields[fe.Field()] = fe.Tag()
		}
	}
	writeJSON(w, r, statusCode, resp)
}

// statusForError maps an error code to an HTTP status.
func statusForError(err error) int {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		return http.StatusBadRequest
	}
	switch errors.GetCode(err) {
	case errors.CodeValidation, errors.CodeTargetInvalid, errors.CodeInvalidPhaseIndex:
		return http.StatusBadRequest
	case errors.CodeNotFound, errors.CodeDeviceNotFound:
		return http.StatusNotFound
	case errors.CodeConflict, errors.CodeInvalidTransition:
		return http.StatusConflict
	case errors.CodeToolUnavailable, errors.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeTimeout, errors.CodeDatabaseTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status its code maps to. Server
// side failures are logged; client errors are not.
func (b base) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		b.logger.Error("Request failed",
			"operation", op,
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
	writeError(w, r, status, err)
}

// decode reads a JSON body into dest and validates it.
func (b base) decode(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.NewConfigFieldError(errors.CodeValidation, "request body is empty", "body", nil)
	}
	r.Body = http.MaxBytesReader(w, r.Body, b.maxRequestSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("request body too large (max %d bytes)", b.maxRequestSize), "body", nil)
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid JSON", err)
	}
	return b.validate.Struct(dest)
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := mux.Vars(r)[key]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid "+key, key, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.NewConfigFieldError(errors.CodeValidation, "invalid "+key, key, value)
	}
	return n, nil
}
