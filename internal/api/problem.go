package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/planlearn/internal/agent"
	"github.com/hyperengineering/planlearn/internal/export"
	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/validation"
)

const problemBaseURI = "https://planlearn.dev/errors/"

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest: {
		typeURI: problemBaseURI + "bad-request",
		title:   "Bad Request",
	},
	http.StatusUnauthorized: {
		typeURI: problemBaseURI + "invalid-api-key",
		title:   "Unauthorized",
	},
	http.StatusPaymentRequired: {
		typeURI: problemBaseURI + "usage-limit",
		title:   "Payment Required",
	},
	http.StatusNotFound: {
		typeURI: problemBaseURI + "not-found",
		title:   "Not Found",
	},
	http.StatusUnprocessableEntity: {
		typeURI: problemBaseURI + "validation-error",
		title:   "Validation Error",
	},
	http.StatusTooManyRequests: {
		typeURI: problemBaseURI + "rate-limit",
		title:   "Too Many Requests",
	},
	http.StatusInternalServerError: {
		typeURI: problemBaseURI + "internal-error",
		title:   "Internal Server Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: problemBaseURI + "service-unavailable",
		title:   "Service Unavailable",
	},
}

func lookupProblemType(status int) problemType {
	if pt, ok := problemTypes[status]; ok {
		return pt
	}
	return problemType{typeURI: problemBaseURI + "unknown", title: http.StatusText(status)}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt := lookupProblemType(status)
	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// WriteProblemUsageLimit writes the 402 returned once the free allowance
// is used up.
func WriteProblemUsageLimit(w http.ResponseWriter, r *http.Request, limit int) {
	WriteProblem(w, r, http.StatusPaymentRequired, fmt.Sprintf(
		"Free usage limit (%d) exceeded. Please provide your OpenAI API key to continue.", limit))
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, llm.ErrInvalidAPIKey):
		WriteProblem(w, r, http.StatusUnauthorized, agent.ErrorMessage(err))
	case errors.Is(err, llm.ErrRateLimited):
		WriteProblem(w, r, http.StatusTooManyRequests, agent.ErrorMessage(err))
	case errors.Is(err, llm.ErrProviderUnavailable):
		WriteProblem(w, r, http.StatusServiceUnavailable, agent.ErrorMessage(err))
	case errors.Is(err, export.ErrNotConfigured):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Memory export is not configured")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
