package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/petermazzocco/particle-monitor/internal/auth"
	"github.com/petermazzocco/particle-monitor/internal/filename"
	"github.com/petermazzocco/particle-monitor/internal/store"
)

const (
	StateEmpty     = "empty"
	StatePopulated = "populated"
	StateError     = "error"
)

var errUpstream = errors.New("detection service unavailable")

type errorResponse struct {
	State string `json:"state"`
	Error string `json:"error"`
}

type listResponse struct {
	State      string `json:"state"`
	Items      any    `json:"items"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("Failed to encode response:", err)
	}
}

// writeList answers a paginated listing; count is len(items).
func writeList(w http.ResponseWriter, items any, count int, total int64, page store.Page) {
	writeJSON(w, http.StatusOK, listResponse{
		State:      listState(count),
		Items:      items,
		Total:      total,
		Page:       page.Number,
		PageSize:   page.Limit(),
		TotalPages: page.TotalPages(total),
	})
}

func listState(count int) string {
	if count > 0 {
		return StatePopulated
	}
	return StateEmpty
}

// writeError maps err onto a status code. Unexpected errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Println("Request failed:", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{State: StateError, Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalid), errors.Is(err, filename.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, errUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalidParam("request body", err.Error())
	}
	return nil
}

func invalidParam(name, detail string) error {
	return &paramError{name: name, detail: detail}
}

type paramError struct {
	name, detail string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + ": " + e.detail
}

func (e *paramError) Unwrap() error { return store.ErrInvalid }

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidParam(name, "must be a non-negative integer")
	}
	return n, nil
}

func pageParams(r *http.Request) (store.Page, error) {
	number, err := intParam(r, "page")
	if err != nil {
		return store.Page{}, err
	}
	size, err := intParam(r, "page_size")
	if err != nil {
		return store.Page{}, err
	}
	if size > store.MaxPageSize {
		return store.Page{}, invalidParam("page_size", fmt.Sprintf("must be at most %d", store.MaxPageSize))
	}
	if number < 1 {
		number = 1
	}
	return store.Page{Number: number, Size: size}, nil
}

func sortParams(r *http.Request) store.Sort {
	q := r.URL.Query()
	return store.Sort{
		Column: strings.TrimSpace(q.Get("sort")),
		Desc:   strings.EqualFold(q.Get("order"), "desc"),
	}
}
