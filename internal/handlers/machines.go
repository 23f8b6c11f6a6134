package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/petermazzocco/particle-monitor/internal/auth"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/petermazzocco/particle-monitor/internal/store"
	"github.com/petermazzocco/particle-monitor/models"
)

const recentImagesLimit = 5

type machineSummaryResponse struct {
	Machine      *models.Machine        `json:"machine"`
	Summary      *models.MachineSummary `json:"summary"`
	RecentImages []models.Image         `json:"recent_images"`
}

type machineResultsResponse struct {
	State        string                `json:"state"`
	Items        []ingest.ResultRecord `json:"items"`
	Total        int                   `json:"total"`
	StatusCounts map[string]int        `json:"status_counts"`
}

func (h *Handler) ListMachines(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	page, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !models.MachineStatus(status).Valid() {
		writeError(w, invalidParam("status", fmt.Sprintf("%q is not a machine status", status)))
		return
	}

	machines, total, err := h.store.ListMachines(r.Context(), session.UserID, store.MachineQuery{
		Name:   r.URL.Query().Get("q"),
		Status: status,
		Sort:   sortParams(r),
		Page:   page,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if machines == nil {
		machines = []models.Machine{}
	}
	writeList(w, machines, len(machines), total, page)
}

func (h *Handler) CreateMachine(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	var in store.MachineInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	machine, err := h.store.CreateMachine(r.Context(), session.UserID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, machine)
}

func (h *Handler) GetMachine(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	machine, err := h.store.GetMachine(r.Context(), session.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (h *Handler) UpdateMachine(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	var in store.MachineInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	machine, err := h.store.UpdateMachine(r.Context(), session.UserID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (h *Handler) DeleteMachine(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	if err := h.store.DeleteMachine(r.Context(), session.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the machine's detection settings, creating the
// defaults on first read.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	settings, err := h.store.DetectionSettings(r.Context(), session.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	var in store.SettingsInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	settings, err := h.store.UpdateDetectionSettings(r.Context(), session.UserID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) MachineSummary(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	id := chi.URLParam(r, "id")

	machine, err := h.store.GetMachine(r.Context(), session.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.store.MachineSummary(r.Context(), session.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	recent, err := h.store.RecentImages(r.Context(), session.UserID, id, recentImagesLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recent == nil {
		recent = []models.Image{}
	}
	writeJSON(w, http.StatusOK, machineSummaryResponse{Machine: machine, Summary: summary, RecentImages: recent})
}

// MachineResults lists the detection service's records for one of the
// user's machines.
func (h *Handler) MachineResults(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetMachine(r.Context(), session.UserID, id); err != nil {
		writeError(w, err)
		return
	}

	records, err := h.results.ListMachineImages(r.Context(), id)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errUpstream, err))
		return
	}
	if records == nil {
		records = []ingest.ResultRecord{}
	}
	writeJSON(w, http.StatusOK, machineResultsResponse{
		State:        listState(len(records)),
		Items:        records,
		Total:        len(records),
		StatusCounts: ingest.StatusCounts(records),
	})
}
