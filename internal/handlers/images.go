package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-chi/chi/v5"
	"github.com/petermazzocco/particle-monitor/internal/auth"
	"github.com/petermazzocco/particle-monitor/internal/filename"
	"github.com/petermazzocco/particle-monitor/internal/store"
	"github.com/petermazzocco/particle-monitor/models"
)

const maxResizeWidth = 4096

func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	page, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	status := strings.TrimSpace(q.Get("status"))
	if status != "" && !models.ImageStatus(status).Valid() {
		writeError(w, invalidParam("status", fmt.Sprintf("%q is not an image status", status)))
		return
	}

	images, total, err := h.store.ListImages(r.Context(), session.UserID, store.ImageQuery{
		MachineID: q.Get("machine"),
		Status:    status,
		Filename:  q.Get("q"),
		Sort:      sortParams(r),
		Page:      page,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if images == nil {
		images = []models.Image{}
	}
	writeList(w, images, len(images), total, page)
}

// GetImage returns the image with its machine and detected particles.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	detail, err := h.store.ImageDetail(r.Context(), session.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if detail.Particles == nil {
		detail.Particles = []models.Particle{}
	}
	writeJSON(w, http.StatusOK, detail)
}

// ImageFile streams a stored image. The machine encoded in the filename must
// belong to the user. With ?width= the image is scaled down first.
func (h *Handler) ImageFile(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	name := chi.URLParam(r, "filename")

	parsed, err := filename.Parse(name)
	if err != nil {
		writeError(w, err)
		return
	}
	width, err := intParam(r, "width")
	if err != nil {
		writeError(w, err)
		return
	}
	if width > maxResizeWidth {
		writeError(w, invalidParam("width", fmt.Sprintf("must be at most %d", maxResizeWidth)))
		return
	}
	if _, err := h.store.GetMachine(r.Context(), session.UserID, parsed.MachineID); err != nil {
		writeError(w, err)
		return
	}

	obj, err := h.objects.GetObject(r.Context(), &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			writeError(w, fmt.Errorf("image file %s: %w", name, store.ErrNotFound))
			return
		}
		log.Println("Failed to get object:", err)
		writeError(w, err)
		return
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		log.Println("Failed to read object body:", err)
		writeError(w, err)
		return
	}

	if width > 0 {
		resized, err := h.resize(data, width)
		if err != nil {
			log.Println("Failed to resize image:", err)
			writeError(w, err)
			return
		}
		data = resized
	}

	contentType := aws.ToString(obj.ContentType)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Println("Failed to write image:", err)
	}
}

// ResultsSummary proxies the detection service's global summary.
func (h *Handler) ResultsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.results.Summary(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errUpstream, err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
