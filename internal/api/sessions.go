package api

import (
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/filter"
	"github.com/dunamismax/badgeflow/internal/flow"
	"github.com/dunamismax/badgeflow/internal/id"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

const (
	photoField = "photo"
	// maxPreviewScale bounds badge.png; larger renders go through export.
	maxPreviewScale = 2
)

type sessionResponse struct {
	ID         string            `json:"session_id"`
	Stage      flow.Stage        `json:"stage"`
	Profile    domain.Profile    `json:"profile"`
	Validation map[string]string `json:"validation,omitempty"`
	Photo      *photoResponse    `json:"photo,omitempty"`
	Crop       crop.Gesture      `json:"crop"`
	Region     *crop.Region      `json:"region,omitempty"`
	Filters    filter.Settings   `json:"filters"`
	FilterCSS  string            `json:"filter_css"`
	Composite  *compositeInfo    `json:"composite,omitempty"`
}

type photoResponse struct {
	Kind   pipeline.Kind `json:"kind"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Digest string        `json:"digest"`
}

type compositeInfo struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Region crop.Region `json:"region"`
}

func newSessionResponse(sessionID string, st flow.State) sessionResponse {
	resp := sessionResponse{
		ID:        sessionID,
		Stage:     st.Stage,
		Profile:   st.Profile,
		Crop:      st.Gesture,
		Filters:   st.Filters,
		FilterCSS: filter.NewChain(st.Filters).CSS(),
	}
	if st.Stage == flow.StageUploading {
		if msgs := st.Validate().Messages(); len(msgs) > 0 {
			resp.Validation = msgs
		}
	}
	if st.Source != nil {
		resp.Photo = &photoResponse{Kind: st.Source.Kind, Width: st.Source.Width, Height: st.Source.Height, Digest: st.Source.Digest}
		if region, err := st.Region(); err == nil {
			resp.Region = &region
		}
	}
	if view := st.View(); view != nil && view.Photo != nil {
		resp.Composite = &compositeInfo{Width: view.Photo.Width, Height: view.Photo.Height, Region: view.Photo.Region}
	}
	return resp
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := id.New(id.PrefixSession)
	deps := s.deps
	deps.Logger = s.logger
	c := flow.NewController(sessionID, deps)
	s.sessions.Put(sessionID, c)
	s.metrics.activeSessions.Inc()

	s.logger.WithField("session_id", sessionID).Info("session created")
	writeJSON(w, http.StatusCreated, newSessionResponse(sessionID, c.State()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request, c *flow.Controller) {
	writeJSON(w, http.StatusOK, newSessionResponse(c.ID(), c.State()))
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	var p domain.Profile
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.respond(w, r, c)(c.SetProfile(p))
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(photoField)
	if err != nil {
		s.writeError(w, r, &domain.FieldError{Field: domain.FieldPhoto, Kind: domain.ErrMissingRequiredField, Message: domain.MessagePhotoRequired})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read upload: %v", errBadRequest, err))
		return
	}
	declared := header.Header.Get("Content-Type")
	if declared == "" || declared == "application/octet-stream" {
		declared = pipeline.TypeForFilename(header.Filename)
	}

	s.metrics.uploadBytes.Observe(float64(len(data)))
	s.respond(w, r, c)(c.Upload(r.Context(), data, declared))
}

func (s *Server) handleRemovePhoto(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	s.respond(w, r, c)(c.RemovePhoto())
}

func (s *Server) handleSetCrop(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	var g crop.Gesture
	if err := decodeJSON(r, &g); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.respond(w, r, c)(c.SetGesture(g))
}

type panRequest struct {
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
	Viewport float64 `json:"viewport"`
}

func (s *Server) handlePan(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	var req panRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Viewport <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: viewport must be positive", errBadRequest))
		return
	}
	s.respond(w, r, c)(c.Pan(req.DX, req.DY, req.Viewport))
}

type filterRequest struct {
	Value int `json:"value"`
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	var req filterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	field := filter.Field(strings.ToLower(r.PathValue("field")))
	s.respond(w, r, c)(c.SetFilter(field, req.Value))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	s.respond(w, r, c)(c.ResetEdits())
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	s.respond(w, r, c)(c.Next(r.Context()))
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	s.respond(w, r, c)(c.Back())
}

func (s *Server) handleEditorPreview(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	compare, _ := strconv.ParseBool(r.URL.Query().Get("compare"))
	img, err := c.EditorPreview(r.Context(), compare)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePNG(w, r, img)
}

func (s *Server) handleBadgePreview(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	scale, err := previewScale(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	img, err := c.Preview(r.Context(), scale)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePNG(w, r, img)
}

func previewScale(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("scale")
	if raw == "" {
		return 1, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > maxPreviewScale {
		return 0, fmt.Errorf("%w: scale must be an integer between 1 and %d", errBadRequest, maxPreviewScale)
	}
	return v, nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	label := r.URL.Query().Get("resolution")
	file, err := c.Export(r.Context(), label)
	if err != nil {
		s.metrics.exportsTotal.WithLabelValues(s.exportLabel(label), "failed").Inc()
		s.writeError(w, r, err)
		return
	}
	s.metrics.exportsTotal.WithLabelValues(file.Resolution.Label, "succeeded").Inc()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("X-Badge-Width", strconv.Itoa(file.Width))
	w.Header().Set("X-Badge-Height", strconv.Itoa(file.Height))
	if file.Output.URL != "" {
		w.Header().Set("X-Badge-Download-URL", file.Output.URL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.PNG)
}

// respond writes the session state, or the error if the operation failed.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, c *flow.Controller) func(flow.State, error) {
	return func(st flow.State, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(c.ID(), st))
	}
}

func (s *Server) writePNG(w http.ResponseWriter, r *http.Request, img image.Image) {
	data, err := pipeline.EncodePNG(img)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// exportLabel keeps metric labels to the configured resolutions.
func (s *Server) exportLabel(label string) string {
	if res, err := s.resolutions.Lookup(label); err == nil {
		return res.Label
	}
	return "unknown"
}
