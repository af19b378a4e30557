package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/httputil"
	"github.com/skyguard-io/skyguard/pkg/observability"
	"github.com/skyguard-io/skyguard/pkg/platform"
)

// incidentHandlers serves the incident, response, and report routes.
type incidentHandlers struct {
	incidents platform.IncidentService
	responses platform.ResponseService
	reports   platform.ReportService
	log       *observability.Logger
}

func newIncidentHandlers(deps Deps) *incidentHandlers {
	return &incidentHandlers{
		incidents: deps.Incidents,
		responses: deps.Responses,
		reports:   deps.Reports,
		log:       deps.Log,
	}
}

// create handles POST /api/incidents
func (h *incidentHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Priority    string  `json:"priority"`
		Area        string  `json:"area"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		PathLine    string  `json:"path_line"`
		ImageLink   string  `json:"image_link"`
		VideoLink   string  `json:"video_link"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Title == "" {
		httputil.WriteBadRequest(w, "title is required")
		return
	}
	priority, ok := platform.ParsePriority(req.Priority)
	if !ok {
		httputil.WriteBadRequest(w, "unknown priority: "+req.Priority)
		return
	}
	area, ok := platform.ParseArea(req.Area)
	if !ok {
		httputil.WriteBadRequest(w, "unknown area: "+req.Area)
		return
	}

	p := auth.PrincipalFrom(r.Context())
	incident := &platform.Incident{
		Title:       req.Title,
		Description: req.Description,
		Priority:    priority,
		Area:        area,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		PathLine:    req.PathLine,
		ImageLink:   req.ImageLink,
		VideoLink:   req.VideoLink,
		ReportedBy:  p.UserID,
	}

	if err := h.incidents.Create(r.Context(), incident); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusCreated, incident, "encoding incident")
}

// list handles GET /api/incidents
func (h *incidentHandlers) list(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseIncidentFilter(w, r)
	if !ok {
		return
	}

	incidents, err := h.incidents.List(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if incidents == nil {
		incidents = []*platform.Incident{}
	}

	httputil.WriteJSONOrError(w, http.StatusOK, incidents, "encoding incidents")
}

// get handles GET /api/incidents/{id}
func (h *incidentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	incident, err := h.incidents.Get(r.Context(), id)
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, incident, "encoding incident")
}

// updateStatus handles PUT /api/incidents/{id}/status
func (h *incidentHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	status, ok := platform.ParseStatus(req.Status)
	if !ok {
		httputil.WriteBadRequest(w, "unknown status: "+req.Status)
		return
	}

	if err := h.incidents.UpdateStatus(r.Context(), id, status); err != nil {
		h.writeIncidentError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// assign handles POST /api/incidents/{id}/assign
func (h *incidentHandlers) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	if err := h.incidents.Assign(r.Context(), id, req.UserID); err != nil {
		h.writeIncidentError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// submitResponse handles POST /api/incidents/{id}/response
func (h *incidentHandlers) submitResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ActionTaken        string `json:"action_taken"`
		AdditionalComments string `json:"additional_comments"`
		Classification     string `json:"classification"`
		InterventionImage  string `json:"intervention_image"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.ActionTaken == "" {
		httputil.WriteBadRequest(w, "action_taken is required")
		return
	}
	classification, ok := platform.ParseClassification(req.Classification)
	if !ok {
		httputil.WriteBadRequest(w, "unknown classification: "+req.Classification)
		return
	}

	p := auth.PrincipalFrom(r.Context())
	response := &platform.SecurityResponse{
		IncidentID:         id,
		ActionTaken:        req.ActionTaken,
		AdditionalComments: req.AdditionalComments,
		Classification:     classification,
		InterventionImage:  req.InterventionImage,
		RespondedBy:        p.UserID,
	}

	if err := h.responses.Submit(r.Context(), response); err != nil {
		h.writeIncidentError(w, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusCreated, response, "encoding response")
}

// getResponse handles GET /api/incidents/{id}/response
func (h *incidentHandlers) getResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	response, err := h.responses.ByIncident(r.Context(), id)
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, response, "encoding response")
}

// statistics handles GET /api/reports/statistics
func (h *incidentHandlers) statistics(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseIncidentFilter(w, r)
	if !ok {
		return
	}

	stats, err := h.reports.Statistics(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, stats, "encoding statistics")
}

func (h *incidentHandlers) writeIncidentError(w http.ResponseWriter, err error) {
	if errors.Is(err, platform.ErrIncidentNotFound) {
		httputil.WriteNotFound(w, "incident not found")
		return
	}
	httputil.WriteInternalError(w, err)
}

// parseIncidentFilter reads the shared query parameters for listings
// and reports. Invalid values are rejected rather than ignored.
func parseIncidentFilter(w http.ResponseWriter, r *http.Request) (platform.IncidentFilter, bool) {
	var filter platform.IncidentFilter
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid from timestamp")
			return filter, false
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid to timestamp")
			return filter, false
		}
		filter.To = &t
	}
	if v := q.Get("area"); v != "" {
		area, ok := platform.ParseArea(v)
		if !ok {
			httputil.WriteBadRequest(w, "unknown area: "+v)
			return filter, false
		}
		filter.Area = &area
	}
	if v := q.Get("priority"); v != "" {
		priority, ok := platform.ParsePriority(v)
		if !ok {
			httputil.WriteBadRequest(w, "unknown priority: "+v)
			return filter, false
		}
		filter.Priority = &priority
	}
	if v := q.Get("status"); v != "" {
		status, ok := platform.ParseStatus(v)
		if !ok {
			httputil.WriteBadRequest(w, "unknown status: "+v)
			return filter, false
		}
		filter.Status = &status
	}

	return filter, true
}
