package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skyguard-io/skyguard/pkg/audit"
	"github.com/skyguard-io/skyguard/pkg/httputil"
)

// auditHandlers serves the audit trail query endpoint.
type auditHandlers struct {
	recorder audit.Recorder
}

func newAuditHandlers(recorder audit.Recorder) *auditHandlers {
	return &auditHandlers{recorder: recorder}
}

// query handles GET /api/audit
func (h *auditHandlers) query(w http.ResponseWriter, r *http.Request) {
	var filter audit.Filter
	q := r.URL.Query()

	if v := q.Get("type"); v != "" {
		filter.Type = audit.EventType(v)
	}
	if v := q.Get("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid actor_id")
			return
		}
		filter.ActorID = &id
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid since timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid until timestamp")
			return
		}
		filter.Until = t
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 100); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.recorder.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}

	httputil.WriteJSONOrError(w, http.StatusOK, events, "encoding audit events")
}
