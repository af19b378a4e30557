package platform

import (
	"context"

	"github.com/google/uuid"
)

// IncidentService manages the incident lifecycle.
type IncidentService interface {
	Create(ctx context.Context, incident *Incident) error
	Get(ctx context.Context, id uuid.UUID) (*Incident, error)
	List(ctx context.Context, filter IncidentFilter) ([]*Incident, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status IncidentStatus) error
	Assign(ctx context.Context, id, userID uuid.UUID) error
}

// ResponseService records the security team's responses.
type ResponseService interface {
	Submit(ctx context.Context, response *SecurityResponse) error
	ByIncident(ctx context.Context, incidentID uuid.UUID) (*SecurityResponse, error)
}

// ReportService aggregates incidents into management statistics.
type ReportService interface {
	Statistics(ctx context.Context, filter IncidentFilter) (*Statistics, error)
}
