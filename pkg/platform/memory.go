package platform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryPlatform implements all three services in memory, guarded by a
// single mutex. It backs tests and single-node deployments.
type MemoryPlatform struct {
	mu        sync.RWMutex
	incidents map[uuid.UUID]*Incident
	responses map[uuid.UUID]*SecurityResponse // keyed by incident id
	now       func() time.Time
}

// NewMemoryPlatform creates an empty in-memory platform.
func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		incidents: make(map[uuid.UUID]*Incident),
		responses: make(map[uuid.UUID]*SecurityResponse),
		now:       time.Now,
	}
}

// Create stores a new incident, assigning the id and timestamp when the
// caller left them zero.
func (m *MemoryPlatform) Create(ctx context.Context, incident *Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if incident.ID == uuid.Nil {
		incident.ID = uuid.New()
	}
	if incident.ReportedAt.IsZero() {
		incident.ReportedAt = m.now().UTC()
	}
	if incident.Status == "" {
		incident.Status = StatusPending
	}

	stored := *incident
	m.incidents[incident.ID] = &stored
	return nil
}

// Get returns the incident with the given id.
func (m *MemoryPlatform) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	copied := *incident
	return &copied, nil
}

// List returns incidents matching the filter, newest first.
func (m *MemoryPlatform) List(ctx context.Context, filter IncidentFilter) ([]*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Incident
	for _, incident := range m.incidents {
		if !matches(incident, filter) {
			continue
		}
		copied := *incident
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})
	return out, nil
}

// UpdateStatus moves an incident to a new lifecycle state.
func (m *MemoryPlatform) UpdateStatus(ctx context.Context, id uuid.UUID, status IncidentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	incident, ok := m.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	incident.Status = status
	return nil
}

// Assign hands an incident to a security team member and stamps the
// hand-off time.
func (m *MemoryPlatform) Assign(ctx context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	incident, ok := m.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	incident.AssignedTo = &userID
	when := m.now().UTC()
	incident.ReportedToSecurityAt = &when
	if incident.Status == StatusPending {
		incident.Status = StatusInProgress
	}
	return nil
}

// Submit records a security response and completes the incident.
func (m *MemoryPlatform) Submit(ctx context.Context, response *SecurityResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	incident, ok := m.incidents[response.IncidentID]
	if !ok {
		return ErrIncidentNotFound
	}

	if response.ID == uuid.Nil {
		response.ID = uuid.New()
	}
	if response.RespondedAt.IsZero() {
		response.RespondedAt = m.now().UTC()
	}

	stored := *response
	m.responses[response.IncidentID] = &stored
	incident.Status = StatusCompleted
	return nil
}

// ByIncident returns the response filed for an incident.
func (m *MemoryPlatform) ByIncident(ctx context.Context, incidentID uuid.UUID) (*SecurityResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	response, ok := m.responses[incidentID]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	copied := *response
	return &copied, nil
}

// Statistics aggregates the stored incidents.
func (m *MemoryPlatform) Statistics(ctx context.Context, filter IncidentFilter) (*Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Statistics{
		ByClassification: make(map[string]int),
		MonthlyTrends:    make(map[string]int),
	}
	for _, c := range Classifications() {
		stats.ByClassification[string(c)] = 0
	}

	for _, incident := range m.incidents {
		if !matches(incident, filter) {
			continue
		}

		stats.TotalIncidents++
		switch incident.Status {
		case StatusPending:
			stats.PendingIncidents++
		case StatusCompleted:
			stats.CompletedIncidents++
		}
		switch incident.Priority {
		case PriorityCritical:
			stats.CriticalPriority++
		case PriorityHigh:
			stats.HighPriority++
		case PriorityMedium:
			stats.MediumPriority++
		case PriorityLow:
			stats.LowPriority++
		}
		switch incident.Area {
		case AreaLAR:
			stats.LARIncidents++
		case AreaSAR:
			stats.SARIncidents++
		}

		stats.MonthlyTrends[incident.ReportedAt.Format("2006-01")]++

		if response, ok := m.responses[incident.ID]; ok {
			stats.ByClassification[string(response.Classification)]++
		}
	}

	return stats, nil
}

func matches(incident *Incident, filter IncidentFilter) bool {
	if filter.From != nil && incident.ReportedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && incident.ReportedAt.After(*filter.To) {
		return false
	}
	if filter.Area != nil && incident.Area != *filter.Area {
		return false
	}
	if filter.Priority != nil && incident.Priority != *filter.Priority {
		return false
	}
	if filter.Status != nil && incident.Status != *filter.Status {
		return false
	}
	return true
}
