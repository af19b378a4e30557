package platform

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrIncidentNotFound is returned when no incident matches the given id.
var ErrIncidentNotFound = errors.New("incident not found")

// IncidentStatus tracks an incident through its lifecycle.
type IncidentStatus string

const (
	StatusPending    IncidentStatus = "Pending"
	StatusInProgress IncidentStatus = "InProgress"
	StatusCompleted  IncidentStatus = "Completed"
)

// ParseStatus converts a wire value into an IncidentStatus.
func ParseStatus(s string) (IncidentStatus, bool) {
	switch IncidentStatus(s) {
	case StatusPending, StatusInProgress, StatusCompleted:
		return IncidentStatus(s), true
	}
	return "", false
}

// IncidentPriority ranks how urgently an incident needs a response.
type IncidentPriority string

const (
	PriorityLow      IncidentPriority = "Low"
	PriorityMedium   IncidentPriority = "Medium"
	PriorityHigh     IncidentPriority = "High"
	PriorityCritical IncidentPriority = "Critical"
)

// ParsePriority converts a wire value into an IncidentPriority.
func ParsePriority(s string) (IncidentPriority, bool) {
	switch IncidentPriority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return IncidentPriority(s), true
	}
	return "", false
}

// AreaType is the surveillance area an incident falls in.
type AreaType string

const (
	AreaSAR AreaType = "SAR"
	AreaLAR AreaType = "LAR"
)

// ParseArea converts a wire value into an AreaType.
func ParseArea(s string) (AreaType, bool) {
	switch AreaType(s) {
	case AreaSAR, AreaLAR:
		return AreaType(s), true
	}
	return "", false
}

// Classification is the security team's verdict on a reported point.
type Classification string

const (
	ClassificationActiveIRPoint   Classification = "ActiveIRPoint"
	ClassificationActiveICPoint   Classification = "ActiveICPoint"
	ClassificationActiveLeakPoint Classification = "ActiveLeakPoint"
	ClassificationInactiveOld     Classification = "InactiveOldPoint"
	ClassificationFalsePositive   Classification = "FalsePositive"
	ClassificationWrongCoordinate Classification = "WrongCoordinate"
	ClassificationOldIRPoint      Classification = "OldIRPoint"
)

// classificationCodes maps each classification to its stable numeric
// code. The codes are part of exported reports and must not change.
var classificationCodes = map[Classification]int{
	ClassificationActiveIRPoint:   0,
	ClassificationActiveICPoint:   1,
	ClassificationActiveLeakPoint: 2,
	ClassificationInactiveOld:     3,
	ClassificationFalsePositive:   4,
	ClassificationWrongCoordinate: 5,
	ClassificationOldIRPoint:      6,
}

var classificationsByCode = func() map[int]Classification {
	m := make(map[int]Classification, len(classificationCodes))
	for c, code := range classificationCodes {
		m[code] = c
	}
	return m
}()

// Classifications lists every known classification in code order.
func Classifications() []Classification {
	out := make([]Classification, len(classificationsByCode))
	for code, c := range classificationsByCode {
		out[code] = c
	}
	return out
}

// ParseClassification converts a wire value into a Classification.
// Unknown names report false rather than defaulting.
func ParseClassification(s string) (Classification, bool) {
	c := Classification(s)
	if _, ok := classificationCodes[c]; ok {
		return c, true
	}
	return "", false
}

// ClassificationFromCode resolves a numeric code back to its name.
func ClassificationFromCode(code int) (Classification, bool) {
	c, ok := classificationsByCode[code]
	return c, ok
}

// Code returns the classification's stable numeric code, or -1 for an
// unknown classification.
func (c Classification) Code() int {
	if code, ok := classificationCodes[c]; ok {
		return code
	}
	return -1
}

// Incident is a reported observation awaiting a security response.
type Incident struct {
	ID          uuid.UUID        `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Priority    IncidentPriority `json:"priority"`
	Status      IncidentStatus   `json:"status"`
	Area        AreaType         `json:"area"`
	Latitude    float64          `json:"latitude"`
	Longitude   float64          `json:"longitude"`
	PathLine    string           `json:"path_line,omitempty"`
	ImageLink   string           `json:"image_link,omitempty"`
	VideoLink   string           `json:"video_link,omitempty"`

	ReportedAt           time.Time  `json:"reported_at"`
	ReportedToSecurityAt *time.Time `json:"reported_to_security_at,omitempty"`

	ReportedBy uuid.UUID  `json:"reported_by"`
	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`
}

// SecurityResponse is the security team's answer to an incident.
type SecurityResponse struct {
	ID                 uuid.UUID      `json:"id"`
	IncidentID         uuid.UUID      `json:"incident_id"`
	ActionTaken        string         `json:"action_taken"`
	AdditionalComments string         `json:"additional_comments,omitempty"`
	Classification     Classification `json:"classification"`
	InterventionImage  string         `json:"intervention_image,omitempty"`
	RespondedAt        time.Time      `json:"responded_at"`
	RespondedBy        uuid.UUID      `json:"responded_by"`
}

// IncidentFilter narrows an incident listing. Nil fields match all.
type IncidentFilter struct {
	From     *time.Time
	To       *time.Time
	Area     *AreaType
	Priority *IncidentPriority
	Status   *IncidentStatus
}

// Statistics aggregates the incident trail for management reports.
type Statistics struct {
	TotalIncidents     int            `json:"total_incidents"`
	PendingIncidents   int            `json:"pending_incidents"`
	CompletedIncidents int            `json:"completed_incidents"`
	CriticalPriority   int            `json:"critical_priority"`
	HighPriority       int            `json:"high_priority"`
	MediumPriority     int            `json:"medium_priority"`
	LowPriority        int            `json:"low_priority"`
	LARIncidents       int            `json:"lar_incidents"`
	SARIncidents       int            `json:"sar_incidents"`
	ByClassification   map[string]int `json:"by_classification"`
	MonthlyTrends      map[string]int `json:"monthly_trends"`
}
