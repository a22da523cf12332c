package model

import (
	"strings"
	"time"
)

// JobState represents the current state of a contact job.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateInProgress JobState = "in_progress"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateInProgress, JobStateCompleted, JobStateFailed:
		return true
	}
	return false
}

// Portal identifies a listing portal with a contact automation.
type Portal string

const (
	PortalCasalia Portal = "casalia"
	PortalHogarix Portal = "hogarix"
	PortalPisea   Portal = "pisea"
	PortalVentora Portal = "ventora"
)

// Portals lists every known portal in registration order.
func Portals() []Portal {
	return []Portal{PortalCasalia, PortalHogarix, PortalPisea, PortalVentora}
}

// ParsePortal converts a string (CLI flag, CSV cell) into a Portal.
func ParsePortal(s string) (Portal, bool) {
	p := Portal(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Portals() {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// ContactJob is one unit of outreach work: a listing on a portal whose
// seller should be contacted. Jobs are created by the discovery subsystem
// (or imported from lead files) and consumed by the process command.
type ContactJob struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	LeadID     string `json:"lead_id"`
	Portal     Portal `json:"portal"`
	ListingURL string `json:"listing_url"`
	Title      string `json:"title"`
	// MessageTemplate is this job's own message, set at enqueue time.
	// Empty means the run-level message applies.
	MessageTemplate string     `json:"message_template,omitempty"`
	Priority        int        `json:"priority"`
	State           JobState   `json:"state"`
	Phone           *string    `json:"phone,omitempty"`
	MessageSent     bool       `json:"message_sent"`
	Error           *string    `json:"error,omitempty"`
	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// ContactResult is the outcome of a single contact attempt. A job counts as
// successful when it produced a phone number or a sent message; both at once
// is the best case, either alone still moves the lead forward.
type ContactResult struct {
	LeadID      string        `json:"lead_id"`
	Portal      Portal        `json:"portal"`
	Success     bool          `json:"success"`
	Phone       string        `json:"phone,omitempty"`
	MessageSent bool          `json:"message_sent"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ms"`
	Timestamp   time.Time     `json:"timestamp"`
}

// RunSummary aggregates one orchestrator run for logging and alerting.
type RunSummary struct {
	Tenant        string          `json:"tenant"`
	Portal        Portal          `json:"portal"`
	Processed     int             `json:"processed"`
	Succeeded     int             `json:"succeeded"`
	Failed        int             `json:"failed"`
	PhonesFound   int             `json:"phones_found"`
	MessagesSent  int             `json:"messages_sent"`
	SolveSpendUSD float64         `json:"solve_spend_usd"`
	Duration      time.Duration   `json:"duration_ms"`
	Results       []ContactResult `json:"results,omitempty"`
}

// Add folds one result into the summary.
func (s *RunSummary) Add(res ContactResult) {
	s.Processed++
	if res.Success {
		s.Succeeded++
	} else {
		s.Failed++
	}
	if res.Phone != "" {
		s.PhonesFound++
	}
	if res.MessageSent {
		s.MessagesSent++
	}
	s.Results = append(s.Results, res)
}

// RenderMessage substitutes the {title} placeholder with the job's listing
// title. Unknown placeholders are left in the text untouched.
func RenderMessage(template string, job ContactJob) string {
	return strings.ReplaceAll(template, "{title}", job.Title)
}
