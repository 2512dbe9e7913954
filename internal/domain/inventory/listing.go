package inventory

import (
	"errors"
	"time"
)

// ListingStatus is the marketplace-facing state of a listing.
type ListingStatus string

const (
	ListingDraft  ListingStatus = "DRAFT"
	ListingActive ListingStatus = "ACTIVE"
	ListingPaused ListingStatus = "PAUSED"
	ListingEnded  ListingStatus = "ENDED"
	ListingError  ListingStatus = "ERROR"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrNotPaused       = errors.New("listing is not paused")
)

// Listing is the slice of the listing entity the inventory state
// machine owns: status plus the auto pause/resume bookkeeping.
type Listing struct {
	ID                string
	ProductID         string
	Marketplace       string
	Status            ListingStatus
	AutoStatusEnabled bool
	PausedByInventory bool
	ResumeAt          *time.Time
	UpdatedAt         time.Time
}

// PauseByInventory marks a system-initiated pause. Any scheduled
// resume is cancelled so a stale timestamp cannot resurrect the
// listing.
func (l *Listing) PauseByInventory() {
	l.Status = ListingPaused
	l.PausedByInventory = true
	l.ResumeAt = nil
	l.UpdatedAt = time.Now().UTC()
}

// ScheduleResume records the dwell-time deadline after stock recovery.
// Status stays PAUSED until the sweep fires.
func (l *Listing) ScheduleResume(at time.Time) {
	l.ResumeAt = &at
	l.UpdatedAt = time.Now().UTC()
}

// Resume reactivates a system-paused listing.
func (l *Listing) Resume() {
	l.Status = ListingActive
	l.PausedByInventory = false
	l.ResumeAt = nil
	l.UpdatedAt = time.Now().UTC()
}

// ResumeDue reports whether the scheduled resume deadline has passed.
func (l *Listing) ResumeDue(now time.Time) bool {
	return l.PausedByInventory && l.ResumeAt != nil && !l.ResumeAt.After(now)
}
