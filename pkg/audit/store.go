package audit

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

// SortColumns maps accepted sortBy values to audit_events columns.
var SortColumns = map[string]string{
	"created_at":  "created_at",
	"resource":    "resource",
	"action":      "action",
	"outcome":     "outcome",
	"status_code": "status_code",
}

// Store persists audit events.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit_events table.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Event{})
}

// Append writes one event. Callers treat failures as non-fatal.
func (s *Store) Append(ev *Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return s.db.Create(ev).Error
}

// Get returns an event by ID, or nil when it does not exist.
func (s *Store) Get(id string) (*Event, error) {
	var ev Event
	err := s.db.First(&ev, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	Resource string
	Action   string
	Outcome  string
}

// List returns one page of events plus the filtered total.
func (s *Store) List(opts query.ListOptions, filter ListFilter) ([]Event, int64, error) {
	q := s.db.Model(&Event{})
	if filter.Resource != "" {
		q = q.Where("resource = ?", filter.Resource)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []Event
	err := q.Order(opts.OrderClause()).
		Limit(opts.PageSize).
		Offset(opts.Offset()).
		Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// DeleteOlderThan removes events created before cutoff and reports how many
// rows were deleted.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&Event{})
	return res.RowsAffected, res.Error
}
