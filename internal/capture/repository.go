// Package capture catalogs BLOB artifacts saved by the INDI client, so
// operators can list frames by device or imaging job after the fact.
package capture

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Capture is one saved artifact.
type Capture struct {
	ID       string `json:"id"`
	JobID    string `json:"job_id,omitempty"`
	Device   string `json:"device"`
	Property string `json:"property"`

	// Path is relative to the images directory, slash separated.
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which captures to return.
type Filter struct {
	Device string
	JobID  string
	Limit  int
	Offset int
}

// ListResult contains one page of captures.
type ListResult struct {
	Captures []Capture `json:"captures"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Repository defines capture catalog operations.
type Repository interface {
	Create(ctx context.Context, c *Capture) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores captures in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new capture repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts c, assigning ID and CreatedAt if empty.
func (r *SQLiteRepository) Create(ctx context.Context, c *Capture) error {
	if c.Device == "" || c.Path == "" {
		return fmt.Errorf("capture: device and path are required")
	}
	if c.ID == "" {
		c.ID = "cap-" + uuid.NewString()[:8]
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var jobID any
	if c.JobID != "" {
		jobID = c.JobID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO captures (id, job_id, device, property, path, format, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, jobID, c.Device, c.Property, c.Path, c.Format, c.SizeBytes,
		c.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting capture: %w", err)
	}
	return nil
}

// List returns captures matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultLimit
	case filter.Limit > maxLimit:
		filter.Limit = maxLimit
	}
	filter.Offset = max(filter.Offset, 0)

	var conditions []string
	var args []any
	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.JobID != "" {
		conditions = append(conditions, "job_id = ?")
		args = append(args, filter.JobID)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures "+where, args...).Scan(&total); err != nil { //nolint:gosec // parameterised
		return nil, fmt.Errorf("counting captures: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, job_id, device, property, path, format, size_bytes, created_at FROM captures "+ //nolint:gosec // parameterised
			where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying captures: %w", err)
	}
	defer rows.Close()

	out := []Capture{}
	for rows.Next() {
		var c Capture
		var jobID sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &jobID, &c.Device, &c.Property, &c.Path, &c.Format, &c.SizeBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning capture: %w", err)
		}
		c.JobID = jobID.String
		if c.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing capture timestamp %q: %w", createdAt, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating captures: %w", err)
	}

	return &ListResult{Captures: out, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
