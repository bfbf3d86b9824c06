package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

func (d *Database) CreateSession(ctx context.Context, s *models.SessionRecord) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = models.StatusRunning
	}

	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, project, mode, status, unit_start, unit_end, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET status = $4, updated_at = $8`,
		s.ID,
		s.Project,
		s.Mode,
		s.Status,
		s.UnitStart,
		s.UnitEnd,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

func (d *Database) GetSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, project, mode, status, unit_start, unit_end, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`, id)

	var s models.SessionRecord
	err := row.Scan(
		&s.ID,
		&s.Project,
		&s.Mode,
		&s.Status,
		&s.UnitStart,
		&s.UnitEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Сессия не найдена - это не ошибка
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (d *Database) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	_, err := d.DB.ExecContext(ctx,
		"UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3",
		status,
		time.Now(),
		id,
	)
	return err
}

// SaveReport stores the final status of a session and its per-view statistics
// in one transaction.
func (d *Database) SaveReport(ctx context.Context, report *models.Report, status models.SessionStatus) error {
	tx, err := d.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status = $1, mode = $2, unit_end = $3, units = $4, error = $5, updated_at = $6 WHERE id = $7`,
		status,
		report.Mode,
		report.UnitEnd,
		report.Units,
		report.Error,
		time.Now(),
		report.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	for _, v := range report.Views {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO view_stats (session_id, view_id, attempts, successes, failures, timeouts, errors, degraded, dead, moved)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (session_id, view_id) DO UPDATE SET
					attempts = $3, successes = $4, failures = $5, timeouts = $6, errors = $7,
					degraded = $8, dead = $9, moved = $10`,
			report.SessionID, v.ViewID, v.Attempts, v.Successes, v.Failures, v.Timeouts, v.Errors,
			v.Degraded, v.Dead, v.Moved,
		)
		if err != nil {
			return fmt.Errorf("save stats of view %d: %w", v.ViewID, err)
		}
	}

	return tx.Commit()
}

// GetViewStats returns the stored statistics of a session ordered by view id.
func (d *Database) GetViewStats(ctx context.Context, sessionID string) ([]models.StationStats, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT view_id, attempts, successes, failures, timeouts, errors, degraded, dead, moved
		FROM view_stats
		WHERE session_id = $1
		ORDER BY view_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.StationStats
	for rows.Next() {
		var s models.StationStats
		if err := rows.Scan(&s.ViewID, &s.Attempts, &s.Successes, &s.Failures, &s.Timeouts, &s.Errors, &s.Degraded, &s.Dead, &s.Moved); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
