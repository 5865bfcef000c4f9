package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uzbekfilmtv/kinobot/internal/models"
)

// BroadcastRepository persists the aggregate outcome of every fan-out run.
type BroadcastRepository struct {
	db *sql.DB
}

func NewBroadcastRepository(db *sql.DB) *BroadcastRepository {
	return &BroadcastRepository{db: db}
}

func (r *BroadcastRepository) Record(ctx context.Context, report models.BroadcastReport) error {
	const query = `
INSERT INTO broadcast_runs (run_id, succeeded, failed, total)
VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, report.RunID, report.Succeeded, report.Failed, report.Total); err != nil {
		return fmt.Errorf("record broadcast run: %w", err)
	}
	return nil
}

func (r *BroadcastRepository) List(ctx context.Context, limit int) ([]models.BroadcastReport, error) {
	const query = `
SELECT run_id, succeeded, failed, total FROM broadcast_runs
ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list broadcast runs: %w", err)
	}
	defer rows.Close()

	var reports []models.BroadcastReport
	for rows.Next() {
		var rep models.BroadcastReport
		if err := rows.Scan(&rep.RunID, &rep.Succeeded, &rep.Failed, &rep.Total); err != nil {
			return nil, fmt.Errorf("scan broadcast run: %w", err)
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}
