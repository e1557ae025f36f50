package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/catherinevee/driftcert/internal/models"
)

// SetActiveGoldenBranch records a new active baseline for (service, env).
// Deactivate-all-then-insert runs in one transaction so readers always see
// exactly one active golden row per (service, env).
func (s *Store) SetActiveGoldenBranch(ctx context.Context, gb *models.GoldenBranch) error {
	meta, _ := json.Marshal(gb.Metadata)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE golden_branches SET is_active = 0
			WHERE service_id = ? AND environment = ? AND branch_type = ? AND is_active = 1`,
			gb.ServiceID, gb.Environment, string(models.BranchGolden))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO golden_branches (service_id, environment, branch_name, branch_type, is_active, certification_score, metadata)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			gb.ServiceID, gb.Environment, gb.BranchName, string(models.BranchGolden),
			gb.CertificationScore, string(meta))
		return err
	})
}

// RecordDriftBranch stores a drift snapshot branch (never active-unique)
func (s *Store) RecordDriftBranch(ctx context.Context, gb *models.GoldenBranch) error {
	meta, _ := json.Marshal(gb.Metadata)
	return s.exec(ctx, `
		INSERT INTO golden_branches (service_id, environment, branch_name, branch_type, is_active, metadata)
		VALUES (?, ?, ?, ?, 0, ?)`,
		gb.ServiceID, gb.Environment, gb.BranchName, string(models.BranchDrift), string(meta))
}

// GetActiveGoldenBranch returns the single active baseline, or nil
func (s *Store) GetActiveGoldenBranch(ctx context.Context, serviceID, environment string) (*models.GoldenBranch, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, service_id, environment, branch_name, branch_type, is_active, certification_score, metadata, created_at
		FROM golden_branches
		WHERE service_id = ? AND environment = ? AND branch_type = ? AND is_active = 1`,
		serviceID, environment, string(models.BranchGolden))

	gb, err := scanGoldenBranch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return gb, err
}

// HasActiveGolden reports whether every listed environment has an active baseline
func (s *Store) HasActiveGolden(ctx context.Context, serviceID string, environments []string) (bool, error) {
	for _, env := range environments {
		gb, err := s.GetActiveGoldenBranch(ctx, serviceID, env)
		if err != nil {
			return false, err
		}
		if gb == nil {
			return false, nil
		}
	}
	return true, nil
}

func scanGoldenBranch(row rowScanner) (*models.GoldenBranch, error) {
	var (
		gb       models.GoldenBranch
		bt       string
		active   int
		score    sql.NullFloat64
		metadata sql.NullString
	)
	err := row.Scan(&gb.ID, &gb.ServiceID, &gb.Environment, &gb.BranchName, &bt,
		&active, &score, &metadata, &gb.CreatedAt)
	if err != nil {
		return nil, err
	}
	gb.BranchType = models.BranchType(bt)
	gb.IsActive = active == 1
	if score.Valid {
		gb.CertificationScore = &score.Float64
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &gb.Metadata)
	}
	return &gb, nil
}
