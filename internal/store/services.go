package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/catherinevee/driftcert/internal/models"
)

// UpsertService inserts or updates a service row, reactivating it if needed
func (s *Store) UpsertService(ctx context.Context, svc *models.Service) error {
	envs, _ := json.Marshal(svc.Environments)
	paths, _ := json.Marshal(svc.ConfigPaths)

	return s.exec(ctx, `
		INSERT INTO services (service_id, display_name, repo_url, main_branch, environments, config_paths, grp, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(service_id) DO UPDATE SET
			display_name = excluded.display_name,
			repo_url = excluded.repo_url,
			main_branch = excluded.main_branch,
			environments = excluded.environments,
			config_paths = excluded.config_paths,
			grp = excluded.grp,
			active = 1,
			updated_at = CURRENT_TIMESTAMP`,
		svc.ServiceID, svc.DisplayName, svc.RepoURL, svc.MainBranch,
		string(envs), string(paths), svc.Group)
}

// GetService fetches one service by id
func (s *Store) GetService(ctx context.Context, serviceID string) (*models.Service, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT service_id, display_name, repo_url, main_branch, environments, config_paths, grp, active, created_at, updated_at
		FROM services WHERE service_id = ?`, serviceID)
	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service %s not found", serviceID)
	}
	return svc, err
}

// ListServices returns all services, optionally only active ones
func (s *Store) ListServices(ctx context.Context, activeOnly bool) ([]*models.Service, error) {
	query := `SELECT service_id, display_name, repo_url, main_branch, environments, config_paths, grp, active, created_at, updated_at FROM services`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY service_id`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// ListGroups returns the distinct groups present in the registry
func (s *Store) ListGroups(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT DISTINCT grp FROM services ORDER BY grp`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeactivateGroup soft-deletes every service of a group that left the roster
func (s *Store) DeactivateGroup(ctx context.Context, group string) (int64, error) {
	var affected int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE services SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE grp = ? AND active = 1`, group)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// CountServices returns total and active service counts
func (s *Store) CountServices(ctx context.Context) (total, active int, err error) {
	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(active), 0) FROM services`).Scan(&total, &active)
	return
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row rowScanner) (*models.Service, error) {
	var (
		svc         models.Service
		envs, paths string
		active      int
	)
	err := row.Scan(&svc.ServiceID, &svc.DisplayName, &svc.RepoURL, &svc.MainBranch,
		&envs, &paths, &svc.Group, &active, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	svc.Active = active == 1
	json.Unmarshal([]byte(envs), &svc.Environments)
	json.Unmarshal([]byte(paths), &svc.ConfigPaths)
	return &svc, nil
}
