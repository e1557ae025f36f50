package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/catherinevee/driftcert/internal/models"
)

// CreateRun persists a new validation run
func (s *Store) CreateRun(ctx context.Context, run *models.ValidationRun) error {
	return s.exec(ctx, `
		INSERT INTO validation_runs (run_id, service_id, environment, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.ServiceID, run.Environment, string(run.Status), run.StartedAt)
}

// UpdateRunStatus advances a run through the pipeline stages
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, runErr string) error {
	var completed interface{}
	if status == models.RunCompleted || status == models.RunFailed {
		completed = time.Now().UTC()
	}
	return s.exec(ctx, `
		UPDATE validation_runs SET status = ?, error = ?, completed_at = COALESCE(?, completed_at)
		WHERE run_id = ?`,
		string(status), runErr, completed, runID)
}

// GetRun fetches one validation run
func (s *Store) GetRun(ctx context.Context, runID string) (*models.ValidationRun, error) {
	var (
		run       models.ValidationRun
		status    string
		runErr    sql.NullString
		completed sql.NullTime
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT run_id, service_id, environment, status, error, started_at, completed_at
		FROM validation_runs WHERE run_id = ?`, runID).
		Scan(&run.RunID, &run.ServiceID, &run.Environment, &status, &runErr, &run.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.Error = runErr.String
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

// SaveContextBundle persists the drift-engine output and mirrors each delta
// into config_deltas for per-delta queries.
func (s *Store) SaveContextBundle(ctx context.Context, runID string, bundle *models.ContextBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO context_bundles (run_id, bundle) VALUES (?, ?)
			ON CONFLICT(run_id) DO UPDATE SET bundle = excluded.bundle, updated_at = CURRENT_TIMESTAMP`,
			runID, string(raw)); err != nil {
			return err
		}
		return replaceDeltas(ctx, tx, runID, bundle.Deltas)
	})
}

// UpdateContextBundleDeltas replaces the deltas list of a stored bundle in
// place. The guardrail stage uses this so triage only ever reads the
// redacted deltas.
func (s *Store) UpdateContextBundleDeltas(ctx context.Context, runID string, deltas []models.Delta) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT bundle FROM context_bundles WHERE run_id = ?`, runID).Scan(&raw)
		if err == sql.ErrNoRows {
			return fmt.Errorf("no context bundle for run %s", runID)
		}
		if err != nil {
			return err
		}

		var bundle models.ContextBundle
		if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
			return fmt.Errorf("failed to unmarshal stored bundle: %w", err)
		}
		bundle.Deltas = deltas
		bundle.Overview.TotalDeltas = len(deltas)

		updated, err := json.Marshal(&bundle)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE context_bundles SET bundle = ?, updated_at = CURRENT_TIMESTAMP WHERE run_id = ?`,
			string(updated), runID); err != nil {
			return err
		}
		return replaceDeltas(ctx, tx, runID, deltas)
	})
}

func replaceDeltas(ctx context.Context, tx *sql.Tx, runID string, deltas []models.Delta) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM config_deltas WHERE run_id = ?`, runID); err != nil {
		return err
	}
	for i := range deltas {
		payload, err := json.Marshal(&deltas[i])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO config_deltas (run_id, delta_id, file, category, payload)
			VALUES (?, ?, ?, ?, ?)`,
			runID, deltas[i].ID, deltas[i].File, string(deltas[i].Category), string(payload)); err != nil {
			return err
		}
	}
	return nil
}

// GetLatestContextBundle reads the bundle for a run
func (s *Store) GetLatestContextBundle(ctx context.Context, runID string) (*models.ContextBundle, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx, `SELECT bundle FROM context_bundles WHERE run_id = ?`, runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no context bundle for run %s", runID)
	}
	if err != nil {
		return nil, err
	}
	var bundle models.ContextBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
	}
	return &bundle, nil
}

// SaveLLMOutput persists the triage-stage output
func (s *Store) SaveLLMOutput(ctx context.Context, runID string, output *models.LLMOutput) error {
	return s.saveJSON(ctx, "llm_outputs", "output", runID, output)
}

// GetLatestLLMOutput reads the triage-stage output
func (s *Store) GetLatestLLMOutput(ctx context.Context, runID string) (*models.LLMOutput, error) {
	var out models.LLMOutput
	if err := s.loadJSON(ctx, "llm_outputs", "output", runID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SavePolicyValidation persists the guardrail-stage output
func (s *Store) SavePolicyValidation(ctx context.Context, runID string, pv *models.PolicyValidation) error {
	return s.saveJSON(ctx, "policy_validations", "validation", runID, pv)
}

// GetLatestPolicyValidation reads the guardrail-stage output
func (s *Store) GetLatestPolicyValidation(ctx context.Context, runID string) (*models.PolicyValidation, error) {
	var pv models.PolicyValidation
	if err := s.loadJSON(ctx, "policy_validations", "validation", runID, &pv); err != nil {
		return nil, err
	}
	return &pv, nil
}

// SaveCertification persists the final decision
func (s *Store) SaveCertification(ctx context.Context, runID string, cert *models.Certification) error {
	return s.saveJSON(ctx, "certifications", "certification", runID, cert)
}

// GetLatestCertification reads the final decision
func (s *Store) GetLatestCertification(ctx context.Context, runID string) (*models.Certification, error) {
	var cert models.Certification
	if err := s.loadJSON(ctx, "certifications", "certification", runID, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// SaveReport persists the compact per-run report
func (s *Store) SaveReport(ctx context.Context, runID string, report *models.Report) error {
	return s.saveJSON(ctx, "reports", "report", runID, report)
}

// BumpAggregatedResult increments the per-service decision tally
func (s *Store) BumpAggregatedResult(ctx context.Context, serviceID, environment string, decision models.Decision) error {
	return s.exec(ctx, `
		INSERT INTO aggregated_results (service_id, environment, decision, count, updated_at)
		VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(service_id, environment, decision)
		DO UPDATE SET count = count + 1, updated_at = CURRENT_TIMESTAMP`,
		serviceID, environment, string(decision))
}

func (s *Store) saveJSON(ctx context.Context, table, column, runID string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", table, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, %s) VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET %s = excluded.%s`, table, column, column, column)
	return s.exec(ctx, query, runID, string(raw))
}

func (s *Store) loadJSON(ctx context.Context, table, column, runID string, v interface{}) error {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = ?`, column, table)
	var raw string
	err := s.conn.QueryRowContext(ctx, query, runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no %s for run %s", table, runID)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
