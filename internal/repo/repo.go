package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"scopeline/internal/domain"
)

// Repo is the persistence collaborator over the sqlite workspace.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const jobColumns = `id,client_name,title,COALESCE(overview,''),status,status_changed_at,
high_risk,tech_complex,COALESCE(high_risk_reason,''),COALESCE(primary_contact,''),
account_manager_id,signoff_approver_id,start_override,deliver_override,
scope_requested_at,signed_off_by,signed_off_at,scoper_ids,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var scopers sql.NullString
	err := row.Scan(&j.ID, &j.ClientName, &j.Title, &j.Overview, &j.Status, &j.StatusChangedAt,
		&j.HighRisk, &j.TechComplex, &j.HighRiskReason, &j.PrimaryContact,
		&j.AccountManager, &j.SignoffApprover, &j.StartOverride, &j.DeliverOverride,
		&j.ScopeRequestedAt, &j.SignedOffBy, &j.SignedOffAt, &scopers, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if scopers.Valid && scopers.String != "" {
		_ = json.Unmarshal([]byte(scopers.String), &j.ScoperIDs)
	}
	return j, nil
}

func scoperJSON(ids []string) any {
	if len(ids) == 0 {
		return nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return string(b)
}

func (r Repo) InsertJob(ctx context.Context, j domain.Job) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO jobs(id,client_name,title,overview,status,status_changed_at,
high_risk,tech_complex,high_risk_reason,primary_contact,account_manager_id,signoff_approver_id,
start_override,deliver_override,scope_requested_at,signed_off_by,signed_off_at,scoper_ids,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ClientName, j.Title, nullable(j.Overview), j.Status, j.StatusChangedAt,
		j.HighRisk, j.TechComplex, nullable(j.HighRiskReason), nullable(j.PrimaryContact),
		j.AccountManager, j.SignoffApprover, j.StartOverride, j.DeliverOverride,
		j.ScopeRequestedAt, j.SignedOffBy, j.SignedOffAt, scoperJSON(j.ScoperIDs),
		j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

func (r Repo) ListJobs(ctx context.Context, statuses []string) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r Repo) UpdateJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET client_name=?,title=?,overview=?,status=?,status_changed_at=?,
high_risk=?,tech_complex=?,high_risk_reason=?,primary_contact=?,account_manager_id=?,signoff_approver_id=?,
start_override=?,deliver_override=?,scope_requested_at=?,signed_off_by=?,signed_off_at=?,scoper_ids=?,updated_at=?
WHERE id=?`,
		j.ClientName, j.Title, nullable(j.Overview), j.Status, j.StatusChangedAt,
		j.HighRisk, j.TechComplex, nullable(j.HighRiskReason), nullable(j.PrimaryContact),
		j.AccountManager, j.SignoffApprover, j.StartOverride, j.DeliverOverride,
		j.ScopeRequestedAt, j.SignedOffBy, j.SignedOffAt, scoperJSON(j.ScoperIDs), j.UpdatedAt, j.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateJob(ctx context.Context, j domain.Job) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpdateJobTx(ctx, tx, j); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) DeleteJob(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListEvents(ctx context.Context, jobID string, limit int, cursorID int64) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	if cursorID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, cursorID)
	}
	query := `SELECT id,ts,type,COALESCE(job_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.JobID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r Repo) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	query := `SELECT id,kind,title,body_ref,entity_kind,entity_id,audience,created_at FROM notifications ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.BodyRef, &n.EntityKind, &n.EntityID, &n.Audience, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
