package repo

import (
	"context"
	"database/sql"

	"scopeline/internal/domain"
)

const phaseColumns = `id,job_id,seq,title,status,status_changed_at,report_count,
hours_delivery,hours_reporting,hours_management,hours_qa,hours_oversight,hours_debrief,hours_contingency,hours_other,
project_lead_id,report_author_id,techqa_reviewer_id,presqa_reviewer_id,
start_override,deliver_override,tqa_due_override,pqa_due_override,
scope_verdict,COALESCE(deliverable_link,''),COALESCE(tech_data_link,''),COALESCE(report_data_link,''),
techqa_rating,presqa_rating,techqa_passed_at,created_at,updated_at`

func scanPhase(row rowScanner) (domain.Phase, error) {
	var p domain.Phase
	err := row.Scan(&p.ID, &p.JobID, &p.Seq, &p.Title, &p.Status, &p.StatusChangedAt, &p.ReportCount,
		&p.Hours.Delivery, &p.Hours.Reporting, &p.Hours.Management, &p.Hours.QA,
		&p.Hours.Oversight, &p.Hours.Debrief, &p.Hours.Contingency, &p.Hours.Other,
		&p.ProjectLead, &p.ReportAuthor, &p.TechQAReviewer, &p.PresQAReviewer,
		&p.StartOverride, &p.DeliverOverride, &p.TQADueOverride, &p.PQADueOverride,
		&p.ScopeVerdict, &p.DeliverableLink, &p.TechDataLink, &p.ReportDataLink,
		&p.TechQARating, &p.PresQARating, &p.TechQAPassedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertPhase(ctx context.Context, p domain.Phase) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO phases(id,job_id,seq,title,status,status_changed_at,report_count,
hours_delivery,hours_reporting,hours_management,hours_qa,hours_oversight,hours_debrief,hours_contingency,hours_other,
project_lead_id,report_author_id,techqa_reviewer_id,presqa_reviewer_id,
start_override,deliver_override,tqa_due_override,pqa_due_override,
scope_verdict,deliverable_link,tech_data_link,report_data_link,
techqa_rating,presqa_rating,techqa_passed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.Seq, p.Title, p.Status, p.StatusChangedAt, p.ReportCount,
		p.Hours.Delivery, p.Hours.Reporting, p.Hours.Management, p.Hours.QA,
		p.Hours.Oversight, p.Hours.Debrief, p.Hours.Contingency, p.Hours.Other,
		p.ProjectLead, p.ReportAuthor, p.TechQAReviewer, p.PresQAReviewer,
		p.StartOverride, p.DeliverOverride, p.TQADueOverride, p.PQADueOverride,
		p.ScopeVerdict, nullable(p.DeliverableLink), nullable(p.TechDataLink), nullable(p.ReportDataLink),
		p.TechQARating, p.PresQARating, p.TechQAPassedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPhase(ctx context.Context, id string) (domain.Phase, error) {
	return scanPhase(r.DB.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id=?`, id))
}

func (r Repo) GetPhaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Phase, error) {
	return scanPhase(tx.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id=?`, id))
}

func (r Repo) ListPhasesByJob(ctx context.Context, jobID string) ([]domain.Phase, error) {
	return r.listPhases(ctx, `SELECT `+phaseColumns+` FROM phases WHERE job_id=? ORDER BY seq`, jobID)
}

func (r Repo) ListPhasesByJobTx(ctx context.Context, tx *sql.Tx, jobID string) ([]domain.Phase, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE job_id=? ORDER BY seq`, jobID)
	if err != nil {
		return nil, err
	}
	return collectPhases(rows)
}

func (r Repo) ListPhasesByStatus(ctx context.Context, status string) ([]domain.Phase, error) {
	return r.listPhases(ctx, `SELECT `+phaseColumns+` FROM phases WHERE status=? ORDER BY job_id, seq`, status)
}

func (r Repo) listPhases(ctx context.Context, query string, args ...any) ([]domain.Phase, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectPhases(rows)
}

func collectPhases(rows *sql.Rows) ([]domain.Phase, error) {
	defer rows.Close()
	var out []domain.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) UpdatePhaseTx(ctx context.Context, tx *sql.Tx, p domain.Phase) error {
	res, err := tx.ExecContext(ctx, `UPDATE phases SET seq=?,title=?,status=?,status_changed_at=?,report_count=?,
hours_delivery=?,hours_reporting=?,hours_management=?,hours_qa=?,hours_oversight=?,hours_debrief=?,hours_contingency=?,hours_other=?,
project_lead_id=?,report_author_id=?,techqa_reviewer_id=?,presqa_reviewer_id=?,
start_override=?,deliver_override=?,tqa_due_override=?,pqa_due_override=?,
scope_verdict=?,deliverable_link=?,tech_data_link=?,report_data_link=?,
techqa_rating=?,presqa_rating=?,techqa_passed_at=?,updated_at=?
WHERE id=?`,
		p.Seq, p.Title, p.Status, p.StatusChangedAt, p.ReportCount,
		p.Hours.Delivery, p.Hours.Reporting, p.Hours.Management, p.Hours.QA,
		p.Hours.Oversight, p.Hours.Debrief, p.Hours.Contingency, p.Hours.Other,
		p.ProjectLead, p.ReportAuthor, p.TechQAReviewer, p.PresQAReviewer,
		p.StartOverride, p.DeliverOverride, p.TQADueOverride, p.PQADueOverride,
		p.ScopeVerdict, nullable(p.DeliverableLink), nullable(p.TechDataLink), nullable(p.ReportDataLink),
		p.TechQARating, p.PresQARating, p.TechQAPassedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdatePhase(ctx context.Context, p domain.Phase) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpdatePhaseTx(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) DeletePhase(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM phases WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) NextPhaseSeq(ctx context.Context, jobID string) (int, error) {
	var seq sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM phases WHERE job_id=?`, jobID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return int(seq.Int64) + 1, nil
}
