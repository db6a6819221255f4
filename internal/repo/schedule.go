package repo

import (
	"context"
	"database/sql"

	"scopeline/internal/domain"
)

const slotColumns = `id,phase_id,person_id,role,start_at,end_at,created_at`

func scanSlot(row rowScanner) (domain.TimeSlot, error) {
	var s domain.TimeSlot
	err := row.Scan(&s.ID, &s.PhaseID, &s.PersonID, &s.Role, &s.Start, &s.End, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertSlot(ctx context.Context, s domain.TimeSlot) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO time_slots(id,phase_id,person_id,role,start_at,end_at,created_at)
VALUES (?,?,?,?,?,?,?)`, s.ID, s.PhaseID, s.PersonID, s.Role, s.Start, s.End, s.CreatedAt)
	return err
}

func (r Repo) InsertSlotTx(ctx context.Context, tx *sql.Tx, s domain.TimeSlot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO time_slots(id,phase_id,person_id,role,start_at,end_at,created_at)
VALUES (?,?,?,?,?,?,?)`, s.ID, s.PhaseID, s.PersonID, s.Role, s.Start, s.End, s.CreatedAt)
	return err
}

func (r Repo) GetSlot(ctx context.Context, id string) (domain.TimeSlot, error) {
	return scanSlot(r.DB.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id=?`, id))
}

func (r Repo) GetSlotTx(ctx context.Context, tx *sql.Tx, id string) (domain.TimeSlot, error) {
	return scanSlot(tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id=?`, id))
}

func (r Repo) DeleteSlotTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM time_slots WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSlotsByPhase(ctx context.Context, phaseID string) ([]domain.TimeSlot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE phase_id=? ORDER BY start_at`, phaseID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r Repo) ListSlotsByPerson(ctx context.Context, personID string) ([]domain.TimeSlot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE person_id=? ORDER BY start_at`, personID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r Repo) ListSlotsByPhaseTx(ctx context.Context, tx *sql.Tx, phaseID string) ([]domain.TimeSlot, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE phase_id=? ORDER BY start_at`, phaseID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func collectSlots(rows *sql.Rows) ([]domain.TimeSlot, error) {
	defer rows.Close()
	var out []domain.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) CountSlotsByPhase(ctx context.Context, phaseID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM time_slots WHERE phase_id=?`, phaseID).Scan(&n)
	return n, err
}

func (r Repo) CountSlotsByPhaseTx(ctx context.Context, tx *sql.Tx, phaseID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM time_slots WHERE phase_id=?`, phaseID).Scan(&n)
	return n, err
}

func (r Repo) InsertCostRecord(ctx context.Context, c domain.CostRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cost_records(id,person_id,effective_date,cost_per_hour)
VALUES (?,?,?,?) ON CONFLICT(person_id,effective_date) DO UPDATE SET cost_per_hour=excluded.cost_per_hour`,
		c.ID, c.PersonID, c.EffectiveDate, c.CostPerHour)
	return err
}

func (r Repo) ListCostRecords(ctx context.Context, personID string) ([]domain.CostRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,person_id,effective_date,cost_per_hour FROM cost_records
WHERE person_id=? ORDER BY effective_date DESC`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CostRecord
	for rows.Next() {
		var c domain.CostRecord
		if err := rows.Scan(&c.ID, &c.PersonID, &c.EffectiveDate, &c.CostPerHour); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r Repo) InsertFeedback(ctx context.Context, f domain.Feedback) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO feedback(id,phase_id,kind,author_id,body,created_at)
VALUES (?,?,?,?,?,?)`, f.ID, f.PhaseID, f.Kind, f.AuthorID, f.Body, f.CreatedAt)
	return err
}

func (r Repo) ListFeedback(ctx context.Context, phaseID string) ([]domain.Feedback, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,phase_id,kind,author_id,body,created_at FROM feedback
WHERE phase_id=? ORDER BY created_at`, phaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		if err := rows.Scan(&f.ID, &f.PhaseID, &f.Kind, &f.AuthorID, &f.Body, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountFeedbackByKind returns per-kind entry counts for one phase.
func (r Repo) CountFeedbackByKind(ctx context.Context, phaseID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind, COUNT(*) FROM feedback WHERE phase_id=? GROUP BY kind`, phaseID)
	if err != nil {
		return nil, err
	}
	return collectFeedbackCounts(rows)
}

func (r Repo) CountFeedbackByKindTx(ctx context.Context, tx *sql.Tx, phaseID string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT kind, COUNT(*) FROM feedback WHERE phase_id=? GROUP BY kind`, phaseID)
	if err != nil {
		return nil, err
	}
	return collectFeedbackCounts(rows)
}

func collectFeedbackCounts(rows *sql.Rows) (map[string]int, error) {
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (r Repo) InsertChecklistItem(ctx context.Context, c domain.ChecklistItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO checklist_items(id,entity_kind,target_status,text,sort)
VALUES (?,?,?,?,?)`, c.ID, c.EntityKind, c.TargetStatus, c.Text, c.Sort)
	return err
}

func (r Repo) ListChecklist(ctx context.Context, entityKind, targetStatus string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entity_kind,target_status,text,sort FROM checklist_items
WHERE entity_kind=? AND target_status=? ORDER BY sort, id`, entityKind, targetStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ChecklistItem
	for rows.Next() {
		var c domain.ChecklistItem
		if err := rows.Scan(&c.ID, &c.EntityKind, &c.TargetStatus, &c.Text, &c.Sort); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
