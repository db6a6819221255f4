package sweep_test

import (
	"context"
	"testing"
	"time"

	"scopeline/internal/config"
	"scopeline/internal/db"
	"scopeline/internal/domain"
	"scopeline/internal/engine"
	"scopeline/internal/migrate"
	"scopeline/internal/sweep"
	"scopeline/internal/workflow"
)

type testEnv struct {
	Engine  *engine.Engine
	Sweeper *sweep.Sweeper
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	r := cfg.Roles["scope_approvers"]
	r.Members = append(r.Members, "approver")
	cfg.Roles["scope_approvers"] = r
	eng := engine.New(conn, cfg, nil)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Sweeper: sweep.New(eng, nil), Ctx: context.Background()}
}

func str(v string) *string { return &v }

// confirmedPhase builds a one-phase job with a confirmed schedule starting
// on the given day.
func confirmedPhase(t *testing.T, env testEnv, start, end string) (domain.Job, domain.Phase) {
	t.Helper()
	j, err := env.Engine.CreateJob(env.Ctx, engine.CreateJobParams{
		ClientName:     "Acme",
		Title:          "Review",
		Overview:       "Overview",
		PrimaryContact: "contact@acme.example",
		AccountManager: str("am-1"),
	}, "am-1")
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.CreatePhase(env.Ctx, j.ID, engine.CreatePhaseParams{
		Title:       "Phase one",
		Hours:       domain.ScopedHours{Delivery: 16},
		ProjectLead: str("consultant-1"),
	}, "am-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, target := range []workflow.JobStatus{
		workflow.JobPendingScope, workflow.JobScoping,
		workflow.JobPendingSignoff, workflow.JobScopingComplete,
	} {
		var res workflow.Result
		j, res, err = env.Engine.TransitionJob(env.Ctx, j.ID, target, "approver")
		if err != nil || !res.Allowed {
			t.Fatalf("job to %s: %v %+v", target, err, res.Messages)
		}
	}
	if _, err := env.Engine.AddSlot(env.Ctx, engine.AddSlotParams{
		PhaseID:  &p.ID,
		PersonID: "consultant-1",
		Role:     "delivery",
		Start:    start,
		End:      end,
	}, "am-1"); err != nil {
		t.Fatal(err)
	}
	p2, res, err := env.Engine.TransitionPhase(env.Ctx, p.ID, workflow.PhaseSchedConfirmed, "am-1")
	if err != nil || !res.Allowed {
		t.Fatalf("confirm: %v %+v", err, res.Messages)
	}
	return j, p2
}

func phaseStatus(t *testing.T, env testEnv, id string) string {
	t.Helper()
	p, err := env.Engine.Repo.GetPhase(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Status
}

func jobStatus(t *testing.T, env testEnv, id string) string {
	t.Helper()
	j, err := env.Engine.Repo.GetJob(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return j.Status
}

func TestSweepAdvancesDuePhases(t *testing.T) {
	env := newTestEnv(t)
	// starts Monday the 4th, three days out
	_, near := confirmedPhase(t, env, "2024-03-04T09:00:00Z", "2024-03-05T17:30:00Z")
	// starts three weeks out, not due
	_, far := confirmedPhase(t, env, "2024-03-25T09:00:00Z", "2024-03-26T17:30:00Z")

	st, err := env.Sweeper.Run(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.PreChecks != 1 {
		t.Fatalf("pre_checks = %d", st.PreChecks)
	}
	if got := phaseStatus(t, env, near.ID); got != string(workflow.PhasePreChecks) {
		t.Fatalf("near phase = %s", got)
	}
	if got := phaseStatus(t, env, far.ID); got != string(workflow.PhaseSchedConfirmed) {
		t.Fatalf("far phase = %s", got)
	}

	// a second run finds nothing new
	st, err = env.Sweeper.Run(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.PreChecks != 0 || st.Begun != 0 || st.Completed != 0 {
		t.Fatalf("second run not idempotent: %+v", st)
	}
}

func TestSweepBeginsArrivedPhases(t *testing.T) {
	env := newTestEnv(t)
	j, p := confirmedPhase(t, env, "2024-03-04T09:00:00Z", "2024-03-05T17:30:00Z")
	if _, res, err := env.Engine.TransitionPhase(env.Ctx, p.ID, workflow.PhasePreChecks, "am-1"); err != nil || !res.Allowed {
		t.Fatalf("pre_checks: %v %+v", err, res.Messages)
	}
	if _, res, err := env.Engine.TransitionPhase(env.Ctx, p.ID, workflow.PhaseReadyToBegin, "am-1"); err != nil || !res.Allowed {
		t.Fatalf("ready: %v %+v", err, res.Messages)
	}

	// still Friday: the start date has not arrived
	st, err := env.Sweeper.Run(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Begun != 0 {
		t.Fatalf("begun early = %d", st.Begun)
	}

	env.Engine.Now = func() time.Time { return time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC) }
	st, err = env.Sweeper.Run(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Begun != 1 {
		t.Fatalf("begun = %d", st.Begun)
	}
	if got := phaseStatus(t, env, p.ID); got != string(workflow.PhaseInProgress) {
		t.Fatalf("phase = %s", got)
	}
	// the cascade pulls the job along
	if got := jobStatus(t, env, j.ID); got != string(workflow.JobInProgress) {
		t.Fatalf("job = %s", got)
	}
}

func TestSweepCompletesLaggingJobs(t *testing.T) {
	env := newTestEnv(t)
	j, p1 := confirmedPhase(t, env, "2024-02-26T09:00:00Z", "2024-02-27T17:30:00Z")
	p2, err := env.Engine.CreatePhase(env.Ctx, j.ID, engine.CreatePhaseParams{
		Title: "Phase two",
		Hours: domain.ScopedHours{Delivery: 8},
	}, "am-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, res, err := env.Engine.TransitionPhase(env.Ctx, p2.ID, workflow.PhasePostponed, "am-1"); err != nil || !res.Allowed {
		t.Fatalf("postpone: %v %+v", err, res.Messages)
	}
	for _, target := range []workflow.PhaseStatus{
		workflow.PhasePreChecks, workflow.PhaseReadyToBegin,
		workflow.PhaseInProgress, workflow.PhaseDelivered,
	} {
		var res workflow.Result
		var terr error
		p1, res, terr = env.Engine.TransitionPhase(env.Ctx, p1.ID, target, "am-1")
		if terr != nil || !res.Allowed {
			t.Fatalf("p1 to %s: %v %+v", target, terr, res.Messages)
		}
	}
	// the postponed sibling kept the job open
	if got := jobStatus(t, env, j.ID); got != string(workflow.JobInProgress) {
		t.Fatalf("job = %s", got)
	}

	// sweeping does not force completion past a postponed phase
	st, err := env.Sweeper.Run(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Completed != 0 {
		t.Fatalf("completed = %d", st.Completed)
	}

	if _, res, err := env.Engine.TransitionPhase(env.Ctx, p2.ID, workflow.PhaseCancelled, "am-1"); err != nil || !res.Allowed {
		t.Fatalf("cancel: %v %+v", err, res.Messages)
	}
	st, err = env.Sweeper.Run(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Completed != 1 {
		t.Fatalf("completed = %d", st.Completed)
	}
	if got := jobStatus(t, env, j.ID); got != string(workflow.JobCompleted) {
		t.Fatalf("job = %s", got)
	}
}
