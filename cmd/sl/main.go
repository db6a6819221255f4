package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"scopeline/internal/config"
	"scopeline/internal/db"
	"scopeline/internal/domain"
	"scopeline/internal/engine"
	"scopeline/internal/ledger"
	"scopeline/internal/migrate"
	"scopeline/internal/repo"
	"scopeline/internal/server"
	"scopeline/internal/sweep"
	"scopeline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Scopeline CLI",
	Long: `Scopeline tracks security-consultancy engagements from first scoping to delivery.
Core concepts:
- Workspace: the .scopeline directory next to your scopeline.yml; holds the database.
- Job: one client engagement. Jobs move draft -> pending_scope -> scoping -> pending_signoff -> scoping_complete, then pending_start -> in_progress -> completed (lost/deleted are exits).
- Phase: a schedulable delivery unit inside a job, with scoped hour buckets, its own status flow, and QA gates before delivery.
- Time slot: one person allocated to a time range, optionally against a phase. Slots drive scheduling state and effective dates.
- Cost record: a person's hourly rate from an effective date; slots are priced against the latest applicable record.
- Checklist: advisory to-dos bound to a target status; they remind, never block.
- Event log: the audit trail of every change, view with 'sl log tail'.
- Sweeper: advances date-driven states (confirmed -> pre_checks -> in_progress, lagging jobs -> completed); run once with 'sl sweep' or let 'sl serve' loop it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SCOPELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(costCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Create the .scopeline directory, the database schema, and a default scopeline.yml if none exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			existed := db.Exists(workspace)
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			if existed {
				fmt.Printf("workspace already at %s (schema v%d)\n", db.Path(workspace), v)
			} else {
				fmt.Printf("workspace ready at %s (schema v%d)\n", db.Path(workspace), v)
			}
			return nil
		},
	}
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
		Long:  "Jobs are client engagements. Create one, walk it through scoping and sign-off with 'sl job move', and check what moves are open with 'sl job targets'.",
	}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobUpdateCmd())
	job.AddCommand(jobMoveCmd())
	job.AddCommand(jobTargetsCmd())
	job.AddCommand(jobDatesCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var params engine.CreateJobParams
	var accountManager string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.AccountManager = optionalString(accountManager)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.CreateJob(ctx, params, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&params.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&params.Title, "title", "", "job title")
	cmd.Flags().StringVar(&params.Overview, "overview", "", "overview")
	cmd.Flags().BoolVar(&params.HighRisk, "high-risk", false, "mark as high risk")
	cmd.Flags().StringVar(&params.HighRiskReason, "high-risk-reason", "", "why the job is high risk")
	cmd.Flags().BoolVar(&params.TechComplex, "tech-complex", false, "mark as technically complex")
	cmd.Flags().StringVar(&params.PrimaryContact, "contact", "", "primary client contact")
	cmd.Flags().StringVar(&accountManager, "account-manager", "", "account manager id")
	cmd.Flags().StringArrayVar(&params.ScoperIDs, "scoper", []string{}, "scoper id (repeatable)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func jobListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				jobs, err := r.ListJobs(ctx, statuses)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Title", "Status", "High Risk", "Updated"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.ClientName, j.Title, j.Status, j.HighRisk, j.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&statuses, "status", []string{}, "status filter (repeatable)")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := r.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobUpdateCmd() *cobra.Command {
	var client, title, overview, reason, contact, manager, approver, startOv, deliverOv string
	var highRisk, techComplex bool
	var scopers []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params engine.UpdateJobParams
			flagged := func(name string, dst **string, v *string) {
				if cmd.Flags().Changed(name) {
					*dst = v
				}
			}
			flagged("client", &params.ClientName, &client)
			flagged("title", &params.Title, &title)
			flagged("overview", &params.Overview, &overview)
			flagged("high-risk-reason", &params.HighRiskReason, &reason)
			flagged("contact", &params.PrimaryContact, &contact)
			flagged("account-manager", &params.AccountManager, &manager)
			flagged("signoff-approver", &params.SignoffApprover, &approver)
			flagged("start", &params.StartOverride, &startOv)
			flagged("deliver", &params.DeliverOverride, &deliverOv)
			if cmd.Flags().Changed("high-risk") {
				params.HighRisk = &highRisk
			}
			if cmd.Flags().Changed("tech-complex") {
				params.TechComplex = &techComplex
			}
			if cmd.Flags().Changed("scoper") {
				params.ScoperIDs = scopers
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, err := e.UpdateJob(ctx, args[0], params, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&title, "title", "", "job title")
	cmd.Flags().StringVar(&overview, "overview", "", "overview")
	cmd.Flags().BoolVar(&highRisk, "high-risk", false, "high risk flag")
	cmd.Flags().StringVar(&reason, "high-risk-reason", "", "why the job is high risk")
	cmd.Flags().BoolVar(&techComplex, "tech-complex", false, "technically complex flag")
	cmd.Flags().StringVar(&contact, "contact", "", "primary client contact")
	cmd.Flags().StringVar(&manager, "account-manager", "", "account manager id")
	cmd.Flags().StringVar(&approver, "signoff-approver", "", "requested sign-off approver id")
	cmd.Flags().StringVar(&startOv, "start", "", "start date override (YYYY-MM-DD, empty clears)")
	cmd.Flags().StringVar(&deliverOv, "deliver", "", "delivery date override (YYYY-MM-DD, empty clears)")
	cmd.Flags().StringArrayVar(&scopers, "scoper", []string{}, "scoper id (repeatable, replaces the set)")
	return cmd
}

func jobMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a job to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				j, res, err := e.TransitionJob(ctx, args[0], workflow.JobStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"allowed": res.Allowed, "messages": res.Messages, "job": j})
				}
				printMessages(res.Messages)
				if !res.Allowed {
					return fmt.Errorf("transition to %s refused", args[1])
				}
				fmt.Printf("%s -> %s\n", j.ID, j.Status)
				return nil
			})
		},
	}
	return cmd
}

func jobTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets <id>",
		Short: "List reachable statuses for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts, err := e.JobTargetOptions(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				rows := make(map[string]workflow.Result, len(opts))
				for k, v := range opts {
					rows[string(k)] = v
				}
				return printTargets(rows)
			})
		},
	}
	return cmd
}

func jobDatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dates <id>",
		Short: "Show a job's effective dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := e.JobDates(ctx, args[0])
				if err != nil {
					return err
				}
				return printDates(d, nil)
			})
		},
	}
	return cmd
}

func phaseCmd() *cobra.Command {
	phase := &cobra.Command{
		Use:   "phase",
		Short: "Manage phases",
		Long:  "Phases are the schedulable delivery units of a job. Scope their hour buckets, move them through scheduling and QA with 'sl phase move', and record verdicts, feedback, and ratings here.",
	}
	phase.AddCommand(phaseCreateCmd())
	phase.AddCommand(phaseListCmd())
	phase.AddCommand(phaseShowCmd())
	phase.AddCommand(phaseUpdateCmd())
	phase.AddCommand(phaseMoveCmd())
	phase.AddCommand(phaseTargetsCmd())
	phase.AddCommand(phaseDatesCmd())
	phase.AddCommand(phaseVerdictCmd())
	phase.AddCommand(phaseFeedbackCmd())
	phase.AddCommand(phaseRateCmd())
	return phase
}

func hoursFlags(cmd *cobra.Command, h *domain.ScopedHours) {
	cmd.Flags().Float64Var(&h.Delivery, "hours-delivery", 0, "scoped delivery hours")
	cmd.Flags().Float64Var(&h.Reporting, "hours-reporting", 0, "scoped reporting hours")
	cmd.Flags().Float64Var(&h.Management, "hours-management", 0, "scoped management hours")
	cmd.Flags().Float64Var(&h.QA, "hours-qa", 0, "scoped QA hours")
	cmd.Flags().Float64Var(&h.Oversight, "hours-oversight", 0, "scoped oversight hours")
	cmd.Flags().Float64Var(&h.Debrief, "hours-debrief", 0, "scoped debrief hours")
	cmd.Flags().Float64Var(&h.Contingency, "hours-contingency", 0, "scoped contingency hours")
	cmd.Flags().Float64Var(&h.Other, "hours-other", 0, "scoped other hours")
}

func phaseCreateCmd() *cobra.Command {
	var params engine.CreatePhaseParams
	var lead string
	cmd := &cobra.Command{
		Use:   "create <job-id>",
		Short: "Create a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.ProjectLead = optionalString(lead)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.CreatePhase(ctx, args[0], params, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&params.Title, "title", "", "phase title")
	cmd.Flags().IntVar(&params.ReportCount, "reports", 0, "number of reports to produce")
	cmd.Flags().StringVar(&lead, "lead", "", "project lead id")
	hoursFlags(cmd, &params.Hours)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func phaseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List a job's phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				phases, err := r.ListPhasesByJob(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(phases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Seq", "Title", "Status", "Reports", "Hours", "Lead"})
				for _, p := range phases {
					lead := ""
					if p.ProjectLead != nil {
						lead = *p.ProjectLead
					}
					tw.AppendRow(table.Row{p.ID, p.Seq, p.Title, p.Status, p.ReportCount, p.Hours.Total(), lead})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func phaseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetPhase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func phaseUpdateCmd() *cobra.Command {
	var title, lead, author, techReviewer, presReviewer string
	var startOv, deliverOv, tqaOv, pqaOv string
	var deliverable, techData, reportData string
	var reports int
	var hours domain.ScopedHours
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params engine.UpdatePhaseParams
			flagged := func(name string, dst **string, v *string) {
				if cmd.Flags().Changed(name) {
					*dst = v
				}
			}
			flagged("title", &params.Title, &title)
			flagged("lead", &params.ProjectLead, &lead)
			flagged("author", &params.ReportAuthor, &author)
			flagged("techqa-reviewer", &params.TechQAReviewer, &techReviewer)
			flagged("presqa-reviewer", &params.PresQAReviewer, &presReviewer)
			flagged("start", &params.StartOverride, &startOv)
			flagged("deliver", &params.DeliverOverride, &deliverOv)
			flagged("tqa-due", &params.TQADueOverride, &tqaOv)
			flagged("pqa-due", &params.PQADueOverride, &pqaOv)
			flagged("deliverable-link", &params.DeliverableLink, &deliverable)
			flagged("tech-data-link", &params.TechDataLink, &techData)
			flagged("report-data-link", &params.ReportDataLink, &reportData)
			if cmd.Flags().Changed("reports") {
				params.ReportCount = &reports
			}
			for _, name := range []string{"hours-delivery", "hours-reporting", "hours-management", "hours-qa", "hours-oversight", "hours-debrief", "hours-contingency", "hours-other"} {
				if cmd.Flags().Changed(name) {
					params.Hours = &hours
					break
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if params.Hours != nil {
					// Unchanged buckets keep their stored value.
					current, err := e.Repo.GetPhase(ctx, args[0])
					if err != nil {
						return err
					}
					merged := current.Hours
					setIf := func(name string, dst *float64, v float64) {
						if cmd.Flags().Changed(name) {
							*dst = v
						}
					}
					setIf("hours-delivery", &merged.Delivery, hours.Delivery)
					setIf("hours-reporting", &merged.Reporting, hours.Reporting)
					setIf("hours-management", &merged.Management, hours.Management)
					setIf("hours-qa", &merged.QA, hours.QA)
					setIf("hours-oversight", &merged.Oversight, hours.Oversight)
					setIf("hours-debrief", &merged.Debrief, hours.Debrief)
					setIf("hours-contingency", &merged.Contingency, hours.Contingency)
					setIf("hours-other", &merged.Other, hours.Other)
					params.Hours = &merged
				}
				p, err := e.UpdatePhase(ctx, args[0], params, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "phase title")
	cmd.Flags().IntVar(&reports, "reports", 0, "number of reports to produce")
	cmd.Flags().StringVar(&lead, "lead", "", "project lead id (empty clears)")
	cmd.Flags().StringVar(&author, "author", "", "report author id (empty clears)")
	cmd.Flags().StringVar(&techReviewer, "techqa-reviewer", "", "technical QA reviewer id (empty clears)")
	cmd.Flags().StringVar(&presReviewer, "presqa-reviewer", "", "presentation QA reviewer id (empty clears)")
	cmd.Flags().StringVar(&startOv, "start", "", "start date override (YYYY-MM-DD, empty clears)")
	cmd.Flags().StringVar(&deliverOv, "deliver", "", "delivery due override (YYYY-MM-DD, empty clears)")
	cmd.Flags().StringVar(&tqaOv, "tqa-due", "", "technical QA due override (YYYY-MM-DD, empty clears)")
	cmd.Flags().StringVar(&pqaOv, "pqa-due", "", "presentation QA due override (YYYY-MM-DD, empty clears)")
	cmd.Flags().StringVar(&deliverable, "deliverable-link", "", "deliverable location")
	cmd.Flags().StringVar(&techData, "tech-data-link", "", "technical data location")
	cmd.Flags().StringVar(&reportData, "report-data-link", "", "report data location")
	hoursFlags(cmd, &hours)
	return cmd
}

func phaseMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a phase to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, res, err := e.TransitionPhase(ctx, args[0], workflow.PhaseStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"allowed": res.Allowed, "messages": res.Messages, "phase": p})
				}
				printMessages(res.Messages)
				if !res.Allowed {
					return fmt.Errorf("transition to %s refused", args[1])
				}
				fmt.Printf("%s -> %s\n", p.ID, p.Status)
				return nil
			})
		},
	}
	return cmd
}

func phaseTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets <id>",
		Short: "List reachable statuses for a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts, err := e.PhaseTargetOptions(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				rows := make(map[string]workflow.Result, len(opts))
				for k, v := range opts {
					rows[string(k)] = v
				}
				return printTargets(rows)
			})
		},
	}
	return cmd
}

func phaseDatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dates <id>",
		Short: "Show a phase's effective dates and lateness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, flags, err := e.PhaseDates(ctx, args[0])
				if err != nil {
					return err
				}
				return printDates(d, flags)
			})
		},
	}
	return cmd
}

func phaseVerdictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verdict <id> <correct|incorrect>",
		Short: "Record a scope verdict",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.RecordScopeVerdict(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func phaseFeedbackCmd() *cobra.Command {
	fb := &cobra.Command{
		Use:   "feedback",
		Short: "Manage phase feedback",
	}
	var kind, body string
	add := &cobra.Command{
		Use:   "add <phase-id>",
		Short: "Add feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				f, err := e.AddFeedback(ctx, args[0], kind, body, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", "", "feedback kind (scope, qa_tech, qa_pres)")
	add.Flags().StringVar(&body, "body", "", "feedback text")
	_ = add.MarkFlagRequired("kind")
	_ = add.MarkFlagRequired("body")
	list := &cobra.Command{
		Use:   "list <phase-id>",
		Short: "List feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListFeedback(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Author", "Body", "Created"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.Kind, f.AuthorID, f.Body, f.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	fb.AddCommand(add)
	fb.AddCommand(list)
	return fb
}

func phaseRateCmd() *cobra.Command {
	var stage string
	var rating int
	cmd := &cobra.Command{
		Use:   "rate <id>",
		Short: "Rate a QA pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.RateQA(ctx, args[0], stage, rating, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "QA stage (tech or pres)")
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func slotCmd() *cobra.Command {
	slot := &cobra.Command{
		Use:   "slot",
		Short: "Manage time slots",
		Long:  "Time slots allocate a person to a range. Slots bound to a phase drive its scheduling state and effective dates; unbound slots record leave or internal time.",
	}
	slot.AddCommand(slotAddCmd())
	slot.AddCommand(slotRmCmd())
	slot.AddCommand(slotListCmd())
	slot.AddCommand(slotShowCmd())
	return slot
}

func slotAddCmd() *cobra.Command {
	var params engine.AddSlotParams
	var phaseID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a time slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.PhaseID = optionalString(phaseID)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.AddSlot(ctx, params, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&phaseID, "phase", "", "phase id (omit for unbound time)")
	cmd.Flags().StringVar(&params.PersonID, "person", "", "person id")
	cmd.Flags().StringVar(&params.Role, "role", "delivery", "slot role")
	cmd.Flags().StringVar(&params.Start, "start", "", "start (RFC3339)")
	cmd.Flags().StringVar(&params.End, "end", "", "end (RFC3339)")
	_ = cmd.MarkFlagRequired("person")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func slotRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a time slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteSlot(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func slotListCmd() *cobra.Command {
	var phaseID, personID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List time slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (phaseID == "") == (personID == "") {
				return fmt.Errorf("exactly one of --phase or --person is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var slots []domain.TimeSlot
				var err error
				if phaseID != "" {
					slots, err = e.Repo.ListSlotsByPhase(ctx, phaseID)
				} else {
					slots, err = e.Repo.ListSlotsByPerson(ctx, personID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(slots)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Person", "Role", "Start", "End", "Confirmed"})
				for _, s := range slots {
					confirmed, err := e.SlotConfirmed(ctx, s.ID)
					if err != nil {
						return err
					}
					tw.AppendRow(table.Row{s.ID, s.PersonID, s.Role, s.Start, s.End, confirmed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phaseID, "phase", "", "phase id")
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	return cmd
}

func slotShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a slot with its cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.Repo.GetSlot(ctx, args[0])
				if err != nil {
					return err
				}
				cost, err := e.SlotCost(ctx, args[0])
				if err != nil {
					return err
				}
				confirmed, err := e.SlotConfirmed(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"slot": s, "cost": cost, "confirmed": confirmed})
			})
		},
	}
	return cmd
}

func costCmd() *cobra.Command {
	cost := &cobra.Command{
		Use:   "cost",
		Short: "Manage cost records",
	}
	var person, date string
	var rate float64
	set := &cobra.Command{
		Use:   "set",
		Short: "Record an hourly rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.AddCostRecord(ctx, person, date, rate)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	set.Flags().StringVar(&person, "person", "", "person id")
	set.Flags().StringVar(&date, "date", "", "effective date (YYYY-MM-DD)")
	set.Flags().Float64Var(&rate, "rate", 0, "cost per hour")
	_ = set.MarkFlagRequired("person")
	_ = set.MarkFlagRequired("date")
	_ = set.MarkFlagRequired("rate")
	var listPerson string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a person's cost records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				records, err := r.ListCostRecords(ctx, listPerson)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Person", "Effective", "Rate"})
				for _, c := range records {
					tw.AppendRow(table.Row{c.ID, c.PersonID, c.EffectiveDate, c.CostPerHour})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listPerson, "person", "", "person id")
	_ = list.MarkFlagRequired("person")
	cost.AddCommand(set)
	cost.AddCommand(list)
	return cost
}

func checklistCmd() *cobra.Command {
	check := &cobra.Command{
		Use:     "checklist",
		Aliases: []string{"task"},
		Short:   "Manage advisory checklists",
		Long:    "Checklist items are reminders attached to a target status of a job or phase. They surface in the UI; they never block a transition.",
	}
	var entity, target, text string
	var sort int
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a checklist item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				item, err := e.AddChecklistItem(ctx, entity, target, text, sort)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	add.Flags().StringVar(&entity, "entity", "", "entity kind (job or phase)")
	add.Flags().StringVar(&target, "target", "", "target status")
	add.Flags().StringVar(&text, "text", "", "item text")
	add.Flags().IntVar(&sort, "sort", 0, "sort order")
	_ = add.MarkFlagRequired("entity")
	_ = add.MarkFlagRequired("target")
	_ = add.MarkFlagRequired("text")
	var listEntity, listTarget string
	list := &cobra.Command{
		Use:   "list",
		Short: "List checklist items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListChecklist(ctx, listEntity, listTarget)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Entity", "Target", "Sort", "Text"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.EntityKind, it.TargetStatus, it.Sort, it.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listEntity, "entity", "", "entity kind (job or phase)")
	list.Flags().StringVar(&listTarget, "target", "", "target status")
	_ = list.MarkFlagRequired("entity")
	_ = list.MarkFlagRequired("target")
	check.AddCommand(add)
	check.AddCommand(list)
	return check
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Inspect the activity log",
	}
	var jobID string
	var n int
	var cursor int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, jobID, n, cursor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&jobID, "job", "", "job id filter")
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().Int64Var(&cursor, "cursor", 0, "return events with id below this cursor")
	log.AddCommand(tail)
	return log
}

func notifyCmd() *cobra.Command {
	notify := &cobra.Command{
		Use:   "notify",
		Short: "Inspect queued notifications",
	}
	var n int
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Title", "Entity", "Audience", "Created"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Kind, it.Title, it.EntityKind + ":" + it.EntityID, it.Audience, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&n, "n", 50, "number of notifications")
	notify.AddCommand(list)
	return notify
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep",
		Long:  "Advance confirmed phases whose pre-checks window has opened, begin phases whose start date has arrived, and complete jobs whose phases are all terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return withEngineLog(cmd.Context(), logger, func(ctx context.Context, e *engine.Engine) error {
				stats, err := sweep.New(e, logger).Run(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			eng := engine.New(conn, cfg, logger)
			authCfg := server.AuthConfig{
				JWTSecret:        os.Getenv("SCOPELINE_JWT_SECRET"),
				AllowActorHeader: allowActorHeader,
				Logger:           logger,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("SCOPELINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local use)")
			}
			sweeper := sweep.New(eng, logger)
			if !noSweep {
				interval := time.Duration(cfg.Sweep.IntervalMinutes) * time.Minute
				go sweeper.Loop(cmd.Context(), interval)
			}
			handler, err := server.New(server.Config{Engine: eng, Sweeper: sweeper, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Scopeline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept X-Actor-Id instead of a bearer token (local use only)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the background sweeper")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	return withEngineLog(ctx, nil, fn)
}

func withEngineLog(ctx context.Context, logger *zap.Logger, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, logger))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMessages(msgs []workflow.Message) {
	for _, m := range msgs {
		fmt.Printf("%s: %s\n", m.Severity, m.Text)
	}
}

func printTargets(opts map[string]workflow.Result) error {
	if viper.GetBool("json") {
		return printJSON(opts)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Target", "Allowed", "Notes"})
	for target, res := range opts {
		var notes []string
		for _, m := range res.Messages {
			notes = append(notes, fmt.Sprintf("%s: %s", m.Severity, m.Text))
		}
		tw.AppendRow(table.Row{target, res.Allowed, strings.Join(notes, "; ")})
	}
	tw.Render()
	return nil
}

func printDates(d ledger.Dates, late map[string]bool) error {
	if viper.GetBool("json") {
		out := map[string]any{"dates": d}
		if late != nil {
			out["late"] = late
		}
		return printJSON(out)
	}
	fmt.Printf("start:     %s\n", fmtDate(d.Start))
	fmt.Printf("tqa due:   %s\n", fmtDate(d.TQADue))
	fmt.Printf("delivery:  %s\n", fmtDate(d.Delivery))
	fmt.Printf("pqa due:   %s\n", fmtDate(d.PQADue))
	if late != nil {
		var flags []string
		for _, name := range []string{"tqa_late", "pqa_late", "delivery_late"} {
			if late[name] {
				flags = append(flags, name)
			}
		}
		if len(flags) == 0 {
			fmt.Println("late:      none")
		} else {
			fmt.Println("late:     ", strings.Join(flags, ", "))
		}
	}
	return nil
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
