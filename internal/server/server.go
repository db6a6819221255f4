// Package server exposes the engagement workflow over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"scopeline/internal/domain"
	"scopeline/internal/engine"
	"scopeline/internal/repo"
	"scopeline/internal/sweep"
	"scopeline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Sweeper  *sweep.Sweeper
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"transition_refused"`
	Message string         `json:"message" example:"no time slots are scheduled"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Scopeline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Scopeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerJobs(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerSlots(group, cfg.Engine)
	registerCostRecords(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerSweep(group, cfg.Sweeper)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, workflow.ErrBadTransition) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, sweep.ErrAlreadyRunning) {
		return newAPIError(http.StatusConflict, "sweep_running", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "missing"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "cannot be"),
		strings.Contains(lowered, "must be"),
		strings.Contains(lowered, "precedes"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Scopeline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerJobs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create job",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CreateJob(ctx, engine.CreateJobParams{
			ClientName:     input.Body.ClientName,
			Title:          input.Body.Title,
			Overview:       input.Body.Overview,
			HighRisk:       input.Body.HighRisk,
			TechComplex:    input.Body.TechComplex,
			HighRiskReason: input.Body.HighRiskReason,
			PrimaryContact: input.Body.PrimaryContact,
			AccountManager: input.Body.AccountManager,
			ScoperIDs:      input.Body.ScoperIDs,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
	}, func(ctx context.Context, input *struct {
		Status []string `query:"status"`
	}) (*struct {
		Body []domain.Job `json:"body"`
	}, error) {
		items, err := e.Repo.ListJobs(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Job `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		j, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job",
		Method:      http.MethodPatch,
		Path:        "/jobs/{job_id}",
		Summary:     "Update job fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string           `path:"job_id"`
		Body  UpdateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.UpdateJob(ctx, input.JobID, engine.UpdateJobParams{
			ClientName:      input.Body.ClientName,
			Title:           input.Body.Title,
			Overview:        input.Body.Overview,
			HighRisk:        input.Body.HighRisk,
			TechComplex:     input.Body.TechComplex,
			HighRiskReason:  input.Body.HighRiskReason,
			PrimaryContact:  input.Body.PrimaryContact,
			AccountManager:  input.Body.AccountManager,
			SignoffApprover: input.Body.SignoffApprover,
			StartOverride:   input.Body.StartOverride,
			DeliverOverride: input.Body.DeliverOverride,
			ScoperIDs:       input.Body.ScoperIDs,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/transition",
		Summary:     "Attempt a job status transition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID string            `path:"job_id"`
		Body  TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, res, err := e.TransitionJob(ctx, input.JobID, workflow.JobStatus(input.Body.Target), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := TransitionResponse{Allowed: res.Allowed, Messages: res.Messages}
		if res.Allowed {
			out.Job = &j
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-transition-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/can-transition",
		Summary:     "Check a job transition without applying it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string            `path:"job_id"`
		Body  TransitionRequest `json:"body"`
	}) (*struct {
		Body CanTransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CanTransitionJob(ctx, input.JobID, workflow.JobStatus(input.Body.Target), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListChecklist(ctx, "job", input.Body.Target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CanTransitionResponse `json:"body"`
		}{Body: CanTransitionResponse{Allowed: res.Allowed, Messages: res.Messages, Checklist: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-transition-targets",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/targets",
		Summary:     "List reachable job statuses with guard outcomes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body []TargetOption `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		options, err := e.JobTargetOptions(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		var out []TargetOption
		for _, target := range workflow.JobStatuses {
			res, ok := options[target]
			if !ok {
				continue
			}
			out = append(out, TargetOption{Target: string(target), Allowed: res.Allowed, Messages: res.Messages})
		}
		return &struct {
			Body []TargetOption `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-dates",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/dates",
		Summary:     "Effective job dates",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body DatesResponse `json:"body"`
	}, error) {
		d, err := e.JobDates(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DatesResponse `json:"body"`
		}{Body: datesResponse(d, nil)}, nil
	})
}

func registerPhases(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-phase",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/phases",
		Summary:       "Create phase",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string             `path:"job_id"`
		Body  CreatePhaseRequest `json:"body"`
	}) (*struct {
		Body domain.Phase `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePhase(ctx, input.JobID, engine.CreatePhaseParams{
			Title:       input.Body.Title,
			ReportCount: input.Body.ReportCount,
			Hours:       input.Body.Hours,
			ProjectLead: input.Body.ProjectLead,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Phase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-phases",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/phases",
		Summary:     "List phases of a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body []domain.Phase `json:"body"`
	}, error) {
		if _, err := e.Repo.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPhasesByJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Phase `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-phase",
		Method:      http.MethodGet,
		Path:        "/phases/{phase_id}",
		Summary:     "Get phase",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string `path:"phase_id"`
	}) (*struct {
		Body domain.Phase `json:"body"`
	}, error) {
		p, err := e.Repo.GetPhase(ctx, input.PhaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Phase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-phase",
		Method:      http.MethodPatch,
		Path:        "/phases/{phase_id}",
		Summary:     "Update phase fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string             `path:"phase_id"`
		Body    UpdatePhaseRequest `json:"body"`
	}) (*struct {
		Body domain.Phase `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdatePhase(ctx, input.PhaseID, engine.UpdatePhaseParams{
			Title:           input.Body.Title,
			ReportCount:     input.Body.ReportCount,
			Hours:           input.Body.Hours,
			ProjectLead:     input.Body.ProjectLead,
			ReportAuthor:    input.Body.ReportAuthor,
			TechQAReviewer:  input.Body.TechQAReviewer,
			PresQAReviewer:  input.Body.PresQAReviewer,
			StartOverride:   input.Body.StartOverride,
			DeliverOverride: input.Body.DeliverOverride,
			TQADueOverride:  input.Body.TQADueOverride,
			PQADueOverride:  input.Body.PQADueOverride,
			DeliverableLink: input.Body.DeliverableLink,
			TechDataLink:    input.Body.TechDataLink,
			ReportDataLink:  input.Body.ReportDataLink,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Phase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-phase",
		Method:      http.MethodPost,
		Path:        "/phases/{phase_id}/transition",
		Summary:     "Attempt a phase status transition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PhaseID string            `path:"phase_id"`
		Body    TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, res, err := e.TransitionPhase(ctx, input.PhaseID, workflow.PhaseStatus(input.Body.Target), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := TransitionResponse{Allowed: res.Allowed, Messages: res.Messages}
		if res.Allowed {
			out.Phase = &p
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-transition-phase",
		Method:      http.MethodPost,
		Path:        "/phases/{phase_id}/can-transition",
		Summary:     "Check a phase transition without applying it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string            `path:"phase_id"`
		Body    TransitionRequest `json:"body"`
	}) (*struct {
		Body CanTransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CanTransitionPhase(ctx, input.PhaseID, workflow.PhaseStatus(input.Body.Target), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListChecklist(ctx, "phase", input.Body.Target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CanTransitionResponse `json:"body"`
		}{Body: CanTransitionResponse{Allowed: res.Allowed, Messages: res.Messages, Checklist: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "phase-transition-targets",
		Method:      http.MethodGet,
		Path:        "/phases/{phase_id}/targets",
		Summary:     "List reachable phase statuses with guard outcomes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string `path:"phase_id"`
	}) (*struct {
		Body []TargetOption `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		options, err := e.PhaseTargetOptions(ctx, input.PhaseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		var out []TargetOption
		for _, target := range workflow.PhaseStatuses {
			res, ok := options[target]
			if !ok {
				continue
			}
			out = append(out, TargetOption{Target: string(target), Allowed: res.Allowed, Messages: res.Messages})
		}
		return &struct {
			Body []TargetOption `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "phase-dates",
		Method:      http.MethodGet,
		Path:        "/phases/{phase_id}/dates",
		Summary:     "Effective phase dates and lateness flags",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string `path:"phase_id"`
	}) (*struct {
		Body DatesResponse `json:"body"`
	}, error) {
		d, flags, err := e.PhaseDates(ctx, input.PhaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DatesResponse `json:"body"`
		}{Body: datesResponse(d, flags)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-scope-verdict",
		Method:      http.MethodPost,
		Path:        "/phases/{phase_id}/scope-verdict",
		Summary:     "Record the scope correctness verdict",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string              `path:"phase_id"`
		Body    ScopeVerdictRequest `json:"body"`
	}) (*struct {
		Body domain.Phase `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RecordScopeVerdict(ctx, input.PhaseID, input.Body.Verdict, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Phase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-feedback",
		Method:        http.MethodPost,
		Path:          "/phases/{phase_id}/feedback",
		Summary:       "Add feedback to a phase",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string          `path:"phase_id"`
		Body    FeedbackRequest `json:"body"`
	}) (*struct {
		Body domain.Feedback `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddFeedback(ctx, input.PhaseID, input.Body.Kind, input.Body.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Feedback `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-feedback",
		Method:      http.MethodGet,
		Path:        "/phases/{phase_id}/feedback",
		Summary:     "List feedback on a phase",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string `path:"phase_id"`
	}) (*struct {
		Body []domain.Feedback `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPhase(ctx, input.PhaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListFeedback(ctx, input.PhaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Feedback `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rate-qa",
		Method:      http.MethodPost,
		Path:        "/phases/{phase_id}/qa-rating",
		Summary:     "Record a QA rating",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string        `path:"phase_id"`
		Body    RatingRequest `json:"body"`
	}) (*struct {
		Body domain.Phase `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RateQA(ctx, input.PhaseID, input.Body.Stage, input.Body.Rating, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Phase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-phase-slots",
		Method:      http.MethodGet,
		Path:        "/phases/{phase_id}/slots",
		Summary:     "List slots scheduled against a phase",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string `path:"phase_id"`
	}) (*struct {
		Body []SlotResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPhase(ctx, input.PhaseID)
		if err != nil {
			return nil, handleError(err)
		}
		slots, err := e.Repo.ListSlotsByPhase(ctx, input.PhaseID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, SlotResponse{
				TimeSlot:  s,
				Confirmed: workflow.PhaseStatus(p.Status).AtOrPast(workflow.PhaseSchedConfirmed),
			})
		}
		return &struct {
			Body []SlotResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerSlots(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-slot",
		Method:        http.MethodPost,
		Path:          "/slots",
		Summary:       "Schedule a time slot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateSlotRequest `json:"body"`
	}) (*struct {
		Body domain.TimeSlot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddSlot(ctx, engine.AddSlotParams{
			PhaseID:  input.Body.PhaseID,
			PersonID: input.Body.PersonID,
			Role:     input.Body.Role,
			Start:    input.Body.Start,
			End:      input.Body.End,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TimeSlot `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-slot",
		Method:      http.MethodGet,
		Path:        "/slots/{slot_id}",
		Summary:     "Get a slot with its derived confirmed flag and cost",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SlotID string `path:"slot_id"`
	}) (*struct {
		Body SlotDetailResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSlot(ctx, input.SlotID)
		if err != nil {
			return nil, handleError(err)
		}
		confirmed, err := e.SlotConfirmed(ctx, input.SlotID)
		if err != nil {
			return nil, handleError(err)
		}
		cost, err := e.SlotCost(ctx, input.SlotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotDetailResponse `json:"body"`
		}{Body: SlotDetailResponse{
			SlotResponse: SlotResponse{TimeSlot: s, Confirmed: confirmed},
			Cost:         cost,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-slot",
		Method:      http.MethodDelete,
		Path:        "/slots/{slot_id}",
		Summary:     "Remove a slot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SlotID string `path:"slot_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSlot(ctx, input.SlotID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCostRecords(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-cost-record",
		Method:        http.MethodPost,
		Path:          "/cost-records",
		Summary:       "Record a person's cost per hour",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CostRecordRequest `json:"body"`
	}) (*struct {
		Body domain.CostRecord `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.AddCostRecord(ctx, input.Body.PersonID, input.Body.EffectiveDate, input.Body.CostPerHour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CostRecord `json:"body"`
		}{Body: c}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List activity log events",
	}, func(ctx context.Context, input *struct {
		JobID  string `query:"job_id"`
		Limit  int    `query:"limit" default:"50" maximum:"500"`
		Cursor int64  `query:"cursor"`
	}) (*struct {
		Body struct {
			Items      []domain.Event `json:"items"`
			NextCursor int64          `json:"next_cursor,omitempty"`
		} `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.JobID, input.Limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items      []domain.Event `json:"items"`
				NextCursor int64          `json:"next_cursor,omitempty"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		if len(items) > 0 {
			out.Body.NextCursor = items[len(items)-1].ID
		}
		return out, nil
	})
}

func registerNotifications(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List queued notifications",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" maximum:"500"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		items, err := e.Repo.ListNotifications(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})
}

func registerSweep(api huma.API, s *sweep.Sweeper) {
	huma.Register(api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Run the reconciliation sweep now",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body sweep.Stats `json:"body"`
	}, error) {
		if s == nil {
			return nil, newAPIError(http.StatusConflict, "sweep_unavailable", "sweeper not configured", nil)
		}
		st, err := s.Run(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body sweep.Stats `json:"body"`
		}{Body: st}, nil
	})
}
