package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"genie/internal/engine"
	"genie/internal/extract"
	"genie/internal/llm"
	"genie/internal/remote"
	"genie/internal/repo"
)

const welcomeMessage = "Welcome to Go Get A Genie! Start your project."

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Logger   *slog.Logger
}

// apiError is the error envelope returned by every route.
type apiError struct {
	status int
	Detail string `json:"detail" example:"Project not found"`
	Code   string `json:"code" example:"not_found"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Detail }

// New returns an HTTP handler exposing the project API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/projects"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", joinDetail(msg, errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", joinDetail(msg, errs))
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(captureBody)
	hcfg := huma.DefaultConfig("Genie API", "0.1.0")
	// no $schema links injected into response bodies
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerRoot(api)
	registerHealth(api)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerQuestions(group, cfg.Engine)
	registerChat(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, detail string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Detail: detail, Code: code}
}

func joinDetail(msg string, errs []error) string {
	parts := []string{msg}
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return strings.Join(parts, ": ")
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		cfgErr      *remote.ConfigError
		upstreamErr *remote.UpstreamError
		genErr      *llm.GenerationError
	)
	switch {
	case errors.As(err, &cfgErr):
		return newAPIError(http.StatusInternalServerError, "configuration_error", cfgErr.Error())
	case errors.As(err, &upstreamErr):
		return newAPIError(upstreamErr.Status, "upstream_error", upstreamErr.Error())
	case errors.Is(err, engine.ErrAnswerNotPersisted):
		return newAPIError(http.StatusInternalServerError, "persist_failed", "Failed to persist answer to project service")
	case errors.As(err, &genErr):
		return newAPIError(http.StatusInternalServerError, "generation_failed", "Error generating response: "+genErr.Err.Error())
	case errors.Is(err, extract.ErrExtraction):
		return newAPIError(http.StatusInternalServerError, "extraction_failed", "Error extracting tasks: "+strings.TrimPrefix(err.Error(), extract.ErrExtraction.Error()+": "))
	case errors.Is(err, repo.ErrTaskNotFound):
		return newAPIError(http.StatusNotFound, "task_not_found", "Task not found")
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", "Project not found")
	case errors.Is(err, repo.ErrNoQuestion):
		return newAPIError(http.StatusBadRequest, "no_question", "No question to answer")
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var projectErrors = []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError}

type projectPath struct {
	ProjectID string `path:"project_id" doc:"Local integer id or external project id"`
}

func registerRoot(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Welcome message",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: MessageResponse{Message: welcomeMessage}}, nil
	})
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

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-project",
		Method:      http.MethodPost,
		Path:        "/start_project/",
		Summary:     "Start a local project",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		Body StartProjectRequest `json:"body"`
	}) (*struct {
		Body StartProjectResponse `json:"body"`
	}, error) {
		ref, p, err := e.Start(ctx, input.Body.UserMessage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StartProjectResponse `json:"body"`
		}{Body: StartProjectResponse{ProjectID: ref.LocalID, ProjectGoal: p.Goal}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/get_project/{project_id}/",
		Summary:     "Get project",
		Description: "Local projects are returned flat, external ones wrapped in {project}.",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body any `json:"body"`
	}, error) {
		ref, p, err := e.Get(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		var body any = projectResponse(p)
		if !ref.Local {
			body = ExternalProjectResponse{Project: projectResponse(p)}
		}
		return &struct {
			Body any `json:"body"`
		}{Body: body}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-task",
		Method:      http.MethodPost,
		Path:        "/add_task/{project_id}/",
		Summary:     "Add tasks from a paragraph",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      AddTaskRequest `json:"body"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		ref, tasks, err := e.AddTask(ctx, input.ProjectID, input.Body.AddTask)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{ProjectID: ref.ProjectID(), Tasks: mapTasks(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-task-details",
		Method:      http.MethodPost,
		Path:        "/add_task_details/{project_id}/{task_index}/",
		Summary:     "Set task details",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		TaskIndex int                `path:"task_index" doc:"Zero-based position in the task list"`
		Body      TaskDetailsRequest `json:"body"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		ref, tasks, err := e.AddTaskDetails(ctx, input.ProjectID, input.TaskIndex, input.Body.Details)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{ProjectID: ref.ProjectID(), Tasks: mapTasks(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-subtask",
		Method:      http.MethodPost,
		Path:        "/add_subtask/{project_id}/{task_index}/",
		Summary:     "Append a subtask",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		TaskIndex int            `path:"task_index" doc:"Zero-based position in the task list"`
		Body      SubtaskRequest `json:"body"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		ref, tasks, err := e.AddSubtask(ctx, input.ProjectID, input.TaskIndex, input.Body.Subtask)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{ProjectID: ref.ProjectID(), Tasks: mapTasks(tasks)}}, nil
	})
}

func registerQuestions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ask-question",
		Method:      http.MethodPost,
		Path:        "/ask/{project_id}/",
		Summary:     "Generate the next interview question",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body QuestionResponse `json:"body"`
	}, error) {
		_, q, err := e.Ask(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestionResponse `json:"body"`
		}{Body: QuestionResponse{Question: q}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "answer-question",
		Method:      http.MethodPost,
		Path:        "/answer_question/{project_id}/",
		Summary:     "Answer the most recent question",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      AnswerRequest `json:"body"`
	}) (*struct {
		Body AnswerResponse `json:"body"`
	}, error) {
		ref, p, err := e.Answer(ctx, input.ProjectID, input.Body.Answer)
		if err != nil {
			return nil, handleError(err)
		}
		body := AnswerResponse{Message: "Answer recorded successfully"}
		if !ref.Local {
			project := projectResponse(p)
			body = AnswerResponse{Success: true, Project: &project}
		}
		return &struct {
			Body AnswerResponse `json:"body"`
		}{Body: body}, nil
	})
}

func registerChat(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat/{project_id}/",
		Summary:     "Chat about the project",
		Description: "user_message is read from the query string, or from a JSON body {user_message}.",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		UserMessage string `query:"user_message"`
	}) (*struct {
		Body ChatResponse `json:"body"`
	}, error) {
		msg := input.UserMessage
		if msg == "" {
			if raw, ok := rawBodyMap(ctx)["user_message"]; ok {
				if err := json.Unmarshal(raw, &msg); err != nil {
					return nil, newAPIError(http.StatusUnprocessableEntity, "", "user_message must be a string")
				}
			}
		}
		if msg == "" {
			return nil, newAPIError(http.StatusUnprocessableEntity, "", "user_message is required")
		}
		ref, reply, err := e.Chat(ctx, input.ProjectID, msg)
		if err != nil {
			return nil, handleError(err)
		}
		body := ChatResponse{Response: reply}
		if ref.Local {
			body.ProjectID = ref.LocalID
		}
		return &struct {
			Body ChatResponse `json:"body"`
		}{Body: body}, nil
	})
}
