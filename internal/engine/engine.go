package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"genie/internal/domain"
	"genie/internal/extract"
	"genie/internal/llm"
	"genie/internal/remote"
	"genie/internal/repo"
)

// ErrAnswerNotPersisted is returned when an answer to an external project could
// not be written back. The local copy is not rolled back.
var ErrAnswerNotPersisted = errors.New("failed to persist answer to project service")

// Engine implements the project lifecycle on top of the local store, the
// external project service and the text generator.
type Engine struct {
	Store  repo.Store
	Remote *remote.Client
	LLM    llm.Generator
	Logger *slog.Logger
}

func New(store repo.Store, rc *remote.Client, gen llm.Generator, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{Store: store, Remote: rc, LLM: gen, Logger: logger}
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Ref identifies a resolved project and where it lives.
type Ref struct {
	ID      string
	Local   bool
	LocalID int
}

// ProjectID is the id as it appears in responses: a number for local projects,
// the opaque string otherwise.
func (r Ref) ProjectID() any {
	if r.Local {
		return r.LocalID
	}
	return r.ID
}

// localID reports whether id is a plain non-negative decimal integer.
func localID(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolve finds the project in the local store or, failing that, the external
// service. A numeric id unknown locally only goes remote when a service is
// configured.
func (e Engine) resolve(ctx context.Context, id string) (Ref, domain.Project, error) {
	if n, ok := localID(id); ok {
		p, err := e.Store.Get(ctx, n)
		if err == nil {
			return Ref{ID: id, Local: true, LocalID: n}, p, nil
		}
		if !errors.Is(err, repo.ErrNotFound) || !e.Remote.Configured() {
			return Ref{}, domain.Project{}, err
		}
	}
	p, err := e.Remote.Fetch(ctx, id)
	if err != nil {
		return Ref{}, domain.Project{}, err
	}
	return Ref{ID: id}, p, nil
}

// Start creates a local project whose goal is the user's message.
func (e Engine) Start(ctx context.Context, goal string) (Ref, domain.Project, error) {
	p, err := e.Store.Create(ctx, goal)
	if err != nil {
		return Ref{}, domain.Project{}, err
	}
	n, _ := strconv.Atoi(p.ID)
	e.logger().Info("project started", "project_id", n)
	return Ref{ID: p.ID, Local: true, LocalID: n}, p, nil
}

// Get returns the project as currently known.
func (e Engine) Get(ctx context.Context, id string) (Ref, domain.Project, error) {
	return e.resolve(ctx, id)
}

// TaskDescription composes the stored description of an extracted fragment.
func TaskDescription(fragment, goal string) string {
	return fmt.Sprintf("%s for project goal: %s", fragment, goal)
}

// AddTask extracts tasks from paragraph and appends the ones not present yet.
func (e Engine) AddTask(ctx context.Context, id, paragraph string) (Ref, []domain.Task, error) {
	ref, p, err := e.resolve(ctx, id)
	if err != nil {
		return Ref{}, nil, err
	}
	fragments, err := extract.Tasks(paragraph)
	if err != nil {
		return Ref{}, nil, err
	}
	tasks := make([]domain.Task, 0, len(fragments))
	for _, f := range fragments {
		tasks = append(tasks, domain.NewTask(TaskDescription(f, p.Goal)))
	}
	if ref.Local {
		out, err := e.Store.AppendTasks(ctx, ref.LocalID, tasks)
		return ref, out, err
	}
	for _, t := range tasks {
		if !p.HasTask(t.Description) {
			p.Tasks = append(p.Tasks, t)
		}
	}
	e.persistTasks(ctx, ref, p.Tasks)
	return ref, p.Tasks, nil
}

// AddTaskDetails overwrites the details of the task at index.
func (e Engine) AddTaskDetails(ctx context.Context, id string, index int, details string) (Ref, []domain.Task, error) {
	return e.updateTask(ctx, id, index,
		func(ref Ref) ([]domain.Task, error) {
			return e.Store.SetTaskDetails(ctx, ref.LocalID, index, details)
		},
		func(t *domain.Task) { t.Details = &details })
}

// AddSubtask appends a subtask to the task at index.
func (e Engine) AddSubtask(ctx context.Context, id string, index int, subtask string) (Ref, []domain.Task, error) {
	return e.updateTask(ctx, id, index,
		func(ref Ref) ([]domain.Task, error) {
			return e.Store.AppendSubtask(ctx, ref.LocalID, index, subtask)
		},
		func(t *domain.Task) { t.Subtasks = append(t.Subtasks, subtask) })
}

func (e Engine) updateTask(ctx context.Context, id string, index int, local func(Ref) ([]domain.Task, error), apply func(*domain.Task)) (Ref, []domain.Task, error) {
	ref, p, err := e.resolve(ctx, id)
	if err != nil {
		return Ref{}, nil, err
	}
	if ref.Local {
		out, err := local(ref)
		return ref, out, err
	}
	if index < 0 || index >= len(p.Tasks) {
		return Ref{}, nil, fmt.Errorf("project %s index %d: %w", id, index, repo.ErrTaskNotFound)
	}
	apply(&p.Tasks[index])
	e.persistTasks(ctx, ref, p.Tasks)
	return ref, p.Tasks, nil
}

// persistTasks writes tasks back to the external service; failures are logged
// and otherwise ignored.
func (e Engine) persistTasks(ctx context.Context, ref Ref, tasks []domain.Task) {
	if _, err := e.Remote.Persist(ctx, ref.ID, "tasks", tasks); err != nil {
		e.logger().Warn("tasks not persisted", "project_id", ref.ID, "error", err)
	}
}

// Ask generates the next interview question and appends it unanswered. For
// external projects a failed write-back is logged and the question returned
// anyway.
func (e Engine) Ask(ctx context.Context, id string) (Ref, string, error) {
	ref, p, err := e.resolve(ctx, id)
	if err != nil {
		return Ref{}, "", err
	}
	question, err := e.LLM.Generate(ctx, QuestionPrompt(p))
	if err != nil {
		return Ref{}, "", err
	}
	if ref.Local {
		if _, err := e.Store.AppendQuestion(ctx, ref.LocalID, question); err != nil {
			return Ref{}, "", err
		}
		return ref, question, nil
	}
	qas := append(p.AnsweredQuestions, domain.QA{Question: question})
	if res, err := e.Remote.Persist(ctx, ref.ID, "answered_questions", qas); err != nil {
		e.logger().Warn("question not persisted", "project_id", ref.ID, "error", err)
	} else {
		e.logger().Info("question persisted", "project_id", ref.ID, "attempts", res.Attempts)
	}
	return ref, question, nil
}

// Answer records answer on the most recent question.
func (e Engine) Answer(ctx context.Context, id, answer string) (Ref, domain.Project, error) {
	ref, p, err := e.resolve(ctx, id)
	if err != nil {
		return Ref{}, domain.Project{}, err
	}
	if len(p.AnsweredQuestions) == 0 {
		return Ref{}, domain.Project{}, repo.ErrNoQuestion
	}
	if ref.Local {
		qas, err := e.Store.SetLastAnswer(ctx, ref.LocalID, answer)
		if err != nil {
			return Ref{}, domain.Project{}, err
		}
		p.AnsweredQuestions = qas
		return ref, p, nil
	}
	p.AnsweredQuestions[len(p.AnsweredQuestions)-1].Answer = &answer
	if _, err := e.Remote.Persist(ctx, ref.ID, "answered_questions", p.AnsweredQuestions); err != nil {
		return Ref{}, domain.Project{}, fmt.Errorf("%w: %w", ErrAnswerNotPersisted, err)
	}
	return ref, p, nil
}

// Chat answers a free-form message using the whole project as context.
func (e Engine) Chat(ctx context.Context, id, message string) (Ref, string, error) {
	ref, p, err := e.resolve(ctx, id)
	if err != nil {
		return Ref{}, "", err
	}
	reply, err := e.LLM.GenerateWithContext(ctx, ChatContext(p, message))
	if err != nil {
		return Ref{}, "", err
	}
	return ref, reply, nil
}
