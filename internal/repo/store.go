package repo

import (
	"context"
	"errors"
	"fmt"

	"genie/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrTaskNotFound = fmt.Errorf("task %w", ErrNotFound)
	ErrNoQuestion   = errors.New("no question to answer")
)

// Store holds locally created projects, keyed by a small integer id assigned
// in creation order. Implementations return copies; callers never share state
// with the store.
type Store interface {
	Create(ctx context.Context, goal string) (domain.Project, error)
	Get(ctx context.Context, id int) (domain.Project, error)
	// AppendTasks adds the tasks whose description is not present yet and
	// returns the full task list.
	AppendTasks(ctx context.Context, id int, tasks []domain.Task) ([]domain.Task, error)
	SetTaskDetails(ctx context.Context, id, index int, details string) ([]domain.Task, error)
	AppendSubtask(ctx context.Context, id, index int, subtask string) ([]domain.Task, error)
	AppendQuestion(ctx context.Context, id int, question string) ([]domain.QA, error)
	// SetLastAnswer answers the most recent question. ErrNoQuestion if none.
	SetLastAnswer(ctx context.Context, id int, answer string) ([]domain.QA, error)
}

func projectNotFound(id int) error {
	return fmt.Errorf("project %d: %w", id, ErrNotFound)
}

func taskNotFound(id, index int) error {
	return fmt.Errorf("project %d index %d: %w", id, index, ErrTaskNotFound)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = Repo{}
)
