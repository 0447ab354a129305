package repo

import (
	"context"
	"strconv"
	"sync"

	"genie/internal/domain"
)

// Memory keeps projects in process memory for the lifetime of the process.
type Memory struct {
	mu       sync.Mutex
	projects map[int]*domain.Project
}

func NewMemory() *Memory {
	return &Memory{projects: make(map[int]*domain.Project)}
}

func (m *Memory) Create(_ context.Context, goal string) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := len(m.projects)
	p := &domain.Project{
		ID:                strconv.Itoa(id),
		Goal:              goal,
		Tasks:             []domain.Task{},
		AnsweredQuestions: []domain.QA{},
	}
	m.projects[id] = p
	return p.Clone(), nil
}

func (m *Memory) Get(_ context.Context, id int) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.Project{}, projectNotFound(id)
	}
	return p.Clone(), nil
}

func (m *Memory) AppendTasks(_ context.Context, id int, tasks []domain.Task) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, projectNotFound(id)
	}
	for _, t := range domain.CloneTasks(tasks) {
		if !p.HasTask(t.Description) {
			p.Tasks = append(p.Tasks, t)
		}
	}
	return domain.CloneTasks(p.Tasks), nil
}

func (m *Memory) SetTaskDetails(_ context.Context, id, index int, details string) ([]domain.Task, error) {
	return m.updateTask(id, index, func(t *domain.Task) { t.Details = &details })
}

func (m *Memory) AppendSubtask(_ context.Context, id, index int, subtask string) ([]domain.Task, error) {
	return m.updateTask(id, index, func(t *domain.Task) { t.Subtasks = append(t.Subtasks, subtask) })
}

func (m *Memory) updateTask(id, index int, fn func(*domain.Task)) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, projectNotFound(id)
	}
	if index < 0 || index >= len(p.Tasks) {
		return nil, taskNotFound(id, index)
	}
	fn(&p.Tasks[index])
	return domain.CloneTasks(p.Tasks), nil
}

func (m *Memory) AppendQuestion(_ context.Context, id int, question string) ([]domain.QA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, projectNotFound(id)
	}
	p.AnsweredQuestions = append(p.AnsweredQuestions, domain.QA{Question: question})
	return domain.CloneQAs(p.AnsweredQuestions), nil
}

func (m *Memory) SetLastAnswer(_ context.Context, id int, answer string) ([]domain.QA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, projectNotFound(id)
	}
	if len(p.AnsweredQuestions) == 0 {
		return nil, ErrNoQuestion
	}
	p.AnsweredQuestions[len(p.AnsweredQuestions)-1].Answer = &answer
	return domain.CloneQAs(p.AnsweredQuestions), nil
}
