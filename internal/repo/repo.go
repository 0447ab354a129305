package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"genie/internal/domain"
	"genie/internal/events"
)

// Repo is the SQLite backed Store. Every mutation runs in one transaction and
// appends to the event log.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Writer{}, Now: time.Now}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) Create(ctx context.Context, goal string) (domain.Project, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	var id int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&id); err != nil {
		return domain.Project{}, fmt.Errorf("count projects: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,goal,created_at) VALUES (?,?,?)`,
		id, goal, r.now().UTC().Format(time.RFC3339)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.ProjectStart, id, "project", strconv.Itoa(id), events.EventPayload{"goal": goal}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return domain.Project{
		ID:                strconv.Itoa(id),
		Goal:              goal,
		Tasks:             []domain.Task{},
		AnsweredQuestions: []domain.QA{},
	}, nil
}

func (r Repo) Get(ctx context.Context, id int) (domain.Project, error) {
	p := domain.Project{ID: strconv.Itoa(id)}
	err := r.DB.QueryRowContext(ctx, `SELECT goal FROM projects WHERE id=?`, id).Scan(&p.Goal)
	if err == sql.ErrNoRows {
		return domain.Project{}, projectNotFound(id)
	}
	if err != nil {
		return domain.Project{}, err
	}
	if p.Tasks, err = listTasks(ctx, r.DB, id); err != nil {
		return domain.Project{}, err
	}
	if p.AnsweredQuestions, err = listQuestions(ctx, r.DB, id); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (r Repo) AppendTasks(ctx context.Context, id int, tasks []domain.Task) ([]domain.Task, error) {
	tx, err := r.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	existing, err := listTasks(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	current := domain.Project{Tasks: existing}
	for _, t := range tasks {
		if current.HasTask(t.Description) {
			continue
		}
		subs, err := json.Marshal(nonNil(t.Subtasks))
		if err != nil {
			return nil, err
		}
		pos := len(current.Tasks)
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(project_id,position,description,subtasks_json,details) VALUES (?,?,?,?,?)`,
			id, pos, t.Description, string(subs), nullableStringPtr(t.Details)); err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		if err := r.Events.Append(ctx, tx, events.TaskAdd, id, "task", strconv.Itoa(pos), events.EventPayload{"task": t.Description}); err != nil {
			return nil, err
		}
		current.Tasks = append(current.Tasks, t)
	}
	return r.commitTasks(ctx, tx, id)
}

func (r Repo) SetTaskDetails(ctx context.Context, id, index int, details string) ([]domain.Task, error) {
	tx, err := r.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET details=? WHERE project_id=? AND position=?`, details, id, index)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, taskNotFound(id, index)
	}
	if err := r.Events.Append(ctx, tx, events.TaskDetails, id, "task", strconv.Itoa(index), events.EventPayload{"details": details}); err != nil {
		return nil, err
	}
	return r.commitTasks(ctx, tx, id)
}

func (r Repo) AppendSubtask(ctx context.Context, id, index int, subtask string) ([]domain.Task, error) {
	tx, err := r.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT subtasks_json FROM tasks WHERE project_id=? AND position=?`, id, index).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, taskNotFound(id, index)
	}
	if err != nil {
		return nil, err
	}
	var subs []string
	if err := json.Unmarshal([]byte(raw), &subs); err != nil {
		return nil, fmt.Errorf("decode subtasks: %w", err)
	}
	data, err := json.Marshal(append(subs, subtask))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET subtasks_json=? WHERE project_id=? AND position=?`, string(data), id, index); err != nil {
		return nil, err
	}
	if err := r.Events.Append(ctx, tx, events.TaskSubtask, id, "task", strconv.Itoa(index), events.EventPayload{"subtask": subtask}); err != nil {
		return nil, err
	}
	return r.commitTasks(ctx, tx, id)
}

func (r Repo) AppendQuestion(ctx context.Context, id int, question string) ([]domain.QA, error) {
	tx, err := r.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE project_id=?`, id).Scan(&pos); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO questions(project_id,position,question) VALUES (?,?,?)`, id, pos, question); err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.QuestionAsk, id, "question", strconv.Itoa(pos), events.EventPayload{"question": question}); err != nil {
		return nil, err
	}
	return r.commitQuestions(ctx, tx, id)
}

func (r Repo) SetLastAnswer(ctx context.Context, id int, answer string) ([]domain.QA, error) {
	tx, err := r.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var pos sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM questions WHERE project_id=?`, id).Scan(&pos); err != nil {
		return nil, err
	}
	if !pos.Valid {
		return nil, ErrNoQuestion
	}
	if _, err := tx.ExecContext(ctx, `UPDATE questions SET answer=? WHERE project_id=? AND position=?`, answer, id, pos.Int64); err != nil {
		return nil, err
	}
	if err := r.Events.Append(ctx, tx, events.QuestionAnswer, id, "question", strconv.FormatInt(pos.Int64, 10), events.EventPayload{"answer": answer}); err != nil {
		return nil, err
	}
	return r.commitQuestions(ctx, tx, id)
}

// begin opens a transaction after checking that the project exists.
func (r Repo) begin(ctx context.Context, id int) (*sql.Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, projectNotFound(id)
	}
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx, nil
}

func (r Repo) commitTasks(ctx context.Context, tx *sql.Tx, id int) ([]domain.Task, error) {
	tasks, err := listTasks(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return tasks, tx.Commit()
}

func (r Repo) commitQuestions(ctx context.Context, tx *sql.Tx, id int) ([]domain.QA, error) {
	qas, err := listQuestions(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return qas, tx.Commit()
}

func listTasks(ctx context.Context, q queryer, id int) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT description,subtasks_json,details FROM tasks WHERE project_id=? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		var (
			t       domain.Task
			subs    string
			details sql.NullString
		)
		if err := rows.Scan(&t.Description, &subs, &details); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(subs), &t.Subtasks); err != nil {
			return nil, fmt.Errorf("decode subtasks: %w", err)
		}
		t.Subtasks = nonNil(t.Subtasks)
		if details.Valid {
			d := details.String
			t.Details = &d
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func listQuestions(ctx context.Context, q queryer, id int) ([]domain.QA, error) {
	rows, err := q.QueryContext(ctx, `SELECT question,answer FROM questions WHERE project_id=? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.QA{}
	for rows.Next() {
		var (
			qa     domain.QA
			answer sql.NullString
		)
		if err := rows.Scan(&qa.Question, &answer); err != nil {
			return nil, err
		}
		if answer.Valid {
			a := answer.String
			qa.Answer = &a
		}
		res = append(res, qa)
	}
	return res, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
