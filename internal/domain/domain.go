package domain

// Project is a goal plus the tasks and interview history collected for it.
// ID is the decimal form of the local integer id, or the opaque external id.
type Project struct {
	ID                string `json:"-"`
	Goal              string `json:"goal"`
	Tasks             []Task `json:"tasks"`
	AnsweredQuestions []QA   `json:"answered_questions"`
}

type Task struct {
	Description string   `json:"task"`
	Subtasks    []string `json:"subtasks"`
	Details     *string  `json:"details"`
}

// QA is one interview question. Answer stays nil until answered.
type QA struct {
	Question string  `json:"question"`
	Answer   *string `json:"answer"`
}

// Answered reports whether the question has received an answer.
func (q QA) Answered() bool { return q.Answer != nil }

// HasTask reports whether a task with exactly this description exists.
func (p Project) HasTask(description string) bool {
	for _, t := range p.Tasks {
		if t.Description == description {
			return true
		}
	}
	return false
}

// Empty reports whether nothing meaningful is known about the project.
func (p Project) Empty() bool {
	return p.Goal == "" && len(p.Tasks) == 0 && len(p.AnsweredQuestions) == 0
}

// Clone returns a deep copy so callers can mutate it freely.
func (p Project) Clone() Project {
	out := Project{ID: p.ID, Goal: p.Goal}
	out.Tasks = CloneTasks(p.Tasks)
	out.AnsweredQuestions = CloneQAs(p.AnsweredQuestions)
	return out
}

func CloneTasks(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		c := Task{Description: t.Description, Subtasks: append([]string{}, t.Subtasks...)}
		if t.Details != nil {
			d := *t.Details
			c.Details = &d
		}
		out = append(out, c)
	}
	return out
}

func CloneQAs(qas []QA) []QA {
	out := make([]QA, 0, len(qas))
	for _, q := range qas {
		c := QA{Question: q.Question}
		if q.Answer != nil {
			a := *q.Answer
			c.Answer = &a
		}
		out = append(out, c)
	}
	return out
}

// NewTask builds a task with empty subtasks and no details.
func NewTask(description string) Task {
	return Task{Description: description, Subtasks: []string{}}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
