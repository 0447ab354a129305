package server

import "genie/internal/domain"

// Request payloads

type StartProjectRequest struct {
	UserMessage string `json:"user_message" doc:"Project goal, stored verbatim"`
}

type AddTaskRequest struct {
	AddTask string `json:"add_task" doc:"Paragraph split into tasks at sentence boundaries"`
}

type TaskDetailsRequest struct {
	Details string `json:"details"`
}

type SubtaskRequest struct {
	Subtask string `json:"subtask"`
}

type AnswerRequest struct {
	Answer string `json:"answer"`
}

// Response payloads

type TaskResponse struct {
	Task     string   `json:"task"`
	Subtasks []string `json:"subtasks"`
	Details  *string  `json:"details"`
}

type QAResponse struct {
	Question string  `json:"question"`
	Answer   *string `json:"answer"`
}

type ProjectResponse struct {
	Goal              string         `json:"goal"`
	Tasks             []TaskResponse `json:"tasks"`
	AnsweredQuestions []QAResponse   `json:"answered_questions"`
}

type StartProjectResponse struct {
	ProjectID   int    `json:"project_id"`
	ProjectGoal string `json:"project_goal"`
}

// TasksResponse carries a numeric id for local projects and the external id
// string otherwise.
type TasksResponse struct {
	ProjectID any            `json:"project_id"`
	Tasks     []TaskResponse `json:"tasks"`
}

type QuestionResponse struct {
	Question string `json:"question"`
}

// AnswerResponse is {message} for local projects and {success, project} for
// external ones.
type AnswerResponse struct {
	Message string           `json:"message,omitempty"`
	Success bool             `json:"success,omitempty"`
	Project *ProjectResponse `json:"project,omitempty"`
}

type ChatResponse struct {
	ProjectID any    `json:"project_id,omitempty"`
	Response  string `json:"response"`
}

type ExternalProjectResponse struct {
	Project ProjectResponse `json:"project"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func taskResponse(t domain.Task) TaskResponse {
	subs := t.Subtasks
	if subs == nil {
		subs = []string{}
	}
	return TaskResponse{Task: t.Description, Subtasks: subs, Details: t.Details}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func mapQAs(items []domain.QA) []QAResponse {
	out := make([]QAResponse, 0, len(items))
	for _, qa := range items {
		out = append(out, QAResponse{Question: qa.Question, Answer: qa.Answer})
	}
	return out
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		Goal:              p.Goal,
		Tasks:             mapTasks(p.Tasks),
		AnsweredQuestions: mapQAs(p.AnsweredQuestions),
	}
}
