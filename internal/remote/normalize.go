package remote

import (
	"encoding/json"
	"fmt"

	"genie/internal/domain"
)

// Normalize maps the loosely shaped service payload onto a Project. The body may
// be flat or wrapped in a "data" envelope, and the goal and history fields have
// several historical spellings.
func Normalize(body []byte) (domain.Project, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Project{}, err
	}
	obj, _ := payload.(map[string]any)
	if data, ok := obj["data"].(map[string]any); ok && len(data) > 0 {
		obj = data
	}
	if obj == nil {
		return domain.Project{}, nil
	}
	p := domain.Project{
		Goal:              firstString(obj["goal"], obj["project_goal"], nested(obj["_doc"], "goal")),
		Tasks:             []domain.Task{},
		AnsweredQuestions: []domain.QA{},
	}
	if items, ok := obj["tasks"].([]any); ok {
		for _, item := range items {
			if t, ok := normalizeTask(item); ok {
				p.Tasks = append(p.Tasks, t)
			}
		}
	}
	qas, _ := obj["answered_questions"].([]any)
	if len(qas) == 0 {
		qas, _ = obj["answeredQuestions"].([]any)
	}
	for _, item := range qas {
		if qa, ok := normalizeQA(item); ok {
			p.AnsweredQuestions = append(p.AnsweredQuestions, qa)
		}
	}
	return p, nil
}

func normalizeTask(item any) (domain.Task, bool) {
	switch v := item.(type) {
	case string:
		return domain.NewTask(v), true
	case map[string]any:
		t := domain.NewTask(firstString(v["task"], v["description"], v["title"]))
		if subs, ok := v["subtasks"].([]any); ok {
			for _, s := range subs {
				t.Subtasks = append(t.Subtasks, stringify(s))
			}
		}
		if d, ok := v["details"].(string); ok {
			t.Details = &d
		}
		return t, true
	}
	return domain.Task{}, false
}

func normalizeQA(item any) (domain.QA, bool) {
	v, ok := item.(map[string]any)
	if !ok {
		return domain.QA{}, false
	}
	qa := domain.QA{Question: stringify(v["question"])}
	if a, ok := v["answer"]; ok && a != nil {
		s := stringify(a)
		qa.Answer = &s
	}
	return qa, true
}

func nested(v any, key string) any {
	if m, ok := v.(map[string]any); ok {
		return m[key]
	}
	return nil
}

func firstString(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
