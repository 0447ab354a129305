package engine

import (
	"fmt"
	"strings"

	"genie/internal/domain"
)

const unanswered = "(no answer yet)"

// QuestionPrompt builds the prompt for the next interview question. Only
// answered questions are shown to the model.
func QuestionPrompt(p domain.Project) string {
	if len(p.AnsweredQuestions) == 0 {
		return "Based on this project goal, what is the question to ask generate only question no more word: " + p.Goal
	}
	lines := make([]string, 0, len(p.AnsweredQuestions))
	for _, qa := range p.AnsweredQuestions {
		if !qa.Answered() {
			continue
		}
		lines = append(lines, fmt.Sprintf("Q: %s\nA: %s", qa.Question, *qa.Answer))
	}
	return fmt.Sprintf("Project goal: %s\n\nPrevious Q&A:\n%s\n\nBased on the project goal and previous Q&A, what is the next question to ask?",
		p.Goal, strings.Join(lines, "\n"))
}

// ChatContext renders the whole project followed by the user's message.
func ChatContext(p domain.Project, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project Goal: %s\n\n", p.Goal)
	b.WriteString("Tasks:\n")
	for _, t := range p.Tasks {
		fmt.Fprintf(&b, "- %s\n", t.Description)
		for _, s := range t.Subtasks {
			fmt.Fprintf(&b, "  - Subtask: %s\n", s)
		}
		if t.Details != nil && *t.Details != "" {
			fmt.Fprintf(&b, "  - Details: %s\n", *t.Details)
		}
	}
	b.WriteString("\nAnswered Questions:\n")
	for _, qa := range p.AnsweredQuestions {
		answer := unanswered
		if qa.Answered() {
			answer = *qa.Answer
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", qa.Question, answer)
	}
	fmt.Fprintf(&b, "\nUser's message: %s\n\nAssistant, based on this information, answer the user's query.", message)
	return b.String()
}
