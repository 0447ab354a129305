package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	geniesdk "genie/sdk/go"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Work with projects through a running server",
		Long:  "Client commands talking to the API at --server. Ids are local integers or external project ids.",
	}
	prj.AddCommand(projectStartCmd())
	prj.AddCommand(projectAddTaskCmd())
	prj.AddCommand(projectDetailsCmd())
	prj.AddCommand(projectSubtaskCmd())
	prj.AddCommand(projectAskCmd())
	prj.AddCommand(projectAnswerCmd())
	prj.AddCommand(projectChatCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func client() *geniesdk.Client {
	return geniesdk.New(viper.GetString("server"))
}

func projectStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <goal>",
		Short: "Start a project with a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().StartProject(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("Project %d: %s\n", res.ProjectID, res.ProjectGoal)
			return nil
		},
	}
}

func projectAddTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-task <id> <paragraph>",
		Short: "Add tasks; each sentence becomes one task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().AddTask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printTasks(res)
		},
	}
}

func projectDetailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "details <id> <index> <details>",
		Short: "Set the details of a task",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid task index %q", args[1])
			}
			res, err := client().AddTaskDetails(cmd.Context(), args[0], index, strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			return printTasks(res)
		},
	}
}

func projectSubtaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subtask <id> <index> <subtask>",
		Short: "Append a subtask to a task",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid task index %q", args[1])
			}
			res, err := client().AddSubtask(cmd.Context(), args[0], index, strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			return printTasks(res)
		},
	}
}

func projectAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <id>",
		Short: "Ask the assistant for the next question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := client().Ask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"question": q})
			}
			fmt.Println(q)
			return nil
		},
	}
}

func projectAnswerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <id> <answer>",
		Short: "Answer the most recent question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Answer(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if res.Project != nil {
				return printProject(*res.Project)
			}
			fmt.Println(res.Message)
			return nil
		},
	}
}

func projectChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <id> <message>",
		Short: "Chat with the assistant about a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Chat(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Println(res.Response)
			return nil
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client().GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(p)
			}
			return printProject(p)
		},
	}
}

func printTasks(res geniesdk.TasksResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	renderTasks(res.Tasks)
	return nil
}

func renderTasks(tasks []geniesdk.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Task", "Subtasks", "Details"})
	for i, t := range tasks {
		details := ""
		if t.Details != nil {
			details = *t.Details
		}
		tw.AppendRow(table.Row{i, t.Task, strings.Join(t.Subtasks, "\n"), details})
	}
	tw.Render()
}

func printProject(p geniesdk.Project) error {
	fmt.Printf("Goal: %s\n", p.Goal)
	renderTasks(p.Tasks)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Question", "Answer"})
	for i, qa := range p.AnsweredQuestions {
		answer := "(open)"
		if qa.Answer != nil {
			answer = *qa.Answer
		}
		tw.AppendRow(table.Row{i, qa.Question, answer})
	}
	tw.Render()
	return nil
}
