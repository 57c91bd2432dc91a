package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskCreateCmd(clientFn, outputFn),
		newTaskListCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskJobsCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workspace string
	var steps []string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "create FLOW",
		Short: "Create a task and start its flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateTaskRequest{
				WorkspaceID: workspace,
				Flow:        args[0],
				Steps:       steps,
			}

			if len(inputs) > 0 {
				req.Inputs = make(map[string]any)
				for _, kv := range inputs {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
					}
					req.Inputs[parts[0]] = parts[1]
				}
			}

			task, err := client.CreateTask(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task created: %s", task.ID))
			out.Print(taskHeaders, [][]string{taskRow(*task)}, task)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID (required)")
	cmd.Flags().StringSliceVar(&steps, "steps", nil, "Enabled steps, comma separated (all flow steps if omitted)")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workspace string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(ListTasksOpts{
				WorkspaceID: workspace,
				Status:      status,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}

			out.Print(taskHeaders, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Filter by workspace ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (QUEUED, RUNNING, SUCCESS, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task status and step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(task)
				return nil
			}

			out.Table(taskHeaders, [][]string{taskRow(*task)})

			if task.Result != nil && len(task.Result.Steps) > 0 {
				out.Table([]string{"STEP", "STATUS", "ATTEMPTS", "ERROR"}, stepRows(task.Result))
			}
			if len(task.Errors) > 0 {
				rows := make([][]string, len(task.Errors))
				for i, e := range task.Errors {
					rows[i] = []string{e.Timestamp, e.Step, e.Error}
				}
				out.Table([]string{"TIME", "STEP", "ERROR"}, rows)
			}
			return nil
		},
	}
}

func newTaskJobsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs TASK_ID",
		Short: "List queue jobs of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListTaskJobs(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "KIND", "STATE", "ATTEMPTS", "FAILED_REASON"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				kind := "step"
				if j.ParentID == "" {
					kind = "parent"
				}
				rows[i] = []string{
					j.ID,
					j.Name,
					kind,
					j.State,
					fmt.Sprintf("%d/%d", j.AttemptsMade, j.MaxAttempts),
					j.FailedReason,
				}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}
}

var taskHeaders = []string{"ID", "WORKSPACE", "FLOW", "STATUS", "PROGRESS", "CREATED"}

func taskRow(t TaskResponse) []string {
	return []string{t.ID, t.WorkspaceID, t.Flow, t.Status, strconv.Itoa(t.Progress) + "%", t.CreatedAt}
}

// stepRows возвращает строки результатов шагов, отсортированные по типу.
func stepRows(r *TaskResult) [][]string {
	names := make([]string, 0, len(r.Steps))
	for name := range r.Steps {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, len(names))
	for i, name := range names {
		s := r.Steps[name]
		rows[i] = []string{name, s.Status, strconv.Itoa(s.Attempts), s.Error}
	}
	return rows
}
