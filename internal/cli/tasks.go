package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/me/taskd/pkg/model"
	"github.com/spf13/cobra"
)

func newCreateCmd() *cobra.Command {
	var (
		at     string
		in     time.Duration
		repeat bool
	)
	cmd := &cobra.Command{
		Use:   "create <Foo|Bar|Baz>",
		Short: "Schedule a new task",
		Long: "Schedule a new task. The execution time is given either as an RFC 3339\n" +
			"timestamp (--at) or as a delay from now (--in), and must be at least\n" +
			model.MinLeadTime.String() + " in the future.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := model.ParseTaskType(args[0])
			if err != nil {
				return fmt.Errorf("%w (want one of %s)", err, typeNames())
			}

			var when time.Time
			switch {
			case at != "" && in != 0:
				return errors.New("--at and --in are mutually exclusive")
			case at != "":
				when, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
			case in != 0:
				when = time.Now().Add(in)
			default:
				return errors.New("one of --at or --in is required")
			}

			resp, err := client.Post("/task", model.CreateTaskRequest{
				TaskType:      tt,
				ExecutionTime: when,
				Repeat:        repeat,
			})
			if err != nil {
				return fmt.Errorf("create task: %w", describe(err))
			}

			var data model.CreateTaskResponse
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task created: %d\n", data.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Execution time (RFC 3339)")
	cmd.Flags().DurationVar(&in, "in", 0, "Execution delay from now (e.g. 10m)")
	cmd.Flags().BoolVar(&repeat, "repeat", false, "Run again on the server's repeat schedule")
	return cmd
}

func newListCmd() *cobra.Command {
	var taskType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/task"
			if taskType != "" {
				path += "?task_type=" + url.QueryEscape(taskType)
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", describe(err))
			}

			var tasks []model.Task
			if err := json.Unmarshal(resp.Data, &tasks); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}

			fmt.Fprintf(out, "%-8s  %-5s  %-30s  %-6s  %s\n", "ID", "TYPE", "SCHEDULED_FOR", "REPEAT", "LAST_RUN")
			fmt.Fprintf(out, "%-8s  %-5s  %-30s  %-6s  %s\n", "--", "----", "-------------", "------", "--------")
			for _, t := range tasks {
				fmt.Fprintf(out, "%-8d  %-5s  %-30s  %-6t  %s\n",
					t.ID, t.TaskType, t.ScheduledFor.Format(time.RFC3339), t.Repeat, formatLastRun(t.LastRun))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskType, "type", "", "Only list tasks of this type")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task_id>",
		Short: "Show a single task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			resp, err := client.Get("/task/" + strconv.FormatInt(id, 10))
			if err != nil {
				return fmt.Errorf("get task: %w", describe(err))
			}

			var t model.Task
			if err := json.Unmarshal(resp.Data, &t); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task: %d\n", t.ID)
			fmt.Fprintf(out, "  Type:      %s\n", t.TaskType)
			fmt.Fprintf(out, "  Scheduled: %s\n", t.ScheduledFor.Format(time.RFC3339))
			fmt.Fprintf(out, "  Repeat:    %t\n", t.Repeat)
			fmt.Fprintf(out, "  Last run:  %s\n", formatLastRun(t.LastRun))
			if !t.CreatedAt.IsZero() {
				fmt.Fprintf(out, "  Created:   %s\n", t.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task_id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			resp, err := client.Delete("/task/" + strconv.FormatInt(id, 10))
			if err != nil {
				return fmt.Errorf("delete task: %w", describe(err))
			}

			var data model.DeleteTaskResponse
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if data.Deleted == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d not found, nothing deleted.\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d deleted.\n", id)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q: must be an integer", s)
	}
	return id, nil
}

func formatLastRun(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func typeNames() string {
	names := make([]string, len(model.TaskTypes))
	for i, t := range model.TaskTypes {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

// describe appends field details to API validation errors.
func describe(err error) error {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Details) == 0 {
		return err
	}
	parts := make([]string, 0, len(apiErr.Details))
	for _, d := range apiErr.Details {
		if d.Field != "" {
			parts = append(parts, d.Field+": "+d.Message)
		} else {
			parts = append(parts, d.Message)
		}
	}
	return fmt.Errorf("%w (%s)", err, strings.Join(parts, "; "))
}
