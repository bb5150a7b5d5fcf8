package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/spf13/cobra"
)

const timeLayout = time.DateTime

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Buy and settle tasks",
}

var taskBuyCmd = &cobra.Command{
	Use:   "buy [service-id] [payment]",
	Short: "Pay into escrow for one run of a service",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskBuy,
}

var taskStartCmd = &cobra.Command{
	Use:   "start [task-id]",
	Short: "Mark a task as running (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskAdvance(args[0], "/start", nil)
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete [task-id]",
	Short: "Complete a task and release its funds to the authority (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskAdvance(args[0], "/complete", map[string]string{"result_hash": resultHash})
	},
}

var taskRefundCmd = &cobra.Command{
	Use:   "refund [task-id]",
	Short: "Return a task's funds to its buyer (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskAdvance(args[0], "/refund", nil)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details and recent decisions",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of tasks ever created",
	RunE:  runTaskCount,
}

var (
	resultHash  string
	taskStatus  string
	taskBuyer   string
	taskService uint64
	taskLimit   int
)

func init() {
	taskCmd.AddCommand(taskBuyCmd, taskStartCmd, taskCompleteCmd, taskRefundCmd, taskShowCmd, taskListCmd, taskCountCmd)

	taskCompleteCmd.Flags().StringVar(&resultHash, "result", "", "Opaque result hash recorded on the task")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (created, running, completed, refunded)")
	taskListCmd.Flags().StringVar(&taskBuyer, "buyer", "", "Filter by buyer")
	taskListCmd.Flags().Uint64Var(&taskService, "service", 0, "Filter by service ID")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 0, "Maximum number of tasks")
}

func runTaskBuy(cmd *cobra.Command, args []string) error {
	serviceID, err := parseID("service", args[0])
	if err != nil {
		return err
	}
	resp, err := apiPost(servicePath(serviceID, "/buy"), map[string]string{"payment": args[1]})
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}
	fmt.Printf("Created task %d: %s escrowed for service %d\n", task.TaskID, task.Amount, task.ServiceID)
	return nil
}

func runTaskAdvance(arg, action string, body interface{}) error {
	id, err := parseID("task", arg)
	if err != nil {
		return err
	}
	resp, err := apiPost(taskPath(id, action), body)
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}
	switch task.Status {
	case models.TaskStatusCompleted:
		fmt.Printf("Task %d completed, %s released to the authority\n", task.TaskID, task.Amount)
	case models.TaskStatusRefunded:
		fmt.Printf("Task %d refunded, %s returned to %s\n", task.TaskID, task.Amount, task.Buyer)
	default:
		fmt.Printf("Task %d is %s\n", task.TaskID, task.Status)
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	id, err := parseID("task", args[0])
	if err != nil {
		return err
	}
	resp, err := apiGet(taskPath(id, ""))
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:        %d\n", task.TaskID)
	fmt.Printf("Service:   %d\n", task.ServiceID)
	fmt.Printf("Buyer:     %s\n", task.Buyer)
	fmt.Printf("Amount:    %s\n", task.Amount)
	fmt.Printf("Status:    %s\n", task.Status)
	if task.ResultHash != "" {
		fmt.Printf("Result:    %s\n", task.ResultHash)
	}
	fmt.Printf("Created:   %s\n", task.CreatedAt.Local().Format(timeLayout))
	fmt.Printf("Updated:   %s\n", task.UpdatedAt.Local().Format(timeLayout))
	if task.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", task.CompletedAt.Local().Format(timeLayout))
	}
	if task.RefundedAt != nil {
		fmt.Printf("Refunded:  %s\n", task.RefundedAt.Local().Format(timeLayout))
	}

	resp, err = apiGet(taskPath(id, "/decisions") + "?limit=10")
	if err != nil {
		return err
	}
	var decisions []models.PDREntry
	if err := json.Unmarshal(resp, &decisions); err != nil {
		return err
	}
	if len(decisions) == 0 {
		return nil
	}

	fmt.Println("\nDecisions:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTION\tOUTCOME\tCALLER\tDETAILS")
	for _, d := range decisions {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			d.Timestamp.Local().Format(timeLayout), d.Action, d.Outcome, d.Caller, truncate(d.Details, 60))
	}
	return w.Flush()
}

func runTaskList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if taskStatus != "" {
		q.Set("status", taskStatus)
	}
	if taskBuyer != "" {
		q.Set("buyer", taskBuyer)
	}
	if taskService != 0 {
		q.Set("service_id", strconv.FormatUint(taskService, 10))
	}
	if taskLimit > 0 {
		q.Set("limit", strconv.Itoa(taskLimit))
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var tasks []models.Task
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVICE\tAMOUNT\tSTATUS\tBUYER")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", t.TaskID, t.ServiceID, t.Amount, t.Status, t.Buyer)
	}
	return w.Flush()
}

func runTaskCount(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/count")
	if err != nil {
		return err
	}
	var count struct {
		Count uint64 `json:"count"`
	}
	if err := json.Unmarshal(resp, &count); err != nil {
		return err
	}
	fmt.Println(count.Count)
	return nil
}

// --- Helpers ---

func parseID(kind, arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", kind, arg)
	}
	return id, nil
}

func taskPath(id uint64, action string) string {
	return "/tasks/" + strconv.FormatUint(id, 10) + action
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
