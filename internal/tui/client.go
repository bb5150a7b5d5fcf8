package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the market API.
type Client struct {
	baseURL    string
	principal  string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client acting as principal. When token is set
// it is sent as a bearer token; otherwise the principal header is used.
func NewClient(baseURL, principal, token string) *Client {
	return &Client{
		baseURL:   baseURL,
		principal: principal,
		token:     token,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Principal returns who the client acts as.
func (c *Client) Principal() string {
	return c.principal
}

// ListTasks fetches tasks, optionally filtered by status.
func (c *Client) ListTasks(status string) ([]models.Task, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var tasks []models.Task
	err := c.do(http.MethodGet, path, nil, &tasks)
	return tasks, err
}

// GetTask fetches a single task.
func (c *Client) GetTask(id uint64) (*models.Task, error) {
	var task models.Task
	if err := c.do(http.MethodGet, taskPath(id, ""), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskDecisions fetches the decision records of a task, newest first.
func (c *Client) GetTaskDecisions(id uint64) ([]models.PDREntry, error) {
	var entries []models.PDREntry
	err := c.do(http.MethodGet, taskPath(id, "/decisions")+"?limit=10", nil, &entries)
	return entries, err
}

// ListServices fetches all registered services.
func (c *Client) ListServices() ([]models.Service, error) {
	var services []models.Service
	err := c.do(http.MethodGet, "/services", nil, &services)
	return services, err
}

// RegisterService registers or replaces a service.
func (c *Client) RegisterService(id uint64, price string) (*models.Service, error) {
	var svc models.Service
	body := map[string]interface{}{"service_id": id, "price": price}
	if err := c.do(http.MethodPost, "/services", body, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// UpdatePrice changes the price of a service.
func (c *Client) UpdatePrice(id uint64, price string) (*models.Service, error) {
	var svc models.Service
	body := map[string]string{"price": price}
	if err := c.do(http.MethodPost, servicePath(id, "/price"), body, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// Deactivate stops new purchases of a service.
func (c *Client) Deactivate(id uint64) error {
	return c.do(http.MethodPost, servicePath(id, "/deactivate"), nil, nil)
}

// Buy purchases one run of a service.
func (c *Client) Buy(serviceID uint64, payment string) (*models.Task, error) {
	var task models.Task
	body := map[string]string{"payment": payment}
	if err := c.do(http.MethodPost, servicePath(serviceID, "/buy"), body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StartTask marks a task as running.
func (c *Client) StartTask(id uint64) (*models.Task, error) {
	return c.advance(id, "/start", nil)
}

// CompleteTask settles a task to the authority.
func (c *Client) CompleteTask(id uint64, resultHash string) (*models.Task, error) {
	return c.advance(id, "/complete", map[string]string{"result_hash": resultHash})
}

// RefundTask returns a task's funds to its buyer.
func (c *Client) RefundTask(id uint64) (*models.Task, error) {
	return c.advance(id, "/refund", nil)
}

func (c *Client) advance(id uint64, action string, body interface{}) (*models.Task, error) {
	var task models.Task
	if err := c.do(http.MethodPost, taskPath(id, action), body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Escrow fetches the invariant report and the current authority.
func (c *Client) Escrow() (*EscrowSummary, error) {
	var summary EscrowSummary
	if err := c.do(http.MethodGet, "/escrow/invariant", nil, &summary.Report); err != nil {
		return nil, err
	}
	var authority struct {
		Authority string `json:"authority"`
	}
	if err := c.do(http.MethodGet, "/authority", nil, &authority); err != nil {
		return nil, err
	}
	summary.Authority = authority.Authority

	var count struct {
		Count uint64 `json:"count"`
	}
	if err := c.do(http.MethodGet, "/tasks/count", nil, &count); err != nil {
		return nil, err
	}
	summary.TaskCount = count.Count
	return &summary, nil
}

// RecentEvents fetches committed events after seq.
func (c *Client) RecentEvents(after uint64, limit int) ([]models.Event, error) {
	var events []models.Event
	path := fmt.Sprintf("/events?after=%d&limit=%d", after, limit)
	err := c.do(http.MethodGet, path, nil, &events)
	return events, err
}

// CheckHealth checks if the daemon is healthy.
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return health.OK && resp.StatusCode == http.StatusOK, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.principal != "" {
		req.Header.Set("X-Principal", c.principal)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func taskPath(id uint64, action string) string {
	return "/tasks/" + strconv.FormatUint(id, 10) + action
}

func servicePath(id uint64, action string) string {
	return "/services/" + strconv.FormatUint(id, 10) + action
}

// EscrowSummary backs the escrow view.
type EscrowSummary struct {
	Report    market.InvariantReport
	Authority string
	TaskCount uint64
}
