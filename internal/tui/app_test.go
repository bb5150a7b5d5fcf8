package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cosmossdk.io/math"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/computemarket/cmkt/internal/models"
)

// fakeAPI serves just enough of the market API for the dashboard.
func fakeAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI()+" as "+r.Header.Get("X-Principal"))
		json.NewEncoder(w).Encode([]models.Task{
			{TaskID: 2, ServiceID: 1, Buyer: "0xbuyer", Amount: math.NewUint(150), Status: models.TaskStatusRunning},
			{TaskID: 1, ServiceID: 1, Buyer: "0xbuyer", Amount: math.NewUint(100), Status: models.TaskStatusCreated},
		})
	})
	mux.HandleFunc("/services/1/buy", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path+" as "+r.Header.Get("X-Principal"))
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["payment"] != "150" {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "insufficient payment", "code": 4})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Task{TaskID: 3, ServiceID: 1, Buyer: "0xbuyer", Amount: math.NewUint(150), Status: models.TaskStatusCreated})
	})
	mux.HandleFunc("/tasks/2/start", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path+" as "+r.Header.Get("X-Principal"))
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "task 2 is running: invalid task state transition"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestClient_ListTasksSendsPrincipal(t *testing.T) {
	srv, seen := fakeAPI(t)
	c := NewClient(srv.URL, "0xbuyer", "")

	tasks, err := c.ListTasks("running")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Amount.Uint64() != 150 {
		t.Errorf("Unexpected tasks: %+v", tasks)
	}
	if got := (*seen)[0]; got != "GET /tasks?status=running as 0xbuyer" {
		t.Errorf("Unexpected request: %s", got)
	}
}

func TestClient_ErrorMessage(t *testing.T) {
	srv, _ := fakeAPI(t)
	c := NewClient(srv.URL, "0xbuyer", "")

	_, err := c.Buy(1, "99")
	if err == nil || err.Error() != "insufficient payment" {
		t.Errorf("Expected API error message, got %v", err)
	}
}

func TestApp_CommandsTargetSelection(t *testing.T) {
	srv, seen := fakeAPI(t)
	app := New(srv.URL, "0xadmin", "")

	app.Update(tasksLoadedMsg{tasks: []models.Task{
		{TaskID: 2, Status: models.TaskStatusRunning, Amount: math.NewUint(150)},
		{TaskID: 1, Status: models.TaskStatusCreated, Amount: math.NewUint(100)},
	}})

	msg := app.executeCommand("start")()
	res, ok := msg.(commandResultMsg)
	if !ok {
		t.Fatalf("Expected commandResultMsg, got %T", msg)
	}
	if !strings.HasPrefix(res.message, "Error: task 2 is running") {
		t.Errorf("Expected state transition error, got %q", res.message)
	}
	if last := (*seen)[len(*seen)-1]; last != "POST /tasks/2/start as 0xadmin" {
		t.Errorf("Expected start on the selected task, got %s", last)
	}

	msg = app.executeCommand("buy @service-1 150")()
	if res := msg.(commandResultMsg); res.message != "✓ Bought task 3 for 150" {
		t.Errorf("Unexpected buy result: %q", res.message)
	}

	if res := app.executeCommand("buy 1")().(commandResultMsg); !strings.HasPrefix(res.message, "Usage") {
		t.Errorf("Expected usage, got %q", res.message)
	}
}

func TestApp_Navigation(t *testing.T) {
	app := New("http://127.0.0.1:0", "", "")
	app.Update(tasksLoadedMsg{tasks: []models.Task{{TaskID: 3}, {TaskID: 2}, {TaskID: 1}}})

	down := tea.KeyMsg{Type: tea.KeyDown}
	for i := 0; i < 5; i++ {
		app.Update(down)
	}
	if app.selectedIdx != 2 {
		t.Errorf("Expected selection clamped to 2, got %d", app.selectedIdx)
	}

	app.Update(tasksLoadedMsg{tasks: []models.Task{{TaskID: 1}}})
	if app.selectedIdx != 0 {
		t.Errorf("Expected selection reset to 0, got %d", app.selectedIdx)
	}

	app.Update(tea.KeyMsg{Type: tea.KeyTab})
	if statusFilters[app.filterIdx] != "created" {
		t.Errorf("Expected tab to cycle to created, got %q", statusFilters[app.filterIdx])
	}
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()

	s.Update("/re")
	if !s.IsVisible() {
		t.Fatal("Expected suggestions for /re")
	}
	for _, item := range s.filtered {
		if !strings.Contains(item.Text, "re") {
			t.Errorf("Unexpected suggestion %q for /re", item.Text)
		}
	}

	s.Update("@")
	s.SetReferences([]uint64{7}, []uint64{1})
	if len(s.filtered) != 2 || s.Selected().Text != "task-7" {
		t.Errorf("Unexpected references: %+v", s.filtered)
	}
	s.Next()
	if s.Selected().Text != "service-1" {
		t.Errorf("Expected service-1, got %s", s.Selected().Text)
	}

	s.Update("buy 1 100")
	if s.IsVisible() {
		t.Error("Plain input should hide suggestions")
	}
}

func TestParseRef(t *testing.T) {
	for in, want := range map[string]uint64{"7": 7, "task-7": 7, "@service-12": 12} {
		got, err := parseRef(in)
		if err != nil || got != want {
			t.Errorf("parseRef(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := parseRef("abc"); err == nil {
		t.Error("Expected error for abc")
	}
	if got := shorten("0x0123456789abcdef0123", 9); got != "0x01…0123" {
		t.Errorf("Unexpected shorten result %q", got)
	}
}
