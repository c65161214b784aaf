package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/calendar"
	"github.com/starford/raido/internal/testutil"
	"github.com/starford/raido/internal/tracker"
)

var vault = map[string]string{
	"tasks/water.md": "---\ntags: [task]\nstatus: open\nrecurrence: FREQ=DAILY\nscheduled: 2025-01-09\n---\n# Water plants\n",
	"a.md":           "---\ntags: [task]\nstatus: open\nblockedBy: [\"[[b]]\"]\n---\n# A\n",
	"b.md":           "---\ntags: [task]\nstatus: open\n---\n# B\n",
	"garden.md":      "# Garden\nRemember to water the roses.\n",
}

// testEnv builds a router over a synced vault.
// authToken == "" means disabled mode.
func testEnv(t *testing.T, authToken string) (*testutil.Env, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*testutil.Env, http.Handler) {
	t.Helper()
	env := testutil.TestEnv(t, vault)
	router := NewRouter(env.Engine, env.DB, tracker.New(nil), authEnabled, token, sseHandler)
	return env, router
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListTasks(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp TaskListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3 (garden.md is not a task)", resp.Total)
	}
}

func TestCompleteOverdueTask(t *testing.T) {
	env, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tasks/complete/tasks/water.md", ActionRequest{Date: "2025-01-10"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete = %d, body = %s", w.Code, w.Body.String())
	}
	var res ActionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Instance != "2025-01-09" {
		t.Errorf("instance = %q, want 2025-01-09", res.Instance)
	}
	if res.Next != "2025-01-10" {
		t.Errorf("next = %q, want 2025-01-10", res.Next)
	}

	data, err := env.Store.Read("tasks/water.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "2025-01-09") || !strings.Contains(string(data), "complete_instances") {
		t.Errorf("note not rewritten:\n%s", data)
	}

	w = do(t, router, http.MethodGet, "/tasks/status/tasks/water.md?date=2025-01-09", nil)
	var st StatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Status != "done" {
		t.Errorf("status on 2025-01-09 = %q, want done", st.Status)
	}

	w = do(t, router, http.MethodGet, "/tasks/next/tasks/water.md?ref=2025-01-10", nil)
	var next NextResponse
	_ = json.Unmarshal(w.Body.Bytes(), &next)
	if next.Next != "2025-01-10" {
		t.Errorf("next = %q, want 2025-01-10", next.Next)
	}
}

func TestEncodedPath(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/tasks/status/tasks%2Fwater.md?date=2025-01-09", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded path = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestStatusBadDate(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/tasks/status/tasks/water.md?date=10.01.2025", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", w.Code)
	}
}

func TestTaskNotFound(t *testing.T) {
	_, router := testEnv(t, "")

	for _, target := range []string{
		"/tasks/status/nope.md?date=2025-01-09",
		"/tasks/relations/nope.md",
		"/tasks/relations/garden.md",
	} {
		w := do(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", target, w.Code)
		}
	}
	w := do(t, router, http.MethodPost, "/tasks/complete/nope.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("complete missing = %d, want 404", w.Code)
	}
}

func TestSkipNonRecurring(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tasks/skip/b.md", ActionRequest{Date: "2025-01-10"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("skip non-recurring = %d, want 400", w.Code)
	}
}

func TestToggleRequiresKind(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tasks/toggle/tasks/water.md", ToggleRequest{Date: "2025-01-08"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("toggle without kind = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/tasks/toggle/tasks/water.md", ToggleRequest{Date: "2025-01-08", Kind: "skip", Today: "2025-01-09"})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodGet, "/tasks/status/tasks/water.md?date=2025-01-08", nil)
	var st StatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Status != "skipped" {
		t.Errorf("status = %q, want skipped", st.Status)
	}
}

func TestRelationsAndBlockingOrder(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/tasks/relations/a.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("relations = %d", w.Code)
	}
	var rel Relations
	_ = json.Unmarshal(w.Body.Bytes(), &rel)
	if len(rel.Blockers) != 1 || rel.Blockers[0] != "b.md" || !rel.IsBlocked {
		t.Errorf("relations = %+v, want blocked by b.md", rel)
	}

	w = do(t, router, http.MethodGet, "/blocking-order", nil)
	var order BlockingOrderResponse
	_ = json.Unmarshal(w.Body.Bytes(), &order)
	pos := map[string]int{}
	for i, p := range order.Order {
		pos[p] = i
	}
	if pos["b.md"] > pos["a.md"] {
		t.Errorf("order = %v, want b.md before a.md", order.Order)
	}
}

func TestAssignID(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tasks/assign-id/b.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("assign id = %d, body = %s", w.Code, w.Body.String())
	}
	var first AssignIDResponse
	_ = json.Unmarshal(w.Body.Bytes(), &first)
	if first.ID == "" {
		t.Fatal("empty id")
	}

	w = do(t, router, http.MethodPost, "/tasks/assign-id/b.md", nil)
	var second AssignIDResponse
	_ = json.Unmarshal(w.Body.Bytes(), &second)
	if second.ID != first.ID {
		t.Errorf("second assign = %q, want stable %q", second.ID, first.ID)
	}
}

func TestExpandRecurrence(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/recurrence/expand", ExpandRequest{
		Rule: "FREQ=WEEKLY;BYDAY=MO", Anchor: "2025-01-01", Start: "2025-01-01", End: "2025-01-31",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expand = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ExpandResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	want := []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27"}
	if strings.Join(resp.Dates, ",") != strings.Join(want, ",") {
		t.Errorf("dates = %v, want %v", resp.Dates, want)
	}

	w = do(t, router, http.MethodPost, "/recurrence/expand", ExpandRequest{
		Rule: "FREQ=HOURLY", Anchor: "2025-01-01", Start: "2025-01-01", End: "2025-01-31",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unsupported rule = %d, want 422", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "unsupported" || resp.Dates == nil {
		t.Errorf("resp = %+v, want unsupported with empty dates", resp)
	}

	w = do(t, router, http.MethodPost, "/recurrence/expand", ExpandRequest{
		Rule: "FREQ=DAILY", Start: "2025-02-01", End: "2025-01-01",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("reversed window = %d, want 400", w.Code)
	}
}

func TestCalendarWindowValidation(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/calendar?start=2025-01-01&end=2025-01-31", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("calendar = %d", w.Code)
	}
	var resp CalendarResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Occurrences == nil {
		t.Error("occurrences should be an empty list, not null")
	}

	w = do(t, router, http.MethodGet, "/calendar?start=2025-01-01", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing end = %d, want 400", w.Code)
	}
}

func TestCalendarSubscription(t *testing.T) {
	env := testutil.TestEnv(t, nil)
	env.Engine.SetCalendar([]*calendar.Subscription{{
		Name: "work",
		Events: []calendar.Event{
			{UID: "standup", Title: "Standup", Start: "2025-01-06", RRule: "FREQ=WEEKLY;BYDAY=MO"},
			{UID: "drill", Title: "Drill", Start: "2025-01-02", RRule: "FREQ=HOURLY"},
		},
	}})
	h := NewHandler(env.Engine, env.DB, tracker.New(nil), WithCalendarLookahead(7))
	h.now = func() time.Time { return time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC) }
	router := chi.NewRouter()
	router.Get("/calendar", h.Calendar)

	w := do(t, router, http.MethodGet, "/calendar", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("calendar = %d, body = %s", w.Code, w.Body.String())
	}
	var resp CalendarResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	var standups, base int
	for _, o := range resp.Occurrences {
		switch {
		case o.UID == "standup":
			standups++
		case o.UID == "drill" && o.Base && o.Status == "unsupported":
			base++
		}
	}
	if standups != 2 {
		t.Errorf("standups = %d, want 2 (2025-01-06 and 2025-01-13)", standups)
	}
	if base != 1 {
		t.Errorf("unsupported event should appear once as base, got %+v", resp.Occurrences)
	}
}

func TestWeekdays(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/weekdays", nil)
	var resp WeekdaysResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if strings.Join(resp.Weekdays, ",") != "MO,TU,WE,TH,FR,SA,SU" {
		t.Errorf("weekdays = %v", resp.Weekdays)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search?q=water", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	isTask := map[string]bool{}
	for _, r := range resp.Results {
		isTask[r.Path] = r.IsTask
	}
	if got, ok := isTask["tasks/water.md"]; !ok || !got {
		t.Errorf("tasks/water.md missing or not a task: %+v", resp.Results)
	}
	if got, ok := isTask["garden.md"]; !ok || got {
		t.Errorf("garden.md missing or marked as task: %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestTracking(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tracker/stop", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("stop idle = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/tracker/start/nope.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("start unknown task = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodPost, "/tracker/start/b.md", StartTrackingRequest{At: "2025-01-10T09:00:00Z"})
	if w.Code != http.StatusOK {
		t.Fatalf("start = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodGet, "/tracker/active", nil)
	if w.Code != http.StatusOK {
		t.Errorf("active = %d", w.Code)
	}
	w = do(t, router, http.MethodPost, "/tracker/stop", StartTrackingRequest{At: "2025-01-10T09:30:00Z"})
	if w.Code != http.StatusOK {
		t.Fatalf("stop = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/tracker/sessions/b.md", nil)
	var resp SessionsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Sessions) != 1 || resp.Sessions[0].Duration(time.Time{}) != 30*time.Minute {
		t.Errorf("sessions = %+v, want one 30m session", resp.Sessions)
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"valid token", "secret123", "Bearer secret123", http.StatusOK},
		{"missing token", "secret123", "", http.StatusUnauthorized},
		{"wrong token", "secret123", "Bearer wrong", http.StatusUnauthorized},
		{"wrong scheme", "secret123", "Basic secret123", http.StatusUnauthorized},
		{"disabled", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := testEnv(t, tt.token)
			req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_QueryTokenOnlyForEventStream(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/tasks?access_token=secret123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on JSON route = %d, want 401", w.Code)
	}
}

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestEventsAuth(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		target  string
		header  string
		want    int
	}{
		{"no token", true, "/events", "", http.StatusUnauthorized},
		{"bearer token", true, "/events", "Bearer tok", http.StatusOK},
		{"query token", true, "/events?access_token=tok", "", http.StatusOK},
		{"wrong query token", true, "/events?access_token=nope", "", http.StatusUnauthorized},
		{"auth disabled", false, "/events", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := ""
			if tt.enabled {
				token = "tok"
			}
			_, router := testEnvWithSSE(t, tt.enabled, token, blockingSSE)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil).WithContext(ctx)
			req.Header.Set("Accept", "text/event-stream")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
