package scenarios

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	testutil "habit-progress/tests"
	"habit-progress/tests/integration/httpclient"
)

const (
	groupID   = "it-group"
	habitID   = "it-habit"
	weekendID = "it-weekend"
	owner     = "it-user-1"
	member    = "it-user-2"
)

type fact struct {
	UserID    string `json:"userId"`
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
	Feeling   string `json:"feeling"`
	Comment   string `json:"comment"`
}

type progress struct {
	CompletionRate float64 `json:"completionRate"`
	CompletedCount int     `json:"completedCount"`
	MemberCount    int     `json:"memberCount"`
	State          string  `json:"state"`
}

type result struct {
	Fact     fact      `json:"fact"`
	Progress *progress `json:"progress"`
}

type day struct {
	Date           string   `json:"date"`
	CompletionRate *float64 `json:"completionRate"`
	State          string   `json:"state"`
}

type week struct {
	End  string `json:"end"`
	Days []day  `json:"days"`
}

type habit struct {
	ID        string `json:"id"`
	Frequency struct {
		Type string `json:"type"`
		Days []int  `json:"days"`
	} `json:"frequency"`
}

func baseURL() string {
	if base := os.Getenv("API_BASE"); base != "" {
		return base
	}
	return "http://localhost:8080"
}

// newClient returns a client authenticated as userID, skipping the test when
// the API is not running.
func newClient(t *testing.T, userID string) *httpclient.Client {
	t.Helper()
	base := baseURL()
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Skipf("skipping, API not reachable: %v", err)
	}
	resp.Body.Close()
	tok, err := testutil.TestToken(userID)
	if err != nil {
		t.Skipf("skipping, cannot sign test token: %v", err)
	}
	return httpclient.New(base, tok)
}

// uniqueDate picks a past date unlikely to be shared with other runs so
// scenarios start from an empty day.
func uniqueDate() time.Time {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.AddDate(0, 0, int(time.Now().UnixNano()%1500))
}

func habitPath(habit, suffix string) string {
	return fmt.Sprintf("/api/groups/%s/habits/%s/%s", groupID, habit, suffix)
}

func toggle(t *testing.T, c *httpclient.Client, date time.Time, key string) result {
	t.Helper()
	var headers map[string]string
	if key != "" {
		headers = map[string]string{"Idempotency-Key": key}
	}
	var out result
	if _, err := c.PostJSON(context.Background(), habitPath(habitID, "toggle"), headers,
		map[string]string{"date": date.Format("2006-01-02")}, &out); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	return out
}

// pollWeek reads the week ending on end until cond holds or the visibility
// SLA expires.
func pollWeek(t *testing.T, c *httpclient.Client, end time.Time, desc string, cond func(week) bool) week {
	t.Helper()
	deadline := time.Now().Add(visibilitySLA())
	backoff := 100 * time.Millisecond
	path := habitPath(habitID, "week") + "?end=" + end.Format("2006-01-02")
	for {
		var w week
		_, err := c.GetJSON(context.Background(), path, &w)
		if err == nil && cond(w) {
			return w
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s: last=%#v err=%v", desc, w, err)
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func visibilitySLA() time.Duration {
	sla := 10 * time.Second
	data, err := os.ReadFile("../config.test.yaml")
	if err != nil {
		return sla
	}
	var cfg struct {
		VisibilitySLAMs int `yaml:"projection_visibility_sla_ms"`
	}
	if err := yaml.Unmarshal(data, &cfg); err == nil && cfg.VisibilitySLAMs > 0 {
		sla = time.Duration(cfg.VisibilitySLAMs) * time.Millisecond
	}
	return sla
}

func lastDay(w week) day {
	if len(w.Days) == 0 {
		return day{}
	}
	return w.Days[len(w.Days)-1]
}
