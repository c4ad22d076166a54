package scenarios

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestStreamingLiveUpdates(t *testing.T) {
	a := newClient(t, owner)

	req, err := http.NewRequest(http.MethodGet, a.BaseURL+"/api/groups/"+groupID+"/stream", nil)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.Bearer)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := a.HTTP.Do(req)
	if err != nil {
		t.Skipf("stream unavailable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("stream unavailable: status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	events := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				if data = strings.TrimSpace(data); data != "" {
					events <- data
					return
				}
			}
		}
	}()

	date := uniqueDate()
	toggle(t, a, date, "")

	select {
	case data := <-events:
		var ev struct {
			Type    string `json:"Type"`
			HabitID string `json:"HabitId"`
			GroupID string `json:"GroupId"`
		}
		if err := sonic.UnmarshalString(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != "progress-updated" || ev.GroupID != groupID || ev.HabitID != habitID {
			t.Fatalf("unexpected event: %s", data)
		}
	case <-time.After(visibilitySLA()):
		t.Fatal("no live update received")
	}
}
