package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"habit-progress/aggregation"
	"habit-progress/domain"
	"habit-progress/progress"
	"habit-progress/storage"
	"habit-progress/window"
)

type fakeAuth struct{ user string }

func (f fakeAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return f.user, nil
}

type failingService struct {
	ProgressService
	err       error
	accessErr error
}

func (f failingService) CheckAccess(context.Context, string, string) error {
	return f.accessErr
}

func (f failingService) GetWeek(context.Context, string, string, time.Time) ([domain.WeekLength]domain.ClassifiedDay, error) {
	return [domain.WeekLength]domain.ClassifiedDay{}, f.err
}

func (f failingService) ToggleHabitCompletion(context.Context, string, string, string, time.Time) (progress.Result, error) {
	return progress.Result{}, f.err
}

type testServer struct {
	e     *echo.Echo
	store *storage.MemoryStore
	redis *miniredis.Miniredis
}

func newTestServer(t *testing.T, user string) testServer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.UpsertGroup(ctx, domain.Group{ID: "g1", OwnerID: "owner", MemberIDs: []string{"u1", "u2"}, HabitIDs: []string{"h1"}})
	_ = store.UpsertHabit(ctx, domain.Habit{ID: "h1", GroupID: "g1", OwnerID: "owner", Name: "Read", Frequency: domain.Frequency{Type: domain.Everyday}})
	_ = store.UpsertGroup(ctx, domain.Group{ID: "secret", OwnerID: "owner", MemberIDs: []string{"u1"}, HabitIDs: []string{"hs"}, Private: true})
	_ = store.UpsertHabit(ctx, domain.Habit{ID: "hs", GroupID: "secret", OwnerID: "owner", Name: "Journal", Frequency: domain.Frequency{Type: domain.Everyday}})

	logger, _ := test.NewNullLogger()
	svc := progress.NewService(store, aggregation.NewEngine(store, logger), window.NewBuilder(store, window.NewCache(rc, time.Hour)), nil, logger)

	e := echo.New()
	Register(e, svc, fakeAuth{user: user}, NewRedisDeduper(rc, time.Minute), NewBroker(), logger)
	return testServer{e: e, store: store, redis: mr}
}

func (s testServer) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestToggleReturnsProgress(t *testing.T) {
	s := newTestServer(t, "u1")
	rec := s.do(http.MethodPost, "/api/groups/g1/habits/h1/toggle", `{"date":"2024-06-03"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var got resultView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Fact.Completed || got.Fact.Date != "2024-06-03" || got.Fact.UserID != "u1" {
		t.Fatalf("unexpected fact: %#v", got.Fact)
	}
	if got.Progress == nil || got.Progress.CompletionRate != 0.5 || got.Progress.State != string(domain.Average) {
		t.Fatalf("unexpected progress: %#v", got.Progress)
	}
}

func TestToggleIdempotencyKeyReplaysResponse(t *testing.T) {
	s := newTestServer(t, "u1")
	headers := map[string]string{headerIdempotencyKey: "k-1"}
	first := s.do(http.MethodPost, "/api/groups/g1/habits/h1/toggle", `{"date":"2024-06-03"}`, headers)
	second := s.do(http.MethodPost, "/api/groups/g1/habits/h1/toggle", `{"date":"2024-06-03"}`, headers)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("unexpected statuses %d %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected replayed body, got %s vs %s", first.Body.String(), second.Body.String())
	}
	f, _ := s.store.GetFact(context.Background(), "h1", "u1", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	if f == nil || !f.Completed {
		t.Fatalf("expected a single toggle to be applied, got %#v", f)
	}

	third := s.do(http.MethodPost, "/api/groups/g1/habits/h1/toggle", `{"date":"2024-06-03"}`, map[string]string{headerIdempotencyKey: "k-2"})
	if third.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", third.Code)
	}
	f, _ = s.store.GetFact(context.Background(), "h1", "u1", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	if f.Completed {
		t.Fatalf("expected a new key to toggle again")
	}
}

func TestToggleInProgressKeyConflicts(t *testing.T) {
	s := newTestServer(t, "u1")
	if err := s.redis.Set("idem:u1:busy", pendingMarker); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := s.do(http.MethodPost, "/api/groups/g1/habits/h1/toggle", `{"date":"2024-06-03"}`, map[string]string{headerIdempotencyKey: "busy"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestToggleBadRequests(t *testing.T) {
	s := newTestServer(t, "u1")
	tests := []struct {
		name string
		body string
	}{
		{name: "bad date", body: `{"date":"03/06/2024"}`},
		{name: "unknown field", body: `{"date":"2024-06-03","extra":1}`},
		{name: "not json", body: `date=2024-06-03`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/groups/g1/habits/h1/toggle", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUnauthorized(t *testing.T) {
	s := newTestServer(t, "u1")
	req := httptest.NewRequest(http.MethodGet, "/api/groups/g1/habits/h1/week?end=2024-06-03", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRecordDetailsValidatesFeeling(t *testing.T) {
	s := newTestServer(t, "u2")
	rec := s.do(http.MethodPut, "/api/groups/g1/habits/h1/progress", `{"date":"2024-06-03","completed":true,"feeling":"meh"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = s.do(http.MethodPut, "/api/groups/g1/habits/h1/progress", `{"date":"2024-06-03","completed":true,"feeling":"okay","comment":" nice "}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/groups/g1/habits/h1/comments?date=2024-06-03", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var comments []factView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &comments); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(comments) != 1 || comments[0].Comment != "nice" || comments[0].Feeling != "okay" {
		t.Fatalf("unexpected comments: %#v", comments)
	}
}

func TestHabitWeekKeepsMissingDistinctFromZero(t *testing.T) {
	s := newTestServer(t, "u1")
	_ = s.store.UpsertProgress(context.Background(), domain.GroupProgress{HabitID: "h1", GroupID: "g1", Date: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), CompletionRate: 0})

	rec := s.do(http.MethodGet, "/api/groups/g1/habits/h1/week?end=2024-06-03", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `{"date":"2024-06-03","completionRate":0,"state":"bad"}`) {
		t.Fatalf("expected explicit zero day, got %s", body)
	}
	if !strings.Contains(body, `{"date":"2024-05-28","completionRate":null,"state":"not_started"}`) {
		t.Fatalf("expected missing oldest day, got %s", body)
	}
	var got weekView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Days) != domain.WeekLength || got.End != "2024-06-03" {
		t.Fatalf("unexpected week: %#v", got)
	}
}

func TestGroupWeekAndDue(t *testing.T) {
	s := newTestServer(t, "u1")
	rec := s.do(http.MethodGet, "/api/groups/g1/week?end=2024-06-03&dayIndexBase=monday", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var board boardView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(board.Habits) != 1 || len(board.Habits[0].Days) != domain.WeekLength {
		t.Fatalf("unexpected board: %#v", board)
	}

	rec = s.do(http.MethodGet, "/api/groups/g1/due?date=2024-06-08", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"id":"h1"`) {
		t.Fatalf("expected everyday habit due, got %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/groups/missing/due?date=2024-06-08", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMemberFactAndDaily(t *testing.T) {
	s := newTestServer(t, "u1")

	rec := s.do(http.MethodGet, "/api/groups/g1/habits/h1/fact?date=2024-06-03", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"fact":null`) {
		t.Fatalf("expected empty fact, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(http.MethodPost, "/api/groups/g1/habits/h1/toggle", `{"date":"2024-06-03"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("toggle: %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/api/groups/g1/habits/h1/fact?date=2024-06-03", "", nil)
	var fact memberFactView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &fact); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fact.Fact == nil || !fact.Fact.Completed || fact.Fact.UserID != "u1" {
		t.Fatalf("unexpected fact: %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/groups/g1/daily?date=2024-06-03", "", nil)
	var daily dailyView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &daily); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if daily.DueCount != 1 || daily.CompletedCount != 1 || daily.CompletionRate == nil || *daily.CompletionRate != 1 || daily.State != string(domain.Good) {
		t.Fatalf("unexpected daily: %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/groups/secret/habits/h1/fact?date=2024-06-03", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a habit of another group, got %d", rec.Code)
	}
}

func TestToggleHabitOfAnotherGroupIsNotFound(t *testing.T) {
	s := newTestServer(t, "u1")
	rec := s.do(http.MethodPost, "/api/groups/secret/habits/h1/toggle", `{"date":"2024-06-03"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if f, _ := s.store.GetFact(context.Background(), "h1", "u1", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)); f != nil {
		t.Fatalf("expected no fact, got %#v", f)
	}
}

func TestPrivateGroupReadsRequireMembership(t *testing.T) {
	reads := []string{
		"/api/groups/secret/week?end=2024-06-03",
		"/api/groups/secret/habits/hs/week?end=2024-06-03",
		"/api/groups/secret/due?date=2024-06-03",
		"/api/groups/secret/habits/hs/comments?date=2024-06-03",
		"/api/groups/secret/habits/hs/fact?date=2024-06-03",
		"/api/groups/secret/daily?date=2024-06-03",
	}
	outsider := newTestServer(t, "u2")
	member := newTestServer(t, "u1")
	for _, target := range reads {
		if rec := outsider.do(http.MethodGet, target, "", nil); rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for non-member, got %d", target, rec.Code)
		}
		if rec := member.do(http.MethodGet, target, "", nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for member, got %d: %s", target, rec.Code, rec.Body.String())
		}
	}
	if rec := outsider.do(http.MethodGet, "/api/groups/g1/week?end=2024-06-03", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected public group to stay readable, got %d", rec.Code)
	}
}

func TestUpdateFrequencyMondayBase(t *testing.T) {
	owner := newTestServer(t, "owner")
	rec := owner.do(http.MethodPut, "/api/groups/g1/habits/h1/frequency", `{"type":"Custom","days":[0,4],"dayIndexBase":"monday"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	h, _ := owner.store.GetHabit(context.Background(), "g1", "h1")
	if len(h.Frequency.Days) != 2 || h.Frequency.Days[0] != time.Monday || h.Frequency.Days[1] != time.Friday {
		t.Fatalf("unexpected stored days: %v", h.Frequency.Days)
	}
	var view habitView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Frequency.Days[0] != 0 || view.Frequency.Days[1] != 4 {
		t.Fatalf("expected days echoed in monday base, got %v", view.Frequency.Days)
	}

	rec = owner.do(http.MethodPut, "/api/groups/g1/habits/h1/frequency", `{"type":"Custom","days":[7]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range day, got %d", rec.Code)
	}

	member := newTestServer(t, "u1")
	rec = member.do(http.MethodPut, "/api/groups/g1/habits/h1/frequency", `{"type":"WorkDays"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestStorageUnavailableAsksForRetry(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := echo.New()
	svc := failingService{err: domain.NewStorageError("list progress", errors.New("timeout"))}
	Register(e, svc, fakeAuth{user: "u1"}, nil, nil, logger)

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/habits/h1/toggle", strings.NewReader(`{"date":"2024-06-03"}`))
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderRetryAfter) != "1" {
		t.Fatalf("expected Retry-After header")
	}
	if hook.LastEntry() == nil {
		t.Fatalf("expected failure to be logged")
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "u1")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
