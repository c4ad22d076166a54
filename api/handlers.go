package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"habit-progress/domain"
	"habit-progress/progress"
)

const (
	weekRoute      = "/api/groups/:groupId/habits/:habitId/week"
	groupWeekRoute = "/api/groups/:groupId/week"
)

// Register wires up all API routes on the provided Echo instance. deduper
// and broker may be nil.
func Register(e *echo.Echo, svc ProgressService, auth Authenticator, deduper Deduper, broker *Broker, logger *log.Logger) {
	h := &handlers{svc: svc, auth: auth, deduper: deduper, broker: broker, logger: logger, today: func() time.Time { return domain.Day(time.Now().UTC()) }}

	g := e.Group("/api/groups/:groupId")
	g.POST("/habits/:habitId/toggle", h.toggle)
	g.PUT("/habits/:habitId/progress", h.recordDetails)
	g.GET("/habits/:habitId/week", h.habitWeek)
	g.GET("/habits/:habitId/comments", h.comments)
	g.GET("/habits/:habitId/fact", h.memberFact)
	g.PUT("/habits/:habitId/frequency", h.updateFrequency)
	g.GET("/week", h.groupWeek)
	g.GET("/due", h.dueHabits)
	g.GET("/daily", h.daily)
	if broker != nil {
		g.GET("/stream", h.stream)
	}
	e.GET("/healthz", healthz)
}

type handlers struct {
	svc     ProgressService
	auth    Authenticator
	deduper Deduper
	broker  *Broker
	logger  *log.Logger
	today   func() time.Time
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *handlers) user(c echo.Context) (string, error) {
	return h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

// canRead checks the user may read the group in the path.
func (h *handlers) canRead(c echo.Context, userID string) error {
	return h.svc.CheckAccess(c.Request().Context(), c.Param("groupId"), userID)
}

func decodeBody(c echo.Context, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(domain.ErrInvalidInput, err)
	}
	return nil
}

// dateParam parses a YYYY-MM-DD value, defaulting to today when empty.
func (h *handlers) dateParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.today(), nil
	}
	return domain.ParseDate(raw)
}

func (h *handlers) toggle(c echo.Context) error {
	userID, err := h.user(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	var req toggleRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return h.fail(c, err)
	}
	groupID, habitID := c.Param("groupId"), c.Param("habitId")

	return h.idempotent(c, userID, func(ctx context.Context) (progress.Result, error) {
		return h.svc.ToggleHabitCompletion(ctx, habitID, groupID, userID, date)
	})
}

func (h *handlers) recordDetails(c echo.Context) error {
	userID, err := h.user(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	var req progressRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.svc.RecordHabitDetails(c.Request().Context(), progress.Details{
		HabitID:   c.Param("habitId"),
		GroupID:   c.Param("groupId"),
		UserID:    userID,
		Date:      date,
		Completed: req.Completed,
		Feeling:   req.Feeling,
		Comment:   req.Comment,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toResultView(res))
}

// idempotent runs op once per Idempotency-Key. A repeated key replays the
// stored response; a key whose first request has not finished yields 409.
func (h *handlers) idempotent(c echo.Context, userID string, op func(context.Context) (progress.Result, error)) error {
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	claimed := false
	if key != "" && h.deduper != nil {
		ok, err := h.deduper.Claim(ctx, userID, key)
		switch {
		case err != nil:
			h.logger.WithError(err).Warn("idempotency claim failed; processing without dedupe")
		case !ok:
			body, err := h.deduper.Result(ctx, userID, key)
			if err != nil {
				return h.fail(c, err)
			}
			if body == nil {
				return c.JSON(http.StatusConflict, errorResponse{Error: "request in progress"})
			}
			return c.JSONBlob(http.StatusOK, body)
		default:
			claimed = true
		}
	}

	res, err := op(ctx)
	if err != nil {
		if claimed {
			if rerr := h.deduper.Release(context.WithoutCancel(ctx), userID, key); rerr != nil {
				h.logger.WithError(rerr).WithField("user", userID).Error("idempotency rollback failed")
			}
		}
		return h.fail(c, err)
	}
	body, err := sonic.Marshal(toResultView(res))
	if err != nil {
		return h.fail(c, err)
	}
	if claimed {
		if err := h.deduper.Complete(context.WithoutCancel(ctx), userID, key, body); err != nil {
			h.logger.WithError(err).WithField("user", userID).Warn("idempotency result not stored")
		}
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (h *handlers) habitWeek(c echo.Context) (err error) {
	metrics, ctx := newWeekRequestMetrics(c.Request().Context(), h.logger, weekRoute)
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() { metrics.Log(c.Response().Status, err) }()

	authStart := time.Now()
	userID, authErr := h.user(c)
	if authErr != nil {
		metrics.ObserveAuth(time.Since(authStart))
		metrics.SetErrorStage("auth")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
	}
	accessErr := h.canRead(c, userID)
	metrics.ObserveAuth(time.Since(authStart))
	if accessErr != nil {
		metrics.SetErrorStage("access")
		return h.fail(c, accessErr)
	}
	end, perr := h.dateParam(c.QueryParam("end"))
	if perr != nil {
		metrics.SetErrorStage("invalid_end")
		return h.fail(c, perr)
	}
	habitID, groupID := c.Param("habitId"), c.Param("groupId")

	buildStart := time.Now()
	days, werr := h.svc.GetWeek(ctx, habitID, groupID, end)
	metrics.ObserveBuild(time.Since(buildStart))
	if werr != nil {
		metrics.SetErrorStage("build")
		return h.fail(c, werr)
	}
	metrics.SetHabits(1)
	return c.JSON(http.StatusOK, weekView{HabitID: habitID, GroupID: groupID, End: domain.FormatDate(end), Days: toDayViews(days)})
}

func (h *handlers) groupWeek(c echo.Context) (err error) {
	metrics, ctx := newWeekRequestMetrics(c.Request().Context(), h.logger, groupWeekRoute)
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() { metrics.Log(c.Response().Status, err) }()

	authStart := time.Now()
	userID, authErr := h.user(c)
	if authErr != nil {
		metrics.ObserveAuth(time.Since(authStart))
		metrics.SetErrorStage("auth")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
	}
	accessErr := h.canRead(c, userID)
	metrics.ObserveAuth(time.Since(authStart))
	if accessErr != nil {
		metrics.SetErrorStage("access")
		return h.fail(c, accessErr)
	}
	end, perr := h.dateParam(c.QueryParam("end"))
	if perr != nil {
		metrics.SetErrorStage("invalid_end")
		return h.fail(c, perr)
	}
	groupID := c.Param("groupId")
	base := domain.IndexBase(c.QueryParam("dayIndexBase"))

	buildStart := time.Now()
	board, berr := h.svc.GroupBoard(ctx, groupID, end)
	metrics.ObserveBuild(time.Since(buildStart))
	if berr != nil {
		metrics.SetErrorStage("build")
		return h.fail(c, berr)
	}
	metrics.SetHabits(len(board))
	out := boardView{GroupID: groupID, End: domain.FormatDate(end), Habits: make([]habitWeekView, len(board))}
	for i, hw := range board {
		out.Habits[i] = habitWeekView{Habit: toHabitView(hw.Habit, base), Days: toDayViews(hw.Days)}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) dueHabits(c echo.Context) error {
	userID, err := h.user(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if err := h.canRead(c, userID); err != nil {
		return h.fail(c, err)
	}
	date, err := h.dateParam(c.QueryParam("date"))
	if err != nil {
		return h.fail(c, err)
	}
	habits, err := h.svc.DueHabits(c.Request().Context(), c.Param("groupId"), date)
	if err != nil {
		return h.fail(c, err)
	}
	base := domain.IndexBase(c.QueryParam("dayIndexBase"))
	out := make([]habitView, len(habits))
	for i, hb := range habits {
		out[i] = toHabitView(hb, base)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) comments(c echo.Context) error {
	userID, err := h.user(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if err := h.canRead(c, userID); err != nil {
		return h.fail(c, err)
	}
	date, err := h.dateParam(c.QueryParam("date"))
	if err != nil {
		return h.fail(c, err)
	}
	facts, err := h.svc.HabitComments(c.Request().Context(), c.Param("habitId"), c.Param("groupId"), date)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]factView, len(facts))
	for i, f := range facts {
		out[i] = toFactView(f)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) memberFact(c echo.Context) error {
	userID, err := h.user(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if err := h.canRead(c, userID); err != nil {
		return h.fail(c, err)
	}
	date, err := h.dateParam(c.QueryParam("date"))
	if err != nil {
		return h.fail(c, err)
	}
	f, err := h.svc.MemberFact(c.Request().Context(), c.Param("habitId"), c.Param("groupId"), userID, date)
	if err != nil {
		return h.fail(c, err)
	}
	var out memberFactView
	if f != nil {
		v := toFactView(*f)
		out.Fact = &v
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) daily(c echo.Context) error {
	userID, err := h.user(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if err := h.canRead(c, userID); err != nil {
		return h.fail(c, err)
	}
	date, err := h.dateParam(c.QueryParam("date"))
	if err != nil {
		return h.fail(c, err)
	}
	dc, err := h.svc.DailyCompletion(c.Request().Context(), c.Param("groupId"), userID, date)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toDailyView(dc))
}

func (h *handlers) updateFrequency(c echo.Context) error {
	userID, err := h.user(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	var req frequencyRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	freq := domain.Frequency{Type: domain.FrequencyType(req.Type)}
	for _, idx := range req.Days {
		day, err := domain.WeekdayFromIndex(idx, req.DayIndexBase)
		if err != nil {
			return h.fail(c, err)
		}
		freq.Days = append(freq.Days, day)
	}
	habit, err := h.svc.UpdateHabitFrequency(c.Request().Context(), c.Param("groupId"), c.Param("habitId"), userID, freq)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toHabitView(habit, req.DayIndexBase))
}

// fail maps domain errors to HTTP responses.
func (h *handlers) fail(c echo.Context, err error) error {
	fields := log.Fields{"method": c.Request().Method, "path": c.Path()}
	switch {
	case errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidFeeling),
		errors.Is(err, domain.ErrInvalidFrequency),
		errors.Is(err, domain.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		h.logger.WithFields(fields).WithError(err).Info("entity not found")
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.logger.WithFields(fields).WithError(err).Warn("storage unavailable")
		c.Response().Header().Set(echo.HeaderRetryAfter, "1")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable, retry"})
	default:
		h.logger.WithFields(fields).WithError(err).Error("request failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
