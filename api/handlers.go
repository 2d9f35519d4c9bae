package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"nextup/domain"
	"nextup/engage"
	"nextup/feed"
	"nextup/queue"
	"nextup/session"
)

const (
	defaultSuggestionLimit = 10
	maxBodySize            = 1 << 20
	idempotencyKeyHeader   = "Idempotency-Key"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, sessions Sessions, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(sessions, auth, logger))
	e.POST("/api/tasks", postTask(sessions, auth, deduper))
	e.DELETE("/api/tasks/:id", deleteTask(sessions, auth))
	e.POST("/api/tasks/:id/actions", postAction(sessions, auth, deduper))
	e.GET("/api/projects", getProjects(sessions, auth))
	e.DELETE("/api/projects/:id", deleteProject(sessions, auth))
	e.GET("/api/suggestions", getSuggestions(sessions, auth, logger))
	e.GET("/api/context", getContext(sessions, auth))
	e.PUT("/api/context", putContext(sessions, auth))
	e.GET("/api/filters", getFilters(sessions, auth))
	e.PUT("/api/filters", putFilters(sessions, auth))
	e.POST("/api/sync", postSync(sessions, auth))
	e.GET("/api/queue", getQueue(sessions, auth))
	e.DELETE("/api/queue/:id", deleteQueued(sessions, auth))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type captureResponse struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
}

type suggestionsResponse struct {
	Suggestions []engage.Suggestion      `json:"suggestions"`
	Context     domain.EngagementContext `json:"context"`
}

type syncResponse struct {
	Delivered int  `json:"delivered"`
	Retried   int  `json:"retried"`
	Terminal  int  `json:"terminal"`
	Pending   int  `json:"pending"`
	Online    bool `json:"online"`
}

type queueResponse struct {
	Actions   []queue.Action `json:"actions"`
	Pending   int            `json:"pending"`
	Online    bool           `json:"online"`
	FeedState feed.State     `json:"feedState"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// engineFor authenticates the request and resolves the caller's engine.
// On failure the HTTP response has already been written and the returned
// engine is nil; callers hand the error straight back to echo.
func engineFor(c echo.Context, sessions Sessions, auth Authenticator) (Engine, string, error) {
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
	if err != nil {
		return nil, "", c.String(http.StatusUnauthorized, err.Error())
	}
	eng, err := sessions.For(c.Request().Context(), userID)
	if err != nil {
		c.Logger().Error(err)
		return nil, "", c.String(http.StatusInternalServerError, "session unavailable")
	}
	return eng, userID, nil
}

func getTasks(sessions Sessions, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, logger, "/api/tasks")
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		eng, _, authErr := engineFor(c, sessions, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if eng == nil {
			metrics.SetErrorStage("auth")
			err = authErr
			return err
		}

		engineStart := time.Now()
		var tasks []domain.Task
		if filtered, _ := strconv.ParseBool(c.QueryParam("filtered")); filtered {
			tasks = eng.FilteredTasks()
		} else {
			tasks = eng.Tasks()
		}
		metrics.ObserveEngine(time.Since(engineStart))
		metrics.SetItemsReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postTask(sessions Sessions, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		eng, userID, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}

		lr := io.LimitReader(c.Request().Body, maxBodySize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var t domain.Task
		if err := dec.Decode(&t); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		key := c.Request().Header.Get(idempotencyKeyHeader)
		if key != "" && deduper != nil {
			fresh, err := deduper.Add(ctx, userID, key)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, "dedupe unavailable")
			}
			if !fresh {
				return c.NoContent(http.StatusConflict)
			}
		}

		id, err := eng.Capture(ctx, t)
		if err != nil {
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					c.Logger().Error(rerr)
				}
			}
			if errors.Is(err, session.ErrEmptyTitle) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, captureResponse{ID: id, Queued: eng.PendingCount() > 0})
	}
}

func deleteTask(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		if err := eng.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postAction(sessions Sessions, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		eng, userID, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}

		lr := io.LimitReader(c.Request().Body, maxBodySize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var action domain.Action
		if err := dec.Decode(&action); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		key := c.Request().Header.Get(idempotencyKeyHeader)
		if key != "" && deduper != nil {
			fresh, err := deduper.Add(ctx, userID, key)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, "dedupe unavailable")
			}
			if !fresh {
				return c.NoContent(http.StatusConflict)
			}
		}

		execErr := eng.ExecuteAction(ctx, c.Param("id"), action)
		if execErr != nil {
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					c.Logger().Error(rerr)
				}
			}
			var unknown domain.UnknownActionError
			switch {
			case errors.Is(execErr, session.ErrTaskNotFound):
				return c.String(http.StatusNotFound, execErr.Error())
			case errors.As(execErr, &unknown):
				return c.String(http.StatusBadRequest, execErr.Error())
			default:
				c.Logger().Error(execErr)
				return c.String(http.StatusInternalServerError, execErr.Error())
			}
		}
		task, _ := findTask(eng.Tasks(), c.Param("id"))
		return c.JSON(http.StatusOK, task)
	}
}

func findTask(tasks []domain.Task, id string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func getProjects(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		return c.JSON(http.StatusOK, eng.Projects())
	}
}

func deleteProject(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		if err := eng.DeleteProject(c.Request().Context(), c.Param("id")); err != nil {
			var notEmpty domain.ProjectNotEmptyError
			if errors.As(err, &notEmpty) {
				return c.String(http.StatusConflict, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getSuggestions(sessions Sessions, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, logger, "/api/suggestions")
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		eng, _, authErr := engineFor(c, sessions, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if eng == nil {
			metrics.SetErrorStage("auth")
			err = authErr
			return err
		}

		limit := defaultSuggestionLimit
		if raw := c.QueryParam("limit"); raw != "" {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil || parsed <= 0 {
				metrics.SetErrorStage("invalid_limit")
				err = c.String(http.StatusBadRequest, "invalid limit")
				return err
			}
			limit = parsed
		}

		engineStart := time.Now()
		suggestions := eng.Suggestions(limit)
		metrics.ObserveEngine(time.Since(engineStart))
		metrics.SetItemsReturned(len(suggestions))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, suggestionsResponse{Suggestions: suggestions, Context: eng.CurrentContext()})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getContext(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		return c.JSON(http.StatusOK, eng.CurrentContext())
	}
}

func putContext(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		lr := io.LimitReader(c.Request().Body, maxBodySize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var patch domain.ContextPatch
		if err := dec.Decode(&patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		return c.JSON(http.StatusOK, eng.UpdateContext(patch))
	}
}

func getFilters(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		return c.JSON(http.StatusOK, eng.Filters())
	}
}

func putFilters(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		lr := io.LimitReader(c.Request().Body, maxBodySize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var f domain.TaskFilter
		if err := dec.Decode(&f); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		eng.UpdateFilters(f)
		return c.JSON(http.StatusOK, eng.Filters())
	}
}

func postSync(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		report, err := eng.SyncNow(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, syncResponse{
			Delivered: len(report.Delivered),
			Retried:   report.Retried,
			Terminal:  report.Terminal,
			Pending:   eng.PendingCount(),
			Online:    eng.IsOnline(),
		})
	}
}

func getQueue(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		return c.JSON(http.StatusOK, queueResponse{
			Actions:   eng.QueueSnapshot(),
			Pending:   eng.PendingCount(),
			Online:    eng.IsOnline(),
			FeedState: eng.FeedState(),
		})
	}
}

func deleteQueued(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		eng, _, err := engineFor(c, sessions, auth)
		if eng == nil {
			return err
		}
		if err := eng.RemoveQueued(c.Request().Context(), c.Param("id")); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				return c.String(http.StatusNotFound, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}
