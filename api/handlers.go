package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todofy/domain"
	"todofy/query"
	"todofy/storage"
)

const (
	requestMaxSize       = 64 * 1024 // 64 KiB
	headerIdempotencyKey = "Idempotency-Key"
	defaultPageSize      = 5
)

// Deps carries the collaborators of the HTTP handlers.
type Deps struct {
	Tasks    TaskService
	Sessions Sessions
	Auth     Authenticator
	// Deduper is optional; without it Idempotency-Key is ignored.
	Deduper Deduper
	// Store is probed by /healthz when set.
	Store    storage.Store
	Logger   *log.Logger
	PageSize int
	Now      func() time.Time
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.PageSize <= 0 {
		d.PageSize = defaultPageSize
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{Deps: d}

	e.GET("/healthz", h.healthz)

	e.GET("/api/session", h.getSession)
	e.POST("/api/session/login", h.login)
	e.POST("/api/session/google", h.loginWithGoogle)
	e.POST("/api/session/logout", h.logout)

	e.GET("/api/tasks", h.listTasks)
	e.POST("/api/tasks", h.createTask)
	e.GET("/api/tasks/:id", h.getTask)
	e.PATCH("/api/tasks/:id", h.updateTask)
	e.DELETE("/api/tasks/:id", h.deleteTask)
	e.POST("/api/tasks/:id/share", h.shareTask)
	e.POST("/api/tasks/:id/cycle", h.cycleTask)
}

type handlers struct {
	Deps
}

type errorResponse struct {
	Error string `json:"error"`
}

type userResponse struct {
	domain.User
	AvatarURL string `json:"avatarUrl"`
}

type paginationResponse struct {
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
	FirstItem    int `json:"firstItem"`
	LastItem     int `json:"lastItem"`
}

type tasksResponse struct {
	Tasks      []domain.Task      `json:"tasks"`
	Pagination paginationResponse `json:"pagination"`
	Stats      query.Stats        `json:"stats"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type shareRequest struct {
	Email string `json:"email"`
}

// healthz reports whether the record store answers reads. A missing session
// record still counts as healthy.
func (h *handlers) healthz(c echo.Context) error {
	if h.Store != nil {
		_, err := h.Store.Get(c.Request().Context(), storage.SessionKey)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.Logger.WithError(err).Warn("health check failed")
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}

func newUserResponse(u domain.User) userResponse {
	return userResponse{User: u, AvatarURL: u.AvatarURL()}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		storageErr    *domain.StorageError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &storageErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

// authenticate resolves the caller. The returned error has already been
// written to the response.
func (h *handlers) authenticate(c echo.Context) (domain.User, bool, error) {
	user, err := h.Auth.Authenticate(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
	if err == nil {
		return user, true, nil
	}
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return domain.User{}, false, h.fail(c, err)
	}
	return domain.User{}, false, c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "invalid json"}
	}
	return nil
}

func (h *handlers) getSession(c echo.Context) error {
	user, ok, err := h.Sessions.CurrentUser(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: errNotSignedIn.Error()})
	}
	return c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handlers) login(c echo.Context) error {
	var req loginRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	user, err := h.Sessions.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handlers) loginWithGoogle(c echo.Context) error {
	user, err := h.Sessions.LoginWithGoogle(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handlers) logout(c echo.Context) error {
	if err := h.Sessions.OnLogout(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parsePositive(raw, name string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &domain.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return n, nil
}

func criteriaFromQuery(c echo.Context) query.Criteria {
	return query.Criteria{
		Status:   domain.Status(c.QueryParam("status")),
		Priority: domain.Priority(c.QueryParam("priority")),
		Due:      query.DueBucket(c.QueryParam("dueDate")),
		Search:   c.QueryParam("search"),
	}
}

func (h *handlers) listTasks(c echo.Context) (err error) {
	ctx := c.Request().Context()
	metrics, spanCtx := newTaskRequestMetrics(ctx, h.Logger)
	if spanCtx != nil {
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
	}
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	user, ok, authErr := h.authenticate(c)
	metrics.ObserveAuth(time.Since(authStart))
	if !ok {
		metrics.SetErrorStage("auth")
		return authErr
	}

	criteria := criteriaFromQuery(c)
	page, perr := parsePositive(c.QueryParam("page"), "page", 1)
	if perr == nil {
		perr = criteria.Validate()
	}
	pageSize, serr := parsePositive(c.QueryParam("pageSize"), "pageSize", h.PageSize)
	if perr == nil {
		perr = serr
	}
	if perr != nil {
		metrics.SetErrorStage("invalid_query")
		return h.fail(c, perr)
	}
	metrics.SetFiltered(criteria != query.Criteria{})

	loadStart := time.Now()
	visible, loadErr := h.Tasks.Load(ctx, user)
	metrics.ObserveLoad(time.Since(loadStart))
	if loadErr != nil {
		metrics.SetErrorStage("load")
		return h.fail(c, loadErr)
	}

	queryStart := time.Now()
	result, qerr := query.Run(visible, criteria, page, pageSize, h.Now())
	metrics.ObserveQuery(time.Since(queryStart))
	if qerr != nil {
		metrics.SetErrorStage("query")
		return h.fail(c, qerr)
	}
	metrics.SetPage(result.CurrentPage, len(result.Tasks), result.TotalItems)

	resp := tasksResponse{
		Tasks: result.Tasks,
		Pagination: paginationResponse{
			CurrentPage:  result.CurrentPage,
			TotalPages:   result.TotalPages,
			TotalItems:   result.TotalItems,
			ItemsPerPage: result.ItemsPerPage,
			FirstItem:    result.FirstItem(),
			LastItem:     result.LastItem(),
		},
		Stats: query.Summarize(visible),
	}
	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, resp)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func (h *handlers) createTask(c echo.Context) error {
	user, ok, err := h.authenticate(c)
	if !ok {
		return err
	}
	var in domain.TaskInput
	if err := decodeBody(c, &in); err != nil {
		return h.fail(c, err)
	}

	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key != "" && h.Deduper != nil {
		added, err := h.Deduper.Add(ctx, user.ID, key)
		if err != nil {
			h.Logger.WithError(err).Error("idempotency check failed")
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency check failed"})
		}
		if !added {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}

	task, err := h.Tasks.Create(ctx, user, in)
	if err != nil {
		if key != "" && h.Deduper != nil {
			if rerr := h.Deduper.Remove(ctx, user.ID, key); rerr != nil {
				h.Logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, user.ID)
			}
		}
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

// visibleTask loads the :id task if the caller may see it.
func (h *handlers) visibleTask(c echo.Context) (domain.User, domain.Task, error) {
	user, ok, err := h.authenticate(c)
	if !ok {
		return domain.User{}, domain.Task{}, errResponded{err}
	}
	task, err := h.Tasks.Find(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return user, domain.Task{}, err
	}
	return user, task, nil
}

// errResponded marks an error whose response was already written.
type errResponded struct{ err error }

func (e errResponded) Error() string { return "response already written" }

func (h *handlers) respond(c echo.Context, err error) error {
	var done errResponded
	if errors.As(err, &done) {
		return done.err
	}
	return h.fail(c, err)
}

func (h *handlers) getTask(c echo.Context) error {
	_, task, err := h.visibleTask(c)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) updateTask(c echo.Context) error {
	_, task, err := h.visibleTask(c)
	if err != nil {
		return h.respond(c, err)
	}
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return h.fail(c, err)
	}
	if patch.Empty() {
		return h.fail(c, &domain.ValidationError{Field: "body", Reason: "no changes"})
	}
	updated, err := h.Tasks.Update(c.Request().Context(), task.ID, patch)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *handlers) deleteTask(c echo.Context) error {
	_, task, err := h.visibleTask(c)
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return h.respond(c, err)
	}
	if err := h.Tasks.Delete(c.Request().Context(), task.ID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) shareTask(c echo.Context) error {
	_, task, err := h.visibleTask(c)
	if err != nil {
		return h.respond(c, err)
	}
	var req shareRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	shared, err := h.Tasks.Share(c.Request().Context(), task.ID, req.Email)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, shared)
}

func (h *handlers) cycleTask(c echo.Context) error {
	_, task, err := h.visibleTask(c)
	if err != nil {
		return h.respond(c, err)
	}
	cycled, err := h.Tasks.CycleStatus(c.Request().Context(), task.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cycled)
}
