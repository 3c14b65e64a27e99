package app

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/authpw"
	"taskboard/api/internal/store"
)

const sessionKey = "session"

type HTTPServer struct {
	service    *Service
	ws         http.Handler
	corsOrigin string
	logger     *logrus.Logger
}

// NewHTTPServer builds the REST transport. ws, when set, is mounted at /ws.
func NewHTTPServer(service *Service, ws http.Handler, corsOrigin string, logger *logrus.Logger) *HTTPServer {
	return &HTTPServer{service: service, ws: ws, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{s.corsOrigin},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowCredentials: true,
	}))
	e.Use(s.accessLog)

	api := e.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)
	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/refresh", s.handleRefresh)
	api.POST("/auth/logout", s.handleLogout)

	// Per route: a group with middleware would also catch unknown /api paths.
	authed := func(method, path string, h echo.HandlerFunc) {
		api.Add(method, path, h, s.requireSession)
	}
	authed(http.MethodGet, "/users", s.handleListUsers)
	authed(http.MethodGet, "/users/me", s.handleMe)
	authed(http.MethodGet, "/users/profile", s.handleMe)
	authed(http.MethodGet, "/users/me/tickets", s.handleUserTickets)

	authed(http.MethodGet, "/boards", s.handleListBoards)
	authed(http.MethodPost, "/boards", s.handleCreateBoard)
	authed(http.MethodGet, "/boards/:id", s.handleGetBoard)
	authed(http.MethodPatch, "/boards/:id", s.handleUpdateBoard)
	authed(http.MethodDelete, "/boards/:id", s.handleDeleteBoard)
	authed(http.MethodGet, "/boards/:id/tickets", s.handleBoardTickets)
	authed(http.MethodGet, "/boards/:id/search", s.handleSearch)

	authed(http.MethodGet, "/tickets", s.handleListTickets)
	authed(http.MethodPost, "/tickets", s.handleCreateTicket)
	authed(http.MethodGet, "/tickets/board/:id", s.handleBoardTickets)
	authed(http.MethodGet, "/tickets/:id", s.handleGetTicket)
	authed(http.MethodPut, "/tickets/:id", s.handleUpdateTicket)
	authed(http.MethodPut, "/tickets/:id/move", s.handleMoveTicket)
	authed(http.MethodDelete, "/tickets/:id", s.handleDeleteTicket)

	if s.ws != nil {
		e.GET("/ws", echo.WrapHandler(s.ws))
	}
	return e
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database": s.service.Ping,
		"sessions": s.service.sessions.Ping,
	} {
		if err := ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	return c.JSON(statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type registerBody struct {
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required,min=3,max=20,username"`
	FirstName string `json:"firstName" validate:"required,min=2,max=50"`
	LastName  string `json:"lastName" validate:"required,min=2,max=50"`
	Password  string `json:"password" validate:"required,min=8,password"`
}

func (s *HTTPServer) handleRegister(c echo.Context) error {
	var body registerBody
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	session, err := s.service.Register(c.Request().Context(), authpw.RegisterRequest{
		Email:     body.Email,
		Username:  body.Username,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Password:  body.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, session)
}

type loginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *HTTPServer) handleLogin(c echo.Context) error {
	var body loginBody
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	session, err := s.service.Login(c.Request().Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (s *HTTPServer) handleRefresh(c echo.Context) error {
	var body refreshBody
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	session, err := s.service.Refresh(c.Request().Context(), body.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (s *HTTPServer) handleLogout(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.Bind(&body)
	if err := s.service.Logout(c.Request().Context(), body.RefreshToken); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(c echo.Context) error {
	user, err := s.service.CurrentUser(c.Request().Context(), currentSession(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (s *HTTPServer) handleListUsers(c echo.Context) error {
	items, err := s.service.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *HTTPServer) handleListTickets(c echo.Context) error {
	items, err := s.service.ListTickets(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *HTTPServer) handleUserTickets(c echo.Context) error {
	items, err := s.service.ListUserTickets(c.Request().Context(), currentSession(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *HTTPServer) handleListBoards(c echo.Context) error {
	items, err := s.service.FindAllBoards(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *HTTPServer) handleCreateBoard(c echo.Context) error {
	var body CreateBoardInput
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	created, err := s.service.CreateBoard(c.Request().Context(), currentSession(c).UserID, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *HTTPServer) handleGetBoard(c echo.Context) error {
	item, err := s.service.FindBoard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateBoard(c echo.Context) error {
	var body UpdateBoardInput
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	item, err := s.service.UpdateBoard(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteBoard(c echo.Context) error {
	if err := s.service.DeleteBoard(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DeleteResult{Message: "Board deleted successfully"})
}

func (s *HTTPServer) handleBoardTickets(c echo.Context) error {
	items, err := s.service.ListBoardTickets(c.Request().Context(), c.Param("id"), c.QueryParam("sort"), c.QueryParam("dir"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *HTTPServer) handleSearch(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			return validationError("limit must be between 1 and 100", nil)
		}
		limit = parsed
	}
	resp, err := s.service.SearchTickets(c.Request().Context(), c.Param("id"), c.QueryParam("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleCreateTicket(c echo.Context) error {
	var body CreateTicketInput
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	created, err := s.service.CreateTicket(c.Request().Context(), currentSession(c).UserID, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *HTTPServer) handleGetTicket(c echo.Context) error {
	item, err := s.service.GetTicket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateTicket(c echo.Context) error {
	var body UpdateTicketInput
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	item, err := s.service.UpdateTicket(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *HTTPServer) handleMoveTicket(c echo.Context) error {
	var body MoveTicketInput
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	item, err := s.service.MoveTicket(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteTicket(c echo.Context) error {
	result, err := s.service.DeleteTicket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request())
		if token == "" {
			return unauthorized("")
		}
		session, err := s.service.SessionFromToken(c.Request().Context(), token)
		if err != nil {
			return err
		}
		c.Set(sessionKey, session)
		return next(c)
	}
}

func currentSession(c echo.Context) Session {
	session, _ := c.Get(sessionKey).(Session)
	return session
}

// accessLog writes one line per request once the error handler has produced the final status.
func (s *HTTPServer) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		req, res := c.Request(), c.Response()
		fields := logrus.Fields{
			"request_id":  res.Header().Get(echo.HeaderXRequestID),
			"method":      req.Method,
			"path":        c.Path(),
			"uri":         req.RequestURI,
			"status":      res.Status,
			"duration_ms": float64(time.Since(start)) / float64(time.Millisecond),
		}
		if session, ok := c.Get(sessionKey).(Session); ok {
			fields["user_id"] = session.UserID
		}
		entry := s.logger.WithFields(fields)
		switch {
		case res.Status >= http.StatusInternalServerError:
			entry.Error("http.request")
		case res.Status >= http.StatusBadRequest:
			entry.Warn("http.request")
		default:
			entry.Info("http.request")
		}
		return nil
	}
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, response)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		fields := make([]map[string]string, 0, len(invalid))
		for _, fe := range invalid {
			fields = append(fields, map[string]string{"field": fe.Field(), "rule": fe.Tag()})
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request validation failed", fields
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusNotFound:
			return http.StatusNotFound, "NOT_FOUND", "Route not found", nil
		case http.StatusMethodNotAllowed:
			return http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil
		case http.StatusBadRequest:
			return http.StatusBadRequest, "INVALID_BODY", "Invalid request body", nil
		}
		if httpErr.Code < http.StatusInternalServerError {
			return httpErr.Code, strings.ToUpper(strings.ReplaceAll(http.StatusText(httpErr.Code), " ", "_")), http.StatusText(httpErr.Code), nil
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrOrderConflict):
		return http.StatusConflict, "ORDER_CONFLICT", "The column was modified concurrently, please retry", nil
	case errors.Is(err, store.ErrForeignKey):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Referenced entity does not exist", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func bindAndValidate(c echo.Context, target any) error {
	if err := c.Bind(target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
	}
	return c.Validate(target)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

type requestValidator struct {
	v *validator.Validate
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// strongPassword requires a lower case letter, an upper case letter, a digit and a symbol.
func strongPassword(value string) bool {
	var lower, upper, digit, symbol bool
	for _, r := range value {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// sonicSerializer is echo's JSON codec backed by sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigDefault.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigDefault.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body").SetInternal(err)
	}
	return nil
}
