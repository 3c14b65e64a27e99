package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/authpw"
	"taskboard/api/internal/board"
	"taskboard/api/internal/config"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/telemetry"
	"taskboard/api/internal/util"
)

// Session is an authenticated caller. Token fields are only set when the session was just issued.
type Session struct {
	Token        string            `json:"accessToken,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	UserID       string            `json:"-"`
	Username     string            `json:"-"`
	Email        string            `json:"-"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	User         *store.UserSummary `json:"user,omitempty"`
}

// Events receives ticket changes once they are committed.
type Events interface {
	EmitTicketCreated(ctx context.Context, ticket store.Ticket)
	EmitTicketUpdated(ctx context.Context, ticket store.Ticket)
	EmitTicketDeleted(ctx context.Context, ticketID, boardID string)
	EmitTicketMoved(ctx context.Context, event realtime.TicketMovedEvent)
}

type Service struct {
	cfg      config.Config
	store    store.Store
	locker   *ordering.Locker
	events   Events
	accounts *authpw.Service
	sessions session.Store
	search   *search.Service
	tracer   trace.Tracer
	logger   *logrus.Logger
	now      func() time.Time
}

func New(cfg config.Config, dataStore store.Store, events Events, sessions session.Store, searcher *search.Service, logger *logrus.Logger) *Service {
	if cfg.MoveRetries < 1 {
		cfg.MoveRetries = 1
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		locker:   ordering.NewLocker(),
		events:   events,
		accounts: authpw.NewService(dataStore, 0),
		sessions: sessions,
		search:   searcher,
		tracer:   telemetry.Tracer(),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (Session, error) {
	user, err := s.accounts.Register(ctx, req)
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		return Session{}, conflict("EMAIL_EXISTS", "Email or username already registered")
	case errors.Is(err, authpw.ErrInvalidInput):
		return Session{}, validationError(strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": "), nil)
	case err != nil:
		return Session{}, err
	}
	s.logger.WithField("user_id", user.ID).Info("user registered")
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.Login(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, unauthorized("Invalid email or password")
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.RefreshSecret), refreshToken)
	if err != nil {
		return Session{}, unauthorized("Refresh token invalid")
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, session.ErrNotFound) || (err == nil && userID != claims.UserID()) {
		return Session{}, unauthorized("Refresh token invalid")
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, unauthorized("Refresh token invalid")
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	token, claims, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Username, user.Email, util.NewID(), s.cfg.AccessTTL, now)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshClaims, err := auth.IssueToken([]byte(s.cfg.RefreshSecret), user.ID, user.Username, user.Email, util.NewID(), s.cfg.RefreshTTL, now)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshClaims.ExpiresAt.Time); err != nil {
		return Session{}, err
	}
	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		ExpiresAt:    claims.ExpiresAt.Time,
		User:         user.Summary(),
	}, nil
}

// SessionFromToken validates an access token and loads the user it names.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      user.Summary(),
	}, nil
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, notFound("user", userID)
	}
	return user, err
}

// ListUsers returns every user ordered by username, for assignee pickers.
func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

type CreateBoardInput struct {
	Title       string `json:"title" validate:"required,min=3,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type UpdateBoardInput struct {
	Title       *string `json:"title" validate:"omitempty,min=3,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// CreateBoard stores a board with the default column layout and returns it with its columns.
func (s *Service) CreateBoard(ctx context.Context, actorID string, input CreateBoardInput) (b store.Board, err error) {
	ctx, span := s.tracer.Start(ctx, "board.create")
	defer func() { telemetry.End(span, err, attribute.String("board.id", b.ID)) }()
	ctx = context.WithoutCancel(ctx)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Board{}, validationError("title is required", nil)
	}
	now := s.now().UTC()
	item := store.Board{
		ID:          util.NewID(),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBoard(ctx, item); err != nil {
			return err
		}
		for i, columnTitle := range board.DefaultColumnTitles {
			if err := tx.InsertColumn(ctx, store.Column{
				ID:        util.NewID(),
				BoardID:   item.ID,
				Title:     columnTitle,
				Order:     i,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, store.ErrForeignKey) {
		return store.Board{}, notFound("user", actorID)
	}
	if err != nil {
		return store.Board{}, fmt.Errorf("create board: %w", err)
	}
	return s.FindBoard(ctx, item.ID)
}

// FindBoard returns a board with its columns in order and each column's tickets in order.
func (s *Service) FindBoard(ctx context.Context, id string) (store.Board, error) {
	b, err := s.store.GetBoard(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Board{}, notFound("board", id)
	}
	return b, err
}

// FindAllBoards returns every board, newest first.
func (s *Service) FindAllBoards(ctx context.Context) ([]store.Board, error) {
	return s.store.ListBoards(ctx)
}

func (s *Service) UpdateBoard(ctx context.Context, id string, input UpdateBoardInput) (b store.Board, err error) {
	ctx, span := s.tracer.Start(ctx, "board.update", trace.WithAttributes(attribute.String("board.id", id)))
	defer func() { telemetry.End(span, err) }()
	ctx = context.WithoutCancel(ctx)

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetBoard(ctx, id)
		if err != nil {
			return err
		}
		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return validationError("title must not be empty", nil)
			}
			current.Title = title
		}
		if input.Description != nil {
			current.Description = strings.TrimSpace(*input.Description)
		}
		current.UpdatedAt = s.now().UTC()
		return tx.UpdateBoard(ctx, current)
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Board{}, notFound("board", id)
	}
	if err != nil {
		return store.Board{}, err
	}
	return s.FindBoard(ctx, id)
}

// DeleteBoard removes a board together with its columns and tickets.
func (s *Service) DeleteBoard(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "board.delete", trace.WithAttributes(attribute.String("board.id", id)))
	defer func() { telemetry.End(span, err) }()
	ctx = context.WithoutCancel(ctx)

	var ticketIDs []string
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		tickets, err := tx.ListTicketsByBoard(ctx, id)
		if err != nil {
			return err
		}
		ticketIDs = make([]string, len(tickets))
		for i, t := range tickets {
			ticketIDs[i] = t.ID
		}
		return tx.DeleteBoard(ctx, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		return notFound("board", id)
	}
	if err != nil {
		return err
	}
	s.search.DeleteTickets(ticketIDs...)
	return nil
}

// SearchTickets runs a free-text query over one board's tickets.
func (s *Service) SearchTickets(ctx context.Context, boardID, text string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required", nil)
	}
	if _, err := s.FindBoard(ctx, boardID); err != nil {
		return search.Response{}, err
	}
	return s.search.Search(ctx, search.Query{Text: text, BoardID: boardID, Limit: limit}), nil
}
