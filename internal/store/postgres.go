package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"taskboard/api/internal/board"
	"taskboard/api/internal/ordering"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	pgReader
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, item User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, first_name, last_name, password_hash, avatar, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8)
	`, item.ID, item.Email, item.Username, item.FirstName, item.LastName, item.PasswordHash, item.Avatar, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", classify(err))
	}
	return nil
}

// InTx runs fn inside a read-committed transaction. Order uniqueness is checked at commit, so a
// racing writer surfaces as ErrOrderConflict from either fn or the commit itself.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{pgReader: pgReader{q: sqlTx}, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

type pgTx struct {
	pgReader
	tx *sql.Tx
}

func (t *pgTx) LockColumns(ctx context.Context, columnIDs ...string) error {
	if len(columnIDs) == 0 {
		return nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM columns WHERE id::text = ANY($1) ORDER BY id FOR UPDATE
	`, columnIDs)
	if err != nil {
		return fmt.Errorf("lock columns: %w", classify(err))
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock columns: %w", classify(err))
	}
	return nil
}

func (t *pgTx) CountTickets(ctx context.Context, columnID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE column_id=$1`, columnID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", classify(err))
	}
	return count, nil
}

func (t *pgTx) InsertBoard(ctx context.Context, item Board) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO boards (id, title, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, item.ID, item.Title, item.Description, item.CreatedBy, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert board: %w", classify(err))
	}
	return nil
}

func (t *pgTx) UpdateBoard(ctx context.Context, item Board) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE boards SET title=$2, description=$3, updated_at=$4 WHERE id=$1
	`, item.ID, item.Title, item.Description, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update board: %w", classify(err))
	}
	return requireRow(res, "update board")
}

func (t *pgTx) DeleteBoard(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete board: %w", classify(err))
	}
	return requireRow(res, "delete board")
}

func (t *pgTx) InsertColumn(ctx context.Context, item Column) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO columns (id, board_id, title, "order", created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, item.ID, item.BoardID, item.Title, item.Order, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert column: %w", classify(err))
	}
	return nil
}

func (t *pgTx) InsertTicket(ctx context.Context, item Ticket) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tickets (id, title, description, priority, status, assigned_to, created_by, column_id, board_id, "order", created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, item.ID, item.Title, item.Description, string(item.Priority), string(item.Status), item.AssignedTo,
		item.CreatedBy, item.ColumnID, item.BoardID, item.Order, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", classify(err))
	}
	return nil
}

func (t *pgTx) UpdateTicket(ctx context.Context, item Ticket) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tickets
		SET title=$2, description=$3, priority=$4, status=$5, assigned_to=$6, column_id=$7, board_id=$8, "order"=$9, updated_at=$10
		WHERE id=$1
	`, item.ID, item.Title, item.Description, string(item.Priority), string(item.Status), item.AssignedTo,
		item.ColumnID, item.BoardID, item.Order, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update ticket: %w", classify(err))
	}
	return requireRow(res, "update ticket")
}

func (t *pgTx) DeleteTicket(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", classify(err))
	}
	return requireRow(res, "delete ticket")
}

func (t *pgTx) ShiftTickets(ctx context.Context, shift ordering.Shift) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE tickets
		SET "order" = "order" + $4
		WHERE column_id=$1 AND "order" >= $2 AND ($3 < 0 OR "order" <= $3)
	`, shift.ColumnID, shift.From, shift.To, shift.Delta)
	if err != nil {
		return fmt.Errorf("shift tickets: %w", classify(err))
	}
	return nil
}

type pgReader struct {
	q queryer
}

const userColumns = `id, email, username, first_name, last_name, COALESCE(avatar, ''), password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.Avatar, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r pgReader) GetUserByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", classify(err))
	}
	return u, nil
}

func (r pgReader) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", classify(err))
	}
	return u, nil
}

func (r pgReader) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", classify(err))
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

const boardQuery = `
	SELECT b.id, b.title, b.description, b.created_by, b.created_at, b.updated_at,
		u.id, u.email, u.username, u.first_name, u.last_name, COALESCE(u.avatar, '')
	FROM boards b
	JOIN users u ON u.id = b.created_by
`

func scanBoard(row interface{ Scan(...any) error }) (Board, error) {
	var b Board
	var c UserSummary
	err := row.Scan(&b.ID, &b.Title, &b.Description, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt,
		&c.ID, &c.Email, &c.Username, &c.FirstName, &c.LastName, &c.Avatar)
	if err != nil {
		return Board{}, err
	}
	b.Creator = &c
	return b, nil
}

func (r pgReader) GetBoard(ctx context.Context, id string) (Board, error) {
	b, err := scanBoard(r.q.QueryRowContext(ctx, boardQuery+` WHERE b.id=$1`, id))
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", classify(err))
	}
	if err := r.loadColumns(ctx, &b); err != nil {
		return Board{}, err
	}
	return b, nil
}

func (r pgReader) ListBoards(ctx context.Context) ([]Board, error) {
	rows, err := r.q.QueryContext(ctx, boardQuery+` ORDER BY b.created_at DESC, b.id`)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", classify(err))
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	rows.Close()

	for i := range items {
		if err := r.loadColumns(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// loadColumns fills the board's columns, each with its tickets in column order.
func (r pgReader) loadColumns(ctx context.Context, b *Board) error {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, board_id, title, "order", created_at, updated_at
		FROM columns
		WHERE board_id=$1
		ORDER BY "order" ASC
	`, b.ID)
	if err != nil {
		return fmt.Errorf("list columns: %w", classify(err))
	}
	defer rows.Close()

	b.Columns = make([]Column, 0, 4)
	index := map[string]int{}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Title, &c.Order, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		c.Tickets = make([]Ticket, 0)
		index[c.ID] = len(b.Columns)
		b.Columns = append(b.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	rows.Close()

	tickets, err := r.ListTicketsByBoard(ctx, b.ID)
	if err != nil {
		return err
	}
	for _, t := range tickets {
		if i, ok := index[t.ColumnID]; ok {
			b.Columns[i].Tickets = append(b.Columns[i].Tickets, t)
		}
	}
	return nil
}

func (r pgReader) GetColumn(ctx context.Context, id string) (Column, error) {
	var c Column
	err := r.q.QueryRowContext(ctx, `
		SELECT id, board_id, title, "order", created_at, updated_at FROM columns WHERE id=$1
	`, id).Scan(&c.ID, &c.BoardID, &c.Title, &c.Order, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Column{}, fmt.Errorf("get column: %w", classify(err))
	}
	return c, nil
}

const ticketQuery = `
	SELECT t.id, t.title, t.description, t.priority, t.status, t.assigned_to, t.created_by,
		t.column_id, t.board_id, t."order", t.created_at, t.updated_at,
		c.title, c."order",
		COALESCE(a.email, ''), COALESCE(a.username, ''), COALESCE(a.first_name, ''), COALESCE(a.last_name, ''), COALESCE(a.avatar, ''),
		u.email, u.username, u.first_name, u.last_name, COALESCE(u.avatar, '')
	FROM tickets t
	JOIN columns c ON c.id = t.column_id
	JOIN users u ON u.id = t.created_by
	LEFT JOIN users a ON a.id = t.assigned_to
`

func scanTicket(row interface{ Scan(...any) error }) (Ticket, error) {
	var (
		t          Ticket
		priority   string
		status     string
		assignedTo sql.NullString
		column     ColumnSummary
		assignee   UserSummary
		creator    UserSummary
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &status, &assignedTo, &t.CreatedBy,
		&t.ColumnID, &t.BoardID, &t.Order, &t.CreatedAt, &t.UpdatedAt,
		&column.Title, &column.Order,
		&assignee.Email, &assignee.Username, &assignee.FirstName, &assignee.LastName, &assignee.Avatar,
		&creator.Email, &creator.Username, &creator.FirstName, &creator.LastName, &creator.Avatar)
	if err != nil {
		return Ticket{}, err
	}
	t.Priority = board.Priority(priority)
	t.Status = board.Status(status)
	if assignedTo.Valid {
		id := assignedTo.String
		t.AssignedTo = &id
		assignee.ID = id
		t.Assignee = &assignee
	}
	creator.ID = t.CreatedBy
	t.Creator = &creator
	column.ID = t.ColumnID
	column.BoardID = t.BoardID
	t.Column = &column
	return t, nil
}

func (r pgReader) GetTicket(ctx context.Context, id string) (Ticket, error) {
	t, err := scanTicket(r.q.QueryRowContext(ctx, ticketQuery+` WHERE t.id=$1`, id))
	if err != nil {
		return Ticket{}, fmt.Errorf("get ticket: %w", classify(err))
	}
	return t, nil
}

func (r pgReader) ListTickets(ctx context.Context) ([]Ticket, error) {
	return r.listTickets(ctx, "list tickets", ticketQuery+` ORDER BY t.created_at DESC, t.id`)
}

func (r pgReader) ListTicketsByBoard(ctx context.Context, boardID string) ([]Ticket, error) {
	return r.listTickets(ctx, "list board tickets",
		ticketQuery+` WHERE t.board_id=$1 ORDER BY c."order" ASC, t."order" ASC`, boardID)
}

func (r pgReader) ListTicketsByUser(ctx context.Context, userID string) ([]Ticket, error) {
	return r.listTickets(ctx, "list user tickets",
		ticketQuery+` WHERE t.assigned_to=$1 OR t.created_by=$1 ORDER BY t.created_at DESC, t.id`, userID)
}

func (r pgReader) SearchTickets(ctx context.Context, boardID, query string, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return r.listTickets(ctx, "search tickets", ticketQuery+`
		WHERE t.board_id=$1 AND (t.title ILIKE $2 OR t.description ILIKE $2)
		ORDER BY c."order" ASC, t."order" ASC
		LIMIT $3
	`, boardID, pattern, limit)
}

func (r pgReader) listTickets(ctx context.Context, op, query string, args ...any) ([]Ticket, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer rows.Close()

	items := make([]Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return items, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// classify maps driver errors onto the store's sentinel errors, keeping the original in the chain.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if strings.HasSuffix(pgErr.ConstraintName, "_order_key") {
			return errors.Join(ErrOrderConflict, err)
		}
		return errors.Join(ErrDuplicate, err)
	case "40001", "40P01":
		return errors.Join(ErrOrderConflict, err)
	case "23503":
		return errors.Join(ErrForeignKey, err)
	case "22P02":
		// malformed uuid: nothing can match it
		return errors.Join(ErrNotFound, err)
	}
	return err
}
