package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PostgresStore implements Store with PostgreSQL. The schema is created by
// the goose migrations in /migrations.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed tracker store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (p *PostgresStore) CreateAction(ctx context.Context, a *Action) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO actions (user_id, name, notes, properties, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.UserID, a.Name, a.Notes, a.Properties, a.CreatedAt).Scan(&a.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateAction
	}
	return err
}

func (p *PostgresStore) GetAction(ctx context.Context, userID, actionID int64) (*Action, error) {
	a := &Action{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, notes, properties, created_at
		FROM actions WHERE id = $1 AND user_id = $2
	`, actionID, userID).Scan(&a.ID, &a.UserID, &a.Name, &a.Notes, &a.Properties, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func (p *PostgresStore) ListActions(ctx context.Context, userID int64) ([]*Action, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, name, notes, properties, created_at
		FROM actions WHERE user_id = $1
		ORDER BY name, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Action{}
	for rows.Next() {
		a := &Action{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Notes, &a.Properties, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) UpdateAction(ctx context.Context, a *Action) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE actions SET name = $3, notes = $4, properties = $5
		WHERE id = $1 AND user_id = $2
	`, a.ID, a.UserID, a.Name, a.Notes, a.Properties)
	if isUniqueViolation(err) {
		return ErrDuplicateAction
	}
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrActionNotFound)
}

// DeleteAction removes the action; its logs go with it via ON DELETE CASCADE.
func (p *PostgresStore) DeleteAction(ctx context.Context, userID, actionID int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM actions WHERE id = $1 AND user_id = $2`, actionID, userID)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrActionNotFound)
}

func (p *PostgresStore) CreateLog(ctx context.Context, l *ActivityLog) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO activity_log (action_id, timestamp, delta, note, properties)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, l.ActionID, l.Timestamp, l.Delta, l.Note, l.Properties).Scan(&l.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return ErrActionNotFound
	}
	return err
}

func (p *PostgresStore) GetLog(ctx context.Context, userID, logID int64) (*ActivityLog, error) {
	l := &ActivityLog{}
	err := p.db.QueryRowContext(ctx, `
		SELECT l.id, l.action_id, l.timestamp, l.delta, l.note, l.properties
		FROM activity_log l
		JOIN actions a ON a.id = l.action_id
		WHERE l.id = $1 AND a.user_id = $2
	`, logID, userID).Scan(&l.ID, &l.ActionID, &l.Timestamp, &l.Delta, &l.Note, &l.Properties)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Timestamp = l.Timestamp.UTC()
	return l, nil
}

func (p *PostgresStore) UpdateLog(ctx context.Context, l *ActivityLog) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE activity_log SET delta = $2, note = $3, properties = $4
		WHERE id = $1
	`, l.ID, l.Delta, l.Note, l.Properties)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrLogNotFound)
}

func (p *PostgresStore) ListLogs(ctx context.Context, userID, actionID int64, opts ListLogsOptions) ([]*ActivityLog, error) {
	if _, err := p.GetAction(ctx, userID, actionID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, action_id, timestamp, delta, note, properties
		FROM activity_log
		WHERE action_id = $1`
	args := []interface{}{actionID}
	if opts.Cursor != nil {
		query += ` AND (timestamp, id) < ($2, $3)`
		args = append(args, opts.Cursor.Timestamp, opts.Cursor.ID)
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return p.queryLogs(ctx, query, args...)
}

func (p *PostgresStore) Events(ctx context.Context, userID, actionID int64, since, until time.Time) ([]*ActivityLog, error) {
	if _, err := p.GetAction(ctx, userID, actionID); err != nil {
		return nil, err
	}
	return p.queryLogs(ctx, `
		SELECT id, action_id, timestamp, delta, note, properties
		FROM activity_log
		WHERE action_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, id ASC
	`, actionID, since, until)
}

func (p *PostgresStore) Totals(ctx context.Context, userID int64, since, until time.Time) (map[int64]int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT l.action_id, COALESCE(SUM(l.delta), 0)
		FROM activity_log l
		JOIN actions a ON a.id = l.action_id
		WHERE a.user_id = $1 AND l.timestamp >= $2 AND l.timestamp <= $3
		GROUP BY l.action_id
	`, userID, since, until)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	totals := make(map[int64]int64)
	for rows.Next() {
		var id, total int64
		if err := rows.Scan(&id, &total); err != nil {
			return nil, err
		}
		totals[id] = total
	}
	return totals, rows.Err()
}

// DeleteOwner removes every action of the user; logs cascade.
func (p *PostgresStore) DeleteOwner(ctx context.Context, userID int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM actions WHERE user_id = $1`, userID)
	return err
}

func (p *PostgresStore) queryLogs(ctx context.Context, query string, args ...interface{}) ([]*ActivityLog, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*ActivityLog{}
	for rows.Next() {
		l := &ActivityLog{}
		if err := rows.Scan(&l.ID, &l.ActionID, &l.Timestamp, &l.Delta, &l.Note, &l.Properties); err != nil {
			return nil, err
		}
		l.Timestamp = l.Timestamp.UTC()
		result = append(result, l)
	}
	return result, rows.Err()
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
