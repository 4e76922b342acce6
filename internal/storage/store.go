package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
	"groupgames/internal/storage/migrations"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Commit is one accepted transition: the game row update, its event, and an optional
// participant created by the same change.
type Commit struct {
	GameID string
	// ExpectVersion is the version observed when the game was read.
	ExpectVersion int64
	Status        game.Status
	Metadata      json.RawMessage
	UpdatedAt     time.Time
	Event         game.Event
	Participant   *game.Participant
}

// CreateGame inserts a new game with its seats and genesis event. g.Version must be 1.
func (s *Store) CreateGame(ctx context.Context, g game.Game, parts []game.Participant, genesis game.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create game: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO games (id, group_id, type, status, created_by, title, description, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.GroupID, string(g.Type), string(g.Status), g.CreatedBy, g.Title, g.Description,
		string(g.Metadata), g.Version, millis(g.CreatedAt), millis(g.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	for _, p := range parts {
		if err := insertParticipant(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := insertEvent(ctx, tx, genesis); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create game: %w", err)
	}
	return nil
}

// Commit applies c if the game is still at c.ExpectVersion. Otherwise nothing is written
// and apperr.ErrVersionConflict is returned.
func (s *Store) Commit(ctx context.Context, c Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE games SET status = ?, metadata = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(c.Status), string(c.Metadata), millis(c.UpdatedAt), c.GameID, c.ExpectVersion,
	)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	if n == 0 {
		return apperr.ErrVersionConflict
	}
	if c.Participant != nil {
		if err := insertParticipant(ctx, tx, *c.Participant); err != nil {
			return err
		}
	}
	if err := insertEvent(ctx, tx, c.Event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertParticipant(ctx context.Context, tx *sql.Tx, p game.Participant) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO game_participants (id, game_id, user_id, role, joined_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.GameID, p.UserID, string(p.Role), millis(p.JoinedAt),
	)
	if isUniqueViolation(err) {
		return apperr.ErrAlreadyJoined
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e game.Event) error {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO game_events (id, game_id, seq, user_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.GameID, e.Seq, e.UserID, e.EventType, payload, millis(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return apperr.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const gameColumns = `id, group_id, type, status, created_by, title, description, metadata, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (game.Game, error) {
	var (
		g                 game.Game
		typ, status, meta string
		created, updated  int64
	)
	if err := row.Scan(&g.ID, &g.GroupID, &typ, &status, &g.CreatedBy, &g.Title, &g.Description,
		&meta, &g.Version, &created, &updated); err != nil {
		return game.Game{}, err
	}
	g.Type, g.Status = game.Type(typ), game.Status(status)
	g.Metadata = json.RawMessage(meta)
	g.CreatedAt, g.UpdatedAt = fromMillis(created), fromMillis(updated)
	return g, nil
}

// GetGame retrieves a game by id.
func (s *Store) GetGame(ctx context.Context, id string) (game.Game, error) {
	g, err := scanGame(s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return game.Game{}, ErrNotFound
	}
	if err != nil {
		return game.Game{}, fmt.Errorf("get game: %w", err)
	}
	return g, nil
}

// ListGames returns games in any of groupIDs, newest first.
func (s *Store) ListGames(ctx context.Context, groupIDs []string) ([]game.Game, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(groupIDs))
	for i, id := range groupIDs {
		args[i] = id
	}
	q := `SELECT ` + gameColumns + ` FROM games WHERE group_id IN (?` + strings.Repeat(",?", len(groupIDs)-1) +
		`) ORDER BY created_at DESC, id`
	return s.queryGames(ctx, q, args...)
}

// ListStale returns games in status whose last change is before cutoff.
func (s *Store) ListStale(ctx context.Context, status game.Status, cutoff time.Time) ([]game.Game, error) {
	return s.queryGames(ctx, `SELECT `+gameColumns+` FROM games WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		string(status), millis(cutoff))
}

func (s *Store) queryGames(ctx context.Context, q string, args ...any) ([]game.Game, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()
	var result []game.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// Participants returns a game's participants in join order.
func (s *Store) Participants(ctx context.Context, gameID string) ([]game.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_id, user_id, role, joined_at FROM game_participants
		WHERE game_id = ? ORDER BY joined_at, rowid`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	var result []game.Participant
	for rows.Next() {
		var (
			p      game.Participant
			role   string
			joined int64
		)
		if err := rows.Scan(&p.ID, &p.GameID, &p.UserID, &role, &joined); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Role, p.JoinedAt = game.Role(role), fromMillis(joined)
		result = append(result, p)
	}
	return result, rows.Err()
}

// Events returns a game's events in seq order.
func (s *Store) Events(ctx context.Context, gameID string) ([]game.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_id, seq, user_id, event_type, payload, created_at FROM game_events
		WHERE game_id = ? ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var result []game.Event
	for rows.Next() {
		var (
			e       game.Event
			userID  sql.NullString
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.GameID, &e.Seq, &userID, &e.EventType, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.String
		}
		e.Payload, e.CreatedAt = json.RawMessage(payload), fromMillis(created)
		result = append(result, e)
	}
	return result, rows.Err()
}

// IsMember reports whether userID belongs to groupID.
func (s *Store) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// Groups returns the groups userID belongs to.
func (s *Store) Groups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM group_members WHERE user_id = ? ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// AddMember records userID as a member of groupID. It is idempotent.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`, groupID, userID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
