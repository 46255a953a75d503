package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres initializes a new PostgreSQL connection pool, executes database
// migrations, and returns the store.
func NewPostgres(dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// --- UserStore ---

// CreateUser inserts a new account. Returns ErrDuplicate when the email or
// username is already taken.
func (p *Postgres) CreateUser(ctx context.Context, email, username, passwordHash string) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, username, password_hash, avatar_key, created_at`,
		email, username, passwordHash,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.AvatarKey, &u.CreatedAt)

	return u, mapRowError(err)
}

// GetUserByEmail fetches an account by email.
func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, avatar_key, created_at
		FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.AvatarKey, &u.CreatedAt)

	return u, mapRowError(err)
}

// GetUserByID fetches an account by id.
func (p *Postgres) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, avatar_key, created_at
		FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.AvatarKey, &u.CreatedAt)

	return u, mapRowError(err)
}

// ListUserSummaries returns every user except the viewer, each annotated with
// the latest direct message exchanged with the viewer, most recent
// conversations first.
func (p *Postgres) ListUserSummaries(ctx context.Context, viewerID string) ([]UserSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT u.id, u.username, u.avatar_key,
		       COALESCE(m.content, ''),
		       COALESCE(m.created_at, 'epoch'::timestamptz),
		       m.created_at IS NOT NULL
		FROM users u
		LEFT JOIN LATERAL (
			SELECT content, created_at
			FROM messages
			WHERE room_key = 'd:' || LEAST(u.id::text, $1::text) || ':' || GREATEST(u.id::text, $1::text)
			ORDER BY sequence_no DESC
			LIMIT 1
		) m ON true
		WHERE u.id <> $1
		ORDER BY m.created_at DESC NULLS LAST, u.username`,
		viewerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []UserSummary
	for rows.Next() {
		var s UserSummary
		if err := rows.Scan(&s.ID, &s.Username, &s.AvatarKey, &s.LastMessage, &s.LastMessageAt, &s.HasMessages); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// UpdateAvatar stores the new avatar blob key for the user.
func (p *Postgres) UpdateAvatar(ctx context.Context, userID, avatarKey string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET avatar_key = $2 WHERE id = $1`, userID, avatarKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- MessageStore ---

// CreateMessage durably writes the message, assigning the next sequence
// number for its room inside the same transaction. The upsert on
// room_sequences takes a row lock, so concurrent submits to one room are
// serialized there and numbers come out monotonic and gapless.
func (p *Postgres) CreateMessage(ctx context.Context, roomKey, senderID, content, attachmentKey string) (CreatedMessage, error) {
	var created CreatedMessage

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var seq int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO room_sequences (room_key, value)
			VALUES ($1, 1)
			ON CONFLICT (room_key) DO UPDATE SET value = room_sequences.value + 1
			RETURNING value`,
			roomKey,
		).Scan(&seq); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO messages (room_key, sender_id, content, attachment_key, sequence_no)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			roomKey, senderID, content, attachmentKey, seq,
		).Scan(&created.ID, &created.CreatedAt); err != nil {
			return err
		}

		created.SequenceNo = seq
		return nil
	})

	if err != nil {
		return CreatedMessage{}, err
	}
	return created, nil
}

// ListMessages returns up to limit messages of the room with sequence numbers
// strictly below beforeSeq (0 or negative means "from the newest"), in
// ascending sequence order.
func (p *Postgres) ListMessages(ctx context.Context, roomKey string, beforeSeq int64, limit int) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.id, m.room_key, m.sender_id, u.username, m.content, m.attachment_key, m.sequence_no, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_key = $1 AND ($2::bigint <= 0 OR m.sequence_no < $2)
		ORDER BY m.sequence_no DESC
		LIMIT $3`,
		roomKey, beforeSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomKey, &m.SenderID, &m.SenderName, &m.Content, &m.AttachmentKey, &m.SequenceNo, &m.CreatedAt); err != nil {
			return nil, err
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query newest-first for the page boundary; deliver ascending.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	return page, nil
}

// GetMessage fetches one message by id.
func (p *Postgres) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	err := p.pool.QueryRow(ctx, `
		SELECT m.id, m.room_key, m.sender_id, u.username, m.content, m.attachment_key, m.sequence_no, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`,
		id,
	).Scan(&m.ID, &m.RoomKey, &m.SenderID, &m.SenderName, &m.Content, &m.AttachmentKey, &m.SequenceNo, &m.CreatedAt)

	return m, mapRowError(err)
}

// DeleteMessage removes one message by id.
func (p *Postgres) DeleteMessage(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- GroupStore ---

// CreateGroup inserts the group and enrolls its owner as the first member in
// one transaction. Returns ErrDuplicate when the name is taken.
func (p *Postgres) CreateGroup(ctx context.Context, name, ownerID string) (Group, error) {
	var g Group

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO groups (name, owner_id)
			VALUES ($1, $2)
			RETURNING id, name, owner_id, created_at`,
			name, ownerID,
		).Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`,
			g.ID, ownerID,
		)
		return err
	})

	if err != nil {
		return Group{}, mapRowError(err)
	}
	return g, nil
}

// GetGroup fetches one group by id.
func (p *Postgres) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at FROM groups WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)

	return g, mapRowError(err)
}

// DeleteGroup removes the group; members and messages cascade per schema.
func (p *Postgres) DeleteGroup(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroupsFor returns the groups the user belongs to.
func (p *Postgres) ListGroupsFor(ctx context.Context, userID string) ([]Group, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT g.id, g.name, g.owner_id, g.created_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// AddGroupMember enrolls the user. Returns ErrDuplicate for existing members.
func (p *Postgres) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`,
		groupID, userID,
	)
	return mapRowError(err)
}

// RemoveGroupMember removes the user. Returns ErrNotFound for non-members.
func (p *Postgres) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetGroupMembers returns the ids of the group's current members.
func (p *Postgres) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id FROM group_members WHERE group_id = $1`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// IsGroupMember reports whether the user is currently enrolled in the group.
func (p *Postgres) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2
		)`,
		groupID, userID,
	).Scan(&exists)

	return exists, err
}
