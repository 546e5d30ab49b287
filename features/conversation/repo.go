package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"ragdocs/backend/internal/answer"
)

var ErrNotFound = errors.New("conversation not found")

type Repository interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	// AppendTurn writes a user turn and its assistant reply in one
	// transaction, so the ordered turn sequence never gains half a pair.
	AppendTurn(ctx context.Context, convID string, user, assistant Message) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, conv *Conversation) error {
	query := `INSERT INTO conversations (id, title) VALUES ($1, $2) RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, conv.ID, conv.Title).Scan(&conv.CreatedAt, &conv.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{}
	query := `SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	msgQuery := `SELECT id, role, content, sources, position, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY position`
	rows, err := r.db.QueryContext(ctx, msgQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var sources []byte
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &sources, &m.Position, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, err
			}
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

func (r *PostgresRepo) AppendTurn(ctx context.Context, convID string, user, assistant Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var position int
	posQuery := `SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE conversation_id = $1`
	if err := tx.QueryRowContext(ctx, posQuery, convID).Scan(&position); err != nil {
		return err
	}

	insert := `INSERT INTO messages (id, conversation_id, role, content, sources, position) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, insert, user.ID, convID, user.Role, user.Content, sourcesJSON(nil), position); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insert, assistant.ID, convID, assistant.Role, assistant.Content, sourcesJSON(assistant.Sources), position+1); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, convID); err != nil {
		return err
	}

	return tx.Commit()
}

func sourcesJSON(sources []answer.Source) []byte {
	if len(sources) == 0 {
		return []byte("[]")
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return []byte("[]")
	}
	return raw
}
