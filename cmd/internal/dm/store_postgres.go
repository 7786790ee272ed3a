package dm

import (
	"context"
	"errors"
	"fmt"

	"buildlink/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// The caller owns the pool; Close is a no-op.
// Appends are serialized per conversation with a transactional advisory lock, so
// duplicates never consume a seq and ordering stays strict under concurrency.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the Postgres-backed stores.
type PostgresOption func(*pgOptions) error

type pgOptions struct {
	schema string
}

// WithSchema sets the DB schema (default "buildlink"). The name is validated and quoted.
func WithSchema(schema string) PostgresOption {
	return func(o *pgOptions) error {
		s, err := validSchema(schema)
		if err != nil {
			return err
		}
		o.schema = s
		return nil
	}
}

func applyPGOptions(pool *pgxpool.Pool, opts []PostgresOption) (pgOptions, error) {
	o := pgOptions{schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	if pool == nil {
		return o, errors.New("dm: nil pool")
	}
	return o, nil
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	o, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, schema: o.schema}, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const messageColumns = `conversation_id, seq, id, client_msg_id, sender_id, recipient_id, content, created_at, read_at IS NOT NULL`

func scanMessage(row pgx.Row) (StoredMessage, error) {
	var m StoredMessage
	err := row.Scan(&m.ConversationID, &m.Seq, &m.ID, &m.ClientMsgID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt, &m.Read)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if s == nil || s.pool == nil {
		return AppendMessageResult{}, errNilStore
	}
	in, err := in.normalize()
	if err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	convID := ConversationID(in.SenderID, in.RecipientID)
	cursors := pgIdent(s.schema, "dm_cursors")
	messages := pgIdent(s.schema, "dm_messages")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, convID); err != nil {
		return AppendMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE conversation_id = $1 AND sender_id = $2 AND client_msg_id = $3`,
		convID, in.SenderID, in.ClientMsgID,
	))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendMessageResult{}, err
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+cursors+` AS c (conversation_id, next_seq)
		 VALUES ($1, 2)
		 ON CONFLICT (conversation_id) DO UPDATE
		    SET next_seq = c.next_seq + 1,
		        updated_at = now()
		 RETURNING (next_seq - 1)`,
		convID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, fmt.Errorf("allocate seq: %w", err)
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     conversation_id, seq, id, client_msg_id, sender_id, recipient_id, content, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		convID, seq, id, in.ClientMsgID, in.SenderID, in.RecipientID, in.Content, in.Now,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendMessageResult{}, err
	}
	return AppendMessageResult{Stored: StoredMessage{
		ConversationID: convID,
		Seq:            seq,
		ID:             id,
		ClientMsgID:    in.ClientMsgID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		Content:        in.Content,
		CreatedAt:      in.Now,
	}}, nil
}

// FetchConversation returns messages ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) FetchConversation(ctx context.Context, in FetchConversationInput) (FetchConversationResult, error) {
	if s == nil || s.pool == nil {
		return FetchConversationResult{}, errNilStore
	}
	in, err := in.normalize()
	if err != nil {
		return FetchConversationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FetchConversationResult{}, err
	}

	after := int64(0)
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}
	fetch := in.Limit + 1

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+pgIdent(s.schema, "dm_messages")+`
		  WHERE conversation_id = $1 AND seq > $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		ConversationID(in.SelfID, in.PeerID), after, fetch,
	)
	if err != nil {
		return FetchConversationResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, fetch)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return FetchConversationResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return FetchConversationResult{}, err
	}

	hasMore := len(msgs) > in.Limit
	if hasMore {
		msgs = msgs[:in.Limit]
	}
	return FetchConversationResult{Messages: msgs, HasMore: hasMore}, nil
}

// MarkRead flags every unread message from peerID to readerID and returns how many changed.
func (s *PostgresStore) MarkRead(ctx context.Context, readerID, peerID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errNilStore
	}
	if readerID == "" || peerID == "" {
		return 0, ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "dm_messages")+`
		    SET read_at = now()
		  WHERE conversation_id = $1 AND sender_id = $2 AND recipient_id = $3 AND read_at IS NULL`,
		ConversationID(readerID, peerID), peerID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}
