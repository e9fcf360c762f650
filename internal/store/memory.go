package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
	"github.com/oklog/ulid/v2"
)

const factColumns = `f.id, e.external_id, f.content, f.num_times, f.embedding, f.embedding_status, f.date_created, f.date_last_time`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ensureEntity returns the memory entity id for an external user id,
// creating the entity on first use.
func (s *SQLStore) ensureEntity(ctx context.Context, q execer, externalID string) (string, error) {
	return s.ensureNamed(ctx, q, "memory_entity", externalID)
}

func (s *SQLStore) ensureProcess(ctx context.Context, q execer, externalID string) (string, error) {
	return s.ensureNamed(ctx, q, "memory_process", externalID)
}

func (s *SQLStore) ensureNamed(ctx context.Context, q execer, table, externalID string) (string, error) {
	_, err := q.ExecContext(ctx, s.rebind(
		"INSERT INTO "+table+" (id, external_id, date_created) VALUES (?, ?, ?) ON CONFLICT (external_id) DO NOTHING",
	), ulid.Make().String(), externalID, formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("ensure %s: %w", table, err)
	}

	var id string
	if err := q.QueryRowContext(ctx, s.rebind(
		"SELECT id FROM "+table+" WHERE external_id = ?",
	), externalID).Scan(&id); err != nil {
		return "", fmt.Errorf("lookup %s: %w", table, err)
	}
	return id, nil
}

// contentKey normalizes content for duplicate detection.
func contentKey(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}

// UpsertFact stores a fact for a user. Repeating an existing fact
// (case- and whitespace-insensitive) increments num_times and refreshes
// date_last_time instead of inserting. A nil embedding leaves the fact
// pending for the embedding retry worker.
func (s *SQLStore) UpsertFact(ctx context.Context, userID, content string, embedding []float32) (*types.Fact, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	key := contentKey(content)
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entityID, err := s.ensureEntity(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	var existingID string
	err = tx.QueryRowContext(ctx, s.rebind(
		"SELECT id FROM memory_entity_fact WHERE entity_id = ? AND content_key = ?",
	), entityID, key).Scan(&existingID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		existingID = ulid.Make().String()
		status := types.EmbeddingPending
		if len(embedding) > 0 {
			status = types.EmbeddingComplete
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO memory_entity_fact (id, entity_id, content, content_key, num_times, embedding, embedding_status, date_created, date_last_time)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
		`), existingID, entityID, content, key, packEmbedding(embedding), status, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert fact: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("lookup fact: %w", err)
	default:
		_, err = tx.ExecContext(ctx, s.rebind(
			"UPDATE memory_entity_fact SET num_times = num_times + 1, date_last_time = ? WHERE id = ?",
		), now, existingID)
		if err != nil {
			return nil, fmt.Errorf("update fact: %w", err)
		}
	}

	fact, err := scanFact(tx.QueryRowContext(ctx, s.rebind(
		"SELECT "+factColumns+" FROM memory_entity_fact f JOIN memory_entity e ON f.entity_id = e.id WHERE f.id = ?",
	), existingID))
	if err != nil {
		return nil, fmt.Errorf("read fact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return fact, nil
}

// factWhere builds the WHERE clause shared by QueryFacts and CountFacts.
func factWhere(q FactQuery) (string, []any) {
	clauses := []string{"e.external_id = ?"}
	args := []any{q.UserID}

	anyOf := func(values []string) {
		if len(values) == 0 {
			return
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = `LOWER(f.content) LIKE ? ESCAPE '\'`
			args = append(args, likePattern(v))
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	anyOf(q.Keywords)
	anyOf(q.Terms)

	return strings.Join(clauses, " AND "), args
}

// QueryFacts returns a user's facts filtered and ordered by q.
func (s *SQLStore) QueryFacts(ctx context.Context, q FactQuery) ([]types.Fact, error) {
	where, args := factWhere(q)

	order := "f.date_last_time DESC"
	if q.Order == OrderFrequent {
		order = "f.num_times DESC, f.date_last_time DESC"
	}

	query := "SELECT " + factColumns + `
		FROM memory_entity_fact f
		JOIN memory_entity e ON f.entity_id = e.id
		WHERE ` + where + `
		ORDER BY ` + order
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	return s.queryFacts(ctx, query, args...)
}

// CountFacts counts a user's facts matching q. Order and Limit are ignored.
func (s *SQLStore) CountFacts(ctx context.Context, q FactQuery) (int, error) {
	where, args := factWhere(q)
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*)
		FROM memory_entity_fact f
		JOIN memory_entity e ON f.entity_id = e.id
		WHERE `+where), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return count, nil
}

// FactsWithEmbeddings returns every embedded fact for a user.
func (s *SQLStore) FactsWithEmbeddings(ctx context.Context, userID string) ([]types.Fact, error) {
	return s.queryFacts(ctx, "SELECT "+factColumns+`
		FROM memory_entity_fact f
		JOIN memory_entity e ON f.entity_id = e.id
		WHERE e.external_id = ? AND f.embedding_status = ?`, userID, types.EmbeddingComplete)
}

// GetPendingEmbeddings returns facts still waiting for an embedding, oldest first.
func (s *SQLStore) GetPendingEmbeddings(ctx context.Context, limit int) ([]types.Fact, error) {
	return s.queryFacts(ctx, "SELECT "+factColumns+`
		FROM memory_entity_fact f
		JOIN memory_entity e ON f.entity_id = e.id
		WHERE f.embedding_status = ?
		ORDER BY f.date_created ASC
		LIMIT ?`, types.EmbeddingPending, limit)
}

// UpdateEmbedding stores a fact's embedding and marks it complete.
func (s *SQLStore) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE memory_entity_fact SET embedding = ?, embedding_status = ? WHERE id = ?",
	), packEmbedding(embedding), types.EmbeddingComplete, id)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmbeddingFailed stops further embedding attempts for a fact.
func (s *SQLStore) MarkEmbeddingFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE memory_entity_fact SET embedding_status = ? WHERE id = ?",
	), types.EmbeddingFailed, id)
	if err != nil {
		return fmt.Errorf("mark embedding failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneFacts deletes facts mentioned only once and not seen since olderThan.
func (s *SQLStore) PruneFacts(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM memory_entity_fact WHERE num_times <= 1 AND date_last_time < ?",
	), formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune facts: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) queryFacts(ctx context.Context, query string, args ...any) ([]types.Fact, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := []types.Fact{}
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, *fact)
	}
	return facts, rows.Err()
}

// scanFact scans a row selected with factColumns.
func scanFact(scanner interface{ Scan(...any) error }) (*types.Fact, error) {
	var (
		fact                   types.Fact
		embedding              []byte
		dateCreated, dateLast string
	)
	err := scanner.Scan(&fact.ID, &fact.UserID, &fact.Content, &fact.NumTimes,
		&embedding, &fact.EmbeddingStatus, &dateCreated, &dateLast)
	if err != nil {
		return nil, err
	}
	fact.Embedding = unpackEmbedding(embedding)
	fact.DateCreated = parseTime(dateCreated)
	fact.DateLastTime = parseTime(dateLast)
	return &fact, nil
}

// RecordConversation stores one exchange as a new session and conversation
// for the user, attributed to the agent process. Returns the session id.
func (s *SQLStore) RecordConversation(ctx context.Context, userID string, messages []types.ChatMessage) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entityID, err := s.ensureEntity(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	processID, err := s.ensureProcess(ctx, tx, types.ProcessID)
	if err != nil {
		return "", err
	}

	now := s.now()
	sessionID := ulid.Make().String()
	conversationID := ulid.Make().String()

	if _, err := tx.ExecContext(ctx, s.rebind(
		"INSERT INTO memory_session (id, entity_id, process_id, date_created) VALUES (?, ?, ?, ?)",
	), sessionID, entityID, processID, formatTime(now)); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		"INSERT INTO memory_conversation (id, session_id, date_created) VALUES (?, ?, ?)",
	), conversationID, sessionID, formatTime(now)); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	for i, msg := range messages {
		// Offset each message so ordering by date_created is stable
		created := now.Add(time.Duration(i) * time.Microsecond)
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO memory_conversation_message (id, conversation_id, role, content, date_created)
			VALUES (?, ?, ?, ?, ?)
		`), ulid.Make().String(), conversationID, string(msg.Role), msg.Content, formatTime(created)); err != nil {
			return "", fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return sessionID, nil
}

// GetSessionInfo counts a user's sessions and messages.
func (s *SQLStore) GetSessionInfo(ctx context.Context, userID string) (*types.SessionInfo, error) {
	var info types.SessionInfo
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(DISTINCT s.id)
		FROM memory_session s
		JOIN memory_entity e ON s.entity_id = e.id
		WHERE e.external_id = ?
	`), userID).Scan(&info.TotalSessions)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(cm.id)
		FROM memory_conversation_message cm
		JOIN memory_conversation c ON cm.conversation_id = c.id
		JOIN memory_session s ON c.session_id = s.id
		JOIN memory_entity e ON s.entity_id = e.id
		WHERE e.external_id = ?
	`), userID).Scan(&info.TotalMessages)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return &info, nil
}

// ListSessions returns a user's most recent sessions.
func (s *SQLStore) ListSessions(ctx context.Context, userID string, limit int) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT s.id, s.date_created
		FROM memory_session s
		JOIN memory_entity e ON s.entity_id = e.id
		WHERE e.external_id = ?
		ORDER BY s.date_created DESC
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []types.Session{}
	for rows.Next() {
		var sess types.Session
		var created string
		if err := rows.Scan(&sess.ID, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.DateCreated = parseTime(created)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RecentMessages returns a user's most recent conversation messages across sessions.
func (s *SQLStore) RecentMessages(ctx context.Context, userID string, limit int) ([]types.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT cm.role, cm.content, cm.date_created, s.id
		FROM memory_conversation_message cm
		JOIN memory_conversation c ON cm.conversation_id = c.id
		JOIN memory_session s ON c.session_id = s.id
		JOIN memory_entity e ON s.entity_id = e.id
		WHERE e.external_id = ?
		ORDER BY cm.date_created DESC
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []types.StoredMessage{}
	for rows.Next() {
		var msg types.StoredMessage
		var role, created string
		if err := rows.Scan(&role, &msg.Content, &created, &msg.SessionID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = types.Role(role)
		msg.DateCreated = parseTime(created)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountConversations counts a user's conversations.
func (s *SQLStore) CountConversations(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(DISTINCT c.id)
		FROM memory_conversation c
		JOIN memory_session s ON c.session_id = s.id
		JOIN memory_entity e ON s.entity_id = e.id
		WHERE e.external_id = ?
	`), userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return count, nil
}

// UpsertProcessAttribute records an attribute of a process, counting repeats.
func (s *SQLStore) UpsertProcessAttribute(ctx context.Context, processExternalID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	processID, err := s.ensureProcess(ctx, tx, processExternalID)
	if err != nil {
		return err
	}

	now := formatTime(s.now())
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO memory_process_attribute (id, process_id, content, content_key, num_times, date_created, date_last_time)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (process_id, content_key)
		DO UPDATE SET num_times = memory_process_attribute.num_times + 1, date_last_time = excluded.date_last_time
	`), ulid.Make().String(), processID, content, contentKey(content), now, now)
	if err != nil {
		return fmt.Errorf("upsert process attribute: %w", err)
	}

	return tx.Commit()
}

// ListProcessAttributes returns a process's attributes, most frequent first.
func (s *SQLStore) ListProcessAttributes(ctx context.Context, processExternalID string, limit int) ([]types.ProcessAttribute, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT pa.content, pa.num_times, pa.date_last_time
		FROM memory_process_attribute pa
		JOIN memory_process p ON pa.process_id = p.id
		WHERE p.external_id = ?
		ORDER BY pa.num_times DESC
		LIMIT ?
	`), processExternalID, limit)
	if err != nil {
		return nil, fmt.Errorf("query process attributes: %w", err)
	}
	defer rows.Close()

	attrs := []types.ProcessAttribute{}
	for rows.Next() {
		var attr types.ProcessAttribute
		var last string
		if err := rows.Scan(&attr.Content, &attr.NumTimes, &last); err != nil {
			return nil, fmt.Errorf("scan process attribute: %w", err)
		}
		attr.DateLastTime = parseTime(last)
		attrs = append(attrs, attr)
	}
	return attrs, rows.Err()
}

// AddTriple records a knowledge-graph edge for a user. Duplicates are ignored.
func (s *SQLStore) AddTriple(ctx context.Context, userID string, triple types.Triple) error {
	if strings.TrimSpace(triple.Subject) == "" || strings.TrimSpace(triple.Predicate) == "" || strings.TrimSpace(triple.Object) == "" {
		return ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entityID, err := s.ensureEntity(ctx, tx, userID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO memory_knowledge_graph (id, entity_id, subject, predicate, object, date_created)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, subject, predicate, object) DO NOTHING
	`), ulid.Make().String(), entityID, triple.Subject, triple.Predicate, triple.Object, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("insert triple: %w", err)
	}

	return tx.Commit()
}

// ListTriples returns a user's most recent knowledge-graph edges.
func (s *SQLStore) ListTriples(ctx context.Context, userID string, limit int) ([]types.Triple, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT kg.subject, kg.predicate, kg.object, kg.date_created
		FROM memory_knowledge_graph kg
		JOIN memory_entity e ON kg.entity_id = e.id
		WHERE e.external_id = ?
		ORDER BY kg.date_created DESC
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query triples: %w", err)
	}
	defer rows.Close()

	triples := []types.Triple{}
	for rows.Next() {
		var triple types.Triple
		var created string
		if err := rows.Scan(&triple.Subject, &triple.Predicate, &triple.Object, &created); err != nil {
			return nil, fmt.Errorf("scan triple: %w", err)
		}
		triple.DateCreated = parseTime(created)
		triples = append(triples, triple)
	}
	return triples, rows.Err()
}
