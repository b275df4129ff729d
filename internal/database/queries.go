package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	messageColumns = "m.id, m.sender_id, m.recipient_id, s.username, r.username, m.content, m.created_at, m.is_read"
	messageJoins   = "JOIN accounts s ON s.id = m.sender_id JOIN accounts r ON r.id = m.recipient_id"

	notificationColumns = "id, user_id, kind, body, created_at, is_read"

	consultationRequestColumns = "c.id, c.user_name, c.user_email, c.problem, c.veterinarian_id, v.username, c.created_at, c.assigned_at"
	consultationRequestJoins   = "LEFT JOIN accounts v ON v.id = c.veterinarian_id"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.SenderId,
		&msg.RecipientId,
		&msg.SenderName,
		&msg.RecipientName,
		&msg.Content,
		&msg.CreatedAt,
		&msg.IsRead,
	)
	return msg, err
}

func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	err := row.Scan(&n.Id, &n.UserId, &n.Kind, &n.Body, &n.CreatedAt, &n.IsRead)
	return n, err
}

func scanConsultationRequest(row rowScanner) (ConsultationRequest, error) {
	var (
		req        ConsultationRequest
		vetId      sql.NullInt64
		vetName    sql.NullString
		assignedAt sql.NullTime
	)

	err := row.Scan(
		&req.Id,
		&req.UserName,
		&req.UserEmail,
		&req.Problem,
		&vetId,
		&vetName,
		&req.CreatedAt,
		&assignedAt,
	)
	if err != nil {
		return ConsultationRequest{}, err
	}

	if vetId.Valid {
		id := int(vetId.Int64)
		req.VeterinarianId = &id
		req.VeterinarianName = vetName.String
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		req.AssignedAt = &t
	}

	return req, nil
}

func (db *PgVetChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, role, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, username, email, role, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		params.Role,
		now,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, translateError(err, "account")
}

func (db *PgVetChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, role, created_at, updated_at FROM accounts WHERE id = $1",
		id,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, translateError(err, "account")
}

func (db *PgVetChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, created_at, updated_at FROM accounts WHERE email = $1",
		email,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, translateError(err, "account")
}

func (db *PgVetChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH m AS ("+
			"INSERT INTO messages (sender_id, recipient_id, content) VALUES ($1, $2, $3) "+
			"RETURNING id, sender_id, recipient_id, content, created_at, is_read"+
			") SELECT "+messageColumns+" FROM m "+messageJoins,
		params.SenderId,
		params.RecipientId,
		params.Content,
	)

	msg, err := scanMessage(row)
	return msg, translateError(err, "message")
}

func (db *PgVetChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+messageJoins+" WHERE m.id = $1",
		id,
	)

	msg, err := scanMessage(row)
	return msg, translateError(err, "message")
}

func (db *PgVetChatRepository) MarkMessageRead(ctx context.Context, id int) (Message, bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET is_read = true WHERE id = $1 AND NOT is_read",
		id,
	)
	if err != nil {
		return Message{}, false, translateError(err, "message")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Message{}, false, translateError(err, "message")
	}

	msg, err := db.GetMessage(ctx, id)
	if err != nil {
		return Message{}, false, err
	}

	return msg, n > 0, nil
}

func (db *PgVetChatRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error) {
	var limit sql.NullInt64
	if params.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(params.Limit), Valid: true}
	}

	// LIMIT NULL is no limit
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+messageJoins+
			" WHERE (m.sender_id = $1 OR m.recipient_id = $1) AND m.created_at > $2"+
			" ORDER BY m.created_at ASC, m.id ASC LIMIT $3 OFFSET $4",
		params.UserId,
		params.Since,
		limit,
		params.Offset,
	)
	if err != nil {
		return nil, translateError(err, "messages")
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, translateError(err, "messages")
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "messages")
	}

	return messages, nil
}

func (db *PgVetChatRepository) CountUnreadMessages(ctx context.Context, recipientId int) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT count(*) FROM messages WHERE recipient_id = $1 AND NOT is_read",
		recipientId,
	).Scan(&count)

	return count, translateError(err, "messages")
}

func (db *PgVetChatRepository) MarkMessagesRead(ctx context.Context, recipientId int, ids []int) ([]ReadReceipt, error) {
	if len(ids) == 0 {
		return []ReadReceipt{}, nil
	}

	return db.markRead(ctx,
		"UPDATE messages SET is_read = true WHERE recipient_id = $1 AND NOT is_read AND id = ANY($2) "+
			"RETURNING id, sender_id",
		recipientId, pq.Array(ids),
	)
}

func (db *PgVetChatRepository) MarkAllMessagesRead(ctx context.Context, recipientId int) ([]ReadReceipt, error) {
	return db.markRead(ctx,
		"UPDATE messages SET is_read = true WHERE recipient_id = $1 AND NOT is_read RETURNING id, sender_id",
		recipientId,
	)
}

// markRead runs an UPDATE ... RETURNING so the receipts are exactly the
// rows this statement flipped.
func (db *PgVetChatRepository) markRead(ctx context.Context, query string, args ...any) ([]ReadReceipt, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "messages")
	}
	defer rows.Close()

	receipts := make([]ReadReceipt, 0)
	for rows.Next() {
		var r ReadReceipt
		if err := rows.Scan(&r.MessageId, &r.SenderId); err != nil {
			return nil, translateError(err, "messages")
		}
		receipts = append(receipts, r)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "messages")
	}

	return receipts, nil
}

func (db *PgVetChatRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO notifications (user_id, kind, body) VALUES ($1, $2, $3) RETURNING "+notificationColumns,
		params.UserId,
		params.Kind,
		params.Body,
	)

	n, err := scanNotification(row)
	return n, translateError(err, "notification")
}

func (db *PgVetChatRepository) GetNotification(ctx context.Context, id int) (Notification, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = $1",
		id,
	)

	n, err := scanNotification(row)
	return n, translateError(err, "notification")
}

func (db *PgVetChatRepository) ListNotifications(ctx context.Context, userId int) ([]Notification, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = $1 ORDER BY created_at DESC, id DESC",
		userId,
	)
	if err != nil {
		return nil, translateError(err, "notifications")
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, translateError(err, "notifications")
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "notifications")
	}

	return notifications, nil
}

func (db *PgVetChatRepository) MarkNotificationRead(ctx context.Context, id int) (Notification, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE notifications SET is_read = true WHERE id = $1 RETURNING "+notificationColumns,
		id,
	)

	n, err := scanNotification(row)
	return n, translateError(err, "notification")
}

func (db *PgVetChatRepository) DeleteNotification(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM notifications WHERE id = $1", id)
	if err != nil {
		return translateError(err, "notification")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return translateError(err, "notification")
	}
	if n == 0 {
		return translateError(sql.ErrNoRows, "notification")
	}

	return nil
}

func (db *PgVetChatRepository) CreateConsultation(ctx context.Context, params CreateConsultationParams) (Consultation, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO consultations (name, email, problem) VALUES ($1, $2, $3) "+
			"RETURNING id, name, email, problem, created_at",
		params.Name,
		params.Email,
		params.Problem,
	)

	var c Consultation
	err := row.Scan(&c.Id, &c.Name, &c.Email, &c.Problem, &c.CreatedAt)
	return c, translateError(err, "consultation")
}

func (db *PgVetChatRepository) CreateConsultationRequest(ctx context.Context, params CreateConsultationRequestParams) (ConsultationRequest, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH c AS ("+
			"INSERT INTO consultation_requests (user_name, user_email, problem) VALUES ($1, $2, $3) "+
			"RETURNING id, user_name, user_email, problem, veterinarian_id, created_at, assigned_at"+
			") SELECT "+consultationRequestColumns+" FROM c "+consultationRequestJoins,
		params.UserName,
		params.UserEmail,
		params.Problem,
	)

	req, err := scanConsultationRequest(row)
	return req, translateError(err, "consultation request")
}

func (db *PgVetChatRepository) GetConsultationRequest(ctx context.Context, id int) (ConsultationRequest, error) {
	return db.getConsultationRequest(ctx, db.conn, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *PgVetChatRepository) getConsultationRequest(ctx context.Context, q queryRower, id int) (ConsultationRequest, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+consultationRequestColumns+" FROM consultation_requests c "+consultationRequestJoins+" WHERE c.id = $1",
		id,
	)

	req, err := scanConsultationRequest(row)
	return req, translateError(err, "consultation request")
}

func (db *PgVetChatRepository) ListConsultationRequests(ctx context.Context, unassignedOnly bool) ([]ConsultationRequest, error) {
	query := "SELECT " + consultationRequestColumns + " FROM consultation_requests c " + consultationRequestJoins
	if unassignedOnly {
		query += " WHERE c.veterinarian_id IS NULL"
	}
	query += " ORDER BY c.created_at ASC, c.id ASC"

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, translateError(err, "consultation requests")
	}
	defer rows.Close()

	requests := make([]ConsultationRequest, 0)
	for rows.Next() {
		req, err := scanConsultationRequest(rows)
		if err != nil {
			return nil, translateError(err, "consultation requests")
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "consultation requests")
	}

	return requests, nil
}

func (db *PgVetChatRepository) AssignConsultationRequest(ctx context.Context, params AssignConsultationParams) (ConsultationRequest, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return ConsultationRequest{}, false, translateError(err, "consultation request")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT veterinarian_id FROM consultation_requests WHERE id = $1 FOR UPDATE",
		params.RequestId,
	).Scan(&current)
	if err != nil {
		return ConsultationRequest{}, false, translateError(err, "consultation request")
	}

	if current.Valid && int(current.Int64) == params.VeterinarianId {
		var req ConsultationRequest
		req, err = db.getConsultationRequest(ctx, tx, params.RequestId)
		if err != nil {
			return ConsultationRequest{}, false, err
		}
		if err = tx.Commit(); err != nil {
			return ConsultationRequest{}, false, translateError(err, "consultation request")
		}
		return req, false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE consultation_requests SET veterinarian_id = $2, assigned_at = now() WHERE id = $1",
		params.RequestId,
		params.VeterinarianId,
	)
	if err != nil {
		return ConsultationRequest{}, false, translateError(err, "consultation request")
	}

	var assignedBy sql.NullInt64
	if params.AssignedBy > 0 {
		assignedBy = sql.NullInt64{Int64: int64(params.AssignedBy), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO consultation_assignments (request_id, veterinarian_id, assigned_by) VALUES ($1, $2, $3)",
		params.RequestId,
		params.VeterinarianId,
		assignedBy,
	)
	if err != nil {
		return ConsultationRequest{}, false, translateError(err, "consultation assignment")
	}

	req, err := db.getConsultationRequest(ctx, tx, params.RequestId)
	if err != nil {
		return ConsultationRequest{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return ConsultationRequest{}, false, translateError(fmt.Errorf("commit: %w", err), "consultation request")
	}

	return req, true, nil
}
