package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"reviewdesk-backend/models"
)

// ReviewSessionRepository handles database operations for review sessions
type ReviewSessionRepository struct {
	db *pgxpool.Pool
}

// NewReviewSessionRepository creates a new review session repository
func NewReviewSessionRepository(db *pgxpool.Pool) *ReviewSessionRepository {
	return &ReviewSessionRepository{db: db}
}

// Upsert creates or replaces a session snapshot
func (r *ReviewSessionRepository) Upsert(ctx context.Context, session *models.ReviewSession) error {
	query := `
		INSERT INTO review_sessions (
			id, user_id, status, document, answer_data, signature_fields,
			page_count, rendered_pdf_path, envelope_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			answer_data = EXCLUDED.answer_data,
			signature_fields = EXCLUDED.signature_fields,
			page_count = EXCLUDED.page_count,
			rendered_pdf_path = EXCLUDED.rendered_pdf_path,
			envelope_id = EXCLUDED.envelope_id,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		session.ID,
		session.UserID,
		session.Status,
		session.Document,
		session.AnswerData,
		session.SignatureFields,
		session.PageCount,
		session.RenderedPDFPath,
		session.EnvelopeID,
	).Scan(&session.CreatedAt, &session.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert review session: %w", err)
	}
	return nil
}

// GetByID retrieves a session snapshot by ID
func (r *ReviewSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReviewSession, error) {
	session := &models.ReviewSession{}
	query := `
		SELECT id, user_id, status, document, answer_data, signature_fields,
			page_count, rendered_pdf_path, envelope_id,
			created_at, updated_at, sent_at
		FROM review_sessions
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.Status,
		&session.Document,
		&session.AnswerData,
		&session.SignatureFields,
		&session.PageCount,
		&session.RenderedPDFPath,
		&session.EnvelopeID,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.SentAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get review session: %w", err)
	}
	return session, nil
}

// ListByUser retrieves all of a user's session snapshots, newest first
func (r *ReviewSessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ReviewSession, error) {
	query := `
		SELECT id, user_id, status, document, answer_data, signature_fields,
			page_count, rendered_pdf_path, envelope_id,
			created_at, updated_at, sent_at
		FROM review_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ReviewSession
	for rows.Next() {
		session := &models.ReviewSession{}
		err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.Status,
			&session.Document,
			&session.AnswerData,
			&session.SignatureFields,
			&session.PageCount,
			&session.RenderedPDFPath,
			&session.EnvelopeID,
			&session.CreatedAt,
			&session.UpdatedAt,
			&session.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// UpdateStatus updates only the session status
func (r *ReviewSessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	query := `
		UPDATE review_sessions
		SET status = $2,
			sent_at = CASE WHEN $2 = 'sent' THEN NOW() ELSE sent_at END,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("review session %s not found", id)
	}
	return nil
}

// Delete removes a session snapshot
func (r *ReviewSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, "DELETE FROM review_sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete review session: %w", err)
	}
	return nil
}
