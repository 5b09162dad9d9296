package db

import (
	"context"
	"database/sql"
	"time"

	"clawsentry/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) InsertCostEntry(e models.CostEntry) error {
	_, err := r.db.Exec(`INSERT INTO usage_entries (ts,model,input_tokens,output_tokens,cost_usd) VALUES (?,?,?,?,?)`,
		e.Timestamp.UTC(), e.Model, e.InputTokens, e.OutputTokens, e.CostUSD)
	return err
}

func (r *Repository) LoadCostEntries(since time.Time) ([]models.CostEntry, error) {
	rows, err := r.db.Query(`SELECT ts,model,input_tokens,output_tokens,cost_usd FROM usage_entries WHERE ts >= ? ORDER BY ts ASC`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.CostEntry
	for rows.Next() {
		var e models.CostEntry
		if err := rows.Scan(&e.Timestamp, &e.Model, &e.InputTokens, &e.OutputTokens, &e.CostUSD); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) InsertNotificationEvent(ctx context.Context, e models.NotificationEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_events (ts,channel,status,detail) VALUES (?,?,?,?)`,
		e.TS.UTC(), e.Channel, e.Status, e.Detail)
	return err
}

func (r *Repository) RecentNotificationEvents(ctx context.Context, limit int) ([]models.NotificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT ts,channel,status,detail FROM notification_events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.NotificationEvent
	for rows.Next() {
		var e models.NotificationEvent
		if err := rows.Scan(&e.TS, &e.Channel, &e.Status, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM usage_entries WHERE ts < ?`, cutoff.UTC()); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM notification_events WHERE ts < ?`, cutoff.UTC())
	return err
}
