package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"vibration-monitor/internal/models"
)

//go:embed migrations/001_init.sql
var migration string

// NewPostgresDB открывает пул соединений и применяет миграцию
func NewPostgresDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Migrate создает таблицы отчетов, если их нет
func Migrate(db *sql.DB) error {
	_, err := db.Exec(migration)
	return err
}

// PostgresStore хранит отчеты по окнам и итоги сессий
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore создает хранилище поверх пула db
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Name реализует контракт потребителя событий
func (s *PostgresStore) Name() string { return "postgres" }

// Consume сохраняет окна и итоги; остальные события игнорируются
func (s *PostgresStore) Consume(ctx context.Context, e models.Event) error {
	switch e.Kind {
	case models.EventWindow:
		if e.Status != nil {
			return s.SaveWindow(ctx, *e.Status)
		}
	case models.EventSummary:
		if e.Summary != nil {
			return s.SaveSummary(ctx, *e.Summary)
		}
	}
	return nil
}

// SaveWindow добавляет отчет окна. Повторная запись того же окна игнорируется.
func (s *PostgresStore) SaveWindow(ctx context.Context, st models.LiveStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO window_reports
			(session_id, window_index, sample_ts, status, severity, confidence, point_estimate,
			 damage, ema, rms_x, rms_y, rms_z, distance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id, window_index) DO NOTHING`,
		st.SessionID, st.Window, st.Timestamp, st.Status, string(st.Severity), st.Confidence, st.PointEstimate,
		st.DamageScore, st.EMAScore, st.Features.RMSX, st.Features.RMSY, st.Features.RMSZ,
		st.Features.DistanceFromNormal,
	)
	if err != nil {
		return fmt.Errorf("insert window report: %w", err)
	}
	return nil
}

// SaveSummary записывает или обновляет итог сессии
func (s *PostgresStore) SaveSummary(ctx context.Context, sum models.Summary) error {
	body, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_summaries
			(session_id, label, started_at, finished_at, stopped, windows, majority,
			 majority_share, mean_damage, peak_damage, warning_sent, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			stopped = EXCLUDED.stopped,
			windows = EXCLUDED.windows,
			majority = EXCLUDED.majority,
			majority_share = EXCLUDED.majority_share,
			mean_damage = EXCLUDED.mean_damage,
			peak_damage = EXCLUDED.peak_damage,
			warning_sent = EXCLUDED.warning_sent,
			body = EXCLUDED.body`,
		sum.SessionID, sum.Label, sum.StartedAt, sum.FinishedAt, sum.Stopped, sum.Windows,
		string(sum.Majority), sum.MajorityShare, sum.MeanDamage, sum.PeakDamage, sum.WarningSent, body,
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// Recorded сообщает, есть ли в базе окна или итог сессии
func (s *PostgresStore) Recorded(ctx context.Context, sessionID string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM window_reports WHERE session_id = $1)
		    OR EXISTS (SELECT 1 FROM session_summaries WHERE session_id = $1)`,
		sessionID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return found, nil
}

// GetSummary загружает сохраненный итог сессии
func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (models.Summary, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM session_summaries WHERE session_id = $1`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Summary{}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return models.Summary{}, fmt.Errorf("select summary: %w", err)
	}

	var sum models.Summary
	if err := json.Unmarshal(body, &sum); err != nil {
		return models.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return sum, nil
}

// RecentWindows возвращает до limit последних отчетов окон, новые первыми
func (s *PostgresStore) RecentWindows(ctx context.Context, sessionID string, limit int) ([]models.LiveStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT window_index, sample_ts, status, severity, confidence, point_estimate,
		       damage, ema, rms_x, rms_y, rms_z, distance
		FROM window_reports
		WHERE session_id = $1
		ORDER BY window_index DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select windows: %w", err)
	}
	defer rows.Close()

	var out []models.LiveStatus
	for rows.Next() {
		st := models.LiveStatus{SessionID: sessionID}
		var sev string
		if err := rows.Scan(&st.Window, &st.Timestamp, &st.Status, &sev, &st.Confidence, &st.PointEstimate,
			&st.DamageScore, &st.EMAScore, &st.Features.RMSX, &st.Features.RMSY, &st.Features.RMSZ,
			&st.Features.DistanceFromNormal); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		st.Severity = models.Severity(sev)
		out = append(out, st)
	}
	return out, rows.Err()
}
