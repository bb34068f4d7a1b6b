package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Draft представляет локально сохраненный черновик поля формы
type Draft struct {
	ProcessID string
	Text      string
	SavedAt   time.Time
}

// DraftCache хранит локальные черновики в SQLite
type DraftCache struct {
	db *sql.DB
}

// OpenDraftCache открывает (или создает) базу черновиков
func OpenDraftCache(path string) (*DraftCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы черновиков %s: %w", path, err)
	}
	c, err := NewDraftCache(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// NewDraftCache создает кэш поверх открытого соединения
func NewDraftCache(db *sql.DB) (*DraftCache, error) {
	c := &DraftCache{db: db}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("ошибка миграции базы черновиков: %w", err)
	}
	return c, nil
}

func (c *DraftCache) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS drafts (
        process_id TEXT PRIMARY KEY,
        body TEXT NOT NULL,
        saved_at INTEGER NOT NULL
    );`
	_, err := c.db.ExecContext(context.Background(), query)
	return err
}

// Close закрывает соединение
func (c *DraftCache) Close() error {
	return c.db.Close()
}

// Put сохраняет черновик, перезаписывая предыдущий
func (c *DraftCache) Put(ctx context.Context, d Draft) error {
	query := `
        INSERT INTO drafts (process_id, body, saved_at) VALUES (?, ?, ?)
        ON CONFLICT(process_id) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at
    `
	if _, err := c.db.ExecContext(ctx, query, d.ProcessID, d.Text, d.SavedAt.UnixMilli()); err != nil {
		return fmt.Errorf("ошибка сохранения черновика %s: %w", d.ProcessID, err)
	}
	return nil
}

// Get возвращает черновик процесса; ok == false, если его нет
func (c *DraftCache) Get(ctx context.Context, processID string) (Draft, bool, error) {
	var (
		d  = Draft{ProcessID: processID}
		ms int64
	)
	row := c.db.QueryRowContext(ctx, `SELECT body, saved_at FROM drafts WHERE process_id = ?`, processID)
	if err := row.Scan(&d.Text, &ms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Draft{}, false, nil
		}
		return Draft{}, false, fmt.Errorf("ошибка чтения черновика %s: %w", processID, err)
	}
	d.SavedAt = time.UnixMilli(ms).UTC()
	return d, true, nil
}

// Delete удаляет черновик процесса
func (c *DraftCache) Delete(ctx context.Context, processID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM drafts WHERE process_id = ?`, processID); err != nil {
		return fmt.Errorf("ошибка удаления черновика %s: %w", processID, err)
	}
	return nil
}

// LoadWithDraft выбирает между серверным текстом и локальным черновиком.
// Черновик применяется только если он строго новее серверной версии.
func (c *DraftCache) LoadWithDraft(ctx context.Context, processID, baseline string, logger *slog.Logger) *ResponseStore {
	server := Deserialize(baseline, logger)

	draft, ok, err := c.Get(ctx, processID)
	if err != nil {
		if logger != nil {
			logger.Warn("черновик недоступен", "process_id", processID, "error", err)
		}
		return server
	}
	if !ok || !draft.SavedAt.After(server.UpdatedAt) {
		return server
	}

	local := Deserialize(draft.Text, logger)
	if logger != nil {
		logger.Debug("применен локальный черновик", "process_id", processID, "draft_at", draft.SavedAt)
	}
	return local
}
