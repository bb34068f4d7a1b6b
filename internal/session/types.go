package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/generation"
	"nowlex-decision-tree/internal/inventory"
	"nowlex-decision-tree/internal/metrics"
	"nowlex-decision-tree/internal/snapshot"
	"nowlex-decision-tree/internal/storage"
)

// State представляет состояние сессии анализа
type State string

const (
	StateIdle      State = "idle"
	StateAnalysing State = "analysing"
	StateEditing   State = "editing"
)

var (
	ErrUnknownCard       = errors.New("карточка не найдена")
	ErrUnknownContract   = errors.New("контракт не найден в инвентаре")
	ErrEditorNotRendered = errors.New("редактор связанных процессов не отображается")
	ErrInputTooLong      = errors.New("ответ слишком длинный")
)

// Ограничения длины ответов по типу вопроса
const (
	maxTextLength     = 500
	maxLongTextLength = 4000
)

// Field хранит сериализованное состояние анализа процесса
type Field interface {
	Save(processID, text string) error
	Load(processID string) (string, error)
}

// Generator вызывает генерацию документов
type Generator interface {
	Generate(ctx context.Context, doc generation.DocumentType, req generation.Request) (*generation.Response, error)
}

// Options зависимости сессии
type Options struct {
	ProcessID     string
	Tree          *config.TreeConfig
	Inventory     inventory.List
	Field         Field
	Drafts        *storage.DraftCache
	Generator     Generator
	Notes         snapshot.NoteStore
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Clock         func() time.Time
	AutosaveDelay time.Duration
}
