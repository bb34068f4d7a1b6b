// Package session связывает дерево решений, снимки, супервизию и генерацию
// документов в одну сессию анализа процесса.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"nowlex-decision-tree/internal/autosave"
	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/eligibility"
	"nowlex-decision-tree/internal/generation"
	"nowlex-decision-tree/internal/inventory"
	"nowlex-decision-tree/internal/logging"
	"nowlex-decision-tree/internal/metrics"
	"nowlex-decision-tree/internal/snapshot"
	"nowlex-decision-tree/internal/storage"
	"nowlex-decision-tree/internal/supervision"
	"nowlex-decision-tree/internal/tree"
)

// Session владеет хранилищем ответов одного процесса
type Session struct {
	mu sync.Mutex

	processID string
	cfg       *config.TreeConfig
	rules     config.Rules
	inventory inventory.List

	store     *storage.ResponseStore
	engine    *tree.Engine
	snapshots *snapshot.Manager
	workflow  *supervision.Workflow
	saver     *autosave.Saver

	field     Field
	drafts    *storage.DraftCache
	generator Generator
	notes     snapshot.NoteStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     func() time.Time

	// activated отмечает явный выбор карточки или контракта в этой сессии
	activated bool
}

// Open загружает состояние процесса и создает сессию
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.ProcessID == "" {
		return nil, fmt.Errorf("не указан идентификатор процесса")
	}
	logger := logging.OrDefault(opts.Logger).With("process", opts.ProcessID)
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	delay := opts.AutosaveDelay
	if delay <= 0 {
		delay = 400 * time.Millisecond
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	var text string
	if opts.Field != nil {
		var err error
		text, err = opts.Field.Load(opts.ProcessID)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки состояния процесса: %w", err)
		}
	}

	var store *storage.ResponseStore
	if opts.Drafts != nil {
		store = opts.Drafts.LoadWithDraft(ctx, opts.ProcessID, text, logger)
	} else {
		store = storage.Deserialize(text, logger)
	}

	rules := config.DefaultRules()
	if opts.Tree != nil {
		rules = opts.Tree.Rules
	}
	if n := storage.MigrateLegacy(store, rules, logger); n > 0 {
		logger.Info("старые карточки дополнены", "count", n)
	}

	s := &Session{
		processID: opts.ProcessID,
		cfg:       opts.Tree,
		rules:     rules,
		inventory: opts.Inventory,
		store:     store,
		field:     opts.Field,
		drafts:    opts.Drafts,
		generator: opts.Generator,
		notes:     opts.Notes,
		metrics:   m,
		logger:    logger,
		clock:     clock,
	}
	if s.notes == nil {
		s.notes = snapshot.CardNotes{Store: store}
	}

	s.engine = tree.New(opts.Tree, store.Root(),
		tree.WithCards(store.CardScopes),
		tree.WithInventory(opts.Inventory),
		tree.WithClock(clock),
		tree.WithLogger(logger),
	)
	s.snapshots = snapshot.NewManager(opts.Tree, logger).WithClock(clock)
	s.workflow = supervision.NewWorkflow(logger).WithClock(clock)
	s.saver = autosave.New(delay, s.persist, logger)

	s.engine.Start()
	if opts.Tree == nil {
		logger.Error("конфигурация дерева недоступна, анкета отключена")
	}
	return s, nil
}

// ProcessID возвращает идентификатор процесса
func (s *Session) ProcessID() string { return s.processID }

// Workflow возвращает workflow супервизии для подписки на изменения карточек
func (s *Session) Workflow() *supervision.Workflow { return s.workflow }

// Metrics возвращает счетчики сессии
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }

// State возвращает текущее состояние сессии
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, editing := s.store.Editing(); editing {
		return StateEditing
	}
	if len(s.store.Answers) > 0 || len(s.store.Cards) > 0 {
		return StateAnalysing
	}
	return StateIdle
}

// Nodes возвращает отрисованную цепочку корневой области
func (s *Session) Nodes() []tree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Nodes()
}

// CardNodes возвращает отрисованную цепочку карточки i
func (s *Session) CardNodes(i int) ([]tree.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.engine.CardEngine(i)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCard, i)
	}
	return child.Nodes(), nil
}

// Snapshot возвращает копию хранилища ответов
func (s *Session) Snapshot() (*storage.ResponseStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, err := storage.Serialize(s.store)
	if err != nil {
		return nil, err
	}
	return storage.Deserialize(text, s.logger), nil
}

// Answer записывает ответ в корневой области
func (s *Session) Answer(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInput(key, value); err != nil {
		return err
	}
	if err := s.engine.Change(key, value); err != nil {
		return err
	}
	s.metrics.IncrementAnswers()
	s.changed()
	return nil
}

// SelectContracts записывает выбор контрактов для монитории
func (s *Session) SelectContracts(key string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.SelectContracts(key, ids); err != nil {
		return err
	}
	s.activated = true
	s.changed()
	return nil
}

// SetContractStatus отмечает контракт в инвентаре
func (s *Session) SetContractStatus(id string, selected, paidOff bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inventory.Lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	s.store.ContractStatus[id] = storage.ContractStatus{Selected: selected, PaidOff: paidOff}

	if !selected {
		var kept []string
		for _, c := range s.store.MonitoriaContracts {
			if c != id {
				kept = append(kept, c)
			}
		}
		s.store.SetMonitoriaContracts(kept)
	}
	s.activated = true
	s.engine.Start()
	s.changed()
	return nil
}

// AddCard добавляет карточку связанного процесса и возвращает ее индекс
func (s *Session) AddCard() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editorRendered() {
		return 0, ErrEditorNotRendered
	}
	now := s.clock().UTC()
	s.store.Cards = append(s.store.Cards, &storage.ProcessCard{
		ID:           uuid.NewString(),
		TreeAnswers:  storage.NewScope(),
		ReviewStatus: storage.ReviewPending,
		UpdatedAt:    now,
	})
	s.engine.Start()
	s.changed()
	return len(s.store.Cards) - 1, nil
}

// AnswerCard записывает ответ в области карточки i
func (s *Session) AnswerCard(i int, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.engine.CardEngine(i)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCard, i)
	}
	if err := s.checkInput(key, value); err != nil {
		return err
	}
	if err := child.Change(key, value); err != nil {
		return err
	}
	s.store.Cards[i].UpdatedAt = s.clock().UTC()
	s.metrics.IncrementAnswers()
	s.changed()
	return nil
}

// SetCardCaseNumber записывает номер процесса карточки. Номер
// форматируется и сохраняется всегда; ошибка проверки только сообщается.
func (s *Session) SetCardCaseNumber(i int, input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.store.Cards) {
		return "", fmt.Errorf("%w: %d", ErrUnknownCard, i)
	}
	card := s.store.Cards[i]
	formatted := snapshot.FormatCaseNumber(input)
	if formatted == "" {
		card.CaseNumber = nil
	} else {
		card.CaseNumber = &formatted
	}
	card.UpdatedAt = s.clock().UTC()
	s.changed()
	return formatted, snapshot.ValidateCaseNumber(input)
}

// ConcludeAnalysis сохраняет текущий анализ в карточки и очищает корень
func (s *Session) ConcludeAnalysis() []*storage.ProcessCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	frozen := s.snapshots.Conclude(s.store)
	s.engine.Start()
	s.metrics.IncrementAnalysesConcluded(len(frozen))
	s.changed()
	return frozen
}

// StartNewAnalysis очищает корень, сохранив общий снимок
func (s *Session) StartNewAnalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots.StartNewAnalysis(s.store)
	s.engine.Start()
	s.changed()
}

// EditCard открывает сохраненную карточку i в корневой области.
// Одновременно редактируется не более одной карточки.
func (s *Session) EditCard(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snapshots.Restore(s.store, i, s.engine) {
		return false
	}
	s.changed()
	return true
}

// DeleteCard удаляет сохраненную карточку i
func (s *Session) DeleteCard(ctx context.Context, i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	editing, wasEditing := s.store.Editing()

	ok, err := s.snapshots.DeleteCard(ctx, s.store, i, s.notes)
	if !ok {
		return err
	}
	if wasEditing && editing == i {
		s.store.ResetRoot()
		s.engine.Start()
	}
	s.metrics.IncrementCardsDeleted()
	s.changed()
	return err
}

// ToggleSummaryCard отмечает сохраненную карточку для генерации документов
func (s *Session) ToggleSummaryCard(cardID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.savedCard(cardID) == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownCard, cardID)
	}

	selected := s.store.SelectedSummaryCards[:0]
	found := false
	for _, id := range s.store.SelectedSummaryCards {
		if id == cardID {
			found = true
			continue
		}
		selected = append(selected, id)
	}
	if !found {
		selected = append(selected, cardID)
	}
	s.store.SelectedSummaryCards = selected
	s.activated = true
	s.changed()
	return !found, nil
}

// Supervise выполняет действие супервизии над сохраненной карточкой
func (s *Session) Supervise(cardID string, action func(w *supervision.Workflow, card *storage.ProcessCard) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card := s.savedCard(cardID)
	if card == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCard, cardID)
	}
	if err := action(s.workflow, card); err != nil {
		return err
	}
	s.changed()
	return nil
}

// ReviewQueue возвращает карточки, отправленные на проверку
func (s *Session) ReviewQueue() []*storage.ProcessCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return supervision.ReviewQueue(s.store.SavedCards)
}

// Aggregate возвращает контракты, которые будут переданы в генерацию
func (s *Session) Aggregate(includeGeneral bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eligibility.AggregateContractIDs(eligibility.OptionsFromStore(s.store, includeGeneral))
}

// GenerateDocuments проверяет предусловия и запрашивает генерацию документа.
// Перед запросом отложенное сохранение выполняется немедленно.
func (s *Session) GenerateDocuments(ctx context.Context, doc generation.DocumentType, includeGeneral bool) (*generation.Response, error) {
	s.mu.Lock()
	aggregate := eligibility.AggregateContractIDs(eligibility.OptionsFromStore(s.store, includeGeneral))
	err := eligibility.CheckGeneration(aggregate, s.activated)
	s.mu.Unlock()

	if err != nil {
		s.metrics.IncrementGeneration(string(doc), false, true)
		s.logger.Warn("генерация отклонена", "document", doc, "reason", err)
		return nil, err
	}
	if s.generator == nil {
		return nil, fmt.Errorf("сервис генерации не настроен")
	}
	if err := s.Flush(ctx); err != nil {
		return nil, fmt.Errorf("ошибка сохранения перед генерацией: %w", err)
	}

	resp, err := s.generator.Generate(ctx, doc, generation.Request{ProcessID: s.processID, Contracts: aggregate})
	s.metrics.IncrementGeneration(string(doc), err == nil, false)
	if err != nil {
		return resp, err
	}
	s.logger.Info("документы сгенерированы", "document", doc, "contracts", len(aggregate))
	return resp, nil
}

// Flush немедленно сохраняет отложенные изменения
func (s *Session) Flush(ctx context.Context) error {
	return s.saver.Flush(ctx)
}

// Close сохраняет изменения и отключает автосохранение
func (s *Session) Close(ctx context.Context) error {
	return s.saver.Stop(ctx)
}

func (s *Session) changed() {
	s.snapshots.RefreshGeneralSnapshot(s.store)
	s.store.UpdatedAt = s.clock().UTC()
	s.saver.Trigger()
}

func (s *Session) persist(ctx context.Context) error {
	s.mu.Lock()
	if err := storage.Validate(s.store); err != nil {
		s.logger.Warn("состояние не прошло проверку", "error", err)
	}
	text, err := storage.Serialize(s.store)
	savedAt := s.store.UpdatedAt
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ошибка сериализации состояния: %w", err)
	}

	if s.drafts != nil {
		if err := s.drafts.Put(ctx, storage.Draft{ProcessID: s.processID, Text: text, SavedAt: savedAt}); err != nil {
			s.logger.Warn("черновик не сохранен", "error", err)
		}
	}
	if s.field != nil {
		if err := s.field.Save(s.processID, text); err != nil {
			return fmt.Errorf("ошибка сохранения состояния: %w", err)
		}
	}
	s.logger.Debug("состояние сохранено", "bytes", len(text))
	return nil
}

func (s *Session) checkInput(key, value string) error {
	q, ok := s.cfg.Question(key)
	if !ok {
		return nil
	}
	limit := 0
	switch q.Kind {
	case config.KindText:
		limit = maxTextLength
	case config.KindLongText:
		limit = maxLongTextLength
	}
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		return fmt.Errorf("%w: %s (максимум %d символов)", ErrInputTooLong, key, limit)
	}
	return nil
}

func (s *Session) editorRendered() bool {
	for _, n := range s.engine.Nodes() {
		if n.Kind == config.KindLinkedProcessEditor {
			return true
		}
	}
	return false
}

func (s *Session) savedCard(id string) *storage.ProcessCard {
	for _, c := range s.store.SavedCards {
		if c.ID == id {
			return c
		}
	}
	return nil
}
