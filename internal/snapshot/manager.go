// Package snapshot превращает области ответов в карточки процессов и обратно.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/eligibility"
	"nowlex-decision-tree/internal/logging"
	"nowlex-decision-tree/internal/storage"
	"nowlex-decision-tree/internal/tree"
)

// NoteStore хранит свободный текст, где могут упоминаться карточки
type NoteStore interface {
	Tombstone(ctx context.Context, label string) error
}

// Manager замораживает и восстанавливает карточки
type Manager struct {
	cfg    *config.TreeConfig
	rules  config.Rules
	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewManager создает менеджер снимков
func NewManager(cfg *config.TreeConfig, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		rules:  config.DefaultRules(),
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: logging.OrDefault(logger),
	}
	if cfg != nil {
		m.rules = cfg.Rules
	}
	return m
}

// WithClock подменяет часы для тестов
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithIDs подменяет генератор идентификаторов карточек
func (m *Manager) WithIDs(newID func() string) *Manager {
	m.newID = newID
	return m
}

// Freeze превращает область ответов в карточку. prior: ранее
// сохраненная версия той же карточки или nil. Контракты карточки
// объединяются с выбором монитории области; выбор из ответов prior не
// переносится. Карточка не добавляется в хранилище.
func (m *Manager) Freeze(store *storage.ResponseStore, scope *storage.Scope, prior *storage.ProcessCard) *storage.ProcessCard {
	card := m.freeze(scope, prior)
	m.assignNJ(store, card)
	return card
}

func (m *Manager) freeze(scope *storage.Scope, prior *storage.ProcessCard) *storage.ProcessCard {
	now := m.clock().UTC()

	var card *storage.ProcessCard
	if prior != nil {
		card = prior.Clone()
	} else {
		card = &storage.ProcessCard{
			ID:           m.newID(),
			ReviewStatus: storage.ReviewPending,
			SavedAt:      now,
		}
	}
	if card.ID == "" {
		card.ID = m.newID()
	}
	if card.SavedAt.IsZero() {
		card.SavedAt = now
	}
	card.UpdatedAt = now

	answers := storage.NewScope()
	reachable := m.cfg.ReachableKeys(m.cfg.Root)
	for k, v := range scope.Answers {
		if reachable[k] {
			answers.Answers[k] = v
		}
	}
	for k, v := range scope.ContractStatus {
		answers.ContractStatus[k] = v
	}

	ids := append([]string{}, scope.MonitoriaContracts...)
	if prior != nil {
		ids = append(ids, prior.Contracts...)
	}
	answers.SetMonitoriaContracts(ids)
	card.Contracts = append([]string{}, answers.MonitoriaContracts...)
	card.TreeAnswers = answers
	if card.GeneralSnapshot && !eligibility.IsEligibleForMonitoria(card, m.rules) {
		card.GeneralSnapshot = false
	}

	raw, _ := scope.Get(m.rules.CaseNumberKey)
	if raw == "" && prior != nil && prior.CaseNumber != nil {
		raw = *prior.CaseNumber
	}
	if formatted := FormatCaseNumber(raw); formatted != "" {
		card.CaseNumber = &formatted
		card.NonJudicialized = false
	} else {
		card.CaseNumber = nil
		card.NonJudicialized = m.rules.IsNo(answers.Answers[m.rules.JudicializedKey])
	}
	if !card.NonJudicialized {
		card.NJIndex = 0
	}
	return card
}

// assignNJ присваивает наименьший свободный номер #NJ при первой заморозке
func (m *Manager) assignNJ(store *storage.ResponseStore, card *storage.ProcessCard) {
	if !card.NonJudicialized || card.NJIndex > 0 {
		return
	}
	card.NJIndex = NextNJIndex(store, card.ID)
	m.logger.Debug("присвоена метка", "card", card.ID, "label", card.Label())
}

// NextNJIndex возвращает наименьший номер #NJ, не занятый другими карточками
func NextNJIndex(store *storage.ResponseStore, exceptID string) int {
	used := make(map[int]bool)
	mark := func(c *storage.ProcessCard) {
		if c != nil && c.ID != exceptID && c.NJIndex > 0 {
			used[c.NJIndex] = true
		}
	}
	for _, c := range store.SavedCards {
		mark(c)
	}
	for _, c := range store.Cards {
		mark(c)
	}
	mark(store.GeneralSnapshot)

	n := 1
	for used[n] {
		n++
	}
	return n
}

// Restore открывает сохраненную карточку i для редактирования в корневой
// области. engine должен работать над store.Root() и брать карточки из
// store.CardScopes(). Индекс вне диапазона игнорируется с предупреждением.
func (m *Manager) Restore(store *storage.ResponseStore, i int, engine *tree.Engine) bool {
	if i < 0 || i >= len(store.SavedCards) {
		m.logger.Warn("карточка для редактирования не найдена", "index", i, "saved", len(store.SavedCards))
		return false
	}
	id := store.SavedCards[i].ID

	// корень будет очищен: несохраненный общий снимок становится карточкой
	m.promote(store, id)
	store.GeneralSnapshot = nil
	i = indexOf(store.SavedCards, id)

	card := store.SavedCards[i]
	root := store.Root()

	for key := range root.Answers {
		if _, ok := m.cfg.Question(key); ok {
			root.Delete(key)
		}
	}
	root.Delete(m.rules.CaseNumberKey)
	root.ResetMonitoria()

	subtree := m.cfg.CardSubtreeKeys()
	rootAnswers := make(map[string]string)
	cardAnswers := make(map[string]string)
	for k, v := range card.TreeAnswers.Answers {
		if subtree[k] {
			cardAnswers[k] = v
		} else {
			rootAnswers[k] = v
		}
	}

	store.Cards = []*storage.ProcessCard{}
	if len(cardAnswers) > 0 {
		active := card.Clone()
		active.TreeAnswers = storage.NewScope()
		// контракты карточки переходят в выбор монитории корня
		active.Contracts = nil
		store.Cards = append(store.Cards, active)
	} else if card.CaseNumber != nil {
		root.Set(m.rules.CaseNumberKey, *card.CaseNumber)
	}

	engine.Start()
	m.apply(engine, rootAnswers)
	if len(cardAnswers) > 0 {
		if child, ok := engine.CardEngine(0); ok {
			m.apply(child, cardAnswers)
		} else {
			m.logger.Warn("ответы связанного процесса не восстановлены", "card", card.ID)
		}
	}

	// Выбор монитории восстанавливается после ответов: изменение ответов его сбрасывает
	root.SetMonitoriaContracts(card.AllContracts())
	store.EditingIndex = &i
	engine.Start()
	return true
}

// apply применяет ответы по возрастанию ранга, чтобы каждая ветка
// успела отрисоваться до того, как в нее записывается значение
func (m *Manager) apply(engine *tree.Engine, answers map[string]string) {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		ra, _ := m.cfg.Rank(keys[a])
		rb, _ := m.cfg.Rank(keys[b])
		if ra != rb {
			return ra < rb
		}
		return keys[a] < keys[b]
	})

	for _, k := range keys {
		if !engine.Rendered(k) {
			m.logger.Debug("ответ вне текущей ветки пропущен", "key", k)
			continue
		}
		if err := engine.Change(k, answers[k]); err != nil {
			m.logger.Warn("ответ не восстановлен", "key", k, "error", err)
		}
	}
}

// RefreshGeneralSnapshot синхронизирует общий снимок с корневой областью.
// Снимок существует, пока дело не юридизировано, монитория предложена
// и выбран хотя бы один контракт.
func (m *Manager) RefreshGeneralSnapshot(store *storage.ResponseStore) {
	if _, editing := store.Editing(); editing {
		return
	}
	root := store.Root()
	judicialized, _ := root.Get(m.rules.JudicializedKey)
	propose, _ := root.Get(m.rules.ProposeMonitoriaKey)
	if !m.rules.IsNo(judicialized) || !m.rules.IsYes(propose) || len(root.MonitoriaContracts) == 0 {
		if store.GeneralSnapshot != nil {
			m.logger.Debug("общий снимок удален")
		}
		store.GeneralSnapshot = nil
		return
	}

	prior := store.GeneralSnapshot
	snap := m.freeze(root, nil)
	if prior != nil {
		snap.ID = prior.ID
		snap.SavedAt = prior.SavedAt
	}
	// выбор монитории берется только из текущей корневой области
	snap.Contracts = append([]string{}, root.MonitoriaContracts...)
	snap.TreeAnswers.SetMonitoriaContracts(root.MonitoriaContracts)
	snap.GeneralSnapshot = true
	store.GeneralSnapshot = snap
}

// PromoteGeneralSnapshotIfEligible сохраняет непустой общий снимок как
// карточку с general_snapshot, заменяя предыдущую такую карточку
func (m *Manager) PromoteGeneralSnapshotIfEligible(store *storage.ResponseStore) bool {
	return m.promote(store, "")
}

// promote продвигает общий снимок; карточка keepID не удаляется, даже если
// она сама получена из общего снимка
func (m *Manager) promote(store *storage.ResponseStore, keepID string) bool {
	snap := store.GeneralSnapshot
	if snap == nil || len(snap.AllContracts()) == 0 {
		return false
	}

	kept := store.SavedCards[:0]
	for _, c := range store.SavedCards {
		if !c.GeneralSnapshot || c.ID == keepID {
			kept = append(kept, c)
		}
	}
	store.SavedCards = kept

	card := snap.Clone()
	card.GeneralSnapshot = true
	card.UpdatedAt = m.clock().UTC()
	store.GeneralSnapshot = nil
	m.assignNJ(store, card)
	store.SavedCards = append(store.SavedCards, card)

	m.logger.Info("общий снимок сохранен как карточка", "card", card.ID, "contracts", len(card.Contracts))
	return true
}

// Conclude замораживает текущий анализ в сохраненные карточки и очищает
// корневую область. В режиме редактирования первая карточка заменяет
// редактируемую.
func (m *Manager) Conclude(store *storage.ResponseStore) []*storage.ProcessCard {
	root := store.Root()
	editing, isEditing := store.Editing()
	if isEditing && editing >= len(store.SavedCards) {
		isEditing = false
	}
	wasEditing := isEditing

	place := func(card *storage.ProcessCard) {
		if isEditing {
			store.SavedCards[editing] = card
			isEditing = false
			store.EditingIndex = nil
			return
		}
		store.SavedCards = append(store.SavedCards, card)
	}

	var frozen []*storage.ProcessCard
	rootTree := m.treeScope(root)
	switch {
	case len(store.Cards) > 0:
		for _, active := range store.Cards {
			card := m.Freeze(store, storage.MergeScopes(rootTree, active.TreeAnswers), active)
			place(card)
			frozen = append(frozen, card)
		}
	case isEditing:
		prior := store.SavedCards[editing].Clone()
		// Restore перенес контракты карточки в корень
		prior.Contracts = nil
		card := m.Freeze(store, root, prior)
		place(card)
		frozen = append(frozen, card)
	case store.GeneralSnapshot != nil:
		// общий снимок продвигается ниже
	case len(rootTree.Answers) > 0:
		card := m.Freeze(store, root, nil)
		place(card)
		frozen = append(frozen, card)
	}

	if !wasEditing {
		m.PromoteGeneralSnapshotIfEligible(store)
	}
	store.ResetRoot()
	store.GeneralSnapshot = nil
	store.UpdatedAt = m.clock().UTC()

	m.logger.Info("анализ завершен", "cards", len(frozen), "saved", len(store.SavedCards))
	return frozen
}

// StartNewAnalysis сохраняет общий снимок и очищает корневую область
func (m *Manager) StartNewAnalysis(store *storage.ResponseStore) {
	m.PromoteGeneralSnapshotIfEligible(store)
	store.ResetRoot()
	store.GeneralSnapshot = nil
	store.UpdatedAt = m.clock().UTC()
}

// DeleteCard удаляет сохраненную карточку и помечает упоминания ее метки
// в заметках. Индекс вне диапазона игнорируется с предупреждением.
func (m *Manager) DeleteCard(ctx context.Context, store *storage.ResponseStore, i int, notes NoteStore) (bool, error) {
	if i < 0 || i >= len(store.SavedCards) {
		m.logger.Warn("карточка для удаления не найдена", "index", i, "saved", len(store.SavedCards))
		return false, nil
	}
	card := store.SavedCards[i]
	store.SavedCards = append(store.SavedCards[:i], store.SavedCards[i+1:]...)

	if editing, ok := store.Editing(); ok {
		switch {
		case editing == i:
			store.EditingIndex = nil
		case editing > i:
			editing--
			store.EditingIndex = &editing
		}
	}

	selected := store.SelectedSummaryCards[:0]
	for _, id := range store.SelectedSummaryCards {
		if id != card.ID {
			selected = append(selected, id)
		}
	}
	store.SelectedSummaryCards = selected
	store.UpdatedAt = m.clock().UTC()

	label := card.Label()
	if notes == nil || label == "" {
		return true, nil
	}
	if err := notes.Tombstone(ctx, label); err != nil {
		return true, fmt.Errorf("ошибка пометки заметок для %s: %w", label, err)
	}
	return true, nil
}

// treeScope возвращает копию области только с ответами на вопросы дерева
func (m *Manager) treeScope(scope *storage.Scope) *storage.Scope {
	out := scope.Clone()
	for k := range out.Answers {
		if _, ok := m.cfg.Question(k); !ok {
			delete(out.Answers, k)
		}
	}
	return out
}

// CardNotes помечает упоминания удаленных карточек в заметках супервизора
// остальных карточек
type CardNotes struct {
	Store *storage.ResponseStore
}

// Tombstone зачеркивает метку в заметках
func (n CardNotes) Tombstone(_ context.Context, label string) error {
	mark := "~~" + label + "~~"
	for _, c := range n.Store.SavedCards {
		if strings.Contains(c.SupervisorNote, label) && !strings.Contains(c.SupervisorNote, mark) {
			c.SupervisorNote = strings.ReplaceAll(c.SupervisorNote, label, mark)
		}
	}
	return nil
}

func indexOf(cards []*storage.ProcessCard, id string) int {
	for i, c := range cards {
		if c.ID == id {
			return i
		}
	}
	return -1
}
