// Package tree обходит граф вопросов дерева решений поверх одной области ответов.
//
// Движок отрисовывает цепочку вопросов от корня, вычисляет следующий
// вопрос по текущему ответу и удаляет устаревшие ответы, когда ответ
// выше по цепочке меняется. Все состояние движка выводится из области
// ответов, поэтому Start можно вызывать повторно в любой момент.
package tree

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/inventory"
	"nowlex-decision-tree/internal/logging"
	"nowlex-decision-tree/internal/storage"
)

// DateLayout формат ответов на вопросы типа date
const DateLayout = "2006-01-02"

var (
	ErrUnknownQuestion     = errors.New("вопрос не найден")
	ErrNotRendered         = errors.New("вопрос не отрисован")
	ErrNotAnswerable       = errors.New("вопрос не принимает ответ")
	ErrInvalidOption       = errors.New("вариант ответа не найден")
	ErrOptionDisabled      = errors.New("вариант ответа недоступен")
	ErrInvalidDate         = errors.New("некорректная дата")
	ErrContractUnavailable = errors.New("контракт недоступен для выбора")
)

// Типы узлов, которые существуют только при отрисовке
const (
	KindNotice config.Kind = "notice"
	KindError  config.Kind = "error"
)

// OptionView представляет вариант ответа при отрисовке
type OptionView struct {
	Label    string
	Next     string
	Disabled bool
	Reason   string
}

// Node представляет отрисованный вопрос
type Node struct {
	Key       string
	Kind      config.Kind
	Rank      int
	Text      string
	Value     string
	Answered  bool
	ReadOnly  bool
	Options   []OptionView
	Contracts inventory.List
	Selected  []string
	CardCount int
}

// Option настраивает движок
type Option func(*Engine)

// WithRoot задает вопрос, с которого начинается отрисовка
func WithRoot(key string) Option {
	return func(e *Engine) { e.root = key }
}

// WithInventory задает инвентарь контрактов для выбора монитории
func WithInventory(list inventory.List) Option {
	return func(e *Engine) { e.inventory = list }
}

// WithCards задает источник областей карточек связанных процессов
func WithCards(cards func() []*storage.Scope) Option {
	return func(e *Engine) { e.cards = cards }
}

// WithStatusScope задает область, где хранятся отметки контрактов
func WithStatusScope(s *storage.Scope) Option {
	return func(e *Engine) { e.status = s }
}

// WithClock подменяет часы для детерминированных тестов
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger задает логгер
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine отрисовывает дерево решений поверх одной области ответов
type Engine struct {
	cfg       *config.TreeConfig
	scope     *storage.Scope
	status    *storage.Scope
	root      string
	inventory inventory.List
	cards     func() []*storage.Scope
	clock     func() time.Time
	logger    *slog.Logger

	nodes       []*Node
	disabled    map[string]map[string]string
	cardEngines []*Engine
}

// New создает движок. При cfg == nil движок отключен и отрисовывает
// только статическое сообщение об ошибке.
func New(cfg *config.TreeConfig, scope *storage.Scope, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		scope:    scope,
		clock:    time.Now,
		disabled: make(map[string]map[string]string),
	}
	if cfg != nil {
		e.root = cfg.Root
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scope == nil {
		e.scope = storage.NewScope()
	}
	if e.status == nil {
		e.status = e.scope
	}
	e.logger = logging.OrDefault(e.logger)
	return e
}

// Enabled сообщает, загружена ли конфигурация
func (e *Engine) Enabled() bool {
	return e.cfg != nil
}

func (e *Engine) Config() *config.TreeConfig { return e.cfg }
func (e *Engine) Scope() *storage.Scope      { return e.scope }
func (e *Engine) RootKey() string            { return e.root }

// Start заново отрисовывает цепочку от корня по текущим ответам
func (e *Engine) Start() {
	e.nodes = nil
	if !e.Enabled() {
		e.nodes = []*Node{{
			Kind:     KindError,
			Text:     "Não foi possível carregar a árvore de decisão.",
			ReadOnly: true,
		}}
		return
	}
	e.render(e.root)
	e.evaluatePrescription()
}

// Render отрисовывает цепочку начиная с key; неизвестный ключ игнорируется
func (e *Engine) Render(key string) {
	if !e.Enabled() {
		return
	}
	e.render(key)
	e.evaluatePrescription()
}

func (e *Engine) render(key string) {
	q, ok := e.cfg.Question(key)
	if !ok || e.indexOf(key) >= 0 {
		return
	}

	node := e.newNode(q)
	e.nodes = append(e.nodes, node)

	switch q.Kind {
	case config.KindIndicatorBlock:
		e.render(q.Next)
	case config.KindLinkedProcessEditor:
		e.renderCards(node, q)
	case config.KindContractMultiselect:
		node.Contracts = e.AvailableContracts()
		node.Selected = append([]string{}, e.scope.MonitoriaContracts...)
	case config.KindChoice, config.KindText, config.KindLongText, config.KindDate:
		if v, ok := e.scope.Get(key); ok && v != "" {
			node.Value = v
			node.Answered = true
			e.render(q.SuccessorOf(v))
		}
	default:
		e.logger.Warn("неизвестный тип вопроса", "key", key, "kind", q.Kind)
	}
}

func (e *Engine) newNode(q *config.Question) *Node {
	node := &Node{Key: q.Key, Kind: q.Kind, Rank: q.Rank, Text: q.Text}
	for _, opt := range q.Options {
		view := OptionView{Label: opt.Label, Next: opt.Next}
		if reason, ok := e.DisabledReason(q.Key, opt.Label); ok {
			view.Disabled = true
			view.Reason = reason
		}
		node.Options = append(node.Options, view)
	}
	return node
}

// renderCards создает по дочернему движку на каждую карточку; каждая
// карточка работает над собственной изолированной областью
func (e *Engine) renderCards(node *Node, q *config.Question) {
	var scopes []*storage.Scope
	if e.cards != nil {
		scopes = e.cards()
	}

	engines := make([]*Engine, 0, len(scopes))
	for i, s := range scopes {
		var child *Engine
		if i < len(e.cardEngines) && e.cardEngines[i].scope == s {
			child = e.cardEngines[i]
		} else {
			child = New(e.cfg, s,
				WithRoot(q.Next),
				WithInventory(e.inventory),
				WithStatusScope(e.status),
				WithClock(e.clock),
				WithLogger(e.logger),
			)
		}
		child.Start()
		engines = append(engines, child)
	}
	e.cardEngines = engines
	node.CardCount = len(engines)
}

// CardEngine возвращает движок карточки с индексом i
func (e *Engine) CardEngine(i int) (*Engine, bool) {
	if i < 0 || i >= len(e.cardEngines) {
		return nil, false
	}
	return e.cardEngines[i], true
}

// Change записывает ответ, удаляет устаревшие ответы ниже по дереву
// и продолжает отрисовку с преемника
func (e *Engine) Change(key, value string) error {
	if !e.Enabled() {
		return config.ErrConfigUnavailable
	}
	q, ok := e.cfg.Question(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, key)
	}
	if !q.Kind.IsInput() {
		return fmt.Errorf("%w: %s (%s)", ErrNotAnswerable, key, q.Kind)
	}
	idx := e.indexOf(key)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotRendered, key)
	}

	value, err := e.canonical(q, value)
	if err != nil {
		return err
	}

	if prev, had := e.scope.Get(key); had && prev == value {
		return nil
	}

	if value == "" {
		e.scope.Delete(key)
	} else {
		e.scope.Set(key, value)
	}
	e.pruneDescendants(key)

	node := e.nodes[idx]
	node.Value = value
	node.Answered = value != ""
	if value != "" {
		e.render(q.SuccessorOf(value))
	}
	e.evaluatePrescription()
	return nil
}

// canonical проверяет значение и приводит метку варианта к форме из конфигурации
func (e *Engine) canonical(q *config.Question, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	switch q.Kind {
	case config.KindChoice:
		opt, ok := q.MatchOption(value)
		if !ok {
			return "", fmt.Errorf("%w: %q для %s", ErrInvalidOption, value, q.Key)
		}
		if reason, off := e.DisabledReason(q.Key, opt.Label); off {
			return "", fmt.Errorf("%w: %s", ErrOptionDisabled, reason)
		}
		return opt.Label, nil
	case config.KindDate:
		if _, err := time.Parse(DateLayout, value); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDate, value)
		}
	}
	return value, nil
}

// SelectContracts записывает выбор контрактов для монитории
func (e *Engine) SelectContracts(key string, ids []string) error {
	if !e.Enabled() {
		return config.ErrConfigUnavailable
	}
	q, ok := e.cfg.Question(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, key)
	}
	if q.Kind != config.KindContractMultiselect {
		return fmt.Errorf("%w: %s (%s)", ErrNotAnswerable, key, q.Kind)
	}
	idx := e.indexOf(key)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotRendered, key)
	}

	available := make(map[string]bool)
	for _, c := range e.AvailableContracts() {
		available[c.ID] = true
	}
	for _, id := range ids {
		if !available[id] {
			return fmt.Errorf("%w: %s", ErrContractUnavailable, id)
		}
	}

	e.scope.SetMonitoriaContracts(ids)
	e.nodes[idx].Selected = append([]string{}, e.scope.MonitoriaContracts...)
	return nil
}

// AvailableContracts возвращает контракты, отмеченные как выбранные
func (e *Engine) AvailableContracts() inventory.List {
	return e.inventory.Filter(func(c inventory.Contract) bool {
		return e.status.ContractStatus[c.ID].Selected
	})
}

// pruneDescendants удаляет узлы и ответы с рангом выше ранга changedKey
func (e *Engine) pruneDescendants(changedKey string) {
	rank, ok := e.cfg.Rank(changedKey)
	if !ok {
		return
	}

	kept := e.nodes[:0]
	for _, n := range e.nodes {
		if n.Rank > rank {
			if n.Kind == config.KindLinkedProcessEditor {
				e.cardEngines = nil
			}
			continue
		}
		kept = append(kept, n)
	}
	e.nodes = kept

	for key := range e.scope.Answers {
		if r, ok := e.cfg.Rank(key); ok && r > rank {
			e.scope.Delete(key)
		}
	}

	// Выбор контрактов принадлежит вопросу contract-multiselect
	for _, q := range e.cfg.Questions {
		if q.Kind == config.KindContractMultiselect && q.Rank > rank {
			e.scope.ResetMonitoria()
			break
		}
	}
}

// Nodes возвращает копию текущей отрисованной цепочки
func (e *Engine) Nodes() []Node {
	out := make([]Node, len(e.nodes))
	for i, n := range e.nodes {
		out[i] = *n
	}
	return out
}

// Node возвращает отрисованный узел по ключу
func (e *Engine) Node(key string) (Node, bool) {
	idx := e.indexOf(key)
	if idx < 0 {
		return Node{}, false
	}
	return *e.nodes[idx], true
}

// Rendered сообщает, отрисован ли вопрос
func (e *Engine) Rendered(key string) bool {
	return e.indexOf(key) >= 0
}

func (e *Engine) indexOf(key string) int {
	for i, n := range e.nodes {
		if n.Key == key && n.Kind != KindNotice {
			return i
		}
	}
	return -1
}
