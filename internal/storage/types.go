package storage

import (
	"fmt"
	"sort"
	"time"
)

// ContractStatus представляет отметки контракта в инвентаре
type ContractStatus struct {
	Selected bool `json:"selected"`
	PaidOff  bool `json:"quitado"`
}

// Scope представляет одну область ответов: корневую или карточки.
// Корень и карточки используют один и тот же тип.
type Scope struct {
	Answers            map[string]string         `json:"answers"`
	MonitoriaContracts []string                  `json:"contratos_para_monitoria"`
	MonitoriaEnabled   bool                      `json:"ativar_botao_monitoria"`
	ContractStatus     map[string]ContractStatus `json:"contratos_status"`
}

// NewScope создает пустую область ответов
func NewScope() *Scope {
	return &Scope{
		Answers:            make(map[string]string),
		MonitoriaContracts: []string{},
		ContractStatus:     make(map[string]ContractStatus),
	}
}

func (s *Scope) ensure() {
	if s.Answers == nil {
		s.Answers = make(map[string]string)
	}
	if s.ContractStatus == nil {
		s.ContractStatus = make(map[string]ContractStatus)
	}
	if s.MonitoriaContracts == nil {
		s.MonitoriaContracts = []string{}
	}
}

// Get возвращает ответ по ключу
func (s *Scope) Get(key string) (string, bool) {
	if s == nil || s.Answers == nil {
		return "", false
	}
	v, ok := s.Answers[key]
	return v, ok
}

// Set записывает ответ
func (s *Scope) Set(key, value string) {
	s.ensure()
	s.Answers[key] = value
}

// Delete удаляет ответ
func (s *Scope) Delete(key string) {
	if s.Answers != nil {
		delete(s.Answers, key)
	}
}

// SetMonitoriaContracts заменяет выбор контрактов для монитории
func (s *Scope) SetMonitoriaContracts(ids []string) {
	s.MonitoriaContracts = UniqueIDs(ids)
	s.MonitoriaEnabled = len(s.MonitoriaContracts) > 0
}

// ResetMonitoria сбрасывает выбор контрактов для монитории
func (s *Scope) ResetMonitoria() {
	s.MonitoriaContracts = []string{}
	s.MonitoriaEnabled = false
}

// Clone возвращает глубокую копию области
func (s *Scope) Clone() *Scope {
	if s == nil {
		return NewScope()
	}
	c := NewScope()
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	for k, v := range s.ContractStatus {
		c.ContractStatus[k] = v
	}
	c.MonitoriaContracts = append(c.MonitoriaContracts, s.MonitoriaContracts...)
	c.MonitoriaEnabled = s.MonitoriaEnabled
	return c
}

// MergeScopes объединяет области; ответы последующих областей имеют приоритет
func MergeScopes(scopes ...*Scope) *Scope {
	merged := NewScope()
	var ids []string
	for _, s := range scopes {
		if s == nil {
			continue
		}
		for k, v := range s.Answers {
			merged.Answers[k] = v
		}
		for k, v := range s.ContractStatus {
			merged.ContractStatus[k] = v
		}
		ids = append(ids, s.MonitoriaContracts...)
	}
	merged.SetMonitoriaContracts(ids)
	return merged
}

// ReviewStatus представляет статус супервизии
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Blocked представляет блокировку (barrado) карточки
type Blocked struct {
	Active     bool   `json:"ativo"`
	StartDate  string `json:"inicio,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ReturnDate string `json:"retorno,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ProcessCard представляет анализ одного (связанного) процесса
type ProcessCard struct {
	ID                         string       `json:"id" validate:"required"`
	CaseNumber                 *string      `json:"cnj"`
	NonJudicialized            bool         `json:"nao_judicializado"`
	NJIndex                    int          `json:"nj_index,omitempty" validate:"gte=0"`
	Contracts                  []string     `json:"contratos" validate:"unique"`
	TreeAnswers                *Scope       `json:"tree_answers"`
	IsUnderReview              bool         `json:"supervisionado"`
	ReviewStatus               ReviewStatus `json:"supervisor_status" validate:"omitempty,oneof=pending approved rejected"`
	AwaitingReviewConfirmation bool         `json:"awaiting_supervision_confirm"`
	Blocked                    Blocked      `json:"barrado"`
	SupervisorNote             string       `json:"supervisor_observacoes,omitempty"`
	SavedAt                    time.Time    `json:"saved_at"`
	UpdatedAt                  time.Time    `json:"updated_at"`
	GeneralSnapshot            bool         `json:"general_snapshot"`
}

// NJLabel формирует метку неюридизированной карточки
func NJLabel(n int) string {
	return fmt.Sprintf("#NJ%d", n)
}

// Label возвращает номер процесса или метку #NJ
func (c *ProcessCard) Label() string {
	if c.CaseNumber != nil && *c.CaseNumber != "" {
		return *c.CaseNumber
	}
	if c.NonJudicialized && c.NJIndex > 0 {
		return NJLabel(c.NJIndex)
	}
	return ""
}

// Status возвращает статус супервизии со значением по умолчанию
func (c *ProcessCard) Status() ReviewStatus {
	if c.ReviewStatus == "" {
		return ReviewPending
	}
	return c.ReviewStatus
}

// AllContracts объединяет контракты карточки и выбор монитории в ее ответах
func (c *ProcessCard) AllContracts() []string {
	ids := append([]string{}, c.Contracts...)
	if c.TreeAnswers != nil {
		ids = append(ids, c.TreeAnswers.MonitoriaContracts...)
	}
	return UniqueIDs(ids)
}

// Answer возвращает зафиксированный ответ карточки
func (c *ProcessCard) Answer(key string) string {
	v, _ := c.TreeAnswers.Get(key)
	return v
}

// Clone возвращает глубокую копию карточки
func (c *ProcessCard) Clone() *ProcessCard {
	cp := *c
	if c.CaseNumber != nil {
		n := *c.CaseNumber
		cp.CaseNumber = &n
	}
	cp.Contracts = append([]string{}, c.Contracts...)
	cp.TreeAnswers = c.TreeAnswers.Clone()
	return &cp
}

// ResponseStore представляет все состояние анализа дела
type ResponseStore struct {
	Scope
	SelectedSummaryCards []string       `json:"selected_summary_cards"`
	Cards                []*ProcessCard `json:"processos_vinculados"`
	SavedCards           []*ProcessCard `json:"saved_processos_vinculados"`
	GeneralSnapshot      *ProcessCard   `json:"general_snapshot,omitempty"`
	EditingIndex         *int           `json:"editing_index,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewResponseStore создает пустое хранилище ответов
func NewResponseStore() *ResponseStore {
	return &ResponseStore{
		Scope:                *NewScope(),
		SelectedSummaryCards: []string{},
		Cards:                []*ProcessCard{},
		SavedCards:           []*ProcessCard{},
	}
}

// Root возвращает корневую область
func (r *ResponseStore) Root() *Scope {
	r.ensure()
	return &r.Scope
}

// ResetRoot очищает корневую область для нового анализа; статусы
// контрактов и сохраненные карточки не затрагиваются
func (r *ResponseStore) ResetRoot() {
	r.Answers = make(map[string]string)
	r.ResetMonitoria()
	r.Cards = []*ProcessCard{}
	r.EditingIndex = nil
}

// CardScopes возвращает области ответов карточек в работе
func (r *ResponseStore) CardScopes() []*Scope {
	scopes := make([]*Scope, 0, len(r.Cards))
	for _, c := range r.Cards {
		if c.TreeAnswers == nil {
			c.TreeAnswers = NewScope()
		}
		scopes = append(scopes, c.TreeAnswers)
	}
	return scopes
}

// Editing возвращает индекс редактируемой карточки
func (r *ResponseStore) Editing() (int, bool) {
	if r.EditingIndex == nil {
		return 0, false
	}
	return *r.EditingIndex, true
}

// VisibleSavedCards возвращает сохраненные карточки, кроме редактируемой
func (r *ResponseStore) VisibleSavedCards() []*ProcessCard {
	editing, ok := r.Editing()
	var cards []*ProcessCard
	for i, c := range r.SavedCards {
		if ok && i == editing {
			continue
		}
		cards = append(cards, c)
	}
	return cards
}

// UniqueIDs удаляет дубликаты и пустые значения, результат отсортирован
func UniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := []string{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
