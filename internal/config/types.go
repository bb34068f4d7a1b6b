package config

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind определяет тип поля вопроса
type Kind string

const (
	KindIndicatorBlock      Kind = "indicator-block"
	KindLinkedProcessEditor Kind = "linked-process-editor"
	KindContractMultiselect Kind = "contract-multiselect"
	KindChoice              Kind = "choice"
	KindText                Kind = "text"
	KindLongText            Kind = "long-text"
	KindDate                Kind = "date"
)

// Valid сообщает, входит ли тип в закрытый набор
func (k Kind) Valid() bool {
	switch k {
	case KindIndicatorBlock, KindLinkedProcessEditor, KindContractMultiselect,
		KindChoice, KindText, KindLongText, KindDate:
		return true
	}
	return false
}

// IsInput сообщает, принимает ли вопрос ответ пользователя
func (k Kind) IsInput() bool {
	switch k {
	case KindChoice, KindText, KindLongText, KindDate:
		return true
	}
	return false
}

// TreeConfig представляет граф вопросов дерева решений
type TreeConfig struct {
	Root      string               `yaml:"root" json:"root"`
	Questions map[string]*Question `yaml:"questions" json:"questions"`
	Rules     Rules                `yaml:"rules" json:"rules"`
}

// Question представляет один вопрос дерева
type Question struct {
	Key     string   `yaml:"key" json:"key"`
	Kind    Kind     `yaml:"kind" json:"kind"`
	Rank    int      `yaml:"rank" json:"rank"`
	Text    string   `yaml:"text" json:"text"`
	Options []Option `yaml:"options,omitempty" json:"options,omitempty"`
	Next    string   `yaml:"next,omitempty" json:"next,omitempty"`
}

// Option представляет вариант ответа на вопрос типа choice
type Option struct {
	Label string `yaml:"label" json:"label"`
	Next  string `yaml:"next,omitempty" json:"next,omitempty"`
}

// Rules содержит ключи вопросов, на которые опираются доменные правила
type Rules struct {
	JudicializedKey         string   `yaml:"judicialized_key" json:"judicialized_key"`
	ProposeMonitoriaKey     string   `yaml:"propose_monitoria_key" json:"propose_monitoria_key"`
	CaseNumberKey           string   `yaml:"case_number_key" json:"case_number_key"`
	TransitDateKey          string   `yaml:"transit_date_key" json:"transit_date_key"`
	PrescriptionTriggerKeys []string `yaml:"prescription_trigger_keys" json:"prescription_trigger_keys"`
	EnforcementKey          string   `yaml:"enforcement_key" json:"enforcement_key"`
	StartEnforcementLabel   string   `yaml:"start_enforcement_label" json:"start_enforcement_label"`
	PrescriptionYears       int      `yaml:"prescription_years" json:"prescription_years"`
	YesLabel                string   `yaml:"yes_label" json:"yes_label"`
	NoLabel                 string   `yaml:"no_label" json:"no_label"`
}

// DefaultRules возвращает правила по умолчанию
func DefaultRules() Rules {
	return Rules{
		JudicializedKey:         "judicializado_pela_massa",
		ProposeMonitoriaKey:     "propor_monitoria",
		CaseNumberKey:           "cnj",
		TransitDateKey:          "data_transito_julgado",
		PrescriptionTriggerKeys: []string{"tipo_de_acao", "julgamento"},
		EnforcementKey:          "cumprimento_de_sentenca",
		StartEnforcementLabel:   "Iniciar cumprimento de sentença",
		PrescriptionYears:       5,
		YesLabel:                "SIM",
		NoLabel:                 "NÃO",
	}
}

// withDefaults заполняет пустые поля значениями по умолчанию
func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.JudicializedKey == "" {
		r.JudicializedKey = d.JudicializedKey
	}
	if r.ProposeMonitoriaKey == "" {
		r.ProposeMonitoriaKey = d.ProposeMonitoriaKey
	}
	if r.CaseNumberKey == "" {
		r.CaseNumberKey = d.CaseNumberKey
	}
	if r.TransitDateKey == "" {
		r.TransitDateKey = d.TransitDateKey
	}
	if len(r.PrescriptionTriggerKeys) == 0 {
		r.PrescriptionTriggerKeys = d.PrescriptionTriggerKeys
	}
	if r.EnforcementKey == "" {
		r.EnforcementKey = d.EnforcementKey
	}
	if r.StartEnforcementLabel == "" {
		r.StartEnforcementLabel = d.StartEnforcementLabel
	}
	if r.PrescriptionYears <= 0 {
		r.PrescriptionYears = d.PrescriptionYears
	}
	if r.YesLabel == "" {
		r.YesLabel = d.YesLabel
	}
	if r.NoLabel == "" {
		r.NoLabel = d.NoLabel
	}
	return r
}

// IsYes сравнивает ответ с меткой "да"
func (r Rules) IsYes(value string) bool {
	return SameLabel(value, r.YesLabel)
}

// IsNo сравнивает ответ с меткой "нет"
func (r Rules) IsNo(value string) bool {
	return SameLabel(value, r.NoLabel)
}

// Методы для удобного доступа к конфигурации

func (c *TreeConfig) Question(key string) (*Question, bool) {
	if c == nil {
		return nil, false
	}
	q, ok := c.Questions[key]
	return q, ok
}

func (c *TreeConfig) Rank(key string) (int, bool) {
	q, ok := c.Question(key)
	if !ok {
		return 0, false
	}
	return q.Rank, true
}

// Successors возвращает все ключи, в которые ведет вопрос
func (q *Question) Successors() []string {
	var next []string
	if q.Next != "" {
		next = append(next, q.Next)
	}
	for _, opt := range q.Options {
		if opt.Next != "" {
			next = append(next, opt.Next)
		}
	}
	return next
}

// SuccessorOf вычисляет следующий вопрос по ответу
func (q *Question) SuccessorOf(value string) string {
	if q.Kind != KindChoice {
		return q.Next
	}
	if opt, ok := q.MatchOption(value); ok {
		return opt.Next
	}
	return ""
}

// MatchOption ищет вариант по метке без учета регистра и формы нормализации
func (q *Question) MatchOption(label string) (Option, bool) {
	for _, opt := range q.Options {
		if SameLabel(opt.Label, label) {
			return opt, true
		}
	}
	return Option{}, false
}

// SameLabel сравнивает метки ответов ("NÃO" и "não" совпадают)
func SameLabel(a, b string) bool {
	return NormalizeLabel(a) == NormalizeLabel(b)
}

// NormalizeLabel приводит метку к форме для сравнения
func NormalizeLabel(s string) string {
	// Caser хранит состояние, поэтому создается на каждый вызов
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// ReachableKeys возвращает все вопросы, достижимые из from
func (c *TreeConfig) ReachableKeys(from string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[key] {
			continue
		}
		q, ok := c.Question(key)
		if !ok {
			continue
		}
		seen[key] = true
		stack = append(stack, q.Successors()...)
	}
	return seen
}

// CardSubtreeKeys возвращает ключи поддеревьев всех редакторов связанных процессов
func (c *TreeConfig) CardSubtreeKeys() map[string]bool {
	keys := make(map[string]bool)
	if c == nil {
		return keys
	}
	for _, q := range c.Questions {
		if q.Kind != KindLinkedProcessEditor || q.Next == "" {
			continue
		}
		for k := range c.ReachableKeys(q.Next) {
			keys[k] = true
		}
	}
	return keys
}
