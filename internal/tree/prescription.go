package tree

import (
	"fmt"
	"time"

	"nowlex-decision-tree/internal/config"
)

// evaluatePrescription пересчитывает правило давности по дате trânsito
// em julgado. Правило производное: оно применяется после каждого
// изменения, а не один раз при вводе даты.
func (e *Engine) evaluatePrescription() {
	rules := e.cfg.Rules
	e.removeNotices()
	delete(e.disabled, rules.EnforcementKey)

	reason, prescribed := e.prescriptionReason()
	if !prescribed {
		e.refreshOptions(rules.EnforcementKey)
		return
	}

	e.disabled[rules.EnforcementKey] = map[string]string{
		foldKey(rules.StartEnforcementLabel): reason,
	}

	if v, ok := e.scope.Get(rules.EnforcementKey); ok && config.SameLabel(v, rules.StartEnforcementLabel) {
		e.scope.Delete(rules.EnforcementKey)
		e.pruneDescendants(rules.EnforcementKey)
		if idx := e.indexOf(rules.EnforcementKey); idx >= 0 {
			e.nodes[idx].Value = ""
			e.nodes[idx].Answered = false
		}
		e.logger.Debug("ответ снят по правилу давности", "key", rules.EnforcementKey)
	}
	e.refreshOptions(rules.EnforcementKey)

	idx := e.indexOf(rules.EnforcementKey)
	if idx < 0 {
		return
	}
	notice := &Node{
		Key:      rules.EnforcementKey + ".prescricao",
		Kind:     KindNotice,
		Rank:     e.nodes[idx].Rank,
		Text:     reason,
		ReadOnly: true,
	}
	e.nodes = append(e.nodes[:idx+1], append([]*Node{notice}, e.nodes[idx+1:]...)...)
}

// prescriptionReason проверяет, прошло ли не менее N лет с даты trânsito
func (e *Engine) prescriptionReason() (string, bool) {
	rules := e.cfg.Rules
	raw, ok := e.scope.Get(rules.TransitDateKey)
	if !ok || raw == "" {
		return "", false
	}
	transit, err := time.Parse(DateLayout, raw)
	if err != nil {
		return "", false
	}

	now := e.clock().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	limit := today.AddDate(-rules.PrescriptionYears, 0, 0)
	if transit.After(limit) {
		return "", false
	}
	return fmt.Sprintf("Pretensão executória prescrita: o trânsito em julgado (%s) ocorreu há %d anos ou mais.",
		transit.Format("02/01/2006"), rules.PrescriptionYears), true
}

// DisabledReason возвращает причину недоступности варианта ответа
func (e *Engine) DisabledReason(key, label string) (string, bool) {
	reasons, ok := e.disabled[key]
	if !ok {
		return "", false
	}
	reason, ok := reasons[foldKey(label)]
	return reason, ok
}

func (e *Engine) refreshOptions(key string) {
	idx := e.indexOf(key)
	if idx < 0 {
		return
	}
	node := e.nodes[idx]
	for i := range node.Options {
		reason, off := e.DisabledReason(key, node.Options[i].Label)
		node.Options[i].Disabled = off
		node.Options[i].Reason = reason
	}
}

func (e *Engine) removeNotices() {
	kept := e.nodes[:0]
	for _, n := range e.nodes {
		if n.Kind != KindNotice {
			kept = append(kept, n)
		}
	}
	e.nodes = kept
}

func foldKey(label string) string {
	return config.NormalizeLabel(label)
}
