package storage

import (
	"log/slog"

	"nowlex-decision-tree/internal/config"
)

// legacyRule выводит ответ "judicializado pela massa" для старых карточек
type legacyRule struct {
	name  string
	infer func(c *ProcessCard, rules config.Rules) (string, bool)
}

// Порядок важен: правила идут от наиболее надежного к наименее надежному
var legacyRules = []legacyRule{
	{"case_number", func(c *ProcessCard, r config.Rules) (string, bool) {
		if c.CaseNumber != nil && *c.CaseNumber != "" {
			return r.YesLabel, true
		}
		return "", false
	}},
	{"nj_label", func(c *ProcessCard, r config.Rules) (string, bool) {
		if c.NonJudicialized || c.NJIndex > 0 {
			return r.NoLabel, true
		}
		return "", false
	}},
	{"monitoria_answer", func(c *ProcessCard, r config.Rules) (string, bool) {
		if _, ok := c.TreeAnswers.Get(r.ProposeMonitoriaKey); ok {
			return r.NoLabel, true
		}
		return "", false
	}},
	{"monitoria_contracts", func(c *ProcessCard, r config.Rules) (string, bool) {
		if c.TreeAnswers != nil && len(c.TreeAnswers.MonitoriaContracts) > 0 {
			return r.NoLabel, true
		}
		return "", false
	}},
}

// MigrateLegacy заполняет отсутствующий первый ответ в карточках,
// сохраненных старыми версиями. Вызывается явно после загрузки и
// никогда во время обычного восстановления карточки.
// Возвращает количество измененных карточек.
func MigrateLegacy(store *ResponseStore, rules config.Rules, logger *slog.Logger) int {
	migrated := 0
	for _, cards := range [][]*ProcessCard{store.Cards, store.SavedCards} {
		for _, c := range cards {
			if migrateCard(c, rules, logger) {
				migrated++
			}
		}
	}
	return migrated
}

func migrateCard(c *ProcessCard, rules config.Rules, logger *slog.Logger) bool {
	if c.TreeAnswers == nil {
		c.TreeAnswers = NewScope()
	}
	if _, ok := c.TreeAnswers.Get(rules.JudicializedKey); ok {
		return false
	}
	for _, rule := range legacyRules {
		value, ok := rule.infer(c, rules)
		if !ok {
			continue
		}
		c.TreeAnswers.Set(rules.JudicializedKey, value)
		if logger != nil {
			logger.Info("миграция старой карточки", "card", c.ID, "rule", rule.name, "value", value)
		}
		return true
	}
	return false
}
