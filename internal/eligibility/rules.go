// Package eligibility определяет, какие контракты можно передать
// в генерацию документов.
package eligibility

import (
	"errors"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/inventory"
	"nowlex-decision-tree/internal/storage"
)

var (
	ErrNoEligibleContracts  = errors.New("nenhum contrato elegível: selecione ao menos um contrato para a monitória")
	ErrNoSelectionActivated = errors.New("nenhuma seleção ativada: marque um card de resumo ou um contrato antes de gerar")
)

// IsEligibleForMonitoria сообщает, подходит ли карточка для монитории
func IsEligibleForMonitoria(card *storage.ProcessCard, rules config.Rules) bool {
	if card == nil {
		return false
	}
	return rules.IsNo(card.Answer(rules.JudicializedKey)) &&
		rules.IsYes(card.Answer(rules.ProposeMonitoriaKey)) &&
		len(card.AllContracts()) > 0
}

// Options описывает источники контрактов для агрегации
type Options struct {
	Active         *storage.Scope
	Cards          []*storage.ProcessCard
	SelectedCards  []string
	General        *storage.ProcessCard
	IncludeGeneral bool
}

// OptionsFromStore собирает источники из хранилища ответов
func OptionsFromStore(store *storage.ResponseStore, includeGeneral bool) Options {
	return Options{
		Active:         store.Root(),
		Cards:          store.SavedCards,
		SelectedCards:  store.SelectedSummaryCards,
		General:        store.GeneralSnapshot,
		IncludeGeneral: includeGeneral,
	}
}

// AggregateContractIDs объединяет контракты активной области, выбранных
// карточек резюме и, по запросу, общего снимка. Результат отсортирован
// и не содержит повторов.
func AggregateContractIDs(opts Options) []string {
	var ids []string
	if opts.Active != nil {
		ids = append(ids, opts.Active.MonitoriaContracts...)
	}

	selected := make(map[string]bool, len(opts.SelectedCards))
	for _, id := range opts.SelectedCards {
		selected[id] = true
	}
	for _, c := range opts.Cards {
		if c != nil && selected[c.ID] {
			ids = append(ids, c.AllContracts()...)
		}
	}

	if opts.IncludeGeneral && opts.General != nil {
		ids = append(ids, opts.General.AllContracts()...)
	}
	return storage.UniqueIDs(ids)
}

// CheckGeneration проверяет предусловия генерации до обращения к сети
func CheckGeneration(aggregate []string, activated bool) error {
	if len(aggregate) == 0 {
		return ErrNoEligibleContracts
	}
	if !activated {
		return ErrNoSelectionActivated
	}
	return nil
}

// EligibleContracts возвращает контракты, отмеченные как выбранные,
// не погашенные и не прескрибированные
func EligibleContracts(list inventory.List, status map[string]storage.ContractStatus) inventory.List {
	return list.Filter(func(c inventory.Contract) bool {
		s := status[c.ID]
		return s.Selected && !s.PaidOff && !c.PaidOff && !c.Prescribed
	})
}
