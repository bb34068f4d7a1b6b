package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Contract представляет контракт из списка на странице дела
type Contract struct {
	ID          string  `json:"id"`
	Number      string  `json:"numero_contrato"`
	Prescribed  bool    `json:"prescrito"`
	PaidOff     bool    `json:"quitado"`
	TotalDue    float64 `json:"valor_total_devido"`
	ClaimAmount float64 `json:"valor_causa"`
}

// List представляет инвентарь контрактов дела
type List []Contract

// Load читает инвентарь из JSON файла
func Load(filename string) (List, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", filename, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode читает инвентарь из JSON потока
func Decode(r io.Reader) (List, error) {
	var list List
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("ошибка парсинга инвентаря: %w", err)
	}
	seen := make(map[string]bool, len(list))
	for _, c := range list {
		if c.ID == "" {
			return nil, fmt.Errorf("контракт без id")
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("контракт %s повторяется", c.ID)
		}
		seen[c.ID] = true
	}
	return list, nil
}

// Lookup ищет контракт по id
func (l List) Lookup(id string) (Contract, bool) {
	for _, c := range l {
		if c.ID == id {
			return c, true
		}
	}
	return Contract{}, false
}

// Filter возвращает контракты, для которых keep возвращает true
func (l List) Filter(keep func(Contract) bool) List {
	out := List{}
	for _, c := range l {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// IDs возвращает идентификаторы контрактов в порядке списка
func (l List) IDs() []string {
	ids := make([]string, 0, len(l))
	for _, c := range l {
		ids = append(ids, c.ID)
	}
	return ids
}
