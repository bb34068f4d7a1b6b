package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Serialize сериализует хранилище в JSON с отступами для поля формы
func Serialize(store *ResponseStore) (string, error) {
	jsonData, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации ответов: %w", err)
	}
	return string(jsonData), nil
}

// Deserialize восстанавливает хранилище из текста поля формы.
// Ошибки парсинга не всплывают: возвращается пустое хранилище.
func Deserialize(text string, logger *slog.Logger) *ResponseStore {
	if strings.TrimSpace(text) == "" {
		return NewResponseStore()
	}

	var store ResponseStore
	if err := json.Unmarshal([]byte(text), &store); err != nil {
		if logger != nil {
			logger.Warn("не удалось разобрать сохраненные ответы, используется пустое хранилище", "error", err)
		}
		return NewResponseStore()
	}
	store.normalize()
	return &store
}

// normalize восстанавливает инварианты после чтения
func (r *ResponseStore) normalize() {
	r.ensure()
	r.MonitoriaContracts = UniqueIDs(r.MonitoriaContracts)
	if r.SelectedSummaryCards == nil {
		r.SelectedSummaryCards = []string{}
	}
	if r.Cards == nil {
		r.Cards = []*ProcessCard{}
	}
	if r.SavedCards == nil {
		r.SavedCards = []*ProcessCard{}
	}
	for _, cards := range [][]*ProcessCard{r.Cards, r.SavedCards} {
		for _, c := range cards {
			c.normalize()
		}
	}
	if r.GeneralSnapshot != nil {
		r.GeneralSnapshot.normalize()
	}
	if i, ok := r.Editing(); ok && (i < 0 || i >= len(r.SavedCards)) {
		r.EditingIndex = nil
	}
}

func (c *ProcessCard) normalize() {
	if c.TreeAnswers == nil {
		c.TreeAnswers = NewScope()
	}
	c.TreeAnswers.ensure()
	c.Contracts = UniqueIDs(c.Contracts)
	if c.ReviewStatus == "" {
		c.ReviewStatus = ReviewPending
	}
}

// Validate проверяет карточки хранилища
func Validate(store *ResponseStore) error {
	all := append(append([]*ProcessCard{}, store.Cards...), store.SavedCards...)
	if store.GeneralSnapshot != nil {
		all = append(all, store.GeneralSnapshot)
	}
	general := 0
	for _, c := range store.SavedCards {
		if c.GeneralSnapshot {
			general++
		}
	}
	if general > 1 {
		return fmt.Errorf("найдено %d карточек general_snapshot, допускается одна", general)
	}
	for _, c := range all {
		if err := validate.Struct(c); err != nil {
			return fmt.Errorf("карточка %s некорректна: %w", c.ID, err)
		}
	}
	return nil
}

// FileField хранит сериализованное поле формы в файлах по одному на процесс
type FileField struct {
	dir string
}

// NewFileField создает файловое хранилище в директории dir
func NewFileField(dir string) *FileField {
	return &FileField{dir: dir}
}

func (f *FileField) path(processID string) string {
	return filepath.Join(f.dir, fmt.Sprintf("analise_%s.json", processID))
}

// Save сохраняет текст поля для процесса
func (f *FileField) Save(processID, text string) error {
	// Создаем директорию если её нет
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", f.dir, err)
	}

	path := f.path(processID)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("ошибка записи файла %s: %w", path, err)
	}
	return nil
}

// Load читает текст поля; отсутствующий файл дает пустую строку
func (f *FileField) Load(processID string) (string, error) {
	path := f.path(processID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return string(data), nil
}

// List возвращает идентификаторы всех сохраненных процессов
func (f *FileField) List() ([]string, error) {
	if _, err := os.Stat(f.dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", f.dir, err)
	}

	results := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, "analise_") {
			continue
		}
		results = append(results, strings.TrimSuffix(strings.TrimPrefix(name, "analise_"), ".json"))
	}
	return results, nil
}
