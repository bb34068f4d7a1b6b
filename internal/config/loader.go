package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrConfigUnavailable означает, что дерево не может быть отрисовано
var ErrConfigUnavailable = errors.New("конфигурация дерева недоступна")

//go:embed tree.schema.json
var treeSchemaJSON string

const treeSchemaURL = "https://nowlex.local/schemas/tree.schema.json"

var (
	treeSchema     *jsonschema.Schema
	treeSchemaErr  error
	treeSchemaOnce sync.Once
)

func compiledTreeSchema() (*jsonschema.Schema, error) {
	treeSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(treeSchemaURL, strings.NewReader(treeSchemaJSON)); err != nil {
			treeSchemaErr = fmt.Errorf("ошибка загрузки схемы: %w", err)
			return
		}
		treeSchema, treeSchemaErr = c.Compile(treeSchemaURL)
	})
	return treeSchema, treeSchemaErr
}

// Load загружает конфигурацию дерева из YAML или JSON файла
func Load(filename string) (*TreeConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения файла %s: %v", ErrConfigUnavailable, filename, err)
	}
	return Parse(data)
}

// Fetch загружает конфигурацию дерева по HTTP
func Fetch(ctx context.Context, client *http.Client, url string) (*TreeConfig, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка запроса конфигурации: %v", ErrConfigUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: сервер вернул статус %d", ErrConfigUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения ответа: %v", ErrConfigUnavailable, err)
	}
	return Parse(body)
}

// Parse разбирает документ конфигурации и проверяет его
func Parse(data []byte) (*TreeConfig, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: ошибка парсинга YAML: %v", ErrConfigUnavailable, err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}

	var cfg TreeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: ошибка парсинга YAML: %v", ErrConfigUnavailable, err)
	}
	for key, q := range cfg.Questions {
		if q.Key == "" {
			q.Key = key
		}
	}
	cfg.Rules = cfg.Rules.withDefaults()

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("%w: ошибка валидации конфигурации: %v", ErrConfigUnavailable, err)
	}
	return &cfg, nil
}

// validateSchema проверяет документ по JSON-схеме; YAML-значения
// сначала приводятся к JSON-типам
func validateSchema(raw interface{}) error {
	schema, err := compiledTreeSchema()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("ошибка преобразования в JSON: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("ошибка преобразования в JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("документ не соответствует схеме: %w", err)
	}
	return nil
}

// validateConfig проверяет корректность графа вопросов
func validateConfig(cfg *TreeConfig) error {
	if len(cfg.Questions) == 0 {
		return fmt.Errorf("questions не может быть пустым")
	}
	if _, ok := cfg.Questions[cfg.Root]; !ok {
		return fmt.Errorf("корневой вопрос %q не найден", cfg.Root)
	}

	for key, q := range cfg.Questions {
		if q.Key != key {
			return fmt.Errorf("вопрос %q имеет ключ %q", key, q.Key)
		}
		if !q.Kind.Valid() {
			return fmt.Errorf("вопрос %q имеет неизвестный тип %q", key, q.Kind)
		}
		if q.Kind == KindChoice && len(q.Options) == 0 {
			return fmt.Errorf("вопрос %q типа choice должен иметь options", key)
		}
		if q.Kind != KindChoice && len(q.Options) > 0 {
			return fmt.Errorf("вопрос %q типа %s не может иметь options", key, q.Kind)
		}
		if q.Kind == KindLinkedProcessEditor && q.Next == "" {
			return fmt.Errorf("вопрос %q должен указывать корень поддерева карточки", key)
		}

		// Ранг преемника всегда больше ранга предшественника
		for _, next := range q.Successors() {
			succ, ok := cfg.Questions[next]
			if !ok {
				return fmt.Errorf("вопрос %q ссылается на неизвестный вопрос %q", key, next)
			}
			if succ.Rank <= q.Rank {
				return fmt.Errorf("ранг вопроса %q (%d) должен быть больше ранга %q (%d)",
					next, succ.Rank, key, q.Rank)
			}
		}
	}

	return nil
}
