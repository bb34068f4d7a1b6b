// Package generation обращается к сервису генерации юридических документов.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"nowlex-decision-tree/internal/logging"
)

// DocumentType тип генерируемого документа
type DocumentType string

const (
	DocumentMonitoria        DocumentType = "monitoria"
	DocumentCobrancaJudicial DocumentType = "cobranca_judicial"
	DocumentHabilitacao      DocumentType = "habilitacao"
)

var endpoints = map[DocumentType]string{
	DocumentMonitoria:        "/peticoes/monitoria",
	DocumentCobrancaJudicial: "/peticoes/cobranca-judicial",
	DocumentHabilitacao:      "/peticoes/habilitacao",
}

// DocumentTypes возвращает все поддерживаемые типы документов
func DocumentTypes() []DocumentType {
	return []DocumentType{DocumentMonitoria, DocumentCobrancaJudicial, DocumentHabilitacao}
}

// ParseDocumentType проверяет тип документа
func ParseDocumentType(s string) (DocumentType, error) {
	d := DocumentType(strings.TrimSpace(s))
	if _, ok := endpoints[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocument, s)
	}
	return d, nil
}

var (
	ErrUnknownDocument = errors.New("неизвестный тип документа")
	ErrMissingProcess  = errors.New("не указан идентификатор процесса")
	ErrNoContracts     = errors.New("список контрактов пуст")
)

// Request параметры запроса генерации
type Request struct {
	ProcessID string
	Contracts []string
}

// DocumentResult результат по одному документу
type DocumentResult struct {
	Document string `json:"documento"`
	OK       bool   `json:"ok"`
	Error    string `json:"erro,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Response ответ сервиса генерации
type Response struct {
	OK        bool             `json:"ok"`
	Message   string           `json:"mensagem,omitempty"`
	Documents []DocumentResult `json:"documentos"`
}

// Error ошибка сервиса генерации с исходным сообщением сервера
type Error struct {
	Document   DocumentType
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ошибка генерации %s: статус %d: %s", e.Document, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ошибка генерации %s: %s", e.Document, e.Message)
}

// Client клиент сервиса генерации документов
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient создает клиент; requestsPerMin ограничивает частоту запросов
func NewClient(baseURL string, timeout time.Duration, requestsPerMin int, logger *slog.Logger) *Client {
	limit := rate.Inf
	if requestsPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMin))
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logging.OrDefault(logger),
	}
}

// Generate отправляет запрос генерации. Ожидание лимита можно отменить
// через ctx, но отправленный запрос не отменяется.
func (c *Client) Generate(ctx context.Context, doc DocumentType, req Request) (*Response, error) {
	path, ok := endpoints[doc]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDocument, doc)
	}
	if strings.TrimSpace(req.ProcessID) == "" {
		return nil, ErrMissingProcess
	}
	if len(req.Contracts) == 0 {
		return nil, ErrNoContracts
	}

	contracts, err := json.Marshal(req.Contracts)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации контрактов: %w", err)
	}
	form := url.Values{}
	form.Set("process_id", req.ProcessID)
	form.Set("contratos", string(contracts))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ожидание лимита запросов прервано: %w", err)
	}

	sendCtx := context.WithoutCancel(ctx)
	httpReq, err := http.NewRequestWithContext(sendCtx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Info("запрос генерации", "document", doc, "process", req.ProcessID, "contracts", len(req.Contracts))
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Document: doc, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	var out Response
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && out.Message != "" {
			msg = out.Message
		}
		return nil, &Error{Document: doc, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &Error{Document: doc, StatusCode: resp.StatusCode, Message: fmt.Sprintf("resposta inválida: %v", decodeErr)}
	}
	if !out.Succeeded() {
		return &out, &Error{Document: doc, StatusCode: resp.StatusCode, Message: out.Summary()}
	}
	return &out, nil
}

// Succeeded сообщает, что все документы сгенерированы
func (r *Response) Succeeded() bool {
	if !r.OK {
		return false
	}
	for _, d := range r.Documents {
		if !d.OK {
			return false
		}
	}
	return true
}

// Summary собирает результаты по документам в одно сообщение
func (r *Response) Summary() string {
	var ok, failed []string
	for _, d := range r.Documents {
		if d.OK {
			ok = append(ok, d.Document)
			continue
		}
		detail := d.Document
		if d.Error != "" {
			detail += " (" + d.Error + ")"
		}
		failed = append(failed, detail)
	}

	var parts []string
	if r.Message != "" {
		parts = append(parts, r.Message)
	}
	if len(ok) > 0 {
		parts = append(parts, "Gerados: "+strings.Join(ok, ", "))
	}
	if len(failed) > 0 {
		parts = append(parts, "Falharam: "+strings.Join(failed, ", "))
	}
	if len(parts) == 0 {
		if r.OK {
			return "Documentos gerados com sucesso."
		}
		return "Falha na geração dos documentos."
	}
	return strings.Join(parts, ". ")
}
