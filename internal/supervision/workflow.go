// Package supervision реализует статусы проверки карточек и блокировку (barrado).
package supervision

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nowlex-decision-tree/internal/logging"
	"nowlex-decision-tree/internal/storage"
)

const dateLayout = "2006-01-02"

var (
	ErrReviewNotAwaiting = errors.New("нет изменения статуса, ожидающего подтверждения")
	ErrInvalidDate       = errors.New("некорректная дата")
)

// EventKind тип изменения карточки
type EventKind string

const (
	EventStatusChanged   EventKind = "status_changed"
	EventReviewToggled   EventKind = "review_toggled"
	EventReviewConcluded EventKind = "review_concluded"
	EventBlockChanged    EventKind = "block_changed"
)

// Event описывает изменение карточки, о котором уведомляются подписчики
type Event struct {
	CardID  string
	Kind    EventKind
	Status  storage.ReviewStatus
	Blocked storage.Blocked
}

// Workflow управляет статусами супервизии карточек
type Workflow struct {
	clock  func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[int]func(Event)
	nextID int
}

// NewWorkflow создает workflow супервизии
func NewWorkflow(logger *slog.Logger) *Workflow {
	return &Workflow{
		clock:  time.Now,
		logger: logging.OrDefault(logger),
		subs:   make(map[string]map[int]func(Event)),
	}
}

// WithClock подменяет часы для тестов
func (w *Workflow) WithClock(clock func() time.Time) *Workflow {
	w.clock = clock
	return w
}

// NextStatus возвращает следующий статус цикла pending → approved → rejected → pending
func NextStatus(s storage.ReviewStatus) storage.ReviewStatus {
	switch s {
	case storage.ReviewApproved:
		return storage.ReviewRejected
	case storage.ReviewRejected:
		return storage.ReviewPending
	default:
		return storage.ReviewApproved
	}
}

// CycleStatus переключает статус карточки на следующий
func (w *Workflow) CycleStatus(card *storage.ProcessCard) storage.ReviewStatus {
	card.ReviewStatus = NextStatus(card.Status())
	card.AwaitingReviewConfirmation = card.IsUnderReview && card.ReviewStatus != storage.ReviewPending
	w.touch(card)

	w.logger.Debug("статус супервизии изменен", "card", card.ID, "status", card.ReviewStatus)
	w.publish(card, EventStatusChanged)
	return card.ReviewStatus
}

// SetUnderReview включает или выключает карточку для проверяющих
func (w *Workflow) SetUnderReview(card *storage.ProcessCard, on bool) {
	if card.IsUnderReview == on {
		return
	}
	card.IsUnderReview = on
	card.AwaitingReviewConfirmation = on && card.Status() != storage.ReviewPending
	w.touch(card)
	w.publish(card, EventReviewToggled)
}

// ConcludeReview завершает проверку; доступно только при ожидании подтверждения
func (w *Workflow) ConcludeReview(card *storage.ProcessCard) error {
	if !card.AwaitingReviewConfirmation {
		return fmt.Errorf("%w: карточка %s", ErrReviewNotAwaiting, card.ID)
	}
	card.IsUnderReview = false
	card.AwaitingReviewConfirmation = false
	w.touch(card)

	w.logger.Info("проверка завершена", "card", card.ID, "status", card.Status())
	w.publish(card, EventReviewConcluded)
	return nil
}

// ToggleBlocked включает или выключает блокировку; при первом включении
// дата начала по умолчанию равна сегодняшней
func (w *Workflow) ToggleBlocked(card *storage.ProcessCard) bool {
	b := &card.Blocked
	b.Active = !b.Active
	if b.Active && b.StartDate == "" {
		b.StartDate = w.clock().Format(dateLayout)
	}
	w.touch(card)
	w.publish(card, EventBlockChanged)
	return b.Active
}

// SetStartDate задает дату начала блокировки
func (w *Workflow) SetStartDate(card *storage.ProcessCard, date string) error {
	if err := checkDate(date); err != nil {
		return err
	}
	card.Blocked.StartDate = date
	w.touch(card)
	w.publish(card, EventBlockChanged)
	return nil
}

// SetReturnDate задает дату возврата; пустая строка снимает дату
func (w *Workflow) SetReturnDate(card *storage.ProcessCard, date string) error {
	if err := checkDate(date); err != nil {
		return err
	}
	card.Blocked.ReturnDate = date
	w.touch(card)
	w.publish(card, EventBlockChanged)
	return nil
}

// ClearBlock очищает дату начала; без даты возврата блокировка снимается
func (w *Workflow) ClearBlock(card *storage.ProcessCard) {
	card.Blocked.StartDate = ""
	if card.Blocked.ReturnDate == "" {
		card.Blocked.Active = false
	}
	w.touch(card)
	w.publish(card, EventBlockChanged)
}

// ReviewQueue возвращает карточки, видимые проверяющим
func ReviewQueue(cards []*storage.ProcessCard) []*storage.ProcessCard {
	var queue []*storage.ProcessCard
	for _, c := range cards {
		if c.IsUnderReview {
			queue = append(queue, c)
		}
	}
	return queue
}

// Subscribe регистрирует обработчик изменений карточки cardID.
// Возвращает функцию отписки.
func (w *Workflow) Subscribe(cardID string, fn func(Event)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	if w.subs[cardID] == nil {
		w.subs[cardID] = make(map[int]func(Event))
	}
	w.subs[cardID][id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs[cardID], id)
		if len(w.subs[cardID]) == 0 {
			delete(w.subs, cardID)
		}
	}
}

func (w *Workflow) publish(card *storage.ProcessCard, kind EventKind) {
	w.mu.Lock()
	handlers := make([]func(Event), 0, len(w.subs[card.ID]))
	for _, fn := range w.subs[card.ID] {
		handlers = append(handlers, fn)
	}
	w.mu.Unlock()

	ev := Event{CardID: card.ID, Kind: kind, Status: card.Status(), Blocked: card.Blocked}
	for _, fn := range handlers {
		fn(ev)
	}
}

func (w *Workflow) touch(card *storage.ProcessCard) {
	card.UpdatedAt = w.clock().UTC()
}

func checkDate(date string) error {
	if date == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}
