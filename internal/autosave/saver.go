// Package autosave откладывает запись состояния, объединяя серии изменений
// в одну запись после паузы.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nowlex-decision-tree/internal/logging"
)

// ErrStopped возвращается при попытке сохранить после остановки
var ErrStopped = errors.New("автосохранение остановлено")

// SaveFunc выполняет запись состояния
type SaveFunc func(ctx context.Context) error

// Saver откладывает запись до окончания серии изменений
type Saver struct {
	delay  time.Duration
	save   SaveFunc
	logger *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool

	// saveMu не дает таймеру и Flush писать одновременно
	saveMu sync.Mutex
}

// New создает Saver с паузой delay
func New(delay time.Duration, save SaveFunc, logger *slog.Logger) *Saver {
	return &Saver{
		delay:  delay,
		save:   save,
		logger: logging.OrDefault(logger),
	}
}

// Trigger отмечает изменение и перезапускает таймер паузы
func (s *Saver) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.fire)
		return
	}
	s.timer.Reset(s.delay)
}

// Pending сообщает, есть ли несохраненные изменения
func (s *Saver) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Saver) fire() {
	if err := s.run(context.Background()); err != nil {
		s.logger.Error("ошибка автосохранения", "error", err)
	}
}

// Flush немедленно выполняет отложенную запись
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	return s.run(ctx)
}

// Stop выполняет отложенную запись и отключает дальнейшие срабатывания
func (s *Saver) Stop(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return err
}

func (s *Saver) run(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.pending = false
	s.mu.Unlock()

	if err := s.save(ctx); err != nil {
		s.mu.Lock()
		s.pending = true
		s.mu.Unlock()
		return err
	}
	return nil
}
