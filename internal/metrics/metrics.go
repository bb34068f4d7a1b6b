package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics считает события сессии анализа. Счетчики дублируются
// в prometheus реестр для экспорта.
type Metrics struct {
	mu                   sync.RWMutex
	AnswersRecorded      int64
	AnalysesConcluded    int64
	CardsSaved           int64
	CardsDeleted         int64
	GenerationsTotal     int64
	GenerationsSucceeded int64
	GenerationsRefused   int64
	LastUpdateTime       time.Time

	registry    *prometheus.Registry
	answers     prometheus.Counter
	concluded   prometheus.Counter
	cards       *prometheus.CounterVec
	generations *prometheus.CounterVec
}

// Snapshot копия счетчиков без служебных полей
type Snapshot struct {
	AnswersRecorded      int64
	AnalysesConcluded    int64
	CardsSaved           int64
	CardsDeleted         int64
	GenerationsTotal     int64
	GenerationsSucceeded int64
	GenerationsRefused   int64
	LastUpdateTime       time.Time
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		LastUpdateTime: time.Now(),
		registry:       reg,
		answers: factory.NewCounter(prometheus.CounterOpts{
			Name: "decision_tree_answers_total",
			Help: "Total answers recorded in the decision tree",
		}),
		concluded: factory.NewCounter(prometheus.CounterOpts{
			Name: "decision_tree_analyses_concluded_total",
			Help: "Total analyses concluded",
		}),
		cards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_tree_cards_total",
			Help: "Process card operations by kind",
		}, []string{"operation"}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_tree_generations_total",
			Help: "Document generation requests by document type and result",
		}, []string{"document", "result"}),
	}
}

// Registry возвращает реестр для экспорта метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) IncrementAnswers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnswersRecorded++
	m.answers.Inc()
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementAnalysesConcluded(cards int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnalysesConcluded++
	m.CardsSaved += int64(cards)
	m.concluded.Inc()
	m.cards.WithLabelValues("saved").Add(float64(cards))
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementCardsDeleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CardsDeleted++
	m.cards.WithLabelValues("deleted").Inc()
	m.LastUpdateTime = time.Now()
}

// IncrementGeneration учитывает запрос генерации, refused означает отказ до обращения к сети
func (m *Metrics) IncrementGeneration(document string, success, refused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "error"
	switch {
	case refused:
		m.GenerationsRefused++
		result = "refused"
	case success:
		m.GenerationsTotal++
		m.GenerationsSucceeded++
		result = "ok"
	default:
		m.GenerationsTotal++
	}
	m.generations.WithLabelValues(document, result).Inc()
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		AnswersRecorded:      m.AnswersRecorded,
		AnalysesConcluded:    m.AnalysesConcluded,
		CardsSaved:           m.CardsSaved,
		CardsDeleted:         m.CardsDeleted,
		GenerationsTotal:     m.GenerationsTotal,
		GenerationsSucceeded: m.GenerationsSucceeded,
		GenerationsRefused:   m.GenerationsRefused,
		LastUpdateTime:       m.LastUpdateTime,
	}
}
