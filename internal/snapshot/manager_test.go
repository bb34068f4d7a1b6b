package snapshot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/inventory"
	"nowlex-decision-tree/internal/logging"
	"nowlex-decision-tree/internal/storage"
	"nowlex-decision-tree/internal/tree"
)

var fixedNow = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

type fixture struct {
	cfg     *config.TreeConfig
	store   *storage.ResponseStore
	engine  *tree.Engine
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Load("../../config/tree.yaml")
	require.NoError(t, err)

	store := storage.NewResponseStore()
	store.ContractStatus["42"] = storage.ContractStatus{Selected: true}
	store.ContractStatus["7"] = storage.ContractStatus{Selected: true}

	clock := func() time.Time { return fixedNow }
	engine := tree.New(cfg, store.Root(),
		tree.WithCards(store.CardScopes),
		tree.WithInventory(inventory.List{{ID: "42"}, {ID: "7"}}),
		tree.WithClock(clock),
		tree.WithLogger(logging.Discard()),
	)
	engine.Start()

	n := 0
	manager := NewManager(cfg, logging.Discard()).
		WithClock(clock).
		WithIDs(func() string { n++; return fmt.Sprintf("card-%d", n) })

	return &fixture{cfg: cfg, store: store, engine: engine, manager: manager}
}

func (f *fixture) monitoria(t *testing.T, ids ...string) {
	t.Helper()
	require.NoError(t, f.engine.Change("judicializado_pela_massa", "NÃO"))
	require.NoError(t, f.engine.Change("propor_monitoria", "SIM"))
	require.NoError(t, f.engine.SelectContracts("contratos_monitoria", ids))
}

func TestFreezeKeepsOnlyTreeKeys(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")
	f.store.Set("campo_solto", "x")

	card := f.manager.Freeze(f.store, f.store.Root(), nil)
	assert.Equal(t, map[string]string{
		"judicializado_pela_massa": "NÃO",
		"propor_monitoria":         "SIM",
	}, card.TreeAnswers.Answers)
	assert.Equal(t, []string{"42"}, card.Contracts)
	assert.Equal(t, storage.ReviewPending, card.ReviewStatus)
	assert.Equal(t, fixedNow, card.SavedAt)
}

func TestFreezeJoinsCardContracts(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")

	prior := &storage.ProcessCard{ID: "p", Contracts: []string{"9", "42"}, TreeAnswers: storage.NewScope()}
	prior.TreeAnswers.SetMonitoriaContracts([]string{"7"})

	card := f.manager.Freeze(f.store, f.store.Root(), prior)
	assert.Equal(t, "p", card.ID)
	assert.Equal(t, []string{"42", "9"}, card.Contracts, "old selection of prior answers is not carried over")
	assert.Equal(t, []string{"42", "9"}, card.TreeAnswers.MonitoriaContracts)
}

func TestConcludeEditKeepsOnlyCurrentSelection(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42", "7")
	f.manager.RefreshGeneralSnapshot(f.store)
	f.manager.Conclude(f.store)
	require.Len(t, f.store.SavedCards, 1)
	id := f.store.SavedCards[0].ID
	f.engine.Start()

	require.True(t, f.manager.Restore(f.store, 0, f.engine))
	require.NoError(t, f.engine.SelectContracts("contratos_monitoria", []string{"42"}))
	f.manager.Conclude(f.store)
	require.Len(t, f.store.SavedCards, 1)
	card := f.store.SavedCards[0]
	assert.Equal(t, id, card.ID)
	assert.Equal(t, []string{"42"}, card.AllContracts())
	assert.True(t, card.GeneralSnapshot)
	f.engine.Start()

	// смена ветки удаляет выбор и признак общего снимка
	require.True(t, f.manager.Restore(f.store, 0, f.engine))
	require.NoError(t, f.engine.Change("judicializado_pela_massa", "SIM"))
	f.manager.Conclude(f.store)
	require.Len(t, f.store.SavedCards, 1)
	card = f.store.SavedCards[0]
	assert.Equal(t, id, card.ID)
	assert.Equal(t, map[string]string{"judicializado_pela_massa": "SIM"}, card.TreeAnswers.Answers)
	assert.Empty(t, card.AllContracts())
	assert.False(t, card.GeneralSnapshot)
}

func TestRestorePromotesPendingSnapshotAndKeepsEditedCard(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")
	f.manager.RefreshGeneralSnapshot(f.store)
	f.manager.StartNewAnalysis(f.store)
	require.Len(t, f.store.SavedCards, 1)
	edited := f.store.SavedCards[0].ID
	f.engine.Start()

	f.monitoria(t, "7")
	f.manager.RefreshGeneralSnapshot(f.store)
	require.NotNil(t, f.store.GeneralSnapshot)

	require.True(t, f.manager.Restore(f.store, 0, f.engine))
	assert.Nil(t, f.store.GeneralSnapshot)
	require.Len(t, f.store.SavedCards, 2)
	assert.Equal(t, edited, f.store.SavedCards[0].ID)
	assert.Equal(t, []string{"7"}, f.store.SavedCards[1].Contracts)
	assert.Equal(t, "#NJ2", f.store.SavedCards[1].Label())

	require.NoError(t, f.engine.Change("propor_monitoria", "NÃO"))
	f.manager.Conclude(f.store)

	require.Len(t, f.store.SavedCards, 2)
	card := f.store.SavedCards[0]
	assert.Equal(t, edited, card.ID)
	assert.Equal(t, "NÃO", card.Answer("propor_monitoria"))
	assert.False(t, card.GeneralSnapshot)
	assert.Equal(t, "#NJ1", card.Label())
	assert.True(t, f.store.SavedCards[1].GeneralSnapshot)
}

func TestFreezeNormalizesCaseNumber(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Change("judicializado_pela_massa", "SIM"))
	f.store.Set("cnj", "12345672020240100010")

	card := f.manager.Freeze(f.store, f.store.Root(), nil)
	require.NotNil(t, card.CaseNumber)
	assert.Equal(t, "1234567-20.2024.0.10.0010", card.Label())
	assert.False(t, card.NonJudicialized)
	assert.Zero(t, card.NJIndex)
}

func TestNJLabelsAreAllocatedAndReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := storage.NewScope()
	scope.Set("judicializado_pela_massa", "NÃO")

	first := f.manager.Freeze(f.store, scope, nil)
	assert.Equal(t, "#NJ1", first.Label())
	f.store.SavedCards = append(f.store.SavedCards, first)

	second := f.manager.Freeze(f.store, scope, nil)
	assert.Equal(t, "#NJ2", second.Label())
	f.store.SavedCards = append(f.store.SavedCards, second)

	// повторная заморозка сохраняет метку
	again := f.manager.Freeze(f.store, scope, second)
	assert.Equal(t, "#NJ2", again.Label())

	ok, err := f.manager.DeleteCard(ctx, f.store, 0, nil)
	require.NoError(t, err)
	require.True(t, ok)

	third := f.manager.Freeze(f.store, scope, nil)
	assert.Equal(t, "#NJ1", third.Label())
}

func TestFreezeRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42", "7")

	card := f.manager.Freeze(f.store, f.store.Root(), nil)
	f.store.SavedCards = append(f.store.SavedCards, card)
	f.store.ResetRoot()
	f.engine.Start()

	require.True(t, f.manager.Restore(f.store, 0, f.engine))
	assert.Equal(t, card.TreeAnswers.Answers, f.store.Answers)
	assert.Equal(t, []string{"42", "7"}, f.store.MonitoriaContracts)
	assert.True(t, f.store.MonitoriaEnabled)
	idx, editing := f.store.Editing()
	assert.True(t, editing)
	assert.Equal(t, 0, idx)
	assert.True(t, f.engine.Rendered("contratos_monitoria"))

	refrozen := f.manager.Freeze(f.store, f.store.Root(), card)
	assert.Equal(t, card.TreeAnswers.Answers, refrozen.TreeAnswers.Answers)
	assert.Equal(t, card.Contracts, refrozen.Contracts)
	assert.Equal(t, card.Label(), refrozen.Label())
	assert.Equal(t, card.ID, refrozen.ID)
}

func TestRestoreIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")
	card := f.manager.Freeze(f.store, f.store.Root(), nil)
	f.store.SavedCards = append(f.store.SavedCards, card)
	f.store.ResetRoot()

	require.True(t, f.manager.Restore(f.store, 0, f.engine))
	first := f.store.Root().Clone()
	require.True(t, f.manager.Restore(f.store, 0, f.engine))
	assert.Equal(t, first, f.store.Root().Clone())
}

func TestRestoreOutOfRangeIsNoop(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")
	before := f.store.Root().Clone()

	assert.False(t, f.manager.Restore(f.store, 3, f.engine))
	assert.False(t, f.manager.Restore(f.store, -1, f.engine))
	assert.Equal(t, before, f.store.Root().Clone())
	assert.Nil(t, f.store.EditingIndex)
}

func TestLinkedCardConcludeAndRestore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Change("judicializado_pela_massa", "SIM"))
	require.NoError(t, f.engine.Change("tipo_de_acao", "Execução"))

	cnj := "12345672020240100010"
	f.store.Cards = append(f.store.Cards, &storage.ProcessCard{ID: "linked", CaseNumber: &cnj, TreeAnswers: storage.NewScope()})
	f.engine.Start()

	child, ok := f.engine.CardEngine(0)
	require.True(t, ok)
	require.NoError(t, child.Change("card_fase", "Execução"))
	require.NoError(t, child.Change("card_valor", "1000"))

	frozen := f.manager.Conclude(f.store)
	require.Len(t, frozen, 1)
	card := frozen[0]
	assert.Equal(t, "linked", card.ID)
	assert.Equal(t, "1234567-20.2024.0.10.0010", card.Label())
	assert.Equal(t, map[string]string{
		"judicializado_pela_massa": "SIM",
		"tipo_de_acao":             "Execução",
		"card_fase":                "Execução",
		"card_valor":               "1000",
	}, card.TreeAnswers.Answers)
	assert.Empty(t, f.store.Answers)
	assert.Empty(t, f.store.Cards)
	require.Len(t, f.store.SavedCards, 1)

	require.True(t, f.manager.Restore(f.store, 0, f.engine))
	assert.Equal(t, map[string]string{
		"judicializado_pela_massa": "SIM",
		"tipo_de_acao":             "Execução",
	}, f.store.Answers)
	require.Len(t, f.store.Cards, 1)
	assert.Equal(t, "linked", f.store.Cards[0].ID)
	assert.Equal(t, map[string]string{"card_fase": "Execução", "card_valor": "1000"}, f.store.Cards[0].TreeAnswers.Answers)

	// повторное завершение заменяет карточку на месте
	child, ok = f.engine.CardEngine(0)
	require.True(t, ok)
	require.NoError(t, child.Change("card_valor", "2000"))
	f.manager.Conclude(f.store)
	require.Len(t, f.store.SavedCards, 1)
	assert.Equal(t, "2000", f.store.SavedCards[0].Answer("card_valor"))
	assert.Nil(t, f.store.EditingIndex)
}

func TestGeneralSnapshotLifecycle(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")

	f.manager.RefreshGeneralSnapshot(f.store)
	require.NotNil(t, f.store.GeneralSnapshot)
	assert.True(t, f.store.GeneralSnapshot.GeneralSnapshot)
	assert.Equal(t, []string{"42"}, f.store.GeneralSnapshot.Contracts)
	id := f.store.GeneralSnapshot.ID

	// снимок следует за корневой областью
	require.NoError(t, f.engine.SelectContracts("contratos_monitoria", []string{"7"}))
	f.manager.RefreshGeneralSnapshot(f.store)
	assert.Equal(t, []string{"7"}, f.store.GeneralSnapshot.Contracts)
	assert.Equal(t, id, f.store.GeneralSnapshot.ID)

	require.NoError(t, f.engine.Change("propor_monitoria", "NÃO"))
	f.manager.RefreshGeneralSnapshot(f.store)
	assert.Nil(t, f.store.GeneralSnapshot)
	assert.False(t, f.manager.PromoteGeneralSnapshotIfEligible(f.store))
}

func TestStartNewAnalysisPromotesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")
	f.manager.RefreshGeneralSnapshot(f.store)

	f.manager.StartNewAnalysis(f.store)
	require.Len(t, f.store.SavedCards, 1)
	assert.True(t, f.store.SavedCards[0].GeneralSnapshot)
	assert.Equal(t, "#NJ1", f.store.SavedCards[0].Label())
	assert.Empty(t, f.store.Answers)
	assert.Nil(t, f.store.GeneralSnapshot)

	// новая промоция заменяет предыдущую карточку общего снимка
	f.engine.Start()
	f.monitoria(t, "7")
	f.manager.RefreshGeneralSnapshot(f.store)
	f.manager.StartNewAnalysis(f.store)
	require.Len(t, f.store.SavedCards, 1)
	assert.Equal(t, []string{"7"}, f.store.SavedCards[0].Contracts)
}

func TestConcludePromotesSnapshotInsteadOfDuplicating(t *testing.T) {
	f := newFixture(t)
	f.monitoria(t, "42")
	f.manager.RefreshGeneralSnapshot(f.store)

	frozen := f.manager.Conclude(f.store)
	assert.Empty(t, frozen)
	require.Len(t, f.store.SavedCards, 1)
	assert.True(t, f.store.SavedCards[0].GeneralSnapshot)
}

func TestConcludeFreezesPlainRootAnalysis(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Change("judicializado_pela_massa", "NÃO"))
	require.NoError(t, f.engine.Change("propor_monitoria", "NÃO"))

	frozen := f.manager.Conclude(f.store)
	require.Len(t, frozen, 1)
	assert.Equal(t, "#NJ1", frozen[0].Label())
	assert.Equal(t, fixedNow, f.store.UpdatedAt)

	assert.Empty(t, f.manager.Conclude(f.store), "empty root produces no card")
}

type recordingNotes struct {
	labels []string
}

func (r *recordingNotes) Tombstone(_ context.Context, label string) error {
	r.labels = append(r.labels, label)
	return nil
}

func TestDeleteCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nj := &storage.ProcessCard{ID: "a", NonJudicialized: true, NJIndex: 1, TreeAnswers: storage.NewScope()}
	other := &storage.ProcessCard{ID: "b", TreeAnswers: storage.NewScope(), SupervisorNote: "ver #NJ1 antes"}
	third := &storage.ProcessCard{ID: "c", TreeAnswers: storage.NewScope()}
	f.store.SavedCards = []*storage.ProcessCard{nj, other, third}
	f.store.SelectedSummaryCards = []string{"a", "c"}
	editing := 2
	f.store.EditingIndex = &editing

	ok, err := f.manager.DeleteCard(ctx, f.store, 0, CardNotes{Store: f.store})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, f.store.SavedCards, 2)
	assert.Equal(t, []string{"c"}, f.store.SelectedSummaryCards)
	idx, _ := f.store.Editing()
	assert.Equal(t, 1, idx)
	assert.Equal(t, "ver ~~#NJ1~~ antes", other.SupervisorNote)

	notes := &recordingNotes{}
	ok, err = f.manager.DeleteCard(ctx, f.store, 1, notes)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, f.store.EditingIndex)
	assert.Empty(t, notes.labels, "card without label leaves notes untouched")

	ok, err = f.manager.DeleteCard(ctx, f.store, 7, notes)
	assert.NoError(t, err)
	assert.False(t, ok)
}
