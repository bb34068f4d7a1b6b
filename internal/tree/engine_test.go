package tree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/inventory"
	"nowlex-decision-tree/internal/logging"
	"nowlex-decision-tree/internal/storage"
)

var fixedNow = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

func loadTree(t *testing.T) *config.TreeConfig {
	t.Helper()
	cfg, err := config.Load("../../config/tree.yaml")
	require.NoError(t, err)
	return cfg
}

func testInventory() inventory.List {
	return inventory.List{
		{ID: "42", Number: "CT-42"},
		{ID: "7", Number: "CT-7"},
		{ID: "9", Number: "CT-9"},
	}
}

func newEngine(t *testing.T, scope *storage.Scope, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(logging.Discard()),
		WithInventory(testInventory()),
	}
	e := New(loadTree(t), scope, append(base, opts...)...)
	e.Start()
	return e
}

func keys(e *Engine) []string {
	var out []string
	for _, n := range e.Nodes() {
		out = append(out, n.Key)
	}
	return out
}

func TestStartRendersUntilFirstUnansweredQuestion(t *testing.T) {
	e := newEngine(t, storage.NewScope())
	assert.Equal(t, []string{"inicio", "judicializado_pela_massa"}, keys(e))

	n, ok := e.Node("judicializado_pela_massa")
	require.True(t, ok)
	assert.False(t, n.Answered)
	require.Len(t, n.Options, 2)
	assert.Equal(t, "NÃO", n.Options[1].Label)
}

func TestChangeFollowsChosenBranch(t *testing.T) {
	scope := storage.NewScope()
	e := newEngine(t, scope)

	require.NoError(t, e.Change("judicializado_pela_massa", "não"))
	assert.Equal(t, "NÃO", scope.Answers["judicializado_pela_massa"], "label is stored in its configured form")
	assert.Equal(t, []string{"inicio", "judicializado_pela_massa", "propor_monitoria"}, keys(e))

	require.NoError(t, e.Change("propor_monitoria", "SIM"))
	assert.Equal(t, "contratos_monitoria", keys(e)[3])
}

func TestChangePrunesAbandonedBranch(t *testing.T) {
	scope := storage.NewScope()
	e := newEngine(t, scope)

	require.NoError(t, e.Change("judicializado_pela_massa", "SIM"))
	require.NoError(t, e.Change("tipo_de_acao", "Cobrança"))
	require.NoError(t, e.Change("julgamento", "Procedente"))
	require.NoError(t, e.Change("data_transito_julgado", "2025-01-10"))
	require.NoError(t, e.Change("cumprimento_de_sentenca", "Aguardar"))
	require.NoError(t, e.Change("observacoes", "ok"))
	assert.Len(t, scope.Answers, 6)

	require.NoError(t, e.Change("julgamento", "Improcedente"))
	assert.Equal(t, map[string]string{
		"judicializado_pela_massa": "SIM",
		"tipo_de_acao":             "Cobrança",
		"julgamento":               "Improcedente",
	}, scope.Answers)
	assert.Equal(t, []string{"inicio", "judicializado_pela_massa", "tipo_de_acao", "julgamento", "observacoes"}, keys(e))

	require.NoError(t, e.Change("judicializado_pela_massa", "NÃO"))
	assert.Equal(t, map[string]string{"judicializado_pela_massa": "NÃO"}, scope.Answers)
}

func TestChangeWithSameValueKeepsDescendants(t *testing.T) {
	scope := storage.NewScope()
	e := newEngine(t, scope)

	require.NoError(t, e.Change("judicializado_pela_massa", "NÃO"))
	require.NoError(t, e.Change("propor_monitoria", "NÃO"))
	require.NoError(t, e.Change("judicializado_pela_massa", "não"))
	assert.Equal(t, "NÃO", scope.Answers["propor_monitoria"])
}

func TestClearingAnswerStopsTheChain(t *testing.T) {
	scope := storage.NewScope()
	e := newEngine(t, scope)

	require.NoError(t, e.Change("judicializado_pela_massa", "NÃO"))
	require.NoError(t, e.Change("propor_monitoria", "NÃO"))
	require.NoError(t, e.Change("judicializado_pela_massa", ""))

	assert.Empty(t, scope.Answers)
	assert.Equal(t, []string{"inicio", "judicializado_pela_massa"}, keys(e))
}

func TestChangeErrors(t *testing.T) {
	e := newEngine(t, storage.NewScope())

	assert.ErrorIs(t, e.Change("nope", "x"), ErrUnknownQuestion)
	assert.ErrorIs(t, e.Change("inicio", "x"), ErrNotAnswerable)
	assert.ErrorIs(t, e.Change("propor_monitoria", "SIM"), ErrNotRendered)
	assert.ErrorIs(t, e.Change("judicializado_pela_massa", "talvez"), ErrInvalidOption)

	require.NoError(t, e.Change("judicializado_pela_massa", "SIM"))
	require.NoError(t, e.Change("tipo_de_acao", "Cobrança"))
	require.NoError(t, e.Change("julgamento", "Procedente"))
	assert.ErrorIs(t, e.Change("data_transito_julgado", "10/01/2020"), ErrInvalidDate)
}

func TestRenderUnknownKeyIsNoop(t *testing.T) {
	e := newEngine(t, storage.NewScope())
	before := keys(e)
	e.Render("missing")
	assert.Equal(t, before, keys(e))
}

func TestContractMultiselect(t *testing.T) {
	scope := storage.NewScope()
	scope.ContractStatus["42"] = storage.ContractStatus{Selected: true}
	scope.ContractStatus["7"] = storage.ContractStatus{Selected: true, PaidOff: true}
	e := newEngine(t, scope)

	require.NoError(t, e.Change("judicializado_pela_massa", "NÃO"))
	require.NoError(t, e.Change("propor_monitoria", "SIM"))

	n, ok := e.Node("contratos_monitoria")
	require.True(t, ok)
	assert.Equal(t, []string{"42", "7"}, n.Contracts.IDs())

	assert.ErrorIs(t, e.SelectContracts("contratos_monitoria", []string{"9"}), ErrContractUnavailable)
	assert.ErrorIs(t, e.SelectContracts("propor_monitoria", []string{"42"}), ErrNotAnswerable)

	require.NoError(t, e.SelectContracts("contratos_monitoria", []string{"42", "42", "7"}))
	assert.Equal(t, []string{"42", "7"}, scope.MonitoriaContracts)
	assert.True(t, scope.MonitoriaEnabled)
	n, _ = e.Node("contratos_monitoria")
	assert.Equal(t, []string{"42", "7"}, n.Selected)

	// mudar a resposta acima descarta a seleção
	require.NoError(t, e.Change("propor_monitoria", "NÃO"))
	assert.Empty(t, scope.MonitoriaContracts)
	assert.False(t, scope.MonitoriaEnabled)
	assert.False(t, e.Rendered("contratos_monitoria"))
}

func toEnforcement(t *testing.T, e *Engine, transit string) {
	t.Helper()
	require.NoError(t, e.Change("judicializado_pela_massa", "SIM"))
	require.NoError(t, e.Change("tipo_de_acao", "Cobrança"))
	require.NoError(t, e.Change("julgamento", "Procedente"))
	require.NoError(t, e.Change("data_transito_julgado", transit))
}

func TestPrescriptionDisablesStartEnforcement(t *testing.T) {
	scope := storage.NewScope()
	e := newEngine(t, scope)
	toEnforcement(t, e, "2020-03-01")

	n, ok := e.Node("cumprimento_de_sentenca")
	require.True(t, ok)
	require.Len(t, n.Options, 2)
	assert.True(t, n.Options[0].Disabled)
	assert.NotEmpty(t, n.Options[0].Reason)
	assert.False(t, n.Options[1].Disabled)

	err := e.Change("cumprimento_de_sentenca", "Iniciar cumprimento de sentença")
	assert.ErrorIs(t, err, ErrOptionDisabled)

	nodes := e.Nodes()
	last := nodes[len(nodes)-1]
	assert.Equal(t, KindNotice, last.Kind)
	assert.True(t, last.ReadOnly)
	assert.Equal(t, "cumprimento_de_sentenca", nodes[len(nodes)-2].Key)

	require.NoError(t, e.Change("cumprimento_de_sentenca", "Aguardar"))
	nodes = e.Nodes()
	assert.Equal(t, KindNotice, nodes[len(nodes)-2].Kind, "notice stays right under the enforcement question")
	assert.Equal(t, "observacoes", nodes[len(nodes)-1].Key)
}

func TestPrescriptionClearsSelectedStartEnforcement(t *testing.T) {
	scope := storage.NewScope()
	e := newEngine(t, scope)
	toEnforcement(t, e, "2024-05-01")

	require.NoError(t, e.Change("cumprimento_de_sentenca", "Iniciar cumprimento de sentença"))
	require.NoError(t, e.Change("observacoes", "texto"))

	require.NoError(t, e.Change("data_transito_julgado", "2019-05-01"))
	_, had := scope.Get("cumprimento_de_sentenca")
	assert.False(t, had)
	_, had = scope.Get("observacoes")
	assert.False(t, had)

	n, _ := e.Node("cumprimento_de_sentenca")
	assert.False(t, n.Answered)

	// data recente reabilita a opção e remove o aviso
	require.NoError(t, e.Change("data_transito_julgado", "2024-05-01"))
	n, _ = e.Node("cumprimento_de_sentenca")
	assert.False(t, n.Options[0].Disabled)
	for _, node := range e.Nodes() {
		assert.NotEqual(t, KindNotice, node.Kind)
	}
}

func TestPrescriptionBoundary(t *testing.T) {
	cases := map[string]bool{
		"2021-10-16": true,  // exatamente cinco anos
		"2021-10-17": false, // um dia a menos
		"2010-01-01": true,
		"2026-01-01": false,
	}
	for date, prescribed := range cases {
		t.Run(date, func(t *testing.T) {
			e := newEngine(t, storage.NewScope())
			toEnforcement(t, e, date)
			_, off := e.DisabledReason("cumprimento_de_sentenca", "iniciar cumprimento de sentença")
			assert.Equal(t, prescribed, off)
		})
	}
}

func TestPrescriptionClearedWhenUpstreamChanges(t *testing.T) {
	e := newEngine(t, storage.NewScope())
	toEnforcement(t, e, "2015-01-01")
	_, off := e.DisabledReason("cumprimento_de_sentenca", "Iniciar cumprimento de sentença")
	require.True(t, off)

	require.NoError(t, e.Change("julgamento", "Improcedente"))
	_, off = e.DisabledReason("cumprimento_de_sentenca", "Iniciar cumprimento de sentença")
	assert.False(t, off)
}

func TestLinkedProcessEditorRunsIsolatedCardEngines(t *testing.T) {
	root := storage.NewScope()
	cards := []*storage.Scope{storage.NewScope(), storage.NewScope()}
	e := newEngine(t, root, WithCards(func() []*storage.Scope { return cards }))

	require.NoError(t, e.Change("judicializado_pela_massa", "SIM"))
	require.NoError(t, e.Change("tipo_de_acao", "Execução"))

	n, ok := e.Node("processos_vinculados")
	require.True(t, ok)
	assert.Equal(t, 2, n.CardCount)
	assert.Equal(t, "processos_vinculados", keys(e)[len(keys(e))-1], "editor is terminal")

	first, ok := e.CardEngine(0)
	require.True(t, ok)
	assert.Equal(t, []string{"card_inicio", "card_fase"}, keys(first))

	require.NoError(t, first.Change("card_fase", "Execução"))
	require.NoError(t, first.Change("card_valor", "1000"))

	assert.Equal(t, map[string]string{"card_fase": "Execução", "card_valor": "1000"}, cards[0].Answers)
	assert.Empty(t, cards[1].Answers)
	_, leaked := root.Get("card_fase")
	assert.False(t, leaked)

	// nova renderização reaproveita o motor da carta
	e.Start()
	again, _ := e.CardEngine(0)
	assert.Same(t, first, again)

	_, ok = e.CardEngine(5)
	assert.False(t, ok)

	// trocar o tipo de ação descarta os motores das cartas
	require.NoError(t, e.Change("tipo_de_acao", "Cobrança"))
	_, ok = e.CardEngine(0)
	assert.False(t, ok)
}

func TestDisabledEngine(t *testing.T) {
	e := New(nil, storage.NewScope(), WithLogger(logging.Discard()))
	e.Start()

	nodes := e.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, KindError, nodes[0].Kind)
	assert.False(t, e.Enabled())
	assert.ErrorIs(t, e.Change("a", "b"), config.ErrConfigUnavailable)
	assert.ErrorIs(t, e.SelectContracts("a", nil), config.ErrConfigUnavailable)
}

func TestStartRestoresChainFromExistingAnswers(t *testing.T) {
	scope := storage.NewScope()
	scope.Set("judicializado_pela_massa", "NÃO")
	scope.Set("propor_monitoria", "NÃO")
	scope.Set("observacoes", "nota")

	e := newEngine(t, scope)
	assert.Equal(t, []string{"inicio", "judicializado_pela_massa", "propor_monitoria", "observacoes"}, keys(e))
	n, _ := e.Node("observacoes")
	assert.Equal(t, "nota", n.Value)
}
