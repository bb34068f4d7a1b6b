package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nowlex-decision-tree/internal/config"
	"nowlex-decision-tree/internal/generation"
	"nowlex-decision-tree/internal/inventory"
	"nowlex-decision-tree/internal/metrics"
	"nowlex-decision-tree/internal/session"
	"nowlex-decision-tree/internal/storage"
	"nowlex-decision-tree/internal/supervision"
	"nowlex-decision-tree/internal/tree"
)

var (
	inventoryPath string

	walkAnswers     []string
	walkContracts   []string
	walkMonitoria   string
	walkAddCards    int
	walkCardAnswers []string
	walkCaseNumbers []string

	cardsConclude bool
	cardsNew      bool
	cardsEdit     int
	cardsDelete   int

	reviewCard        string
	reviewCycle       bool
	reviewUnderReview string
	reviewBlock       bool
	reviewStartDate   string
	reviewReturnDate  string
	reviewClearBlock  bool
	reviewConclude    bool

	generateDocument       string
	generateSelect         []string
	generateIncludeGeneral bool

	rootCmd = &cobra.Command{
		Use:   "nowlex-decision-tree",
		Short: "Дерево решений для анализа процессов",
		Long: `Ветвящаяся анкета анализа дела: ответы, карточки связанных
процессов, супервизия и генерация петиций.`,
		SilenceUsage: true,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Загружает и проверяет конфигурацию дерева",
		RunE:  runValidate,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Показывает процессы с сохраненным анализом",
		RunE:  runList,
	}

	walkCmd = &cobra.Command{
		Use:   "walk",
		Short: "Применяет ответы и показывает цепочку вопросов",
		RunE:  runWalk,
	}

	cardsCmd = &cobra.Command{
		Use:   "cards",
		Short: "Показывает и изменяет сохраненные карточки",
		RunE:  runCards,
	}

	reviewCmd = &cobra.Command{
		Use:   "review",
		Short: "Действия супервизии над сохраненной карточкой",
		RunE:  runReview,
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Запрашивает генерацию документа",
		RunE:  runGenerate,
	}
)

func registerCommands() {
	for _, cmd := range []*cobra.Command{walkCmd, cardsCmd, reviewCmd, generateCmd} {
		cmd.Flags().StringVar(&inventoryPath, "inventory", "", "JSON файл с инвентарем контрактов")
	}

	walkCmd.Flags().StringArrayVarP(&walkAnswers, "answer", "a", nil, "ответ в формате ключ=значение (можно повторять)")
	walkCmd.Flags().StringSliceVar(&walkContracts, "contract", nil, "контракты, отмеченные выбранными в инвентаре")
	walkCmd.Flags().StringVar(&walkMonitoria, "monitoria", "", "выбор монитории в формате ключ=id1,id2")
	walkCmd.Flags().IntVar(&walkAddCards, "add-card", 0, "сколько связанных процессов добавить")
	walkCmd.Flags().StringArrayVar(&walkCardAnswers, "card-answer", nil, "ответ связанного процесса в формате i:ключ=значение")
	walkCmd.Flags().StringArrayVar(&walkCaseNumbers, "card-cnj", nil, "номер связанного процесса в формате i:номер")

	cardsCmd.Flags().BoolVar(&cardsConclude, "conclude", false, "завершить текущий анализ")
	cardsCmd.Flags().BoolVar(&cardsNew, "new", false, "начать новый анализ")
	cardsCmd.Flags().IntVar(&cardsEdit, "edit", -1, "открыть карточку i для редактирования")
	cardsCmd.Flags().IntVar(&cardsDelete, "delete", -1, "удалить карточку i")

	reviewCmd.Flags().StringVar(&reviewCard, "card", "", "идентификатор карточки")
	reviewCmd.Flags().BoolVar(&reviewCycle, "cycle", false, "переключить статус супервизии")
	reviewCmd.Flags().StringVar(&reviewUnderReview, "under-review", "", "отправить (true) или снять (false) с проверки")
	reviewCmd.Flags().BoolVar(&reviewBlock, "block", false, "переключить блокировку")
	reviewCmd.Flags().StringVar(&reviewStartDate, "start-date", "", "дата начала блокировки (ГГГГ-ММ-ДД)")
	reviewCmd.Flags().StringVar(&reviewReturnDate, "return-date", "", "дата возврата (ГГГГ-ММ-ДД)")
	reviewCmd.Flags().BoolVar(&reviewClearBlock, "clear-block", false, "очистить дату начала блокировки")
	reviewCmd.Flags().BoolVar(&reviewConclude, "conclude", false, "завершить проверку")
	_ = reviewCmd.MarkFlagRequired("card")

	generateCmd.Flags().StringVarP(&generateDocument, "document", "d", string(generation.DocumentMonitoria), "тип документа")
	generateCmd.Flags().StringSliceVar(&generateSelect, "select", nil, "карточки, включаемые в резюме")
	generateCmd.Flags().BoolVar(&generateIncludeGeneral, "include-general", false, "включить общий снимок")
	generateCmd.Flags().StringSliceVar(&walkContracts, "contract", nil, "контракты, отмеченные выбранными в инвентаре")

	rootCmd.AddCommand(validateCmd, listCmd, walkCmd, cardsCmd, reviewCmd, generateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadTree(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("✅ Дерево загружено: %d вопросов, корень %q\n", len(cfg.Questions), cfg.Root)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ids, err := storage.NewFileField(appCfg.Storage.ResultsDir).List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("📭 Сохраненных анализов нет")
		return nil
	}
	for _, id := range ids {
		fmt.Printf("• %s\n", id)
	}
	return nil
}

func runWalk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, closeFn, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, id := range walkContracts {
		if err := s.SetContractStatus(strings.TrimSpace(id), true, false); err != nil {
			return err
		}
	}
	for _, raw := range walkAnswers {
		key, value, err := splitPair(raw, "=")
		if err != nil {
			return err
		}
		if err := s.Answer(key, value); err != nil {
			return fmt.Errorf("ответ %s: %w", key, err)
		}
	}
	if walkMonitoria != "" {
		key, list, err := splitPair(walkMonitoria, "=")
		if err != nil {
			return err
		}
		if err := s.SelectContracts(key, splitList(list)); err != nil {
			return fmt.Errorf("выбор %s: %w", key, err)
		}
	}
	for i := 0; i < walkAddCards; i++ {
		if _, err := s.AddCard(); err != nil {
			return err
		}
	}
	for _, raw := range walkCardAnswers {
		i, rest, err := splitIndex(raw)
		if err != nil {
			return err
		}
		key, value, err := splitPair(rest, "=")
		if err != nil {
			return err
		}
		if err := s.AnswerCard(i, key, value); err != nil {
			return fmt.Errorf("связанный процесс %d, ответ %s: %w", i, key, err)
		}
	}
	for _, raw := range walkCaseNumbers {
		i, number, err := splitIndex(raw)
		if err != nil {
			return err
		}
		formatted, err := s.SetCardCaseNumber(i, number)
		if err != nil {
			fmt.Printf("⚠️ %s: %v\n", formatted, err)
		}
	}

	printNodes(s.Nodes(), "")
	for i := 0; ; i++ {
		nodes, err := s.CardNodes(i)
		if err != nil {
			break
		}
		fmt.Printf("\n🔗 Связанный процесс %d\n", i)
		printNodes(nodes, "  ")
	}
	return nil
}

func runCards(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, closeFn, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	switch {
	case cardsConclude:
		frozen := s.ConcludeAnalysis()
		fmt.Printf("✅ Анализ завершен, карточек: %d\n", len(frozen))
	case cardsNew:
		s.StartNewAnalysis()
		fmt.Println("✅ Начат новый анализ")
	case cardsEdit >= 0:
		if !s.EditCard(cardsEdit) {
			return fmt.Errorf("карточка %d не найдена", cardsEdit)
		}
		fmt.Printf("✏️ Карточка %d открыта для редактирования\n", cardsEdit)
	case cardsDelete >= 0:
		if err := s.DeleteCard(ctx, cardsDelete); err != nil {
			return err
		}
		fmt.Printf("🗑️ Карточка %d удалена\n", cardsDelete)
	}

	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	printCards(snap)
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, closeFn, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	err = s.Supervise(reviewCard, func(w *supervision.Workflow, card *storage.ProcessCard) error {
		if reviewUnderReview != "" {
			on, err := strconv.ParseBool(reviewUnderReview)
			if err != nil {
				return fmt.Errorf("некорректное значение --under-review: %w", err)
			}
			w.SetUnderReview(card, on)
		}
		if reviewCycle {
			w.CycleStatus(card)
		}
		if reviewBlock {
			w.ToggleBlocked(card)
		}
		if reviewStartDate != "" {
			if err := w.SetStartDate(card, reviewStartDate); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("return-date") {
			if err := w.SetReturnDate(card, reviewReturnDate); err != nil {
				return err
			}
		}
		if reviewClearBlock {
			w.ClearBlock(card)
		}
		if reviewConclude {
			return w.ConcludeReview(card)
		}
		return nil
	})
	if err != nil {
		return err
	}

	queue := s.ReviewQueue()
	fmt.Printf("👀 На проверке: %d\n", len(queue))
	for _, c := range queue {
		fmt.Printf("• %s [%s] ожидает подтверждения: %v\n", cardLabel(c), c.Status(), c.AwaitingReviewConfirmation)
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	doc, err := generation.ParseDocumentType(generateDocument)
	if err != nil {
		return err
	}
	s, closeFn, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, id := range walkContracts {
		if err := s.SetContractStatus(strings.TrimSpace(id), true, false); err != nil {
			return err
		}
	}
	for _, id := range generateSelect {
		if _, err := s.ToggleSummaryCard(strings.TrimSpace(id)); err != nil {
			return err
		}
	}

	fmt.Printf("📄 Контракты: %s\n", strings.Join(s.Aggregate(generateIncludeGeneral), ", "))
	resp, err := s.GenerateDocuments(ctx, doc, generateIncludeGeneral)
	if resp != nil {
		for _, d := range resp.Documents {
			if d.OK {
				fmt.Printf("✅ %s %s\n", d.Document, d.URL)
			} else {
				fmt.Printf("❌ %s: %s\n", d.Document, d.Error)
			}
		}
	}
	if err != nil {
		return err
	}
	fmt.Println("✅ Документы сгенерированы")
	return nil
}

// openSession открывает сессию процесса со всеми зависимостями окружения
func openSession(ctx context.Context) (*session.Session, func(), error) {
	if processID == "" {
		return nil, nil, fmt.Errorf("укажите процесс через --process")
	}

	cfg, err := loadTree(ctx)
	if err != nil {
		// без дерева сессия открывается, но анкета отключена
		logger.Error("дерево недоступно", "error", err)
	}

	var list inventory.List
	if inventoryPath != "" {
		list, err = inventory.Load(inventoryPath)
		if err != nil {
			return nil, nil, err
		}
	}

	drafts, err := storage.OpenDraftCache(appCfg.Storage.DraftDBPath)
	if err != nil {
		logger.Warn("локальные черновики отключены", "error", err)
		drafts = nil
	}

	s, err := session.Open(ctx, session.Options{
		ProcessID: processID,
		Tree:      cfg,
		Inventory: list,
		Field:     storage.NewFileField(appCfg.Storage.ResultsDir),
		Drafts:    drafts,
		Generator: generation.NewClient(
			appCfg.Generation.BaseURL,
			appCfg.Generation.Timeout,
			appCfg.Generation.RequestsPerMin,
			logger,
		),
		Metrics:       appMetrics,
		Logger:        logger,
		AutosaveDelay: appCfg.Storage.AutosaveDelay,
	})
	if err != nil {
		if drafts != nil {
			_ = drafts.Close()
		}
		return nil, nil, err
	}

	closeFn := func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("ошибка сохранения анализа", "error", err)
		} else {
			fmt.Printf("💾 Анализ сохранен в %s\n", appCfg.Storage.ResultsDir)
		}
		if drafts != nil {
			_ = drafts.Close()
		}
	}
	return s, closeFn, nil
}

func loadTree(ctx context.Context) (*config.TreeConfig, error) {
	if appCfg.Tree.URL != "" {
		client := &http.Client{Timeout: appCfg.Generation.Timeout}
		return config.Fetch(ctx, client, appCfg.Tree.URL)
	}
	return config.Load(appCfg.Tree.Path)
}

func printNodes(nodes []tree.Node, indent string) {
	for _, n := range nodes {
		switch n.Kind {
		case tree.KindError:
			fmt.Printf("%s❌ %s\n", indent, n.Text)
			continue
		case tree.KindNotice:
			fmt.Printf("%s⚠️ %s\n", indent, n.Text)
			continue
		}

		mark := "○"
		if n.Answered {
			mark = "●"
		}
		fmt.Printf("%s%s [%s] %s", indent, mark, n.Key, n.Text)
		if n.Value != "" {
			fmt.Printf(" → %s", n.Value)
		}
		fmt.Println()

		for _, o := range n.Options {
			if o.Disabled {
				fmt.Printf("%s    ✗ %s (%s)\n", indent, o.Label, o.Reason)
				continue
			}
			fmt.Printf("%s    • %s\n", indent, o.Label)
		}
		for _, c := range n.Contracts {
			fmt.Printf("%s    □ %s (%s)\n", indent, c.ID, c.Number)
		}
	}
}

func printCards(store *storage.ResponseStore) {
	if len(store.SavedCards) == 0 {
		fmt.Println("📭 Сохраненных карточек нет")
	}
	for i, c := range store.SavedCards {
		blocked := ""
		if c.Blocked.Active {
			blocked = " 🔒"
		}
		fmt.Printf("%d. %s [%s]%s контракты: %s (id %s)\n",
			i, cardLabel(c), c.Status(), blocked, strings.Join(c.AllContracts(), ", "), c.ID)
	}
	if i, ok := store.Editing(); ok {
		fmt.Printf("✏️ Редактируется: %d\n", i)
	}
	if store.GeneralSnapshot != nil {
		fmt.Printf("📸 Общий снимок: %s\n", strings.Join(store.GeneralSnapshot.AllContracts(), ", "))
	}
}

func printMetrics(m metrics.Snapshot) {
	fmt.Println("\n📊 Метрики:")
	fmt.Printf("• Ответов: %d\n", m.AnswersRecorded)
	fmt.Printf("• Завершено анализов: %d\n", m.AnalysesConcluded)
	fmt.Printf("• Карточек сохранено: %d, удалено: %d\n", m.CardsSaved, m.CardsDeleted)
	fmt.Printf("• Генераций: %d (успешно %d, отклонено %d)\n", m.GenerationsTotal, m.GenerationsSucceeded, m.GenerationsRefused)
}

func cardLabel(c *storage.ProcessCard) string {
	if l := c.Label(); l != "" {
		return l
	}
	return "(без номера)"
}

func splitPair(raw, sep string) (string, string, error) {
	key, value, ok := strings.Cut(raw, sep)
	if !ok || strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("неверный формат %q, ожидается ключ%sзначение", raw, sep)
	}
	return strings.TrimSpace(key), value, nil
}

func splitIndex(raw string) (int, string, error) {
	idx, rest, err := splitPair(raw, ":")
	if err != nil {
		return 0, "", err
	}
	i, err := strconv.Atoi(idx)
	if err != nil {
		return 0, "", fmt.Errorf("неверный индекс %q: %w", idx, err)
	}
	return i, rest, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
