package bot

import (
	"context"
	"log"
	"strings"
	"time"

	"algotrade/internal/broker"
	"algotrade/internal/models"
	"algotrade/pkg/retry"
	"algotrade/pkg/utils"
)

// Notifier - выход живой проекции состояния в real-time транспорт.
// Реализуется websocket-хабом; движок не знает о формате доставки.
type Notifier interface {
	PublishLiveData(data models.LiveData)
	PublishPrice(quote models.PriceQuote)
}

// ReconcilerConfig - параметры корректирующих действий
type ReconcilerConfig struct {
	// ReopenMaxAttempts - сколько раз сканировать историю в поисках
	// закрывшего события (default: 10)
	ReopenMaxAttempts int
	// ReopenInterval - пауза между сканированиями (default: 2s)
	ReopenInterval time.Duration
	// HistoryScanDepth - сколько последних записей истории читать
	// за одно сканирование (default: 20)
	HistoryScanDepth int
	// PriceEpsilon - допуск сравнения уровней SL/TP/цены (default: 1e-9)
	PriceEpsilon float64
	// ActionTimeout - таймаут одного корректирующего вызова (default: 30s)
	ActionTimeout time.Duration
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.ReopenMaxAttempts <= 0 {
		c.ReopenMaxAttempts = 10
	}
	if c.ReopenInterval <= 0 {
		c.ReopenInterval = 2 * time.Second
	}
	if c.HistoryScanDepth <= 0 {
		c.HistoryScanDepth = 20
	}
	if c.PriceEpsilon <= 0 {
		c.PriceEpsilon = 1e-9
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
}

// reconciler - процесс реконсиляции одного счёта.
//
// Держит зеркало состояния терминала: "что движок считает правдой".
// Каждый проход заново перечитывает состояние брокера и сравнивает
// с зеркалом, поэтому пересекающиеся во времени проходы безопасны;
// от двойных корректировок одной сущности защищает guard.
//
// Ошибки корректировок терминальны для одной попытки: логируются
// и никогда не роняют процесс счёта.
type reconciler struct {
	account *models.AccountConfig
	session broker.Session
	guard   *Guard
	notify  Notifier
	cfg     ReconcilerConfig

	// Зеркало: id -> последний подтверждённый снапшот
	mirrorPositions map[string]broker.PositionSnapshot
	mirrorOrders    map[string]broker.OrderSnapshot
}

func newReconciler(account *models.AccountConfig, session broker.Session, guard *Guard, notify Notifier, cfg ReconcilerConfig) *reconciler {
	cfg.applyDefaults()
	return &reconciler{
		account:         account,
		session:         session,
		guard:           guard,
		notify:          notify,
		cfg:             cfg,
		mirrorPositions: make(map[string]broker.PositionSnapshot),
		mirrorOrders:    make(map[string]broker.OrderSnapshot),
	}
}

// pass выполняет один проход diff-and-correct.
//
// Порядок фиксированный: новые в зеркало, пропавшие на reopen,
// дрейфанувшие на revert, непомеченные на закрытие, в конце трансляция
// проекции.
func (r *reconciler) pass(ctx context.Context) {
	started := time.Now()
	defer func() {
		ReconciliationPasses.WithLabelValues(r.account.Key()).Inc()
		ReconciliationDuration.Observe(float64(time.Since(started).Milliseconds()))
	}()

	positions := r.session.Positions()
	orders := r.session.Orders()

	r.reconcilePositions(ctx, positions)
	r.reconcileOrders(ctx, orders)
	r.closeExternal(ctx, positions, orders)

	MirroredEntities.WithLabelValues(r.account.Key(), "position").Set(float64(len(r.mirrorPositions)))
	MirroredEntities.WithLabelValues(r.account.Key(), "pending_order").Set(float64(len(r.mirrorOrders)))

	r.publishLiveData(positions, orders)
}

// ============================================================
// Позиции
// ============================================================

func (r *reconciler) reconcilePositions(ctx context.Context, current []broker.PositionSnapshot) {
	seen := make(map[string]struct{}, len(current))

	for _, pos := range current {
		seen[pos.ID] = struct{}{}

		baseline, known := r.mirrorPositions[pos.ID]
		if !known {
			// Первое появление: снапшот становится базовой линией
			r.mirrorPositions[pos.ID] = pos
			continue
		}

		if r.positionDrifted(baseline, pos) {
			r.revertPosition(ctx, baseline)
		}
	}

	// Пропавшие из терминала: управляемые пробуем переоткрыть
	for id, baseline := range r.mirrorPositions {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(r.mirrorPositions, id)

		if HasManagedTag(baseline.ClientID, baseline.Comment) {
			go r.reopenPosition(ctx, baseline)
		}
	}
}

// positionDrifted сравнивает позицию с базовой линией: уровни SL/TP
// и цена открытия (терминал может переписать её при частичном закрытии)
func (r *reconciler) positionDrifted(baseline, current broker.PositionSnapshot) bool {
	return !utils.ApproxEqual(baseline.StopLoss, current.StopLoss, r.cfg.PriceEpsilon) ||
		!utils.ApproxEqual(baseline.TakeProfit, current.TakeProfit, r.cfg.PriceEpsilon) ||
		!utils.ApproxEqual(baseline.OpenPrice, current.OpenPrice, r.cfg.PriceEpsilon)
}

// revertPosition возвращает уровни позиции к базовой линии.
//
// Зеркало остаётся на базовой линии независимо от исхода: при провале
// следующий проход увидит тот же дрейф и повторит попытку. Валидность
// базовых уровней относительно текущей цены не перепроверяется.
func (r *reconciler) revertPosition(ctx context.Context, baseline broker.PositionSnapshot) {
	key := guardKey(r.account.Key(), baseline.ID)
	if !r.guard.TryAcquire(key) {
		CorrectiveActions.WithLabelValues("revert", "skipped").Inc()
		return
	}
	defer r.guard.Release(key)

	actionCtx, cancel := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancel()

	err := r.session.ModifyPosition(actionCtx, baseline.ID, baseline.StopLoss, baseline.TakeProfit)
	if err != nil {
		if broker.IsNotFound(err) {
			// Позиция успела закрыться, её подхватит ветка removed
			CorrectiveActions.WithLabelValues("revert", "skipped").Inc()
			return
		}
		log.Printf("[reconcile %s] revert position %s failed: %v", r.account.Key(), baseline.ID, err)
		CorrectiveActions.WithLabelValues("revert", "failed").Inc()
		return
	}

	log.Printf("[reconcile %s] reverted external modification of position %s (sl=%.5f tp=%.5f)",
		r.account.Key(), baseline.ID, baseline.StopLoss, baseline.TakeProfit)
	CorrectiveActions.WithLabelValues("revert", "success").Inc()
}

// reopenPosition пытается переоткрыть управляемую позицию, закрытую
// внешним действием.
//
// История терминала отстаёт от стрима, поэтому закрывшая сделка ищется
// с фиксированным шагом: до ReopenMaxAttempts попыток через
// ReopenInterval. Закрытия по стопу, тейку, команде движка или
// margin-stop'у переоткрытию не подлежат. Исчерпание попыток - тихий
// отказ с логом: корректировка best-effort, её никто не ждёт.
// Контекст наследуется от цикла счёта: отключение счёта обрывает скан.
func (r *reconciler) reopenPosition(ctx context.Context, baseline broker.PositionSnapshot) {
	key := guardKey(r.account.Key(), baseline.ID)
	if !r.guard.TryAcquire(key) {
		CorrectiveActions.WithLabelValues("reopen", "skipped").Inc()
		return
	}
	defer r.guard.Release(key)

	scanCtx, cancel := context.WithTimeout(ctx,
		time.Duration(r.cfg.ReopenMaxAttempts+1)*r.cfg.ReopenInterval+r.cfg.ActionTimeout)
	defer cancel()

	closing, err := retry.DoWithResult(scanCtx, func() (*broker.Deal, error) {
		return r.findClosingDeal(scanCtx, baseline.ID)
	}, retry.FixedIntervalConfig(r.cfg.ReopenMaxAttempts, r.cfg.ReopenInterval))

	if err != nil {
		log.Printf("[reconcile %s] reopen of position %s abandoned: %v", r.account.Key(), baseline.ID, err)
		CorrectiveActions.WithLabelValues("reopen", "gave_up").Inc()
		return
	}
	if closing == nil {
		// Закрытие легитимное, переоткрывать нечего
		CorrectiveActions.WithLabelValues("reopen", "skipped").Inc()
		return
	}

	// Сторона переоткрытия противоположна закрывшей сделке
	side := models.SideBuy
	if strings.HasSuffix(closing.Type, "_BUY") {
		side = models.SideSell
	}

	spec := broker.OrderSpec{
		Symbol:     baseline.Symbol,
		Side:       side,
		OrderType:  models.OrderTypeMarket,
		Volume:     baseline.Volume,
		StopLoss:   baseline.StopLoss,
		TakeProfit: baseline.TakeProfit,
		Comment:    baseline.Comment,
		ClientID:   baseline.ClientID,
	}

	actionCtx, cancelAction := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancelAction()

	if _, err := r.session.CreateOrder(actionCtx, spec); err != nil {
		log.Printf("[reconcile %s] reopen of position %s failed: %v", r.account.Key(), baseline.ID, err)
		CorrectiveActions.WithLabelValues("reopen", "failed").Inc()
		return
	}

	log.Printf("[reconcile %s] reopened position %s as %s %s %.2f", r.account.Key(), baseline.ID, side, baseline.Symbol, baseline.Volume)
	CorrectiveActions.WithLabelValues("reopen", "success").Inc()
}

// findClosingDeal ищет в истории сделку, закрывшую позицию.
//
// Возвращает:
//   - (deal, nil): нашлась сделка закрытия внешним действием
//   - (nil, nil): закрытие легитимное (стоп, тейк, движок, margin)
//   - (nil, err): в прочитанной истории события ещё нет, нужен retry
func (r *reconciler) findClosingDeal(ctx context.Context, positionID string) (*broker.Deal, error) {
	deals, err := r.session.RecentDeals(ctx, r.cfg.HistoryScanDepth)
	if err != nil {
		return nil, err
	}

	for i := range deals {
		deal := deals[i]
		if deal.PositionID != positionID || deal.EntryType != broker.DealEntryOut {
			continue
		}

		switch deal.Reason {
		case broker.DealReasonSL, broker.DealReasonTP, broker.DealReasonExpert, broker.DealReasonMargin:
			return nil, nil
		}
		return &deal, nil
	}

	return nil, errHistoryPending
}

// ============================================================
// Отложенные ордера
// ============================================================

func (r *reconciler) reconcileOrders(ctx context.Context, current []broker.OrderSnapshot) {
	seen := make(map[string]struct{}, len(current))

	for _, ord := range current {
		seen[ord.ID] = struct{}{}

		baseline, known := r.mirrorOrders[ord.ID]
		if !known {
			r.mirrorOrders[ord.ID] = ord
			continue
		}

		if r.orderDrifted(baseline, ord) {
			r.revertOrder(ctx, baseline)
		}
	}

	for id, baseline := range r.mirrorOrders {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(r.mirrorOrders, id)

		if HasManagedTag(baseline.ClientID, baseline.Comment) {
			go r.reopenOrder(ctx, baseline)
		}
	}
}

// orderDrifted сравнивает отложник с базовой линией: у отложенного
// ордера внешне может дрейфовать и цена входа
func (r *reconciler) orderDrifted(baseline, current broker.OrderSnapshot) bool {
	return !utils.ApproxEqual(baseline.StopLoss, current.StopLoss, r.cfg.PriceEpsilon) ||
		!utils.ApproxEqual(baseline.TakeProfit, current.TakeProfit, r.cfg.PriceEpsilon) ||
		!utils.ApproxEqual(baseline.OpenPrice, current.OpenPrice, r.cfg.PriceEpsilon)
}

func (r *reconciler) revertOrder(ctx context.Context, baseline broker.OrderSnapshot) {
	key := guardKey(r.account.Key(), baseline.ID)
	if !r.guard.TryAcquire(key) {
		CorrectiveActions.WithLabelValues("revert", "skipped").Inc()
		return
	}
	defer r.guard.Release(key)

	actionCtx, cancel := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancel()

	err := r.session.ModifyOrder(actionCtx, baseline.ID, baseline.OpenPrice, baseline.StopLoss, baseline.TakeProfit)
	if err != nil {
		if broker.IsNotFound(err) {
			CorrectiveActions.WithLabelValues("revert", "skipped").Inc()
			return
		}
		log.Printf("[reconcile %s] revert order %s failed: %v", r.account.Key(), baseline.ID, err)
		CorrectiveActions.WithLabelValues("revert", "failed").Inc()
		return
	}

	log.Printf("[reconcile %s] reverted external modification of order %s", r.account.Key(), baseline.ID)
	CorrectiveActions.WithLabelValues("revert", "success").Inc()
}

// reopenOrder восстанавливает управляемый отложник, отменённый извне.
//
// Заполненный отложник переоткрытию не подлежит: он стал позицией и
// дальше живёт в её ветке.
func (r *reconciler) reopenOrder(ctx context.Context, baseline broker.OrderSnapshot) {
	key := guardKey(r.account.Key(), baseline.ID)
	if !r.guard.TryAcquire(key) {
		CorrectiveActions.WithLabelValues("reopen", "skipped").Inc()
		return
	}
	defer r.guard.Release(key)

	scanCtx, cancel := context.WithTimeout(ctx,
		time.Duration(r.cfg.ReopenMaxAttempts+1)*r.cfg.ReopenInterval+r.cfg.ActionTimeout)
	defer cancel()

	canceled, err := retry.DoWithResult(scanCtx, func() (bool, error) {
		return r.wasCanceled(scanCtx, baseline.ID)
	}, retry.FixedIntervalConfig(r.cfg.ReopenMaxAttempts, r.cfg.ReopenInterval))

	if err != nil {
		log.Printf("[reconcile %s] reopen of order %s abandoned: %v", r.account.Key(), baseline.ID, err)
		CorrectiveActions.WithLabelValues("reopen", "gave_up").Inc()
		return
	}
	if !canceled {
		CorrectiveActions.WithLabelValues("reopen", "skipped").Inc()
		return
	}

	side, orderType, ok := pendingSpec(baseline.Type)
	if !ok {
		log.Printf("[reconcile %s] cannot reopen order %s: unknown type %q", r.account.Key(), baseline.ID, baseline.Type)
		CorrectiveActions.WithLabelValues("reopen", "failed").Inc()
		return
	}

	spec := broker.OrderSpec{
		Symbol:     baseline.Symbol,
		Side:       side,
		OrderType:  orderType,
		Volume:     baseline.CurrentVolume,
		Price:      baseline.OpenPrice,
		StopLoss:   baseline.StopLoss,
		TakeProfit: baseline.TakeProfit,
		Comment:    baseline.Comment,
		ClientID:   baseline.ClientID,
	}

	actionCtx, cancelAction := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancelAction()

	if _, err := r.session.CreateOrder(actionCtx, spec); err != nil {
		log.Printf("[reconcile %s] reopen of order %s failed: %v", r.account.Key(), baseline.ID, err)
		CorrectiveActions.WithLabelValues("reopen", "failed").Inc()
		return
	}

	log.Printf("[reconcile %s] reopened canceled order %s (%s %s @ %.5f)",
		r.account.Key(), baseline.ID, side, baseline.Symbol, baseline.OpenPrice)
	CorrectiveActions.WithLabelValues("reopen", "success").Inc()
}

// wasCanceled проверяет по истории, был ли отложник отменён извне.
//
//   - (true, nil): отменён, нужно переоткрыть
//   - (false, nil): исполнен или отменён легитимно
//   - (false, err): истории ещё нет, нужен retry
func (r *reconciler) wasCanceled(ctx context.Context, orderID string) (bool, error) {
	history, err := r.session.RecentHistoryOrders(ctx, r.cfg.HistoryScanDepth)
	if err != nil {
		return false, err
	}

	for _, h := range history {
		if h.ID != orderID {
			continue
		}
		return h.State == broker.OrderStateCanceled, nil
	}

	return false, errHistoryPending
}

// pendingSpec восстанавливает сторону и тип заявки из типа отложника
func pendingSpec(orderType string) (side, kind string, ok bool) {
	switch orderType {
	case broker.OrderTypeBuyLimit:
		return models.SideBuy, models.OrderTypeLimit, true
	case broker.OrderTypeSellLimit:
		return models.SideSell, models.OrderTypeLimit, true
	case broker.OrderTypeBuyStop:
		return models.SideBuy, models.OrderTypeStop, true
	case broker.OrderTypeSellStop:
		return models.SideSell, models.OrderTypeStop, true
	}
	return "", "", false
}

// ============================================================
// Внешние сделки
// ============================================================

// closeExternal закрывает всё, что открыто не движком.
//
// Признак свой/чужой - маркер в clientId/комментарии либо
// reason=expert. Гонки с брокером (сущность уже закрыта) идемпотентно
// проглатываются.
func (r *reconciler) closeExternal(ctx context.Context, positions []broker.PositionSnapshot, orders []broker.OrderSnapshot) {
	for _, pos := range positions {
		if HasManagedTag(pos.ClientID, pos.Comment) || pos.Reason == broker.PositionReasonExpert {
			continue
		}
		r.closeEntity(ctx, pos.ID, false)
	}

	for _, ord := range orders {
		if HasManagedTag(ord.ClientID, ord.Comment) || ord.Reason == broker.OrderReasonExpert {
			continue
		}
		r.closeEntity(ctx, ord.ID, true)
	}
}

func (r *reconciler) closeEntity(ctx context.Context, id string, pending bool) {
	key := guardKey(r.account.Key(), id)
	if !r.guard.TryAcquire(key) {
		CorrectiveActions.WithLabelValues("close_external", "skipped").Inc()
		return
	}
	defer r.guard.Release(key)

	actionCtx, cancel := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancel()

	var err error
	if pending {
		err = r.session.CancelOrder(actionCtx, id)
	} else {
		err = r.session.ClosePosition(actionCtx, id)
	}

	if err != nil {
		if broker.IsNotFound(err) {
			// Уже закрыта: цель достигнута
			CorrectiveActions.WithLabelValues("close_external", "success").Inc()
			return
		}
		log.Printf("[reconcile %s] close external entity %s failed: %v", r.account.Key(), id, err)
		CorrectiveActions.WithLabelValues("close_external", "failed").Inc()
		return
	}

	log.Printf("[reconcile %s] closed external entity %s", r.account.Key(), id)
	CorrectiveActions.WithLabelValues("close_external", "success").Inc()
}

// ============================================================
// Live-проекция
// ============================================================

// publishLiveData транслирует отфильтрованную проекцию состояния счёта
func (r *reconciler) publishLiveData(positions []broker.PositionSnapshot, orders []broker.OrderSnapshot) {
	if r.notify == nil {
		return
	}

	data := models.LiveData{
		AccountID:     r.account.AccountID,
		Positions:     make([]models.LivePosition, 0, len(positions)),
		PendingOrders: make([]models.LivePendingOrder, 0, len(orders)),
	}

	for _, p := range positions {
		data.Positions = append(data.Positions, models.LivePosition{
			ID:         p.ID,
			Type:       strings.TrimPrefix(p.Type, "POSITION_TYPE_"),
			Symbol:     p.Symbol,
			BrokerTime: p.BrokerTime.Format(time.RFC3339),
			OpenPrice:  p.OpenPrice,
			Volume:     p.Volume,
			Comment:    p.Comment,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			LiveProfit: p.Profit,
		})
	}

	for _, o := range orders {
		data.PendingOrders = append(data.PendingOrders, models.LivePendingOrder{
			ID:         o.ID,
			Type:       strings.TrimPrefix(o.Type, "ORDER_TYPE_"),
			Symbol:     o.Symbol,
			Time:       o.BrokerTime.Format(time.RFC3339),
			OpenPrice:  o.OpenPrice,
			Volume:     o.CurrentVolume,
			Comment:    o.Comment,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
		})
	}

	if info := r.session.AccountInfo(); info != nil {
		data.AccountInformation = &models.LiveAccountInfo{
			Platform:    info.Platform,
			Type:        info.Type,
			Broker:      info.Broker,
			Currency:    info.Currency,
			Server:      info.Server,
			Balance:     info.Balance,
			Equity:      info.Equity,
			Margin:      info.Margin,
			FreeMargin:  info.FreeMargin,
			Leverage:    info.Leverage,
			MarginLevel: info.MarginLevel,
			Name:        info.Name,
			Login:       info.Login,
		}
	}

	r.notify.PublishLiveData(data)
}
