package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"algotrade/internal/broker"
	"algotrade/internal/models"
)

// EngineConfig - настройки торгового движка
type EngineConfig struct {
	Reconciler ReconcilerConfig

	// DailyResetInterval - период проверки сброса дневного риска.
	// Часа достаточно: границы суток считаются по timezone счёта.
	DailyResetInterval time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.DailyResetInterval <= 0 {
		c.DailyResetInterval = time.Hour
	}
}

// Engine - торговый движок: по одному независимому процессу
// реконсиляции на подключённый счёт.
//
// Архитектура event-driven: никакого polling'а состояния терминала.
// Каждый счёт потребляет свой FIFO-канал push-событий строго
// последовательно, поэтому проходы реконсиляции внутри счёта не
// требуют дополнительных локов. Счета между собой полностью
// независимы: общего мутабельного состояния нет, кроме guard'а и
// хранилища ledger'а (оба с per-key доступом).
type Engine struct {
	store  AccountStore
	notify Notifier
	cfg    EngineConfig

	ledger      *Ledger
	coordinator *Coordinator
	guard       *Guard

	accounts map[string]*accountRuntime
	mu       sync.RWMutex

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// accountRuntime - состояние одного подключённого счёта
type accountRuntime struct {
	account *models.AccountConfig
	session broker.Session
	rec     *reconciler

	cancel context.CancelFunc

	// Символы с активной подпиской на котировки
	subscriptions map[string]struct{}
	subMu         sync.Mutex
}

// NewEngine создаёт движок поверх хранилища счетов и транспорта
// live-данных
func NewEngine(store AccountStore, notify Notifier, cfg EngineConfig) *Engine {
	cfg.applyDefaults()

	ledger := NewLedger(store)
	return &Engine{
		store:       store,
		notify:      notify,
		cfg:         cfg,
		ledger:      ledger,
		coordinator: NewCoordinator(ledger),
		guard:       NewGuard(),
		accounts:    make(map[string]*accountRuntime),
		shutdown:    make(chan struct{}),
	}
}

// Start запускает фоновые задачи движка (сброс дневного риска)
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.dailyResetLoop()
	log.Println("trading engine started")
}

// Stop отключает все счета и останавливает фоновые задачи
func (e *Engine) Stop() {
	e.closeOnce.Do(func() {
		close(e.shutdown)
	})

	e.mu.Lock()
	keys := make([]string, 0, len(e.accounts))
	for key := range e.accounts {
		keys = append(keys, key)
	}
	e.mu.Unlock()

	for _, key := range keys {
		if err := e.DisconnectAccount(key); err != nil {
			log.Printf("[engine] disconnect %s during shutdown: %v", key, err)
		}
	}

	e.wg.Wait()
	log.Println("trading engine stopped")
}

// ============================================================
// Жизненный цикл счёта
// ============================================================

// ConnectAccount поднимает процесс реконсиляции счёта.
//
// Session уже подключена вызывающим (создание сессии требует
// расшифрованного токена, которым движок не владеет).
func (e *Engine) ConnectAccount(ctx context.Context, account *models.AccountConfig, session broker.Session) error {
	key := account.Key()

	e.mu.Lock()
	if _, exists := e.accounts[key]; exists {
		e.mu.Unlock()
		return fmt.Errorf("account %s is already connected", key)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	rt := &accountRuntime{
		account:       account,
		session:       session,
		rec:           newReconciler(account, session, e.guard, e.notify, e.cfg.Reconciler),
		cancel:        cancel,
		subscriptions: make(map[string]struct{}),
	}
	e.accounts[key] = rt
	e.mu.Unlock()

	// Бюджет дневного риска актуализируется сразу при подключении
	if err := e.ledger.ResetIfDue(ctx, account, session, time.Now()); err != nil {
		log.Printf("[engine %s] daily risk reset on connect: %v", key, err)
	}

	e.wg.Add(1)
	go e.eventLoop(loopCtx, rt)

	ConnectedAccounts.Inc()
	log.Printf("[engine %s] account connected", key)
	return nil
}

// DisconnectAccount останавливает процесс счёта: гасит цикл событий,
// снимает подписки, закрывает сессию и забытые захваты guard'а.
func (e *Engine) DisconnectAccount(accountKey string) error {
	e.mu.Lock()
	rt, exists := e.accounts[accountKey]
	if exists {
		delete(e.accounts, accountKey)
	}
	e.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrAccountNotConnected, accountKey)
	}

	rt.cancel()
	rt.releaseSubscriptions(context.Background())

	if err := rt.session.Close(); err != nil {
		log.Printf("[engine %s] session close: %v", accountKey, err)
	}

	e.guard.ReleaseAccount(accountKey)
	ConnectedAccounts.Dec()
	log.Printf("[engine %s] account disconnected", accountKey)
	return nil
}

func (e *Engine) runtime(accountKey string) (*accountRuntime, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rt, exists := e.accounts[accountKey]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotConnected, accountKey)
	}
	return rt, nil
}

// ============================================================
// Торговые операции
// ============================================================

// VerifyOrder - dry-run проверка заявки без побочных эффектов
func (e *Engine) VerifyOrder(ctx context.Context, accountKey string, req *models.OrderRequest) (*models.VerifiedOrder, error) {
	rt, err := e.runtime(accountKey)
	if err != nil {
		return nil, err
	}
	return e.coordinator.Verify(ctx, rt.account, req, rt.session)
}

// PlaceOrder - валидация и живое размещение заявки
func (e *Engine) PlaceOrder(ctx context.Context, accountKey string, req *models.OrderRequest) (*models.OrderResult, error) {
	rt, err := e.runtime(accountKey)
	if err != nil {
		return nil, err
	}
	return e.coordinator.Place(ctx, rt.account, req, rt.session)
}

// ============================================================
// Подписки на котировки
// ============================================================

// SubscribeSymbol включает стрим котировок символа для счёта
func (e *Engine) SubscribeSymbol(ctx context.Context, accountKey, symbol string) error {
	rt, err := e.runtime(accountKey)
	if err != nil {
		return err
	}

	if err := rt.session.SubscribeMarketData(ctx, symbol); err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	rt.subMu.Lock()
	rt.subscriptions[symbol] = struct{}{}
	rt.subMu.Unlock()
	return nil
}

// UnsubscribeSymbol выключает стрим котировок символа
func (e *Engine) UnsubscribeSymbol(ctx context.Context, accountKey, symbol string) error {
	rt, err := e.runtime(accountKey)
	if err != nil {
		return err
	}

	rt.subMu.Lock()
	delete(rt.subscriptions, symbol)
	rt.subMu.Unlock()

	if err := rt.session.UnsubscribeMarketData(ctx, symbol); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", symbol, err)
	}
	return nil
}

// releaseSubscriptions снимает все подписки счёта
func (rt *accountRuntime) releaseSubscriptions(ctx context.Context) {
	rt.subMu.Lock()
	symbols := make([]string, 0, len(rt.subscriptions))
	for s := range rt.subscriptions {
		symbols = append(symbols, s)
	}
	rt.subscriptions = make(map[string]struct{})
	rt.subMu.Unlock()

	for _, symbol := range symbols {
		if err := rt.session.UnsubscribeMarketData(ctx, symbol); err != nil {
			log.Printf("[engine %s] unsubscribe %s: %v", rt.account.Key(), symbol, err)
		}
	}
}

// ============================================================
// Цикл событий счёта
// ============================================================

// eventLoop потребляет push-события терминала одного счёта.
//
// Потребление однопоточное и строго в порядке прихода: каждый проход
// реконсиляции перечитывает актуальное состояние, поэтому события,
// пришедшие во время прохода, не теряют смысла.
func (e *Engine) eventLoop(ctx context.Context, rt *accountRuntime) {
	defer e.wg.Done()

	key := rt.account.Key()
	events := rt.session.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Printf("[engine %s] event channel closed", key)
				return
			}
			e.handleEvent(ctx, rt, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, rt *accountRuntime, ev broker.Event) {
	key := rt.account.Key()

	switch ev.Type {
	case broker.EventSyncStarted:
		log.Printf("[engine %s] terminal synchronization started", key)

	case broker.EventPositionsChanged, broker.EventOrdersChanged:
		rt.rec.pass(ctx)

	case broker.EventAccountInfoUpdated:
		// Состояние сделок не менялось, достаточно обновить проекцию
		rt.rec.publishLiveData(rt.session.Positions(), rt.session.Orders())

	case broker.EventConnectionStatus:
		log.Printf("[engine %s] broker connection status: %s", key, ev.Status)
		if ev.Status == broker.StatusConnected {
			// После (пере)подключения зеркало могло разойтись с
			// терминалом: полный проход
			rt.rec.pass(ctx)
		}

	case broker.EventStreamClosed:
		log.Printf("[engine %s] terminal stream closed", key)
		rt.releaseSubscriptions(ctx)

	case broker.EventPriceTick:
		if ev.Price != nil && e.notify != nil {
			e.notify.PublishPrice(models.PriceQuote{
				AccountID: rt.account.AccountID,
				Symbol:    ev.Price.Symbol,
				Bid:       ev.Price.Bid,
				Ask:       ev.Price.Ask,
			})
		}
	}
}

// ============================================================
// Периодический сброс дневного риска
// ============================================================

// dailyResetLoop раз в DailyResetInterval проверяет все счета.
// Сбросы независимы: ошибка одного счёта не трогает остальные.
func (e *Engine) dailyResetLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.DailyResetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.runDailyResets()
		}
	}
}

func (e *Engine) runDailyResets() {
	e.mu.RLock()
	runtimes := make([]*accountRuntime, 0, len(e.accounts))
	for _, rt := range e.accounts {
		runtimes = append(runtimes, rt)
	}
	e.mu.RUnlock()

	now := time.Now()
	for _, rt := range runtimes {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.ledger.ResetIfDue(ctx, rt.account, rt.session, now); err != nil {
			log.Printf("[engine %s] daily risk reset: %v", rt.account.Key(), err)
		}
		cancel()
	}
}
