package bot

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"algotrade/internal/broker"
	"algotrade/internal/models"
	"algotrade/pkg/utils"
)

// Coordinator валидирует, рассчитывает и размещает заявки.
//
// Verify - dry-run без побочных эффектов. Place повторяет ту же
// валидацию и затем работает с брокером: выселение под лимит позиций,
// параллельная отправка legs, списание дневного риска. Все побочные
// эффекты начинаются строго после того как валидация прошла целиком.
type Coordinator struct {
	ledger *Ledger
}

// NewCoordinator создаёт координатор размещения заявок
func NewCoordinator(ledger *Ledger) *Coordinator {
	return &Coordinator{ledger: ledger}
}

// verifiedContext - результат валидации вместе с рыночным контекстом,
// нужным дальше при размещении
type verifiedContext struct {
	order *models.VerifiedOrder
	// рыночная цена на момент валидации: от неё считается риск
	marketPrice float64
	// проектный риск по формуле lot × дистанция × legs
	projectedRisk float64
}

// Verify проверяет запрос и возвращает рассчитанную заявку.
//
// Побочных эффектов нет: можно вызывать сколько угодно раз, при
// неизменных цене и балансе результат идентичен.
func (c *Coordinator) Verify(ctx context.Context, account *models.AccountConfig, req *models.OrderRequest, session broker.Session) (*models.VerifiedOrder, error) {
	vc, err := c.verify(ctx, account, req, session)
	if err != nil {
		return nil, err
	}
	return vc.order, nil
}

// verify выполняет валидацию в фиксированном порядке, падая на первой
// провалившейся проверке с её причиной.
func (c *Coordinator) verify(ctx context.Context, account *models.AccountConfig, req *models.OrderRequest, session broker.Session) (*verifiedContext, error) {
	if err := utils.ValidateSymbol(req.Symbol); err != nil {
		return nil, newValidationError("symbol", "%v", err)
	}
	if !models.ValidSide(req.Side) {
		return nil, newValidationError("side", "must be %q or %q", models.SideBuy, models.SideSell)
	}
	if !models.ValidOrderType(req.OrderType) {
		return nil, newValidationError("order_type", "must be Market, Stop or Limit")
	}

	if req.OrderType != models.OrderTypeMarket {
		if req.EntryPrice == nil || *req.EntryPrice <= 0 {
			return nil, newValidationError("entry_price", "required and must be positive for %s orders", req.OrderType)
		}
	}

	if req.StopLoss <= 0 {
		return nil, newValidationError("stop_loss", "required and must be positive")
	}

	if len(req.TakeProfits) == 0 {
		return nil, newValidationError("take_profits", "at least one target is required")
	}
	for i, tp := range req.TakeProfits {
		if tp <= 0 {
			return nil, newValidationError("take_profits", "target #%d must be positive", i+1)
		}
	}

	legCount := req.LegCount()
	if legCount > account.SplittingTarget {
		return nil, newValidationError("take_profits", "%d targets exceed splitting limit %d", legCount, account.SplittingTarget)
	}

	// Рыночная цена нужна всегда: объём и дневной риск считаются от
	// неё. Ценой входа она становится только у рыночных заявок,
	// отложенные входят по заявленной цене.
	quote, err := session.GetMarketPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch market price: %w", err)
	}
	marketPrice := EntryPriceFor(req.Side, quote.Bid, quote.Ask)

	entryPrice := marketPrice
	if req.OrderType != models.OrderTypeMarket {
		entryPrice = *req.EntryPrice
	}

	// Объём: авторасчёт по риску или явный из запроса
	var lotSize float64
	if account.AutoLotSize {
		balance, err := session.GetAccountBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch account balance: %w", err)
		}
		lotSize, err = ComputeLotSize(balance, account.RiskPercentage, marketPrice, req.StopLoss)
		if err != nil {
			return nil, newValidationError("stop_loss", "%v", err)
		}
	} else {
		if req.LotSize == nil {
			return nil, newValidationError("lot_size", "required when auto lot sizing is disabled")
		}
		if *req.LotSize < utils.MinLotSize {
			return nil, newValidationError("lot_size", "must be at least %.2f", utils.MinLotSize)
		}
		lotSize = utils.Round2(*req.LotSize)
	}

	// Разбиение на legs проверяется до любых побочных эффектов:
	// каждая часть обязана остаться не меньше минимального лота
	if legCount > 1 {
		if legVolume(lotSize, legCount) < utils.MinLotSize {
			return nil, newValidationError("lot_size", "split across %d legs yields volume below %.2f", legCount, utils.MinLotSize)
		}
	}

	projectedRisk := utils.ProjectedRisk(lotSize, marketPrice, req.StopLoss, legCount)
	if !c.ledger.CanAfford(account, projectedRisk) {
		return nil, fmt.Errorf("%w: projected risk %.2f, remaining budget %.2f",
			ErrDailyRiskExceeded, projectedRisk, account.RemainingDailyRisk)
	}

	takeProfits := make([]float64, len(req.TakeProfits))
	copy(takeProfits, req.TakeProfits)
	sort.Float64s(takeProfits)

	maxLoss, maxProfit := ComputeProjection(req.Side, entryPrice, req.StopLoss, takeProfits, lotSize)

	order := &models.VerifiedOrder{
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   req.OrderType,
		Quantity:    lotSize,
		StopLoss:    req.StopLoss,
		TakeProfits: takeProfits,
		EntryPrice:  req.EntryPrice,
		Comment:     utils.SanitizeComment(req.Comment),
		MaxLoss:     maxLoss,
		MaxProfit:   maxProfit,
	}

	return &verifiedContext{
		order:         order,
		marketPrice:   marketPrice,
		projectedRisk: projectedRisk,
	}, nil
}

// legVolume делит объём на части с округлением вниз: сумма частей
// никогда не превышает исходный объём
func legVolume(lotSize float64, legs int) float64 {
	return math.Floor(lotSize/float64(legs)*100) / 100
}

// legResult - результат отправки одной части
type legResult struct {
	index        int
	takeProfit   float64
	volume       float64
	confirmation *broker.OrderConfirmation
	err          error
}

// Place валидирует и размещает заявку.
//
// При legCount > 1 legs отправляются брокеру параллельно, каждая со
// своим тейк-профитом (отсортированы по возрастанию) и общим маркером.
// Уже размещённые legs при частичном провале не откатываются: ответ
// содержит поимённый отчёт по каждой части.
func (c *Coordinator) Place(ctx context.Context, account *models.AccountConfig, req *models.OrderRequest, session broker.Session) (*models.OrderResult, error) {
	started := time.Now()

	vc, err := c.verify(ctx, account, req, session)
	if err != nil {
		return nil, err
	}
	order := vc.order
	legCount := req.LegCount()

	// Лимит открытых экспозиций: при нехватке слотов выселяем
	if err := c.ensureCapacity(ctx, account, session, legCount); err != nil {
		return nil, err
	}

	// Цели по возрастанию уже с этапа верификации, валидация
	// гарантирует хотя бы одну
	targets := order.TakeProfits

	volume := order.Quantity
	if legCount > 1 {
		volume = legVolume(order.Quantity, legCount)
	}

	tag := NewTradeTag(time.Now())

	// Параллельная отправка legs: общее время = max латентности,
	// а не сумма
	results := make(chan legResult, len(targets))
	for i, tp := range targets {
		go func(index int, takeProfit float64) {
			spec := broker.OrderSpec{
				Symbol:     order.Symbol,
				Side:       order.Side,
				OrderType:  order.OrderType,
				Volume:     volume,
				StopLoss:   order.StopLoss,
				TakeProfit: takeProfit,
				Comment:    order.Comment,
				ClientID:   tag,
			}
			if order.OrderType != models.OrderTypeMarket {
				spec.Price = *order.EntryPrice
			}

			confirmation, err := session.CreateOrder(ctx, spec)
			results <- legResult{
				index:        index,
				takeProfit:   takeProfit,
				volume:       volume,
				confirmation: confirmation,
				err:          err,
			}
		}(i, tp)
	}

	outcomes := make([]models.LegOutcome, len(targets))
	placed, failed := 0, 0
	var firstErr error

	for range targets {
		r := <-results

		outcome := models.LegOutcome{
			TakeProfit: r.takeProfit,
			Volume:     r.volume,
		}
		if r.err != nil {
			failed++
			outcome.Error = r.err.Error()
			if firstErr == nil {
				firstErr = r.err
			}
			OrderLegsSubmitted.WithLabelValues(order.Symbol, "failed").Inc()
		} else {
			placed++
			outcome.OrderID = r.confirmation.OrderID
			OrderLegsSubmitted.WithLabelValues(order.Symbol, "success").Inc()
		}
		outcomes[r.index] = outcome
	}

	OrderPlacementLatency.Observe(float64(time.Since(started).Milliseconds()))

	if placed == 0 {
		OrdersPlaced.WithLabelValues(order.Symbol, "failed").Inc()
		return nil, fmt.Errorf("order placement failed: %w", firstErr)
	}

	// Списываем риск по фактически размещённым legs
	realizedRisk := utils.ProjectedRisk(order.Quantity, vc.marketPrice, order.StopLoss, placed)
	if err := c.ledger.Debit(ctx, account, realizedRisk); err != nil {
		// Заявка уже у брокера, откатывать нечего: фиксируем в логе
		log.Printf("[order %s] risk debit failed after placement: %v", account.Key(), err)
	}

	result := &models.OrderResult{
		Legs:   outcomes,
		Placed: placed,
		Failed: failed,
	}
	if failed == 0 {
		result.Message = fmt.Sprintf("order placed: %d leg(s)", placed)
		OrdersPlaced.WithLabelValues(order.Symbol, "success").Inc()
	} else {
		result.Message = fmt.Sprintf("partial placement: %d of %d legs placed", placed, placed+failed)
		OrdersPlaced.WithLabelValues(order.Symbol, "partial").Inc()
	}

	return result, nil
}

// ensureCapacity проверяет лимит открытых экспозиций и при нехватке
// слотов выселяет выбранные политикой сущности.
//
// Если кандидатов на выселение меньше чем нужно слотов, не трогает
// ничего и возвращает ErrCapacityUnavailable.
func (c *Coordinator) ensureCapacity(ctx context.Context, account *models.AccountConfig, session broker.Session, needed int) error {
	positions := session.Positions()
	orders := session.Orders()

	free := account.MaxOpenEntities() - len(positions) - len(orders)
	if free >= needed {
		return nil
	}

	shortfall := needed - free
	targets := SelectForEviction(positions, orders, shortfall)
	if len(targets) < shortfall {
		return fmt.Errorf("%w: need %d slots, eviction can free only %d",
			ErrCapacityUnavailable, shortfall, len(targets))
	}

	for _, target := range targets {
		var err error
		if target.Kind == EvictPendingOrder {
			err = session.CancelOrder(ctx, target.ID)
		} else {
			err = session.ClosePosition(ctx, target.ID)
		}

		if err != nil {
			// Гонка с брокером: сущность уже закрыта, слот свободен
			if broker.IsNotFound(err) {
				EvictionsTotal.WithLabelValues(target.Kind.String()).Inc()
				continue
			}
			return fmt.Errorf("%w: evict %s %s: %v", ErrCapacityUnavailable, target.Kind, target.ID, err)
		}
		EvictionsTotal.WithLabelValues(target.Kind.String()).Inc()
	}

	return nil
}
