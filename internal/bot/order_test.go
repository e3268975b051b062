package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"algotrade/internal/broker"
	"algotrade/internal/models"
)

func testAccount() *models.AccountConfig {
	return &models.AccountConfig{
		ID:               1,
		Owner:            "owner",
		AccountID:        "acct",
		MaxPositionLimit: 5,
		SplittingTarget:  3,
		RiskPercentage:   1,
		AutoLotSize:      true,
		Timezone:         "Asia/Dubai",
	}
}

func newTestCoordinator() (*Coordinator, *fakeAccountStore) {
	store := newFakeAccountStore()
	return NewCoordinator(NewLedger(store)), store
}

func marketRequest() *models.OrderRequest {
	return &models.OrderRequest{
		Symbol:      "XAUUSD",
		Side:        models.SideBuy,
		OrderType:   models.OrderTypeMarket,
		StopLoss:    1940,
		TakeProfits: []float64{1960},
	}
}

func TestVerifyValidation(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Symbol: "XAUUSD", Bid: 1949, Ask: 1950}
	session.balance = 10000

	price := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		mutate func(*models.OrderRequest)
		field  string
	}{
		{"empty symbol", func(r *models.OrderRequest) { r.Symbol = "" }, "symbol"},
		{"bad side", func(r *models.OrderRequest) { r.Side = "long" }, "side"},
		{"bad order type", func(r *models.OrderRequest) { r.OrderType = "market" }, "order_type"},
		{"pending without entry price", func(r *models.OrderRequest) { r.OrderType = models.OrderTypeStop }, "entry_price"},
		{"negative entry price", func(r *models.OrderRequest) {
			r.OrderType = models.OrderTypeLimit
			r.EntryPrice = price(-1)
		}, "entry_price"},
		{"missing stop loss", func(r *models.OrderRequest) { r.StopLoss = 0 }, "stop_loss"},
		{"no take profits", func(r *models.OrderRequest) { r.TakeProfits = nil }, "take_profits"},
		{"negative take profit", func(r *models.OrderRequest) { r.TakeProfits = []float64{1960, -1} }, "take_profits"},
		{"too many targets", func(r *models.OrderRequest) { r.TakeProfits = []float64{1960, 1970, 1980, 1990} }, "take_profits"},
		{"stop at market price", func(r *models.OrderRequest) { r.StopLoss = 1950 }, "stop_loss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := marketRequest()
			tt.mutate(req)

			_, err := coordinator.Verify(context.Background(), testAccount(), req, session)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if ve.Field != tt.field {
				t.Errorf("failed field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestVerifyAutoLotSizing(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Symbol: "XAUUSD", Bid: 1949, Ask: 1950}
	session.balance = 10000

	order, err := coordinator.Verify(context.Background(), testAccount(), marketRequest(), session)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// 1% от 10000 = 100 риска, вход buy по ask 1950, дистанция 10 => 10 лотов
	if !floatEq(order.Quantity, 10) {
		t.Errorf("Quantity = %v, want 10", order.Quantity)
	}
	if !floatEq(order.MaxLoss, 100) {
		t.Errorf("MaxLoss = %v, want 100", order.MaxLoss)
	}
}

func TestVerifyPendingSizesFromMarketPrice(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Symbol: "XAUUSD", Bid: 1949, Ask: 1950}
	session.balance = 10000

	entry := 1970.0
	req := marketRequest()
	req.OrderType = models.OrderTypeStop
	req.EntryPrice = &entry

	order, err := coordinator.Verify(context.Background(), testAccount(), req, session)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// объём считается от текущей цены: дистанция |1950-1940| = 10,
	// а не 30 от заявленного входа
	if !floatEq(order.Quantity, 10) {
		t.Errorf("Quantity = %v, want 10", order.Quantity)
	}
	if order.EntryPrice == nil || *order.EntryPrice != entry {
		t.Errorf("EntryPrice = %v, want requested %v preserved", order.EntryPrice, entry)
	}
}

func TestVerifyManualLot(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}

	account := testAccount()
	account.AutoLotSize = false

	t.Run("missing lot size", func(t *testing.T) {
		_, err := coordinator.Verify(context.Background(), account, marketRequest(), session)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "lot_size" {
			t.Fatalf("expected lot_size validation error, got %v", err)
		}
	})

	t.Run("explicit lot size", func(t *testing.T) {
		lot := 2.505
		req := marketRequest()
		req.LotSize = &lot

		order, err := coordinator.Verify(context.Background(), account, req, session)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !floatEq(order.Quantity, 2.51) {
			t.Errorf("Quantity = %v, want 2.51 (rounded)", order.Quantity)
		}
	})
}

func TestVerifySortsTakeProfits(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	req := marketRequest()
	req.TakeProfits = []float64{1990, 1960, 1975}

	order, err := coordinator.Verify(context.Background(), testAccount(), req, session)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	want := []float64{1960, 1975, 1990}
	for i, tp := range order.TakeProfits {
		if tp != want[i] {
			t.Fatalf("TakeProfits = %v, want %v", order.TakeProfits, want)
		}
	}
	// исходный запрос не мутируется
	if req.TakeProfits[0] != 1990 {
		t.Error("request take profits must not be reordered in place")
	}
}

func TestVerifyDailyRiskRejection(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	account := testAccount()
	account.DailyRiskPercentage = 1
	account.RemainingDailyRisk = 50 // проектный риск будет 100

	_, err := coordinator.Verify(context.Background(), account, marketRequest(), session)
	if !errors.Is(err, ErrDailyRiskExceeded) {
		t.Fatalf("expected ErrDailyRiskExceeded, got %v", err)
	}
	if len(session.createdOrders()) != 0 {
		t.Error("no broker calls allowed on risk rejection")
	}
}

func TestVerifySanitizesComment(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	req := marketRequest()
	req.Comment = "my #1 trade!! абв"

	order, err := coordinator.Verify(context.Background(), testAccount(), req, session)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if order.Comment != "my 1 trade" {
		t.Errorf("Comment = %q, want %q", order.Comment, "my 1 trade")
	}
}

func TestPlaceSingleLeg(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	result, err := coordinator.Place(context.Background(), testAccount(), marketRequest(), session)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	if result.Placed != 1 || result.Failed != 0 {
		t.Fatalf("placed/failed = %d/%d, want 1/0", result.Placed, result.Failed)
	}

	created := session.createdOrders()
	if len(created) != 1 {
		t.Fatalf("broker received %d orders, want 1", len(created))
	}
	spec := created[0]
	if !strings.HasPrefix(spec.ClientID, TradeTagPrefix) {
		t.Errorf("ClientID %q missing managed tag", spec.ClientID)
	}
	if !floatEq(spec.Volume, 10) {
		t.Errorf("Volume = %v, want 10", spec.Volume)
	}
	if spec.TakeProfit != 1960 {
		t.Errorf("TakeProfit = %v, want 1960", spec.TakeProfit)
	}
}

func TestPlaceRequiresTakeProfit(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	req := marketRequest()
	req.TakeProfits = nil

	_, err := coordinator.Place(context.Background(), testAccount(), req, session)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "take_profits" {
		t.Fatalf("expected take_profits validation error, got %v", err)
	}
	if len(session.createdOrders()) != 0 {
		t.Error("no broker calls allowed when validation fails")
	}
}

func TestPlaceMultiLeg(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	req := marketRequest()
	req.TakeProfits = []float64{1990, 1960, 1975}

	result, err := coordinator.Place(context.Background(), testAccount(), req, session)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	if result.Placed != 3 {
		t.Fatalf("Placed = %d, want 3", result.Placed)
	}

	created := session.createdOrders()
	if len(created) != 3 {
		t.Fatalf("broker received %d orders, want 3", len(created))
	}

	tag := created[0].ClientID
	seen := make(map[float64]bool)
	for _, spec := range created {
		if spec.ClientID != tag {
			t.Errorf("legs carry different tags: %q vs %q", spec.ClientID, tag)
		}
		// 10 лотов на 3 части с округлением вниз
		if !floatEq(spec.Volume, 3.33) {
			t.Errorf("leg volume = %v, want 3.33", spec.Volume)
		}
		seen[spec.TakeProfit] = true
	}
	for _, tp := range []float64{1960, 1975, 1990} {
		if !seen[tp] {
			t.Errorf("no leg with take profit %v", tp)
		}
	}

	// отчёт упорядочен по возрастанию целей независимо от порядка ответов
	if result.Legs[0].TakeProfit != 1960 || result.Legs[2].TakeProfit != 1990 {
		t.Errorf("leg outcomes out of order: %+v", result.Legs)
	}
}

func TestPlacePartialFailure(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000
	session.createErrAt[1] = errors.New("terminal rejected")

	req := marketRequest()
	req.TakeProfits = []float64{1960, 1975, 1990}

	result, err := coordinator.Place(context.Background(), testAccount(), req, session)
	if err != nil {
		t.Fatalf("partial failure must not be a hard error: %v", err)
	}

	if result.Placed != 2 || result.Failed != 1 {
		t.Fatalf("placed/failed = %d/%d, want 2/1", result.Placed, result.Failed)
	}
	if !strings.Contains(result.Message, "partial") {
		t.Errorf("message %q must flag partial placement", result.Message)
	}

	withError := 0
	for _, leg := range result.Legs {
		if leg.Error != "" {
			withError++
		}
	}
	if withError != 1 {
		t.Errorf("%d legs report errors, want 1", withError)
	}
}

func TestPlaceAllLegsFail(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000
	session.createErr = errors.New("terminal down")

	_, err := coordinator.Place(context.Background(), testAccount(), marketRequest(), session)
	if err == nil {
		t.Fatal("expected error when all legs fail")
	}
}

func TestPlaceDebitsDailyRisk(t *testing.T) {
	coordinator, store := newTestCoordinator()
	store.remaining[1] = 500
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	account := testAccount()
	account.DailyRiskPercentage = 5
	account.RemainingDailyRisk = 500

	_, err := coordinator.Place(context.Background(), account, marketRequest(), session)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	// проектный риск 10 лотов × 10 дистанции × 1 leg = 100
	if !floatEq(account.RemainingDailyRisk, 400) {
		t.Errorf("RemainingDailyRisk = %v, want 400", account.RemainingDailyRisk)
	}
}

func TestPlacePendingRisksFromMarketPrice(t *testing.T) {
	coordinator, store := newTestCoordinator()
	store.remaining[1] = 30
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}

	account := testAccount()
	account.AutoLotSize = false
	account.DailyRiskPercentage = 1
	account.RemainingDailyRisk = 30

	lot := 2.0
	entry := 1970.0
	req := marketRequest()
	req.OrderType = models.OrderTypeStop
	req.EntryPrice = &entry
	req.LotSize = &lot

	// риск 2 лота × 10 дистанции от рынка = 20; дистанция от
	// заявленного входа дала бы 60 и заявка бы не прошла
	result, err := coordinator.Place(context.Background(), account, req, session)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if result.Placed != 1 {
		t.Fatalf("Placed = %d, want 1", result.Placed)
	}

	spec := session.createdOrders()[0]
	if spec.Price != entry {
		t.Errorf("submission price = %v, want requested entry %v", spec.Price, entry)
	}
	if !floatEq(account.RemainingDailyRisk, 10) {
		t.Errorf("RemainingDailyRisk = %v, want 10", account.RemainingDailyRisk)
	}
}

func TestPlaceEvictsForCapacity(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	base := time.Now().Add(-time.Hour)
	account := testAccount()
	account.MaxPositionLimit = 1
	account.SplittingTarget = 2 // лимит = 2 сущности

	session.positions = []broker.PositionSnapshot{
		{ID: "p-old", BrokerTime: base, Profit: 3},
	}
	session.orders = []broker.OrderSnapshot{
		{ID: "o-old", BrokerTime: base.Add(time.Minute)},
	}

	result, err := coordinator.Place(context.Background(), account, marketRequest(), session)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if result.Placed != 1 {
		t.Fatalf("Placed = %d, want 1", result.Placed)
	}

	// нужен один слот: старейшая запись - позиция, вместо неё
	// закрывается самая прибыльная (здесь она же единственная)
	if len(session.closed) != 1 || session.closed[0] != "p-old" {
		t.Errorf("closed = %v, want [p-old]", session.closed)
	}
	if len(session.canceled) != 0 {
		t.Errorf("canceled = %v, want none", session.canceled)
	}
}

func TestPlaceCapacityUnavailable(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000

	account := testAccount()
	account.MaxPositionLimit = 1
	account.SplittingTarget = 1 // лимит = 1 сущность

	req := marketRequest()
	req.TakeProfits = []float64{1960, 1975} // нужно 2 слота, освободить можно 0

	_, err := coordinator.Place(context.Background(), account, req, session)
	if !errors.Is(err, ErrCapacityUnavailable) {
		t.Fatalf("expected ErrCapacityUnavailable, got %v", err)
	}
	if len(session.createdOrders()) != 0 {
		t.Error("nothing may be placed when capacity cannot be freed")
	}
	if len(session.closed) != 0 || len(session.canceled) != 0 {
		t.Error("nothing may be evicted when the shortfall cannot be covered in full")
	}
}

func TestPlaceEvictionToleratesNotFound(t *testing.T) {
	coordinator, _ := newTestCoordinator()
	session := newFakeSession()
	session.price = broker.Price{Bid: 1949, Ask: 1950}
	session.balance = 10000
	session.cancelErr = &broker.Error{Code: broker.CodeOrderNotFound, Message: "order not found"}

	account := testAccount()
	account.MaxPositionLimit = 1
	account.SplittingTarget = 1

	session.orders = []broker.OrderSnapshot{
		{ID: "o-gone", BrokerTime: time.Now().Add(-time.Hour)},
	}

	result, err := coordinator.Place(context.Background(), account, marketRequest(), session)
	if err != nil {
		t.Fatalf("eviction race must be tolerated: %v", err)
	}
	if result.Placed != 1 {
		t.Errorf("Placed = %d, want 1", result.Placed)
	}
}
