package service

import (
	"context"
	"errors"

	"algotrade/internal/models"
	"algotrade/internal/repository"
)

// TradingService - фасад торговых операций над подключёнными счетами.
//
// Проверяет принадлежность счёта владельцу и транслирует вызовы в
// движок по составному ключу счёта.
type TradingService struct {
	repo   AccountRepositoryInterface
	engine TradingEngine
}

// NewTradingService создает новый экземпляр торгового сервиса
func NewTradingService(repo AccountRepositoryInterface, engine TradingEngine) *TradingService {
	return &TradingService{repo: repo, engine: engine}
}

// VerifyOrder - dry-run проверка заявки: расчёт объёма, рисков и
// проекции без обращения к торговым endpoint'ам брокера
func (s *TradingService) VerifyOrder(ctx context.Context, owner, accountID string, req *models.OrderRequest) (*models.VerifiedOrder, error) {
	key, err := s.accountKey(ctx, owner, accountID)
	if err != nil {
		return nil, err
	}
	return s.engine.VerifyOrder(ctx, key, req)
}

// PlaceOrder валидирует и размещает заявку
func (s *TradingService) PlaceOrder(ctx context.Context, owner, accountID string, req *models.OrderRequest) (*models.OrderResult, error) {
	key, err := s.accountKey(ctx, owner, accountID)
	if err != nil {
		return nil, err
	}
	return s.engine.PlaceOrder(ctx, key, req)
}

// SubscribeSymbol включает live-котировки символа для подписчиков счёта
func (s *TradingService) SubscribeSymbol(ctx context.Context, owner, accountID, symbol string) error {
	key, err := s.accountKey(ctx, owner, accountID)
	if err != nil {
		return err
	}
	return s.engine.SubscribeSymbol(ctx, key, symbol)
}

// UnsubscribeSymbol выключает live-котировки символа
func (s *TradingService) UnsubscribeSymbol(ctx context.Context, owner, accountID, symbol string) error {
	key, err := s.accountKey(ctx, owner, accountID)
	if err != nil {
		return err
	}
	return s.engine.UnsubscribeSymbol(ctx, key, symbol)
}

// accountKey проверяет существование счёта и возвращает его ключ
func (s *TradingService) accountKey(ctx context.Context, owner, accountID string) (string, error) {
	account, err := s.repo.GetByKey(ctx, owner, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", ErrAccountNotFound
		}
		return "", err
	}
	return account.Key(), nil
}
