package bot

import (
	"algotrade/internal/models"
	"algotrade/pkg/utils"
)

// calc.go - расчёт объёма по риску и проекции прибыли/убытка.
//
// Все функции чистые и детерминированные: никаких обращений к сети,
// баланс и цена приходят аргументами.

// ComputeLotSize считает объём позиции по риску на сделку.
//
// Формула:
//
//	риск = баланс × riskPercentage / 100
//	лот  = риск / |цена - стоп|
//
// Результат округляется до двух знаков и поднимается до 0.01 если
// получился меньше. Возвращает ErrInvalidStopDistance когда стоп
// совпадает с ценой: делить не на что.
func ComputeLotSize(accountBalance, riskPercentage, marketPrice, stopLoss float64) (float64, error) {
	distance := utils.PipDistance(marketPrice, stopLoss)
	if distance <= 0 {
		return 0, ErrInvalidStopDistance
	}

	return utils.NormalizeLot(utils.RiskAmount(accountBalance, riskPercentage) / distance), nil
}

// ComputeProjection считает максимальный убыток и максимальную прибыль
// заявки при заданном входе.
//
// Для buy: maxLoss = (entry - stopLoss) × qty, прибыль суммируется по
// legs как (tp - entry) × (qty / legCount). Для sell знаки зеркальные.
func ComputeProjection(side string, entry, stopLoss float64, takeProfits []float64, quantity float64) (maxLoss, maxProfit float64) {
	legCount := len(takeProfits)
	if legCount == 0 {
		return projectLoss(side, entry, stopLoss, quantity), 0
	}

	legVolume := quantity / float64(legCount)
	for _, tp := range takeProfits {
		if side == models.SideBuy {
			maxProfit += (tp - entry) * legVolume
		} else {
			maxProfit += (entry - tp) * legVolume
		}
	}

	return projectLoss(side, entry, stopLoss, quantity), maxProfit
}

func projectLoss(side string, entry, stopLoss, quantity float64) float64 {
	if side == models.SideBuy {
		return (entry - stopLoss) * quantity
	}
	return (stopLoss - entry) * quantity
}

// EntryPriceFor выбирает цену входа рыночной заявки из котировки:
// покупаем по ask, продаём по bid.
func EntryPriceFor(side string, bid, ask float64) float64 {
	if side == models.SideBuy {
		return ask
	}
	return bid
}
