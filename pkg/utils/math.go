package utils

import (
	"math"
)

// math.go - математические утилиты для расчёта объёмов и риска
//
// Все функции являются чистыми (pure functions) без побочных эффектов.

// MinLotSize - минимальный объём ордера, поддерживаемый терминалом
const MinLotSize = 0.01

// Round2 округляет значение до двух знаков после запятой.
//
// Стандартное математическое округление. Объёмы ордеров у терминала
// задаются с шагом 0.01 лота.
//
// Примеры:
//   - Round2(0.12678) = 0.13
//   - Round2(1.994) = 1.99
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// NormalizeLot приводит расчётный объём к допустимому для терминала.
//
// Сначала округляет до двух знаков, затем поднимает до минимального
// лота если получился слишком маленький или нулевой объём. Отказывать
// в сделке из-за округления вниз нельзя, поэтому floor, а не ошибка.
//
// Примеры:
//   - NormalizeLot(0.004) = 0.01
//   - NormalizeLot(0.126) = 0.13
//   - NormalizeLot(-1) = 0.01
func NormalizeLot(value float64) float64 {
	rounded := Round2(value)
	if rounded < MinLotSize {
		return MinLotSize
	}
	return rounded
}

// RiskAmount вычисляет денежный размер риска от баланса.
//
// Формула:
//
//	риск = баланс × процент / 100
//
// Параметры:
//   - balance: баланс счёта в валюте депозита
//   - percent: процент риска (например, 2.5 означает 2.5%)
func RiskAmount(balance, percent float64) float64 {
	if balance <= 0 || percent <= 0 {
		return 0
	}
	return balance * percent / 100
}

// PipDistance возвращает абсолютное расстояние между ценой входа и стопом.
//
// Если расстояние нулевое, объём по риску посчитать нельзя.
func PipDistance(entryPrice, stopLoss float64) float64 {
	return math.Abs(entryPrice - stopLoss)
}

// LotByRisk вычисляет объём позиции по риску на сделку.
//
// Формула:
//
//	лот = (баланс × риск% / 100) / |цена - стоп|
//
// Результат нормализуется через NormalizeLot.
// Возвращает 0 если стоп совпадает с ценой входа (деление на ноль).
func LotByRisk(balance, riskPercent, entryPrice, stopLoss float64) float64 {
	distance := PipDistance(entryPrice, stopLoss)
	if distance == 0 {
		return 0
	}
	return NormalizeLot(RiskAmount(balance, riskPercent) / distance)
}

// ProjectedRisk оценивает суммарный денежный риск заявки.
//
// Каждая нога несёт одинаковый объём и одинаковый стоп, поэтому
// риск масштабируется количеством ног:
//
//	риск = лот × |цена - стоп| × количество_ног
func ProjectedRisk(lotSize, entryPrice, stopLoss float64, legs int) float64 {
	if legs < 1 {
		legs = 1
	}
	return lotSize * PipDistance(entryPrice, stopLoss) * float64(legs)
}

// ApproxEqual сравнивает два float64 с допуском.
//
// Цены и уровни SL/TP приходят из разных источников (запрос пользователя
// и снапшот терминала) и могут отличаться на артефакты сериализации.
func ApproxEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
