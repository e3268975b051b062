package utils

import (
	"math"
	"testing"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ============================================================
// Тесты Round2 / NormalizeLot
// ============================================================

func TestRound2(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"exact", 0.12, 0.12},
		{"round up", 0.126, 0.13},
		{"round down", 0.124, 0.12},
		{"half up", 0.125, 0.13},
		{"zero", 0, 0},
		{"whole number", 3.0, 3.0},
		{"large", 12345.678, 12345.68},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Round2(tt.value)
			if !floatEquals(result, tt.expected) {
				t.Errorf("Round2(%v) = %v, want %v", tt.value, result, tt.expected)
			}
		})
	}
}

func TestNormalizeLot(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"normal", 0.126, 0.13},
		{"below minimum", 0.004, 0.01},
		{"rounds to zero", 0.0001, 0.01},
		{"negative", -0.5, 0.01},
		{"exactly minimum", 0.01, 0.01},
		{"standard lot", 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeLot(tt.value)
			if !floatEquals(result, tt.expected) {
				t.Errorf("NormalizeLot(%v) = %v, want %v", tt.value, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты расчёта риска
// ============================================================

func TestRiskAmount(t *testing.T) {
	tests := []struct {
		name     string
		balance  float64
		percent  float64
		expected float64
	}{
		{"basic", 10000, 2, 200},
		{"fractional percent", 10000, 2.5, 250},
		{"zero balance", 0, 2, 0},
		{"zero percent", 10000, 0, 0},
		{"negative balance", -100, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RiskAmount(tt.balance, tt.percent)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RiskAmount(%v, %v) = %v, want %v",
					tt.balance, tt.percent, result, tt.expected)
			}
		})
	}
}

func TestLotByRisk(t *testing.T) {
	tests := []struct {
		name       string
		balance    float64
		riskPct    float64
		entryPrice float64
		stopLoss   float64
		expected   float64
	}{
		// баланс 10000, риск 1% = 100, дистанция 10 => 10 лотов
		{"basic buy", 10000, 1, 1950, 1940, 10},
		// стоп выше цены (sell), дистанция та же
		{"basic sell", 10000, 1, 1950, 1960, 10},
		// 100 / 3 = 33.333 => 33.33
		{"rounds to two decimals", 10000, 1, 1953, 1950, 33.33},
		// крошечный риск поднимается до минимального лота
		{"clamped to minimum", 100, 0.1, 1950, 1900, 0.01},
		// стоп равен цене, делить не на что
		{"zero distance", 10000, 1, 1950, 1950, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := LotByRisk(tt.balance, tt.riskPct, tt.entryPrice, tt.stopLoss)
			if !floatEquals(result, tt.expected) {
				t.Errorf("LotByRisk(%v, %v, %v, %v) = %v, want %v",
					tt.balance, tt.riskPct, tt.entryPrice, tt.stopLoss, result, tt.expected)
			}
		})
	}
}

func TestProjectedRisk(t *testing.T) {
	tests := []struct {
		name       string
		lotSize    float64
		entryPrice float64
		stopLoss   float64
		legs       int
		expected   float64
	}{
		{"single leg", 0.5, 1950, 1940, 1, 5},
		{"three legs", 0.5, 1950, 1940, 3, 15},
		{"zero legs treated as one", 0.5, 1950, 1940, 0, 5},
		{"sell direction", 0.5, 1950, 1960, 2, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ProjectedRisk(tt.lotSize, tt.entryPrice, tt.stopLoss, tt.legs)
			if !floatEquals(result, tt.expected) {
				t.Errorf("ProjectedRisk(%v, %v, %v, %d) = %v, want %v",
					tt.lotSize, tt.entryPrice, tt.stopLoss, tt.legs, result, tt.expected)
			}
		})
	}
}

func TestApproxEqual(t *testing.T) {
	if !ApproxEqual(1.0000001, 1.0000002, 1e-6) {
		t.Error("expected values within epsilon to be equal")
	}
	if ApproxEqual(1.0, 1.1, 1e-6) {
		t.Error("expected values outside epsilon to differ")
	}
}
