package bot

import (
	"sort"
	"time"

	"algotrade/internal/broker"
)

// eviction.go - политика освобождения слотов под новые сделки.
//
// Лимит открытых экспозиций: позиции + отложники <= maxPositionLimit ×
// splittingTarget. Когда заявке не хватает слотов, выбираются жертвы:
//   - список обходится от старых к новым;
//   - отложенный ордер выселяется сразу (отменить его дешевле всего);
//   - вместо самой старой позиции закрывается самая прибыльная из ещё
//     не выбранных. Фиксация победителей оставляет рисковую экспозицию
//     на просевших позициях; политика продуктовая, не менять.
//
// Чистый отбор без I/O: закрытием/отменой занимается вызывающий.

// EvictionKind - тип выселяемой сущности
type EvictionKind int

const (
	EvictPosition EvictionKind = iota
	EvictPendingOrder
)

func (k EvictionKind) String() string {
	if k == EvictPendingOrder {
		return "pending_order"
	}
	return "position"
}

// EvictionTarget - одна выбранная к выселению сущность
type EvictionTarget struct {
	ID   string
	Kind EvictionKind
}

// evictionEntry - внутреннее представление кандидата
type evictionEntry struct {
	id       string
	pending  bool
	openedAt time.Time
	profit   float64
	selected bool
}

// SelectForEviction выбирает сущности для освобождения countNeeded слотов.
//
// Возвращает выбранные цели в порядке выбора. Если кандидатов меньше
// чем нужно, возвращает сколько есть: вызывающий обязан трактовать
// нехватку как ErrCapacityUnavailable и ничего не размещать.
func SelectForEviction(positions []broker.PositionSnapshot, orders []broker.OrderSnapshot, countNeeded int) []EvictionTarget {
	if countNeeded <= 0 {
		return nil
	}

	entries := make([]*evictionEntry, 0, len(positions)+len(orders))
	for _, p := range positions {
		entries = append(entries, &evictionEntry{
			id:       p.ID,
			openedAt: p.BrokerTime,
			profit:   p.Profit,
		})
	}
	for _, o := range orders {
		entries = append(entries, &evictionEntry{
			id:       o.ID,
			pending:  true,
			openedAt: o.BrokerTime,
		})
	}

	// Старые первыми
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].openedAt.Before(entries[j].openedAt)
	})

	targets := make([]EvictionTarget, 0, countNeeded)

	for _, e := range entries {
		if len(targets) >= countNeeded {
			break
		}
		if e.selected {
			continue
		}

		if e.pending {
			e.selected = true
			targets = append(targets, EvictionTarget{ID: e.id, Kind: EvictPendingOrder})
			continue
		}

		// Позиция в очереди: закрываем не её, а самую прибыльную
		// из ещё не выбранных позиций
		best := mostProfitable(entries)
		if best == nil {
			continue
		}
		best.selected = true
		targets = append(targets, EvictionTarget{ID: best.id, Kind: EvictPosition})
	}

	return targets
}

func mostProfitable(entries []*evictionEntry) *evictionEntry {
	var best *evictionEntry
	for _, e := range entries {
		if e.pending || e.selected {
			continue
		}
		if best == nil || e.profit > best.profit {
			best = e
		}
	}
	return best
}
