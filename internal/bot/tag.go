package bot

import (
	"fmt"
	"strings"
	"time"
)

// tag.go - маркер управляемых сделок.
//
// Каждый ордер и позиция, созданные движком, несут маркер в clientId.
// Маркер - единственный признак, отличающий управляемые экспозиции от
// внешних: всё без маркера и без reason=expert подлежит закрытию.

const (
	// TradeTagPrefix - префикс маркера управляемой сделки
	TradeTagPrefix = "AlgoTrade_"

	// maxTagLength - лимит длины clientId на стороне терминала
	maxTagLength = 20
)

// NewTradeTag генерирует маркер вида AlgoTrade_<unix millis>,
// обрезанный до лимита транспорта. Маркер должен пережить
// round-trip через брокера без искажений.
func NewTradeTag(now time.Time) string {
	tag := fmt.Sprintf("%s%d", TradeTagPrefix, now.UnixMilli())
	if len(tag) > maxTagLength {
		tag = tag[:maxTagLength]
	}
	return tag
}

// HasManagedTag проверяет наличие маркера в clientId или комментарии.
// Брокер может перекладывать clientId в комментарий при round-trip'е,
// поэтому проверяются оба поля.
func HasManagedTag(clientID, comment string) bool {
	return strings.HasPrefix(clientID, TradeTagPrefix) ||
		strings.Contains(comment, TradeTagPrefix)
}
