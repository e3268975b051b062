package bot

import (
	"strings"
	"sync"
)

// Guard - взаимное исключение корректирующих операций по ключу
// (счёт, id сущности).
//
// Захват неблокирующий: если ключ уже занят, значит корректировка этой
// сущности уже в полёте, и повторная попытка просто отбрасывается.
// Очереди нет намеренно: следующий проход реконсиляции перечитает
// состояние брокера и сам решит, нужна ли ещё корректировка.
type Guard struct {
	mu    sync.Mutex
	inUse map[string]struct{}
}

// NewGuard создаёт пустой guard
func NewGuard() *Guard {
	return &Guard{inUse: make(map[string]struct{})}
}

// guardKey строит ключ guard'а для сущности счёта
func guardKey(accountKey, entityID string) string {
	return accountKey + "/" + entityID
}

// TryAcquire пытается захватить ключ. false = уже занят, действие
// нужно пропустить, а не ждать.
func (g *Guard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inUse[key]; held {
		return false
	}
	g.inUse[key] = struct{}{}
	return true
}

// Release освобождает ключ. Освобождение незанятого ключа безвредно.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inUse, key)
}

// ReleaseAccount снимает все ключи счёта. Вызывается при отключении
// счёта, чтобы не оставить осиротевших захватов.
func (g *Guard) ReleaseAccount(accountKey string) {
	prefix := accountKey + "/"

	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.inUse {
		if strings.HasPrefix(key, prefix) {
			delete(g.inUse, key)
		}
	}
}

// Held возвращает количество захваченных ключей
func (g *Guard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inUse)
}
