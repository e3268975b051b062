package bot

import (
	"sync"
	"testing"
)

func TestGuardTryAcquire(t *testing.T) {
	g := NewGuard()
	key := guardKey("acct-1", "pos-1")

	if !g.TryAcquire(key) {
		t.Fatal("first acquire must succeed")
	}
	if g.TryAcquire(key) {
		t.Fatal("second acquire of held key must fail")
	}

	g.Release(key)
	if !g.TryAcquire(key) {
		t.Fatal("acquire after release must succeed")
	}
}

func TestGuardIndependentKeys(t *testing.T) {
	g := NewGuard()

	if !g.TryAcquire(guardKey("acct-1", "pos-1")) {
		t.Fatal("acquire pos-1 failed")
	}
	if !g.TryAcquire(guardKey("acct-1", "pos-2")) {
		t.Fatal("different entity must not be blocked")
	}
	if !g.TryAcquire(guardKey("acct-2", "pos-1")) {
		t.Fatal("same entity on different account must not be blocked")
	}
	if g.Held() != 3 {
		t.Errorf("Held() = %d, want 3", g.Held())
	}
}

func TestGuardReleaseAccount(t *testing.T) {
	g := NewGuard()
	g.TryAcquire(guardKey("acct-1", "pos-1"))
	g.TryAcquire(guardKey("acct-1", "ord-1"))
	g.TryAcquire(guardKey("acct-2", "pos-1"))

	g.ReleaseAccount("acct-1")

	if g.Held() != 1 {
		t.Errorf("Held() = %d, want 1 after account release", g.Held())
	}
	if !g.TryAcquire(guardKey("acct-1", "pos-1")) {
		t.Error("released key must be acquirable again")
	}
	if g.TryAcquire(guardKey("acct-2", "pos-1")) {
		t.Error("other account's key must stay held")
	}
}

func TestGuardReleaseUnheld(t *testing.T) {
	g := NewGuard()
	g.Release("acct-1/ghost") // не должно паниковать
	if g.Held() != 0 {
		t.Errorf("Held() = %d, want 0", g.Held())
	}
}

func TestGuardConcurrentAcquire(t *testing.T) {
	g := NewGuard()
	key := guardKey("acct-1", "pos-1")

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire(key) {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Errorf("%d goroutines acquired the same key, want exactly 1", acquired)
	}
}
