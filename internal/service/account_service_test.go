package service

import (
	"context"
	"errors"
	"testing"

	"algotrade/pkg/crypto"
)

// 32 байта для AES-256
const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func newTestAccountService() (*AccountService, *mockAccountRepo, *mockEngine, *mockSessionFactory) {
	repo := newMockAccountRepo()
	engine := newMockEngine()
	factory := &mockSessionFactory{}
	svc := NewAccountService(repo, engine, factory, testEncryptionKey)
	return svc, repo, engine, factory
}

func validRegisterRequest() *RegisterAccountRequest {
	return &RegisterAccountRequest{
		Owner:            "owner-1",
		AccountID:        "acct-1",
		APIToken:         "broker-token-secret",
		Region:           "london",
		MaxPositionLimit: 5,
		SplittingTarget:  3,
		RiskPercentage:   1,
		AutoLotSize:      true,
	}
}

func TestRegisterAccount(t *testing.T) {
	svc, _, engine, factory := newTestAccountService()

	account, err := svc.RegisterAccount(context.Background(), validRegisterRequest())
	if err != nil {
		t.Fatalf("RegisterAccount: %v", err)
	}

	if account.ID == 0 {
		t.Error("account must receive an ID")
	}
	if account.Timezone == "" {
		t.Error("timezone must default when omitted")
	}

	// токен в БД зашифрован, фабрике ушёл расшифрованный
	if account.APIToken == "broker-token-secret" {
		t.Error("api token must be stored encrypted")
	}
	decrypted, err := crypto.DecryptWithKeyString(account.APIToken, testEncryptionKey)
	if err != nil || decrypted != "broker-token-secret" {
		t.Errorf("stored token does not round-trip: %v", err)
	}
	if factory.lastToken() != "broker-token-secret" {
		t.Errorf("factory received %q, want plaintext token", factory.lastToken())
	}

	if !engine.isConnected("owner-1_acct-1") {
		t.Error("account must be connected after registration")
	}
}

func TestRegisterAccountValidation(t *testing.T) {
	svc, _, _, _ := newTestAccountService()

	tests := []struct {
		name    string
		mutate  func(*RegisterAccountRequest)
		wantErr error
	}{
		{"missing account id", func(r *RegisterAccountRequest) { r.AccountID = "" }, ErrInvalidAccountID},
		{"missing token", func(r *RegisterAccountRequest) { r.APIToken = "" }, ErrInvalidAPIToken},
		{"zero position limit", func(r *RegisterAccountRequest) { r.MaxPositionLimit = 0 }, ErrInvalidPositionLimit},
		{"zero splitting target", func(r *RegisterAccountRequest) { r.SplittingTarget = 0 }, ErrInvalidSplitting},
		{"risk over 100", func(r *RegisterAccountRequest) { r.RiskPercentage = 150 }, ErrInvalidRiskPct},
		{"negative daily risk", func(r *RegisterAccountRequest) { r.DailyRiskPercentage = -1 }, ErrInvalidRiskPct},
		{"bad timezone", func(r *RegisterAccountRequest) { r.Timezone = "Mars/Olympus" }, ErrInvalidTimezone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRegisterRequest()
			tt.mutate(req)

			_, err := svc.RegisterAccount(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterAccountDuplicate(t *testing.T) {
	svc, _, _, _ := newTestAccountService()

	if _, err := svc.RegisterAccount(context.Background(), validRegisterRequest()); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	_, err := svc.RegisterAccount(context.Background(), validRegisterRequest())
	if !errors.Is(err, ErrAccountAlreadyExists) {
		t.Fatalf("error = %v, want ErrAccountAlreadyExists", err)
	}
}

func TestRegisterAccountConnectFailureKeepsRecord(t *testing.T) {
	svc, repo, engine, _ := newTestAccountService()
	engine.connectErr = errors.New("terminal unreachable")

	account, err := svc.RegisterAccount(context.Background(), validRegisterRequest())
	if err != nil {
		t.Fatalf("registration must survive connect failure: %v", err)
	}

	if _, err := repo.GetByID(context.Background(), account.ID); err != nil {
		t.Error("account record must remain after failed connect")
	}
	if engine.isConnected(account.Key()) {
		t.Error("account must not be marked connected")
	}
}

func TestUpdateAccount(t *testing.T) {
	svc, _, _, _ := newTestAccountService()
	if _, err := svc.RegisterAccount(context.Background(), validRegisterRequest()); err != nil {
		t.Fatalf("register: %v", err)
	}

	limit := 10
	daily := 2.5
	updated, err := svc.UpdateAccount(context.Background(), "owner-1", "acct-1", &UpdateAccountRequest{
		MaxPositionLimit:    &limit,
		DailyRiskPercentage: &daily,
	})
	if err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}

	if updated.MaxPositionLimit != 10 || updated.DailyRiskPercentage != 2.5 {
		t.Errorf("update lost: %+v", updated)
	}
}

func TestUpdateAccountTokenTriggersReconnect(t *testing.T) {
	svc, _, engine, factory := newTestAccountService()
	if _, err := svc.RegisterAccount(context.Background(), validRegisterRequest()); err != nil {
		t.Fatalf("register: %v", err)
	}

	token := "rotated-token"
	if _, err := svc.UpdateAccount(context.Background(), "owner-1", "acct-1", &UpdateAccountRequest{APIToken: &token}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}

	if factory.lastToken() != "rotated-token" {
		t.Errorf("reconnect used token %q, want rotated one", factory.lastToken())
	}
	if !engine.isConnected("owner-1_acct-1") {
		t.Error("account must be reconnected after token rotation")
	}
}

func TestUpdateAccountValidation(t *testing.T) {
	svc, _, _, _ := newTestAccountService()
	if _, err := svc.RegisterAccount(context.Background(), validRegisterRequest()); err != nil {
		t.Fatalf("register: %v", err)
	}

	bad := 0
	if _, err := svc.UpdateAccount(context.Background(), "owner-1", "acct-1", &UpdateAccountRequest{MaxPositionLimit: &bad}); !errors.Is(err, ErrInvalidPositionLimit) {
		t.Errorf("error = %v, want ErrInvalidPositionLimit", err)
	}

	tz := "Nowhere/Void"
	if _, err := svc.UpdateAccount(context.Background(), "owner-1", "acct-1", &UpdateAccountRequest{Timezone: &tz}); !errors.Is(err, ErrInvalidTimezone) {
		t.Errorf("error = %v, want ErrInvalidTimezone", err)
	}
}

func TestRemoveAccount(t *testing.T) {
	svc, repo, engine, _ := newTestAccountService()
	account, err := svc.RegisterAccount(context.Background(), validRegisterRequest())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.RemoveAccount(context.Background(), "owner-1", "acct-1"); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}

	if engine.isConnected(account.Key()) {
		t.Error("account must be disconnected before removal")
	}
	if _, err := repo.GetByID(context.Background(), account.ID); !errors.Is(err, ErrAccountNotFound) && err == nil {
		t.Error("account record must be gone")
	}
}

func TestRemoveAccountNotFound(t *testing.T) {
	svc, _, _, _ := newTestAccountService()
	if err := svc.RemoveAccount(context.Background(), "owner-1", "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("error = %v, want ErrAccountNotFound", err)
	}
}

func TestReconnectAll(t *testing.T) {
	svc, _, engine, _ := newTestAccountService()

	first := validRegisterRequest()
	second := validRegisterRequest()
	second.AccountID = "acct-2"
	if _, err := svc.RegisterAccount(context.Background(), first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if _, err := svc.RegisterAccount(context.Background(), second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	// имитация рестарта: движок пуст
	engine.mu.Lock()
	engine.connected = make(map[string]bool)
	engine.mu.Unlock()

	if err := svc.ReconnectAll(context.Background()); err != nil {
		t.Fatalf("ReconnectAll: %v", err)
	}

	if !engine.isConnected("owner-1_acct-1") || !engine.isConnected("owner-1_acct-2") {
		t.Error("all registered accounts must reconnect on startup")
	}
}
