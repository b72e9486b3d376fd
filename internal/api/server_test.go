package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"AgentVault-Core/internal/auth"
	"AgentVault-Core/internal/escrow"
	"AgentVault-Core/internal/ledger"
	"AgentVault-Core/internal/policy"
)

const (
	testOwner      = "0xowner"
	testController = "0xcontroller"
	testRecovery   = "0xrecovery"
	testSeller     = "0xseller"
	testArbiter    = "0xarbiter"
)

type apiEnv struct {
	handler http.Handler
	ledger  *ledger.MemoryLedger
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	ldgr := ledger.NewMemoryLedger()
	policyEngine := policy.NewEngine(policy.NewMemoryStore(), ldgr, policy.Config{})
	escrowEngine := escrow.NewEngine(escrow.NewMemoryStore(), ldgr, escrow.Config{
		FeeBps:       100,
		FeeRecipient: "fees",
		Arbiter:      testArbiter,
	})

	server := NewServer(":0", policyEngine, escrowEngine,
		WithAuthService(auth.NewService(auth.ServiceConfig{Mode: auth.ModeDisabled})),
	)

	mux := http.NewServeMux()
	server.routes(mux)
	return &apiEnv{
		handler: server.auth.Middleware()(mux),
		ledger:  ldgr,
	}
}

func (e *apiEnv) do(t *testing.T, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) deposit(t *testing.T, account, token string, amount int64) {
	t.Helper()
	if err := e.ledger.Deposit(context.Background(), account, token, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func createSubjectViaHTTP(t *testing.T, env *apiEnv) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/subjects", testOwner, `{
		"id": "wallet-1",
		"owner": "`+testOwner+`",
		"controller": "`+testController+`",
		"recovery": "`+testRecovery+`",
		"limit_per_tx": "500",
		"daily_limit": "1000"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subject: got %d want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	return "wallet-1"
}

func TestAuthorizeEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	id := createSubjectViaHTTP(t, env)
	env.deposit(t, id, "USDC", 10_000)

	rec := env.do(t, http.MethodPost, "/api/v1/subjects/"+id+"/authorize", testController, `{
		"merchant": "coffee-shop",
		"token": "USDC",
		"amount": "400"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize: got %d, body %s", rec.Code, rec.Body.String())
	}

	var decision struct {
		SubjectID      string `json:"subject_id"`
		SpentToday     string `json:"spent_today"`
		DailyRemaining string `json:"daily_remaining"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.SpentToday != "400" {
		t.Fatalf("unexpected spent_today: got %q want %q", decision.SpentToday, "400")
	}
	if decision.DailyRemaining != "600" {
		t.Fatalf("unexpected daily_remaining: got %q want %q", decision.DailyRemaining, "600")
	}
}

func TestAuthorizeDenialStatusMapping(t *testing.T) {
	env := newAPIEnv(t)
	id := createSubjectViaHTTP(t, env)
	env.deposit(t, id, "USDC", 10_000)

	rec := env.do(t, http.MethodPost, "/api/v1/subjects/"+id+"/authorize", testController, `{
		"merchant": "coffee-shop",
		"token": "USDC",
		"amount": "501"
	}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: got %d want %d, body %s", rec.Code, http.StatusUnprocessableEntity, rec.Body.String())
	}

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error.Code != string(policy.CodePerTxExceeded) {
		t.Fatalf("unexpected error code: got %q want %q", payload.Error.Code, policy.CodePerTxExceeded)
	}
}

func TestUnknownSubjectIsNotFound(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/subjects/missing", testOwner, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	buyer := "0xbuyer"
	env.deposit(t, buyer, "USDC", 100_000)

	deadline := strconv.FormatInt(time.Now().Add(48*time.Hour).Unix(), 10)
	rec := env.do(t, http.MethodPost, "/api/v1/escrows", buyer, `{
		"seller": "`+testSeller+`",
		"token": "USDC",
		"amount": "1000",
		"deadline": `+deadline+`
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create escrow: got %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	if created.ID == "" {
		t.Fatal("escrow id missing in response")
	}

	steps := []string{"fund", "confirm", "approve"}
	actors := []string{buyer, testSeller, buyer}
	for i, step := range steps {
		rec := env.do(t, http.MethodPost, "/api/v1/escrows/"+created.ID+"/"+step, actors[i], "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: got %d, body %s", step, rec.Code, rec.Body.String())
		}
	}

	rec = env.do(t, http.MethodGet, "/api/v1/escrows/"+created.ID, buyer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get escrow: got %d", rec.Code)
	}
	var final struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &final); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	if final.State != string(escrow.StateReleased) {
		t.Fatalf("unexpected state: got %q want %q", final.State, escrow.StateReleased)
	}

	sellerBalance, err := env.ledger.Balance(context.Background(), testSeller, "USDC")
	if err != nil {
		t.Fatalf("seller balance: %v", err)
	}
	if sellerBalance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected seller balance: got %s want 1000", sellerBalance)
	}
}

func TestWrongRoleIsForbidden(t *testing.T) {
	env := newAPIEnv(t)
	id := createSubjectViaHTTP(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/subjects/"+id+"/limits", "0xstranger", `{"limit_per_tx": "600"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got %d want %d, body %s", rec.Code, http.StatusForbidden, rec.Body.String())
	}
}
