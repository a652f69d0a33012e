package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dex-trade-core/config"
	"dex-trade-core/internal/adapter/chain/ethereum"
	httpHandler "dex-trade-core/internal/adapter/http/handler"
	"dex-trade-core/internal/adapter/storage/memory"
	redisStorage "dex-trade-core/internal/adapter/storage/redis"
	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/internal/service"
	"dex-trade-core/internal/vault"
	"dex-trade-core/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	apiChainID   = 10143
	apiToken0    = "0x1111111111111111111111111111111111111111"
	apiToken1    = "0x2222222222222222222222222222222222222222"
	apiRouter    = "0x3333333333333333333333333333333333333333"
	apiPool      = "0x4444444444444444444444444444444444444444"
	apiNotifyKey = "callback-secret"
)

// fakeChain mines every broadcast transaction immediately.
type fakeChain struct {
	mu   sync.Mutex
	sent []*types.Transaction
}

func (f *fakeChain) ReadPoolState(_ context.Context, pool domain.PoolRef) (*domain.PoolSnapshot, error) {
	return &domain.PoolSnapshot{
		PoolID:      pool.ID,
		SnapshotID:  domain.BuildSnapshotID(pool.ID, 100),
		Kind:        pool.Kind,
		Token0:      pool.Token0,
		Token1:      pool.Token1,
		Reserve0:    new(big.Int).Exp(big.NewInt(10), big.NewInt(21), nil),
		Reserve1:    new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil),
		FeeBps:      pool.FeeBps,
		BlockNumber: 100,
		BlockTime:   time.Now(),
	}, nil
}

func (f *fakeChain) SubmitTransaction(_ context.Context, tx *types.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return tx.Hash().Hex(), nil
}

func (f *fakeChain) GetTransactionStatus(_ context.Context, _ string) (*ports.TxReceipt, error) {
	return &ports.TxReceipt{Status: ports.TxStatusConfirmed, GasUsed: 120000, BlockNumber: 101}, nil
}

func (f *fakeChain) PendingNonceAt(_ context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	signer := types.LatestSignerForChainID(big.NewInt(apiChainID))
	var n uint64
	for _, tx := range f.sent {
		if from, err := types.Sender(signer, tx); err == nil && from == common.HexToAddress(address) {
			n++
		}
	}
	return n, nil
}

func (f *fakeChain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// Every account holds 2 native coins and 5 of any token with 6 decimals.
func (f *fakeChain) NativeBalance(context.Context, string) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)), nil
}

func (f *fakeChain) TokenBalance(context.Context, string, string) (*big.Int, error) {
	return big.NewInt(5_000_000), nil
}

func (f *fakeChain) TokenInfo(_ context.Context, token string) (*domain.TokenInfo, error) {
	return &domain.TokenInfo{Address: token, Name: "Test Token", Symbol: "TKN", Decimals: 6}, nil
}

func (f *fakeChain) transactions() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

type testApp struct {
	server    *httptest.Server
	callbacks *httptest.Server
	chain     *fakeChain
	tokens    ports.TokenService

	mu       sync.Mutex
	payloads []service.OrderUpdatePayload
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := logger.New("error", false)
	app := &testApp{chain: &fakeChain{}}

	app.callbacks = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p service.OrderUpdatePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			app.mu.Lock()
			app.payloads = append(app.payloads, p)
			app.mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(app.callbacks.Close)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	walletRepo := memory.NewWalletRepo()
	kv, err := vault.New(map[int][]byte{1: bytes.Repeat([]byte{0x42}, vault.MasterKeySize)}, 1, walletRepo, log)
	require.NoError(t, err)
	t.Cleanup(kv.Close)

	pools, err := ethereum.NewStaticDirectory([]config.PoolConfig{{
		ID: "native-tkn", Address: apiPool, Kind: "constant_product", Token0: apiToken0, Token1: apiToken1, FeeBps: 30,
	}})
	require.NoError(t, err)
	builder, err := ethereum.NewRouterTxBuilder(apiRouter, apiChainID, 300000)
	require.NoError(t, err)

	sigSvc := service.NewHMACSignatureService()
	notifier := service.NewNotifierService(memory.NewNotificationRepo(), sigSvc, app.callbacks.Client(), service.NotifierSettings{
		CallbackURL: app.callbacks.URL,
		Secret:      apiNotifyKey,
	}, log)
	quoteStore := redisStorage.NewQuoteStore(rdb)
	walletSvc := service.NewWalletService(walletRepo, kv, 3, nil, log)
	ledgerSvc := service.NewLedgerService(memory.NewOrderRepo(), notifier, log)
	quoteSvc := service.NewQuoteService(pools, app.chain, quoteStore, service.QuoteSettings{
		TTL:                30 * time.Second,
		MaxPoolAge:         time.Minute,
		HighImpactBps:      500,
		DefaultSlippageBps: 100,
		MinSlippageBps:     10,
		MaxSlippageBps:     5000,
	}, log)
	tradeSvc := service.NewTradeService(walletRepo, quoteSvc, quoteStore, builder, kv, app.chain, ledgerSvc,
		redisStorage.NewWalletLocker(rdb), redisStorage.NewIdempotencyCache(rdb), service.ExecutorSettings{
			LockTimeout:        5 * time.Second,
			LockTTL:            time.Minute,
			SubmitAttempts:     2,
			PollInitialBackoff: time.Millisecond,
			PollMaxBackoff:     5 * time.Millisecond,
			PollMaxAttempts:    5,
			MaxWait:            time.Second,
			DeadlineWindow:     5 * time.Minute,
			IdempotencyTTL:     time.Hour,
		}, log)

	app.tokens = service.NewJWTTokenService("integration-secret-key-32-bytes!", time.Hour, "dex-trade-core")
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:   walletSvc,
		QuoteSvc:    quoteSvc,
		AssetSvc:    service.NewAssetService(walletRepo, app.chain, log),
		TradeSvc:    tradeSvc,
		LedgerSvc:   ledgerSvc,
		TokenSvc:    app.tokens,
		RateLimiter: redisStorage.NewRateLimitStore(rdb),
		AuditSvc:    service.NewAuditService(memory.NewAuditRepo(), log),
		Logger:      log,
	})
	app.server = httptest.NewServer(router)
	t.Cleanup(app.server.Close)
	return app
}

func (a *testApp) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := a.tokens.Generate(userID)
	require.NoError(t, err)
	return tok
}

func (a *testApp) do(method, path, token string, body interface{}) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

// call sends a JSON request and decodes the "data" field into out.
func (a *testApp) call(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()
	resp, err := a.do(method, path, token, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		env := struct {
			Data json.RawMessage `json:"data"`
		}{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode
}

func (a *testApp) createWallet(t *testing.T, token string) map[string]interface{} {
	t.Helper()
	var w map[string]interface{}
	require.Equal(t, http.StatusCreated, a.call(t, http.MethodPost, "/api/v1/wallets", token, map[string]string{"label": "main"}, &w))
	return w
}

func buyRequest(walletID string) map[string]interface{} {
	return map[string]interface{}{
		"wallet_id": walletID,
		"token_in":  apiToken0,
		"token_out": apiToken1,
		"direction": "buy",
		"amount_in": "1000000000000000000",
	}
}

func TestAPI_Unauthorized(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusUnauthorized, app.call(t, http.MethodGet, "/api/v1/wallets", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, app.call(t, http.MethodGet, "/api/v1/wallets", "not-a-jwt", nil, nil))
}

func TestAPI_QuoteThenTrade(t *testing.T) {
	app := newTestApp(t)
	alice := app.token(t, "alice")
	wallet := app.createWallet(t, alice)
	walletID := wallet["id"].(string)

	var quote map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodPost, "/api/v1/quotes", alice, map[string]interface{}{
		"token_in": apiToken0, "token_out": apiToken1, "direction": "buy", "amount_in": "1000000000000000000",
	}, &quote))
	assert.Equal(t, "exact_in", quote["mode"])
	assert.Equal(t, float64(100), quote["max_slippage_bps"])

	trade := buyRequest(walletID)
	trade["quote_id"] = quote["id"]
	var order map[string]interface{}
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/trades", alice, trade, &order))
	assert.Equal(t, "CONFIRMED", order["state"])
	assert.Equal(t, quote["id"], order["quote_id"])
	assert.Equal(t, quote["min_amount_out"], order["min_amount_out"])

	// The quote is single use.
	assert.Equal(t, http.StatusConflict, app.call(t, http.MethodPost, "/api/v1/trades", alice, trade, nil))

	// The broadcast transaction is signed by the wallet's own key.
	sent := app.chain.transactions()
	require.Len(t, sent, 1)
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(apiChainID)), sent[0])
	require.NoError(t, err)
	assert.Equal(t, wallet["address"], from.Hex())
	assert.Equal(t, common.HexToAddress(apiRouter), *sent[0].To())

	var full map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodGet, "/api/v1/orders/"+order["id"].(string), alice, nil, &full))
	history := full["history"].([]interface{})
	require.Len(t, history, 2)
	assert.Equal(t, "CONFIRMED", history[1].(map[string]interface{})["to_state"])

	var list struct {
		Items []map[string]interface{} `json:"items"`
	}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodGet, "/api/v1/wallets/"+walletID+"/orders", alice, nil, &list))
	require.Len(t, list.Items, 1)

	assert.Eventually(t, func() bool {
		app.mu.Lock()
		defer app.mu.Unlock()
		return len(app.payloads) == 1 && app.payloads[0].Data.State == "CONFIRMED"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPI_QuoteIsBoundToItsUserAndTrade(t *testing.T) {
	app := newTestApp(t)
	alice, bob := app.token(t, "alice"), app.token(t, "bob")
	aliceWallet := app.createWallet(t, alice)["id"].(string)
	bobWallet := app.createWallet(t, bob)["id"].(string)

	var quote map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodPost, "/api/v1/quotes", alice, map[string]interface{}{
		"token_in": apiToken0, "token_out": apiToken1, "direction": "buy", "amount_in": "1000000000000000000",
	}, &quote))
	assert.NotContains(t, quote, "user_id")

	// Another user cannot spend the quote; it looks unknown to them.
	stolen := buyRequest(bobWallet)
	stolen["quote_id"] = quote["id"]
	assert.Equal(t, http.StatusConflict, app.call(t, http.MethodPost, "/api/v1/trades", bob, stolen, nil))

	// Amounts that differ from the quote are rejected before it is consumed.
	bigger := buyRequest(aliceWallet)
	bigger["quote_id"] = quote["id"]
	bigger["amount_in"] = "2000000000000000000"
	assert.Equal(t, http.StatusBadRequest, app.call(t, http.MethodPost, "/api/v1/trades", alice, bigger, nil))
	assert.Empty(t, app.chain.transactions())

	trade := buyRequest(aliceWallet)
	trade["quote_id"] = quote["id"]
	var order map[string]interface{}
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/trades", alice, trade, &order))
	assert.Equal(t, quote["id"], order["quote_id"])
}

func TestAPI_WalletBalanceAndTokenInfo(t *testing.T) {
	app := newTestApp(t)
	alice, bob := app.token(t, "alice"), app.token(t, "bob")
	walletID := app.createWallet(t, alice)["id"].(string)

	var native map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodGet, "/api/v1/wallets/"+walletID+"/balance", alice, nil, &native))
	assert.Equal(t, "2000000000000000000", native["amount"])
	assert.Equal(t, "2", native["formatted"])
	assert.NotContains(t, native, "token")

	var held map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodGet, "/api/v1/wallets/"+walletID+"/balance?token="+apiToken1, alice, nil, &held))
	assert.Equal(t, "5", held["formatted"])
	assert.Equal(t, "TKN", held["symbol"])

	assert.Equal(t, http.StatusNotFound, app.call(t, http.MethodGet, "/api/v1/wallets/"+walletID+"/balance", bob, nil, nil))
	assert.Equal(t, http.StatusBadRequest, app.call(t, http.MethodGet, "/api/v1/wallets/"+walletID+"/balance?token=0x12", alice, nil, nil))

	var info map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodGet, "/api/v1/tokens/"+apiToken1, alice, nil, &info))
	assert.Equal(t, "Test Token", info["name"])
	assert.Equal(t, float64(6), info["decimals"])
}

func TestAPI_ImportWalletThenTrade(t *testing.T) {
	app := newTestApp(t)
	alice := app.token(t, "alice")

	keyHex := strings.Repeat("0a", 32)
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	var wallet map[string]interface{}
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/wallets/import", alice, map[string]interface{}{
		"private_key":      "0x" + keyHex,
		"label":            "imported",
		"expected_address": address,
	}, &wallet))
	assert.Equal(t, address, wallet["address"])
	assert.Equal(t, "imported", wallet["source"])

	// The same key may be imported again under a new wallet id.
	var again map[string]interface{}
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/wallets/import", alice, map[string]interface{}{
		"private_key": keyHex,
	}, &again))
	assert.Equal(t, address, again["address"])
	assert.NotEqual(t, wallet["id"], again["id"])

	var order map[string]interface{}
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/trades", alice, buyRequest(wallet["id"].(string)), &order))
	assert.Equal(t, "CONFIRMED", order["state"])

	sent := app.chain.transactions()
	require.Len(t, sent, 1)
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(apiChainID)), sent[0])
	require.NoError(t, err)
	assert.Equal(t, address, from.Hex())
}

func TestAPI_ImportWalletRejectsMismatchedAddress(t *testing.T) {
	app := newTestApp(t)
	alice := app.token(t, "alice")

	status := app.call(t, http.MethodPost, "/api/v1/wallets/import", alice, map[string]interface{}{
		"private_key":      strings.Repeat("0a", 32),
		"expected_address": apiToken0,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var wallets []map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodGet, "/api/v1/wallets", alice, nil, &wallets))
	assert.Empty(t, wallets)
}

func TestAPI_WalletsAreScopedToOwner(t *testing.T) {
	app := newTestApp(t)
	alice, bob := app.token(t, "alice"), app.token(t, "bob")
	walletID := app.createWallet(t, alice)["id"].(string)

	assert.Equal(t, http.StatusNotFound, app.call(t, http.MethodGet, "/api/v1/wallets/"+walletID, bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, app.call(t, http.MethodGet, "/api/v1/wallets/"+walletID+"/orders", bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, app.call(t, http.MethodPost, "/api/v1/trades", bob, buyRequest(walletID), nil))
	assert.Empty(t, app.chain.transactions())

	var wallets []map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodGet, "/api/v1/wallets", bob, nil, &wallets))
	assert.Empty(t, wallets)
}

func TestAPI_RotateKeyKeepsAddress(t *testing.T) {
	app := newTestApp(t)
	alice := app.token(t, "alice")
	wallet := app.createWallet(t, alice)

	var rotated map[string]interface{}
	require.Equal(t, http.StatusOK, app.call(t, http.MethodPost, "/api/v1/wallets/"+wallet["id"].(string)+"/rotate-key", alice, nil, &rotated))
	assert.Equal(t, wallet["address"], rotated["address"])

	var order map[string]interface{}
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/trades", alice, buyRequest(wallet["id"].(string)), &order))
	assert.Equal(t, "CONFIRMED", order["state"])
}

func TestAPI_WalletLimit(t *testing.T) {
	app := newTestApp(t)
	alice := app.token(t, "alice")
	for i := 0; i < 3; i++ {
		app.createWallet(t, alice)
	}
	assert.Equal(t, http.StatusUnprocessableEntity, app.call(t, http.MethodPost, "/api/v1/wallets", alice, map[string]string{}, nil))
}

func TestAPI_ClientRefReplaysOrder(t *testing.T) {
	app := newTestApp(t)
	alice := app.token(t, "alice")
	walletID := app.createWallet(t, alice)["id"].(string)

	trade := buyRequest(walletID)
	trade["client_ref"] = "ui-order-1"

	var first, second map[string]interface{}
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/trades", alice, trade, &first))
	require.Equal(t, http.StatusCreated, app.call(t, http.MethodPost, "/api/v1/trades", alice, trade, &second))

	assert.Equal(t, first["id"], second["id"])
	assert.Len(t, app.chain.transactions(), 1)
}

// TestAPI_ConcurrentTradesUseDistinctNonces fires parallel trades at one
// wallet; the wallet lock must hand out each nonce exactly once.
func TestAPI_ConcurrentTradesUseDistinctNonces(t *testing.T) {
	app := newTestApp(t)
	alice := app.token(t, "alice")
	walletID := app.createWallet(t, alice)["id"].(string)

	const concurrency = 5
	var wg sync.WaitGroup
	codes := make([]int, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			trade := buyRequest(walletID)
			trade["client_ref"] = fmt.Sprintf("parallel-%d", idx)
			resp, err := app.do(http.MethodPost, "/api/v1/trades", alice, trade)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[idx] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusCreated, code, "trade %d", i)
	}

	nonces := make(map[uint64]bool)
	for _, tx := range app.chain.transactions() {
		assert.False(t, nonces[tx.Nonce()], "nonce %d reused", tx.Nonce())
		nonces[tx.Nonce()] = true
	}
	assert.Len(t, nonces, concurrency)
}
