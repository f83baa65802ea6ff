// End-to-end scenarios against a live stack: Postgres, Redis, and Kafka
// reachable at their configured addresses, schema migrated. Enable with:
//
//	BALLAST_E2E=1 go test ./test/e2e/...
//
// Each test starts one or more full in-process nodes and drives them over
// HTTP, so the whole pipeline is exercised: outbox, log, lease, fenced batch
// commit, cache fan-out.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fenlabs/ballast/pkg/config"
	"github.com/fenlabs/ballast/pkg/engine"
)

const (
	waitFor = 30 * time.Second
	tick    = 200 * time.Millisecond
)

func requireStack(t *testing.T) {
	t.Helper()
	if os.Getenv("BALLAST_E2E") != "1" {
		t.Skip("set BALLAST_E2E=1 to run end-to-end scenarios")
	}
}

type node struct {
	t       *testing.T
	eng     *engine.Engine
	baseURL string
	stopped bool
}

func startNode(t *testing.T) *node {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.NodeID = "e2e-" + uuid.NewString()[:8]
	cfg.Server.ListenAddr = freeAddr(t)
	cfg.Log.Level = "warn"

	eng := engine.New(cfg)
	require.NoError(t, eng.Start(context.Background()))

	n := &node{
		t:       t,
		eng:     eng,
		baseURL: "http://" + cfg.Server.ListenAddr,
	}
	t.Cleanup(n.stop)

	n.waitReady()
	return n
}

func (n *node) stop() {
	if n.stopped {
		return
	}
	n.stopped = true
	n.eng.Shutdown(context.Background())
}

func (n *node) waitReady() {
	n.t.Helper()
	require.Eventually(n.t, func() bool {
		resp, err := http.Get(n.baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, waitFor, tick, "node never became ready")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func (n *node) post(path string, body any) (int, map[string]any) {
	n.t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(n.t, err)

	resp, err := http.Post(n.baseURL+path, "application/json", bytes.NewReader(payload))
	require.NoError(n.t, err)
	defer resp.Body.Close()

	return resp.StatusCode, decode(n.t, resp.Body)
}

func (n *node) get(path string) (int, map[string]any) {
	n.t.Helper()
	resp, err := http.Get(n.baseURL + path)
	require.NoError(n.t, err)
	defer resp.Body.Close()

	return resp.StatusCode, decode(n.t, resp.Body)
}

func decode(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return out
}

// createAccount provisions a fresh account and returns its id.
func (n *node) createAccount() int64 {
	n.t.Helper()
	status, body := n.post("/v1/accounts", map[string]any{
		"account_key": "e2e-" + uuid.NewString(),
	})
	require.Equal(n.t, http.StatusCreated, status, "body: %v", body)
	return int64(body["id"].(float64))
}

// mutate submits one mutation and returns the HTTP status.
func (n *node) mutate(txID string, accountID int64, kind, amount string) int {
	n.t.Helper()
	status, _ := n.post("/v1/mutations", map[string]any{
		"transaction_id": txID,
		"account_id":     accountID,
		"currency":       "USDT",
		"kind":           kind,
		"amount":         amount,
	})
	return status
}

// submit is mutate plus the assertion that the mutation was accepted.
func (n *node) submit(txID string, accountID int64, kind, amount string) {
	n.t.Helper()
	require.Equal(n.t, http.StatusAccepted, n.mutate(txID, accountID, kind, amount))
}

type balanceView struct {
	Available string
	Frozen    string
	Version   int64
}

func (n *node) balance(accountID int64) (balanceView, bool) {
	n.t.Helper()
	status, body := n.get(fmt.Sprintf("/v1/balances/%d/USDT", accountID))
	if status != http.StatusOK {
		return balanceView{}, false
	}
	return balanceView{
		Available: body["available"].(string),
		Frozen:    body["frozen"].(string),
		Version:   int64(body["version"].(float64)),
	}, true
}

// waitBalance polls until the balance reaches the expected amounts.
func (n *node) waitBalance(accountID int64, available, frozen string) balanceView {
	n.t.Helper()
	var last balanceView
	require.Eventually(n.t, func() bool {
		b, ok := n.balance(accountID)
		if !ok {
			return false
		}
		last = b
		return equalAmount(b.Available, available) && equalAmount(b.Frozen, frozen)
	}, waitFor, tick, "balance never reached available=%s frozen=%s, last seen %+v", available, frozen, last)
	return last
}

// waitTransaction polls until the ledger entry exists and returns its status.
func (n *node) waitTransaction(txID string) string {
	n.t.Helper()
	var outcome string
	require.Eventually(n.t, func() bool {
		status, body := n.get("/v1/transactions/" + txID)
		if status != http.StatusOK {
			return false
		}
		outcome = body["status"].(string)
		return true
	}, waitFor, tick, "transaction %s never got a ledger entry", txID)
	return outcome
}

// equalAmount compares decimal strings numerically so "80" matches "80.00".
func equalAmount(a, b string) bool {
	var x, y float64
	if _, err := fmt.Sscan(a, &x); err != nil {
		return false
	}
	if _, err := fmt.Sscan(b, &y); err != nil {
		return false
	}
	diff := x - y
	return diff < 1e-9 && diff > -1e-9
}

func txID() string {
	return "e2e-" + uuid.NewString()
}
