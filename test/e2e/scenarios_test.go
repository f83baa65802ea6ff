package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenlabs/ballast/pkg/types"
)

// A first deposit creates the balance row lazily: no provisioning step
// beyond the account itself.
func TestFirstDepositCreatesBalance(t *testing.T) {
	requireStack(t)
	n := startNode(t)
	account := n.createAccount()

	tx := txID()
	n.submit(tx, account, "deposit", "100.50")

	b := n.waitBalance(account, "100.50", "0")
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, string(types.LedgerSuccess), n.waitTransaction(tx))
}

// Resubmitting a transaction id must not double-apply: the outbox uniqueness
// rejects it at the door, and even a replayed log record hits the terminal
// ledger entry.
func TestDuplicateTransactionAppliesOnce(t *testing.T) {
	requireStack(t)
	n := startNode(t)
	account := n.createAccount()

	tx := txID()
	n.submit(tx, account, "deposit", "25")
	n.waitBalance(account, "25", "0")

	assert.Equal(t, http.StatusConflict, n.mutate(tx, account, "deposit", "25"))

	b := n.waitBalance(account, "25", "0")
	assert.Equal(t, int64(1), b.Version, "duplicate must not advance the version")
}

// An overdraft produces a failed ledger entry and leaves the balance intact.
func TestInsufficientFundsRejected(t *testing.T) {
	requireStack(t)
	n := startNode(t)
	account := n.createAccount()

	n.submit(txID(), account, "deposit", "10")
	n.waitBalance(account, "10", "0")

	tx := txID()
	n.submit(tx, account, "withdraw", "10.01")

	assert.Equal(t, string(types.LedgerFailed), n.waitTransaction(tx))
	b := n.waitBalance(account, "10", "0")
	assert.Equal(t, int64(1), b.Version, "failed mutation must not advance the version")
}

// Freeze moves funds between the two buckets without changing their sum;
// unfreeze moves them back.
func TestFreezeUnfreezeChain(t *testing.T) {
	requireStack(t)
	n := startNode(t)
	account := n.createAccount()

	n.submit(txID(), account, "deposit", "100")
	n.submit(txID(), account, "freeze", "30")
	n.submit(txID(), account, "unfreeze", "10")

	b := n.waitBalance(account, "80", "20")
	assert.Equal(t, int64(3), b.Version)
}

// Mutations accepted before a node goes away must survive the restart: the
// outbox already published them and the successor resumes from the committed
// offset, applying each exactly once.
func TestRecoveryAfterNodeRestart(t *testing.T) {
	requireStack(t)

	n1 := startNode(t)
	account := n1.createAccount()

	const deposits = 20
	for i := 0; i < deposits; i++ {
		n1.submit(fmt.Sprintf("%s-%d", txID(), i), account, "deposit", "1")
	}
	n1.stop()

	n2 := startNode(t)
	b := n2.waitBalance(account, fmt.Sprintf("%d", deposits), "0")
	assert.Equal(t, int64(deposits), b.Version, "each deposit applied exactly once")
}

// Two nodes contend for the same partitions; when the leader goes away the
// survivor takes over the lease and keeps applying.
func TestLeaderHandOff(t *testing.T) {
	requireStack(t)

	n1 := startNode(t)
	n2 := startNode(t)

	account := n1.createAccount()
	n1.submit(txID(), account, "deposit", "5")
	n1.waitBalance(account, "5", "0")

	n1.stop()

	tx := txID()
	n2.submit(tx, account, "deposit", "7")

	require.Equal(t, string(types.LedgerSuccess), n2.waitTransaction(tx))
	n2.waitBalance(account, "12", "0")
}
