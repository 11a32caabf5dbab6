package challengestore

import (
	"time"
)

// Outcome is the recorded fate of an issued challenge.
const (
	OutcomeIssued   = "issued"
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	// OutcomeUnknown marks a settlement whose result never came back.
	// These rows are what operators reconcile against the chain by hand.
	OutcomeUnknown = "unknown"
)

type Request struct {
	ClientIP string
	Resource string
	Amount   string
	Network  string
}

// Challenge is one ledger row: a payment challenge issued to a client and
// what became of it.
type Challenge struct {
	ID        string    `db:"id"`
	ClientIP  string    `db:"client_ip"`
	Resource  string    `db:"resource"`
	Amount    string    `db:"amount"`
	Network   string    `db:"network"`
	Outcome   string    `db:"outcome"`
	TxHash    *string   `db:"tx_hash"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
