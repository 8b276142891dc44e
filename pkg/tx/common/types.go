package common

type TxStatus string

const (
	TxStarted    TxStatus = "STARTED"
	TxPreparing  TxStatus = "PREPARING"
	TxCommitting TxStatus = "COMMITTING"
	TxAborting   TxStatus = "ABORTING"
	TxCommitted  TxStatus = "COMMITTED"
	TxAborted    TxStatus = "ABORTED"
	// TxInDoubt means at least one participant committed and another could
	// not be reached. Recover finishes these.
	TxInDoubt TxStatus = "IN_DOUBT"
)

type TxID string

type CorrelationID string

type StepName string

// Steps of a ledger commit.
const (
	StepPersistLedger StepName = "persist_ledger"
	StepReleasePayout StepName = "release_payout"
)
