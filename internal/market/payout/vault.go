package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

// Participant name of the vault in the commit log.
const ParticipantName = "vault"

// Payload converts the batch to its wire form.
func (b Batch) Payload() protocol.PayoutPayload {
	p := protocol.PayoutPayload{From: string(b.From), Deposit: uint64(b.Deposit)}
	for _, t := range b.Transfers {
		p.Transfers = append(p.Transfers, protocol.PayoutTransfer{
			To:      string(t.To),
			Amount:  uint64(t.Amount),
			Reason:  string(t.Reason),
			OrderID: t.OrderID.String(),
		})
	}
	return p
}

// DecodePayload accepts a PayoutPayload as built in process or as decoded
// from JSON.
func DecodePayload(v any) (protocol.PayoutPayload, error) {
	switch p := v.(type) {
	case protocol.PayoutPayload:
		return p, nil
	case *protocol.PayoutPayload:
		if p == nil {
			return protocol.PayoutPayload{}, errors.New("nil payout payload")
		}
		return *p, nil
	case json.RawMessage:
		var out protocol.PayoutPayload
		err := json.Unmarshal(p, &out)
		return out, err
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return protocol.PayoutPayload{}, err
		}
		var out protocol.PayoutPayload
		err = json.Unmarshal(data, &out)
		return out, err
	}
}

var (
	ErrInsufficientFunds = errors.New("vault balance does not cover transfers")
	ErrRecipientRejected = errors.New("recipient rejected transfer")
)

// MemoryVault is an in-process escrow. Buyers' payments are deposited into
// it at checkout and released to sellers, referrers and refunded buyers by
// later transfers. Prepare reserves funds; Commit applies them.
type MemoryVault struct {
	mu       sync.Mutex
	balance  domain.Amount
	credited map[domain.AccountID]domain.Amount
	paidIn   map[domain.AccountID]domain.Amount
	rejects  map[domain.AccountID]bool
	pending  map[common.TxID]protocol.PayoutPayload
	done     map[common.TxID]bool
	reserved domain.Amount
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		credited: map[domain.AccountID]domain.Amount{},
		paidIn:   map[domain.AccountID]domain.Amount{},
		rejects:  map[domain.AccountID]bool{},
		pending:  map[common.TxID]protocol.PayoutPayload{},
		done:     map[common.TxID]bool{},
	}
}

// Reject makes every later transfer to acct fail, the way a recipient
// contract that refuses funds would.
func (v *MemoryVault) Reject(acct domain.AccountID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejects[acct] = true
}

// Balance is the escrowed amount not yet paid out.
func (v *MemoryVault) Balance() domain.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance
}

// Credited is the total paid out to acct.
func (v *MemoryVault) Credited(acct domain.AccountID) domain.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credited[acct]
}

// PaidIn is the total acct deposited.
func (v *MemoryVault) PaidIn(acct domain.AccountID) domain.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paidIn[acct]
}

func (v *MemoryVault) Prepare(_ context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	p, err := DecodePayload(req.Payload)
	if err != nil {
		return protocol.PrepareResponse{}, fmt.Errorf("vault prepare: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pending[req.TxID]; ok || v.done[req.TxID] {
		return protocol.PrepareResponse{VoteYes: true}, nil
	}
	for _, t := range p.Transfers {
		if v.rejects[domain.AccountID(t.To)] {
			return protocol.PrepareResponse{Reason: fmt.Sprintf("%v: %s", ErrRecipientRejected, t.To)}, nil
		}
	}
	avail := v.balance.AddSat(domain.Amount(p.Deposit)) - min(v.reserved, v.balance.AddSat(domain.Amount(p.Deposit)))
	if domain.Amount(p.Total()) > avail {
		return protocol.PrepareResponse{Reason: ErrInsufficientFunds.Error()}, nil
	}
	v.pending[req.TxID] = p
	v.reserved = v.reserved.AddSat(domain.Amount(p.Total()))
	return protocol.PrepareResponse{VoteYes: true}, nil
}

func (v *MemoryVault) Commit(_ context.Context, req protocol.CommitRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[req.TxID]
	if !ok {
		return nil
	}
	delete(v.pending, req.TxID)
	v.done[req.TxID] = true
	total := domain.Amount(p.Total())
	v.reserved -= min(total, v.reserved)
	if p.From != "" {
		v.paidIn[domain.AccountID(p.From)] = v.paidIn[domain.AccountID(p.From)].AddSat(domain.Amount(p.Deposit))
	}
	v.balance = v.balance.AddSat(domain.Amount(p.Deposit)) - total
	for _, t := range p.Transfers {
		v.credited[domain.AccountID(t.To)] = v.credited[domain.AccountID(t.To)].AddSat(domain.Amount(t.Amount))
	}
	return nil
}

func (v *MemoryVault) Abort(_ context.Context, req protocol.AbortRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[req.TxID]
	if !ok {
		return nil
	}
	delete(v.pending, req.TxID)
	v.reserved -= min(domain.Amount(p.Total()), v.reserved)
	return nil
}
