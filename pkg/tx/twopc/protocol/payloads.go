package protocol

// PayoutTransfer moves Amount out of the vault to an account.
type PayoutTransfer struct {
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
	Reason  string `json:"reason"`
	OrderID string `json:"order_id,omitempty"`
}

// PayoutPayload is the release_payout step: Deposit is paid into the vault
// by From, then every transfer is paid out. The vault votes no when it cannot
// cover the transfers or a recipient refuses funds.
type PayoutPayload struct {
	From      string           `json:"from,omitempty"`
	Deposit   uint64           `json:"deposit"`
	Transfers []PayoutTransfer `json:"transfers"`
}

// Total is the sum of all transfers, saturating.
func (p PayoutPayload) Total() uint64 {
	var sum uint64
	for _, t := range p.Transfers {
		if sum+t.Amount < sum {
			return ^uint64(0)
		}
		sum += t.Amount
	}
	return sum
}
