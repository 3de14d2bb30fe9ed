package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/punchamoorthee/stayescrow/internal/escrow"
)

type TxStatus string

const (
	TxStatusProcessed TxStatus = "processed"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFinalized TxStatus = "finalized"
)

// TxInfo is what the ledger reports about one signature. Calls and Err are
// only populated once the transaction is finalized.
type TxInfo struct {
	Signature solana.Signature
	Slot      uint64
	Status    TxStatus
	Err       error
	Calls     []Call
}

func (t *TxInfo) Finalized() bool {
	return t.Status == TxStatusFinalized
}

// Call is one escrow program instruction inside a transaction.
type Call struct {
	Instruction Instruction
	Accounts    []solana.PublicKey
	Signer      []bool
	Data        []byte
}

// SignedBy reports whether account index i is present and signed.
func (c Call) SignedBy(i int, key solana.PublicKey) bool {
	return i < len(c.Accounts) && c.Accounts[i].Equals(key) && c.Signer[i]
}

func (c Call) Account(i int) (solana.PublicKey, bool) {
	if i >= len(c.Accounts) {
		return solana.PublicKey{}, false
	}
	return c.Accounts[i], true
}

// ProgramCalls extracts the instructions addressed to programID.
// Instructions that reference lookup-table accounts are skipped.
func ProgramCalls(tx *solana.Transaction, programID solana.PublicKey) []Call {
	msg := tx.Message
	keys := msg.AccountKeys
	required := int(msg.Header.NumRequiredSignatures)

	var calls []Call
	for _, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) || !keys[ci.ProgramIDIndex].Equals(programID) {
			continue
		}
		call := Call{
			Instruction: IdentifyInstruction(ci.Data),
			Data:        []byte(ci.Data),
		}
		ok := true
		for _, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				ok = false
				break
			}
			call.Accounts = append(call.Accounts, keys[idx])
			call.Signer = append(call.Signer, int(idx) < required)
		}
		if ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// ParseTxError converts a transaction's meta.err into an error. Custom
// escrow program codes become *escrow.Error values wrapped in ErrTxFailed.
func ParseTxError(raw interface{}) error {
	if raw == nil {
		return nil
	}
	if m, ok := raw.(map[string]interface{}); ok {
		if ie, ok := m["InstructionError"].([]interface{}); ok && len(ie) == 2 {
			if detail, ok := ie[1].(map[string]interface{}); ok {
				if code, ok := toUint32(detail["Custom"]); ok {
					if pe := escrow.FromCode(code); pe != nil {
						return fmt.Errorf("%w: %w", ErrTxFailed, pe)
					}
					return fmt.Errorf("%w: custom program error %d", ErrTxFailed, code)
				}
			}
		}
	}
	b, _ := json.Marshal(raw)
	return fmt.Errorf("%w: %s", ErrTxFailed, b)
}

// ProgramErrorJSON renders a program error the way the ledger reports it in
// transaction metadata.
func ProgramErrorJSON(ixIndex int, pe *escrow.Error) interface{} {
	return map[string]interface{}{
		"InstructionError": []interface{}{float64(ixIndex), map[string]interface{}{"Custom": float64(pe.Code)}},
	}
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		return uint32(n), true
	case json.Number:
		i, err := n.Int64()
		return uint32(i), err == nil
	case int:
		return uint32(n), true
	case int64:
		return uint32(n), true
	case uint32:
		return n, true
	}
	return 0, false
}
