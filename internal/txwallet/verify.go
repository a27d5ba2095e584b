package txwallet

import (
	"encoding/base64"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// Verifier checks an unsigned transaction before it is handed to a signer.
type Verifier interface {
	Verify(unsignedTxBase64, feePayer string) error
}

// StructuralVerifier decodes the transaction and checks that it is well
// formed and paid for by the signing wallet. It does not simulate it.
type StructuralVerifier struct{}

// Verify implements Verifier.
func (StructuralVerifier) Verify(unsignedTxBase64, feePayer string) error {
	raw, err := base64.StdEncoding.DecodeString(unsignedTxBase64)
	if err != nil || len(raw) == 0 {
		return invalid("transaction is not base64")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return tserr.WithCause(tserr.ErrInvalidTransaction, err)
	}

	msg := tx.Message
	if len(msg.Instructions) == 0 {
		return invalid("transaction has no instructions")
	}
	if msg.RecentBlockhash == (solana.Hash{}) {
		return invalid("transaction has no recent blockhash")
	}

	signers := int(msg.Header.NumRequiredSignatures)
	if signers == 0 || signers > len(msg.AccountKeys) {
		return invalid("signer count does not match the account list")
	}
	if n := len(tx.Signatures); n != 0 && n != signers {
		return invalid("signature slots do not match the signer count")
	}

	accounts := len(msg.AccountKeys)
	for _, l := range msg.AddressTableLookups {
		accounts += len(l.WritableIndexes) + len(l.ReadonlyIndexes)
	}
	for _, ix := range msg.Instructions {
		// Programs are always static keys.
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
			return invalid("program index out of range")
		}
		for _, a := range ix.Accounts {
			if int(a) >= accounts {
				return invalid("account index out of range")
			}
		}
	}

	if feePayer != "" {
		want, err := solana.PublicKeyFromBase58(feePayer)
		if err != nil {
			return tserr.WithCause(tserr.ErrInvalidInput, err)
		}
		if !msg.AccountKeys[0].Equals(want) {
			return tserr.WithDetails(tserr.ErrInvalidTransaction, map[string]string{
				"reason":    "fee payer is not the active wallet",
				"fee_payer": msg.AccountKeys[0].String(),
				"wallet":    feePayer,
			})
		}
	}
	return nil
}

func invalid(reason string) error {
	return tserr.WithDetails(tserr.ErrInvalidTransaction, map[string]string{"reason": reason})
}
