package deeplink

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlowState is the step of the deeplink handshake that is waiting on the wallet.
type FlowState int

// Flow states.
const (
	FlowIdle FlowState = iota
	FlowAwaitingConnect
	FlowAwaitingSign
)

func (f FlowState) String() string {
	switch f {
	case FlowIdle:
		return "IDLE"
	case FlowAwaitingConnect:
		return "AWAITING_CONNECT"
	case FlowAwaitingSign:
		return "AWAITING_SIGN"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON writes the state name.
func (f FlowState) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON reads a state name.
func (f *FlowState) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "IDLE", "":
		*f = FlowIdle
	case "AWAITING_CONNECT":
		*f = FlowAwaitingConnect
	case "AWAITING_SIGN":
		*f = FlowAwaitingSign
	default:
		return fmt.Errorf("unknown flow state %q", s)
	}
	return nil
}

// bufferedCallback is a wallet redirect kept until the waiting flow claims it.
type bufferedCallback struct {
	URI        string    `json:"uri"`
	ReceivedAt time.Time `json:"received_at"`
}

// flowFile is the on-disk form of a flow. Keys and session are base58.
type flowFile struct {
	Flow             FlowState         `json:"flow"`
	FlowID           string            `json:"flow_id,omitempty"`
	TargetPackage    string            `json:"target_package,omitempty"`
	DappPublicKey    string            `json:"dapp_public_key,omitempty"`
	DappSecretKey    string            `json:"dapp_secret_key,omitempty"`
	WalletPublicKey  string            `json:"wallet_public_key,omitempty"`
	Session          string            `json:"session,omitempty"`
	ConnectedAddress string            `json:"connected_address,omitempty"`
	PendingMessage   string            `json:"pending_message,omitempty"`
	Signature        string            `json:"signature,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	Callback         *bufferedCallback `json:"callback,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
