package envelope

import "fmt"

const HeaderVersion = 1

// EphemeralKeySize is the length of an X25519 public key.
const EphemeralKeySize = 32

type MessageType int32

const (
	MessageTypeNone               MessageType = 0
	MessageTypeJoin               MessageType = 1
	MessageTypeDiscovery          MessageType = 2
	MessageTypeDiscoveryResponse  MessageType = 3
	MessageTypeSafRequestMessages MessageType = 20
	MessageTypeSafStoredMessages  MessageType = 21
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeNone:
		return "none"
	case MessageTypeJoin:
		return "join"
	case MessageTypeDiscovery:
		return "discovery"
	case MessageTypeDiscoveryResponse:
		return "discovery_response"
	case MessageTypeSafRequestMessages:
		return "saf_request_messages"
	case MessageTypeSafStoredMessages:
		return "saf_stored_messages"
	}
	return fmt.Sprintf("type(%d)", int32(t))
}

// IsControl is true for types consumed by the routing layer itself.
func (t MessageType) IsControl() bool { return t != MessageTypeNone }

type Network uint8

const (
	MainNet Network = iota
	TestNet
	LocalTest
)

func (n Network) String() string {
	switch n {
	case MainNet:
		return "mainnet"
	case TestNet:
		return "testnet"
	case LocalTest:
		return "localtest"
	}
	return fmt.Sprintf("network(%d)", uint8(n))
}

func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet":
		return MainNet, nil
	case "testnet":
		return TestNet, nil
	case "localtest", "local":
		return LocalTest, nil
	}
	return 0, fmt.Errorf("unknown network %q", s)
}

type Flags uint32

const FlagEncrypted Flags = 1

func (f Flags) IsEncrypted() bool { return f&FlagEncrypted != 0 }

// Header is the routing metadata carried end to end. Relays propagate it
// unchanged.
type Header struct {
	Version            uint32
	Destination        Destination
	OriginMAC          []byte
	EphemeralPublicKey []byte
	MessageType        MessageType
	Network            Network
	Flags              Flags
}

func NewHeader(dest Destination, msgType MessageType, network Network) Header {
	return Header{
		Version:     HeaderVersion,
		Destination: dest,
		MessageType: msgType,
		Network:     network,
	}
}

func (h Header) IsEncrypted() bool { return h.Flags.IsEncrypted() }

// EphemeralKey returns the sender's ephemeral key if it has the right length.
func (h Header) EphemeralKey() ([]byte, bool) {
	if len(h.EphemeralPublicKey) != EphemeralKeySize {
		return nil, false
	}
	return h.EphemeralPublicKey, true
}

func (h Header) clone() Header {
	h.OriginMAC = append([]byte(nil), h.OriginMAC...)
	h.EphemeralPublicKey = append([]byte(nil), h.EphemeralPublicKey...)
	return h
}
