package withdrawals

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"lukechampine.com/blake3"
)

// Status enumerates the lifecycle states of a withdrawal request.
type Status uint8

const (
	StatusQueued Status = iota
	StatusPooled
	StatusBroadcasted
	StatusExpired
	StatusComplete
)

var statusNames = [...]string{
	StatusQueued:      "queued",
	StatusPooled:      "pooled",
	StatusBroadcasted: "broadcasted",
	StatusExpired:     "expired",
	StatusComplete:    "complete",
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusQueued, StatusPooled, StatusBroadcasted, StatusExpired, StatusComplete}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

// Locked reports whether requests in this status hold a reservation in the
// locked-amount ledger.
func (s Status) Locked() bool {
	return s == StatusPooled || s == StatusBroadcasted || s == StatusExpired
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusComplete
}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for i, name := range statusNames {
		if name == normalized {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("withdrawals: unknown status %q", raw)
}

// MarshalText renders the status name for JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RequestID identifies a withdrawal request.
type RequestID [32]byte

func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseRequestID decodes a hex encoded identifier, with or without 0x prefix.
func ParseRequestID(raw string) (RequestID, error) {
	var id RequestID
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("withdrawals: invalid request id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("withdrawals: request id must be %d bytes", len(id))
	}
	copy(id[:], decoded)
	return id, nil
}

func deriveRequestID(seq uint64, owner []byte, amount uint64, destination []byte, height uint64) RequestID {
	h := blake3.New(32, nil)
	var buf [8]byte
	_, _ = h.Write([]byte("creditchain/withdrawal"))
	binary.BigEndian.PutUint64(buf[:], seq)
	_, _ = h.Write(buf[:])
	_, _ = h.Write(owner)
	binary.BigEndian.PutUint64(buf[:], amount)
	_, _ = h.Write(buf[:])
	_, _ = h.Write(destination)
	binary.BigEndian.PutUint64(buf[:], height)
	_, _ = h.Write(buf[:])
	var id RequestID
	copy(id[:], h.Sum(nil))
	return id
}

// Request is the persisted withdrawal record. Only the status, height and
// index fields change after creation.
type Request struct {
	ID          RequestID
	Seq         uint64
	Owner       []byte
	Amount      uint64
	Destination []byte
	Status      Status

	TxIndex  uint64
	HasIndex bool

	PooledAt              uint64
	BroadcastAt           uint64
	ExpiryDeadline        uint64
	CoreHeightAtBroadcast uint64
	CompletedAt           uint64
	Attempts              uint32

	CreatedAt uint64
	UpdatedAt uint64
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Owner = append([]byte(nil), r.Owner...)
	clone.Destination = append([]byte(nil), r.Destination...)
	return &clone
}

// Intent is an authorised upstream request to withdraw credits.
type Intent struct {
	Owner       []byte
	Amount      uint64
	Destination []byte
}

// BlockInfo is supplied by the block driver once per block.
type BlockInfo struct {
	PlatformHeight uint64
	Time           time.Time
	// CoreHeight is the best chain-locked core height known to the driver. Zero
	// asks the engine to query the chain client.
	CoreHeight uint64
}

// ExternalStatus is the core chain's view of an asset-unlock transaction.
type ExternalStatus uint8

const (
	ExternalUnknown ExternalStatus = iota
	ExternalPending
	ExternalChainlocked
	ExternalRejected
)

func (s ExternalStatus) String() string {
	switch s {
	case ExternalPending:
		return "pending"
	case ExternalChainlocked:
		return "chainlocked"
	case ExternalRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ParseExternalStatus maps a core RPC status string. Unrecognised values are
// treated as unknown.
func ParseExternalStatus(raw string) ExternalStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "mempooled":
		return ExternalPending
	case "chainlocked":
		return ExternalChainlocked
	case "rejected", "invalid":
		return ExternalRejected
	default:
		return ExternalUnknown
	}
}

// UnlockTx is the payout transaction handed to the chain client. The client
// signs and encodes it for the core chain.
type UnlockTx struct {
	Index         uint64
	RequestID     RequestID
	Amount        uint64
	Destination   []byte
	RequestHeight uint64
	CoreHeight    uint64
	Attempt       uint32
}

// Ledger is the locked-amount scalar.
type Ledger struct {
	Total uint64
}

// Window is the rolling accounting period bounding withdrawal volume.
type Window struct {
	Start         uint64
	Duration      uint64
	Committed     uint64
	SupplyAtStart *big.Int
	Initialised   bool
}

// Report summarises one ProcessBlock invocation.
type Report struct {
	Height      uint64      `json:"height"`
	CoreHeight  uint64      `json:"coreHeight"`
	Pooled      int         `json:"pooled"`
	Broadcasted int         `json:"broadcasted"`
	Rebroadcast int         `json:"rebroadcast"`
	Expired     int         `json:"expired"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	Locked      uint64      `json:"locked"`
	Released    uint64      `json:"released"`
	Remaining   uint64      `json:"remaining"`
	WindowStart uint64      `json:"windowStart"`
	Committed   uint64      `json:"committed"`
	Paused      bool        `json:"paused"`
	Skipped     []string    `json:"skipped,omitempty"`
	Changed     []RequestID `json:"-"`
}

func (r *Report) touch(id RequestID) {
	for _, existing := range r.Changed {
		if existing == id {
			return
		}
	}
	r.Changed = append(r.Changed, id)
}

func (r *Report) skip(step string, err error) {
	r.Skipped = append(r.Skipped, fmt.Sprintf("%s: %v", step, err))
}
