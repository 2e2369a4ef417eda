package withdrawals

import (
	"fmt"
	"math/big"
	"sort"
)

// StoreState is the narrow keyed store the engine persists through. The state
// manager satisfies it; tests use an in-memory fake.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVSetAdd(key []byte, value uint64) (bool, error)
	KVSetRemove(key []byte, value uint64) (bool, error)
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
}

// Store persists withdrawal records, status indexes, the locked-amount ledger
// and the rolling window.
type Store struct {
	state StoreState
}

func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, errNilStore
	}
	return s.state, nil
}

func (s *Store) loadCounter(key []byte) (uint64, error) {
	state, err := s.withState()
	if err != nil {
		return 0, err
	}
	var value uint64
	if _, err := state.KVGet(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}

// Create persists a new queued request and returns it.
func (s *Store) Create(intent Intent, height uint64) (*Request, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	seq, err := s.loadCounter(nextSeqKey)
	if err != nil {
		return nil, fmt.Errorf("withdrawals: load sequence: %w", err)
	}
	seq++
	if err := state.KVPut(nextSeqKey, seq); err != nil {
		return nil, fmt.Errorf("withdrawals: persist sequence: %w", err)
	}
	req := &Request{
		ID:          deriveRequestID(seq, intent.Owner, intent.Amount, intent.Destination, height),
		Seq:         seq,
		Owner:       append([]byte(nil), intent.Owner...),
		Amount:      intent.Amount,
		Destination: append([]byte(nil), intent.Destination...),
		Status:      StatusQueued,
		CreatedAt:   height,
		UpdatedAt:   height,
	}
	if err := s.put(req); err != nil {
		return nil, err
	}
	if err := state.KVPut(requestIDKey(req.ID), seq); err != nil {
		return nil, fmt.Errorf("withdrawals: index id: %w", err)
	}
	if err := s.addToIndex(StatusQueued, seq); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) put(req *Request) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := state.KVPut(requestKey(req.Seq), req); err != nil {
		return fmt.Errorf("withdrawals: persist request %d: %w", req.Seq, err)
	}
	return nil
}

// BySeq loads a request by its creation sequence.
func (s *Store) BySeq(seq uint64) (*Request, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	req := new(Request)
	ok, err := state.KVGet(requestKey(seq), req)
	if err != nil {
		return nil, fmt.Errorf("withdrawals: load request %d: %w", seq, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return req, nil
}

// Get loads a request by identifier.
func (s *Store) Get(id RequestID) (*Request, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var seq uint64
	ok, err := state.KVGet(requestIDKey(id), &seq)
	if err != nil {
		return nil, fmt.Errorf("withdrawals: resolve id: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.BySeq(seq)
}

// ByTxIndex loads the request that owns a core transaction index.
func (s *Store) ByTxIndex(index uint64) (*Request, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var seq uint64
	ok, err := state.KVGet(txIndexKey(index), &seq)
	if err != nil {
		return nil, fmt.Errorf("withdrawals: resolve tx index: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.BySeq(seq)
}

// AssignTxIndex gives the request the next transaction index unless it already
// holds one. The index is persisted immediately so retries reuse it.
func (s *Store) AssignTxIndex(req *Request) error {
	if req.HasIndex {
		return nil
	}
	state, err := s.withState()
	if err != nil {
		return err
	}
	next, err := s.loadCounter(nextTxIndexKey)
	if err != nil {
		return fmt.Errorf("withdrawals: load tx index counter: %w", err)
	}
	if err := state.KVPut(nextTxIndexKey, next+1); err != nil {
		return fmt.Errorf("withdrawals: persist tx index counter: %w", err)
	}
	if err := state.KVPut(txIndexKey(next), req.Seq); err != nil {
		return fmt.Errorf("withdrawals: map tx index: %w", err)
	}
	req.TxIndex = next
	req.HasIndex = true
	return s.put(req)
}

// NextTxIndex reports the index the next first broadcast will receive.
func (s *Store) NextTxIndex() (uint64, error) {
	return s.loadCounter(nextTxIndexKey)
}

// Transition moves the request to a new status, maintaining the status
// indexes. The caller has already stamped the height fields on req.
func (s *Store) Transition(req *Request, to Status, height uint64) error {
	if !allowedTransition(req.Status, to) {
		return fmt.Errorf("%w: %s -> %s for request %s", ErrInvalidTransition, req.Status, to, req.ID)
	}
	from := req.Status
	if err := s.removeFromIndex(from, req.Seq); err != nil {
		return err
	}
	if err := s.addToIndex(to, req.Seq); err != nil {
		return err
	}
	req.Status = to
	req.UpdatedAt = height
	return s.put(req)
}

func allowedTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusPooled
	case StatusPooled:
		return to == StatusBroadcasted || to == StatusComplete
	case StatusBroadcasted:
		return to == StatusComplete || to == StatusExpired
	case StatusExpired:
		return to == StatusBroadcasted || to == StatusComplete
	default:
		return false
	}
}

// terminalBucketSize is the number of sequence numbers covered by one
// completed-index bucket. Completed requests never leave their index, so it
// is split by sequence range and counted separately.
const terminalBucketSize = 1024

func bucketed(status Status) bool {
	return status == StatusComplete
}

func indexKey(status Status, seq uint64) []byte {
	if bucketed(status) {
		return statusBucketKey(status, seq/terminalBucketSize)
	}
	return statusIndexKey(status)
}

func (s *Store) loadSet(key []byte, status Status) ([]uint64, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	if err := state.KVGetList(key, &seqs); err != nil {
		return nil, fmt.Errorf("withdrawals: load %s index: %w", status, err)
	}
	return seqs, nil
}

func (s *Store) addToIndex(status Status, seq uint64) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	added, err := state.KVSetAdd(indexKey(status, seq), seq)
	if err != nil {
		return fmt.Errorf("withdrawals: persist %s index: %w", status, err)
	}
	if added && bucketed(status) {
		return s.adjustCount(status, true)
	}
	return nil
}

func (s *Store) removeFromIndex(status Status, seq uint64) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	removed, err := state.KVSetRemove(indexKey(status, seq), seq)
	if err != nil {
		return fmt.Errorf("withdrawals: persist %s index: %w", status, err)
	}
	if !removed {
		return invariantf("request %d missing from %s index", seq, status)
	}
	if bucketed(status) {
		return s.adjustCount(status, false)
	}
	return nil
}

func (s *Store) adjustCount(status Status, increment bool) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	count, err := s.loadCounter(statusCountKey(status))
	if err != nil {
		return fmt.Errorf("withdrawals: load %s count: %w", status, err)
	}
	if increment {
		count++
	} else {
		if count == 0 {
			return invariantf("%s count underflow", status)
		}
		count--
	}
	if err := state.KVPut(statusCountKey(status), count); err != nil {
		return fmt.Errorf("withdrawals: persist %s count: %w", status, err)
	}
	return nil
}

// indexedAfter returns up to limit indexed sequences above the cursor in
// ascending order. A non-positive limit returns every match.
func (s *Store) indexedAfter(status Status, after uint64, limit int) ([]uint64, error) {
	if !bucketed(status) {
		seqs, err := s.loadSet(statusIndexKey(status), status)
		if err != nil {
			return nil, err
		}
		return clipAfter(seqs, after, limit), nil
	}
	last, err := s.loadCounter(nextSeqKey)
	if err != nil {
		return nil, fmt.Errorf("withdrawals: load sequence: %w", err)
	}
	var out []uint64
	for bucket := after / terminalBucketSize; bucket <= last/terminalBucketSize; bucket++ {
		seqs, err := s.loadSet(statusBucketKey(status, bucket), status)
		if err != nil {
			return nil, err
		}
		out = append(out, clipAfter(seqs, after, 0)...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}

func clipAfter(seqs []uint64, after uint64, limit int) []uint64 {
	start := sort.Search(len(seqs), func(i int) bool { return seqs[i] > after })
	seqs = seqs[start:]
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[:limit]
	}
	return seqs
}

// ListByStatus returns requests with the status in ascending creation order,
// starting after the supplied sequence cursor. A non-positive limit returns
// every match.
func (s *Store) ListByStatus(status Status, after uint64, limit int) ([]*Request, error) {
	seqs, err := s.indexedAfter(status, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(seqs))
	for _, seq := range seqs {
		req, err := s.BySeq(seq)
		if err != nil {
			return nil, err
		}
		if req.Status != status {
			return nil, invariantf("request %d indexed as %s but stored as %s", seq, status, req.Status)
		}
		out = append(out, req)
	}
	return out, nil
}

// CountByStatus returns the number of requests in the status.
func (s *Store) CountByStatus(status Status) (int, error) {
	if bucketed(status) {
		count, err := s.loadCounter(statusCountKey(status))
		if err != nil {
			return 0, fmt.Errorf("withdrawals: load %s count: %w", status, err)
		}
		return int(count), nil
	}
	seqs, err := s.loadSet(statusIndexKey(status), status)
	if err != nil {
		return 0, err
	}
	return len(seqs), nil
}

// Ledger loads the locked-amount ledger.
func (s *Store) Ledger() (Ledger, error) {
	state, err := s.withState()
	if err != nil {
		return Ledger{}, err
	}
	var ledger Ledger
	if _, err := state.KVGet(ledgerKey, &ledger); err != nil {
		return Ledger{}, fmt.Errorf("withdrawals: load ledger: %w", err)
	}
	return ledger, nil
}

// PutLedger persists the locked-amount ledger.
func (s *Store) PutLedger(ledger Ledger) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := state.KVPut(ledgerKey, ledger); err != nil {
		return fmt.Errorf("withdrawals: persist ledger: %w", err)
	}
	return nil
}

// Window loads the rolling window. A missing record yields an uninitialised
// window.
func (s *Store) Window() (Window, error) {
	state, err := s.withState()
	if err != nil {
		return Window{}, err
	}
	var window Window
	if _, err := state.KVGet(windowKey, &window); err != nil {
		return Window{}, fmt.Errorf("withdrawals: load window: %w", err)
	}
	if window.SupplyAtStart == nil {
		window.SupplyAtStart = new(big.Int)
	}
	return window, nil
}

// PutWindow persists the rolling window.
func (s *Store) PutWindow(window Window) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if window.SupplyAtStart == nil {
		window.SupplyAtStart = new(big.Int)
	}
	if err := state.KVPut(windowKey, window); err != nil {
		return fmt.Errorf("withdrawals: persist window: %w", err)
	}
	return nil
}
