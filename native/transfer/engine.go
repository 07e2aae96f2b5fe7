package transfer

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strapt/core/events"
	"strapt/core/types"
	"strapt/native/claimcode"
	"strapt/native/registry"
)

var (
	errNilState    = errors.New("transfer engine: state not configured")
	errNilRegistry = errors.New("transfer engine: registry not configured")
)

// DefaultExpiryWindow is applied when a creation passes expiry 0.
const DefaultExpiryWindow = 24 * 60 * 60

type engineState interface {
	TransferPut(*Transfer) error
	TransferGet(id [32]byte) (*Transfer, bool)
	AppendRecipientTransfer(recipient [20]byte, id [32]byte) error
	RecipientTransferIDs(recipient [20]byte) ([][32]byte, error)
	NextEscrowNonce(creator [20]byte) (uint64, error)
	RevertEscrowNonce(creator [20]byte, nonce uint64)
	VaultAddress(token string) ([20]byte, error)
	Move(from, to [20]byte, token string, amount *big.Int) error
}

type transferEvent struct {
	evt *types.Event
}

func (e transferEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e transferEvent) Event() *types.Event { return e.evt }

// Engine wires the single-transfer escrow logic with external state, the token
// registry and event emission.
//
// mu serializes mutating operations end to end: a status check and the writes
// that follow must not interleave with another mutation of the same record.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	registry *registry.Registry
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a transfer engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the token/fee registry consulted on creation.
func (e *Engine) SetRegistry(r *registry.Registry) { e.registry = r }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(transferEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// deriveID hashes the creator, a counterparty tag, the token, the gross
// amount, the allocated per-creator nonce and the creation time. The tuple is
// documented in DESIGN.md so IDs are reproducible in tests while staying
// unpredictable before creation.
func deriveID(creator [20]byte, tag []byte, token string, amount *big.Int, nonce uint64, createdAt int64) [32]byte {
	buf := make([]byte, 0, 20+len(tag)+len(token)+32+16)
	buf = append(buf, creator[:]...)
	buf = append(buf, tag...)
	buf = append(buf, token...)
	if amount != nil {
		buf = append(buf, amount.Bytes()...)
	}
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], nonce)
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(createdAt))
	buf = append(buf, scratch[:]...)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// CreateDirectTransfer escrows a transfer addressed to a specific recipient.
// An optional claim-code hash gates the claim on top of recipient identity.
func (e *Engine) CreateDirectTransfer(sender, recipient [20]byte, token string, gross *big.Int, expiry int64, codeHash *[32]byte) (*Transfer, error) {
	if recipient == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}
	return e.create(sender, recipient, true, false, token, gross, expiry, codeHash)
}

// CreateLinkTransfer escrows a transfer claimable by anyone holding the claim
// right (usually distributed out-of-band as a link).
func (e *Engine) CreateLinkTransfer(sender [20]byte, token string, gross *big.Int, expiry int64, codeHash *[32]byte) (*Transfer, error) {
	return e.create(sender, [20]byte{}, false, true, token, gross, expiry, codeHash)
}

func (e *Engine) create(sender, recipient [20]byte, hasRecipient, isLink bool, token string, gross *big.Int, expiry int64, codeHash *[32]byte) (*Transfer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if gross == nil || gross.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	normalized, err := e.registry.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	now := e.now()
	switch {
	case expiry == 0:
		expiry = now + DefaultExpiryWindow
	case expiry <= now:
		return nil, ErrInvalidExpiry
	}
	policy, err := e.registry.FeePolicy()
	if err != nil {
		return nil, err
	}
	net, fee := policy.Split(gross)
	vault, err := e.state.VaultAddress(normalized)
	if err != nil {
		return nil, err
	}
	nonce, err := e.state.NextEscrowNonce(sender)
	if err != nil {
		return nil, err
	}
	record := &Transfer{
		Sender:         sender,
		Recipient:      recipient,
		HasRecipient:   hasRecipient,
		Token:          normalized,
		NetAmount:      net,
		GrossAmount:    new(big.Int).Set(gross),
		Expiry:         expiry,
		CreatedAt:      now,
		IsLinkTransfer: isLink,
		Status:         StatusPending,
	}
	if codeHash != nil && *codeHash != ([32]byte{}) {
		record.HasPassword = true
		record.ClaimCodeHash = *codeHash
	}
	tag := []byte(nil)
	if hasRecipient {
		tag = recipient[:]
	}
	record.ID = deriveID(sender, tag, normalized, gross, nonce, now)

	if err := e.state.Move(sender, vault, normalized, gross); err != nil {
		e.state.RevertEscrowNonce(sender, nonce)
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.state.Move(vault, policy.Collector, normalized, fee); err != nil {
			_ = e.state.Move(vault, sender, normalized, gross)
			e.state.RevertEscrowNonce(sender, nonce)
			return nil, err
		}
	}
	if err := e.state.TransferPut(record); err != nil {
		_ = e.state.Move(policy.Collector, vault, normalized, fee)
		_ = e.state.Move(vault, sender, normalized, gross)
		e.state.RevertEscrowNonce(sender, nonce)
		return nil, err
	}
	if hasRecipient {
		if err := e.state.AppendRecipientTransfer(recipient, record.ID); err != nil {
			return nil, err
		}
	}
	e.emit(NewCreatedEvent(record))
	return record.Clone(), nil
}

// ClaimTransfer releases a pending transfer to the authorized claimer. Direct
// transfers only pay the intended recipient; link transfers pay the caller
// once the claim predicate passes. Claims are serialized by the engine lock;
// the terminal status is still committed before the payout moves so a failure
// between the writes cannot double pay.
func (e *Engine) ClaimTransfer(id [32]byte, caller [20]byte, code string) (*Transfer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPending {
		return nil, ErrTransferNotClaimable
	}
	now := e.now()
	if now > record.Expiry {
		return nil, ErrTransferExpired
	}
	if record.HasRecipient && caller != record.Recipient {
		return nil, ErrNotIntendedRecipient
	}
	if err := claimcode.Verify(record.HasPassword, record.ClaimCodeHash, code); err != nil {
		return nil, err
	}
	payee := caller
	if record.HasRecipient {
		payee = record.Recipient
	}
	vault, err := e.state.VaultAddress(record.Token)
	if err != nil {
		return nil, err
	}
	record.Status = StatusClaimed
	if err := e.state.TransferPut(record); err != nil {
		return nil, err
	}
	if err := e.state.Move(vault, payee, record.Token, record.NetAmount); err != nil {
		record.Status = StatusPending
		_ = e.state.TransferPut(record)
		return nil, err
	}
	e.emit(NewClaimedEvent(record, payee))
	return record.Clone(), nil
}

// RefundTransfer returns a pending transfer to the sender strictly after
// expiry.
func (e *Engine) RefundTransfer(id [32]byte, caller [20]byte) (*Transfer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPending {
		return nil, ErrTransferNotRefundable
	}
	if caller != record.Sender {
		return nil, ErrNotTransferSender
	}
	if e.now() <= record.Expiry {
		return nil, ErrTransferNotExpired
	}
	vault, err := e.state.VaultAddress(record.Token)
	if err != nil {
		return nil, err
	}
	record.Status = StatusRefunded
	if err := e.state.TransferPut(record); err != nil {
		return nil, err
	}
	if err := e.state.Move(vault, record.Sender, record.Token, record.NetAmount); err != nil {
		record.Status = StatusPending
		_ = e.state.TransferPut(record)
		return nil, err
	}
	e.emit(NewRefundedEvent(record))
	return record.Clone(), nil
}

// GetTransfer returns a copy of the stored record.
func (e *Engine) GetTransfer(id [32]byte) (*Transfer, error) {
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// IsTransferClaimable reports whether the record is pending and inside its
// claim window. It deliberately does not check recipient identity.
func (e *Engine) IsTransferClaimable(id [32]byte) (bool, error) {
	record, err := e.load(id)
	if err != nil {
		return false, err
	}
	return record.Status == StatusPending && e.now() <= record.Expiry, nil
}

// IsPasswordProtected reports whether a claim code gates the record.
func (e *Engine) IsPasswordProtected(id [32]byte) (bool, error) {
	record, err := e.load(id)
	if err != nil {
		return false, err
	}
	return record.HasPassword, nil
}

// GetRecipientTransfers lists identifiers of direct transfers addressed to
// the recipient, oldest first.
func (e *Engine) GetRecipientTransfers(recipient [20]byte) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.RecipientTransferIDs(recipient)
}

func (e *Engine) load(id [32]byte) (*Transfer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.TransferGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}
