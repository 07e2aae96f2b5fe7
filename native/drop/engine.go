package drop

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strapt/core/events"
	"strapt/core/types"
	"strapt/native/registry"
)

var (
	errNilState    = errors.New("drop engine: state not configured")
	errNilRegistry = errors.New("drop engine: registry not configured")
)

// minRandomShare is the smallest unit every unclaimed slot must still be able
// to receive after a random draw.
var minRandomShare = big.NewInt(1)

type engineState interface {
	DropPut(*Drop) error
	DropGet(id [32]byte) (*Drop, bool)
	DropClaimPut(id [32]byte, claim *Claim) error
	DropClaimGet(id [32]byte, claimer [20]byte) (*Claim, bool, error)
	DropClaimDelete(id [32]byte, claimer [20]byte) error
	NextEscrowNonce(creator [20]byte) (uint64, error)
	RevertEscrowNonce(creator [20]byte, nonce uint64)
	VaultAddress(token string) ([20]byte, error)
	Move(from, to [20]byte, token string, amount *big.Int) error
}

type dropEvent struct {
	evt *types.Event
}

func (e dropEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e dropEvent) Event() *types.Event { return e.evt }

// Engine orchestrates multi-recipient claim pools with fixed-equal or
// pseudo-random per-claim amounts and creator expiry sweeps.
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

// NewEngine creates a drop engine with a no-op emitter.
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
	e.emitter.Emit(dropEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func deriveID(creator [20]byte, message string, token string, amount *big.Int, nonce uint64, createdAt int64) [32]byte {
	buf := make([]byte, 0, 20+len(message)+len(token)+48)
	buf = append(buf, creator[:]...)
	buf = append(buf, message...)
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

// CreateDrop escrows the post-fee pool and opens it for claims.
func (e *Engine) CreateDrop(creator [20]byte, token string, gross *big.Int, totalRecipients uint32, isRandom bool, expiryTime int64, message string) (*Drop, error) {
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
	if totalRecipients == 0 {
		return nil, ErrInvalidRecipientCount
	}
	now := e.now()
	if expiryTime <= now {
		return nil, ErrInvalidExpiry
	}
	normalized, err := e.registry.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	policy, err := e.registry.FeePolicy()
	if err != nil {
		return nil, err
	}
	net, fee := policy.Split(gross)
	// Every slot must be able to receive at least one base unit.
	if net.Cmp(new(big.Int).SetUint64(uint64(totalRecipients))) < 0 {
		return nil, ErrInvalidAmount
	}
	vault, err := e.state.VaultAddress(normalized)
	if err != nil {
		return nil, err
	}
	nonce, err := e.state.NextEscrowNonce(creator)
	if err != nil {
		return nil, err
	}
	record := &Drop{
		ID:              deriveID(creator, message, normalized, gross, nonce, now),
		Creator:         creator,
		Token:           normalized,
		NetAmount:       net,
		RemainingAmount: new(big.Int).Set(net),
		TotalRecipients: totalRecipients,
		IsRandom:        isRandom,
		ExpiryTime:      expiryTime,
		Message:         message,
		Active:          true,
		CreatedAt:       now,
	}
	if err := e.state.Move(creator, vault, normalized, gross); err != nil {
		e.state.RevertEscrowNonce(creator, nonce)
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.state.Move(vault, policy.Collector, normalized, fee); err != nil {
			_ = e.state.Move(vault, creator, normalized, gross)
			e.state.RevertEscrowNonce(creator, nonce)
			return nil, err
		}
	}
	if err := e.state.DropPut(record); err != nil {
		_ = e.state.Move(policy.Collector, vault, normalized, fee)
		_ = e.state.Move(vault, creator, normalized, gross)
		e.state.RevertEscrowNonce(creator, nonce)
		return nil, err
	}
	e.emit(NewCreatedEvent(record))
	return record.Clone(), nil
}

// fixedShare is the equal per-claim payout. The integer-division remainder
// stays in RemainingAmount and is only drained by the expiry refund; this is
// an accepted rounding-loss policy.
func fixedShare(d *Drop) *big.Int {
	share := new(big.Int).Set(d.NetAmount)
	return share.Div(share, new(big.Int).SetUint64(uint64(d.TotalRecipients)))
}

// randomShare draws a pseudo-random payout in [1, remaining-(left-1)] so every
// remaining slot can still receive at least one unit; the final claimer takes
// the whole remainder. Entropy is keccak256(dropID, claimer, now,
// claimedCount): deterministic given its inputs and NOT resistant to an
// adversary who controls the clock. Known weak-RNG caveat.
func randomShare(d *Drop, claimer [20]byte, now int64) *big.Int {
	left := int64(d.TotalRecipients) - int64(d.ClaimedCount)
	if left <= 1 {
		return new(big.Int).Set(d.RemainingAmount)
	}
	reserve := new(big.Int).Mul(minRandomShare, big.NewInt(left-1))
	max := new(big.Int).Sub(d.RemainingAmount, reserve)
	if max.Cmp(minRandomShare) <= 0 {
		return new(big.Int).Set(minRandomShare)
	}
	buf := make([]byte, 0, 32+20+16)
	buf = append(buf, d.ID[:]...)
	buf = append(buf, claimer[:]...)
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(now))
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(d.ClaimedCount))
	buf = append(buf, scratch[:]...)
	seed := new(big.Int).SetBytes(ethcrypto.Keccak256(buf))
	draw := seed.Mod(seed, max)
	return draw.Add(draw, big.NewInt(1))
}

// ClaimDrop pays the caller their slot of the pool. Each address claims at
// most once; both the claim record and the updated pool are committed before
// the payout moves, and a failed payout deletes the claim record again so the
// address can retry.
func (e *Engine) ClaimDrop(id [32]byte, claimer [20]byte) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, ErrDropNotActive
	}
	now := e.now()
	if now > record.ExpiryTime {
		return nil, ErrDropExpired
	}
	if _, ok, err := e.state.DropClaimGet(id, claimer); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyClaimed
	}
	var amount *big.Int
	if record.IsRandom {
		amount = randomShare(record, claimer, now)
	} else {
		amount = fixedShare(record)
	}
	if amount.Cmp(record.RemainingAmount) > 0 {
		amount = new(big.Int).Set(record.RemainingAmount)
	}
	vault, err := e.state.VaultAddress(record.Token)
	if err != nil {
		return nil, err
	}
	claim := &Claim{Claimer: claimer, Amount: new(big.Int).Set(amount), ClaimedAt: now}
	previousRemaining := new(big.Int).Set(record.RemainingAmount)
	previousCount := record.ClaimedCount
	previousActive := record.Active
	record.RemainingAmount = new(big.Int).Sub(record.RemainingAmount, amount)
	record.ClaimedCount++
	if record.ClaimedCount >= record.TotalRecipients || record.RemainingAmount.Sign() == 0 {
		record.Active = false
	}
	if err := e.state.DropPut(record); err != nil {
		return nil, err
	}
	if err := e.state.DropClaimPut(id, claim); err != nil {
		record.RemainingAmount = previousRemaining
		record.ClaimedCount = previousCount
		record.Active = previousActive
		_ = e.state.DropPut(record)
		return nil, err
	}
	if err := e.state.Move(vault, claimer, record.Token, amount); err != nil {
		_ = e.state.DropClaimDelete(id, claimer)
		record.RemainingAmount = previousRemaining
		record.ClaimedCount = previousCount
		record.Active = previousActive
		_ = e.state.DropPut(record)
		return nil, err
	}
	e.emit(NewClaimedEvent(record, claim))
	return claim.Clone(), nil
}

// RefundExpiredDrop sweeps the unclaimed remainder back to the creator once
// the expiry time has passed.
func (e *Engine) RefundExpiredDrop(id [32]byte, caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, ErrDropNotActive
	}
	if caller != record.Creator {
		return nil, ErrNotCreator
	}
	if e.now() <= record.ExpiryTime {
		return nil, ErrNotExpiredYet
	}
	swept := new(big.Int).Set(record.RemainingAmount)
	vault, err := e.state.VaultAddress(record.Token)
	if err != nil {
		return nil, err
	}
	record.RemainingAmount = big.NewInt(0)
	record.Active = false
	if err := e.state.DropPut(record); err != nil {
		return nil, err
	}
	if swept.Sign() > 0 {
		if err := e.state.Move(vault, record.Creator, record.Token, swept); err != nil {
			record.RemainingAmount = swept
			record.Active = true
			_ = e.state.DropPut(record)
			return nil, err
		}
	}
	e.emit(NewRefundedEvent(record, swept))
	return swept, nil
}

// GetDrop returns a copy of the stored record.
func (e *Engine) GetDrop(id [32]byte) (*Drop, error) {
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// HasAddressClaimed reports whether the address claimed and for how much.
func (e *Engine) HasAddressClaimed(id [32]byte, addr [20]byte) (bool, *big.Int, error) {
	if e == nil || e.state == nil {
		return false, nil, errNilState
	}
	if _, ok := e.state.DropGet(id); !ok {
		return false, nil, ErrNotFound
	}
	claim, ok, err := e.state.DropClaimGet(id, addr)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, big.NewInt(0), nil
	}
	return true, new(big.Int).Set(claim.Amount), nil
}

func (e *Engine) load(id [32]byte) (*Drop, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.DropGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}
