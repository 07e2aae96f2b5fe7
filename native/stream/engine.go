package stream

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
	errNilState    = errors.New("stream engine: state not configured")
	errNilRegistry = errors.New("stream engine: registry not configured")
)

type engineState interface {
	StreamPut(*Stream) error
	StreamGet(id [32]byte) (*Stream, bool)
	NextEscrowNonce(creator [20]byte) (uint64, error)
	RevertEscrowNonce(creator [20]byte, nonce uint64)
	VaultAddress(token string) ([20]byte, error)
	Move(from, to [20]byte, token string, amount *big.Int) error
}

type streamEvent struct {
	evt *types.Event
}

func (e streamEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e streamEvent) Event() *types.Event { return e.evt }

// Engine orchestrates continuous payment streams: time-based accrual over
// unpaused seconds, milestone ratchets that pull entitlement forward, flush
// withdrawals and sender cancellation.
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

// NewEngine creates a stream engine with a no-op emitter.
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
	e.emitter.Emit(streamEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// elapsed returns the unpaused seconds accrued so far, capped at the stream
// duration. While paused the clock is frozen at PausedAt.
func elapsed(s *Stream, now int64) int64 {
	effective := now
	if s.Status == StatusPaused && s.PausedAt > 0 {
		effective = s.PausedAt
	}
	el := effective - s.StartTime - s.PausedTotal
	if el < 0 {
		return 0
	}
	if duration := s.Duration(); el > duration {
		return duration
	}
	return el
}

// entitlement computes the authoritative cumulative release:
// max(floor(net*elapsed/duration), floor(net*releasedPct/100)), capped at net.
// The milestone floor is a ratchet; time-based accrual keeps growing
// independently underneath it.
func entitlement(s *Stream, now int64) *big.Int {
	net := s.NetAmount
	if net == nil || net.Sign() <= 0 {
		return big.NewInt(0)
	}
	duration := s.Duration()
	timeBased := big.NewInt(0)
	if duration > 0 {
		timeBased = new(big.Int).Mul(net, big.NewInt(elapsed(s, now)))
		timeBased.Div(timeBased, big.NewInt(duration))
	}
	floor := new(big.Int).Mul(net, new(big.Int).SetUint64(uint64(s.ReleasedPercent())))
	floor.Div(floor, big.NewInt(100))
	out := timeBased
	if floor.Cmp(out) > 0 {
		out = floor
	}
	if out.Cmp(net) > 0 {
		return new(big.Int).Set(net)
	}
	return out
}

// streamedNow is the amount currently claimable by the recipient: cumulative
// entitlement minus what has already been withdrawn.
func streamedNow(s *Stream, now int64) *big.Int {
	claimable := new(big.Int).Sub(entitlement(s, now), s.Withdrawn)
	if claimable.Sign() < 0 {
		return big.NewInt(0)
	}
	return claimable
}

func deriveID(sender, recipient [20]byte, token string, amount *big.Int, nonce uint64, createdAt int64) [32]byte {
	buf := make([]byte, 0, 40+len(token)+48)
	buf = append(buf, sender[:]...)
	buf = append(buf, recipient[:]...)
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

// CreateStream escrows the post-fee amount and starts accrual immediately.
func (e *Engine) CreateStream(sender, recipient [20]byte, token string, gross *big.Int, duration int64, specs []MilestoneSpec) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if recipient == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}
	if gross == nil || gross.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if err := ValidateMilestones(specs); err != nil {
		return nil, err
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
	if net.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	vault, err := e.state.VaultAddress(normalized)
	if err != nil {
		return nil, err
	}
	nonce, err := e.state.NextEscrowNonce(sender)
	if err != nil {
		return nil, err
	}
	now := e.now()
	record := &Stream{
		ID:        deriveID(sender, recipient, normalized, gross, nonce, now),
		Sender:    sender,
		Recipient: recipient,
		Token:     normalized,
		NetAmount: net,
		Withdrawn: big.NewInt(0),
		StartTime: now,
		EndTime:   now + duration,
		CreatedAt: now,
		Status:    StatusActive,
	}
	for _, spec := range specs {
		record.Milestones = append(record.Milestones, Milestone{
			Percentage:  spec.Percentage,
			Description: spec.Description,
		})
	}
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
	if err := e.state.StreamPut(record); err != nil {
		_ = e.state.Move(policy.Collector, vault, normalized, fee)
		_ = e.state.Move(vault, sender, normalized, gross)
		e.state.RevertEscrowNonce(sender, nonce)
		return nil, err
	}
	e.emit(NewCreatedEvent(record))
	return record.Clone(), nil
}

// UpdateStream is an idempotent recomputation entry point: it transitions an
// active stream to Completed once the unpaused elapsed time covers the full
// duration, and otherwise changes nothing.
func (e *Engine) UpdateStream(id [32]byte) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if record.Status == StatusActive && elapsed(record, e.now()) >= record.Duration() {
		record.Status = StatusCompleted
		if err := e.state.StreamPut(record); err != nil {
			return nil, err
		}
		e.emit(NewCompletedEvent(record))
	}
	return record.Clone(), nil
}

// Streamed returns the amount currently claimable by the recipient.
func (e *Engine) Streamed(id [32]byte) (*big.Int, error) {
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return streamedNow(record, e.now()), nil
}

// PauseStream freezes time-based accrual at the current value. Sender only.
func (e *Engine) PauseStream(id [32]byte, caller [20]byte) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != record.Sender {
		return nil, ErrNotStreamSender
	}
	if record.Status != StatusActive {
		return nil, ErrStreamNotActive
	}
	record.PausedAt = e.now()
	record.Status = StatusPaused
	if err := e.state.StreamPut(record); err != nil {
		return nil, err
	}
	e.emit(NewPausedEvent(record))
	return record.Clone(), nil
}

// ResumeStream unfreezes accrual, excluding the paused interval from future
// elapsed calculations. Sender only.
func (e *Engine) ResumeStream(id [32]byte, caller [20]byte) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != record.Sender {
		return nil, ErrNotStreamSender
	}
	if record.Status != StatusPaused {
		return nil, ErrStreamAlreadyActive
	}
	now := e.now()
	if record.PausedAt > 0 && now > record.PausedAt {
		record.PausedTotal += now - record.PausedAt
	}
	record.PausedAt = 0
	record.Status = StatusActive
	if err := e.state.StreamPut(record); err != nil {
		return nil, err
	}
	e.emit(NewResumedEvent(record))
	return record.Clone(), nil
}

// ReleaseMilestone marks the milestone at index as released, ratcheting the
// recipient's entitlement up to at least its percentage share. Sender only;
// a milestone releases at most once.
func (e *Engine) ReleaseMilestone(id [32]byte, caller [20]byte, index int) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != record.Sender {
		return nil, ErrNotStreamSender
	}
	if record.Status != StatusActive && record.Status != StatusPaused {
		return nil, ErrStreamNotActive
	}
	if index < 0 || index >= len(record.Milestones) {
		return nil, ErrMilestoneNotFound
	}
	if record.Milestones[index].Released {
		return nil, ErrMilestoneAlreadyReleased
	}
	record.Milestones[index].Released = true
	// The ratchet reaching the full net amount completes the stream even while
	// paused; withdrawal stays open either way.
	if entitlement(record, e.now()).Cmp(record.NetAmount) == 0 {
		record.Status = StatusCompleted
	}
	if err := e.state.StreamPut(record); err != nil {
		return nil, err
	}
	e.emit(NewMilestoneReleasedEvent(record, index))
	if record.Status == StatusCompleted {
		e.emit(NewCompletedEvent(record))
	}
	return record.Clone(), nil
}

// WithdrawFromStream flushes the currently claimable amount to the recipient.
// The withdrawn counter moves before the payout so a racing withdraw cannot
// double-pay; withdrawal stays available after completion until the full net
// amount has left custody.
func (e *Engine) WithdrawFromStream(id [32]byte, caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != record.Recipient {
		return nil, ErrNotStreamRecipient
	}
	if record.Status == StatusCanceled {
		return nil, ErrStreamNotActive
	}
	now := e.now()
	payout := streamedNow(record, now)
	if payout.Sign() == 0 {
		return big.NewInt(0), nil
	}
	vault, err := e.state.VaultAddress(record.Token)
	if err != nil {
		return nil, err
	}
	previousWithdrawn := new(big.Int).Set(record.Withdrawn)
	previousStatus := record.Status
	record.Withdrawn = new(big.Int).Add(record.Withdrawn, payout)
	if record.Status == StatusActive && elapsed(record, now) >= record.Duration() {
		record.Status = StatusCompleted
	}
	if err := e.state.StreamPut(record); err != nil {
		return nil, err
	}
	if err := e.state.Move(vault, record.Recipient, record.Token, payout); err != nil {
		record.Withdrawn = previousWithdrawn
		record.Status = previousStatus
		_ = e.state.StreamPut(record)
		return nil, err
	}
	e.emit(NewWithdrawnEvent(record, payout))
	if record.Status == StatusCompleted && previousStatus != StatusCompleted {
		e.emit(NewCompletedEvent(record))
	}
	return payout, nil
}

// CancelStream pays the currently claimable amount to the recipient and the
// unstreamed remainder back to the sender, then locks the record terminally.
// Sender only.
func (e *Engine) CancelStream(id [32]byte, caller [20]byte) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != record.Sender {
		return nil, ErrNotStreamSender
	}
	if record.Status != StatusActive && record.Status != StatusPaused {
		return nil, ErrStreamNotActive
	}
	now := e.now()
	toRecipient := streamedNow(record, now)
	remainder := new(big.Int).Sub(record.NetAmount, record.Withdrawn)
	remainder.Sub(remainder, toRecipient)
	if remainder.Sign() < 0 {
		remainder = big.NewInt(0)
	}
	vault, err := e.state.VaultAddress(record.Token)
	if err != nil {
		return nil, err
	}
	previousWithdrawn := new(big.Int).Set(record.Withdrawn)
	previousStatus := record.Status
	record.Withdrawn = new(big.Int).Add(record.Withdrawn, toRecipient)
	record.Status = StatusCanceled
	if err := e.state.StreamPut(record); err != nil {
		return nil, err
	}
	restore := func() {
		record.Withdrawn = previousWithdrawn
		record.Status = previousStatus
		_ = e.state.StreamPut(record)
	}
	if toRecipient.Sign() > 0 {
		if err := e.state.Move(vault, record.Recipient, record.Token, toRecipient); err != nil {
			restore()
			return nil, err
		}
	}
	if remainder.Sign() > 0 {
		if err := e.state.Move(vault, record.Sender, record.Token, remainder); err != nil {
			_ = e.state.Move(record.Recipient, vault, record.Token, toRecipient)
			restore()
			return nil, err
		}
	}
	e.emit(NewCanceledEvent(record, toRecipient, remainder))
	return record.Clone(), nil
}

// GetStream returns a copy of the stored record.
func (e *Engine) GetStream(id [32]byte) (*Stream, error) {
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// GetMilestone returns the milestone at index.
func (e *Engine) GetMilestone(id [32]byte, index int) (Milestone, error) {
	record, err := e.load(id)
	if err != nil {
		return Milestone{}, err
	}
	if index < 0 || index >= len(record.Milestones) {
		return Milestone{}, ErrMilestoneNotFound
	}
	return record.Milestones[index], nil
}

// GetMilestones returns a copy of all milestones on the stream.
func (e *Engine) GetMilestones(id [32]byte) ([]Milestone, error) {
	record, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return append([]Milestone(nil), record.Milestones...), nil
}

func (e *Engine) load(id [32]byte) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.StreamGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}
