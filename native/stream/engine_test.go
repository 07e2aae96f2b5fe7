package stream

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"strapt/native/registry"
)

var vaultAddr = newTestAddress(0xEE)

type mockState struct {
	streams  map[[32]byte]*Stream
	nonces   map[[20]byte]uint64
	balances map[[20]byte]map[string]*big.Int
	params   *registry.Params
}

func newMockState() *mockState {
	return &mockState{
		streams:  make(map[[32]byte]*Stream),
		nonces:   make(map[[20]byte]uint64),
		balances: make(map[[20]byte]map[string]*big.Int),
	}
}

func (m *mockState) StreamPut(record *Stream) error {
	m.streams[record.ID] = record.Clone()
	return nil
}

func (m *mockState) StreamGet(id [32]byte) (*Stream, bool) {
	record, ok := m.streams[id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

func (m *mockState) NextEscrowNonce(creator [20]byte) (uint64, error) {
	nonce := m.nonces[creator]
	m.nonces[creator] = nonce + 1
	return nonce, nil
}

func (m *mockState) RevertEscrowNonce(creator [20]byte, nonce uint64) {
	if m.nonces[creator] == nonce+1 {
		m.nonces[creator] = nonce
	}
}

func (m *mockState) VaultAddress(string) ([20]byte, error) { return vaultAddr, nil }

func (m *mockState) Move(from, to [20]byte, token string, amount *big.Int) error {
	balance := m.balance(from, token)
	if balance.Cmp(amount) < 0 {
		return errors.New("mock: insufficient balance")
	}
	balance.Sub(balance, amount)
	m.balance(to, token).Add(m.balance(to, token), amount)
	return nil
}

func (m *mockState) ParamsGet() (*registry.Params, bool, error) {
	if m.params == nil {
		return nil, false, nil
	}
	return m.params.Clone(), true, nil
}

func (m *mockState) ParamsPut(p *registry.Params) error {
	m.params = p.Clone()
	return nil
}

func (m *mockState) balance(addr [20]byte, token string) *big.Int {
	tokens, ok := m.balances[addr]
	if !ok {
		tokens = make(map[string]*big.Int)
		m.balances[addr] = tokens
	}
	balance, ok := tokens[token]
	if !ok {
		balance = big.NewInt(0)
		tokens[token] = balance
	}
	return balance
}

func (m *mockState) fund(addr [20]byte, token string, amount int64) {
	m.balance(addr, token).SetInt64(amount)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestEngine(t *testing.T, feeBps uint32) (*Engine, *mockState, *int64) {
	t.Helper()
	mock := newMockState()
	reg := registry.NewRegistry(mock)
	if err := reg.Bootstrap(&registry.Params{
		Owner:        newTestAddress(0x01),
		FeeBps:       feeBps,
		FeeCollector: newTestAddress(0xFC),
		Tokens:       []string{"USDC"},
	}); err != nil {
		t.Fatalf("bootstrap params: %v", err)
	}
	current := int64(1_700_000_000)
	engine := NewEngine()
	engine.SetState(mock)
	engine.SetRegistry(reg)
	engine.SetNowFunc(func() int64 { return current })
	return engine, mock, &current
}

// newFundedStream creates a fee-free stream of 100 units over 3600 seconds.
func newFundedStream(t *testing.T, engine *Engine, mock *mockState, specs []MilestoneSpec) *Stream {
	t.Helper()
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	mock.fund(sender, "USDC", 100)
	record, err := engine.CreateStream(sender, recipient, "USDC", big.NewInt(100), 3600, specs)
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	return record
}

func streamedOrFatal(t *testing.T, engine *Engine, id [32]byte) int64 {
	t.Helper()
	amount, err := engine.Streamed(id)
	if err != nil {
		t.Fatalf("streamed: %v", err)
	}
	return amount.Int64()
}

func TestAccrualPauseResume(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, nil)
	sender := record.Sender
	start := *current

	*current = start + 900
	if got := streamedOrFatal(t, engine, record.ID); got != 25 {
		t.Fatalf("streamed at 900s = %d, want 25", got)
	}
	if _, err := engine.PauseStream(record.ID, sender); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Frozen while paused.
	*current = start + 1800
	if got := streamedOrFatal(t, engine, record.ID); got != 25 {
		t.Fatalf("streamed while paused = %d, want 25", got)
	}
	if _, err := engine.ResumeStream(record.ID, sender); err != nil {
		t.Fatalf("resume: %v", err)
	}

	// 900s paused interval excluded: 2700-900 elapsed = 1800s of 3600s.
	*current = start + 2700
	if got := streamedOrFatal(t, engine, record.ID); got != 50 {
		t.Fatalf("streamed after resume = %d, want 50", got)
	}

	// Paused time pushes full accrual past the nominal end.
	*current = start + 3600
	if got := streamedOrFatal(t, engine, record.ID); got != 75 {
		t.Fatalf("streamed at nominal end = %d, want 75", got)
	}
	*current = start + 4500
	if got := streamedOrFatal(t, engine, record.ID); got != 100 {
		t.Fatalf("streamed at adjusted end = %d, want 100", got)
	}
}

func TestPauseResumeAuthorization(t *testing.T) {
	engine, mock, _ := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, nil)
	stranger := newTestAddress(0xCC)

	if _, err := engine.PauseStream(record.ID, stranger); err != ErrNotStreamSender {
		t.Fatalf("stranger pause: got %v, want ErrNotStreamSender", err)
	}
	if _, err := engine.ResumeStream(record.ID, record.Sender); err != ErrStreamAlreadyActive {
		t.Fatalf("resume active: got %v, want ErrStreamAlreadyActive", err)
	}
	if _, err := engine.PauseStream(record.ID, record.Sender); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := engine.PauseStream(record.ID, record.Sender); err != ErrStreamNotActive {
		t.Fatalf("double pause: got %v, want ErrStreamNotActive", err)
	}
}

func TestMilestoneRatchet(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, []MilestoneSpec{{Percentage: 25, Description: "design"}})
	start := *current

	// Released immediately: the 25% floor beats the zero time accrual.
	updated, err := engine.ReleaseMilestone(record.ID, record.Sender, 0)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !updated.Milestones[0].Released {
		t.Fatal("milestone should be marked released")
	}
	if got := streamedOrFatal(t, engine, record.ID); got != 25 {
		t.Fatalf("streamed after release = %d, want 25", got)
	}
	if _, err := engine.ReleaseMilestone(record.ID, record.Sender, 0); err != ErrMilestoneAlreadyReleased {
		t.Fatalf("double release: got %v, want ErrMilestoneAlreadyReleased", err)
	}
	if _, err := engine.ReleaseMilestone(record.ID, record.Sender, 1); err != ErrMilestoneNotFound {
		t.Fatalf("out of range: got %v, want ErrMilestoneNotFound", err)
	}

	// Time accrual keeps growing beneath the floor and eventually passes it.
	*current = start + 1800
	if got := streamedOrFatal(t, engine, record.ID); got != 50 {
		t.Fatalf("streamed at 1800s = %d, want 50", got)
	}
}

func TestMilestoneFullReleaseCompletes(t *testing.T) {
	engine, mock, _ := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, []MilestoneSpec{
		{Percentage: 60, Description: "phase one"},
		{Percentage: 40, Description: "phase two"},
	})

	if _, err := engine.ReleaseMilestone(record.ID, record.Sender, 0); err != nil {
		t.Fatalf("release 0: %v", err)
	}
	updated, err := engine.ReleaseMilestone(record.ID, record.Sender, 1)
	if err != nil {
		t.Fatalf("release 1: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed", updated.Status)
	}

	// Withdrawal remains open after completion until custody is drained.
	payout, err := engine.WithdrawFromStream(record.ID, record.Recipient)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout.Int64() != 100 {
		t.Fatalf("payout = %d, want 100", payout.Int64())
	}
	if got := mock.balance(record.Recipient, "USDC").Int64(); got != 100 {
		t.Fatalf("recipient balance = %d, want 100", got)
	}
}

func TestWithdrawFlushesClaimable(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, nil)
	start := *current

	*current = start + 1800
	payout, err := engine.WithdrawFromStream(record.ID, record.Recipient)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout.Int64() != 50 {
		t.Fatalf("payout = %d, want 50", payout.Int64())
	}
	if got := streamedOrFatal(t, engine, record.ID); got != 0 {
		t.Fatalf("streamed after flush = %d, want 0", got)
	}

	// Nothing new accrued: a second withdraw is a harmless no-op.
	payout, err = engine.WithdrawFromStream(record.ID, record.Recipient)
	if err != nil {
		t.Fatalf("empty withdraw: %v", err)
	}
	if payout.Sign() != 0 {
		t.Fatalf("empty payout = %s, want 0", payout)
	}

	*current = start + 3600
	payout, err = engine.WithdrawFromStream(record.ID, record.Recipient)
	if err != nil {
		t.Fatalf("final withdraw: %v", err)
	}
	if payout.Int64() != 50 {
		t.Fatalf("final payout = %d, want 50", payout.Int64())
	}
	if got := mock.balance(record.Recipient, "USDC").Int64(); got != 100 {
		t.Fatalf("recipient total = %d, want 100", got)
	}
	final, err := engine.GetStream(record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed", final.Status)
	}
	if _, err := engine.WithdrawFromStream(record.ID, record.Sender); err != ErrNotStreamRecipient {
		t.Fatalf("sender withdraw: got %v, want ErrNotStreamRecipient", err)
	}
}

func TestCancelSplitsCustody(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, nil)
	start := *current

	*current = start + 900
	canceled, err := engine.CancelStream(record.ID, record.Sender)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Fatalf("status = %v, want canceled", canceled.Status)
	}
	if got := mock.balance(record.Recipient, "USDC").Int64(); got != 25 {
		t.Fatalf("recipient balance = %d, want 25", got)
	}
	if got := mock.balance(record.Sender, "USDC").Int64(); got != 75 {
		t.Fatalf("sender balance = %d, want 75", got)
	}
	if got := mock.balance(vaultAddr, "USDC").Int64(); got != 0 {
		t.Fatalf("vault balance = %d, want 0", got)
	}
	if _, err := engine.WithdrawFromStream(record.ID, record.Recipient); err != ErrStreamNotActive {
		t.Fatalf("withdraw after cancel: got %v, want ErrStreamNotActive", err)
	}
	if _, err := engine.CancelStream(record.ID, record.Sender); err != ErrStreamNotActive {
		t.Fatalf("double cancel: got %v, want ErrStreamNotActive", err)
	}
}

func TestCancelAfterPartialWithdraw(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, nil)
	start := *current

	*current = start + 900
	if _, err := engine.WithdrawFromStream(record.ID, record.Recipient); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	*current = start + 1800
	if _, err := engine.CancelStream(record.ID, record.Sender); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// 25 withdrawn plus 25 accrued since; unstreamed 50 goes back.
	if got := mock.balance(record.Recipient, "USDC").Int64(); got != 50 {
		t.Fatalf("recipient balance = %d, want 50", got)
	}
	if got := mock.balance(record.Sender, "USDC").Int64(); got != 50 {
		t.Fatalf("sender balance = %d, want 50", got)
	}
}

func TestUpdateStreamCompletes(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, nil)

	updated, err := engine.UpdateStream(record.ID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusActive {
		t.Fatalf("status before end = %v, want active", updated.Status)
	}

	*current += 3600
	updated, err = engine.UpdateStream(record.ID)
	if err != nil {
		t.Fatalf("update at end: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("status at end = %v, want completed", updated.Status)
	}
	// Idempotent on completed streams.
	if updated, err = engine.UpdateStream(record.ID); err != nil || updated.Status != StatusCompleted {
		t.Fatalf("second update = %v, %v; want completed", updated.Status, err)
	}
}

func TestCreateStreamSplitsFee(t *testing.T) {
	engine, mock, _ := newTestEngine(t, 20)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	mock.fund(sender, "USDC", 100_000)

	record, err := engine.CreateStream(sender, recipient, "USDC", big.NewInt(100_000), 3600, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := record.NetAmount.Int64(); got != 99_800 {
		t.Fatalf("net = %d, want 99800", got)
	}
	if got := mock.balance(newTestAddress(0xFC), "USDC").Int64(); got != 200 {
		t.Fatalf("collector balance = %d, want 200", got)
	}
	if got := mock.balance(vaultAddr, "USDC").Int64(); got != 99_800 {
		t.Fatalf("vault balance = %d, want 99800", got)
	}
}

func TestCreateStreamValidation(t *testing.T) {
	engine, mock, _ := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	mock.fund(sender, "USDC", 100)

	if _, err := engine.CreateStream(sender, recipient, "USDC", big.NewInt(0), 3600, nil); err != ErrInvalidAmount {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := engine.CreateStream(sender, [20]byte{}, "USDC", big.NewInt(100), 3600, nil); err != ErrInvalidRecipient {
		t.Fatalf("zero recipient: got %v, want ErrInvalidRecipient", err)
	}
	if _, err := engine.CreateStream(sender, recipient, "USDC", big.NewInt(100), 0, nil); err != ErrInvalidDuration {
		t.Fatalf("zero duration: got %v, want ErrInvalidDuration", err)
	}
	bad := []MilestoneSpec{{Percentage: 0}}
	if _, err := engine.CreateStream(sender, recipient, "USDC", big.NewInt(100), 3600, bad); err != ErrInvalidMilestonePercentage {
		t.Fatalf("zero milestone: got %v, want ErrInvalidMilestonePercentage", err)
	}
	over := []MilestoneSpec{{Percentage: 60}, {Percentage: 50}}
	if _, err := engine.CreateStream(sender, recipient, "USDC", big.NewInt(100), 3600, over); err != ErrInvalidMilestonePercentage {
		t.Fatalf("oversubscribed milestones: got %v, want ErrInvalidMilestonePercentage", err)
	}
	if _, err := engine.CreateStream(sender, recipient, "DOGE", big.NewInt(100), 3600, nil); !errors.Is(err, registry.ErrTokenNotSupported) {
		t.Fatalf("unsupported token: got %v, want ErrTokenNotSupported", err)
	}
}

func TestReleaseMilestoneWhilePaused(t *testing.T) {
	engine, mock, _ := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, []MilestoneSpec{{Percentage: 30, Description: "kickoff"}})

	if _, err := engine.PauseStream(record.ID, record.Sender); err != nil {
		t.Fatalf("pause: %v", err)
	}
	updated, err := engine.ReleaseMilestone(record.ID, record.Sender, 0)
	if err != nil {
		t.Fatalf("release while paused: %v", err)
	}
	if updated.Status != StatusPaused {
		t.Fatalf("status = %v, want still paused", updated.Status)
	}
	if got := streamedOrFatal(t, engine, record.ID); got != 30 {
		t.Fatalf("streamed = %d, want milestone floor 30", got)
	}
}

func TestConcurrentWithdrawsFlushOnce(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, nil)
	*current += 1800

	const withdrawers = 16
	payouts := make([]*big.Int, withdrawers)
	errs := make([]error, withdrawers)
	var wg sync.WaitGroup
	for i := 0; i < withdrawers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payouts[i], errs[i] = engine.WithdrawFromStream(record.ID, record.Recipient)
		}(i)
	}
	wg.Wait()

	total := big.NewInt(0)
	for i := range payouts {
		if errs[i] != nil {
			t.Fatalf("withdraw %d: %v", i, errs[i])
		}
		total.Add(total, payouts[i])
	}
	if total.Int64() != 50 {
		t.Fatalf("total paid = %s, want exactly the 50 accrued", total)
	}
	if got := mock.balance(record.Recipient, "USDC").Int64(); got != 50 {
		t.Fatalf("recipient balance = %d, want 50", got)
	}
	if got := mock.balance(vaultAddr, "USDC").Int64(); got != 50 {
		t.Fatalf("vault balance = %d, want 50", got)
	}
}

func TestFinalMilestoneWhilePausedCompletes(t *testing.T) {
	engine, mock, _ := newTestEngine(t, 0)
	record := newFundedStream(t, engine, mock, []MilestoneSpec{
		{Percentage: 60, Description: "phase one"},
		{Percentage: 40, Description: "phase two"},
	})

	if _, err := engine.PauseStream(record.ID, record.Sender); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := engine.ReleaseMilestone(record.ID, record.Sender, 0); err != nil {
		t.Fatalf("release 0: %v", err)
	}
	updated, err := engine.ReleaseMilestone(record.ID, record.Sender, 1)
	if err != nil {
		t.Fatalf("release 1: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed even while paused", updated.Status)
	}
	payout, err := engine.WithdrawFromStream(record.ID, record.Recipient)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout.Int64() != 100 {
		t.Fatalf("payout = %d, want 100", payout.Int64())
	}
	if got := mock.balance(record.Recipient, "USDC").Int64(); got != 100 {
		t.Fatalf("recipient balance = %d, want 100", got)
	}
}
