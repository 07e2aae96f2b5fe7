package transfer

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"strapt/native/claimcode"
	"strapt/native/registry"
)

var vaultAddr = newTestAddress(0xEE)

type mockState struct {
	transfers map[[32]byte]*Transfer
	index     map[[20]byte][][32]byte
	nonces    map[[20]byte]uint64
	balances  map[[20]byte]map[string]*big.Int
	params    *registry.Params
	failMove  bool
}

func newMockState() *mockState {
	return &mockState{
		transfers: make(map[[32]byte]*Transfer),
		index:     make(map[[20]byte][][32]byte),
		nonces:    make(map[[20]byte]uint64),
		balances:  make(map[[20]byte]map[string]*big.Int),
	}
}

func (m *mockState) TransferPut(record *Transfer) error {
	m.transfers[record.ID] = record.Clone()
	return nil
}

func (m *mockState) TransferGet(id [32]byte) (*Transfer, bool) {
	record, ok := m.transfers[id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

func (m *mockState) AppendRecipientTransfer(recipient [20]byte, id [32]byte) error {
	m.index[recipient] = append(m.index[recipient], id)
	return nil
}

func (m *mockState) RecipientTransferIDs(recipient [20]byte) ([][32]byte, error) {
	return append([][32]byte(nil), m.index[recipient]...), nil
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
	if m.failMove {
		return errors.New("mock: move failed")
	}
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

func TestCreateDirectTransferSplitsFee(t *testing.T) {
	engine, mock, current := newTestEngine(t, 250)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	mock.fund(sender, "USDC", 10_000)

	record, err := engine.CreateDirectTransfer(sender, recipient, "usdc", big.NewInt(10_000), *current+3600, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Status != StatusPending {
		t.Fatalf("status = %v, want pending", record.Status)
	}
	if record.Token != "USDC" {
		t.Fatalf("token = %q, want normalized USDC", record.Token)
	}
	if got := record.NetAmount.Int64(); got != 9_750 {
		t.Fatalf("net = %d, want 9750", got)
	}
	if got := mock.balance(sender, "USDC").Int64(); got != 0 {
		t.Fatalf("sender balance = %d, want 0", got)
	}
	if got := mock.balance(newTestAddress(0xFC), "USDC").Int64(); got != 250 {
		t.Fatalf("collector balance = %d, want 250", got)
	}
	if got := mock.balance(vaultAddr, "USDC").Int64(); got != 9_750 {
		t.Fatalf("vault balance = %d, want 9750", got)
	}
	ids, err := engine.GetRecipientTransfers(recipient)
	if err != nil {
		t.Fatalf("recipient transfers: %v", err)
	}
	if len(ids) != 1 || ids[0] != record.ID {
		t.Fatalf("recipient index = %v, want [%x]", ids, record.ID)
	}
}

func TestClaimDirectTransfer(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	stranger := newTestAddress(0xCC)
	mock.fund(sender, "USDC", 500)

	record, err := engine.CreateDirectTransfer(sender, recipient, "USDC", big.NewInt(500), *current+3600, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.ClaimTransfer(record.ID, stranger, ""); err != ErrNotIntendedRecipient {
		t.Fatalf("stranger claim: got %v, want ErrNotIntendedRecipient", err)
	}
	claimed, err := engine.ClaimTransfer(record.ID, recipient, "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusClaimed {
		t.Fatalf("status = %v, want claimed", claimed.Status)
	}
	if got := mock.balance(recipient, "USDC").Int64(); got != 500 {
		t.Fatalf("recipient balance = %d, want 500", got)
	}
	if got := mock.balance(vaultAddr, "USDC").Int64(); got != 0 {
		t.Fatalf("vault balance = %d, want 0", got)
	}
	if _, err := engine.ClaimTransfer(record.ID, recipient, ""); err != ErrTransferNotClaimable {
		t.Fatalf("second claim: got %v, want ErrTransferNotClaimable", err)
	}
}

func TestClaimLinkTransferWithCode(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	claimer := newTestAddress(0xDD)
	mock.fund(sender, "USDC", 1_000)

	hash := claimcode.HashCode("open-sesame")
	record, err := engine.CreateLinkTransfer(sender, "USDC", big.NewInt(1_000), *current+3600, &hash)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	protected, err := engine.IsPasswordProtected(record.ID)
	if err != nil || !protected {
		t.Fatalf("password protected = %v, %v; want true", protected, err)
	}
	if _, err := engine.ClaimTransfer(record.ID, claimer, "wrong"); err != claimcode.ErrInvalidClaimCode {
		t.Fatalf("wrong code: got %v, want ErrInvalidClaimCode", err)
	}
	if _, err := engine.ClaimTransfer(record.ID, claimer, "open-sesame"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := mock.balance(claimer, "USDC").Int64(); got != 1_000 {
		t.Fatalf("claimer balance = %d, want 1000", got)
	}
}

func TestClaimWindowBoundary(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	mock.fund(sender, "USDC", 200)

	expiry := *current + 3600
	record, err := engine.CreateDirectTransfer(sender, recipient, "USDC", big.NewInt(100), expiry, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	*current = expiry + 1
	if _, err := engine.ClaimTransfer(record.ID, recipient, ""); err != ErrTransferExpired {
		t.Fatalf("late claim: got %v, want ErrTransferExpired", err)
	}

	// Claims at exactly the expiry second still pass.
	*current = expiry - 3600
	boundary, err := engine.CreateDirectTransfer(sender, recipient, "USDC", big.NewInt(100), expiry, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	*current = expiry
	if _, err := engine.ClaimTransfer(boundary.ID, recipient, ""); err != nil {
		t.Fatalf("boundary claim: %v", err)
	}
}

func TestRefundTransfer(t *testing.T) {
	engine, mock, current := newTestEngine(t, 250)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	stranger := newTestAddress(0xCC)
	mock.fund(sender, "USDC", 10_000)

	expiry := *current + 3600
	record, err := engine.CreateDirectTransfer(sender, recipient, "USDC", big.NewInt(10_000), expiry, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.RefundTransfer(record.ID, sender); err != ErrTransferNotExpired {
		t.Fatalf("early refund: got %v, want ErrTransferNotExpired", err)
	}
	*current = expiry
	if _, err := engine.RefundTransfer(record.ID, sender); err != ErrTransferNotExpired {
		t.Fatalf("refund at expiry second: got %v, want ErrTransferNotExpired", err)
	}
	*current = expiry + 1
	if _, err := engine.RefundTransfer(record.ID, stranger); err != ErrNotTransferSender {
		t.Fatalf("stranger refund: got %v, want ErrNotTransferSender", err)
	}
	refunded, err := engine.RefundTransfer(record.ID, sender)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Fatalf("status = %v, want refunded", refunded.Status)
	}
	// The fee was paid on creation; only the net amount comes back.
	if got := mock.balance(sender, "USDC").Int64(); got != 9_750 {
		t.Fatalf("sender balance = %d, want 9750", got)
	}
	if _, err := engine.RefundTransfer(record.ID, sender); err != ErrTransferNotRefundable {
		t.Fatalf("second refund: got %v, want ErrTransferNotRefundable", err)
	}
	if _, err := engine.ClaimTransfer(record.ID, recipient, ""); err != ErrTransferNotClaimable {
		t.Fatalf("claim after refund: got %v, want ErrTransferNotClaimable", err)
	}
}

func TestDefaultExpiryWindow(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	mock.fund(sender, "USDC", 100)

	record, err := engine.CreateLinkTransfer(sender, "USDC", big.NewInt(100), 0, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Expiry != *current+DefaultExpiryWindow {
		t.Fatalf("expiry = %d, want %d", record.Expiry, *current+DefaultExpiryWindow)
	}
	claimable, err := engine.IsTransferClaimable(record.ID)
	if err != nil || !claimable {
		t.Fatalf("claimable = %v, %v; want true", claimable, err)
	}
}

func TestCreateTransferValidation(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)
	mock.fund(sender, "USDC", 100)

	if _, err := engine.CreateDirectTransfer(sender, recipient, "USDC", big.NewInt(0), 0, nil); err != ErrInvalidAmount {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := engine.CreateDirectTransfer(sender, [20]byte{}, "USDC", big.NewInt(100), 0, nil); err != ErrInvalidRecipient {
		t.Fatalf("zero recipient: got %v, want ErrInvalidRecipient", err)
	}
	if _, err := engine.CreateDirectTransfer(sender, recipient, "USDC", big.NewInt(100), *current-1, nil); err != ErrInvalidExpiry {
		t.Fatalf("past expiry: got %v, want ErrInvalidExpiry", err)
	}
	if _, err := engine.CreateDirectTransfer(sender, recipient, "DOGE", big.NewInt(100), 0, nil); !errors.Is(err, registry.ErrTokenNotSupported) {
		t.Fatalf("unsupported token: got %v, want ErrTokenNotSupported", err)
	}
}

func TestCreateRevertsNonceOnFailedFunding(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	recipient := newTestAddress(0xBB)

	if _, err := engine.CreateDirectTransfer(sender, recipient, "USDC", big.NewInt(100), *current+60, nil); err == nil {
		t.Fatal("create with no balance should fail")
	}
	if got := mock.nonces[sender]; got != 0 {
		t.Fatalf("nonce = %d, want reverted to 0", got)
	}
	if len(mock.transfers) != 0 {
		t.Fatalf("no record should be stored, got %d", len(mock.transfers))
	}
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	engine, mock, current := newTestEngine(t, 0)
	sender := newTestAddress(0xAA)
	mock.fund(sender, "USDC", 200)

	// A second escrow keeps extra funds in the vault so an over-payment of
	// the first one would not trip the balance check.
	record, err := engine.CreateLinkTransfer(sender, "USDC", big.NewInt(100), *current+3600, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.CreateLinkTransfer(sender, "USDC", big.NewInt(100), *current+3600, nil); err != nil {
		t.Fatalf("create second: %v", err)
	}

	const claimers = 32
	errs := make([]error, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.ClaimTransfer(record.ID, newTestAddress(byte(i+1)), "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		switch err {
		case nil:
			succeeded++
			if got := mock.balance(newTestAddress(byte(i+1)), "USDC").Int64(); got != 100 {
				t.Fatalf("winner balance = %d, want 100", got)
			}
		case ErrTransferNotClaimable:
		default:
			t.Fatalf("claimer %d: unexpected error %v", i, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want exactly 1", succeeded)
	}
	if got := mock.balance(vaultAddr, "USDC").Int64(); got != 100 {
		t.Fatalf("vault balance = %d, want 100", got)
	}
}

func TestGetTransferNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t, 0)
	if _, err := engine.GetTransfer([32]byte{0x01}); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
