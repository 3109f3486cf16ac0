package position

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"perpbot/internal/account"
	"perpbot/internal/indicator"
	"perpbot/internal/model"
	"perpbot/internal/risk"
)

// fakeGateway is a scripted ExecutionGateway for driving the machine through
// fills, rejections, timeouts and divergences.
type fakeGateway struct {
	mu        sync.Mutex
	submits   []model.OrderRequest
	submitErr error
	status    model.OrderStatus
	statusErr error
	fill      model.OrderFill
	position  model.ExchangePosition
	posErr    error
	equity    float64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		status:   model.OrderFilled,
		position: model.ExchangePosition{Side: model.SideFlat},
		equity:   10000,
	}
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submits = append(g.submits, req)
	return "fake-1", nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, h model.OrderHandle) error { return nil }

func (g *fakeGateway) QueryOrderStatus(ctx context.Context, h model.OrderHandle) (model.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.statusErr
}

func (g *fakeGateway) QueryOrderFill(ctx context.Context, h model.OrderHandle) (model.OrderFill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fill, nil
}

func (g *fakeGateway) QueryPosition(ctx context.Context) (model.ExchangePosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.position, g.posErr
}

func (g *fakeGateway) QueryEquity(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.equity, nil
}

func (g *fakeGateway) lastSubmit(t *testing.T) model.OrderRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.submits) == 0 {
		t.Fatal("no orders submitted")
	}
	return g.submits[len(g.submits)-1]
}

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Emit(ev model.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) has(t model.EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func newTestMachine(gw model.ExecutionGateway) (*Machine, *account.Account, *recordingSink) {
	acct := account.New(10000)
	sizer := risk.NewSizer(risk.FixedSize{Size: 0.1, Leverage: 1}, 1.75, 2.0, 0.001)
	sink := &recordingSink{}
	m := NewMachine(Config{
		Symbol:         "BTCUSDT",
		ConfirmTimeout: 50 * time.Millisecond,
		ConfirmPoll:    5 * time.Millisecond,
	}, gw, sizer, acct, sink)
	return m, acct, sink
}

func readySnap(close, atr float64) indicator.Snapshot {
	return indicator.Snapshot{Close: close, ATR: atr, Ready: true}
}

func TestEnter_FilledOpensPosition(t *testing.T) {
	gw := newFakeGateway()
	gw.fill = model.OrderFill{Handle: "fake-1", AvgPrice: 30010, Qty: 0.1}
	m, _, sink := newTestMachine(gw)

	if err := m.Enter(context.Background(), model.SideLong, readySnap(30000, 200), "test entry"); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	if m.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN", m.State())
	}
	intent := m.Intent()
	if intent.Side != model.SideLong || intent.Size != 0.1 {
		t.Errorf("intent = %+v", intent)
	}
	if intent.EntryPrice != 30010 {
		t.Errorf("entry price = %v, want fill price 30010", intent.EntryPrice)
	}
	// Brackets from the signal bar: 30000 ± (1.75*200 | 2*350).
	if math.Abs(intent.StopLoss-29650) > 1e-9 || math.Abs(intent.TakeProfit-30700) > 1e-9 {
		t.Errorf("brackets = %v/%v, want 29650/30700", intent.StopLoss, intent.TakeProfit)
	}

	req := gw.lastSubmit(t)
	if req.ReduceOnly || req.Type != model.OrderMarket || req.StopLoss == 0 || req.TakeProfit == 0 {
		t.Errorf("unexpected entry request: %+v", req)
	}
	if !sink.has(model.EventOrderFilled) {
		t.Error("no ORDER_FILLED event emitted")
	}
}

func TestEnter_RejectedReturnsToFlat(t *testing.T) {
	gw := newFakeGateway()
	gw.status = model.OrderRejected
	m, _, sink := newTestMachine(gw)

	if err := m.Enter(context.Background(), model.SideShort, readySnap(30000, 200), "test entry"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if m.State() != StateFlat || !m.Intent().IsFlat() {
		t.Errorf("state = %s intent = %+v, want flat", m.State(), m.Intent())
	}
	if !sink.has(model.EventOrderFailed) {
		t.Error("no ORDER_FAILED event emitted")
	}
}

func TestEnter_TimeoutFallsBackToPositionQuery(t *testing.T) {
	// Status never resolves; the exchange says the position exists anyway.
	gw := newFakeGateway()
	gw.status = model.OrderPending
	gw.position = model.ExchangePosition{Side: model.SideLong, Size: 0.1, AvgEntryPrice: 30005}
	m, _, _ := newTestMachine(gw)

	if err := m.Enter(context.Background(), model.SideLong, readySnap(30000, 200), "test entry"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if m.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN (position query confirmed)", m.State())
	}
	if m.Intent().EntryPrice != 30005 {
		t.Errorf("entry price = %v, want exchange-reported 30005", m.Intent().EntryPrice)
	}
}

func TestEnter_TimeoutWithNoPositionReturnsToFlat(t *testing.T) {
	gw := newFakeGateway()
	gw.status = model.OrderPending // never resolves, exchange stays flat
	m, _, sink := newTestMachine(gw)

	if err := m.Enter(context.Background(), model.SideLong, readySnap(30000, 200), "test entry"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if m.State() != StateFlat {
		t.Fatalf("state = %s, want FLAT", m.State())
	}
	if !sink.has(model.EventOrderFailed) {
		t.Error("no ORDER_FAILED event emitted for unconfirmed entry")
	}
}

func TestEnter_WhileHalted(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestMachine(gw)
	m.halted = true

	err := m.Enter(context.Background(), model.SideLong, readySnap(30000, 200), "test entry")
	if !errors.Is(err, ErrEntriesHalted) {
		t.Fatalf("err = %v, want ErrEntriesHalted", err)
	}
}

func openLong(t *testing.T, m *Machine, gw *fakeGateway) {
	t.Helper()
	gw.mu.Lock()
	gw.status = model.OrderFilled
	gw.fill = model.OrderFill{Handle: "fake-1", AvgPrice: 30000, Qty: 0.1}
	gw.mu.Unlock()
	if err := m.Enter(context.Background(), model.SideLong, readySnap(30000, 200), "setup"); err != nil {
		t.Fatalf("setup entry: %v", err)
	}
	if m.State() != StateOpen {
		t.Fatalf("setup: state = %s, want OPEN", m.State())
	}
}

func TestOnBar_StopLossClosesAndRecordsLoss(t *testing.T) {
	gw := newFakeGateway()
	m, acct, _ := newTestMachine(gw)
	openLong(t, m, gw)

	// Exit fill at the stop.
	gw.mu.Lock()
	gw.fill = model.OrderFill{Handle: "fake-1", AvgPrice: 29650, Qty: 0.1}
	gw.mu.Unlock()

	bar := model.Bar{Low: 29600, High: 30100, Close: 29700}
	if err := m.OnBar(context.Background(), bar, readySnap(29700, 200)); err != nil {
		t.Fatalf("OnBar: %v", err)
	}

	if m.State() != StateFlat {
		t.Fatalf("state = %s, want FLAT after stop", m.State())
	}
	req := gw.lastSubmit(t)
	if !req.ReduceOnly || req.Side != model.SideShort {
		t.Errorf("exit request = %+v, want reduce-only sell", req)
	}
	// Long 0.1 from 30000 closed at 29650 = -35.
	if math.Abs(acct.Realized()-(-35)) > 1e-9 {
		t.Errorf("realized = %v, want -35", acct.Realized())
	}
}

func TestOnBar_TakeProfitHasLowerPriorityThanStop(t *testing.T) {
	// A bar touching both levels exits at the stop (checked first).
	gw := newFakeGateway()
	m, _, _ := newTestMachine(gw)
	openLong(t, m, gw)

	gw.mu.Lock()
	gw.fill = model.OrderFill{Handle: "fake-1", AvgPrice: 29650, Qty: 0.1}
	gw.mu.Unlock()

	bar := model.Bar{Low: 29600, High: 30800, Close: 30000}
	if err := m.OnBar(context.Background(), bar, readySnap(30000, 200)); err != nil {
		t.Fatalf("OnBar: %v", err)
	}
	if m.State() != StateFlat {
		t.Fatalf("state = %s, want FLAT", m.State())
	}
}

func TestExitSignal_WrongSideIgnored(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestMachine(gw)
	openLong(t, m, gw)

	before := len(gw.submits)
	if err := m.ExitSignal(context.Background(), model.SideShort, "reversal", 30000); err != nil {
		t.Fatalf("ExitSignal: %v", err)
	}
	if m.State() != StateOpen || len(gw.submits) != before {
		t.Error("exit for the wrong side must be a no-op")
	}
}

func TestExit_DoubleFailureHaltsEntries(t *testing.T) {
	gw := newFakeGateway()
	m, _, sink := newTestMachine(gw)
	openLong(t, m, gw)

	gw.mu.Lock()
	gw.submitErr = errors.New("exchange unavailable")
	gw.position = model.ExchangePosition{Side: model.SideLong, Size: 0.1, AvgEntryPrice: 30000}
	gw.mu.Unlock()

	err := m.ExitSignal(context.Background(), model.SideLong, "reversal", 29000)
	if !errors.Is(err, ErrStuckPosition) {
		t.Fatalf("err = %v, want ErrStuckPosition", err)
	}
	if !m.Halted() {
		t.Fatal("entries not halted after stuck exit")
	}
	if !sink.has(model.EventFatal) {
		t.Error("no FATAL event emitted")
	}

	// Entries stay blocked until reconciliation sees the position closed.
	gw.mu.Lock()
	gw.submitErr = nil
	gw.mu.Unlock()
	if err := m.Enter(context.Background(), model.SideLong, readySnap(29000, 200), "blocked"); !errors.Is(err, ErrEntriesHalted) {
		t.Fatalf("err = %v, want ErrEntriesHalted", err)
	}

	// External intervention closes it; reconcile clears the halt.
	gw.mu.Lock()
	gw.position = model.ExchangePosition{Side: model.SideFlat}
	gw.mu.Unlock()
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if m.Halted() || m.State() != StateFlat {
		t.Errorf("halted=%v state=%s, want resumed flat", m.Halted(), m.State())
	}
}

func TestRecover_AdoptsExchangePosition(t *testing.T) {
	gw := newFakeGateway()
	gw.position = model.ExchangePosition{Side: model.SideLong, Size: 0.002, AvgEntryPrice: 29500}
	m, _, _ := newTestMachine(gw)

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if m.State() != StateOpen || m.Side() != model.SideLong {
		t.Fatalf("state=%s side=%s, want OPEN/LONG", m.State(), m.Side())
	}
	if m.Intent().StopLoss != 0 {
		t.Fatal("recovered position should not have brackets before ATR is ready")
	}

	// No exit on a normal bar while brackets are missing.
	bar := model.Bar{Low: 29000, High: 30000, Close: 29600}
	if err := m.OnBar(context.Background(), bar, indicator.Snapshot{Ready: false}); err != nil {
		t.Fatalf("OnBar: %v", err)
	}
	if m.State() != StateOpen {
		t.Fatal("position closed while brackets were still pending")
	}

	// First ready snapshot recomputes brackets from the live ATR.
	if err := m.OnBar(context.Background(), model.Bar{Low: 29500, High: 29700, Close: 29600}, readySnap(29600, 100)); err != nil {
		t.Fatalf("OnBar: %v", err)
	}
	intent := m.Intent()
	// 29500 - 1.75*100 = 29325; 29500 + 2*175 = 29850.
	if math.Abs(intent.StopLoss-29325) > 1e-9 || math.Abs(intent.TakeProfit-29850) > 1e-9 {
		t.Errorf("brackets = %v/%v, want 29325/29850", intent.StopLoss, intent.TakeProfit)
	}
}

func TestReconcile_ExchangeWins(t *testing.T) {
	// Intent flat, exchange long: adopt.
	gw := newFakeGateway()
	gw.position = model.ExchangePosition{Side: model.SideLong, Size: 0.05, AvgEntryPrice: 31000}
	m, _, sink := newTestMachine(gw)

	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if m.State() != StateOpen || m.Intent().Size != 0.05 {
		t.Errorf("state=%s intent=%+v, want adopted position", m.State(), m.Intent())
	}
	if !sink.has(model.EventDivergence) {
		t.Error("no DIVERGENCE event emitted")
	}

	// Exchange flips flat behind our back: intent forced flat.
	gw.mu.Lock()
	gw.position = model.ExchangePosition{Side: model.SideFlat}
	gw.mu.Unlock()
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if m.State() != StateFlat || !m.Intent().IsFlat() {
		t.Errorf("state=%s intent=%+v, want flat", m.State(), m.Intent())
	}
}

func TestReconcile_SizeDrift(t *testing.T) {
	gw := newFakeGateway()
	m, _, sink := newTestMachine(gw)
	openLong(t, m, gw)

	gw.mu.Lock()
	gw.position = model.ExchangePosition{Side: model.SideLong, Size: 0.07, AvgEntryPrice: 30000}
	gw.mu.Unlock()

	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if m.Intent().Size != 0.07 {
		t.Errorf("size = %v, want exchange-reported 0.07", m.Intent().Size)
	}
	if !sink.has(model.EventDivergence) {
		t.Error("no DIVERGENCE event emitted for size drift")
	}
}

// gatedGateway blocks QueryPosition until released, so a reconcile pass can
// be held in flight while the machine state moves underneath it.
type gatedGateway struct {
	*fakeGateway
	inQuery chan struct{}
	release chan struct{}
}

func (g *gatedGateway) QueryPosition(ctx context.Context) (model.ExchangePosition, error) {
	g.inQuery <- struct{}{}
	<-g.release
	return g.fakeGateway.QueryPosition(ctx)
}

func TestReconcile_SkipsStalePositionSnapshot(t *testing.T) {
	gw := newFakeGateway()
	gated := &gatedGateway{
		fakeGateway: gw,
		inQuery:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	m, _, sink := newTestMachine(gated)

	recDone := make(chan error, 1)
	go func() { recDone <- m.Reconcile(context.Background()) }()
	<-gated.inQuery // reconcile is now blocked inside its position query

	// An entry fills while the query is in flight: the queued "flat" answer
	// is stale the moment it lands.
	gw.mu.Lock()
	gw.fill = model.OrderFill{Handle: "fake-1", AvgPrice: 30000, Qty: 0.1}
	gw.mu.Unlock()
	if err := m.Enter(context.Background(), model.SideLong, readySnap(30000, 200), "entry"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if m.State() != StateOpen {
		t.Fatalf("setup: state = %s, want OPEN", m.State())
	}

	close(gated.release)
	if err := <-recDone; err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if m.State() != StateOpen || m.Intent().Side != model.SideLong {
		t.Fatalf("stale reconcile clobbered intent: state=%s intent=%+v", m.State(), m.Intent())
	}
	if sink.has(model.EventDivergence) {
		t.Error("stale reconcile must not report a divergence")
	}
}
