package routing

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/pqlnc/pqlnd/contractcourt"
	"github.com/pqlnc/pqlnd/lntypes"
	"github.com/pqlnc/pqlnd/sphinx"
)

// mockLedger counts settlement applications.
type mockLedger struct {
	sync.Mutex
	applications int
	total        uint64
}

func (m *mockLedger) ApplySettlement(_ lntypes.ChannelID,
	amount uint64) error {

	m.Lock()
	defer m.Unlock()

	m.applications++
	m.total += amount

	return nil
}

func (m *mockLedger) count() int {
	m.Lock()
	defer m.Unlock()

	return m.applications
}

// mockSigner signs by appending a marker byte to the message.
type mockSigner struct{}

func (m *mockSigner) SignUpdate(_ lntypes.ChannelID, msg []byte) ([]byte,
	error) {

	return append(append([]byte{}, msg...), 0x01), nil
}

func (m *mockSigner) VerifyUpdate(_ lntypes.ChannelID, msg []byte,
	sig []byte) bool {

	return len(sig) == len(msg)+1 && sig[len(msg)] == 0x01 &&
		bytes.Equal(sig[:len(msg)], msg)
}

// mockRouteSource returns a fixed route set.
type mockRouteSource struct {
	routes []*Route
}

func (m *mockRouteSource) FindRoutes(_ []byte, _ uint64,
	_ int) ([]*Route, error) {

	return m.routes, nil
}

// interceptRegistry wraps a real registry and can make the nth Lock or
// Propose call fail, recording every Fail and Release along the way.
type interceptRegistry struct {
	ContractRegistry

	mu            sync.Mutex
	lockCalls     int
	failLockAt    int
	proposeCalls  int
	failProposeAt int

	proposed []lntypes.Hash
	failed   map[lntypes.Hash]struct{}
	released map[lntypes.Hash]struct{}
}

func newInterceptRegistry(inner ContractRegistry) *interceptRegistry {
	return &interceptRegistry{
		ContractRegistry: inner,
		failed:           make(map[lntypes.Hash]struct{}),
		released:         make(map[lntypes.Hash]struct{}),
	}
}

func (r *interceptRegistry) Propose(
	terms contractcourt.ContractTerms) (lntypes.Hash, error) {

	r.mu.Lock()
	r.proposeCalls++
	n := r.proposeCalls
	failAt := r.failProposeAt
	r.mu.Unlock()

	if failAt != 0 && n == failAt {
		return lntypes.ZeroHash, errors.New("registry unavailable")
	}

	id, err := r.ContractRegistry.Propose(terms)
	if err == nil {
		r.mu.Lock()
		r.proposed = append(r.proposed, id)
		r.mu.Unlock()
	}

	return id, err
}

func (r *interceptRegistry) Release(id lntypes.Hash) error {
	err := r.ContractRegistry.Release(id)
	if err == nil {
		r.mu.Lock()
		r.released[id] = struct{}{}
		r.mu.Unlock()
	}

	return err
}

func (r *interceptRegistry) Lock(id lntypes.Hash) error {
	r.mu.Lock()
	r.lockCalls++
	n := r.lockCalls
	failAt := r.failLockAt
	r.mu.Unlock()

	if failAt != 0 && n == failAt {
		return errors.New("link unavailable")
	}

	return r.ContractRegistry.Lock(id)
}

func (r *interceptRegistry) Fail(id lntypes.Hash, reason error) error {
	err := r.ContractRegistry.Fail(id, reason)
	if err == nil {
		r.mu.Lock()
		r.failed[id] = struct{}{}
		r.mu.Unlock()
	}

	return err
}

// testHarness bundles a manager with its collaborators.
type testHarness struct {
	t        *testing.T
	manager  *Manager
	registry *interceptRegistry
	ledger   *mockLedger
	clock    *clock.TestClock

	// routers holds one onion router per hop of every route, keyed by
	// the hop's channel id.
	routers map[lntypes.ChannelID]*sphinx.Router
}

// makeRoute builds a route of numHops hops with fresh KEM node keys. The
// hop channel ids are chanBase, chanBase+1, ...
func (h *testHarness) makeRoute(numHops int, chanBase byte, fee uint64,
	capacity uint64) *Route {

	h.t.Helper()

	scheme := sphinx.DefaultScheme()

	route := &Route{Capacity: capacity}
	for i := 0; i < numHops; i++ {
		pub, priv, err := scheme.GenerateKeyPair()
		require.NoError(h.t, err)

		var chanID lntypes.ChannelID
		chanID[0] = chanBase + byte(i)

		route.Hops = append(route.Hops, &Hop{
			ChannelID:    chanID,
			NodeKey:      pub,
			Fee:          fee,
			TimeoutDelta: 6,
		})

		h.routers[chanID] = sphinx.NewRouter(
			scheme, &sphinx.PrivKeyKEM{
				Scheme:  scheme,
				PrivKey: priv,
			},
		)
	}

	return route
}

func newTestHarness(t *testing.T, cfgMod func(*Config)) *testHarness {
	t.Helper()

	h := &testHarness{
		t:       t,
		ledger:  &mockLedger{},
		clock:   clock.NewTestClock(time.Unix(1000, 0)),
		routers: make(map[lntypes.ChannelID]*sphinx.Router),
	}

	h.registry = newInterceptRegistry(contractcourt.NewRegistry(
		contractcourt.RegistryConfig{
			Ledger: h.ledger,
			Signer: &mockSigner{},
		},
	))

	cfg := Config{
		Contracts:    h.registry,
		Scheme:       sphinx.DefaultScheme(),
		Clock:        h.clock,
		MaxPaths:     4,
		FeeTolerance: 100,
		Signer:       &mockSigner{},
	}
	if cfgMod != nil {
		cfgMod(&cfg)
	}

	h.manager = NewManager(cfg)
	require.NoError(t, h.manager.Start())
	t.Cleanup(func() {
		require.NoError(t, h.manager.Stop())
	})

	return h
}

// lockAllHops drives every downstream hop of a path to Locked, as the
// network layer would while the onion propagates.
func (h *testHarness) lockAllHops(id lntypes.Hash, pathIdx, numHops int) {
	h.t.Helper()

	for hop := 1; hop < numHops; hop++ {
		require.NoError(h.t, h.manager.LockHop(id, pathIdx, hop))
	}
}

// TestSinglePathSettlement is the basic end to end flow: three hash locked
// hops, 50000 units, one packet, three settled contracts, one succeeded
// payment.
func TestSinglePathSettlement(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	route := h.makeRoute(3, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 50000, SplitPolicy{})
	require.NoError(t, err)

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentInFlight, state)

	h.lockAllHops(id, 0, 3)

	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)

	require.NoError(t, h.manager.SettlePath(id, 0, secret))

	state, err = h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentSucceeded, state)

	// One ledger application per hop, each moving the full amount since
	// the route is fee free.
	require.Equal(t, 3, h.ledger.count())
	require.Equal(t, uint64(3*50000), h.ledger.total)

	// Terminal payments release their contracts.
	for _, contractID := range h.registry.proposed {
		_, err := h.registry.State(contractID)
		require.ErrorIs(t, err, contractcourt.ErrContractNotFound)
	}
}

// TestOnionHandoff walks the built packet through each hop's onion router
// and checks the recovered forwarding instructions.
func TestOnionHandoff(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	route := h.makeRoute(3, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 50000, SplitPolicy{})
	require.NoError(t, err)

	pkt, err := h.manager.PathPacket(id, 0)
	require.NoError(t, err)

	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)
	pathHash := secret.Hash()

	for i, hop := range route.Hops {
		processed, err := h.routers[hop.ChannelID].ProcessOnionPacket(
			pkt, pathHash[:],
		)
		require.NoError(t, err)

		if i == len(route.Hops)-1 {
			require.Equal(t, sphinx.ExitNode, processed.Action)
			require.Equal(
				t, uint64(50000),
				processed.ForwardingInstructions.ForwardAmount,
			)
			break
		}

		require.Equal(t, sphinx.MoreHops, processed.Action)
		require.Equal(
			t, route.Hops[i+1].ChannelID,
			processed.ForwardingInstructions.NextChannel,
		)
		pkt = processed.NextPacket
	}
}

// TestMultiPathSettlement shards a payment over three paths and settles
// them one by one. The payment succeeds only after the last path settles.
func TestMultiPathSettlement(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	routes := []*Route{
		h.makeRoute(2, 1, 0, 0),
		h.makeRoute(2, 16, 0, 0),
		h.makeRoute(2, 32, 0, 0),
	}
	h.manager.cfg.RouteSource = &mockRouteSource{routes: routes}

	id, err := h.manager.SendPayment(
		[]byte("dest"), 30000,
		SplitPolicy{Strategy: SplitEqual, MaxParts: 3},
	)
	require.NoError(t, err)

	for pathIdx := 0; pathIdx < 3; pathIdx++ {
		state, err := h.manager.PaymentStatus(id)
		require.NoError(t, err)
		require.Equal(t, PaymentInFlight, state)

		h.lockAllHops(id, pathIdx, 2)

		secret, err := h.manager.PathSecret(id, pathIdx)
		require.NoError(t, err)
		require.NoError(t, h.manager.SettlePath(id, pathIdx, secret))
	}

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentSucceeded, state)
}

// TestLockFailureRollsBackAllPaths checks multi path atomicity at send
// time: if one path's first hop cannot lock, the already locked paths are
// actively failed and nothing stays committed.
func TestLockFailureRollsBackAllPaths(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	routes := []*Route{
		h.makeRoute(3, 1, 0, 0),
		h.makeRoute(3, 16, 0, 0),
		h.makeRoute(3, 32, 0, 0),
	}
	h.manager.cfg.RouteSource = &mockRouteSource{routes: routes}

	// The third first-hop lock attempt fails.
	h.registry.failLockAt = 3

	id, err := h.manager.SendPayment(
		[]byte("dest"), 30000,
		SplitPolicy{Strategy: SplitEqual, MaxParts: 3},
	)
	require.ErrorIs(t, err, ErrPathLockFailed)

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentFailed, state)

	// Every proposed contract was explicitly failed, locked or not, and
	// the ledger never moved.
	require.Len(t, h.registry.proposed, 9)
	for _, contractID := range h.registry.proposed {
		require.Contains(t, h.registry.failed, contractID)
	}
	require.Zero(t, h.ledger.count())
}

// TestDownstreamFailureFailsLockedPath mirrors the scenario where a
// downstream hop refuses to lock: the first hop's contract is already
// locked and must be explicitly failed, and no ledger mutation occurs.
func TestDownstreamFailureFailsLockedPath(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	route := h.makeRoute(3, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 50000, SplitPolicy{})
	require.NoError(t, err)

	// Hop 1 (the second hop) refuses. The network layer reports the
	// path failure, taking the locked first hop contract down with it.
	err = h.manager.FailPath(id, 0, errors.New("channel unavailable"))
	require.NoError(t, err)

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentFailed, state)
	require.Zero(t, h.ledger.count())

	for _, contractID := range h.registry.proposed {
		require.Contains(t, h.registry.failed, contractID)
	}
}

// TestWrongSecretRejected checks that a reveal that doesn't match the
// path's commitment settles nothing.
func TestWrongSecretRejected(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	route := h.makeRoute(2, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 1000, SplitPolicy{})
	require.NoError(t, err)
	h.lockAllHops(id, 0, 2)

	wrong, err := lntypes.RandomPreimage()
	require.NoError(t, err)

	err = h.manager.SettlePath(id, 0, *wrong)
	require.ErrorIs(t, err, contractcourt.ErrInvalidProof)

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentInFlight, state)
	require.Zero(t, h.ledger.count())
}

// TestSetupFailureReleasesContracts asserts that a payment whose path setup
// fails partway through leaves no contract behind in the registry: every
// contract proposed before the failure is failed and released.
func TestSetupFailureReleasesContracts(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	routes := []*Route{
		h.makeRoute(3, 1, 0, 0),
		h.makeRoute(3, 16, 0, 0),
	}
	h.manager.cfg.RouteSource = &mockRouteSource{routes: routes}

	// The fifth proposal is the second hop of the second path, so the
	// first path is fully proposed and the second is mid-setup.
	h.registry.failProposeAt = 5

	_, err := h.manager.SendPayment(
		[]byte("dest"), 60000,
		SplitPolicy{Strategy: SplitEqual, MaxParts: 2},
	)
	require.Error(t, err)

	require.Len(t, h.registry.proposed, 4)
	for _, contractID := range h.registry.proposed {
		require.Contains(t, h.registry.failed, contractID)
		require.Contains(t, h.registry.released, contractID)

		_, err := h.registry.State(contractID)
		require.ErrorIs(t, err, contractcourt.ErrContractNotFound)
	}
}

// TestConcurrentStatusReads polls the payment status from a second goroutine
// while the payment resolves. Run under the race detector this guards the
// synchronization of the aggregate payment state.
func TestConcurrentStatusReads(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	route := h.makeRoute(2, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 1000, SplitPolicy{})
	require.NoError(t, err)
	h.lockAllHops(id, 0, 2)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}

			_, _ = h.manager.PaymentStatus(id)
		}
	}()

	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)
	require.NoError(t, h.manager.SettlePath(id, 0, secret))

	close(stop)
	wg.Wait()

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentSucceeded, state)
}

// TestPolicyChecks asserts the fast failure modes that run before any
// cryptographic work.
func TestPolicyChecks(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, func(cfg *Config) {
		cfg.MaxPaths = 2
		cfg.MinPathAmount = 100
		cfg.FeeTolerance = 10
	})

	// Too many paths requested.
	_, err := h.manager.SendPayment(
		[]byte("dest"), 1000, SplitPolicy{MaxParts: 3},
	)
	require.ErrorIs(t, err, ErrTooManyPaths)

	// No routes available.
	h.manager.cfg.RouteSource = &mockRouteSource{}
	_, err = h.manager.SendPayment([]byte("dest"), 1000, SplitPolicy{})
	require.ErrorIs(t, err, ErrNoRoutes)

	// Splitting 150 across two paths violates the per path minimum.
	routes := []*Route{
		h.makeRoute(2, 1, 0, 0),
		h.makeRoute(2, 16, 0, 0),
	}
	h.manager.cfg.RouteSource = &mockRouteSource{routes: routes}
	_, err = h.manager.SendPayment(
		[]byte("dest"), 150,
		SplitPolicy{Strategy: SplitEqual, MaxParts: 2},
	)
	require.ErrorIs(t, err, ErrPathAmountBelowMinimum)

	// A route with fees above the tolerance is rejected.
	feeRoute := h.makeRoute(3, 32, 10, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{
		routes: []*Route{feeRoute},
	}
	_, err = h.manager.SendPayment([]byte("dest"), 1000, SplitPolicy{})
	require.ErrorIs(t, err, ErrFeeLimitExceeded)
}

// TestWaitForCompletion exercises the blocking wait, both the timeout and
// the completion branch.
func TestWaitForCompletion(t *testing.T) {
	t.Parallel()

	tickSignal := make(chan time.Duration, 1)
	testClock := clock.NewTestClockWithTickSignal(
		time.Unix(1000, 0), tickSignal,
	)

	h := newTestHarness(t, func(cfg *Config) {
		cfg.Clock = testClock
	})
	route := h.makeRoute(2, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 1000, SplitPolicy{})
	require.NoError(t, err)

	type waitResult struct {
		state PaymentState
		err   error
	}
	resultChan := make(chan waitResult, 1)
	go func() {
		state, err := h.manager.WaitForCompletion(id, time.Minute)
		resultChan <- waitResult{state, err}
	}()

	// The waiter must have registered its timeout ticker before the
	// clock advances, or the deadline would be computed from the already
	// advanced time and never fire.
	select {
	case <-tickSignal:
	case <-time.After(10 * time.Second):
		t.Fatal("wait never registered its timeout ticker")
	}

	// Advancing the clock past the deadline times the wait out without
	// touching the payment.
	testClock.SetTime(testClock.Now().Add(2 * time.Minute))

	select {
	case res := <-resultChan:
		require.ErrorIs(t, res.err, ErrWaitTimeout)
		require.Equal(t, PaymentInFlight, res.state)
	case <-time.After(10 * time.Second):
		t.Fatal("wait did not time out")
	}

	// Settle and wait again: the result is immediate.
	h.lockAllHops(id, 0, 2)
	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)
	require.NoError(t, h.manager.SettlePath(id, 0, secret))

	state, err := h.manager.WaitForCompletion(id, time.Minute)
	require.NoError(t, err)
	require.Equal(t, PaymentSucceeded, state)
}

// TestCancelPayment asserts cancellation semantics: allowed only in flight
// and before any path settles.
func TestCancelPayment(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	routes := []*Route{
		h.makeRoute(2, 1, 0, 0),
		h.makeRoute(2, 16, 0, 0),
	}
	h.manager.cfg.RouteSource = &mockRouteSource{routes: routes}

	id, err := h.manager.SendPayment(
		[]byte("dest"), 2000,
		SplitPolicy{Strategy: SplitEqual, MaxParts: 2},
	)
	require.NoError(t, err)

	require.NoError(t, h.manager.CancelPayment(id))

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentFailed, state)

	// A second cancel finds the payment already terminal.
	require.ErrorIs(t, h.manager.CancelPayment(id), ErrPaymentTerminal)

	// A payment with a settled path cannot be cancelled.
	id2, err := h.manager.SendPayment(
		[]byte("dest"), 2000,
		SplitPolicy{Strategy: SplitEqual, MaxParts: 2},
	)
	require.NoError(t, err)

	h.lockAllHops(id2, 0, 2)
	secret, err := h.manager.PathSecret(id2, 0)
	require.NoError(t, err)
	require.NoError(t, h.manager.SettlePath(id2, 0, secret))

	require.ErrorIs(t, h.manager.CancelPayment(id2), ErrNotCancellable)
}

// TestHeightDrivenTimeout pushes a height past the contracts' deadlines and
// expects the payment to fail asynchronously.
func TestHeightDrivenTimeout(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	route := h.makeRoute(2, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 1000, SplitPolicy{})
	require.NoError(t, err)

	// All deadlines sit well below 10000.
	h.manager.NotifyHeight(10000)

	require.Eventually(t, func() bool {
		state, err := h.manager.PaymentStatus(id)
		return err == nil && state == PaymentFailed
	}, 10*time.Second, 10*time.Millisecond)

	require.Zero(t, h.ledger.count())
}

// TestPointLockPayment runs the end to end flow with point locked hops.
func TestPointLockPayment(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, func(cfg *Config) {
		cfg.KindForChannel = func(lntypes.ChannelID) contractcourt.Kind {
			return contractcourt.KindPointLock
		}
	})
	route := h.makeRoute(3, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 5000, SplitPolicy{})
	require.NoError(t, err)

	h.lockAllHops(id, 0, 3)

	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)
	require.NoError(t, h.manager.SettlePath(id, 0, secret))

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentSucceeded, state)
	require.Equal(t, 3, h.ledger.count())
}

// TestStateUpdatePayment runs the end to end flow with state update hops.
func TestStateUpdatePayment(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, func(cfg *Config) {
		cfg.KindForChannel = func(lntypes.ChannelID) contractcourt.Kind {
			return contractcourt.KindStateUpdate
		}
		cfg.LatestUpdate = func(lntypes.ChannelID) uint64 {
			return 41
		}
	})
	route := h.makeRoute(2, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 5000, SplitPolicy{})
	require.NoError(t, err)

	h.lockAllHops(id, 0, 2)

	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)
	require.NoError(t, h.manager.SettlePath(id, 0, secret))

	state, err := h.manager.PaymentStatus(id)
	require.NoError(t, err)
	require.Equal(t, PaymentSucceeded, state)
}

// TestPathErrorDecryption wires a hop failure back through the error onion
// into the manager's decrypter.
func TestPathErrorDecryption(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, nil)
	route := h.makeRoute(3, 1, 0, 0)
	h.manager.cfg.RouteSource = &mockRouteSource{routes: []*Route{route}}

	id, err := h.manager.SendPayment([]byte("dest"), 1000, SplitPolicy{})
	require.NoError(t, err)

	pkt, err := h.manager.PathPacket(id, 0)
	require.NoError(t, err)

	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)
	pathHash := secret.Hash()

	// Hops one and two process the onion; hop two then reports a
	// failure that hop one re-obfuscates on the way back.
	var secrets []sphinx.Hash256
	for i := 0; i < 2; i++ {
		processed, err := h.routers[route.Hops[i].ChannelID].
			ProcessOnionPacket(pkt, pathHash[:])
		require.NoError(t, err)

		secrets = append(secrets, processed.SharedSecret)
		pkt = processed.NextPacket
	}

	wire, err := sphinx.EncodeFailureMessage(sphinx.FailureMessage{
		Code: sphinx.CodeExpiryTooSoon,
	})
	require.NoError(t, err)

	blob := sphinx.NewOnionErrorEncrypter(secrets[1]).EncryptError(
		true, wire,
	)
	blob = sphinx.NewOnionErrorEncrypter(secrets[0]).EncryptError(
		false, blob,
	)

	decrypted, err := h.manager.DecryptPathError(id, 0, blob)
	require.NoError(t, err)
	require.Equal(t, 2, decrypted.SenderIdx)

	msg, err := sphinx.DecodeFailureMessage(decrypted.Message)
	require.NoError(t, err)
	require.Equal(t, sphinx.CodeExpiryTooSoon, msg.Code)
}

// TestPathCallbacks asserts the success and failure callbacks fire with the
// right path indexes.
func TestPathCallbacks(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		succeeded []int
		failed    []int
	)

	h := newTestHarness(t, func(cfg *Config) {
		cfg.PathSuccess = func(_ lntypes.Hash, pathIdx int) {
			mu.Lock()
			succeeded = append(succeeded, pathIdx)
			mu.Unlock()
		}
		cfg.PathFailure = func(_ lntypes.Hash, pathIdx int, _ error) {
			mu.Lock()
			failed = append(failed, pathIdx)
			mu.Unlock()
		}
	})
	routes := []*Route{
		h.makeRoute(2, 1, 0, 0),
		h.makeRoute(2, 16, 0, 0),
	}
	h.manager.cfg.RouteSource = &mockRouteSource{routes: routes}

	id, err := h.manager.SendPayment(
		[]byte("dest"), 2000,
		SplitPolicy{Strategy: SplitEqual, MaxParts: 2},
	)
	require.NoError(t, err)

	h.lockAllHops(id, 0, 2)
	secret, err := h.manager.PathSecret(id, 0)
	require.NoError(t, err)
	require.NoError(t, h.manager.SettlePath(id, 0, secret))

	require.NoError(t, h.manager.FailPath(
		id, 1, errors.New("no luck"),
	))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0}, succeeded)
	require.Equal(t, []int{1}, failed)
}
