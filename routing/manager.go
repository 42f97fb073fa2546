package routing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"

	"github.com/pqlnc/pqlnd/contractcourt"
	"github.com/pqlnc/pqlnd/lntypes"
	"github.com/pqlnc/pqlnd/multimutex"
	"github.com/pqlnc/pqlnd/sphinx"
)

const (
	// DefaultMaxPaths is the path count cap applied when the config
	// doesn't set one.
	DefaultMaxPaths = 4

	// DefaultFinalTimeoutDelta is the number of blocks the destination
	// gets to settle, counted from the height at send time.
	DefaultFinalTimeoutDelta = 40

	// DefaultSettlementDelay is the post-publication delay applied to
	// state update contracts when the config doesn't set one.
	DefaultSettlementDelay = 144
)

// ContractRegistry drives per-hop contract lifecycles. It is implemented by
// contractcourt.Registry.
type ContractRegistry interface {
	// Propose registers a new contract and returns its id.
	Propose(terms contractcourt.ContractTerms) (lntypes.Hash, error)

	// Lock commits a proposed contract.
	Lock(id lntypes.Hash) error

	// Settle resolves a locked contract with the presented proof.
	Settle(id lntypes.Hash, proof contractcourt.Proof) error

	// Fail cancels a non-terminal contract.
	Fail(id lntypes.Hash, reason error) error

	// Release drops a terminal contract.
	Release(id lntypes.Hash) error

	// NotifyHeight sweeps contract deadlines at a new height and
	// returns the contracts that timed out.
	NotifyHeight(height uint32) []lntypes.Hash

	// State returns a contract's lifecycle state.
	State(id lntypes.Hash) (contractcourt.State, error)
}

// Config houses the collaborators and policy knobs of the payment manager.
type Config struct {
	// RouteSource produces candidate routes.
	RouteSource RouteSource

	// Contracts is the registry driving each hop's contract lifecycle.
	Contracts ContractRegistry

	// Scheme is the KEM used for onion construction.
	Scheme kem.Scheme

	// Clock provides time for WaitForCompletion deadlines. Defaults to
	// the system clock.
	Clock clock.Clock

	// MaxPaths caps how many paths a split policy may request.
	MaxPaths int

	// MinPathAmount is the smallest amount any single path may carry.
	MinPathAmount uint64

	// FeeTolerance is the maximum combined routing fee across all paths
	// of one payment.
	FeeTolerance uint64

	// FinalTimeoutDelta is the block delta granted to the destination.
	FinalTimeoutDelta uint32

	// SettlementDelay configures state update contracts.
	SettlementDelay uint32

	// KindForChannel selects the contract variant to use on a channel.
	// Defaults to hash locked contracts everywhere when nil.
	KindForChannel func(lntypes.ChannelID) contractcourt.Kind

	// LatestUpdate reports the current update number of a channel, for
	// state update contracts. Treated as zero when nil.
	LatestUpdate func(lntypes.ChannelID) uint64

	// Signer signs channel updates when settling state update
	// contracts. Only required if any channel uses that variant.
	Signer contractcourt.Signer

	// PathSuccess, if set, is invoked after a path settles.
	PathSuccess func(id lntypes.Hash, pathIdx int)

	// PathFailure, if set, is invoked after a path fails.
	PathFailure func(id lntypes.Hash, pathIdx int, reason error)
}

// contractRef maps a contract id back to the payment path that owns it.
type contractRef struct {
	paymentID lntypes.Hash
	pathIdx   int
}

// Manager orchestrates payments across one or more paths, driving each
// hop's contract through its lifecycle and aggregating the per-path
// outcomes. Operations on distinct payments proceed in parallel.
type Manager struct {
	started sync.Once
	stopped sync.Once

	cfg Config

	mtx      sync.RWMutex
	payments map[lntypes.Hash]*payment
	history  map[lntypes.Hash]PaymentState

	// contractIndex resolves height driven contract timeouts back to
	// the owning path. Guarded by mtx.
	contractIndex map[lntypes.Hash]contractRef

	// paymentMtx serializes all mutations of a single payment.
	paymentMtx *multimutex.Mutex[lntypes.Hash]

	// heightQueue decouples block height notifications from the
	// caller's goroutine.
	heightQueue *queue.ConcurrentQueue

	bestHeight atomic.Uint32

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewManager creates a payment manager from the passed config.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.MaxPaths == 0 {
		cfg.MaxPaths = DefaultMaxPaths
	}
	if cfg.FinalTimeoutDelta == 0 {
		cfg.FinalTimeoutDelta = DefaultFinalTimeoutDelta
	}
	if cfg.SettlementDelay == 0 {
		cfg.SettlementDelay = DefaultSettlementDelay
	}

	return &Manager{
		cfg:           cfg,
		payments:      make(map[lntypes.Hash]*payment),
		history:       make(map[lntypes.Hash]PaymentState),
		contractIndex: make(map[lntypes.Hash]contractRef),
		paymentMtx:    multimutex.NewMutex[lntypes.Hash](),
		heightQueue:   queue.NewConcurrentQueue(16),
		quit:          make(chan struct{}),
	}
}

// Start launches the manager's background height worker.
func (m *Manager) Start() error {
	m.started.Do(func() {
		log.Info("Payment manager starting")

		m.heightQueue.Start()

		m.wg.Add(1)
		go m.heightWorker()
	})

	return nil
}

// Stop signals the manager to halt and waits for its goroutines.
func (m *Manager) Stop() error {
	m.stopped.Do(func() {
		log.Info("Payment manager shutting down")

		close(m.quit)
		m.wg.Wait()
		m.heightQueue.Stop()
	})

	return nil
}

// SendPayment attempts to transfer amount to the destination, optionally
// sharded across multiple paths per the split policy. The returned id is
// valid even when an error is returned after path setup began, so the
// caller can inspect the failed payment's final state.
//
// The payment counts as sent only once every path's first hop contract is
// locked. If any lock attempt fails, every already locked path is rolled
// back and ErrPathLockFailed is returned: a multi-path payment is
// all-committed or all-released.
func (m *Manager) SendPayment(dest []byte, amount uint64,
	policy SplitPolicy) (lntypes.Hash, error) {

	// Policy checks run before any cryptographic or network work.
	if amount == 0 {
		return lntypes.ZeroHash, fmt.Errorf("zero payment amount")
	}

	parts := policy.MaxParts
	if parts == 0 {
		parts = 1
	}
	if parts > m.cfg.MaxPaths {
		return lntypes.ZeroHash, fmt.Errorf("%w: %d > %d",
			ErrTooManyPaths, parts, m.cfg.MaxPaths)
	}

	routes, err := m.cfg.RouteSource.FindRoutes(dest, amount, parts)
	if err != nil {
		return lntypes.ZeroHash, err
	}
	if len(routes) == 0 {
		return lntypes.ZeroHash, ErrNoRoutes
	}
	if len(routes) > parts {
		routes = routes[:parts]
	}

	var totalFees uint64
	for _, route := range routes {
		if len(route.Hops) == 0 {
			return lntypes.ZeroHash, sphinx.ErrEmptyRoute
		}
		if len(route.Hops) > sphinx.NumMaxHops {
			return lntypes.ZeroHash, sphinx.ErrMaxRouteLength
		}
		totalFees += route.TotalFees()
	}
	if totalFees > m.cfg.FeeTolerance {
		return lntypes.ZeroHash, fmt.Errorf("%w: %d > %d",
			ErrFeeLimitExceeded, totalFees, m.cfg.FeeTolerance)
	}

	shards, err := splitAmount(amount, routes, policy.Strategy)
	if err != nil {
		return lntypes.ZeroHash, err
	}
	for _, shard := range shards {
		if shard < m.cfg.MinPathAmount {
			return lntypes.ZeroHash, fmt.Errorf("%w: %d < %d",
				ErrPathAmountBelowMinimum, shard,
				m.cfg.MinPathAmount)
		}
	}

	rootSecret, err := lntypes.RandomPreimage()
	if err != nil {
		return lntypes.ZeroHash, err
	}

	var id lntypes.Hash
	if _, err := rand.Read(id[:]); err != nil {
		return lntypes.ZeroHash, err
	}

	p := &payment{
		id:          id,
		rootSecret:  *rootSecret,
		totalAmount: amount,
		state:       PaymentInFlight,
		done:        make(chan struct{}),
	}

	finalTimeout := m.bestHeight.Load() + m.cfg.FinalTimeoutDelta

	for i, route := range routes {
		pathShard, err := m.setupPath(
			p, i, route, shards[i], finalTimeout,
		)
		if err != nil {
			// Contracts proposed for earlier paths must not be
			// left behind. The payment was never registered, so
			// their registry entries are dropped here as well.
			for _, built := range p.paths {
				m.abandonContracts(built.contracts, err)
			}

			return lntypes.ZeroHash, err
		}

		p.paths = append(p.paths, pathShard)
	}

	// Register the payment before the lock phase so callbacks and
	// status queries can already resolve it.
	m.mtx.Lock()
	m.payments[id] = p
	for _, pathShard := range p.paths {
		for _, contractID := range pathShard.contracts {
			m.contractIndex[contractID] = contractRef{
				paymentID: id,
				pathIdx:   pathShard.index,
			}
		}
	}
	m.mtx.Unlock()

	log.Infof("Payment(%v): sending %d units over %d path(s)", id,
		amount, len(p.paths))

	// Lock phase. The all-paths-locked observation happens under the
	// payment lock so no path can resolve in between checks.
	m.paymentMtx.Lock(id)
	defer m.paymentMtx.Unlock(id)

	for _, pathShard := range p.paths {
		err := m.cfg.Contracts.Lock(pathShard.contracts[0])
		if err == nil {
			continue
		}

		log.Warnf("Payment(%v): path %d lock failed: %v", id,
			pathShard.index, err)

		lockErr := fmt.Errorf("%w: path %d: %v", ErrPathLockFailed,
			pathShard.index, err)
		for _, sibling := range p.paths {
			m.failPathLocked(p, sibling.index, lockErr)
		}
		m.resolveLocked(p)

		return id, lockErr
	}

	return id, nil
}

// setupPath derives the per-path material, builds the onion packet and
// proposes one contract per hop.
func (m *Manager) setupPath(p *payment, idx int, route *Route, amount uint64,
	finalTimeout uint32) (*path, error) {

	preimage := pathPreimage(p.rootSecret, idx)

	pathShard := &path{
		index:      idx,
		route:      route,
		amount:     amount,
		preimage:   preimage,
		hash:       preimage.Hash(),
		sessionKey: pathSessionKey(p.rootSecret, idx),
		state:      pathInFlight,
	}

	paymentPath, amts, timeouts, err := buildPaymentPath(
		route, amount, finalTimeout,
	)
	if err != nil {
		return nil, err
	}
	pathShard.circuit = paymentPath.NodeKeys()

	// The onion is bound to the path's payment hash so a hop can't
	// splice instructions across payments.
	pathShard.packet, err = sphinx.NewOnionPacket(
		m.cfg.Scheme, paymentPath, pathShard.sessionKey,
		pathShard.hash[:],
	)
	if err != nil {
		return nil, err
	}

	for i, hop := range route.Hops {
		terms := contractcourt.ContractTerms{
			ChannelID: hop.ChannelID,
			Amount:    amts[i],
			Timeout:   timeouts[i],
			Kind:      m.kindFor(hop.ChannelID),
		}

		switch terms.Kind {
		case contractcourt.KindHashLock:
			terms.HashLock = &contractcourt.HashLockTerms{
				PaymentHash: pathShard.hash,
			}

		case contractcourt.KindPointLock:
			scalar := pathScalar(
				p.rootSecret, idx, i, deriveTagScalar,
			)
			adaptor := pathScalar(
				p.rootSecret, idx, i, deriveTagAdaptor,
			)
			terms.PointLock = &contractcourt.PointLockTerms{
				PaymentPoint: secp256k1.NewPrivateKey(
					scalar,
				).PubKey(),
				AdaptorSig: &contractcourt.AdaptorSig{
					SPrime: *adaptor,
				},
			}

		case contractcourt.KindStateUpdate:
			terms.StateUpdate = &contractcourt.StateUpdateTerms{
				UpdateNumber:    m.latestUpdate(hop.ChannelID),
				SettlementDelay: m.cfg.SettlementDelay,
			}
		}

		contractID, err := m.cfg.Contracts.Propose(terms)
		if err != nil {
			m.abandonContracts(pathShard.contracts, err)
			return nil, err
		}

		pathShard.contracts = append(pathShard.contracts, contractID)
	}

	return pathShard, nil
}

// LockHop records that the contract at the given hop of a path has been
// committed by both channel endpoints. Hop zero is locked by SendPayment
// itself; the network layer reports the downstream locks through here.
func (m *Manager) LockHop(id lntypes.Hash, pathIdx, hopIdx int) error {
	m.paymentMtx.Lock(id)
	defer m.paymentMtx.Unlock(id)

	p, err := m.fetchPayment(id)
	if err != nil {
		return err
	}

	pathShard, err := p.fetchPath(pathIdx)
	if err != nil {
		return err
	}
	if hopIdx < 0 || hopIdx >= len(pathShard.contracts) {
		return fmt.Errorf("no hop %d on path %d", hopIdx, pathIdx)
	}

	return m.cfg.Contracts.Lock(pathShard.contracts[hopIdx])
}

// SettlePath resolves one path with the secret revealed by the destination.
// Every hop contract of the path is settled, from the destination backward,
// with proof material matching its variant. If every path of the payment
// has now settled the payment succeeds.
func (m *Manager) SettlePath(id lntypes.Hash, pathIdx int,
	preimage lntypes.Preimage) error {

	m.paymentMtx.Lock(id)
	defer m.paymentMtx.Unlock(id)

	p, err := m.fetchPayment(id)
	if err != nil {
		return err
	}

	pathShard, err := p.fetchPath(pathIdx)
	if err != nil {
		return err
	}
	if pathShard.state != pathInFlight {
		return fmt.Errorf("%w: path %d already resolved",
			ErrPaymentTerminal, pathIdx)
	}

	// The revealed secret must be the one this path committed to.
	if !preimage.Matches(pathShard.hash) {
		return fmt.Errorf("%w: revealed secret does not match path "+
			"hash %v", contractcourt.ErrInvalidProof,
			pathShard.hash)
	}

	for i := len(pathShard.contracts) - 1; i >= 0; i-- {
		proof, err := m.proofForHop(p, pathShard, i, preimage)
		if err != nil {
			return err
		}

		err = m.cfg.Contracts.Settle(pathShard.contracts[i], proof)
		if err != nil {
			return fmt.Errorf("settle of hop %d failed: %w", i,
				err)
		}
	}

	pathShard.state = pathSettled

	log.Infof("Payment(%v): path %d settled for %d units", id, pathIdx,
		pathShard.amount)

	if m.cfg.PathSuccess != nil {
		m.cfg.PathSuccess(id, pathIdx)
	}

	m.resolveLocked(p)

	return nil
}

// proofForHop builds the variant-appropriate settlement proof for one hop.
func (m *Manager) proofForHop(p *payment, pathShard *path, hopIdx int,
	preimage lntypes.Preimage) (contractcourt.Proof, error) {

	chanID := pathShard.route.Hops[hopIdx].ChannelID

	switch m.kindFor(chanID) {
	case contractcourt.KindHashLock:
		return contractcourt.Proof{Preimage: &preimage}, nil

	case contractcourt.KindPointLock:
		scalar := pathScalar(
			p.rootSecret, pathShard.index, hopIdx,
			deriveTagScalar,
		)
		return contractcourt.Proof{Scalar: scalar}, nil

	case contractcourt.KindStateUpdate:
		if m.cfg.Signer == nil {
			return contractcourt.Proof{}, fmt.Errorf("no signer " +
				"configured for state update settlement")
		}

		number := m.latestUpdate(chanID) + 1
		sig, err := m.cfg.Signer.SignUpdate(
			chanID, contractcourt.UpdateSigMsg(chanID, number),
		)
		if err != nil {
			return contractcourt.Proof{}, err
		}

		return contractcourt.Proof{
			Update: &contractcourt.ChannelUpdate{
				Number: number,
				Sig:    sig,
			},
		}, nil

	default:
		return contractcourt.Proof{}, fmt.Errorf("unknown contract "+
			"kind for channel %v", chanID)
	}
}

// FailPath marks one path as failed and releases its contracts. Because the
// manager performs no re-routing, a failed path is fatal to the whole
// payment: the remaining live paths are failed as well so no locked amount
// is left dangling.
func (m *Manager) FailPath(id lntypes.Hash, pathIdx int, reason error) error {
	m.paymentMtx.Lock(id)
	defer m.paymentMtx.Unlock(id)

	p, err := m.fetchPayment(id)
	if err != nil {
		return err
	}

	if _, err := p.fetchPath(pathIdx); err != nil {
		return err
	}

	m.failPathLocked(p, pathIdx, reason)

	siblingErr := fmt.Errorf("sibling path %d failed: %w", pathIdx,
		reason)
	for _, sibling := range p.paths {
		if sibling.index == pathIdx {
			continue
		}
		m.failPathLocked(p, sibling.index, siblingErr)
	}

	m.resolveLocked(p)

	return nil
}

// CancelPayment aborts an in flight payment before any path has settled.
// Every path's contracts transition to Failed atomically under the payment
// lock.
func (m *Manager) CancelPayment(id lntypes.Hash) error {
	m.paymentMtx.Lock(id)
	defer m.paymentMtx.Unlock(id)

	p, err := m.fetchPayment(id)
	if err != nil {
		return err
	}

	if p.currentState().Terminal() {
		return ErrPaymentTerminal
	}
	if p.settledPaths() > 0 {
		return ErrNotCancellable
	}

	log.Infof("Payment(%v): cancelled", id)

	cancelErr := fmt.Errorf("payment cancelled")
	for _, pathShard := range p.paths {
		m.failPathLocked(p, pathShard.index, cancelErr)
	}

	m.resolveLocked(p)

	return nil
}

// WaitForCompletion blocks until the payment reaches a terminal state or
// the timeout elapses. On timeout the payment itself is unaffected and
// ErrWaitTimeout is returned alongside the current state. Per-path states
// are never exposed here.
func (m *Manager) WaitForCompletion(id lntypes.Hash,
	timeout time.Duration) (PaymentState, error) {

	m.mtx.RLock()
	if state, ok := m.history[id]; ok {
		m.mtx.RUnlock()
		return state, nil
	}

	p, ok := m.payments[id]
	if !ok {
		m.mtx.RUnlock()
		return 0, ErrPaymentNotFound
	}
	done := p.done
	m.mtx.RUnlock()

	select {
	case <-done:
		return m.PaymentStatus(id)

	case <-m.cfg.Clock.TickAfter(timeout):
		state, err := m.PaymentStatus(id)
		if err != nil {
			return 0, err
		}
		return state, ErrWaitTimeout

	case <-m.quit:
		return 0, ErrManagerShutdown
	}
}

// PaymentStatus returns the aggregate state of a payment, live or archived.
func (m *Manager) PaymentStatus(id lntypes.Hash) (PaymentState, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if p, ok := m.payments[id]; ok {
		return p.currentState(), nil
	}
	if state, ok := m.history[id]; ok {
		return state, nil
	}

	return 0, ErrPaymentNotFound
}

// NotifyHeight feeds a new best block height into the manager. Contract
// deadlines are evaluated asynchronously; contracts never poll a clock.
func (m *Manager) NotifyHeight(height uint32) {
	select {
	case m.heightQueue.ChanIn() <- height:
	case <-m.quit:
	}
}

// DecryptPathError peels an error onion returned along a path, attributing
// it to the hop that generated it.
func (m *Manager) DecryptPathError(id lntypes.Hash, pathIdx int,
	errorBlob []byte) (*sphinx.DecryptedError, error) {

	m.mtx.RLock()
	p, ok := m.payments[id]
	m.mtx.RUnlock()
	if !ok {
		return nil, ErrPaymentNotFound
	}

	pathShard, err := p.fetchPath(pathIdx)
	if err != nil {
		return nil, err
	}

	decrypter := sphinx.NewOnionErrorDecrypter(
		m.cfg.Scheme, &sphinx.Circuit{
			SessionKey:  pathShard.sessionKey,
			PaymentPath: pathShard.circuit,
		},
	)

	return decrypter.DecryptError(errorBlob)
}

// PathSecret returns the settlement secret derived for one path. The
// sender delivers it to the destination out of band (or inside the final
// onion payload); its reveal is what settles the path.
func (m *Manager) PathSecret(id lntypes.Hash,
	pathIdx int) (lntypes.Preimage, error) {

	m.mtx.RLock()
	p, ok := m.payments[id]
	m.mtx.RUnlock()
	if !ok {
		return lntypes.Preimage{}, ErrPaymentNotFound
	}

	pathShard, err := p.fetchPath(pathIdx)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	return pathShard.preimage, nil
}

// PathPacket returns the onion packet built for one path, for handoff to
// the transport layer.
func (m *Manager) PathPacket(id lntypes.Hash,
	pathIdx int) (*sphinx.OnionPacket, error) {

	m.mtx.RLock()
	p, ok := m.payments[id]
	m.mtx.RUnlock()
	if !ok {
		return nil, ErrPaymentNotFound
	}

	pathShard, err := p.fetchPath(pathIdx)
	if err != nil {
		return nil, err
	}

	return pathShard.packet, nil
}

// heightWorker drains the height queue, sweeps contract deadlines and turns
// timed out contracts into path failures.
func (m *Manager) heightWorker() {
	defer m.wg.Done()

	for {
		select {
		case item := <-m.heightQueue.ChanOut():
			height := item.(uint32)
			m.bestHeight.Store(height)

			timedOut := m.cfg.Contracts.NotifyHeight(height)
			for _, contractID := range timedOut {
				m.handleContractTimeout(contractID, height)
			}

		case <-m.quit:
			return
		}
	}
}

// handleContractTimeout fails the path owning a timed out contract.
func (m *Manager) handleContractTimeout(contractID lntypes.Hash,
	height uint32) {

	m.mtx.RLock()
	ref, ok := m.contractIndex[contractID]
	m.mtx.RUnlock()
	if !ok {
		return
	}

	log.Warnf("Payment(%v): contract %v on path %d timed out at "+
		"height %d", ref.paymentID, contractID, ref.pathIdx, height)

	err := m.FailPath(ref.paymentID, ref.pathIdx, fmt.Errorf(
		"contract %v timed out at height %d", contractID, height,
	))
	if err != nil && !errors.Is(err, ErrPaymentNotFound) &&
		!errors.Is(err, ErrPaymentTerminal) {
		log.Errorf("Payment(%v): unable to fail timed out path %d: "+
			"%v", ref.paymentID, ref.pathIdx, err)
	}
}

// failPathLocked fails every non-terminal contract of a path and marks the
// path failed. No-op for paths that already resolved. The caller must hold
// the payment lock.
func (m *Manager) failPathLocked(p *payment, pathIdx int, reason error) {
	pathShard := p.paths[pathIdx]
	if pathShard.state != pathInFlight {
		return
	}

	for _, contractID := range pathShard.contracts {
		err := m.cfg.Contracts.Fail(contractID, reason)
		if err != nil {
			// Contracts that already reached a terminal state
			// stay as they are.
			log.Debugf("Payment(%v): contract %v not failed: %v",
				p.id, contractID, err)
		}
	}

	pathShard.state = pathFailed

	log.Infof("Payment(%v): path %d failed: %v", p.id, pathIdx, reason)

	if m.cfg.PathFailure != nil {
		m.cfg.PathFailure(p.id, pathIdx, reason)
	}
}

// resolveLocked recomputes the payment's aggregate state and archives it if
// it became terminal. The caller must hold the payment lock.
func (m *Manager) resolveLocked(p *payment) {
	state := p.resolve()
	if !state.Terminal() {
		return
	}

	log.Infof("Payment(%v): %v", p.id, state)

	m.mtx.Lock()
	delete(m.payments, p.id)
	m.history[p.id] = state
	for _, pathShard := range p.paths {
		for _, contractID := range pathShard.contracts {
			delete(m.contractIndex, contractID)
		}
	}
	m.mtx.Unlock()

	// Terminal payments release their contract instances.
	for _, pathShard := range p.paths {
		for _, contractID := range pathShard.contracts {
			if err := m.cfg.Contracts.Release(contractID); err != nil {
				log.Debugf("Payment(%v): release of %v: %v",
					p.id, contractID, err)
			}
		}
	}
}

// abandonContracts fails and releases contracts belonging to a payment that
// never launched. Without the release the registry would keep the dead
// entries forever, since no payment record exists to resolve them.
func (m *Manager) abandonContracts(ids []lntypes.Hash, reason error) {
	for _, contractID := range ids {
		if err := m.cfg.Contracts.Fail(contractID, reason); err != nil {
			log.Debugf("Contract %v not failed: %v", contractID, err)
		}
		if err := m.cfg.Contracts.Release(contractID); err != nil {
			log.Debugf("Contract %v not released: %v", contractID,
				err)
		}
	}
}

// fetchPayment returns the live payment record for id.
func (m *Manager) fetchPayment(id lntypes.Hash) (*payment, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		if _, archived := m.history[id]; archived {
			return nil, ErrPaymentTerminal
		}
		return nil, ErrPaymentNotFound
	}

	return p, nil
}

// kindFor resolves the contract variant for a channel.
func (m *Manager) kindFor(chanID lntypes.ChannelID) contractcourt.Kind {
	if m.cfg.KindForChannel == nil {
		return contractcourt.KindHashLock
	}

	return m.cfg.KindForChannel(chanID)
}

// latestUpdate resolves the current update number of a channel.
func (m *Manager) latestUpdate(chanID lntypes.ChannelID) uint64 {
	if m.cfg.LatestUpdate == nil {
		return 0
	}

	return m.cfg.LatestUpdate(chanID)
}
