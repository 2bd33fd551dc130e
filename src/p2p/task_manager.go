package p2p

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/mailbox"
)

// taskPeer is the part of a RemoteNode the TaskManager talks to.
type taskPeer interface {
	Height() uint32
	RequestData(typ ledger.InventoryType, hashes []common.Hash)
	RequestHeaders(locator []common.Hash)
	RequestBlocks(locator []common.Hash)
}

// taskChain is the part of the ledger the TaskManager reads.
type taskChain interface {
	Height() uint32
	HeaderHeight() uint32
	GetHeaderHash(height uint32) (common.Hash, error)
	ContainsBlock(hash common.Hash) bool
	BlockLocator() []common.Hash
	HeaderLocator() []common.Hash
}

type fetchTask struct {
	hash       common.Hash
	typ        ledger.InventoryType
	height     uint32 // block index for tasks created from headers
	peer       taskPeer
	deadline   time.Time
	attempts   int
	announcers map[taskPeer]struct{}
}

type taskSession struct {
	peer     taskPeer
	inFlight map[common.Hash]struct{}

	// header height when headers were last requested from this peer; a
	// peer is not asked twice for the same range
	headersAsked bool
	headersAt    uint32
}

// Mailbox messages
type (
	registerMsg   struct{ peer taskPeer }
	unregisterMsg struct{ peer taskPeer }
	newTasksMsg   struct {
		peer   taskPeer
		typ    ledger.InventoryType
		hashes []common.Hash
	}
	completedMsg struct {
		peer taskPeer
		hash common.Hash
	}
	heightMsg  struct{ peer taskPeer }
	headersMsg struct {
		peer  taskPeer
		added int
		full  bool
		err   error
	}
	blockPersistedMsg struct{}
	requestBlocksMsg  struct{ peer taskPeer }
	timerMsg          struct{}
)

func isTaskPriority(msg interface{}) bool {
	switch msg.(type) {
	case registerMsg, unregisterMsg, completedMsg, blockPersistedMsg, timerMsg:
		return true
	}
	return false
}

// Peer lifecycle messages are never dropped: a lost Unregister would leave
// tasks assigned to a dead peer.
func isLifecycle(msg interface{}) bool {
	switch msg.(type) {
	case registerMsg, unregisterMsg:
		return true
	}
	return false
}

func droppableTask(msg interface{}) (string, bool) {
	switch msg.(type) {
	case blockPersistedMsg:
		return "block_persisted", true
	case timerMsg:
		return "timer", true
	}
	return "", false
}

// TaskManager decides which peer is asked for which item. Every hash has at
// most one outstanding request; a peer has at most MaxTasksPerPeer. Requests
// that time out, or whose peer disconnects, move to another peer which
// announced the item.
type TaskManager struct {
	conf  *Config
	chain taskChain

	inbox *mailbox.Mailbox[interface{}]

	// owned by the run loop
	sessions      map[taskPeer]*taskSession
	tasks         map[common.Hash]*fetchTask
	fetched       *recentHashes
	headerSync    taskPeer
	headerTimeout time.Time

	pending int64

	now        func() time.Time
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	logger *logrus.Entry
}

// NewTaskManager ...
func NewTaskManager(conf *Config, chain taskChain, logger *logrus.Entry) *TaskManager {
	return &TaskManager{
		conf:  conf,
		chain: chain,
		inbox: mailbox.New[interface{}](conf.MailboxSize,
			mailbox.WithPriority(isTaskPriority),
			mailbox.WithUnbounded(isLifecycle),
			mailbox.WithDropDuplicates(droppableTask)),
		sessions:   make(map[taskPeer]*taskSession),
		tasks:      make(map[common.Hash]*fetchTask),
		fetched:    newRecentHashes(conf.KnownHashesSize, conf.KnownHashesTTL),
		now:        time.Now,
		shutdownCh: make(chan struct{}),
		logger:     logger.WithField("component", "tasks"),
	}
}

// Start runs the manager until Shutdown.
func (tm *TaskManager) Start() {
	tm.wg.Add(2)
	go tm.run()
	go tm.ticker()
}

// Shutdown ...
func (tm *TaskManager) Shutdown() {
	select {
	case <-tm.shutdownCh:
		return
	default:
	}
	close(tm.shutdownCh)
	tm.inbox.Close()
	tm.wg.Wait()
}

// Pending is the number of items waiting to be fetched.
func (tm *TaskManager) Pending() int {
	return int(atomic.LoadInt64(&tm.pending))
}

func (tm *TaskManager) post(msg interface{}) {
	if err := tm.inbox.Post(msg); err != nil && !errors.Is(err, mailbox.ErrDuplicate) {
		tm.logger.WithError(err).Debug("Dropped task message")
	}
}

// Register starts scheduling work to peer.
func (tm *TaskManager) Register(peer taskPeer) { tm.post(registerMsg{peer}) }

// Unregister releases the tasks of peer to other peers.
func (tm *TaskManager) Unregister(peer taskPeer) { tm.post(unregisterMsg{peer}) }

// NewTasks records that peer announced hashes we do not have.
func (tm *TaskManager) NewTasks(peer taskPeer, typ ledger.InventoryType, hashes []common.Hash) {
	tm.post(newTasksMsg{peer: peer, typ: typ, hashes: hashes})
}

// Completed records that peer delivered hash.
func (tm *TaskManager) Completed(peer taskPeer, typ ledger.InventoryType, hash common.Hash) {
	tm.post(completedMsg{peer: peer, hash: hash})
}

// UpdateHeight is called when peer reports a higher block height.
func (tm *TaskManager) UpdateHeight(peer taskPeer) { tm.post(heightMsg{peer}) }

// HeadersImported reports the outcome of a headers message from peer. full
// is set when the message carried the maximum number of headers, so more
// are likely available.
func (tm *TaskManager) HeadersImported(peer taskPeer, added int, full bool, err error) {
	tm.post(headersMsg{peer: peer, added: added, full: full, err: err})
}

// BlockPersisted is called after each block is applied.
func (tm *TaskManager) BlockPersisted() { tm.post(blockPersistedMsg{}) }

// RequestBlocks asks peer for the block hashes following our tip. It is used
// when peer sends blocks beyond our header index.
func (tm *TaskManager) RequestBlocks(peer taskPeer) { tm.post(requestBlocksMsg{peer}) }

func (tm *TaskManager) ticker() {
	defer tm.wg.Done()

	period := tm.conf.TaskTimeout / 4
	if period <= 0 {
		period = time.Second
	}
	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			tm.post(timerMsg{})
		case <-tm.shutdownCh:
			return
		}
	}
}

func (tm *TaskManager) run() {
	defer tm.wg.Done()
	for {
		msg, ok := tm.inbox.Receive(tm.shutdownCh)
		if !ok {
			return
		}
		tm.handle(msg)
		atomic.StoreInt64(&tm.pending, int64(len(tm.tasks)))
	}
}

func (tm *TaskManager) handle(msg interface{}) {
	switch m := msg.(type) {
	case registerMsg:
		if _, ok := tm.sessions[m.peer]; !ok {
			tm.sessions[m.peer] = &taskSession{
				peer:     m.peer,
				inFlight: make(map[common.Hash]struct{}),
			}
		}
		tm.syncHeaders()
		tm.scheduleBlocks()

	case unregisterMsg:
		tm.unregister(m.peer)

	case newTasksMsg:
		tm.newTasks(m.peer, m.typ, m.hashes)

	case completedMsg:
		tm.completed(m.hash)

	case heightMsg:
		tm.syncHeaders()
		tm.scheduleBlocks()

	case headersMsg:
		tm.headersImported(m)

	case blockPersistedMsg:
		tm.syncHeaders()
		tm.scheduleBlocks()

	case requestBlocksMsg:
		if _, ok := tm.sessions[m.peer]; ok {
			m.peer.RequestBlocks(tm.chain.BlockLocator())
		}

	case timerMsg:
		tm.expire()
	}

	tm.schedule()
}

func (tm *TaskManager) unregister(peer taskPeer) {
	s, ok := tm.sessions[peer]
	if !ok {
		return
	}
	delete(tm.sessions, peer)

	for hash, t := range tm.tasks {
		delete(t.announcers, peer)
		if t.peer == peer {
			t.peer = nil
		}
		if len(t.announcers) == 0 {
			delete(tm.tasks, hash)
		}
	}

	if tm.headerSync == peer {
		tm.headerSync = nil
		tm.syncHeaders()
	}

	tm.logger.WithFields(logrus.Fields{
		"in_flight": len(s.inFlight),
		"tasks":     len(tm.tasks),
	}).Debug("Peer unregistered")
}

func (tm *TaskManager) newTasks(peer taskPeer, typ ledger.InventoryType, hashes []common.Hash) {
	if _, ok := tm.sessions[peer]; !ok {
		return
	}
	for _, h := range hashes {
		if tm.fetched.Contains(h) {
			continue
		}
		t, ok := tm.tasks[h]
		if !ok {
			t = &fetchTask{
				hash:       h,
				typ:        typ,
				announcers: make(map[taskPeer]struct{}),
			}
			tm.tasks[h] = t
		}
		t.announcers[peer] = struct{}{}
	}
}

func (tm *TaskManager) completed(hash common.Hash) {
	tm.fetched.Add(hash)

	t, ok := tm.tasks[hash]
	if !ok {
		return
	}
	if t.peer != nil {
		if s, ok := tm.sessions[t.peer]; ok {
			delete(s.inFlight, hash)
		}
	}
	delete(tm.tasks, hash)
}

// expire releases requests past their deadline. The peer that let a request
// time out is not asked for that item again.
func (tm *TaskManager) expire() {
	now := tm.now()

	for hash, t := range tm.tasks {
		if t.peer == nil || now.Before(t.deadline) {
			continue
		}

		if s, ok := tm.sessions[t.peer]; ok {
			delete(s.inFlight, hash)
		}
		delete(t.announcers, t.peer)

		tm.logger.WithFields(logrus.Fields{
			"hash":     hash.Short(),
			"attempts": t.attempts,
		}).Debug("Task timed out")

		t.peer = nil
		if t.attempts >= tm.conf.MaxTaskAttempts || len(t.announcers) == 0 {
			delete(tm.tasks, hash)
		}
	}

	if tm.headerSync != nil && now.After(tm.headerTimeout) {
		tm.headerSync = nil
		tm.syncHeaders()
	}
}

// schedule assigns every unassigned task to its least loaded announcer and
// sends one getdata per peer and type.
func (tm *TaskManager) schedule() {
	unassigned := make([]*fetchTask, 0)
	for _, t := range tm.tasks {
		if t.peer == nil {
			unassigned = append(unassigned, t)
		}
	}
	if len(unassigned) == 0 {
		return
	}

	// Blocks from headers go in chain order, before announcements.
	sort.Slice(unassigned, func(i, j int) bool {
		a, b := unassigned[i], unassigned[j]
		if a.height != b.height {
			if a.height == 0 || b.height == 0 {
				return a.height != 0
			}
			return a.height < b.height
		}
		return a.hash.Less(b.hash)
	})

	type batchKey struct {
		peer taskPeer
		typ  ledger.InventoryType
	}
	batches := make(map[batchKey][]common.Hash)
	var order []batchKey

	deadline := tm.now().Add(tm.conf.TaskTimeout)

	for _, t := range unassigned {
		s := tm.leastLoaded(t)
		if s == nil {
			continue
		}
		t.peer = s.peer
		t.deadline = deadline
		t.attempts++
		s.inFlight[t.hash] = struct{}{}

		k := batchKey{s.peer, t.typ}
		if _, ok := batches[k]; !ok {
			order = append(order, k)
		}
		batches[k] = append(batches[k], t.hash)
	}

	for _, k := range order {
		k.peer.RequestData(k.typ, batches[k])
	}
}

func (tm *TaskManager) leastLoaded(t *fetchTask) *taskSession {
	var best *taskSession
	for p := range t.announcers {
		s, ok := tm.sessions[p]
		if !ok || len(s.inFlight) >= tm.conf.MaxTasksPerPeer {
			continue
		}
		if best == nil || len(s.inFlight) < len(best.inFlight) {
			best = s
		}
	}
	return best
}

// scheduleBlocks creates tasks for the blocks between our tip and the header
// index, as far as the connected peers can take them.
func (tm *TaskManager) scheduleBlocks() {
	if len(tm.sessions) == 0 {
		return
	}

	height := tm.chain.Height()
	top := tm.chain.HeaderHeight()
	if limit := height + uint32(tm.conf.MaxTasksPerPeer*len(tm.sessions)); top > limit {
		top = limit
	}

	for i := height + 1; i <= top; i++ {
		hash, err := tm.chain.GetHeaderHash(i)
		if err != nil {
			break
		}
		if tm.fetched.Contains(hash) || tm.chain.ContainsBlock(hash) {
			continue
		}

		t, ok := tm.tasks[hash]
		if !ok {
			t = &fetchTask{
				hash:       hash,
				typ:        ledger.InvBlock,
				announcers: make(map[taskPeer]struct{}),
			}
			tm.tasks[hash] = t
		}
		t.height = i

		for p := range tm.sessions {
			if p.Height() >= i {
				t.announcers[p] = struct{}{}
			}
		}
		if len(t.announcers) == 0 {
			delete(tm.tasks, hash)
		}
	}
}

// syncHeaders asks the highest peer for the headers after our header tip,
// unless a request is already outstanding.
func (tm *TaskManager) syncHeaders() {
	if tm.headerSync != nil {
		return
	}

	headerHeight := tm.chain.HeaderHeight()

	var best *taskSession
	for _, s := range tm.sessions {
		if s.peer.Height() <= headerHeight {
			continue
		}
		if s.headersAsked && s.headersAt == headerHeight {
			continue
		}
		if best == nil || s.peer.Height() > best.peer.Height() {
			best = s
		}
	}
	if best == nil {
		return
	}

	tm.requestHeaders(best, headerHeight)
}

func (tm *TaskManager) requestHeaders(s *taskSession, headerHeight uint32) {
	s.headersAsked = true
	s.headersAt = headerHeight
	tm.headerSync = s.peer
	tm.headerTimeout = tm.now().Add(tm.conf.TaskTimeout)
	s.peer.RequestHeaders(tm.chain.HeaderLocator())
}

func (tm *TaskManager) headersImported(m headersMsg) {
	if tm.headerSync == m.peer {
		tm.headerSync = nil
	}

	if m.err != nil {
		tm.logger.WithError(m.err).Debug("Importing headers")
	}

	s, ok := tm.sessions[m.peer]
	if ok && m.full && m.added > 0 && tm.headerSync == nil {
		tm.requestHeaders(s, tm.chain.HeaderHeight())
	} else {
		tm.syncHeaders()
	}

	tm.scheduleBlocks()
}
