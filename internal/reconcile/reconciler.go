// Package reconcile keeps a live view of one shopping list. The view merges
// an initial snapshot, the list's change stream and the caller's own
// optimistic mutations, and converges to the durable state once the stream
// has delivered every change.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/chirino/ulists/internal/security"
	"github.com/google/uuid"
)

// Backend is what a Reconciler needs from the store and the change stream,
// already scoped to the calling account.
type Backend interface {
	ListItems(ctx context.Context, listID uuid.UUID) ([]model.ListItem, error)
	CreateItem(ctx context.Context, listID uuid.UUID, id uuid.UUID, name string) (*model.ListItem, error)
	UpdateItem(ctx context.Context, listID uuid.UUID, itemID uuid.UUID, update model.ItemUpdate) (*model.ListItem, error)
	DeleteItem(ctx context.Context, listID uuid.UUID, itemID uuid.UUID) error
	Subscribe(ctx context.Context, listID uuid.UUID) (registrystream.Subscription, error)
}

// State is the lifecycle stage of a Reconciler.
type State int

const (
	Uninitialized State = iota
	// Syncing: subscribed, waiting for the snapshot. Stream events are buffered.
	Syncing
	// Live: the snapshot landed and stream events are applied as they arrive.
	Live
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrNotOpen = errors.New("reconciler is not open")
	ErrClosed  = errors.New("reconciler is closed")
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

// pendingOp is an optimistic mutation awaiting the store's answer. It keeps
// only what the caller changed so it can be replayed over a newer snapshot.
type pendingOp struct {
	seq  uint64
	id   uuid.UUID
	kind opKind
	// created is the optimistic row of a create.
	created *model.ListItem
	// update carries the fields an update sets.
	update model.ItemUpdate
	// prev is the item the op was last applied over, nil if it did not exist.
	prev      *model.ListItem
	prevIndex int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBackoff sets the delay bounds used when resubscribing or refetching.
func WithBackoff(min, max time.Duration) Option {
	return func(r *Reconciler) {
		r.minBackoff = min
		r.maxBackoff = max
	}
}

// Reconciler maintains the ordered item view of one list.
type Reconciler struct {
	listID     uuid.UUID
	backend    Backend
	minBackoff time.Duration
	maxBackoff time.Duration

	mu    sync.Mutex
	state State
	// gen identifies the current subscription session. Callbacks from an
	// older session are ignored.
	gen      uint64
	failures int
	items    *itemSet
	buffer   []model.ChangeEvent
	pending  map[uuid.UUID][]*pendingOp
	seq      uint64
	sub      registrystream.Subscription
	synced   chan struct{}
	updates  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New returns an unopened Reconciler for listID.
func New(listID uuid.UUID, backend Backend, opts ...Option) *Reconciler {
	r := &Reconciler{
		listID:     listID,
		backend:    backend,
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		items:      newItemSet(),
		pending:    map[uuid.UUID][]*pendingOp{},
		synced:     make(chan struct{}),
		updates:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListID returns the list being reconciled.
func (r *Reconciler) ListID() uuid.UUID { return r.listID }

// Open subscribes to the list's change stream and fetches the snapshot in
// the background. The reconciler stops when ctx ends or Close is called.
func (r *Reconciler) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Closed:
		return ErrClosed
	case Uninitialized:
	default:
		return fmt.Errorf("reconciler already open")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.startSyncLocked()
	return nil
}

// Close stops the reconciler and releases its subscription. It is idempotent.
// In-flight fetches and mutation results are discarded.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return nil
	}
	wasOpen := r.state != Uninitialized
	r.state = Closed
	r.gen++
	sub := r.sub
	r.sub = nil
	r.buffer = nil
	r.pending = map[uuid.UUID][]*pendingOp{}
	if r.cancel != nil {
		r.cancel()
	}
	close(r.updates)
	r.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	if wasOpen {
		r.wg.Wait()
	}
	return err
}

// State returns the current lifecycle stage.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Items returns a copy of the current ordered view.
func (r *Reconciler) Items() []model.ListItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.snapshot()
}

// Item returns the current view of one item.
func (r *Reconciler) Item(id uuid.UUID) (model.ListItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.get(id)
}

// Updates receives a value after the view changes. Notifications coalesce,
// so a receiver should re-read Items. The channel is closed by Close.
func (r *Reconciler) Updates() <-chan struct{} {
	return r.updates
}

// WaitSynced blocks until the current session's snapshot has been applied.
func (r *Reconciler) WaitSynced(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return ErrClosed
	}
	synced := r.synced
	r.mu.Unlock()

	select {
	case <-synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Mutations ---

// CreateItem adds an item with a client generated id, so the stream echo
// replaces the optimistic row in place.
func (r *Reconciler) CreateItem(ctx context.Context, name string) (model.ListItem, error) {
	name, err := validName(name)
	if err != nil {
		return model.ListItem{}, err
	}
	item := model.ListItem{
		ID:        uuid.New(),
		ListID:    r.listID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	if err := r.mutableLocked(); err != nil {
		r.mu.Unlock()
		return model.ListItem{}, err
	}
	op := r.recordLocked(&pendingOp{id: item.ID, kind: opCreate, created: &item})
	r.mu.Unlock()

	row, err := r.backend.CreateItem(ctx, r.listID, item.ID, name)
	r.complete(op, row, err)
	if err != nil {
		return model.ListItem{}, err
	}
	return item, nil
}

// ToggleItem flips the item's completed flag.
func (r *Reconciler) ToggleItem(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, func(item model.ListItem) model.ItemUpdate {
		done := !item.Completed
		return model.ItemUpdate{Completed: &done}
	})
}

// RenameItem changes the item's name.
func (r *Reconciler) RenameItem(ctx context.Context, id uuid.UUID, name string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	return r.update(ctx, id, func(model.ListItem) model.ItemUpdate {
		return model.ItemUpdate{Name: &name}
	})
}

func (r *Reconciler) update(ctx context.Context, id uuid.UUID, mutate func(model.ListItem) model.ItemUpdate) error {
	r.mu.Lock()
	if err := r.mutableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	cur, ok := r.items.get(id)
	if !ok {
		r.mu.Unlock()
		return &registrystore.NotFoundError{Resource: "item", ID: id.String()}
	}
	upd := mutate(cur)
	op := r.recordLocked(&pendingOp{id: id, kind: opUpdate, update: upd})
	r.mu.Unlock()

	row, err := r.backend.UpdateItem(ctx, r.listID, id, upd)
	r.complete(op, row, err)
	return err
}

// DeleteItem removes the item.
func (r *Reconciler) DeleteItem(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	if err := r.mutableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if _, ok := r.items.get(id); !ok {
		r.mu.Unlock()
		return &registrystore.NotFoundError{Resource: "item", ID: id.String()}
	}
	op := r.recordLocked(&pendingOp{id: id, kind: opDelete})
	r.mu.Unlock()

	err := r.backend.DeleteItem(ctx, r.listID, id)
	r.complete(op, nil, err)
	return err
}

// validName applies the store's rules up front so an invalid name never
// shows optimistically.
func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &registrystore.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if model.TextTooLong(name) {
		return "", &registrystore.ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", model.MaxTextLength)}
	}
	return name, nil
}

func (r *Reconciler) mutableLocked() error {
	switch r.state {
	case Uninitialized:
		return ErrNotOpen
	case Closed:
		return ErrClosed
	}
	return nil
}

// recordLocked applies op to the view and queues it until the store answers.
func (r *Reconciler) recordLocked(op *pendingOp) *pendingOp {
	r.seq++
	op.seq = r.seq
	r.applyLocked(op)
	r.pending[op.id] = append(r.pending[op.id], op)
	r.notifyLocked()
	return op
}

// applyLocked lays op over the current view and records the row it covered
// as the rollback value. A create leaves an existing row alone and an update
// skips a missing one.
func (r *Reconciler) applyLocked(op *pendingOp) {
	op.prev, op.prevIndex = nil, -1
	if cur, ok := r.items.get(op.id); ok {
		op.prev = &cur
		op.prevIndex = r.items.index(op.id)
	}
	switch op.kind {
	case opCreate:
		if op.prev == nil {
			r.items.upsert(*op.created)
		}
	case opUpdate:
		if op.prev != nil {
			r.items.upsert(op.update.ApplyTo(*op.prev))
		}
	case opDelete:
		r.items.remove(op.id)
	}
}

// complete settles a pending op with the store's answer. Ops already
// discarded by a stream event for the same item are ignored.
func (r *Reconciler) complete(op *pendingOp, row *model.ListItem, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Closed {
		return
	}
	ops := r.pending[op.id]
	idx := -1
	for i, o := range ops {
		if o == op {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	latest := idx == len(ops)-1
	ops = append(ops[:idx:idx], ops[idx+1:]...)

	if err == nil {
		if len(ops) == 0 && row != nil {
			r.items.upsert(*row)
			r.notifyLocked()
		}
	} else {
		security.RecordReconcileRollback()
		log.Debug("Rolling back optimistic mutation", "listId", r.listID, "itemId", op.id, "err", err)
		if latest {
			r.restoreLocked(op)
			r.notifyLocked()
		} else {
			// The next op was built on this one's value; it now carries the
			// state to restore should it fail too.
			ops[idx].prev = op.prev
			ops[idx].prevIndex = op.prevIndex
		}
	}

	if len(ops) == 0 {
		delete(r.pending, op.id)
	} else {
		r.pending[op.id] = ops
	}
}

func (r *Reconciler) restoreLocked(op *pendingOp) {
	if op.prev == nil {
		r.items.remove(op.id)
		return
	}
	if _, ok := r.items.get(op.id); ok {
		r.items.upsert(*op.prev)
		return
	}
	r.items.insertAt(op.prevIndex, *op.prev)
}

func (r *Reconciler) notifyLocked() {
	if r.state == Closed {
		return
	}
	select {
	case r.updates <- struct{}{}:
	default:
	}
}

// --- Subscription session ---

func (r *Reconciler) startSyncLocked() {
	r.gen++
	r.state = Syncing
	r.buffer = nil
	select {
	case <-r.synced:
		r.synced = make(chan struct{})
	default:
	}
	r.wg.Add(1)
	go r.sync(r.gen, r.failures)
}

func (r *Reconciler) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen && r.state != Closed
}

func (r *Reconciler) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := r.minBackoff
	for i := 1; i < attempt && d < r.maxBackoff; i++ {
		d *= 2
	}
	if d > r.maxBackoff {
		d = r.maxBackoff
	}
	return d
}

// sync subscribes, then fetches the snapshot while the stream is live.
func (r *Reconciler) sync(gen uint64, attempt int) {
	defer r.wg.Done()

	var sub registrystream.Subscription
	for {
		if err := sleep(r.ctx, r.backoff(attempt)); err != nil || !r.current(gen) {
			return
		}
		s, err := r.backend.Subscribe(r.ctx, r.listID)
		if err == nil {
			sub = s
			break
		}
		attempt++
		log.Warn("Subscribe failed; retrying", "listId", r.listID, "attempt", attempt, "err", err)
	}

	r.mu.Lock()
	if gen != r.gen || r.state == Closed {
		r.mu.Unlock()
		_ = sub.Close()
		return
	}
	r.sub = sub
	r.wg.Add(1)
	go r.pump(gen, sub)
	r.mu.Unlock()

	for {
		items, err := r.backend.ListItems(r.ctx, r.listID)
		if err == nil {
			r.applySnapshot(gen, items)
			return
		}
		attempt++
		log.Warn("Snapshot fetch failed; retrying", "listId", r.listID, "attempt", attempt, "err", err)
		if err := sleep(r.ctx, r.backoff(attempt)); err != nil || !r.current(gen) {
			return
		}
	}
}

func (r *Reconciler) pump(gen uint64, sub registrystream.Subscription) {
	defer r.wg.Done()
	for ev := range sub.Events() {
		r.handleEvent(gen, ev)
	}

	// Close releases the dropped subscription unless Close already took it.
	r.mu.Lock()
	owned := r.sub == sub
	if owned {
		r.sub = nil
	}
	r.mu.Unlock()
	if owned {
		if err := sub.Close(); err != nil {
			log.Debug("Closing dropped subscription failed", "listId", r.listID, "err", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.state == Closed {
		return
	}
	err := sub.Err()
	if err == nil {
		err = errors.New("subscription ended")
	}
	log.Warn("Change stream dropped; resyncing", "listId", r.listID, "err", err)
	r.failures++
	r.startSyncLocked()
}

func (r *Reconciler) handleEvent(gen uint64, ev model.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.state == Closed || ev.ListID != r.listID {
		return
	}
	// The stream wins over anything still pending for this item.
	delete(r.pending, ev.ItemID())
	if r.state == Syncing {
		r.buffer = append(r.buffer, ev)
		return
	}
	r.items.apply(ev)
	security.RecordReconcileEvent(string(ev.EventType))
	r.notifyLocked()
}

func (r *Reconciler) applySnapshot(gen uint64, items []model.ListItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.state == Closed {
		return
	}
	r.items.reset(items)
	for _, ev := range r.buffer {
		r.items.apply(ev)
		security.RecordReconcileEvent(string(ev.EventType))
	}
	r.buffer = nil

	// Replay pending mutations over the snapshot in issue order. Each op is
	// rebased, so a rollback restores the snapshot's value rather than the
	// one seen before the resync.
	var ops []*pendingOp
	for _, pending := range r.pending {
		ops = append(ops, pending...)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].seq < ops[j].seq })
	for _, op := range ops {
		r.applyLocked(op)
	}

	r.state = Live
	r.failures = 0
	close(r.synced)
	r.notifyLocked()
	log.Debug("List view synced", "listId", r.listID, "items", r.items.len())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
