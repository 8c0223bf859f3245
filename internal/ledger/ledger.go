// Package ledger holds the marketplace core: accounts, tasks, and the rules
// that move tasks between statuses and money between accounts. Every
// operation validates its full precondition set before touching state, so a
// failed call leaves nothing behind.
package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ryazanovegor/oliva-space/internal/domain"
	"github.com/ryazanovegor/oliva-space/internal/store"
)

// Ledger owns all mutable marketplace state. One instance per process;
// mutations are serialized by mu and flushed to the store before the call
// returns.
type Ledger struct {
	mu         sync.RWMutex
	accounts   map[string]domain.Account
	tasks      []domain.Task
	nextTaskID int64

	store store.Store
	log   *logrus.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// New loads the snapshot from st and returns a ready ledger.
func New(st store.Store, log *logrus.Logger) (*Ledger, error) {
	snap, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Ledger{
		accounts:   snap.Accounts,
		tasks:      snap.Tasks,
		nextTaskID: snap.NextTaskID,
		store:      st,
		log:        log,
		Now:        time.Now,
	}, nil
}

// canTransition is the full transition table. Any edge not listed here does
// not exist.
func canTransition(from, to domain.Status) bool {
	switch from {
	case domain.StatusOpen:
		return to == domain.StatusInProgress || to == domain.StatusCancelled
	case domain.StatusInProgress:
		return to == domain.StatusSubmitted || to == domain.StatusOpen || to == domain.StatusCancelled
	case domain.StatusSubmitted:
		// submitted -> open is the performer withdrawing before review.
		return to == domain.StatusDone || to == domain.StatusOpen || to == domain.StatusCancelled
	}
	return false
}

// persist flushes the current state. A failed flush is logged and otherwise
// ignored: the in-memory mutation stands and the next successful flush
// rewrites the complete snapshot.
func (l *Ledger) persist(op string) {
	if err := l.store.Save(l.snapshotLocked()); err != nil {
		l.log.WithFields(logrus.Fields{"op": op, "error": err}).Error("snapshot save failed; continuing with in-memory state")
	}
}

func (l *Ledger) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Accounts:   make(map[string]domain.Account, len(l.accounts)),
		Tasks:      make([]domain.Task, len(l.tasks)),
		NextTaskID: l.nextTaskID,
	}
	for k, v := range l.accounts {
		snap.Accounts[k] = v
	}
	copy(snap.Tasks, l.tasks)
	return snap
}

// Snapshot returns a copy of the full current state.
func (l *Ledger) Snapshot() domain.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Ledger) findTaskLocked(id int64) (int, error) {
	for i := range l.tasks {
		if l.tasks[i].ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: task %d", ErrNotFound, id)
}

// --- accounts ---

// accountLocked fetches or creates the account in memory only; the calling
// operation owns the persist.
func (l *Ledger) accountLocked(identity string) domain.Account {
	acc, ok := l.accounts[identity]
	if !ok {
		acc = domain.Account{Identity: identity, Balance: decimal.Zero}
		l.accounts[identity] = acc
	}
	return acc
}

// GetOrCreateAccount returns the account for identity, creating it with a
// zero balance on first reference.
func (l *Ledger) GetOrCreateAccount(identity string) (domain.Account, error) {
	if identity == "" {
		return domain.Account{}, fmt.Errorf("%w: empty identity", ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[identity]; ok {
		return acc, nil
	}
	acc := l.accountLocked(identity)
	l.persist("account.create")
	return acc, nil
}

// Deposit adds amount to the identity's balance. Amount must be positive.
func (l *Ledger) Deposit(identity string, amount decimal.Decimal) (domain.Account, error) {
	if identity == "" {
		return domain.Account{}, fmt.Errorf("%w: empty identity", ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return domain.Account{}, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(identity)
	acc.Balance = acc.Balance.Add(amount)
	l.accounts[identity] = acc
	l.persist("account.deposit")
	l.log.WithFields(logrus.Fields{"caller": identity, "amount": amount.String()}).Info("deposit")
	return acc, nil
}

// Accounts returns all accounts, unordered.
func (l *Ledger) Accounts() []domain.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, acc)
	}
	return out
}

// --- task operations ---

// CreateTask opens a new task owned by customerID. The price must be
// positive and the text non-empty.
func (l *Ledger) CreateTask(customerID string, price decimal.Decimal, text string) (domain.Task, error) {
	if customerID == "" {
		return domain.Task{}, fmt.Errorf("%w: empty identity", ErrInvalidInput)
	}
	if !price.IsPositive() {
		return domain.Task{}, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return domain.Task{}, fmt.Errorf("%w: task text is empty", ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accountLocked(customerID)
	t := domain.Task{
		ID:         l.nextTaskID,
		CustomerID: customerID,
		Text:       strings.TrimSpace(text),
		Price:      price,
		Status:     domain.StatusOpen,
		CreatedAt:  l.Now().UTC().Format(time.RFC3339),
	}
	l.nextTaskID++
	l.tasks = append(l.tasks, t)
	l.persist("task.create")
	l.log.WithFields(logrus.Fields{"task_id": t.ID, "caller": customerID, "price": price.String()}).Info("task created")
	return t, nil
}

// ClaimTask moves an open task to in_progress with performerID as claimant.
// Owners cannot claim their own tasks.
func (l *Ledger) ClaimTask(performerID string, taskID int64) (domain.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, err := l.findTaskLocked(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	t := l.tasks[i]
	if t.CustomerID == performerID {
		return domain.Task{}, fmt.Errorf("%w: cannot claim your own task", ErrForbidden)
	}
	if t.Status != domain.StatusOpen {
		return domain.Task{}, fmt.Errorf("%w: task %d is %s, not open", ErrInvalidState, taskID, t.Status)
	}
	l.accountLocked(performerID)
	t.PerformerID = &performerID
	t.Status = domain.StatusInProgress
	l.tasks[i] = t
	l.persist("task.claim")
	l.log.WithFields(logrus.Fields{"task_id": taskID, "caller": performerID}).Info("task claimed")
	return t, nil
}

// SubmitTask moves the claimant's in_progress task to submitted.
func (l *Ledger) SubmitTask(performerID string, taskID int64) (domain.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, err := l.findTaskLocked(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	t := l.tasks[i]
	if t.PerformerID == nil || *t.PerformerID != performerID {
		return domain.Task{}, fmt.Errorf("%w: not the performer of task %d", ErrForbidden, taskID)
	}
	if t.Status != domain.StatusInProgress {
		return domain.Task{}, fmt.Errorf("%w: task %d is %s, not in_progress", ErrInvalidState, taskID, t.Status)
	}
	t.Status = domain.StatusSubmitted
	l.tasks[i] = t
	l.persist("task.submit")
	l.log.WithFields(logrus.Fields{"task_id": taskID, "caller": performerID}).Info("task submitted")
	return t, nil
}

// ApproveResult reports the transfer performed by ApproveTask.
type ApproveResult struct {
	Task            domain.Task
	CustomerBalance decimal.Decimal
	PerformerID     string
}

// ApproveTask accepts a submitted task: the owner pays the price to the
// performer and the task becomes done. The balance check runs after every
// other precondition; the debit and credit happen together or not at all.
func (l *Ledger) ApproveTask(customerID string, taskID int64) (ApproveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, err := l.findTaskLocked(taskID)
	if err != nil {
		return ApproveResult{}, err
	}
	t := l.tasks[i]
	if t.CustomerID != customerID {
		return ApproveResult{}, fmt.Errorf("%w: not the customer of task %d", ErrForbidden, taskID)
	}
	if t.Status != domain.StatusSubmitted {
		return ApproveResult{}, fmt.Errorf("%w: task %d is %s, not submitted", ErrInvalidState, taskID, t.Status)
	}
	if t.PerformerID == nil {
		return ApproveResult{}, fmt.Errorf("%w: task %d has no performer", ErrInvalidState, taskID)
	}
	customer := l.accountLocked(customerID)
	performer := l.accountLocked(*t.PerformerID)
	if customer.Balance.LessThan(t.Price) {
		return ApproveResult{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, t.Price.StringFixed(2), customer.Balance.StringFixed(2))
	}
	customer.Balance = customer.Balance.Sub(t.Price)
	performer.Balance = performer.Balance.Add(t.Price)
	l.accounts[customer.Identity] = customer
	l.accounts[performer.Identity] = performer
	t.Status = domain.StatusDone
	l.tasks[i] = t
	l.persist("task.approve")
	l.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"caller":    customerID,
		"performer": performer.Identity,
		"price":     t.Price.String(),
	}).Info("task approved and paid")
	return ApproveResult{Task: t, CustomerBalance: customer.Balance, PerformerID: performer.Identity}, nil
}

// CancelAsCustomer cancels the owner's task. Done tasks are frozen.
func (l *Ledger) CancelAsCustomer(customerID string, taskID int64) (domain.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelAsCustomerLocked(customerID, taskID)
}

func (l *Ledger) cancelAsCustomerLocked(customerID string, taskID int64) (domain.Task, error) {
	i, err := l.findTaskLocked(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	t := l.tasks[i]
	if t.CustomerID != customerID {
		return domain.Task{}, fmt.Errorf("%w: not the customer of task %d", ErrForbidden, taskID)
	}
	if t.Status == domain.StatusCancelled {
		// already cancelled; nothing to do
		return t, nil
	}
	if !canTransition(t.Status, domain.StatusCancelled) {
		return domain.Task{}, fmt.Errorf("%w: task %d is already done", ErrInvalidState, taskID)
	}
	t.Status = domain.StatusCancelled
	t.PerformerID = nil
	l.tasks[i] = t
	l.persist("task.cancel")
	l.log.WithFields(logrus.Fields{"task_id": taskID, "caller": customerID}).Info("task cancelled")
	return t, nil
}

// WithdrawAsPerformer releases the claimant's task back to the market:
// performer cleared, status open again.
func (l *Ledger) WithdrawAsPerformer(performerID string, taskID int64) (domain.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.withdrawAsPerformerLocked(performerID, taskID)
}

func (l *Ledger) withdrawAsPerformerLocked(performerID string, taskID int64) (domain.Task, error) {
	i, err := l.findTaskLocked(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	t := l.tasks[i]
	if t.PerformerID == nil || *t.PerformerID != performerID {
		return domain.Task{}, fmt.Errorf("%w: not the performer of task %d", ErrForbidden, taskID)
	}
	if !canTransition(t.Status, domain.StatusOpen) {
		return domain.Task{}, fmt.Errorf("%w: task %d is already done", ErrInvalidState, taskID)
	}
	t.PerformerID = nil
	t.Status = domain.StatusOpen
	l.tasks[i] = t
	l.persist("task.withdraw")
	l.log.WithFields(logrus.Fields{"task_id": taskID, "caller": performerID}).Info("performer withdrew, task reopened")
	return t, nil
}

// CancelOutcome says which side of CancelOrWithdraw applied.
type CancelOutcome struct {
	Task      domain.Task
	Withdrawn bool // true when the performer withdrew and the task reopened
}

// CancelOrWithdraw dispatches on the caller's role: owners cancel, claimants
// withdraw, anyone else is rejected. This is the single command the chat
// surface exposes for both paths.
func (l *Ledger) CancelOrWithdraw(callerID string, taskID int64) (CancelOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, err := l.findTaskLocked(taskID)
	if err != nil {
		return CancelOutcome{}, err
	}
	t := l.tasks[i]
	switch {
	case t.CustomerID == callerID:
		res, err := l.cancelAsCustomerLocked(callerID, taskID)
		return CancelOutcome{Task: res}, err
	case t.PerformerID != nil && *t.PerformerID == callerID:
		res, err := l.withdrawAsPerformerLocked(callerID, taskID)
		return CancelOutcome{Task: res, Withdrawn: true}, err
	default:
		return CancelOutcome{}, fmt.Errorf("%w: neither customer nor performer of task %d", ErrForbidden, taskID)
	}
}

// --- queries ---

// Market lists claimable tasks for callerID: open and not self-owned, in
// ledger insertion order.
func (l *Ledger) Market(callerID string) []domain.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Task
	for _, t := range l.tasks {
		if t.Status == domain.StatusOpen && t.CustomerID != callerID {
			out = append(out, t)
		}
	}
	return out
}

// TasksByCustomer lists tasks created by callerID.
func (l *Ledger) TasksByCustomer(callerID string) []domain.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Task
	for _, t := range l.tasks {
		if t.CustomerID == callerID {
			out = append(out, t)
		}
	}
	return out
}

// TasksByPerformer lists tasks currently claimed by callerID.
func (l *Ledger) TasksByPerformer(callerID string) []domain.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Task
	for _, t := range l.tasks {
		if t.PerformerID != nil && *t.PerformerID == callerID {
			out = append(out, t)
		}
	}
	return out
}

// Tasks returns every task in insertion order.
func (l *Ledger) Tasks() []domain.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// TaskByID returns one task.
func (l *Ledger) TaskByID(id int64) (domain.Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, err := l.findTaskLocked(id)
	if err != nil {
		return domain.Task{}, err
	}
	return l.tasks[i], nil
}
