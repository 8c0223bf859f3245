// Package bot implements the chat command surface: a transport-free
// dispatcher that maps command text to ledger operations, and a thin
// Telegram long-poll wrapper around it.
package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ryazanovegor/oliva-space/internal/domain"
	"github.com/ryazanovegor/oliva-space/internal/ledger"
)

// Dispatcher turns one command message into one reply string. It holds no
// state of its own; all state lives in the ledger.
type Dispatcher struct {
	Ledger   *ledger.Ledger
	PanelURL string
	Log      *logrus.Logger
}

func NewDispatcher(l *ledger.Ledger, panelURL string, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{Ledger: l, PanelURL: panelURL, Log: log}
}

const helpText = `Oliva Space commands:
/balance - show your balance
/deposit <amount> - top up your balance (virtual currency)
/newtask <price> <text> - post a task to the market
/market - list tasks you can take
/take <id> - claim a task as performer
/mytasks - tasks you posted
/myworks - tasks you are working on
/submit <id> - send your task for review
/approve <id> - accept a submitted task and pay the performer
/canceltask <id> - cancel your task, or step back from one you took
/panel - link to the web panel`

// Dispatch handles one message from caller and returns the reply text. The
// message may or may not be a /command; anything unrecognized gets the help.
func (d *Dispatcher) Dispatch(caller, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "Use /help for the list of commands."
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// telegram appends @botname in group chats
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	d.Log.WithFields(logrus.Fields{"caller": caller, "command": cmd}).Debug("dispatch")

	switch cmd {
	case "start":
		return "Welcome to Oliva Space. Post tasks, take tasks, get paid in virtual currency.\n\n" + helpText
	case "help":
		return helpText
	case "panel":
		if d.PanelURL == "" {
			return "The web panel is not configured."
		}
		return "Open the Oliva Space panel here: " + d.PanelURL
	case "balance":
		return d.balance(caller)
	case "deposit":
		return d.deposit(caller, args)
	case "newtask":
		return d.newTask(caller, args)
	case "market":
		return d.market(caller)
	case "take":
		return d.take(caller, args)
	case "mytasks":
		return d.myTasks(caller)
	case "myworks":
		return d.myWorks(caller)
	case "submit":
		return d.submit(caller, args)
	case "approve":
		return d.approve(caller, args)
	case "canceltask":
		return d.cancelTask(caller, args)
	default:
		return "Unknown command.\n\n" + helpText
	}
}

func (d *Dispatcher) balance(caller string) string {
	acc, err := d.Ledger.GetOrCreateAccount(caller)
	if err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("Your balance: %s (virtual currency)", acc.Balance.StringFixed(2))
}

func (d *Dispatcher) deposit(caller string, args []string) string {
	if len(args) != 1 {
		return "Usage: /deposit <amount>\nExample: /deposit 150"
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return "The amount must be a positive number. Example: /deposit 150"
	}
	acc, err := d.Ledger.Deposit(caller, amount)
	if err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("Balance topped up by %s.\nYour balance: %s", amount.StringFixed(2), acc.Balance.StringFixed(2))
}

func (d *Dispatcher) newTask(caller string, args []string) string {
	if len(args) < 2 {
		return "Usage: /newtask <price> <task text>\nExample: /newtask 150 Write a short post about space"
	}
	price, err := parseAmount(args[0])
	if err != nil {
		return "The price must be a positive number. Example: /newtask 150 Task text"
	}
	text := strings.Join(args[1:], " ")
	t, err := d.Ledger.CreateTask(caller, price, text)
	if err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("Task #%d posted to the market for %s.\n%s\n\nPerformers will see it in /market.", t.ID, t.Price.StringFixed(2), t.Text)
}

func (d *Dispatcher) market(caller string) string {
	tasks := d.Ledger.Market(caller)
	if len(tasks) == 0 {
		return "No tasks on the market right now."
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("#%d for %s\n%s\nTake it: /take %d", t.ID, t.Price.StringFixed(2), t.Text, t.ID))
	}
	return "Tasks on the market:\n\n" + strings.Join(lines, "\n\n")
}

func (d *Dispatcher) take(caller string, args []string) string {
	id, msg := parseID(args, "/take")
	if msg != "" {
		return msg
	}
	t, err := d.Ledger.ClaimTask(caller, id)
	if err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("You took task #%d for %s.\n%s\n\nWhen done, send it for review: /submit %d", t.ID, t.Price.StringFixed(2), t.Text, t.ID)
}

func (d *Dispatcher) myTasks(caller string) string {
	tasks := d.Ledger.TasksByCustomer(caller)
	if len(tasks) == 0 {
		return "You have not posted any tasks yet. Use /newtask."
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		line := fmt.Sprintf("#%d [%s] for %s\n%s", t.ID, statusLabel(t.Status), t.Price.StringFixed(2), t.Text)
		if t.Status == domain.StatusSubmitted {
			line += fmt.Sprintf("\nReview it: /approve %d", t.ID)
		}
		lines = append(lines, line)
	}
	return "Your tasks as customer:\n\n" + strings.Join(lines, "\n\n")
}

func (d *Dispatcher) myWorks(caller string) string {
	tasks := d.Ledger.TasksByPerformer(caller)
	if len(tasks) == 0 {
		return "You have no tasks in progress. Check /market."
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		line := fmt.Sprintf("#%d [%s] for %s\n%s", t.ID, statusLabel(t.Status), t.Price.StringFixed(2), t.Text)
		if t.Status == domain.StatusInProgress {
			line += fmt.Sprintf("\nSend for review: /submit %d", t.ID)
		}
		lines = append(lines, line)
	}
	return "Your tasks as performer:\n\n" + strings.Join(lines, "\n\n")
}

func (d *Dispatcher) submit(caller string, args []string) string {
	id, msg := parseID(args, "/submit")
	if msg != "" {
		return msg
	}
	t, err := d.Ledger.SubmitTask(caller, id)
	if err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("Task #%d sent for review. The customer will check it with /approve %d.", t.ID, t.ID)
}

func (d *Dispatcher) approve(caller string, args []string) string {
	id, msg := parseID(args, "/approve")
	if msg != "" {
		return msg
	}
	res, err := d.Ledger.ApproveTask(caller, id)
	if err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("Task #%d approved. %s paid to the performer.\nYour balance: %s",
		res.Task.ID, res.Task.Price.StringFixed(2), res.CustomerBalance.StringFixed(2))
}

func (d *Dispatcher) cancelTask(caller string, args []string) string {
	id, msg := parseID(args, "/canceltask")
	if msg != "" {
		return msg
	}
	out, err := d.Ledger.CancelOrWithdraw(caller, id)
	if err != nil {
		return replyError(err)
	}
	if out.Withdrawn {
		return fmt.Sprintf("You stepped back from task #%d. It is open on the market again.", out.Task.ID)
	}
	return fmt.Sprintf("You cancelled task #%d.", out.Task.ID)
}

// parseAmount accepts both decimal separators, so "12,50" and "12.50" read
// the same.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseID(args []string, usage string) (int64, string) {
	if len(args) != 1 {
		return 0, fmt.Sprintf("Usage: %s <task id>\nExample: %s 1", usage, usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Sprintf("The task id must be a number. Example: %s 1", usage)
	}
	return id, ""
}

func statusLabel(s domain.Status) string {
	switch s {
	case domain.StatusOpen:
		return "open"
	case domain.StatusInProgress:
		return "in progress"
	case domain.StatusSubmitted:
		return "on review"
	case domain.StatusCancelled:
		return "cancelled"
	case domain.StatusDone:
		return "done"
	}
	return string(s)
}

func replyError(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return "Task not found."
	case errors.Is(err, ledger.ErrForbidden):
		return "You cannot do that: " + trimKind(err)
	case errors.Is(err, ledger.ErrInvalidState):
		return "The task is in the wrong state: " + trimKind(err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "Not enough funds: " + trimKind(err) + "\nTop up with /deposit."
	case errors.Is(err, ledger.ErrInvalidInput):
		return "Bad input: " + trimKind(err)
	}
	return "Something went wrong, try again."
}

// trimKind strips the sentinel prefix so replies read as plain sentences.
func trimKind(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
