// Package assistant is the per-message orchestrator: classify, resolve the
// account, invoke the matching capability, produce a reply. It keeps no state
// of its own between messages; everything durable lives in the ledger.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/suspectuso/ton-assistant/internal/billing"
	"github.com/suspectuso/ton-assistant/internal/intent"
	"github.com/suspectuso/ton-assistant/internal/ledger"
)

// Answerer is the AI collaborator for paid queries
type Answerer interface {
	Answer(ctx context.Context, text string) (answer string, tokensUsed int, err error)
}

// Config bounds inputs and deposits
type Config struct {
	ServiceWallet string // friendly format, shown in deposit instructions
	MaxInputChars int
	MinDeposit    int64 // nanoTON
	MaxDeposit    int64 // nanoTON
	AITimeout     time.Duration
	HistoryLimit  int
}

// Assistant handles one inbound message at a time per account; per-account
// serialization is enforced by the ledger operations themselves, so no lock
// is held across the AI call.
type Assistant struct {
	store  *ledger.Store
	engine *billing.Engine
	router *intent.Router
	ai     Answerer
	cfg    Config
	log    *slog.Logger
}

// New creates an assistant
func New(store *ledger.Store, engine *billing.Engine, router *intent.Router, ai Answerer, cfg Config, log *slog.Logger) *Assistant {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Assistant{
		store:  store,
		engine: engine,
		router: router,
		ai:     ai,
		cfg:    cfg,
		log:    log,
	}
}

// Handle processes one inbound message and returns the reply text. Every
// outcome, including failures, becomes a user-facing reply; nothing panics
// the caller.
func (a *Assistant) Handle(ctx context.Context, accountID, text string) string {
	text = strings.TrimSpace(text)

	if a.cfg.MaxInputChars > 0 && len(text) > a.cfg.MaxInputChars {
		return fmt.Sprintf(
			"Your message is too long (%d characters). Please keep it under %d characters.",
			len(text), a.cfg.MaxInputChars,
		)
	}

	label := a.router.Classify(ctx, text)
	a.log.Info("message routed", "account_id", accountID, "intent", label)

	switch label {
	case intent.TopUp:
		return a.handleTopUp(accountID, text)
	case intent.BalanceQuery:
		return a.handleBalance(accountID)
	case intent.UsageHistory:
		return a.handleHistory(accountID)
	case intent.Help:
		return HelpText()
	default:
		return a.handleQuery(ctx, accountID, text)
	}
}

// --- Top-up ---

func (a *Assistant) handleTopUp(accountID, text string) string {
	amount, err := ParseTONAmount(text)
	if err != nil {
		return "Couldn't read that amount. Try something like \"top up 1 TON\"."
	}

	if amount > 0 && (amount < a.cfg.MinDeposit || amount > a.cfg.MaxDeposit) {
		return fmt.Sprintf(
			"Top-up amount must be between %s and %s TON.",
			FormatTON(a.cfg.MinDeposit), FormatTON(a.cfg.MaxDeposit),
		)
	}

	dep, err := a.store.CreateDeposit(accountID, amount, a.cfg.ServiceWallet)
	if err != nil {
		a.log.Error("create deposit", "account_id", accountID, "error", err)
		return "Sorry, something went wrong creating your deposit. Please try again later."
	}

	a.log.Info("deposit request created",
		"account_id", accountID,
		"deposit_id", dep.ID,
		"requested", dep.RequestedAmount,
	)

	if dep.ExpectedAmount > 0 {
		return fmt.Sprintf(
			"Deposit instructions\n\n"+
				"Send exactly %s TON to:\n%s\n\n"+
				"The exact amount identifies your payment, so don't round it. "+
				"Your balance is credited automatically once the transfer confirms.",
			FormatTON(dep.ExpectedAmount), a.cfg.ServiceWallet,
		)
	}

	return fmt.Sprintf(
		"Deposit instructions\n\n"+
			"Send any amount of TON to:\n%s\n\n"+
			"Include this code in the transfer comment:\n%s\n\n"+
			"Your balance is credited automatically once the transfer confirms.",
		a.cfg.ServiceWallet, dep.Code,
	)
}

// --- Balance & history ---

func (a *Assistant) handleBalance(accountID string) string {
	balance := a.store.Balance(accountID)
	spent, queries := a.store.UsageTotals(accountID)

	reply := fmt.Sprintf(
		"Account summary\n\n"+
			"Balance: %s TON\n"+
			"Total spent: %s TON\n"+
			"Queries: %d",
		FormatTON(balance), FormatTON(spent), queries,
	)

	if balance == 0 {
		reply += "\n\nYour balance is empty. Send \"top up 1 TON\" to add funds."
	}
	return reply
}

func (a *Assistant) handleHistory(accountID string) string {
	entries := a.store.UsageHistory(accountID, a.cfg.HistoryLimit)
	if len(entries) == 0 {
		return "No usage yet. Ask me anything to get started."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent usage (last %d)\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "\n%d. %s — %s TON (%d tokens)",
			i+1, e.Timestamp.Format("Jan 02 15:04"), FormatTON(e.CostCharged), e.TokensConsumed)
	}
	return b.String()
}

// --- Paid AI query ---

func (a *Assistant) handleQuery(ctx context.Context, accountID, text string) string {
	if text == "" {
		return HelpText()
	}

	res, err := a.engine.Reserve(accountID, len(text))
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Sprintf(
			"Insufficient balance.\n\n"+
				"Your balance: %s TON\n\n"+
				"Send \"top up 1 TON\" to add funds.",
			FormatTON(a.store.Balance(accountID)),
		)
	}
	if err != nil {
		a.log.Error("reserve", "account_id", accountID, "error", err)
		return "Sorry, something went wrong. Please try again later."
	}

	aiCtx := ctx
	if a.cfg.AITimeout > 0 {
		var cancel context.CancelFunc
		aiCtx, cancel = context.WithTimeout(ctx, a.cfg.AITimeout)
		defer cancel()
	}

	answer, tokens, err := a.ai.Answer(aiCtx, text)
	if err != nil {
		a.engine.Cancel(res)
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("ai answer timed out", "account_id", accountID)
			return "That took too long to answer. You were not charged; please try again."
		}
		a.log.Error("ai answer", "account_id", accountID, "error", err)
		return "The AI service is unavailable right now. You were not charged; please try again later."
	}

	charge, err := a.engine.Settle(res, tokens, billing.QueryDigest(text))
	if err != nil {
		a.log.Error("settle", "account_id", accountID, "error", err)
		return answer
	}
	if charge.Unrecovered {
		// Answer already produced; deliver it and leave the charge for
		// manual reconciliation.
		return answer
	}

	return fmt.Sprintf("%s\n\nCost: %s TON | Balance: %s TON",
		answer, FormatTON(charge.Cost), FormatTON(charge.NewBalance))
}

// HelpText is the static help reply
func HelpText() string {
	return "TON Assistant — pay-per-question AI\n\n" +
		"Account:\n" +
		"• \"balance\" — check your balance\n" +
		"• \"top up 1 TON\" — add funds\n" +
		"• \"history\" — recent usage\n\n" +
		"Everything else is treated as a question for the AI. " +
		"Each answer costs a fraction of a TON, charged from your balance by actual token usage."
}
