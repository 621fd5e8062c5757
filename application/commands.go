package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Message is one inbound chat message, already stripped of transport details
type Message struct {
	UserID   string
	Username string
	Text     string
	IsGroup  bool
}

// WalletProvisioner creates personal custodial wallets
type WalletProvisioner interface {
	CreateWallet(ctx context.Context) (entities.EscrowAccount, error)
}

// CommandConfig holds the rendering and payout settings of the command surface
type CommandConfig struct {
	BotName     string
	NativeAsset string
	PayoutAsset string
	GasReserve  decimal.Decimal
}

// Commands turns chat messages into lifecycle operations and renders the result as text
type Commands struct {
	lifecycle interfaces.WagerLifecycleService
	users     interfaces.UserRepository
	wallets   WalletProvisioner
	ledger    interfaces.Ledger
	oracle    interfaces.Oracle
	cfg       CommandConfig
}

// NewCommands creates the command surface
func NewCommands(
	lifecycle interfaces.WagerLifecycleService,
	users interfaces.UserRepository,
	wallets WalletProvisioner,
	ledger interfaces.Ledger,
	oracle interfaces.Oracle,
	cfg CommandConfig,
) *Commands {
	if cfg.BotName == "" {
		cfg.BotName = "WagerBot"
	}
	return &Commands{
		lifecycle: lifecycle,
		users:     users,
		wallets:   wallets,
		ledger:    ledger,
		oracle:    oracle,
		cfg:       cfg,
	}
}

// HandleMessage dispatches a slash command or falls back to wager detection.
// An empty reply means the message needs no answer.
func (c *Commands) HandleMessage(ctx context.Context, msg Message) string {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return c.DetectWager(ctx, msg)
	}

	args := splitArgs(text)
	command, _, _ := strings.Cut(strings.TrimPrefix(args[0], "/"), "@")
	args = args[1:]

	log.WithFields(log.Fields{
		"command": command,
		"userID":  msg.UserID,
		"args":    len(args),
	}).Debug("Handling command")

	switch strings.ToLower(command) {
	case "start":
		return c.Start(ctx, msg)
	case "help":
		return c.Help()
	case "create_wager":
		return c.CreateWager(ctx, msg.UserID, args)
	case "join_wager":
		return c.JoinWager(ctx, msg.UserID, args)
	case "check_escrow":
		return c.CheckEscrow(ctx, args)
	case "set_outcome_time":
		return c.SetOutcomeTime(ctx, args)
	case "check_outcome":
		return c.CheckOutcome(ctx, msg.UserID, args)
	case "payout":
		return c.Payout(ctx, msg.UserID, args)
	case "my_wagers":
		return c.MyWagers(ctx, msg.UserID)
	default:
		return fmt.Sprintf("Unknown command /%s. Use /help to see what I can do.", command)
	}
}

// Start registers the user and provisions their wallet on first contact
func (c *Commands) Start(ctx context.Context, msg Message) string {
	greeting := fmt.Sprintf("Hi! I'm %s.\nI help you create and manage friendly wagers in this chat.\n\n"+
		"Type a message like:\n@%s Can you create a wager between me and @friend for 10 %s on who will win the match?\n"+
		"Or use /help for more commands.", c.cfg.BotName, c.cfg.BotName, c.cfg.PayoutAsset)

	user, err := c.users.GetByID(ctx, msg.UserID)
	if err != nil {
		return c.failure("start", err)
	}
	if user == nil {
		user = &entities.User{ID: msg.UserID, Username: msg.Username}
		if err := c.users.Create(ctx, user); err != nil && !errors.Is(err, domain.ErrValidation) {
			return c.failure("start", err)
		}
	}
	if user.HasWallet() {
		return greeting
	}

	wallet, err := c.wallets.CreateWallet(ctx)
	if err != nil {
		return c.failure("start", domain.CollaboratorError("ledger", err))
	}
	if err := c.users.UpdateWallet(ctx, msg.UserID, wallet.PublicIdentity, wallet.SigningRef); err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			return greeting
		}
		return c.failure("start", err)
	}

	return fmt.Sprintf("%s\n\nYour wallet has been created!\nAddress: %s\n\nPayouts can be sent to this address.",
		greeting, wallet.PublicIdentity)
}

// Help lists the available commands
func (c *Commands) Help() string {
	return strings.Join([]string{
		"Available commands:",
		"/start - Start the bot and create a wallet",
		"/help - Show this help message",
		"/create_wager <description> <amount> [asset] - Create a new wager",
		"/join_wager <wager_id> - Join an existing wager",
		"/check_escrow <wager_id> - Check escrow wallet status and balances",
		"/set_outcome_time <wager_id> <minutes> - Set when the outcome can be checked",
		"/check_outcome <wager_id> <outcome> - Verify the outcome and pick the winner",
		"/payout <wager_id> <address> - Pay the winnings to an address",
		"/my_wagers - View your wagers",
		"",
		"You can also just type your wager in natural language, and I'll help you create it!",
	}, "\n")
}

// CreateWager opens a wager with the caller as the first participant
func (c *Commands) CreateWager(ctx context.Context, userID string, args []string) string {
	args, claim := splitClaim(args)
	description, amount, asset, ok := c.parseCreateArgs(args)
	if !ok {
		return "Please provide a description and amount for the wager.\n" +
			"Example: /create_wager \"Will it rain tomorrow?\" 1 | it rains"
	}
	if !amount.IsPositive() {
		return "Please provide a valid amount greater than 0."
	}

	wager, err := c.lifecycle.Create(ctx, description, asset, amount, userID, claim)
	if err != nil {
		return c.failure("create_wager", err)
	}
	wager = c.assignDeadline(ctx, wager)

	return fmt.Sprintf("Wager created! ID: %s\nDescription: %s\nAmount: %s %s\n%s\n"+
		"Send your stake to the escrow address:\n%s\n%s\n"+
		"Use /join_wager %s <your claim> to join this wager.",
		wager.ID, wager.Description, wager.Stake().String(), wager.Asset, renderClaim(wager, userID),
		wager.Escrow.PublicIdentity, renderDeadline(wager), wager.ID)
}

// JoinWager enrolls the caller at the first participant's stake
func (c *Commands) JoinWager(ctx context.Context, userID string, args []string) string {
	if len(args) < 1 {
		return "Please provide a wager ID to join."
	}

	wager, err := c.lifecycle.Join(ctx, args[0], userID, strings.Join(args[1:], " "))
	if err != nil {
		return c.failure("join_wager", err)
	}

	reply := fmt.Sprintf("You have joined the wager!\nDescription: %s\nAmount: %s %s\nEscrow: %s\n%s",
		wager.Description, wager.Amounts[userID].String(), wager.Asset, wager.Escrow.PublicIdentity, renderClaim(wager, userID))
	if wager.Status == entities.WagerStatusActive {
		reply += "\nThe wager is now active."
	} else {
		reply += "\nThe wager activates once the escrow is funded."
	}
	return reply
}

// CheckEscrow renders the escrow balances against the required stake
func (c *Commands) CheckEscrow(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "Please provide a wager ID to check."
	}

	status, err := c.lifecycle.CheckEscrow(ctx, args[0])
	if err != nil {
		return c.failure("check_escrow", err)
	}

	wager := status.Wager
	var b strings.Builder
	fmt.Fprintf(&b, "Escrow Wallet Status for Wager: %s\nAddress: %s\n\nBalances:\n", wager.ID, wager.Escrow.PublicIdentity)
	for _, asset := range sortedAssets(status.Balances, c.cfg.NativeAsset) {
		fmt.Fprintf(&b, "- %s: %s\n", asset, status.Balances[asset].StringFixed(4))
	}
	fmt.Fprintf(&b, "\nRequired Amount: %s %s (%s per participant)\n", status.Required.String(), status.RequiredAsset, wager.Stake().String())
	if status.FullyFunded {
		b.WriteString("Funding: complete\n")
	} else {
		b.WriteString("Funding: incomplete\n")
	}
	fmt.Fprintf(&b, "\nStatus: %s", wager.Status)
	if wager.Deadline != nil {
		fmt.Fprintf(&b, "\nDeadline: %s", wager.Deadline.UTC().Format(time.RFC1123))
	}
	return b.String()
}

// SetOutcomeTime overwrites the deadline with now plus the given minutes
func (c *Commands) SetOutcomeTime(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "Please provide a wager ID and the number of minutes.\nExample: /set_outcome_time <wager_id> 30"
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes <= 0 {
		return "Please provide a valid number of minutes greater than 0."
	}

	wager, err := c.lifecycle.SetDeadline(ctx, args[0], minutes)
	if err != nil {
		return c.failure("set_outcome_time", err)
	}
	return fmt.Sprintf("Outcome time for wager %s set to %s.", wager.ID, wager.Deadline.UTC().Format(time.RFC1123))
}

// CheckOutcome verifies a claimed outcome through the oracle
func (c *Commands) CheckOutcome(ctx context.Context, userID string, args []string) string {
	if len(args) < 2 {
		return "Please provide a wager ID and the outcome.\nExample: /check_outcome <wager_id> It rained all day"
	}

	wagerID := args[0]
	result, err := c.lifecycle.Resolve(ctx, wagerID, strings.Join(args[1:], " "), userID)
	if err != nil {
		if errors.Is(err, domain.ErrAmbiguousOutcome) {
			return "The outcome was verified but it does not clearly favour any participant. Please describe who won."
		}
		return c.failure("check_outcome", err)
	}

	if !result.Verified {
		return fmt.Sprintf("The outcome could not be verified.\nConfidence: %.0f%%\n%s", result.Confidence*100, result.Explanation)
	}

	wager, err := c.lifecycle.GetWager(ctx, wagerID)
	if err != nil || wager.Winner == nil {
		return fmt.Sprintf("Outcome verified.\nConfidence: %.0f%%\n%s", result.Confidence*100, result.Explanation)
	}
	return fmt.Sprintf("Outcome verified! Winner: %s\nConfidence: %.0f%%\n%s\n\nThe winner can claim with /payout %s <address>.",
		*wager.Winner, result.Confidence*100, result.Explanation, wager.ID)
}

// Payout settles a completed wager to the winner's address
func (c *Commands) Payout(ctx context.Context, userID string, args []string) string {
	if len(args) < 2 {
		return "Please provide a wager ID and the payout address.\nExample: /payout <wager_id> 0x..."
	}

	wager, err := c.lifecycle.GetWager(ctx, args[0])
	if err != nil {
		return c.failure("payout", err)
	}
	if wager.Status != entities.WagerStatusCompleted || wager.Winner == nil {
		return c.failure("payout", domain.ErrNotCompleted)
	}
	if *wager.Winner != userID {
		return "Only the winner of this wager can request the payout."
	}

	amount, err := settlementAmount(ctx, c.ledger, wager, c.cfg.NativeAsset, c.cfg.GasReserve)
	if err != nil {
		return c.failure("payout", err)
	}

	receipt, err := c.lifecycle.Settle(ctx, wager.ID, args[1], amount)
	if err != nil {
		return c.failure("payout", err)
	}
	return renderReceipt(receipt, c.cfg.PayoutAsset)
}

// MyWagers lists the caller's recent wagers
func (c *Commands) MyWagers(ctx context.Context, userID string) string {
	wagers, err := c.lifecycle.ListForParticipant(ctx, userID)
	if err != nil {
		return c.failure("my_wagers", err)
	}
	if len(wagers) == 0 {
		return "You have no wagers yet. Use /create_wager to start one."
	}

	var b strings.Builder
	b.WriteString("Your wagers:\n")
	for _, w := range wagers {
		fmt.Fprintf(&b, "\n%s [%s]\n%s\n%s %s", w.ID, w.Status, w.Description, w.Stake().String(), w.Asset)
		if w.Winner != nil {
			fmt.Fprintf(&b, " - winner: %s", *w.Winner)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// DetectWager creates a wager from natural language when the oracle recognises one.
// In group chats the bot must be mentioned.
func (c *Commands) DetectWager(ctx context.Context, msg Message) string {
	detection, err := c.oracle.ClassifyWager(ctx, msg.Text)
	if err != nil {
		log.WithFields(log.Fields{
			"userID": msg.UserID,
			"error":  err,
		}).Warn("Wager detection failed, treating message as not a wager")
		return ""
	}
	if detection == nil || !detection.IsWager || (msg.IsGroup && !detection.BotMentioned) {
		return ""
	}

	if detection.Description == "" || !detection.Amount.IsPositive() || detection.Asset == "" {
		return "I detected a potential wager, but couldn't understand all the details. " +
			"Please use /create_wager command to create a wager."
	}

	wager, err := c.lifecycle.Create(ctx, detection.Description, detection.Asset, detection.Amount, msg.UserID, "")
	if err != nil {
		return c.failure("detect_wager", err)
	}
	wager = c.assignDeadline(ctx, wager)

	participants := detection.Participants
	if len(participants) == 0 {
		participants = []string{msg.UserID}
	}

	return fmt.Sprintf("I detected a potential wager!\n\nDescription: %s\nAmount: %s %s\nParticipants: %s\n\n"+
		"Send your funds to the escrow address below to join:\n%s\n%s\n"+
		"Use /join_wager %s <your claim> after sending your funds.\n\n"+
		"Use /check_escrow %s to check the status of funds in the escrow wallet.",
		wager.Description, wager.Stake().String(), wager.Asset, strings.Join(participants, ", "),
		wager.Escrow.PublicIdentity, renderDeadline(wager), wager.ID, wager.ID)
}

// assignDeadline derives the deadline after creation; a failure leaves the wager without one
func (c *Commands) assignDeadline(ctx context.Context, wager *entities.Wager) *entities.Wager {
	updated, err := c.lifecycle.AssignDeadline(ctx, wager.ID)
	if err != nil {
		log.WithFields(log.Fields{
			"wagerID": wager.ID,
			"error":   err,
		}).Warn("Failed to assign deadline to new wager")
		return wager
	}
	return updated
}

// parseCreateArgs accepts "<description...> <amount> [asset]"
func (c *Commands) parseCreateArgs(args []string) (string, decimal.Decimal, string, bool) {
	if len(args) < 2 {
		return "", decimal.Zero, "", false
	}

	last := args[len(args)-1]
	if amount, err := decimal.NewFromString(last); err == nil {
		return strings.Join(args[:len(args)-1], " "), amount, c.cfg.NativeAsset, true
	}
	if len(args) < 3 {
		return "", decimal.Zero, "", false
	}
	amount, err := decimal.NewFromString(args[len(args)-2])
	if err != nil {
		return "", decimal.Zero, "", false
	}
	return strings.Join(args[:len(args)-2], " "), amount, strings.ToUpper(last), true
}

// failure renders an error for the user and logs anything unexpected
func (c *Commands) failure(command string, err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "Invalid input: " + strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	case errors.Is(err, domain.ErrNotFound):
		return "Wager not found."
	case errors.Is(err, domain.ErrNotJoinable):
		return "This wager is no longer accepting participants."
	case errors.Is(err, domain.ErrAlreadyParticipant):
		return "You are already a participant in this wager."
	case errors.Is(err, domain.ErrNotActive):
		return "This wager is not active."
	case errors.Is(err, domain.ErrNotCompleted):
		return "This wager has not been completed yet."
	case errors.Is(err, domain.ErrDeadlineNotReached):
		return "The outcome time for this wager has not been reached yet."
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return "This wager is already closed."
	case errors.Is(err, domain.ErrInvalidTransition):
		return "That action is not possible for this wager right now."
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrConcurrentUpdate):
		return "This wager is being updated by someone else. Please try again in a moment."
	}

	log.WithFields(log.Fields{
		"command": command,
		"error":   err,
	}).Error("Command failed")

	if errors.Is(err, domain.ErrCollaborator) {
		return "An external service is unavailable right now. Please try again later."
	}
	return "Something went wrong. Please try again later."
}

// settlementAmount reuses the recorded amount of a settlement in progress.
// Otherwise it is what the escrow can pay out, see payableAmount.
func settlementAmount(ctx context.Context, ledger interfaces.Ledger, wager *entities.Wager, nativeAsset string, reserve decimal.Decimal) (decimal.Decimal, error) {
	if s := wager.Settlement; s != nil && s.State != entities.SettlementStateNotStarted {
		return s.NativeAmount, nil
	}
	return payableAmount(ctx, ledger, wager, nativeAsset, reserve)
}

// payableAmount is the escrow balance in the stake asset. Native stakes keep the
// reserve back for transaction fees; token stakes are paid in full.
func payableAmount(ctx context.Context, ledger interfaces.Ledger, wager *entities.Wager, nativeAsset string, reserve decimal.Decimal) (decimal.Decimal, error) {
	if !strings.EqualFold(wager.Asset, nativeAsset) {
		balance, err := ledger.GetTokenBalance(ctx, wager.Escrow.PublicIdentity, wager.Asset)
		if errors.Is(err, domain.ErrAccountNotFound) {
			balance, err = decimal.Zero, nil
		}
		if err != nil {
			return decimal.Zero, domain.CollaboratorError("ledger", err)
		}
		if !balance.IsPositive() {
			return decimal.Zero, domain.Validationf("escrow holds no %s to pay out", wager.Asset)
		}
		return balance, nil
	}

	balance, err := ledger.GetBalance(ctx, wager.Escrow.PublicIdentity)
	if err != nil {
		return decimal.Zero, domain.CollaboratorError("ledger", err)
	}
	amount := balance.Sub(reserve)
	if !amount.IsPositive() {
		return decimal.Zero, domain.Validationf("escrow balance %s does not cover the fee reserve %s", balance.String(), reserve.String())
	}
	return amount, nil
}

func renderClaim(wager *entities.Wager, participant string) string {
	if claim := wager.Claim(participant); claim != "" {
		return fmt.Sprintf("Your claim: %s\n", claim)
	}
	return ""
}

func renderDeadline(wager *entities.Wager) string {
	if wager.Deadline == nil {
		return ""
	}
	if wager.DeadlineManual {
		return fmt.Sprintf("\nThe outcome needs a manual check. Use /check_outcome %s <outcome> once it is known (default window ends %s).\n",
			wager.ID, wager.Deadline.UTC().Format(time.RFC1123))
	}
	return fmt.Sprintf("\nThe outcome will be checked at %s.\n", wager.Deadline.UTC().Format(time.RFC1123))
}

func renderReceipt(receipt *entities.SettlementReceipt, payoutAsset string) string {
	reply := fmt.Sprintf("Payout complete!\nSent %s %s to %s\nTransaction: %s",
		receipt.Conversion.ToAmount.String(), payoutAsset, receipt.Destination, receipt.PayoutSignature)
	if receipt.Conversion.Mock {
		reply += "\n\nNote: the conversion provider was unavailable in this region, the conversion was simulated."
	}
	return reply
}

// sortedAssets lists the native asset first, then the rest alphabetically
func sortedAssets(balances map[string]decimal.Decimal, native string) []string {
	assets := make([]string, 0, len(balances))
	if _, ok := balances[native]; ok {
		assets = append(assets, native)
	}
	rest := make([]string, 0, len(balances))
	for asset := range balances {
		if asset != native {
			rest = append(rest, asset)
		}
	}
	slices.Sort(rest)
	return append(assets, rest...)
}

// splitClaim separates a trailing "| <claim>" from the other arguments
func splitClaim(args []string) ([]string, string) {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "|") {
			continue
		}
		rest := append([]string{strings.TrimPrefix(arg, "|")}, args[i+1:]...)
		return args[:i], strings.TrimSpace(strings.Join(rest, " "))
	}
	return args, ""
}

// splitArgs splits on whitespace, keeping double-quoted phrases together
func splitArgs(text string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false

	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case r == '"' || r == '“' || r == '”':
			if inQuotes {
				args = append(args, current.String())
				current.Reset()
			} else {
				flush()
			}
			inQuotes = !inQuotes
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return args
}
