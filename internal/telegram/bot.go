// Package telegram exposes day menus and phase calendars over a Telegram bot webhook.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ikonga-nutrition/internal/access"
	"ikonga-nutrition/internal/config"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/metrics"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/resolver"
	"ikonga-nutrition/internal/shared"
	"ikonga-nutrition/internal/shopping"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const requestTimeout = 2 * time.Minute

// DayResolver resolves the effective content of a day.
type DayResolver interface {
	ResolveDayContent(ctx context.Context, userID string, date time.Time) resolver.Result
}

// PhaseLister returns a user's current calendar.
type PhaseLister interface {
	Current(ctx context.Context, userID string) ([]phase.Phase, error)
}

// ShoppingLists builds the shopping list of a planned week.
type ShoppingLists interface {
	Build(ctx context.Context, userID string, date time.Time) (*shopping.List, error)
}

// UsageReporter aggregates LLM usage per day.
type UsageReporter interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

// Bot wraps the Telegram API and the content resolver.
type Bot struct {
	api      *tgbotapi.BotAPI
	resolver DayResolver
	calendar PhaseLister
	lists    ShoppingLists
	usage    UsageReporter
	recipes  metrics.RecipeCounter
	cfg      *config.Config
	log      *logger.Logger
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, r DayResolver, calendar PhaseLister, lists ShoppingLists, usage UsageReporter, recipes metrics.RecipeCounter, log *logger.Logger) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Info("telegram bot authorized", "account", bot.Self.UserName)

	webhookURL := cfg.TelegramWebhookURL
	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook for %s: %w", webhookURL, err)
	}
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
	}
	log.Info("webhook set", "response", resp.Description)

	return &Bot{
		api:      bot,
		resolver: r,
		calendar: calendar,
		lists:    lists,
		usage:    usage,
		recipes:  recipes,
		cfg:      cfg,
		log:      log,
	}, nil
}

// RegisterHandlers registers the webhook handler on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.log.Warn("error parsing update", "error", err)
		return
	}

	if update.Message == nil || update.Message.From == nil {
		return
	}

	if !isAllowed(b.cfg.TelegramAllowedUserIDs, update.Message.From.ID) {
		b.log.Warn("unauthorized access attempt", "telegram_id", update.Message.From.ID, "username", update.Message.From.UserName)
		return
	}

	go b.processMessage(update.Message)
}

func isAllowed(allowed []int64, id int64) bool {
	for _, a := range allowed {
		if a == id {
			return true
		}
	}
	return false
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch msg.Command() {
	case "metrics":
		b.handleMetricsRequest(ctx, msg)
	case "phase":
		b.handlePhaseRequest(ctx, msg)
	case "menu":
		b.handleMenuRequest(ctx, msg)
	case "shopping":
		b.handleShoppingRequest(ctx, msg)
	default:
		b.send(msg.Chat.ID, helpText)
	}
}

const helpText = "🥗 *Commands*\n\n" +
	"/menu `[YYYY-MM-DD]` show the menu of a day\n" +
	"/shopping `[YYYY-MM-DD]` show the shopping list of a week\n" +
	"/phase show your program calendar"

// userID maps a Telegram account to a program user.
func userID(from *tgbotapi.User) string {
	return fmt.Sprintf("%d", from.ID)
}

func (b *Bot) handleMenuRequest(ctx context.Context, msg *tgbotapi.Message) {
	date, err := parseMenuDate(msg.CommandArguments(), time.Now(), b.cfg.ProgramTimezone)
	if err != nil {
		b.send(msg.Chat.ID, "❌ Use /menu or /menu `YYYY-MM-DD`.")
		return
	}

	sent, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "🧑‍🍳 Preparing your menu..."))
	if err != nil {
		b.log.Warn("failed to send initial reply", "error", err)
		return
	}

	uid := userID(msg.From)
	res := b.resolver.ResolveDayContent(ctx, uid, date)

	var text string
	switch v := res.(type) {
	case resolver.Resolved:
		text = formatMenu(v)
	case resolver.Locked:
		text = formatLocked(v, b.cfg.ProgramTimezone)
	case resolver.Unavailable:
		text = formatUnavailable(v)
		if v.Kind == resolver.KindConfiguration {
			b.sendAdminAlert(fmt.Sprintf("⚠️ *Configuration problem*\nUser: %s\nDate: %s\n%s", uid, shared.FormatDate(date), v.Reason))
		}
	}

	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sent.MessageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("failed to send menu", "user_id", uid, "error", err)
	}
}

func (b *Bot) handleShoppingRequest(ctx context.Context, msg *tgbotapi.Message) {
	date, err := parseMenuDate(msg.CommandArguments(), time.Now(), b.cfg.ProgramTimezone)
	if err != nil {
		b.send(msg.Chat.ID, "❌ Use /shopping or /shopping `YYYY-MM-DD`.")
		return
	}
	list, err := b.lists.Build(ctx, userID(msg.From), date)
	if errors.Is(err, shared.ErrNotFound) {
		b.send(msg.Chat.ID, "📭 This week has no menu yet. Ask for a /menu first.")
		return
	}
	if err != nil {
		b.log.Error("failed to build shopping list", "user_id", userID(msg.From), "error", err)
		b.send(msg.Chat.ID, "❌ Error building your shopping list.")
		return
	}
	b.send(msg.Chat.ID, formatShoppingList(list))
}

func (b *Bot) handlePhaseRequest(ctx context.Context, msg *tgbotapi.Message) {
	phases, err := b.calendar.Current(ctx, userID(msg.From))
	if err != nil {
		b.log.Error("failed to load calendar", "user_id", userID(msg.From), "error", err)
		b.send(msg.Chat.ID, "❌ Error loading your calendar.")
		return
	}
	b.send(msg.Chat.ID, formatPhases(phases))
}

func (b *Bot) handleMetricsRequest(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.AdminTelegramID {
		b.send(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
		return
	}

	usage, err := b.usage.GetDailyUsage(ctx, 7)
	if err != nil {
		b.log.Error("failed to fetch usage", "error", err)
		b.send(msg.Chat.ID, "❌ Error fetching metrics.")
		return
	}
	health, err := metrics.CollectHealth(ctx, b.cfg.DatabasePath, b.recipes)
	if err != nil {
		b.log.Warn("failed to collect health", "error", err)
	}
	b.send(msg.Chat.ID, formatMetrics(usage, health))
}

func (b *Bot) send(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(m); err != nil {
		b.log.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendAdminAlert(text string) {
	if b.cfg.AdminTelegramID == 0 {
		return
	}
	b.send(b.cfg.AdminTelegramID, text)
}

// parseMenuDate reads an optional YYYY-MM-DD argument, defaulting to today in loc.
func parseMenuDate(arg string, now time.Time, loc *time.Location) (time.Time, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return shared.DateIn(now, loc), nil
	}
	return shared.ParseDate(arg)
}

func formatMenu(r resolver.Resolved) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 *%s* (%s)\n", r.Date.Format("Monday 02 Jan"), r.Phase)
	if r.Source == resolver.SourceUser {
		sb.WriteString("_Your own menu_\n")
	}
	sb.WriteString("\n")

	for _, meal := range r.Menu.Meals {
		fmt.Fprintf(&sb, "*%s*\n", meal.Slot)
		for _, d := range meal.Dishes {
			sb.WriteString("• " + d.Name)
			if d.Recipe != nil {
				if d.Recipe.PrepTime != "" {
					fmt.Fprintf(&sb, " (%s)", d.Recipe.PrepTime)
				}
				if d.Recipe.Macros.Calories > 0 {
					fmt.Fprintf(&sb, " %d kcal", d.Recipe.Macros.Calories)
				}
			}
			sb.WriteString("\n")
		}
		if meal.Notes != "" {
			fmt.Fprintf(&sb, "_%s_\n", meal.Notes)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatLocked(l resolver.Locked, loc *time.Location) string {
	if l.Reason == access.ReasonBeyondEntitlement || l.UnlockAt.IsZero() {
		return "🔒 This day is outside your program."
	}
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("🔒 This menu unlocks on *%s*.", l.UnlockAt.In(loc).Format("Mon 02 Jan 15:04"))
}

func formatUnavailable(u resolver.Unavailable) string {
	switch u.Kind {
	case resolver.KindNoProgram:
		return "📭 You have no active program yet."
	case resolver.KindUserAuthoredWeek:
		return "✍️ You planned this week yourself and this day has no menu."
	}
	if u.Retryable() {
		return "⏳ Your menu is being prepared, try again in a minute."
	}
	return "❌ Your menu cannot be prepared right now."
}

func formatPhases(phases []phase.Phase) string {
	if len(phases) == 0 {
		return "📭 You have no program calendar yet."
	}
	var sb strings.Builder
	sb.WriteString("🗓 *Your Program*\n\n")
	for _, p := range phases {
		marker := "•"
		if p.IsActive {
			marker = "▶️"
		}
		end := "open"
		if p.PlannedEndDate != nil {
			end = shared.FormatDate(*p.PlannedEndDate)
		}
		fmt.Fprintf(&sb, "%s *%s*: %s → %s\n", marker, p.Type, shared.FormatDate(p.StartDate), end)
	}
	return sb.String()
}

func formatShoppingList(list *shopping.List) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🛒 *Shopping List* (week of %s)\n\n", shared.FormatDate(list.WeekStart))
	if len(list.Items) == 0 {
		sb.WriteString("_Nothing yet_\n")
	}
	for _, item := range list.Items {
		fmt.Fprintf(&sb, "• %s\n", item.Ingredient)
	}
	if len(list.MissingRecipes) > 0 {
		fmt.Fprintf(&sb, "\n_Recipes not ready yet: %s_\n", strings.Join(list.MissingRecipes, ", "))
	}
	return sb.String()
}

func formatMetrics(usage []metrics.DailyUsage, health metrics.Health) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution)
	}

	sb.WriteString("\n🧠 *System Health*\n")
	fmt.Fprintf(&sb, "• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&sb, "• Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&sb, "• Database: %s\n", metrics.FormatBytes(health.DatabaseBytes))
	fmt.Fprintf(&sb, "• Cached recipes: %d\n", health.CachedRecipes)
	return sb.String()
}
