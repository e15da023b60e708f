package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/logger"
)

type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

// NotifyTrade reports an executed trade. HOLD records are not sent.
func (n *Notifier) NotifyTrade(t domain.TradeRecord) {
	if t.Action == domain.ActionHold {
		return
	}
	n.send(FormatTrade(t))
}

func (n *Notifier) NotifyError(context string, err error) {
	n.send(fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err))
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func FormatTrade(t domain.TradeRecord) string {
	switch t.Action {
	case domain.ActionFailed:
		return fmt.Sprintf("⚠️ *FAILED* %s\nAmount: %.4f\n%s", t.RequestedAction, t.Amount, t.Reason)
	case domain.ActionCloseLong, domain.ActionCloseShort:
		emoji := "🔴"
		if t.StrategyPnl > 0 {
			emoji = "💰"
		}
		return fmt.Sprintf("%s *%s* @ %.4f\nP&L: %+.4f (strategy %+.4f)\n%s",
			emoji, t.Action, t.Price, t.RealizedPnl, t.StrategyPnl, t.Reason)
	case domain.ActionOpenLong, domain.ActionOpenShort:
		return fmt.Sprintf("🟢 *%s* %.2f USD @ %.4f\nConfidence: %d (%s)\n%s",
			t.Action, t.Amount, t.Price, t.Confidence, t.Source, t.Reason)
	}
	return fmt.Sprintf("🔁 *%s* %.4f\nAgent: %.4f / Treasury: %.4f\n%s",
		t.Action, t.Amount, t.Balances.Agent, t.Balances.Treasury, t.Reason)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
