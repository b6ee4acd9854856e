package notifier

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avoronov/news-curator-bot/internal/botkit/markup"
	"github.com/avoronov/news-curator-bot/internal/model"
)

// Доставка дайджеста в чат кураторов через телеграм.
// Единственный потребитель это менеджер дайджеста.
type TelegramTransport struct {
	// Инстанс клиента botAPI
	bot *tgbotapi.BotAPI
}

func NewTelegramTransport(bot *tgbotapi.BotAPI) *TelegramTransport {
	return &TelegramTransport{bot: bot}
}

// Отправляет пакет новостей: шапка плюс по сообщению на новость.
// Возвращает id всех отправленных сообщений: по ним потом
// редактируется пакет и чистится чат.
func (t *TelegramTransport) SendBatch(ctx context.Context, chatID int64, items []model.NewsItem) ([]int, error) {
	var messageIDs []int

	header := fmt.Sprintf("📰 *Дайджест на ревью* \\(новостей: %d\\)", len(items))
	id, err := t.send(chatID, header)
	if err != nil {
		return messageIDs, err
	}
	messageIDs = append(messageIDs, id)

	for i, item := range items {
		id, err := t.send(chatID, formatNews(i+1, item))
		if err != nil {
			// Отдаем то, что успели отправить: эти сообщения уже в чате
			// и должны попасть в сессию
			return messageIDs, err
		}
		messageIDs = append(messageIDs, id)
	}

	return messageIDs, nil
}

// Перерисовывает ранее отправленный пакет под новый состав новостей.
// Первое сообщение это шапка, лишние хвостовые сообщения гасим заглушкой.
func (t *TelegramTransport) EditBatch(ctx context.Context, chatID int64, messageIDs []int, items []model.NewsItem) error {
	if len(messageIDs) == 0 {
		return nil
	}

	header := fmt.Sprintf("📰 *Дайджест на ревью* \\(новостей: %d\\)", len(items))
	if err := t.edit(chatID, messageIDs[0], header); err != nil {
		return err
	}

	for i, messageID := range messageIDs[1:] {
		text := "_удалено из дайджеста_"
		if i < len(items) {
			text = formatNews(i+1, items[i])
		}

		if err := t.edit(chatID, messageID, text); err != nil {
			return err
		}
	}

	return nil
}

func (t *TelegramTransport) send(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("telegram send: %v: %w", err, model.ErrExternalService)
	}
	return sent.MessageID, nil
}

func (t *TelegramTransport) edit(chatID int64, messageID int, text string) error {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram edit: %v: %w", err, model.ErrExternalService)
	}
	return nil
}

// Карточка новости для ревью: заголовок, выжимка, оценки, ссылка.
// Спец символы markdown экранируем, иначе телеграм не примет сообщение.
func formatNews(n int, item model.NewsItem) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%d\\. %s*\n", n, markup.EscapeForMarkdown(item.Title))

	if item.AISummary != "" {
		b.WriteString(markup.EscapeForMarkdown(item.AISummary))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nРелевантность: %d/10", item.RelevanceScore)
	if item.Category != "" {
		fmt.Fprintf(&b, " \\| %s", markup.EscapeForMarkdown(item.Category))
	}
	b.WriteString("\n")

	if item.URL != "" {
		b.WriteString(markup.EscapeForMarkdown(item.URL))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n`/removenews %d` чтобы убрать из дайджеста", item.ID)

	return b.String()
}
