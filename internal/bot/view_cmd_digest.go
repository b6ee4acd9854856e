package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avoronov/news-curator-bot/internal/botkit"
	"github.com/avoronov/news-curator-bot/internal/model"
)

// Все действия куратора над дайджестом
type DigestManager interface {
	Compile(ctx context.Context) error
	Approve(ctx context.Context, chatID int64, curatorID string) error
	RemoveNews(ctx context.Context, chatID, newsID int64) error
	CancelReview(ctx context.Context, chatID int64) error
}

// Собрать дайджест прямо сейчас, не дожидаясь планировщика
func ViewCmdDigest(manager DigestManager) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		return manager.Compile(ctx)
	}
}

// Одобрить весь пакет. Новости из него уходят в curated,
// сессия ревью закрывается.
func ViewCmdApprove(manager DigestManager) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		curatorID := strconv.FormatInt(update.Message.From.ID, 10)

		if err := manager.Approve(ctx, update.Message.Chat.ID, curatorID); err != nil {
			return err
		}

		if _, err := bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Дайджест одобрен ✅")); err != nil {
			return err
		}
		return nil
	}
}

// Убрать одну новость из текущего дайджеста: /removenews 42
func ViewCmdRemoveNews(manager DigestManager) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		arg := strings.TrimSpace(update.Message.CommandArguments())

		newsID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("expected news id, got %q: %w", arg, model.ErrValidation)
		}

		if err := manager.RemoveNews(ctx, update.Message.Chat.ID, newsID); err != nil {
			return err
		}

		reply := tgbotapi.NewMessage(update.Message.Chat.ID, fmt.Sprintf("Новость %d убрана из дайджеста", newsID))
		if _, err := bot.Send(reply); err != nil {
			return err
		}
		return nil
	}
}

// Отменить ревью: сессия закрывается, новости остаются в pending
func ViewCmdCancelDigest(manager DigestManager) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		if err := manager.CancelReview(ctx, update.Message.Chat.ID); err != nil {
			return err
		}

		if _, err := bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ревью отменено")); err != nil {
			return err
		}
		return nil
	}
}
