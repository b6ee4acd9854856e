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

type SourceDeactivator interface {
	SourceByID(ctx context.Context, id int64) (*model.Source, error)
	Deactivate(ctx context.Context, id int64) error
}

// Отключает источник: /deletesource 42.
// Строка из БД не удаляется, на нее ссылаются привязки новостей,
// источник просто перестает опрашиваться.
func ViewCmdDeleteSource(deactivator SourceDeactivator) botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		arg := strings.TrimSpace(update.Message.CommandArguments())

		sourceID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("expected source id, got %q: %w", arg, model.ErrValidation)
		}

		src, err := deactivator.SourceByID(ctx, sourceID)
		if err != nil {
			return err
		}

		if err := deactivator.Deactivate(ctx, sourceID); err != nil {
			return err
		}

		reply := tgbotapi.NewMessage(update.Message.Chat.ID, fmt.Sprintf("Источник %q отключен", src.Name))
		if _, err := bot.Send(reply); err != nil {
			return err
		}
		return nil
	}
}
