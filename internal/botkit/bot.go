package botkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avoronov/news-curator-bot/internal/model"
)

// View это функция, которая реагирует на конкретную команду.
// Update это любой эвент от телеграма при взаимодействии пользователя с ботом.
type ViewFunc func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error

type Bot struct {
	// Инстанс апи телеграма
	api *tgbotapi.BotAPI
	// Мапа в которой храним view по командам
	cmdViews map[string]ViewFunc
}

func New(api *tgbotapi.BotAPI) *Bot {
	return &Bot{
		api: api,
	}
}

// Метод для регистрации View для команды
func (b *Bot) RegisterCmdView(cmd string, view ViewFunc) {
	if b.cmdViews == nil {
		b.cmdViews = make(map[string]ViewFunc)
	}

	b.cmdViews[cmd] = view
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			updateCtx, updateCancel := context.WithTimeout(ctx, 30*time.Second)
			b.handleUpdate(updateCtx, update)
			updateCancel()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Роутит команду на соответствующую view и переводит доменные ошибки
// в понятные пользователю ответы
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Вьюха может запаниковать, процесс из-за этого ронять нельзя
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[ERROR] panic recovered: %v\n%s", p, string(debug.Stack()))
		}
	}()

	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	// Достаем команду из сообщения, там может быть не только она
	cmd := update.Message.Command()

	view, ok := b.cmdViews[cmd]
	if !ok {
		return
	}

	if err := view(ctx, b.api, update); err != nil {
		log.Printf("[ERROR] failed to handle /%s: %v", cmd, err)

		if _, err := b.api.Send(
			tgbotapi.NewMessage(update.Message.Chat.ID, replyForError(err)),
		); err != nil {
			log.Printf("[ERROR] failed to send message: %v", err)
		}
	}
}

// Ошибки состояния и валидации показываем пользователю как есть,
// по ним он решает что делать дальше. Остальное прячем за общим ответом.
func replyForError(err error) string {
	switch {
	case errors.Is(err, model.ErrStateConflict):
		return "Нельзя: конфликт состояния. Проверьте статус текущего дайджеста."
	case errors.Is(err, model.ErrNotFound):
		return "Ничего не нашлось. Возможно, сессия уже закрыта."
	case errors.Is(err, model.ErrExpired):
		return "Сессия истекла, начните заново."
	case errors.Is(err, model.ErrValidation):
		return "Некорректные аргументы команды."
	default:
		return "Внутренняя ошибка, попробуйте позже."
	}
}

// Разбирает json-аргументы команды в типизированную структуру
func ParseJSON[T any](src string) (T, error) {
	var args T
	if err := json.Unmarshal([]byte(src), &args); err != nil {
		return args, fmt.Errorf("parse args: %v: %w", err, model.ErrValidation)
	}

	return args, nil
}
