package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"product-script-studio/internal/mediagroup"
	"product-script-studio/internal/photo"
	"product-script-studio/internal/pipeline"
	"product-script-studio/internal/session"
	"product-script-studio/internal/telegram"
)

// Messenger is the slice of the Telegram client the handlers use.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTyping(chatID int64)
	SendDocument(chatID int64, name string, data []byte, caption string) error
	DeleteMessage(chatID int64, messageID int) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

type Options struct {
	Telegram Messenger
	Pipeline *pipeline.Service
	Logger   *slog.Logger

	// AlbumDebounce is the quiet period before an album is handled.
	AlbumDebounce  time.Duration
	RequestTimeout time.Duration
}

type Handler struct {
	tg       Messenger
	pipeline *pipeline.Service
	logger   *slog.Logger
	albums   *mediagroup.Aggregator
	timeout  time.Duration
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	h := &Handler{
		tg:       opts.Telegram,
		pipeline: opts.Pipeline,
		logger:   logger,
		timeout:  timeout,
	}
	h.albums = mediagroup.New(mediagroup.Options{
		Debounce: opts.AlbumDebounce,
		OnFlush:  h.handleAlbum,
	})
	return h
}

// Close drops albums still waiting for their quiet period.
func (h *Handler) Close() {
	h.albums.Stop()
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	sessionID := sessionKey(chatID, msg.From.ID)

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, sessionID, msg)
	}

	fileID, mimeType := imageFile(msg)
	if fileID != "" {
		if h.albums.Add(mediagroup.Item{
			ChatID:       chatID,
			SessionID:    sessionID,
			MediaGroupID: msg.MediaGroupID,
			FileID:       fileID,
			MimeType:     mimeType,
		}) {
			return nil
		}
		return h.handleImage(ctx, chatID, sessionID, fileID, mimeType)
	}

	if strings.TrimSpace(msg.Text) != "" {
		return h.tg.SendText(chatID, "Send a product photo, or /help for the steps.")
	}

	return nil
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, sessionID string, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "keys":
		return h.handleKeys(chatID, sessionID, msg)
	case "models":
		return h.handleModels(ctx, chatID, sessionID)
	case "model":
		return h.handleSelectModel(chatID, sessionID, msg.CommandArguments())
	case "scripts":
		return h.sendResults(chatID, h.pipeline.View(sessionID), false)
	case "image":
		return h.sendResults(chatID, h.pipeline.View(sessionID), true)
	case "reset":
		h.pipeline.Reset(sessionID)
		return h.tg.SendText(chatID, "✅ Session cleared. Send /keys to start again.")
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleKeys(chatID int64, sessionID string, msg *tgbotapi.Message) error {
	if err := h.tg.DeleteMessage(chatID, msg.MessageID); err != nil {
		h.logger.Warn("could not delete keys message", "err", err)
	}

	fields := strings.Fields(msg.CommandArguments())
	creds := session.Credentials{}
	if len(fields) > 0 {
		creds.GeminiKey = fields[0]
	}
	if len(fields) > 1 {
		creds.RemoveBGKey = fields[1]
	}

	if err := h.pipeline.SetCredentials(sessionID, creds); err != nil {
		return h.tg.SendText(chatID, "⚠️ Please provide both keys: /keys <google_api_key> <removebg_api_key>")
	}
	return h.tg.SendText(chatID, "🔐 Keys saved for this session. Now run /models.")
}

func (h *Handler) handleModels(ctx context.Context, chatID int64, sessionID string) error {
	h.tg.SendTyping(chatID)

	models, err := h.pipeline.RefreshModels(ctx, sessionID)
	switch {
	case errors.Is(err, pipeline.ErrMissingCredential):
		return h.tg.SendText(chatID, "⚠️ Enter your keys first: /keys <google_api_key> <removebg_api_key>")
	case err != nil:
		h.logger.Error("model refresh failed", "err", err)
		return h.tg.SendText(chatID, "❌ Could not read the model list, please check the Google API key.")
	}

	view := h.pipeline.View(sessionID)
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Found %d models.\n\n", len(models))
	for i, name := range view.Models {
		marker := "  "
		if i == view.SelectedIndex {
			marker = "✅"
		}
		fmt.Fprintf(&b, "%s %d. %s\n", marker, i+1, name)
	}
	b.WriteString("\nChange with /model <number>, then send a product photo.")
	return h.tg.SendText(chatID, b.String())
}

func (h *Handler) handleSelectModel(chatID int64, sessionID string, arg string) error {
	arg = strings.TrimSpace(arg)
	view := h.pipeline.View(sessionID)

	model := arg
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(view.Models) {
		model = view.Models[n-1]
	}

	switch err := h.pipeline.SelectModel(sessionID, model); {
	case errors.Is(err, pipeline.ErrNoModels):
		return h.tg.SendText(chatID, "⚠️ Load the model list first with /models.")
	case err != nil:
		return h.tg.SendText(chatID, "❌ Unknown model. Use a number from /models.")
	}
	return h.tg.SendText(chatID, "🤖 Using "+model)
}

// handleAlbum runs one generate chain per album, on its first photo.
func (h *Handler) handleAlbum(g mediagroup.Group) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if g.Extra() > 0 {
		_ = h.tg.SendText(g.ChatID, fmt.Sprintf("ℹ️ One photo per run: using the first, %d ignored.", g.Extra()))
	}
	if err := h.handleImage(ctx, g.ChatID, g.SessionID, g.First(), g.MimeType); err != nil {
		h.logger.Error("album handling failed", "chat_id", g.ChatID, "err", err)
	}
}

func (h *Handler) handleImage(ctx context.Context, chatID int64, sessionID string, fileID string, mimeType string) error {
	view := h.pipeline.View(sessionID)
	if !view.HasCredentials {
		return h.tg.SendText(chatID, "⚠️ Enter your keys first: /keys <google_api_key> <removebg_api_key>")
	}
	if !view.CanGenerate() {
		return h.tg.SendText(chatID, "⚠️ Load the model list first with /models.")
	}

	h.tg.SendTyping(chatID)

	data, downloadedMIME, err := h.tg.DownloadFile(ctx, fileID)
	switch {
	case errors.Is(err, telegram.ErrFileTooLarge):
		return h.tg.SendText(chatID, "❌ The photo is too large, send one under 20 MB.")
	case err != nil:
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the photo.")
	}
	if downloadedMIME != "" && downloadedMIME != "application/octet-stream" {
		mimeType = downloadedMIME
	}

	img, err := photo.New(data, mimeType)
	if err != nil {
		return h.tg.SendText(chatID, "❌ Please send a jpg or png photo.")
	}

	_ = h.tg.SendText(chatID, fmt.Sprintf("✂️ Removing background, then analyzing with %s...", view.SelectedModel()))

	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	out, err := h.pipeline.Generate(genCtx, sessionID, "", img)
	if err != nil {
		h.logger.Error("generate rejected", "err", err)
		return h.tg.SendText(chatID, "❌ "+err.Error())
	}

	if err := h.tg.SendText(chatID, outcomeText(out)); err != nil {
		return err
	}

	return h.sendResults(chatID, h.pipeline.View(sessionID), true)
}

func (h *Handler) sendResults(chatID int64, view pipeline.View, withImage bool) error {
	if !view.ResultsVisible() {
		return h.tg.SendText(chatID, "Nothing generated yet. Send a product photo.")
	}

	if withImage && view.Processed != nil {
		if err := h.tg.SendDocument(chatID, photo.DownloadName, view.Processed.PNG(), "Background removed"); err != nil {
			return err
		}
	}

	var b strings.Builder
	b.WriteString("📋 Your scripts\n\n")
	b.WriteString(view.Scripts.String())
	return h.tg.SendText(chatID, b.String())
}

func outcomeText(out pipeline.Outcome) string {
	var lines []string
	if out.Removal.OK() {
		lines = append(lines, "✅ Background removed!")
	} else {
		lines = append(lines, "⚠️ Background removal failed: "+out.Removal.Status())
	}

	if out.Analysis.OK() {
		lines = append(lines, "✅ Analysis done!")
	} else {
		lines = append(lines, fmt.Sprintf("❌ Analysis failed: %v", out.Analysis.Err))
		if out.Analysis.RateLimited() {
			lines = append(lines, "❌ "+pipeline.CooldownMessage)
		}
	}
	return strings.Join(lines, "\n")
}

// imageFile picks the largest photo size, or an image sent as a file.
func imageFile(msg *tgbotapi.Message) (string, string) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, "image/jpeg"
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, msg.Document.MimeType
	}
	return "", ""
}

func sessionKey(chatID, userID int64) string {
	return fmt.Sprintf("tg:%d:%d", chatID, userID)
}

const helpText = "💎 Product Script Studio\n\n" +
	"1. /keys <google_api_key> <removebg_api_key>\n" +
	"2. /models to load the models your key can use\n" +
	"3. /model <number> to pick another model (optional)\n" +
	"4. Send a product photo (jpg/png)\n\n" +
	"/scripts shows the last scripts, /image resends lock.png, /reset clears the session."
