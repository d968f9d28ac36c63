package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/joho/godotenv"

	"wisdomchat/pkg/api/handlers"
	"wisdomchat/pkg/chat"
	"wisdomchat/pkg/config"
	"wisdomchat/pkg/files"
	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/notify"
	"wisdomchat/pkg/outbox"
	"wisdomchat/pkg/presence"
	"wisdomchat/pkg/realtime"
	"wisdomchat/pkg/state"
	"wisdomchat/pkg/store"
	"wisdomchat/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	pres  *presence.Registry
	hub   *realtime.Hub
	queue *outbox.Queue
	proc  *outbox.Processor
	deps  *handlers.Deps

	redriveCancel context.CancelFunc
	srv           *http.Server
}

// New initializes resources that do not require a running context
// (state dirs, store, services, outbox wiring). It does not start the
// workers or the HTTP server; call Run to start those and block until
// shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	initValidation(eff)

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs under %s: %w", eff.DBPath, err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	cfg := eff.Config

	queue := outbox.NewQueue(cfg.Outbox.Queue.Capacity)
	if n := cfg.Outbox.Queue.MaxPooledBufferBytes.Int64(); n > 0 {
		outbox.SetMaxPooledBuffer(int(n))
	}

	pres := presence.NewRegistry()
	hub := realtime.NewHub()
	dir := chat.NewDirectory(pres)
	msgs := chat.NewMessages(queue, cfg.EditWindow(), cfg.Chat.MaxContentBytes.Int64())

	uploadsDir := cfg.Uploads.Dir
	if uploadsDir == "" {
		uploadsDir = state.PathsVar.Uploads
	}
	fileStore, err := files.NewLocalStore(uploadsDir, cfg.Uploads.MaxBytes.Int64())
	if err != nil {
		return nil, err
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		pres:      pres,
		hub:       hub,
		queue:     queue,
		deps: &handlers.Deps{
			Dir:       dir,
			Msgs:      msgs,
			Presence:  pres,
			Hub:       hub,
			Files:     fileStore,
			WSOrigins: cfg.Security.CORS.AllowedOrigins,
		},
	}
	handlers.PresenceRefresh = cfg.PresenceRefresh()

	a.proc = outbox.NewProcessor(queue)
	a.proc.RegisterHandler(models.EffectChatMeta, a.handleChatMeta)
	a.proc.RegisterHandler(models.EffectNotify, notify.NewDispatcher(pres, nil).Dispatch)
	a.proc.RegisterHandler(models.EffectFanout, a.handleFanout)

	return a, nil
}

// Run starts the outbox worker, redrive scheduler and HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	// clear effects left over from a previous run before taking traffic
	if err := a.proc.ProcessPending(ctx); err != nil {
		logger.Warn("startup_outbox_drain_failed", "error", err)
	}
	go a.proc.Run(ctx)

	cancel, err := outbox.StartRedrive(ctx, a.eff.Config.Outbox.Redrive, a.queue)
	if err != nil {
		return err
	}
	a.redriveCancel = cancel

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.redriveCancel != nil {
		a.redriveCancel()
	}
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		_ = a.srv.Shutdown(sctx)
		cancel()
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
}

// handleChatMeta refreshes the chat's last-message summary and activity
// timestamp after a send, then tells participants the chat changed.
func (a *App) handleChatMeta(_ context.Context, e *models.Effect) error {
	m, err := store.GetMessage(e.Message)
	if err != nil {
		return fmt.Errorf("load message %s: %w", e.Message, err)
	}
	c, err := store.UpdateChat(e.Chat, func(c *models.Chat) error {
		if m.CreatedTS < c.LastActivityTS {
			// a newer send already updated the summary
			return nil
		}
		c.LastMessage = &models.LastMessage{
			ID:      m.ID,
			Sender:  m.Sender,
			Content: m.Content,
			Type:    m.Type,
			TS:      m.CreatedTS,
		}
		c.LastActivityTS = m.CreatedTS
		return nil
	})
	if err != nil {
		return fmt.Errorf("update chat %s: %w", e.Chat, err)
	}
	a.hub.BroadcastToUsers(c.Participants, realtime.Event{Type: realtime.EventChatUpdated, Data: c})
	return nil
}

// handleFanout pushes the pre-rendered event payload to the chat room.
func (a *App) handleFanout(_ context.Context, e *models.Effect) error {
	var ev realtime.Event
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return fmt.Errorf("invalid fanout payload: %w", err)
	}
	a.hub.BroadcastToChat(e.Chat, ev, nil)
	return nil
}

// validateConfig fails fast on configuration the server cannot run
// without.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return fmt.Errorf("no configuration resolved")
	}
	if strings.TrimSpace(eff.Config.Security.JWT.Secret) == "" {
		return fmt.Errorf("security.jwt.secret is required (or WISDOMCHAT_JWT_SECRET)")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("db path is required (use --db or WISDOMCHAT_DB_PATH)")
	}
	return nil
}

// initValidation builds validation rules from config and sets them globally.
func initValidation(eff config.EffectiveConfigResult) {
	vr := validation.Rules{Types: map[string]string{}, MaxLen: map[string]int{}, Enums: map[string][]string{}}
	vr.Required = append(vr.Required, eff.Config.Validation.Required...)
	for _, t := range eff.Config.Validation.Types {
		vr.Types[t.Path] = t.Type
	}
	for _, ml := range eff.Config.Validation.MaxLen {
		vr.MaxLen[ml.Path] = ml.Max
	}
	for _, e := range eff.Config.Validation.Enums {
		vr.Enums[e.Path] = append([]string{}, e.Values...)
	}
	for _, wt := range eff.Config.Validation.WhenThen {
		vr.WhenThen = append(vr.WhenThen, validation.WhenThenRule{WhenPath: wt.When.Path, Equals: wt.When.Equals, ThenReq: append([]string{}, wt.Then.Required...)})
	}
	validation.SetRules(vr)
}
