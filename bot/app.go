package bot

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	coreconfig "gatebot/core/config"
	coretelegram "gatebot/core/telegram"
	"gatebot/core/telegram/commands"
	"gatebot/core/telegram/router"
	"gatebot/storage"
	"gatebot/verification"
)

// App wires the verification engine to the Telegram runtime.
type App struct {
	cfg      *coreconfig.Config
	engine   *verification.Engine
	notifier *Notifier
	approver *Approver
}

// New assembles the application from loaded configuration and an open
// database connection.
func New(cfg *coreconfig.Config, db *sqlx.DB) *App {
	moderated := cfg.Verification.DeliveryMode == coreconfig.DeliveryModerator
	mode := verification.ModeAutomatic
	if moderated {
		mode = verification.ModeModerator
	}

	notifier := NewNotifier(cfg.Telegram.AdminID, moderated)
	approver := NewApprover(cfg.Verification.ChannelID)
	sessions := verification.NewSessionTable(verification.SessionOptions{
		TTL:         time.Duration(cfg.Verification.CodeTTLSeconds) * time.Second,
		MaxAttempts: cfg.Verification.MaxAttempts,
	})
	engine := verification.NewEngine(
		verification.Config{
			ModeratorID: cfg.Telegram.AdminID,
			CodeLength:  cfg.Verification.CodeLength,
			Mode:        mode,
		},
		storage.NewPostgresStore(db),
		sessions,
		notifier,
		approver,
	)

	return &App{
		cfg:      cfg,
		engine:   engine,
		notifier: notifier,
		approver: approver,
	}
}

// CoreConfig satisfies the runner's ConfigCarrier.
func (a *App) CoreConfig() *coreconfig.Config { return a.cfg }

// TelegramRunOptions builds the full routing table for the bot runtime.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Start verification",
	})
	reg.RegisterCommand("/stats", commands.Command{
		Handler:     a.handleStats,
		Description: "Verification statistics",
		AdminOnly:   true,
	})

	if err := reg.RegisterCallback(cbDigit, a.cbDigitEntry); err != nil {
		return coretelegram.RunOptions{}, err
	}
	if err := reg.RegisterCallback(cbBackspace, a.cbBackspaceEntry); err != nil {
		return coretelegram.RunOptions{}, err
	}
	if err := reg.RegisterCallback(cbSubmit, a.cbSubmitEntry); err != nil {
		return coretelegram.RunOptions{}, err
	}
	if err := reg.RegisterCallback(cbSendCode, a.cbIssueCode); err != nil {
		return coretelegram.RunOptions{}, err
	}
	if err := reg.RegisterCallback(cbViewPending, a.cbPendingList); err != nil {
		return coretelegram.RunOptions{}, err
	}
	if err := reg.RegisterCallback(cbShowCode, a.cbShowCode); err != nil {
		return coretelegram.RunOptions{}, err
	}

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(reg, router.TextOptions{})...)
	routes = append(routes,
		router.EventRoute(tele.OnContact, "contact", a.handleContact),
		router.EventRoute(tele.OnChatJoinRequest, "chat_join_request", a.handleJoinRequest),
	)

	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.notifier.SetTransport(rt.Bot, rt.Dispatcher)
			a.approver.SetBot(rt.Bot)
			return nil
		},
	}, nil
}
