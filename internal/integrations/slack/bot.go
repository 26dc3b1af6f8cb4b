package slackbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"waorganizer/internal/autorun"
	"waorganizer/internal/config"
	"waorganizer/internal/domain"
	"waorganizer/internal/organizer"
	"waorganizer/internal/settings"
	"waorganizer/internal/summary"

	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	cmdOrganize = "/organize"
	cmdOptions  = "/organize-options"
	cmdCount    = "/organize-count"
	cmdCheck    = "/organize-check"
	cmdClear    = "/organize-clear"
	cmdHelp     = "/organize-help"

	// Longer results are uploaded as a file instead of an ephemeral message.
	maxEphemeralChars = 3500
)

type Bot struct {
	cfg   config.Config
	svc   *organizer.Service
	store *settings.Store
	api   *slack.Client
	now   func() time.Time
	// ctx parents the per-user runners; Run sets it.
	ctx context.Context

	mu       sync.Mutex
	sessions map[string]*userSession
}

// userSession is one Slack user's working state. Slash commands carry no
// conversation state, so the last input and options are kept here.
type userSession struct {
	userID string
	runner *autorun.Runner

	mu        sync.Mutex
	channelID string
	input     string
	options   domain.ProcessingOptions
}

func NewBot(cfg config.Config, svc *organizer.Service, store *settings.Store) *Bot {
	api := slack.New(
		cfg.SlackBotToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
	)
	return &Bot{
		cfg:      cfg,
		svc:      svc,
		store:    store,
		api:      api,
		now:      time.Now,
		ctx:      context.Background(),
		sessions: make(map[string]*userSession),
	}
}

// Run connects over Socket Mode and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
	client := socketmode.New(b.api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				b.dispatch(ctx, client, evt)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	if err := client.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	return nil
}

func (b *Bot) dispatch(ctx context.Context, client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Printf("slack connecting")
	case socketmode.EventTypeConnectionError:
		log.Printf("slack connection error: %v", evt.Data)
	case socketmode.EventTypeSlashCommand:
		client.Ack(*evt.Request)
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		log.Printf("Slash command received: %s from user=%s channel=%s chars=%d", cmd.Command, cmd.UserID, cmd.ChannelID, len(cmd.Text))
		go b.handleSlashCommand(ctx, cmd)
	case socketmode.EventTypeEventsAPI:
		client.Ack(*evt.Request)
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		go b.handleEventsAPI(eventsAPIEvent)
	}
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case cmdOrganize:
		b.handleOrganize(ctx, cmd)
	case cmdOptions:
		b.handleOptions(cmd)
	case cmdCount:
		b.handleCount(cmd)
	case cmdCheck:
		b.handleCheck(ctx, cmd)
	case cmdClear:
		b.handleClear(cmd)
	case cmdHelp:
		b.postEphemeral(cmd.ChannelID, cmd.UserID, helpText())
	}
}

func (b *Bot) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MemberJoinedChannelEvent:
		log.Printf("member-joined user=%s channel=%s", ev.User, ev.Channel)
		b.postEphemeral(ev.Channel, ev.User, "أهلاً! الصق رسائل واتساب بعد `/organize` لترتيبها.\n"+helpText())
	}
}

func (b *Bot) session(userID string) *userSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sess, ok := b.sessions[userID]; ok {
		return sess
	}
	sess := &userSession{userID: userID, options: b.cfg.DefaultOptions()}
	sess.runner = autorun.New(b.ctx, func(runCtx context.Context, trigger domain.Trigger, snap autorun.Snapshot, sig string) error {
		return b.run(runCtx, sess, trigger, snap, sig)
	})
	b.sessions[userID] = sess
	return sess
}

func (b *Bot) snapshot(sess *userSession) autorun.Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return autorun.Snapshot{
		Input:    sess.input,
		Options:  sess.options,
		Settings: b.store.Load(settings.Defaults(b.cfg)),
	}
}

func (b *Bot) handleOrganize(ctx context.Context, cmd slack.SlashCommand) {
	sess := b.session(cmd.UserID)

	sess.mu.Lock()
	opts, body, err := parseOrganizeArgs(cmd.Text, sess.options)
	if err == nil {
		sess.options = opts
		sess.input = body
		sess.channelID = cmd.ChannelID
	}
	sess.mu.Unlock()
	if err != nil {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, fmt.Sprintf("%v\n%s", err, usageOrganize))
		return
	}

	b.postEphemeral(cmd.ChannelID, cmd.UserID, "جاري المعالجة...")
	if err := sess.runner.RunManual(ctx, b.snapshot(sess)); errors.Is(err, autorun.ErrBusy) {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, "هناك طلب قيد المعالجة بالفعل، انتظر حتى ينتهي.")
	}
}

func (b *Bot) handleOptions(cmd slack.SlashCommand) {
	sess := b.session(cmd.UserID)

	sess.mu.Lock()
	opts, err := parseOptionArgs(cmd.Text, sess.options)
	if err == nil {
		sess.options = opts
		if cmd.ChannelID != "" {
			sess.channelID = cmd.ChannelID
		}
	}
	sess.mu.Unlock()
	if err != nil {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, fmt.Sprintf("%v\n%s", err, usageOptions))
		return
	}

	b.postEphemeral(cmd.ChannelID, cmd.UserID, "الخيارات الحالية: "+describeOptions(opts))
	sess.runner.Changed(b.snapshot(sess))
}

func (b *Bot) handleCount(cmd slack.SlashCommand) {
	text := cmd.Text
	if strings.TrimSpace(text) == "" {
		b.mu.Lock()
		sess := b.sessions[cmd.UserID]
		b.mu.Unlock()
		if sess != nil {
			sess.mu.Lock()
			text = sess.input
			sess.mu.Unlock()
		}
	}
	b.postEphemeral(cmd.ChannelID, cmd.UserID, fmt.Sprintf("عدد الرسائل التقريبي: %d (عدد الأحرف: %d)", b.svc.CountMessages(text), len([]rune(text))))
}

func (b *Bot) handleCheck(ctx context.Context, cmd slack.SlashCommand) {
	err := b.svc.CheckConnection(ctx, b.store.Load(settings.Defaults(b.cfg)))
	b.postEphemeral(cmd.ChannelID, cmd.UserID, formatNotice(organizer.ConnectionNotice(err)))
}

func (b *Bot) handleClear(cmd slack.SlashCommand) {
	b.mu.Lock()
	sess := b.sessions[cmd.UserID]
	b.mu.Unlock()
	if sess != nil {
		sess.runner.Reset()
		sess.mu.Lock()
		sess.input = ""
		sess.mu.Unlock()
	}
	b.postEphemeral(cmd.ChannelID, cmd.UserID, "تم مسح النص والنتيجة.")
}

// run is the runner callback for both manual and auto triggers.
func (b *Bot) run(ctx context.Context, sess *userSession, trigger domain.Trigger, snap autorun.Snapshot, sig string) error {
	sess.mu.Lock()
	channelID := sess.channelID
	sess.mu.Unlock()

	res, err := b.svc.Process(ctx, trigger, organizer.Request{
		SessionID: "slack:" + sess.userID,
		Text:      snap.Input,
		Options:   snap.Options,
		Settings:  snap.Settings,
		Signature: sig,
	})
	if notice, ok := organizer.Notice(trigger, err); ok {
		b.postEphemeral(channelID, sess.userID, formatNotice(notice))
	}
	if err != nil {
		return err
	}
	b.deliver(channelID, sess.userID, trigger, res)
	return nil
}

func (b *Bot) deliver(channelID, userID string, trigger domain.Trigger, res organizer.Result) {
	text := res.Combined()
	header := fmt.Sprintf("النتيجة المنسقة (%s، عدد الرسائل التقريبي: %d)", triggerLabel(trigger), res.EstimatedMessages)
	if len([]rune(text)) <= maxEphemeralChars {
		b.postEphemeral(channelID, userID, header+"\n```"+text+"```")
		return
	}

	path, err := summary.WriteExport(filepath.Join(b.cfg.ExportDir, "slack", userID), b.now(), text)
	if err != nil {
		log.Printf("slack export write error user=%s: %v", userID, err)
		b.postEphemeral(channelID, userID, "تعذر حفظ النتيجة كملف.")
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		log.Printf("slack export stat error path=%s: %v", path, err)
		return
	}
	_, err = b.api.UploadFileV2(slack.UploadFileV2Parameters{
		File:           path,
		FileSize:       int(fi.Size()),
		Filename:       filepath.Base(path),
		Channel:        channelID,
		Title:          "whatsapp organized",
		InitialComment: fmt.Sprintf("<@%s> %s", userID, header),
	})
	if err != nil {
		log.Printf("slack upload error user=%s file=%s: %v", userID, path, err)
		b.postEphemeral(channelID, userID, "تعذر رفع الملف إلى القناة. تحقق من صلاحيات البوت.")
		return
	}
	log.Printf("slack result uploaded user=%s file=%s size=%d run=%s", userID, path, fi.Size(), res.RunID)
}

func (b *Bot) postEphemeral(channelID, userID, text string) {
	if channelID == "" {
		log.Printf("slack ephemeral skipped user=%s: no channel", userID)
		return
	}
	_, err := b.api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Error posting ephemeral: %v", err)
	}
}
