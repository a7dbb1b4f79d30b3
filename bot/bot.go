// Package bot is the chat transport: it feeds inbound group messages into
// the activity recorder and exposes the track/untrack/report commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/dailysweep"
	"github.com/presenced/presenced/presenced/tracking"
)

// Options configures the bot. All fields without a stated default are
// required.
type Options struct {
	Logger slog.Logger
	// Username is the bot's login; Token is its "oauth:" credential.
	Username string
	Token    string
	// Channels are joined on connect. Each channel is one tracking group.
	Channels []string

	Registry *tracking.Registry
	Recorder *activity.Recorder
	Reports  *activity.ReportBuilder

	// Clock is only replaced in tests.
	Clock quartz.Clock
	// Location renders first-message times in reports.
	Location *time.Location
}

// Bot bridges the IRC client and the ledger components.
type Bot struct {
	opts   *Options
	log    slog.Logger
	client *twitch.Client
}

func New(options *Options) *Bot {
	if options.Clock == nil {
		options.Clock = quartz.NewReal()
	}
	if options.Location == nil {
		options.Location = activity.DefaultLocation()
	}
	b := &Bot{
		opts:   options,
		log:    options.Logger.Named("bot"),
		client: twitch.NewClient(options.Username, options.Token),
	}
	b.client.OnPrivateMessage(b.handleMessage)
	b.client.OnConnect(func() {
		b.log.Info(context.Background(), "connected to chat",
			slog.F("channels", options.Channels),
		)
	})
	return b
}

// Run joins the configured channels and blocks until the connection closes
// or ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.client.Join(b.opts.Channels...)
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.client.Connect()
	}()
	select {
	case <-ctx.Done():
		_ = b.client.Disconnect()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			return xerrors.Errorf("chat connection: %w", err)
		}
		return nil
	}
}

// AnnounceLoop posts a message for every subject a sweep newly marked
// failed. It exits when ch closes or ctx is done.
func (b *Bot) AnnounceLoop(ctx context.Context, ch <-chan dailysweep.Stats) {
	for {
		select {
		case <-ctx.Done():
			return
		case stats, ok := <-ch:
			if !ok {
				return
			}
			for _, failure := range stats.Failed {
				name := failure.Handle
				if name == "" {
					name = failure.SubjectID
				}
				name = strings.TrimPrefix(name, "@")
				if failure.FailureStreak > 1 {
					b.say(failure.GroupID, fmt.Sprintf(
						"%s went silent again: no messages for %d days in a row.",
						name, failure.FailureStreak))
				} else {
					b.say(failure.GroupID, fmt.Sprintf(
						"%s didn't post anything today.", name))
				}
			}
		}
	}
}

func (b *Bot) handleMessage(msg twitch.PrivateMessage) {
	ctx := context.Background()
	if strings.HasPrefix(msg.Message, "!") {
		b.handleCommand(ctx, msg)
		return
	}
	b.recordActivity(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg twitch.PrivateMessage) {
	parts := strings.Fields(msg.Message)
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	switch strings.ToLower(parts[0]) {
	case "!track":
		b.trackCommand(ctx, msg, arg)
	case "!untrack":
		b.untrackCommand(ctx, msg, arg)
	case "!report":
		b.reportCommand(ctx, msg, arg)
	}
}

func (b *Bot) trackCommand(ctx context.Context, msg twitch.PrivateMessage, arg string) {
	if arg == "" {
		b.say(msg.Channel, "Usage: !track <name>")
		return
	}
	subjectID := strings.ToLower(strings.TrimPrefix(arg, "@"))
	_, err := b.opts.Registry.Enroll(ctx, msg.Channel, subjectID, arg)
	if errors.Is(err, tracking.ErrAlreadyTracked) {
		b.say(msg.Channel, fmt.Sprintf("%s is already being tracked here.", subjectID))
		return
	}
	if err != nil {
		b.log.Error(ctx, "enroll failed", slog.Error(err))
		b.say(msg.Channel, "Couldn't start tracking, try again later.")
		return
	}
	b.say(msg.Channel, fmt.Sprintf("Now tracking %s in this channel.", subjectID))
}

func (b *Bot) untrackCommand(ctx context.Context, msg twitch.PrivateMessage, arg string) {
	if arg == "" {
		b.say(msg.Channel, "Usage: !untrack <name>")
		return
	}
	subjectID := strings.ToLower(strings.TrimPrefix(arg, "@"))
	// The handle may have been stored in either form; resolve it to the
	// subject if the direct pair is unknown.
	err := b.opts.Registry.Unenroll(ctx, msg.Channel, subjectID)
	if errors.Is(err, tracking.ErrNotFound) {
		if user, ferr := b.opts.Registry.FindByHandle(ctx, msg.Channel, arg); ferr == nil {
			err = b.opts.Registry.Unenroll(ctx, msg.Channel, user.SubjectID)
		}
	}
	if errors.Is(err, tracking.ErrNotFound) {
		b.say(msg.Channel, fmt.Sprintf("%s is not being tracked here.", subjectID))
		return
	}
	if err != nil {
		b.log.Error(ctx, "unenroll failed", slog.Error(err))
		b.say(msg.Channel, "Couldn't stop tracking, try again later.")
		return
	}
	b.say(msg.Channel, fmt.Sprintf("Stopped tracking %s.", subjectID))
}

func (b *Bot) reportCommand(ctx context.Context, msg twitch.PrivateMessage, arg string) {
	subjectID := strings.ToLower(msg.User.Name)
	display := msg.User.DisplayName
	if arg != "" {
		subjectID = strings.ToLower(strings.TrimPrefix(arg, "@"))
		display = subjectID
		if user, err := b.opts.Registry.FindByHandle(ctx, msg.Channel, arg); err == nil {
			subjectID = user.SubjectID
		}
	}

	report, err := b.opts.Reports.BuildReport(ctx, msg.Channel, subjectID, 0)
	if errors.Is(err, activity.ErrNoStreakState) {
		b.say(msg.Channel, fmt.Sprintf("%s is not being tracked here.", display))
		return
	}
	if err != nil {
		b.log.Error(ctx, "build report failed", slog.Error(err))
		b.say(msg.Channel, "Couldn't build the report, try again later.")
		return
	}
	b.say(msg.Channel, formatReport(display, report, b.opts.Location))
}

func (b *Bot) recordActivity(ctx context.Context, msg twitch.PrivateMessage) {
	subjectID := strings.ToLower(msg.User.Name)
	recorded, err := b.opts.Recorder.RecordEvent(ctx, msg.Channel, subjectID, b.opts.Clock.Now())
	if errors.Is(err, activity.ErrNotTracked) {
		return
	}
	if err != nil {
		b.log.Error(ctx, "record event failed",
			slog.F("group_id", msg.Channel),
			slog.F("subject_id", subjectID),
			slog.Error(err),
		)
		return
	}
	if !recorded.FirstOfDay {
		return
	}
	if recorded.Streak.SuccessStreak > 1 {
		b.say(msg.Channel, fmt.Sprintf(
			"%s checked in for the first time today. Streak: %d days.",
			msg.User.DisplayName, recorded.Streak.SuccessStreak))
	} else {
		b.say(msg.Channel, fmt.Sprintf(
			"%s checked in for the first time today.", msg.User.DisplayName))
	}
}

func (b *Bot) say(channel, message string) {
	b.client.Say(channel, message)
}

func formatReport(display string, report activity.Report, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Activity report for %s: ", display)
	switch {
	case report.SuccessStreak > 0:
		fmt.Fprintf(&sb, "active %d day%s in a row.", report.SuccessStreak, plural(report.SuccessStreak))
	case report.FailureStreak > 0:
		fmt.Fprintf(&sb, "silent %d day%s in a row.", report.FailureStreak, plural(report.FailureStreak))
	default:
		sb.WriteString("no streak yet.")
	}
	for _, day := range report.History {
		status := "missed"
		if day.Messaged {
			status = "posted"
		}
		fmt.Fprintf(&sb, " %s %s", day.ActivityDate.Format("Jan 2"), status)
		if day.Messaged && day.FirstMessageAt.Valid {
			fmt.Fprintf(&sb, " at %s", day.FirstMessageAt.Time.In(loc).Format("15:04"))
		}
		sb.WriteString(";")
	}
	return strings.TrimSuffix(sb.String(), ";")
}

func plural(n int32) string {
	if n == 1 {
		return ""
	}
	return "s"
}
