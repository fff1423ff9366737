// Package bot exposes the room overrides over Slack slash commands, so a
// room can be boosted or set to away without touching the thermostats.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/intuis-community/intuis-monitor/internal/overrides"
	"github.com/intuis-community/intuis-monitor/internal/poller"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/sync/errgroup"
)

type Bot struct {
	SlackApp
	poller    poller.Poller
	overrides OverrideManager
	logger    *slog.Logger
	update    poller.Update
	lock      sync.RWMutex
	updated   bool
}

// OverrideManager contains the override operations driven from Slack.
type OverrideManager interface {
	SetTemperature(ctx context.Context, roomID string, temperature float64) error
	SetPreset(ctx context.Context, roomID, preset string) error
	Resume(ctx context.Context, roomID string) error
	Off(ctx context.Context, roomID string) error
	Overrides() map[string]overrides.Override
}

type SlackApp interface {
	AddSlashCommand(string, func(slack.SlashCommand, *socketmode.Client))
	Run(ctx context.Context) error
}

func New(app SlackApp, p poller.Poller, m OverrideManager, logger *slog.Logger) *Bot {
	b := Bot{
		SlackApp:  app,
		poller:    p,
		overrides: m,
		logger:    logger,
	}

	b.SlackApp.AddSlashCommand("/rooms", b.doAndPost(b.onRooms))
	b.SlackApp.AddSlashCommand("/setroom", b.doAndPost(b.onSetRoom))
	b.SlackApp.AddSlashCommand("/refresh", b.doAndPost(b.onRefresh))

	return &b
}

// Run starts the slack app and caches poller updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Debug("bot started")
	defer b.logger.Debug("bot stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := b.SlackApp.Run(ctx); err != nil {
			return fmt.Errorf("bot: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ch := b.poller.Subscribe()
		defer b.poller.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return nil
			case update := <-ch:
				b.setUpdate(update)
			}
		}
	})
	return g.Wait()
}

func (b *Bot) setUpdate(update poller.Update) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.update = update
	b.updated = true
}

func (b *Bot) getUpdate() (poller.Update, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.update, b.updated
}

func (b *Bot) onRooms(_ context.Context, _ ...string) slack.Attachment {
	update, ok := b.getUpdate()
	if !ok {
		return slack.Attachment{
			Color: "bad",
			Text:  "no updates yet. please check back later",
		}
	}

	active := b.overrides.Overrides()

	text := make([]string, 0, len(update.Rooms))
	for id, room := range update.Rooms {
		line := fmt.Sprintf("%s: %.1fºC (%s)", room.Name, room.Temperature, roomState(room))
		if o, found := active[id]; found {
			line += ", override: " + overrideState(o)
		}
		text = append(text, line)
	}

	slackColor := "bad"
	slackTitle := ""
	slackText := "no rooms found"

	if len(text) > 0 {
		slackColor = "good"
		slackTitle = "rooms:"
		slices.Sort(text)
		slackText = strings.Join(text, "\n")
	}

	return slack.Attachment{
		Color: slackColor,
		Title: slackTitle,
		Text:  slackText,
	}
}

func roomState(room poller.RoomSnapshot) string {
	if !room.Reachable {
		return "unreachable"
	}
	state := room.Mode
	if room.TargetTemp > 0 {
		state += fmt.Sprintf(", target: %.1f", room.TargetTemp)
	}
	if room.Heating {
		state += ", heating"
	}
	return state
}

func overrideState(o overrides.Override) string {
	if o.Sticky {
		return o.Mode + " (sticky)"
	}
	return o.Mode + " until " + time.Unix(o.EndAt, 0).Format("15:04")
}

func (b *Bot) onSetRoom(ctx context.Context, args ...string) slack.Attachment {
	update, ok := b.getUpdate()
	if !ok {
		return slack.Attachment{
			Color: "bad",
			Text:  "no updates yet. please check back later",
		}
	}

	roomID, roomName, mode, temperature, err := parseSetRoomCommand(update, args...)
	if err != nil {
		return slack.Attachment{
			Color: "bad",
			Text:  "invalid command: " + err.Error(),
		}
	}

	var text string
	switch mode {
	case "auto":
		err = b.overrides.Resume(ctx, roomID)
		text = "Setting " + roomName + " back to its schedule"
	case "off":
		err = b.overrides.Off(ctx, roomID)
		text = "Switching off heating in " + roomName
	case overrides.PresetAway, overrides.PresetBoost, overrides.PresetFrostProtect:
		err = b.overrides.SetPreset(ctx, roomID, mode)
		text = "Setting " + roomName + " to " + mode
	default:
		err = b.overrides.SetTemperature(ctx, roomID, temperature)
		text = fmt.Sprintf("Setting target temperature for %s to %.1fºC", roomName, temperature)
	}

	if err != nil {
		return slack.Attachment{
			Color: "bad",
			Text:  err.Error(),
		}
	}

	b.poller.Refresh()

	return slack.Attachment{
		Color: "good",
		Text:  text,
	}
}

func parseSetRoomCommand(update poller.Update, args ...string) (roomID, roomName, mode string, temperature float64, err error) {
	if len(args) < 2 {
		err = fmt.Errorf("missing parameters\nUsage: /setroom <room> [auto|off|away|boost|frost|<temperature>]")
		return
	}

	roomName = args[0]
	roomID, found := update.GetRoomID(roomName)
	if !found {
		err = fmt.Errorf("invalid room name: %s", roomName)
		return
	}

	switch args[1] {
	case "auto", "off":
		mode = args[1]
	case "away":
		mode = overrides.PresetAway
	case "boost":
		mode = overrides.PresetBoost
	case "frost":
		mode = overrides.PresetFrostProtect
	default:
		temperature, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			err = fmt.Errorf("invalid target temperature: %q", args[1])
		}
	}

	return
}

func (b *Bot) onRefresh(_ context.Context, _ ...string) slack.Attachment {
	b.poller.Refresh()
	return slack.Attachment{Text: "refreshing room data"}
}

func (b *Bot) doAndPost(f func(context.Context, ...string) slack.Attachment) func(cmd slack.SlashCommand, c *socketmode.Client) {
	return func(cmd slack.SlashCommand, c *socketmode.Client) {
		a := f(context.Background(), tokenizeText(cmd.Text)...)
		if _, _, err := c.PostMessage(cmd.ChannelID, slack.MsgOptionAttachments(a)); err != nil {
			b.logger.Error("failed to post response", "err", err)
		}
	}
}

func tokenizeText(input string) []string {
	cleanInput := input
	for _, quote := range []string{"“", "”", "'"} {
		cleanInput = strings.ReplaceAll(cleanInput, quote, "\"")
	}
	r := regexp.MustCompile(`[^\s"]+|"([^"]*)"`)
	output := r.FindAllString(cleanInput, -1)

	for index, word := range output {
		output[index] = strings.Trim(word, "\"")
	}
	return output
}
