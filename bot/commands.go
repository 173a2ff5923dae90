package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/ghost-bot/link"
	"github.com/onnwee/ghost-bot/state"
	"github.com/onnwee/ghost-bot/summary"
	"github.com/onnwee/ghost-bot/telemetry"
)

// HandleCommand dispatches "!" commands shared by both adapters. Returns true
// when the event was a command (even a failed one); the caller should not fall
// through to conversation handling in that case.
func (o *Orchestrator) HandleCommand(ctx context.Context, ev Event, reply Replier) bool {
	text := strings.TrimSpace(ev.Text)
	if !strings.HasPrefix(text, "!") {
		return false
	}
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "!"))
	args := fields[1:]

	ctx = telemetry.WithCorrelation(ctx, "cmd-"+cmd)
	logger := slog.Default().With(
		slog.String("command", cmd),
		slog.String("platform", string(ev.Platform)),
		slog.String("user", ev.Username))

	switch cmd {
	case "ping":
		o.deliver(ctx, reply, "pong!", ev.Platform)
	case "link_twitch":
		o.cmdInitiate(ctx, ev, reply, state.PlatformDiscord, state.PlatformTwitch, args)
	case "link_discord":
		o.cmdInitiate(ctx, ev, reply, state.PlatformTwitch, state.PlatformDiscord, args)
	case "confirm_link":
		o.cmdConfirm(ctx, ev, reply)
	case "unlink":
		o.cmdUnlink(ctx, ev, reply)
	case "update_summary":
		o.cmdForceSummary(ctx, ev, reply)
	case "pronouns":
		o.cmdPronouns(ctx, ev, reply, args)
	case "limits":
		o.cmdLimits(ctx, ev, reply)
	default:
		return false
	}
	logger.Debug("command handled")
	return true
}

// cmdInitiate starts a link request from the event's platform toward the other
// one. The command only makes sense from the matching side.
func (o *Orchestrator) cmdInitiate(ctx context.Context, ev Event, reply Replier, from, to state.Platform, args []string) {
	if ev.Platform != from {
		o.deliver(ctx, reply, fmt.Sprintf("run that from your %s account instead", from), ev.Platform)
		return
	}
	if len(args) == 0 {
		o.deliver(ctx, reply, fmt.Sprintf("usage: !link_%s <your %s username>", to, to), ev.Platform)
		return
	}
	target := strings.TrimPrefix(args[0], "@")

	if to == state.PlatformTwitch && o.resolveTwitch != nil {
		if _, err := o.resolveTwitch.UserID(ctx, strings.ToLower(target)); err != nil {
			o.deliver(ctx, reply, fmt.Sprintf("couldn't find a twitch user named %s", target), ev.Platform)
			return
		}
	}

	// Make sure the initiating side exists even when the command is the
	// user's first contact.
	o.store.GetOrCreate(ev.Platform, ev.UserID, ev.Username, ev.DisplayName)

	err := o.broker.Initiate(ctx, state.Key(ev.Platform, ev.UserID), to, target)
	switch {
	case errors.Is(err, link.ErrAlreadyPending):
		o.deliver(ctx, reply, "you already have a link request pending, confirm or wait for it to expire", ev.Platform)
	case errors.Is(err, link.ErrAlreadyLinked):
		o.deliver(ctx, reply, "your accounts are already linked", ev.Platform)
	case err != nil:
		o.deliver(ctx, reply, "could not start the link, try again in a bit", ev.Platform)
		slog.Warn("link initiate failed", slog.Any("err", err))
	default:
		o.deliver(ctx, reply, fmt.Sprintf("ok! now send !confirm_link from %s as %s within %s", to, target, o.cfg.LinkTTL), ev.Platform)
	}
}

func (o *Orchestrator) cmdConfirm(ctx context.Context, ev Event, reply Replier) {
	merged, err := o.broker.Confirm(ctx, ev.Platform, ev.UserID, ev.Username, ev.DisplayName)
	switch {
	case errors.Is(err, link.ErrNoPendingLink):
		o.deliver(ctx, reply, "no pending link request for you, start one from the other platform first", ev.Platform)
	case errors.Is(err, link.ErrAlreadyLinked):
		o.deliver(ctx, reply, "your accounts are already linked", ev.Platform)
	case errors.Is(err, link.ErrConflictingIdentifiers):
		if telemetry.LinkConflicts != nil {
			telemetry.LinkConflicts.Inc()
		}
		o.deliver(ctx, reply, "both accounts already have an identity on the same platform, unlink one first", ev.Platform)
	case err != nil:
		o.deliver(ctx, reply, "linking failed, try again in a bit", ev.Platform)
		slog.Warn("link confirm failed", slog.Any("err", err))
	default:
		if telemetry.LinksConfirmed != nil {
			telemetry.LinksConfirmed.Inc()
		}
		o.deliver(ctx, reply, fmt.Sprintf("linked! I'll remember you as %s everywhere now", merged.PrimaryName()), ev.Platform)
	}
}

func (o *Orchestrator) cmdUnlink(ctx context.Context, ev Event, reply Replier) {
	err := o.broker.Unlink(ctx, state.Key(ev.Platform, ev.UserID))
	switch {
	case errors.Is(err, link.ErrUnknownUser), errors.Is(err, link.ErrNotLinked):
		o.deliver(ctx, reply, "your accounts are not linked", ev.Platform)
	case err != nil:
		o.deliver(ctx, reply, "unlinking failed, try again in a bit", ev.Platform)
		slog.Warn("unlink failed", slog.Any("err", err))
	default:
		o.deliver(ctx, reply, "unlinked, each account keeps its own history from here", ev.Platform)
	}
}

// cmdForceSummary runs a summary update immediately, outside the normal
// threshold trigger.
func (o *Orchestrator) cmdForceSummary(ctx context.Context, ev Event, reply Replier) {
	u, _ := o.store.GetOrCreate(ev.Platform, ev.UserID, ev.Username, ev.DisplayName)
	if u == nil {
		return
	}
	u.Lock()
	defer u.Unlock()

	_, err := o.scheduler.ForceSummarize(ctx, u)
	switch {
	case errors.Is(err, summary.ErrNotEnoughHistory):
		o.deliver(ctx, reply, "not enough conversation to summarize yet, talk to me first", ev.Platform)
	case err != nil:
		if telemetry.SummaryFailures != nil {
			telemetry.SummaryFailures.Inc()
		}
		o.deliver(ctx, reply, "summary update failed, I'll catch up automatically later", ev.Platform)
	default:
		if telemetry.SummaryUpdates != nil {
			telemetry.SummaryUpdates.Inc()
		}
		if err := o.store.Save(ctx, u); err != nil {
			slog.Error("failed to persist after forced summary", slog.Any("err", err))
		}
		o.deliver(ctx, reply, "memory refreshed", ev.Platform)
	}
}

func (o *Orchestrator) cmdPronouns(ctx context.Context, ev Event, reply Replier, args []string) {
	u, _ := o.store.GetOrCreate(ev.Platform, ev.UserID, ev.Username, ev.DisplayName)
	if u == nil {
		return
	}
	u.Lock()
	defer u.Unlock()

	if len(args) == 0 {
		if u.Pronouns == "" {
			o.deliver(ctx, reply, "no pronouns on file, set them with !pronouns <your pronouns>", ev.Platform)
		} else {
			o.deliver(ctx, reply, "I have your pronouns as "+u.Pronouns, ev.Platform)
		}
		return
	}

	u.Pronouns = strings.Join(args, " ")
	u.PronounsSetAt = time.Now().UTC()
	if err := o.store.Save(ctx, u); err != nil {
		slog.Error("failed to persist pronouns", slog.Any("err", err))
		o.deliver(ctx, reply, "couldn't save that, try again in a bit", ev.Platform)
		return
	}
	o.deliver(ctx, reply, "got it, "+u.Pronouns, ev.Platform)
}

func (o *Orchestrator) cmdLimits(ctx context.Context, ev Event, reply Replier) {
	snap := o.limiter.Snapshot()
	o.deliver(ctx, reply, fmt.Sprintf("today: %d/%d, this minute: %d/%d",
		snap.DailyUsed, snap.DailyLimit, snap.MinuteUsed, snap.MinuteLimit), ev.Platform)
}
