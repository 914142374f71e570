package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agorai/agorai/internal/agentconfig"
	"github.com/agorai/agorai/internal/bridgeerr"
	"github.com/agorai/agorai/internal/metrics"
)

// MinPollInterval is the smallest poll interval New accepts; a
// configured value below it (including an unset one) is replaced with
// DefaultPollInterval.
const MinPollInterval = 500 * time.Millisecond

// DefaultPollInterval is used when Options.PollInterval is unset or
// below MinPollInterval.
const DefaultPollInterval = 3000 * time.Millisecond

// Options configures a Loop.
type Options struct {
	Client       BridgeClient
	Adapter      Adapter
	AgentID      string
	AgentName    string
	Mode         agentconfig.Mode
	PollInterval time.Duration
	SystemPrompt string
}

// Loop implements the per-tick contract in full: discovery and
// subscription, per-conversation unread processing with mandatory
// self-filtering and (in passive mode) @-mention matching, strict
// send-then-mark-read ordering, and the backoff/session-recovery state
// machine around transport failures.
type Loop struct {
	opts       Options
	mention    *regexp.Regexp
	subscribed map[string]bool
}

// New constructs a Loop. The passive-mode @-mention regex is built from
// a regex-escaped AgentName, so an agent name containing metacharacters
// can never produce an invalid or overly permissive pattern.
func New(opts Options) *Loop {
	if opts.PollInterval < MinPollInterval {
		opts.PollInterval = DefaultPollInterval
	}
	l := &Loop{opts: opts, subscribed: make(map[string]bool)}
	if opts.Mode == agentconfig.ModePassive {
		l.mention = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(opts.AgentName))
	}
	return l
}

// Run drives ticks until ctx is cancelled. It returns a non-nil error
// only when the very first Initialize fails; every steady-state
// transport failure is absorbed into the backoff loop, matching the
// specification's "fatal in C7 per call, backoff+retry in C6" policy.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.opts.Client.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer l.opts.Client.Close(context.WithoutCancel(ctx))

	if selfID, err := l.opts.Client.SelfID(ctx); err == nil && selfID != "" {
		l.opts.AgentID = selfID
	}

	bo := newDefaultBackoff()
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := l.tick(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err == nil {
			metrics.AgentLoopTicksTotal.WithLabelValues(l.opts.AgentName, "ok").Inc()
			bo.Reset()
			if !sleep(ctx, l.opts.PollInterval) {
				return nil
			}
			continue
		}

		metrics.AgentLoopTicksTotal.WithLabelValues(l.opts.AgentName, "error").Inc()

		if bridgeerr.IsSessionExpired(err) {
			slog.Warn("agentloop: session expired, re-initializing", "agent", l.opts.AgentName)
			if initErr := l.opts.Client.Initialize(ctx); initErr == nil {
				bo.Reset()
				if !sleep(ctx, l.opts.PollInterval) {
					return nil
				}
				continue
			}
			slog.Warn("agentloop: re-initialize failed, backing off", "agent", l.opts.AgentName, "error", err)
		} else {
			slog.Warn("agentloop: tick failed, backing off", "agent", l.opts.AgentName, "error", err)
		}

		if !sleep(ctx, bo.NextBackOff()) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// tick runs one discovery + per-conversation pass.
func (l *Loop) tick(ctx context.Context) error {
	if err := l.discover(ctx); err != nil {
		return err
	}
	for convID := range l.subscribed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.processConversation(ctx, convID); err != nil {
			return err
		}
	}
	return nil
}

// discover lists every conversation across accessible projects and
// subscribes to any not yet seen, with history_access="from_join" per
// the specification.
func (l *Loop) discover(ctx context.Context) error {
	projects, err := l.opts.Client.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	for _, projectID := range projects {
		convs, err := l.opts.Client.ListConversations(ctx, projectID)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		for _, c := range convs {
			if l.subscribed[c.ID] {
				continue
			}
			if err := l.opts.Client.Subscribe(ctx, c.ID, "from_join"); err != nil {
				return fmt.Errorf("subscribe %s: %w", c.ID, err)
			}
			l.subscribed[c.ID] = true
		}
	}
	return nil
}

// processConversation fetches unread messages, applies the mandatory
// self-filter (and the passive-mode @-mention filter), and — if any
// remain — invokes the adapter and replies, marking read only on full
// success, in strict send-then-mark-read order.
func (l *Loop) processConversation(ctx context.Context, conversationID string) error {
	msgs, err := l.opts.Client.UnreadMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("unread messages: %w", err)
	}

	filtered := make([]MessageRef, 0, len(msgs))
	for _, m := range msgs {
		if m.FromAgent == l.opts.AgentID {
			continue // mandatory self-filter: never reply to one's own messages
		}
		if l.mention != nil && !l.mention.MatchString(m.Content) {
			continue // passive mode: only @-mentions qualify
		}
		filtered = append(filtered, m)
	}
	if len(filtered) == 0 {
		return nil
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
		}
		return filtered[i].ID < filtered[j].ID
	})

	prompt := l.assemblePrompt(filtered)
	reply, err := l.opts.Adapter.Reply(ctx, prompt)
	if err != nil {
		// Adapter failure: do NOT mark read. The messages remain
		// unread and are retried next tick (S3).
		return fmt.Errorf("adapter: %w", err)
	}

	if _, err := l.opts.Client.SendMessage(ctx, conversationID, reply); err != nil {
		// send_message failure: do NOT mark read, same retry contract.
		return fmt.Errorf("send message: %w", err)
	}
	metrics.AgentLoopRepliesTotal.WithLabelValues(l.opts.AgentName).Inc()

	lastID := filtered[len(filtered)-1].ID
	if err := l.opts.Client.MarkRead(ctx, conversationID, lastID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// assemblePrompt builds the messages slice passed to the Adapter: an
// optional system prompt, followed by one user message concatenating
// every new message's body in ascending (createdAt, id) order — the
// deterministic ordering the specification's open question directs.
func (l *Loop) assemblePrompt(msgs []MessageRef) []ChatMessage {
	var out []ChatMessage
	if l.opts.SystemPrompt != "" {
		out = append(out, ChatMessage{Role: "system", Content: l.opts.SystemPrompt})
	}
	bodies := make([]string, 0, len(msgs))
	for _, m := range msgs {
		bodies = append(bodies, m.Content)
	}
	out = append(out, ChatMessage{Role: "user", Content: strings.Join(bodies, "\n\n")})
	return out
}
