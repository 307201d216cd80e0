package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"mathbot/internal/domain"
	"mathbot/internal/prompt"
)

const slackMaxMsgLen = 4000

// slackAPI is the subset of *slack.Client the channel uses.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// Slack implements domain.Channel for Slack using Socket Mode.
type Slack struct {
	botToken          string
	appToken          string
	ackReaction       string
	questionReactions map[string]bool
	api               slackAPI
	client            *slack.Client
	bus               domain.MessageBus
	logger            *slog.Logger
	botUID            string // the bot's own user ID, to avoid replying to self
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken          string
	AppToken          string
	AckReaction       string   // reaction added while a question is being answered
	QuestionReactions []string // reactions that ask the bot to answer a message
	Logger            *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.AckReaction == "" {
		cfg.AckReaction = "brain"
	}
	if len(cfg.QuestionReactions) == 0 {
		cfg.QuestionReactions = []string{"question", "grey_question"}
	}
	qr := make(map[string]bool, len(cfg.QuestionReactions))
	for _, r := range cfg.QuestionReactions {
		qr[strings.Trim(r, ":")] = true
	}
	return &Slack{
		botToken:          cfg.BotToken,
		appToken:          cfg.AppToken,
		ackReaction:       strings.Trim(cfg.AckReaction, ":"),
		questionReactions: qr,
		logger:            cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and blocks until ctx is done.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	s.client = slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.api = s.client

	authResp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID, "team", authResp.Team)

	socketClient := socketmode.New(s.client)

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				s.logger.Debug("slack socket mode connecting")
			case socketmode.EventTypeConnected:
				s.logger.Info("slack socket mode connected")
			case socketmode.EventTypeConnectionError:
				s.logger.Warn("slack socket mode connection error")
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
				if !ok {
					continue
				}
				s.handleEventsAPI(ctx, eventsAPIEvent)
			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Ignore bots (including ourselves) and edits, joins and other subtypes.
		if ev.User == "" || ev.User == s.botUID || ev.BotID != "" || ev.SubType != "" {
			return
		}
		// Mentions arrive again as app_mention; answer them once.
		if s.botUID != "" && strings.Contains(ev.Text, "<@"+s.botUID+">") {
			return
		}
		s.logger.Debug("slack message received", "user", ev.User, "channel", ev.Channel, "content_len", len(ev.Text))
		s.bus.Publish(domain.IncomingEvent{
			ID:        uuid.NewString(),
			Platform:  s.Name(),
			ChannelID: ev.Channel,
			ThreadID:  ev.ThreadTimeStamp,
			MessageID: ev.TimeStamp,
			AuthorID:  ev.User,
			RawText:   ev.Text,
			Timestamp: slackTime(ev.TimeStamp),
		})

	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.User == s.botUID || ev.BotID != "" {
			return
		}
		s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)
		s.bus.Publish(domain.IncomingEvent{
			ID:        uuid.NewString(),
			Platform:  s.Name(),
			ChannelID: ev.Channel,
			ThreadID:  ev.ThreadTimeStamp,
			MessageID: ev.TimeStamp,
			AuthorID:  ev.User,
			RawText:   prompt.CleanText(ev.Text),
			Timestamp: slackTime(ev.TimeStamp),
			Direct:    true,
		})

	case *slackevents.ReactionAddedEvent:
		if !s.questionReactions[ev.Reaction] || ev.Item.Type != "message" || ev.User == s.botUID {
			return
		}
		s.handleQuestionReaction(ctx, ev)
	}
}

// handleQuestionReaction answers the message someone reacted to with a
// question mark, threaded on that message.
func (s *Slack) handleQuestionReaction(ctx context.Context, ev *slackevents.ReactionAddedEvent) {
	resp, err := s.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: ev.Item.Channel,
		Latest:    ev.Item.Timestamp,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		s.logger.Warn("slack reacted message lookup failed", "channel", ev.Item.Channel, "ts", ev.Item.Timestamp, "err", err)
		return
	}
	if len(resp.Messages) == 0 {
		// Replies inside threads aren't returned by conversations.history.
		s.logger.Debug("slack reacted message not found", "channel", ev.Item.Channel, "ts", ev.Item.Timestamp)
		return
	}
	msg := resp.Messages[0]
	if msg.BotID != "" || msg.User == s.botUID {
		return
	}
	s.logger.Info("slack question reaction received", "user", ev.User, "channel", ev.Item.Channel, "reaction", ev.Reaction)
	s.bus.Publish(domain.IncomingEvent{
		ID:        uuid.NewString(),
		Platform:  s.Name(),
		ChannelID: ev.Item.Channel,
		ThreadID:  msg.ThreadTimestamp,
		MessageID: msg.Timestamp,
		AuthorID:  ev.User,
		RawText:   prompt.CleanText(msg.Text),
		Timestamp: slackTime(msg.Timestamp),
		Direct:    true,
	})
}

// Send posts the reply into its thread, splitting long text, and uploads
// the attachment into the same thread. A failed upload after the text went
// out is reported as domain.ErrVisualizationFailed.
func (s *Slack) Send(ctx context.Context, reply domain.OutgoingReply) error {
	if s.api == nil {
		return errors.New("slack: not connected")
	}
	if strings.TrimSpace(reply.Text) != "" {
		for _, chunk := range splitMessage(reply.Text, slackMaxMsgLen) {
			opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
			if reply.ThreadID != "" {
				opts = append(opts, slack.MsgOptionTS(reply.ThreadID))
			}
			if _, _, err := s.api.PostMessageContext(ctx, reply.ChannelID, opts...); err != nil {
				return fmt.Errorf("slack post message: %w", err)
			}
		}
	}
	if a := reply.Attachment; a != nil {
		_, err := s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Reader:          bytes.NewReader(a.Data),
			FileSize:        len(a.Data),
			Filename:        a.Filename,
			Title:           a.Title,
			Channel:         reply.ChannelID,
			ThreadTimestamp: reply.ThreadID,
		})
		if err != nil {
			return fmt.Errorf("%w: slack upload %s: %v", domain.ErrVisualizationFailed, a.Filename, err)
		}
	}
	return nil
}

// Acknowledge reacts to the message so the asker sees it is being worked on.
func (s *Slack) Acknowledge(ctx context.Context, ev domain.IncomingEvent) error {
	if s.api == nil || ev.MessageID == "" {
		return nil
	}
	err := s.api.AddReactionContext(ctx, s.ackReaction, slack.NewRefToMessage(ev.ChannelID, ev.MessageID))
	if err != nil && strings.Contains(err.Error(), "already_reacted") {
		return nil
	}
	return err
}

// History returns the earlier messages of the event's thread, oldest first.
func (s *Slack) History(ctx context.Context, ev domain.IncomingEvent, limit int) ([]domain.Turn, error) {
	if s.api == nil || ev.ThreadID == "" || limit <= 0 {
		return nil, nil
	}
	msgs, _, _, err := s.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: ev.ChannelID,
		Timestamp: ev.ThreadID,
		Limit:     limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("slack conversation replies: %w", err)
	}

	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp == ev.MessageID {
			continue // the question itself
		}
		text := prompt.CleanText(m.Text)
		if text == "" {
			continue
		}
		role := domain.RoleUser
		if m.BotID != "" || m.User == s.botUID {
			role = domain.RoleAssistant
		}
		turns = append(turns, domain.Turn{Role: role, Text: text})
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// slackTime parses a message timestamp such as "1700000000.000100".
func slackTime(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	var usec int64
	if frac != "" {
		usec, _ = strconv.ParseInt((frac + "000000")[:6], 10, 64)
	}
	return time.Unix(s, usec*1000)
}
