package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"mathbot/internal/bus"
	"mathbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type postedMessage struct {
	channel  string
	text     string
	threadTS string
}

// fakeSlackAPI records calls and serves canned conversation data.
type fakeSlackAPI struct {
	posted    []postedMessage
	uploads   []slack.UploadFileV2Parameters
	reactions []string
	history   []slack.Message
	replies   []slack.Message
	reactErr  error
	postErr   error
	uploadErr error
}

func (f *fakeSlackAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT", User: "mathbot"}, nil
}

func (f *fakeSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.postErr != nil {
		return "", "", f.postErr
	}
	_, values, err := slack.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.com/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.posted = append(f.posted, postedMessage{
		channel:  channelID,
		text:     values.Get("text"),
		threadTS: values.Get("thread_ts"),
	})
	return channelID, "2.0", nil
}

func (f *fakeSlackAPI) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if f.reactErr != nil {
		return f.reactErr
	}
	f.reactions = append(f.reactions, name+"@"+item.Channel+"/"+item.Timestamp)
	return nil
}

func (f *fakeSlackAPI) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	return &slack.GetConversationHistoryResponse{Messages: f.history}, nil
}

func (f *fakeSlackAPI) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	return f.replies, false, "", nil
}

func (f *fakeSlackAPI) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	f.uploads = append(f.uploads, params)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &slack.FileSummary{ID: "F1", Title: params.Title}, nil
}

func newTestSlack(api *fakeSlackAPI) (*Slack, *bus.InMemoryBus) {
	b := bus.New(10, testLogger())
	s := NewSlack(SlackConfig{BotToken: "xoxb-test", AppToken: "xapp-test", Logger: testLogger()})
	s.api = api
	s.bus = b
	s.botUID = "UBOT"
	return s, b
}

func callback(data any) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: data},
	}
}

// nextEvent returns the published event, or false when nothing was published.
func nextEvent(b *bus.InMemoryBus) (domain.IncomingEvent, bool) {
	select {
	case ev := <-b.Subscribe():
		return ev, true
	default:
		return domain.IncomingEvent{}, false
	}
}

func TestSlack_MessagePublished(t *testing.T) {
	s, b := newTestSlack(&fakeSlackAPI{})
	s.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{
		User:            "U1",
		Channel:         "C1",
		Text:            "What is the derivative of x^2?",
		TimeStamp:       "1700000000.000100",
		ThreadTimeStamp: "1699999999.000001",
	}))

	ev, ok := nextEvent(b)
	if !ok {
		t.Fatal("expected an event to be published")
	}
	if ev.Platform != "slack" || ev.ChannelID != "C1" || ev.AuthorID != "U1" {
		t.Errorf("unexpected addressing: %+v", ev)
	}
	if ev.MessageID != "1700000000.000100" || ev.ThreadID != "1699999999.000001" {
		t.Errorf("unexpected ids: message=%q thread=%q", ev.MessageID, ev.ThreadID)
	}
	if ev.Direct {
		t.Error("plain channel message should not be direct")
	}
	if ev.ID == "" {
		t.Error("event ID should be set")
	}
	if ev.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", ev.Timestamp)
	}
}

func TestSlack_SkipRules(t *testing.T) {
	tests := []struct {
		name string
		ev   *slackevents.MessageEvent
	}{
		{"bot message", &slackevents.MessageEvent{User: "U1", BotID: "B1", Text: "solve x"}},
		{"own message", &slackevents.MessageEvent{User: "UBOT", Text: "solve x"}},
		{"subtype", &slackevents.MessageEvent{User: "U1", SubType: "message_changed", Text: "solve x"}},
		{"no user", &slackevents.MessageEvent{Text: "solve x"}},
		{"mentions bot", &slackevents.MessageEvent{User: "U1", Text: "<@UBOT> solve x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b := newTestSlack(&fakeSlackAPI{})
			s.handleEventsAPI(context.Background(), callback(tt.ev))
			if ev, ok := nextEvent(b); ok {
				t.Errorf("expected no event, got %+v", ev)
			}
		})
	}
}

func TestSlack_AppMentionIsDirect(t *testing.T) {
	s, b := newTestSlack(&fakeSlackAPI{})
	s.handleEventsAPI(context.Background(), callback(&slackevents.AppMentionEvent{
		User:      "U1",
		Channel:   "C1",
		Text:      "<@UBOT> what's 2+2?",
		TimeStamp: "1700000000.000200",
	}))

	ev, ok := nextEvent(b)
	if !ok {
		t.Fatal("expected an event")
	}
	if !ev.Direct {
		t.Error("app mention should be direct")
	}
	if ev.RawText != "what's 2+2?" {
		t.Errorf("mention should be stripped, got %q", ev.RawText)
	}
	if ev.ReplyThread() != "1700000000.000200" {
		t.Errorf("reply thread = %q", ev.ReplyThread())
	}
}

func TestSlack_QuestionReaction(t *testing.T) {
	api := &fakeSlackAPI{history: []slack.Message{{Msg: slack.Msg{
		User:      "U2",
		Text:      "how do I integrate sin(x)?",
		Timestamp: "1700000000.000300",
	}}}}
	s, b := newTestSlack(api)
	ev := &slackevents.ReactionAddedEvent{
		User:     "U1",
		Reaction: "question",
		Item:     slackevents.Item{Type: "message", Channel: "C1", Timestamp: "1700000000.000300"},
	}
	s.handleEventsAPI(context.Background(), callback(ev))

	got, ok := nextEvent(b)
	if !ok {
		t.Fatal("expected an event")
	}
	if !got.Direct || got.RawText != "how do I integrate sin(x)?" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.ReplyThread() != "1700000000.000300" {
		t.Errorf("reply should thread on the reacted message, got %q", got.ReplyThread())
	}
}

func TestSlack_OtherReactionIgnored(t *testing.T) {
	api := &fakeSlackAPI{history: []slack.Message{{Msg: slack.Msg{User: "U2", Text: "x", Timestamp: "1.0"}}}}
	s, b := newTestSlack(api)
	s.handleEventsAPI(context.Background(), callback(&slackevents.ReactionAddedEvent{
		User:     "U1",
		Reaction: "thumbsup",
		Item:     slackevents.Item{Type: "message", Channel: "C1", Timestamp: "1.0"},
	}))
	if _, ok := nextEvent(b); ok {
		t.Error("non-question reaction should be ignored")
	}
}

func TestSlack_SendThreaded(t *testing.T) {
	api := &fakeSlackAPI{}
	s, _ := newTestSlack(api)
	err := s.Send(context.Background(), domain.OutgoingReply{
		Platform:  "slack",
		ChannelID: "C1",
		ThreadID:  "1700000000.000100",
		Text:      "The answer is *4*.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.posted) != 1 {
		t.Fatalf("expected 1 post, got %d", len(api.posted))
	}
	if api.posted[0].threadTS != "1700000000.000100" {
		t.Errorf("thread_ts = %q", api.posted[0].threadTS)
	}
	if api.posted[0].text != "The answer is *4*." {
		t.Errorf("text = %q", api.posted[0].text)
	}
}

func TestSlack_SendSplitsLongText(t *testing.T) {
	api := &fakeSlackAPI{}
	s, _ := newTestSlack(api)
	line := strings.Repeat("a", 99) + "\n"
	text := strings.Repeat(line, 100) // 10000 bytes
	if err := s.Send(context.Background(), domain.OutgoingReply{ChannelID: "C1", ThreadID: "1.0", Text: text}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.posted) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(api.posted))
	}
	var joined strings.Builder
	for _, p := range api.posted {
		if len(p.text) > slackMaxMsgLen {
			t.Errorf("chunk too long: %d", len(p.text))
		}
		joined.WriteString(p.text)
	}
	if joined.String() != text {
		t.Error("chunks should reassemble the original text")
	}
}

func TestSlack_SendAttachment(t *testing.T) {
	api := &fakeSlackAPI{}
	s, _ := newTestSlack(api)
	err := s.Send(context.Background(), domain.OutgoingReply{
		ChannelID:  "C1",
		ThreadID:   "1.0",
		Text:       "Here's the plot.",
		Attachment: &domain.Attachment{Filename: "plot.png", Title: "y = x^2", Data: []byte{0x89, 'P', 'N', 'G'}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(api.uploads))
	}
	up := api.uploads[0]
	if up.Channel != "C1" || up.ThreadTimestamp != "1.0" || up.FileSize != 4 || up.Filename != "plot.png" {
		t.Errorf("unexpected upload params: %+v", up)
	}
}

func TestSlack_SendUploadFailureIsVisualizationFailure(t *testing.T) {
	api := &fakeSlackAPI{uploadErr: errors.New("not_allowed_token_type")}
	s, _ := newTestSlack(api)
	err := s.Send(context.Background(), domain.OutgoingReply{
		ChannelID:  "C1",
		ThreadID:   "1.0",
		Text:       "Here's the plot.",
		Attachment: &domain.Attachment{Filename: "plot.png", Data: []byte{1}},
	})
	if !errors.Is(err, domain.ErrVisualizationFailed) {
		t.Fatalf("expected ErrVisualizationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "not_allowed_token_type") {
		t.Errorf("upload cause missing from %v", err)
	}
	if len(api.posted) != 1 || api.posted[0].text != "Here's the plot." {
		t.Errorf("text should be posted before the upload, got %+v", api.posted)
	}
}

func TestSlack_SendError(t *testing.T) {
	api := &fakeSlackAPI{postErr: errors.New("channel_not_found")}
	s, _ := newTestSlack(api)
	err := s.Send(context.Background(), domain.OutgoingReply{ChannelID: "C1", Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected wrapped post error, got %v", err)
	}
}

func TestSlack_SendNotConnected(t *testing.T) {
	s := NewSlack(SlackConfig{Logger: testLogger()})
	if err := s.Send(context.Background(), domain.OutgoingReply{ChannelID: "C1", Text: "hi"}); err == nil {
		t.Error("Send before Start should fail")
	}
}

func TestSlack_Acknowledge(t *testing.T) {
	api := &fakeSlackAPI{}
	s, _ := newTestSlack(api)
	ev := domain.IncomingEvent{ChannelID: "C1", MessageID: "1.5"}
	if err := s.Acknowledge(context.Background(), ev); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if len(api.reactions) != 1 || api.reactions[0] != "brain@C1/1.5" {
		t.Errorf("reactions = %v", api.reactions)
	}

	api.reactErr = errors.New("already_reacted")
	if err := s.Acknowledge(context.Background(), ev); err != nil {
		t.Errorf("already_reacted should be ignored, got %v", err)
	}
}

func TestSlack_History(t *testing.T) {
	api := &fakeSlackAPI{replies: []slack.Message{
		{Msg: slack.Msg{User: "U1", Text: "what is 2+2?", Timestamp: "1.0"}},
		{Msg: slack.Msg{User: "UBOT", BotID: "B1", Text: "It is 4.", Timestamp: "1.1"}},
		{Msg: slack.Msg{User: "U1", Text: "<@UBOT> and 3+3?", Timestamp: "1.2"}},
	}}
	s, _ := newTestSlack(api)
	turns, err := s.History(context.Background(), domain.IncomingEvent{ChannelID: "C1", ThreadID: "1.0", MessageID: "1.2"}, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns (current message excluded), got %d: %+v", len(turns), turns)
	}
	if turns[0].Role != domain.RoleUser || turns[0].Text != "what is 2+2?" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != domain.RoleAssistant || turns[1].Text != "It is 4." {
		t.Errorf("turn 1 = %+v", turns[1])
	}
}

func TestSlack_HistoryKeepsNewest(t *testing.T) {
	api := &fakeSlackAPI{replies: []slack.Message{
		{Msg: slack.Msg{User: "U1", Text: "one", Timestamp: "1.0"}},
		{Msg: slack.Msg{User: "U1", Text: "two", Timestamp: "1.1"}},
		{Msg: slack.Msg{User: "U1", Text: "three", Timestamp: "1.2"}},
	}}
	s, _ := newTestSlack(api)
	turns, err := s.History(context.Background(), domain.IncomingEvent{ChannelID: "C1", ThreadID: "1.0", MessageID: "1.9"}, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 || turns[0].Text != "two" || turns[1].Text != "three" {
		t.Errorf("expected newest two turns, got %+v", turns)
	}
}

func TestSlack_HistoryOutsideThread(t *testing.T) {
	s, _ := newTestSlack(&fakeSlackAPI{})
	turns, err := s.History(context.Background(), domain.IncomingEvent{ChannelID: "C1", MessageID: "1.0"}, 10)
	if err != nil || turns != nil {
		t.Errorf("expected no history outside a thread, got %v, %v", turns, err)
	}
}
