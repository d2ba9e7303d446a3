package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-chat/internal/ai"
	"github.com/suPer8Hu/ai-chat/internal/chat"
	"github.com/suPer8Hu/ai-chat/internal/db/dbtest"
	"github.com/suPer8Hu/ai-chat/internal/stream"
)

const uid uint64 = 7

// spyLedger records every streaming write before delegating to the real ledger.
type spyLedger struct {
	svc    *chat.Service
	mu     sync.Mutex
	writes map[uint64][]chat.Message
}

func (s *spyLedger) UpdateStreamingContent(ctx context.Context, userID uint64, messageID, gen uint64, content string, isStreaming, complete bool) error {
	err := s.svc.UpdateStreamingContent(ctx, userID, messageID, gen, content, isStreaming, complete)
	if err == nil {
		s.mu.Lock()
		s.writes[messageID] = append(s.writes[messageID], chat.Message{
			Content: content, IsStreaming: isStreaming, StreamingComplete: complete,
		})
		s.mu.Unlock()
	}
	return err
}

// recordingProvider streams its reply word by word and remembers each history it saw.
type recordingProvider struct {
	mu    sync.Mutex
	reply string
	seen  [][]ai.Message
}

func (p *recordingProvider) Chat(_ context.Context, messages []ai.Message) (string, error) {
	return p.reply, nil
}

func (p *recordingProvider) StreamChat(_ context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	p.mu.Lock()
	p.seen = append(p.seen, append([]ai.Message(nil), messages...))
	p.mu.Unlock()

	words := strings.SplitAfter(p.reply, " ")
	chunks := make(chan string, len(words))
	errs := make(chan error, 1)
	for _, w := range words {
		chunks <- w
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

type fixture struct {
	svc   *chat.Service
	spy   *spyLedger
	sched *InlineScheduler
	disp  *Dispatcher
}

func newFixture(t *testing.T, providers map[string]ai.Provider) *fixture {
	t.Helper()
	svc := chat.NewService(chat.NewRepo(dbtest.Open(t, chat.Models()...)), "openai", "gpt-4o-mini")

	reg := ai.NewRegistry()
	for name, p := range providers {
		reg.Register(name, func(context.Context, string) (ai.Provider, error) { return p, nil })
	}
	spy := &spyLedger{svc: svc, writes: map[uint64][]chat.Message{}}
	sched := NewInlineScheduler(stream.New(reg, spy))
	return &fixture{svc: svc, spy: spy, sched: sched, disp: NewDispatcher(svc, sched)}
}

func TestSendMessage_StreamsToCompletion(t *testing.T) {
	prov := &recordingProvider{reply: "Hi! How can I help?"}
	f := newFixture(t, map[string]ai.Provider{"openai": prov})
	ctx := context.Background()

	c, err := f.svc.CreateChat(ctx, uid, "Test", "gpt-4o-mini", "openai")
	require.NoError(t, err)

	ack, err := f.disp.SendMessage(ctx, uid, c.ID, "hello")
	require.NoError(t, err)
	f.sched.Wait()

	msgs, err := f.svc.GetChatMessages(ctx, uid, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, ack.UserMessageID, msgs[0].ID)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)

	a := msgs[1]
	assert.Equal(t, ack.AssistantMessageID, a.ID)
	assert.Equal(t, chat.RoleAssistant, a.Role)
	assert.Equal(t, "Hi! How can I help?", a.Content)
	assert.False(t, a.IsStreaming)
	assert.True(t, a.StreamingComplete)
	require.NotNil(t, a.Model)
	assert.Equal(t, "gpt-4o-mini", *a.Model)
	assert.Equal(t, "openai", *a.Provider)

	writes := f.spy.writes[a.ID]
	require.Greater(t, len(writes), 1)
	for i, w := range writes[:len(writes)-1] {
		assert.True(t, w.IsStreaming)
		assert.False(t, w.StreamingComplete)
		assert.True(t, strings.HasPrefix(writes[i+1].Content, w.Content))
	}
	last := writes[len(writes)-1]
	assert.False(t, last.IsStreaming)
	assert.True(t, last.StreamingComplete)

	require.Len(t, prov.seen, 1)
	assert.Equal(t, []ai.Message{{Role: "user", Content: "hello"}}, prov.seen[0])
}

func TestSendMessage_UnsupportedProvider(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateChat(ctx, uid, "Test", "x", "unsupported")
	require.NoError(t, err)

	ack, err := f.disp.SendMessage(ctx, uid, c.ID, "hello")
	require.NoError(t, err)
	f.sched.Wait()

	a, err := f.svc.GetMessage(ctx, uid, ack.AssistantMessageID)
	require.NoError(t, err)
	assert.Equal(t, stream.Apology, a.Content)
	assert.False(t, a.IsStreaming)
	assert.True(t, a.StreamingComplete)
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t, map[string]ai.Provider{"openai": &recordingProvider{reply: "x"}})
	ctx := context.Background()

	c, err := f.svc.CreateChat(ctx, uid, "Test", "m", "openai")
	require.NoError(t, err)

	_, err = f.disp.SendMessage(ctx, uid+1, c.ID, "hello")
	assert.ErrorIs(t, err, chat.ErrNotAuthorized)
	_, err = f.disp.SendMessage(ctx, 0, c.ID, "hello")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
	_, err = f.disp.SendMessage(ctx, uid, c.ID, "   ")
	assert.ErrorIs(t, err, chat.ErrInvalidOperation)

	msgs, err := f.svc.GetChatMessages(ctx, uid, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRetryMessage_UsesPrefixOnly(t *testing.T) {
	prov := &recordingProvider{reply: "regenerated answer"}
	f := newFixture(t, map[string]ai.Provider{"openai": prov})
	ctx := context.Background()

	c, err := f.svc.CreateChat(ctx, uid, "Test", "m", "openai")
	require.NoError(t, err)
	add := func(role, content string) *chat.Message {
		m, err := f.svc.AddMessage(ctx, uid, c.ID, chat.NewMessage{Role: role, Content: content, StreamingComplete: role == chat.RoleAssistant})
		require.NoError(t, err)
		return m
	}
	u1 := add(chat.RoleUser, "q1")
	a1 := add(chat.RoleAssistant, "a1")
	u2 := add(chat.RoleUser, "q2")
	a2 := add(chat.RoleAssistant, "a2")

	_, err = f.disp.RetryMessage(ctx, uid, u1.ID)
	assert.ErrorIs(t, err, chat.ErrInvalidOperation)

	ack, err := f.disp.RetryMessage(ctx, uid, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, ack.AssistantMessageID)
	f.sched.Wait()

	require.Len(t, prov.seen, 1)
	assert.Equal(t, []ai.Message{{Role: "user", Content: "q1"}}, prov.seen[0])

	msgs, err := f.svc.GetChatMessages(ctx, uid, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, []uint64{u1.ID, a1.ID, u2.ID, a2.ID},
		[]uint64{msgs[0].ID, msgs[1].ID, msgs[2].ID, msgs[3].ID})
	assert.Equal(t, "regenerated answer", msgs[1].Content)
	assert.True(t, msgs[1].StreamingComplete)
	assert.Equal(t, "q2", msgs[2].Content)
	assert.Equal(t, "a2", msgs[3].Content)
}

// gatedProvider holds its first stream until released; later streams answer at once.
type gatedProvider struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Chat(context.Context, []ai.Message) (string, error) { return "", nil }

func (p *gatedProvider) StreamChat(ctx context.Context, _ []ai.Message) (<-chan string, <-chan error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.mu.Unlock()

	chunks := make(chan string, 2)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if call == 0 {
			chunks <- "first "
			close(p.started)
			<-p.release
			chunks <- "run"
			return
		}
		chunks <- "second run"
	}()
	return chunks, errs
}

func TestRetryMessage_NewerRunWins(t *testing.T) {
	prov := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, map[string]ai.Provider{"openai": prov})
	ctx := context.Background()

	c, err := f.svc.CreateChat(ctx, uid, "Test", "m", "openai")
	require.NoError(t, err)
	_, err = f.svc.AddMessage(ctx, uid, c.ID, chat.NewMessage{Role: chat.RoleUser, Content: "q"})
	require.NoError(t, err)
	a, err := f.svc.AddMessage(ctx, uid, c.ID, chat.NewMessage{Role: chat.RoleAssistant, Content: "old", StreamingComplete: true})
	require.NoError(t, err)

	_, err = f.disp.RetryMessage(ctx, uid, a.ID)
	require.NoError(t, err)
	<-prov.started

	_, err = f.disp.RetryMessage(ctx, uid, a.ID)
	require.NoError(t, err)
	close(prov.release)
	f.sched.Wait()

	got, err := f.svc.GetMessage(ctx, uid, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "second run", got.Content)
	assert.False(t, got.IsStreaming)
	assert.True(t, got.StreamingComplete)
}

type failingScheduler struct{}

func (failingScheduler) Schedule(context.Context, stream.Run) error { return errors.New("queue down") }

func TestSendMessage_ScheduleFailureFinalizesPlaceholder(t *testing.T) {
	svc := chat.NewService(chat.NewRepo(dbtest.Open(t, chat.Models()...)), "openai", "m")
	disp := NewDispatcher(svc, failingScheduler{})
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, uid, "Test", "m", "openai")
	require.NoError(t, err)

	_, err = disp.SendMessage(ctx, uid, c.ID, "hello")
	require.Error(t, err)

	msgs, err := svc.GetChatMessages(ctx, uid, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, stream.Apology, msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
	assert.True(t, msgs[1].StreamingComplete)
}

// heldProvider records each history and holds its stream open until released.
type heldProvider struct {
	mu      sync.Mutex
	seen    [][]ai.Message
	release chan struct{}
}

func (p *heldProvider) Chat(context.Context, []ai.Message) (string, error) { return "", nil }

func (p *heldProvider) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	p.mu.Lock()
	p.seen = append(p.seen, append([]ai.Message(nil), messages...))
	p.mu.Unlock()

	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		<-p.release
		chunks <- "done"
	}()
	return chunks, errs
}

func TestSendMessage_OneStreamingReplyPerChat(t *testing.T) {
	prov := &heldProvider{release: make(chan struct{})}
	f := newFixture(t, map[string]ai.Provider{"openai": prov})
	ctx := context.Background()

	c, err := f.svc.CreateChat(ctx, uid, "Test", "m", "openai")
	require.NoError(t, err)
	_, err = f.svc.AddMessage(ctx, uid, c.ID, chat.NewMessage{Role: chat.RoleUser, Content: "q0"})
	require.NoError(t, err)
	old, err := f.svc.AddMessage(ctx, uid, c.ID, chat.NewMessage{Role: chat.RoleAssistant, Content: "a0", StreamingComplete: true})
	require.NoError(t, err)

	first, err := f.disp.SendMessage(ctx, uid, c.ID, "one")
	require.NoError(t, err)

	_, err = f.disp.SendMessage(ctx, uid, c.ID, "two")
	assert.ErrorIs(t, err, chat.ErrInvalidOperation)
	_, err = f.disp.RetryMessage(ctx, uid, old.ID)
	assert.ErrorIs(t, err, chat.ErrInvalidOperation)

	msgs, err := f.svc.GetChatMessages(ctx, uid, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	streaming := 0
	for _, m := range msgs {
		if m.IsStreaming {
			streaming++
			assert.Equal(t, first.AssistantMessageID, m.ID)
		}
	}
	assert.Equal(t, 1, streaming)
	assert.Equal(t, "a0", msgs[1].Content)

	close(prov.release)
	f.sched.Wait()

	_, err = f.disp.SendMessage(ctx, uid, c.ID, "two")
	require.NoError(t, err)
	f.sched.Wait()

	require.Len(t, prov.seen, 2)
	for _, m := range prov.seen[1] {
		assert.NotEmpty(t, m.Content, "history must not carry an empty placeholder")
	}
	assert.Equal(t, ai.Message{Role: "user", Content: "two"}, prov.seen[1][len(prov.seen[1])-1])
}
