package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/learnhub/messaging-service/internal/domain"
	"github.com/learnhub/messaging-service/internal/events"
	"github.com/learnhub/messaging-service/internal/repository"
	apperrors "github.com/learnhub/messaging-service/pkg/util"
)

type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += d.Milliseconds()
}

type countingThreads struct {
	repository.ThreadRepository
	creates atomic.Int64
	reads   atomic.Int64
}

func (c *countingThreads) CreateIfAbsent(ctx context.Context, t *domain.Thread) (bool, error) {
	c.creates.Add(1)
	return c.ThreadRepository.CreateIfAbsent(ctx, t)
}

func (c *countingThreads) GetByID(ctx context.Context, id string) (*domain.Thread, error) {
	c.reads.Add(1)
	return c.ThreadRepository.GetByID(ctx, id)
}

type fixture struct {
	svc     *MessagingService
	threads *countingThreads
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	threads := &countingThreads{ThreadRepository: store.Threads()}
	feed := events.NewMemoryFeed()
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	events.NewFeedRelay(feed).Register(dispatcher)
	clock := &fakeClock{ms: 1_700_000_000_000}

	svc := NewMessagingService(MessagingDependencies{
		ThreadRepo:       threads,
		MessageRepo:      store.Messages(),
		Dispatcher:       dispatcher,
		Feed:             feed,
		Logger:           zap.NewNop(),
		Clock:            clock.Now,
		OperationTimeout: time.Second,
	})
	return &fixture{svc: svc, threads: threads, clock: clock}
}

func strPtr(s string) *string { return &s }

func (f *fixture) start(t *testing.T, teacher, student string, course *string) *domain.Thread {
	t.Helper()
	thread, _, err := f.svc.StartThread(context.Background(), teacher, StartThreadInput{
		TeacherID:   teacher,
		TeacherName: "Teacher " + teacher,
		StudentID:   student,
		StudentName: "Student " + student,
		CourseID:    course,
	})
	require.NoError(t, err)
	return thread
}

func (f *fixture) send(t *testing.T, threadID, from, text string) *domain.Message {
	t.Helper()
	msg, err := f.svc.AppendMessage(context.Background(), AppendMessageInput{
		ThreadID: threadID,
		FromID:   from,
		Text:     &text,
	})
	require.NoError(t, err)
	return msg
}

func waitFor[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "watch closed before expected snapshot")
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestStartThreadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := StartThreadInput{TeacherID: "t1", StudentID: "s1", CourseID: strPtr("c1")}

	first, created, err := f.svc.StartThread(ctx, "t1", input)
	require.NoError(t, err)
	assert.True(t, created)
	require.EqualValues(t, 1, f.threads.creates.Load())

	second, created, err := f.svc.StartThread(ctx, "s1", input)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 1, f.threads.creates.Load(), "second start must not create")
}

func TestStartThreadKeepsFirstWriterFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.svc.StartThread(ctx, "t1", StartThreadInput{
		TeacherID: "t1", TeacherName: "Ada", StudentID: "s1", StudentName: "Bo",
		CourseID: strPtr("c1"), CourseTitle: strPtr("Algebra"),
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	again, created, err := f.svc.StartThread(ctx, "t1", StartThreadInput{
		TeacherID: "t1", TeacherName: "Renamed", StudentID: "s1", StudentName: "Other",
		CourseID: strPtr(" c1 "), CourseTitle: strPtr("Geometry"),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Ada", again.TeacherName)
	assert.Equal(t, "Algebra", *again.CourseTitle)
	assert.Equal(t, first.CreatedAtMs, again.CreatedAtMs)
}

func TestStartThreadNewThreadDefaults(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	now := f.clock.Now().UnixMilli()
	assert.Equal(t, now, thread.CreatedAtMs)
	assert.Equal(t, now, thread.LastAtMs)
	assert.Empty(t, thread.LastFromID)
	assert.Nil(t, thread.LastText)
	assert.Nil(t, thread.CourseID)
	assert.Empty(t, thread.LastReadAtMs)
	assert.ElementsMatch(t, []string{"t1", "s1"}, thread.Participants)
}

func TestStartThreadDistinctCoursesAreDistinctThreads(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, "t1", "s1", strPtr("c1"))
	b := f.start(t, "t1", "s1", strPtr("c2"))
	free := f.start(t, "t1", "s1", nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, free.ID)

	inbox, err := f.svc.ListInbox(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, inbox, 3)
}

func TestStartThreadConcurrentCallsCreateOneThread(t *testing.T) {
	f := newFixture(t)
	const callers = 16

	var (
		wg      sync.WaitGroup
		created atomic.Int64
		ids     sync.Map
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := "T1"
			if i%2 == 1 {
				caller = "S1"
			}
			thread, ok, err := f.svc.StartThread(context.Background(), caller, StartThreadInput{
				TeacherID: "T1", StudentID: "S1", CourseID: strPtr("C1"),
			})
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				created.Add(1)
			}
			ids.Store(thread.ID, struct{}{})
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	count := 0
	ids.Range(func(any, any) bool { count++; return true })
	assert.Equal(t, 1, count)

	inbox, err := f.svc.ListInbox(context.Background(), "T1")
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestStartThreadValidation(t *testing.T) {
	tests := []struct {
		name   string
		caller string
		input  StartThreadInput
		code   string
	}{
		{"missing teacher", "s1", StartThreadInput{StudentID: "s1"}, apperrors.CodeValidation},
		{"missing student", "t1", StartThreadInput{TeacherID: "t1"}, apperrors.CodeValidation},
		{"same participant", "t1", StartThreadInput{TeacherID: "t1", StudentID: " t1 "}, apperrors.CodeValidation},
		{"unsafe id", "t.1", StartThreadInput{TeacherID: "t.1", StudentID: "s1"}, apperrors.CodeValidation},
		{"outsider", "x1", StartThreadInput{TeacherID: "t1", StudentID: "s1"}, apperrors.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, _, err := f.svc.StartThread(context.Background(), tt.caller, tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Zero(t, f.threads.reads.Load(), "rejected before any store access")
			assert.Zero(t, f.threads.creates.Load())
		})
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	const n = 12
	for i := 0; i < n; i++ {
		from := "t1"
		if i%2 == 1 {
			from = "s1"
		}
		f.send(t, thread.ID, from, "msg")
		// Every third message shares its millisecond with the next.
		if i%3 != 0 {
			f.clock.Advance(time.Millisecond)
		}
	}

	msgs, err := f.svc.ListMessages(context.Background(), "t1", thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i := 1; i < n; i++ {
		assert.LessOrEqual(t, msgs[i-1].AtMs, msgs[i].AtMs)
		assert.Less(t, msgs[i-1].Seq, msgs[i].Seq)
	}
}

func TestAppendMessageUpdatesSummary(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)
	f.clock.Advance(time.Second)

	msg := f.send(t, thread.ID, "t1", "hello")

	got, err := f.svc.GetThread(context.Background(), "s1", thread.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastText)
	assert.Equal(t, "hello", *got.LastText)
	assert.Equal(t, "t1", got.LastFromID)
	assert.Equal(t, msg.AtMs, got.LastAtMs)
	assert.Equal(t, msg.Seq, got.LastSeq)
}

func TestAppendMessageTruncatesSummary(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	f.send(t, thread.ID, "t1", strings.Repeat("é", 200))

	got, err := f.svc.GetThread(context.Background(), "t1", thread.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastText)
	assert.Equal(t, 140, utf8.RuneCountInString(*got.LastText))
	assert.True(t, utf8.ValidString(*got.LastText))

	msgs, err := f.svc.ListMessages(context.Background(), "t1", thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 200, utf8.RuneCountInString(*msgs[0].Text), "stored message keeps full text")
}

func TestAppendMessageAttachmentPlaceholder(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	msg, err := f.svc.AppendMessage(context.Background(), AppendMessageInput{
		ThreadID: thread.ID,
		FromID:   "s1",
		Text:     strPtr("   "),
		Attachments: []AttachmentInput{
			{StorageKey: "uploads/a.pdf", FileName: "a.pdf", MimeType: "application/pdf", SizeBytes: 10},
			{StorageKey: "uploads/b.png", FileName: "b.png", MimeType: "image/png", SizeBytes: 20},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, msg.Text)
	require.Len(t, msg.Attachments, 2)
	assert.NotEmpty(t, msg.Attachments[0].ID)

	got, err := f.svc.GetThread(context.Background(), "t1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "📎 2 attachments", *got.LastText)
}

func TestAppendMessageRejections(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	tests := []struct {
		name  string
		input AppendMessageInput
		code  string
	}{
		{"empty message", AppendMessageInput{ThreadID: thread.ID, FromID: "t1", Text: strPtr("  ")}, apperrors.CodeValidation},
		{"no content", AppendMessageInput{ThreadID: thread.ID, FromID: "t1"}, apperrors.CodeValidation},
		{"bad attachment", AppendMessageInput{ThreadID: thread.ID, FromID: "t1", Attachments: []AttachmentInput{{FileName: "a"}}}, apperrors.CodeValidation},
		{"outsider", AppendMessageInput{ThreadID: thread.ID, FromID: "x1", Text: strPtr("hi")}, apperrors.CodeForbidden},
		{"unknown thread", AppendMessageInput{ThreadID: "th_missing", FromID: "t1", Text: strPtr("hi")}, apperrors.CodeNotFound},
		{"missing thread id", AppendMessageInput{FromID: "t1", Text: strPtr("hi")}, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AppendMessage(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	msgs, err := f.svc.ListMessages(context.Background(), "t1", thread.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestUnreadLaw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	thread := f.start(t, "teacher1", "student1", nil)

	fresh, err := f.svc.GetThread(ctx, "student1", thread.ID)
	require.NoError(t, err)
	assert.False(t, domain.HasUnread(fresh, "student1"), "no messages, nothing unread")

	f.clock.Advance(time.Second)
	f.send(t, thread.ID, "teacher1", "homework is due")

	got, err := f.svc.GetThread(ctx, "student1", thread.ID)
	require.NoError(t, err)
	assert.True(t, domain.HasUnread(got, "student1"))
	assert.False(t, domain.HasUnread(got, "teacher1"))

	f.clock.Advance(time.Second)
	advanced, err := f.svc.MarkRead(ctx, thread.ID, "student1", 0)
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err = f.svc.GetThread(ctx, "student1", thread.ID)
	require.NoError(t, err)
	assert.False(t, domain.HasUnread(got, "student1"))
}

func TestMarkReadIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	thread := f.start(t, "t1", "s1", nil)

	advanced, err := f.svc.MarkRead(ctx, thread.ID, "s1", 2000)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = f.svc.MarkRead(ctx, thread.ID, "s1", 1000)
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err := f.svc.GetThread(ctx, "s1", thread.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, got.LastReadAt("s1"))

	_, err = f.svc.MarkRead(ctx, thread.ID, "x1", 3000)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.MarkRead(ctx, thread.ID, "s1", -1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestMarkReadCapsFutureMarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	thread := f.start(t, "teacher1", "student1", nil)
	now := f.clock.Now().UnixMilli()

	advanced, err := f.svc.MarkRead(ctx, thread.ID, "student1", now+time.Hour.Milliseconds())
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err := f.svc.GetThread(ctx, "student1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, now, got.LastReadAt("student1"))

	f.clock.Advance(time.Minute)
	f.send(t, thread.ID, "teacher1", "new reading list")

	got, err = f.svc.GetThread(ctx, "student1", thread.ID)
	require.NoError(t, err)
	assert.True(t, domain.HasUnread(got, "student1"))
}

// gatedMessages holds appends from one sender until released.
type gatedMessages struct {
	repository.MessageRepository
	from    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedMessages) Append(ctx context.Context, msg *domain.Message) error {
	if msg.FromID == g.from {
		close(g.entered)
		<-g.release
	}
	return g.MessageRepository.Append(ctx, msg)
}

func TestConcurrentAppendsKeepSummaryOnNewestMessage(t *testing.T) {
	store := repository.NewMemoryStore()
	clock := &fakeClock{ms: 1_700_000_000_000}
	gate := &gatedMessages{
		MessageRepository: store.Messages(),
		from:              "student1",
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	svc := NewMessagingService(MessagingDependencies{
		ThreadRepo:       store.Threads(),
		MessageRepo:      gate,
		Logger:           zap.NewNop(),
		Clock:            clock.Now,
		OperationTimeout: time.Second,
	})
	ctx := context.Background()
	thread, _, err := svc.StartThread(ctx, "teacher1", StartThreadInput{TeacherID: "teacher1", StudentID: "student1"})
	require.NoError(t, err)

	clock.Advance(2 * time.Millisecond)
	done := make(chan error, 1)
	go func() {
		_, err := svc.AppendMessage(ctx, AppendMessageInput{ThreadID: thread.ID, FromID: "student1", Text: strPtr("question")})
		done <- err
	}()
	<-gate.entered

	// The student's timestamp is already taken; the teacher commits first with a later one.
	clock.Advance(time.Millisecond)
	_, err = svc.AppendMessage(ctx, AppendMessageInput{ThreadID: thread.ID, FromID: "teacher1", Text: strPtr("answer")})
	require.NoError(t, err)
	close(gate.release)
	require.NoError(t, <-done)

	msgs, err := svc.ListMessages(ctx, "teacher1", thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for i := 1; i < len(msgs); i++ {
		assert.LessOrEqual(t, msgs[i-1].AtMs, msgs[i].AtMs)
		assert.Less(t, msgs[i-1].Seq, msgs[i].Seq)
	}
	last := msgs[len(msgs)-1]

	got, err := svc.GetThread(ctx, "teacher1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, last.FromID, got.LastFromID)
	assert.Equal(t, last.AtMs, got.LastAtMs)
	assert.Equal(t, last.Seq, got.LastSeq)
	require.NotNil(t, got.LastText)
	assert.Equal(t, *last.Text, *got.LastText)
	assert.True(t, domain.HasUnread(got, "teacher1"), "the student's reply is the newest message")
}

func TestListInboxSortedByRecency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.start(t, "t1", "s1", strPtr("c1"))
	f.clock.Advance(time.Second)
	newer := f.start(t, "t2", "s1", nil)
	f.clock.Advance(time.Second)
	f.send(t, older.ID, "t1", "bump")

	inbox, err := f.svc.ListInbox(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, older.ID, inbox[0].ID)
	assert.Equal(t, newer.ID, inbox[1].ID)

	empty, err := f.svc.ListInbox(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestGetThreadRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	_, err := f.svc.GetThread(context.Background(), "x1", thread.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.ListMessages(context.Background(), "x1", thread.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestWatchInboxSeesNewThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.WatchInbox(ctx, "S1")
	require.NoError(t, err)
	defer w.Close()

	initial := waitFor(t, w.Updates(), func([]domain.Thread) bool { return true })
	assert.Empty(t, initial)

	thread := f.start(t, "T1", "S1", strPtr("C1"))

	snapshot := waitFor(t, w.Updates(), func(ts []domain.Thread) bool { return len(ts) == 1 })
	assert.Equal(t, thread.ID, snapshot[0].ID)

	f.clock.Advance(time.Second)
	f.send(t, thread.ID, "T1", "welcome")
	snapshot = waitFor(t, w.Updates(), func(ts []domain.Thread) bool {
		return len(ts) == 1 && ts[0].LastText != nil
	})
	assert.Equal(t, "welcome", *snapshot[0].LastText)
	assert.True(t, domain.HasUnread(&snapshot[0], "S1"))
}

func TestWatchMessagesDeliversOrderedLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	thread := f.start(t, "t1", "s1", nil)

	w, err := f.svc.WatchMessages(ctx, "s1", thread.ID)
	require.NoError(t, err)
	defer w.Close()

	waitFor(t, w.Updates(), func(ms []domain.Message) bool { return len(ms) == 0 })

	for i := 0; i < 3; i++ {
		f.send(t, thread.ID, "t1", "line")
		f.clock.Advance(time.Millisecond)
	}

	msgs := waitFor(t, w.Updates(), func(ms []domain.Message) bool { return len(ms) == 3 })
	for i := 1; i < len(msgs); i++ {
		assert.Less(t, msgs[i-1].Seq, msgs[i].Seq)
	}
}

func TestWatchMessagesRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	_, err := f.svc.WatchMessages(context.Background(), "x1", thread.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestWatchCloseStopsDelivery(t *testing.T) {
	f := newFixture(t)
	thread := f.start(t, "t1", "s1", nil)

	w, err := f.svc.WatchMessages(context.Background(), "t1", thread.ID)
	require.NoError(t, err)
	waitFor(t, w.Updates(), func([]domain.Message) bool { return true })

	w.Close()
	w.Close()

	f.send(t, thread.ID, "s1", "after close")

	select {
	case _, ok := <-w.Updates():
		assert.False(t, ok, "no snapshot after close")
	case <-time.After(time.Second):
		t.Fatal("updates channel not closed")
	}
	assert.NoError(t, w.Err())
}

func TestWatchStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	w, err := f.svc.WatchInbox(ctx, "s1")
	require.NoError(t, err)
	defer w.Close()

	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

type failingThreads struct {
	repository.ThreadRepository
	err error
}

func (f failingThreads) GetByID(ctx context.Context, _ string) (*domain.Thread, error) {
	if errors.Is(f.err, context.DeadlineExceeded) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, f.err
}

func TestStoreFailuresSurfaceAsStoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"unavailable", errors.New("connection refused"), apperrors.CodeStore},
		{"timeout", context.DeadlineExceeded, apperrors.CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			svc := NewMessagingService(MessagingDependencies{
				ThreadRepo:       failingThreads{ThreadRepository: store.Threads(), err: tt.err},
				MessageRepo:      store.Messages(),
				OperationTimeout: 20 * time.Millisecond,
			})

			_, _, err := svc.StartThread(context.Background(), "t1", StartThreadInput{TeacherID: "t1", StudentID: "s1"})
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
