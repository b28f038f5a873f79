package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/messaging-service/internal/domain"
	"github.com/learnhub/messaging-service/internal/events"
	"github.com/learnhub/messaging-service/internal/observability"
	"github.com/learnhub/messaging-service/internal/repository"
	apperrors "github.com/learnhub/messaging-service/pkg/util"
)

// MessagingService coordinates thread identity, the message log, read state
// and live inbox/thread watches.
type MessagingService struct {
	threads         repository.ThreadRepository
	messages        repository.MessageRepository
	dispatcher      events.Dispatcher
	feed            events.Feed
	metrics         *observability.Metrics
	logger          *zap.Logger
	validate        *validator.Validate
	now             func() time.Time
	opTimeout       time.Duration
	summaryMaxRunes int
}

// MessagingDependencies bundles collaborators for the messaging service.
type MessagingDependencies struct {
	ThreadRepo       repository.ThreadRepository
	MessageRepo      repository.MessageRepository
	Dispatcher       events.Dispatcher
	Feed             events.Feed
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	Clock            func() time.Time
	OperationTimeout time.Duration
	SummaryMaxRunes  int
}

// StartThreadInput describes a "start conversation" request.
type StartThreadInput struct {
	TeacherID   string  `validate:"required,participantid"`
	TeacherName string  `validate:"max=200"`
	StudentID   string  `validate:"required,participantid,nefield=TeacherID"`
	StudentName string  `validate:"max=200"`
	CourseID    *string `validate:"omitempty,max=256"`
	CourseTitle *string `validate:"omitempty,max=500"`
}

// AttachmentInput defines attachment metadata supplied by the caller.
type AttachmentInput struct {
	ID         string `validate:"max=128"`
	StorageKey string `validate:"required,max=1024"`
	FileName   string `validate:"required,max=255"`
	MimeType   string `validate:"required,max=255"`
	SizeBytes  int64  `validate:"gte=0"`
}

// AppendMessageInput describes a message to append.
type AppendMessageInput struct {
	ThreadID    string
	FromID      string
	Text        *string           `validate:"omitempty,max=10000"`
	Attachments []AttachmentInput `validate:"max=20,dive"`
}

// NewMessagingService constructs the service.
func NewMessagingService(deps MessagingDependencies) *MessagingService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MessagingService{
		threads:         deps.ThreadRepo,
		messages:        deps.MessageRepo,
		dispatcher:      deps.Dispatcher,
		feed:            deps.Feed,
		metrics:         deps.Metrics,
		logger:          logger,
		validate:        newValidator(),
		now:             clock,
		opTimeout:       deps.OperationTimeout,
		summaryMaxRunes: deps.SummaryMaxRunes,
	}
}

// StartThread returns the thread for the (teacher, student, course) triple,
// creating it on first contact. The boolean reports whether this call created
// it. Descriptive fields of an existing thread are never updated.
func (s *MessagingService) StartThread(ctx context.Context, callerID string, input StartThreadInput) (*domain.Thread, bool, error) {
	input.TeacherID = strings.TrimSpace(input.TeacherID)
	input.StudentID = strings.TrimSpace(input.StudentID)
	input.CourseID = domain.NormalizeCourse(input.CourseID)
	if err := s.validate.Struct(input); err != nil {
		return nil, false, validationError("invalid thread participants", err)
	}
	if callerID != input.TeacherID && callerID != input.StudentID {
		return nil, false, apperrors.NewForbidden("caller must be a participant of the thread")
	}

	id, err := domain.DeriveThreadID(input.TeacherID, input.StudentID, input.CourseID)
	if err != nil {
		return nil, false, apperrors.NewValidationError(err.Error(), nil)
	}

	existing, err := s.getThread(ctx, id)
	if err == nil {
		s.metrics.ThreadStarted(false)
		return existing, false, nil
	}
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		return nil, false, err
	}

	nowMs := s.now().UnixMilli()
	thread := &domain.Thread{
		ID:           id,
		TeacherID:    input.TeacherID,
		TeacherName:  strings.TrimSpace(input.TeacherName),
		StudentID:    input.StudentID,
		StudentName:  strings.TrimSpace(input.StudentName),
		Participants: []string{input.TeacherID, input.StudentID},
		CourseID:     input.CourseID,
		CourseTitle:  input.CourseTitle,
		CreatedAtMs:  nowMs,
		LastAtMs:     nowMs,
		LastReadAtMs: map[string]int64{},
	}

	opCtx, cancel := s.opContext(ctx)
	created, err := s.threads.CreateIfAbsent(opCtx, thread)
	cancel()
	if err != nil {
		return nil, false, apperrors.NewStoreError("create thread", err)
	}
	s.metrics.ThreadStarted(created)
	if !created {
		// Lost the race to a concurrent start; the winner's record stands.
		existing, err := s.getThread(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.logger.Info("thread started",
		zap.String("thread_id", id),
		zap.String("teacher_id", thread.TeacherID),
		zap.String("student_id", thread.StudentID))
	s.publishEvent(ctx, events.Event{
		Type:         events.EventThreadStarted,
		ThreadID:     id,
		Actor:        callerID,
		Participants: thread.Participants,
		Payload: events.ThreadStartedPayload{
			TeacherID: thread.TeacherID,
			StudentID: thread.StudentID,
			CourseID:  thread.CourseID,
		},
	})
	return thread, true, nil
}

// AppendMessage appends a message to the thread and refreshes the thread
// summary. The message is durable before the summary reflects it.
func (s *MessagingService) AppendMessage(ctx context.Context, input AppendMessageInput) (*domain.Message, error) {
	thread, err := s.participantThread(ctx, input.ThreadID, input.FromID)
	if err != nil {
		return nil, err
	}

	if input.Text != nil {
		trimmed := strings.TrimSpace(*input.Text)
		input.Text = &trimmed
		if trimmed == "" {
			input.Text = nil
		}
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError("invalid message", err)
	}

	msg := &domain.Message{
		ThreadID:    thread.ID,
		FromID:      input.FromID,
		Text:        input.Text,
		Attachments: toAttachments(input.Attachments),
		AtMs:        s.now().UnixMilli(),
	}
	if !msg.HasContent() {
		return nil, apperrors.NewValidationError("message must carry text or attachments", nil)
	}
	// The store raises AtMs past concurrent appends; this floor covers the
	// thread's creation time.
	if msg.AtMs < thread.LastAtMs {
		msg.AtMs = thread.LastAtMs
	}

	opCtx, cancel := s.opContext(ctx)
	err = s.messages.Append(opCtx, msg)
	cancel()
	if err != nil {
		return nil, s.mapStoreError("append message", thread.ID, err)
	}

	text := ""
	if msg.Text != nil {
		text = *msg.Text
	}
	summary := domain.ThreadSummary{
		AtMs:   msg.AtMs,
		FromID: msg.FromID,
		Text:   domain.SummaryText(text, len(msg.Attachments), s.summaryMaxRunes),
		Seq:    msg.Seq,
	}
	opCtx, cancel = s.opContext(ctx)
	err = s.threads.UpdateSummary(opCtx, thread.ID, summary)
	cancel()
	if err != nil {
		return nil, s.mapStoreError("update thread summary", thread.ID, err)
	}

	s.metrics.MessageAppended()
	s.logger.Debug("message appended",
		zap.String("thread_id", thread.ID),
		zap.String("message_id", msg.ID),
		zap.Int64("seq", msg.Seq))
	s.publishEvent(ctx, events.Event{
		Type:         events.EventMessageAppended,
		ThreadID:     thread.ID,
		Actor:        msg.FromID,
		Participants: thread.Participants,
		Payload: events.MessageAppendedPayload{
			MessageID:       msg.ID,
			Seq:             msg.Seq,
			AtMs:            msg.AtMs,
			Preview:         summary.Text,
			AttachmentCount: len(msg.Attachments),
		},
	})
	return msg, nil
}

// MarkRead records that userID has read the thread up to atMs. Zero means
// now and marks in the future are capped at now. Read marks only move
// forward: an older mark is ignored and reported as not advanced.
func (s *MessagingService) MarkRead(ctx context.Context, threadID, userID string, atMs int64) (bool, error) {
	thread, err := s.participantThread(ctx, threadID, userID)
	if err != nil {
		return false, err
	}
	if atMs < 0 {
		return false, apperrors.NewValidationError("read timestamp must not be negative", map[string]any{"at_ms": atMs})
	}
	if now := s.now().UnixMilli(); atMs == 0 || atMs > now {
		atMs = now
	}

	opCtx, cancel := s.opContext(ctx)
	advanced, err := s.threads.SetLastRead(opCtx, thread.ID, userID, atMs)
	cancel()
	if err != nil {
		return false, s.mapStoreError("mark thread read", thread.ID, err)
	}
	s.metrics.ReadMarked(advanced)
	if advanced {
		s.publishEvent(ctx, events.Event{
			Type:         events.EventThreadRead,
			ThreadID:     thread.ID,
			Actor:        userID,
			Participants: thread.Participants,
			Payload:      events.ThreadReadPayload{UserID: userID, AtMs: atMs},
		})
	}
	return advanced, nil
}

// GetThread returns a thread to one of its participants.
func (s *MessagingService) GetThread(ctx context.Context, callerID, threadID string) (*domain.Thread, error) {
	return s.participantThread(ctx, threadID, callerID)
}

// ListInbox returns the user's threads, most recent first.
func (s *MessagingService) ListInbox(ctx context.Context, userID string) ([]domain.Thread, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	threads, err := s.threads.ListByParticipant(opCtx, userID)
	if err != nil {
		return nil, apperrors.NewStoreError("list inbox", err)
	}
	if threads == nil {
		threads = []domain.Thread{}
	}
	sortInbox(threads)
	return threads, nil
}

// ListMessages returns the thread's messages ordered by (atMs, seq).
func (s *MessagingService) ListMessages(ctx context.Context, callerID, threadID string) ([]domain.Message, error) {
	if _, err := s.participantThread(ctx, threadID, callerID); err != nil {
		return nil, err
	}
	return s.loadMessages(ctx, threadID)
}

// WatchInbox opens a live view of the user's inbox.
func (s *MessagingService) WatchInbox(ctx context.Context, userID string) (*Watch[[]domain.Thread], error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewValidationError("user id is required", nil)
	}
	sub, err := s.subscribe(ctx, events.InboxTopic(userID))
	if err != nil {
		return nil, err
	}
	release := s.metrics.WatchOpened("inbox")
	s.logger.Debug("inbox watch opened", zap.String("user_id", userID))
	return startWatch(ctx, sub, func(ctx context.Context) ([]domain.Thread, error) {
		return s.ListInbox(ctx, userID)
	}, s.logger.With(zap.String("watch", "inbox"), zap.String("user_id", userID)), release), nil
}

// WatchMessages opens a live view of a thread's message log for a participant.
func (s *MessagingService) WatchMessages(ctx context.Context, callerID, threadID string) (*Watch[[]domain.Message], error) {
	if _, err := s.participantThread(ctx, threadID, callerID); err != nil {
		return nil, err
	}
	sub, err := s.subscribe(ctx, events.ThreadTopic(threadID))
	if err != nil {
		return nil, err
	}
	release := s.metrics.WatchOpened("messages")
	s.logger.Debug("message watch opened", zap.String("thread_id", threadID), zap.String("user_id", callerID))
	return startWatch(ctx, sub, func(ctx context.Context) ([]domain.Message, error) {
		return s.loadMessages(ctx, threadID)
	}, s.logger.With(zap.String("watch", "messages"), zap.String("thread_id", threadID)), release), nil
}

func (s *MessagingService) subscribe(ctx context.Context, topic string) (events.Subscription, error) {
	if s.feed == nil {
		return nil, apperrors.NewInternalError(errors.New("change feed not configured"))
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	sub, err := s.feed.Subscribe(opCtx, topic)
	if err != nil {
		return nil, apperrors.NewStoreError("subscribe "+topic, err)
	}
	return sub, nil
}

func (s *MessagingService) loadMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	msgs, err := s.messages.ListByThread(opCtx, threadID)
	if err != nil {
		return nil, apperrors.NewStoreError("list messages", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func (s *MessagingService) participantThread(ctx context.Context, threadID, userID string) (*domain.Thread, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, apperrors.NewValidationError("thread id is required", nil)
	}
	thread, err := s.getThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(userID) {
		return nil, apperrors.NewForbidden("user is not a participant of the thread")
	}
	return thread, nil
}

func (s *MessagingService) getThread(ctx context.Context, id string) (*domain.Thread, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	thread, err := s.threads.GetByID(opCtx, id)
	if err != nil {
		return nil, s.mapStoreError("get thread", id, err)
	}
	return thread, nil
}

func (s *MessagingService) mapStoreError(op, threadID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("thread", map[string]any{"thread_id": threadID})
	}
	return apperrors.NewStoreError(op, err)
}

func (s *MessagingService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *MessagingService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

// sortInbox orders threads by lastAtMs descending. Ties keep store order.
func sortInbox(threads []domain.Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastAtMs > threads[j].LastAtMs
	})
}

func toAttachments(in []AttachmentInput) []domain.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, domain.Attachment{
			ID:         id,
			StorageKey: a.StorageKey,
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  a.SizeBytes,
		})
	}
	return out
}
