package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/learnhub/messaging-service/internal/domain"
)

const (
	threadsCollection  = "threads"
	messagesCollection = "thread_messages"
)

// DecodeError reports a stored document that cannot be mapped to a domain type.
type DecodeError struct {
	Collection string
	ID         string
	Reason     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s/%s: %s", e.Collection, e.ID, e.Reason)
}

type threadDocument struct {
	ID           string           `bson:"_id,omitempty"`
	TeacherID    string           `bson:"teacherId"`
	TeacherName  string           `bson:"teacherName"`
	StudentID    string           `bson:"studentId"`
	StudentName  string           `bson:"studentName"`
	Participants []string         `bson:"participants"`
	CourseID     *string          `bson:"courseId"`
	CourseTitle  *string          `bson:"courseTitle"`
	CreatedAtMs  int64            `bson:"createdAtMs"`
	LastAtMs     *int64           `bson:"lastAtMs"`
	LastFromID   string           `bson:"lastFromId"`
	LastText     *string          `bson:"lastText"`
	LastSeq      int64            `bson:"lastSeq"`
	MessageSeq   int64            `bson:"messageSeq"`
	LastReadAtMs map[string]int64 `bson:"lastReadAtMs"`
}

// decodeThread maps a stored document to a Thread. Absent participants default
// to the teacher/student pair, absent lastAtMs to createdAtMs and absent
// lastReadAtMs to an empty mapping; missing identity fields are an error.
func decodeThread(doc threadDocument) (*domain.Thread, error) {
	switch {
	case doc.ID == "":
		return nil, &DecodeError{Collection: threadsCollection, Reason: "missing _id"}
	case doc.TeacherID == "" || doc.StudentID == "":
		return nil, &DecodeError{Collection: threadsCollection, ID: doc.ID, Reason: "missing participant id"}
	}
	thread := &domain.Thread{
		ID:           doc.ID,
		TeacherID:    doc.TeacherID,
		TeacherName:  doc.TeacherName,
		StudentID:    doc.StudentID,
		StudentName:  doc.StudentName,
		Participants: doc.Participants,
		CourseID:     doc.CourseID,
		CourseTitle:  doc.CourseTitle,
		CreatedAtMs:  doc.CreatedAtMs,
		LastAtMs:     doc.CreatedAtMs,
		LastFromID:   doc.LastFromID,
		LastText:     doc.LastText,
		LastSeq:      doc.LastSeq,
		LastReadAtMs: doc.LastReadAtMs,
	}
	if len(thread.Participants) == 0 {
		thread.Participants = []string{doc.TeacherID, doc.StudentID}
	}
	if doc.LastAtMs != nil {
		thread.LastAtMs = *doc.LastAtMs
	}
	if thread.LastReadAtMs == nil {
		thread.LastReadAtMs = map[string]int64{}
	}
	return thread, nil
}

func encodeThread(t *domain.Thread) threadDocument {
	lastAt := t.LastAtMs
	readAt := t.LastReadAtMs
	if readAt == nil {
		readAt = map[string]int64{}
	}
	return threadDocument{
		ID:           t.ID,
		TeacherID:    t.TeacherID,
		TeacherName:  t.TeacherName,
		StudentID:    t.StudentID,
		StudentName:  t.StudentName,
		Participants: t.Participants,
		CourseID:     t.CourseID,
		CourseTitle:  t.CourseTitle,
		CreatedAtMs:  t.CreatedAtMs,
		LastAtMs:     &lastAt,
		LastFromID:   t.LastFromID,
		LastText:     t.LastText,
		LastSeq:      t.LastSeq,
		LastReadAtMs: readAt,
	}
}

type messageDocument struct {
	ID          string             `bson:"_id"`
	ThreadID    string             `bson:"threadId"`
	Seq         int64              `bson:"seq"`
	FromID      string             `bson:"fromId"`
	Text        *string            `bson:"text,omitempty"`
	Attachments []attachmentRecord `bson:"attachments"`
	AtMs        int64              `bson:"atMs"`
}

type mongoThreadRepository struct {
	coll *mongo.Collection
}

// NewMongoThreadRepository builds the document-store thread repository.
func NewMongoThreadRepository(db *mongo.Database) ThreadRepository {
	return &mongoThreadRepository{coll: db.Collection(threadsCollection)}
}

// EnsureMongoIndexes creates the membership and ordering indexes.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(threadsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "threadId", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *mongoThreadRepository) GetByID(ctx context.Context, id string) (*domain.Thread, error) {
	var doc threadDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeThread(doc)
}

func (r *mongoThreadRepository) CreateIfAbsent(ctx context.Context, thread *domain.Thread) (bool, error) {
	doc := encodeThread(thread)
	doc.ID = ""
	res, err := r.coll.UpdateByID(ctx, thread.ID, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	if err != nil {
		// Two racing upserts on the same _id: the loser sees a duplicate key.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (r *mongoThreadRepository) UpdateSummary(ctx context.Context, id string, summary domain.ThreadSummary) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "lastSeq": bson.M{"$lt": summary.Seq}},
		bson.M{"$set": bson.M{
			"lastAtMs":   summary.AtMs,
			"lastFromId": summary.FromID,
			"lastText":   summary.Text,
			"lastSeq":    summary.Seq,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

func (r *mongoThreadRepository) SetLastRead(ctx context.Context, id, userID string, atMs int64) (bool, error) {
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$max": bson.M{"lastReadAtMs." + userID: atMs}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, ErrNotFound
	}
	return res.ModifiedCount > 0, nil
}

func (r *mongoThreadRepository) ListByParticipant(ctx context.Context, userID string) ([]domain.Thread, error) {
	cur, err := r.coll.Find(ctx, bson.M{"participants": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []domain.Thread
	for cur.Next(ctx) {
		var doc threadDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		thread, err := decodeThread(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, *thread)
	}
	return result, cur.Err()
}

func (r *mongoThreadRepository) ensureExists(ctx context.Context, id string) error {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoMessageRepository struct {
	threads  *mongo.Collection
	messages *mongo.Collection
}

// NewMongoMessageRepository builds the document-store message log.
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{
		threads:  db.Collection(threadsCollection),
		messages: db.Collection(messagesCollection),
	}
}

func (r *mongoMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	var counter struct {
		MessageSeq  int64 `bson:"messageSeq"`
		MessageAtMs int64 `bson:"messageAtMs"`
	}
	err := r.threads.FindOneAndUpdate(ctx,
		bson.M{"_id": msg.ThreadID},
		bson.M{
			"$inc": bson.M{"messageSeq": 1},
			"$max": bson.M{"messageAtMs": msg.AtMs},
		},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"messageSeq": 1, "messageAtMs": 1}),
	).Decode(&counter)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	doc := messageDocument{
		ID:          uuid.NewString(),
		ThreadID:    msg.ThreadID,
		Seq:         counter.MessageSeq,
		FromID:      msg.FromID,
		Text:        msg.Text,
		Attachments: toAttachmentRecords(msg.Attachments),
		AtMs:        counter.MessageAtMs,
	}
	if _, err := r.messages.InsertOne(ctx, doc); err != nil {
		return err
	}
	msg.ID = doc.ID
	msg.Seq = doc.Seq
	msg.AtMs = doc.AtMs
	return nil
}

func (r *mongoMessageRepository) ListByThread(ctx context.Context, threadID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "atMs", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := r.messages.Find(ctx, bson.M{"threadId": threadID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []domain.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, domain.Message{
			ID:          doc.ID,
			ThreadID:    doc.ThreadID,
			FromID:      doc.FromID,
			Text:        doc.Text,
			Attachments: fromAttachmentRecords(doc.Attachments),
			AtMs:        doc.AtMs,
			Seq:         doc.Seq,
		})
	}
	return result, cur.Err()
}
