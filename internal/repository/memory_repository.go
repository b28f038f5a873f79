package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/learnhub/messaging-service/internal/domain"
)

// MemoryStore keeps threads and messages in process memory.
// It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*domain.Thread
	seqs     map[string]int64
	clocks   map[string]int64
	messages map[string][]domain.Message
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]*domain.Thread),
		seqs:     make(map[string]int64),
		clocks:   make(map[string]int64),
		messages: make(map[string][]domain.Message),
	}
}

// Threads exposes the store as a ThreadRepository.
func (s *MemoryStore) Threads() ThreadRepository { return (*memoryThreads)(s) }

// Messages exposes the store as a MessageRepository.
func (s *MemoryStore) Messages() MessageRepository { return (*memoryMessages)(s) }

type memoryThreads MemoryStore

func (r *memoryThreads) GetByID(ctx context.Context, id string) (*domain.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (r *memoryThreads) CreateIfAbsent(ctx context.Context, thread *domain.Thread) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[thread.ID]; ok {
		return false, nil
	}
	r.threads[thread.ID] = thread.Clone()
	return true, nil
}

func (r *memoryThreads) UpdateSummary(ctx context.Context, id string, summary domain.ThreadSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return ErrNotFound
	}
	t.ApplySummary(summary)
	return nil
}

func (r *memoryThreads) SetLastRead(ctx context.Context, id, userID string, atMs int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.LastReadAtMs == nil {
		t.LastReadAtMs = map[string]int64{}
	}
	if prev, ok := t.LastReadAtMs[userID]; ok && prev >= atMs {
		return false, nil
	}
	t.LastReadAtMs[userID] = atMs
	return true, nil
}

func (r *memoryThreads) ListByParticipant(ctx context.Context, userID string) ([]domain.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Thread
	for _, t := range r.threads {
		for _, p := range t.Participants {
			if p == userID {
				result = append(result, *t.Clone())
				break
			}
		}
	}
	return result, nil
}

type memoryMessages MemoryStore

func (r *memoryMessages) Append(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[msg.ThreadID]; !ok {
		return ErrNotFound
	}
	r.seqs[msg.ThreadID]++
	msg.Seq = r.seqs[msg.ThreadID]
	if prev := r.clocks[msg.ThreadID]; msg.AtMs < prev {
		msg.AtMs = prev
	}
	r.clocks[msg.ThreadID] = msg.AtMs
	msg.ID = uuid.NewString()
	r.messages[msg.ThreadID] = append(r.messages[msg.ThreadID], *msg.Clone())
	return nil
}

func (r *memoryMessages) ListByThread(ctx context.Context, threadID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	stored := r.messages[threadID]
	result := make([]domain.Message, 0, len(stored))
	for i := range stored {
		result = append(result, *stored[i].Clone())
	}
	r.mu.RUnlock()
	SortMessages(result)
	return result, nil
}

// SortMessages orders messages by AtMs then Seq.
func SortMessages(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].AtMs != msgs[j].AtMs {
			return msgs[i].AtMs < msgs[j].AtMs
		}
		return msgs[i].Seq < msgs[j].Seq
	})
}
