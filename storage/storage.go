package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"habit-progress/domain"
)

// Tables names the Azure tables used by the service.
type Tables struct {
	Facts    string
	Progress string
	Groups   string
	Habits   string
}

// Names lists the table names in a fixed order.
func (t Tables) Names() []string {
	return []string{t.Facts, t.Progress, t.Groups, t.Habits}
}

// Message is a dequeued queue message.
type Message struct {
	ID         string
	PopReceipt string
	Text       string
}

// tableClient is the part of *aztables.Client the store uses.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// queueClient is the part of *azqueue.QueueClient the store uses.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Storage is the Azure Table Storage backed fact store, group directory and
// progress view, plus the recompute queue.
type Storage struct {
	factTable     tableClient
	progressTable tableClient
	groupTable    tableClient
	habitTable    tableClient
	queue         queueClient
	now           func() time.Time
}

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// New creates a Storage from the given connection string. An empty queue
// name disables event enqueueing.
func New(connStr string, tables Tables, queueName string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Millisecond * 200,
				MaxRetryDelay: time.Second * 5,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		factTable:     svc.NewClient(tables.Facts),
		progressTable: svc.NewClient(tables.Progress),
		groupTable:    svc.NewClient(tables.Groups),
		habitTable:    svc.NewClient(tables.Habits),
		now:           time.Now,
	}
	if queueName != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute,
					RetryDelay:    time.Second,
					MaxRetryDelay: time.Second * 30,
					StatusCodes:   retryStatusCodes,
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.queue = q
	}
	return s, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// GetFact returns the fact for (habitID, userID, date) or nil when absent.
func (s *Storage) GetFact(ctx context.Context, habitID, userID string, date time.Time) (*domain.Fact, error) {
	resp, err := s.factTable.GetEntity(ctx, factPartition(habitID, date), userID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, domain.NewStorageError("get fact", err)
	}
	var ent factEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	f, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// PutFact replaces the fact stored under its key. Writing the same fact
// twice leaves the same content in place.
func (s *Storage) PutFact(ctx context.Context, f domain.Fact) (domain.Fact, error) {
	f.Date = domain.Day(f.Date)
	f.UpdatedAt = s.now().UTC()
	payload, err := json.Marshal(toFactEntity(f))
	if err != nil {
		return domain.Fact{}, err
	}
	if _, err := s.factTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Fact{}, domain.NewStorageError("put fact", err)
	}
	return f, nil
}

// ListFacts returns every fact recorded for the habit on date.
func (s *Storage) ListFacts(ctx context.Context, habitID string, date time.Time) ([]domain.Fact, error) {
	filter := "PartitionKey eq " + quote(factPartition(habitID, date))
	pager := s.factTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	facts := []domain.Fact{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.NewStorageError("list facts", err)
		}
		for _, raw := range resp.Entities {
			var ent factEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			f, err := ent.toDomain()
			if err != nil {
				return nil, err
			}
			facts = append(facts, f)
		}
	}
	return facts, nil
}

// GetProgress returns the stored progress for (habitID, date) or nil.
func (s *Storage) GetProgress(ctx context.Context, habitID string, date time.Time) (*domain.GroupProgress, error) {
	resp, err := s.progressTable.GetEntity(ctx, habitID, domain.DateKey(date), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, domain.NewStorageError("get progress", err)
	}
	var ent progressEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	p, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProgress overwrites the progress row for (p.HabitID, p.Date).
func (s *Storage) UpsertProgress(ctx context.Context, p domain.GroupProgress) error {
	payload, err := json.Marshal(toProgressEntity(p))
	if err != nil {
		return err
	}
	if _, err := s.progressTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.NewStorageError("upsert progress", err)
	}
	return nil
}

// ListProgress returns the progress rows of a habit between from and to
// inclusive, ordered by date.
func (s *Storage) ListProgress(ctx context.Context, habitID string, from, to time.Time) ([]domain.GroupProgress, error) {
	filter := "PartitionKey eq " + quote(habitID) +
		" and RowKey ge " + quote(domain.DateKey(from)) +
		" and RowKey le " + quote(domain.DateKey(to))
	pager := s.progressTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.GroupProgress{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.NewStorageError("list progress", err)
		}
		for _, raw := range resp.Entities {
			var ent progressEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			p, err := ent.toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// GetGroup returns the group or nil when it does not exist.
func (s *Storage) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	resp, err := s.groupTable.GetEntity(ctx, groupID, groupID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, domain.NewStorageError("get group", err)
	}
	var ent groupEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	g, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// UpsertGroup creates or replaces a group.
func (s *Storage) UpsertGroup(ctx context.Context, g domain.Group) error {
	ent, err := toGroupEntity(g)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.groupTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.NewStorageError("upsert group", err)
	}
	return nil
}

// GetHabit returns the habit of a group or nil when it does not exist.
func (s *Storage) GetHabit(ctx context.Context, groupID, habitID string) (*domain.Habit, error) {
	resp, err := s.habitTable.GetEntity(ctx, groupID, habitID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, domain.NewStorageError("get habit", err)
	}
	var ent habitEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	h, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHabits returns all habits of a group ordered by id.
func (s *Storage) ListHabits(ctx context.Context, groupID string) ([]domain.Habit, error) {
	filter := "PartitionKey eq " + quote(groupID)
	pager := s.habitTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	habits := []domain.Habit{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.NewStorageError("list habits", err)
		}
		for _, raw := range resp.Entities {
			var ent habitEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			h, err := ent.toDomain()
			if err != nil {
				return nil, err
			}
			habits = append(habits, h)
		}
	}
	sort.Slice(habits, func(i, j int) bool { return habits[i].ID < habits[j].ID })
	return habits, nil
}

// UpsertHabit creates or replaces a habit.
func (s *Storage) UpsertHabit(ctx context.Context, h domain.Habit) error {
	payload, err := json.Marshal(toHabitEntity(h))
	if err != nil {
		return err
	}
	if _, err := s.habitTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.NewStorageError("upsert habit", err)
	}
	return nil
}

// EnqueueEvent sends ev to the recompute queue.
func (s *Storage) EnqueueEvent(ctx context.Context, ev domain.Event) error {
	if s.queue == nil {
		return nil
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return domain.NewStorageError("enqueue event", err)
	}
	return nil
}

// Dequeue retrieves a single message from the recompute queue, or nil when
// the queue is empty.
func (s *Storage) Dequeue(ctx context.Context) (*Message, error) {
	if s.queue == nil {
		return nil, errors.New("queue not configured")
	}
	resp, err := s.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, domain.NewStorageError("dequeue", err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	out := &Message{}
	if msg.MessageID != nil {
		out.ID = *msg.MessageID
	}
	if msg.PopReceipt != nil {
		out.PopReceipt = *msg.PopReceipt
	}
	if msg.MessageText != nil {
		out.Text = *msg.MessageText
	}
	return out, nil
}

// Delete removes a processed message from the queue.
func (s *Storage) Delete(ctx context.Context, msg *Message) error {
	if s.queue == nil || msg == nil {
		return nil
	}
	if _, err := s.queue.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil); err != nil {
		if isNotFound(err) {
			// Already gone: another consumer finished it or the receipt expired.
			return nil
		}
		return domain.NewStorageError("delete message", err)
	}
	return nil
}
