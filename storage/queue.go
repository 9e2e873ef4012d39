package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/priyankagnana/Kanvo/domain"
)

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// RepairMessage is a dequeued scope repair request.
type RepairMessage struct {
	Scope domain.Scope
	// UserID owns the scope. Messages written before it was recorded leave
	// it empty.
	UserID       string
	ID           string
	PopReceipt   string
	DequeueCount int64
	// Malformed is set when the message body could not be decoded.
	Malformed bool
}

type repairPayload struct {
	UserID string `json:"userId,omitempty"`
	domain.Scope
}

// EnqueueRepair schedules an asynchronous compaction of scope.
func (s *Storage) EnqueueRepair(ctx context.Context, userID string, scope domain.Scope) error {
	data, err := sonic.ConfigStd.MarshalToString(repairPayload{UserID: userID, Scope: scope})
	if err != nil {
		return err
	}
	if _, err := s.repairs.EnqueueMessage(ctx, data, nil); err != nil {
		return fmt.Errorf("enqueue repair %s: %w", scope, err)
	}
	return nil
}

// DequeueRepair retrieves a single repair message, nil when the queue is
// empty. The message stays invisible until CompleteRepair or its visibility
// timeout.
func (s *Storage) DequeueRepair(ctx context.Context) (*RepairMessage, error) {
	resp, err := s.repairs.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &RepairMessage{ID: deref(m.MessageID), PopReceipt: deref(m.PopReceipt)}
	if m.DequeueCount != nil {
		msg.DequeueCount = *m.DequeueCount
	}
	var payload repairPayload
	if err := sonic.ConfigStd.UnmarshalFromString(deref(m.MessageText), &payload); err != nil || payload.Scope.Validate() != nil {
		msg.Malformed = true
	}
	msg.Scope, msg.UserID = payload.Scope, payload.UserID
	return msg, nil
}

// CompleteRepair removes a processed message from the queue.
func (s *Storage) CompleteRepair(ctx context.Context, msg *RepairMessage) error {
	_, err := s.repairs.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
