package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/priyankagnana/Kanvo/domain"
)

// tableAPI is the subset of *aztables.Client used by Storage.
type tableAPI interface {
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tc *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Storage persists boards, sections and tasks in Azure Tables.
//
// Layout: boards are partitioned by user id, sections and tasks by board
// id. Each ordered scope keeps a marker row next to its members that carries
// the scope version.
type Storage struct {
	boards   tableAPI
	sections tableAPI
	tasks    tableAPI
	repairs  queueAPI

	maxConflictRetries int
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, sectionsTable, tasksTable, repairQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	rq, err := azqueue.NewQueueClientFromConnectionString(connStr, repairQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return newStorage(svc.NewClient(boardsTable), svc.NewClient(sectionsTable), svc.NewClient(tasksTable), rq), nil
}

func newStorage(boards, sections, tasks tableAPI, repairs queueAPI) *Storage {
	return &Storage{
		boards:             boards,
		sections:           sections,
		tasks:              tasks,
		repairs:            repairs,
		maxConflictRetries: 3,
	}
}

// mapError translates table service failures into domain errors.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%s: %w", what, domain.ErrConcurrencyConflict)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// partitionFilter selects the members of one partition, skipping scope rows.
func partitionFilter(partitionKey string) string {
	return fmt.Sprintf("PartitionKey eq '%s' and Kind ne '%s'", escapeODataString(partitionKey), kindScope)
}

func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// listPartition decodes every non-scope entity of a partition.
func listPartition[T any](ctx context.Context, table tableAPI, partitionKey string, decode func([]byte) (T, error)) ([]T, error) {
	filter := partitionFilter(partitionKey)
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			v, err := decode(e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// deleteRows removes rows of one partition, maxTransactionActions rows per
// transaction.
func deleteRows(ctx context.Context, table tableAPI, partitionKey string, rowKeys []string) error {
	actions := make([]aztables.TransactionAction, 0, len(rowKeys))
	for _, rk := range rowKeys {
		payload, err := encode(entityKeys{PartitionKey: partitionKey, RowKey: rk})
		if err != nil {
			return err
		}
		et := azcore.ETagAny
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload, IfMatch: &et})
	}
	for _, chunk := range chunkActions(actions, maxTransactionActions) {
		if _, err := table.SubmitTransaction(ctx, chunk, nil); err != nil {
			return mapError(err, "delete rows")
		}
	}
	return nil
}

func chunkActions(actions []aztables.TransactionAction, size int) [][]aztables.TransactionAction {
	var chunks [][]aztables.TransactionAction
	for len(actions) > 0 {
		n := size
		if len(actions) < n {
			n = len(actions)
		}
		chunks = append(chunks, actions[:n])
		actions = actions[n:]
	}
	return chunks
}
