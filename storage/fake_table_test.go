package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

type fakeRow struct {
	props map[string]any
	etag  azcore.ETag
}

// fakeTable is an in-memory table with per-row ETags and atomic transactions.
type fakeTable struct {
	mu    sync.Mutex
	rows  map[string]map[string]*fakeRow
	seq   int
	txns  [][]aztables.TransactionAction
	// failTxn fails the transaction with this zero based index.
	failTxn int
	// beforeTxn runs before each transaction is applied.
	beforeTxn func(f *fakeTable, index int)
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]*fakeRow{}, failTxn: -1}
}

var partitionRe = regexp.MustCompile(`PartitionKey eq '((?:[^']|'')*)'`)

func (f *fakeTable) nextETag() azcore.ETag {
	f.seq++
	return azcore.ETag(fmt.Sprintf("W/\"%d\"", f.seq))
}

func (f *fakeTable) put(props map[string]any) {
	pk, rk := props["PartitionKey"].(string), props["RowKey"].(string)
	if f.rows[pk] == nil {
		f.rows[pk] = map[string]*fakeRow{}
	}
	f.rows[pk][rk] = &fakeRow{props: props, etag: f.nextETag()}
}

func (f *fakeTable) seed(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(decodeProps(v))
}

func (f *fakeTable) row(pk, rk string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[pk][rk]; ok {
		return r.props
	}
	return nil
}

func decodeProps(v any) map[string]any {
	var data []byte
	switch b := v.(type) {
	case []byte:
		data = b
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			panic(err)
		}
	}
	props := map[string]any{}
	if err := json.Unmarshal(data, &props); err != nil {
		panic(err)
	}
	return props
}

func respErr(status int) error {
	return &azcore.ResponseError{StatusCode: status}
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	pk := ""
	if opts != nil && opts.Filter != nil {
		if m := partitionRe.FindStringSubmatch(*opts.Filter); m != nil {
			pk = strings.ReplaceAll(m[1], "''", "'")
		}
	}
	skipScopes := opts != nil && opts.Filter != nil && strings.Contains(*opts.Filter, "Kind ne 'scope'")
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var keys []string
			for rk, r := range f.rows[pk] {
				if skipScopes && r.props["Kind"] == kindScope {
					continue
				}
				keys = append(keys, rk)
			}
			sort.Strings(keys)
			resp := aztables.ListEntitiesResponse{}
			for _, rk := range keys {
				data, _ := json.Marshal(f.rows[pk][rk].props)
				resp.Entities = append(resp.Entities, data)
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[pk][rk]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(http.StatusNotFound)
	}
	data, _ := json.Marshal(r.props)
	return aztables.GetEntityResponse{ETag: r.etag, Value: data}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	props := decodeProps(entity)
	if _, ok := f.rows[props["PartitionKey"].(string)][props["RowKey"].(string)]; ok {
		return aztables.AddEntityResponse{}, respErr(http.StatusConflict)
	}
	f.put(props)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	props := decodeProps(entity)
	var ifMatch *azcore.ETag
	merge := false
	if opts != nil {
		ifMatch = opts.IfMatch
		merge = opts.UpdateMode == aztables.UpdateModeMerge
	}
	if err := f.update(props, ifMatch, merge); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) update(props map[string]any, ifMatch *azcore.ETag, merge bool) error {
	pk, rk := props["PartitionKey"].(string), props["RowKey"].(string)
	r, ok := f.rows[pk][rk]
	if !ok {
		return respErr(http.StatusNotFound)
	}
	if ifMatch != nil && *ifMatch != azcore.ETagAny && *ifMatch != r.etag {
		return respErr(http.StatusPreconditionFailed)
	}
	if merge {
		for k, v := range props {
			r.props[k] = v
		}
	} else {
		r.props = props
	}
	r.etag = f.nextETag()
	return nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pk][rk]; !ok {
		return aztables.DeleteEntityResponse{}, respErr(http.StatusNotFound)
	}
	delete(f.rows[pk], rk)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	index := len(f.txns)
	f.txns = append(f.txns, actions)
	hook := f.beforeTxn
	f.mu.Unlock()
	if hook != nil {
		hook(f, index)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if index == f.failTxn {
		return aztables.TransactionResponse{}, respErr(http.StatusInternalServerError)
	}
	if len(actions) > maxTransactionActions {
		return aztables.TransactionResponse{}, respErr(http.StatusBadRequest)
	}
	// validate first so the transaction applies all or nothing
	for _, a := range actions {
		props := decodeProps(a.Entity)
		pk, rk := props["PartitionKey"].(string), props["RowKey"].(string)
		r, exists := f.rows[pk][rk]
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			if exists {
				return aztables.TransactionResponse{}, respErr(http.StatusConflict)
			}
		case aztables.TransactionTypeUpdateMerge, aztables.TransactionTypeDelete:
			if !exists {
				return aztables.TransactionResponse{}, respErr(http.StatusNotFound)
			}
			if a.IfMatch != nil && *a.IfMatch != azcore.ETagAny && *a.IfMatch != r.etag {
				return aztables.TransactionResponse{}, respErr(http.StatusPreconditionFailed)
			}
		}
	}
	for _, a := range actions {
		props := decodeProps(a.Entity)
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			f.put(props)
		case aztables.TransactionTypeUpdateMerge:
			_ = f.update(props, nil, true)
		case aztables.TransactionTypeDelete:
			delete(f.rows[props["PartitionKey"].(string)], props["RowKey"].(string))
		}
	}
	return aztables.TransactionResponse{}, nil
}

// bumpMarker changes a marker row behind the writer's back.
func (f *fakeTable) bumpMarker(pk, rk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[pk][rk]; ok {
		r.etag = f.nextETag()
	}
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	deleted  []string
	failAt   int
	count    int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAt: -1}
}

func (q *fakeQueue) EnqueueMessage(ctx context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.count
	q.count++
	if idx == q.failAt {
		return azqueue.EnqueueMessagesResponse{}, respErr(http.StatusServiceUnavailable)
	}
	q.messages = append(q.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (q *fakeQueue) DequeueMessage(ctx context.Context, _ *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return azqueue.DequeueMessagesResponse{}, nil
	}
	text := q.messages[0]
	q.messages = q.messages[1:]
	id := fmt.Sprintf("m%d", len(q.deleted)+1)
	receipt := "r-" + id
	count := int64(1)
	// Messages is promoted from an embedded list type, so it is set by assignment.
	var resp azqueue.DequeueMessagesResponse
	resp.Messages = []*azqueue.DequeuedMessage{{
		MessageID:    &id,
		PopReceipt:   &receipt,
		MessageText:  &text,
		DequeueCount: &count,
	}}
	return resp, nil
}

func (q *fakeQueue) DeleteMessage(ctx context.Context, id, receipt string, _ *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, id)
	return azqueue.DeleteMessageResponse{}, nil
}

type fakeTables struct {
	boards, sections, tasks *fakeTable
	queue                   *fakeQueue
}

func newTestStorage() (*Storage, fakeTables) {
	ft := fakeTables{boards: newFakeTable(), sections: newFakeTable(), tasks: newFakeTable(), queue: newFakeQueue()}
	return newStorage(ft.boards, ft.sections, ft.tasks, ft.queue), ft
}
