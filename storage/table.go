package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// Table stores records as entities of a single Azure Table partition, one row
// per record key. The entity ETag is the record version.
//
// A string property holds at most 64 KiB of UTF-16, so a record is split
// across Data, Data1, Data2... properties of at most chunkSize UTF-8 bytes.
// Records that would not fit in one entity are rejected with ErrRecordTooLarge.
type Table struct {
	client    *aztables.Client
	partition string
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTable creates a Table store from a storage account connection string.
func NewTable(connStr, table, partition string) (*Table, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return NewTableFromClient(svc.NewClient(table), partition), nil
}

func NewTableFromClient(client *aztables.Client, partition string) *Table {
	return &Table{client: client, partition: partition}
}

// EnsureTable creates the table if it does not exist yet.
func EnsureTable(ctx context.Context, connStr, table string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return err
	}
	_, err = svc.NewClient(table).CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

const (
	// chunkSize UTF-8 bytes never exceed 64 KiB once stored as UTF-16.
	chunkSize = 32 * 1024
	// maxChunks keeps the entity under the 1 MiB limit.
	maxChunks = 15
)

// ErrRecordTooLarge is returned when a record does not fit in one table entity.
var ErrRecordTooLarge = errors.New("record too large for table entity")

func chunkProperty(i int) string {
	if i == 0 {
		return "Data"
	}
	return "Data" + strconv.Itoa(i)
}

// splitChunks cuts value into pieces of at most size bytes without splitting a
// UTF-8 sequence.
func splitChunks(value []byte, size int) []string {
	chunks := make([]string, 0, len(value)/size+1)
	for len(value) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, string(value[:cut]))
		value = value[cut:]
	}
	return append(chunks, string(value))
}

func decodeRecordEntity(data []byte) ([]byte, error) {
	var ent map[string]any
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	n := 1
	if v, ok := ent["Chunks"].(float64); ok {
		n = int(v)
	}
	var out []byte
	for i := 0; i < n; i++ {
		s, ok := ent[chunkProperty(i)].(string)
		if !ok {
			return nil, fmt.Errorf("record entity missing %s of %d chunks", chunkProperty(i), n)
		}
		out = append(out, s...)
	}
	return out, nil
}

func (t *Table) encode(key string, value []byte) ([]byte, error) {
	chunks := splitChunks(value, chunkSize)
	if len(chunks) > maxChunks {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrRecordTooLarge, key, len(value))
	}
	ent := map[string]any{
		"PartitionKey": t.partition,
		"RowKey":       key,
	}
	if len(chunks) > 1 {
		ent["Chunks"] = len(chunks)
	}
	for i, c := range chunks {
		ent[chunkProperty(i)] = c
	}
	return json.Marshal(ent)
}

func (t *Table) Get(ctx context.Context, key string) ([]byte, error) {
	v, _, err := t.GetVersion(ctx, key)
	return v, err
}

func (t *Table) GetVersion(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := t.client.GetEntity(ctx, t.partition, key, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	data, err := decodeRecordEntity(resp.Value)
	if err != nil {
		return nil, "", err
	}
	return data, string(resp.ETag), nil
}

func (t *Table) Set(ctx context.Context, key string, value []byte) error {
	payload, err := t.encode(key, value)
	if err != nil {
		return err
	}
	_, err = t.client.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (t *Table) SetIfVersion(ctx context.Context, key string, value []byte, version string) error {
	payload, err := t.encode(key, value)
	if err != nil {
		return err
	}
	if version == "" {
		_, err = t.client.AddEntity(ctx, payload, nil)
	} else {
		etag := azcore.ETag(version)
		_, err = t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	}
	return conflictOrErr(err)
}

func (t *Table) Remove(ctx context.Context, key string) error {
	_, err := t.client.DeleteEntity(ctx, t.partition, key, nil)
	if err != nil && statusCode(err) != http.StatusNotFound {
		return err
	}
	return nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func conflictOrErr(err error) error {
	switch statusCode(err) {
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConcurrencyConflict
	}
	return err
}
