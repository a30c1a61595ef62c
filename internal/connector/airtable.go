package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/majorcontext/portage/internal/loader"
	"github.com/majorcontext/portage/internal/platform"
)

const airtableAPI = "https://api.airtable.com"

// airtableBatchSize is the most records one create call accepts.
const airtableBatchSize = 10

// Airtable lists bases and imports records into a configured table.
type Airtable struct {
	api    api
	baseID string
	table  string
}

// NewAirtable creates an Airtable connector.
func NewAirtable(opts Options) *Airtable {
	return &Airtable{
		api:    newAPI(platform.Airtable, airtableAPI, opts, nil),
		baseID: opts.AirtableBaseID,
		table:  opts.AirtableTable,
	}
}

// Platform returns platform.Airtable.
func (a *Airtable) Platform() platform.Platform { return platform.Airtable }

type airtableBases struct {
	Bases []struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		PermissionLevel string `json:"permissionLevel"`
	} `json:"bases"`
	Offset string `json:"offset"`
}

// Load lists the bases the token can access.
func (a *Airtable) Load(ctx context.Context, token string) ([]loader.Record, error) {
	records := []loader.Record{}
	offset := ""
	for {
		path := "/v0/meta/bases"
		if offset != "" {
			path += "?" + url.Values{"offset": {offset}}.Encode()
		}
		var page airtableBases
		if err := a.api.do(ctx, token, "GET", path, nil, &page); err != nil {
			return nil, err
		}
		for _, b := range page.Bases {
			records = append(records, loader.Record{
				ID:               b.ID,
				Name:             b.Name,
				URL:              "https://airtable.com/" + b.ID,
				Type:             "base",
				Directory:        true,
				ParentPathOrName: b.PermissionLevel,
			})
		}
		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

// Import creates one table row per record, in batches.
func (a *Airtable) Import(ctx context.Context, token string, records []loader.Record) (int, error) {
	if a.baseID == "" || a.table == "" {
		return 0, fmt.Errorf("Airtable base and table: %w", ErrNotConfigured)
	}
	path := "/v0/" + url.PathEscape(a.baseID) + "/" + url.PathEscape(a.table)

	created := 0
	for start := 0; start < len(records); start += airtableBatchSize {
		end := min(start+airtableBatchSize, len(records))
		rows := make([]map[string]any, 0, end-start)
		for _, r := range records[start:end] {
			fields, err := recordFields(r)
			if err != nil {
				return created, err
			}
			rows = append(rows, map[string]any{"fields": fields})
		}

		var resp struct {
			Records []struct {
				ID string `json:"id"`
			} `json:"records"`
		}
		body := map[string]any{"records": rows, "typecast": true}
		if err := a.api.do(ctx, token, "POST", path, body, &resp); err != nil {
			return created, fmt.Errorf("failed to create records: %w", err)
		}
		created += len(resp.Records)
	}
	return created, nil
}

// recordFields flattens a record into an Airtable fields object.
func recordFields(r loader.Record) (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", r.ID, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", r.ID, err)
	}
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			delete(fields, k)
		}
	}
	return fields, nil
}
