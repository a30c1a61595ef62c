package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/majorcontext/portage/internal/loader"
	"github.com/majorcontext/portage/internal/platform"
)

const (
	notionAPI     = "https://api.notion.com"
	notionVersion = "2022-06-28"

	// notionTextLimit is the longest rich text content Notion accepts.
	notionTextLimit = 2000
	// notionChildrenLimit is the most blocks one append call accepts.
	notionChildrenLimit = 100
)

// Notion lists pages and databases shared with the integration and imports
// records as paragraphs on a page.
type Notion struct {
	api    api
	pageID string
}

// NewNotion creates a Notion connector.
func NewNotion(opts Options) *Notion {
	return &Notion{
		api:    newAPI(platform.Notion, notionAPI, opts, map[string]string{"Notion-Version": notionVersion}),
		pageID: opts.NotionPageID,
	}
}

// Platform returns platform.Notion.
func (n *Notion) Platform() platform.Platform { return platform.Notion }

type notionObject struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	URL            string                     `json:"url"`
	CreatedTime    string                     `json:"created_time"`
	LastEditedTime string                     `json:"last_edited_time"`
	Archived       bool                       `json:"archived"`
	Title          []notionRichText           `json:"title"`
	Properties     map[string]json.RawMessage `json:"properties"`
	Parent         map[string]any             `json:"parent"`
}

type notionRichText struct {
	PlainText string `json:"plain_text"`
}

type notionSearchResult struct {
	Results    []notionObject `json:"results"`
	HasMore    bool           `json:"has_more"`
	NextCursor string         `json:"next_cursor"`
}

// Load runs a search and converts every result.
func (n *Notion) Load(ctx context.Context, token string) ([]loader.Record, error) {
	var records []loader.Record
	cursor := ""
	for {
		body := map[string]any{"page_size": 100}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var res notionSearchResult
		if err := n.api.do(ctx, token, "POST", "/v1/search", body, &res); err != nil {
			return nil, err
		}
		for _, obj := range res.Results {
			records = append(records, notionRecord(obj))
		}
		if !res.HasMore || res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	if records == nil {
		records = []loader.Record{}
	}
	return records, nil
}

func notionRecord(obj notionObject) loader.Record {
	var title string
	switch obj.Object {
	case "database":
		if len(obj.Title) > 0 {
			title = obj.Title[0].PlainText
		}
	case "page":
		title = notionPageTitle(obj.Properties)
	}
	if title == "" {
		title = "Untitled"
	}

	parentType, _ := obj.Parent["type"].(string)
	var parentID string
	if parentType != "" && parentType != "workspace" {
		parentID, _ = obj.Parent[parentType].(string)
	}

	return loader.Record{
		ID:               obj.ID,
		Name:             capitalize(obj.Object) + ": " + title,
		URL:              obj.URL,
		Type:             obj.Object,
		Directory:        obj.Object == "database",
		ParentID:         parentID,
		ParentPathOrName: parentType,
		CreationTime:     loader.ParseTimestamp(obj.CreatedTime),
		LastModifiedTime: loader.ParseTimestamp(obj.LastEditedTime),
		Visibility:       boolPtr(!obj.Archived),
	}
}

// notionPageTitle returns the page's title property text, falling back to
// the first plain_text found in any property (properties in name order).
func notionPageTitle(props map[string]json.RawMessage) string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var prop struct {
			Type  string           `json:"type"`
			Title []notionRichText `json:"title"`
		}
		if json.Unmarshal(props[name], &prop) == nil && prop.Type == "title" && len(prop.Title) > 0 {
			return prop.Title[0].PlainText
		}
	}
	for _, name := range names {
		var v any
		if json.Unmarshal(props[name], &v) != nil {
			continue
		}
		if text, ok := findPlainText(v); ok {
			return text
		}
	}
	return ""
}

func findPlainText(v any) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t["plain_text"].(string); ok {
			return s, true
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := findPlainText(t[k]); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := findPlainText(item); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Import appends records to the configured page as JSON text split into
// paragraph blocks.
func (n *Notion) Import(ctx context.Context, token string, records []loader.Record) (int, error) {
	if n.pageID == "" {
		return 0, fmt.Errorf("Notion page: %w", ErrNotConfigured)
	}
	text, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding records: %w", err)
	}

	blocks := paragraphBlocks(chunkText(string(text), notionTextLimit))
	for start := 0; start < len(blocks); start += notionChildrenLimit {
		end := min(start+notionChildrenLimit, len(blocks))
		body := map[string]any{"children": blocks[start:end]}
		if err := n.api.do(ctx, token, "PATCH", "/v1/blocks/"+n.pageID+"/children", body, nil); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func paragraphBlocks(chunks []string) []map[string]any {
	blocks := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		blocks[i] = map[string]any{
			"object": "block",
			"type":   "paragraph",
			"paragraph": map[string]any{
				"rich_text": []map[string]any{{
					"type": "text",
					"text": map[string]string{"content": chunk},
				}},
			},
		}
	}
	return blocks
}

// chunkText splits s into pieces of at most limit characters.
func chunkText(s string, limit int) []string {
	runes := []rune(s)
	var chunks []string
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
