package connector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/portage/internal/loader"
	"github.com/majorcontext/portage/internal/platform"
)

const hubspotAPI = "https://api.hubapi.com"

// hubspotPageSize is the largest page the CRM objects API returns.
const hubspotPageSize = 100

// HubSpot lists CRM contacts and companies.
type HubSpot struct {
	api api
}

// NewHubSpot creates a HubSpot connector.
func NewHubSpot(opts Options) *HubSpot {
	return &HubSpot{api: newAPI(platform.HubSpot, hubspotAPI, opts, nil)}
}

// Platform returns platform.HubSpot.
func (h *HubSpot) Platform() platform.Platform { return platform.HubSpot }

type hubspotObject struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  string            `json:"createdAt"`
	UpdatedAt  string            `json:"updatedAt"`
	Archived   bool              `json:"archived"`
}

type hubspotPage struct {
	Results []hubspotObject `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// Load fetches every contact and company. Companies are listed first.
func (h *HubSpot) Load(ctx context.Context, token string) ([]loader.Record, error) {
	var contacts, companies []hubspotObject

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		contacts, err = h.list(ctx, token, "contacts")
		if err != nil {
			return fmt.Errorf("failed to fetch contacts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		companies, err = h.list(ctx, token, "companies")
		if err != nil {
			return fmt.Errorf("failed to fetch companies: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]loader.Record, 0, len(companies)+len(contacts))
	for _, obj := range companies {
		records = append(records, hubspotRecord(obj, "company"))
	}
	for _, obj := range contacts {
		records = append(records, hubspotRecord(obj, "contact"))
	}
	return records, nil
}

// list follows the "after" cursor until the last page.
func (h *HubSpot) list(ctx context.Context, token, object string) ([]hubspotObject, error) {
	var all []hubspotObject
	after := ""
	for {
		q := url.Values{"limit": {fmt.Sprint(hubspotPageSize)}}
		if after != "" {
			q.Set("after", after)
		}
		var page hubspotPage
		if err := h.api.do(ctx, token, "GET", "/crm/v3/objects/"+object+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		if page.Paging == nil || page.Paging.Next == nil || page.Paging.Next.After == "" {
			return all, nil
		}
		after = page.Paging.Next.After
	}
}

func hubspotRecord(obj hubspotObject, kind string) loader.Record {
	props := obj.Properties
	var name, link string
	switch kind {
	case "contact":
		name = strings.TrimSpace(props["firstname"] + " " + props["lastname"])
		if name == "" {
			name = "Contact " + obj.ID
		}
		link = props["email"]
	case "company":
		name = props["name"]
		if name == "" {
			name = "Company " + obj.ID
		}
		link = props["domain"]
	}

	created := props["createdate"]
	if created == "" {
		created = obj.CreatedAt
	}
	modified := props["lastmodifieddate"]
	if modified == "" {
		modified = obj.UpdatedAt
	}

	return loader.Record{
		ID:               obj.ID,
		Name:             name,
		URL:              link,
		Type:             kind,
		CreationTime:     loader.ParseTimestamp(created),
		LastModifiedTime: loader.ParseTimestamp(modified),
		Visibility:       boolPtr(!obj.Archived),
	}
}

// Import is not supported for HubSpot.
func (h *HubSpot) Import(ctx context.Context, token string, records []loader.Record) (int, error) {
	return 0, fmt.Errorf("HubSpot: %w", ErrImportUnsupported)
}
