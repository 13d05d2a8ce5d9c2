package workshop

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "https://api.steampowered.com"

	detailsPath    = "/ISteamRemoteStorage/GetPublishedFileDetails/v1/"
	collectionPath = "/ISteamRemoteStorage/GetCollectionDetails/v1/"

	// resultOK is the Steam Web API success code.
	resultOK = 1
)

// ItemPageURL is the canonical Workshop page for a published file id.
const ItemPageURL = "https://steamcommunity.com/sharedfiles/filedetails/?id=%s"

// Detail is the subset of published file metadata the downloader cares
// about.
type Detail struct {
	ID       string
	Title    string
	FileSize int64
}

// Client queries the Steam Web API for Workshop item metadata. It is the
// metadata source behind dependency resolution: an item's required items
// are exposed as collection children.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient creates a new Workshop API client.
func NewClient() *Client {
	return NewClientWithBaseURL(defaultBaseURL)
}

// NewClientWithBaseURL creates a client against a custom API endpoint,
// mainly for tests.
func NewClientWithBaseURL(baseURL string) *Client {
	client := resty.New()
	client.SetHeader("Accept", "application/json")

	return &Client{
		http:    client,
		baseURL: baseURL,
	}
}

type detailsResponse struct {
	Response struct {
		Result  int `json:"result"`
		Details []struct {
			PublishedFileID string `json:"publishedfileid"`
			Result          int    `json:"result"`
			Title           string `json:"title"`
			FileSize        any    `json:"file_size"` // string or number depending on API vintage
		} `json:"publishedfiledetails"`
	} `json:"response"`
}

type collectionResponse struct {
	Response struct {
		Result  int `json:"result"`
		Details []struct {
			PublishedFileID string `json:"publishedfileid"`
			Result          int    `json:"result"`
			Children        []struct {
				PublishedFileID string `json:"publishedfileid"`
			} `json:"children"`
		} `json:"collectiondetails"`
	} `json:"response"`
}

// Details fetches title and size metadata for the given published file ids.
// Items the API does not know are simply absent from the result map.
func (c *Client) Details(ctx context.Context, ids []string) (map[string]Detail, error) {
	if len(ids) == 0 {
		return map[string]Detail{}, nil
	}

	form := map[string]string{
		"itemcount": strconv.Itoa(len(ids)),
	}
	for i, id := range ids {
		form[fmt.Sprintf("publishedfileids[%d]", i)] = id
	}

	var out detailsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(c.baseURL + detailsPath)
	if err != nil {
		return nil, fmt.Errorf("workshop details request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("workshop details request failed: status %d", resp.StatusCode())
	}

	details := make(map[string]Detail, len(out.Response.Details))
	for _, d := range out.Response.Details {
		if d.Result != resultOK {
			continue
		}
		details[d.PublishedFileID] = Detail{
			ID:       d.PublishedFileID,
			Title:    d.Title,
			FileSize: parseSize(d.FileSize),
		}
	}
	return details, nil
}

// Dependencies returns the required-item ids for a published file. An item
// without children (or one the API does not treat as a collection) yields
// an empty list, not an error.
func (c *Client) Dependencies(ctx context.Context, id string) ([]string, error) {
	form := map[string]string{
		"collectioncount":     "1",
		"publishedfileids[0]": id,
	}

	var out collectionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(c.baseURL + collectionPath)
	if err != nil {
		return nil, fmt.Errorf("workshop collection request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("workshop collection request failed: status %d", resp.StatusCode())
	}

	for _, d := range out.Response.Details {
		if d.PublishedFileID != id || d.Result != resultOK {
			continue
		}
		children := make([]string, 0, len(d.Children))
		for _, child := range d.Children {
			children = append(children, child.PublishedFileID)
		}
		return children, nil
	}
	return nil, nil
}

// parseSize tolerates both string and numeric file_size encodings.
func parseSize(v any) int64 {
	switch t := v.(type) {
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case float64:
		return int64(t)
	default:
		return 0
	}
}
