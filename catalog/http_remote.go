package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/driftframe/channelengine/ckerr"
)

// HTTPRemote implements Remote over a JSON HTTP endpoint. The wire format of
// the remote catalog service is explicitly out of scope (spec Non-goals);
// this is one reasonable binding, not a protocol specification.
type HTTPRemote struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPRemote creates an HTTPRemote with a sane request timeout. HTTP
// operations use a fixed total-timeout per spec §5 ("configurable at build
// time" — here, a constructor argument).
func NewHTTPRemote(baseURL string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRemote{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

type wireQuery struct {
	Selector string `json:"selector"`
	SQID     string `json:"sqid,omitempty"`
	Hashtag  string `json:"hashtag,omitempty"`
	PostID   int32  `json:"post_id,omitempty"`
	Sort     string `json:"sort"`
	Cursor   string `json:"cursor,omitempty"`
	Limit    int    `json:"limit"`
	PE       int    `json:"pe"`
}

func selectorName(k SelectorKind) string {
	switch k {
	case SelectorPromoted:
		return "promoted"
	case SelectorUser:
		return "user"
	case SelectorByUser:
		return "by_user"
	case SelectorHashtag:
		return "hashtag"
	case SelectorArtwork:
		return "artwork"
	default:
		return "all"
	}
}

// QueryPosts issues a query_posts RPC over HTTP POST.
func (r *HTTPRemote) QueryPosts(ctx context.Context, q Query) (Page, error) {
	body, err := json.Marshal(wireQuery{
		Selector: selectorName(q.Selector.Kind),
		SQID:     q.Selector.SQID,
		Hashtag:  q.Selector.Hashtag,
		PostID:   q.Selector.PostID,
		Sort:     string(q.Sort),
		Cursor:   q.Cursor,
		Limit:    q.Limit,
		PE:       q.PE,
	})
	if err != nil {
		return Page{}, ckerr.Wrap(ckerr.InvalidArgument, err, "marshal query")
	}

	endpoint, err := url.JoinPath(r.BaseURL, "query_posts")
	if err != nil {
		return Page{}, ckerr.Wrap(ckerr.InvalidArgument, err, "build endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Page{}, ckerr.Wrap(ckerr.Transient, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return Page{}, ckerr.Wrap(ckerr.Transient, err, "query_posts request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, ckerr.Wrap(ckerr.Transient, err, "read response body")
	}
	if resp.StatusCode >= 500 {
		return Page{}, ckerr.Newf(ckerr.Transient, "query_posts: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return Page{}, ckerr.Newf(ckerr.Permanent, "query_posts: %s", resp.Status)
	}

	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return Page{}, ckerr.Wrap(ckerr.Corruption, err, "parse query_posts response")
	}
	if !page.Success {
		return Page{}, ckerr.Newf(ckerr.Transient, "query_posts error: %s", page.Error)
	}
	return page, nil
}
