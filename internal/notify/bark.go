package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BarkNotifier pushes notifications to the Bark iOS app.
type BarkNotifier struct {
	endpoint string
	client   *http.Client
}

// NewBarkNotifier takes the device URL, e.g. https://api.day.app/<key>.
func NewBarkNotifier(endpoint string) (*BarkNotifier, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("bark url is empty")
	}
	return &BarkNotifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send posts n with its fields as query parameters. Failed actions are sent
// time sensitive so they break through focus modes.
func (b *BarkNotifier) Send(ctx context.Context, n Notification) error {
	q := url.Values{}
	q.Set("title", n.Title)
	q.Set("body", n.Body)
	q.Set("group", "croncat")
	q.Set("level", barkLevel(n.Kind))
	if n.TaskHash != "" {
		q.Set("copy", n.TaskHash)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark %s: status %d", n.Kind, resp.StatusCode)
	}
	return nil
}

func barkLevel(k Kind) string {
	if k == KindActionFailed {
		return "timeSensitive"
	}
	return "active"
}
