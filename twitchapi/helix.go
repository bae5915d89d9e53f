// Package twitchapi contains minimal helpers for the Twitch Helix API:
// user id resolution and archived VOD listing/lookup with an app token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const defaultHelixBaseURL = "https://api.twitch.tv"

// HelixClient provides the methods VOD discovery needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // override for tests; defaults to the Helix host
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultHelixBaseURL
}

func (hc *HelixClient) newRequest(ctx context.Context, path string) (*http.Request, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req, nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	req, err := hc.newRequest(ctx, "/helix/users")
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// VideoMeta is the subset of Helix video fields the catalog needs.
type VideoMeta struct{ ID, Title, Duration, CreatedAt string }

// ListVideos lists archive videos for a user, one page per call.
func (hc *HelixClient) ListVideos(ctx context.Context, userID, after string, first int) ([]VideoMeta, string, error) {
	if userID == "" {
		return nil, "", fmt.Errorf("userID empty")
	}
	if first <= 0 {
		first = 20
	}
	req, err := hc.newRequest(ctx, "/helix/videos")
	if err != nil {
		return nil, "", err
	}
	q := req.URL.Query()
	q.Set("user_id", userID)
	q.Set("type", "archive")
	q.Set("first", fmt.Sprintf("%d", first))
	if after != "" {
		q.Set("after", after)
	}
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Duration  string `json:"duration"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", err
	}
	out := make([]VideoMeta, 0, len(body.Data))
	for _, v := range body.Data {
		out = append(out, VideoMeta{ID: v.ID, Title: v.Title, Duration: v.Duration, CreatedAt: v.CreatedAt})
	}
	return out, body.Pagination.Cursor, nil
}

// GetVideo fetches metadata for one video by ID. Returns nil when the video
// does not exist (deleted or expired VOD).
func (hc *HelixClient) GetVideo(ctx context.Context, videoID string) (*VideoMeta, error) {
	if videoID == "" {
		return nil, fmt.Errorf("videoID empty")
	}
	req, err := hc.newRequest(ctx, "/helix/videos")
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("id", videoID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Duration  string `json:"duration"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	v := body.Data[0]
	return &VideoMeta{ID: v.ID, Title: v.Title, Duration: v.Duration, CreatedAt: v.CreatedAt}, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
