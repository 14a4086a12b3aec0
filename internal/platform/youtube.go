package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// DefaultAPIURL is the base URL of the data API.
const DefaultAPIURL = "https://youtube.googleapis.com/"

// ChannelInfo identifies the channel the credentials belong to.
type ChannelInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Category is an assignable video category.
type Category struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// API wraps the data API calls that surround an upload. Tokens come from
// the supplied source on every request, so a refreshed credential is picked
// up without rebuilding the service.
type API struct {
	svc    *youtube.Service
	logger *slog.Logger
}

// NewAPI builds an API client. apiURL overrides the service endpoint (tests
// point it at an httptest server); base is the transport under the OAuth
// layer and may be nil.
func NewAPI(
	ctx context.Context, src oauth2.TokenSource, apiURL, userAgent string, base http.RoundTripper, logger *slog.Logger,
) (*API, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hc := &http.Client{Transport: &oauth2.Transport{Source: src, Base: base}}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if apiURL != "" {
		opts = append(opts, option.WithEndpoint(apiURL))
	}

	if userAgent != "" {
		opts = append(opts, option.WithUserAgent(userAgent))
	}

	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("platform: creating data API service: %w", err)
	}

	return &API{svc: svc, logger: logger}, nil
}

// AddToPlaylist appends videoID to the end of playlistID.
func (a *API) AddToPlaylist(ctx context.Context, playlistID, videoID string) error {
	a.logger.Info("adding video to playlist",
		slog.String("playlist_id", playlistID),
		slog.String("video_id", videoID),
	)

	item := &youtube.PlaylistItem{
		Snippet: &youtube.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: videoID},
		},
	}

	if _, err := a.svc.PlaylistItems.Insert([]string{"snippet"}, item).Context(ctx).Do(); err != nil {
		return fmt.Errorf("platform: inserting playlist item: %w", wrapAPIError(err))
	}

	return nil
}

// Channel returns the channel owned by the authenticated account.
func (a *API) Channel(ctx context.Context) (*ChannelInfo, error) {
	resp, err := a.svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("platform: listing channels: %w", wrapAPIError(err))
	}

	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: account has no channel", ErrNotFound)
	}

	ch := resp.Items[0]
	info := &ChannelInfo{ID: ch.Id}

	if ch.Snippet != nil {
		info.Title = ch.Snippet.Title
	}

	return info, nil
}

// ListCategories returns the assignable categories for a region code.
func (a *API) ListCategories(ctx context.Context, region string) ([]Category, error) {
	resp, err := a.svc.VideoCategories.List([]string{"snippet"}).RegionCode(region).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("platform: listing categories: %w", wrapAPIError(err))
	}

	cats := make([]Category, 0, len(resp.Items))

	for _, item := range resp.Items {
		if item.Snippet == nil || !item.Snippet.Assignable {
			continue
		}

		cats = append(cats, Category{ID: item.Id, Title: item.Snippet.Title})
	}

	return cats, nil
}

// wrapAPIError converts a googleapi.Error into an *APIError so callers can
// match the same sentinels as for the upload protocol.
func wrapAPIError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return &APIError{StatusCode: http.StatusUnauthorized, Message: retrieve.Error(), Err: ErrUnauthorized}
		}

		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return &APIError{
		StatusCode: gerr.Code,
		Message:    gerr.Message,
		RetryAfter: parseRetryAfter(gerr.Header),
		Err:        classifyStatus(gerr.Code, false),
	}
}
