package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/clients/social"
	"publish-pipeline/infrastructure/configuration"
	"publish-pipeline/infrastructure/logger"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const (
	Identifier    = "facebook"
	maxLength     = 63206
	maxConcurrent = 3
	tokenLifetime = 59 * 24 * time.Hour
)

var scopes = []string{
	"pages_show_list",
	"business_management",
	"pages_manage_posts",
	"pages_manage_engagement",
	"pages_read_engagement",
	"read_insights",
}

// errorTable is matched in order against raw Graph API error bodies.
var errorTable = social.ErrorTable{
	{Pattern: "Error validating access token", Kind: model.KindRefreshToken, Message: "Please re-authenticate your Facebook account"},
	{Pattern: "490", Kind: model.KindRefreshToken, Message: "Access token expired, please re-authenticate"},
	{Pattern: "REVOKED_ACCESS_TOKEN", Kind: model.KindRefreshToken, Message: "Access token has been revoked, please re-authenticate"},
	{Pattern: "1366046", Kind: model.KindBadBody, Message: "Photos should be smaller than 4 MB and saved as JPG, PNG"},
	{Pattern: "1390008", Kind: model.KindBadBody, Message: "You are posting too fast, please slow down", Transient: true},
	{Pattern: "1346003", Kind: model.KindBadBody, Message: "Content flagged as abusive by Facebook"},
	{Pattern: "1404006", Kind: model.KindBadBody, Message: "We couldn't post your comment, A security check in facebook required to proceed."},
	{Pattern: "1404102", Kind: model.KindBadBody, Message: "Content violates Facebook Community Standards"},
	{Pattern: "1404078", Kind: model.KindRefreshToken, Message: "Page publishing authorization required, please re-authenticate"},
	{Pattern: "1609008", Kind: model.KindBadBody, Message: "Cannot post Facebook.com links"},
	{Pattern: "2061006", Kind: model.KindBadBody, Message: "Invalid URL format in post content"},
	{Pattern: "1349125", Kind: model.KindBadBody, Message: "Invalid content format"},
	{Pattern: "Name parameter too long", Kind: model.KindBadBody, Message: "Post content is too long"},
	{Pattern: "1363047", Kind: model.KindBadBody, Message: "Facebook service temporarily unavailable", Transient: true},
	{Pattern: "1609010", Kind: model.KindBadBody, Message: "Facebook service temporarily unavailable", Transient: true},
}

// remoteFetchMarkers identify transfer answers where Facebook could not download file_url.
var remoteFetchMarkers = []string{"robots", "Unable to fetch", "file_url", "could not be downloaded"}

// Provider publishes to Facebook pages: photo posts to the feed, videos to page stories.
// Publishing needs the page id and page token, which SelectPage provides after connect.
type Provider struct {
	cfg      configuration.Facebook
	client   *social.Client
	http     *http.Client
	graphURL string
	oauth    *oauth2.Config
}

func New(cfg configuration.Facebook, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Provider{
		cfg:      cfg,
		client:   social.NewClient(Identifier, httpClient, errorTable),
		http:     httpClient,
		graphURL: "https://graph.facebook.com/" + cfg.APIVersion,
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     facebook.Endpoint,
		},
	}
}

func (p *Provider) Identifier() string    { return Identifier }
func (p *Provider) Name() string          { return "Facebook Page" }
func (p *Provider) MaxLength() int        { return maxLength }
func (p *Provider) MaxConcurrentJob() int { return maxConcurrent }

func (p *Provider) ClassifyError(body string) model.Classification {
	return p.client.Classify(body)
}

type tokenParams struct {
	AccessToken string `url:"access_token"`
	Fields      string `url:"fields,omitempty"`
	UploadPhase string `url:"upload_phase,omitempty"`
}

type exchangeParams struct {
	GrantType       string `url:"grant_type"`
	ClientID        string `url:"client_id"`
	ClientSecret    string `url:"client_secret"`
	FBExchangeToken string `url:"fb_exchange_token"`
}

func (p *Provider) endpoint(path string, params interface{}) (string, error) {
	v, err := query.Values(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s?%s", p.graphURL, strings.TrimPrefix(path, "/"), v.Encode()), nil
}

func (p *Provider) GenerateAuthURL(ctx context.Context, extra map[string]string) (*model.AuthURL, error) {
	state, verifier := social.NewAuthState()
	return &model.AuthURL{
		URL:          p.oauth.AuthCodeURL(state),
		CodeVerifier: verifier,
		State:        state,
	}, nil
}

// Authenticate exchanges the code for a long-lived user token and checks the granted permissions.
// The result identifies the user, not a page, so it is marked in between steps until SelectPage runs.
func (p *Provider) Authenticate(ctx context.Context, code, codeVerifier string) model.AuthResult {
	lg := logger.GetLogger().WithField("provider", Identifier)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)

	short, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		lg.WithField("error", err).Warn("code exchange failed")
		return model.AuthResult{Failure: "Could not exchange the authorization code"}
	}

	long, err := p.exchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		lg.WithField("error", err).Warn("long-lived token exchange failed")
		return model.AuthResult{Failure: "Could not obtain a long-lived Facebook token"}
	}

	var perms struct {
		Data []struct {
			Permission string `json:"permission"`
			Status     string `json:"status"`
		} `json:"data"`
	}
	u, err := p.endpoint("me/permissions", tokenParams{AccessToken: long})
	if err != nil {
		return model.AuthResult{Failure: err.Error()}
	}
	if err := p.client.JSON(ctx, http.MethodGet, u, nil, nil, "permissions", &perms); err != nil {
		return model.AuthResult{Failure: "Could not read granted permissions"}
	}
	granted := make([]string, 0, len(perms.Data))
	for _, d := range perms.Data {
		if d.Status == "granted" {
			granted = append(granted, d.Permission)
		}
	}
	if err := social.CheckScopes(scopes, granted); err != nil {
		return model.AuthResult{Failure: err.Error()}
	}

	var me struct {
		ID      string      `json:"id"`
		Name    string      `json:"name"`
		Picture pictureData `json:"picture"`
	}
	u, err = p.endpoint("me", tokenParams{AccessToken: long, Fields: "id,name,picture"})
	if err != nil {
		return model.AuthResult{Failure: err.Error()}
	}
	if err := p.client.JSON(ctx, http.MethodGet, u, nil, nil, "profile", &me); err != nil {
		return model.AuthResult{Failure: "Could not load the Facebook profile"}
	}

	return model.AuthResult{Token: &model.AuthTokenDetails{
		AccessToken:    long,
		RefreshToken:   long,
		ExpiresIn:      int(tokenLifetime / time.Second),
		ID:             me.ID,
		Name:           me.Name,
		Picture:        me.Picture.Data.URL,
		InBetweenSteps: true,
	}}
}

type pictureData struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

type pageInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Username    string      `json:"username"`
	AccessToken string      `json:"access_token"`
	Picture     pictureData `json:"picture"`
}

// Pages lists the pages the connected user manages.
func (p *Provider) Pages(ctx context.Context, accessToken string) ([]model.Page, error) {
	u, err := p.endpoint("me/accounts", tokenParams{AccessToken: accessToken, Fields: "id,username,name,picture.type(large)"})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []pageInfo `json:"data"`
	}
	if err := p.client.JSON(ctx, http.MethodGet, u, nil, nil, "list pages", &out); err != nil {
		return nil, err
	}
	pages := make([]model.Page, 0, len(out.Data))
	for _, d := range out.Data {
		pages = append(pages, model.Page{ID: d.ID, Name: d.Name, Username: d.Username, Picture: d.Picture.Data.URL})
	}
	return pages, nil
}

// SelectPage trades the user token for the page token of pageID.
func (p *Provider) SelectPage(ctx context.Context, accessToken, pageID string) (*model.AuthTokenDetails, error) {
	if pageID == "" {
		return nil, errors.New("facebook select page: missing page id")
	}
	u, err := p.endpoint(pageID, tokenParams{AccessToken: accessToken, Fields: "access_token,name,picture.type(large),username"})
	if err != nil {
		return nil, err
	}
	var page pageInfo
	if err := p.client.JSON(ctx, http.MethodGet, u, nil, nil, "page information", &page); err != nil {
		return nil, err
	}
	if page.AccessToken == "" {
		return nil, fmt.Errorf("facebook select page: no page token for %s", pageID)
	}
	id := page.ID
	if id == "" {
		id = pageID
	}
	return &model.AuthTokenDetails{
		AccessToken:  page.AccessToken,
		RefreshToken: page.AccessToken,
		ExpiresIn:    int(tokenLifetime / time.Second),
		ID:           id,
		Name:         page.Name,
		Picture:      page.Picture.Data.URL,
		Username:     page.Username,
	}, nil
}

func (p *Provider) exchangeLongLived(ctx context.Context, shortToken string) (string, error) {
	u, err := p.endpoint("oauth/access_token", exchangeParams{
		GrantType:       "fb_exchange_token",
		ClientID:        p.cfg.AppID,
		ClientSecret:    p.cfg.AppSecret,
		FBExchangeToken: shortToken,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := p.client.JSON(ctx, http.MethodGet, u, nil, nil, "long-lived token", &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	return out.AccessToken, nil
}

// RefreshToken always fails: page tokens are long-lived and can only be renewed by logging in again.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*model.AuthTokenDetails, error) {
	return nil, errors.New("facebook tokens cannot be refreshed, re-authentication required")
}

// UploadMedia stores one photo unpublished so it can be attached to the feed post.
func (p *Provider) UploadMedia(ctx context.Context, account model.Account, media model.Media) (string, error) {
	u, err := p.endpoint(account.ID+"/photos", tokenParams{AccessToken: account.AccessToken})
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	payload := map[string]interface{}{"url": media.Path, "published": false}
	if err := p.client.JSON(ctx, http.MethodPost, u, payload, nil, "upload images slides", &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type mediaFBID struct {
	MediaFBID string `json:"media_fbid"`
}

type feedPayload struct {
	AttachedMedia []mediaFBID `json:"attached_media,omitempty"`
	Link          string      `json:"link,omitempty"`
	Message       string      `json:"message"`
	Published     bool        `json:"published"`
}

type graphRef struct {
	ID           string `json:"id"`
	PermalinkURL string `json:"permalink_url"`
}

func (p *Provider) CreatePost(ctx context.Context, account model.Account, post model.PostDetails, handles []string) (*model.PostRef, error) {
	u, err := p.endpoint(account.ID+"/feed", tokenParams{AccessToken: account.AccessToken, Fields: "id,permalink_url"})
	if err != nil {
		return nil, err
	}
	payload := feedPayload{Link: post.Link(), Message: post.Message, Published: true}
	for _, h := range handles {
		payload.AttachedMedia = append(payload.AttachedMedia, mediaFBID{MediaFBID: h})
	}
	var out graphRef
	if err := p.client.JSON(ctx, http.MethodPost, u, payload, nil, "finalize upload", &out); err != nil {
		return nil, err
	}
	return &model.PostRef{ID: out.ID, URL: out.PermalinkURL}, nil
}

// NeedsMultiPhase routes video posts to page stories.
func (p *Provider) NeedsMultiPhase(post model.PostDetails) bool {
	return post.HasVideo()
}

func (p *Provider) StartUpload(ctx context.Context, account model.Account, media model.Media) (*model.UploadJob, error) {
	u, err := p.endpoint(account.ID+"/video_stories", tokenParams{AccessToken: account.AccessToken, UploadPhase: "start"})
	if err != nil {
		return nil, err
	}
	var out struct {
		UploadURL string `json:"upload_url"`
		VideoID   string `json:"video_id"`
	}
	if err := p.client.JSON(ctx, http.MethodPost, u, nil, nil, "start story upload", &out); err != nil {
		return nil, err
	}
	if out.UploadURL == "" || out.VideoID == "" {
		return nil, fmt.Errorf("facebook start story upload: missing upload_url or video_id")
	}
	return &model.UploadJob{ExternalID: out.VideoID, UploadURL: out.UploadURL}, nil
}

type transferResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// TransferRemote hands Facebook the hosted url so it fetches the video itself.
func (p *Provider) TransferRemote(ctx context.Context, account model.Account, job *model.UploadJob, media model.Media) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.UploadURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "OAuth "+account.AccessToken)
	req.Header.Set("file_url", media.Path)
	return p.transfer(req, "transfer hosted file")
}

// TransferBinary downloads the video and streams it to the upload url.
func (p *Provider) TransferBinary(ctx context.Context, account model.Account, job *model.UploadJob, media model.Media) error {
	data, _, err := p.client.Download(ctx, media.Path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.UploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "OAuth "+account.AccessToken)
	req.Header.Set("offset", "0")
	req.Header.Set("file_size", strconv.Itoa(len(data)))
	return p.transfer(req, "transfer binary")
}

func (p *Provider) transfer(req *http.Request, step string) error {
	raw, err := p.client.Do(req, step)
	if err != nil {
		var perr *social.ProviderError
		if errors.As(err, &perr) && remoteFetchRefused(perr.Body) {
			return fmt.Errorf("%w: %s", model.ErrRemoteFetchRefused, perr.Body)
		}
		return err
	}
	var out transferResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("facebook %s: decode response: %w", step, err)
	}
	if !out.Success && out.ID == "" {
		if remoteFetchRefused(string(raw)) {
			return fmt.Errorf("%w: %s", model.ErrRemoteFetchRefused, raw)
		}
		return fmt.Errorf("facebook %s: upload not accepted: %s", step, raw)
	}
	return nil
}

func remoteFetchRefused(body string) bool {
	for _, m := range remoteFetchMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

func (p *Provider) FinishUpload(ctx context.Context, account model.Account, job *model.UploadJob, post model.PostDetails) (*model.PostRef, error) {
	u := fmt.Sprintf("%s/%s/video_stories", p.graphURL, account.ID)
	payload := map[string]string{
		"access_token": account.AccessToken,
		"upload_phase": "finish",
		"video_id":     job.ExternalID,
	}
	if err := p.client.JSON(ctx, http.MethodPost, u, payload, nil, "finish story upload", nil); err != nil {
		return nil, err
	}
	return &model.PostRef{
		ID:  job.ExternalID,
		URL: fmt.Sprintf("https://www.facebook.com/%s/stories/%s", account.ID, job.ExternalID),
	}, nil
}

// UploadStatus reads the processing status of the story video.
func (p *Provider) UploadStatus(ctx context.Context, account model.Account, job *model.UploadJob) (model.UploadStatus, error) {
	u, err := p.endpoint(job.ExternalID, tokenParams{AccessToken: account.AccessToken, Fields: "status"})
	if err != nil {
		return model.UploadStatus{}, err
	}
	var out struct {
		Status struct {
			VideoStatus     string `json:"video_status"`
			ProcessingPhase struct {
				Status string `json:"status"`
				Error  struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"processing_phase"`
		} `json:"status"`
	}
	if err := p.client.JSON(ctx, http.MethodGet, u, nil, nil, "story status", &out); err != nil {
		return model.UploadStatus{}, err
	}
	switch {
	case out.Status.VideoStatus == "error" || out.Status.ProcessingPhase.Status == "error":
		msg := out.Status.ProcessingPhase.Error.Message
		if msg == "" {
			msg = "video processing failed"
		}
		return model.UploadStatus{State: model.ProcessingError, Error: msg}, nil
	case out.Status.VideoStatus == "ready" || out.Status.VideoStatus == "published":
		return model.UploadStatus{State: model.ProcessingReady}, nil
	default:
		return model.UploadStatus{State: model.ProcessingInProgress}, nil
	}
}

// CreateReply comments on a post or on the previous comment of the chain.
func (p *Provider) CreateReply(ctx context.Context, account model.Account, parentID string, post model.PostDetails) (*model.PostRef, error) {
	u, err := p.endpoint(parentID+"/comments", tokenParams{AccessToken: account.AccessToken, Fields: "id,permalink_url"})
	if err != nil {
		return nil, err
	}
	payload := map[string]string{"message": post.Message}
	if len(post.Media) > 0 {
		payload["attachment_url"] = post.Media[0].Path
	}
	var out graphRef
	if err := p.client.JSON(ctx, http.MethodPost, u, payload, nil, "add comment", &out); err != nil {
		return nil, err
	}
	return &model.PostRef{ID: out.ID, URL: out.PermalinkURL}, nil
}
