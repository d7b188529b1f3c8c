package youtube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/clients/social"
	"publish-pipeline/infrastructure/configuration"
	"publish-pipeline/infrastructure/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	Identifier = "youtube"
	maxLength  = 5000
	titleLimit = 100
)

var errorTable = social.ErrorTable{
	{Pattern: "invalid_grant", Kind: model.KindRefreshToken, Message: "YouTube access was revoked, please re-authenticate"},
	{Pattern: "authError", Kind: model.KindRefreshToken, Message: "Please re-authenticate your YouTube account"},
	{Pattern: "youtubeSignupRequired", Kind: model.KindRefreshToken, Message: "The Google account has no YouTube channel"},
	{Pattern: "uploadLimitExceeded", Kind: model.KindBadBody, Message: "YouTube upload limit reached for today", Transient: true},
	{Pattern: "quotaExceeded", Kind: model.KindBadBody, Message: "YouTube API quota exceeded", Transient: true},
	{Pattern: "backendError", Kind: model.KindBadBody, Message: "YouTube service temporarily unavailable", Transient: true},
	{Pattern: "invalidTitle", Kind: model.KindBadBody, Message: "Invalid video title"},
	{Pattern: "invalidDescription", Kind: model.KindBadBody, Message: "Invalid video description"},
	{Pattern: "commentsDisabled", Kind: model.KindBadBody, Message: "Comments are disabled for this video"},
	{Pattern: "rejected", Kind: model.KindBadBody, Message: "YouTube rejected the video"},
}

// Provider uploads videos to a YouTube channel and threads follow-ups as comments.
type Provider struct {
	cfg      configuration.YouTube
	oauth    *oauth2.Config
	http     *http.Client
	client   *social.Client
	endpoint string
}

func New(cfg configuration.YouTube, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Minute}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{youtube.YoutubeScope, youtube.YoutubeUploadScope, youtube.YoutubeForceSslScope}
	}
	return &Provider{
		cfg:  cfg,
		http: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		client: social.NewClient(Identifier, httpClient, errorTable),
	}
}

func (p *Provider) Identifier() string    { return Identifier }
func (p *Provider) Name() string          { return "YouTube" }
func (p *Provider) MaxLength() int        { return maxLength }
func (p *Provider) MaxConcurrentJob() int { return 2 }

func (p *Provider) ClassifyError(body string) model.Classification {
	return p.client.Classify(body)
}

func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http)
}

// service builds an API client bound to one access token.
func (p *Provider) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(p.oauthContext(ctx), src))}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return svc, nil
}

func (p *Provider) GenerateAuthURL(ctx context.Context, extra map[string]string) (*model.AuthURL, error) {
	state, verifier := social.NewAuthState()
	u := p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oauth2.S256ChallengeOption(verifier))
	return &model.AuthURL{URL: u, CodeVerifier: verifier, State: state}, nil
}

func (p *Provider) Authenticate(ctx context.Context, code, codeVerifier string) model.AuthResult {
	lg := logger.GetLogger().WithField("provider", Identifier)
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	tok, err := p.oauth.Exchange(p.oauthContext(ctx), code, opts...)
	if err != nil {
		lg.WithField("error", err).Warn("code exchange failed")
		return model.AuthResult{Failure: "Could not exchange the authorization code"}
	}
	details := tokenDetails(tok)

	svc, err := p.service(ctx, tok.AccessToken)
	if err != nil {
		return model.AuthResult{Failure: err.Error()}
	}
	resp, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		lg.WithField("error", err).Warn("channel lookup failed")
		return model.AuthResult{Failure: "Could not load the YouTube channel"}
	}
	if len(resp.Items) == 0 {
		return model.AuthResult{Failure: "No YouTube channel found for this account"}
	}
	ch := resp.Items[0]
	details.ID = ch.Id
	if ch.Snippet != nil {
		details.Name = ch.Snippet.Title
		details.Username = ch.Snippet.CustomUrl
		if ch.Snippet.Thumbnails != nil && ch.Snippet.Thumbnails.Default != nil {
			details.Picture = ch.Snippet.Thumbnails.Default.Url
		}
	}
	return model.AuthResult{Token: details}
}

func tokenDetails(tok *oauth2.Token) *model.AuthTokenDetails {
	d := &model.AuthTokenDetails{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		d.ExpiresIn = int(time.Until(tok.Expiry) / time.Second)
	}
	return d
}

// RefreshToken trades the stored refresh token for a new access token.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*model.AuthTokenDetails, error) {
	tok, err := p.oauth.TokenSource(p.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	d := tokenDetails(tok)
	if d.RefreshToken == "" {
		d.RefreshToken = refreshToken
	}
	return d, nil
}

// NeedsMultiPhase is always true: every YouTube post is an uploaded video that is processed asynchronously.
func (p *Provider) NeedsMultiPhase(post model.PostDetails) bool { return true }

func (p *Provider) StartUpload(ctx context.Context, account model.Account, media model.Media) (*model.UploadJob, error) {
	if media.Kind() != model.MediaVideo {
		return nil, fmt.Errorf("youtube posts need a video: %w", model.ErrUploadUnsupported)
	}
	return &model.UploadJob{UploadURL: media.Path}, nil
}

// TransferRemote is refused: the Data API only accepts uploaded bytes.
func (p *Provider) TransferRemote(ctx context.Context, account model.Account, job *model.UploadJob, media model.Media) error {
	return fmt.Errorf("youtube: %w", model.ErrRemoteFetchRefused)
}

// TransferBinary inserts the video as private; FinishUpload applies the post metadata.
func (p *Provider) TransferBinary(ctx context.Context, account model.Account, job *model.UploadJob, media model.Media) error {
	data, _, err := p.client.Download(ctx, media.Path)
	if err != nil {
		return err
	}
	svc, err := p.service(ctx, account.AccessToken)
	if err != nil {
		return err
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{Title: "Uploading"},
		Status:  &youtube.VideoStatus{PrivacyStatus: "private"},
	}
	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(bytes.NewReader(data)).Context(ctx).Do()
	if err != nil {
		return p.wrap("upload video", err)
	}
	job.ExternalID = resp.Id
	return nil
}

func (p *Provider) FinishUpload(ctx context.Context, account model.Account, job *model.UploadJob, post model.PostDetails) (*model.PostRef, error) {
	svc, err := p.service(ctx, account.AccessToken)
	if err != nil {
		return nil, err
	}
	title := post.Setting("title")
	if title == "" {
		title = strings.TrimSpace(strings.SplitN(post.Message, "\n", 2)[0])
	}
	if r := []rune(title); len(r) > titleLimit {
		title = string(r[:titleLimit])
	}
	privacy := post.Setting("type")
	if privacy == "" {
		privacy = p.cfg.Privacy
	}
	video := &youtube.Video{
		Id: job.ExternalID,
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: post.Message,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{PrivacyStatus: privacy},
	}
	if _, err := svc.Videos.Update([]string{"snippet", "status"}, video).Context(ctx).Do(); err != nil {
		return nil, p.wrap("finish upload", err)
	}
	model.RunStateFrom(ctx).MarkPrepared(videoKey(job.ExternalID), true)
	return &model.PostRef{ID: job.ExternalID, URL: "https://www.youtube.com/watch?v=" + job.ExternalID}, nil
}

// UploadStatus maps the video processing status onto the poller states.
func (p *Provider) UploadStatus(ctx context.Context, account model.Account, job *model.UploadJob) (model.UploadStatus, error) {
	svc, err := p.service(ctx, account.AccessToken)
	if err != nil {
		return model.UploadStatus{}, err
	}
	resp, err := svc.Videos.List([]string{"status", "processingDetails"}).Id(job.ExternalID).Context(ctx).Do()
	if err != nil {
		return model.UploadStatus{}, p.wrap("upload status", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Status == nil {
		return model.UploadStatus{State: model.ProcessingInProgress}, nil
	}
	st := resp.Items[0].Status
	switch st.UploadStatus {
	case "processed":
		return model.UploadStatus{State: model.ProcessingReady}, nil
	case "failed":
		return model.UploadStatus{State: model.ProcessingError, Error: "failed: " + st.FailureReason}, nil
	case "rejected":
		return model.UploadStatus{State: model.ProcessingError, Error: "rejected: " + st.RejectionReason}, nil
	case "deleted":
		return model.UploadStatus{State: model.ProcessingError, Error: "video was deleted"}, nil
	default:
		return model.UploadStatus{State: model.ProcessingInProgress}, nil
	}
}

func videoKey(id string) string { return Identifier + ":video:" + id }

// threadKey maps a comment of this run to the top-level comment of its thread.
func threadKey(id string) string { return Identifier + ":thread:" + id }

// CreateReply starts a comment thread on the video, or answers in the thread of the previous
// comment. YouTube only accepts top-level comment ids as parents, so every reply of the chain
// goes to the thread root.
func (p *Provider) CreateReply(ctx context.Context, account model.Account, parentID string, post model.PostDetails) (*model.PostRef, error) {
	svc, err := p.service(ctx, account.AccessToken)
	if err != nil {
		return nil, err
	}
	if _, onVideo := model.RunStateFrom(ctx).Prepared(videoKey(parentID)); onVideo {
		thread := &youtube.CommentThread{Snippet: &youtube.CommentThreadSnippet{
			VideoId: parentID,
			TopLevelComment: &youtube.Comment{Snippet: &youtube.CommentSnippet{
				TextOriginal: post.Message,
			}},
		}}
		resp, err := svc.CommentThreads.Insert([]string{"snippet"}, thread).Context(ctx).Do()
		if err != nil {
			return nil, p.wrap("add comment", err)
		}
		id := resp.Id
		if resp.Snippet != nil && resp.Snippet.TopLevelComment != nil {
			id = resp.Snippet.TopLevelComment.Id
		}
		model.RunStateFrom(ctx).MarkPrepared(threadKey(id), id)
		return &model.PostRef{ID: id, URL: fmt.Sprintf("https://www.youtube.com/watch?v=%s&lc=%s", parentID, id)}, nil
	}

	root := parentID
	if v, ok := model.RunStateFrom(ctx).Prepared(threadKey(parentID)); ok {
		root = v.(string)
	}
	comment := &youtube.Comment{Snippet: &youtube.CommentSnippet{ParentId: root, TextOriginal: post.Message}}
	resp, err := svc.Comments.Insert([]string{"snippet"}, comment).Context(ctx).Do()
	if err != nil {
		return nil, p.wrap("add reply", err)
	}
	model.RunStateFrom(ctx).MarkPrepared(threadKey(resp.Id), root)
	return &model.PostRef{ID: resp.Id}, nil
}

// wrap turns googleapi errors into classified provider errors.
func (p *Provider) wrap(step string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	body := gerr.Body
	if body == "" {
		body = gerr.Error()
	}
	return &social.ProviderError{
		Provider:       Identifier,
		Step:           step,
		StatusCode:     gerr.Code,
		Body:           body,
		Classification: p.ClassifyError(body),
	}
}
