package repository

import (
	"context"

	"publish-pipeline/domain/model"
)

// IProvider is the capability contract every platform adapter implements.
// The publish protocol itself is driven by the orchestrator through the
// step interfaces below; an adapter implements the ones its platform supports.
type IProvider interface {
	Identifier() string
	Name() string
	GenerateAuthURL(ctx context.Context, extra map[string]string) (*model.AuthURL, error)
	// Authenticate never returns user-facing failures as errors; they go in AuthResult.Failure.
	Authenticate(ctx context.Context, code, codeVerifier string) model.AuthResult
	RefreshToken(ctx context.Context, refreshToken string) (*model.AuthTokenDetails, error)
	MaxLength() int
	MaxConcurrentJob() int
	ClassifyError(body string) model.Classification
}

// IPostPublisher implements the simple path: independent media uploads, then one create call.
type IPostPublisher interface {
	UploadMedia(ctx context.Context, account model.Account, media model.Media) (handle string, err error)
	CreatePost(ctx context.Context, account model.Account, post model.PostDetails, handles []string) (*model.PostRef, error)
}

// IMultiPhasePublisher implements start → transfer → finish → poll for assets the
// platform processes asynchronously.
type IMultiPhasePublisher interface {
	// NeedsMultiPhase decides which path serves the primary post.
	NeedsMultiPhase(post model.PostDetails) bool
	StartUpload(ctx context.Context, account model.Account, media model.Media) (*model.UploadJob, error)
	// TransferRemote asks the platform to fetch the asset itself. It returns an error
	// wrapping model.ErrRemoteFetchRefused when the platform cannot reach the url.
	TransferRemote(ctx context.Context, account model.Account, job *model.UploadJob, media model.Media) error
	// TransferBinary downloads the asset and streams it to the platform.
	TransferBinary(ctx context.Context, account model.Account, job *model.UploadJob, media model.Media) error
	FinishUpload(ctx context.Context, account model.Account, job *model.UploadJob, post model.PostDetails) (*model.PostRef, error)
	UploadStatus(ctx context.Context, account model.Account, job *model.UploadJob) (model.UploadStatus, error)
}

// IReplyPublisher attaches a follow-up to an existing post or reply.
type IReplyPublisher interface {
	CreateReply(ctx context.Context, account model.Account, parentID string, post model.PostDetails) (*model.PostRef, error)
}

// IPageSelector is implemented by providers whose connect flow ends on a user account and
// needs a page chosen before anything can be published.
type IPageSelector interface {
	Pages(ctx context.Context, accessToken string) ([]model.Page, error)
	// SelectPage returns the page's own credentials, keyed by the page id.
	SelectPage(ctx context.Context, accessToken, pageID string) (*model.AuthTokenDetails, error)
}
