package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxPolls     = 60
	notifyTimeout       = 10 * time.Second
)

type IPublishUsecase interface {
	// Publish resolves credentials for the integration and publishes the batch: the first
	// entry is the primary post, the rest are threaded replies. The result always has one
	// response per input entry, in input order. The error is set only when the integration
	// or its provider cannot be resolved.
	Publish(ctx context.Context, integrationID string, posts []model.PostDetails) ([]model.PostResponse, error)
	// PublishWithToken publishes with credentials the caller already holds.
	PublishWithToken(ctx context.Context, provider repository.IProvider, account model.Account, posts []model.PostDetails) []model.PostResponse
	Providers() []ProviderInfo
}

// PublishOptions tune the poller; zero values fall back to the defaults.
type PublishOptions struct {
	PollInterval time.Duration
	MaxPolls     int
	Clock        Clock
}

type publishUsecase struct {
	registry  *ProviderRegistry
	store     repository.ICredentialStore
	locker    repository.ILocker
	notifiers []repository.IPublishNotifier

	clock        Clock
	pollInterval time.Duration
	maxPolls     int

	semMu sync.Mutex
	sems  map[string]*semaphore.Weighted
}

func NewPublishUsecase(registry *ProviderRegistry, store repository.ICredentialStore, locker repository.ILocker, opts PublishOptions, notifiers ...repository.IPublishNotifier) IPublishUsecase {
	u := &publishUsecase{
		registry:     registry,
		store:        store,
		locker:       locker,
		notifiers:    notifiers,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		sems:         make(map[string]*semaphore.Weighted),
	}
	if u.clock == nil {
		u.clock = SystemClock()
	}
	if u.pollInterval <= 0 {
		u.pollInterval = DefaultPollInterval
	}
	if u.maxPolls <= 0 {
		u.maxPolls = DefaultMaxPolls
	}
	return u
}

func (u *publishUsecase) Providers() []ProviderInfo { return u.registry.List() }

// semaphoreFor returns the slot pool shared by every account of one provider.
func (u *publishUsecase) semaphoreFor(p repository.IProvider) *semaphore.Weighted {
	u.semMu.Lock()
	defer u.semMu.Unlock()
	s, ok := u.sems[p.Identifier()]
	if !ok {
		s = semaphore.NewWeighted(int64(concurrencyOf(p)))
		u.sems[p.Identifier()] = s
	}
	return s
}

func (u *publishUsecase) guard(p repository.IProvider) guardFunc {
	sem := u.semaphoreFor(p)
	return func(ctx context.Context, call func(ctx context.Context) error) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
		return call(ctx)
	}
}

func failAll(posts []model.PostDetails, f *model.Failure) []model.PostResponse {
	out := make([]model.PostResponse, len(posts))
	for i, p := range posts {
		out[i] = model.FailedResponse(p.ID, f)
	}
	return out
}

func (u *publishUsecase) Publish(ctx context.Context, integrationID string, posts []model.PostDetails) ([]model.PostResponse, error) {
	lg := logger.GetLogger().WithField("integration", integrationID)
	if len(posts) == 0 {
		return []model.PostResponse{}, nil
	}
	integ, err := u.store.Get(ctx, integrationID)
	if err != nil {
		lg.WithField("error", err).Warn("integration lookup failed")
		return failAll(posts, model.UnclassifiedFailure(err.Error())), err
	}
	provider, err := u.registry.Get(integ.Provider)
	if err != nil {
		return failAll(posts, model.UnclassifiedFailure(err.Error())), err
	}

	var responses []model.PostResponse
	account, f := u.resolveCredentials(ctx, provider, integ)
	if f != nil {
		lg.WithField("provider", integ.Provider).WithField("reason", f.Message).Warn("credentials unusable, batch failed")
		responses = failAll(posts, f)
	} else {
		responses = u.PublishWithToken(ctx, provider, account, posts)
		if primary := responses[0]; primary.Failure != nil && primary.Failure.Kind == model.FailureCredentialInvalid {
			if err := u.store.Expire(ctx, integ.ID); err != nil {
				lg.WithField("error", err).Warn("failed to expire rejected token")
			}
		}
	}

	u.notify(ctx, model.PublishEvent{
		IntegrationID: integ.ID,
		Provider:      provider.Identifier(),
		Responses:     responses,
		FinishedAt:    u.clock.Now().UTC(),
	})
	return responses, nil
}

// resolveCredentials returns a usable account, refreshing an expired token under the integration lock.
func (u *publishUsecase) resolveCredentials(ctx context.Context, provider repository.IProvider, integ *model.Integration) (model.Account, *model.Failure) {
	if integ.Disabled {
		return model.Account{}, &model.Failure{Kind: model.FailureCredentialInvalid, Classification: model.KindRefreshToken, Message: "Integration is disabled"}
	}
	if integ.InBetweenSteps {
		return model.Account{}, &model.Failure{Kind: model.FailureCredentialInvalid, Classification: model.KindRefreshToken, Message: "Integration setup is not finished, please select a page"}
	}
	if integ.RefreshNeeded {
		return model.Account{}, &model.Failure{Kind: model.FailureCredentialInvalid, Classification: model.KindRefreshToken, Message: "The platform rejected the stored token, please re-authenticate"}
	}
	if !integ.TokenExpired(u.clock.Now()) {
		return model.Account{ID: integ.ProfileID, AccessToken: integ.AccessToken}, nil
	}

	unlock, err := u.locker.Lock(ctx, "integration:"+integ.ID)
	if err != nil {
		return model.Account{}, model.UnclassifiedFailure(fmt.Sprintf("could not lock integration: %v", err))
	}
	defer unlock()

	// another publish may have refreshed while we waited for the lock
	fresh, err := u.store.Get(ctx, integ.ID)
	if err != nil {
		return model.Account{}, model.UnclassifiedFailure(err.Error())
	}
	if !fresh.TokenExpired(u.clock.Now()) {
		return model.Account{ID: fresh.ProfileID, AccessToken: fresh.AccessToken}, nil
	}

	var details *model.AuthTokenDetails
	err = u.guard(provider)(ctx, func(ctx context.Context) error {
		var err error
		details, err = provider.RefreshToken(ctx, fresh.RefreshToken)
		return err
	})
	if err == nil && (details == nil || details.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}
	if err != nil {
		logger.GetLogger().WithField("integration", integ.ID).WithField("error", err).Warn("token refresh failed")
		return model.Account{}, &model.Failure{
			Kind:           model.FailureCredentialInvalid,
			Classification: model.KindRefreshToken,
			Message:        "Could not refresh the access token, please re-authenticate",
		}
	}
	if err := u.store.Put(ctx, integ.ID, details); err != nil {
		logger.GetLogger().WithField("integration", integ.ID).WithField("error", err).Error("failed to store refreshed token")
	}
	return model.Account{ID: fresh.ProfileID, AccessToken: details.AccessToken}, nil
}

func (u *publishUsecase) PublishWithToken(ctx context.Context, provider repository.IProvider, account model.Account, posts []model.PostDetails) []model.PostResponse {
	responses := make([]model.PostResponse, len(posts))
	if len(posts) == 0 {
		return responses
	}
	if model.RunStateFrom(ctx) == nil {
		ctx = model.WithRunState(ctx, model.NewRunState())
	}
	lg := logger.GetLogger().WithField("provider", provider.Identifier()).WithField("account", account.ID)

	responses[0] = u.safely(posts[0].ID, func() model.PostResponse {
		return u.publishPrimary(ctx, provider, account, posts[0])
	})
	if !responses[0].Status.Succeeded() {
		for i := 1; i < len(posts); i++ {
			responses[i] = model.FailedResponse(posts[i].ID, model.UnclassifiedFailure("not attempted: primary post failed"))
		}
		lg.WithField("post", posts[0].ID).Warn("primary post failed")
		return responses
	}

	// replies chain onto the last successful post
	parentID := responses[0].PostID
	for i := 1; i < len(posts); i++ {
		responses[i] = u.safely(posts[i].ID, func() model.PostResponse {
			return u.publishReply(ctx, provider, account, parentID, posts[i])
		})
		if responses[i].Status.Succeeded() {
			parentID = responses[i].PostID
		} else {
			lg.WithField("post", posts[i].ID).WithField("reason", responses[i].Failure.Message).Info("reply failed, continuing chain")
		}
	}
	return responses
}

// safely turns a panic inside an adapter into a failed response.
func (u *publishUsecase) safely(id string, fn func() model.PostResponse) (res model.PostResponse) {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().WithField("post", id).WithField("panic", r).Error("adapter panicked")
			res = model.FailedResponse(id, model.UnclassifiedFailure(fmt.Sprint(r)))
		}
	}()
	res = fn()
	if res.ID == "" {
		res.ID = id
	}
	return res
}

func tooLong(provider repository.IProvider, post model.PostDetails) *model.Failure {
	limit := provider.MaxLength()
	if limit <= 0 || utf8.RuneCountInString(post.Message) <= limit {
		return nil
	}
	return model.FailureFrom(model.Classification{
		Kind:    model.KindBadBody,
		Message: fmt.Sprintf("Post content is too long, the limit is %d characters", limit),
	})
}

func (u *publishUsecase) publishPrimary(ctx context.Context, provider repository.IProvider, account model.Account, post model.PostDetails) model.PostResponse {
	if f := tooLong(provider, post); f != nil {
		return model.FailedResponse(post.ID, f)
	}
	if mp, ok := provider.(repository.IMultiPhasePublisher); ok && mp.NeedsMultiPhase(post) {
		if len(post.Media) == 0 {
			return model.FailedResponse(post.ID, model.UnclassifiedFailure("multi-phase upload needs a media item"))
		}
		m := &uploadMachine{
			provider: provider,
			adapter:  mp,
			account:  account,
			post:     post,
			media:    post.Media[0],
			guard:    u.guard(provider),
			clock:    u.clock,
			interval: u.pollInterval,
			maxPolls: u.maxPolls,
		}
		job := m.run(ctx)
		if job.Phase != model.PhaseReady {
			return model.FailedResponse(post.ID, job.Failure)
		}
		return model.Completed(post.ID, job.Result)
	}

	pp, ok := provider.(repository.IPostPublisher)
	if !ok {
		return model.FailedResponse(post.ID, model.UnclassifiedFailure(model.ErrUploadUnsupported.Error()))
	}
	return u.publishSimple(ctx, provider, pp, account, post)
}

// publishSimple uploads media items in parallel, then creates the post with every handle that
// came back. A failed item is skipped; the post fails only when every item failed.
func (u *publishUsecase) publishSimple(ctx context.Context, provider repository.IProvider, pp repository.IPostPublisher, account model.Account, post model.PostDetails) model.PostResponse {
	guard := u.guard(provider)
	handles := make([]string, len(post.Media))
	errs := make([]error, len(post.Media))

	var g errgroup.Group
	for i, media := range post.Media {
		g.Go(func() error {
			errs[i] = guard(ctx, func(ctx context.Context) error {
				h, err := pp.UploadMedia(ctx, account, media)
				handles[i] = h
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	uploaded := make([]string, 0, len(handles))
	var firstErr error
	for i, h := range handles {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			logger.GetLogger().WithField("post", post.ID).WithField("media", post.Media[i].Path).WithField("error", errs[i]).Warn("media upload failed, skipping item")
			continue
		}
		uploaded = append(uploaded, h)
	}
	if len(post.Media) > 0 && len(uploaded) == 0 {
		return model.FailedResponse(post.ID, failureOf(provider, firstErr))
	}

	var ref *model.PostRef
	err := guard(ctx, func(ctx context.Context) error {
		var err error
		ref, err = pp.CreatePost(ctx, account, post, uploaded)
		return err
	})
	if err != nil {
		return model.FailedResponse(post.ID, failureOf(provider, err))
	}
	return model.Completed(post.ID, ref)
}

func (u *publishUsecase) publishReply(ctx context.Context, provider repository.IProvider, account model.Account, parentID string, post model.PostDetails) model.PostResponse {
	rp, ok := provider.(repository.IReplyPublisher)
	if !ok {
		return model.FailedResponse(post.ID, model.UnclassifiedFailure(model.ErrRepliesUnsupported.Error()))
	}
	if f := tooLong(provider, post); f != nil {
		return model.FailedResponse(post.ID, f)
	}
	var ref *model.PostRef
	err := u.guard(provider)(ctx, func(ctx context.Context) error {
		var err error
		ref, err = rp.CreateReply(ctx, account, parentID, post)
		return err
	})
	if err != nil {
		return model.FailedResponse(post.ID, failureOf(provider, err))
	}
	return model.Completed(post.ID, ref)
}

// notify fans the event out to every notifier. Delivery is best effort.
func (u *publishUsecase) notify(ctx context.Context, event model.PublishEvent) {
	if len(u.notifiers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	var g errgroup.Group
	for _, n := range u.notifiers {
		g.Go(func() error {
			if err := n.Notify(ctx, event); err != nil {
				logger.GetLogger().WithField("integration", event.IntegrationID).WithField("error", err).Warn("publish notification failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
