package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"
)

type uploadEvent int

const (
	evStarted uploadEvent = iota
	evTransferred
	evFinished
	evStillProcessing
	evReady
	evFailed
)

// nextPhase is the transition function of the multi-phase upload.
// Events that make no sense for a phase fail the job.
func nextPhase(phase model.UploadPhase, ev uploadEvent) model.UploadPhase {
	if phase.Terminal() {
		return phase
	}
	switch {
	case phase == model.PhaseStart && ev == evStarted:
		return model.PhaseTransferring
	case phase == model.PhaseTransferring && ev == evTransferred:
		return model.PhaseFinishing
	case phase == model.PhaseFinishing && ev == evFinished:
		return model.PhasePolling
	case phase == model.PhasePolling && ev == evStillProcessing:
		return model.PhasePolling
	case phase == model.PhasePolling && ev == evReady:
		return model.PhaseReady
	}
	return model.PhaseFailed
}

// guardFunc wraps one network call in the provider's concurrency slot.
type guardFunc func(ctx context.Context, call func(ctx context.Context) error) error

type uploadMachine struct {
	provider repository.IProvider
	adapter  repository.IMultiPhasePublisher
	account  model.Account
	post     model.PostDetails
	media    model.Media
	guard    guardFunc
	clock    Clock
	interval time.Duration
	maxPolls int

	job *model.UploadJob
}

// run drives the job until it is ready or failed. Transfer is never retried on its own;
// a failure in any phase aborts the whole job.
func (m *uploadMachine) run(ctx context.Context) *model.UploadJob {
	m.job = &model.UploadJob{Phase: model.PhaseStart}
	lg := logger.GetLogger().WithField("provider", m.provider.Identifier()).WithField("post", m.post.ID)
	for !m.job.Phase.Terminal() {
		prev := m.job.Phase
		ev := m.step(ctx)
		m.job.Phase = nextPhase(prev, ev)
		if prev != m.job.Phase {
			lg.WithField("from", prev).WithField("to", m.job.Phase).WithField("job", m.job.ExternalID).Debug("upload phase changed")
		}
	}
	return m.job
}

func (m *uploadMachine) step(ctx context.Context) uploadEvent {
	switch m.job.Phase {
	case model.PhaseStart:
		return m.start(ctx)
	case model.PhaseTransferring:
		return m.transfer(ctx)
	case model.PhaseFinishing:
		return m.finish(ctx)
	case model.PhasePolling:
		return m.poll(ctx)
	}
	return m.fail(model.UnclassifiedFailure(fmt.Sprintf("unexpected upload phase %q", m.job.Phase)))
}

func (m *uploadMachine) fail(f *model.Failure) uploadEvent {
	m.job.Failure = f
	return evFailed
}

func (m *uploadMachine) start(ctx context.Context) uploadEvent {
	var job *model.UploadJob
	err := m.guard(ctx, func(ctx context.Context) error {
		var err error
		job, err = m.adapter.StartUpload(ctx, m.account, m.media)
		return err
	})
	if err != nil {
		return m.fail(failureOf(m.provider, err))
	}
	m.job.ExternalID = job.ExternalID
	m.job.UploadURL = job.UploadURL
	return evStarted
}

// transfer tries the remote fetch first and streams the bytes only when the platform refuses the url.
func (m *uploadMachine) transfer(ctx context.Context) uploadEvent {
	err := m.guard(ctx, func(ctx context.Context) error {
		return m.adapter.TransferRemote(ctx, m.account, m.job, m.media)
	})
	if errors.Is(err, model.ErrRemoteFetchRefused) {
		logger.GetLogger().WithField("provider", m.provider.Identifier()).WithField("job", m.job.ExternalID).
			Info("remote fetch refused, falling back to binary transfer")
		err = m.guard(ctx, func(ctx context.Context) error {
			return m.adapter.TransferBinary(ctx, m.account, m.job, m.media)
		})
	}
	if err != nil {
		return m.fail(failureOf(m.provider, err))
	}
	return evTransferred
}

func (m *uploadMachine) finish(ctx context.Context) uploadEvent {
	var ref *model.PostRef
	err := m.guard(ctx, func(ctx context.Context) error {
		var err error
		ref, err = m.adapter.FinishUpload(ctx, m.account, m.job, m.post)
		return err
	})
	if err != nil {
		return m.fail(failureOf(m.provider, err))
	}
	m.job.Result = ref
	m.job.Deadline = m.clock.Now().Add(time.Duration(m.maxPolls) * m.interval)
	return evFinished
}

// poll waits one interval, then asks for the processing status.
// The wait holds no concurrency slot and ends early when ctx is cancelled.
func (m *uploadMachine) poll(ctx context.Context) uploadEvent {
	if m.job.Attempts >= m.maxPolls {
		return m.fail(model.TimeoutFailure(fmt.Sprintf("media still processing after %d status checks", m.job.Attempts)))
	}
	select {
	case <-ctx.Done():
		return m.fail(model.UnclassifiedFailure("publish cancelled while waiting for media processing"))
	case <-m.clock.After(m.interval):
	}

	var st model.UploadStatus
	err := m.guard(ctx, func(ctx context.Context) error {
		var err error
		st, err = m.adapter.UploadStatus(ctx, m.account, m.job)
		return err
	})
	m.job.Attempts++
	if err != nil {
		return m.fail(failureOf(m.provider, err))
	}
	switch st.State {
	case model.ProcessingReady:
		return evReady
	case model.ProcessingError:
		return m.fail(classifyBody(m.provider, st.Error))
	default:
		return evStillProcessing
	}
}

// failureOf converts any adapter error into the failure taxonomy.
func failureOf(p repository.IProvider, err error) *model.Failure {
	var ce model.ClassifiedError
	if errors.As(err, &ce) {
		if c := ce.Classified(); c.Kind != model.KindNone {
			return model.FailureFrom(c)
		}
		return model.UnclassifiedFailure(err.Error())
	}
	return classifyBody(p, err.Error())
}

func classifyBody(p repository.IProvider, body string) *model.Failure {
	c := p.ClassifyError(body)
	if c.Kind == model.KindNone {
		return model.UnclassifiedFailure(body)
	}
	return model.FailureFrom(c)
}
