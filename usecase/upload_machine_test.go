package usecase

import (
	"context"
	"errors"
	"testing"

	"publish-pipeline/domain/model"

	"github.com/stretchr/testify/assert"
)

func TestNextPhase(t *testing.T) {
	cases := []struct {
		from model.UploadPhase
		ev   uploadEvent
		want model.UploadPhase
	}{
		{model.PhaseStart, evStarted, model.PhaseTransferring},
		{model.PhaseTransferring, evTransferred, model.PhaseFinishing},
		{model.PhaseFinishing, evFinished, model.PhasePolling},
		{model.PhasePolling, evStillProcessing, model.PhasePolling},
		{model.PhasePolling, evReady, model.PhaseReady},
		{model.PhaseStart, evFailed, model.PhaseFailed},
		{model.PhaseTransferring, evFailed, model.PhaseFailed},
		{model.PhasePolling, evFailed, model.PhaseFailed},
		// out of order events fail the job
		{model.PhaseStart, evReady, model.PhaseFailed},
		{model.PhaseTransferring, evFinished, model.PhaseFailed},
		// terminal phases never move
		{model.PhaseReady, evFailed, model.PhaseReady},
		{model.PhaseFailed, evStarted, model.PhaseFailed},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, nextPhase(c.from, c.ev), "%s + %d", c.from, c.ev)
	}
}

type classifiedErr struct{ c model.Classification }

func (e classifiedErr) Error() string                     { return "classified" }
func (e classifiedErr) Classified() model.Classification { return e.c }

type fakeIdentity struct{}

func (fakeIdentity) Identifier() string    { return "fake" }
func (fakeIdentity) Name() string          { return "Fake" }
func (fakeIdentity) MaxLength() int        { return 0 }
func (fakeIdentity) MaxConcurrentJob() int { return 1 }
func (fakeIdentity) GenerateAuthURL(ctx context.Context, extra map[string]string) (*model.AuthURL, error) {
	return &model.AuthURL{}, nil
}
func (fakeIdentity) Authenticate(ctx context.Context, code, verifier string) model.AuthResult {
	return model.AuthResult{}
}
func (fakeIdentity) RefreshToken(ctx context.Context, token string) (*model.AuthTokenDetails, error) {
	return nil, errors.New("unsupported")
}

type tableProvider struct{ fakeIdentity }

func (tableProvider) ClassifyError(body string) model.Classification {
	if body == "slow down" {
		return model.Classification{Kind: model.KindBadBody, Message: "rate limited", Transient: true}
	}
	return model.Classification{Kind: model.KindNone, Message: body}
}

func TestFailureOf(t *testing.T) {
	p := tableProvider{}

	f := failureOf(p, classifiedErr{model.Classification{Kind: model.KindRefreshToken, Message: "relogin"}})
	assert.Equal(t, model.FailureCredentialInvalid, f.Kind)
	assert.Equal(t, "relogin", f.Message)

	f = failureOf(p, errors.New("slow down"))
	assert.Equal(t, model.FailureTransient, f.Kind)
	assert.True(t, f.Retryable())

	f = failureOf(p, errors.New("boom"))
	assert.Equal(t, model.FailureUnclassified, f.Kind)
	assert.Equal(t, "boom", f.Message)
	assert.False(t, f.Retryable())
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "30MB", humanSize(30*1024*1024))
	assert.Equal(t, "1GB", humanSize(1000*1024*1024))
}
