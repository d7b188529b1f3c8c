package usecase

import (
	"context"
	"fmt"
	"path"
	"strings"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"

	"github.com/gabriel-vasile/mimetype"
)

const (
	StageConvert  = "convert"
	StageType     = "type"
	StageSize     = "size"
	StageTransfer = "transfer"

	heicFailureMessage = "Failed to convert HEIC file. Please convert it manually to JPG/PNG."
	MetaStorage        = "storage"
)

var wildcardTypes = map[string][]string{
	"image/*": {"image/png", "image/jpeg", "image/jpg", "image/gif"},
	"video/*": {"video/mp4", "video/mpeg"},
}

type IMediaPreflight interface {
	// Run processes one batch and returns its result exactly once.
	Run(ctx context.Context, files []*model.PendingFile, obs RunObservers) model.PreflightResult
}

// RunObservers receives the progress signals of a single Run. Either callback may be nil.
type RunObservers struct {
	// OnLocked is called with true when the batch starts and false when it ends.
	OnLocked func(locked bool)
	// OnReject receives one user-facing message per dropped file.
	OnReject func(r model.Rejection)
}

func (o RunObservers) locked(v bool) {
	if o.OnLocked != nil {
		o.OnLocked(v)
	}
}

func (o RunObservers) reject(r model.Rejection) {
	logger.GetLogger().WithField("file", r.Name).WithField("stage", r.Stage).Info(r.Message)
	if o.OnReject != nil {
		o.OnReject(r)
	}
}

// PreflightOptions configures one preflight pipeline.
type PreflightOptions struct {
	AllowedTypes    string
	MaxImageBytes   int64
	MaxVideoBytes   int64
	StorageProvider string
}

type mediaPreflight struct {
	opts       PreflightOptions
	allowed    []string
	converters []repository.IMediaConverter
	compressor repository.IMediaCompressor
	storage    repository.IStorageBackend
}

// NewMediaPreflight builds the pipeline. converters are tried in order; compressor may be nil.
func NewMediaPreflight(opts PreflightOptions, storage repository.IStorageBackend, compressor repository.IMediaCompressor, converters ...repository.IMediaConverter) IMediaPreflight {
	return &mediaPreflight{
		opts:       opts,
		allowed:    ExpandAllowedTypes(opts.AllowedTypes),
		converters: converters,
		compressor: compressor,
		storage:    storage,
	}
}

// ExpandAllowedTypes turns a comma separated allow-list into concrete types, expanding wildcards.
func ExpandAllowedTypes(list string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(t string) {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range strings.Split(list, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if expanded, ok := wildcardTypes[t]; ok {
			for _, e := range expanded {
				add(e)
			}
			continue
		}
		add(t)
	}
	return out
}

// IsHEIC reports whether the file is in the camera-native HEIC/HEIF format.
func IsHEIC(f *model.PendingFile) bool {
	t := strings.ToLower(f.Type)
	if t == "image/heic" || t == "image/heif" {
		return true
	}
	n := strings.ToLower(f.Name)
	return strings.HasSuffix(n, ".heic") || strings.HasSuffix(n, ".heif")
}

func (p *mediaPreflight) Run(ctx context.Context, files []*model.PendingFile, obs RunObservers) model.PreflightResult {
	result := model.PreflightResult{Saved: []model.SavedMedia{}}
	if len(files) == 0 {
		return result
	}
	obs.locked(true)
	defer obs.locked(false)

	queue := make([]*model.PendingFile, 0, len(files))
	for _, f := range files {
		if r := p.admit(ctx, f); r != nil {
			result.Rejected = append(result.Rejected, *r)
			obs.reject(*r)
			continue
		}
		queue = append(queue, f)
	}
	if len(queue) == 0 {
		return result
	}

	for i, tr := range p.storage.Upload(ctx, queue) {
		if tr.Err != nil || tr.Saved == nil {
			msg := "upload failed"
			if tr.Err != nil {
				msg = tr.Err.Error()
			}
			r := model.Rejection{FileID: queue[i].ID, Name: queue[i].Name, Stage: StageTransfer, Message: msg}
			result.Rejected = append(result.Rejected, r)
			obs.reject(r)
			continue
		}
		result.Saved = append(result.Saved, *tr.Saved)
	}
	logger.GetLogger().WithField("saved", len(result.Saved)).WithField("rejected", len(result.Rejected)).
		WithField("storage", p.storage.Name()).Info("preflight batch finished")
	return result
}

// admit runs the per-file stages in order and returns the rejection that removed the file, if any.
func (p *mediaPreflight) admit(ctx context.Context, f *model.PendingFile) *model.Rejection {
	if IsHEIC(f) {
		if !p.convert(ctx, f) {
			return &model.Rejection{FileID: f.ID, Name: f.Name, Stage: StageConvert, Message: heicFailureMessage}
		}
	}

	resolved := p.resolveType(f)
	if !p.typeAllowed(resolved, f.Name) {
		return &model.Rejection{
			FileID:  f.ID,
			Name:    f.Name,
			Stage:   StageType,
			Message: fmt.Sprintf("File type %q is not allowed for file %q. Allowed types: %s", resolved, f.Name, strings.Join(p.allowed, ", ")),
		}
	}
	f.Type = resolved

	if msg := p.checkSize(f); msg != "" {
		return &model.Rejection{FileID: f.ID, Name: f.Name, Stage: StageSize, Message: msg}
	}

	p.compress(ctx, f)

	if f.Meta == nil {
		f.Meta = map[string]string{}
	}
	f.Meta[MetaStorage] = p.opts.StorageProvider
	return nil
}

// convert replaces f in place with the output of the first converter that succeeds.
func (p *mediaPreflight) convert(ctx context.Context, f *model.PendingFile) bool {
	lg := logger.GetLogger().WithField("file", f.Name)
	for _, c := range p.converters {
		out, err := c.Convert(ctx, f)
		if err != nil {
			lg.WithField("converter", c.Name()).WithField("error", err).Warn("conversion attempt failed")
			continue
		}
		f.Name = out.Name
		f.Type = out.Type
		f.Size = int64(len(out.Data))
		f.Source = model.BytesSource(out.Data)
		lg.WithField("converter", c.Name()).Info("file converted")
		return true
	}
	return false
}

// resolveType trusts the declared type and sniffs the content only when none was given.
func (p *mediaPreflight) resolveType(f *model.PendingFile) string {
	if f.Type != "" {
		return strings.ToLower(f.Type)
	}
	if f.Source == nil {
		return ""
	}
	rc, err := f.Source.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return ""
	}
	return strings.SplitN(mt.String(), ";", 2)[0]
}

func (p *mediaPreflight) typeAllowed(resolved, name string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	for _, a := range p.allowed {
		switch {
		case a == resolved:
			return true
		case strings.HasPrefix(a, ".") && a == ext:
			return true
		case strings.HasSuffix(a, "/*") && resolved != "" && strings.HasPrefix(resolved, strings.TrimSuffix(a, "*")):
			return true
		}
	}
	return false
}

func (p *mediaPreflight) checkSize(f *model.PendingFile) string {
	switch {
	case strings.HasPrefix(f.Type, "image/") && p.opts.MaxImageBytes > 0 && f.Size > p.opts.MaxImageBytes:
		return fmt.Sprintf("Image file %q is too large. Maximum size allowed is %s.", f.Name, humanSize(p.opts.MaxImageBytes))
	case strings.HasPrefix(f.Type, "video/") && p.opts.MaxVideoBytes > 0 && f.Size > p.opts.MaxVideoBytes:
		return fmt.Sprintf("Video file %q is too large. Maximum size allowed is %s.", f.Name, humanSize(p.opts.MaxVideoBytes))
	}
	return ""
}

// humanSize renders ceilings the way users read them: 30MB, 1GB.
func humanSize(n int64) string {
	mb := n / (1024 * 1024)
	if mb >= 1000 && mb%1000 == 0 {
		return fmt.Sprintf("%dGB", mb/1000)
	}
	return fmt.Sprintf("%dMB", mb)
}

// compress shrinks JPEG images. A compression failure keeps the original file.
func (p *mediaPreflight) compress(ctx context.Context, f *model.PendingFile) {
	if p.compressor == nil || (f.Type != "image/jpeg" && f.Type != "image/jpg") {
		return
	}
	out, err := p.compressor.Compress(ctx, f)
	if err != nil {
		logger.GetLogger().WithField("file", f.Name).WithField("error", err).Warn("compression skipped")
		return
	}
	if out == nil || int64(len(out.Data)) >= f.Size {
		return
	}
	f.Size = int64(len(out.Data))
	f.Source = model.BytesSource(out.Data)
}
