package model

import (
	"fmt"
	"path"
	"strings"
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".mpeg": {}, ".mpg": {}, ".webm": {}, ".m4v": {}, ".avi": {},
}

// Media references an asset that already lives in storage.
type Media struct {
	Path      string `json:"path"`
	Type      string `json:"type,omitempty"` // declared MIME type, optional
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Kind resolves the media category from the declared type, falling back to the extension.
func (m Media) Kind() MediaKind {
	switch {
	case strings.HasPrefix(m.Type, "video/"):
		return MediaVideo
	case strings.HasPrefix(m.Type, "image/"):
		return MediaImage
	}
	p := m.Path
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if _, ok := videoExtensions[strings.ToLower(path.Ext(p))]; ok {
		return MediaVideo
	}
	return MediaImage
}

// PostDetails is one message + media + settings unit.
type PostDetails struct {
	ID       string                 `json:"id"`
	Message  string                 `json:"message"`
	Media    []Media                `json:"media,omitempty"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// Setting returns a settings value rendered as a string, or "" when absent.
func (p PostDetails) Setting(key string) string {
	v, ok := p.Settings[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Link is the optional url setting attached to the post.
func (p PostDetails) Link() string { return p.Setting("url") }

// HasVideo reports whether the first media item is a video.
func (p PostDetails) HasVideo() bool {
	return len(p.Media) > 0 && p.Media[0].Kind() == MediaVideo
}

type PostStatus string

const (
	StatusCompleted PostStatus = "completed"
	StatusPosted    PostStatus = "posted"
	StatusFailed    PostStatus = "failed"
	StatusError     PostStatus = "error"
)

// Succeeded collapses the provider-defined statuses to success/failure.
func (s PostStatus) Succeeded() bool {
	return s == StatusCompleted || s == StatusPosted
}

// PostRef identifies a post created on the external platform.
type PostRef struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// PostResponse is the outcome of publishing one PostDetails.
type PostResponse struct {
	ID         string     `json:"id"`
	Status     PostStatus `json:"status"`
	PostID     string     `json:"post_id,omitempty"`
	ReleaseURL string     `json:"release_url,omitempty"`
	Failure    *Failure   `json:"failure,omitempty"`
}

func Completed(id string, ref *PostRef) PostResponse {
	res := PostResponse{ID: id, Status: StatusCompleted}
	if ref != nil {
		res.PostID = ref.ID
		res.ReleaseURL = ref.URL
	}
	return res
}

func FailedResponse(id string, f *Failure) PostResponse {
	return PostResponse{ID: id, Status: StatusFailed, Failure: f}
}
