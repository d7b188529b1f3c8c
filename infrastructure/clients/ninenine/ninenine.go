package ninenine

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/clients/social"
	"publish-pipeline/infrastructure/configuration"
	"publish-pipeline/infrastructure/logger"

	"github.com/google/uuid"
)

const (
	Identifier = "ninenine"
	maxLength  = 2000

	featureImages      = "14"
	featureTitle       = "12"
	featureDescription = "13"
	featureRegion      = "5"
	featurePhone       = "16"
)

var (
	numericFeatures = map[string]struct{}{"2": {}, "19": {}, "104": {}, "107": {}, "2513": {}, "2554": {}, "2555": {}}
	booleanFeatures = map[string]struct{}{"908": {}, "939": {}, "940": {}}
)

var errorTable = social.ErrorTable{
	{Pattern: "Unauthorized", Kind: model.KindRefreshToken, Message: "The 999.md API key was rejected, please reconnect"},
	{Pattern: "invalid api key", Kind: model.KindRefreshToken, Message: "The 999.md API key was rejected, please reconnect"},
	{Pattern: "Too Many Requests", Kind: model.KindBadBody, Message: "999.md rate limit reached, try again later", Transient: true},
	{Pattern: "Service Unavailable", Kind: model.KindBadBody, Message: "999.md is temporarily unavailable", Transient: true},
	{Pattern: "features", Kind: model.KindBadBody, Message: "999.md rejected the advert fields"},
	{Pattern: "image", Kind: model.KindBadBody, Message: "999.md rejected the image"},
}

// Provider publishes classified adverts to 999.md. The "token" is the partner API key.
type Provider struct {
	cfg    configuration.NineNine
	front  string
	client *social.Client
}

func New(cfg configuration.NineNine, frontendURL string, doer social.Doer) *Provider {
	if doer == nil {
		doer = &http.Client{Timeout: time.Minute}
	}
	return &Provider{
		cfg:    cfg,
		front:  frontendURL,
		client: social.NewClient(Identifier, doer, errorTable),
	}
}

func (p *Provider) Identifier() string    { return Identifier }
func (p *Provider) Name() string          { return "999" }
func (p *Provider) MaxLength() int        { return maxLength }
func (p *Provider) MaxConcurrentJob() int { return 1 }

func (p *Provider) ClassifyError(body string) model.Classification {
	return p.client.Classify(body)
}

func (p *Provider) url(path string) string {
	return strings.TrimSuffix(p.cfg.BaseURL, "/") + path
}

func basicAuth(key string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(key+":"))
}

// GenerateAuthURL points at the page where the user pastes a partner API key;
// the key comes back as the authorization code.
func (p *Provider) GenerateAuthURL(ctx context.Context, extra map[string]string) (*model.AuthURL, error) {
	state, verifier := social.NewAuthState()
	return &model.AuthURL{
		URL:          fmt.Sprintf("%s/integrations/social/%s/key?state=%s", p.front, Identifier, state),
		CodeVerifier: verifier,
		State:        state,
	}, nil
}

// Authenticate validates the API key against the partner API.
func (p *Provider) Authenticate(ctx context.Context, code, codeVerifier string) model.AuthResult {
	key := strings.TrimSpace(code)
	if key == "" {
		return model.AuthResult{Failure: "An API key is required"}
	}
	headers := map[string]string{"Authorization": basicAuth(key)}
	if err := p.client.JSON(ctx, http.MethodGet, p.url("/phone_numbers"), nil, headers, "validate key", nil); err != nil {
		logger.GetLogger().WithField("error", err).Warn("999 key validation failed")
		return model.AuthResult{Failure: "The API key was not accepted by 999.md"}
	}
	return model.AuthResult{Token: &model.AuthTokenDetails{
		AccessToken:  key,
		RefreshToken: key,
		ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.cfg.BaseURL+"/"+key)).String(),
		Name:         "999.md",
	}}
}

// RefreshToken hands the key back unchanged; partner keys do not expire.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*model.AuthTokenDetails, error) {
	return &model.AuthTokenDetails{AccessToken: refreshToken, RefreshToken: refreshToken}, nil
}

func (p *Provider) apiKey(account model.Account) string {
	if account.AccessToken != "" {
		return account.AccessToken
	}
	return p.cfg.APIKey
}

// UploadMedia downloads one image and re-uploads it to the partner image store.
func (p *Provider) UploadMedia(ctx context.Context, account model.Account, media model.Media) (string, error) {
	data, contentType, err := p.client.Download(ctx, media.Path)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	sum := md5.Sum(data)
	filename := hex.EncodeToString(sum[:]) + "." + extensionFor(contentType)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url("/images"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey(account))
	raw, err := p.client.Do(req, "upload image")
	if err != nil {
		return "", err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		// some deployments answer with the bare filename
		if s := strings.Trim(strings.TrimSpace(string(raw)), `"`); s != "" {
			return s, nil
		}
		return "", err
	}
	for _, k := range []string{"filename", "id", "name", "image"} {
		if v, ok := out[k]; ok && v != nil && fmt.Sprint(v) != "" {
			return fmt.Sprint(v), nil
		}
	}
	return "", fmt.Errorf("999 upload image: unknown response format: %s", raw)
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "webp"):
		return "webp"
	default:
		return "jpg"
	}
}

// Feature is one characteristic of an advert as the partner API expects it.
type Feature struct {
	ID    string      `json:"id"`
	Value interface{} `json:"value"`
	Unit  string      `json:"unit,omitempty"`
}

type advertRequest struct {
	CategoryID    string    `json:"category_id"`
	SubcategoryID string    `json:"subcategory_id"`
	OfferType     string    `json:"offer_type"`
	State         string    `json:"state"`
	Features      []Feature `json:"features"`
}

func runStateKey(postID string) string { return Identifier + ":listing:" + postID }

// prepareListing formats the post into advert features once per run.
func (p *Provider) prepareListing(ctx context.Context, post model.PostDetails) []Feature {
	rs := model.RunStateFrom(ctx)
	if v, ok := rs.Prepared(runStateKey(post.ID)); ok {
		if f, ok := v.([]Feature); ok {
			return f
		}
	}
	features := FormatFeatures(post, p.cfg.RegionID)
	rs.MarkPrepared(runStateKey(post.ID), features)
	return features
}

// FormatFeatures converts the message and settings of a post into the partner feature list.
// Title defaults to the first line of the message.
func FormatFeatures(post model.PostDetails, defaultRegion string) []Feature {
	var out []Feature
	title := post.Setting("title")
	if title == "" {
		title = strings.TrimSpace(strings.SplitN(post.Message, "\n", 2)[0])
	}
	if title != "" {
		out = append(out, Feature{ID: featureTitle, Value: map[string]string{"ro": title, "ru": title}})
	}
	if msg := strings.TrimSpace(post.Message); msg != "" {
		out = append(out, Feature{ID: featureDescription, Value: map[string]string{"ro": msg, "ru": msg}})
	}

	if raw, ok := post.Settings["features"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			id := fmt.Sprint(m["id"])
			val := ""
			if m["value"] != nil {
				val = fmt.Sprint(m["value"])
			}
			if id == "" || val == "" {
				continue
			}
			unit := ""
			if m["unit"] != nil {
				unit = fmt.Sprint(m["unit"])
			}
			out = append(out, formatFeature(id, val, unit))
		}
	}
	if price := post.Setting("price"); price != "" {
		out = append(out, formatFeature("2", price, post.Setting("currency")))
	}

	region := post.Setting("region")
	if region == "" {
		region = defaultRegion
	}
	if region != "" {
		out = append(out, Feature{ID: featureRegion, Value: region})
	}
	if phone := post.Setting("phone"); phone != "" {
		out = append(out, Feature{ID: featurePhone, Value: []string{normalizePhone(phone)}})
	}
	return out
}

func formatFeature(id, value, unit string) Feature {
	if id == featureTitle || id == featureDescription {
		return Feature{ID: id, Value: map[string]string{"ro": value, "ru": value}}
	}
	var v interface{} = value
	if _, ok := numericFeatures[id]; ok {
		if n, err := strconv.Atoi(value); err == nil {
			v = n
		}
	}
	if unit != "" {
		return Feature{ID: id, Value: v, Unit: unit}
	}
	if id == featurePhone {
		return Feature{ID: id, Value: []string{normalizePhone(value)}}
	}
	if _, ok := booleanFeatures[id]; ok {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "да":
			return Feature{ID: id, Value: true}
		default:
			return Feature{ID: id, Value: false}
		}
	}
	return Feature{ID: id, Value: v}
}

func normalizePhone(s string) string {
	return strings.NewReplacer("+", "", " ", "", "-", "").Replace(s)
}

// CreatePost publishes the advert. Images that failed to upload were already skipped.
func (p *Provider) CreatePost(ctx context.Context, account model.Account, post model.PostDetails, handles []string) (*model.PostRef, error) {
	features := p.prepareListing(ctx, post)
	if len(handles) > 0 {
		features = append([]Feature{{ID: featureImages, Value: handles}}, features...)
	}
	req := advertRequest{
		CategoryID:    p.cfg.CategoryID,
		SubcategoryID: p.cfg.Subcategory,
		OfferType:     p.cfg.OfferType,
		State:         p.cfg.AdvertState,
		Features:      features,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey(account)}
	var out map[string]interface{}
	if err := p.client.JSON(ctx, http.MethodPost, p.url("/adverts"), req, headers, "create advert", &out); err != nil {
		return nil, err
	}
	id := ""
	for _, k := range []string{"id", "advert_id"} {
		if v, ok := out[k]; ok && v != nil {
			id = jsonID(v)
			break
		}
	}
	if id == "" {
		return nil, fmt.Errorf("999 create advert: response has no id")
	}
	u, _ := out["url"].(string)
	if u == "" {
		u = "https://999.md/ru/" + id
	}
	return &model.PostRef{ID: id, URL: u}, nil
}

// jsonID renders numeric ids without an exponent.
func jsonID(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
