package ninenine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/configuration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(base string) configuration.NineNine {
	return configuration.NineNine{
		BaseURL:     base,
		AdvertState: "hidden",
		RegionID:    "12",
		CategoryID:  "658",
		Subcategory: "659",
		OfferType:   "776",
	}
}

func TestFormatFeatures(t *testing.T) {
	post := model.PostDetails{
		ID:      "p1",
		Message: "Audi A4 2012\nGood condition",
		Settings: map[string]interface{}{
			"phone":    "+373 78-000-000",
			"price":    "16900",
			"currency": "eur",
			"features": []interface{}{
				map[string]interface{}{"id": "104", "value": "73000", "unit": "km"},
				map[string]interface{}{"id": "908", "value": "да"},
				map[string]interface{}{"id": "19", "value": "2012"},
				map[string]interface{}{"id": "7", "value": ""},
			},
		},
	}

	got := FormatFeatures(post, "12")
	byID := map[string]Feature{}
	for _, f := range got {
		byID[f.ID] = f
	}

	assert.Equal(t, map[string]string{"ro": "Audi A4 2012", "ru": "Audi A4 2012"}, byID["12"].Value)
	assert.Equal(t, Feature{ID: "104", Value: 73000, Unit: "km"}, byID["104"])
	assert.Equal(t, Feature{ID: "908", Value: true}, byID["908"])
	assert.Equal(t, Feature{ID: "19", Value: 2012}, byID["19"])
	assert.Equal(t, Feature{ID: "2", Value: 16900, Unit: "eur"}, byID["2"])
	assert.Equal(t, Feature{ID: "5", Value: "12"}, byID["5"])
	assert.Equal(t, []string{"37378000000"}, byID["16"].Value)
	_, present := byID["7"]
	assert.False(t, present, "features without a value are dropped")
}

func TestCreatePost(t *testing.T) {
	var got advertRequest
	var rawFeatures []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/adverts", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NoError(t, json.Unmarshal(body["features"], &rawFeatures))
		_ = json.Unmarshal(body["state"], &got.State)
		_ = json.Unmarshal(body["category_id"], &got.CategoryID)
		_, _ = w.Write([]byte(`{"advert_id": 84512345}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), "http://front", srv.Client())
	ref, err := p.CreatePost(t.Context(), model.Account{ID: "acc", AccessToken: "key-1"}, model.PostDetails{ID: "p1", Message: "Bike"}, []string{"a.jpg", "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "84512345", ref.ID)
	assert.Equal(t, "https://999.md/ru/84512345", ref.URL)
	assert.Equal(t, "hidden", got.State)
	assert.Equal(t, "658", got.CategoryID)
	require.NotEmpty(t, rawFeatures)
	assert.Equal(t, "14", rawFeatures[0]["id"])
	assert.Equal(t, []interface{}{"a.jpg", "b.jpg"}, rawFeatures[0]["value"])
}

func TestCreatePost_ReusesPreparedListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","url":"https://999.md/ro/1"}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), "", srv.Client())
	rs := model.NewRunState()
	rs.MarkPrepared(runStateKey("p1"), []Feature{{ID: "12", Value: "prepared"}})
	ctx := model.WithRunState(t.Context(), rs)

	ref, err := p.CreatePost(ctx, model.Account{AccessToken: "k"}, model.PostDetails{ID: "p1", Message: "ignored"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://999.md/ro/1", ref.URL)

	v, ok := rs.Prepared(runStateKey("p1"))
	require.True(t, ok)
	assert.Equal(t, []Feature{{ID: "12", Value: "prepared"}}, v)
}

func TestUploadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/src/car.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "/images":
			assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, fh, err := r.FormFile("file")
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(fh.Filename, ".png"))
			_, _ = w.Write([]byte(`{"filename":"ba2b16.png?metadata=x"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), "", srv.Client())
	handle, err := p.UploadMedia(t.Context(), model.Account{AccessToken: "k"}, model.Media{Path: srv.URL + "/src/car.png"})
	require.NoError(t, err)
	assert.Equal(t, "ba2b16.png?metadata=x", handle)

	_, err = p.UploadMedia(t.Context(), model.Account{AccessToken: "k"}, model.Media{Path: srv.URL + "/src/missing.png"})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`Unauthorized`))
			return
		}
		_, _ = w.Write([]byte(`{"phone_numbers":[]}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), "", srv.Client())
	res := p.Authenticate(t.Context(), "good", "")
	require.False(t, res.Failed())
	assert.Equal(t, "good", res.Token.AccessToken)
	assert.NotEmpty(t, res.Token.ID)
	assert.Equal(t, res.Token.ID, p.Authenticate(t.Context(), "good", "").Token.ID)

	res = p.Authenticate(t.Context(), "bad", "")
	assert.True(t, res.Failed())

	res = p.Authenticate(t.Context(), " ", "")
	assert.True(t, res.Failed())
}

func TestClassifyError(t *testing.T) {
	const rejectedKey = "The 999.md API key was rejected, please reconnect"
	tests := []struct {
		name      string
		body      string
		kind      model.ErrorKind
		message   string
		transient bool
	}{
		{"unauthorized", "401 Unauthorized", model.KindRefreshToken, rejectedKey, false},
		{"invalid key", `{"error":"invalid api key"}`, model.KindRefreshToken, rejectedKey, false},
		{"rate limited", "429 Too Many Requests", model.KindBadBody, "999.md rate limit reached, try again later", true},
		{"unavailable", "503 Service Unavailable", model.KindBadBody, "999.md is temporarily unavailable", true},
		{"bad fields", `{"error":{"features":{"2":"required"}}}`, model.KindBadBody, "999.md rejected the advert fields", false},
		{"bad image", `{"error":"image is corrupt"}`, model.KindBadBody, "999.md rejected the image", false},
		{"first match wins", `{"error":"features invalid, image missing"}`, model.KindBadBody, "999.md rejected the advert fields", false},
		{"unknown", "500 Internal Server Error", model.KindNone, "500 Internal Server Error", false},
	}
	p := New(testConfig(""), "", nil)
	matched := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ClassifyError(tt.body)
			assert.Equal(t, model.Classification{Kind: tt.kind, Message: tt.message, Transient: tt.transient}, got)
		})
		for _, r := range errorTable {
			if strings.Contains(tt.body, r.Pattern) {
				matched[r.Pattern] = true
			}
		}
	}
	for _, r := range errorTable {
		assert.True(t, matched[r.Pattern], "no fixture for rule %q", r.Pattern)
	}
}
