package configuration

import "fmt"

type Providers struct {
	Facebook Facebook `json:"facebook"`
	NineNine NineNine `json:"ninenine"`
	YouTube  YouTube  `json:"youtube"`
}

type Facebook struct {
	AppID       string `json:"appId"`
	AppSecret   string `json:"appSecret"`
	APIVersion  string `json:"apiVersion"`
	RedirectURI string `json:"redirectURI"`
}

// NineNine configures the 999.md partners API.
type NineNine struct {
	APIKey      string `json:"apiKey"`
	BaseURL     string `json:"baseURL"`
	AdvertState string `json:"advertState"` // public | hidden
	RegionID    string `json:"regionId"`
	CategoryID  string `json:"categoryId"`
	Subcategory string `json:"subcategoryId"`
	OfferType   string `json:"offerType"`
}

type YouTube struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	RedirectURI  string   `json:"redirectURI"`
	Privacy      string   `json:"privacy"`
	Scopes       []string `json:"scopes"`
}

func initProviders(C *Config) {
	fb := &C.Providers.Facebook
	fb.AppID = getConfigValue(fb.AppID, "FACEBOOK_APP_ID", "")
	fb.AppSecret = getConfigValue(fb.AppSecret, "FACEBOOK_APP_SECRET", "")
	fb.APIVersion = getConfigValue(fb.APIVersion, "FACEBOOK_API_VERSION", "v20.0")
	fb.RedirectURI = getConfigValue(fb.RedirectURI, "FACEBOOK_REDIRECT_URI", fmt.Sprintf("%s/integrations/social/facebook", C.App.FrontendURL))

	nn := &C.Providers.NineNine
	nn.APIKey = getConfigValue(nn.APIKey, "NINE_API_KEY", "")
	nn.BaseURL = getConfigValue(nn.BaseURL, "BASE_URL_999", "https://partners-api.999.md")
	nn.AdvertState = getConfigValue(nn.AdvertState, "TYPE_999_ADVERT", "public")
	nn.RegionID = getConfigValue(nn.RegionID, "NINE_REGION_ID", "12")
	nn.CategoryID = getConfigValue(nn.CategoryID, "NINE_CATEGORY_ID", "658")
	nn.Subcategory = getConfigValue(nn.Subcategory, "NINE_SUBCATEGORY_ID", "659")
	nn.OfferType = getConfigValue(nn.OfferType, "NINE_OFFER_TYPE", "776")

	yt := &C.Providers.YouTube
	yt.ClientID = getConfigValue(yt.ClientID, "YOUTUBE_CLIENT_ID", "")
	yt.ClientSecret = getConfigValue(yt.ClientSecret, "YOUTUBE_CLIENT_SECRET", "")
	yt.RedirectURI = getConfigValue(yt.RedirectURI, "YOUTUBE_REDIRECT_URL", fmt.Sprintf("%s/integrations/social/youtube", C.App.FrontendURL))
	yt.Privacy = getConfigValue(yt.Privacy, "YOUTUBE_PRIVACY", "public")
}
