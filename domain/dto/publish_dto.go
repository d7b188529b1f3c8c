package dto

import "publish-pipeline/domain/model"

type Res struct {
	ResponseCode    string      `json:"responseCode"`
	ResponseMessage string      `json:"responseMessage"`
	Data            interface{} `json:"data,omitempty"`
}

// PublishReq is sent by the scheduling layer. The first post is the primary one,
// the rest are threaded replies.
type PublishReq struct {
	Posts []model.PostDetails `json:"posts" binding:"required,min=1"`
}

type PublishRes struct {
	IntegrationID string               `json:"integration_id"`
	Responses     []model.PostResponse `json:"responses"`
}

type AuthURLRes struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type ConnectRes struct {
	Integration *model.Integration `json:"integration"`
}

type PagesRes struct {
	Pages []model.Page `json:"pages"`
}

// SelectPageReq finishes a connect that stopped in between steps.
type SelectPageReq struct {
	PageID string `json:"page_id" binding:"required"`
}
