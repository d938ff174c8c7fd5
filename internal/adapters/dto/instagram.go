package dto

// InstagramWebhookRequest is the Instagram messaging webhook; it shares the Messenger envelope
type InstagramWebhookRequest = FacebookWebhookRequest

// InstagramMeResponse is returned by GET /me?fields=user_id,username
type InstagramMeResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// PageAccount is one page returned by GET /me/accounts
type PageAccount struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	AccessToken              string `json:"access_token"`
	InstagramBusinessAccount *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account,omitempty"`
}

// PageAccountsResponse is returned by GET /me/accounts
type PageAccountsResponse struct {
	Data   []PageAccount `json:"data"`
	Paging *Paging       `json:"paging,omitempty"`
}

// InstagramThreadResponse is returned by GET /{thread-id}?fields=messages{...}
type InstagramThreadResponse struct {
	ID       string           `json:"id"`
	Messages MessagesResponse `json:"messages"`
}
