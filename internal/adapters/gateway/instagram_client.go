package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"social-inbox/internal/adapters/dto"
	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

// DefaultInstagramBaseURL is the Instagram Graph API host
const DefaultInstagramBaseURL = "https://graph.instagram.com"

// InstagramConfig configures the business-account adapter.
// Derivation goes through the Facebook Graph host (FacebookBaseURL).
type InstagramConfig struct {
	ClientConfig
	AppID           string
	AppSecret       string
	FacebookBaseURL string
}

// InstagramClient talks to the Instagram messaging API for business accounts.
// The broader credential is a Facebook user token whose pages link the account.
type InstagramClient struct {
	graph     *graphClient
	facebook  *graphClient
	appSecret string
}

var _ ports.PlatformAdapter = (*InstagramClient)(nil)

// NewInstagramClient creates a new Instagram API client
func NewInstagramClient(cfg InstagramConfig) *InstagramClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultInstagramBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	fbCfg := cfg.ClientConfig
	fbCfg.BaseURL = cfg.FacebookBaseURL
	if fbCfg.BaseURL == "" {
		fbCfg.BaseURL = DefaultFacebookBaseURL
	}

	return &InstagramClient{
		graph:     newGraphClient(domain.PlatformInstagram, cfg.ClientConfig),
		facebook:  newGraphClient(domain.PlatformInstagram, fbCfg),
		appSecret: cfg.AppSecret,
	}
}

func (c *InstagramClient) Platform() domain.Platform {
	return domain.PlatformInstagram
}

// ValidateCredential calls GET /me; a 190 answer means the token is invalid
func (c *InstagramClient) ValidateCredential(ctx context.Context, credential string) (ports.CredentialCheck, error) {
	if credential == "" {
		return ports.CredentialCheck{Reason: "empty credential"}, nil
	}

	var resp dto.InstagramMeResponse
	err := c.graph.get(ctx, "me", tokenQuery(credential, "fields", "user_id,username"), &resp)
	if err == nil {
		return ports.CredentialCheck{Valid: true}, nil
	}
	if errors.Is(err, domain.ErrCredentialInvalid) {
		return ports.CredentialCheck{Expired: errors.Is(err, ErrTokenExpired), Reason: err.Error()}, nil
	}
	return ports.CredentialCheck{}, err
}

// RefreshCredential extends a long-lived Instagram token
func (c *InstagramClient) RefreshCredential(ctx context.Context, credential string) (string, error) {
	var resp dto.AccessTokenResponse
	q := tokenQuery(credential, "grant_type", "ig_refresh_token")
	if err := c.graph.get(ctx, "refresh_access_token", q, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh returned no access_token", domain.ErrMalformedResponse)
	}
	return resp.AccessToken, nil
}

// DeriveCredential finds the page linked to igID among the user's pages and
// returns that page's token
func (c *InstagramClient) DeriveCredential(ctx context.Context, broader, igID string) (string, error) {
	q := tokenQuery(broader, "fields", "access_token,instagram_business_account")

	var resp dto.PageAccountsResponse
	err := c.facebook.get(ctx, "me/accounts", q, &resp)
	for page := 1; ; page++ {
		if err != nil {
			return "", err
		}
		for _, acct := range resp.Data {
			if acct.InstagramBusinessAccount != nil && acct.InstagramBusinessAccount.ID == igID && acct.AccessToken != "" {
				slog.Debug("Derived Instagram credential from linked page", "page_id", acct.ID, "ig_id", igID)
				return acct.AccessToken, nil
			}
		}
		if resp.Paging == nil || resp.Paging.Next == "" || page >= maxPages {
			break
		}
		next := resp.Paging.Next
		resp = dto.PageAccountsResponse{}
		err = c.facebook.getURL(ctx, next, &resp)
	}
	return "", fmt.Errorf("%w: no page linked to instagram account %s", domain.ErrPlatform, igID)
}

// ListThreads lists the account's Instagram conversations
func (c *InstagramClient) ListThreads(ctx context.Context, credential, igID string) ([]ports.NativeThread, error) {
	q := tokenQuery(credential,
		"platform", "instagram",
		"fields", "id,updated_time,participants",
	)

	var threads []ports.NativeThread
	var resp dto.ConversationsResponse
	err := c.graph.get(ctx, igID+"/conversations", q, &resp)
	for page := 1; ; page++ {
		if err != nil {
			return nil, err
		}
		for _, conv := range resp.Data {
			threads = append(threads, toNativeThread(conv))
		}
		if resp.Paging == nil || resp.Paging.Next == "" || page >= maxPages {
			break
		}
		next := resp.Paging.Next
		resp = dto.ConversationsResponse{}
		err = c.graph.getURL(ctx, next, &resp)
	}

	slog.Debug("Listed Instagram conversations", "ig_id", igID, "count", len(threads))
	return threads, nil
}

// ListMessages reads the messages nested under a conversation, oldest first
func (c *InstagramClient) ListMessages(ctx context.Context, credential, threadID string) ([]ports.NativeMessage, error) {
	q := tokenQuery(credential, "fields", "messages{id,created_time,from,to,message,attachments}")

	var thread dto.InstagramThreadResponse
	if err := c.graph.get(ctx, threadID, q, &thread); err != nil {
		return nil, err
	}

	all := thread.Messages.Data
	paging := thread.Messages.Paging
	for page := 1; paging != nil && paging.Next != "" && page < maxPages; page++ {
		var resp dto.MessagesResponse
		if err := c.graph.getURL(ctx, paging.Next, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		paging = resp.Paging
	}
	return toNativeMessages(all), nil
}

// FetchProfile returns an IGSID's public name and picture
func (c *InstagramClient) FetchProfile(ctx context.Context, credential, igsid string) (ports.Profile, error) {
	var resp dto.ProfileResponse
	if err := c.graph.get(ctx, igsid, tokenQuery(credential, "fields", "name,username,profile_pic"), &resp); err != nil {
		return ports.Profile{}, err
	}
	name := resp.Name
	if name == "" {
		name = resp.Username
	}
	return ports.Profile{DisplayName: name, AvatarURL: resp.ProfilePic}, nil
}

// Send delivers a text or image message through POST /{ig-id}/messages
func (c *InstagramClient) Send(ctx context.Context, credential string, payload ports.OutboundPayload) (ports.SendResult, error) {
	slog.Info("Sending message to Instagram",
		"recipient_igsid", payload.RecipientID,
		"text_length", len(payload.Text),
		"media", payload.MediaURL != "",
	)

	var resp dto.SendMessageResponse
	req := sendRequest(payload, "")
	if err := c.graph.post(ctx, payload.AccountID+"/messages", tokenQuery(credential), req, &resp); err != nil {
		return ports.SendResult{}, err
	}
	if resp.MessageID == "" {
		return ports.SendResult{}, fmt.Errorf("%w: send returned no message_id", domain.ErrMalformedResponse)
	}
	return ports.SendResult{MessageID: resp.MessageID}, nil
}

func (c *InstagramClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifySignature(c.appSecret, payload, signature)
}

func (c *InstagramClient) ParseWebhookPayload(payload []byte) ([]ports.WebhookEvent, error) {
	return parseMessagingWebhook(payload, "instagram")
}
