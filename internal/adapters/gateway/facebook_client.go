package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"social-inbox/internal/adapters/dto"
	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

const (
	// DefaultFacebookBaseURL is the Graph API host
	DefaultFacebookBaseURL = "https://graph.facebook.com"
	// DefaultAPIVersion is the Graph API version used when none is configured
	DefaultAPIVersion = "v19.0"
)

// FacebookConfig configures the page-based adapter
type FacebookConfig struct {
	ClientConfig
	AppID     string
	AppSecret string
}

// FacebookClient handles communication with the Facebook Graph API on behalf
// of pages. Credentials are page access tokens; the broader credential is the
// user token the page token is derived from.
type FacebookClient struct {
	graph     *graphClient
	appID     string
	appSecret string
	now       func() time.Time
}

var _ ports.PlatformAdapter = (*FacebookClient)(nil)

// NewFacebookClient creates a new Facebook API client
func NewFacebookClient(cfg FacebookConfig) *FacebookClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFacebookBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	return &FacebookClient{
		graph:     newGraphClient(domain.PlatformFacebook, cfg.ClientConfig),
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		now:       time.Now,
	}
}

func (c *FacebookClient) Platform() domain.Platform {
	return domain.PlatformFacebook
}

// ValidateCredential introspects a token with GET /debug_token using the app token
func (c *FacebookClient) ValidateCredential(ctx context.Context, credential string) (ports.CredentialCheck, error) {
	if credential == "" {
		return ports.CredentialCheck{Reason: "empty credential"}, nil
	}

	var resp dto.DebugTokenResponse
	q := tokenQuery(c.appID+"|"+c.appSecret, "input_token", credential)
	if err := c.graph.get(ctx, "debug_token", q, &resp); err != nil {
		if errors.Is(err, domain.ErrCredentialInvalid) {
			return ports.CredentialCheck{Expired: errors.Is(err, ErrTokenExpired), Reason: err.Error()}, nil
		}
		return ports.CredentialCheck{}, err
	}

	data := resp.Data
	if data.IsValid {
		return ports.CredentialCheck{Valid: true}, nil
	}

	check := ports.CredentialCheck{Reason: "token reported invalid"}
	if data.Error != nil {
		check.Reason = data.Error.Message
		check.Expired = data.Error.Subcode == 463
	}
	if data.ExpiresAt > 0 && time.Unix(data.ExpiresAt, 0).Before(c.now()) {
		check.Expired = true
	}
	return check, nil
}

// RefreshCredential exchanges a token for a fresh long-lived one
func (c *FacebookClient) RefreshCredential(ctx context.Context, credential string) (string, error) {
	var resp dto.AccessTokenResponse
	q := tokenQuery(credential,
		"grant_type", "fb_exchange_token",
		"client_id", c.appID,
		"client_secret", c.appSecret,
		"fb_exchange_token", credential,
	)
	if err := c.graph.get(ctx, "oauth/access_token", q, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: token exchange returned no access_token", domain.ErrMalformedResponse)
	}
	return resp.AccessToken, nil
}

// DeriveCredential obtains the page token for pageID from a user token
func (c *FacebookClient) DeriveCredential(ctx context.Context, broader, pageID string) (string, error) {
	var resp dto.PageTokenResponse
	if err := c.graph.get(ctx, pageID, tokenQuery(broader, "fields", "access_token"), &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: user token has no access to page %s", domain.ErrPlatform, pageID)
	}
	return resp.AccessToken, nil
}

// ListThreads lists the page's Messenger conversations, walking every page of results
func (c *FacebookClient) ListThreads(ctx context.Context, credential, pageID string) ([]ports.NativeThread, error) {
	q := tokenQuery(credential,
		"platform", "messenger",
		"fields", "id,updated_time,snippet,participants",
		"limit", "50",
	)

	var threads []ports.NativeThread
	var resp dto.ConversationsResponse
	err := c.graph.get(ctx, pageID+"/conversations", q, &resp)
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

	slog.Debug("Listed Facebook conversations", "page_id", pageID, "count", len(threads))
	return threads, nil
}

// ListMessages returns a conversation's messages oldest first
func (c *FacebookClient) ListMessages(ctx context.Context, credential, threadID string) ([]ports.NativeMessage, error) {
	q := tokenQuery(credential,
		"fields", "id,created_time,from,to,message,attachments",
		"limit", "100",
	)

	var all []dto.GraphMessage
	var resp dto.MessagesResponse
	err := c.graph.get(ctx, threadID+"/messages", q, &resp)
	for page := 1; ; page++ {
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		if resp.Paging == nil || resp.Paging.Next == "" || page >= maxPages {
			break
		}
		next := resp.Paging.Next
		resp = dto.MessagesResponse{}
		err = c.graph.getURL(ctx, next, &resp)
	}
	return toNativeMessages(all), nil
}

// FetchProfile returns a PSID's public name and picture
func (c *FacebookClient) FetchProfile(ctx context.Context, credential, psid string) (ports.Profile, error) {
	var resp dto.ProfileResponse
	if err := c.graph.get(ctx, psid, tokenQuery(credential, "fields", "name,profile_pic"), &resp); err != nil {
		return ports.Profile{}, err
	}
	return ports.Profile{DisplayName: resp.Name, AvatarURL: resp.ProfilePic}, nil
}

// Send delivers a text or image message through POST /me/messages
func (c *FacebookClient) Send(ctx context.Context, credential string, payload ports.OutboundPayload) (ports.SendResult, error) {
	slog.Info("Sending message to Facebook",
		"recipient_psid", payload.RecipientID,
		"text_length", len(payload.Text),
		"media", payload.MediaURL != "",
	)

	var resp dto.SendMessageResponse
	req := sendRequest(payload, "RESPONSE")
	if err := c.graph.post(ctx, "me/messages", tokenQuery(credential), req, &resp); err != nil {
		return ports.SendResult{}, err
	}
	if resp.MessageID == "" {
		return ports.SendResult{}, fmt.Errorf("%w: send returned no message_id", domain.ErrMalformedResponse)
	}
	return ports.SendResult{MessageID: resp.MessageID}, nil
}

func (c *FacebookClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifySignature(c.appSecret, payload, signature)
}

func (c *FacebookClient) ParseWebhookPayload(payload []byte) ([]ports.WebhookEvent, error) {
	return parseMessagingWebhook(payload, "page")
}
