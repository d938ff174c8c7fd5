// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

// ============================================================================
// Webhook payloads (Messenger; Instagram reuses the same envelope)
// Ref: https://developers.facebook.com/docs/messenger-platform/webhooks
// ============================================================================

// FacebookWebhookRequest is the top-level webhook payload
type FacebookWebhookRequest struct {
	Object string          `json:"object"` // "page" for Messenger, "instagram" for Instagram
	Entry  []FacebookEntry `json:"entry"`
}

// FacebookEntry represents a single account's webhook events
type FacebookEntry struct {
	ID        string              `json:"id"`   // Page ID or Instagram account ID
	Time      int64               `json:"time"` // Unix milliseconds
	Messaging []FacebookMessaging `json:"messaging"`
}

// FacebookMessaging represents a single messaging event.
// Exactly one of Message, Delivery or Read is set.
type FacebookMessaging struct {
	Sender    FacebookUser `json:"sender"`
	Recipient FacebookUser `json:"recipient"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds

	Message  *FacebookMessage  `json:"message,omitempty"`
	Delivery *FacebookDelivery `json:"delivery,omitempty"`
	Read     *FacebookRead     `json:"read,omitempty"`
}

// FacebookUser represents a sender or recipient (PSID / IGSID / account id)
type FacebookUser struct {
	ID string `json:"id"`
}

// FacebookMessage represents the actual message content
type FacebookMessage struct {
	MID         string               `json:"mid"`
	Text        string               `json:"text"`
	Attachments []FacebookAttachment `json:"attachments,omitempty"`

	// IsEcho marks a message sent BY the account, delivered back to us
	IsEcho bool `json:"is_echo,omitempty"`
}

// FacebookAttachment represents media attachments
type FacebookAttachment struct {
	Type    string                    `json:"type"` // "image", "video", "audio", "file", ...
	Payload FacebookAttachmentPayload `json:"payload"`
}

// FacebookAttachmentPayload contains attachment URL and metadata
type FacebookAttachmentPayload struct {
	URL        string `json:"url,omitempty"`
	IsReusable bool   `json:"is_reusable,omitempty"`
}

// FacebookDelivery represents a delivery confirmation
type FacebookDelivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

// FacebookRead represents a read confirmation
type FacebookRead struct {
	Watermark int64  `json:"watermark,omitempty"` // Messenger: everything before was read
	MID       string `json:"mid,omitempty"`       // Instagram: the message that was read
}

// IsMessage reports whether the event carries message content (echoes included)
func (m *FacebookMessaging) IsMessage() bool {
	return m.Message != nil && m.Message.MID != ""
}

// GetMessageID extracts the message ID
func (m *FacebookMessaging) GetMessageID() string {
	if m.Message != nil {
		return m.Message.MID
	}
	return ""
}

// ============================================================================
// Graph API
// ============================================================================

// GraphError represents an error from the Graph API
type GraphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	IsTransient  bool   `json:"is_transient"`
	FBTraceID    string `json:"fbtrace_id"`
}

// GraphErrorEnvelope wraps GraphError in error responses
type GraphErrorEnvelope struct {
	Error *GraphError `json:"error"`
}

// Paging is the cursor block of list responses
type Paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

// DebugTokenResponse is returned by GET /debug_token
type DebugTokenResponse struct {
	Data struct {
		AppID     string `json:"app_id"`
		Type      string `json:"type"`
		IsValid   bool   `json:"is_valid"`
		ExpiresAt int64  `json:"expires_at"`
		Error     *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Subcode int    `json:"subcode"`
		} `json:"error,omitempty"`
	} `json:"data"`
}

// AccessTokenResponse is returned by token exchange and refresh endpoints
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// PageTokenResponse is returned by GET /{page-id}?fields=access_token
type PageTokenResponse struct {
	ID          string `json:"id"`
	AccessToken string `json:"access_token"`
}

// GraphParticipant is a thread participant or message sender
type GraphParticipant struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// DisplayName prefers the full name over the username
func (p GraphParticipant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}

// ConversationsResponse is returned by GET /{id}/conversations
type ConversationsResponse struct {
	Data   []GraphConversation `json:"data"`
	Paging *Paging             `json:"paging,omitempty"`
}

// GraphConversation is one conversation record
type GraphConversation struct {
	ID           string `json:"id"`
	UpdatedTime  string `json:"updated_time"`
	Snippet      string `json:"snippet,omitempty"`
	Participants struct {
		Data []GraphParticipant `json:"data"`
	} `json:"participants"`
}

// MessagesResponse is returned by GET /{thread-id}/messages
type MessagesResponse struct {
	Data   []GraphMessage `json:"data"`
	Paging *Paging        `json:"paging,omitempty"`
}

// GraphMessage is one message record
type GraphMessage struct {
	ID          string           `json:"id"`
	CreatedTime string           `json:"created_time"`
	From        GraphParticipant `json:"from"`
	To          struct {
		Data []GraphParticipant `json:"data"`
	} `json:"to"`
	Message     string `json:"message"`
	Attachments struct {
		Data []GraphMessageAttachment `json:"data"`
	} `json:"attachments"`
}

// GraphMessageAttachment is one media item of a message record
type GraphMessageAttachment struct {
	ID        string `json:"id"`
	MimeType  string `json:"mime_type,omitempty"`
	Name      string `json:"name,omitempty"`
	FileURL   string `json:"file_url,omitempty"`
	ImageData *struct {
		URL        string `json:"url"`
		PreviewURL string `json:"preview_url,omitempty"`
	} `json:"image_data,omitempty"`
	VideoData *struct {
		URL        string `json:"url"`
		PreviewURL string `json:"preview_url,omitempty"`
	} `json:"video_data,omitempty"`
}

// ProfileResponse is returned by GET /{psid|igsid}
type ProfileResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Username   string `json:"username,omitempty"`
	ProfilePic string `json:"profile_pic,omitempty"`
}

// SendMessageRequest represents the Send API payload structure
type SendMessageRequest struct {
	Recipient     FacebookUser    `json:"recipient"`
	Message       SendMessageBody `json:"message"`
	MessagingType string          `json:"messaging_type,omitempty"` // "RESPONSE" for replies
}

// SendMessageBody is either text or a single attachment
type SendMessageBody struct {
	Text       string              `json:"text,omitempty"`
	Attachment *FacebookAttachment `json:"attachment,omitempty"`
}

// SendMessageResponse represents the Send API response
type SendMessageResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}
