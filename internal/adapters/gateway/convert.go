package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"social-inbox/internal/adapters/dto"
	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

// parseMessagingWebhook normalizes a Messenger-style webhook envelope.
// object is "page" for Facebook and "instagram" for Instagram.
func parseMessagingWebhook(payload []byte, object string) ([]ports.WebhookEvent, error) {
	var req dto.FacebookWebhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: webhook payload: %v", domain.ErrMalformedResponse, err)
	}
	if req.Object != object {
		return nil, fmt.Errorf("%w: unexpected webhook object %q", domain.ErrMalformedResponse, req.Object)
	}

	var events []ports.WebhookEvent
	for _, entry := range req.Entry {
		for _, m := range entry.Messaging {
			ev := ports.WebhookEvent{
				AccountID:       entry.ID,
				SenderID:        m.Sender.ID,
				RecipientID:     m.Recipient.ID,
				TimestampMillis: m.Timestamp,
			}
			if ev.TimestampMillis == 0 {
				ev.TimestampMillis = entry.Time
			}

			switch {
			case m.IsMessage():
				ev.Kind = ports.EventMessage
				ev.MessageID = m.Message.MID
				ev.Text = m.Message.Text
				ev.Attachments = webhookAttachments(m.Message.Attachments)
			case m.Delivery != nil:
				ev.Kind = ports.EventDelivery
				if len(m.Delivery.MIDs) > 0 {
					ev.MessageID = m.Delivery.MIDs[0]
				}
			case m.Read != nil:
				ev.Kind = ports.EventRead
				ev.MessageID = m.Read.MID
			default:
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func webhookAttachments(in []dto.FacebookAttachment) []ports.NativeAttachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]ports.NativeAttachment, 0, len(in))
	for _, a := range in {
		out = append(out, ports.NativeAttachment{Kind: kindFromType(a.Type), URL: a.Payload.URL})
	}
	return out
}

// kindFromType maps webhook attachment types; anything unknown is a file
func kindFromType(t string) domain.MessageKind {
	switch t {
	case "image":
		return domain.MessageKindImage
	case "video":
		return domain.MessageKindVideo
	case "audio":
		return domain.MessageKindAudio
	default:
		return domain.MessageKindFile
	}
}

func graphAttachments(in []dto.GraphMessageAttachment) []ports.NativeAttachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]ports.NativeAttachment, 0, len(in))
	for _, a := range in {
		switch {
		case a.ImageData != nil:
			out = append(out, ports.NativeAttachment{Kind: domain.MessageKindImage, URL: a.ImageData.URL})
		case a.VideoData != nil:
			out = append(out, ports.NativeAttachment{Kind: domain.MessageKindVideo, URL: a.VideoData.URL})
		case strings.HasPrefix(a.MimeType, "audio/"):
			out = append(out, ports.NativeAttachment{Kind: domain.MessageKindAudio, URL: a.FileURL})
		case strings.HasPrefix(a.MimeType, "image/"):
			out = append(out, ports.NativeAttachment{Kind: domain.MessageKindImage, URL: a.FileURL})
		default:
			out = append(out, ports.NativeAttachment{Kind: domain.MessageKindFile, URL: a.FileURL})
		}
	}
	return out
}

func toNativeThread(c dto.GraphConversation) ports.NativeThread {
	participants := make([]ports.NativeParticipant, 0, len(c.Participants.Data))
	for _, p := range c.Participants.Data {
		participants = append(participants, ports.NativeParticipant{ID: p.ID, Name: p.DisplayName()})
	}
	return ports.NativeThread{
		ID:           c.ID,
		Participants: participants,
		Snippet:      c.Snippet,
		UpdatedAt:    parseGraphTime(c.UpdatedTime),
	}
}

// toNativeMessages converts a newest-first Graph listing into oldest-first order
func toNativeMessages(in []dto.GraphMessage) []ports.NativeMessage {
	out := make([]ports.NativeMessage, len(in))
	for i, m := range in {
		nm := ports.NativeMessage{
			ID:          m.ID,
			SenderID:    m.From.ID,
			SenderName:  m.From.DisplayName(),
			Text:        m.Message,
			CreatedAt:   parseGraphTime(m.CreatedTime),
			Attachments: graphAttachments(m.Attachments.Data),
		}
		if len(m.To.Data) > 0 {
			nm.RecipientID = m.To.Data[0].ID
		}
		out[len(in)-1-i] = nm
	}
	return out
}

func sendRequest(payload ports.OutboundPayload, messagingType string) dto.SendMessageRequest {
	req := dto.SendMessageRequest{
		Recipient:     dto.FacebookUser{ID: payload.RecipientID},
		MessagingType: messagingType,
	}
	if payload.MediaURL != "" {
		req.Message.Attachment = &dto.FacebookAttachment{
			Type:    "image",
			Payload: dto.FacebookAttachmentPayload{URL: payload.MediaURL, IsReusable: true},
		}
	} else {
		req.Message.Text = payload.Text
	}
	return req
}
