package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/moderation"
)

var (
	errMissingId = errors.New("message without id")
	errNoCode    = errors.New("error frame without code")
)

// parseFrame classifies an inbound text frame into an event.
// It returns nil for frames that are dropped.
func parseFrame(data []byte, now time.Time) *Event {
	if bytes.Contains(data, []byte(chat.ForbiddenMarker)) {
		glog.V(5).Infof("ws: drop forbidden frame: %s", data)
		return nil
	}

	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errorEvent(chat.NewReceiveFailed(fmt.Errorf("decode frame: %w", err)))
	}

	switch env.Type {
	case chat.EnvelopeMessage:
		if env.Id == "" {
			return errorEvent(chat.NewReceiveFailed(errMissingId))
		}
		return &Event{Kind: EventMessage, Message: toMessage(&env, now)}
	case chat.EnvelopeEvent:
		return parseEvent(&env)
	case chat.EnvelopeError:
		if env.ErrorCode == nil {
			ne := chat.NewReceiveFailed(errNoCode)
			if env.ErrorMessage != "" {
				ne.Message = env.ErrorMessage
			}
			return errorEvent(ne)
		}
		return errorEvent(chat.NewRawError(*env.ErrorCode, env.ErrorMessage))
	default:
		return errorEvent(chat.NewReceiveFailed(fmt.Errorf("unknown frame type %q", env.Type)))
	}
}

func parseEvent(env *chat.Envelope) *Event {
	switch env.EventName {
	case chat.EventDeleteMessage:
		id := env.Attributes[chat.AttrMessageId]
		if id == "" {
			glog.Errorf("ws: delete event without message id")
			return nil
		}
		return &Event{Kind: EventMessageDeleted, Moderation: &moderation.Event{
			Kind:            moderation.MessageDeleted,
			TargetMessageId: id,
		}}
	case chat.EventDeleteByUser:
		uid := env.Attributes[chat.AttrUserId]
		if uid == "" {
			glog.Errorf("ws: disconnect event without user id")
			return nil
		}
		return &Event{Kind: EventUserKicked, Moderation: &moderation.Event{
			Kind:         moderation.UserKicked,
			TargetUserId: uid,
		}}
	default:
		glog.V(5).Infof("ws: ignore event: %s", env.EventName)
		return nil
	}
}

func toMessage(env *chat.Envelope, now time.Time) *chat.ChatMessage {
	m := &chat.ChatMessage{
		Id:        env.Id,
		RequestId: env.RequestId,
		Type:      chat.TypeMessage,
		Content:   env.Content,
		CreatedAt: now,
	}
	if env.Attributes[chat.AttrMessageType] == chat.MessageTypeSticker {
		m.Type = chat.TypeSticker
		m.StickerSrc = chat.StickerSource(env.Attributes[chat.AttrStickerSrc])
	}
	if s := env.Sender; s != nil {
		m.SenderId = s.UserId
		m.SenderName = s.Attributes.Username
		m.SenderAvatar = s.Attributes.Avatar
	}
	return m
}

// closeError converts a remote close into an error. A structured reason
// wins over the raw close code and text.
func closeError(code int, text string) *chat.NetworkError {
	var reason chat.CloseReason
	if err := json.Unmarshal([]byte(text), &reason); err == nil && reason.ErrorCode != nil {
		return chat.NewRawError(*reason.ErrorCode, reason.ErrorMessage)
	}
	return chat.NewRawError(code, text)
}

func errorEvent(err *chat.NetworkError) *Event {
	return &Event{Kind: EventError, Error: err}
}
