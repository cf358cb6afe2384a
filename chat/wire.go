package chat

const (
	ActionSendMessage    = "SEND_MESSAGE"
	ActionDeleteMessage  = "DELETE_MESSAGE"
	ActionDisconnectUser = "DISCONNECT_USER"

	EnvelopeMessage = "MESSAGE"
	EnvelopeEvent   = "EVENT"
	EnvelopeError   = "ERROR"

	EventDeleteMessage = "aws:DELETE_MESSAGE"
	EventDeleteByUser  = "app:DELETE_BY_USER"

	AttrMessageType = "message_type"
	AttrStickerSrc  = "sticker_src"
	AttrMessageId   = "MessageID"
	AttrUserId      = "userId"
	AttrReason      = "Reason"

	MessageTypeMessage = "MESSAGE"
	MessageTypeSticker = "STICKER"

	DefaultDeleteReason = "Deleted by moderator"
	DefaultKickReason   = "Kicked by moderator"

	// ForbiddenMarker marks provider noise frames, which are dropped.
	ForbiddenMarker = "Forbidden"
)

const (
	ErrorCodeNone                    = -1
	ErrorCodeDisconnectedByModerator = 1001

	// CloseCodeRestart closes a socket that is being replaced by a new one.
	CloseCodeRestart   = 3000
	CloseReasonRestart = "Restarting"
)

type Attributes struct {
	MessageType string `json:"message_type"`
	StickerSrc  string `json:"sticker_src"`
}

type SendMessageReq struct {
	Action     string     `json:"action"`
	RequestId  string     `json:"requestId,omitempty"`
	Content    string     `json:"content"`
	Attributes Attributes `json:"attributes"`
}

type DeleteMessageReq struct {
	Action    string `json:"action"`
	RequestId string `json:"requestId,omitempty"`
	Id        string `json:"id"`
	Reason    string `json:"reason"`
}

type KickUserReq struct {
	Action    string `json:"action"`
	RequestId string `json:"requestId,omitempty"`
	UserId    string `json:"userId"`
	Reason    string `json:"reason"`
}

func NewSendMessageReq(requestId, content string) *SendMessageReq {
	return &SendMessageReq{
		Action:     ActionSendMessage,
		RequestId:  requestId,
		Content:    content,
		Attributes: Attributes{MessageType: MessageTypeMessage},
	}
}

func NewSendStickerReq(requestId string, sticker Sticker) *SendMessageReq {
	return &SendMessageReq{
		Action:    ActionSendMessage,
		RequestId: requestId,
		Content:   sticker.IdString(),
		Attributes: Attributes{
			MessageType: MessageTypeSticker,
			StickerSrc:  sticker.Src,
		},
	}
}

func NewDeleteMessageReq(requestId, id string) *DeleteMessageReq {
	return &DeleteMessageReq{
		Action:    ActionDeleteMessage,
		RequestId: requestId,
		Id:        id,
		Reason:    DefaultDeleteReason,
	}
}

func NewKickUserReq(requestId, userId string) *KickUserReq {
	return &KickUserReq{
		Action:    ActionDisconnectUser,
		RequestId: requestId,
		UserId:    userId,
		Reason:    DefaultKickReason,
	}
}

type SenderAttributes struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type Sender struct {
	UserId     string           `json:"UserId"`
	Attributes SenderAttributes `json:"Attributes"`
}

// Envelope is an inbound frame. Message, event and error frames share it:
// message frames fill Id/Content/Sender, event frames fill EventName and
// Attributes, error frames fill ErrorCode/ErrorMessage.
type Envelope struct {
	Type         string            `json:"Type"`
	Id           string            `json:"Id,omitempty"`
	RequestId    string            `json:"RequestId,omitempty"`
	Attributes   map[string]string `json:"Attributes,omitempty"`
	Content      string            `json:"Content,omitempty"`
	Sender       *Sender           `json:"Sender,omitempty"`
	EventName    string            `json:"EventName,omitempty"`
	ErrorCode    *int              `json:"ErrorCode,omitempty"`
	ErrorMessage string            `json:"ErrorMessage,omitempty"`
}

// CloseReason is the structured payload a backend may put in a close frame.
type CloseReason struct {
	ErrorCode    *int   `json:"ErrorCode,omitempty"`
	ErrorMessage string `json:"ErrorMessage,omitempty"`
}
