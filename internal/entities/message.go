package entities

// MessageType tags one of the supported outbound message shapes.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeMenu        MessageType = "menu"
	TypeButtons     MessageType = "buttons"
	TypeInteractive MessageType = "interactive"
	TypeList        MessageType = "list"
	TypePoll        MessageType = "poll"
	TypeCarousel    MessageType = "carousel"
)

// Caller-facing error codes carried in DispatchResult.Error.
const (
	ErrInstanceNotFound     = "instance_not_found"
	ErrForbiddenInstance    = "forbidden_instance_access"
	ErrInstanceNotConnected = "instance_not_connected"
	ErrDailyLimitReached    = "daily_limit_reached"
	ErrInvalidPhone         = "invalid_phone"
	ErrInvalidType          = "invalid_type"
	ErrSendFailed           = "send_failed"
)

// DispatchResult is the outcome of one send operation. Status is an HTTP
// status hint for the caller; MessageID is the provider-assigned id.
type DispatchResult struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    int    `json:"status,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Format    string `json:"format,omitempty"`
}

type Button struct {
	Type        string `json:"type,omitempty"`
	ID          string `json:"id,omitempty"`
	Text        string `json:"text,omitempty"`
	URL         string `json:"url,omitempty"`
	CopyCode    string `json:"copyCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type ListRow struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows,omitempty"`
}

type CarouselCard struct {
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body,omitempty"`
	Footer   string   `json:"footer,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

type TextPayload struct {
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

type ImagePayload struct {
	ImageURL string `json:"imageUrl"`
	Caption  string `json:"caption,omitempty"`
}

type VideoPayload struct {
	VideoURL string `json:"videoUrl"`
	Caption  string `json:"caption,omitempty"`
}

type MenuPayload struct {
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text,omitempty"`
	Options []string `json:"options"`
	Footer  string   `json:"footer,omitempty"`
}

type ButtonsPayload struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons"`
	Footer  string   `json:"footer,omitempty"`
}

type InteractivePayload struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons"`
	Footer  string   `json:"footer,omitempty"`
}

type ListPayload struct {
	Text       string        `json:"text"`
	ButtonText string        `json:"buttonText"`
	Sections   []ListSection `json:"sections"`
	Footer     string        `json:"footer,omitempty"`
}

type PollPayload struct {
	Name            string   `json:"name"`
	Options         []string `json:"options"`
	SelectableCount int      `json:"selectableCount,omitempty"`
}

type CarouselPayload struct {
	Text   string         `json:"text,omitempty"`
	Cards  []CarouselCard `json:"cards"`
	Footer string         `json:"footer,omitempty"`
}
