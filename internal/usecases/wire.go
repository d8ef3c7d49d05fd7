package usecases

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"disparador/internal/config"
	"disparador/internal/entities"
)

// ToJID normalizes a phone-like destination into the transport's addressing
// format (5511999999999 -> 5511999999999@s.whatsapp.net). Inputs already
// containing '@' are parsed as-is.
func ToJID(phone string) (types.JID, bool) {
	if phone == "" {
		return types.EmptyJID, false
	}
	if strings.Contains(phone, "@") {
		jid, err := types.ParseJID(phone)
		return jid, err == nil
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return types.EmptyJID, false
	}
	return types.NewJID(digits, types.DefaultUserServer), true
}

func buildTextMessage(text, footer string) *waProto.Message {
	content := text
	if footer != "" {
		content = fmt.Sprintf("%s\n\n_%s_", text, footer)
	}
	return &waProto.Message{Conversation: proto.String(content)}
}

// buildMenuText renders a numbered text menu; the user replies with the
// option number.
func buildMenuText(title, text string, options []string, footer string) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(fmt.Sprintf("*%s*\n\n", title))
	}
	if text != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", text))
	}
	for i, opt := range options {
		sb.WriteString(fmt.Sprintf("*%d.* %s\n", i+1, opt))
	}
	if footer != "" {
		sb.WriteString(fmt.Sprintf("\n_%s_", footer))
	}
	return strings.TrimSpace(sb.String())
}

func buildButtonsMessage(text string, buttons []entities.Button, footer string, limits config.Limits) *waProto.Message {
	if len(buttons) > limits.MaxButtons {
		buttons = buttons[:limits.MaxButtons]
	}
	native := make([]*waProto.ButtonsMessage_Button, 0, len(buttons))
	for i, btn := range buttons {
		id := btn.ID
		if id == "" {
			id = fmt.Sprintf("btn_%d", i)
		}
		label := btn.Text
		if label == "" {
			label = fmt.Sprintf("Botão %d", i+1)
		}
		native = append(native, &waProto.ButtonsMessage_Button{
			ButtonID:   proto.String(id),
			ButtonText: &waProto.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(label)},
			Type:       waProto.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}
	msg := &waProto.ButtonsMessage{
		ContentText: proto.String(text),
		Buttons:     native,
		HeaderType:  waProto.ButtonsMessage_EMPTY.Enum(),
	}
	if footer != "" {
		msg.FooterText = proto.String(footer)
	}
	return &waProto.Message{ButtonsMessage: msg}
}

// nativeFlowButton maps one rich button onto the transport's native-flow
// format (cta_url / cta_copy / cta_call / quick_reply).
func nativeFlowButton(btn entities.Button, idx int) *waProto.InteractiveMessage_NativeFlowMessage_NativeFlowButton {
	kind := strings.ToLower(btn.Type)
	var name string
	var params any
	switch {
	case kind == "url" || btn.URL != "":
		name = "cta_url"
		params = map[string]string{"display_text": textOr(btn.Text, "Abrir"), "url": btn.URL}
	case kind == "copy" || btn.CopyCode != "":
		name = "cta_copy"
		params = map[string]string{"display_text": textOr(btn.Text, "Copiar"), "copy_code": btn.CopyCode}
	case kind == "call" || btn.PhoneNumber != "":
		name = "cta_call"
		params = map[string]string{"display_text": textOr(btn.Text, "Ligar"), "phone_number": btn.PhoneNumber}
	default:
		name = "quick_reply"
		params = map[string]string{"display_text": textOr(btn.Text, "Botão"), "id": textOr(btn.ID, fmt.Sprintf("btn_%d", idx))}
	}
	raw, _ := json.Marshal(params)
	return &waProto.InteractiveMessage_NativeFlowMessage_NativeFlowButton{
		Name:             proto.String(name),
		ButtonParamsJSON: proto.String(string(raw)),
	}
}

func textOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func buildInteractiveMessage(text string, buttons []entities.Button, footer string, limits config.Limits) *waProto.Message {
	if len(buttons) > limits.MaxButtons {
		buttons = buttons[:limits.MaxButtons]
	}
	native := make([]*waProto.InteractiveMessage_NativeFlowMessage_NativeFlowButton, 0, len(buttons))
	for i, btn := range buttons {
		native = append(native, nativeFlowButton(btn, i))
	}
	im := &waProto.InteractiveMessage{
		Body: &waProto.InteractiveMessage_Body{Text: proto.String(text)},
		InteractiveMessage: &waProto.InteractiveMessage_NativeFlowMessage_{
			NativeFlowMessage: &waProto.InteractiveMessage_NativeFlowMessage{Buttons: native},
		},
	}
	if footer != "" {
		im.Footer = &waProto.InteractiveMessage_Footer{Text: proto.String(footer)}
	}
	return wrapInteractive(im)
}

// wrapInteractive wraps interactive content the way clients expect it on the
// wire (inside a future-proof view-once envelope).
func wrapInteractive(im *waProto.InteractiveMessage) *waProto.Message {
	return &waProto.Message{
		ViewOnceMessage: &waProto.FutureProofMessage{
			Message: &waProto.Message{InteractiveMessage: im},
		},
	}
}

func buildListMessage(text, buttonText string, sections []entities.ListSection, footer string, limits config.Limits) *waProto.Message {
	if len(sections) > limits.MaxListSections {
		sections = sections[:limits.MaxListSections]
	}
	native := make([]*waProto.ListMessage_Section, 0, len(sections))
	for _, sec := range sections {
		rows := sec.Rows
		if len(rows) > limits.MaxListRowsPerSection {
			rows = rows[:limits.MaxListRowsPerSection]
		}
		nativeRows := make([]*waProto.ListMessage_Row, 0, len(rows))
		for i, row := range rows {
			nativeRows = append(nativeRows, &waProto.ListMessage_Row{
				RowID:       proto.String(textOr(row.ID, fmt.Sprintf("row_%d", i))),
				Title:       proto.String(textOr(row.Title, "Item")),
				Description: proto.String(row.Description),
			})
		}
		native = append(native, &waProto.ListMessage_Section{
			Title: proto.String(textOr(sec.Title, "Opções")),
			Rows:  nativeRows,
		})
	}
	msg := &waProto.ListMessage{
		Description: proto.String(text),
		ButtonText:  proto.String(buttonText),
		ListType:    waProto.ListMessage_SINGLE_SELECT.Enum(),
		Sections:    native,
	}
	if footer != "" {
		msg.FooterText = proto.String(footer)
	}
	return &waProto.Message{ListMessage: msg}
}

// buildPollMessage truncates options and clamps selectableCount to
// [1, len(options after truncation)].
func buildPollMessage(name string, options []string, selectableCount int, limits config.Limits) *waProto.Message {
	if len(options) > limits.MaxPollOptions {
		options = options[:limits.MaxPollOptions]
	}
	native := make([]*waProto.PollCreationMessage_Option, 0, len(options))
	for _, opt := range options {
		native = append(native, &waProto.PollCreationMessage_Option{OptionName: proto.String(opt)})
	}
	if selectableCount < 1 {
		selectableCount = 1
	}
	if selectableCount > len(options) {
		selectableCount = len(options)
	}

	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	return &waProto.Message{
		PollCreationMessage: &waProto.PollCreationMessage{
			Name:                   proto.String(name),
			Options:                native,
			SelectableOptionsCount: proto.Uint32(uint32(selectableCount)),
		},
		MessageContextInfo: &waProto.MessageContextInfo{MessageSecret: secret},
	}
}

// buildCarouselMessage nests one interactive card per entry. cardImages holds
// pre-uploaded header media aligned with the (already truncated) cards slice;
// entries may be nil.
func buildCarouselMessage(text string, cards []entities.CarouselCard, cardImages []*waProto.ImageMessage, footer string) *waProto.Message {
	nativeCards := make([]*waProto.InteractiveMessage, 0, len(cards))
	for i, card := range cards {
		header := &waProto.InteractiveMessage_Header{
			Title:              proto.String(textOr(card.Title, fmt.Sprintf("Card %d", i+1))),
			HasMediaAttachment: proto.Bool(false),
		}
		if i < len(cardImages) && cardImages[i] != nil {
			header.HasMediaAttachment = proto.Bool(true)
			header.Media = &waProto.InteractiveMessage_Header_ImageMessage{ImageMessage: cardImages[i]}
		}

		buttons := make([]*waProto.InteractiveMessage_NativeFlowMessage_NativeFlowButton, 0, len(card.Buttons))
		for b, btn := range card.Buttons {
			if btn.ID == "" {
				btn.ID = fmt.Sprintf("card%d_btn%d", i, b)
			}
			buttons = append(buttons, nativeFlowButton(btn, b))
		}

		ci := &waProto.InteractiveMessage{
			Header: header,
			Body:   &waProto.InteractiveMessage_Body{Text: proto.String(card.Body)},
			InteractiveMessage: &waProto.InteractiveMessage_NativeFlowMessage_{
				NativeFlowMessage: &waProto.InteractiveMessage_NativeFlowMessage{Buttons: buttons},
			},
		}
		if card.Footer != "" {
			ci.Footer = &waProto.InteractiveMessage_Footer{Text: proto.String(card.Footer)}
		}
		nativeCards = append(nativeCards, ci)
	}

	im := &waProto.InteractiveMessage{
		Body: &waProto.InteractiveMessage_Body{Text: proto.String(text)},
		InteractiveMessage: &waProto.InteractiveMessage_CarouselMessage_{
			CarouselMessage: &waProto.InteractiveMessage_CarouselMessage{Cards: nativeCards},
		},
	}
	if footer != "" {
		im.Footer = &waProto.InteractiveMessage_Footer{Text: proto.String(footer)}
	}
	return wrapInteractive(im)
}

func buildImageMessage(up whatsmeow.UploadResponse, mimetype, caption string) *waProto.ImageMessage {
	img := &waProto.ImageMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(mimetype),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}
	if caption != "" {
		img.Caption = proto.String(caption)
	}
	return img
}

func buildVideoMessage(up whatsmeow.UploadResponse, mimetype, caption string) *waProto.VideoMessage {
	vid := &waProto.VideoMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(mimetype),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}
	if caption != "" {
		vid.Caption = proto.String(caption)
	}
	return vid
}
