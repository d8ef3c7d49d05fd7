package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"disparador/internal/config"
	"disparador/internal/entities"
	"disparador/internal/interfaces"
)

const maxMediaBytes = 50 << 20

// Dispatcher validates, builds, and sends outbound messages through a
// connected instance. Every shape runs the same pipeline: payload validation,
// quota check, instance resolution and ownership, destination normalization,
// wire build, send, usage increment.
type Dispatcher struct {
	instances interfaces.InstanceProvider
	quota     interfaces.QuotaChecker
	limits    config.Limits
	media     *http.Client
	log       *zap.Logger
}

func NewDispatcher(instances interfaces.InstanceProvider, quota interfaces.QuotaChecker, limits config.Limits, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		instances: instances,
		quota:     quota,
		limits:    limits,
		media:     &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

func fail(code string, status int) entities.DispatchResult {
	return entities.DispatchResult{Error: code, Status: status}
}

func sent(id, format, hint string) entities.DispatchResult {
	return entities.DispatchResult{OK: true, MessageID: id, Format: format, Hint: hint}
}

// resolve finds a live session the caller may use. The system scope reaches
// every instance; tenant scopes only their own.
func (d *Dispatcher) resolve(tenantID, instanceName string) (interfaces.TransportSession, *entities.DispatchResult) {
	inst, ok := d.instances.Get(instanceName)
	if !ok {
		r := fail(entities.ErrInstanceNotFound, http.StatusNotFound)
		return nil, &r
	}
	if tenantID != entities.SystemTenant && inst.TenantID() != tenantID {
		r := fail(entities.ErrForbiddenInstance, http.StatusForbidden)
		return nil, &r
	}
	sess := inst.Session()
	if inst.State() != entities.StateConnected || sess == nil {
		r := fail(entities.ErrInstanceNotConnected, http.StatusBadRequest)
		return nil, &r
	}
	return sess, nil
}

// dispatch runs the shared tail of the pipeline once the wire content is
// built. The usage counter moves only after the transport confirms the send.
func (d *Dispatcher) dispatch(ctx context.Context, tenantID, instanceName, to string, build func(interfaces.TransportSession, types.JID) (*waProto.Message, error), format, hint string) entities.DispatchResult {
	if !d.quota.CheckSend(ctx, tenantID, 1) {
		return fail(entities.ErrDailyLimitReached, http.StatusForbidden)
	}
	sess, errRes := d.resolve(tenantID, instanceName)
	if errRes != nil {
		return *errRes
	}
	jid, ok := ToJID(to)
	if !ok {
		return fail(entities.ErrInvalidPhone, http.StatusBadRequest)
	}

	msg, err := build(sess, jid)
	if err != nil {
		d.log.Warn("message build failed",
			zap.String("instance", instanceName), zap.String("format", format), zap.Error(err))
		return fail(entities.ErrSendFailed, http.StatusBadGateway)
	}

	id, err := sess.Send(ctx, jid, msg)
	if err != nil {
		d.log.Error("send failed",
			zap.String("instance", instanceName), zap.String("format", format), zap.Error(err))
		return fail(entities.ErrSendFailed, http.StatusBadGateway)
	}
	d.quota.Increment(ctx, tenantID, 1)
	return sent(id, format, hint)
}

func (d *Dispatcher) SendText(ctx context.Context, tenantID, instanceName, to, text, footer string) entities.DispatchResult {
	if text == "" {
		return fail("missing_text", http.StatusBadRequest)
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(_ interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		return buildTextMessage(text, footer), nil
	}, "text", "")
}

func (d *Dispatcher) SendImage(ctx context.Context, tenantID, instanceName, to, imageURL, caption string) entities.DispatchResult {
	if imageURL == "" {
		return fail("missing_image_url", http.StatusBadRequest)
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(sess interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		img, err := d.uploadImage(ctx, sess, imageURL, caption)
		if err != nil {
			return nil, err
		}
		return &waProto.Message{ImageMessage: img}, nil
	}, "image", "")
}

func (d *Dispatcher) SendVideo(ctx context.Context, tenantID, instanceName, to, videoURL, caption string) entities.DispatchResult {
	if videoURL == "" {
		return fail("missing_video_url", http.StatusBadRequest)
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(sess interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		data, mime, err := d.fetchMedia(ctx, videoURL)
		if err != nil {
			return nil, err
		}
		up, err := sess.Upload(ctx, data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, fmt.Errorf("upload video: %w", err)
		}
		return &waProto.Message{VideoMessage: buildVideoMessage(up, mime, caption)}, nil
	}, "video", "")
}

// SendMenu renders a numbered option list as plain text; the recipient
// answers with the option number.
func (d *Dispatcher) SendMenu(ctx context.Context, tenantID, instanceName, to string, p entities.MenuPayload) entities.DispatchResult {
	if len(p.Options) == 0 {
		return fail("missing_options", http.StatusBadRequest)
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(_ interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		return buildTextMessage(buildMenuText(p.Title, p.Text, p.Options, p.Footer), ""), nil
	}, "numbered_menu", "User should reply with the option number")
}

func (d *Dispatcher) SendButtons(ctx context.Context, tenantID, instanceName, to, text string, buttons []entities.Button, footer string) entities.DispatchResult {
	if text == "" {
		return fail("missing_text", http.StatusBadRequest)
	}
	if len(buttons) == 0 {
		return fail("missing_buttons", http.StatusBadRequest)
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(_ interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		return buildButtonsMessage(text, buttons, footer, d.limits), nil
	}, "buttons", "")
}

func (d *Dispatcher) SendInteractive(ctx context.Context, tenantID, instanceName, to, text string, buttons []entities.Button, footer string) entities.DispatchResult {
	if text == "" {
		return fail("missing_text", http.StatusBadRequest)
	}
	if len(buttons) == 0 {
		return fail("missing_buttons", http.StatusBadRequest)
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(_ interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		return buildInteractiveMessage(text, buttons, footer, d.limits), nil
	}, "interactive_buttons", "")
}

func (d *Dispatcher) SendList(ctx context.Context, tenantID, instanceName, to string, p entities.ListPayload) entities.DispatchResult {
	if p.Text == "" {
		return fail("missing_text", http.StatusBadRequest)
	}
	if len(p.Sections) == 0 {
		return fail("missing_sections", http.StatusBadRequest)
	}
	if p.ButtonText == "" {
		p.ButtonText = "Ver opções"
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(_ interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		return buildListMessage(p.Text, p.ButtonText, p.Sections, p.Footer, d.limits), nil
	}, "list", "")
}

func (d *Dispatcher) SendPoll(ctx context.Context, tenantID, instanceName, to string, p entities.PollPayload) entities.DispatchResult {
	if p.Name == "" {
		return fail("missing_name", http.StatusBadRequest)
	}
	if len(p.Options) < 2 {
		return fail("missing_options", http.StatusBadRequest)
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(_ interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		return buildPollMessage(p.Name, p.Options, p.SelectableCount, d.limits), nil
	}, "poll", "")
}

func (d *Dispatcher) SendCarousel(ctx context.Context, tenantID, instanceName, to string, p entities.CarouselPayload) entities.DispatchResult {
	if len(p.Cards) == 0 {
		return fail("missing_cards", http.StatusBadRequest)
	}
	cards := p.Cards
	if len(cards) > d.limits.MaxCarouselCards {
		cards = cards[:d.limits.MaxCarouselCards]
	}
	return d.dispatch(ctx, tenantID, instanceName, to, func(sess interfaces.TransportSession, _ types.JID) (*waProto.Message, error) {
		images := make([]*waProto.ImageMessage, len(cards))
		for i, card := range cards {
			if card.ImageURL == "" {
				continue
			}
			img, err := d.uploadImage(ctx, sess, card.ImageURL, "")
			if err != nil {
				// A broken card image degrades that card to text-only
				// instead of failing the whole carousel.
				d.log.Warn("carousel card image skipped", zap.String("url", card.ImageURL), zap.Error(err))
				continue
			}
			images[i] = img
		}
		return buildCarouselMessage(p.Text, cards, images, p.Footer), nil
	}, "carousel", "")
}

// SendUnified routes a type-tagged payload to the matching shape handler.
func (d *Dispatcher) SendUnified(ctx context.Context, tenantID, instanceName, to string, msgType entities.MessageType, payload json.RawMessage) entities.DispatchResult {
	decode := func(dst any) *entities.DispatchResult {
		if err := json.Unmarshal(payload, dst); err != nil {
			r := fail("invalid_payload", http.StatusBadRequest)
			return &r
		}
		return nil
	}

	switch msgType {
	case entities.TypeText:
		var p entities.TextPayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendText(ctx, tenantID, instanceName, to, p.Text, p.Footer)
	case entities.TypeImage:
		var p entities.ImagePayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendImage(ctx, tenantID, instanceName, to, p.ImageURL, p.Caption)
	case entities.TypeVideo:
		var p entities.VideoPayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendVideo(ctx, tenantID, instanceName, to, p.VideoURL, p.Caption)
	case entities.TypeMenu:
		var p entities.MenuPayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendMenu(ctx, tenantID, instanceName, to, p)
	case entities.TypeButtons:
		var p entities.ButtonsPayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendButtons(ctx, tenantID, instanceName, to, p.Text, p.Buttons, p.Footer)
	case entities.TypeInteractive:
		var p entities.InteractivePayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendInteractive(ctx, tenantID, instanceName, to, p.Text, p.Buttons, p.Footer)
	case entities.TypeList:
		var p entities.ListPayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendList(ctx, tenantID, instanceName, to, p)
	case entities.TypePoll:
		var p entities.PollPayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendPoll(ctx, tenantID, instanceName, to, p)
	case entities.TypeCarousel:
		var p entities.CarouselPayload
		if r := decode(&p); r != nil {
			return *r
		}
		return d.SendCarousel(ctx, tenantID, instanceName, to, p)
	default:
		return fail(entities.ErrInvalidType, http.StatusBadRequest)
	}
}

func (d *Dispatcher) uploadImage(ctx context.Context, sess interfaces.TransportSession, url, caption string) (*waProto.ImageMessage, error) {
	data, mime, err := d.fetchMedia(ctx, url)
	if err != nil {
		return nil, err
	}
	up, err := sess.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	return buildImageMessage(up, mime, caption), nil
}

func (d *Dispatcher) fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := d.media.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
