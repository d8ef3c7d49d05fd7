package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"disparador/internal/entities"
	"disparador/internal/interfaces"
)

// WhatsAppTransport opens whatsmeow-backed sessions. Credentials live in one
// SQLite store per (tenant, instance) under baseDir, so a restart-required
// reconnect does not repeat pairing.
type WhatsAppTransport struct {
	baseDir string
	log     *zap.Logger
}

func NewWhatsAppTransport(baseDir string, log *zap.Logger) *WhatsAppTransport {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		log.Warn("could not create auth directory", zap.String("dir", baseDir), zap.Error(err))
	}
	return &WhatsAppTransport{baseDir: baseDir, log: log}
}

func (t *WhatsAppTransport) credentialDir(tenantID, name string) string {
	return filepath.Join(t.baseDir, tenantID, name)
}

// Dial opens a session and starts its event stream. The stream carries QR
// codes while pairing, then open/close transitions with close reason codes.
func (t *WhatsAppTransport) Dial(ctx context.Context, tenantID, name string) (interfaces.TransportSession, <-chan entities.ConnectionEvent, error) {
	dir := t.credentialDir(tenantID, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create credential dir: %w", err)
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	dsn := "file:" + filepath.Join(dir, "session.db") + "?_pragma=foreign_keys(1)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return nil, nil, fmt.Errorf("open credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "WARN", true))
	// The lifecycle manager owns reconnection policy, not the library.
	client.EnableAutoReconnect = false

	sess := &whatsAppSession{
		client: client,
		events: make(chan entities.ConnectionEvent, 16),
		log:    t.log.With(zap.String("instance", name)),
	}
	client.AddEventHandler(sess.handleEvent)

	if client.Store.ID == nil {
		// No credentials yet: QR pairing flow. The channel must be requested
		// before Connect.
		qrChan, qrErr := client.GetQRChannel(ctx)
		if qrErr != nil {
			return nil, nil, fmt.Errorf("get qr channel: %w", qrErr)
		}
		if err := client.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		go sess.forwardQR(qrChan)
	} else {
		if err := client.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
	}

	sess.emit(entities.ConnectionEvent{State: entities.ConnConnecting})
	return sess, sess.events, nil
}

// EraseCredentials removes the on-disk credential store so the next Dial
// requires a fresh QR pairing.
func (t *WhatsAppTransport) EraseCredentials(tenantID, name string) error {
	return os.RemoveAll(t.credentialDir(tenantID, name))
}

type whatsAppSession struct {
	client *whatsmeow.Client
	events chan entities.ConnectionEvent
	log    *zap.Logger

	// Set on pairing success; the disconnect that follows it is the
	// stream's restart-required close (code 515).
	justPaired atomic.Bool
}

func (s *whatsAppSession) emit(evt entities.ConnectionEvent) {
	select {
	case s.events <- evt:
	default:
		s.log.Warn("dropping connection event, stream full")
	}
}

func (s *whatsAppSession) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			s.emit(entities.ConnectionEvent{State: entities.ConnConnecting, QR: item.Code})
		case "timeout":
			s.emit(entities.ConnectionEvent{State: entities.ConnClose})
		}
	}
}

func (s *whatsAppSession) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		s.emit(entities.ConnectionEvent{State: entities.ConnOpen})
	case *events.PairSuccess:
		s.justPaired.Store(true)
	case *events.Disconnected:
		if s.justPaired.Swap(false) {
			s.emit(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: entities.CloseRestartRequired})
			return
		}
		s.emit(entities.ConnectionEvent{State: entities.ConnClose})
	case *events.LoggedOut:
		s.emit(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: entities.CloseLoggedOut})
	case *events.StreamReplaced:
		s.emit(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: entities.CloseReplaced})
	case *events.ConnectFailure:
		s.log.Warn("connect failure", zap.Int("reason", int(v.Reason)))
		s.emit(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: int(v.Reason)})
	}
}

func (s *whatsAppSession) Send(ctx context.Context, to types.JID, msg *waProto.Message) (string, error) {
	resp, err := s.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *whatsAppSession) Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return s.client.Upload(ctx, data, kind)
}

func (s *whatsAppSession) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

func (s *whatsAppSession) Close() {
	s.client.Disconnect()
}
