package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/tobfel/stagecue/internal/bus"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/observe"
	"github.com/tobfel/stagecue/internal/trigger"
)

// Client-to-server frame types.
const (
	frameUpdate = "update"
	frameEnd    = "end"
	frameReset  = "reset"
)

// updateFrame is one client message on the stream socket.
//
//	{"type":"update","message_id":"m1","speaker_id":"mira","text":"...","streaming":true}
//	{"type":"end","message_id":"m1"}
//	{"type":"reset"}
type updateFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	SpeakerID string `json:"speaker_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`
}

// serverFrame is one server message: a fired cue, an ack for a processed
// client frame, or an error report.
type serverFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Cue       any    `json:"cue,omitempty"`
	Fired     int    `json:"fired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// wsExecutor implements [trigger.Executor] by pushing cue frames onto the
// websocket. Cues may arrive concurrently from revert timers, so writes are
// serialised.
type wsExecutor struct {
	ctx  context.Context
	conn *websocket.Conn

	mu sync.Mutex
}

var _ trigger.Executor = (*wsExecutor)(nil)

func (x *wsExecutor) send(f serverFrame) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return wsjson.Write(x.ctx, x.conn, f)
}

func (x *wsExecutor) sendCue(domain string, cue any) error {
	return x.send(serverFrame{Type: "cue", Domain: domain, Cue: cue})
}

func (x *wsExecutor) PlaySound(cue trigger.SoundCue) error {
	return x.sendCue(string(trigger.DomainSound), cue)
}

func (x *wsExecutor) SetSprite(cue trigger.SpriteCue) error {
	return x.sendCue(string(trigger.DomainSprite), cue)
}

func (x *wsExecutor) SetBackground(cue trigger.BackgroundCue) error {
	return x.sendCue(string(trigger.DomainBackground), cue)
}

func (x *wsExecutor) UpdateHUD(cue trigger.HUDCue) error {
	return x.sendCue(string(trigger.DomainHUD), cue)
}

func (x *wsExecutor) ApplyQuest(cue trigger.QuestCue) error {
	return x.sendCue(string(trigger.DomainQuest), cue)
}

func (x *wsExecutor) ApplyItem(cue trigger.ItemCue) error {
	return x.sendCue(string(trigger.DomainItem), cue)
}

func (x *wsExecutor) UpdateStat(cue trigger.StatCue) error {
	return x.sendCue(string(trigger.DomainStats), cue)
}

// StreamServer serves the websocket ingest endpoint. One connection drives
// one conversation: the client streams text updates and receives cue frames
// back on the same socket.
type StreamServer struct {
	sessions *SessionManager
	store    cuesheet.Store
	metrics  *observe.Metrics
}

// NewStreamServer creates the stream endpoint handler.
func NewStreamServer(sessions *SessionManager, store cuesheet.Store, metrics *observe.Metrics) *StreamServer {
	return &StreamServer{sessions: sessions, store: store, metrics: metrics}
}

// ServeHTTP implements [http.Handler]. Query parameters:
//
//   - conversation_id: conversation key; generated when absent.
//   - sheet_id: cue sheet to bind; mutually exclusive with speaker_id.
//   - speaker_id: resolve the sheet bound to this speaker.
//
// When neither sheet_id nor speaker_id is given and the store holds exactly
// one sheet, that sheet is used.
func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	sheet, err := s.resolveSheet(r.Context(), r.URL.Query().Get("sheet_id"), r.URL.Query().Get("speaker_id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cuesheet.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("app: websocket accept failed", "conversation_id", conversationID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	exec := &wsExecutor{ctx: ctx, conn: conn}

	sess, err := s.sessions.Start(conversationID, sheet, exec)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "conversation already streaming")
		return
	}
	defer s.sessions.Stop(conversationID)

	// The bus feeds the metrics; cue delivery goes through the executor.
	unsub := sess.Engine.Bus().Subscribe(func(ev bus.Event) {
		if s.metrics == nil {
			return
		}
		switch ev.Type {
		case bus.EventCueFired:
			s.metrics.RecordCueFired(ctx, ev.Domain)
		case bus.EventCueError:
			s.metrics.RecordCueError(ctx, ev.Domain)
		case bus.EventTokensDetected:
			counts := make(map[string]int64)
			for _, tok := range ev.Tokens {
				counts[string(tok.Type)]++
			}
			for typ, n := range counts {
				s.metrics.RecordTokens(ctx, typ, n)
			}
		}
	})
	defer unsub()

	s.readLoop(ctx, conn, exec, sess)
}

// readLoop consumes client frames until the connection drops or the client
// closes it.
func (s *StreamServer) readLoop(ctx context.Context, conn *websocket.Conn, exec *wsExecutor, sess *Session) {
	for {
		var f updateFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return
			}
			slog.Debug("app: stream read ended",
				"conversation_id", sess.ConversationID, "error", err)
			return
		}
		sess.Touch()

		switch f.Type {
		case frameUpdate:
			if f.MessageID == "" {
				s.sendError(exec, "", "update frame requires message_id")
				continue
			}
			start := time.Now()
			fired := sess.Engine.ProcessText(f.MessageID, f.SpeakerID, f.Text, f.Streaming)
			if s.metrics != nil {
				s.metrics.ScanDuration.Record(ctx, time.Since(start).Seconds())
			}
			s.sendAck(exec, f.MessageID, fired)

		case frameEnd:
			if f.MessageID == "" {
				s.sendError(exec, "", "end frame requires message_id")
				continue
			}
			fired := sess.Engine.EndMessage(f.MessageID)
			s.sendAck(exec, f.MessageID, fired)

		case frameReset:
			sess.Engine.Reset()
			s.sendAck(exec, "", 0)

		default:
			s.sendError(exec, f.MessageID, "unknown frame type "+f.Type)
		}
	}
}

func (s *StreamServer) sendAck(exec *wsExecutor, messageID string, fired int) {
	if err := exec.send(serverFrame{Type: "ack", MessageID: messageID, Fired: fired}); err != nil {
		slog.Debug("app: ack send failed", "error", err)
	}
}

func (s *StreamServer) sendError(exec *wsExecutor, messageID, msg string) {
	if err := exec.send(serverFrame{Type: "error", MessageID: messageID, Error: msg}); err != nil {
		slog.Debug("app: error send failed", "error", err)
	}
}

// resolveSheet picks the cue sheet for a new stream.
func (s *StreamServer) resolveSheet(ctx context.Context, sheetID, speakerID string) (*cuesheet.Sheet, error) {
	switch {
	case sheetID != "":
		sheet, err := s.store.Get(ctx, sheetID)
		if err != nil {
			return nil, err
		}
		return &sheet, nil

	case speakerID != "":
		sheet, err := s.store.GetBySpeaker(ctx, speakerID)
		if err != nil {
			return nil, err
		}
		return &sheet, nil

	default:
		sheets, err := s.store.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(sheets) != 1 {
			return nil, errors.New("app: sheet_id or speaker_id required when multiple sheets are loaded")
		}
		return &sheets[0], nil
	}
}
