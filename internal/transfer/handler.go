package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"retrace/internal/logfile"
	"retrace/internal/logging"
)

// Handler accepts sender connections and feeds their batches to a Receiver.
type Handler struct {
	recv     *Receiver
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler serves recv.
func NewHandler(recv *Receiver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		recv:   recv,
		logger: logging.NewComponentLogger(logger, "transfer_handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			logging.String(logging.FieldEventType, "transfer_upgrade_failed"),
			logging.String("remote", r.RemoteAddr),
			logging.Error(err),
		)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBatchBytes)

	remote := r.RemoteAddr
	open := map[streamKey]bool{}
	failed := map[streamKey]string{}
	defer func() {
		for key := range open {
			h.recv.Abort(key.origin, key.kind)
		}
	}()

	reply := func(m Message) bool {
		data, err := EncodeMessage(m)
		if err != nil {
			h.logger.Error("encode reply failed", logging.Error(err))
			return false
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.BinaryMessage, data) == nil
	}
	fail := func(m Message, err error) bool {
		logging.WarnWithContext(h.logger, "transfer message rejected", "transfer_rejected",
			logging.Error(err),
			logging.String("origin", m.Origin),
			logging.String("stream", m.Stream.String()),
			logging.String("remote", remote),
		)
		return reply(Message{Type: MsgError, Origin: m.Origin, Stream: m.Stream, Text: err.Error()})
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("transfer connection closed", logging.String("remote", remote), logging.Error(err))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			if !fail(Message{Stream: logfile.KindTransform}, err) {
				return
			}
			continue
		}
		key := streamKey{origin: msg.Origin, kind: msg.Stream}
		switch msg.Type {
		case MsgBatch:
			if _, bad := failed[key]; bad {
				continue
			}
			if _, err := h.recv.HandleBatch(msg.Origin, msg.Stream, msg.Payload); err != nil {
				failed[key] = err.Error()
				if !fail(msg, err) {
					return
				}
				continue
			}
			open[key] = true
		case MsgClose:
			if reason, bad := failed[key]; bad {
				delete(failed, key)
				delete(open, key)
				h.recv.Abort(msg.Origin, msg.Stream)
				if !fail(msg, errors.New(reason)) {
					return
				}
				continue
			}
			rows, err := h.recv.Finish(msg.Origin, msg.Stream)
			delete(open, key)
			if err != nil {
				if !fail(msg, err) {
					return
				}
				continue
			}
			if !reply(Message{Type: MsgAck, Origin: msg.Origin, Stream: msg.Stream, Rows: rows}) {
				return
			}
		default:
			if !fail(msg, fmt.Errorf("unexpected %s message", msg.Type)) {
				return
			}
		}
	}
}

// Serve listens on addr and writes received logs through recv until ctx is
// done.
func Serve(ctx context.Context, addr string, recv *Receiver, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transfer listen: %w", err)
	}
	return ServeListener(ctx, listener, recv, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, listener net.Listener, recv *Receiver, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, NewHandler(recv, logger))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("transfer receiver listening",
		logging.String("address", listener.Addr().String()),
		logging.String("save_dir", recv.Dir()),
	)
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		err = nil
	}
	return errors.Join(err, recv.Close())
}
