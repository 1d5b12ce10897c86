package agent

import (
	"context"
	"errors"
	"net/http"

	"github.com/bufbuild/connect-go"

	agentsvc "github.com/Jacky040124/openquest/internal/agent"
	"github.com/Jacky040124/openquest/internal/rpc"
	"github.com/Jacky040124/openquest/internal/rpc/connectjson"
)

const (
	ConnectAnalyzeProcedure   = "/openquest.agent.v1.AgentService/Analyze"
	ConnectImplementProcedure = "/openquest.agent.v1.AgentService/Implement"
)

// NewConnectAnalyzeHandler builds a Connect bidi stream handler for Analyze.
func NewConnectAnalyzeHandler(h *Handler) (string, http.Handler) {
	c := &connectStreamHandler{
		handler: h,
		start: func(ctx context.Context, first *rpc.AgentStreamRequest) (<-chan agentsvc.Event, error) {
			if first.Analyze == nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include analyze payload"))
			}
			return h.streamAnalyze(ctx, *first.Analyze)
		},
	}
	return ConnectAnalyzeProcedure, connect.NewBidiStreamHandler(ConnectAnalyzeProcedure, c.handle, connect.WithCodec(connectjson.Codec{}))
}

// NewConnectImplementHandler builds a Connect bidi stream handler for Implement.
func NewConnectImplementHandler(h *Handler) (string, http.Handler) {
	c := &connectStreamHandler{
		handler: h,
		start: func(ctx context.Context, first *rpc.AgentStreamRequest) (<-chan agentsvc.Event, error) {
			if first.Implement == nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include implement payload"))
			}
			events, err := h.streamImplement(ctx, *first.Implement)
			if errors.Is(err, ErrSessionNotFound) {
				return nil, connect.NewError(connect.CodeNotFound, err)
			}
			return events, err
		},
	}
	return ConnectImplementProcedure, connect.NewBidiStreamHandler(ConnectImplementProcedure, c.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectStreamHandler struct {
	handler *Handler
	start   func(ctx context.Context, first *rpc.AgentStreamRequest) (<-chan agentsvc.Event, error)
}

func (c *connectStreamHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.AgentStreamRequest, agentsvc.Event]) error {
	m := c.handler.metrics
	m.IncActiveStreams("connect")
	defer m.DecActiveStreams("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		m.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || (first.Analyze == nil && first.Implement == nil) {
		m.RecordTransportError("connect", "missing_payload")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include a request payload"))
	}

	// Listen for cancellation messages from the client.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				cancel()
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	events, err := c.start(ctx, first)
	if err != nil {
		m.RecordTransportError("connect", "start_error")
		var cerr *connect.Error
		if errors.As(err, &cerr) {
			return err
		}
		return connect.NewError(connect.CodeInvalidArgument, err)
	}

	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			m.RecordTransportError("connect", "send")
			for range events {
			}
			return err
		}
	}
	return nil
}
