// Package solana adapts the Geyser-shaped upstream gRPC feed and the
// SOL/USD reference websocket feed to the domain.StreamClient contract.
package solana

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// forkDepthSafetyMargin is subtracted from the last delivered slot before
// resuming a dropped stream, so a brief reorg at the old tip doesn't get
// silently skipped on reconnect.
const forkDepthSafetyMargin = 31

// GeyserClient implements domain.StreamClient against a Yellowstone-Geyser
// style gRPC endpoint. One GeyserClient owns exactly one underlying gRPC
// connection; StreamManager's pool holds several of these.
type GeyserClient struct {
	endpoint string
	token    string
	logger   *slog.Logger

	mu           sync.Mutex
	conn         *grpc.ClientConn
	stream       pb.Geyser_SubscribeClient
	lastSlot     uint64
	cancel       context.CancelFunc
}

func NewGeyserClient(endpoint, token string, logger *slog.Logger) *GeyserClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeyserClient{
		endpoint: endpoint,
		token:    token,
		logger:   logger.With("component", "geyser_client", "endpoint", endpoint),
	}
}

// Subscribe dials the endpoint if necessary and opens a Subscribe stream for
// req. It spawns a goroutine that forwards every received update onto data,
// and closes both channels when the stream ends for any reason, including
// ctx cancellation.
func (c *GeyserClient) Subscribe(ctx context.Context, req domain.StreamSubscription) (<-chan domain.StreamFrame, <-chan error, error) {
	if err := c.ensureConn(ctx); err != nil {
		return nil, nil, domain.NewClassifiedError(domain.ClassUpstreamConnect, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if c.token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "x-token", c.token)
	}

	stream, err := pb.NewGeyserClient(c.conn).Subscribe(streamCtx)
	if err != nil {
		cancel()
		return nil, nil, domain.NewClassifiedError(domain.ClassUpstreamConnect, err)
	}

	fromSlot := req.FromSlot
	if fromSlot == 0 && c.lastSlot > forkDepthSafetyMargin {
		fromSlot = c.lastSlot - forkDepthSafetyMargin
	}

	subReq := buildSubscribeRequest(req, fromSlot)
	if err := stream.Send(subReq); err != nil {
		cancel()
		return nil, nil, domain.NewClassifiedError(domain.ClassUpstreamConnect, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.mu.Unlock()

	data := make(chan domain.StreamFrame, 256)
	errs := make(chan error, 1)

	go c.pump(stream, data, errs)

	return data, errs, nil
}

func (c *GeyserClient) pump(stream pb.Geyser_SubscribeClient, data chan<- domain.StreamFrame, errs chan<- error) {
	defer close(data)
	defer close(errs)

	for {
		update, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			errs <- classifyRecvError(err)
			return
		}

		frame, ok := toStreamFrame(update)
		if !ok {
			continue
		}
		if frame.Slot > 0 {
			c.mu.Lock()
			if frame.Slot > c.lastSlot {
				c.lastSlot = frame.Slot
			}
			c.mu.Unlock()
		}

		select {
		case data <- frame:
		default:
			c.logger.Warn("frame dropped, consumer too slow")
		}
	}
}

func (c *GeyserClient) ensureConn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, err := grpc.DialContext(ctx, c.endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                20 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(1<<30),
			grpc.MaxCallSendMsgSize(32<<20),
		),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	c.conn = conn
	return nil
}

// Close tears down the underlying connection and any active stream.
func (c *GeyserClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.stream = nil
	return err
}

func classifyRecvError(err error) error {
	// The upstream rejects over-quota subscribers with a resource-exhausted
	// status (rate limited) and bad or missing credentials with an
	// unauthenticated or permission-denied status (fatal auth); everything
	// else is treated as a plain connection drop and left to StreamManager's
	// default backoff.
	if isRateLimited(err) {
		return domain.NewClassifiedError(domain.ClassUpstreamRateLimited, err)
	}
	if isUnauthenticated(err) {
		return domain.NewClassifiedError(domain.ClassUpstreamFatalAuth, err)
	}
	return domain.NewClassifiedError(domain.ClassUpstreamConnect, err)
}

func buildSubscribeRequest(req domain.StreamSubscription, fromSlot uint64) *pb.SubscribeRequest {
	commitment := pb.CommitmentLevel_CONFIRMED
	sr := &pb.SubscribeRequest{
		Commitment: &commitment,
	}

	if len(req.AccountKeys) > 0 || len(req.ProgramIDs) > 0 {
		sr.Accounts = map[string]*pb.SubscribeRequestFilterAccounts{
			"pumpfun_core": {
				Account: req.AccountKeys,
				Owner:   req.ProgramIDs,
			},
		}
		sr.Transactions = map[string]*pb.SubscribeRequestFilterTransactions{
			"pumpfun_core": {
				AccountInclude: req.ProgramIDs,
			},
		}
	}

	if fromSlot > 0 {
		slot := fromSlot
		sr.FromSlot = &slot
	}

	return sr
}

func toStreamFrame(update *pb.SubscribeUpdate) (domain.StreamFrame, bool) {
	switch {
	case update.GetAccount() != nil:
		acc := update.GetAccount().GetAccount()
		return domain.StreamFrame{
			Slot:       update.GetAccount().GetSlot(),
			Kind:       "account",
			AccountKey: string(acc.GetPubkey()),
			ProgramID:  string(acc.GetOwner()),
			Data:       acc.GetData(),
		}, true
	case update.GetTransaction() != nil:
		return transactionToStreamFrame(update.GetTransaction()), true
	case update.GetPing() != nil:
		return domain.StreamFrame{Kind: "ping"}, true
	default:
		return domain.StreamFrame{}, false
	}
}

// transactionToStreamFrame flattens a Geyser transaction update down to
// what EventParser actually needs: the signature (for dedup), the last
// top-level instruction's data (the instruction layout is an opaque,
// program-specific decode EventParser owns), and every inner instruction's
// data (the transferChecked legs an AMM swap's true amounts are
// reconstructed from). A transaction with no instructions yields an empty
// frame, which Parse treats as unrecognized.
func transactionToStreamFrame(tx *pb.SubscribeUpdateTransaction) domain.StreamFrame {
	info := tx.GetTransaction()
	sig := base58.Encode(info.GetSignature())

	frame := domain.StreamFrame{
		Slot:      tx.GetSlot(),
		Kind:      "transaction",
		Signature: sig,
	}

	instructions := info.GetTransaction().GetMessage().GetInstructions()
	if len(instructions) > 0 {
		frame.Data = instructions[len(instructions)-1].GetData()
	}

	for _, group := range info.GetMeta().GetInnerInstructions() {
		for _, in := range group.GetInstructions() {
			if len(in.GetData()) > 0 {
				frame.InnerData = append(frame.InnerData, in.GetData())
			}
		}
	}

	return frame
}

func isRateLimited(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.ResourceExhausted
}

func isUnauthenticated(err error) bool {
	st, ok := status.FromError(err)
	return ok && (st.Code() == codes.Unauthenticated || st.Code() == codes.PermissionDenied)
}
