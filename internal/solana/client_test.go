package solana

import (
	"errors"
	"testing"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pumpfun-ingest/core/internal/domain"
)

func TestIsRateLimitedRecognizesResourceExhausted(t *testing.T) {
	err := status.Error(codes.ResourceExhausted, "quota exceeded")
	if !isRateLimited(err) {
		t.Fatal("expected resource-exhausted status to be recognized as rate limited")
	}
	if isUnauthenticated(err) {
		t.Fatal("resource-exhausted should not be classified as unauthenticated")
	}
}

func TestIsUnauthenticatedRecognizesAuthFailure(t *testing.T) {
	err := status.Error(codes.Unauthenticated, "bad token")
	if !isUnauthenticated(err) {
		t.Fatal("expected unauthenticated status to be recognized")
	}
}

func TestIsRateLimitedFalseForPlainError(t *testing.T) {
	if isRateLimited(errors.New("boom")) {
		t.Fatal("expected plain error to not be classified as rate limited")
	}
	if isUnauthenticated(errors.New("boom")) {
		t.Fatal("expected plain error to not be classified as unauthenticated")
	}
}

func TestClassifyRecvErrorMapsToDomainClasses(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		class domain.ErrorClass
	}{
		{"rate limited", status.Error(codes.ResourceExhausted, "x"), domain.ClassUpstreamRateLimited},
		{"unauthenticated", status.Error(codes.Unauthenticated, "x"), domain.ClassUpstreamFatalAuth},
		{"other", errors.New("connection reset"), domain.ClassUpstreamConnect},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := classifyRecvError(tc.err)
			got, ok := domain.ClassOf(classified)
			if !ok {
				t.Fatal("expected a classified error")
			}
			if got != tc.class {
				t.Fatalf("class = %v, want %v", got, tc.class)
			}
		})
	}
}

func TestBuildSubscribeRequestIncludesFromSlot(t *testing.T) {
	req := domain.StreamSubscription{AccountKeys: []string{"acc1"}, ProgramIDs: []string{"prog1"}}
	sr := buildSubscribeRequest(req, 12345)

	if sr.FromSlot == nil || *sr.FromSlot != 12345 {
		t.Fatalf("expected FromSlot to be set to 12345, got %v", sr.FromSlot)
	}
	filter, ok := sr.Accounts["pumpfun_core"]
	if !ok {
		t.Fatal("expected an accounts filter keyed pumpfun_core")
	}
	if len(filter.Account) != 1 || filter.Account[0] != "acc1" {
		t.Fatalf("unexpected account filter: %+v", filter.Account)
	}
}

func TestBuildSubscribeRequestOmitsFromSlotWhenZero(t *testing.T) {
	sr := buildSubscribeRequest(domain.StreamSubscription{}, 0)
	if sr.FromSlot != nil {
		t.Fatalf("expected FromSlot to be nil, got %v", *sr.FromSlot)
	}
}

func TestToStreamFramePing(t *testing.T) {
	update := &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Ping{Ping: &pb.SubscribeUpdatePing{}},
	}
	frame, ok := toStreamFrame(update)
	if !ok || frame.Kind != "ping" {
		t.Fatalf("expected ping frame, got %+v ok=%v", frame, ok)
	}
}

func TestToStreamFrameUnrecognizedReturnsFalse(t *testing.T) {
	update := &pb.SubscribeUpdate{}
	_, ok := toStreamFrame(update)
	if ok {
		t.Fatal("expected empty update to not map to a frame")
	}
}
