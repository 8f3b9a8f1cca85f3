package control

import (
	"context"
	"errors"

	"github.com/inovacc/inboxd/internal/model"
	"github.com/inovacc/inboxd/internal/store"
	"github.com/inovacc/inboxd/internal/syncer"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "inboxd.v1.SyncControl"

const (
	methodSyncNow     = "/" + ServiceName + "/SyncNow"
	methodSyncAccount = "/" + ServiceName + "/SyncAccount"
)

// Syncer is the engine surface served to clients. *syncer.Engine and
// *Client both satisfy it.
type Syncer interface {
	SyncNow(ctx context.Context) (*syncer.Report, error)
	SyncAccount(ctx context.Context, email string) (model.AccountSyncInfo, error)
}

type SyncRequest struct{}

type SyncAccountRequest struct {
	Email string `json:"email"`
}

// SyncReply carries a result and the engine error returned with it. A cycle
// cut short has both.
type SyncReply struct {
	Report *syncer.Report         `json:"report,omitempty"`
	Result *model.AccountSyncInfo `json:"result,omitempty"`
	Error  *RemoteError           `json:"error,omitempty"`
}

// Error kinds that map back to local sentinels.
const (
	KindThrottled = "throttled"
	KindNetwork   = "network"
	KindNotFound  = "not_found"
	KindCanceled  = "canceled"
	KindDeadline  = "deadline"
)

// kindErrors is checked in order; the first matching sentinel wins.
var kindErrors = []struct {
	kind string
	err  error
}{
	{KindThrottled, syncer.ErrThrottled},
	{KindNetwork, syncer.ErrNetworkUnavailable},
	{KindNotFound, store.ErrAccountNotFound},
	{KindCanceled, context.Canceled},
	{KindDeadline, context.DeadlineExceeded},
}

// RemoteError is an engine error returned by the daemon. errors.Is matches
// the sentinel named by Kind.
type RemoteError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	for _, k := range kindErrors {
		if k.kind == e.Kind {
			return k.err
		}
	}

	return nil
}

func (e *RemoteError) err() error {
	if e == nil {
		return nil
	}

	return e
}

func toRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}

	remote := &RemoteError{Message: err.Error()}

	for _, k := range kindErrors {
		if errors.Is(err, k.err) {
			remote.Kind = k.kind
			break
		}
	}

	return remote
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Syncer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SyncNow", Handler: syncNowHandler},
		{MethodName: "SyncAccount", Handler: syncAccountHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inboxd/control",
}

func syncNowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	call := func(ctx context.Context, _ any) (any, error) {
		report, err := srv.(Syncer).SyncNow(ctx)
		return &SyncReply{Report: report, Error: toRemoteError(err)}, nil
	}

	if interceptor == nil {
		return call(ctx, in)
	}

	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSyncNow}, call)
}

func syncAccountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncAccountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	call := func(ctx context.Context, req any) (any, error) {
		info, err := srv.(Syncer).SyncAccount(ctx, req.(*SyncAccountRequest).Email)
		return &SyncReply{Result: &info, Error: toRemoteError(err)}, nil
	}

	if interceptor == nil {
		return call(ctx, in)
	}

	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSyncAccount}, call)
}
