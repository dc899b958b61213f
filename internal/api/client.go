package api

import (
	"context"

	"google.golang.org/grpc"
)

// DirectChatClient is the client API for the DirectChat service. Calls use
// the json content subtype.
type DirectChatClient interface {
	SignIn(ctx context.Context, in *SignInRequest, opts ...grpc.CallOption) (*SignInResponse, error)
	ResolveConversation(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error)
	SendMessage(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error)
	WatchUsers(ctx context.Context, in *WatchUsersRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[UsersSnapshot], error)
	WatchMessages(ctx context.Context, in *WatchMessagesRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[MessagesSnapshot], error)
	Session(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Command, View], error)
}

type directChatClient struct {
	cc grpc.ClientConnInterface
}

func NewDirectChatClient(cc grpc.ClientConnInterface) DirectChatClient {
	return &directChatClient{cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *directChatClient) SignIn(ctx context.Context, in *SignInRequest, opts ...grpc.CallOption) (*SignInResponse, error) {
	out := new(SignInResponse)
	if err := c.cc.Invoke(ctx, SignInFullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *directChatClient) ResolveConversation(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error) {
	out := new(ResolveResponse)
	if err := c.cc.Invoke(ctx, ResolveConversationFullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *directChatClient) SendMessage(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error) {
	out := new(SendResponse)
	if err := c.cc.Invoke(ctx, SendMessageFullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *directChatClient) WatchUsers(ctx context.Context, in *WatchUsersRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[UsersSnapshot], error) {
	stream, err := c.cc.NewStream(ctx, &DirectChat_ServiceDesc.Streams[0], WatchUsersFullMethodName, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchUsersRequest, UsersSnapshot]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *directChatClient) WatchMessages(ctx context.Context, in *WatchMessagesRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[MessagesSnapshot], error) {
	stream, err := c.cc.NewStream(ctx, &DirectChat_ServiceDesc.Streams[1], WatchMessagesFullMethodName, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchMessagesRequest, MessagesSnapshot]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *directChatClient) Session(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Command, View], error) {
	stream, err := c.cc.NewStream(ctx, &DirectChat_ServiceDesc.Streams[2], SessionFullMethodName, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[Command, View]{ClientStream: stream}, nil
}
