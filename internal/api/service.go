package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "directchat.v1.DirectChat"

	SignInFullMethodName              = "/directchat.v1.DirectChat/SignIn"
	ResolveConversationFullMethodName = "/directchat.v1.DirectChat/ResolveConversation"
	SendMessageFullMethodName         = "/directchat.v1.DirectChat/SendMessage"
	WatchUsersFullMethodName          = "/directchat.v1.DirectChat/WatchUsers"
	WatchMessagesFullMethodName       = "/directchat.v1.DirectChat/WatchMessages"
	SessionFullMethodName             = "/directchat.v1.DirectChat/Session"
)

// DirectChatServer is the server API for the DirectChat service.
type DirectChatServer interface {
	// SignIn exchanges an identity provider ID token for a session token.
	SignIn(context.Context, *SignInRequest) (*SignInResponse, error)
	// ResolveConversation returns the shared conversation id with a peer,
	// creating the conversation record if needed.
	ResolveConversation(context.Context, *ResolveRequest) (*ResolveResponse, error)
	SendMessage(context.Context, *SendRequest) (*SendResponse, error)
	// WatchUsers streams the roster, without the caller, on every change.
	WatchUsers(*WatchUsersRequest, grpc.ServerStreamingServer[UsersSnapshot]) error
	// WatchMessages streams the most recent messages of a conversation.
	WatchMessages(*WatchMessagesRequest, grpc.ServerStreamingServer[MessagesSnapshot]) error
	// Session drives a full chat client: commands in, views out.
	Session(grpc.BidiStreamingServer[Command, View]) error
}

func RegisterDirectChatServer(s grpc.ServiceRegistrar, srv DirectChatServer) {
	s.RegisterService(&DirectChat_ServiceDesc, srv)
}

func _DirectChat_SignIn_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SignInRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DirectChatServer).SignIn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SignInFullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DirectChatServer).SignIn(ctx, req.(*SignInRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DirectChat_ResolveConversation_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ResolveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DirectChatServer).ResolveConversation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ResolveConversationFullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DirectChatServer).ResolveConversation(ctx, req.(*ResolveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DirectChat_SendMessage_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DirectChatServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendMessageFullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DirectChatServer).SendMessage(ctx, req.(*SendRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DirectChat_WatchUsers_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchUsersRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DirectChatServer).WatchUsers(m, &grpc.GenericServerStream[WatchUsersRequest, UsersSnapshot]{ServerStream: stream})
}

func _DirectChat_WatchMessages_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchMessagesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DirectChatServer).WatchMessages(m, &grpc.GenericServerStream[WatchMessagesRequest, MessagesSnapshot]{ServerStream: stream})
}

func _DirectChat_Session_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DirectChatServer).Session(&grpc.GenericServerStream[Command, View]{ServerStream: stream})
}

// DirectChat_ServiceDesc is the grpc.ServiceDesc for the DirectChat service.
var DirectChat_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DirectChatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignIn", Handler: _DirectChat_SignIn_Handler},
		{MethodName: "ResolveConversation", Handler: _DirectChat_ResolveConversation_Handler},
		{MethodName: "SendMessage", Handler: _DirectChat_SendMessage_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchUsers", Handler: _DirectChat_WatchUsers_Handler, ServerStreams: true},
		{StreamName: "WatchMessages", Handler: _DirectChat_WatchMessages_Handler, ServerStreams: true},
		{StreamName: "Session", Handler: _DirectChat_Session_Handler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "directchat/v1/directchat",
}
