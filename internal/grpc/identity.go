package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"semaphore/auth-core/internal/model"
	"semaphore/auth-core/internal/repository"
)

// IdentityServiceName is the fully-qualified name other services dial.
const IdentityServiceName = "semaphore.auth.v1.IdentityQuery"

const (
	methodGetUser    = "/" + IdentityServiceName + "/GetUser"
	methodExists     = "/" + IdentityServiceName + "/Exists"
	methodIntrospect = "/" + IdentityServiceName + "/Introspect"
)

// IdentityQueryServer answers read-only identity questions from sibling
// services. Requests carry a user id or an access token as a StringValue.
type IdentityQueryServer interface {
	GetUser(ctx context.Context, userID *wrapperspb.StringValue) (*structpb.Struct, error)
	Exists(ctx context.Context, userID *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	Introspect(ctx context.Context, accessToken *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// AccessVerifier is the slice of *auth.Codec the introspection needs.
type AccessVerifier interface {
	SubjectIfAccess(tokenString string) (string, bool)
}

type IdentityServer struct {
	store    repository.Store
	verifier AccessVerifier
}

func NewIdentityServer(store repository.Store, verifier AccessVerifier) *IdentityServer {
	return &IdentityServer{store: store, verifier: verifier}
}

// GetUser reads the system of record so callers gating on is_active never
// see a cached copy.
func (s *IdentityServer) GetUser(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id required")
	}
	user, err := s.store.GetByIDFresh(ctx, req.GetValue())
	if err != nil {
		return nil, lookupStatus(err)
	}
	out, err := userStruct(user)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode failed")
	}
	return out, nil
}

func (s *IdentityServer) Exists(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id required")
	}
	_, err := s.store.GetByID(ctx, req.GetValue())
	switch {
	case err == nil:
		return wrapperspb.Bool(true), nil
	case errors.Is(err, repository.ErrNotFound):
		return wrapperspb.Bool(false), nil
	default:
		return nil, status.Error(codes.Internal, "lookup failed")
	}
}

// Introspect returns the subject of a valid access token whose account is
// still active.
func (s *IdentityServer) Introspect(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	subject, ok := s.verifier.SubjectIfAccess(req.GetValue())
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid_token")
	}
	user, err := s.store.GetByIDFresh(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.Error(codes.Unauthenticated, "invalid_token")
		}
		return nil, status.Error(codes.Internal, "lookup failed")
	}
	if !user.IsActive {
		return nil, status.Error(codes.Unauthenticated, "account_deactivated")
	}
	return wrapperspb.String(subject), nil
}

func lookupStatus(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return status.Error(codes.NotFound, "user not found")
	}
	return status.Error(codes.Internal, "lookup failed")
}

func userStruct(user model.User) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"id":         user.ID,
		"email":      nil,
		"phone":      nil,
		"role":       string(user.Role),
		"is_active":  user.IsActive,
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": nil,
	}
	if user.Email != nil {
		fields["email"] = *user.Email
	}
	if user.Phone != nil {
		fields["phone"] = *user.Phone
	}
	if user.UpdatedAt != nil {
		fields["updated_at"] = user.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

func registerIdentityQueryServer(registrar grpc.ServiceRegistrar, srv IdentityQueryServer) {
	registrar.RegisterService(&identityQueryServiceDesc, srv)
}

var identityQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: IdentityServiceName,
	HandlerType: (*IdentityQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetUser", Handler: getUserHandler},
		{MethodName: "Exists", Handler: existsHandler},
		{MethodName: "Introspect", Handler: introspectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "semaphore/auth/v1/identity.proto",
}

func getUserHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityQueryServer).GetUser(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetUser}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IdentityQueryServer).GetUser(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func existsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityQueryServer).Exists(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodExists}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IdentityQueryServer).Exists(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func introspectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityQueryServer).Introspect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodIntrospect}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IdentityQueryServer).Introspect(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
