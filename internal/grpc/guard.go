package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"schoolhub/internal/tenant"
)

const (
	guardServiceName        = "schoolhub.tenant.v1.TenantGuard"
	validateResourceMethod  = "ValidateResource"
	validateResourceFullRPC = "/" + guardServiceName + "/" + validateResourceMethod
)

// Validator is the part of *tenant.Guard exposed over gRPC.
type Validator interface {
	ValidateResource(ctx context.Context, table, resourceID, tenantID string) tenant.Decision
}

// TenantGuardServer answers resource ownership checks for sibling services.
// Requests and responses are google.protobuf.Struct values:
//
//	in:  {"table": "...", "resource_id": "...", "tenant_id": "..."}
//	out: {"allowed": bool, "outcome": "authorized|denied|failed", "reason": "..."}
type TenantGuardServer interface {
	ValidateResource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type GuardServer struct {
	guard Validator
}

func NewGuardServer(guard Validator) *GuardServer {
	return &GuardServer{guard: guard}
}

func (s *GuardServer) ValidateResource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	table := stringField(req, "table")
	resourceID := stringField(req, "resource_id")
	tenantID := stringField(req, "tenant_id")
	if table == "" || resourceID == "" || tenantID == "" {
		return nil, status.Error(codes.InvalidArgument, "table, resource_id and tenant_id required")
	}

	decision := s.guard.ValidateResource(ctx, table, resourceID, tenantID)
	return structpb.NewStruct(map[string]interface{}{
		"allowed": decision.Allowed(),
		"outcome": decision.Outcome.String(),
		"reason":  decision.Reason,
	})
}

func RegisterTenantGuardServer(s grpc.ServiceRegistrar, srv TenantGuardServer) {
	s.RegisterService(&TenantGuardServiceDesc, srv)
}

var TenantGuardServiceDesc = grpc.ServiceDesc{
	ServiceName: guardServiceName,
	HandlerType: (*TenantGuardServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: validateResourceMethod,
			Handler:    validateResourceHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "schoolhub/tenant/v1/guard.proto",
}

func validateResourceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TenantGuardServer).ValidateResource(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: validateResourceFullRPC,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TenantGuardServer).ValidateResource(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
