package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// GuardClient calls a remote TenantGuard. Any transport error is returned to the caller,
// which must treat it as a denial.
type GuardClient struct {
	cc    grpc.ClientConnInterface
	token string
}

func NewGuardClient(cc grpc.ClientConnInterface, serviceToken string) *GuardClient {
	return &GuardClient{cc: cc, token: serviceToken}
}

// Dial blocks until the connection is ready or timeout elapses.
func Dial(ctx context.Context, addr string, timeout time.Duration, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	return grpc.DialContext(ctx, addr, opts...)
}

func (c *GuardClient) ValidateResource(ctx context.Context, table, resourceID, tenantID string) (bool, string, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"table":       table,
		"resource_id": resourceID,
		"tenant_id":   tenantID,
	})
	if err != nil {
		return false, "", err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, serviceTokenHeader, c.token)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, validateResourceFullRPC, in, out); err != nil {
		return false, "", err
	}
	return out.GetFields()["allowed"].GetBoolValue(), stringField(out, "outcome"), nil
}
