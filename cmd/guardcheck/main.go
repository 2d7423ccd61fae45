package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"google.golang.org/grpc"

	"schoolhub/internal/config"
	guardgrpc "schoolhub/internal/grpc"
	"schoolhub/internal/logs"
)

// guardcheck asks a running server whether a resource belongs to a tenant.
// Exit status is 0 when authorized, 1 when denied and 2 on usage or transport errors.
func main() {
	cfg := config.Load()
	logs.Init(logs.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	os.Exit(run(context.Background(), cfg, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer, opts ...grpc.DialOption) int {
	fs := flag.NewFlagSet("guardcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", cfg.GRPCAddr, "guard service address")
	table := fs.String("table", "", "resource table")
	resourceID := fs.String("id", "", "resource id")
	tenantID := fs.String("tenant", "", "tenant id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *table == "" || *resourceID == "" || *tenantID == "" {
		fmt.Fprintln(stderr, "usage: guardcheck -table T -id ID -tenant TENANT [-addr HOST:PORT]")
		return 2
	}

	allowed, outcome, err := check(ctx, cfg, *addr, *table, *resourceID, *tenantID, opts...)
	if err != nil {
		logs.Logger.WithError(err).WithField("addr", *addr).Error("guard check failed")
		return 2
	}
	fmt.Fprintf(stdout, "%s %s/%s tenant=%s\n", outcome, *table, *resourceID, *tenantID)
	if !allowed {
		return 1
	}
	return 0
}

func check(ctx context.Context, cfg config.Config, addr, table, resourceID, tenantID string, opts ...grpc.DialOption) (bool, string, error) {
	if cfg.ServiceAuthToken == "" {
		return false, "", errors.New("SERVICE_AUTH_TOKEN not set")
	}
	conn, err := guardgrpc.Dial(ctx, addr, cfg.GRPCDialTimeout, opts...)
	if err != nil {
		return false, "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	return guardgrpc.NewGuardClient(conn, cfg.ServiceAuthToken).ValidateResource(ctx, table, resourceID, tenantID)
}
