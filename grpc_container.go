// grpc_container.go: Container client and server over gRPC
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	moduleContainerService = "goextensions.v1.ModuleContainer"
	moduleContainerGet     = "/" + moduleContainerService + "/Get"
	moduleRequestField     = "module"
)

// GRPCContainerConfig configures a GRPCContainer.
type GRPCContainerConfig struct {
	Endpoint       string        `json:"endpoint" yaml:"endpoint"`
	TLS            bool          `json:"tls" yaml:"tls"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	MaxMessageSize int           `json:"max_message_size" yaml:"max_message_size"`

	// DialOptions are appended to the defaults; tests use them to inject a
	// bufconn dialer.
	DialOptions []grpc.DialOption `json:"-" yaml:"-"`
}

// GRPCContainer fetches modules from a ModuleContainer service. Requests and
// modules travel as google.protobuf.Struct, so exports are plain data.
type GRPCContainer struct {
	config GRPCContainerConfig
	conn   *grpc.ClientConn
}

// NewGRPCContainer creates the client connection. The connection is
// established lazily by gRPC on first use.
func NewGRPCContainer(config GRPCContainerConfig) (*GRPCContainer, error) {
	if config.Endpoint == "" {
		return nil, NewConfigValidationError("grpc container endpoint is required", nil)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 4 * 1024 * 1024
	}

	var opts []grpc.DialOption
	if config.TLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
		grpc.MaxCallSendMsgSize(config.MaxMessageSize),
	))
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc container client: %w", err)
	}
	return &GRPCContainer{config: config, conn: conn}, nil
}

// Get implements Container
func (c *GRPCContainer) Get(ctx context.Context, module string) (Module, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]interface{}{moduleRequestField: module})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, moduleContainerGet, req, resp); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil, NewModuleNotFoundError(module)
		}
		return nil, fmt.Errorf("grpc module request failed: %w", err)
	}
	return Module(resp.AsMap()), nil
}

// Close releases the client connection.
func (c *GRPCContainer) Close() error {
	return c.conn.Close()
}

// moduleContainerServer is the handler type for the service descriptor.
type moduleContainerServer interface {
	Get(ctx context.Context, module string) (Module, error)
}

// RegisterModuleContainerServer exposes c as a ModuleContainer service on s.
// Module values must be representable as google.protobuf.Value.
func RegisterModuleContainerServer(s grpc.ServiceRegistrar, c Container) {
	s.RegisterService(&moduleContainerServiceDesc, c)
}

var moduleContainerServiceDesc = grpc.ServiceDesc{
	ServiceName: moduleContainerService,
	HandlerType: (*moduleContainerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler:    moduleContainerGetHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "goextensions/v1/module_container.proto",
}

func moduleContainerGetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return serveModule(ctx, srv.(Container), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: moduleContainerGet}
	return interceptor(ctx, in, info, handler)
}

func serveModule(ctx context.Context, c Container, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()[moduleRequestField].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "module name is required")
	}

	mod, err := c.Get(ctx, name)
	if err != nil {
		if hasCode(err, ErrCodeModuleNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	out, err := structpb.NewStruct(map[string]interface{}(mod))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "module %s is not serializable: %v", name, err)
	}
	return out, nil
}
