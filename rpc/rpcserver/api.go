package rpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// Messages of the WalletLoaderService.
type (
	CreateWalletRequest struct {
		PrivatePassphrase []byte `json:"private_passphrase"`
		Seed              []byte `json:"seed,omitempty"`
	}
	CreateWalletResponse struct{}

	OpenWalletRequest  struct{}
	OpenWalletResponse struct{}

	WalletExistsRequest  struct{}
	WalletExistsResponse struct {
		Exists bool `json:"exists"`
	}

	CloseWalletRequest  struct{}
	CloseWalletResponse struct{}
)

// Messages of the WalletService.
type (
	PingRequest  struct{}
	PingResponse struct{}

	NetworkRequest  struct{}
	NetworkResponse struct {
		ActiveNetwork uint32 `json:"active_network"`
	}

	BalanceRequest struct {
		Account               string `json:"account"`
		RequiredConfirmations int32  `json:"required_confirmations"`
	}
	BalanceResponse struct {
		Total       int64 `json:"total"`
		Spendable   int64 `json:"spendable"`
		Unconfirmed int64 `json:"unconfirmed"`
		Immature    int64 `json:"immature"`
	}

	NextAddressRequest struct {
		Account string `json:"account"`
		Change  bool   `json:"change"`
	}
	NextAddressResponse struct {
		Address string `json:"address"`
	}
)

// WalletLoaderServer is the server API for WalletLoaderService.
type WalletLoaderServer interface {
	CreateWallet(context.Context, *CreateWalletRequest) (*CreateWalletResponse, error)
	OpenWallet(context.Context, *OpenWalletRequest) (*OpenWalletResponse, error)
	WalletExists(context.Context, *WalletExistsRequest) (*WalletExistsResponse, error)
	CloseWallet(context.Context, *CloseWalletRequest) (*CloseWalletResponse, error)
}

// WalletServer is the server API for WalletService.
type WalletServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Network(context.Context, *NetworkRequest) (*NetworkResponse, error)
	Balance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	NextAddress(context.Context, *NextAddressRequest) (*NextAddressResponse, error)
}

const (
	loaderServiceName = "walletrpc.WalletLoaderService"
	walletServiceName = "walletrpc.WalletService"
)

// methodHandler is the handler signature of a grpc.MethodDesc.
type methodHandler = func(srv interface{}, ctx context.Context,
	dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

// unaryHandler adapts a typed method of a service implementation to a
// grpc.MethodDesc handler.
func unaryHandler[S any, Req any, Resp any](fullMethod string,
	call func(S, context.Context, *Req) (*Resp, error)) methodHandler {

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func loaderMethod[Req any, Resp any](name string,
	call func(WalletLoaderServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {

	return grpc.MethodDesc{
		MethodName: name,
		Handler:    unaryHandler("/"+loaderServiceName+"/"+name, call),
	}
}

func walletMethod[Req any, Resp any](name string,
	call func(WalletServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {

	return grpc.MethodDesc{
		MethodName: name,
		Handler:    unaryHandler("/"+walletServiceName+"/"+name, call),
	}
}

var walletLoaderServiceDesc = grpc.ServiceDesc{
	ServiceName: loaderServiceName,
	HandlerType: (*WalletLoaderServer)(nil),
	Methods: []grpc.MethodDesc{
		loaderMethod("CreateWallet", WalletLoaderServer.CreateWallet),
		loaderMethod("OpenWallet", WalletLoaderServer.OpenWallet),
		loaderMethod("WalletExists", WalletLoaderServer.WalletExists),
		loaderMethod("CloseWallet", WalletLoaderServer.CloseWallet),
	},
}

var walletServiceDesc = grpc.ServiceDesc{
	ServiceName: walletServiceName,
	HandlerType: (*WalletServer)(nil),
	Methods: []grpc.MethodDesc{
		walletMethod("Ping", WalletServer.Ping),
		walletMethod("Network", WalletServer.Network),
		walletMethod("Balance", WalletServer.Balance),
		walletMethod("NextAddress", WalletServer.NextAddress),
	},
}

// WalletLoaderClient calls a WalletLoaderService.
type WalletLoaderClient struct {
	cc grpc.ClientConnInterface
}

// NewWalletLoaderClient returns a client using cc.
func NewWalletLoaderClient(cc grpc.ClientConnInterface) *WalletLoaderClient {
	return &WalletLoaderClient{cc}
}

func invoke(ctx context.Context, cc grpc.ClientConnInterface, method string,
	in, out interface{}, opts ...grpc.CallOption) error {

	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return cc.Invoke(ctx, method, in, out, opts...)
}

func (c *WalletLoaderClient) CreateWallet(ctx context.Context, in *CreateWalletRequest,
	opts ...grpc.CallOption) (*CreateWalletResponse, error) {

	out := new(CreateWalletResponse)
	err := invoke(ctx, c.cc, "/"+loaderServiceName+"/CreateWallet", in, out, opts...)
	return out, err
}

func (c *WalletLoaderClient) OpenWallet(ctx context.Context, in *OpenWalletRequest,
	opts ...grpc.CallOption) (*OpenWalletResponse, error) {

	out := new(OpenWalletResponse)
	err := invoke(ctx, c.cc, "/"+loaderServiceName+"/OpenWallet", in, out, opts...)
	return out, err
}

func (c *WalletLoaderClient) WalletExists(ctx context.Context, in *WalletExistsRequest,
	opts ...grpc.CallOption) (*WalletExistsResponse, error) {

	out := new(WalletExistsResponse)
	err := invoke(ctx, c.cc, "/"+loaderServiceName+"/WalletExists", in, out, opts...)
	return out, err
}

func (c *WalletLoaderClient) CloseWallet(ctx context.Context, in *CloseWalletRequest,
	opts ...grpc.CallOption) (*CloseWalletResponse, error) {

	out := new(CloseWalletResponse)
	err := invoke(ctx, c.cc, "/"+loaderServiceName+"/CloseWallet", in, out, opts...)
	return out, err
}

// WalletClient calls a WalletService.
type WalletClient struct {
	cc grpc.ClientConnInterface
}

// NewWalletClient returns a client using cc.
func NewWalletClient(cc grpc.ClientConnInterface) *WalletClient {
	return &WalletClient{cc}
}

func (c *WalletClient) Ping(ctx context.Context, in *PingRequest,
	opts ...grpc.CallOption) (*PingResponse, error) {

	out := new(PingResponse)
	err := invoke(ctx, c.cc, "/"+walletServiceName+"/Ping", in, out, opts...)
	return out, err
}

func (c *WalletClient) Network(ctx context.Context, in *NetworkRequest,
	opts ...grpc.CallOption) (*NetworkResponse, error) {

	out := new(NetworkResponse)
	err := invoke(ctx, c.cc, "/"+walletServiceName+"/Network", in, out, opts...)
	return out, err
}

func (c *WalletClient) Balance(ctx context.Context, in *BalanceRequest,
	opts ...grpc.CallOption) (*BalanceResponse, error) {

	out := new(BalanceResponse)
	err := invoke(ctx, c.cc, "/"+walletServiceName+"/Balance", in, out, opts...)
	return out, err
}

func (c *WalletClient) NextAddress(ctx context.Context, in *NextAddressRequest,
	opts ...grpc.CallOption) (*NextAddressResponse, error) {

	out := new(NextAddressResponse)
	err := invoke(ctx, c.cc, "/"+walletServiceName+"/NextAddress", in, out, opts...)
	return out, err
}
