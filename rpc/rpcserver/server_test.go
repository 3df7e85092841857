package rpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/netparams"
	"github.com/czh0526/btc-walletd/wallet"
	"github.com/czh0526/btc-walletd/walletdb"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var testNet = &netparams.RegressionNetParams

func startServices(t *testing.T, opts ...grpc.ServerOption) (*WalletLoaderClient, *WalletClient, *wallet.Loader) {
	t.Helper()

	cfg := wallet.DefaultConfig()
	cfg.KeyPoolSize = 3
	cfg.ScryptOptions = wallet.FastScryptOptions
	loader := wallet.NewLoader(testNet.Params, t.TempDir(), "", true,
		time.Second, false, cfg)
	t.Cleanup(func() { _ = loader.UnloadWallet() })

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(opts...)
	StartWalletLoaderService(server, loader, testNet)
	StartWalletService(server, loader)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewWalletLoaderClient(conn), NewWalletClient(conn), loader
}

func requireCode(t *testing.T, code codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, status.Code(err), err.Error())
}

func TestLoaderService(t *testing.T) {
	loaderClient, _, loader := startServices(t)
	ctx := context.Background()

	exists, err := loaderClient.WalletExists(ctx, &WalletExistsRequest{})
	require.NoError(t, err)
	require.False(t, exists.Exists)

	_, err = loaderClient.OpenWallet(ctx, &OpenWalletRequest{})
	requireCode(t, codes.NotFound, err)

	_, err = loaderClient.CreateWallet(ctx, &CreateWalletRequest{})
	requireCode(t, codes.InvalidArgument, err)

	_, err = loaderClient.CreateWallet(ctx, &CreateWalletRequest{
		PrivatePassphrase: []byte("secret"),
	})
	require.NoError(t, err)
	w, ok := loader.LoadedWallet()
	require.True(t, ok)
	require.True(t, w.IsEncrypted())

	_, err = loaderClient.CreateWallet(ctx, &CreateWalletRequest{
		PrivatePassphrase: []byte("secret"),
	})
	requireCode(t, codes.FailedPrecondition, err)

	_, err = loaderClient.OpenWallet(ctx, &OpenWalletRequest{})
	requireCode(t, codes.FailedPrecondition, err)

	_, err = loaderClient.CloseWallet(ctx, &CloseWalletRequest{})
	require.NoError(t, err)
	_, err = loaderClient.CloseWallet(ctx, &CloseWalletRequest{})
	requireCode(t, codes.FailedPrecondition, err)

	exists, err = loaderClient.WalletExists(ctx, &WalletExistsRequest{})
	require.NoError(t, err)
	require.True(t, exists.Exists)

	_, err = loaderClient.CreateWallet(ctx, &CreateWalletRequest{
		PrivatePassphrase: []byte("secret"),
	})
	requireCode(t, codes.AlreadyExists, err)

	_, err = loaderClient.OpenWallet(ctx, &OpenWalletRequest{})
	require.NoError(t, err)
	_, ok = loader.LoadedWallet()
	require.True(t, ok)
}

func TestWalletService(t *testing.T) {
	loaderClient, walletClient, loader := startServices(t)
	ctx := context.Background()

	_, err := walletClient.Ping(ctx, &PingRequest{})
	require.NoError(t, err)

	_, err = walletClient.Network(ctx, &NetworkRequest{})
	requireCode(t, codes.FailedPrecondition, err)
	_, err = walletClient.NextAddress(ctx, &NextAddressRequest{})
	requireCode(t, codes.FailedPrecondition, err)

	_, err = loaderClient.CreateWallet(ctx, &CreateWalletRequest{
		PrivatePassphrase: []byte("secret"),
	})
	require.NoError(t, err)

	network, err := walletClient.Network(ctx, &NetworkRequest{})
	require.NoError(t, err)
	require.Equal(t, uint32(testNet.Net), network.ActiveNetwork)

	next, err := walletClient.NextAddress(ctx, &NextAddressRequest{Account: "savings"})
	require.NoError(t, err)
	addr, err := btcutil.DecodeAddress(next.Address, testNet.Params)
	require.NoError(t, err)

	w, _ := loader.LoadedWallet()
	require.Equal(t, "savings", w.Account(addr))

	_, err = walletClient.NextAddress(ctx, &NextAddressRequest{Account: "*"})
	requireCode(t, codes.InvalidArgument, err)

	balance, err := walletClient.Balance(ctx, &BalanceRequest{Account: "*"})
	require.NoError(t, err)
	require.Zero(t, balance.Total)
	require.Zero(t, balance.Spendable)

	_, err = walletClient.Balance(ctx, &BalanceRequest{RequiredConfirmations: -1})
	requireCode(t, codes.InvalidArgument, err)
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{wallet.ErrExists, codes.AlreadyExists},
		{wallet.ErrLoaded, codes.FailedPrecondition},
		{wallet.ErrNotLoaded, codes.FailedPrecondition},
		{walletdb.ErrDbDoesNotExist, codes.NotFound},
		{wallet.Error{ErrorCode: wallet.ErrWrongPassphrase}, codes.InvalidArgument},
		{wallet.Error{ErrorCode: wallet.ErrLocked}, codes.FailedPrecondition},
		{errors.New("other"), codes.Unknown},
		{status.Error(codes.Aborted, "kept"), codes.Aborted},
	}
	for _, test := range tests {
		require.Equal(t, test.code, status.Code(translateError(test.err)), "%v", test.err)
	}
	require.NoError(t, translateError(nil))
}

func TestUnaryInterceptor(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	intercept := func(ctx context.Context, req interface{},
		info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

		mu.Lock()
		methods = append(methods, info.FullMethod)
		mu.Unlock()
		return handler(ctx, req)
	}
	loaderClient, walletClient, _ := startServices(t, grpc.UnaryInterceptor(intercept))
	ctx := context.Background()

	exists, err := loaderClient.WalletExists(ctx, &WalletExistsRequest{})
	require.NoError(t, err)
	require.False(t, exists.Exists)

	_, err = walletClient.Ping(ctx, &PingRequest{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"/walletrpc.WalletLoaderService/WalletExists",
		"/walletrpc.WalletService/Ping",
	}, methods)
}
