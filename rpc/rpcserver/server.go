// Package rpcserver implements the gRPC wallet loader and wallet services.
// Messages are plain Go structs spoken over the json content subtype.
package rpcserver

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/internal/zero"
	"github.com/czh0526/btc-walletd/netparams"
	"github.com/czh0526/btc-walletd/wallet"
	"github.com/czh0526/btc-walletd/walletdb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// translateError maps wallet errors onto gRPC status errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(errorCode(err), err.Error())
}

func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, wallet.ErrExists):
		return codes.AlreadyExists
	case errors.Is(err, wallet.ErrLoaded), errors.Is(err, wallet.ErrNotLoaded):
		return codes.FailedPrecondition
	case errors.Is(err, walletdb.ErrDbDoesNotExist):
		return codes.NotFound
	case wallet.IsError(err, wallet.ErrWrongPassphrase),
		wallet.IsError(err, wallet.ErrInvalidAccount),
		wallet.IsError(err, wallet.ErrInvalidAddress):
		return codes.InvalidArgument
	case wallet.IsError(err, wallet.ErrLocked),
		wallet.IsError(err, wallet.ErrKeypoolRanOut):
		return codes.FailedPrecondition
	default:
		return codes.Unknown
	}
}

type loaderServer struct {
	loader    *wallet.Loader
	activeNet *netparams.Params
}

// StartWalletLoaderService registers the loader service on server.
func StartWalletLoaderService(server *grpc.Server, loader *wallet.Loader,
	activeNet *netparams.Params) {

	server.RegisterService(&walletLoaderServiceDesc, &loaderServer{
		loader:    loader,
		activeNet: activeNet,
	})
}

func (s *loaderServer) CreateWallet(ctx context.Context, req *CreateWalletRequest) (
	*CreateWalletResponse, error) {

	defer func() {
		zero.Bytes(req.PrivatePassphrase)
		zero.Bytes(req.Seed)
	}()

	if len(req.PrivatePassphrase) == 0 {
		return nil, status.Error(codes.InvalidArgument,
			"private passphrase is required")
	}

	var seed []byte
	if len(req.Seed) != 0 {
		seed = req.Seed
	}
	_, err := s.loader.CreateNewWallet(seed, req.PrivatePassphrase, time.Now())
	if err != nil {
		return nil, translateError(err)
	}
	log.Infof("Created wallet for %s", s.activeNet.Name)
	return &CreateWalletResponse{}, nil
}

func (s *loaderServer) OpenWallet(ctx context.Context, req *OpenWalletRequest) (
	*OpenWalletResponse, error) {

	exists, err := s.loader.WalletExists()
	if err != nil {
		return nil, translateError(err)
	}
	if !exists {
		return nil, status.Error(codes.NotFound, "wallet does not exist")
	}
	if _, err := s.loader.OpenExistingWallet(); err != nil {
		return nil, translateError(err)
	}
	return &OpenWalletResponse{}, nil
}

func (s *loaderServer) WalletExists(ctx context.Context, req *WalletExistsRequest) (
	*WalletExistsResponse, error) {

	exists, err := s.loader.WalletExists()
	if err != nil {
		return nil, translateError(err)
	}
	return &WalletExistsResponse{Exists: exists}, nil
}

func (s *loaderServer) CloseWallet(ctx context.Context, req *CloseWalletRequest) (
	*CloseWalletResponse, error) {

	if err := s.loader.UnloadWallet(); err != nil {
		return nil, translateError(err)
	}
	return &CloseWalletResponse{}, nil
}

type walletServer struct {
	loader *wallet.Loader
}

// StartWalletService registers the wallet service on server. Each call is
// served by the wallet currently loaded by loader.
func StartWalletService(server *grpc.Server, loader *wallet.Loader) {
	server.RegisterService(&walletServiceDesc, &walletServer{loader: loader})
}

func (s *walletServer) wallet() (*wallet.Wallet, error) {
	w, ok := s.loader.LoadedWallet()
	if !ok {
		return nil, status.Error(codes.FailedPrecondition, "wallet not loaded")
	}
	return w, nil
}

func (s *walletServer) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return &PingResponse{}, nil
}

func (s *walletServer) Network(ctx context.Context, req *NetworkRequest) (
	*NetworkResponse, error) {

	w, err := s.wallet()
	if err != nil {
		return nil, err
	}
	return &NetworkResponse{ActiveNetwork: uint32(w.ChainParams().Net)}, nil
}

func (s *walletServer) Balance(ctx context.Context, req *BalanceRequest) (
	*BalanceResponse, error) {

	w, err := s.wallet()
	if err != nil {
		return nil, err
	}
	if req.RequiredConfirmations < 0 {
		return nil, status.Error(codes.InvalidArgument,
			"required_confirmations must be non-negative")
	}

	var spendable btcutil.Amount
	if req.Account == wallet.AllAccounts {
		spendable, err = w.Balance(req.RequiredConfirmations)
	} else {
		spendable, err = w.AccountBalance(req.Account, req.RequiredConfirmations)
	}
	if err != nil {
		return nil, translateError(err)
	}
	b, err := w.CalculateBalances()
	if err != nil {
		return nil, translateError(err)
	}
	return &BalanceResponse{
		Total:       int64(b.Trusted + b.Unconfirmed + b.Immature),
		Spendable:   int64(spendable),
		Unconfirmed: int64(b.Unconfirmed),
		Immature:    int64(b.Immature),
	}, nil
}

func (s *walletServer) NextAddress(ctx context.Context, req *NextAddressRequest) (
	*NextAddressResponse, error) {

	w, err := s.wallet()
	if err != nil {
		return nil, err
	}

	var addr btcutil.Address
	if req.Change {
		addr, err = w.NewChangeAddress()
	} else {
		addr, err = w.NewAddress(req.Account)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return &NextAddressResponse{Address: addr.EncodeAddress()}, nil
}
