package main

import (
	"crypto/tls"
	"errors"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/rpc/legacyrpc"
	"github.com/czh0526/btc-walletd/rpc/rpcserver"
	"github.com/czh0526/btc-walletd/wallet"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// openRPCKeyPair creates or loads the RPC TLS keypair specified by the
// application config.
func openRPCKeyPair(cfg *config) (tls.Certificate, error) {
	// Check for existence of the TLS key file. If one is not found,
	// generate a new keypair.
	_, e := os.Stat(cfg.RPCKey)
	keyExists := !os.IsNotExist(e)

	switch {
	case !keyExists:
		return generateRPCKeyPair(cfg.RPCCert, cfg.RPCKey)
	default:
		return tls.LoadX509KeyPair(cfg.RPCCert, cfg.RPCKey)
	}
}

// generateRPCKeyPair generates a new RPC TLS keypair and writes the cert
// and key in PEM format to the paths specified by the config.
func generateRPCKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	log.Infof("Generating TLS certificates...")

	// Create directories for cert and key files if they do not yet exist.
	certDir, _ := filepath.Split(certFile)
	keyDir, _ := filepath.Split(keyFile)
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return tls.Certificate{}, err
	}

	// Generate cert pair.
	org := "btcwalletd autogenerated cert"
	validUntil := time.Now().Add(time.Hour * 24 * 365 * 10)
	cert, key, err := btcutil.NewTLSCertPair(org, validUntil, nil)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	if err := os.WriteFile(certFile, cert, 0644); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(keyFile, key, 0600); err != nil {
		_ = os.Remove(certFile)
		return tls.Certificate{}, err
	}

	log.Infof("Done generating TLS certificates")
	return keyPair, nil
}

// makeListeners splits the normalized listen addresses into IPv4 and IPv6
// addresses and creates new net.Listeners for each with the passed listen
// func. Invalid addresses are logged and skipped.
func makeListeners(normalizedListenAddrs []string, listen func(string, string) (net.Listener, error)) []net.Listener {
	ipv4Addrs := make([]string, 0, len(normalizedListenAddrs)*2)
	ipv6Addrs := make([]string, 0, len(normalizedListenAddrs)*2)
	for _, addr := range normalizedListenAddrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			log.Errorf("`%s` is not a normalized listener address", addr)
			continue
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || host == "*" {
			ipv4Addrs = append(ipv4Addrs, addr)
			ipv6Addrs = append(ipv6Addrs, addr)
			continue
		}

		// Remove the IPv6 zone from the host, if present. The zone
		// prevents ParseIP from correctly parsing the IP address.
		// ResolveIPAddr is intentionally not used here due to the
		// possibility of leaking a DNS query over Tor if the host is a
		// hostname and not an IP address.
		zoneIndex := len(host)
		for i := range host {
			if host[i] == '%' {
				zoneIndex = i
				break
			}
		}

		ip := net.ParseIP(host[:zoneIndex])
		switch {
		case ip == nil:
			if host == "localhost" {
				ipv4Addrs = append(ipv4Addrs, addr)
				ipv6Addrs = append(ipv6Addrs, addr)
				continue
			}
			log.Warnf("`%s` is not a valid IP address", host)
		case ip.To4() == nil:
			ipv6Addrs = append(ipv6Addrs, addr)
		default:
			ipv4Addrs = append(ipv4Addrs, addr)
		}
	}
	listeners := make([]net.Listener, 0, len(ipv6Addrs)+len(ipv4Addrs))
	for _, addr := range ipv4Addrs {
		listener, err := listen("tcp4", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	for _, addr := range ipv6Addrs {
		listener, err := listen("tcp6", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	return listeners
}

// rpcServers are the running RPC servers. Either may be nil.
type rpcServers struct {
	grpc   *grpc.Server
	legacy *legacyrpc.Server
}

// Stop stops every running server.
func (s *rpcServers) Stop() {
	if s.legacy != nil {
		log.Warnf("Stopping legacy RPC server...")
		s.legacy.Stop()
		log.Infof("Legacy RPC server shutdown")
	}
	if s.grpc != nil {
		log.Warnf("Stopping gRPC server...")
		s.grpc.Stop()
		log.Infof("gRPC server shutdown")
	}
}

// startRPCServers starts the JSON-RPC server serving table and, unless
// disabled, the gRPC wallet loader and wallet services backed by loader.
// A nil loader leaves the gRPC server off.
func startRPCServers(cfg *config, table *legacyrpc.Table, loader *wallet.Loader) (*rpcServers, error) {
	var (
		servers   rpcServers
		keyPair   tls.Certificate
		err       error
		listen    = net.Listen
		grpcOpts  []grpc.ServerOption
		tlsConfig *tls.Config
	)
	if !cfg.DisableServerTLS {
		keyPair, err = openRPCKeyPair(cfg)
		if err != nil {
			return nil, err
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{keyPair},
			MinVersion:   tls.VersionTLS12,
		}
		listen = func(network, addr string) (net.Listener, error) {
			return tls.Listen(network, addr, tlsConfig)
		}
		grpcOpts = append(grpcOpts,
			grpc.Creds(credentials.NewTLS(tlsConfig)))
	} else {
		log.Infof("Server TLS is disabled")
	}

	if !cfg.DisableGRPC && loader != nil {
		// gRPC does its own TLS through the server option.
		listeners := makeListeners(cfg.GRPCListeners, net.Listen)
		if len(listeners) == 0 {
			return nil, errors.New("failed to create listeners for gRPC server")
		}
		server := grpc.NewServer(grpcOpts...)
		rpcserver.StartWalletLoaderService(server, loader, cfg.activeNet)
		rpcserver.StartWalletService(server, loader)
		for _, lis := range listeners {
			lis := lis
			go func() {
				log.Infof("gRPC server listening on %s", lis.Addr())
				err := server.Serve(lis)
				log.Tracef("Finished serving gRPC: %v", err)
			}()
		}
		servers.grpc = server
	}

	if cfg.Username == "" || cfg.Password == "" {
		log.Infof("Legacy RPC server disabled (requires username and password)")
	} else {
		listeners := makeListeners(cfg.LegacyRPCListeners, listen)
		if len(listeners) == 0 {
			servers.Stop()
			return nil, errors.New("failed to create listeners for " +
				"legacy RPC server")
		}
		opts := legacyrpc.Options{
			Username:       cfg.Username,
			Password:       cfg.Password,
			MaxPOSTClients: cfg.LegacyRPCMaxClients,
		}
		servers.legacy = legacyrpc.NewServer(&opts, table, listeners)
	}

	return &servers, nil
}
