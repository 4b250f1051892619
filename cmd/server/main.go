// Command server is the network core's entry point: it loads
// configuration, stands up the UDP endpoint and client registry, and
// drives graceful shutdown.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"bedrock-netcore/internal/config"
	"bedrock-netcore/internal/endpoint"
	"bedrock-netcore/internal/logging"
	"bedrock-netcore/internal/registry"
	"bedrock-netcore/pkg/bedrock"
)

const version = "1.0.0"

func main() {
	logging.Banner("Bedrock RakNet Network Core", version)

	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	log := logging.Named("main")

	cfg, err := config.NewFileProvider(*configPath)
	if err != nil {
		log.Fatal("load configuration: %v", err)
	}
	defer cfg.Close()

	snap := cfg.Current()
	log.Info("listening on %s (max_connections=%d)", snap.ListenAddr4, snap.MaxConnections)

	serverGUID := randomGUID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The endpoint needs the registry as its dispatcher, and the registry
	// needs the endpoint's Send as its transmit primitive — broken by
	// having the registry call through a closure over ep, assigned once
	// endpoint.New returns.
	var ep *endpoint.Endpoint
	send := func(data []byte, addr *net.UDPAddr) error { return ep.Send(data, addr) }

	reg := registry.New(ctx, cfg, send, serverGUID, dispatchUpward)

	ep, err = endpoint.New(ctx, snap.ListenAddr4, reg)
	if err != nil {
		log.Fatal("create endpoint: %v", err)
	}

	go ep.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	log.Success("network core running")

	<-sigCh
	log.Warn("received shutdown signal")
	log.Info("shutting down gracefully...")
	reg.Shutdown()
	ep.Close()
	cancel()
	log.Success("network core stopped")
}

// dispatchUpward is the registry's upward dispatcher: invoked once per
// fully decoded packet from a session in StateReady. Game logic beyond
// the handshake is out of scope for this core; wiring a real
// game-facing handler in means replacing this function.
func dispatchUpward(session *bedrock.Session, packetID uint32, payload []byte) {
	_ = session
	_ = packetID
	_ = payload
}

func randomGUID() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0x1122334455667788
	}
	return binary.BigEndian.Uint64(buf[:])
}
