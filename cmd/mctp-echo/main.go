// Command mctp-echo wires a single-port MCTP router with one listener
// that echoes back whatever it receives. There is no real transport
// driver in this demo: the "backend" is a goroutine that fabricates
// inbound requests from a simulated peer and logs whatever the router
// hands to the outbound port queue.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	mctp "github.com/behrlich/go-mctp"
	"github.com/behrlich/go-mctp/internal/ctrl"
	"github.com/behrlich/go-mctp/internal/logging"
	"github.com/behrlich/go-mctp/internal/queue"
	"github.com/behrlich/go-mctp/internal/wire"
)

func main() {
	eidFlag := flag.Int("eid", 8, "local MCTP endpoint identifier")
	peerFlag := flag.Int("peer", 9, "simulated peer endpoint identifier")
	mtuFlag := flag.Int("mtu", 64, "port MTU in bytes")
	levelFlag := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	logging.SetDefault(logging.NewLogger(&logging.Config{Level: parseLevel(*levelFlag), Output: os.Stderr}))
	log := logging.Default()

	lookup := ctrl.NewRouteTable()
	lookup.AddRoute(wire.Eid(*peerFlag), 0)

	router := mctp.NewRouter(mctp.DefaultConfig(wire.Eid(*eidFlag), lookup))
	port, consumer, err := mctp.NewPort(mctp.PortConfig{ID: 0, MTU: *mtuFlag, QueueDepth: mctp.DefaultForwardQueue}, router.Metrics(), log)
	if err != nil {
		log.Error("failed to build port", "err", err)
		os.Exit(1)
	}
	router.AttachPort(port)

	listener, err := router.Listener(0x7E)
	if err != nil {
		log.Error("failed to bind echo listener", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := mctp.NewTicker(router)
	go ticker.Run(ctx)
	go logOutbound(ctx, consumer, log)
	go runEcho(ctx, listener, log)
	go injectSimulatedRequests(ctx, router, wire.Eid(*eidFlag), wire.Eid(*peerFlag))

	log.Info("mctp-echo running", "eid", *eidFlag, "peer", *peerFlag, "mtu", *mtuFlag)
	<-sigCh
	log.Info("shutting down")
	cancel()
	ticker.Stop()
	listener.Close()
}

func parseLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// logOutbound stands in for a transport driver: it drains whatever the
// router fragments or forwards onto port 0 and logs it, since this demo
// has no physical interface to actually transmit on.
func logOutbound(ctx context.Context, consumer *queue.Consumer, log *logging.Logger) {
	for {
		slot, err := consumer.Receive(ctx)
		if err != nil {
			return
		}
		log.Debug("wire tx", "bytes", slot.Buffer().Len(), "dest_eid", uint8(slot.Buffer().Dest()))
		consumer.Release(slot)
	}
}

func runEcho(ctx context.Context, listener *mctp.Listener, log *logging.Logger) {
	buf := make([]byte, mctp.MaxPayload)
	for {
		n, resp, typ, ic, err := listener.Recv(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("listener recv error", "err", err)
			continue
		}
		log.Info("echo request", "typ", typ, "ic", ic, "len", n)
		if err := resp.SendVectored(ctx, ic, [][]byte{buf[:n]}); err != nil {
			log.Warn("echo reply failed", "err", err)
		}
	}
}

// injectSimulatedRequests fabricates an inbound request from the
// configured peer every two seconds, since this demo has no real second
// endpoint to talk to.
func injectSimulatedRequests(ctx context.Context, router *mctp.Router, local, peer wire.Eid) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()

	var seq byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h := wire.Header{
				Version: wire.HeaderVersion,
				Dest:    local,
				Src:     peer,
				SOM:     true,
				EOM:     true,
				TO:      true,
				Tag:     wire.TagValue(seq % 8),
			}
			hdr := h.Marshal()
			tb := wire.TypeByte{IC: false, Typ: 0x7E}
			pkt := append(append([]byte{}, hdr[:]...), tb.Marshal(), seq)
			router.Inbound(pkt, 0)
			seq++
		}
	}
}
