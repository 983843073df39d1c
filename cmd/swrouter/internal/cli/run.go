package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/packetgrove/swrouter/arpcache"
	"github.com/packetgrove/swrouter/config"
	"github.com/packetgrove/swrouter/link"
	"github.com/packetgrove/swrouter/pcapdump"
	"github.com/packetgrove/swrouter/router"
)

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		tapMode     bool
		metricsAddr string
		pcapPath    string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the router, reading interfaces and routes from --config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRouter(cmd.Context(), runOpts{
				configPath:  configPath,
				tapMode:     tapMode,
				metricsAddr: metricsAddr,
				pcapPath:    pcapPath,
				verbose:     verbose,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to the YAML interface/route configuration (required)")
	flags.BoolVar(&tapMode, "tap", false, "open configured interfaces as TAP devices instead of bridging to existing NICs")
	flags.StringVar(&metricsAddr, "metrics-addr", ":9100", "address to serve Prometheus metrics on")
	flags.StringVar(&pcapPath, "pcap", "", "optional path to write a pcap capture of every frame seen")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.MarkFlagRequired("config")

	return cmd
}

type runOpts struct {
	configPath  string
	tapMode     bool
	metricsAddr string
	pcapPath    string
	verbose     bool
}

func runRouter(ctx context.Context, opts runOpts) error {
	log := newLogger(opts.verbose)

	registry, routes, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var capture *pcapdump.Writer
	if opts.pcapPath != "" {
		f, err := os.Create(opts.pcapPath)
		if err != nil {
			return fmt.Errorf("opening pcap file: %w", err)
		}
		defer f.Close()
		capture, err = pcapdump.NewWriter(f, nil)
		if err != nil {
			return fmt.Errorf("initializing pcap writer: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runners := make(map[string]*link.Runner, len(registry.All()))
	opener := link.OpenBridge
	if opts.tapMode {
		opener = link.OpenTap
	}
	for _, ifc := range registry.All() {
		prefix := netip.PrefixFrom(ifc.Addr, ifc.MaskBits())
		runners[ifc.Name] = link.NewRunner(ifc.Name, prefix, opener, log.With("iface", ifc.Name))
	}

	send := func(frame []byte, ifaceName string) error {
		r, ok := runners[ifaceName]
		if !ok {
			return fmt.Errorf("send: unknown interface %q", ifaceName)
		}
		return r.Send(frame)
	}

	lookup := func(name string) (arpcache.IfaceInfo, bool) {
		ifc, ok := registry.ByName(name)
		if !ok {
			return arpcache.IfaceInfo{}, false
		}
		return arpcache.IfaceInfo{MAC: ifc.MAC, IP: ifc.Addr.As4()}, true
	}

	cache := arpcache.New(lookup, nil)
	dispatcher := router.New(registry, routes, cache, send, nil)
	dispatcher.SetLogger(log)

	for name, r := range runners {
		name, r := name, r
		go func() {
			handle := func(frame []byte) error {
				if capture != nil {
					if err := capture.WriteFrame(frame); err != nil {
						log.Error("pcap write failed", "err", err)
					}
				}
				dispatcher.HandleFrame(frame, name)
				return nil
			}
			if err := r.Run(ctx, handle); err != nil {
				log.Error("link runner exited", "iface", name, "err", err)
			}
		}()
	}

	go runTicker(ctx, dispatcher)
	go serveMetrics(ctx, log, opts.metricsAddr)

	log.Info("swrouter started", "config", opts.configPath, "ifaces", len(runners))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info("shutting down")
	return nil
}

func runTicker(ctx context.Context, dispatcher *router.Dispatcher) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatcher.Tick()
		}
	}
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("metrics listener failed", "addr", addr, "err", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Info("metrics server listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && ctx.Err() == nil {
		log.Error("metrics server failed", "err", err)
	}
}
