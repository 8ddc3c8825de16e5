package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"linkmon/internal/cluster"
	"linkmon/internal/config"
	"linkmon/internal/history"
	"linkmon/internal/models"
	"linkmon/internal/probe"
	"linkmon/internal/server"
	"linkmon/internal/track"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", "", "listen address override for the API server")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Observer.Addr = *addr
	}

	hist := history.New(cfg.MaxHistory, models.SourceObserver, "")
	table := track.NewTable(hist)

	runners := buildRunners(cfg, table)
	if len(runners) == 0 {
		log.Printf("no targets configured; serving API only")
	}
	for _, r := range runners {
		r.Start()
	}
	defer func() {
		for _, r := range runners {
			r.Stop()
		}
	}()

	peers := make([]cluster.Peer, 0, len(cfg.Observer.Routes))
	for _, route := range cfg.Observer.Routes {
		peers = append(peers, cluster.Peer{Name: route.Name, BaseURL: route.URL})
	}
	clusterSvc := cluster.NewService(cfg.NodeID, peers, cfg.Observer.PollInterval(), cfg.Probe.HTTPTimeout(), hist)
	clusterSvc.Start()
	defer clusterSvc.Stop()

	srv := server.New(cfg.Observer.Addr, cfg.NodeID, table, hist, clusterSvc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("linkmon observer %s listening on %s (%d prober(s), %d peer(s))",
		cfg.NodeID, cfg.Observer.Addr, len(runners), len(peers))
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// buildRunners creates one prober per (target, protocol): load balancers on
// the default agent ports, nodeports on their explicit mapping, routes over
// HTTP only.
func buildRunners(cfg config.Config, table *track.Table) []*probe.Runner {
	var runners []*probe.Runner
	node := cfg.NodeID
	pc := cfg.Probe

	addProtocols := func(name, host string, wsPort, tcpPort, httpPort int) {
		wsLink := models.Link{Source: node, Target: name, Protocol: models.ProtocolWS}
		wsURL := fmt.Sprintf("ws://%s", net.JoinHostPort(host, strconv.Itoa(wsPort)))
		runners = append(runners, probe.NewRunner(
			probe.NewWSProber(node, wsLink, wsURL, pc.WSOpenTimeout(), pc.PongTimeout()),
			table, pc.WSInterval(), pc.ReconnectDelay()))

		tcpLink := models.Link{Source: node, Target: name, Protocol: models.ProtocolTCP}
		runners = append(runners, probe.NewRunner(
			probe.NewTCPProber(node, tcpLink, net.JoinHostPort(host, strconv.Itoa(tcpPort)), pc.ConnectTimeout(), pc.EchoTimeout()),
			table, pc.TCPInterval(), pc.ReconnectDelay()))

		httpLink := models.Link{Source: node, Target: name, Protocol: models.ProtocolHTTP}
		baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(httpPort)))
		runners = append(runners, probe.NewRunner(
			probe.NewHTTPProber(httpLink, baseURL, pc.HTTPTimeout()),
			table, pc.HTTPInterval(), pc.HTTPInterval()))
	}

	for _, t := range cfg.Observer.LoadBalancers {
		addProtocols(t.Name, t.Host, config.DefaultWSPort, config.DefaultTCPPort, config.DefaultHTTPPort)
	}
	for _, t := range cfg.Observer.NodePorts {
		addProtocols(t.Name, t.Host, t.WSPort, t.TCPPort, t.HTTPPort)
	}
	for _, t := range cfg.Observer.Routes {
		link := models.Link{Source: node, Target: t.Name, Protocol: models.ProtocolHTTP}
		runners = append(runners, probe.NewRunner(
			probe.NewHTTPProber(link, t.URL, pc.HTTPTimeout()),
			table, pc.HTTPInterval(), pc.HTTPInterval()))
	}
	return runners
}
