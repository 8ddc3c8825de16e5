package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"linkmon/internal/config"
	"linkmon/internal/history"
	"linkmon/internal/models"
	"linkmon/internal/probe"
	"linkmon/internal/server"
	"linkmon/internal/track"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	hist := history.New(cfg.MaxHistory, models.SourceAgent, cfg.NodeID)
	table := track.NewTable(hist)

	runners := buildRunners(cfg, table)
	for _, r := range runners {
		r.Start()
	}
	defer func() {
		for _, r := range runners {
			r.Stop()
		}
	}()

	srv := server.NewAgent(cfg.NodeID, table, hist,
		fmt.Sprintf(":%d", cfg.Agent.HTTPPort),
		fmt.Sprintf(":%d", cfg.Agent.WSPort),
		fmt.Sprintf(":%d", cfg.Agent.TCPPort))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("linkmon agent %s serving http=:%d ws=:%d tcp=:%d (%d prober(s))",
		cfg.NodeID, cfg.Agent.HTTPPort, cfg.Agent.WSPort, cfg.Agent.TCPPort, len(runners))
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("agent server error: %v", err)
	}
}

// buildRunners creates probers for every configured peer over all three
// protocols. The agent probes itself through localhost, the same way any
// other link is probed.
func buildRunners(cfg config.Config, table *track.Table) []*probe.Runner {
	var runners []*probe.Runner
	node := cfg.NodeID
	pc := cfg.Probe

	for _, peer := range cfg.Agent.Peers {
		host := peer
		if peer == node {
			host = "localhost"
		}

		wsLink := models.Link{Source: node, Target: peer, Protocol: models.ProtocolWS}
		wsURL := fmt.Sprintf("ws://%s", net.JoinHostPort(host, strconv.Itoa(cfg.Agent.WSPort)))
		runners = append(runners, probe.NewRunner(
			probe.NewWSProber(node, wsLink, wsURL, pc.WSOpenTimeout(), pc.PongTimeout()),
			table, pc.WSInterval(), pc.ReconnectDelay()))

		tcpLink := models.Link{Source: node, Target: peer, Protocol: models.ProtocolTCP}
		tcpAddr := net.JoinHostPort(host, strconv.Itoa(cfg.Agent.TCPPort))
		runners = append(runners, probe.NewRunner(
			probe.NewTCPProber(node, tcpLink, tcpAddr, pc.ConnectTimeout(), pc.EchoTimeout()),
			table, pc.TCPInterval(), pc.ReconnectDelay()))

		httpLink := models.Link{Source: node, Target: peer, Protocol: models.ProtocolHTTP}
		baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(cfg.Agent.HTTPPort)))
		runners = append(runners, probe.NewRunner(
			probe.NewHTTPProber(httpLink, baseURL, pc.HTTPTimeout()),
			table, pc.HTTPInterval(), pc.HTTPInterval()))
	}
	return runners
}
