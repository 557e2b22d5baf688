package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hubcom/internal/core/engine"
	"hubcom/internal/core/services"
	relaysignal "hubcom/internal/infrastructure/signal"
	"hubcom/internal/infrastructure/webrtc"
	"hubcom/pkg/config"
	"hubcom/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	peerName   string
	hubName    string
	servers    []string
	autoAccept bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "hubcom peer: interactive client for a hubcom relay",
	Long:  `Joins a hub on a relay, opens direct channels to the other peers and places media calls with synthetic audio and video.`,
	Args:  cobra.NoArgs,
	RunE:  peerMain,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file")
	flags.StringVarP(&peerName, "peer", "p", "", "peer name announced to the hub")
	flags.StringVar(&hubName, "hub", "", "hub to join")
	flags.StringSliceVarP(&servers, "server", "s", nil, "relay address, repeatable (ws:// or wss://)")
	flags.BoolVar(&autoAccept, "auto-accept", false, "accept incoming calls without asking")
	flags.StringVar(&logLevel, "log-level", "warn", "log level; logs go to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func peerMain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if peerName != "" {
		cfg.Client.Peer = peerName
	}
	if hubName != "" {
		cfg.Client.Hub = hubName
	}
	if len(servers) > 0 {
		cfg.Client.Servers = servers
	}

	zapLogger, err := logger.NewWithFormat(logLevel, "console")
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	eng := engine.New(log)
	defer eng.Close()

	pcs, err := webrtc.NewFactory(webrtc.Config{
		PortMin: cfg.WebRTC.PortRange.Min,
		PortMax: cfg.WebRTC.PortRange.Max,
	}, log)
	if err != nil {
		return fmt.Errorf("init webrtc: %w", err)
	}

	opts := relaysignal.DefaultClientTransportOptions()
	opts.DialTimeout = cfg.Client.DialTimeout
	opts.BeaconInterval = cfg.Client.BeaconInterval
	opts.FailoverAttempts = cfg.Client.FailoverAttempts
	opts.InsecureTLS = cfg.Client.InsecureTLS
	transports := &relaysignal.ClientTransportFactory{Engine: eng, Options: opts, Logger: log}

	comm := services.NewCommunicator(
		eng,
		transports,
		pcs,
		webrtc.NewSyntheticDevices(log),
		services.CommunicatorConfigFrom(cfg),
		log,
	)

	con, err := newConsole(comm, cfg.Client.Peer, autoAccept)
	if err != nil {
		return err
	}
	defer con.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			con.Close()
		case <-ctx.Done():
		}
	}()

	if err := comm.Start(ctx); err != nil {
		con.printError("start: %v", err)
	}
	con.Run(ctx)

	comm.Stop()
	eng.Flush()
	return nil
}
