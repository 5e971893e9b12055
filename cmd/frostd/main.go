// Command frostd runs one role of the FROST custody service: a signer
// node holding live key shares, or an address/signing aggregator that
// coordinates a set of signer nodes over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openmatching/frost-custody/internal/aggregator/address"
	"github.com/openmatching/frost-custody/internal/aggregator/fanout"
	"github.com/openmatching/frost-custody/internal/aggregator/signing"
	"github.com/openmatching/frost-custody/internal/config"
	"github.com/openmatching/frost-custody/internal/curve"
	"github.com/openmatching/frost-custody/internal/dkgstate"
	"github.com/openmatching/frost-custody/internal/node"
	"github.com/openmatching/frost-custody/internal/seed"
	"github.com/openmatching/frost-custody/internal/storage"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "frostd",
		Short: "FROST threshold custody service",
		Long:  `frostd runs a FROST signer node or address/signing aggregator, role-selected by the [server] section of its config file.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the configured role's HTTP server",
		RunE:  runServe,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Print the resolved configuration and exit",
		RunE:  runInspect,
	}

	recoverCheckCmd = &cobra.Command{
		Use:   "recover-check",
		Short: "Scan a node's share store for partial DKGs left behind by a crash",
		RunE:  runRecoverCheck,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "frostd.toml", "path to the TOML config file")
	rootCmd.AddCommand(serveCmd, inspectCmd, recoverCheckCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("role: %s\n", cfg.Server.Role)
	fmt.Printf("listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Node != nil {
		fmt.Printf("node index: %d, threshold %d-of-%d, storage: %s\n", cfg.Node.Index, cfg.Node.MinSigners, cfg.Node.MaxSigners, cfg.Node.StoragePath)
	}
	if cfg.Aggregator != nil {
		fmt.Printf("aggregator: %d signer nodes, threshold %d\n", len(cfg.Aggregator.SignerNodes), cfg.Aggregator.Threshold)
	}
	return nil
}

func runRecoverCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Node == nil {
		return fmt.Errorf("recover-check requires a [node] config section")
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	masterSeed, err := cfg.Node.MasterSeed()
	if err != nil {
		return err
	}
	var enc storage.Encryptor
	if cfg.Node.EncryptAtRest {
		enc = storage.NewSeedEncryptor(masterSeed)
	}
	store, err := storage.Open(cfg.Node.StoragePath, enc, log)
	if err != nil {
		return err
	}
	defer store.Close()

	tags := []curve.Tag{curve.Secp256k1Taproot, curve.Secp256k1Ecdsa, curve.Ed25519}
	found := 0
	for _, tag := range tags {
		passphrases, err := store.ListPassphrases(tag)
		if err != nil {
			return err
		}
		for _, p := range passphrases {
			partial, err := store.PartialDKG(tag, p)
			if err != nil {
				return err
			}
			if partial {
				found++
				fmt.Printf("PARTIAL: curve=%s passphrase=%q has a pubkey package but no key package; rerun DKG for this passphrase\n", tag, p)
			}
		}
	}
	if found == 0 {
		fmt.Println("no partial DKGs found")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	var handler http.Handler
	switch cfg.Server.Role {
	case config.RoleNode:
		handler, err = buildNodeHandler(cfg, log)
	case config.RoleAddress, config.RoleSigner:
		handler, err = buildAggregatorHandler(cfg, log)
	default:
		err = fmt.Errorf("unknown role %q", cfg.Server.Role)
	}
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", addr, "role", cfg.Server.Role)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
	return nil
}

func buildNodeHandler(cfg *config.File, log *zap.SugaredLogger) (http.Handler, error) {
	masterSeed, err := cfg.Node.MasterSeed()
	if err != nil {
		return nil, err
	}
	master, err := seed.NewMaster(masterSeed)
	if err != nil {
		return nil, err
	}
	var enc storage.Encryptor
	if cfg.Node.EncryptAtRest {
		enc = storage.NewSeedEncryptor(masterSeed)
	}
	store, err := storage.Open(cfg.Node.StoragePath, enc, log)
	if err != nil {
		return nil, err
	}
	n := &node.Node{
		Index:      cfg.Node.Index,
		MinSigners: cfg.Node.MinSigners,
		MaxSigners: cfg.Node.MaxSigners,
		Master:     master,
		Store:      store,
		DKG:        dkgstate.NewManager(),
		Log:        log,
	}
	return n.Router(), nil
}

// buildAggregatorHandler exposes the address or signing aggregator HTTP
// surface depending on role: address generation for the address role,
// message and PSBT signing for the signer role.
func buildAggregatorHandler(cfg *config.File, log *zap.SugaredLogger) (http.Handler, error) {
	nodes := make([]fanout.Node, 0, len(cfg.Aggregator.SignerNodes))
	for i, url := range cfg.Aggregator.SignerNodes {
		nodes = append(nodes, fanout.Node{Index: uint16(i), URL: url})
	}
	client := fanout.NewClient(nodes)

	mux := http.NewServeMux()
	switch cfg.Server.Role {
	case config.RoleAddress:
		agg := address.New(client, log)
		mux.HandleFunc("POST /api/address/generate", newAddressHandler(agg, cfg.Network))
		mux.HandleFunc("GET /api/address", newAddressQueryHandler(agg, cfg.Network))
	case config.RoleSigner:
		agg := signing.New(client, cfg.Aggregator.Threshold, log)
		mux.HandleFunc("POST /api/sign/message", newSignHandler(agg))
		mux.HandleFunc("POST /api/sign/psbt", newSignPSBTHandler(agg))
	}
	mux.HandleFunc("GET /health", newAggregatorHealthHandler(client, cfg.Aggregator.Threshold))
	return mux, nil
}
