package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/metastagejustin/MetaStage/config"
	"github.com/metastagejustin/MetaStage/core"
	"github.com/metastagejustin/MetaStage/native/funding"
	"github.com/metastagejustin/MetaStage/observability/logging"
	"github.com/metastagejustin/MetaStage/rpc"
	"github.com/metastagejustin/MetaStage/services/tokenmover"
	"github.com/metastagejustin/MetaStage/storage"
)

const tokenSecretEnv = "METASTAGE_TOKEN_SECRET"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	bootstrapFlag := flag.Bool("bootstrap-epoch", false, "Open the first epoch from the configured token set when none is active")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("METASTAGE_ENV"))
	logger := logging.Setup("metastaged", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
		logger = logging.Setup("metastaged", env)
	}

	admin, err := cfg.Admin()
	if err != nil {
		logger.Error("Failed to resolve admin address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, core.NodeConfig{
		Admin:                   admin,
		RegistrationStorageCost: cfg.RegistrationStorageCost(),
		PledgeDeposit:           cfg.PledgeDepositAmount(),
		Logger:                  logger,
	})
	if err != nil {
		logger.Error("Failed to assemble node", slog.Any("error", err))
		os.Exit(1)
	}

	secret := strings.TrimSpace(os.Getenv(tokenSecretEnv))
	if secret == "" {
		secret = strings.TrimSpace(cfg.TokenServiceSecret)
	}
	var moverOpts []tokenmover.Option
	if secret != "" {
		moverOpts = append(moverOpts, tokenmover.WithSigningSecret([]byte(secret)))
	}
	mover, err := tokenmover.NewMover(cfg.TokenServiceURL, node, moverOpts...)
	if err != nil {
		logger.Error("Failed to start token mover", slog.Any("error", err))
		os.Exit(1)
	}
	defer mover.Close()
	node.SetTokenMover(mover)

	if *bootstrapFlag {
		if err := bootstrapEpoch(node, admin, cfg, logger); err != nil {
			logger.Error("Failed to bootstrap epoch", slog.Any("error", err))
			os.Exit(1)
		}
	}

	status, err := node.Status()
	if err != nil {
		logger.Error("Failed to read epoch status", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("node ready",
		slog.String("network", cfg.NetworkName),
		slog.Uint64("epoch", status.Epoch),
		slog.Bool("active", status.Active),
		slog.String("phase", status.Phase.String()))

	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// bootstrapEpoch opens the first epoch from the configured token set when the
// chain of epochs has not started yet. A node restarted mid-epoch leaves the
// stored status untouched.
func bootstrapEpoch(node *core.Node, admin [20]byte, cfg *config.Config, logger *slog.Logger) error {
	status, err := node.Status()
	if err != nil {
		return err
	}
	if status.Active || status.Epoch > 0 {
		logger.Info("epoch history present, skipping bootstrap", slog.Uint64("epoch", status.Epoch))
		return nil
	}
	if len(cfg.AllowedTokens) == 0 {
		return fmt.Errorf("bootstrap requires AllowedTokens in the configuration")
	}
	opened, err := node.OpenEpoch(admin, cfg.AllowedTokens, cfg.Fees)
	if err != nil {
		return err
	}
	logger.Info("opened first epoch", slog.Uint64("epoch", opened.Epoch), slog.String("phase", funding.PhaseInactive.String()))
	return nil
}
