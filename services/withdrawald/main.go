package withdrawald

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"creditchain/config"
	"creditchain/core/events"
	"creditchain/core/state"
	"creditchain/crypto"
	"creditchain/native/withdrawals"
	"creditchain/observability"
	"creditchain/observability/logging"
	telemetry "creditchain/observability/otel"
	"creditchain/services/withdrawald/audit"
	"creditchain/services/withdrawald/corechain"
	"creditchain/storage"
	"creditchain/storage/trie"
)

// Main initialises and runs the withdrawal daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/withdrawald/config.yaml", "path to withdrawald configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("CREDITCHAIN_ENV"))
	logger, closer := logging.SetupWithOptions("withdrawald", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("withdrawald", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, cfg, logger)
}

// Run wires the daemon from cfg and blocks until ctx ends or the driver halts.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	params, err := config.LoadWithdrawals(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	logger.Info("withdrawald starting",
		"dev_mode", cfg.DevMode,
		"denom", params.Denom,
		logging.MaskField("endpoint", cfg.Core.Endpoint),
		logging.MaskField("username", cfg.Core.Username),
		logging.MaskField("password", cfg.Core.Password),
		logging.MaskField("signer_key", cfg.Core.SignerKey),
		logging.MaskField("keystore", cfg.Core.Keystore),
		logging.MaskField("bearer_token", cfg.Admin.BearerToken),
		logging.MaskField("jwt_secret", cfg.Admin.JWT.Secret),
		logging.MaskField("driver", cfg.Audit.Driver),
		logging.MaskField("dsn", cfg.Audit.DSN),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return err
	}
	defer db.Close()
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		return fmt.Errorf("open state trie: %w", err)
	}
	checkpoints, err := OpenCheckpoints(filepath.Join(cfg.DataDir, "checkpoints.db"))
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	client, closeClient, err := buildCoreClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient()
	key, err := loadSigner(cfg.Core, cfg.DevMode)
	if err != nil {
		return err
	}
	signer, err := corechain.NewSigner(key, cfg.Core.Fee)
	if err != nil {
		return err
	}
	bridge, err := corechain.NewBridge(client, signer, logger)
	if err != nil {
		return err
	}
	logger.Info("settlement signer loaded", "address", signer.Address().String())

	health := NewHealthReporter()
	hub := NewHub(logger)
	opts := []DriverOption{
		WithDriverLogger(logger),
		WithHealth(health),
		WithMetrics(observability.Withdrawald()),
		WithSinks(hub),
	}

	var archive *audit.Archive
	if cfg.Audit.Driver != "" {
		gdb, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit archive: %w", err)
		}
		archive, err = audit.NewArchive(gdb)
		if err != nil {
			return err
		}
		opts = append(opts, WithArchive(archive))
	}

	if strings.TrimSpace(cfg.NATS.URL) != "" {
		publisher, err := NewNATSPublisher(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, WithSinks(publisher))
	}

	driver, err := NewDriver(tr, checkpoints, func(manager *state.Manager, emitter events.Emitter) (*withdrawals.Engine, error) {
		return withdrawals.NewEngine(manager, manager.SupplyView(params.Denom), bridge, params,
			withdrawals.WithEmitter(emitter), withdrawals.WithLogger(logger))
	}, opts...)
	if err != nil {
		return fmt.Errorf("start driver: %w", err)
	}
	if cfg.GenesisSupply != "" {
		amount, _ := new(big.Int).SetString(strings.TrimSpace(cfg.GenesisSupply), 10)
		if err := driver.SeedSupply(amount); err != nil {
			return fmt.Errorf("seed supply: %w", err)
		}
	}
	if cfg.PauseOnStart {
		driver.Pause()
	}

	auth, err := NewAuthenticator(AuthConfig{
		BearerToken: cfg.Admin.BearerToken,
		JWTSecret:   cfg.Admin.JWT.Secret,
		JWTIssuer:   cfg.Admin.JWT.Issuer,
		JWTAudience: cfg.Admin.JWT.Audience,
		ClockSkew:   cfg.Admin.JWT.ClockSkew.Duration,
		AllowMTLS:   cfg.Admin.MTLS.Enabled,
	}, logger)
	if err != nil {
		return err
	}
	admin := NewAdminServer(driver, AdminOptions{
		Hub:       hub,
		Archive:   archive,
		ReportDir: cfg.Audit.ReportDir,
		Auth:      auth,
		Limiter:   NewRateLimiter(cfg.Admin.RateLimit),
		Health:    health,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           admin,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tlsConfig, err := adminTLSConfig(cfg.Admin)
	if err != nil {
		return err
	}
	httpServer.TLSConfig = tlsConfig

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 3)
	go func() {
		logger.Info("withdrawald admin listening", "addr", cfg.ListenAddress, "tls", tlsConfig != nil)
		var err error
		if tlsConfig != nil {
			err = httpServer.ListenAndServeTLS(cfg.Admin.TLS.CertPath, cfg.Admin.TLS.KeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("admin server: %w", err)
		}
	}()
	if cfg.GRPCAddress != "" {
		go func() {
			logger.Info("withdrawald health listening", "addr", cfg.GRPCAddress)
			if err := health.ServeGRPC(runCtx, cfg.GRPCAddress); err != nil {
				errs <- fmt.Errorf("health server: %w", err)
			}
		}()
	}
	go func() {
		if err := driver.Run(runCtx, cfg.BlockInterval.Duration); err != nil {
			errs <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		logger.Error("withdrawald stopping", "error", runErr)
	}
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
	}
	return runErr
}

// buildCoreClient selects the core chain backend. Dev mode runs an in-process
// simulator that mines one core block per second.
func buildCoreClient(ctx context.Context, cfg Config, logger *slog.Logger) (corechain.Client, func(), error) {
	if cfg.DevMode {
		sim := corechain.NewSimulator(1, cfg.Core.ConfirmAfter)
		simCtx, cancel := context.WithCancel(ctx)
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-simCtx.Done():
					return
				case <-ticker.C:
					sim.Advance(1)
				}
			}
		}()
		logger.Warn("dev mode: using simulated core chain")
		return sim, cancel, nil
	}

	endpoints := []string{cfg.Core.Endpoint}
	if cfg.Core.Endpoint == "" {
		discovered, err := corechain.Discover(ctx, corechain.DiscoveryConfig{
			Domain:  cfg.Core.DiscoveryDomain,
			Server:  cfg.Core.DNSServer,
			Timeout: cfg.Core.Timeout.Duration,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("discover core nodes: %w", err)
		}
		endpoints = discovered
	}
	var lastErr error
	for _, endpoint := range endpoints {
		client, err := corechain.DialRPC(ctx, corechain.RPCConfig{
			Endpoint:      endpoint,
			Username:      cfg.Core.Username,
			Password:      cfg.Core.Password,
			TLSCAFile:     cfg.Core.TLSCAFile,
			AllowInsecure: cfg.Core.AllowInsecure,
			Timeout:       cfg.Core.Timeout.Duration,
		})
		if err != nil {
			logger.Warn("core endpoint unreachable", "endpoint", endpoint, "error", err)
			lastErr = err
			continue
		}
		logger.Info("core chain connected", "endpoint", endpoint)
		return client, client.Close, nil
	}
	return nil, nil, fmt.Errorf("dial core chain: %w", lastErr)
}

func loadSigner(cfg CoreConfig, devMode bool) (*crypto.PrivateKey, error) {
	switch {
	case cfg.Keystore != "":
		passphrase := ""
		if env := strings.TrimSpace(cfg.PassphraseEnv); env != "" {
			passphrase = os.Getenv(env)
		}
		if strings.TrimSpace(passphrase) == "" {
			return nil, fmt.Errorf("keystore %s requires passphrase_env", cfg.Keystore)
		}
		key, err := crypto.LoadFromKeystore(cfg.Keystore, passphrase)
		if err != nil {
			return nil, fmt.Errorf("load signer keystore: %w", err)
		}
		return key, nil
	case cfg.SignerKey != "":
		keyBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.SignerKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode signer key: %w", err)
		}
		return crypto.PrivateKeyFromBytes(keyBytes)
	case devMode:
		return crypto.GeneratePrivateKey()
	default:
		return nil, errors.New("signer key not configured")
	}
}

func adminTLSConfig(cfg AdminConfig) (*tls.Config, error) {
	if cfg.TLS.Disable {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.MTLS.Enabled {
		pemBytes, err := os.ReadFile(cfg.MTLS.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("client ca %s: no certificates found", cfg.MTLS.ClientCAPath)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		if cfg.BearerToken == "" && cfg.JWT.Secret == "" {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return tlsConfig, nil
}
