package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/meridianprotocol/lpe/internal/config"
	"github.com/meridianprotocol/lpe/internal/guard"
	"github.com/meridianprotocol/lpe/internal/ledger"
	"github.com/meridianprotocol/lpe/internal/logger"
	"github.com/meridianprotocol/lpe/internal/oracle"
	"github.com/meridianprotocol/lpe/internal/positions"
	"github.com/meridianprotocol/lpe/internal/recorder"
	"github.com/meridianprotocol/lpe/internal/state"
	"github.com/meridianprotocol/lpe/internal/tokens"
	"github.com/meridianprotocol/lpe/internal/treasury"
	"github.com/meridianprotocol/lpe/internal/types"
	"github.com/meridianprotocol/lpe/internal/web"
)

const (
	DEFAULT_CONFIG_NAME    = "default"
	DEFAULT_CONFIG_VERSION = 1

	// Sim-mode bootstrap amounts and pool shape.
	SIM_POOL_ADDRESS      = "sim-pool"
	SIM_TREASURY_ADDRESS  = "sim-treasury"
	SIM_TICK_SPACING      = 10
	SIM_INITIAL_TICK      = 0
	SIM_TICK_DRIFT_PERIOD = 30 * time.Second
)

// main is the entry point for the liquidity protection engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel, config.LogFile)
	log.Info().Msg("Liquidity Protection Engine starting...")

	// --- 2. Persistence (optional) ---
	var rec recorder.Recorder = recorder.Noop{}
	var dbHealth func() error
	var receiptHistory func(limit int) ([]types.OperationReceipt, error)
	guardCfg := config.DefaultGuardConfig

	if config.DBEnabled {
		dbCfg := state.DBConfig{
			Host: config.DBHost, Port: config.DBPort,
			User: config.DBUser, Password: config.DBPassword,
			DBName: config.DBName, SSLMode: config.DBSSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}

		active, err := state.LoadActiveGuardConfig(DEFAULT_CONFIG_NAME)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load active guard config, using defaults and saving.")
			if _, err := state.SaveGuardConfig(guardCfg, DEFAULT_CONFIG_NAME, DEFAULT_CONFIG_VERSION, true); err != nil {
				log.Fatal().Err(err).Msg("Failed to save initial default guard config.")
			}
		} else {
			guardCfg = *active
		}

		rec = state.PostgresRecorder{}
		dbHealth = state.TestDBConnection
		receiptHistory = state.LoadRecentReceipts
	}

	// --- 3. Pool and Ledger Binding (with Safety Switch) ---
	if config.Mode != "sim" {
		log.Fatal().Msg("LPE_MODE is not set to 'sim'. Halting: no live pool binding is configured. Set LPE_MODE=sim to run against the in-process pool.")
	}
	log.Warn().Msg("Initializing engine in SIM mode. All pool and token activity is in-process.")

	bank := tokens.NewBank()
	pool := ammBootstrap(bank)

	twapAdapter, err := oracle.NewAdapter(pool, config.DefaultTWAPConfig, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize TWAP oracle")
	}

	accounts := ledger.New(nil)
	if config.DBEnabled {
		persisted, err := state.LoadAccounts()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load persisted account ledger")
		}
		for _, acct := range persisted {
			accounts.Restore(acct)
		}
	}

	posManager := positions.NewManager(pool, config.EngineAddress)
	if config.DBEnabled {
		persistedPositions, err := state.LoadPositions()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load persisted position book")
		}
		for _, pos := range persistedPositions {
			posManager.Restore(pos)
		}
	}
	fixedTreasury := treasury.NewFixedRateTreasury(
		bank, SIM_TREASURY_ADDRESS, config.PairedDenom, sdkmath.LegacyOneDec())

	// --- 4. Guard Assembly with Dependency Injection ---
	engine, err := guard.New(guard.Config{
		Bank:          bank,
		Oracle:        twapAdapter,
		Accounts:      accounts,
		Positions:     posManager,
		Treasury:      fixedTreasury,
		Recorder:      rec,
		EngineAddress: config.EngineAddress,
		FeeSink:       config.FeeSink,
		BaseDenom:     config.BaseDenom,
		PairedDenom:   config.PairedDenom,
		GuardConfig:   guardCfg,
		Capabilities: map[string]guard.Capability{
			config.GovernanceAddress: guard.CapGovernance,
			config.EmergencyAddress:  guard.CapEmergency,
			config.OperatorAddress:   guard.CapOperator,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create guard")
	}
	log.Info().Msg("Guard assembled successfully")

	// --- 5. Web Server ---
	webServer := web.NewWebServer(config.WebPort, engine, dbHealth, receiptHistory)
	go func() {
		log.Info().Str("port", config.WebPort).Msg("Starting status API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 6. Block until shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}

// ammBootstrap builds the in-process pool, funds the sim accounts and starts a
// slow tick drift so the observation history accrues.
func ammBootstrap(bank *tokens.Bank) *simPoolHandle {
	pool := newSimPoolHandle(bank)

	seed := sdkmath.NewInt(1_000_000_000)
	bank.Mint(config.EngineAddress, sdk.NewCoin(config.BaseDenom, seed))
	bank.Mint(config.EngineAddress, sdk.NewCoin(config.PairedDenom, seed))
	bank.Mint(SIM_TREASURY_ADDRESS, sdk.NewCoin(config.PairedDenom, seed))

	go pool.drift()
	return pool
}
