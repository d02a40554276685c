// Command brokerd is the OTC broker's process entrypoint: it loads
// configuration, wires every process-wide service (store, chain adapters,
// key manager, tank, commission oracle, engine, recovery manager, metrics),
// then ticks the engine every EngineConfig.TickInterval and the recovery
// manager every RecoveryConfig.TickInterval until told to stop.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otcbroker/broker/broker"
	"github.com/otcbroker/broker/chainadapter/bitcoin"
	"github.com/otcbroker/broker/chainadapter/ethereum"
	"github.com/otcbroker/broker/chainadapter/provider"
	_ "github.com/otcbroker/broker/chainadapter/provider/alchemy"
	"github.com/otcbroker/broker/chainadapter/rpc"
	"github.com/otcbroker/broker/chainadapter/storage"
	"github.com/otcbroker/broker/config"
	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/engine"
	"github.com/otcbroker/broker/internal/obslog"
	"github.com/otcbroker/broker/keymanager"
	"github.com/otcbroker/broker/obsmetrics"
	"github.com/otcbroker/broker/oracle"
	"github.com/otcbroker/broker/recovery"
	"github.com/otcbroker/broker/store"
	"github.com/otcbroker/broker/tank"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to broker configuration file")
	flag.Parse()

	log := obslog.New("brokerd")

	if err := run(*configPath, log); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath string, log *obslog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	migrateErr := st.Migrate(ctx)
	cancel()
	if migrateErr != nil {
		return fmt.Errorf("migrate store: %w", migrateErr)
	}

	seed, err := hexSeed(cfg.MasterSeedHex)
	if err != nil {
		return fmt.Errorf("derive master seed: %w", err)
	}

	utxoNetwork := utxoNetworkFor(cfg.Chains)
	keys, err := keymanager.NewManager(seed, utxoNetwork)
	if err != nil {
		return fmt.Errorf("init key manager: %w", err)
	}

	signer, err := broker.NewOperatorSigner(cfg.OperatorSigningKeyHex)
	if err != nil {
		return fmt.Errorf("init operator signer: %w", err)
	}

	reg := prometheus.DefaultRegisterer
	metrics := obsmetrics.New(reg)

	runtimes := make([]*engine.ChainRuntime, 0, len(cfg.Chains))
	tankWallets := make(map[uint64]*tank.Wallet, len(cfg.Chains))
	providerMap := make(map[uint64]provider.BlockchainProvider, len(cfg.Chains))
	chainsByID := make(map[uint64]*config.ChainConfig, len(cfg.Chains))

	for _, chainCfg := range cfg.Chains {
		chainsByID[chainCfg.ChainID] = chainCfg
		rt, wallet, bp, err := buildChainRuntime(chainCfg, keys, metrics, log)
		if err != nil {
			return fmt.Errorf("chain %d: %w", chainCfg.ChainID, err)
		}
		runtimes = append(runtimes, rt)
		tankWallets[chainCfg.ChainID] = wallet
		providerMap[chainCfg.ChainID] = bp
	}
	registry := engine.NewRegistry(runtimes...)

	// The tank manager takes one shared BlockchainProvider for balance
	// queries; deployments with per-chain providers share the gas-funding
	// code path through chainMultiProvider, which dispatches by chain id.
	tk := tank.New(log.With("tank"), &chainMultiProvider{byChain: providerMap}, chainsByID, tankWallets, cfg.Recovery.TankLowBalanceCooldown.Get())

	table, err := oracle.LoadTable(cfg.Commission.OracleTablePath)
	if err != nil {
		return fmt.Errorf("load commission oracle table: %w", err)
	}
	fixedRates := make(map[uint64]domain.Amount, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		// A single dollar-denominated rate is not meaningful without a
		// native-units-per-USD conversion; operators populate the table file
		// with real rates and this fallback only covers a cold/missing entry
		// with zero commission rather than failing the deal outright.
		fixedRates[chainCfg.ChainID] = domain.ZeroAmount()
	}
	fallback := oracle.NewFixedRateOracle(fixedRates)
	rateSource := oracle.NewStaticTableOracle(table, fallback)
	commission := oracle.Policy{
		KnownAssetBps: cfg.Commission.KnownAssetBps,
		FixedUSDRate:  cfg.Commission.FixedUSDRate,
		Rates:         rateSource,
	}

	eng := engine.New(st, registry, keys, tk, commission, signer, metrics, log.With("engine"), cfg.Engine.NodeID)
	rec := recovery.New(st, registry, tk, metrics, log.With("recovery"), cfg.Engine.NodeID, recovery.Config{
		StuckPendingThreshold:   cfg.Recovery.StuckPendingThreshold.Get(),
		StuckSubmittedThreshold: cfg.Recovery.StuckSubmittedThreshold.Get(),
		MaxRetryAttempts:        cfg.Recovery.MaxRetryAttempts,
		TankLowBalanceCooldown:  cfg.Recovery.TankLowBalanceCooldown.Get(),
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go serveMetrics(rootCtx, cfg.Metrics.Addr, log.With("metrics"))
	}

	log.Infof("brokerd starting: node=%s chains=%d store=%s", cfg.Engine.NodeID, len(runtimes), cfg.Store.Driver)
	runLoops(rootCtx, eng, rec, cfg, log)
	log.Infof("brokerd stopped")
	return nil
}

// runLoops ticks the engine and the recovery manager on their own
// independent intervals until ctx is cancelled (§4.1 "a 30-second tick",
// §4.3 "a 5-minute tick").
func runLoops(ctx context.Context, eng *engine.Engine, rec *recovery.Manager, cfg *config.Config, log *obslog.Logger) {
	engineTicker := time.NewTicker(cfg.Engine.TickInterval.Get())
	defer engineTicker.Stop()
	recoveryTicker := time.NewTicker(cfg.Recovery.TickInterval.Get())
	defer recoveryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-engineTicker.C:
			tickCtx, cancel := context.WithTimeout(ctx, cfg.Engine.TickInterval.Get())
			if err := eng.Tick(tickCtx); err != nil {
				log.Warnf("engine tick failed: %v", err)
			}
			cancel()
		case <-recoveryTicker.C:
			tickCtx, cancel := context.WithTimeout(ctx, cfg.Recovery.TickInterval.Get())
			if err := rec.Tick(tickCtx); err != nil {
				log.Warnf("recovery tick failed: %v", err)
			}
			cancel()
		}
	}
}

func serveMetrics(ctx context.Context, addr string, log *obslog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warnf("metrics server stopped: %v", err)
	}
}

// buildChainRuntime constructs one chain's full stack: RPC client, data
// provider, chain adapter, and the tank's hot wallet for that chain
// (escrow index 0, reserved so it never collides with a deal's own
// escrow indices, which start at 1 — see keymanager.Manager.DeriveEscrow).
func buildChainRuntime(chainCfg *config.ChainConfig, keys *keymanager.Manager, metrics *obsmetrics.Metrics, log *obslog.Logger) (*engine.ChainRuntime, *tank.Wallet, provider.BlockchainProvider, error) {
	endpoints := chainCfg.RPCEndpoints
	if len(endpoints) == 0 {
		endpoints = []string{chainCfg.RPCURL}
	}
	timeout := chainCfg.RPCTimeout.Get()
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	rpcClient, err := rpc.NewHTTPRPCClient(endpoints, timeout, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build rpc client: %w", err)
	}

	txStore := storage.NewMemoryTxStore()

	bp, err := buildProvider(chainCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build provider: %w", err)
	}

	tankKeySource := keymanager.NewEscrowKeySource(keys, chainCfg.ChainID, 0)
	tankAddress, err := tankKeySource.Address()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("derive tank address: %w", err)
	}

	rt := &engine.ChainRuntime{
		ChainID:               chainCfg.ChainID,
		Provider:              bp,
		ProviderChainTag:      chainCfg.ProviderChainID,
		ConfirmationThreshold: chainCfg.ConfirmationThreshold,
		CollectionThreshold:   chainCfg.CollectionThreshold,
		OperatorAddress:       chainCfg.OperatorAddress,
		BrokerContractAddress: chainCfg.BrokerContractAddress,
		UTXONetwork:           chainCfg.UTXONetwork,
		EVMChainID:            chainCfg.EVMChainID,
	}

	var wallet *tank.Wallet
	switch domain.Kind(chainCfg.ChainID) {
	case domain.ChainKindUTXO:
		adapter, err := bitcoin.NewBitcoinAdapter(rpcClient, txStore, chainCfg.UTXONetwork)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build bitcoin adapter: %w", err)
		}
		rt.Adapter = adapter
		tankSigner, err := tankKeySource.Signer(chainCfg.UTXONetwork, 0)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build tank signer: %w", err)
		}
		wallet = &tank.Wallet{ChainID: domain.ChainKindUTXO, Address: tankAddress, Signer: tankSigner}
	default:
		adapter, err := ethereum.NewEthereumAdapter(rpcClient, txStore, chainCfg.EVMChainID, obsmetrics.NewChainAdapterMetrics(metrics, chainCfg.EVMChainID))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build ethereum adapter: %w", err)
		}
		rt.Adapter = adapter
		tankSigner, err := tankKeySource.Signer("", chainCfg.EVMChainID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build tank signer: %w", err)
		}
		wallet = &tank.Wallet{ChainID: domain.ChainKindEVM, Address: tankAddress, Signer: tankSigner}
	}

	log.Infof("chain %d (%s) configured: provider=%s confirmations=%d", chainCfg.ChainID, domain.Kind(chainCfg.ChainID), chainCfg.Provider, chainCfg.ConfirmationThreshold)
	return rt, wallet, bp, nil
}

func buildProvider(chainCfg *config.ChainConfig) (provider.BlockchainProvider, error) {
	if chainCfg.Provider == "" {
		return nil, fmt.Errorf("no provider configured (set chains.<name>.provider)")
	}
	return provider.GetRegistry().GetProvider(&provider.ProviderConfig{
		ProviderType:   chainCfg.Provider,
		APIKey:         chainCfg.ProviderAPIKey,
		ChainID:        chainCfg.ProviderChainID,
		NetworkID:      chainCfg.ProviderNetworkID,
		CustomEndpoint: chainCfg.RPCURL,
		Priority:       1,
		Enabled:        true,
	})
}

// chainMultiProvider dispatches a tank.Manager's single BlockchainProvider
// dependency across however many distinct per-chain providers were
// configured (typically one Alchemy project key per chain).
type chainMultiProvider struct {
	byChain map[uint64]provider.BlockchainProvider
}

func (c *chainMultiProvider) resolve(chainIDTag string) provider.BlockchainProvider {
	for _, p := range c.byChain {
		if p != nil {
			// every provider answers its own ChainID tag via SupportedChains;
			// the first configured provider handling this tag wins.
			for _, supported := range p.SupportedChains() {
				if supported == chainIDTag {
					return p
				}
			}
		}
	}
	return nil
}

func (c *chainMultiProvider) ProviderName() string { return "multi" }
func (c *chainMultiProvider) SupportedChains() []string {
	var tags []string
	seen := map[string]bool{}
	for _, p := range c.byChain {
		if p == nil {
			continue
		}
		for _, t := range p.SupportedChains() {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	return tags
}

func (c *chainMultiProvider) GetBalance(ctx context.Context, chainID, address string) (*big.Int, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetBalance(ctx, chainID, address)
}

func (c *chainMultiProvider) GetTokenBalance(ctx context.Context, chainID, address, tokenContract string) (*big.Int, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetTokenBalance(ctx, chainID, address, tokenContract)
}

func (c *chainMultiProvider) GetTransactionCount(ctx context.Context, chainID, address string) (uint64, error) {
	p := c.resolve(chainID)
	if p == nil {
		return 0, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetTransactionCount(ctx, chainID, address)
}

func (c *chainMultiProvider) EstimateGas(ctx context.Context, chainID, from, to string, value *big.Int, data []byte) (uint64, error) {
	p := c.resolve(chainID)
	if p == nil {
		return 0, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.EstimateGas(ctx, chainID, from, to, value, data)
}

func (c *chainMultiProvider) GetBaseFee(ctx context.Context, chainID string) (*big.Int, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetBaseFee(ctx, chainID)
}

func (c *chainMultiProvider) GetFeeHistory(ctx context.Context, chainID string, blockCount int) (*big.Int, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetFeeHistory(ctx, chainID, blockCount)
}

func (c *chainMultiProvider) EstimateBitcoinFee(ctx context.Context, chainID string, targetBlocks int) (int64, error) {
	p := c.resolve(chainID)
	if p == nil {
		return 0, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.EstimateBitcoinFee(ctx, chainID, targetBlocks)
}

func (c *chainMultiProvider) SendRawTransaction(ctx context.Context, chainID, rawTx string) (string, error) {
	p := c.resolve(chainID)
	if p == nil {
		return "", fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.SendRawTransaction(ctx, chainID, rawTx)
}

func (c *chainMultiProvider) GetTransactionByHash(ctx context.Context, chainID, txHash string) (*provider.TransactionInfo, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetTransactionByHash(ctx, chainID, txHash)
}

func (c *chainMultiProvider) GetTransactionReceipt(ctx context.Context, chainID, txHash string) (*provider.TransactionReceipt, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetTransactionReceipt(ctx, chainID, txHash)
}

func (c *chainMultiProvider) GetBlockNumber(ctx context.Context, chainID string) (uint64, error) {
	p := c.resolve(chainID)
	if p == nil {
		return 0, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetBlockNumber(ctx, chainID)
}

func (c *chainMultiProvider) GetBlock(ctx context.Context, chainID, blockIdentifier string) (*provider.BlockInfo, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetBlock(ctx, chainID, blockIdentifier)
}

func (c *chainMultiProvider) ListUnspent(ctx context.Context, chainID, address string) ([]*provider.UTXO, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.ListUnspent(ctx, chainID, address)
}

func (c *chainMultiProvider) GetRawTransaction(ctx context.Context, chainID, txHash string, verbose bool) (*provider.BitcoinTransaction, error) {
	p := c.resolve(chainID)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for chain %s", chainID)
	}
	return p.GetRawTransaction(ctx, chainID, txHash, verbose)
}

func (c *chainMultiProvider) HealthCheck(ctx context.Context) error {
	for _, p := range c.byChain {
		if p == nil {
			continue
		}
		if err := p.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *chainMultiProvider) Close() error {
	var firstErr error
	for _, p := range c.byChain {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func utxoNetworkFor(chains map[string]*config.ChainConfig) string {
	for _, c := range chains {
		if domain.Kind(c.ChainID) == domain.ChainKindUTXO && c.UTXONetwork != "" {
			return c.UTXONetwork
		}
	}
	return "mainnet"
}

func hexSeed(hexStr string) (keymanager.Seed, error) {
	decoded, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decode master_seed_hex: %w", err)
	}
	return keymanager.Seed(decoded), nil
}
