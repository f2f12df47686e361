// Command guardiand runs the guardian daemon: it watches the chain for new
// blocks, checks each active staking module's unused registry keys against
// historical deposits, and signs+publishes an attest or pause message per
// module per block. Wiring follows the teacher's cmd/main.go shape (load
// config, construct adapters, run the service in a goroutine, wait on
// SIGINT/SIGTERM, join).
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/p2p-org/lido-council-daemon/internal/adapters/bus"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/cache"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/consensus"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/contracts"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/keysapi"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/pausesubmitter"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/provider"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/signer"
	"github.com/p2p-org/lido-council-daemon/internal/adapters/store"
	"github.com/p2p-org/lido-council-daemon/internal/application/orchestrator"
	"github.com/p2p-org/lido-council-daemon/internal/config"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/logger"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
)

// headPollInterval approximates one Ethereum mainnet slot; the orchestrator
// coalesces bursts anyway so polling faster than block time buys nothing.
const headPollInterval = 12 * time.Second

func main() {
	cfg := config.Load()
	logger.Info("loaded config: rpc=%s chainId=%d pubsub=%s keysApi=%s:%s",
		cfg.RPCURL, cfg.ChainID, cfg.PubsubService, cfg.KeysAPIHost, cfg.KeysAPIPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	elProvider, err := provider.New(ctx, cfg.RPCURL, cfg.DepositContractAddress)
	if err != nil {
		exitOnFatal(err, "failed to connect to RPC provider: %v", err)
	}

	guardianSigner, err := signer.New(cfg.WalletPrivateKey)
	if err != nil {
		exitOnFatal(err, "failed to load guardian wallet key: %v", err)
	}
	logger.Info("guardian wallet address: %s", guardianSigner.Address().Hex())

	probe, err := contracts.NewGuardianProbe(elProvider, cfg.DSMAddress, cfg.StakingRouterAddress, guardianSigner.Address())
	if err != nil {
		exitOnFatal(err, "failed to initialize DSM/StakingRouter probe: %v", err)
	}

	eventCache, err := cache.New(cfg.CacheDir, cfg.ChainID, elProvider, cfg.FetchWindow, cfg.FinalizationDepth)
	if err != nil {
		exitOnFatal(err, "failed to open deposit event cache: %v", err)
	}

	keysAPIClient := keysapi.New(
		"http://"+cfg.KeysAPIHost+":"+cfg.KeysAPIPort,
		cfg.KeysAPITimeout,
		cfg.RegistryKeysQueryBatchSize,
		cfg.RegistryKeysQueryConcurrency,
		cfg.MaxSnapshotLag,
		elProvider,
	)

	auditStore, err := store.New(cfg.AuditDBPath)
	if err != nil {
		exitOnFatal(err, "failed to open audit store: %v", err)
	}
	defer auditStore.Close()

	var messageBus ports.Bus
	switch cfg.PubsubService {
	case "kafka":
		messageBus, err = bus.NewKafka(bus.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Topic:    cfg.Kafka.Topic,
			SSL:      cfg.Kafka.SSL,
			SASLMech: cfg.Kafka.SASLMech,
			Username: cfg.Kafka.Username,
			Password: cfg.Kafka.Password,
		}, cfg.BusPublishTimeout)
	default:
		messageBus, err = bus.NewRabbitMQ(bus.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Login:    cfg.RabbitMQ.Login,
			Passcode: cfg.RabbitMQ.Passcode,
			Topic:    cfg.RabbitMQ.Topic,
		}, cfg.BusPublishTimeout)
	}
	if err != nil {
		exitOnFatal(err, "failed to connect to message bus: %v", err)
	}

	pauseSubmitter := pausesubmitter.New(elProvider, guardianSigner, probe, cfg.DSMAddress, cfg.ChainID, auditStore)

	var consensusCheck ports.ConsensusFinality
	if cl, err := consensus.New(ctx, cfg.BeaconAPIURL, cfg.RPCCallTimeout); err != nil {
		logger.Warn("consensus finality cross-check disabled: %v", err)
	} else if cl != nil {
		consensusCheck = cl
	}

	orch := orchestrator.New(
		elProvider,
		eventCache,
		keysAPIClient,
		probe,
		guardianSigner,
		messageBus,
		pauseSubmitter,
		auditStore,
		consensusCheck,
		orchestrator.Config{
			ConfirmationDepth: cfg.ConfirmationDepth,
			MaxSnapshotLag:    cfg.MaxSnapshotLag,
			ExpectedWC:        cfg.ExpectedWC,
			FinalitySlack:     cfg.FinalitySlack,
		},
	)

	var wg sync.WaitGroup
	blockNotifications := make(chan uint64, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx, blockNotifications)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchHead(ctx, elProvider, blockNotifications)
	}()

	handleShutdown(cancel)

	wg.Wait()
	if err := eventCache.Close(); err != nil {
		logger.Error("failed to flush event cache on shutdown: %v", err)
	}
	if err := messageBus.Close(); err != nil {
		logger.Error("failed to close message bus: %v", err)
	}
	logger.Info("guardiand stopped cleanly")
}

// watchHead polls the EL provider for new heads and coalesces them onto
// blockNotifications: a full channel is drained and replaced so the
// orchestrator only ever sees the most recent head, per spec §5.
func watchHead(ctx context.Context, p ports.Provider, blockNotifications chan uint64) {
	var lastSeen uint64
	poll := func() {
		head, err := p.HeadBlockNumber(ctx)
		if err != nil {
			logger.Warn("polling head block number: %v", err)
			return
		}
		if head == lastSeen {
			return
		}
		lastSeen = head
		select {
		case blockNotifications <- head:
		default:
			select {
			case <-blockNotifications:
			default:
			}
			blockNotifications <- head
		}
	}

	ticker := time.NewTicker(headPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(blockNotifications)
			return
		case <-ticker.C:
			poll()
		}
	}
}

// exitOnFatal logs a startup failure and terminates the process.
// domain.ErrFatal conditions (wrong chain, corrupt private key,
// unrecoverable cache I/O) exit with domain.FatalExitCode, a distinctive
// code per spec §6 "Exit codes"; anything else exits 1. It never uses
// logger.Fatal, since zerolog's own .Fatal() hardcodes os.Exit(1) and
// would make the two cases indistinguishable.
func exitOnFatal(err error, msg string, v ...interface{}) {
	logger.Error(msg, v...)
	if errors.Is(err, domain.ErrFatal) {
		os.Exit(domain.FatalExitCode)
	}
	os.Exit(1)
}

func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal: %s, initiating shutdown", sig)
		cancel()
	}()
}
