// Package config loads the daemon's configuration from the environment.
// Follows the teacher's config_loader.go shape (plain os.Getenv reads, a
// handful of derived fields, logger.Fatal on an invalid required value)
// expanded to the full option set spec §6 and the daemon's own tunables
// name.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/logger"
)

// RabbitMQConfig carries the RABBITMQ_* options from spec §6.
type RabbitMQConfig struct {
	URL      string
	Login    string
	Passcode string
	Topic    string
}

// KafkaConfig carries the KAFKA_*/BROKER_TOPIC options from spec §6.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
	SSL      bool
	SASLMech string
	Username string
	Password string
}

// Config is the fully resolved, validated daemon configuration.
type Config struct {
	RPCURL           string
	WalletPrivateKey string
	ChainID          uint64

	DSMAddress             common.Address
	StakingRouterAddress   common.Address
	DepositContractAddress common.Address
	// ExpectedWC maps a staking module id to the withdrawal credential its
	// deposits must carry; the conflict detector only considers deposit
	// events whose wc matches this value for that module.
	ExpectedWC map[domain.ModuleID][32]byte

	PubsubService string // "rabbitmq" or "kafka"
	RabbitMQ      RabbitMQConfig
	Kafka         KafkaConfig

	KeysAPIHost                  string
	KeysAPIPort                  string
	RegistryKeysQueryBatchSize   int
	RegistryKeysQueryConcurrency int

	Port string

	LogLevel  string
	LogFormat string

	ConfirmationDepth uint64
	FinalizationDepth uint64
	FetchWindow       uint64
	MaxSnapshotLag    uint64
	// FinalitySlack bounds how many EL blocks the confirmed block may run
	// ahead of the CL's finalized checkpoint before the pipeline defers;
	// only consulted when BeaconAPIURL is configured.
	FinalitySlack uint64

	RPCCallTimeout    time.Duration
	KeysAPITimeout    time.Duration
	BusPublishTimeout time.Duration

	CacheDir string

	BeaconAPIURL string

	AuditDBPath string
}

// Load reads and validates the daemon configuration from the process
// environment, exiting via logger.Fatal on any missing-required or
// malformed value, matching the teacher's LoadConfig behavior for an
// unrecognized NETWORK.
func Load() Config {
	cfg := Config{
		RPCURL:           requireEnv("RPC_URL"),
		WalletPrivateKey: requireEnv("WALLET_PRIVATE_KEY"),
		ChainID:          requireUint("CHAIN_ID"),

		DSMAddress:             common.HexToAddress(requireEnv("DSM_ADDRESS")),
		StakingRouterAddress:   common.HexToAddress(requireEnv("STAKING_ROUTER_ADDRESS")),
		DepositContractAddress: common.HexToAddress(requireEnv("DEPOSIT_CONTRACT_ADDRESS")),

		PubsubService: strings.ToLower(envDefault("PUBSUB_SERVICE", "rabbitmq")),

		KeysAPIHost:                  envDefault("KEYS_API_HOST", "127.0.0.1"),
		KeysAPIPort:                  envDefault("KEYS_API_PORT", "3000"),
		RegistryKeysQueryBatchSize:   intDefault("REGISTRY_KEYS_QUERY_BATCH_SIZE", 500),
		RegistryKeysQueryConcurrency: intDefault("REGISTRY_KEYS_QUERY_CONCURRENCY", 4),

		Port: envDefault("PORT", "3001"),

		LogLevel:  envDefault("LOG_LEVEL", "INFO"),
		LogFormat: envDefault("LOG_FORMAT", "json"),

		ConfirmationDepth: uintDefault("CONFIRMATION_DEPTH", 10),
		FinalizationDepth: uintDefault("FINALIZATION_DEPTH", 200),
		FetchWindow:       uintDefault("FETCH_WINDOW", 10_000),
		MaxSnapshotLag:    uintDefault("MAX_SNAPSHOT_LAG", 50),
		FinalitySlack:     uintDefault("FINALITY_SLACK", 64),

		RPCCallTimeout:    durationDefault("RPC_CALL_TIMEOUT", 30*time.Second),
		KeysAPITimeout:    durationDefault("KEYS_API_TIMEOUT", 60*time.Second),
		BusPublishTimeout: durationDefault("BUS_PUBLISH_TIMEOUT", 10*time.Second),

		CacheDir: envDefault("CACHE_DIR", "./cache"),

		BeaconAPIURL: os.Getenv("BEACON_API_URL"),

		AuditDBPath: envDefault("AUDIT_DB_PATH", "./guardian_audit.db"),
	}

	switch cfg.PubsubService {
	case "rabbitmq":
		cfg.RabbitMQ = RabbitMQConfig{
			URL:      requireEnv("RABBITMQ_URL"),
			Login:    requireEnv("RABBITMQ_LOGIN"),
			Passcode: requireEnv("RABBITMQ_PASSCODE"),
			Topic:    envDefault("BROKER_TOPIC", "guardian"),
		}
	case "kafka":
		var brokers []string
		if b1 := os.Getenv("KAFKA_BROKER_ADDRESS_1"); b1 != "" {
			brokers = append(brokers, b1)
		}
		if b2 := os.Getenv("KAFKA_BROKER_ADDRESS_2"); b2 != "" {
			brokers = append(brokers, b2)
		}
		if len(brokers) == 0 {
			logger.Fatal("PUBSUB_SERVICE=kafka requires at least KAFKA_BROKER_ADDRESS_1")
		}
		cfg.Kafka = KafkaConfig{
			Brokers:  brokers,
			ClientID: envDefault("KAFKA_CLIENT_ID", "lido-council-daemon"),
			Topic:    envDefault("BROKER_TOPIC", "guardian"),
			SSL:      boolDefault("KAFKA_SSL", false),
			SASLMech: strings.ToUpper(os.Getenv("KAFKA_SASL_MECHANISM")),
			Username: os.Getenv("KAFKA_USERNAME"),
			Password: os.Getenv("KAFKA_PASSWORD"),
		}
	default:
		logger.Fatal("unknown PUBSUB_SERVICE: %s", cfg.PubsubService)
	}

	cfg.ExpectedWC = parseExpectedWC(os.Getenv("EXPECTED_WITHDRAWAL_CREDENTIALS"))

	return cfg
}

// parseExpectedWC parses "0:0xwc0,1:0xwc1" (moduleId:withdrawalCredential)
// into a per-module withdrawal-credential map. An empty string yields an
// empty map, in which case the conflict detector never matches a deposit
// event to any module until this is configured.
func parseExpectedWC(raw string) map[domain.ModuleID][32]byte {
	out := map[domain.ModuleID][32]byte{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			logger.Fatal("malformed EXPECTED_WITHDRAWAL_CREDENTIALS entry: %q", pair)
		}
		id, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			logger.Fatal("malformed module id in EXPECTED_WITHDRAWAL_CREDENTIALS entry: %q", pair)
		}
		out[domain.ModuleID(id)] = common.HexToHash(parts[1])
	}
	return out
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatal("missing required environment variable %s", key)
	}
	return v
}

func requireUint(key string) uint64 {
	v := requireEnv(key)
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		logger.Fatal("environment variable %s must be an unsigned integer, got %q", key, v)
	}
	return n
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Fatal("environment variable %s must be an integer, got %q", key, v)
	}
	return n
}

func uintDefault(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		logger.Fatal("environment variable %s must be an unsigned integer, got %q", key, v)
	}
	return n
}

func boolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Fatal("environment variable %s must be a boolean, got %q", key, v)
	}
	return b
}

func durationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		logger.Fatal("environment variable %s must be an integer number of seconds, got %q", key, v)
	}
	return time.Duration(secs) * time.Second
}
